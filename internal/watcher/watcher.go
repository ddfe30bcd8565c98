// Package watcher turns the pending-jobs subscription into pool submissions.
package watcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"ghost-systems/internal/models"
	"ghost-systems/internal/store"
	"ghost-systems/internal/telemetry"
)

// ErrSubscriptionEnded is returned when the store closes the stream without an error
// while the watcher is still running.
var ErrSubscriptionEnded = errors.New("pending subscription ended")

// Source opens a filtered change subscription.
type Source interface {
	Watch(ctx context.Context, filter models.Status) (*store.Subscription, error)
}

// Submitter accepts a job for processing, blocking when saturated.
type Submitter interface {
	Submit(ctx context.Context, job models.Job) error
}

type Watcher struct {
	source Source
	pool   Submitter
	log    logrus.FieldLogger
}

func New(source Source, pool Submitter, log logrus.FieldLogger) *Watcher {
	return &Watcher{source: source, pool: pool, log: log}
}

// Run subscribes to pending jobs and submits each added one. A failure to
// establish the subscription is returned immediately and should be treated
// as fatal. Run returns nil once ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	sub, err := w.source.Watch(ctx, models.StatusPending)
	if err != nil {
		return fmt.Errorf("subscribe to pending jobs: %w", err)
	}
	defer sub.Close()
	w.log.Info("listening for pending jobs")

	for batch := range sub.Changes() {
		for _, change := range batch {
			if change.Kind != models.ChangeAdded {
				continue
			}
			telemetry.JobsDetected.Inc()
			w.log.WithFields(logrus.Fields{
				"job_id":       change.Job.ID,
				"product_type": string(change.Job.ProductType),
			}).Debug("pending job detected")
			if err := w.pool.Submit(ctx, change.Job); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("submit %s: %w", change.Job.ID, err)
			}
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := sub.Err(); err != nil {
		return fmt.Errorf("pending subscription: %w", err)
	}
	return ErrSubscriptionEnded
}

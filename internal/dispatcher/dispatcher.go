// Package dispatcher owns the job status state machine: claim, route, invoke
// the fulfillment worker, finalize.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"ghost-systems/internal/fulfillment"
	"ghost-systems/internal/models"
	"ghost-systems/internal/telemetry"
)

var (
	ErrUnknownRoute     = errors.New("no route for product type")
	ErrUnsupportedRoute = errors.New("product type not yet supported")
	ErrPanic            = errors.New("fulfillment panicked")
)

// Log markers distinguishing the two routing failures.
const (
	MarkerRouteUnknown     = "route_unknown"
	MarkerRouteUnsupported = "route_unsupported"
)

// JobStore is the subset of the document store the dispatcher writes to.
type JobStore interface {
	ClaimJob(ctx context.Context, id string) (bool, error)
	FinishJob(ctx context.Context, id string, status models.Status) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// ReviewSink collects failed job ids for an operator.
type ReviewSink interface {
	Push(ctx context.Context, jobID string) error
}

// Dispatcher routes a single job through its lifecycle.
type Dispatcher struct {
	store      JobStore
	pod        fulfillment.Fulfiller
	storefront fulfillment.Fulfiller
	review     ReviewSink
	log        logrus.FieldLogger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithReview pushes every failed job id to sink.
func WithReview(sink ReviewSink) Option {
	return func(d *Dispatcher) { d.review = sink }
}

// New builds a dispatcher. Either worker may be nil, in which case its route
// fails as not configured.
func New(st JobStore, pod, storefront fulfillment.Fulfiller, log logrus.FieldLogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:      st,
		pod:        pod,
		storefront: storefront,
		log:        log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch drives one job to a terminal status and returns it. A job already
// claimed by another task is skipped and reported as processing.
func (d *Dispatcher) Dispatch(ctx context.Context, job models.Job) models.Status {
	log := d.log.WithFields(logrus.Fields{
		"job_id":       job.ID,
		"product_type": string(job.ProductType),
	})
	log.Info("job received")

	claimed, err := d.store.ClaimJob(ctx, job.ID)
	switch {
	case err != nil:
		telemetry.StatusWriteErrors.WithLabelValues("claim").Inc()
		log.WithError(err).Error("claim write failed, processing anyway")
	case !claimed:
		telemetry.JobsClaimSkipped.Inc()
		log.Info("job already claimed, skipping")
		return models.StatusProcessing
	default:
		d.audit(ctx, log, job.ID, "claimed", "")
	}

	telemetry.InFlightGauge.Inc()
	res, err := d.invoke(ctx, log, job)
	telemetry.InFlightGauge.Dec()

	// Finalize on a fresh context so shutdown does not strand a claimed job.
	finCtx := context.WithoutCancel(ctx)
	if err == nil {
		d.finish(finCtx, log, job.ID, models.StatusComplete)
		telemetry.JobsCompleted.Inc()
		d.audit(finCtx, log, job.ID, "complete", fmt.Sprintf("remote_id=%s", res.RemoteID))
		log.WithField("remote_id", res.RemoteID).Info("job finished: success")
		return models.StatusComplete
	}

	reason := failureReason(err)
	d.finish(finCtx, log, job.ID, models.StatusFailed)
	telemetry.JobsFailed.WithLabelValues(reason).Inc()
	d.audit(finCtx, log, job.ID, "failed", fmt.Sprintf("reason=%s error=%v", reason, err))
	if d.review != nil {
		if rerr := d.review.Push(finCtx, job.ID); rerr != nil {
			log.WithError(rerr).Warn("push to review list failed")
		}
	}
	log.WithError(err).WithField("reason", reason).Error("job finished: failed")
	return models.StatusFailed
}

// invoke routes and calls the worker. Panics become ErrPanic.
func (d *Dispatcher) invoke(ctx context.Context, log logrus.FieldLogger, job models.Job) (res fulfillment.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	route := job.ProductType.Route()
	log = log.WithField("route", route.String())

	var worker fulfillment.Fulfiller
	switch route {
	case models.RoutePOD:
		worker = d.pod
	case models.RouteStorefront:
		worker = d.storefront
	case models.RouteUnsupported:
		log.WithField("marker", MarkerRouteUnsupported).Warnf("product type %q is not yet supported", job.ProductType)
		return fulfillment.Result{}, fmt.Errorf("%w: %q", ErrUnsupportedRoute, job.ProductType)
	case models.RouteUnknown:
		log.WithField("marker", MarkerRouteUnknown).Errorf("unknown product type %q, no route found", job.ProductType)
		return fulfillment.Result{}, fmt.Errorf("%w: %q", ErrUnknownRoute, job.ProductType)
	default:
		return fulfillment.Result{}, fmt.Errorf("%w: route %d", ErrUnknownRoute, route)
	}
	if worker == nil {
		return fulfillment.Result{}, fmt.Errorf("%w: no %s worker", fulfillment.ErrNotConfigured, route)
	}

	log.WithField("worker", worker.Name()).Info("routing job")
	return worker.Fulfill(ctx, job)
}

func (d *Dispatcher) finish(ctx context.Context, log logrus.FieldLogger, id string, status models.Status) {
	if err := d.store.FinishJob(ctx, id, status); err != nil {
		telemetry.StatusWriteErrors.WithLabelValues("finish").Inc()
		log.WithError(err).WithField("status", string(status)).Error("final status write failed")
	}
}

func (d *Dispatcher) audit(ctx context.Context, log logrus.FieldLogger, id, event, detail string) {
	if err := d.store.AppendAudit(ctx, id, event, detail); err != nil {
		log.WithError(err).WithField("event", event).Warn("audit write failed")
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownRoute):
		return MarkerRouteUnknown
	case errors.Is(err, ErrUnsupportedRoute):
		return MarkerRouteUnsupported
	case errors.Is(err, ErrPanic):
		return "panic"
	default:
		return fulfillment.Reason(err)
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ghost-systems/internal/models"
)

// NotifyChannel is the LISTEN channel fed by the jobs_notify trigger.
const NotifyChannel = "job_changes"

type notification struct {
	Op        string `json:"op"`
	ID        string `json:"id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// Watch subscribes to documents whose status equals filter. The first batch
// is a snapshot of every matching document delivered as added. Failure to set
// up the listen connection or the snapshot query is returned directly.
func (s *Store) Watch(ctx context.Context, filter models.Status) (*Subscription, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	snapshot, err := s.ListByStatus(ctx, filter)
	if err != nil {
		discard(conn)
		return nil, fmt.Errorf("snapshot %s jobs: %w", filter, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := NewSubscription(16, cancel)
	go s.pump(subCtx, conn, filter, snapshot, sub)
	return sub, nil
}

func (s *Store) pump(ctx context.Context, conn *pgxpool.Conn, filter models.Status, snapshot []models.Job, sub *Subscription) {
	defer discard(conn)

	initial := make([]models.Change, 0, len(snapshot))
	for _, job := range snapshot {
		initial = append(initial, models.Change{Kind: models.ChangeAdded, Job: job})
	}
	if !sub.Send(ctx, initial) {
		sub.Finish(nil)
		return
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				sub.Finish(nil)
				return
			}
			sub.Finish(fmt.Errorf("wait for notification: %w", err))
			return
		}

		var msg notification
		if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
			continue
		}
		kind, ok := Classify(filter, msg.Op, models.Status(msg.OldStatus), models.Status(msg.NewStatus))
		if !ok {
			continue
		}

		change := models.Change{Kind: kind, Job: models.Job{ID: msg.ID, Status: models.Status(msg.NewStatus)}}
		if kind != models.ChangeRemoved {
			job, err := s.GetJob(ctx, msg.ID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					sub.Finish(nil)
					return
				}
				sub.Finish(fmt.Errorf("load changed job %s: %w", msg.ID, err))
				return
			}
			change.Job = job
		}
		if !sub.Send(ctx, []models.Change{change}) {
			sub.Finish(nil)
			return
		}
	}
}

// discard closes a connection that has LISTEN state so the pool does not reuse it.
func discard(conn *pgxpool.Conn) {
	_ = conn.Conn().Close(context.Background())
	conn.Release()
}

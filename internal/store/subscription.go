package store

import (
	"context"
	"errors"
	"sync"

	"ghost-systems/internal/models"
)

var (
	// ErrNotFound is returned by point reads of a missing document.
	ErrNotFound = errors.New("job not found")
	// ErrNotFinalizable is returned when a finalize write targets a job already in a terminal state.
	ErrNotFinalizable = errors.New("job already in a terminal state")
	// ErrDuplicateSKU is returned when a created job reuses an existing SKU.
	ErrDuplicateSKU = errors.New("duplicate sku")
)

// Subscription delivers batches of change notifications for a filtered query.
// The Changes channel is closed when the subscription ends; Err then reports why.
type Subscription struct {
	changes chan []models.Change
	cancel  context.CancelFunc

	mu       sync.Mutex
	err      error
	finished bool
}

// NewSubscription is used by store implementations.
func NewSubscription(buffer int, cancel context.CancelFunc) *Subscription {
	if cancel == nil {
		cancel = func() {}
	}
	return &Subscription{
		changes: make(chan []models.Change, buffer),
		cancel:  cancel,
	}
}

func (s *Subscription) Changes() <-chan []models.Change {
	return s.changes
}

// Err returns the terminal error, or nil when the subscription was closed or its context ended.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops delivery. The producer side observes cancellation and calls Finish.
func (s *Subscription) Close() {
	s.cancel()
}

// Send delivers a batch, blocking until the consumer receives it or ctx ends.
func (s *Subscription) Send(ctx context.Context, batch []models.Change) bool {
	if len(batch) == 0 {
		return true
	}
	select {
	case s.changes <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish records err and closes the changes channel. Only the first call has effect.
func (s *Subscription) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.changes)
}

// Classify turns a row-level change into a notification kind relative to an
// equality filter on status. ok is false when the change is invisible to the filter.
func Classify(filter models.Status, op string, oldStatus, newStatus models.Status) (models.ChangeKind, bool) {
	switch op {
	case "INSERT":
		if newStatus == filter {
			return models.ChangeAdded, true
		}
	case "UPDATE":
		switch {
		case oldStatus != filter && newStatus == filter:
			return models.ChangeAdded, true
		case oldStatus == filter && newStatus == filter:
			return models.ChangeModified, true
		case oldStatus == filter && newStatus != filter:
			return models.ChangeRemoved, true
		}
	case "DELETE":
		if oldStatus == filter {
			return models.ChangeRemoved, true
		}
	}
	return "", false
}

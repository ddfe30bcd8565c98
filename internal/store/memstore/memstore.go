// Package memstore is an in-process document store with the same contract as
// the Postgres store, including filtered change subscriptions.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ghost-systems/internal/models"
	"ghost-systems/internal/store"
)

// Store keeps job documents in memory.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]models.Job
	history map[string][]models.Status
	audit   []models.AuditLog
	watches map[int]*watch
	nextID  int
	now     func() time.Time
}

func New() *Store {
	return &Store{
		jobs:    make(map[string]models.Job),
		history: make(map[string][]models.Status),
		watches: make(map[int]*watch),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob inserts a new document and assigns its id and timestamps.
func (s *Store) CreateJob(_ context.Context, job models.Job) (models.Job, error) {
	if err := job.Validate(); err != nil {
		return models.Job{}, err
	}
	if job.Status == "" {
		job.Status = models.StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if job.SKU != "" {
		for _, existing := range s.jobs {
			if existing.SKU == job.SKU {
				return models.Job{}, fmt.Errorf("insert job %q: %w", job.SKU, store.ErrDuplicateSKU)
			}
		}
	}
	job.ID = uuid.New().String()
	now := s.now()
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = job
	s.history[job.ID] = []models.Status{job.Status}
	s.notify("INSERT", "", job)
	return job, nil
}

func (s *Store) GetJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, store.ErrNotFound
	}
	return job, nil
}

func (s *Store) FindBySKU(_ context.Context, sku string) (models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.SKU == sku {
			return job, true, nil
		}
	}
	return models.Job{}, false, nil
}

// ListByStatus returns matching documents, oldest first.
func (s *Store) ListByStatus(_ context.Context, status models.Status) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(status), nil
}

func (s *Store) listLocked(status models.Status) []models.Job {
	var out []models.Job
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ClaimJob moves a job from pending to processing if it is still pending.
func (s *Store) ClaimJob(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || !models.CanTransition(job.Status, models.StatusProcessing) {
		return false, nil
	}
	s.setStatusLocked(job, models.StatusProcessing)
	return true, nil
}

// FinishJob writes a terminal status unless the job is already terminal.
func (s *Store) FinishJob(_ context.Context, id string, status models.Status) error {
	if !models.IsTerminal(status) {
		return fmt.Errorf("finish job: %q is not a terminal status", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || !models.CanFinalize(job.Status) {
		return fmt.Errorf("finish job %s: %w", id, store.ErrNotFinalizable)
	}
	s.setStatusLocked(job, status)
	return nil
}

// Update applies a partial field update. The id and creation time are preserved.
func (s *Store) Update(_ context.Context, id string, fn func(*models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	old := job.Status
	fn(&job)
	job.ID = id
	job.CreatedAt = s.jobs[id].CreatedAt
	job.UpdatedAt = s.now()
	s.jobs[id] = job
	if job.Status != old {
		s.history[id] = append(s.history[id], job.Status)
	}
	s.notify("UPDATE", old, job)
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	s.notify("DELETE", job.Status, models.Job{ID: id})
	return nil
}

func (s *Store) AppendAudit(_ context.Context, jobID, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, models.AuditLog{JobID: jobID, Event: event, Detail: detail, Recorded: s.now()})
	return nil
}

func (s *Store) AuditTrail(_ context.Context, jobID string) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLog
	for _, a := range s.audit {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

// StatusHistory lists every status a job has held, starting with its creation status.
func (s *Store) StatusHistory(id string) []models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Status(nil), s.history[id]...)
}

func (s *Store) setStatusLocked(job models.Job, status models.Status) {
	old := job.Status
	job.Status = status
	job.UpdatedAt = s.now()
	s.jobs[job.ID] = job
	s.history[job.ID] = append(s.history[job.ID], status)
	s.notify("UPDATE", old, job)
}

// Watch subscribes to documents whose status equals filter. Matching
// documents present at subscription time arrive first, as added.
func (s *Store) Watch(ctx context.Context, filter models.Status) (*store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	w := &watch{
		filter: filter,
		sub:    store.NewSubscription(0, cancel),
		ctx:    subCtx,
		wake:   make(chan struct{}, 1),
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watches[id] = w
	snapshot := s.listLocked(filter)
	if len(snapshot) > 0 {
		batch := make([]models.Change, 0, len(snapshot))
		for _, job := range snapshot {
			batch = append(batch, models.Change{Kind: models.ChangeAdded, Job: job})
		}
		w.push(batch)
	}
	s.mu.Unlock()

	go w.run(func() {
		s.mu.Lock()
		delete(s.watches, id)
		s.mu.Unlock()
	})
	return w.sub, nil
}

func (s *Store) notify(op string, old models.Status, job models.Job) {
	for _, w := range s.watches {
		kind, ok := store.Classify(w.filter, op, old, job.Status)
		if !ok {
			continue
		}
		w.push([]models.Change{{Kind: kind, Job: job}})
	}
}

// watch buffers batches so store writers never block on a slow subscriber.
type watch struct {
	filter models.Status
	sub    *store.Subscription
	ctx    context.Context

	mu      sync.Mutex
	pending [][]models.Change
	wake    chan struct{}
}

func (w *watch) push(batch []models.Change) {
	w.mu.Lock()
	w.pending = append(w.pending, batch)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watch) run(done func()) {
	defer done()
	for {
		w.mu.Lock()
		if len(w.pending) > 0 {
			batch := w.pending[0]
			w.pending = w.pending[1:]
			w.mu.Unlock()
			if !w.sub.Send(w.ctx, batch) {
				w.sub.Finish(nil)
				return
			}
			continue
		}
		w.mu.Unlock()

		select {
		case <-w.wake:
		case <-w.ctx.Done():
			w.sub.Finish(nil)
			return
		}
	}
}

package worker

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"ghost-systems/internal/models"
	"ghost-systems/internal/telemetry"
)

// ErrInvalidPool is returned by NewPool for a non-positive concurrency.
var ErrInvalidPool = errors.New("worker pool concurrency must be positive")

// Handler processes one job. It owns all error handling for that job.
type Handler func(ctx context.Context, job models.Job)

// Pool runs a handler over submitted jobs with bounded concurrency. Submit
// blocks while the hand-off queue is full, which backpressures the caller.
type Pool struct {
	jobs        chan models.Job
	handler     Handler
	concurrency int
	log         logrus.FieldLogger
}

func NewPool(concurrency, queueSize int, handler Handler, log logrus.FieldLogger) (*Pool, error) {
	if concurrency <= 0 {
		return nil, ErrInvalidPool
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		jobs:        make(chan models.Job, queueSize),
		handler:     handler,
		concurrency: concurrency,
		log:         log,
	}, nil
}

// Submit hands a job to the pool, waiting for room or for ctx to end.
func (p *Pool) Submit(ctx context.Context, job models.Job) error {
	select {
	case p.jobs <- job:
		telemetry.QueueDepthGauge.Set(float64(len(p.jobs)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the workers and blocks until ctx ends. Jobs already picked up
// run to completion on a context detached from ctx; queued jobs stay pending
// in the store and are redelivered on the next start.
func (p *Pool) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	g := new(errgroup.Group)
	for i := 0; i < p.concurrency; i++ {
		slot := i
		g.Go(func() error {
			p.loop(ctx, work, slot)
			return nil
		})
	}
	p.log.WithField("concurrency", p.concurrency).Info("worker pool started")
	err := g.Wait()
	p.log.WithField("abandoned", len(p.jobs)).Info("worker pool drained")
	return err
}

func (p *Pool) loop(ctx, work context.Context, slot int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			telemetry.QueueDepthGauge.Set(float64(len(p.jobs)))
			p.handle(work, slot, job)
		}
	}
}

func (p *Pool) handle(ctx context.Context, slot int, job models.Job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{"slot": slot, "job_id": job.ID, "panic": r}).Error("handler panicked")
		}
	}()
	p.handler(ctx, job)
}

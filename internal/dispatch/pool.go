// Package dispatch provides the bounded background worker pool that runs
// per-pair ingest and analysis jobs off the scheduler goroutine.
package dispatch

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"barwatch/internal/domain"
)

// JobKind discriminates queued work.
type JobKind string

const (
	JobIngest  JobKind = "ingest"
	JobAnalyze JobKind = "analyze"
)

// Job is one unit of queued per-pair work.
type Job struct {
	Kind JobKind
	Pair domain.Pair
}

// Handler processes one job. Handlers own their error handling; the pool
// only runs them.
type Handler func(ctx context.Context, job Job)

// Pool fans queued jobs out to a fixed set of workers. Enqueue never
// blocks: when the queue is full the job is dropped and logged, and the
// next scheduler cycle retries naturally.
type Pool struct {
	jobs    chan Job
	handler Handler
	workers int
	logger  zerolog.Logger

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool constructs a worker pool.
func NewPool(workers, queueSize int, handler Handler, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 8
	}
	return &Pool{
		jobs:    make(chan Job, queueSize),
		handler: handler,
		workers: workers,
		logger:  logger.With().Str("component", "dispatch_pool").Logger(),
	}
}

// Start launches the workers. Workers drain the queue until Close is called
// or the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		for n := 0; n < p.workers; n++ {
			p.wg.Add(1)
			go p.worker(ctx, n)
		}
		p.logger.Info().Int("workers", p.workers).Msg("worker pool started")
	})
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.handler(ctx, job)
		}
	}
}

// Enqueue offers a job to the pool without blocking. It reports whether the
// job was accepted.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.jobs <- job:
		return true
	default:
		p.logger.Warn().
			Str("kind", string(job.Kind)).
			Str("pair", job.Pair.Key()).
			Msg("queue full, dropping job")
		return false
	}
}

// Close stops intake and waits for in-flight jobs to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.jobs)
	})
	p.wg.Wait()
}

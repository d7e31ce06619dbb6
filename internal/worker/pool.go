package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Job is a unit of work run by the pool. It must honour ctx itself.
type Job func(ctx context.Context)

// Pool manages a fixed number of worker goroutines that run jobs.
type Pool struct {
	numWorkers int
	jobs       chan Job
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(numWorkers int, logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*2),
		logger:     logger,
	}
}

// Start launches all worker goroutines. They read from the jobs channel until
// it is closed. Jobs submitted after ctx is cancelled still run so Submit never
// blocks forever; each job sees the cancelled ctx and returns early.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Debug("worker pool started", "num_workers", p.numWorkers)
}

// Submit hands a job to the pool, blocking while all workers are busy.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Stop closes the jobs channel and waits for all workers to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Debug("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.run(ctx, id, job)
	}
}

func (p *Pool) run(ctx context.Context, id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked", "worker", id, "panic", r)
		}
	}()
	job(ctx)
}

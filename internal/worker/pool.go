package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Priya8975/model-webhooks/internal/engine"
)

// JobHandler runs a single delivery job.
type JobHandler interface {
	Deliver(ctx context.Context, job engine.DeliveryJob)
}

// Pool runs a fixed number of goroutines draining a bounded job channel.
type Pool struct {
	numWorkers int
	jobs       chan engine.DeliveryJob
	handler    JobHandler
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewPool(numWorkers int, handler JobHandler, logger *slog.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan engine.DeliveryJob, numWorkers*2),
		handler:    handler,
		logger:     logger,
	}
}

// Start launches the workers. They exit when Stop closes the channel.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit hands job to a worker, blocking while the pool is saturated. It
// returns false if ctx ends first.
func (p *Pool) Submit(ctx context.Context, job engine.DeliveryJob) bool {
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop closes the jobs channel and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.jobs {
		// Taken jobs run to completion after shutdown begins.
		p.handler.Deliver(context.WithoutCancel(ctx), job)
	}
}

package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/model-webhooks/internal/engine"
)

// JobQueue is the claim side of the delivery queue.
type JobQueue interface {
	Claim(ctx context.Context, limit int64) ([]engine.DeliveryJob, error)
	Schedule(ctx context.Context, job engine.DeliveryJob, at time.Time) error
}

// Dispatcher polls the delivery queue and feeds ready jobs to the pool.
type Dispatcher struct {
	queue        JobQueue
	pool         *Pool
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

func NewDispatcher(queue JobQueue, pool *Pool, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:        queue,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start polls until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	jobs, err := d.queue.Claim(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to poll delivery queue", "error", err)
		return
	}

	for i, job := range jobs {
		if d.pool.Submit(ctx, job) {
			continue
		}
		// Shutting down: put unclaimed work back so it is not lost.
		requeue := context.WithoutCancel(ctx)
		for _, rest := range jobs[i:] {
			if err := d.queue.Schedule(requeue, rest, time.Now()); err != nil {
				d.logger.Error("failed to requeue job on shutdown", "error", err, "job_id", rest.ID)
			}
		}
		return
	}
}

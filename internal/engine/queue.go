package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DeliveryQueueKey = "delivery_queue"

// DefaultMaxRetries is the attempt budget for a job that does not set one.
const DefaultMaxRetries = 5

// DeliveryJob is a single webhook delivery task queued in Redis.
// Payload is the encoded request body; it is stored base64 so the bytes
// that get signed and sent are exactly the ones the encoder produced.
type DeliveryJob struct {
	ID           string `json:"id"`
	SubscriberID int64  `json:"subscriber_id"`
	Topic        string `json:"topic"`
	ObjectType   string `json:"object_type"`
	Payload      []byte `json:"payload"`
	Attempt      int    `json:"attempt"`
	MaxRetries   int    `json:"max_retries"`
}

// Retry returns the job for its next attempt.
func (j DeliveryJob) Retry() DeliveryJob {
	next := j
	next.Attempt++
	return next
}

// Exhausted reports whether no attempts remain after this one.
func (j DeliveryJob) Exhausted() bool {
	return j.Attempt >= j.MaxRetries
}

// Queue is the Redis sorted set of pending deliveries. Scores are the
// earliest time, in microseconds, at which a job may be claimed.
type Queue struct {
	client *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewQueue(client *redis.Client, logger *slog.Logger) *Queue {
	return &Queue{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue makes jobs immediately claimable. Missing ids, attempts and retry
// budgets are filled in. Returns the number of jobs queued.
func (q *Queue) Enqueue(ctx context.Context, jobs ...DeliveryJob) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	// Use a pipeline to batch-insert all delivery jobs
	pipe := q.client.Pipeline()
	score := float64(q.now().UnixMicro())
	queued := 0

	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		if job.Attempt == 0 {
			job.Attempt = 1
		}
		if job.MaxRetries == 0 {
			job.MaxRetries = DefaultMaxRetries
		}

		jobBytes, err := json.Marshal(job)
		if err != nil {
			q.logger.Error("failed to marshal job", "error", err, "subscriber_id", job.SubscriberID)
			continue
		}

		pipe.ZAdd(ctx, DeliveryQueueKey, redis.Z{
			Score:  score,
			Member: string(jobBytes),
		})
		queued++
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queuing deliveries to redis: %w", err)
	}

	return queued, nil
}

// Schedule queues job to become claimable at the given time.
func (q *Queue) Schedule(ctx context.Context, job DeliveryJob, at time.Time) error {
	jobBytes, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	err = q.client.ZAdd(ctx, DeliveryQueueKey, redis.Z{
		Score:  float64(at.UnixMicro()),
		Member: string(jobBytes),
	}).Err()
	if err != nil {
		return fmt.Errorf("scheduling delivery: %w", err)
	}
	return nil
}

// Claim removes up to limit ready jobs from the queue and returns them. A
// job removed concurrently by another claimer is skipped.
func (q *Queue) Claim(ctx context.Context, limit int64) ([]DeliveryJob, error) {
	now := float64(q.now().UnixMicro())

	results, err := q.client.ZRangeByScore(ctx, DeliveryQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(now, 'f', -1, 64),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("polling delivery queue: %w", err)
	}

	jobs := make([]DeliveryJob, 0, len(results))
	for _, member := range results {
		removed, err := q.client.ZRem(ctx, DeliveryQueueKey, member).Result()
		if err != nil {
			q.logger.Error("failed to remove job from queue", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var job DeliveryJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.logger.Error("failed to unmarshal job", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Depth returns the number of jobs waiting in the queue, ready or delayed.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, DeliveryQueueKey).Result()
}

// Package trigger sends verification deliveries to a single subscriber,
// bypassing topic matching and the delivery queue.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/model-webhooks/internal/domain"
	"github.com/Priya8975/model-webhooks/internal/engine"
	"github.com/Priya8975/model-webhooks/internal/errs"
	"github.com/Priya8975/model-webhooks/internal/payload"
	"github.com/Priya8975/model-webhooks/internal/topic"
	"github.com/Priya8975/model-webhooks/internal/worker"
)

const (
	ObjectType     = "test"
	DefaultMessage = "This is a test webhook"
)

// Deliverer makes one synchronous delivery attempt.
type Deliverer interface {
	DeliverNow(ctx context.Context, sub domain.Subscriber, job engine.DeliveryJob) (worker.Outcome, error)
}

type Options struct {
	Encoder payload.Encoder
	Now     func() time.Time
}

type Trigger struct {
	deliverer Deliverer
	encoder   payload.Encoder
	now       func() time.Time
	logger    *slog.Logger
}

func New(deliverer Deliverer, logger *slog.Logger, opts Options) *Trigger {
	if opts.Encoder == nil {
		opts.Encoder = payload.JSON()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Trigger{
		deliverer: deliverer,
		encoder:   opts.Encoder,
		now:       opts.Now,
		logger:    logger,
	}
}

// DefaultPayload is sent when SendTest is given no body.
func DefaultPayload(sub domain.Subscriber, now time.Time) map[string]any {
	return map[string]any{
		"test":         true,
		"message":      DefaultMessage,
		"timestamp":    now.UTC().Format(time.RFC3339Nano),
		"webhook_uuid": sub.UUID.String(),
		"webhook_id":   sub.ID,
	}
}

// SendTest delivers body to sub under topicName and waits for the outcome.
// An empty topicName means topic.Test and a nil body means DefaultPayload.
// Inactive subscribers fail validation before anything is sent.
func (t *Trigger) SendTest(ctx context.Context, sub domain.Subscriber, body map[string]any, topicName string) (worker.Outcome, error) {
	if !sub.Active {
		return worker.Outcome{}, errs.Validation("active", fmt.Sprintf("cannot send test webhook to inactive subscriber %d", sub.ID))
	}
	if body == nil {
		body = DefaultPayload(sub, t.now())
	}
	if topicName == "" {
		topicName = topic.Test
	}

	encoded, err := t.encoder.Encode(body)
	if err != nil {
		return worker.Outcome{}, errs.Validation("payload", err.Error())
	}

	t.logger.Info("sending test webhook", "subscriber_id", sub.ID, "topic", topicName)

	return t.deliverer.DeliverNow(ctx, sub, engine.DeliveryJob{
		SubscriberID: sub.ID,
		Topic:        topicName,
		ObjectType:   ObjectType,
		Payload:      encoded,
		Attempt:      1,
		MaxRetries:   1,
	})
}

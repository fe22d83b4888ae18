package listener

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Priya8975/model-webhooks/internal/domain"
	"github.com/Priya8975/model-webhooks/internal/engine"
	"github.com/Priya8975/model-webhooks/internal/errs"
	"github.com/Priya8975/model-webhooks/internal/payload"
	"github.com/Priya8975/model-webhooks/internal/topic"
)

// Matcher resolves the recipients of a topic for a subject.
type Matcher interface {
	Match(ctx context.Context, topic string, subject domain.Subject) ([]domain.Recipient, error)
}

// Enqueuer accepts delivery jobs for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobs ...engine.DeliveryJob) (int, error)
}

// UID is the stable registration id for a model and signal.
func UID(model string, signal Signal) string {
	return "webhooks_" + model + "_" + string(signal)
}

// Listener handles lifecycle events of watched models: resolve the topic,
// match subscribers, and queue one delivery per recipient.
type Listener struct {
	matcher    Matcher
	enqueuer   Enqueuer
	encoder    payload.Encoder
	maxRetries int
	logger     *slog.Logger
}

func New(matcher Matcher, enqueuer Enqueuer, encoder payload.Encoder, maxRetries int, logger *slog.Logger) *Listener {
	if encoder == nil {
		encoder = payload.JSON()
	}
	if maxRetries <= 0 {
		maxRetries = engine.DefaultMaxRetries
	}
	return &Listener{
		matcher:    matcher,
		enqueuer:   enqueuer,
		encoder:    encoder,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Connect registers the listener on bus for every signal of each model.
// Malformed model names are logged and skipped. Returns the models that
// were connected.
func (l *Listener) Connect(bus *Bus, models []string) []string {
	var connected []string
	for _, model := range models {
		if err := topic.ValidateModel(model); err != nil {
			l.logger.Error("skipping watched model", "model", model, "error", err)
			continue
		}
		for _, signal := range Signals {
			bus.Connect(model, signal, UID(model, signal), l.Handle)
		}
		connected = append(connected, model)
	}
	return connected
}

// Handle runs one event through received, topic-resolved,
// subscribers-matched and jobs-submitted. Any failure ends the run and is
// returned; nothing is retried here.
func (l *Listener) Handle(ctx context.Context, ev LifecycleEvent) error {
	log := l.logger.With("model", ev.Model, "signal", ev.Signal)
	log.Debug("lifecycle event received")

	t, err := l.resolve(ev)
	if err != nil {
		log.Error("lifecycle event failed", "state", "received", "error", err)
		return err
	}
	log = log.With("topic", t, "object_id", ev.Subject.Identifier())
	log.Debug("topic resolved")

	recipients, err := l.matcher.Match(ctx, t, ev.Subject)
	if err != nil {
		log.Error("lifecycle event failed", "state", "topic-resolved", "error", err)
		return err
	}
	log.Debug("subscribers matched", "recipients", len(recipients))

	if len(recipients) == 0 {
		return nil
	}

	jobs, err := l.jobs(t, ev, recipients)
	if err != nil {
		log.Error("lifecycle event failed", "state", "subscribers-matched", "error", err)
		return err
	}

	n, err := l.enqueuer.Enqueue(ctx, jobs...)
	if err != nil {
		log.Error("lifecycle event failed", "state", "subscribers-matched", "error", err)
		return fmt.Errorf("submitting deliveries for %s: %w", t, err)
	}
	log.Debug("jobs submitted", "jobs", n)
	return nil
}

func (l *Listener) resolve(ev LifecycleEvent) (string, error) {
	if ev.Subject == nil {
		return "", errs.Validation("object", "lifecycle event has no subject")
	}
	if err := topic.ValidateModel(ev.Model); err != nil {
		return "", err
	}
	action, err := ev.Action()
	if err != nil {
		return "", err
	}
	return topic.Resolve(ev.Model, action), nil
}

func (l *Listener) jobs(t string, ev LifecycleEvent, recipients []domain.Recipient) ([]engine.DeliveryJob, error) {
	object := payload.NewObjectRef(ev.Subject.Identifier())

	jobs := make([]engine.DeliveryJob, 0, len(recipients))
	for _, r := range recipients {
		body, err := l.encoder.Encode(payload.Event{
			Object:      object,
			Topic:       t,
			ObjectType:  ev.Model,
			WebhookUUID: r.SubscriberUUID.String(),
		})
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, engine.DeliveryJob{
			SubscriberID: r.SubscriberID,
			Topic:        t,
			ObjectType:   ev.Model,
			Payload:      body,
			MaxRetries:   l.maxRetries,
		})
	}
	return jobs, nil
}

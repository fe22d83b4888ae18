package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Priya8975/model-webhooks/internal/domain"
	"github.com/Priya8975/model-webhooks/internal/engine"
	"github.com/Priya8975/model-webhooks/internal/errs"
	ws "github.com/Priya8975/model-webhooks/internal/websocket"
)

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 5 * time.Minute

	maxResponseBody = 1024
)

// SubscriberStore is the read side of subscriber storage the deliverer needs.
type SubscriberStore interface {
	GetSubscriber(ctx context.Context, id int64) (*domain.Subscriber, error)
	ListSecrets(ctx context.Context, subscriberID int64) ([]domain.Secret, error)
}

// EventRecorder persists delivery records.
type EventRecorder interface {
	CreateWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error
	FinishWebhookEvent(ctx context.Context, id int64, status string, statusCode *int, errMsg *string) error
}

// Scheduler puts a job back on the queue for a later attempt.
type Scheduler interface {
	Schedule(ctx context.Context, job engine.DeliveryJob, at time.Time) error
}

type Broadcaster interface {
	Broadcast(event ws.DeliveryEvent)
}

// Outcome is what the endpoint answered.
type Outcome struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	ResponseMs int64  `json:"response_ms"`
}

// Options tunes a Deliverer. A nil Events disables delivery records.
type Options struct {
	HTTPClient     *http.Client
	Events         EventRecorder
	Scheduler      Scheduler
	CircuitBreaker *engine.CircuitBreaker
	RateLimiter    *engine.RateLimiter
	Hub            Broadcaster
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Now            func() time.Time
}

// Deliverer POSTs signed payloads to subscriber endpoints.
type Deliverer struct {
	httpClient     *http.Client
	subscribers    SubscriberStore
	events         EventRecorder
	scheduler      Scheduler
	circuitBreaker *engine.CircuitBreaker
	rateLimiter    *engine.RateLimiter
	hub            Broadcaster
	logger         *slog.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

func NewDeliverer(subscribers SubscriberStore, logger *slog.Logger, opts Options) *Deliverer {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Deliverer{
		httpClient:     opts.HTTPClient,
		subscribers:    subscribers,
		events:         opts.Events,
		scheduler:      opts.Scheduler,
		circuitBreaker: opts.CircuitBreaker,
		rateLimiter:    opts.RateLimiter,
		hub:            opts.Hub,
		logger:         logger,
		initialBackoff: opts.InitialBackoff,
		maxBackoff:     opts.MaxBackoff,
		now:            opts.Now,
	}
}

// Deliver runs one queued attempt. Failures are retried through the
// scheduler with exponential backoff until the job's budget is spent; the
// last failure leaves a FAILURE record and nothing else.
func (d *Deliverer) Deliver(ctx context.Context, job engine.DeliveryJob) {
	sub, err := d.subscribers.GetSubscriber(ctx, job.SubscriberID)
	if err != nil {
		d.logger.Error("loading subscriber for delivery", "error", err, "subscriber_id", job.SubscriberID, "job_id", job.ID)
		d.reschedule(ctx, job, d.initialBackoff)
		return
	}
	if sub == nil || !sub.Active {
		d.logger.Info("subscriber removed or inactive, dropping delivery",
			"subscriber_id", job.SubscriberID,
			"job_id", job.ID,
		)
		return
	}

	if d.circuitBreaker != nil {
		if state, allowed := d.circuitBreaker.AllowRequest(ctx, sub.ID); !allowed {
			d.logger.Debug("circuit open, deferring delivery", "subscriber_id", sub.ID, "state", state, "job_id", job.ID)
			d.reschedule(ctx, job, d.circuitBreaker.Cooldown())
			return
		}
	}
	if d.rateLimiter != nil && !d.rateLimiter.Allow(ctx, sub.ID) {
		d.reschedule(ctx, job, engine.RateWindow)
		return
	}

	outcome, err := d.attempt(ctx, *sub, job)
	if err == nil {
		if d.circuitBreaker != nil {
			d.circuitBreaker.RecordSuccess(ctx, sub.ID)
		}
		d.broadcast(ws.TypeSuccess, *sub, job, outcome, nil)
		return
	}

	if errs.IsStoreUnavailable(err) {
		d.reschedule(ctx, job, d.initialBackoff)
		return
	}

	if d.circuitBreaker != nil {
		d.circuitBreaker.RecordFailure(ctx, sub.ID)
	}

	if job.Exhausted() {
		d.logger.Warn("delivery retries exhausted",
			"job_id", job.ID,
			"subscriber_id", sub.ID,
			"topic", job.Topic,
			"attempts", job.Attempt,
			"error", err,
		)
		d.broadcast(ws.TypeExhausted, *sub, job, outcome, err)
		return
	}

	next := job.Retry()
	delay := d.backoff(job.Attempt)
	if d.scheduler == nil {
		return
	}
	if err := d.scheduler.Schedule(ctx, next, d.now().Add(delay)); err != nil {
		d.logger.Error("failed to schedule retry", "error", err, "job_id", job.ID, "subscriber_id", sub.ID)
		return
	}
	d.broadcast(ws.TypeRetrying, *sub, job, outcome, err)
}

// DeliverNow makes one synchronous attempt outside the queue, without circuit
// breaking, rate limiting or retries. Any failure is a DeliveryFailure.
func (d *Deliverer) DeliverNow(ctx context.Context, sub domain.Subscriber, job engine.DeliveryJob) (Outcome, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	job.SubscriberID = sub.ID

	outcome, err := d.attempt(ctx, sub, job)
	if err != nil {
		d.broadcast(ws.TypeFailed, sub, job, outcome, err)
		if errs.IsStoreUnavailable(err) {
			return outcome, err
		}
		metadata := map[string]any{"subscriber_id": sub.ID, "url": sub.URL}
		if outcome.StatusCode != 0 {
			metadata["status_code"] = outcome.StatusCode
		}
		return outcome, errs.DeliveryFailure(err, fmt.Sprintf("delivering to subscriber %d", sub.ID), metadata)
	}

	d.broadcast(ws.TypeSuccess, sub, job, outcome, nil)
	return outcome, nil
}

// attempt signs and sends the payload once, bracketing it with a delivery
// record when records are enabled.
func (d *Deliverer) attempt(ctx context.Context, sub domain.Subscriber, job engine.DeliveryJob) (Outcome, error) {
	secret, err := d.signingSecret(ctx, sub.ID)
	if err != nil {
		return Outcome{}, err
	}

	record := d.startRecord(ctx, sub, job)

	start := d.now()
	outcome, err := d.send(ctx, sub, job, secret)
	outcome.ResponseMs = d.now().Sub(start).Milliseconds()

	d.finishRecord(ctx, record, outcome, err)

	if err != nil {
		d.logger.Warn("delivery failed",
			"job_id", job.ID,
			"subscriber_id", sub.ID,
			"topic", job.Topic,
			"attempt", job.Attempt,
			"status_code", outcome.StatusCode,
			"response_time_ms", outcome.ResponseMs,
			"error", err,
		)
		return outcome, err
	}

	d.logger.Info("delivery successful",
		"job_id", job.ID,
		"subscriber_id", sub.ID,
		"topic", job.Topic,
		"attempt", job.Attempt,
		"status_code", outcome.StatusCode,
		"response_time_ms", outcome.ResponseMs,
	)
	return outcome, nil
}

func (d *Deliverer) send(ctx context.Context, sub domain.Subscriber, job engine.DeliveryJob, secret string) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(job.Payload))
	if err != nil {
		return Outcome{}, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", job.Topic)
	req.Header.Set("X-Webhook-ID", job.ID)
	req.Header.Set("X-Webhook-UUID", sub.UUID.String())
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(job.Attempt))
	if secret != "" {
		req.Header.Set("X-Webhook-Signature", computeHMAC(job.Payload, secret))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	outcome := Outcome{StatusCode: resp.StatusCode, Body: string(body)}

	if resp.StatusCode >= 400 {
		return outcome, fmt.Errorf("endpoint responded %d", resp.StatusCode)
	}
	return outcome, nil
}

// signingSecret returns the newest usable secret, or "" when the subscriber
// has none.
func (d *Deliverer) signingSecret(ctx context.Context, subscriberID int64) (string, error) {
	secrets, err := d.subscribers.ListSecrets(ctx, subscriberID)
	if err != nil {
		return "", errs.StoreUnavailable(err, fmt.Sprintf("loading secrets of subscriber %d", subscriberID))
	}
	for _, s := range secrets {
		if s.Valid() {
			return s.Token, nil
		}
	}
	return "", nil
}

func (d *Deliverer) startRecord(ctx context.Context, sub domain.Subscriber, job engine.DeliveryJob) *domain.WebhookEvent {
	if d.events == nil {
		return nil
	}
	subscriberID := sub.ID
	ev := &domain.WebhookEvent{
		SubscriberID: &subscriberID,
		Object:       job.Payload,
		ObjectType:   job.ObjectType,
		Topic:        job.Topic,
		URL:          sub.URL,
		Status:       domain.StatusPending,
		Attempt:      job.Attempt,
	}
	if err := d.events.CreateWebhookEvent(ctx, ev); err != nil {
		d.logger.Error("failed to record delivery", "error", err, "job_id", job.ID, "subscriber_id", sub.ID)
		return nil
	}
	return ev
}

func (d *Deliverer) finishRecord(ctx context.Context, ev *domain.WebhookEvent, outcome Outcome, sendErr error) {
	if ev == nil {
		return
	}
	status := domain.StatusSuccess
	var errMsg *string
	if sendErr != nil {
		status = domain.StatusFailure
		msg := sendErr.Error()
		errMsg = &msg
	}
	var statusCode *int
	if outcome.StatusCode != 0 {
		code := outcome.StatusCode
		statusCode = &code
	}
	if err := d.events.FinishWebhookEvent(ctx, ev.ID, status, statusCode, errMsg); err != nil {
		d.logger.Error("failed to finish delivery record", "error", err, "event_id", ev.ID)
	}
}

func (d *Deliverer) reschedule(ctx context.Context, job engine.DeliveryJob, delay time.Duration) {
	if d.scheduler == nil {
		return
	}
	if err := d.scheduler.Schedule(ctx, job, d.now().Add(delay)); err != nil {
		d.logger.Error("failed to reschedule delivery", "error", err, "job_id", job.ID, "subscriber_id", job.SubscriberID)
	}
}

// backoff doubles from the initial delay per failed attempt, capped.
func (d *Deliverer) backoff(attempt int) time.Duration {
	delay := d.initialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.maxBackoff {
			return d.maxBackoff
		}
	}
	return delay
}

func (d *Deliverer) broadcast(kind string, sub domain.Subscriber, job engine.DeliveryJob, outcome Outcome, err error) {
	if d.hub == nil {
		return
	}
	ev := ws.DeliveryEvent{
		Type:         kind,
		JobID:        job.ID,
		SubscriberID: sub.ID,
		URL:          sub.URL,
		Topic:        job.Topic,
		Attempt:      job.Attempt,
		ResponseMs:   outcome.ResponseMs,
		Timestamp:    d.now().UTC(),
	}
	if outcome.StatusCode != 0 {
		code := outcome.StatusCode
		ev.StatusCode = &code
	}
	if err != nil {
		ev.Error = err.Error()
	}
	d.hub.Broadcast(ev)
}

// computeHMAC generates an HMAC-SHA256 signature for the payload.
func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

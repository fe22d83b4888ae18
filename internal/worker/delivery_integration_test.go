package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Priya8975/model-webhooks/internal/domain"
	"github.com/Priya8975/model-webhooks/internal/engine"
	"github.com/Priya8975/model-webhooks/internal/errs"
	ws "github.com/Priya8975/model-webhooks/internal/websocket"
)

type memoryStore struct {
	mu          sync.Mutex
	subscribers map[int64]domain.Subscriber
	secrets     map[int64][]domain.Secret
	events      []domain.WebhookEvent
	nextEventID int64
}

func newMemoryStore(subs ...domain.Subscriber) *memoryStore {
	s := &memoryStore{
		subscribers: make(map[int64]domain.Subscriber),
		secrets:     make(map[int64][]domain.Secret),
	}
	for _, sub := range subs {
		s.subscribers[sub.ID] = sub
	}
	return s
}

func (s *memoryStore) GetSubscriber(_ context.Context, id int64) (*domain.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscribers[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (s *memoryStore) ListSecrets(_ context.Context, subscriberID int64) ([]domain.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Secret(nil), s.secrets[subscriberID]...), nil
}

func (s *memoryStore) CreateWebhookEvent(_ context.Context, ev *domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	ev.ID = s.nextEventID
	ev.CreatedAt = time.Now()
	s.events = append(s.events, *ev)
	return nil
}

func (s *memoryStore) FinishWebhookEvent(_ context.Context, id int64, status string, statusCode *int, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Status = status
			s.events[i].StatusCode = statusCode
			s.events[i].Error = errMsg
		}
	}
	return nil
}

func (s *memoryStore) records() []domain.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.WebhookEvent(nil), s.events...)
}

type recordingHub struct {
	mu     sync.Mutex
	events []ws.DeliveryEvent
}

func (h *recordingHub) Broadcast(ev ws.DeliveryEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Type)
	}
	return out
}

type deliveryHarness struct {
	store *memoryStore
	queue *engine.Queue
	cb    *engine.CircuitBreaker
	rl    *engine.RateLimiter
	hub   *recordingHub
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newHarness(t *testing.T, rateLimit int, subs ...domain.Subscriber) *deliveryHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := testLogger()
	return &deliveryHarness{
		store: newMemoryStore(subs...),
		queue: engine.NewQueue(client, logger),
		cb:    engine.NewCircuitBreaker(client, logger, engine.CircuitBreakerOptions{}),
		rl:    engine.NewRateLimiter(client, rateLimit, logger),
		hub:   &recordingHub{},
	}
}

func (h *deliveryHarness) deliverer(storeEvents bool) *Deliverer {
	opts := Options{
		HTTPClient:     &http.Client{Timeout: 5 * time.Second},
		Scheduler:      h.queue,
		CircuitBreaker: h.cb,
		RateLimiter:    h.rl,
		Hub:            h.hub,
	}
	if storeEvents {
		opts.Events = h.store
	}
	return NewDeliverer(h.store, testLogger(), opts)
}

func testSubscriber(id int64, url string) domain.Subscriber {
	return domain.Subscriber{
		ID:     id,
		UUID:   uuid.New(),
		Name:   "orders",
		URL:    url,
		Active: true,
		Topics: []string{"shop.Order/create"},
	}
}

func testJob(subscriberID int64) engine.DeliveryJob {
	return engine.DeliveryJob{
		ID:           "job-1",
		SubscriberID: subscriberID,
		Topic:        "shop.Order/create",
		ObjectType:   "shop.Order",
		Payload:      json.RawMessage(`{"object":{"id":1},"topic":"shop.Order/create"}`),
		Attempt:      1,
		MaxRetries:   3,
	}
}

func TestDelivery_SuccessfulEndpoint(t *testing.T) {
	var (
		receivedHeaders http.Header
		receivedBody    []byte
		mu              sync.Mutex
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		receivedHeaders = r.Header.Clone()
		receivedBody, _ = io.ReadAll(r.Body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	sub := testSubscriber(1, server.URL)
	h := newHarness(t, 0, sub)
	h.store.secrets[1] = []domain.Secret{
		{ID: 2, SubscriberID: 1, Token: "newest-secret-token"},
		{ID: 1, SubscriberID: 1, Token: "older-secret-token"},
	}

	h.deliverer(true).Deliver(context.Background(), testJob(1))

	mu.Lock()
	defer mu.Unlock()
	if receivedHeaders == nil {
		t.Fatal("endpoint was not called")
	}
	if got := receivedHeaders.Get("X-Webhook-Event"); got != "shop.Order/create" {
		t.Errorf("X-Webhook-Event = %q", got)
	}
	if got := receivedHeaders.Get("X-Webhook-ID"); got != "job-1" {
		t.Errorf("X-Webhook-ID = %q", got)
	}
	if got := receivedHeaders.Get("X-Webhook-Attempt"); got != "1" {
		t.Errorf("X-Webhook-Attempt = %q", got)
	}
	if got := receivedHeaders.Get("X-Webhook-UUID"); got != sub.UUID.String() {
		t.Errorf("X-Webhook-UUID = %q", got)
	}
	if got := receivedHeaders.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got, want := receivedHeaders.Get("X-Webhook-Signature"), computeHMAC(receivedBody, "newest-secret-token"); got != want {
		t.Errorf("signature should use the newest secret:\n  got:  %s\n  want: %s", got, want)
	}

	records := h.store.records()
	if len(records) != 1 {
		t.Fatalf("expected 1 delivery record, got %d", len(records))
	}
	if records[0].Status != domain.StatusSuccess || *records[0].StatusCode != 200 {
		t.Errorf("unexpected record: %+v", records[0])
	}
	if records[0].URL != server.URL || records[0].Topic != "shop.Order/create" || records[0].ObjectType != "shop.Order" {
		t.Errorf("record fields not copied from job: %+v", records[0])
	}
	if got := h.hub.types(); len(got) != 1 || got[0] != ws.TypeSuccess {
		t.Errorf("broadcast types = %v", got)
	}
}

func TestDelivery_NoSecretSendsUnsigned(t *testing.T) {
	var signature atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature.Store(r.Header.Get("X-Webhook-Signature"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	h := newHarness(t, 0, testSubscriber(1, server.URL))
	h.store.secrets[1] = []domain.Secret{{ID: 1, SubscriberID: 1, Token: "short"}}

	h.deliverer(false).Deliver(context.Background(), testJob(1))

	if got, _ := signature.Load().(string); got != "" {
		t.Errorf("expected no signature without a valid secret, got %q", got)
	}
	if len(h.store.records()) != 0 {
		t.Error("records disabled, none should be written")
	}
}

func TestDelivery_FailureSchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	h := newHarness(t, 0, testSubscriber(1, server.URL))
	ctx := context.Background()

	h.deliverer(true).Deliver(ctx, testJob(1))

	records := h.store.records()
	if len(records) != 1 || records[0].Status != domain.StatusFailure || *records[0].StatusCode != 500 {
		t.Fatalf("expected one FAILURE record with 500, got %+v", records)
	}

	if state := h.cb.GetState(ctx, 1); state.Failures != 1 {
		t.Errorf("expected 1 breaker failure, got %d", state.Failures)
	}

	depth, _ := h.queue.Depth(ctx)
	if depth != 1 {
		t.Fatalf("expected retry to be queued, depth %d", depth)
	}

	jobs, err := h.queue.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("retry should be delayed by the backoff, claimed %+v", jobs)
	}

	if got := h.hub.types(); len(got) != 1 || got[0] != ws.TypeRetrying {
		t.Errorf("broadcast types = %v", got)
	}
}

func TestDelivery_RetryBecomesClaimableAfterBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := newMemoryStore(testSubscriber(1, server.URL))
	queue := engine.NewQueue(client, testLogger())
	// The deliverer's clock runs 2s behind the queue's, so the 2s backoff
	// after a failed second attempt lands on the queue's present.
	d := NewDeliverer(store, testLogger(), Options{
		Scheduler: queue,
		Now:       func() time.Time { return time.Now().Add(-2 * time.Second) },
	})
	ctx := context.Background()

	job := testJob(1)
	job.Attempt = 2
	d.Deliver(ctx, job)

	jobs, err := queue.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Attempt != 3 || jobs[0].ID != "job-1" {
		t.Fatalf("expected attempt 3 of job-1, got %+v", jobs)
	}
}

func TestDelivery_ExhaustedStopsRetrying(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	h := newHarness(t, 0, testSubscriber(1, server.URL))
	ctx := context.Background()

	job := testJob(1)
	job.Attempt = job.MaxRetries
	h.deliverer(true).Deliver(ctx, job)

	if depth, _ := h.queue.Depth(ctx); depth != 0 {
		t.Errorf("exhausted job must not be requeued, depth %d", depth)
	}
	records := h.store.records()
	if len(records) != 1 || records[0].Status != domain.StatusFailure {
		t.Errorf("expected final FAILURE record, got %+v", records)
	}
	if got := h.hub.types(); len(got) != 1 || got[0] != ws.TypeExhausted {
		t.Errorf("broadcast types = %v", got)
	}
}

func TestDelivery_CircuitBreakerBlocks(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := newHarness(t, 0, testSubscriber(1, server.URL))
	ctx := context.Background()
	for i := 0; i < engine.DefaultFailureThreshold; i++ {
		h.cb.RecordFailure(ctx, 1)
	}

	h.deliverer(true).Deliver(ctx, testJob(1))

	if requestCount.Load() != 0 {
		t.Errorf("circuit breaker should block delivery, but %d requests reached the endpoint", requestCount.Load())
	}
	if depth, _ := h.queue.Depth(ctx); depth != 1 {
		t.Errorf("blocked job should be deferred, depth %d", depth)
	}
	if len(h.store.records()) != 0 {
		t.Error("no record should be written for a deferred job")
	}
}

func TestDelivery_RateLimitDefers(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := newHarness(t, 1, testSubscriber(1, server.URL))
	d := h.deliverer(false)
	ctx := context.Background()

	first := testJob(1)
	second := testJob(1)
	second.ID = "job-2"
	d.Deliver(ctx, first)
	d.Deliver(ctx, second)

	if requestCount.Load() != 1 {
		t.Errorf("expected 1 request inside the window, got %d", requestCount.Load())
	}
	if depth, _ := h.queue.Depth(ctx); depth != 1 {
		t.Errorf("rate limited job should be deferred, depth %d", depth)
	}
}

func TestDelivery_InactiveSubscriberDropped(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
	}))
	defer server.Close()

	sub := testSubscriber(1, server.URL)
	sub.Active = false
	h := newHarness(t, 0, sub)
	ctx := context.Background()

	h.deliverer(true).Deliver(ctx, testJob(1))
	h.deliverer(true).Deliver(ctx, testJob(42))

	if requestCount.Load() != 0 {
		t.Error("inactive or missing subscribers must not be called")
	}
	if depth, _ := h.queue.Depth(ctx); depth != 0 {
		t.Errorf("dropped jobs must not be requeued, depth %d", depth)
	}
}

func TestDeliverNow_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("accepted"))
	}))
	defer server.Close()

	sub := testSubscriber(1, server.URL)
	h := newHarness(t, 0, sub)

	outcome, err := h.deliverer(true).DeliverNow(context.Background(), sub, engine.DeliveryJob{
		Topic:      "test/webhook",
		ObjectType: "test",
		Payload:    json.RawMessage(`{"test":true}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.StatusCode != http.StatusAccepted || outcome.Body != "accepted" {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	records := h.store.records()
	if len(records) != 1 || records[0].Status != domain.StatusSuccess || records[0].Attempt != 1 {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestDeliverNow_FailureIsDeliveryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sub := testSubscriber(1, server.URL)
	h := newHarness(t, 0, sub)
	ctx := context.Background()

	outcome, err := h.deliverer(true).DeliverNow(ctx, sub, testJob(1))
	if !errs.IsDeliveryFailure(err) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	if outcome.StatusCode != http.StatusInternalServerError {
		t.Errorf("outcome status = %d", outcome.StatusCode)
	}
	if errs.StatusCode(err) != http.StatusBadGateway {
		t.Errorf("delivery failure should map to 502, got %d", errs.StatusCode(err))
	}
	if depth, _ := h.queue.Depth(ctx); depth != 0 {
		t.Error("synchronous delivery must not schedule retries")
	}
}

func TestDeliverNow_UnreachableEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sub := testSubscriber(1, url)
	h := newHarness(t, 0, sub)

	_, err := h.deliverer(false).DeliverNow(context.Background(), sub, testJob(1))
	if !errs.IsDeliveryFailure(err) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
}

func TestWorkerPool_ProcessesJobs(t *testing.T) {
	var processed atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		processed.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := newHarness(t, 0, testSubscriber(1, server.URL))

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(3, h.deliverer(false), testLogger())
	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		job := testJob(1)
		job.ID = uuid.NewString()
		if !pool.Submit(ctx, job) {
			t.Fatal("submit should succeed while running")
		}
	}

	cancel()
	pool.Stop()

	if processed.Load() != 5 {
		t.Errorf("expected 5 jobs processed, got %d", processed.Load())
	}
}

func TestDispatcher_DrainsQueueIntoPool(t *testing.T) {
	var processed atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		processed.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := newHarness(t, 0, testSubscriber(1, server.URL), testSubscriber(2, server.URL+"/other"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := h.queue.Enqueue(ctx,
		engine.DeliveryJob{SubscriberID: 1, Topic: "shop.Order/create", Payload: json.RawMessage(`{}`)},
		engine.DeliveryJob{SubscriberID: 2, Topic: "shop.Order/create", Payload: json.RawMessage(`{}`)},
	); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pool := NewPool(2, h.deliverer(false), testLogger())
	pool.Start(ctx)
	dispatcher := NewDispatcher(h.queue, pool, testLogger())
	stopped := make(chan struct{})
	go func() {
		dispatcher.Start(ctx)
		close(stopped)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for processed.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-stopped
	pool.Stop()

	if processed.Load() != 2 {
		t.Errorf("expected 2 deliveries, got %d", processed.Load())
	}
	if depth, _ := h.queue.Depth(context.Background()); depth != 0 {
		t.Errorf("queue should be drained, depth %d", depth)
	}
}

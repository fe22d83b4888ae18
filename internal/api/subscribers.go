package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Priya8975/model-webhooks/internal/domain"
	"github.com/Priya8975/model-webhooks/internal/engine"
	"github.com/Priya8975/model-webhooks/internal/errs"
	"github.com/Priya8975/model-webhooks/internal/worker"
	"github.com/go-chi/chi/v5"
)

type SubscriberGetter interface {
	GetSubscriber(ctx context.Context, id int64) (*domain.Subscriber, error)
}

// TestSender makes a synchronous verification delivery.
type TestSender interface {
	SendTest(ctx context.Context, sub domain.Subscriber, body map[string]any, topicName string) (worker.Outcome, error)
}

// CircuitStater reports the circuit breaker state of a subscriber.
type CircuitStater interface {
	GetState(ctx context.Context, subscriberID int64) engine.CircuitBreakerState
}

type SubscriberHandler struct {
	store          SubscriberGetter
	sender         TestSender
	circuitBreaker CircuitStater
}

func NewSubscriberHandler(s SubscriberGetter, sender TestSender, cb CircuitStater) *SubscriberHandler {
	return &SubscriberHandler{store: s, sender: sender, circuitBreaker: cb}
}

type testRequest struct {
	Payload map[string]any `json:"payload"`
	Topic   string         `json:"topic"`
}

type testResponse struct {
	SubscriberID int64  `json:"subscriber_id"`
	StatusCode   int    `json:"status_code"`
	Body         string `json:"body"`
	ResponseMs   int64  `json:"response_ms"`
}

// Test sends a verification webhook. The body is optional; without one the
// default test payload goes to the test topic.
func (h *SubscriberHandler) Test(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.sender.SendTest(r.Context(), *sub, req.Payload, req.Topic)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, testResponse{
		SubscriberID: sub.ID,
		StatusCode:   outcome.StatusCode,
		Body:         outcome.Body,
		ResponseMs:   outcome.ResponseMs,
	})
}

func (h *SubscriberHandler) Health(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.load(w, r)
	if !ok {
		return
	}

	type healthResponse struct {
		SubscriberID   int64                      `json:"subscriber_id"`
		Name           string                     `json:"name"`
		URL            string                     `json:"url"`
		Active         bool                       `json:"active"`
		CircuitBreaker engine.CircuitBreakerState `json:"circuit_breaker"`
	}

	respondJSON(w, http.StatusOK, healthResponse{
		SubscriberID:   sub.ID,
		Name:           sub.Name,
		URL:            sub.URL,
		Active:         sub.Active,
		CircuitBreaker: h.circuitBreaker.GetState(r.Context(), sub.ID),
	})
}

// load resolves the {id} path parameter, writing the error response itself
// when the subscriber cannot be returned.
func (h *SubscriberHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Subscriber, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid subscriber id")
		return nil, false
	}

	sub, err := h.store.GetSubscriber(r.Context(), id)
	if err != nil {
		respondErr(w, errs.StoreUnavailable(err, "loading subscriber"))
		return nil, false
	}
	if sub == nil {
		respondErr(w, errs.NotFound("subscriber not found"))
		return nil, false
	}
	return sub, true
}

package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Priya8975/model-webhooks/internal/domain"
	"github.com/Priya8975/model-webhooks/internal/store"
)

type EventLister interface {
	ListWebhookEvents(ctx context.Context, f store.EventFilter) ([]domain.WebhookEvent, error)
}

type DeliveryHandler struct {
	store EventLister
}

func NewDeliveryHandler(s EventLister) *DeliveryHandler {
	return &DeliveryHandler{store: s}
}

func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.EventFilter{
		Status: q.Get("status"),
		Topic:  q.Get("topic"),
		Limit:  store.DefaultEventLimit,
	}

	if v := q.Get("subscriber_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid subscriber_id")
			return
		}
		f.SubscriberID = id
	}
	switch f.Status {
	case "", domain.StatusPending, domain.StatusSuccess, domain.StatusFailure:
	default:
		respondError(w, http.StatusBadRequest, "status must be PENDING, SUCCESS or FAILURE")
		return
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}

	events, err := h.store.ListWebhookEvents(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list delivery records")
		return
	}

	respondJSON(w, http.StatusOK, events)
}

package api

import (
	"context"
	"net/http"

	"github.com/Priya8975/model-webhooks/internal/store"
)

type MetricsSource interface {
	GetDeliveryMetrics(ctx context.Context) (*store.DeliveryMetrics, error)
}

type QueueDepther interface {
	Depth(ctx context.Context) (int64, error)
}

type ClientCounter interface {
	ClientCount() int
}

type DashboardHandler struct {
	store MetricsSource
	queue QueueDepther
	hub   ClientCounter
}

func NewDashboardHandler(s MetricsSource, q QueueDepther, hub ClientCounter) *DashboardHandler {
	return &DashboardHandler{store: s, queue: q, hub: hub}
}

// Metrics returns aggregated system metrics for the dashboard.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.store.GetDeliveryMetrics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	// Redis being down should not hide the Postgres numbers.
	queueDepth, err := h.queue.Depth(r.Context())
	if err != nil {
		queueDepth = 0
	}

	type metricsResponse struct {
		store.DeliveryMetrics
		QueueDepth       int64 `json:"queue_depth"`
		WebSocketClients int   `json:"websocket_clients"`
	}

	respondJSON(w, http.StatusOK, metricsResponse{
		DeliveryMetrics:  *metrics,
		QueueDepth:       queueDepth,
		WebSocketClients: h.hub.ClientCount(),
	})
}

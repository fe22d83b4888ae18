package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/Priya8975/model-webhooks/internal/domain"
	"github.com/Priya8975/model-webhooks/internal/listener"
)

// Emitter publishes lifecycle events to the registered listeners.
type Emitter interface {
	Emit(ctx context.Context, ev listener.LifecycleEvent) (bool, error)
}

type LifecycleHandler struct {
	bus Emitter
}

func NewLifecycleHandler(bus Emitter) *LifecycleHandler {
	return &LifecycleHandler{bus: bus}
}

type lifecycleObject struct {
	ID         json.RawMessage `json:"id"`
	Attributes map[string]any  `json:"attributes"`
}

type lifecycleRequest struct {
	Model   string          `json:"model"`
	Signal  string          `json:"signal"`
	Created bool            `json:"created"`
	Object  lifecycleObject `json:"object"`
}

type lifecycleResponse struct {
	Model   string `json:"model"`
	Signal  string `json:"signal"`
	Matched bool   `json:"matched"`
}

// Create accepts a lifecycle event and runs it through the bus. Deliveries
// happen asynchronously, so success is 202.
func (h *LifecycleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Model == "" {
		respondError(w, http.StatusBadRequest, "model is required")
		return
	}
	signal, err := listener.ParseSignal(req.Signal)
	if err != nil {
		respondErr(w, err)
		return
	}
	id, ok := objectID(req.Object.ID)
	if !ok {
		respondError(w, http.StatusBadRequest, "object.id must be a string or number")
		return
	}

	handled, err := h.bus.Emit(r.Context(), listener.LifecycleEvent{
		Model:   req.Model,
		Signal:  signal,
		Created: req.Created,
		Subject: domain.Object{
			ModelName:  req.Model,
			ID:         id,
			Attributes: req.Object.Attributes,
		},
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, lifecycleResponse{
		Model:   req.Model,
		Signal:  string(signal),
		Matched: handled,
	})
}

// objectID accepts a JSON string or number and returns its text form.
func objectID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

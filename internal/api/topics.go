package api

import (
	"context"
	"net/http"

	"github.com/Priya8975/model-webhooks/internal/domain"
	"github.com/Priya8975/model-webhooks/internal/topic"
	"github.com/go-chi/chi/v5"
)

// RecipientMatcher resolves the subscribers of a topic.
type RecipientMatcher interface {
	Match(ctx context.Context, topic string, subject domain.Subject) ([]domain.Recipient, error)
}

type TopicHandler struct {
	matcher RecipientMatcher
}

func NewTopicHandler(m RecipientMatcher) *TopicHandler {
	return &TopicHandler{matcher: m}
}

type topicSubscribersResponse struct {
	Topic       string             `json:"topic"`
	DisplayName string             `json:"display_name"`
	Count       int                `json:"count"`
	Recipients  []domain.Recipient `json:"recipients"`
}

// Subscribers lists every active subscriber of a topic without applying
// filters.
func (h *TopicHandler) Subscribers(w http.ResponseWriter, r *http.Request) {
	t := chi.URLParam(r, "model") + "/" + chi.URLParam(r, "action")
	if _, _, err := topic.Parse(t); err != nil {
		respondErr(w, err)
		return
	}

	recipients, err := h.matcher.Match(r.Context(), t, nil)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, topicSubscribersResponse{
		Topic:       t,
		DisplayName: topic.DisplayName(t),
		Count:       len(recipients),
		Recipients:  recipients,
	})
}

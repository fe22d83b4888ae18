package domain

import (
	"encoding/json"
	"time"
)

// Delivery record statuses.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// WebhookEvent is one delivery record. Rows are appended per dispatch attempt.
type WebhookEvent struct {
	ID           int64           `json:"id"`
	SubscriberID *int64          `json:"subscriber_id,omitempty"`
	Object       json.RawMessage `json:"object"`
	ObjectType   string          `json:"object_type,omitempty"`
	Topic        string          `json:"topic,omitempty"`
	URL          string          `json:"url"`
	Status       string          `json:"status"`
	Attempt      int             `json:"attempt"`
	StatusCode   *int            `json:"status_code,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

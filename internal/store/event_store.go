package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Priya8975/model-webhooks/internal/domain"
)

const (
	DefaultEventLimit = 50
	MaxEventLimit     = 500
)

// EventFilter narrows ListWebhookEvents. Zero values match everything.
type EventFilter struct {
	SubscriberID int64
	Status       string
	Topic        string
	Limit        int
}

// CreateWebhookEvent inserts a delivery record and fills in its id and
// creation time.
func (s *PostgresStore) CreateWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	object := ev.Object
	if len(object) == 0 {
		object = []byte("{}")
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (subscriber_id, object, object_type, topic, url, status, attempt, status_code, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, ev.SubscriberID, object, ev.ObjectType, ev.Topic, ev.URL, ev.Status, ev.Attempt, ev.StatusCode, ev.Error,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting webhook event: %w", err)
	}
	return nil
}

// FinishWebhookEvent records the outcome of a PENDING delivery record.
func (s *PostgresStore) FinishWebhookEvent(ctx context.Context, id int64, status string, statusCode *int, errMsg *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_events SET status = $2, status_code = $3, error = $4
		WHERE id = $1
	`, id, status, statusCode, errMsg)
	if err != nil {
		return fmt.Errorf("updating webhook event: %w", err)
	}
	return nil
}

// ListWebhookEvents returns delivery records, newest first.
func (s *PostgresStore) ListWebhookEvents(ctx context.Context, f EventFilter) ([]domain.WebhookEvent, error) {
	query := `SELECT id, subscriber_id, object, object_type, topic, url, status, attempt, status_code, error, created_at FROM webhook_events`
	var (
		conditions []string
		args       []any
	)
	if f.SubscriberID != 0 {
		args = append(args, f.SubscriberID)
		conditions = append(conditions, fmt.Sprintf("subscriber_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Topic != "" {
		args = append(args, f.Topic)
		conditions = append(conditions, fmt.Sprintf("topic = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit := f.Limit
	switch {
	case limit <= 0:
		limit = DefaultEventLimit
	case limit > MaxEventLimit:
		limit = MaxEventLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying webhook events: %w", err)
	}
	defer rows.Close()

	events := []domain.WebhookEvent{}
	for rows.Next() {
		var ev domain.WebhookEvent
		err := rows.Scan(
			&ev.ID, &ev.SubscriberID, &ev.Object, &ev.ObjectType, &ev.Topic, &ev.URL,
			&ev.Status, &ev.Attempt, &ev.StatusCode, &ev.Error, &ev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhook events: %w", err)
	}
	return events, nil
}

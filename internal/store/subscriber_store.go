package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Priya8975/model-webhooks/internal/domain"
)

const subscriberColumns = `
	s.id, s.uuid, s.name, s.url, s.active, s.filters, s.created_at, s.updated_at,
	COALESCE(
		(SELECT array_agg(t.name ORDER BY t.name)
		 FROM subscriber_topics st JOIN topics t ON t.id = st.topic_id
		 WHERE st.subscriber_id = s.id),
		'{}'
	) AS topics`

func scanSubscriber(row pgx.Row) (*domain.Subscriber, error) {
	var (
		sub     domain.Subscriber
		filters []byte
	)
	err := row.Scan(
		&sub.ID, &sub.UUID, &sub.Name, &sub.URL, &sub.Active, &filters,
		&sub.CreatedAt, &sub.UpdatedAt, &sub.Topics,
	)
	if err != nil {
		return nil, err
	}
	if len(filters) > 0 {
		// A bad record only affects its own subscriber; the rest of the
		// topic keeps matching.
		if err := json.Unmarshal(filters, &sub.Filters); err != nil {
			sub.Filters = nil
			sub.FiltersInvalid = true
		}
	}
	if len(sub.Filters) == 0 {
		sub.Filters = nil
	}
	return &sub, nil
}

// ListActiveSubscribersForTopic returns every active subscriber whose topic
// set contains topicName, with filters attached and unapplied.
func (s *PostgresStore) ListActiveSubscribersForTopic(ctx context.Context, topicName string) ([]domain.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriberColumns+`
		FROM subscribers s
		WHERE s.active
		  AND EXISTS (
			SELECT 1 FROM subscriber_topics st
			JOIN topics t ON t.id = st.topic_id
			WHERE st.subscriber_id = s.id AND t.name = $1
		  )
		ORDER BY s.id
	`, topicName)
	if err != nil {
		return nil, fmt.Errorf("querying subscribers for topic: %w", err)
	}
	defer rows.Close()

	subscribers := []domain.Subscriber{}
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subscribers = append(subscribers, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscribers: %w", err)
	}

	return subscribers, nil
}

// GetSubscriber returns nil, nil when no subscriber has the id.
func (s *PostgresStore) GetSubscriber(ctx context.Context, id int64) (*domain.Subscriber, error) {
	sub, err := scanSubscriber(s.pool.QueryRow(ctx, `
		SELECT `+subscriberColumns+`
		FROM subscribers s WHERE s.id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscriber: %w", err)
	}
	return sub, nil
}

// ListSecrets returns the subscriber's secrets, newest first.
func (s *PostgresStore) ListSecrets(ctx context.Context, subscriberID int64) ([]domain.Secret, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscriber_id, token, created_at
		FROM subscriber_secrets
		WHERE subscriber_id = $1
		ORDER BY created_at DESC, id DESC
	`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("querying secrets: %w", err)
	}
	defer rows.Close()

	var secrets []domain.Secret
	for rows.Next() {
		var sec domain.Secret
		if err := rows.Scan(&sec.ID, &sec.SubscriberID, &sec.Token, &sec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning secret: %w", err)
		}
		secrets = append(secrets, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating secrets: %w", err)
	}
	return secrets, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/model-webhooks/internal/topic"
)

func (s *PostgresStore) ListTopics(ctx context.Context) ([]topic.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, display_name FROM topics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying topics: %w", err)
	}
	defer rows.Close()

	var records []topic.Record
	for rows.Next() {
		var rec topic.Record
		if err := rows.Scan(&rec.Name, &rec.DisplayName); err != nil {
			return nil, fmt.Errorf("scanning topic: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteTopicsExcept removes every topic not named in keep. Subscriptions to
// removed topics cascade.
func (s *PostgresStore) DeleteTopicsExcept(ctx context.Context, keep []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM topics WHERE NOT (name = ANY($1))`, keep)
	if err != nil {
		return 0, fmt.Errorf("deleting topics: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CreateTopic(ctx context.Context, rec topic.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO topics (name, display_name) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, rec.Name, rec.DisplayName)
	if err != nil {
		return fmt.Errorf("inserting topic: %w", err)
	}
	return nil
}

var _ topic.Store = (*PostgresStore)(nil)

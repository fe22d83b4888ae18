package store

import (
	"context"
	"fmt"
)

// DeliveryMetrics holds aggregated delivery statistics.
type DeliveryMetrics struct {
	TotalDeliveries   int     `json:"total_deliveries"`
	PendingCount      int     `json:"pending_count"`
	SuccessCount      int     `json:"success_count"`
	FailureCount      int     `json:"failure_count"`
	SuccessRate       float64 `json:"success_rate"`
	ActiveSubscribers int     `json:"active_subscribers"`
	Topics            int     `json:"topics"`
}

// GetDeliveryMetrics aggregates delivery records by status.
func (s *PostgresStore) GetDeliveryMetrics(ctx context.Context) (*DeliveryMetrics, error) {
	var m DeliveryMetrics

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'PENDING') AS pending,
			COUNT(*) FILTER (WHERE status = 'SUCCESS') AS success,
			COUNT(*) FILTER (WHERE status = 'FAILURE') AS failure
		FROM webhook_events
	`).Scan(&m.TotalDeliveries, &m.PendingCount, &m.SuccessCount, &m.FailureCount)
	if err != nil {
		return nil, fmt.Errorf("querying delivery metrics: %w", err)
	}

	if finished := m.SuccessCount + m.FailureCount; finished > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(finished) * 100
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM subscribers WHERE active),
			(SELECT COUNT(*) FROM topics)
	`).Scan(&m.ActiveSubscribers, &m.Topics)
	if err != nil {
		return nil, fmt.Errorf("querying subscriber counts: %w", err)
	}

	return &m, nil
}

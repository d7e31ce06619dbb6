package store

import (
	"context"
	"fmt"
)

// DeliveryMetrics holds aggregated delivery statistics for one tenant.
type DeliveryMetrics struct {
	TotalDeliveries     int     `json:"total_deliveries"`
	SucceededCount      int     `json:"succeeded_count"`
	PendingCount        int     `json:"pending_count"`
	RetryingCount       int     `json:"retrying_count"`
	AbandonedCount      int     `json:"abandoned_count"`
	SuccessRate         float64 `json:"success_rate"`
	AvgResponseMs       float64 `json:"avg_response_ms"`
	ActiveSubscriptions int     `json:"active_subscriptions"`
}

func (m *DeliveryMetrics) computeRate() {
	if m.TotalDeliveries > 0 {
		m.SuccessRate = float64(m.SucceededCount) / float64(m.TotalDeliveries) * 100
	}
}

// GetDeliveryMetrics returns aggregated delivery statistics from the database.
func (s *PostgresStore) GetDeliveryMetrics(ctx context.Context, ownerID string) (*DeliveryMetrics, error) {
	var m DeliveryMetrics

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE d.state = 'SUCCEEDED') AS succeeded,
			COUNT(*) FILTER (WHERE d.state = 'PENDING') AS pending,
			COUNT(*) FILTER (WHERE d.state = 'RETRYING') AS retrying,
			COUNT(*) FILTER (WHERE d.state = 'ABANDONED') AS abandoned,
			COALESCE(AVG(d.response_time_ms) FILTER (WHERE d.response_time_ms > 0), 0) AS avg_response_ms
		FROM webhook_deliveries d
		JOIN webhook_subscriptions s ON s.id = d.subscription_id
		WHERE s.owner_id = $1
	`, ownerID).Scan(&m.TotalDeliveries, &m.SucceededCount, &m.PendingCount,
		&m.RetryingCount, &m.AbandonedCount, &m.AvgResponseMs)
	if err != nil {
		return nil, fmt.Errorf("querying delivery metrics: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM webhook_subscriptions WHERE owner_id = $1 AND active = TRUE
	`, ownerID).Scan(&m.ActiveSubscriptions)
	if err != nil {
		return nil, fmt.Errorf("querying active subscriptions: %w", err)
	}

	m.computeRate()
	return &m, nil
}

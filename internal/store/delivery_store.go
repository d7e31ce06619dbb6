package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const deliveryColumns = `id, subscription_id, event, payload, response_body, status_code, success,
	attempts, next_retry, state, error_message, response_time_ms, claimed_until, created_at, updated_at`

func scanDelivery(row pgx.Row) (*domain.WebhookDelivery, error) {
	var d domain.WebhookDelivery
	err := row.Scan(
		&d.ID, &d.SubscriptionID, &d.Event, &d.Payload, &d.ResponseBody,
		&d.StatusCode, &d.Success, &d.Attempts, &d.NextRetry, &d.State,
		&d.ErrorMessage, &d.ResponseTimeMs, &d.ClaimedUntil, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDelivery inserts a delivery record for a first attempt.
func (s *PostgresStore) CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event, payload, response_body, status_code,
			success, attempts, next_retry, state, error_message, response_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, d.ID, d.SubscriptionID, d.Event, d.Payload, d.ResponseBody, d.StatusCode,
		d.Success, d.Attempts, d.NextRetry, d.State, d.ErrorMessage, d.ResponseTimeMs,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDelivery(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	d, err := scanDelivery(s.pool.QueryRow(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries returns the newest deliveries of a subscription, optionally
// filtered by state.
func (s *PostgresStore) ListDeliveries(ctx context.Context, subscriptionID, state string, limit int) ([]domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE subscription_id = $1`
	args := []any{subscriptionID}
	argIdx := 2

	if state != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, state)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []domain.WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		deliveries = append(deliveries, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deliveries: %w", err)
	}

	return deliveries, nil
}

// ClaimDueDeliveries leases a batch of due deliveries in one statement. The
// inner SELECT uses SKIP LOCKED so concurrent sweepers split the work instead
// of blocking on each other. Rows of inactive subscriptions are never leased;
// the sweeper re-checks active per row for subscriptions disabled after the
// claim, and only those show up as skipped.
func (s *PostgresStore) ClaimDueDeliveries(ctx context.Context, now time.Time, limit, maxAttempts int, lease time.Duration) ([]domain.WebhookDelivery, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT d.id
			FROM webhook_deliveries d
			JOIN webhook_subscriptions s ON s.id = d.subscription_id
			WHERE d.success = FALSE
			  AND d.attempts < $1
			  AND d.next_retry IS NOT NULL
			  AND d.next_retry <= $2
			  AND (d.claimed_until IS NULL OR d.claimed_until <= $2)
			  AND s.active = TRUE
			ORDER BY d.next_retry, d.created_at
			LIMIT $3
			FOR UPDATE OF d SKIP LOCKED
		)
		UPDATE webhook_deliveries w
		SET claimed_until = $4, updated_at = $2
		FROM due
		WHERE w.id = due.id
		RETURNING w.id, w.subscription_id, w.event, w.payload, w.response_body, w.status_code, w.success,
			w.attempts, w.next_retry, w.state, w.error_message, w.response_time_ms, w.claimed_until,
			w.created_at, w.updated_at
	`, maxAttempts, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claiming due deliveries: %w", err)
	}
	defer rows.Close()

	claimed := []domain.WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claimed delivery: %w", err)
		}
		claimed = append(claimed, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating claimed deliveries: %w", err)
	}

	// RETURNING does not preserve the CTE's order.
	sortDue(claimed)
	return claimed, nil
}

func sortDue(ds []domain.WebhookDelivery) {
	sort.SliceStable(ds, func(i, j int) bool {
		a, b := ds[i], ds[j]
		if !a.NextRetry.Equal(*b.NextRetry) {
			return a.NextRetry.Before(*b.NextRetry)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (s *PostgresStore) UpdateDeliveryAttempt(ctx context.Context, d *domain.WebhookDelivery) error {
	err := s.pool.QueryRow(ctx, `
		UPDATE webhook_deliveries
		SET attempts = $2, status_code = $3, response_body = $4, success = $5,
			next_retry = $6, state = $7, error_message = $8, response_time_ms = $9,
			claimed_until = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, d.ID, d.Attempts, d.StatusCode, d.ResponseBody, d.Success,
		d.NextRetry, d.State, d.ErrorMessage, d.ResponseTimeMs,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("updating delivery: %w", err)
	}
	d.ClaimedUntil = nil
	return nil
}

func (s *PostgresStore) ReleaseDelivery(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET claimed_until = NULL WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("releasing delivery: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequeueDelivery(ctx context.Context, ownerID, id string, now time.Time) (*domain.WebhookDelivery, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	// The lease is left untouched: a row a sweep is retrying must not become
	// claimable by a second sweep.
	d, err := scanDelivery(s.pool.QueryRow(ctx, `
		UPDATE webhook_deliveries d
		SET next_retry = $3, updated_at = NOW()
		FROM webhook_subscriptions s
		WHERE d.id = $1
		  AND s.id = d.subscription_id
		  AND s.owner_id = $2
		  AND d.success = FALSE
		  AND d.attempts < $4
		  AND (d.claimed_until IS NULL OR d.claimed_until <= $3)
		RETURNING d.id, d.subscription_id, d.event, d.payload, d.response_body, d.status_code, d.success,
			d.attempts, d.next_retry, d.state, d.error_message, d.response_time_ms, d.claimed_until,
			d.created_at, d.updated_at
	`, id, ownerID, now, domain.MaxDeliveryAttempts))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("requeueing delivery: %w", err)
	}

	// Tell a leased row apart from a missing or terminal one.
	var inFlight bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM webhook_deliveries d
			JOIN webhook_subscriptions s ON s.id = d.subscription_id
			WHERE d.id = $1
			  AND s.owner_id = $2
			  AND d.success = FALSE
			  AND d.attempts < $4
			  AND d.claimed_until > $3
		)
	`, id, ownerID, now, domain.MaxDeliveryAttempts).Scan(&inFlight)
	if err != nil {
		return nil, fmt.Errorf("checking delivery lease: %w", err)
	}
	if inFlight {
		return nil, ErrDeliveryInFlight
	}
	return nil, ErrNotFound
}

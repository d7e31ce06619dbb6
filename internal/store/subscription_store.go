package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id, owner_id, url, secret, events, active, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.WebhookSubscription, error) {
	var sub domain.WebhookSubscription
	err := row.Scan(
		&sub.ID, &sub.OwnerID, &sub.URL, &sub.Secret,
		&sub.Events, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_subscriptions (id, owner_id, url, secret, events, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, sub.ID, sub.OwnerID, sub.URL, sub.Secret, sub.Events, sub.Active).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id string) (*domain.WebhookSubscription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, ownerID string) ([]domain.WebhookSubscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
}

func (s *PostgresStore) FindMatchingSubscriptions(ctx context.Context, ownerID, event string) ([]domain.WebhookSubscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE owner_id = $1
		  AND active = TRUE
		  AND $2 = ANY(events)
		ORDER BY created_at
	`, ownerID, event)
}

func (s *PostgresStore) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.WebhookSubscription, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.WebhookSubscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}

	return subs, nil
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, ownerID, id string, req domain.UpdateSubscriptionRequest) (*domain.WebhookSubscription, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	// Build dynamic update query
	setClauses := []string{}
	args := []any{}
	argIdx := 1

	if req.URL != nil {
		setClauses = append(setClauses, fmt.Sprintf("url = $%d", argIdx))
		args = append(args, *req.URL)
		argIdx++
	}
	if req.Events != nil {
		setClauses = append(setClauses, fmt.Sprintf("events = $%d", argIdx))
		args = append(args, req.Events)
		argIdx++
	}
	if req.Active != nil {
		setClauses = append(setClauses, fmt.Sprintf("active = $%d", argIdx))
		args = append(args, *req.Active)
		argIdx++
	}

	if len(setClauses) == 0 {
		sub, err := s.GetSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		if sub.OwnerID != ownerID {
			return nil, ErrNotFound
		}
		return sub, nil
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE webhook_subscriptions SET %s
		WHERE id = $%d AND owner_id = $%d
		RETURNING %s
	`, strings.Join(setClauses, ", "), argIdx, argIdx+1, subscriptionColumns)
	args = append(args, id, ownerID)

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating subscription: %w", err)
	}

	return sub, nil
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, ownerID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	result, err := s.pool.Exec(ctx, `
		DELETE FROM webhook_subscriptions WHERE id = $1 AND owner_id = $2
	`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetSubscriptionActive(ctx context.Context, id string, active bool) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE webhook_subscriptions SET active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("setting subscription active: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

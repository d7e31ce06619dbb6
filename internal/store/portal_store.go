package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *PostgresStore) GetBillingSubscription(ctx context.Context, ownerID string) (*domain.BillingSubscription, error) {
	var b domain.BillingSubscription
	err := s.pool.QueryRow(ctx, `
		SELECT owner_id, plan_id, status, updated_at
		FROM billing_subscriptions WHERE owner_id = $1
	`, ownerID).Scan(&b.OwnerID, &b.PlanID, &b.Status, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying billing subscription: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) UpsertBillingSubscription(ctx context.Context, b *domain.BillingSubscription) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO billing_subscriptions (owner_id, plan_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_id) DO UPDATE
		SET plan_id = EXCLUDED.plan_id, status = EXCLUDED.status, updated_at = NOW()
		RETURNING updated_at
	`, b.OwnerID, b.PlanID, b.Status).Scan(&b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting billing subscription: %w", err)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func countActiveRequests(ctx context.Context, q querier, ownerID string) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM service_requests
		WHERE owner_id = $1 AND status = ANY($2)
	`, ownerID, domain.ActiveRequestStatuses).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active requests: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountActiveRequests(ctx context.Context, ownerID string) (int, error) {
	return countActiveRequests(ctx, s.pool, ownerID)
}

// lockOwner serialises quota-checked writes for one tenant until tx ends.
func lockOwner(ctx context.Context, tx pgx.Tx, scope, ownerID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope+":"+ownerID)
	if err != nil {
		return fmt.Errorf("locking %s for %s: %w", scope, ownerID, err)
	}
	return nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, r *domain.ServiceRequest, guard func(activeCount int) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockOwner(ctx, tx, "requests", r.OwnerID); err != nil {
		return err
	}

	if guard != nil {
		active, err := countActiveRequests(ctx, tx, r.OwnerID)
		if err != nil {
			return err
		}
		if err := guard(active); err != nil {
			return err
		}
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = domain.RequestSubmitted
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO service_requests (id, owner_id, title, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, r.ID, r.OwnerID, r.Title, r.Description, r.Status).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, ownerID string) ([]domain.ServiceRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, title, description, status, created_at, updated_at
		FROM service_requests
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	defer rows.Close()

	requests := []domain.ServiceRequest{}
	for rows.Next() {
		var r domain.ServiceRequest
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Title, &r.Description, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		requests = append(requests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating requests: %w", err)
	}
	return requests, nil
}

func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, ownerID, id, status string) (*domain.ServiceRequest, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var r domain.ServiceRequest
	err := s.pool.QueryRow(ctx, `
		UPDATE service_requests SET status = $3, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
		RETURNING id, owner_id, title, description, status, created_at, updated_at
	`, id, ownerID, status).Scan(&r.ID, &r.OwnerID, &r.Title, &r.Description, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating request status: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) CreateMeeting(ctx context.Context, m *domain.Meeting) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO meetings (id, owner_id, type, scheduled_at, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, m.ID, m.OwnerID, m.Type, m.ScheduledAt, m.Notes).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting meeting: %w", err)
	}
	return nil
}

func countSeats(ctx context.Context, q querier, ownerID string) (int, error) {
	var members int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM team_members WHERE owner_id = $1`, ownerID).Scan(&members)
	if err != nil {
		return 0, fmt.Errorf("counting team members: %w", err)
	}
	// The account owner always holds a seat.
	return members + 1, nil
}

func (s *PostgresStore) CountSeats(ctx context.Context, ownerID string) (int, error) {
	return countSeats(ctx, s.pool, ownerID)
}

func (s *PostgresStore) CreateInvite(ctx context.Context, inv *domain.TeamInvite) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO team_invites (id, owner_id, email, role, token)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, inv.ID, inv.OwnerID, inv.Email, inv.Role, inv.Token).Scan(&inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, token string) (*domain.TeamInvite, error) {
	var inv domain.TeamInvite
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, email, role, token, accepted_at, created_at
		FROM team_invites WHERE token = $1
	`, token).Scan(&inv.ID, &inv.OwnerID, &inv.Email, &inv.Role, &inv.Token, &inv.AcceptedAt, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying invite: %w", err)
	}
	return &inv, nil
}

func (s *PostgresStore) AcceptInvite(ctx context.Context, token, userID string, guard func(seatsInUse int) error) (*domain.TeamMember, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var inv domain.TeamInvite
	err = tx.QueryRow(ctx, `
		SELECT id, owner_id, email, role, accepted_at
		FROM team_invites WHERE token = $1
		FOR UPDATE
	`, token).Scan(&inv.ID, &inv.OwnerID, &inv.Email, &inv.Role, &inv.AcceptedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying invite: %w", err)
	}
	if inv.AcceptedAt != nil {
		return nil, ErrInviteUsed
	}

	if err := lockOwner(ctx, tx, "seats", inv.OwnerID); err != nil {
		return nil, err
	}

	var member bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM team_members WHERE owner_id = $1 AND user_id = $2)
	`, inv.OwnerID, userID).Scan(&member)
	if err != nil {
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	if member {
		return nil, ErrAlreadyMember
	}

	if guard != nil {
		seats, err := countSeats(ctx, tx, inv.OwnerID)
		if err != nil {
			return nil, err
		}
		if err := guard(seats); err != nil {
			return nil, err
		}
	}

	tm := &domain.TeamMember{
		ID:      uuid.NewString(),
		OwnerID: inv.OwnerID,
		UserID:  userID,
		Email:   inv.Email,
		Role:    inv.Role,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO team_members (id, owner_id, user_id, email, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, tm.ID, tm.OwnerID, tm.UserID, tm.Email, tm.Role).Scan(&tm.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting team member: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE team_invites SET accepted_at = $2 WHERE id = $1`, inv.ID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("marking invite accepted: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return tm, nil
}

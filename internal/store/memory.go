package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and by the server when no
// DATABASE_URL is configured. Values are copied in and out so callers never
// share state with the store.
type Memory struct {
	mu            sync.Mutex
	subscriptions map[string]*domain.WebhookSubscription
	deliveries    map[string]*domain.WebhookDelivery
	billing       map[string]*domain.BillingSubscription
	requests      map[string]*domain.ServiceRequest
	meetings      map[string]*domain.Meeting
	members       map[string]*domain.TeamMember
	invites       map[string]*domain.TeamInvite
	now           func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		subscriptions: make(map[string]*domain.WebhookSubscription),
		deliveries:    make(map[string]*domain.WebhookDelivery),
		billing:       make(map[string]*domain.BillingSubscription),
		requests:      make(map[string]*domain.ServiceRequest),
		meetings:      make(map[string]*domain.Meeting),
		members:       make(map[string]*domain.TeamMember),
		invites:       make(map[string]*domain.TeamInvite),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func copySubscription(s *domain.WebhookSubscription) domain.WebhookSubscription {
	c := *s
	c.Events = slices.Clone(s.Events)
	return c
}

func copyDelivery(d *domain.WebhookDelivery) domain.WebhookDelivery {
	c := *d
	c.ResponseBody = clonePtr(d.ResponseBody)
	c.StatusCode = clonePtr(d.StatusCode)
	c.NextRetry = clonePtr(d.NextRetry)
	c.ErrorMessage = clonePtr(d.ErrorMessage)
	c.ClaimedUntil = clonePtr(d.ClaimedUntil)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Subscriptions

func (m *Memory) CreateSubscription(ctx context.Context, sub *domain.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := m.now()
	sub.CreatedAt, sub.UpdatedAt = now, now
	c := copySubscription(sub)
	m.subscriptions[sub.ID] = &c
	return nil
}

func (m *Memory) GetSubscription(ctx context.Context, id string) (*domain.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := copySubscription(s)
	return &c, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, ownerID string) ([]domain.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.WebhookSubscription{}
	for _, s := range m.subscriptions {
		if s.OwnerID == ownerID {
			out = append(out, copySubscription(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) FindMatchingSubscriptions(ctx context.Context, ownerID, event string) ([]domain.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.WebhookSubscription{}
	for _, s := range m.subscriptions {
		if s.OwnerID == ownerID && s.Active && s.Subscribes(event) {
			out = append(out, copySubscription(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateSubscription(ctx context.Context, ownerID, id string, req domain.UpdateSubscriptionRequest) (*domain.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[id]
	if !ok || s.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if req.URL != nil {
		s.URL = *req.URL
	}
	if req.Events != nil {
		s.Events = slices.Clone(req.Events)
	}
	if req.Active != nil {
		s.Active = *req.Active
	}
	s.UpdatedAt = m.now()
	c := copySubscription(s)
	return &c, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, ownerID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[id]
	if !ok || s.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.subscriptions, id)
	for did, d := range m.deliveries {
		if d.SubscriptionID == id {
			delete(m.deliveries, did)
		}
	}
	return nil
}

func (m *Memory) SetSubscriptionActive(ctx context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subscriptions[id]
	if !ok {
		return ErrNotFound
	}
	s.Active = active
	s.UpdatedAt = m.now()
	return nil
}

// Deliveries

func (m *Memory) CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := m.now()
	d.CreatedAt, d.UpdatedAt = now, now
	c := copyDelivery(d)
	m.deliveries[d.ID] = &c
	return nil
}

func (m *Memory) GetDelivery(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyDelivery(d)
	return &c, nil
}

func (m *Memory) ListDeliveries(ctx context.Context, subscriptionID, state string, limit int) ([]domain.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.WebhookDelivery{}
	for _, d := range m.deliveries {
		if d.SubscriptionID != subscriptionID {
			continue
		}
		if state != "" && d.State != state {
			continue
		}
		out = append(out, copyDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ClaimDueDeliveries(ctx context.Context, now time.Time, limit, maxAttempts int, lease time.Duration) ([]domain.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := []*domain.WebhookDelivery{}
	for _, d := range m.deliveries {
		if d.Success || d.Attempts >= maxAttempts || d.NextRetry == nil || d.NextRetry.After(now) {
			continue
		}
		if d.ClaimedUntil != nil && d.ClaimedUntil.After(now) {
			continue
		}
		// Inactive subscriptions are filtered here too, matching the SQL claim.
		if s, ok := m.subscriptions[d.SubscriptionID]; !ok || !s.Active {
			continue
		}
		due = append(due, d)
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextRetry.Equal(*due[j].NextRetry) {
			return due[i].NextRetry.Before(*due[j].NextRetry)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)
	out := make([]domain.WebhookDelivery, 0, len(due))
	for _, d := range due {
		d.ClaimedUntil = &until
		d.UpdatedAt = now
		out = append(out, copyDelivery(d))
	}
	return out, nil
}

func (m *Memory) UpdateDeliveryAttempt(ctx context.Context, d *domain.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.deliveries[d.ID]
	if !ok {
		return ErrNotFound
	}
	d.ClaimedUntil = nil
	d.UpdatedAt = m.now()
	c := copyDelivery(d)
	c.CreatedAt = cur.CreatedAt
	m.deliveries[d.ID] = &c
	return nil
}

func (m *Memory) ReleaseDelivery(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.deliveries[id]; ok {
		d.ClaimedUntil = nil
	}
	return nil
}

func (m *Memory) RequeueDelivery(ctx context.Context, ownerID, id string, now time.Time) (*domain.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := m.subscriptions[d.SubscriptionID]
	if !ok || s.OwnerID != ownerID || !d.Retryable() {
		return nil, ErrNotFound
	}
	if d.ClaimedUntil != nil && d.ClaimedUntil.After(now) {
		return nil, ErrDeliveryInFlight
	}
	next := now
	d.NextRetry = &next
	d.UpdatedAt = m.now()
	c := copyDelivery(d)
	return &c, nil
}

func (m *Memory) GetDeliveryMetrics(ctx context.Context, ownerID string) (*DeliveryMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var metrics DeliveryMetrics
	var totalMs, timed int
	for _, d := range m.deliveries {
		s, ok := m.subscriptions[d.SubscriptionID]
		if !ok || s.OwnerID != ownerID {
			continue
		}
		metrics.TotalDeliveries++
		switch d.State {
		case domain.DeliverySucceeded:
			metrics.SucceededCount++
		case domain.DeliveryPending:
			metrics.PendingCount++
		case domain.DeliveryRetrying:
			metrics.RetryingCount++
		case domain.DeliveryAbandoned:
			metrics.AbandonedCount++
		}
		if d.ResponseTimeMs > 0 {
			totalMs += d.ResponseTimeMs
			timed++
		}
	}
	if timed > 0 {
		metrics.AvgResponseMs = float64(totalMs) / float64(timed)
	}
	for _, s := range m.subscriptions {
		if s.OwnerID == ownerID && s.Active {
			metrics.ActiveSubscriptions++
		}
	}
	metrics.computeRate()
	return &metrics, nil
}

// Portal

func (m *Memory) GetBillingSubscription(ctx context.Context, ownerID string) (*domain.BillingSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.billing[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *b
	return &c, nil
}

func (m *Memory) UpsertBillingSubscription(ctx context.Context, b *domain.BillingSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b.UpdatedAt = m.now()
	c := *b
	m.billing[b.OwnerID] = &c
	return nil
}

func (m *Memory) countActiveRequestsLocked(ownerID string) int {
	n := 0
	for _, r := range m.requests {
		if r.OwnerID == ownerID && domain.IsActiveRequestStatus(r.Status) {
			n++
		}
	}
	return n
}

func (m *Memory) CountActiveRequests(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countActiveRequestsLocked(ownerID), nil
}

func (m *Memory) CreateRequest(ctx context.Context, r *domain.ServiceRequest, guard func(activeCount int) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if guard != nil {
		if err := guard(m.countActiveRequestsLocked(r.OwnerID)); err != nil {
			return err
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = domain.RequestSubmitted
	}
	now := m.now()
	r.CreatedAt, r.UpdatedAt = now, now
	c := *r
	m.requests[r.ID] = &c
	return nil
}

func (m *Memory) ListRequests(ctx context.Context, ownerID string) ([]domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.ServiceRequest{}
	for _, r := range m.requests {
		if r.OwnerID == ownerID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateRequestStatus(ctx context.Context, ownerID, id, status string) (*domain.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok || r.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = m.now()
	c := *r
	return &c, nil
}

func (m *Memory) CreateMeeting(ctx context.Context, mt *domain.Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mt.ID == "" {
		mt.ID = uuid.NewString()
	}
	mt.CreatedAt = m.now()
	c := *mt
	m.meetings[mt.ID] = &c
	return nil
}

func (m *Memory) countSeatsLocked(ownerID string) int {
	n := 1
	for _, mem := range m.members {
		if mem.OwnerID == ownerID {
			n++
		}
	}
	return n
}

func (m *Memory) CountSeats(ctx context.Context, ownerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countSeatsLocked(ownerID), nil
}

func (m *Memory) CreateInvite(ctx context.Context, inv *domain.TeamInvite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	inv.CreatedAt = m.now()
	c := *inv
	m.invites[inv.Token] = &c
	return nil
}

func (m *Memory) GetInvite(ctx context.Context, token string) (*domain.TeamInvite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invites[token]
	if !ok {
		return nil, ErrNotFound
	}
	c := *inv
	c.AcceptedAt = clonePtr(inv.AcceptedAt)
	return &c, nil
}

func (m *Memory) AcceptInvite(ctx context.Context, token, userID string, guard func(seatsInUse int) error) (*domain.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invites[token]
	if !ok {
		return nil, ErrNotFound
	}
	if inv.AcceptedAt != nil {
		return nil, ErrInviteUsed
	}
	for _, mem := range m.members {
		if mem.OwnerID == inv.OwnerID && mem.UserID == userID {
			return nil, ErrAlreadyMember
		}
	}
	if guard != nil {
		if err := guard(m.countSeatsLocked(inv.OwnerID)); err != nil {
			return nil, err
		}
	}

	now := m.now()
	member := &domain.TeamMember{
		ID:        uuid.NewString(),
		OwnerID:   inv.OwnerID,
		UserID:    userID,
		Email:     inv.Email,
		Role:      inv.Role,
		CreatedAt: now,
	}
	c := *member
	m.members[member.ID] = &c
	inv.AcceptedAt = &now
	return member, nil
}

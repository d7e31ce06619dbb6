package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/Priya8975/agency-portal/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sweepBase = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// statusServer answers with the next code from codes, repeating the last one.
func statusServer(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(codes) {
			n = len(codes) - 1
		}
		w.WriteHeader(codes[n])
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func seedFailedDelivery(t *testing.T, s *store.Memory, url string, nextRetry time.Time) (domain.WebhookSubscription, *domain.WebhookDelivery) {
	t.Helper()
	ctx := context.Background()

	sub := domain.WebhookSubscription{
		OwnerID: "owner-1",
		URL:     url,
		Secret:  "whsec_test",
		Events:  []string{domain.EventTaskCreated},
		Active:  true,
	}
	require.NoError(t, s.CreateSubscription(ctx, &sub))

	code := http.StatusInternalServerError
	d := &domain.WebhookDelivery{
		SubscriptionID: sub.ID,
		Event:          domain.EventTaskCreated,
		Payload:        `{"event":"task.created","timestamp":"2025-03-01T11:55:00Z","data":{"id":"t1"}}`,
		StatusCode:     &code,
		Attempts:       1,
		NextRetry:      &nextRetry,
		State:          domain.DeliveryPending,
	}
	require.NoError(t, s.CreateDelivery(ctx, d))
	return sub, d
}

func newTestSweeper(s SweepStore, clk *clock) *Sweeper {
	sw := NewSweeper(s, NewDeliverer(2*time.Second, testLogger()), SweeperConfig{}, testLogger())
	sw.Now = clk.Now
	return sw
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Minute, FirstRetryDelay)
	assert.Equal(t, 10*time.Minute, Backoff(1))
	assert.Equal(t, 20*time.Minute, Backoff(2))
	assert.Equal(t, 40*time.Minute, Backoff(3))
}

func TestSweeper_RetryCap(t *testing.T) {
	mem := store.NewMemory()
	server, calls := statusServer(t, http.StatusInternalServerError)
	clk := &clock{now: sweepBase}
	_, d := seedFailedDelivery(t, mem, server.URL, sweepBase)
	sw := newTestSweeper(mem, clk)
	ctx := context.Background()

	report := sw.RetryFailedDeliveries(ctx)
	assert.Equal(t, SweepReport{Claimed: 1, Retrying: 1}, report)

	got, err := mem.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, domain.DeliveryRetrying, got.State)
	require.NotNil(t, got.NextRetry)
	assert.Equal(t, sweepBase.Add(20*time.Minute), *got.NextRetry)

	clk.Advance(20 * time.Minute)
	report = sw.RetryFailedDeliveries(ctx)
	assert.Equal(t, SweepReport{Claimed: 1, Abandoned: 1}, report)

	got, err = mem.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxDeliveryAttempts, got.Attempts)
	assert.False(t, got.Success)
	assert.Nil(t, got.NextRetry)
	assert.Equal(t, domain.DeliveryAbandoned, got.State)

	// A further sweep far in the future changes nothing.
	clk.Advance(24 * time.Hour)
	report = sw.RetryFailedDeliveries(ctx)
	assert.Equal(t, SweepReport{}, report)

	after, err := mem.GetDelivery(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, got, after)
	assert.EqualValues(t, 2, calls.Load())
}

func TestSweeper_BackoffIsMonotonic(t *testing.T) {
	mem := store.NewMemory()
	server, _ := statusServer(t, http.StatusServiceUnavailable)
	sub, _ := seedFailedDelivery(t, mem, server.URL, sweepBase)

	first := NewDelivery(sub, domain.EventTaskCreated, []byte(`{}`), Result{Error: "boom"}, sweepBase)
	require.NotNil(t, first.NextRetry)
	firstGap := first.NextRetry.Sub(sweepBase)

	d := *first
	ApplyRetry(&d, Result{Error: "boom"}, sweepBase)
	require.NotNil(t, d.NextRetry)
	secondGap := d.NextRetry.Sub(sweepBase)

	assert.Equal(t, 5*time.Minute, firstGap)
	assert.Equal(t, 20*time.Minute, secondGap)
	assert.Greater(t, secondGap, firstGap)
}

func TestSweeper_NotYetDue(t *testing.T) {
	mem := store.NewMemory()
	server, calls := statusServer(t, http.StatusOK)
	clk := &clock{now: sweepBase}
	_, d := seedFailedDelivery(t, mem, server.URL, sweepBase.Add(time.Minute))

	report := newTestSweeper(mem, clk).RetryFailedDeliveries(context.Background())

	assert.Equal(t, SweepReport{}, report)
	assert.EqualValues(t, 0, calls.Load())
	got, _ := mem.GetDelivery(context.Background(), d.ID)
	assert.Equal(t, 1, got.Attempts)
}

func TestSweeper_SuccessClearsRetry(t *testing.T) {
	mem := store.NewMemory()
	server, _ := statusServer(t, http.StatusNoContent)
	clk := &clock{now: sweepBase}
	_, d := seedFailedDelivery(t, mem, server.URL, sweepBase)

	report := newTestSweeper(mem, clk).RetryFailedDeliveries(context.Background())
	assert.Equal(t, SweepReport{Claimed: 1, Succeeded: 1}, report)

	got, err := mem.GetDelivery(context.Background(), d.ID)
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.NextRetry)
	assert.Nil(t, got.ClaimedUntil)
	require.NotNil(t, got.StatusCode)
	assert.Equal(t, http.StatusNoContent, *got.StatusCode)
	assert.Equal(t, domain.DeliverySucceeded, got.State)
}

func TestSweeper_ResignsStoredPayload(t *testing.T) {
	mem := store.NewMemory()
	var gotBody, gotSig string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		gotSig = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	clk := &clock{now: sweepBase}
	_, d := seedFailedDelivery(t, mem, server.URL, sweepBase)

	newTestSweeper(mem, clk).RetryFailedDeliveries(context.Background())

	assert.Equal(t, d.Payload, gotBody)
	assert.True(t, Verify([]byte(gotBody), gotSig, "whsec_test"))
}

func TestSweeper_SkipsInactiveSubscription(t *testing.T) {
	mem := store.NewMemory()
	server, calls := statusServer(t, http.StatusOK)
	clk := &clock{now: sweepBase}
	sub, d := seedFailedDelivery(t, mem, server.URL, sweepBase)
	ctx := context.Background()

	require.NoError(t, mem.SetSubscriptionActive(ctx, sub.ID, false))

	report := newTestSweeper(mem, clk).RetryFailedDeliveries(ctx)

	assert.Equal(t, 0, report.Claimed)
	assert.EqualValues(t, 0, calls.Load())
	got, _ := mem.GetDelivery(ctx, d.ID)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.NextRetry)
}

// deactivatingStore turns the subscription off between claim and retry.
type deactivatingStore struct {
	*store.Memory
}

func (s deactivatingStore) ClaimDueDeliveries(ctx context.Context, now time.Time, limit, maxAttempts int, lease time.Duration) ([]domain.WebhookDelivery, error) {
	claimed, err := s.Memory.ClaimDueDeliveries(ctx, now, limit, maxAttempts, lease)
	for _, d := range claimed {
		_ = s.Memory.SetSubscriptionActive(ctx, d.SubscriptionID, false)
	}
	return claimed, err
}

func TestSweeper_RechecksActiveBeforeSending(t *testing.T) {
	mem := store.NewMemory()
	server, calls := statusServer(t, http.StatusOK)
	clk := &clock{now: sweepBase}
	_, d := seedFailedDelivery(t, mem, server.URL, sweepBase)

	report := newTestSweeper(deactivatingStore{mem}, clk).RetryFailedDeliveries(context.Background())

	assert.Equal(t, SweepReport{Claimed: 1, Skipped: 1}, report)
	assert.EqualValues(t, 0, calls.Load())
	got, _ := mem.GetDelivery(context.Background(), d.ID)
	assert.Nil(t, got.ClaimedUntil, "skipped delivery must be released")
	assert.Equal(t, 1, got.Attempts)
}

func TestSweeper_BatchLimit(t *testing.T) {
	mem := store.NewMemory()
	server, calls := statusServer(t, http.StatusOK)
	clk := &clock{now: sweepBase}
	for i := 0; i < 60; i++ {
		seedFailedDelivery(t, mem, server.URL, sweepBase)
	}

	sw := newTestSweeper(mem, clk)
	report := sw.RetryFailedDeliveries(context.Background())
	assert.Equal(t, 50, report.Claimed)
	assert.Equal(t, 50, report.Succeeded)

	report = sw.RetryFailedDeliveries(context.Background())
	assert.Equal(t, 10, report.Claimed)
	assert.EqualValues(t, 60, calls.Load())
}

func TestSweeper_ConcurrentSweepsDoNotDoubleSend(t *testing.T) {
	mem := store.NewMemory()
	server, calls := statusServer(t, http.StatusOK)
	clk := &clock{now: sweepBase}
	for i := 0; i < 20; i++ {
		seedFailedDelivery(t, mem, server.URL, sweepBase)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			newTestSweeper(mem, clk).RetryFailedDeliveries(context.Background())
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 20, calls.Load())
}

type failingUpdateStore struct {
	*store.Memory
	failID string
}

func (s failingUpdateStore) UpdateDeliveryAttempt(ctx context.Context, d *domain.WebhookDelivery) error {
	if d.ID == s.failID {
		return errors.New("connection reset")
	}
	return s.Memory.UpdateDeliveryAttempt(ctx, d)
}

func TestSweeper_OneBadRowDoesNotAbortBatch(t *testing.T) {
	mem := store.NewMemory()
	server, _ := statusServer(t, http.StatusOK)
	clk := &clock{now: sweepBase}
	_, bad := seedFailedDelivery(t, mem, server.URL, sweepBase)
	_, good := seedFailedDelivery(t, mem, server.URL, sweepBase)

	report := newTestSweeper(failingUpdateStore{Memory: mem, failID: bad.ID}, clk).RetryFailedDeliveries(context.Background())

	assert.Equal(t, 2, report.Claimed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Skipped)

	got, _ := mem.GetDelivery(context.Background(), good.ID)
	assert.True(t, got.Success)
}

type fakeLock struct {
	acquired bool
	err      error
	released atomic.Bool
}

func (l *fakeLock) Acquire(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	return func() { l.released.Store(true) }, true, nil
}

func TestSweeper_LockHeldIsNoop(t *testing.T) {
	mem := store.NewMemory()
	server, calls := statusServer(t, http.StatusOK)
	clk := &clock{now: sweepBase}
	seedFailedDelivery(t, mem, server.URL, sweepBase)

	report := newTestSweeper(mem, clk).WithLock(&fakeLock{}).RetryFailedDeliveries(context.Background())

	assert.True(t, report.LockHeld)
	assert.Equal(t, 0, report.Claimed)
	assert.EqualValues(t, 0, calls.Load())
}

func TestSweeper_LockErrorStillSweeps(t *testing.T) {
	mem := store.NewMemory()
	server, calls := statusServer(t, http.StatusOK)
	clk := &clock{now: sweepBase}
	seedFailedDelivery(t, mem, server.URL, sweepBase)

	report := newTestSweeper(mem, clk).WithLock(&fakeLock{err: errors.New("redis down")}).RetryFailedDeliveries(context.Background())

	assert.Equal(t, 1, report.Succeeded)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSweeper_ReleasesLock(t *testing.T) {
	mem := store.NewMemory()
	lock := &fakeLock{acquired: true}

	newTestSweeper(mem, &clock{now: sweepBase}).WithLock(lock).RetryFailedDeliveries(context.Background())

	assert.True(t, lock.released.Load())
}

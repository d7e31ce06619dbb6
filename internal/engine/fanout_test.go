package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Priya8975/agency-portal/internal/domain"
	"github.com/Priya8975/agency-portal/internal/store"
	"github.com/Priya8975/agency-portal/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fanoutBase = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func subscribe(t *testing.T, s *store.Memory, ownerID, url string, active bool, events ...string) domain.WebhookSubscription {
	t.Helper()
	sub := domain.WebhookSubscription{
		OwnerID: ownerID,
		URL:     url,
		Secret:  "whsec_" + ownerID,
		Events:  events,
		Active:  active,
	}
	require.NoError(t, s.CreateSubscription(context.Background(), &sub))
	return sub
}

func newTestEngine(s FanOutStore, timeout time.Duration) *FanOutEngine {
	f := NewFanOutEngine(s, worker.NewDeliverer(timeout, testLogger()), testLogger())
	f.Now = func() time.Time { return fanoutBase }
	return f
}

type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	sigs   []string
}

func (c *capture) handler(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.sigs = append(c.sigs, r.Header.Get("X-Webhook-Signature"))
		c.mu.Unlock()
		w.WriteHeader(code)
	}
}

func TestTriggerWebhooks_DeliversEnvelope(t *testing.T) {
	mem := store.NewMemory()
	c := &capture{}
	server := httptest.NewServer(c.handler(http.StatusOK))
	defer server.Close()

	sub := subscribe(t, mem, "owner-1", server.URL, true, domain.EventTaskCreated)
	f := newTestEngine(mem, 5*time.Second)

	matched := f.TriggerWebhooks(context.Background(), "owner-1", domain.EventTaskCreated, map[string]any{"id": "task-9", "title": "Logo"})
	assert.Equal(t, 1, matched)

	require.Len(t, c.bodies, 1)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(c.bodies[0], &env))
	assert.Equal(t, domain.EventTaskCreated, env.Event)
	assert.Equal(t, fanoutBase.Format(time.RFC3339Nano), env.Timestamp)
	assert.JSONEq(t, `{"id":"task-9","title":"Logo"}`, string(env.Data))
	assert.True(t, worker.Verify(c.bodies[0], c.sigs[0], sub.Secret))

	deliveries, err := mem.ListDeliveries(context.Background(), sub.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	d := deliveries[0]
	assert.True(t, d.Success)
	assert.Equal(t, 1, d.Attempts)
	assert.Nil(t, d.NextRetry)
	assert.Equal(t, domain.DeliverySucceeded, d.State)
	assert.Equal(t, string(c.bodies[0]), d.Payload, "stored payload must equal the bytes sent")
}

func TestTriggerWebhooks_OnlyMatchingActiveSubscriptionsOfTenant(t *testing.T) {
	mem := store.NewMemory()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	subscribe(t, mem, "owner-1", server.URL, true, domain.EventInvoicePaid, domain.EventInvoiceSent)
	subscribe(t, mem, "owner-1", server.URL, true, domain.EventTaskCreated)
	subscribe(t, mem, "owner-1", server.URL, false, domain.EventInvoicePaid)
	subscribe(t, mem, "owner-2", server.URL, true, domain.EventInvoicePaid)

	matched := newTestEngine(mem, 5*time.Second).TriggerWebhooks(context.Background(), "owner-1", domain.EventInvoicePaid, nil)

	assert.Equal(t, 1, matched)
	assert.EqualValues(t, 1, calls.Load())
}

func TestTriggerWebhooks_NoMatchIsNoop(t *testing.T) {
	mem := store.NewMemory()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	sub := subscribe(t, mem, "owner-1", server.URL, true, domain.EventTaskCreated)

	matched := newTestEngine(mem, 5*time.Second).TriggerWebhooks(context.Background(), "owner-1", domain.EventContractSigned, map[string]string{"id": "c1"})

	assert.Equal(t, 0, matched)
	assert.EqualValues(t, 0, calls.Load())
	deliveries, _ := mem.ListDeliveries(context.Background(), sub.ID, "", 0)
	assert.Empty(t, deliveries)
}

func TestTriggerWebhooks_FanOutIsolation(t *testing.T) {
	mem := store.NewMemory()

	hang := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-hang:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(hang)

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer fast.Close()

	hanging := subscribe(t, mem, "owner-1", slow.URL, true, domain.EventMessageSent)
	healthy := subscribe(t, mem, "owner-1", fast.URL, true, domain.EventMessageSent)

	start := time.Now()
	matched := newTestEngine(mem, 300*time.Millisecond).TriggerWebhooks(context.Background(), "owner-1", domain.EventMessageSent, map[string]string{"text": "hi"})
	elapsed := time.Since(start)

	assert.Equal(t, 2, matched)
	assert.Less(t, elapsed, 2*time.Second, "a hanging endpoint must only cost its own timeout")

	ok, _ := mem.ListDeliveries(context.Background(), healthy.ID, "", 0)
	require.Len(t, ok, 1)
	assert.True(t, ok[0].Success)

	failed, _ := mem.ListDeliveries(context.Background(), hanging.ID, "", 0)
	require.Len(t, failed, 1)
	assert.False(t, failed[0].Success)
	assert.Nil(t, failed[0].StatusCode)
	assert.Equal(t, domain.DeliveryPending, failed[0].State)
	require.NotNil(t, failed[0].NextRetry)
	assert.Equal(t, fanoutBase.Add(5*time.Minute), *failed[0].NextRetry)
}

type brokenStore struct {
	*store.Memory
}

func (brokenStore) CreateDelivery(ctx context.Context, d *domain.WebhookDelivery) error {
	return errors.New("database unavailable")
}

func TestTriggerWebhooks_StoreErrorsAreSwallowed(t *testing.T) {
	mem := store.NewMemory()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	subscribe(t, mem, "owner-1", server.URL, true, domain.EventFileUploaded)
	subscribe(t, mem, "owner-1", server.URL, true, domain.EventFileUploaded)

	matched := newTestEngine(brokenStore{mem}, 5*time.Second).TriggerWebhooks(context.Background(), "owner-1", domain.EventFileUploaded, nil)

	assert.Equal(t, 2, matched)
	assert.EqualValues(t, 2, calls.Load(), "every subscription is still attempted")
}

// A subscriber that fails twice and succeeds on the third attempt ends with
// three attempts, success and no further retry.
func TestWebhookRetryEndToEnd(t *testing.T) {
	mem := store.NewMemory()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := subscribe(t, mem, "owner-1", server.URL, true, domain.EventProjectStatusChanged)
	ctx := context.Background()

	f := newTestEngine(mem, 5*time.Second)
	f.TriggerWebhooks(ctx, "owner-1", domain.EventProjectStatusChanged, map[string]string{"status": "DONE"})

	now := fanoutBase
	sw := worker.NewSweeper(mem, worker.NewDeliverer(5*time.Second, testLogger()), worker.SweeperConfig{}, testLogger())
	sw.Now = func() time.Time { return now }

	// Not yet due.
	assert.Equal(t, 0, sw.RetryFailedDeliveries(ctx).Claimed)

	now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, sw.RetryFailedDeliveries(ctx).Retrying)

	now = now.Add(20 * time.Minute)
	assert.Equal(t, 1, sw.RetryFailedDeliveries(ctx).Succeeded)

	deliveries, err := mem.ListDeliveries(ctx, sub.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	d := deliveries[0]
	assert.Equal(t, 3, d.Attempts)
	assert.True(t, d.Success)
	assert.Nil(t, d.NextRetry)
	assert.Equal(t, domain.DeliverySucceeded, d.State)
	assert.EqualValues(t, 3, calls.Load())
}

func TestSendTest(t *testing.T) {
	mem := store.NewMemory()
	c := &capture{}
	server := httptest.NewServer(c.handler(http.StatusAccepted))
	defer server.Close()

	sub := subscribe(t, mem, "owner-1", server.URL, true, domain.EventTaskCreated)

	res, err := newTestEngine(mem, 5*time.Second).SendTest(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, res.Success)

	require.Len(t, c.bodies, 1)
	assert.Contains(t, string(c.bodies[0]), TestEvent)
	assert.True(t, worker.Verify(c.bodies[0], c.sigs[0], sub.Secret))

	deliveries, _ := mem.ListDeliveries(context.Background(), sub.ID, "", 0)
	assert.Empty(t, deliveries, "test deliveries are not recorded")
}

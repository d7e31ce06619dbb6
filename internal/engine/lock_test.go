package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepLock_Exclusive(t *testing.T) {
	client, _ := setupRedis(t)
	a := NewSweepLock(client, testLogger())
	b := NewSweepLock(client, testLogger())
	ctx := context.Background()

	release, ok, err := a.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not get the lock")

	release()

	release, ok, err = b.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestSweepLock_ExpiresAndStaleReleaseIsHarmless(t *testing.T) {
	client, mr := setupRedis(t)
	a := NewSweepLock(client, testLogger())
	b := NewSweepLock(client, testLogger())
	ctx := context.Background()

	staleRelease, ok, err := a.Acquire(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = b.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// a's lease expired; releasing must not drop b's lock.
	staleRelease()
	assert.True(t, mr.Exists(sweepLockKey))
}

func TestSweepLock_RedisDown(t *testing.T) {
	client, mr := setupRedis(t)
	mr.Close()

	_, ok, err := NewSweepLock(client, testLogger()).Acquire(context.Background(), time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory()
	m.Now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, m.SetEX(ctx, "k", "v", 10*time.Second))

	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(11 * time.Second)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_IncrBy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	v, err := m.IncrBy(ctx, "ctr", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = m.IncrBy(ctx, "ctr", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestMemory_SlotCeilings(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	req := func(lease string) SlotRequest {
		return SlotRequest{
			GlobalKey:   "g",
			ScopeKey:    "s",
			LeaseKey:    lease,
			GlobalLimit: 3,
			ScopeLimit:  2,
			LeaseTTL:    time.Minute,
		}
	}

	r1, err := m.AcquireSlot(ctx, req("l1"))
	require.NoError(t, err)
	assert.True(t, r1.Acquired)

	r2, err := m.AcquireSlot(ctx, req("l2"))
	require.NoError(t, err)
	assert.True(t, r2.Acquired)

	// Scope ceiling of 2 is now full.
	r3, err := m.AcquireSlot(ctx, req("l3"))
	require.NoError(t, err)
	assert.False(t, r3.Acquired)
	assert.Equal(t, ReasonScopeFull, r3.Reason)

	// Releasing one frees a scoped slot again.
	released, err := m.ReleaseSlot(ctx, "g", "s", "l1")
	require.NoError(t, err)
	assert.True(t, released)

	r4, err := m.AcquireSlot(ctx, req("l4"))
	require.NoError(t, err)
	assert.True(t, r4.Acquired)
}

func TestMemory_ReleaseWithoutLeaseIsNoop(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	released, err := m.ReleaseSlot(ctx, "g", "s", "missing")
	require.NoError(t, err)
	assert.False(t, released)

	// Counters must not go negative from spurious releases.
	r, err := m.AcquireSlot(ctx, SlotRequest{
		GlobalKey: "g", ScopeKey: "s", LeaseKey: "l",
		GlobalLimit: 1, ScopeLimit: 1, LeaseTTL: time.Minute,
	})
	require.NoError(t, err)
	assert.True(t, r.Acquired)
}

func TestMemory_LeaseExpiryFreesSlot(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory()
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	req := SlotRequest{
		GlobalKey: "g", ScopeKey: "s", LeaseKey: "l1",
		GlobalLimit: 1, ScopeLimit: 1, LeaseTTL: 30 * time.Second,
	}
	r, err := m.AcquireSlot(ctx, req)
	require.NoError(t, err)
	require.True(t, r.Acquired)

	// A crashed holder never releases; the lease TTL reclaims the slot.
	now = now.Add(31 * time.Second)
	req.LeaseKey = "l2"
	r, err = m.AcquireSlot(ctx, req)
	require.NoError(t, err)
	assert.True(t, r.Acquired)
}

func TestMemory_FailAll(t *testing.T) {
	m := NewMemory()
	m.FailAll = true
	ctx := context.Background()

	_, _, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = m.IncrBy(ctx, "k", 1, 0)
	assert.ErrorIs(t, err, ErrUnavailable)
}

package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nardology/ai-gateway/internal/config"
	"github.com/nardology/ai-gateway/internal/store"
)

func testConfig(global, tenant int) config.AdmissionConfig {
	return config.AdmissionConfig{
		GlobalLimit: global,
		TenantLimit: tenant,
		LeaseTTL:    config.Duration(time.Minute),
		// No queueing unless a test opts in.
		QueueWaitPro:  0,
		QueueWaitFree: 0,
		PollStep:      config.Duration(10 * time.Millisecond),
	}
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemory(), testConfig(2, 2))

	slot, res := c.Acquire(ctx, "t1", config.TierFree)
	require.True(t, res.OK)
	require.NotNil(t, slot)
	assert.Equal(t, ModeAcquired, res.Mode)

	slot.Release()

	slot2, res2 := c.Acquire(ctx, "t1", config.TierFree)
	require.True(t, res2.OK)
	slot2.Release()
}

func TestTenantCeiling(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemory(), testConfig(10, 2))

	s1, r1 := c.Acquire(ctx, "t1", config.TierFree)
	require.True(t, r1.OK)
	s2, r2 := c.Acquire(ctx, "t1", config.TierFree)
	require.True(t, r2.OK)

	_, r3 := c.Acquire(ctx, "t1", config.TierFree)
	assert.False(t, r3.OK)
	assert.Equal(t, ModeRejected, r3.Mode)
	assert.Equal(t, store.ReasonScopeFull, r3.Reason)
	assert.Equal(t, 10*time.Second, r3.RetryAfter)

	// A different tenant still fits under the global ceiling.
	s4, r4 := c.Acquire(ctx, "t2", config.TierFree)
	require.True(t, r4.OK)

	s1.Release()
	s2.Release()
	s4.Release()
}

func TestGlobalCeilingUnderContention(t *testing.T) {
	ctx := context.Background()
	const limit = 4
	c := New(store.NewMemory(), testConfig(limit, limit))

	var acquired atomic.Int64
	var wg sync.WaitGroup
	slots := make(chan *Slot, 32)

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, res := c.Acquire(ctx, "t1", config.TierFree)
			if res.OK {
				acquired.Add(1)
				slots <- slot
			}
		}()
	}
	wg.Wait()
	close(slots)

	assert.Equal(t, int64(limit), acquired.Load())
	for s := range slots {
		s.Release()
	}

	// Everything released: a fresh acquire succeeds again.
	slot, res := c.Acquire(ctx, "t1", config.TierFree)
	require.True(t, res.OK)
	slot.Release()
}

func TestDoubleReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemory(), testConfig(1, 1))

	slot, res := c.Acquire(ctx, "t1", config.TierFree)
	require.True(t, res.OK)

	slot.Release()
	slot.Release()

	// The second release must not have freed a phantom slot.
	s2, r2 := c.Acquire(ctx, "t1", config.TierFree)
	require.True(t, r2.OK)
	_, r3 := c.Acquire(ctx, "t1", config.TierFree)
	assert.False(t, r3.OK)
	s2.Release()
}

func TestStoreDownFailsClosed(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.FailAll = true
	c := New(mem, testConfig(2, 2))

	slot, res := c.Acquire(ctx, "t1", config.TierPro)
	assert.Nil(t, slot)
	assert.False(t, res.OK)
	assert.Equal(t, ModeStoreDown, res.Mode)
	assert.Equal(t, 10*time.Second, res.RetryAfter)

	// The local semaphore must have been returned; recovery works.
	mem.FailAll = false
	slot, res = c.Acquire(ctx, "t1", config.TierPro)
	require.True(t, res.OK)
	slot.Release()
}

func TestProQueuesUntilSlotFrees(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(1, 1)
	cfg.QueueWaitPro = config.Duration(2 * time.Second)
	c := New(store.NewMemory(), cfg)

	held, res := c.Acquire(ctx, "t1", config.TierPro)
	require.True(t, res.OK)

	go func() {
		time.Sleep(50 * time.Millisecond)
		held.Release()
	}()

	slot, res2 := c.Acquire(ctx, "t1", config.TierPro)
	require.True(t, res2.OK, "pro caller should obtain the freed slot within the queue window")
	slot.Release()
}

func TestProQueueTimesOut(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(1, 1)
	cfg.QueueWaitPro = config.Duration(60 * time.Millisecond)
	c := New(store.NewMemory(), cfg)

	held, res := c.Acquire(ctx, "t1", config.TierPro)
	require.True(t, res.OK)
	defer held.Release()

	_, res2 := c.Acquire(ctx, "t1", config.TierPro)
	assert.False(t, res2.OK)
	assert.Equal(t, ModeQueueTimeout, res2.Mode)
	assert.Equal(t, 5*time.Second, res2.RetryAfter)
}

func TestFreeNeverQueues(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(1, 1)
	cfg.QueueWaitPro = config.Duration(5 * time.Second)
	c := New(store.NewMemory(), cfg)

	held, res := c.Acquire(ctx, "t1", config.TierFree)
	require.True(t, res.OK)
	defer held.Release()

	start := time.Now()
	_, res2 := c.Acquire(ctx, "t2", config.TierFree)
	assert.False(t, res2.OK)
	assert.Equal(t, ModeRejected, res2.Mode)
	assert.Less(t, time.Since(start), time.Second)
}

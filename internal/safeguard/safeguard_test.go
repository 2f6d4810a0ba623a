package safeguard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nardology/ai-gateway/internal/config"
	"github.com/nardology/ai-gateway/internal/store"
)

type fakeKiller struct {
	reasons []string
	ttls    []time.Duration
}

func (f *fakeKiller) Disable(_ context.Context, reason string, ttl time.Duration) error {
	f.reasons = append(f.reasons, reason)
	f.ttls = append(f.ttls, ttl)
	return nil
}

func testCfg() config.SafeguardConfig {
	return config.SafeguardConfig{
		Window:            config.Duration(10 * time.Second),
		GlobalCalls:       400,
		GlobalTokens:      200_000,
		DailyGlobalTokens: 10_000_000,
		TenantCalls:       200,
		TenantTokens:      100_000,
		UserCalls:         50,
		UserTokens:        25_000,
		ShutdownTTL:       config.Duration(time.Hour),
	}
}

func TestUnderThresholdNothingHappens(t *testing.T) {
	ctx := context.Background()
	k := &fakeKiller{}
	s := New(store.NewMemory(), testCfg(), k)

	for i := 0; i < 40; i++ {
		s.CheckAndRecord(ctx, "t1", "u1", 100)
	}
	assert.Empty(t, k.reasons)
}

func TestUserCallThresholdTrips(t *testing.T) {
	ctx := context.Background()
	cfg := testCfg()
	cfg.UserCalls = 5
	k := &fakeKiller{}
	s := New(store.NewMemory(), cfg, k)

	for i := 0; i < 5; i++ {
		s.CheckAndRecord(ctx, "t1", "u1", 10)
	}
	assert.Empty(t, k.reasons)

	// The sixth call pushes the counter past the threshold.
	s.CheckAndRecord(ctx, "t1", "u1", 10)
	require.Len(t, k.reasons, 1)
	assert.Contains(t, k.reasons[0], "USER_CALLS(u1)>5/10s")
	assert.Equal(t, time.Hour, k.ttls[0])
}

func TestPriorityOrderGlobalBeforeUser(t *testing.T) {
	ctx := context.Background()
	cfg := testCfg()
	// Both breach on the same call; the global window must win.
	cfg.GlobalCalls = 3
	cfg.UserCalls = 3
	k := &fakeKiller{}
	s := New(store.NewMemory(), cfg, k)

	for i := 0; i < 4; i++ {
		s.CheckAndRecord(ctx, "t1", "u1", 1)
	}
	require.Len(t, k.reasons, 1)
	assert.True(t, strings.Contains(k.reasons[0], "GLOBAL_CALLS>3/10s"), k.reasons[0])
}

func TestTokenThresholdTrips(t *testing.T) {
	ctx := context.Background()
	cfg := testCfg()
	cfg.UserTokens = 1000
	k := &fakeKiller{}
	s := New(store.NewMemory(), cfg, k)

	s.CheckAndRecord(ctx, "t1", "u1", 600)
	assert.Empty(t, k.reasons)
	s.CheckAndRecord(ctx, "t1", "u1", 600)
	require.Len(t, k.reasons, 1)
	assert.Contains(t, k.reasons[0], "USER_TOKENS(u1)>1000/10s")
}

func TestWindowExpiryResetsCounters(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	mem := store.NewMemory()
	mem.Now = func() time.Time { return now }
	cfg := testCfg()
	cfg.UserCalls = 3
	k := &fakeKiller{}
	s := New(mem, cfg, k)

	for i := 0; i < 3; i++ {
		s.CheckAndRecord(ctx, "t1", "u1", 1)
	}
	assert.Empty(t, k.reasons)

	// Past the window the counters have expired; three more calls stay legal.
	now = now.Add(13 * time.Second)
	for i := 0; i < 3; i++ {
		s.CheckAndRecord(ctx, "t1", "u1", 1)
	}
	assert.Empty(t, k.reasons)
}

func TestDailyTokenThresholdOutlivesWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	mem := store.NewMemory()
	mem.Now = func() time.Time { return now }
	cfg := testCfg()
	cfg.DailyGlobalTokens = 1000
	k := &fakeKiller{}
	s := New(mem, cfg, k)
	s.now = func() time.Time { return now }

	s.CheckAndRecord(ctx, "t1", "u1", 600)
	assert.Empty(t, k.reasons)

	// Sliding windows have long since reset, but the day bucket has not.
	now = now.Add(5 * time.Minute)
	s.CheckAndRecord(ctx, "t1", "u1", 600)
	require.Len(t, k.reasons, 1)
	assert.Contains(t, k.reasons[0], "GLOBAL_TOKENS_DAY>1000/day")
}

func TestStoreDownIsSilent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.FailAll = true
	k := &fakeKiller{}
	s := New(mem, testCfg(), k)

	s.CheckAndRecord(ctx, "t1", "u1", 100)
	assert.Empty(t, k.reasons)
}

func TestNegativeTokensClampToZero(t *testing.T) {
	ctx := context.Background()
	cfg := testCfg()
	cfg.UserTokens = 10
	k := &fakeKiller{}
	s := New(store.NewMemory(), cfg, k)

	for i := 0; i < 20; i++ {
		s.CheckAndRecord(ctx, "t1", "u1", -5)
	}
	// Token windows never breach on clamped zero deltas.
	for _, r := range k.reasons {
		assert.NotContains(t, r, "TOKENS")
	}
}

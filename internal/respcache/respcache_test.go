package respcache

import (
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nardology/ai-gateway/internal/config"
	"github.com/nardology/ai-gateway/internal/store"
)

func testCfg() config.CacheConfig {
	return config.CacheConfig{
		MaxPromptLen: 50,
		TTL:          config.Duration(12 * time.Hour),
		ServeRate:    0.7,
	}
}

func TestIsCacheable(t *testing.T) {
	c := New(store.NewMemory(), testCfg())

	assert.True(t, c.IsCacheable(config.ModeTalk, "hello there", false))
	assert.True(t, c.IsCacheable("TALK", "  hello  ", false))

	assert.False(t, c.IsCacheable(config.ModeScene, "hello", false), "scene mode is never cached")
	assert.False(t, c.IsCacheable(config.ModeTalk, "hello", true), "memory-backed calls are never cached")
	assert.False(t, c.IsCacheable(config.ModeTalk, "", false))
	assert.False(t, c.IsCacheable(config.ModeTalk, "   ", false))
	assert.False(t, c.IsCacheable(config.ModeTalk, strings.Repeat("x", 51), false))
	assert.True(t, c.IsCacheable(config.ModeTalk, strings.Repeat("x", 50), false))
}

func TestRoundTripForcedServe(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemory(), testCfg())
	c.Roll = func() float64 { return 0 } // always under the serve rate

	_, ok := c.Get(ctx, "id1", "how are you")
	assert.False(t, ok)

	c.Put(ctx, "id1", "how are you", "Doing great!")
	text, ok := c.Get(ctx, "id1", "how are you")
	require.True(t, ok)
	assert.Equal(t, "Doing great!", text)

	// A different identity misses even for the same prompt.
	_, ok = c.Get(ctx, "id2", "how are you")
	assert.False(t, ok)
}

func TestServeRateSkip(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemory(), testCfg())
	c.Put(ctx, "id1", "hi", "hello")

	c.Roll = func() float64 { return 0.99 } // over the 0.7 serve rate
	_, ok := c.Get(ctx, "id1", "hi")
	assert.False(t, ok, "roll above the serve rate must report a miss")

	c.Roll = func() float64 { return 0.5 }
	_, ok = c.Get(ctx, "id1", "hi")
	assert.True(t, ok)
}

func TestServeRateIsApproximate(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemory(), testCfg())
	c.Roll = rand.New(rand.NewSource(42)).Float64
	c.Put(ctx, "id1", "hi", "hello")

	hits := 0
	const trials = 2000
	for i := 0; i < trials; i++ {
		if _, ok := c.Get(ctx, "id1", "hi"); ok {
			hits++
		}
	}
	rate := float64(hits) / trials
	assert.InDelta(t, 0.7, rate, 0.05)
}

func TestKeyNormalization(t *testing.T) {
	assert.Equal(t, Key("id", "Hello   World"), Key("id", "hello world"))
	assert.Equal(t, Key("id", "  hello\tworld  "), Key("id", "hello world"))
	assert.NotEqual(t, Key("id", "hello world"), Key("id", "hello worlds"))
	assert.NotEqual(t, Key("a", "hello"), Key("b", "hello"))

	k := Key("id", "hello")
	assert.True(t, strings.HasPrefix(k, "ai:cache:"))
	assert.Len(t, strings.TrimPrefix(k, "ai:cache:"), 16)
}

func TestPutSkipsEmpty(t *testing.T) {
	ctx := context.Background()
	c := New(store.NewMemory(), testCfg())
	c.Roll = func() float64 { return 0 }

	c.Put(ctx, "id1", "hi", "   ")
	_, ok := c.Get(ctx, "id1", "hi")
	assert.False(t, ok)
}

func TestEntryExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	mem := store.NewMemory()
	mem.Now = func() time.Time { return now }
	c := New(mem, testCfg())
	c.Roll = func() float64 { return 0 }

	c.Put(ctx, "id1", "hi", "hello")
	_, ok := c.Get(ctx, "id1", "hi")
	require.True(t, ok)

	now = now.Add(13 * time.Hour)
	_, ok = c.Get(ctx, "id1", "hi")
	assert.False(t, ok)
}

func TestStoreDownMisses(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.FailAll = true
	c := New(mem, testCfg())

	c.Put(ctx, "id1", "hi", "hello")
	_, ok := c.Get(ctx, "id1", "hi")
	assert.False(t, ok)
}

// Package respcache caches AI responses for identical short prompts.
//
// DESIGN: Only safe where repetition is common and context-free: talk mode,
// short prompts, no conversation memory. Keys are a truncated sha256 of the
// content identity plus the normalized prompt. A cache hit is served only
// with a configured probability so repeated identical prompts still see
// some variety; the random source is injectable so tests can force either
// branch.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nardology/ai-gateway/internal/config"
	"github.com/nardology/ai-gateway/internal/store"
)

const keyPrefix = "ai:cache:"

// Cache is the content-addressed response cache.
type Cache struct {
	store store.Store
	cfg   config.CacheConfig

	// Roll returns a uniform float in [0,1); replaced in tests.
	Roll func() float64
}

// New builds a Cache with the default random source.
func New(st store.Store, cfg config.CacheConfig) *Cache {
	return &Cache{store: st, cfg: cfg, Roll: rand.Float64}
}

// IsCacheable reports whether a call's response may be cached at all.
// Memory-backed conversations are never cacheable: their context changes
// the output, and serving a stale reply would leak the wrong conversation.
func (c *Cache) IsCacheable(mode, prompt string, hasMemory bool) bool {
	if !strings.EqualFold(strings.TrimSpace(mode), config.ModeTalk) {
		return false
	}
	if hasMemory {
		return false
	}
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" || len(trimmed) > c.cfg.MaxPromptLen {
		return false
	}
	return true
}

// Get returns a cached response, applying the serve-rate roll: even on a
// hit it reports a miss some of the time.
func (c *Cache) Get(ctx context.Context, identityKey, prompt string) (string, bool) {
	v, ok, err := c.store.Get(ctx, Key(identityKey, prompt))
	if err != nil {
		log.Debug().Err(err).Msg("response cache read failed")
		return "", false
	}
	if !ok {
		return "", false
	}
	text := strings.TrimSpace(v)
	if text == "" {
		return "", false
	}
	if c.Roll() > c.cfg.ServeRate {
		return "", false
	}
	return text, true
}

// Put stores a non-empty response with the configured TTL.
func (c *Cache) Put(ctx context.Context, identityKey, prompt, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if err := c.store.SetEX(ctx, Key(identityKey, prompt), text, c.cfg.TTL.Std()); err != nil {
		log.Debug().Err(err).Msg("response cache write failed")
	}
}

// Key derives the store key for (identity, prompt): normalize the prompt,
// hash with the identity, truncate for compactness.
func Key(identityKey, prompt string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
	sum := sha256.Sum256([]byte(identityKey + ":" + normalized))
	return keyPrefix + hex.EncodeToString(sum[:])[:16]
}

// Package safeguard is the anomaly seatbelt: sliding-window call and token
// counters that trip the kill switch automatically when any threshold is
// breached.
//
// DESIGN: Not a primary control. Budgets, admission, and the breaker do the
// everyday limiting; this catches bypasses, misconfiguration (a huge
// concurrency cap), and abusive spikes across many tenants. Counters are
// short-window atomic-increment-then-expire keys in the shared store, plus
// one daily global token guardrail. CheckAndRecord never fails the call it
// rides on: store errors are swallowed.
package safeguard

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nardology/ai-gateway/internal/config"
	"github.com/nardology/ai-gateway/internal/store"
)

// Killer is the subset of the kill switch the safeguard needs.
type Killer interface {
	Disable(ctx context.Context, reason string, ttl time.Duration) error
}

// Safeguard watches call and token rates.
type Safeguard struct {
	store  store.Store
	cfg    config.SafeguardConfig
	killer Killer

	// now is the clock used for day bucketing; tests may replace it.
	now func() time.Time
}

// New builds a Safeguard that disables via killer on a breach.
func New(st store.Store, cfg config.SafeguardConfig, killer Killer) *Safeguard {
	return &Safeguard{store: st, cfg: cfg, killer: killer, now: time.Now}
}

// CheckAndRecord records one imminent call (with its estimated token cost)
// into every window, then checks thresholds in fixed priority order:
// global calls, global tokens, daily global tokens, tenant calls, tenant
// tokens, user calls, user tokens. The first breach disables the kill
// switch and stops. Never returns an error and never panics.
func (s *Safeguard) CheckAndRecord(ctx context.Context, tenantID, userID string, estimatedTokens int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("safeguard panicked")
		}
	}()

	if estimatedTokens < 0 {
		estimatedTokens = 0
	}
	tok := int64(estimatedTokens)
	windowTTL := s.cfg.Window.Std() + 2*time.Second

	type counter struct {
		key       string
		delta     int64
		threshold int
		reason    string
	}

	counters := []counter{
		{s.key("calls:global", "all"), 1, s.cfg.GlobalCalls,
			fmt.Sprintf("GLOBAL_CALLS>%d/%s", s.cfg.GlobalCalls, s.windowLabel())},
		{s.key("tokens:global", "all"), tok, s.cfg.GlobalTokens,
			fmt.Sprintf("GLOBAL_TOKENS>%d/%s", s.cfg.GlobalTokens, s.windowLabel())},
		{s.dayKey(), tok, s.cfg.DailyGlobalTokens,
			fmt.Sprintf("GLOBAL_TOKENS_DAY>%d/day", s.cfg.DailyGlobalTokens)},
		{s.key("calls:tenant", tenantID), 1, s.cfg.TenantCalls,
			fmt.Sprintf("TENANT_CALLS(%s)>%d/%s", tenantID, s.cfg.TenantCalls, s.windowLabel())},
		{s.key("tokens:tenant", tenantID), tok, s.cfg.TenantTokens,
			fmt.Sprintf("TENANT_TOKENS(%s)>%d/%s", tenantID, s.cfg.TenantTokens, s.windowLabel())},
		{s.key("calls:user", userID), 1, s.cfg.UserCalls,
			fmt.Sprintf("USER_CALLS(%s)>%d/%s", userID, s.cfg.UserCalls, s.windowLabel())},
		{s.key("tokens:user", userID), tok, s.cfg.UserTokens,
			fmt.Sprintf("USER_TOKENS(%s)>%d/%s", userID, s.cfg.UserTokens, s.windowLabel())},
	}

	// Record everything first so lower-priority windows stay accurate even
	// when an earlier one breaches.
	values := make([]int64, len(counters))
	for i, c := range counters {
		ttl := windowTTL
		if c.key == s.dayKey() {
			ttl = 2 * 24 * time.Hour
		}
		v, err := s.store.IncrBy(ctx, c.key, c.delta, ttl)
		if err != nil {
			// Seatbelt, not a primary control.
			log.Debug().Err(err).Msg("safeguard counter write failed")
			return
		}
		values[i] = v
	}

	for i, c := range counters {
		if c.threshold > 0 && values[i] > int64(c.threshold) {
			reason := fmt.Sprintf("Safeguard triggered: %s (tenant=%s, user=%s, tokens=%d)",
				c.reason, tenantID, userID, tok)
			if err := s.killer.Disable(ctx, reason, s.cfg.ShutdownTTL.Std()); err != nil {
				log.Warn().Err(err).Msg("safeguard failed to disable AI")
			}
			return
		}
	}
}

func (s *Safeguard) windowLabel() string {
	return fmt.Sprintf("%ds", int(s.cfg.Window.Std().Seconds()))
}

func (s *Safeguard) key(prefix, ident string) string {
	return fmt.Sprintf("ai:sg:%s:%s:%s", s.windowLabel(), prefix, ident)
}

func (s *Safeguard) dayKey() string {
	return "ai:sg:day:" + s.now().UTC().Format("20060102") + ":tokens:global"
}

// Package quota answers "is this tenant/user allowed another call in this
// mode right now" using tier-aware daily and rolling-weekly counters.
//
// DESIGN: The gateway consumes the Policy interface and treats it as
// opaque; denial messages are passed through to the caller verbatim.
// StorePolicy is the default implementation: UTC day buckets in the shared
// store with an ~8 day TTL, weekly usage as the sum of the last 7 buckets.
// Reads degrade open (treat as zero used) when the store is unreachable.
// Successful calls are recorded with the provider's measured token count,
// never the requested one.
package quota

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nardology/ai-gateway/internal/config"
	"github.com/nardology/ai-gateway/internal/store"
)

// Decision is the outcome of a budget check.
type Decision struct {
	Allowed bool
	Message string
}

// Policy is the quota contract the gateway consumes.
type Policy interface {
	CheckBudget(ctx context.Context, mode, tenantID, userID string) (Decision, error)
	RecordSuccess(ctx context.Context, mode, tenantID, userID string, tokens int) error
}

// TierResolver maps a caller to a tier; entitlement lookup is external to
// this package.
type TierResolver func(ctx context.Context, tenantID, userID string) string

// StorePolicy is the default Policy on the shared store.
type StorePolicy struct {
	store store.Store
	cfg   config.QuotaConfig
	tier  TierResolver

	// now is the clock used for day bucketing; tests may replace it.
	now func() time.Time
}

// NewStorePolicy builds the default policy. A nil resolver treats everyone
// as free tier.
func NewStorePolicy(st store.Store, cfg config.QuotaConfig, tier TierResolver) *StorePolicy {
	if tier == nil {
		tier = func(context.Context, string, string) string { return config.TierFree }
	}
	return &StorePolicy{store: st, cfg: cfg, tier: tier, now: time.Now}
}

// CheckBudget enforces, in order: tenant daily calls, user daily calls,
// user weekly calls, user daily tokens.
func (p *StorePolicy) CheckBudget(ctx context.Context, mode, tenantID, userID string) (Decision, error) {
	mode = normalizeMode(mode)
	tier := p.tier(ctx, tenantID, userID)
	caps := p.caps(mode, tier)
	today := p.day(0)

	tenantToday := p.count(ctx, p.tenantKey(mode, tenantID, today))
	if tenantCap := p.tenantDaily(mode); tenantCap > 0 && tenantToday >= tenantCap {
		return Decision{Message: fmt.Sprintf(
			"This server hit its daily %s limit (%d/day). Try again tomorrow (UTC).", mode, tenantCap)}, nil
	}

	userToday := p.count(ctx, p.userKey(mode, tenantID, userID, today))
	if caps.UserDaily > 0 && userToday >= caps.UserDaily {
		return Decision{Message: fmt.Sprintf(
			"You've hit your daily %s limit (%d/day). Try again tomorrow (UTC).", mode, caps.UserDaily)}, nil
	}

	if caps.UserWeekly > 0 {
		week := 0
		for i := 0; i < 7; i++ {
			week += p.count(ctx, p.userKey(mode, tenantID, userID, p.day(-i)))
		}
		if week >= caps.UserWeekly {
			return Decision{Message: fmt.Sprintf(
				"You've hit your weekly %s limit (%d/7 days). Try again later.", mode, caps.UserWeekly)}, nil
		}
	}

	if tokenCap := p.tokenCap(tier); tokenCap > 0 {
		used := p.count(ctx, p.tokenKey(tenantID, userID, today))
		if used >= tokenCap {
			return Decision{Message: fmt.Sprintf(
				"You've used your daily AI token budget (%d/%d tokens). Try again tomorrow (UTC).",
				used, tokenCap)}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// RecordSuccess increments the day buckets after a successful call.
func (p *StorePolicy) RecordSuccess(ctx context.Context, mode, tenantID, userID string, tokens int) error {
	mode = normalizeMode(mode)
	today := p.day(0)

	if _, err := p.store.IncrBy(ctx, p.tenantKey(mode, tenantID, today), 1, config.QuotaBucketTTL); err != nil {
		return err
	}
	if _, err := p.store.IncrBy(ctx, p.userKey(mode, tenantID, userID, today), 1, config.QuotaBucketTTL); err != nil {
		return err
	}
	if tokens > 0 {
		if _, err := p.store.IncrBy(ctx, p.tokenKey(tenantID, userID, today), int64(tokens), config.QuotaBucketTTL); err != nil {
			return err
		}
	}
	return nil
}

func (p *StorePolicy) caps(mode, tier string) config.ModeCaps {
	pro := strings.EqualFold(strings.TrimSpace(tier), config.TierPro)
	if mode == config.ModeScene {
		if pro {
			return p.cfg.ScenePro
		}
		return p.cfg.SceneFree
	}
	if pro {
		return p.cfg.TalkPro
	}
	return p.cfg.TalkFree
}

func (p *StorePolicy) tenantDaily(mode string) int {
	if mode == config.ModeScene {
		return p.cfg.SceneTenantDaily
	}
	return p.cfg.TalkTenantDaily
}

func (p *StorePolicy) tokenCap(tier string) int {
	if strings.EqualFold(strings.TrimSpace(tier), config.TierPro) {
		return p.cfg.UserTokensPro
	}
	return p.cfg.UserTokensFree
}

func (p *StorePolicy) count(ctx context.Context, key string) int {
	v, ok, err := p.store.Get(ctx, key)
	if err != nil {
		log.Debug().Err(err).Msg("quota read failed, treating as zero")
		return 0
	}
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

func (p *StorePolicy) day(offset int) string {
	return p.now().UTC().AddDate(0, 0, offset).Format("20060102")
}

func (p *StorePolicy) tenantKey(mode, tenantID, day string) string {
	return fmt.Sprintf("q:%s:tenant:%s:%s", mode, tenantID, day)
}

func (p *StorePolicy) userKey(mode, tenantID, userID, day string) string {
	return fmt.Sprintf("q:%s:user:%s:%s:%s", mode, tenantID, userID, day)
}

func (p *StorePolicy) tokenKey(tenantID, userID, day string) string {
	return fmt.Sprintf("q:tokens:user:%s:%s:%s", tenantID, userID, day)
}

func normalizeMode(mode string) string {
	m := strings.ToLower(strings.TrimSpace(mode))
	if m != config.ModeScene {
		m = config.ModeTalk
	}
	return m
}

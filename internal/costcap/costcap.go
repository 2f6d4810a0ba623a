// Package costcap enforces the revenue-linked daily spend ceiling.
//
// DESIGN: The "never lose money" backstop. Estimated cost per call is
// derived from token counts and per-tier unit rates, accumulated in the
// shared store as milli-cents (fixed point, so atomic integer increments
// suffice) keyed by (tenant, UTC day) with a two-day TTL. Even if every
// other budget layer is misconfigured, no tenant can spend past its cap.
// The gate fails open on store outage: a temporarily unmetered call is
// preferable to product-wide denial.
package costcap

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

// Enforcer tracks and caps per-tenant daily spend.
type Enforcer struct {
	store store.Store
	cfg   config.CostCapConfig

	// now is the clock used for UTC day bucketing; tests may replace it.
	now func() time.Time
}

// New builds an Enforcer.
func New(st store.Store, cfg config.CostCapConfig) *Enforcer {
	return &Enforcer{store: st, cfg: cfg, now: time.Now}
}

// EstimateCostCents estimates one call's cost in cents (USD) from token
// counts and the tier's unit rates.
func (e *Enforcer) EstimateCostCents(tier string, inputTokens, outputTokens int) float64 {
	rateIn, rateOut := e.rates(tier)
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	dollars := float64(inputTokens)*rateIn + float64(outputTokens)*rateOut
	return dollars * 100
}

// RecordCost accumulates the estimated cost of a completed call into the
// tenant's daily bucket.
func (e *Enforcer) RecordCost(ctx context.Context, tenantID, tier string, inputTokens, outputTokens int) error {
	cents := e.EstimateCostCents(tier, inputTokens, outputTokens)
	milliCents := int64(cents * 1000)
	if milliCents <= 0 {
		return nil
	}
	_, err := e.store.IncrBy(ctx, e.key(tenantID), milliCents, config.CostAccumulatorTTL)
	return err
}

// TodayCostCents returns the tenant's accumulated spend today, in cents.
// Returns 0 when the store is unreachable.
func (e *Enforcer) TodayCostCents(ctx context.Context, tenantID string) float64 {
	v, ok, err := e.store.Get(ctx, e.key(tenantID))
	if err != nil {
		log.Debug().Err(err).Msg("cost accumulator read failed")
		return 0
	}
	if !ok {
		return 0
	}
	milliCents, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return float64(milliCents) / 1000.0
}

// IsWithinBudget reports whether the tenant may spend more today.
// A cap of zero disables enforcement for that tier.
func (e *Enforcer) IsWithinBudget(ctx context.Context, tenantID, tier string) (allowed bool, currentCents, capCents float64) {
	cap := e.capCents(tier)
	if cap <= 0 {
		return true, 0, 0
	}
	current := e.TodayCostCents(ctx, tenantID)
	return current < cap, current, cap
}

func (e *Enforcer) rates(tier string) (in, out float64) {
	if strings.EqualFold(strings.TrimSpace(tier), config.TierPro) {
		return e.cfg.InputRatePro, e.cfg.OutputRatePro
	}
	return e.cfg.InputRateFree, e.cfg.OutputRateFree
}

func (e *Enforcer) capCents(tier string) float64 {
	if strings.EqualFold(strings.TrimSpace(tier), config.TierPro) {
		return e.cfg.ProDailyCents
	}
	return e.cfg.FreeDailyCents
}

func (e *Enforcer) key(tenantID string) string {
	day := e.now().UTC().Format("20060102")
	return fmt.Sprintf("cost:tenant:%s:%s", tenantID, day)
}

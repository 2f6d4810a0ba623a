// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: Every tunable that appears in more than one place is defined here
// so the whole admission surface can be audited in one file. Config loading
// starts from these values; YAML and environment overrides are applied on top.
package config

import "time"

// =============================================================================
// TIERS AND MODES
// =============================================================================

// Tier names used for concurrency ceilings, token ceilings and cost rates.
const (
	TierFree = "free"
	TierPro  = "pro"
)

// Call modes. Talk is the only cacheable mode.
const (
	ModeTalk  = "talk"
	ModeScene = "scene"
)

// =============================================================================
// PROVIDER
// =============================================================================

// DefaultProviderBaseURL is the OpenAI-compatible API root.
const DefaultProviderBaseURL = "https://api.openai.com/v1"

// DefaultProviderTimeout bounds one generation call.
const DefaultProviderTimeout = 40 * time.Second

// DefaultProcessConcurrency is the per-process in-flight ceiling, a local
// safety valve independent of the distributed slot accounting.
const DefaultProcessConcurrency = 20

// DefaultModelPro and DefaultModelFree route paid and free tiers to
// different model variants to control spend.
const (
	DefaultModelPro  = "gpt-4.1-mini"
	DefaultModelFree = "gpt-4.1-nano"
)

// =============================================================================
// CONCURRENCY ADMISSION
// =============================================================================

// DefaultGlobalConcurrency bounds simultaneous provider calls everywhere.
const DefaultGlobalConcurrency = 10

// DefaultTenantConcurrency bounds simultaneous provider calls per tenant.
const DefaultTenantConcurrency = 2

// DefaultLeaseTTL must exceed the provider timeout plus scheduling slack so
// a crashed holder cannot pin a slot past one call's worst case.
const DefaultLeaseTTL = 70 * time.Second

// DefaultQueueWaitPro is how long pro-tier callers poll for a slot before
// giving up. Free tier rejects immediately.
const (
	DefaultQueueWaitPro  = 12 * time.Second
	DefaultQueueWaitFree = 0 * time.Second
)

// DefaultQueuePollStep is the slot re-check interval while queued.
const DefaultQueuePollStep = 250 * time.Millisecond

// =============================================================================
// TOKEN CLAMPING
// =============================================================================

// MinOutputTokens is the floor applied after clamping so a badly configured
// caller still gets a usable reply.
const MinOutputTokens = 64

// Hard per-mode-per-tier output token backstops. Entitlement-level budgets
// sit below these; the backstops catch misconfigured callers.
const (
	DefaultTalkMaxTokensFree  = 250
	DefaultTalkMaxTokensPro   = 400
	DefaultSceneMaxTokensFree = 550
	DefaultSceneMaxTokensPro  = 1200
)

// =============================================================================
// COST CAP
// =============================================================================

// Per-token dollar rates. Pro rides the mini model, free the nano model.
const (
	DefaultCostPerInputTokenPro   = 0.0000004
	DefaultCostPerOutputTokenPro  = 0.0000016
	DefaultCostPerInputTokenFree  = 0.0000001
	DefaultCostPerOutputTokenFree = 0.0000004
)

// Daily per-tenant spend caps in cents. Zero disables enforcement.
const (
	DefaultCostCapProDailyCents  = 50.0
	DefaultCostCapFreeDailyCents = 5.0
)

// CostAccumulatorTTL keeps day buckets around long enough to survive
// midnight races, then self-cleans.
const CostAccumulatorTTL = 2 * 24 * time.Hour

// =============================================================================
// ANOMALY SAFEGUARD
// =============================================================================

// DefaultSafeguardWindow is the sliding-window width for spike detection.
const DefaultSafeguardWindow = 10 * time.Second

// Per-window call-count thresholds.
const (
	DefaultSafeguardGlobalCalls = 400
	DefaultSafeguardTenantCalls = 200
	DefaultSafeguardUserCalls   = 50
)

// Per-window token thresholds.
const (
	DefaultSafeguardGlobalTokens = 200_000
	DefaultSafeguardTenantTokens = 100_000
	DefaultSafeguardUserTokens   = 25_000
)

// DefaultSafeguardDailyGlobalTokens is the long-window guardrail.
const DefaultSafeguardDailyGlobalTokens = 10_000_000

// DefaultSafeguardShutdownTTL is how long an automatic kill-switch trip lasts.
const DefaultSafeguardShutdownTTL = 1 * time.Hour

// =============================================================================
// RESPONSE CACHE
// =============================================================================

// DefaultCacheMaxPromptLen is the short-prompt threshold; longer prompts are
// too unique to benefit from caching.
const DefaultCacheMaxPromptLen = 50

// DefaultCacheTTL ages cached responses out automatically.
const DefaultCacheTTL = 12 * time.Hour

// DefaultCacheServeRate is the probability a cache hit is actually served,
// keeping some variety in repeated identical prompts.
const DefaultCacheServeRate = 0.7

// =============================================================================
// CIRCUIT BREAKER
// =============================================================================

// Class-specific cooldowns applied when a provider failure trips the breaker.
const (
	DefaultTripTimeout    = 10 * time.Second
	DefaultTripRateLimit  = 20 * time.Second
	DefaultTripConnection = 15 * time.Second
	DefaultTripStatus5xx  = 15 * time.Second
)

// =============================================================================
// KILL SWITCH
// =============================================================================

// MinDisableTTL is the floor for operator and safeguard disables.
const MinDisableTTL = 60 * time.Second

// =============================================================================
// QUOTA
// =============================================================================

// Default per-mode call caps. Daily resets at midnight UTC; weekly is a
// rolling 7 days of day buckets.
const (
	DefaultTalkUserDailyFree   = 30
	DefaultTalkUserDailyPro    = 120
	DefaultTalkUserWeeklyFree  = 150
	DefaultTalkUserWeeklyPro   = 700
	DefaultTalkTenantDaily     = 500
	DefaultSceneUserDailyFree  = 10
	DefaultSceneUserDailyPro   = 60
	DefaultSceneUserWeeklyFree = 50
	DefaultSceneUserWeeklyPro  = 350
	DefaultSceneTenantDaily    = 200
	DefaultUserDailyTokensFree = 20_000
	DefaultUserDailyTokensPro  = 120_000
)

// QuotaBucketTTL keeps rolling-week day buckets alive slightly past 7 days.
const QuotaBucketTTL = 8 * 24 * time.Hour

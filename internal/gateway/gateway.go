// Package gateway is the single entry point for any AI call.
//
// DESIGN: RequestText runs the gates in a fixed order and stops at the
// first denial:
//
//	kill switch → quota → cost cap → response cache → circuit breaker →
//	concurrency admission → token clamping → safeguard → provider call
//
// The cache lookup is the only successful exit that skips the provider.
// After a successful call, usage, cost, analytics, and the cache are
// updated best-effort: those side effects are logged on failure and never
// fail the call itself.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nardology/ai-gateway/internal/admission"
	"github.com/nardology/ai-gateway/internal/breaker"
	"github.com/nardology/ai-gateway/internal/config"
	"github.com/nardology/ai-gateway/internal/costcap"
	"github.com/nardology/ai-gateway/internal/incident"
	"github.com/nardology/ai-gateway/internal/killswitch"
	"github.com/nardology/ai-gateway/internal/provider"
	"github.com/nardology/ai-gateway/internal/quota"
	"github.com/nardology/ai-gateway/internal/respcache"
	"github.com/nardology/ai-gateway/internal/safeguard"
	"github.com/nardology/ai-gateway/internal/store"
	"github.com/nardology/ai-gateway/internal/tokencount"
	"github.com/nardology/ai-gateway/internal/usage"
)

const (
	defaultTemperature     = 0.8
	defaultRequestedTokens = 256
	transientRetryAfter    = 60 * time.Second
)

// Deps are the gateway's collaborators. Store and Provider are required;
// the rest default to the store-backed implementations (Quota) or no-ops
// (Usage, Notifier).
type Deps struct {
	Store    store.Store
	Provider provider.Client
	Quota    quota.Policy
	Usage    usage.Recorder
	Notifier incident.Notifier
}

// Gateway sequences admission control, backpressure, and safety governance
// around the provider.
type Gateway struct {
	cfg *config.Config

	kill      *killswitch.Switch
	brk       *breaker.Breaker
	adm       *admission.Controller
	costs     *costcap.Enforcer
	cache     *respcache.Cache
	safeguard *safeguard.Safeguard
	tokens    *tokencount.Estimator

	quota    quota.Policy
	provider provider.Client
	usage    usage.Recorder
}

// New wires a Gateway from config and collaborators.
func New(cfg *config.Config, deps Deps) *Gateway {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = incident.NewRecorder(deps.Store)
	}
	q := deps.Quota
	if q == nil {
		q = quota.NewStorePolicy(deps.Store, cfg.Quota, nil)
	}
	rec := deps.Usage
	if rec == nil {
		rec = usage.Nop{}
	}
	kill := killswitch.New(deps.Store, cfg.KillSwitch, notifier)
	return &Gateway{
		cfg:       cfg,
		kill:      kill,
		brk:       breaker.New(deps.Store, notifier),
		adm:       admission.New(deps.Store, cfg.Admission),
		costs:     costcap.New(deps.Store, cfg.CostCap),
		cache:     respcache.New(deps.Store, cfg.Cache),
		safeguard: safeguard.New(deps.Store, cfg.Safeguard, kill),
		tokens:    tokencount.NewEstimator(),
		quota:     q,
		provider:  deps.Provider,
		usage:     rec,
	}
}

// KillSwitch exposes the kill switch for operator tooling.
func (g *Gateway) KillSwitch() *killswitch.Switch { return g.kill }

// Breaker exposes the circuit breaker for operator tooling.
func (g *Gateway) Breaker() *breaker.Breaker { return g.brk }

// CostCap exposes the cost enforcer for operator tooling.
func (g *Gateway) CostCap() *costcap.Enforcer { return g.costs }

// Cache exposes the response cache (tests).
func (g *Gateway) Cache() *respcache.Cache { return g.cache }

// RequestText calls the AI safely. It returns either a CallResult or a
// *GatewayError describing the denial or failure.
func (g *Gateway) RequestText(ctx context.Context, call CallContext) (*CallResult, error) {
	// 1) Kill switch.
	if g.kill.IsDisabled(ctx) {
		msg := "AI is temporarily disabled by the administrator."
		if meta, ok := g.kill.GetMeta(ctx); ok && meta.Reason != "" {
			msg += " Reason: " + meta.Reason
		}
		return nil, denial(KindKillSwitch, msg)
	}

	// 2) Quota budgets, before any money is spent. Policy failures must
	// never block a call.
	if decision, err := g.quota.CheckBudget(ctx, call.Mode, call.TenantID, call.UserID); err != nil {
		log.Warn().Err(err).Msg("quota check failed, allowing call")
	} else if !decision.Allowed {
		return nil, denial(KindBudget, decision.Message)
	}

	// 3) Revenue-linked cost cap.
	if allowed, current, cap := g.costs.IsWithinBudget(ctx, call.TenantID, call.Tier); !allowed {
		log.Info().
			Str("tenant", call.TenantID).
			Float64("current_cents", current).
			Float64("cap_cents", cap).
			Msg("daily cost cap reached")
		return nil, denial(KindCostCap,
			"This server has reached its daily AI budget. Try again tomorrow (resets at midnight UTC).")
	}

	// 4) Response cache: the only successful exit that skips the provider.
	cacheEligible := call.IdentityKey != "" &&
		g.cache.IsCacheable(call.Mode, call.UserPrompt, call.HasMemory)
	if cacheEligible {
		if text, ok := g.cache.Get(ctx, call.IdentityKey, call.UserPrompt); ok {
			return &CallResult{Text: text, FromCache: true}, nil
		}
	}

	// 5) Circuit breaker.
	if rem := g.brk.RemainingOpen(ctx); rem > 0 {
		return nil, denialRetry(KindBreakerOpen,
			fmt.Sprintf("The AI is busy right now. Try again in %ds.", int(rem.Seconds())), rem)
	}

	// 6) Concurrency admission. Release is deferred so every exit path,
	// including timeout and panic, returns the slot exactly once.
	slot, res := g.adm.Acquire(ctx, call.TenantID, call.Tier)
	if !res.OK {
		return nil, denialRetry(
			KindConcurrency+":"+res.Mode,
			fmt.Sprintf("Too many AI requests right now. Try again in %ds.", int(res.RetryAfter.Seconds())),
			res.RetryAfter)
	}
	defer slot.Release()

	// 7) Token clamping and model tiering.
	maxTokens := g.clampTokens(call)
	model := g.cfg.Model(call.Tier)

	// 8) Safeguard pre-check with a conservative token estimate: prompt
	// tokens plus the full output clamp.
	estimated := g.tokens.Count(call.System) + g.tokens.Count(call.UserPrompt) + maxTokens
	g.safeguard.CheckAndRecord(ctx, call.TenantID, call.UserID, estimated)
	if g.kill.IsDisabled(ctx) {
		return nil, denial(KindKillSwitch,
			"AI was temporarily disabled for safety due to anomalous usage.")
	}

	// 9) Provider call.
	result, err := g.provider.Generate(ctx, provider.Request{
		System:          call.System,
		UserPrompt:      call.UserPrompt,
		Model:           model,
		MaxOutputTokens: maxTokens,
		Temperature:     defaultTemperature,
		Timeout:         g.timeout(call),
	})
	if err != nil {
		return nil, g.mapProviderError(ctx, err)
	}

	// 10) Post-success bookkeeping, isolated so it can never fail the call.
	g.recordSuccess(ctx, call, model, result, cacheEligible)

	return &CallResult{
		Text:         result.Text,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		TotalTokens:  result.TotalTokens,
	}, nil
}

func (g *Gateway) clampTokens(call CallContext) int {
	req := call.MaxOutputTokens
	if req <= 0 {
		req = defaultRequestedTokens
	}
	hard := g.cfg.MaxOutputTokens(call.Mode, call.Tier)
	if req > hard {
		req = hard
	}
	if req < config.MinOutputTokens {
		req = config.MinOutputTokens
	}
	return req
}

func (g *Gateway) timeout(call CallContext) time.Duration {
	if call.Timeout > 0 {
		return call.Timeout
	}
	return g.cfg.Provider.Timeout.Std()
}

// recordSuccess runs the post-call side effects: quota usage with measured
// tokens, cost accumulation, the analytics ledger, and the response cache.
func (g *Gateway) recordSuccess(ctx context.Context, call CallContext, model string, res *provider.Result, cacheEligible bool) {
	if err := g.quota.RecordSuccess(ctx, call.Mode, call.TenantID, call.UserID, res.TotalTokens); err != nil {
		log.Warn().Err(err).Msg("quota usage recording failed")
	}
	if err := g.costs.RecordCost(ctx, call.TenantID, call.Tier, res.InputTokens, res.OutputTokens); err != nil {
		log.Warn().Err(err).Msg("cost recording failed")
	}
	g.usage.Record(ctx, usage.Event{
		TenantID:     call.TenantID,
		UserID:       call.UserID,
		Mode:         call.Mode,
		Model:        model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		TotalTokens:  res.TotalTokens,
	})
	if cacheEligible && res.Text != "" {
		g.cache.Put(ctx, call.IdentityKey, call.UserPrompt, res.Text)
	}
}

// mapProviderError turns a typed provider failure into a GatewayError and
// trips the breaker for transient classes. Auth and config errors never
// trip it: waiting will not heal them.
func (g *Gateway) mapProviderError(ctx context.Context, err error) *GatewayError {
	var perr *provider.Error
	if !errors.As(err, &perr) {
		log.Error().Err(err).Msg("unclassified provider failure")
		return denialRetry(KindAIGeneric,
			"Something went wrong. Please try again in a minute.", transientRetryAfter)
	}

	switch perr.Kind {
	case provider.KindConfig:
		return denial(KindAIConfig, "Config error: "+perr.Message)
	case provider.KindAuth:
		return denial(KindAIAuth,
			"AI is misconfigured right now. Please tell an admin to check the API key.")
	case provider.KindTimeout:
		g.brk.Trip(ctx, g.cfg.Breaker.TripTimeout.Std())
		return denialRetry(KindAITimeout,
			"The AI is slow right now. Please try again in a minute.", transientRetryAfter)
	case provider.KindRateLimit:
		g.brk.Trip(ctx, g.cfg.Breaker.TripRateLimit.Std())
		return denialRetry(KindAIRateLimit,
			"The AI service is rate-limited right now. Please try again in a minute.", transientRetryAfter)
	case provider.KindConnection:
		g.brk.Trip(ctx, g.cfg.Breaker.TripConnection.Std())
		return denialRetry(KindAIConnection,
			"I'm having trouble reaching the AI service. Try again in a minute.", transientRetryAfter)
	case provider.KindStatus:
		if perr.StatusCode >= 500 && perr.StatusCode < 600 {
			g.brk.Trip(ctx, g.cfg.Breaker.TripStatus5xx.Std())
		}
		return denial(fmt.Sprintf("%s:%d", KindAIStatus, perr.StatusCode),
			fmt.Sprintf("AI request failed (status %d).", perr.StatusCode))
	default:
		return denialRetry(KindAIGeneric,
			"Something went wrong. Please try again in a minute.", transientRetryAfter)
	}
}

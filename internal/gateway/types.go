// Package gateway types - the call context, result, and error taxonomy.
//
// DESIGN: Every denial and failure is a *GatewayError with a stable Kind
// label for metrics, a short non-technical UserMessage, and a retry-after
// hint where one is meaningful. Callers match with errors.As; internal
// bookkeeping failures never appear here.
package gateway

import (
	"fmt"
	"time"
)

// CallContext describes one inbound AI request. Immutable for the duration
// of the call.
type CallContext struct {
	TenantID string
	UserID   string
	Tier     string // "free" | "pro"
	Mode     string // "talk" | "scene" | other

	System     string
	UserPrompt string

	// MaxOutputTokens is the caller's requested ceiling; the gateway clamps
	// it to the hard per-mode-per-tier backstop.
	MaxOutputTokens int

	// IdentityKey is the content identity (e.g. character id) used for
	// response caching. Empty disables caching for this call.
	IdentityKey string

	// HasMemory marks conversations that carry context; such calls are
	// never served from nor written to the response cache.
	HasMemory bool

	// Timeout overrides the default provider timeout when positive.
	Timeout time.Duration
}

// CallResult is a successful gateway response.
type CallResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// FromCache is true when the response was served from the response
	// cache without touching the provider.
	FromCache bool
}

// Stable error kind labels surfaced to callers.
const (
	KindKillSwitch   = "KillSwitchDisabled"
	KindBudget       = "BudgetExceeded"
	KindCostCap      = "CostCapExceeded"
	KindBreakerOpen  = "BackpressureOpen"
	KindConcurrency  = "AIConcurrency" // suffixed ":<mode>"
	KindAIConfig     = "AIConfigError"
	KindAIAuth       = "AIAuthError"
	KindAITimeout    = "AITimeoutError"
	KindAIRateLimit  = "AIRateLimitError"
	KindAIConnection = "AIConnectionError"
	KindAIStatus     = "AIStatusError" // suffixed ":<code>"
	KindAIGeneric    = "AIError"
)

// GatewayError is a gate denial or provider failure surfaced to the caller.
type GatewayError struct {
	Kind        string
	UserMessage string
	RetryAfter  time.Duration
}

// Error implements error.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.UserMessage)
}

// RetryAfterSeconds is the retry hint in whole seconds (0 = none).
func (e *GatewayError) RetryAfterSeconds() int {
	return int(e.RetryAfter.Seconds())
}

func denial(kind, msg string) *GatewayError {
	return &GatewayError{Kind: kind, UserMessage: msg}
}

func denialRetry(kind, msg string, after time.Duration) *GatewayError {
	return &GatewayError{Kind: kind, UserMessage: msg, RetryAfter: after}
}

// Package provider defines the text generation provider contract and its
// OpenAI-compatible HTTP implementation.
//
// DESIGN: Callers see one Result struct and one typed Error with a kind per
// failure class, matched with errors.As. The gateway maps kinds to denials
// and breaker trips; nothing above this package inspects HTTP details.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Request is one generation call.
type Request struct {
	System          string
	UserPrompt      string
	Model           string
	MaxOutputTokens int
	Temperature     float64
	// Timeout bounds the call; zero means the client default.
	Timeout time.Duration
}

// Result is a successful generation.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Client performs generation calls against the provider.
type Client interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Kind classifies provider failures.
type Kind string

// Failure classes. Timeout, RateLimit, Connection and 5xx Status are
// transient and may trip the circuit breaker; Config and Auth never do.
const (
	KindConfig     Kind = "config"
	KindAuth       Kind = "auth"
	KindTimeout    Kind = "timeout"
	KindRateLimit  Kind = "rate_limit"
	KindConnection Kind = "connection"
	KindStatus     Kind = "status"
	KindGeneric    Kind = "generic"
)

// Error is the typed provider failure.
type Error struct {
	Kind       Kind
	StatusCode int // set for KindStatus
	Message    string
	Err        error
}

// Error implements error.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

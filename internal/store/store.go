// Package store defines the shared state store used for all cross-process
// coordination: kill switch flags, circuit breaker timestamps, sliding-window
// counters, cost accumulators, response cache entries, and concurrency slot
// accounting.
//
// DESIGN: Every operation is atomic from the caller's point of view. The
// Redis implementation is the production backend; Memory implements the same
// semantics under a mutex and is used by tests and single-process deployments.
// Callers decide per component how to degrade when a Store call fails.
package store

import (
	"context"
	"time"
)

// Slot acquire reasons, reported back to the admission controller.
const (
	ReasonAcquired   = "acquired"
	ReasonGlobalFull = "global_full"
	ReasonScopeFull  = "scope_full"
)

// SlotRequest describes one attempt to take a bounded concurrency slot.
// A lease key is written alongside the counters so a crashed holder cannot
// leak a slot forever and release is safe to call more than once.
type SlotRequest struct {
	GlobalKey   string
	ScopeKey    string
	LeaseKey    string
	GlobalLimit int
	ScopeLimit  int
	LeaseTTL    time.Duration
}

// SlotReply is the outcome of an AcquireSlot call.
type SlotReply struct {
	Acquired bool
	Reason   string
}

// Store is the atomic key/value surface shared by all gateway processes.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// SetEX writes key=value with a TTL. A ttl of zero means no expiry.
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// IncrBy atomically increments key by delta and refreshes its TTL,
	// returning the post-increment value.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// AcquireSlot atomically takes one slot against both the global and the
	// scoped counter, or reports which ceiling was full.
	AcquireSlot(ctx context.Context, req SlotRequest) (SlotReply, error)

	// ReleaseSlot returns a slot taken by AcquireSlot. It reports false when
	// the lease no longer exists (already released or expired), in which
	// case the counters are left untouched.
	ReleaseSlot(ctx context.Context, globalKey, scopeKey, leaseKey string) (bool, error)

	// PushList prepends payload to a capped list with a TTL (incident feed).
	PushList(ctx context.Context, key, payload string, maxLen int64, ttl time.Duration) error
}

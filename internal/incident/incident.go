// Package incident records out-of-the-ordinary events for operator alerting:
// kill-switch disables and circuit-breaker trips.
//
// DESIGN: Notification is fire-and-forget. The default notifier logs the
// incident and best-effort appends it to a capped shared-store list that an
// operator surface can read later; a failure to record never propagates.
package incident

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nardology/ai-gateway/internal/store"
)

// Incident kinds emitted by the gateway.
const (
	KindAIDisabled         = "ai_disabled"
	KindCircuitBreakerOpen = "circuit_breaker_open"
)

const (
	listKey    = "incidents:global"
	listMax    = 200
	listTTL    = 60 * 24 * time.Hour
	maxKindLen = 64
	maxReason  = 400
)

// Incident is one recorded event.
type Incident struct {
	At     int64             `json:"t"`
	Kind   string            `json:"kind"`
	Reason string            `json:"reason"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Notifier receives incidents. Implementations must never block for long
// and must never panic.
type Notifier interface {
	Notify(ctx context.Context, inc Incident)
}

// Recorder is the default Notifier: zerolog plus a capped store list.
type Recorder struct {
	store store.Store
}

// NewRecorder builds a Recorder on the given store.
func NewRecorder(st store.Store) *Recorder {
	return &Recorder{store: st}
}

// Notify logs the incident and appends it to the shared incident feed.
func (r *Recorder) Notify(ctx context.Context, inc Incident) {
	if inc.At == 0 {
		inc.At = time.Now().Unix()
	}
	inc.Kind = clip(inc.Kind, maxKindLen)
	inc.Reason = clip(inc.Reason, maxReason)

	log.Warn().
		Str("kind", inc.Kind).
		Str("reason", inc.Reason).
		Msg("incident recorded")

	raw, err := json.Marshal(inc)
	if err != nil {
		return
	}
	if err := r.store.PushList(ctx, listKey, string(raw), listMax, listTTL); err != nil {
		log.Debug().Err(err).Msg("incident feed write failed")
	}
}

// Nop discards incidents (tests).
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Incident) {}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Package killswitch implements the global AI disable flag.
//
// DESIGN: Two layers. A static flag from configuration is the operator's
// last-known-good intent and needs a restart to change. A runtime flag in
// the shared store can be flipped instantly (by an operator or by the
// anomaly safeguard) and expires on its own TTL. If the store is
// unreachable, only the static flag counts: the switch fails toward
// "enabled" rather than assuming the worst, because a store outage must not
// silently take the whole product down.
package killswitch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nardology/ai-gateway/internal/config"
	"github.com/nardology/ai-gateway/internal/incident"
	"github.com/nardology/ai-gateway/internal/store"
)

const (
	keyDisabled = "ai:disabled"
	keyMeta     = "ai:disabled:meta"

	// metaTTLExtra keeps the reason inspectable briefly after the flag
	// itself is about to expire.
	metaTTLExtra = 5 * time.Minute

	maxReasonLen = 400
)

// Meta describes who disabled the switch and for how long.
type Meta struct {
	SetAt      int64  `json:"t"`
	Reason     string `json:"reason"`
	TTLSeconds int    `json:"ttl_s"`
}

// Switch is the process handle to the global kill switch.
type Switch struct {
	store    store.Store
	static   bool
	notifier incident.Notifier
}

// New builds a Switch. The notifier receives an incident on every Disable.
func New(st store.Store, cfg config.KillSwitchConfig, n incident.Notifier) *Switch {
	if n == nil {
		n = incident.Nop{}
	}
	return &Switch{store: st, static: cfg.StaticDisabled, notifier: n}
}

// IsDisabled reports whether AI traffic is currently halted.
func (s *Switch) IsDisabled(ctx context.Context) bool {
	if s.static {
		return true
	}
	v, ok, err := s.store.Get(ctx, keyDisabled)
	if err != nil {
		log.Debug().Err(err).Msg("kill switch read failed, using static flag")
		return false
	}
	if !ok {
		return false
	}
	n, _ := strconv.Atoi(v)
	return n != 0
}

// Disable halts AI traffic for ttl (floored to a minimum) and records the
// reason for operators.
func (s *Switch) Disable(ctx context.Context, reason string, ttl time.Duration) error {
	if ttl < config.MinDisableTTL {
		ttl = config.MinDisableTTL
	}
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}

	if err := s.store.SetEX(ctx, keyDisabled, "1", ttl); err != nil {
		return err
	}

	meta := Meta{SetAt: time.Now().Unix(), Reason: reason, TTLSeconds: int(ttl.Seconds())}
	if raw, err := json.Marshal(meta); err == nil {
		if err := s.store.SetEX(ctx, keyMeta, string(raw), ttl+metaTTLExtra); err != nil {
			log.Debug().Err(err).Msg("kill switch meta write failed")
		}
	}

	log.Warn().Str("reason", reason).Dur("ttl", ttl).Msg("AI kill switch disabled")
	s.notifier.Notify(ctx, incident.Incident{
		Kind:   incident.KindAIDisabled,
		Reason: reason,
		Fields: map[string]string{"ttl_s": strconv.Itoa(int(ttl.Seconds()))},
	})
	return nil
}

// Enable clears the runtime flag and its metadata.
func (s *Switch) Enable(ctx context.Context) error {
	return s.store.Del(ctx, keyDisabled, keyMeta)
}

// GetMeta returns the disable metadata when present.
func (s *Switch) GetMeta(ctx context.Context) (Meta, bool) {
	raw, ok, err := s.store.Get(ctx, keyMeta)
	if err != nil || !ok {
		return Meta{}, false
	}
	var m Meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Meta{}, false
	}
	return m, true
}

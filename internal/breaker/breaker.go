// Package breaker implements the upstream circuit breaker.
//
// DESIGN: Closed until a caller observes a qualifying provider failure and
// trips it open for N seconds; it closes again by simple expiry. There is no
// half-open probing: the first call after expiry proceeds and re-trips on
// failure. The authoritative "open until" timestamp lives in the shared
// store so all processes fail fast together; a local mirror keeps the
// breaker effective within this process when the store is unreachable.
package breaker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nardology/ai-gateway/internal/incident"
	"github.com/nardology/ai-gateway/internal/store"
)

const keyOpenUntil = "ai:breaker:open_until"

// Breaker is the process handle to the shared circuit breaker.
type Breaker struct {
	store    store.Store
	notifier incident.Notifier
	now      func() time.Time

	mu         sync.Mutex
	localUntil time.Time
}

// New builds a Breaker. The notifier receives an incident on each new open.
func New(st store.Store, n incident.Notifier) *Breaker {
	if n == nil {
		n = incident.Nop{}
	}
	return &Breaker{store: st, notifier: n, now: time.Now}
}

// RemainingOpen returns how long the breaker stays open, or zero if closed.
// The local mirror and the shared value are combined with max so neither a
// store outage nor a stale local view can shorten an open window.
func (b *Breaker) RemainingOpen(ctx context.Context) time.Duration {
	now := b.now()

	b.mu.Lock()
	rem := b.localUntil.Sub(now)
	b.mu.Unlock()

	v, ok, err := b.store.Get(ctx, keyOpenUntil)
	if err != nil {
		log.Debug().Err(err).Msg("breaker read failed, using local state")
	} else if ok {
		if until, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			if d := time.Unix(until, 0).Sub(now); d > rem {
				rem = d
			}
		}
	}

	if rem < 0 {
		return 0
	}
	return rem.Round(time.Second)
}

// Trip opens the breaker for d. Concurrent trips overwrite each other,
// which is acceptable: trips are rare and self-healing.
func (b *Breaker) Trip(ctx context.Context, d time.Duration) {
	if d < time.Second {
		d = time.Second
	}
	now := b.now()
	until := now.Add(d)

	b.mu.Lock()
	newOpen := until.After(b.localUntil.Add(time.Second))
	if until.After(b.localUntil) {
		b.localUntil = until
	}
	b.mu.Unlock()

	if err := b.store.SetEX(ctx, keyOpenUntil, strconv.FormatInt(until.Unix(), 10), d); err != nil {
		log.Debug().Err(err).Msg("breaker write failed, local state only")
	}

	if newOpen {
		log.Warn().Dur("open_for", d).Msg("circuit breaker tripped")
		b.notifier.Notify(ctx, incident.Incident{
			Kind:   incident.KindCircuitBreakerOpen,
			Reason: "circuit breaker tripped for ~" + strconv.Itoa(int(d.Seconds())) + "s",
			Fields: map[string]string{"seconds": strconv.Itoa(int(d.Seconds()))},
		})
	}
}

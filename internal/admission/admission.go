// Package admission bounds the number of simultaneous in-flight provider
// calls per scope (globally and per tenant).
//
// DESIGN: Slot accounting lives in the shared store (atomic double-counter
// plus a lease key, so crashed holders self-expire), which keeps it correct
// across cooperating processes. A process-local semaphore sized to the
// global ceiling is a second, independent safety valve: even a misconfigured
// or briefly flaky distributed counter cannot let this process exceed it.
// Unbounded concurrency against a metered paid API is unacceptable, so this
// gate fails closed when the store is unreachable.
package admission

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nardology/ai-gateway/internal/config"
	"github.com/nardology/ai-gateway/internal/store"
)

const (
	keyGlobal       = "ai:conc:global"
	keyTenantPrefix = "ai:conc:tenant:"
	keyLeasePrefix  = "ai:lease:"

	// releaseTimeout bounds the store call made on Release, which may run
	// after the caller's context is already done.
	releaseTimeout = 5 * time.Second
)

// Denial modes reported to callers.
const (
	ModeAcquired     = "acquired"
	ModeRejected     = "rejected"
	ModeQueueTimeout = "queued_timeout"
	ModeStoreDown    = "store_unavailable"
)

// Result describes one acquisition attempt.
type Result struct {
	OK         bool
	Mode       string
	Waited     time.Duration
	RetryAfter time.Duration
	Reason     string
}

// Slot is one acquired concurrency slot. Release must be called on every
// exit path; it is idempotent.
type Slot struct {
	once    sync.Once
	release func()
}

// Release returns the slot. Calling it more than once is a no-op.
func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.release)
}

// Controller hands out scoped concurrency slots.
type Controller struct {
	store store.Store
	cfg   config.AdmissionConfig

	localSem chan struct{}
}

// New builds a Controller.
func New(st store.Store, cfg config.AdmissionConfig) *Controller {
	return &Controller{
		store:    st,
		cfg:      cfg,
		localSem: make(chan struct{}, cfg.GlobalLimit),
	}
}

// Acquire takes a slot for (tenant, tier). Free-tier callers are rejected
// immediately when full; pro-tier callers poll for a short queue window.
func (c *Controller) Acquire(ctx context.Context, tenantID, tier string) (*Slot, Result) {
	// Local safety valve first. If this process is already at the global
	// ceiling there is no point talking to the store.
	select {
	case c.localSem <- struct{}{}:
	default:
		return nil, Result{Mode: ModeRejected, RetryAfter: 10 * time.Second, Reason: "process_full"}
	}

	leaseID := uuid.New().String()
	leaseKey := keyLeasePrefix + leaseID
	tenantKey := keyTenantPrefix + tenantID

	maxWait := c.queueWait(tier)
	start := time.Now()

	for {
		reply, err := c.store.AcquireSlot(ctx, store.SlotRequest{
			GlobalKey:   keyGlobal,
			ScopeKey:    tenantKey,
			LeaseKey:    leaseKey,
			GlobalLimit: c.cfg.GlobalLimit,
			ScopeLimit:  c.cfg.TenantLimit,
			LeaseTTL:    c.cfg.LeaseTTL.Std(),
		})
		if err != nil {
			// Fail closed: deny rather than run unmetered.
			<-c.localSem
			log.Warn().Err(err).Msg("slot store unavailable, denying admission")
			return nil, Result{Mode: ModeStoreDown, RetryAfter: 10 * time.Second, Reason: "store_error"}
		}

		if reply.Acquired {
			return c.newSlot(tenantKey, leaseKey), Result{
				OK:     true,
				Mode:   ModeAcquired,
				Waited: time.Since(start).Round(time.Second),
				Reason: reply.Reason,
			}
		}

		waited := time.Since(start)
		if maxWait <= 0 {
			<-c.localSem
			return nil, Result{
				Mode:       ModeRejected,
				Waited:     waited.Round(time.Second),
				RetryAfter: retryAfterFor(reply.Reason),
				Reason:     reply.Reason,
			}
		}
		if waited >= maxWait {
			<-c.localSem
			return nil, Result{
				Mode:       ModeQueueTimeout,
				Waited:     waited.Round(time.Second),
				RetryAfter: 5 * time.Second,
				Reason:     reply.Reason,
			}
		}

		select {
		case <-ctx.Done():
			<-c.localSem
			return nil, Result{
				Mode:       ModeQueueTimeout,
				Waited:     waited.Round(time.Second),
				RetryAfter: 5 * time.Second,
				Reason:     "context_done",
			}
		case <-time.After(c.pollStep()):
		}
	}
}

func (c *Controller) newSlot(tenantKey, leaseKey string) *Slot {
	return &Slot{release: func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if _, err := c.store.ReleaseSlot(ctx, keyGlobal, tenantKey, leaseKey); err != nil {
			// The lease TTL reclaims the slot if this fails.
			log.Debug().Err(err).Msg("slot release failed")
		}
		<-c.localSem
	}}
}

func (c *Controller) queueWait(tier string) time.Duration {
	if strings.EqualFold(strings.TrimSpace(tier), config.TierPro) {
		return c.cfg.QueueWaitPro.Std()
	}
	return c.cfg.QueueWaitFree.Std()
}

func (c *Controller) pollStep() time.Duration {
	if step := c.cfg.PollStep.Std(); step > 0 {
		return step
	}
	return config.DefaultQueuePollStep
}

func retryAfterFor(reason string) time.Duration {
	switch reason {
	case store.ReasonGlobalFull, store.ReasonScopeFull:
		return 10 * time.Second
	default:
		return 5 * time.Second
	}
}

package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hogarperu/rentals/internal/ledger"
)

// Sweeper periodically marks PENDING invoices past their payment window as
// EXPIRED. It takes the same per-reference locks as webhook-driven
// transitions, so a sweep and a late webhook can never interleave on one
// invoice.
type Sweeper struct {
	engine   *Engine
	store    ledger.Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates an expiration sweeper.
func NewSweeper(engine *Engine, store ledger.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		engine:   engine,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in expiration sweep", "panic", fmt.Sprint(r))
		}
	}()
	s.Sweep(ctx)
}

// Sweep runs one expiration pass. Exported so tests and operational tools
// can trigger it directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()

	expired, err := s.store.ListExpiredPending(ctx, now, 100)
	if err != nil {
		s.logger.Warn("failed to list expired invoices", "error", err)
		return
	}

	for _, inv := range expired {
		if err := s.sweepOne(ctx, inv.PublicID); err != nil {
			s.logger.Warn("failed to expire invoice", "invoice", inv.PublicID, "error", err)
			continue
		}
	}
}

// sweepOne expires a single invoice under its reconciliation lock. The
// status is re-checked inside the unit of work: a webhook may have settled
// the invoice between the listing and the lock. The linked payment stays
// PENDING so the payer can request a fresh link.
func (s *Sweeper) sweepOne(ctx context.Context, invoiceRef string) error {
	unlock, err := s.engine.locks.LockContext(ctx, invoiceRef)
	if err != nil {
		return err
	}
	defer unlock()

	var swept bool
	err = s.store.Atomic(ctx, func(tx ledger.Tx) error {
		inv, err := tx.InvoiceByPublicID(ctx, invoiceRef)
		if err != nil {
			return err
		}
		if inv.Status.Terminal() || !inv.ExpiredAt(time.Now()) {
			return nil
		}
		inv.Status = ledger.InvoiceExpired
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		swept = true
		return nil
	})
	if err != nil {
		return err
	}
	if swept {
		SweptInvoicesTotal.Inc()
		s.logger.Info("invoice expired", "invoice", invoiceRef)
	}
	return nil
}

package reconcile

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogarperu/rentals/internal/ledger"
	"github.com/hogarperu/rentals/internal/provider"
)

func TestSweeper_ExpiresPendingInvoices(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, pay, _, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})
	sweeper := NewSweeper(engine, store, time.Minute, slog.Default())

	past := time.Now().Add(-time.Hour)
	got, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	got.ExpiresAt = &past
	require.NoError(t, store.UpdateInvoice(ctx, got))

	sweeper.Sweep(ctx)

	gotInv, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoiceExpired, gotInv.Status)

	// The payment stays open so the payer can request a fresh link.
	gotPay, _ := store.PaymentByPublicID(ctx, pay.PublicID)
	assert.Equal(t, ledger.PaymentPending, gotPay.Status)
}

func TestSweeper_LeavesFreshAndSettledInvoicesAlone(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, _, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})
	sweeper := NewSweeper(engine, store, time.Minute, slog.Default())

	// Fresh invoice, window still open.
	sweeper.Sweep(ctx)
	gotInv, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoicePending, gotInv.Status)

	// Settle it, then push the window into the past. The sweep must not
	// override a terminal state.
	_, err := engine.Apply(ctx, paidEvent(inv.PublicID, 150000), -1)
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	got, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	got.ExpiresAt = &past
	require.NoError(t, store.UpdateInvoice(ctx, got))

	sweeper.Sweep(ctx)
	gotInv, _ = store.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoicePaid, gotInv.Status)
}

func TestSweeper_SweptInvoiceRejectsLatePayment(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, _, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})
	sweeper := NewSweeper(engine, store, time.Minute, slog.Default())

	past := time.Now().Add(-time.Hour)
	got, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	got.ExpiresAt = &past
	require.NoError(t, store.UpdateInvoice(ctx, got))

	sweeper.Sweep(ctx)

	_, err := engine.Apply(ctx, paidEvent(inv.PublicID, 150000), -1)
	var terr *ledger.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ledger.InvoiceExpired, terr.From)
	assert.Equal(t, ledger.InvoicePaid, terr.To)
}

func TestSweeper_StartStop(t *testing.T) {
	store := ledger.NewMemoryStore()
	engine := NewEngine(store, Options{})
	sweeper := NewSweeper(engine, store, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Start(ctx)

	assert.Eventually(t, sweeper.Running, time.Second, 5*time.Millisecond)
	sweeper.Stop()
	assert.Eventually(t, func() bool { return !sweeper.Running() }, time.Second, 5*time.Millisecond)
}

// A duplicate EXPIRED webhook after the sweep is absorbed by the
// idempotency gate, not treated as an illegal transition.
func TestSweeper_ExpiredWebhookAfterSweepIsDuplicate(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, _, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})
	sweeper := NewSweeper(engine, store, time.Minute, slog.Default())

	past := time.Now().Add(-time.Hour)
	got, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	got.ExpiresAt = &past
	require.NoError(t, store.UpdateInvoice(ctx, got))

	sweeper.Sweep(ctx)

	ev := paidEvent(inv.PublicID, 150000)
	ev.Status = provider.StatusExpired
	res, err := engine.Apply(ctx, ev, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
}

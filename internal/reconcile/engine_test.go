package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogarperu/rentals/internal/ledger"
	"github.com/hogarperu/rentals/internal/money"
	"github.com/hogarperu/rentals/internal/provider"
)

// seedLedger builds the standard fixture: a booking, its debtor owing two
// months of rent, a PENDING payment for one month and a PENDING invoice
// collecting it through mercadopago.
func seedLedger(t *testing.T, s *ledger.MemoryStore) (*ledger.Invoice, *ledger.Payment, *ledger.Debtor, *ledger.Booking) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	booking := &ledger.Booking{
		PublicID:      "bkg_fixture01",
		PropertyRef:   "prop-1",
		PropertyTitle: "Depa en Miraflores",
		OwnerRef:      "user-owner",
		TenantRef:     "user-tenant",
		TenantEmail:   "ana@example.com",
		Status:        ledger.BookingReserved,
		PaymentStatus: ledger.BookingPaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.CreateBooking(ctx, booking))

	debtor, err := s.GetOrCreateDebtor(ctx, &ledger.Debtor{
		PublicID:    "deb_fixture01",
		PropertyRef: "prop-1",
		OwnerRef:    "user-owner",
		Name:        "Ana",
		Email:       "ana@example.com",
		MonthlyRent: 150000,
		DebtAmount:  300000,
		Status:      ledger.DebtorOverdue,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.NoError(t, err)

	payment := &ledger.Payment{
		PublicID:   "pay_fixture01",
		DebtorRef:  debtor.PublicID,
		Period:     "2026-08",
		Amount:     150000,
		Currency:   "PEN",
		MethodCode: "card",
		Status:     ledger.PaymentPending,
		BookingRef: booking.PublicID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.CreatePayment(ctx, payment))

	expires := now.Add(24 * time.Hour)
	invoice := &ledger.Invoice{
		PublicID:   "inv_fixture01",
		PaymentRef: payment.PublicID,
		Amount:     150000,
		Currency:   "PEN",
		Provider:   provider.CodeMercadoPago,
		Status:     ledger.InvoicePending,
		ExpiresAt:  &expires,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.CreateInvoice(ctx, invoice))

	return invoice, payment, debtor, booking
}

func paidEvent(orderRef string, amount money.Amount) *provider.CanonicalEvent {
	return &provider.CanonicalEvent{
		Provider:   provider.CodeMercadoPago,
		OrderRef:   orderRef,
		ExternalID: "mp-1",
		Status:     provider.StatusPaid,
		Amount:     amount,
		Currency:   "PEN",
		Metadata:   []byte(`{"type":"payment"}`),
	}
}

func TestResolveOrderRef(t *testing.T) {
	cases := []struct {
		orderID, ref, kind string
	}{
		{"inv_abc123def456", "inv_abc123def456", "inv"},
		{"bkg_abc123def456", "bkg_abc123def456", "bkg"},
		{"ALQ-bkg_abc123def-1712345678", "bkg_abc123def", "bkg"},
		{"ALQ-unt_abc123def-1712345678", "", ""},
		{"ord_12345", "", ""},
		{"", "", ""},
	}
	for _, c := range cases {
		ref, kind := ResolveOrderRef(c.orderID)
		assert.Equal(t, c.ref, ref, c.orderID)
		assert.Equal(t, c.kind, kind, c.orderID)
	}
}

func TestApply_HappyPath(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, pay, deb, bkg := seedLedger(t, store)
	engine := NewEngine(store, Options{})

	res, err := engine.Apply(ctx, paidEvent(inv.PublicID, 150000), -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	gotInv, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoicePaid, gotInv.Status)
	assert.NotNil(t, gotInv.PaidAt)

	gotPay, _ := store.PaymentByPublicID(ctx, pay.PublicID)
	assert.Equal(t, ledger.PaymentPaid, gotPay.Status)
	assert.NotNil(t, gotPay.PaidAt)

	gotDeb, _ := store.DebtorByPublicID(ctx, deb.PublicID)
	assert.Equal(t, money.Amount(150000), gotDeb.DebtAmount)
	assert.Equal(t, ledger.DebtorOverdue, gotDeb.Status)

	gotBkg, _ := store.BookingByPublicID(ctx, bkg.PublicID)
	assert.Equal(t, ledger.BookingPaymentPaid, gotBkg.PaymentStatus)
	assert.Equal(t, ledger.BookingConfirmed, gotBkg.Status)

	tenantNotes, _ := store.ListNotifications(ctx, "user-tenant", 10)
	require.Len(t, tenantNotes, 1)
	assert.Equal(t, "payment_completed", tenantNotes[0].Type)

	ownerNotes, _ := store.ListNotifications(ctx, "user-owner", 10)
	require.Len(t, ownerNotes, 1)
	assert.Equal(t, "payment_received", ownerNotes[0].Type)
}

func TestApply_Tolerance(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, _, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})

	// 100.00 invoice semantics scaled onto the fixture: 0.5% under is
	// accepted, 10% under is not. Rejection keeps the invoice PENDING.
	under := paidEvent(inv.PublicID, 149400) // 0.4% under
	short := paidEvent(inv.PublicID, 135000) // 10% under

	_, err := engine.Apply(ctx, short, 50)
	var terr *ledger.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Reason, "tolerance")

	gotInv, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoicePending, gotInv.Status)

	res, err := engine.Apply(ctx, under, 50)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	gotInv, _ = store.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoicePaid, gotInv.Status)
}

func TestApply_ToleranceDefaults(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, _, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{FiatToleranceBps: 0, CryptoToleranceBps: 50})

	// Fiat default is exact: one cent under is rejected.
	_, err := engine.Apply(ctx, paidEvent(inv.PublicID, 149999), -1)
	var terr *ledger.TransitionError
	assert.ErrorAs(t, err, &terr)

	// Overpayment is always accepted.
	res, err := engine.Apply(ctx, paidEvent(inv.PublicID, 150100), -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
}

func TestApply_DuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, deb, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})

	ev := paidEvent(inv.PublicID, 150000)

	first, err := engine.Apply(ctx, ev, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, first.Outcome)

	second, err := engine.Apply(ctx, ev, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	// Redelivery debits nothing and notifies nobody a second time.
	gotDeb, _ := store.DebtorByPublicID(ctx, deb.PublicID)
	assert.Equal(t, money.Amount(150000), gotDeb.DebtAmount)
	notes, _ := store.ListNotifications(ctx, "user-tenant", 10)
	assert.Len(t, notes, 1)
}

func TestApply_UnknownReference(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	seedLedger(t, store)
	engine := NewEngine(store, Options{})

	res, err := engine.Apply(ctx, paidEvent("inv_doesnotexist", 150000), -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, "unknown invoice", res.Reason)

	res, err = engine.Apply(ctx, paidEvent("ord_garbage", 150000), -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
}

func TestApply_NoRegressionFromTerminal(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, _, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})

	_, err := engine.Apply(ctx, paidEvent(inv.PublicID, 150000), -1)
	require.NoError(t, err)

	failed := paidEvent(inv.PublicID, 150000)
	failed.Status = provider.StatusFailed
	_, err = engine.Apply(ctx, failed, -1)
	var terr *ledger.TransitionError
	require.ErrorAs(t, err, &terr)

	gotInv, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoicePaid, gotInv.Status)
}

func TestApply_FailedEventNeverTouchesDebt(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, pay, deb, bkg := seedLedger(t, store)
	engine := NewEngine(store, Options{})

	ev := paidEvent(inv.PublicID, 150000)
	ev.Status = provider.StatusFailed

	res, err := engine.Apply(ctx, ev, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	gotInv, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoiceFailed, gotInv.Status)
	gotPay, _ := store.PaymentByPublicID(ctx, pay.PublicID)
	assert.Equal(t, ledger.PaymentFailed, gotPay.Status)
	gotDeb, _ := store.DebtorByPublicID(ctx, deb.PublicID)
	assert.Equal(t, money.Amount(300000), gotDeb.DebtAmount)
	gotBkg, _ := store.BookingByPublicID(ctx, bkg.PublicID)
	assert.Equal(t, ledger.BookingPaymentFailed, gotBkg.PaymentStatus)

	notes, _ := store.ListNotifications(ctx, "user-tenant", 10)
	require.Len(t, notes, 1)
	assert.Equal(t, "payment_failed", notes[0].Type)
}

func TestApply_DebtFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, deb, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})

	// Shrink the outstanding debt below the payment amount.
	d, _ := store.DebtorByPublicID(ctx, deb.PublicID)
	d.DebtAmount = 100000
	require.NoError(t, store.UpdateDebtor(ctx, d))

	_, err := engine.Apply(ctx, paidEvent(inv.PublicID, 150000), -1)
	require.NoError(t, err)

	gotDeb, _ := store.DebtorByPublicID(ctx, deb.PublicID)
	assert.Equal(t, money.Amount(0), gotDeb.DebtAmount)
	assert.Equal(t, ledger.DebtorCurrent, gotDeb.Status)
}

func TestApply_PaidAfterExpiry(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, pay, _, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})

	// Close the payment window.
	past := time.Now().Add(-time.Hour)
	got, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	got.ExpiresAt = &past
	require.NoError(t, store.UpdateInvoice(ctx, got))

	_, err := engine.Apply(ctx, paidEvent(inv.PublicID, 150000), -1)
	var terr *ledger.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "payment window closed", terr.Reason)

	// The rejection swept the invoice; the payment stays open for a
	// fresh link.
	gotInv, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoiceExpired, gotInv.Status)
	gotPay, _ := store.PaymentByPublicID(ctx, pay.PublicID)
	assert.Equal(t, ledger.PaymentPending, gotPay.Status)
}

func TestApply_PaidAfterExpiry_AcceptPolicy(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, _, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{AcceptPaidAfterExpired: true})

	past := time.Now().Add(-time.Hour)
	got, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	got.ExpiresAt = &past
	require.NoError(t, store.UpdateInvoice(ctx, got))

	res, err := engine.Apply(ctx, paidEvent(inv.PublicID, 150000), -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
}

// secondInvoice mints a sibling PENDING invoice collecting the same
// payment, the shape a retried checkout produces.
func secondInvoice(t *testing.T, s *ledger.MemoryStore, pay *ledger.Payment) *ledger.Invoice {
	t.Helper()
	now := time.Now()
	expires := now.Add(24 * time.Hour)
	inv := &ledger.Invoice{
		PublicID:   "inv_fixture02",
		PaymentRef: pay.PublicID,
		Amount:     pay.Amount,
		Currency:   pay.Currency,
		Provider:   provider.CodeMercadoPago,
		Status:     ledger.InvoicePending,
		ExpiresAt:  &expires,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.CreateInvoice(context.Background(), inv))
	return inv
}

func TestApply_SiblingInvoiceCannotResettlePayment(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv1, pay, deb, _ := seedLedger(t, store)
	inv2 := secondInvoice(t, store, pay)
	engine := NewEngine(store, Options{})

	res, err := engine.Apply(ctx, paidEvent(inv1.PublicID, 150000), -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	// The sibling holds a different reference, so the per-reference lock
	// and the invoice gate both pass; the payment row must refuse it.
	_, err = engine.Apply(ctx, paidEvent(inv2.PublicID, 150000), -1)
	var terr *ledger.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Reason, "already settled")

	// One debit, not two.
	gotDeb, _ := store.DebtorByPublicID(ctx, deb.PublicID)
	assert.Equal(t, money.Amount(150000), gotDeb.DebtAmount)

	gotInv2, _ := store.InvoiceByPublicID(ctx, inv2.PublicID)
	assert.Equal(t, ledger.InvoicePending, gotInv2.Status)
	gotPay, _ := store.PaymentByPublicID(ctx, pay.PublicID)
	assert.Equal(t, ledger.PaymentPaid, gotPay.Status)
}

func TestApply_SiblingInvoiceLateFailureLeavesSettlement(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv1, pay, deb, bkg := seedLedger(t, store)
	inv2 := secondInvoice(t, store, pay)
	engine := NewEngine(store, Options{})

	_, err := engine.Apply(ctx, paidEvent(inv1.PublicID, 150000), -1)
	require.NoError(t, err)

	// The abandoned sibling fails at the provider. Its own row records
	// that; the settled payment, debt and booking are untouchable.
	failed := paidEvent(inv2.PublicID, 150000)
	failed.Status = provider.StatusFailed
	res, err := engine.Apply(ctx, failed, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	gotInv2, _ := store.InvoiceByPublicID(ctx, inv2.PublicID)
	assert.Equal(t, ledger.InvoiceFailed, gotInv2.Status)
	gotPay, _ := store.PaymentByPublicID(ctx, pay.PublicID)
	assert.Equal(t, ledger.PaymentPaid, gotPay.Status)
	gotDeb, _ := store.DebtorByPublicID(ctx, deb.PublicID)
	assert.Equal(t, money.Amount(150000), gotDeb.DebtAmount)
	gotBkg, _ := store.BookingByPublicID(ctx, bkg.PublicID)
	assert.Equal(t, ledger.BookingPaymentPaid, gotBkg.PaymentStatus)
	assert.Equal(t, ledger.BookingConfirmed, gotBkg.Status)

	// No contradictory "payment failed" message after the success.
	notes, _ := store.ListNotifications(ctx, "user-tenant", 10)
	require.Len(t, notes, 1)
	assert.Equal(t, "payment_completed", notes[0].Type)
}

func TestApply_LazyDebtorCreation(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	now := time.Now()

	booking := &ledger.Booking{
		PublicID:      "bkg_lazydeb01",
		PropertyRef:   "prop-9",
		OwnerRef:      "user-owner",
		TenantRef:     "user-tenant",
		TenantEmail:   "Luis@Example.com",
		Status:        ledger.BookingReserved,
		PaymentStatus: ledger.BookingPaymentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.CreateBooking(ctx, booking))

	// No ledger holder yet: the booking workflow has not needed one.
	payment := &ledger.Payment{
		PublicID:   "pay_lazydeb01",
		Period:     "2026-08",
		Amount:     150000,
		Currency:   "PEN",
		Status:     ledger.PaymentPending,
		BookingRef: booking.PublicID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, store.CreatePayment(ctx, payment))

	expires := now.Add(24 * time.Hour)
	invoice := &ledger.Invoice{
		PublicID:   "inv_lazydeb01",
		PaymentRef: payment.PublicID,
		Amount:     150000,
		Currency:   "PEN",
		Provider:   provider.CodeMercadoPago,
		Status:     ledger.InvoicePending,
		ExpiresAt:  &expires,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, store.CreateInvoice(ctx, invoice))

	engine := NewEngine(store, Options{})
	res, err := engine.Apply(ctx, paidEvent(invoice.PublicID, 150000), -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	// The holder was created from the booking's natural key and linked
	// back to the payment.
	gotPay, _ := store.PaymentByPublicID(ctx, payment.PublicID)
	require.NotEmpty(t, gotPay.DebtorRef)
	assert.Equal(t, ledger.PaymentPaid, gotPay.Status)

	gotDeb, err := store.DebtorByPublicID(ctx, gotPay.DebtorRef)
	require.NoError(t, err)
	assert.Equal(t, "prop-9", gotDeb.PropertyRef)
	assert.Equal(t, "user-owner", gotDeb.OwnerRef)
	assert.Equal(t, "luis@example.com", gotDeb.Email)
	assert.Equal(t, money.Amount(0), gotDeb.DebtAmount)
	assert.Equal(t, ledger.DebtorCurrent, gotDeb.Status)

	// The natural key is registered: the next lookup reuses the row.
	same, err := store.GetOrCreateDebtor(ctx, &ledger.Debtor{
		PublicID:    "deb_lazydeb99",
		PropertyRef: "prop-9",
		Email:       "luis@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, gotPay.DebtorRef, same.PublicID)
}

func TestApply_NonTerminalStatusIgnored(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, _, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})

	ev := paidEvent(inv.PublicID, 150000)
	ev.Status = provider.StatusPending

	res, err := engine.Apply(ctx, ev, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)

	gotInv, _ := store.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoicePending, gotInv.Status)
}

func TestApply_DirectBookingFlow(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	_, _, _, bkg := seedLedger(t, store)
	engine := NewEngine(store, Options{})

	confirming := &provider.CanonicalEvent{
		Provider: provider.CodeNowPayments,
		OrderRef: bkg.PublicID,
		Status:   provider.StatusConfirming,
		Amount:   10000,
		Currency: "USD",
	}
	res, err := engine.Apply(ctx, confirming, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	gotBkg, _ := store.BookingByPublicID(ctx, bkg.PublicID)
	assert.Equal(t, ledger.BookingPaymentConfirming, gotBkg.PaymentStatus)
	assert.Equal(t, ledger.BookingReserved, gotBkg.Status)

	finished := &provider.CanonicalEvent{
		Provider: provider.CodeNowPayments,
		OrderRef: bkg.PublicID,
		Status:   provider.StatusPaid,
		Amount:   10000,
		Currency: "USD",
	}
	res, err = engine.Apply(ctx, finished, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	gotBkg, _ = store.BookingByPublicID(ctx, bkg.PublicID)
	assert.Equal(t, ledger.BookingPaymentPaid, gotBkg.PaymentStatus)
	assert.Equal(t, ledger.BookingConfirmed, gotBkg.Status)

	// Redelivery is a no-op.
	res, err = engine.Apply(ctx, finished, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	notes, _ := store.ListNotifications(ctx, "user-tenant", 10)
	assert.Len(t, notes, 1)
}

func TestApply_LegacyOrderFormat(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	_, _, _, bkg := seedLedger(t, store)
	engine := NewEngine(store, Options{})

	ev := &provider.CanonicalEvent{
		Provider: provider.CodeNowPayments,
		OrderRef: "ALQ-" + bkg.PublicID + "-1712345678",
		Status:   provider.StatusPaid,
		Amount:   10000,
		Currency: "USD",
	}
	res, err := engine.Apply(ctx, ev, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, bkg.PublicID, res.BookingRef)
}

// crashStore injects one persistence failure into the next unit of work,
// simulating a crash between the invoice and payment writes.
type crashStore struct {
	ledger.Store
	failures int32
}

func (c *crashStore) Atomic(ctx context.Context, fn func(ledger.Tx) error) error {
	return c.Store.Atomic(ctx, func(tx ledger.Tx) error {
		return fn(&crashTx{Tx: tx, store: c})
	})
}

type crashTx struct {
	ledger.Tx
	store *crashStore
}

func (t *crashTx) UpdatePayment(ctx context.Context, p *ledger.Payment) error {
	if atomic.AddInt32(&t.store.failures, -1) >= 0 {
		return errors.New("injected persistence failure")
	}
	return t.Tx.UpdatePayment(ctx, p)
}

func TestApply_AtomicityUnderFailureInjection(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemoryStore()
	inv, pay, deb, _ := seedLedger(t, mem)
	store := &crashStore{Store: mem, failures: 1}
	engine := NewEngine(store, Options{})

	ev := paidEvent(inv.PublicID, 150000)

	_, err := engine.Apply(ctx, ev, -1)
	require.Error(t, err)

	// Nothing half-applied: the invoice write rolled back with the
	// payment write.
	gotInv, _ := mem.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoicePending, gotInv.Status)
	gotPay, _ := mem.PaymentByPublicID(ctx, pay.PublicID)
	assert.Equal(t, ledger.PaymentPending, gotPay.Status)
	gotDeb, _ := mem.DebtorByPublicID(ctx, deb.PublicID)
	assert.Equal(t, money.Amount(300000), gotDeb.DebtAmount)

	// Provider redelivery converges to full consistency.
	res, err := engine.Apply(ctx, ev, -1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)

	gotInv, _ = mem.InvoiceByPublicID(ctx, inv.PublicID)
	assert.Equal(t, ledger.InvoicePaid, gotInv.Status)
	gotPay, _ = mem.PaymentByPublicID(ctx, pay.PublicID)
	assert.Equal(t, ledger.PaymentPaid, gotPay.Status)
	gotDeb, _ = mem.DebtorByPublicID(ctx, deb.PublicID)
	assert.Equal(t, money.Amount(150000), gotDeb.DebtAmount)
}

func TestApply_ConcurrentDeliveries(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, deb, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})

	const n = 8
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := engine.Apply(ctx, paidEvent(inv.PublicID, 150000), -1)
			if err == nil {
				outcomes[i] = res.Outcome
			}
		}(i)
	}
	wg.Wait()

	var processed, duplicate int
	for _, o := range outcomes {
		switch o {
		case OutcomeProcessed:
			processed++
		case OutcomeDuplicate:
			duplicate++
		}
	}
	assert.Equal(t, 1, processed, "exactly one delivery wins")
	assert.Equal(t, n-1, duplicate)

	// Exactly one debit and one tenant notification.
	gotDeb, _ := store.DebtorByPublicID(ctx, deb.PublicID)
	assert.Equal(t, money.Amount(150000), gotDeb.DebtAmount)
	notes, _ := store.ListNotifications(ctx, "user-tenant", 20)
	assert.Len(t, notes, 1)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []PaymentEvent
}

func (c *capturePublisher) PublishPayment(ev PaymentEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func TestApply_PublishesRealtimeEvent(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	inv, _, _, _ := seedLedger(t, store)
	engine := NewEngine(store, Options{})
	pub := &capturePublisher{}
	engine.SetPublisher(pub)

	_, err := engine.Apply(ctx, paidEvent(inv.PublicID, 150000), -1)
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	assert.Equal(t, inv.PublicID, pub.events[0].InvoiceRef)
	assert.Equal(t, provider.StatusPaid, pub.events[0].Status)
}

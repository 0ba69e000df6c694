// Package reconcile applies canonical payment events to the ledger.
//
// One event touches up to five entities (Invoice, Payment, Debtor, Booking,
// Notification). The engine serializes events per order reference, gates on
// idempotency before any mutation, and groups ledger writes in one atomic
// unit of work so a crash can never leave a payment half-applied.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hogarperu/rentals/internal/idgen"
	"github.com/hogarperu/rentals/internal/ledger"
	"github.com/hogarperu/rentals/internal/logging"
	"github.com/hogarperu/rentals/internal/money"
	"github.com/hogarperu/rentals/internal/provider"
	"github.com/hogarperu/rentals/internal/syncutil"
)

// Outcome classifies what one Apply call did.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Result is the summary of one reconciliation.
type Result struct {
	Outcome    Outcome
	InvoiceRef string
	BookingRef string
	Status     provider.Status
	Reason     string // set for ignored results
}

// Options tune reconciliation behavior. Zero values give the strict
// defaults: exact fiat amounts and PAID-after-expiry rejected.
type Options struct {
	// FiatToleranceBps is the default underpayment slack for fiat
	// providers when the method config carries none.
	FiatToleranceBps int
	// CryptoToleranceBps absorbs conversion slippage on crypto
	// settlements when the method config carries none.
	CryptoToleranceBps int
	// AcceptPaidAfterExpired lets a PAID event settle an invoice whose
	// payment window already closed. Default is to reject and keep the
	// invoice EXPIRED.
	AcceptPaidAfterExpired bool
}

// Publisher receives payment events for the realtime stream. Emission is
// best-effort and never blocks reconciliation.
type Publisher interface {
	PublishPayment(event PaymentEvent)
}

// PaymentEvent is the realtime notification shape.
type PaymentEvent struct {
	Provider   string          `json:"provider"`
	InvoiceRef string          `json:"invoiceRef,omitempty"`
	BookingRef string          `json:"bookingRef,omitempty"`
	Status     provider.Status `json:"status"`
	Amount     money.Amount    `json:"amount"`
	Currency   string          `json:"currency"`
}

// Engine is the reconciliation core. It is the only component that mutates
// ledger entities in response to provider events.
type Engine struct {
	store ledger.Store
	locks *syncutil.ContextShardedMutex
	opts  Options
	pub   Publisher // optional
	now   func() time.Time
}

// NewEngine creates a reconciliation engine over the given store.
func NewEngine(store ledger.Store, opts Options) *Engine {
	return &Engine{
		store: store,
		locks: syncutil.NewContextShardedMutex(),
		opts:  opts,
		now:   time.Now,
	}
}

// SetPublisher installs the realtime event publisher.
func (e *Engine) SetPublisher(p Publisher) { e.pub = p }

// ResolveOrderRef extracts the ledger reference from a provider order ID.
// Formats seen in the wild:
//
//	inv_xxxx               invoice public ID (checkout external reference)
//	bkg_xxxx               direct booking public ID (crypto checkout)
//	ALQ-bkg_xxxx-17123456  legacy order format wrapping a booking ID
//
// Returns the reference and its entity prefix, or "" when unrecognized.
func ResolveOrderRef(orderID string) (ref, kind string) {
	switch {
	case strings.HasPrefix(orderID, idgen.PrefixInvoice+"_"):
		return orderID, idgen.PrefixInvoice
	case strings.HasPrefix(orderID, idgen.PrefixBooking+"_"):
		return orderID, idgen.PrefixBooking
	case strings.HasPrefix(orderID, "ALQ-"):
		parts := strings.Split(orderID, "-")
		if len(parts) >= 2 && strings.HasPrefix(parts[1], idgen.PrefixBooking+"_") {
			return parts[1], idgen.PrefixBooking
		}
	}
	return "", ""
}

// Apply reconciles one canonical event. toleranceBps is the per-method
// underpayment slack; pass a negative value to fall back to the engine
// defaults. Illegal transitions surface as *ledger.TransitionError;
// persistence failures surface as-is so ingestion can signal a retry.
func (e *Engine) Apply(ctx context.Context, ev *provider.CanonicalEvent, toleranceBps int) (*Result, error) {
	start := e.now()
	log := logging.L(ctx).With("provider", ev.Provider, "order_ref", ev.OrderRef, "status", string(ev.Status))

	ref, kind := ResolveOrderRef(ev.OrderRef)
	if ref == "" {
		log.Info("event ignored", "reason", "unrecognized order reference")
		observeApply(ev.Provider, string(OutcomeIgnored), start)
		return &Result{Outcome: OutcomeIgnored, Status: ev.Status, Reason: "unrecognized order reference"}, nil
	}

	// Serialize per reference: two deliveries for the same invoice can
	// never both observe PENDING. Distinct references proceed in parallel.
	unlock, err := e.locks.LockContext(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var res *Result
	switch kind {
	case idgen.PrefixInvoice:
		res, err = e.applyInvoice(ctx, ev, ref, toleranceBps)
	case idgen.PrefixBooking:
		res, err = e.applyBooking(ctx, ev, ref)
	}
	if err != nil {
		observeApply(ev.Provider, "error", start)
		return nil, err
	}

	observeApply(ev.Provider, string(res.Outcome), start)
	if res.Outcome == OutcomeProcessed {
		log.Info("event reconciled", "invoice", res.InvoiceRef, "booking", res.BookingRef)
		e.publish(ev, res)
	}
	return res, nil
}

func (e *Engine) publish(ev *provider.CanonicalEvent, res *Result) {
	if e.pub == nil {
		return
	}
	e.pub.PublishPayment(PaymentEvent{
		Provider:   ev.Provider,
		InvoiceRef: res.InvoiceRef,
		BookingRef: res.BookingRef,
		Status:     ev.Status,
		Amount:     ev.Amount,
		Currency:   ev.Currency,
	})
}

func (e *Engine) toleranceFor(ev *provider.CanonicalEvent, toleranceBps int) int {
	if toleranceBps >= 0 {
		return toleranceBps
	}
	if ev.Provider == provider.CodeNowPayments {
		return e.opts.CryptoToleranceBps
	}
	return e.opts.FiatToleranceBps
}

func invoiceStatusFor(s provider.Status) (ledger.InvoiceStatus, bool) {
	switch s {
	case provider.StatusPaid:
		return ledger.InvoicePaid, true
	case provider.StatusFailed:
		return ledger.InvoiceFailed, true
	case provider.StatusExpired:
		return ledger.InvoiceExpired, true
	case provider.StatusCancelled:
		return ledger.InvoiceCancelled, true
	}
	return "", false
}

// applyInvoice runs steps 2-6 for an invoice-referenced event under the
// per-reference lock.
func (e *Engine) applyInvoice(ctx context.Context, ev *provider.CanonicalEvent, invoiceRef string, toleranceBps int) (*Result, error) {
	inv, err := e.store.InvoiceByPublicID(ctx, invoiceRef)
	if errors.Is(err, ledger.ErrInvoiceNotFound) {
		return &Result{Outcome: OutcomeIgnored, Status: ev.Status, Reason: "unknown invoice"}, nil
	}
	if err != nil {
		return nil, err
	}

	implied, terminal := invoiceStatusFor(ev.Status)
	if !terminal {
		// waiting/confirming progress reports carry nothing to settle.
		return &Result{Outcome: OutcomeIgnored, InvoiceRef: invoiceRef, Status: ev.Status, Reason: "non-terminal status"}, nil
	}

	// Idempotency gate: redelivery of the event that produced the current
	// terminal state is a success with zero mutation.
	if inv.Status == implied {
		return &Result{Outcome: OutcomeDuplicate, InvoiceRef: invoiceRef, Status: ev.Status}, nil
	}

	now := e.now()

	// Lazy expiry: a PAID event arriving after the payment window closed
	// is rejected unless configured otherwise; the sweep may not have
	// reached this invoice yet.
	if implied == ledger.InvoicePaid && inv.ExpiredAt(now) && !e.opts.AcceptPaidAfterExpired {
		if err := e.expireInvoice(ctx, invoiceRef); err != nil {
			return nil, err
		}
		return nil, &ledger.TransitionError{
			InvoiceRef: invoiceRef,
			From:       ledger.InvoiceExpired,
			To:         ledger.InvoicePaid,
			Reason:     "payment window closed",
		}
	}

	if !inv.Status.CanTransition(implied) {
		return nil, &ledger.TransitionError{InvoiceRef: invoiceRef, From: inv.Status, To: implied}
	}

	if implied == ledger.InvoicePaid {
		bps := e.toleranceFor(ev, toleranceBps)
		if !money.WithinTolerance(inv.Amount, ev.Amount, bps) {
			return nil, &ledger.TransitionError{
				InvoiceRef: invoiceRef,
				From:       inv.Status,
				To:         implied,
				Reason: fmt.Sprintf("paid amount %s outside tolerance of %s (%d bps)",
					ev.Amount, inv.Amount, bps),
			}
		}
	}

	var fanout fanoutState
	err = e.store.Atomic(ctx, func(tx ledger.Tx) error {
		return e.settleInvoice(ctx, tx, ev, invoiceRef, implied, now, &fanout)
	})
	if err != nil {
		return nil, err
	}
	if fanout.duplicate {
		return &Result{Outcome: OutcomeDuplicate, InvoiceRef: invoiceRef, Status: ev.Status}, nil
	}

	e.emitInvoiceNotifications(ctx, ev, &fanout)
	return &Result{Outcome: OutcomeProcessed, InvoiceRef: invoiceRef, BookingRef: fanout.bookingRef, Status: ev.Status}, nil
}

// fanoutState collects what settleInvoice touched so notifications can be
// emitted after the unit of work commits.
type fanoutState struct {
	payment    *ledger.Payment
	booking    *ledger.Booking
	bookingRef string
	duplicate  bool
}

// settleInvoice is the atomic body: re-read under row locks, re-check the
// gate, then write Invoice, Payment, Debtor and Booking together.
func (e *Engine) settleInvoice(ctx context.Context, tx ledger.Tx, ev *provider.CanonicalEvent, invoiceRef string, implied ledger.InvoiceStatus, now time.Time, out *fanoutState) error {
	inv, err := tx.InvoiceByPublicID(ctx, invoiceRef)
	if err != nil {
		return err
	}
	// Re-check under the transaction: another delivery may have settled
	// the invoice between the snapshot read and this lock.
	if inv.Status == implied {
		out.duplicate = true
		return nil
	}
	if !inv.Status.CanTransition(implied) {
		return &ledger.TransitionError{InvoiceRef: invoiceRef, From: inv.Status, To: implied}
	}

	var pay *ledger.Payment
	if inv.PaymentRef != "" {
		pay, err = tx.PaymentByPublicID(ctx, inv.PaymentRef)
		if err != nil {
			return err
		}
	}

	// At most one invoice per payment settles PAID. Retried checkouts mint
	// sibling invoices under different references, so the per-reference
	// lock alone cannot catch this; the payment row is the arbiter.
	settled := pay != nil && pay.Status == ledger.PaymentPaid
	if settled && implied == ledger.InvoicePaid {
		return &ledger.TransitionError{
			InvoiceRef: invoiceRef,
			From:       inv.Status,
			To:         implied,
			Reason:     "payment already settled by another invoice",
		}
	}

	inv.Status = implied
	inv.Metadata = ev.Metadata
	if implied == ledger.InvoicePaid {
		inv.PaidAt = &now
	}
	if err := tx.UpdateInvoice(ctx, inv); err != nil {
		return err
	}

	// A late failure or expiry on a sibling invoice touches only its own
	// row; the settled payment, debt and booking stay as they are.
	if pay == nil || settled {
		return nil
	}
	out.payment = pay

	var booking *ledger.Booking
	if pay.BookingRef != "" {
		booking, err = tx.BookingByPublicID(ctx, pay.BookingRef)
		if err != nil {
			return err
		}
	}

	switch implied {
	case ledger.InvoicePaid:
		pay.Status = ledger.PaymentPaid
		pay.PaidAt = &now
	case ledger.InvoiceFailed, ledger.InvoiceCancelled:
		pay.Status = ledger.PaymentFailed
	case ledger.InvoiceExpired:
		// Payment stays PENDING: the payer can request a fresh link.
	}

	if implied == ledger.InvoicePaid {
		debtor, err := e.resolveDebtor(ctx, tx, pay, booking, now)
		if err != nil {
			return err
		}
		if debtor != nil {
			if pay.DebtorRef == "" {
				pay.DebtorRef = debtor.PublicID
			}
			debtor.ApplyPayment(pay.Amount)
			if err := tx.UpdateDebtor(ctx, debtor); err != nil {
				return err
			}
		}
	}

	if err := tx.UpdatePayment(ctx, pay); err != nil {
		return err
	}

	if booking != nil {
		mirrorBooking(booking, implied)
		if err := tx.UpdateBooking(ctx, booking); err != nil {
			return err
		}
		out.booking = booking
		out.bookingRef = booking.PublicID
	}
	return nil
}

// resolveDebtor returns the payment's ledger holder, lazily creating one
// from the booking's (property, tenant email) natural key when the payment
// carries none yet. Returns nil when no holder can be identified.
func (e *Engine) resolveDebtor(ctx context.Context, tx ledger.Tx, pay *ledger.Payment, booking *ledger.Booking, now time.Time) (*ledger.Debtor, error) {
	if pay.DebtorRef != "" {
		return tx.DebtorByPublicID(ctx, pay.DebtorRef)
	}
	if booking == nil || booking.TenantEmail == "" {
		return nil, nil
	}
	return tx.GetOrCreateDebtor(ctx, &ledger.Debtor{
		PublicID:    idgen.New(idgen.PrefixDebtor),
		PropertyRef: booking.PropertyRef,
		OwnerRef:    booking.OwnerRef,
		Email:       ledger.NormalizeEmail(booking.TenantEmail),
		Status:      ledger.DebtorCurrent,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// mirrorBooking keeps payment_status and process status in lockstep. PAID
// and "confirmed" always land together.
func mirrorBooking(b *ledger.Booking, implied ledger.InvoiceStatus) {
	switch implied {
	case ledger.InvoicePaid:
		b.PaymentStatus = ledger.BookingPaymentPaid
		b.Status = ledger.BookingConfirmed
	case ledger.InvoiceFailed:
		b.PaymentStatus = ledger.BookingPaymentFailed
		b.Status = ledger.BookingCancelled
	case ledger.InvoiceCancelled:
		b.PaymentStatus = ledger.BookingPaymentCancelled
		b.Status = ledger.BookingCancelled
	case ledger.InvoiceExpired:
		b.PaymentStatus = ledger.BookingPaymentFailed
	}
}

// expireInvoice marks one invoice EXPIRED in its own unit of work. The
// linked payment is left PENDING.
func (e *Engine) expireInvoice(ctx context.Context, invoiceRef string) error {
	return e.store.Atomic(ctx, func(tx ledger.Tx) error {
		inv, err := tx.InvoiceByPublicID(ctx, invoiceRef)
		if err != nil {
			return err
		}
		if inv.Status.Terminal() {
			return nil
		}
		inv.Status = ledger.InvoiceExpired
		return tx.UpdateInvoice(ctx, inv)
	})
}

// applyBooking handles direct booking references: crypto checkouts and the
// legacy order format settle the booking without an invoice.
func (e *Engine) applyBooking(ctx context.Context, ev *provider.CanonicalEvent, bookingRef string) (*Result, error) {
	booking, err := e.store.BookingByPublicID(ctx, bookingRef)
	if errors.Is(err, ledger.ErrBookingNotFound) {
		return &Result{Outcome: OutcomeIgnored, Status: ev.Status, Reason: "unknown booking"}, nil
	}
	if err != nil {
		return nil, err
	}

	implied := bookingStatusFor(ev.Status)
	if booking.PaymentStatus == implied {
		return &Result{Outcome: OutcomeDuplicate, BookingRef: bookingRef, Status: ev.Status}, nil
	}
	// A settled booking only absorbs exact redeliveries.
	if bookingTerminal(booking.PaymentStatus) {
		return nil, &ledger.TransitionError{
			InvoiceRef: bookingRef,
			From:       ledger.InvoiceStatus(booking.PaymentStatus),
			To:         ledger.InvoiceStatus(implied),
			Reason:     "booking already settled",
		}
	}

	err = e.store.Atomic(ctx, func(tx ledger.Tx) error {
		b, err := tx.BookingByPublicID(ctx, bookingRef)
		if err != nil {
			return err
		}
		if b.PaymentStatus == implied {
			return nil
		}
		b.PaymentStatus = implied
		switch implied {
		case ledger.BookingPaymentPaid:
			b.Status = ledger.BookingConfirmed
		case ledger.BookingPaymentFailed:
			b.Status = ledger.BookingCancelled
		case ledger.BookingPaymentCancelled:
			b.Status = ledger.BookingCancelled
		}
		return tx.UpdateBooking(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	e.emitBookingNotifications(ctx, ev, booking)
	return &Result{Outcome: OutcomeProcessed, BookingRef: bookingRef, Status: ev.Status}, nil
}

func bookingStatusFor(s provider.Status) ledger.BookingPaymentStatus {
	switch s {
	case provider.StatusPaid:
		return ledger.BookingPaymentPaid
	case provider.StatusConfirming:
		return ledger.BookingPaymentConfirming
	case provider.StatusFailed, provider.StatusExpired:
		return ledger.BookingPaymentFailed
	case provider.StatusCancelled:
		return ledger.BookingPaymentCancelled
	}
	return ledger.BookingPaymentPending
}

func bookingTerminal(s ledger.BookingPaymentStatus) bool {
	switch s {
	case ledger.BookingPaymentPaid, ledger.BookingPaymentFailed, ledger.BookingPaymentCancelled:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Notifications (best-effort, after the atomic boundary)
// ---------------------------------------------------------------------------

func (e *Engine) emitInvoiceNotifications(ctx context.Context, ev *provider.CanonicalEvent, fan *fanoutState) {
	if fan.duplicate {
		return
	}
	log := logging.L(ctx)

	var tenantRef, ownerRef, actionURL, title, message string
	if fan.booking != nil {
		tenantRef = fan.booking.TenantRef
		ownerRef = fan.booking.OwnerRef
		actionURL = "/bookings/" + fan.booking.PublicID
	} else if fan.payment != nil {
		tenantRef = fan.payment.DebtorRef
		actionURL = "/payments/" + fan.payment.PublicID
	}
	if tenantRef == "" {
		return
	}

	kind := notificationKind(ev.Status)
	switch ev.Status {
	case provider.StatusPaid:
		title = "Pago completado exitosamente"
		message = fmt.Sprintf("Tu pago de %s %s ha sido procesado correctamente", ev.Currency, ev.Amount)
	default:
		title = "Pago no completado"
		message = fmt.Sprintf("Tu pago de %s %s no pudo completarse", ev.Currency, ev.Amount)
	}

	e.createNotification(ctx, log, tenantRef, kind, title, message, actionURL, ev)

	// The property owner hears about money arriving.
	if ev.Status == provider.StatusPaid && ownerRef != "" {
		e.createNotification(ctx, log, ownerRef, "payment_received",
			"Pago recibido",
			fmt.Sprintf("Se recibió un pago de %s %s", ev.Currency, ev.Amount),
			actionURL, ev)
	}
}

func (e *Engine) emitBookingNotifications(ctx context.Context, ev *provider.CanonicalEvent, booking *ledger.Booking) {
	if ev.Status != provider.StatusPaid && ev.Status != provider.StatusFailed && ev.Status != provider.StatusCancelled {
		return
	}
	log := logging.L(ctx)
	actionURL := "/bookings/" + booking.PublicID

	var title, message string
	if ev.Status == provider.StatusPaid {
		title = "Pago completado exitosamente"
		message = fmt.Sprintf("Tu pago para %s ha sido procesado correctamente", booking.PropertyTitle)
	} else {
		title = "Pago no completado"
		message = fmt.Sprintf("Tu pago para %s no pudo completarse", booking.PropertyTitle)
	}
	e.createNotification(ctx, log, booking.TenantRef, notificationKind(ev.Status), title, message, actionURL, ev)

	if ev.Status == provider.StatusPaid && booking.OwnerRef != "" {
		e.createNotification(ctx, log, booking.OwnerRef, "payment_received",
			"Pago recibido",
			fmt.Sprintf("Se recibió un pago por %s", booking.PropertyTitle),
			actionURL, ev)
	}
}

func notificationKind(s provider.Status) string {
	if s == provider.StatusPaid {
		return "payment_completed"
	}
	return "payment_failed"
}

// createNotification writes one notification row. Failures are logged and
// swallowed; a lost notification never rolls back a settled payment.
func (e *Engine) createNotification(ctx context.Context, log *slog.Logger, userRef, kind, title, message, actionURL string, ev *provider.CanonicalEvent) {
	meta, _ := json.Marshal(map[string]any{
		"provider":    ev.Provider,
		"external_id": ev.ExternalID,
		"amount":      ev.Amount,
		"currency":    ev.Currency,
	})
	n := &ledger.Notification{
		PublicID:  idgen.New(idgen.PrefixNotification),
		UserRef:   userRef,
		Type:      kind,
		Title:     title,
		Message:   message,
		ActionURL: actionURL,
		Metadata:  meta,
		CreatedAt: e.now(),
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		log.Warn("notification write failed", "user", userRef, "error", err)
	}
}

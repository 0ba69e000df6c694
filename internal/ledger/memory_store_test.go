package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hogarperu/rentals/internal/money"
)

func newTestInvoice(id string, status InvoiceStatus) *Invoice {
	now := time.Now()
	return &Invoice{
		PublicID:  id,
		Amount:    money.Amount(150000),
		Currency:  "PEN",
		Provider:  "mercadopago",
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStore_InvoiceCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	inv := newTestInvoice("inv_aaa", InvoicePending)
	require.NoError(t, s.CreateInvoice(ctx, inv))
	assert.ErrorIs(t, s.CreateInvoice(ctx, inv), ErrDuplicatePublicID)

	got, err := s.InvoiceByPublicID(ctx, "inv_aaa")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(150000), got.Amount)

	// Copy-on-read: mutating the returned value must not touch the store.
	got.Status = InvoicePaid
	again, err := s.InvoiceByPublicID(ctx, "inv_aaa")
	require.NoError(t, err)
	assert.Equal(t, InvoicePending, again.Status)

	got.PublicID = "inv_aaa"
	require.NoError(t, s.UpdateInvoice(ctx, got))
	updated, err := s.InvoiceByPublicID(ctx, "inv_aaa")
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, updated.Status)

	_, err = s.InvoiceByPublicID(ctx, "inv_missing")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestMemoryStore_ListInvoices_Filter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := newTestInvoice("inv_a", InvoicePending)
	b := newTestInvoice("inv_b", InvoicePaid)
	c := newTestInvoice("inv_c", InvoicePending)
	c.Provider = "izipay"
	for _, inv := range []*Invoice{a, b, c} {
		require.NoError(t, s.CreateInvoice(ctx, inv))
	}

	pending, err := s.ListInvoices(ctx, InvoiceFilter{Status: InvoicePending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	izipay, err := s.ListInvoices(ctx, InvoiceFilter{Provider: "izipay"})
	require.NoError(t, err)
	require.Len(t, izipay, 1)
	assert.Equal(t, "inv_c", izipay[0].PublicID)
}

func TestMemoryStore_ListExpiredPending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired := newTestInvoice("inv_old", InvoicePending)
	expired.ExpiresAt = &past
	fresh := newTestInvoice("inv_new", InvoicePending)
	fresh.ExpiresAt = &future
	paid := newTestInvoice("inv_done", InvoicePaid)
	paid.ExpiresAt = &past
	for _, inv := range []*Invoice{expired, fresh, paid} {
		require.NoError(t, s.CreateInvoice(ctx, inv))
	}

	got, err := s.ListExpiredPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "inv_old", got[0].PublicID)
}

func TestMemoryStore_GetOrCreateDebtor_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := s.GetOrCreateDebtor(ctx, &Debtor{
		PublicID:    "deb_one",
		PropertyRef: "prop-1",
		Email:       "Ana@Example.com",
		DebtAmount:  100000,
		Status:      DebtorOverdue,
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", first.Email)

	// Same natural key with different casing resolves to the same row.
	second, err := s.GetOrCreateDebtor(ctx, &Debtor{
		PublicID:    "deb_two",
		PropertyRef: "prop-1",
		Email:       "ANA@example.COM",
	})
	require.NoError(t, err)
	assert.Equal(t, "deb_one", second.PublicID)
	assert.Equal(t, money.Amount(100000), second.DebtAmount)

	// Different property is a different debtor.
	third, err := s.GetOrCreateDebtor(ctx, &Debtor{
		PublicID:    "deb_three",
		PropertyRef: "prop-2",
		Email:       "ana@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "deb_three", third.PublicID)
}

func TestMemoryStore_Atomic_CommitsTogether(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	inv := newTestInvoice("inv_tx", InvoicePending)
	require.NoError(t, s.CreateInvoice(ctx, inv))
	require.NoError(t, s.CreatePayment(ctx, &Payment{PublicID: "pay_tx", Amount: 150000, Status: PaymentPending}))

	err := s.Atomic(ctx, func(tx Tx) error {
		got, err := tx.InvoiceByPublicID(ctx, "inv_tx")
		if err != nil {
			return err
		}
		got.Status = InvoicePaid
		if err := tx.UpdateInvoice(ctx, got); err != nil {
			return err
		}
		p, err := tx.PaymentByPublicID(ctx, "pay_tx")
		if err != nil {
			return err
		}
		p.Status = PaymentPaid
		return tx.UpdatePayment(ctx, p)
	})
	require.NoError(t, err)

	gotInv, err := s.InvoiceByPublicID(ctx, "inv_tx")
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, gotInv.Status)
	gotPay, err := s.PaymentByPublicID(ctx, "pay_tx")
	require.NoError(t, err)
	assert.Equal(t, PaymentPaid, gotPay.Status)
}

func TestMemoryStore_Atomic_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	inv := newTestInvoice("inv_rb", InvoicePending)
	require.NoError(t, s.CreateInvoice(ctx, inv))

	boom := errors.New("injected failure")
	err := s.Atomic(ctx, func(tx Tx) error {
		got, err := tx.InvoiceByPublicID(ctx, "inv_rb")
		if err != nil {
			return err
		}
		got.Status = InvoicePaid
		if err := tx.UpdateInvoice(ctx, got); err != nil {
			return err
		}
		if _, err := tx.GetOrCreateDebtor(ctx, &Debtor{
			PublicID:    "deb_rb",
			PropertyRef: "prop-rb",
			Email:       "x@y.com",
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// None of the staged writes landed.
	got, err := s.InvoiceByPublicID(ctx, "inv_rb")
	require.NoError(t, err)
	assert.Equal(t, InvoicePending, got.Status)

	fresh, err := s.GetOrCreateDebtor(ctx, &Debtor{
		PublicID:    "deb_new",
		PropertyRef: "prop-rb",
		Email:       "x@y.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "deb_new", fresh.PublicID)
}

func TestMemoryStore_Atomic_TxReadsSeeStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	inv := newTestInvoice("inv_rw", InvoicePending)
	require.NoError(t, s.CreateInvoice(ctx, inv))

	err := s.Atomic(ctx, func(tx Tx) error {
		got, _ := tx.InvoiceByPublicID(ctx, "inv_rw")
		got.Status = InvoiceFailed
		if err := tx.UpdateInvoice(ctx, got); err != nil {
			return err
		}
		reread, err := tx.InvoiceByPublicID(ctx, "inv_rw")
		if err != nil {
			return err
		}
		assert.Equal(t, InvoiceFailed, reread.Status)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_MethodByCode_InactiveHidden(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateMethod(ctx, &PaymentMethod{PublicID: "pm_a", Code: "card", Active: true}))
	require.NoError(t, s.CreateMethod(ctx, &PaymentMethod{PublicID: "pm_b", Code: "crypto_btc", Active: false}))

	_, err := s.MethodByCode(ctx, "card")
	assert.NoError(t, err)
	_, err = s.MethodByCode(ctx, "crypto_btc")
	assert.ErrorIs(t, err, ErrMethodNotFound)
}

func TestMemoryStore_Notifications(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, n := range []*Notification{
		{PublicID: "not_1", UserRef: "user-1", Type: "payment_completed"},
		{PublicID: "not_2", UserRef: "user-2", Type: "payment_failed"},
		{PublicID: "not_3", UserRef: "user-1", Type: "payment_received"},
	} {
		require.NoError(t, s.CreateNotification(ctx, n))
	}

	got, err := s.ListNotifications(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first.
	assert.Equal(t, "not_3", got[0].PublicID)
}

func TestMemoryStore_AuditRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := &WebhookAuditRecord{PublicID: "whk_1", Provider: "izipay", EventType: "payment", ReceivedAt: time.Now()}
	require.NoError(t, s.CreateAuditRecord(ctx, rec))

	now := time.Now()
	rec.Processed = true
	rec.Outcome = AuditOutcomeProcessed
	rec.ProcessedAt = &now
	require.NoError(t, s.UpdateAuditRecord(ctx, rec))

	list, err := s.ListAuditRecords(ctx, "izipay", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Processed)
	assert.Equal(t, AuditOutcomeProcessed, list[0].Outcome)

	other, err := s.ListAuditRecords(ctx, "mercadopago", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

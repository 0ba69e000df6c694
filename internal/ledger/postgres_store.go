package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hogarperu/rentals/internal/money"
)

// Compile-time checks.
var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// PostgresStore implements Store backed by PostgreSQL. Schema lives in
// migrations/ and is applied by cmd/migrate (goose).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// querier abstracts *sql.DB and *sql.Tx for shared query logic.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ---------------------------------------------------------------------------
// Atomic unit of work
// ---------------------------------------------------------------------------

// pgTx wraps one sql.Tx. Reads lock rows (FOR UPDATE) so two concurrent
// units of work on the same invoice serialize at the database even if the
// in-process lock is bypassed.
type pgTx struct {
	tx *sql.Tx
}

func (p *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	defer observeOp("atomic")()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *pgTx) InvoiceByPublicID(ctx context.Context, publicID string) (*Invoice, error) {
	return scanInvoice(t.tx.QueryRowContext(ctx, selectInvoice+` WHERE public_id = $1 FOR UPDATE`, publicID))
}

func (t *pgTx) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	return updateInvoice(ctx, t.tx, inv)
}

func (t *pgTx) PaymentByPublicID(ctx context.Context, publicID string) (*Payment, error) {
	return scanPayment(t.tx.QueryRowContext(ctx, selectPayment+` WHERE public_id = $1 FOR UPDATE`, publicID))
}

func (t *pgTx) UpdatePayment(ctx context.Context, pay *Payment) error {
	return updatePayment(ctx, t.tx, pay)
}

func (t *pgTx) BookingByPublicID(ctx context.Context, publicID string) (*Booking, error) {
	return scanBooking(t.tx.QueryRowContext(ctx, selectBooking+` WHERE public_id = $1 FOR UPDATE`, publicID))
}

func (t *pgTx) UpdateBooking(ctx context.Context, b *Booking) error {
	return updateBooking(ctx, t.tx, b)
}

func (t *pgTx) DebtorByPublicID(ctx context.Context, publicID string) (*Debtor, error) {
	return scanDebtor(t.tx.QueryRowContext(ctx, selectDebtor+` WHERE public_id = $1 FOR UPDATE`, publicID))
}

func (t *pgTx) GetOrCreateDebtor(ctx context.Context, candidate *Debtor) (*Debtor, error) {
	return getOrCreateDebtor(ctx, t.tx, candidate, true)
}

func (t *pgTx) UpdateDebtor(ctx context.Context, d *Debtor) error {
	return updateDebtor(ctx, t.tx, d)
}

// ---------------------------------------------------------------------------
// Invoices
// ---------------------------------------------------------------------------

const selectInvoice = `
	SELECT public_id, payment_ref, amount, currency, provider, status,
		external_id, external_url, metadata, expires_at, paid_at,
		created_at, updated_at
	FROM invoices`

func (p *PostgresStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	defer observeOp("create_invoice")()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO invoices (
			public_id, payment_ref, amount, currency, provider, status,
			external_id, external_url, metadata, expires_at, paid_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		inv.PublicID, inv.PaymentRef, int64(inv.Amount), inv.Currency, inv.Provider, string(inv.Status),
		nullString(inv.ExternalID), nullString(inv.ExternalURL), nullBytes(inv.Metadata),
		nullTimePtr(inv.ExpiresAt), nullTimePtr(inv.PaidAt),
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (p *PostgresStore) InvoiceByPublicID(ctx context.Context, publicID string) (*Invoice, error) {
	defer observeOp("get_invoice")()
	return scanInvoice(p.db.QueryRowContext(ctx, selectInvoice+` WHERE public_id = $1`, publicID))
}

func (p *PostgresStore) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	defer observeOp("update_invoice")()
	return updateInvoice(ctx, p.db, inv)
}

func updateInvoice(ctx context.Context, q querier, inv *Invoice) error {
	inv.UpdatedAt = time.Now()
	result, err := q.ExecContext(ctx, `
		UPDATE invoices SET
			status       = $2,
			external_id  = $3,
			external_url = $4,
			metadata     = $5,
			expires_at   = $6,
			paid_at      = $7,
			updated_at   = $8
		WHERE public_id = $1
	`,
		inv.PublicID, string(inv.Status),
		nullString(inv.ExternalID), nullString(inv.ExternalURL), nullBytes(inv.Metadata),
		nullTimePtr(inv.ExpiresAt), nullTimePtr(inv.PaidAt), inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	return requireRow(result, ErrInvoiceNotFound)
}

func (p *PostgresStore) ListInvoices(ctx context.Context, f InvoiceFilter) ([]*Invoice, error) {
	defer observeOp("list_invoices")()
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, selectInvoice+`
		WHERE ($1 = '' OR status = $1)
		AND ($2 = '' OR provider = $2)
		AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC LIMIT $4
	`, string(f.Status), f.Provider, nullTime(f.CreatedBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInvoices(rows)
}

func (p *PostgresStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Invoice, error) {
	defer observeOp("list_expired_pending")()
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, selectInvoice+`
		WHERE status = 'PENDING' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired pending: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanInvoices(rows)
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

const selectPayment = `
	SELECT public_id, debtor_ref, period, amount, currency, method_code,
		status, paid_at, invoice_ref, booking_ref, created_at, updated_at
	FROM payments`

func (p *PostgresStore) CreatePayment(ctx context.Context, pay *Payment) error {
	defer observeOp("create_payment")()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (
			public_id, debtor_ref, period, amount, currency, method_code,
			status, paid_at, invoice_ref, booking_ref, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		pay.PublicID, nullString(pay.DebtorRef), pay.Period, int64(pay.Amount), pay.Currency,
		nullString(pay.MethodCode), string(pay.Status), nullTimePtr(pay.PaidAt),
		nullString(pay.InvoiceRef), nullString(pay.BookingRef), pay.CreatedAt, pay.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (p *PostgresStore) PaymentByPublicID(ctx context.Context, publicID string) (*Payment, error) {
	defer observeOp("get_payment")()
	return scanPayment(p.db.QueryRowContext(ctx, selectPayment+` WHERE public_id = $1`, publicID))
}

func (p *PostgresStore) UpdatePayment(ctx context.Context, pay *Payment) error {
	defer observeOp("update_payment")()
	return updatePayment(ctx, p.db, pay)
}

func updatePayment(ctx context.Context, q querier, pay *Payment) error {
	pay.UpdatedAt = time.Now()
	result, err := q.ExecContext(ctx, `
		UPDATE payments SET
			debtor_ref  = $2,
			status      = $3,
			paid_at     = $4,
			method_code = $5,
			invoice_ref = $6,
			booking_ref = $7,
			updated_at  = $8
		WHERE public_id = $1
	`,
		pay.PublicID, nullString(pay.DebtorRef), string(pay.Status), nullTimePtr(pay.PaidAt),
		nullString(pay.MethodCode), nullString(pay.InvoiceRef),
		nullString(pay.BookingRef), pay.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return requireRow(result, ErrPaymentNotFound)
}

// ---------------------------------------------------------------------------
// Bookings
// ---------------------------------------------------------------------------

const selectBooking = `
	SELECT public_id, property_ref, property_title, owner_ref, tenant_ref,
		tenant_email, status, payment_status, created_at, updated_at
	FROM bookings`

func (p *PostgresStore) CreateBooking(ctx context.Context, b *Booking) error {
	defer observeOp("create_booking")()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bookings (
			public_id, property_ref, property_title, owner_ref, tenant_ref,
			tenant_email, status, payment_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		b.PublicID, b.PropertyRef, nullString(b.PropertyTitle), b.OwnerRef, b.TenantRef,
		NormalizeEmail(b.TenantEmail), b.Status, string(b.PaymentStatus), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (p *PostgresStore) BookingByPublicID(ctx context.Context, publicID string) (*Booking, error) {
	defer observeOp("get_booking")()
	return scanBooking(p.db.QueryRowContext(ctx, selectBooking+` WHERE public_id = $1`, publicID))
}

func (p *PostgresStore) UpdateBooking(ctx context.Context, b *Booking) error {
	defer observeOp("update_booking")()
	return updateBooking(ctx, p.db, b)
}

func updateBooking(ctx context.Context, q querier, b *Booking) error {
	b.UpdatedAt = time.Now()
	result, err := q.ExecContext(ctx, `
		UPDATE bookings SET
			status         = $2,
			payment_status = $3,
			updated_at     = $4
		WHERE public_id = $1
	`, b.PublicID, b.Status, string(b.PaymentStatus), b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	return requireRow(result, ErrBookingNotFound)
}

// ---------------------------------------------------------------------------
// Debtors
// ---------------------------------------------------------------------------

const selectDebtor = `
	SELECT public_id, property_ref, owner_ref, name, email, phone,
		monthly_rent, debt_amount, status, created_at, updated_at
	FROM debtors`

func (p *PostgresStore) DebtorByPublicID(ctx context.Context, publicID string) (*Debtor, error) {
	defer observeOp("get_debtor")()
	return scanDebtor(p.db.QueryRowContext(ctx, selectDebtor+` WHERE public_id = $1`, publicID))
}

func (p *PostgresStore) GetOrCreateDebtor(ctx context.Context, candidate *Debtor) (*Debtor, error) {
	defer observeOp("get_or_create_debtor")()
	return getOrCreateDebtor(ctx, p.db, candidate, false)
}

// getOrCreateDebtor implements the idempotent upsert on the natural key
// (property_ref, email). ON CONFLICT DO NOTHING then re-select makes the
// race between two concurrent first payments harmless.
func getOrCreateDebtor(ctx context.Context, q querier, candidate *Debtor, forUpdate bool) (*Debtor, error) {
	email := NormalizeEmail(candidate.Email)

	_, err := q.ExecContext(ctx, `
		INSERT INTO debtors (
			public_id, property_ref, owner_ref, name, email, phone,
			monthly_rent, debt_amount, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (property_ref, email) DO NOTHING
	`,
		candidate.PublicID, candidate.PropertyRef, candidate.OwnerRef,
		candidate.Name, email, nullString(candidate.Phone),
		int64(candidate.MonthlyRent), int64(candidate.DebtAmount), string(candidate.Status),
		candidate.CreatedAt, candidate.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert debtor: %w", err)
	}

	query := selectDebtor + ` WHERE property_ref = $1 AND email = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanDebtor(q.QueryRowContext(ctx, query, candidate.PropertyRef, email))
}

func (p *PostgresStore) UpdateDebtor(ctx context.Context, d *Debtor) error {
	defer observeOp("update_debtor")()
	return updateDebtor(ctx, p.db, d)
}

func updateDebtor(ctx context.Context, q querier, d *Debtor) error {
	d.UpdatedAt = time.Now()
	result, err := q.ExecContext(ctx, `
		UPDATE debtors SET
			name         = $2,
			phone        = $3,
			monthly_rent = $4,
			debt_amount  = $5,
			status       = $6,
			updated_at   = $7
		WHERE public_id = $1
	`,
		d.PublicID, d.Name, nullString(d.Phone),
		int64(d.MonthlyRent), int64(d.DebtAmount), string(d.Status), d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update debtor: %w", err)
	}
	return requireRow(result, ErrDebtorNotFound)
}

// ---------------------------------------------------------------------------
// Payment methods
// ---------------------------------------------------------------------------

func (p *PostgresStore) MethodByCode(ctx context.Context, code string) (*PaymentMethod, error) {
	defer observeOp("get_method")()
	row := p.db.QueryRowContext(ctx, `
		SELECT public_id, code, name, type, provider, active, config, created_at, updated_at
		FROM payment_methods WHERE code = $1 AND active = TRUE
	`, code)

	var m PaymentMethod
	var config []byte
	err := row.Scan(&m.PublicID, &m.Code, &m.Name, &m.Type, &m.Provider, &m.Active,
		&config, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMethodNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment method: %w", err)
	}
	m.Config = config
	return &m, nil
}

func (p *PostgresStore) MethodByProvider(ctx context.Context, provider string) (*PaymentMethod, error) {
	defer observeOp("get_method_by_provider")()
	row := p.db.QueryRowContext(ctx, `
		SELECT public_id, code, name, type, provider, active, config, created_at, updated_at
		FROM payment_methods WHERE provider = $1 AND active = TRUE
		ORDER BY created_at ASC LIMIT 1
	`, provider)

	var m PaymentMethod
	var config []byte
	err := row.Scan(&m.PublicID, &m.Code, &m.Name, &m.Type, &m.Provider, &m.Active,
		&config, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMethodNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment method by provider: %w", err)
	}
	m.Config = config
	return &m, nil
}

func (p *PostgresStore) CreateMethod(ctx context.Context, m *PaymentMethod) error {
	defer observeOp("create_method")()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payment_methods (public_id, code, name, type, provider, active, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, provider = EXCLUDED.provider,
			active = EXCLUDED.active, config = EXCLUDED.config, updated_at = EXCLUDED.updated_at
	`, m.PublicID, m.Code, m.Name, m.Type, m.Provider, m.Active, nullBytes(m.Config), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert payment method: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

func (p *PostgresStore) CreateNotification(ctx context.Context, n *Notification) error {
	defer observeOp("create_notification")()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (public_id, user_ref, type, title, message, action_url, metadata, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.PublicID, n.UserRef, n.Type, n.Title, n.Message, nullString(n.ActionURL), nullBytes(n.Metadata), n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListNotifications(ctx context.Context, userRef string, limit int) ([]*Notification, error) {
	defer observeOp("list_notifications")()
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT public_id, user_ref, type, title, message, action_url, metadata, read, created_at
		FROM notifications WHERE user_ref = $1
		ORDER BY created_at DESC LIMIT $2
	`, userRef, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Notification
	for rows.Next() {
		var n Notification
		var actionURL sql.NullString
		var metadata []byte
		if err := rows.Scan(&n.PublicID, &n.UserRef, &n.Type, &n.Title, &n.Message,
			&actionURL, &metadata, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.ActionURL = actionURL.String
		n.Metadata = metadata
		result = append(result, &n)
	}
	return result, rows.Err()
}

// ---------------------------------------------------------------------------
// Webhook audit
// ---------------------------------------------------------------------------

func (p *PostgresStore) CreateAuditRecord(ctx context.Context, rec *WebhookAuditRecord) error {
	defer observeOp("create_audit")()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_audit (public_id, provider, event_type, payload, received_at, processed, outcome, error_message, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.PublicID, rec.Provider, nullString(rec.EventType), nullBytes(rec.Payload),
		rec.ReceivedAt, rec.Processed, nullString(rec.Outcome), nullString(rec.ErrorMessage),
		nullTimePtr(rec.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (p *PostgresStore) UpdateAuditRecord(ctx context.Context, rec *WebhookAuditRecord) error {
	defer observeOp("update_audit")()
	result, err := p.db.ExecContext(ctx, `
		UPDATE webhook_audit SET
			event_type    = $2,
			processed     = $3,
			outcome       = $4,
			error_message = $5,
			processed_at  = $6
		WHERE public_id = $1
	`,
		rec.PublicID, nullString(rec.EventType), rec.Processed,
		nullString(rec.Outcome), nullString(rec.ErrorMessage), nullTimePtr(rec.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("update audit record: %w", err)
	}
	return requireRow(result, ErrAuditNotFound)
}

func (p *PostgresStore) ListAuditRecords(ctx context.Context, provider string, limit int) ([]*WebhookAuditRecord, error) {
	defer observeOp("list_audit")()
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT public_id, provider, event_type, payload, received_at, processed, outcome, error_message, processed_at
		FROM webhook_audit
		WHERE ($1 = '' OR provider = $1)
		ORDER BY received_at DESC LIMIT $2
	`, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*WebhookAuditRecord
	for rows.Next() {
		var rec WebhookAuditRecord
		var eventType, outcome, errMsg sql.NullString
		var payload []byte
		var processedAt sql.NullTime
		if err := rows.Scan(&rec.PublicID, &rec.Provider, &eventType, &payload,
			&rec.ReceivedAt, &rec.Processed, &outcome, &errMsg, &processedAt); err != nil {
			return nil, err
		}
		rec.EventType = eventType.String
		rec.Payload = payload
		rec.Outcome = outcome.String
		rec.ErrorMessage = errMsg.String
		if processedAt.Valid {
			t := processedAt.Time
			rec.ProcessedAt = &t
		}
		result = append(result, &rec)
	}
	return result, rows.Err()
}

// ---------------------------------------------------------------------------
// Scan helpers
// ---------------------------------------------------------------------------

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(row scannable) (*Invoice, error) {
	var inv Invoice
	var status string
	var amount int64
	var externalID, externalURL sql.NullString
	var metadata []byte
	var expiresAt, paidAt sql.NullTime

	err := row.Scan(
		&inv.PublicID, &inv.PaymentRef, &amount, &inv.Currency, &inv.Provider, &status,
		&externalID, &externalURL, &metadata, &expiresAt, &paidAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan invoice: %w", err)
	}

	inv.Amount = money.Amount(amount)
	inv.Status = InvoiceStatus(status)
	inv.ExternalID = externalID.String
	inv.ExternalURL = externalURL.String
	inv.Metadata = metadata
	if expiresAt.Valid {
		t := expiresAt.Time
		inv.ExpiresAt = &t
	}
	if paidAt.Valid {
		t := paidAt.Time
		inv.PaidAt = &t
	}
	return &inv, nil
}

func scanInvoices(rows *sql.Rows) ([]*Invoice, error) {
	var result []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inv)
	}
	return result, rows.Err()
}

func scanPayment(row scannable) (*Payment, error) {
	var pay Payment
	var status string
	var amount int64
	var debtorRef, methodCode, invoiceRef, bookingRef sql.NullString
	var paidAt sql.NullTime

	err := row.Scan(
		&pay.PublicID, &debtorRef, &pay.Period, &amount, &pay.Currency,
		&methodCode, &status, &paidAt, &invoiceRef, &bookingRef, &pay.CreatedAt, &pay.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	pay.Amount = money.Amount(amount)
	pay.Status = PaymentStatus(status)
	pay.DebtorRef = debtorRef.String
	pay.MethodCode = methodCode.String
	pay.InvoiceRef = invoiceRef.String
	pay.BookingRef = bookingRef.String
	if paidAt.Valid {
		t := paidAt.Time
		pay.PaidAt = &t
	}
	return &pay, nil
}

func scanBooking(row scannable) (*Booking, error) {
	var b Booking
	var paymentStatus string
	var propertyTitle sql.NullString

	err := row.Scan(
		&b.PublicID, &b.PropertyRef, &propertyTitle, &b.OwnerRef, &b.TenantRef,
		&b.TenantEmail, &b.Status, &paymentStatus, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan booking: %w", err)
	}

	b.PropertyTitle = propertyTitle.String
	b.PaymentStatus = BookingPaymentStatus(paymentStatus)
	return &b, nil
}

func scanDebtor(row scannable) (*Debtor, error) {
	var d Debtor
	var status string
	var monthlyRent, debtAmount int64
	var phone sql.NullString

	err := row.Scan(
		&d.PublicID, &d.PropertyRef, &d.OwnerRef, &d.Name, &d.Email, &phone,
		&monthlyRent, &debtAmount, &status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrDebtorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan debtor: %w", err)
	}

	d.Phone = phone.String
	d.MonthlyRent = money.Amount(monthlyRent)
	d.DebtAmount = money.Amount(debtAmount)
	d.Status = DebtorStatus(status)
	return &d, nil
}

func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory ledger for demo/development mode and tests.
// Atomic stages writes in a transaction view and merges them only when the
// unit of work succeeds, matching the all-or-nothing contract of the
// Postgres store.
type MemoryStore struct {
	mu sync.RWMutex

	invoices      map[string]*Invoice
	payments      map[string]*Payment
	bookings      map[string]*Booking
	debtors       map[string]*Debtor // by public ID
	debtorByKey   map[string]string  // property|email -> public ID
	methods       map[string]*PaymentMethod
	notifications []*Notification
	audits        map[string]*WebhookAuditRecord
	auditOrder    []string
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices:    make(map[string]*Invoice),
		payments:    make(map[string]*Payment),
		bookings:    make(map[string]*Booking),
		debtors:     make(map[string]*Debtor),
		debtorByKey: make(map[string]string),
		methods:     make(map[string]*PaymentMethod),
		audits:      make(map[string]*WebhookAuditRecord),
	}
}

func debtorKey(propertyRef, email string) string {
	return propertyRef + "|" + NormalizeEmail(email)
}

// ---------------------------------------------------------------------------
// Non-transactional reads and creates
// ---------------------------------------------------------------------------

func (m *MemoryStore) InvoiceByPublicID(ctx context.Context, publicID string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invoices[publicID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MemoryStore) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.PublicID]; !ok {
		return ErrInvoiceNotFound
	}
	inv.UpdatedAt = time.Now()
	cp := *inv
	m.invoices[inv.PublicID] = &cp
	return nil
}

func (m *MemoryStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.PublicID]; ok {
		return ErrDuplicatePublicID
	}
	cp := *inv
	m.invoices[inv.PublicID] = &cp
	return nil
}

func (m *MemoryStore) ListInvoices(ctx context.Context, f InvoiceFilter) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var result []*Invoice
	for _, inv := range m.invoices {
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.Provider != "" && inv.Provider != f.Provider {
			continue
		}
		if !f.CreatedBefore.IsZero() && !inv.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		cp := *inv
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var result []*Invoice
	for _, inv := range m.invoices {
		if inv.Status == InvoicePending && inv.ExpiresAt != nil && now.After(*inv.ExpiresAt) {
			cp := *inv
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) PaymentByPublicID(ctx context.Context, publicID string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[publicID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) UpdatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.PublicID]; !ok {
		return ErrPaymentNotFound
	}
	p.UpdatedAt = time.Now()
	cp := *p
	m.payments[p.PublicID] = &cp
	return nil
}

func (m *MemoryStore) CreatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.PublicID]; ok {
		return ErrDuplicatePublicID
	}
	cp := *p
	m.payments[p.PublicID] = &cp
	return nil
}

func (m *MemoryStore) BookingByPublicID(ctx context.Context, publicID string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[publicID]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpdateBooking(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.PublicID]; !ok {
		return ErrBookingNotFound
	}
	b.UpdatedAt = time.Now()
	cp := *b
	m.bookings[b.PublicID] = &cp
	return nil
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.PublicID]; ok {
		return ErrDuplicatePublicID
	}
	cp := *b
	m.bookings[b.PublicID] = &cp
	return nil
}

func (m *MemoryStore) DebtorByPublicID(ctx context.Context, publicID string) (*Debtor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.debtors[publicID]
	if !ok {
		return nil, ErrDebtorNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetOrCreateDebtor(ctx context.Context, candidate *Debtor) (*Debtor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := debtorKey(candidate.PropertyRef, candidate.Email)
	if id, ok := m.debtorByKey[key]; ok {
		cp := *m.debtors[id]
		return &cp, nil
	}
	cp := *candidate
	cp.Email = NormalizeEmail(cp.Email)
	m.debtors[cp.PublicID] = &cp
	m.debtorByKey[key] = cp.PublicID
	out := cp
	return &out, nil
}

func (m *MemoryStore) UpdateDebtor(ctx context.Context, d *Debtor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.debtors[d.PublicID]; !ok {
		return ErrDebtorNotFound
	}
	d.UpdatedAt = time.Now()
	cp := *d
	m.debtors[d.PublicID] = &cp
	return nil
}

func (m *MemoryStore) MethodByCode(ctx context.Context, code string) (*PaymentMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pm, ok := m.methods[code]
	if !ok || !pm.Active {
		return nil, ErrMethodNotFound
	}
	cp := *pm
	return &cp, nil
}

func (m *MemoryStore) MethodByProvider(ctx context.Context, provider string) (*PaymentMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pm := range m.methods {
		if pm.Provider == provider && pm.Active {
			cp := *pm
			return &cp, nil
		}
	}
	return nil, ErrMethodNotFound
}

func (m *MemoryStore) CreateMethod(ctx context.Context, pm *PaymentMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pm
	m.methods[pm.Code] = &cp
	return nil
}

func (m *MemoryStore) CreateNotification(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications = append(m.notifications, &cp)
	return nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, userRef string, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var result []*Notification
	for i := len(m.notifications) - 1; i >= 0 && len(result) < limit; i-- {
		if m.notifications[i].UserRef == userRef {
			cp := *m.notifications[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) CreateAuditRecord(ctx context.Context, rec *WebhookAuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.audits[rec.PublicID]; ok {
		return ErrDuplicatePublicID
	}
	cp := *rec
	m.audits[rec.PublicID] = &cp
	m.auditOrder = append(m.auditOrder, rec.PublicID)
	return nil
}

func (m *MemoryStore) UpdateAuditRecord(ctx context.Context, rec *WebhookAuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.audits[rec.PublicID]; !ok {
		return ErrAuditNotFound
	}
	cp := *rec
	m.audits[rec.PublicID] = &cp
	return nil
}

func (m *MemoryStore) ListAuditRecords(ctx context.Context, provider string, limit int) ([]*WebhookAuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var result []*WebhookAuditRecord
	for i := len(m.auditOrder) - 1; i >= 0 && len(result) < limit; i-- {
		rec := m.audits[m.auditOrder[i]]
		if provider != "" && rec.Provider != provider {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// Atomic unit of work
// ---------------------------------------------------------------------------

// memTx stages writes so a failed unit of work leaves the base maps
// untouched. Reads see staged writes first, then the base store.
type memTx struct {
	store *MemoryStore

	invoices map[string]*Invoice
	payments map[string]*Payment
	bookings map[string]*Booking
	debtors  map[string]*Debtor
	newKeys  map[string]string // debtor natural key -> public ID, staged inserts
}

// Atomic runs fn against a staged view of the store. The store-wide lock is
// held for the whole unit of work; per-invoice serialization above keeps
// units short.
func (m *MemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		store:    m,
		invoices: make(map[string]*Invoice),
		payments: make(map[string]*Payment),
		bookings: make(map[string]*Booking),
		debtors:  make(map[string]*Debtor),
		newKeys:  make(map[string]string),
	}

	if err := fn(tx); err != nil {
		return err
	}

	// Commit staged writes.
	for id, inv := range tx.invoices {
		m.invoices[id] = inv
	}
	for id, p := range tx.payments {
		m.payments[id] = p
	}
	for id, b := range tx.bookings {
		m.bookings[id] = b
	}
	for id, d := range tx.debtors {
		m.debtors[id] = d
	}
	for key, id := range tx.newKeys {
		m.debtorByKey[key] = id
	}
	return nil
}

func (t *memTx) InvoiceByPublicID(ctx context.Context, publicID string) (*Invoice, error) {
	if inv, ok := t.invoices[publicID]; ok {
		cp := *inv
		return &cp, nil
	}
	inv, ok := t.store.invoices[publicID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (t *memTx) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	if _, ok := t.invoices[inv.PublicID]; !ok {
		if _, ok := t.store.invoices[inv.PublicID]; !ok {
			return ErrInvoiceNotFound
		}
	}
	inv.UpdatedAt = time.Now()
	cp := *inv
	t.invoices[inv.PublicID] = &cp
	return nil
}

func (t *memTx) PaymentByPublicID(ctx context.Context, publicID string) (*Payment, error) {
	if p, ok := t.payments[publicID]; ok {
		cp := *p
		return &cp, nil
	}
	p, ok := t.store.payments[publicID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) UpdatePayment(ctx context.Context, p *Payment) error {
	if _, ok := t.payments[p.PublicID]; !ok {
		if _, ok := t.store.payments[p.PublicID]; !ok {
			return ErrPaymentNotFound
		}
	}
	p.UpdatedAt = time.Now()
	cp := *p
	t.payments[p.PublicID] = &cp
	return nil
}

func (t *memTx) BookingByPublicID(ctx context.Context, publicID string) (*Booking, error) {
	if b, ok := t.bookings[publicID]; ok {
		cp := *b
		return &cp, nil
	}
	b, ok := t.store.bookings[publicID]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (t *memTx) UpdateBooking(ctx context.Context, b *Booking) error {
	if _, ok := t.bookings[b.PublicID]; !ok {
		if _, ok := t.store.bookings[b.PublicID]; !ok {
			return ErrBookingNotFound
		}
	}
	b.UpdatedAt = time.Now()
	cp := *b
	t.bookings[b.PublicID] = &cp
	return nil
}

func (t *memTx) DebtorByPublicID(ctx context.Context, publicID string) (*Debtor, error) {
	if d, ok := t.debtors[publicID]; ok {
		cp := *d
		return &cp, nil
	}
	d, ok := t.store.debtors[publicID]
	if !ok {
		return nil, ErrDebtorNotFound
	}
	cp := *d
	return &cp, nil
}

func (t *memTx) GetOrCreateDebtor(ctx context.Context, candidate *Debtor) (*Debtor, error) {
	key := debtorKey(candidate.PropertyRef, candidate.Email)
	if id, ok := t.newKeys[key]; ok {
		cp := *t.debtors[id]
		return &cp, nil
	}
	if id, ok := t.store.debtorByKey[key]; ok {
		if d, staged := t.debtors[id]; staged {
			cp := *d
			return &cp, nil
		}
		cp := *t.store.debtors[id]
		return &cp, nil
	}
	cp := *candidate
	cp.Email = NormalizeEmail(cp.Email)
	t.debtors[cp.PublicID] = &cp
	t.newKeys[key] = cp.PublicID
	out := cp
	return &out, nil
}

func (t *memTx) UpdateDebtor(ctx context.Context, d *Debtor) error {
	if _, ok := t.debtors[d.PublicID]; !ok {
		if _, ok := t.store.debtors[d.PublicID]; !ok {
			return ErrDebtorNotFound
		}
	}
	d.UpdatedAt = time.Now()
	cp := *d
	t.debtors[d.PublicID] = &cp
	return nil
}

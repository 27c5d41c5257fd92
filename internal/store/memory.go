package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// MemoryStore is an in-process fake Store for unit tests. It reproduces the
// tenant-scoping contract of PostgresStore (every operation is implicitly
// filtered to the Session's tenant) without a real database, the same way
// the reference reconciler's fake-repo test doubles stand in for a SQL
// backend: plain maps guarded by one mutex, no persistence, no RLS.
type MemoryStore struct {
	mu sync.Mutex

	vendors     map[string]*models.Vendor
	pos         map[string]*models.PurchaseOrder
	receipts    map[string]*models.Receipt
	invoices    map[string]*models.Invoice
	matches     map[string]*models.MatchResult
	auditEvents map[string]*models.MatchAuditEvent
	tolerances  map[string]*models.MatchingTolerance
	exceptions  map[string]*models.ExceptionEntry
	idempotency map[string]*models.IdempotencyRecord
}

// NewMemoryStore constructs an empty fake store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vendors:     make(map[string]*models.Vendor),
		pos:         make(map[string]*models.PurchaseOrder),
		receipts:    make(map[string]*models.Receipt),
		invoices:    make(map[string]*models.Invoice),
		matches:     make(map[string]*models.MatchResult),
		auditEvents: make(map[string]*models.MatchAuditEvent),
		tolerances:  make(map[string]*models.MatchingTolerance),
		exceptions:  make(map[string]*models.ExceptionEntry),
		idempotency: make(map[string]*models.IdempotencyRecord),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Begin(ctx context.Context, tenantID models.TenantID) (Session, error) {
	return &memSession{store: s, tenantID: tenantID}, nil
}

type memSession struct {
	store    *MemoryStore
	tenantID models.TenantID
}

func (s *memSession) TenantID() models.TenantID    { return s.tenantID }
func (s *memSession) Commit(ctx context.Context) error   { return nil }
func (s *memSession) Rollback(ctx context.Context) error { return nil }

func (s *memSession) Invoices() InvoiceRepo            { return &memInvoiceRepo{s} }
func (s *memSession) PurchaseOrders() PurchaseOrderRepo { return &memPORepo{s} }
func (s *memSession) Receipts() ReceiptRepo             { return &memReceiptRepo{s} }
func (s *memSession) Vendors() VendorRepo               { return &memVendorRepo{s} }
func (s *memSession) MatchResults() MatchResultRepo     { return &memMatchResultRepo{s} }
func (s *memSession) MatchAuditEvents() AuditEventRepo  { return &memAuditEventRepo{s} }
func (s *memSession) Tolerances() ToleranceRepo         { return &memToleranceRepo{s} }
func (s *memSession) ExceptionEntries() ExceptionRepo   { return &memExceptionRepo{s} }
func (s *memSession) IdempotencyRecords() IdempotencyRepo { return &memIdempotencyRepo{s} }

func key(tenantID models.TenantID, id string) string { return string(tenantID) + "/" + id }

// --- invoices ---

type memInvoiceRepo struct{ s *memSession }

func (r *memInvoiceRepo) Get(ctx context.Context, id models.InvoiceID) (*models.Invoice, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	inv, ok := r.s.store.invoices[key(r.s.tenantID, string(id))]
	if !ok {
		return nil, notFound("invoice", string(id))
	}
	cp := *inv
	return &cp, nil
}

func (r *memInvoiceRepo) GetByBusinessKey(ctx context.Context, invoiceNumber string, vendorID models.VendorID) (*models.Invoice, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	for _, inv := range r.s.store.invoices {
		if inv.TenantID == r.s.tenantID && inv.InvoiceNumber == invoiceNumber && inv.VendorID == vendorID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memInvoiceRepo) Create(ctx context.Context, inv *models.Invoice) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	if inv.ID == "" {
		inv.ID = models.InvoiceID(uuid.NewString())
	}
	inv.TenantID = r.s.tenantID
	for _, existing := range r.s.store.invoices {
		if existing.TenantID == r.s.tenantID && existing.InvoiceNumber == inv.InvoiceNumber && existing.VendorID == inv.VendorID {
			return apperrors.Conflict("invoice already exists for vendor+invoice_number")
		}
	}
	cp := *inv
	r.s.store.invoices[key(r.s.tenantID, string(inv.ID))] = &cp
	return nil
}

func (r *memInvoiceRepo) UpdateMatchingStatus(ctx context.Context, id models.InvoiceID, from, to models.MatchingStatus) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	inv, ok := r.s.store.invoices[key(r.s.tenantID, string(id))]
	if !ok {
		return notFound("invoice", string(id))
	}
	if inv.MatchingStatus != from {
		return apperrors.Conflict("invoice matching_status changed concurrently")
	}
	if !from.CanTransitionTo(to) {
		return apperrors.New(apperrors.KindConflict, "invalid matching_status transition")
	}
	inv.MatchingStatus = to
	inv.Version++
	inv.UpdatedAt = now()
	return nil
}

func (r *memInvoiceRepo) UpdateStatus(ctx context.Context, id models.InvoiceID, status models.InvoiceStatus) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	inv, ok := r.s.store.invoices[key(r.s.tenantID, string(id))]
	if !ok {
		return notFound("invoice", string(id))
	}
	inv.Status = status
	inv.Version++
	inv.UpdatedAt = now()
	return nil
}

func (r *memInvoiceRepo) List(ctx context.Context, filter ListFilter) (Page[*models.Invoice], error) {
	filter.Normalize()
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	var all []*models.Invoice
	for _, inv := range r.s.store.invoices {
		if inv.TenantID == r.s.tenantID {
			cp := *inv
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].InvoiceDate.After(all[j].InvoiceDate) })
	return paginate(all, filter), nil
}

func (r *memInvoiceRepo) ScanByVendorStatus(ctx context.Context, vendorID models.VendorID, statuses []models.InvoiceStatus) ([]*models.Invoice, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	want := make(map[models.InvoiceStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []*models.Invoice
	for _, inv := range r.s.store.invoices {
		if inv.TenantID == r.s.tenantID && inv.VendorID == vendorID && want[inv.Status] {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memInvoiceRepo) DeleteByImportBatch(ctx context.Context, batchID string) (int, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	var deleted int
	for k, inv := range r.s.store.invoices {
		if inv.TenantID == r.s.tenantID && inv.ImportBatchID == batchID {
			delete(r.s.store.invoices, k)
			deleted++
		}
	}
	return deleted, nil
}

func paginate[T any](all []T, filter ListFilter) Page[T] {
	total := len(all)
	start := (filter.Page - 1) * filter.Limit
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return Page[T]{Data: all[start:end], Total: total, Page: filter.Page, Limit: filter.Limit}
}

func now() time.Time { return time.Now() }

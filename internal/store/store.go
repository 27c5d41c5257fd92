// Package store is the tenant-scoped persistence layer (C1, spec §4.1).
//
// Tenant isolation is enforced below the application layer: Begin opens a
// session bound to exactly one tenant and every statement issued through
// that session is filtered by Postgres row-level security keyed on a
// per-connection setting, not by a WHERE clause the application must
// remember to add. A bug that omits a tenant filter in application code
// still cannot leak another tenant's rows.
package store

import (
	"context"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// ListFilter carries the generic server-side filter/sort/paginate contract
// from spec §6 for list endpoints.
type ListFilter struct {
	Page  int
	Limit int
	Sort  []SortKey

	VendorID    *models.VendorID
	Status      string
	DateFrom    *time.Time
	DateTo      *time.Time
	AmountFrom  *int64 // cents
	AmountTo    *int64 // cents
}

// SortKey is one "field:direction" pair from the §6 sort contract.
type SortKey struct {
	Field     string
	Ascending bool
}

// Page wraps a list result with the pagination envelope from spec §6.
type Page[T any] struct {
	Data  []T
	Total int
	Page  int
	Limit int
}

// Normalize clamps Page/Limit to the spec §6 bounds (page >= 1, 1 <= limit <= 100, default 50).
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
}

// Store is the top-level connection factory. Exactly one concrete
// implementation runs in production (Postgres via pgx); an in-memory
// implementation backs unit tests.
type Store interface {
	// Begin opens a session whose effective tenant is fixed for its
	// lifetime. Cross-tenant access within the returned Session is
	// impossible by construction.
	Begin(ctx context.Context, tenantID models.TenantID) (Session, error)
	Close()
}

// Session is a single-tenant transactional unit of work.
type Session interface {
	TenantID() models.TenantID

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Invoices() InvoiceRepo
	PurchaseOrders() PurchaseOrderRepo
	Receipts() ReceiptRepo
	Vendors() VendorRepo
	MatchResults() MatchResultRepo
	MatchAuditEvents() AuditEventRepo
	Tolerances() ToleranceRepo
	ExceptionEntries() ExceptionRepo
	IdempotencyRecords() IdempotencyRepo
}

// InvoiceRepo is the index-backed access pattern for Invoice (spec §4.1).
type InvoiceRepo interface {
	Get(ctx context.Context, id models.InvoiceID) (*models.Invoice, error)
	GetByBusinessKey(ctx context.Context, invoiceNumber string, vendorID models.VendorID) (*models.Invoice, error)
	Create(ctx context.Context, inv *models.Invoice) error
	UpdateMatchingStatus(ctx context.Context, id models.InvoiceID, from, to models.MatchingStatus) error
	UpdateStatus(ctx context.Context, id models.InvoiceID, status models.InvoiceStatus) error
	List(ctx context.Context, filter ListFilter) (Page[*models.Invoice], error)
	// ScanByVendorStatus supports the (tenant, vendor, status) index scan.
	ScanByVendorStatus(ctx context.Context, vendorID models.VendorID, statuses []models.InvoiceStatus) ([]*models.Invoice, error)
	// DeleteByImportBatch removes every invoice tagged with batchID, for the
	// ingestion pipeline's abort-on-error-rate compensating delete (spec
	// §4.3/§8): once a batch is aborted, every row already committed under it
	// is rolled back regardless of which window it landed in.
	DeleteByImportBatch(ctx context.Context, batchID string) (int, error)
}

// PurchaseOrderRepo (spec §4.1).
type PurchaseOrderRepo interface {
	Get(ctx context.Context, id models.PurchaseOrderID) (*models.PurchaseOrder, error)
	GetByNumber(ctx context.Context, poNumber string) (*models.PurchaseOrder, error)
	Create(ctx context.Context, po *models.PurchaseOrder) error
	UpdateStatus(ctx context.Context, id models.PurchaseOrderID, status models.PurchaseOrderStatus) error
	// CandidatesFor returns POs matching the wide candidate band from spec
	// §4.4.2: same currency, eligible status, within the oversized date
	// window, amount within 30%. This is the single eager, indexed query
	// the matching hot path relies on (DESIGN NOTES §9: no lazy loading).
	CandidatesFor(ctx context.Context, vendorID models.VendorID, currency string, dateFrom, dateTo time.Time, amountCentsLow, amountCentsHigh int64) ([]*models.PurchaseOrder, error)
	// List supports the spec §6 paginated/sorted/filtered list endpoint.
	List(ctx context.Context, filter ListFilter) (Page[*models.PurchaseOrder], error)
}

// ReceiptRepo (spec §4.1).
type ReceiptRepo interface {
	Get(ctx context.Context, id models.ReceiptID) (*models.Receipt, error)
	Create(ctx context.Context, r *models.Receipt) error
	ForPurchaseOrder(ctx context.Context, poID models.PurchaseOrderID) ([]*models.Receipt, error)
}

// VendorRepo (spec §4.1).
type VendorRepo interface {
	Get(ctx context.Context, id models.VendorID) (*models.Vendor, error)
	GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Vendor, error)
	Create(ctx context.Context, v *models.Vendor) error
	List(ctx context.Context) ([]*models.Vendor, error)
}

// MatchResultRepo (spec §4.1, §4.4.8 supersession).
type MatchResultRepo interface {
	Get(ctx context.Context, id models.MatchResultID) (*models.MatchResult, error)
	Create(ctx context.Context, m *models.MatchResult) error
	// CompareAndSetStatus implements the optimistic-concurrency requirement
	// from spec §4.1/§7 (conflict kind on version mismatch).
	CompareAndSetStatus(ctx context.Context, id models.MatchResultID, expectedVersion int64, newStatus models.MatchResultStatus) error
	ForInvoice(ctx context.Context, invoiceID models.InvoiceID) ([]*models.MatchResult, error)
	SupersedeAllPending(ctx context.Context, invoiceID models.InvoiceID, supersededBy models.MatchResultID) error
}

// AuditEventRepo (spec §4.4.7). Append-only.
type AuditEventRepo interface {
	Append(ctx context.Context, e *models.MatchAuditEvent) error
	ForInvoice(ctx context.Context, invoiceID models.InvoiceID) ([]*models.MatchAuditEvent, error)
	LastForInvoice(ctx context.Context, invoiceID models.InvoiceID) (*models.MatchAuditEvent, error)
}

// ToleranceRepo (spec §4.5).
type ToleranceRepo interface {
	Get(ctx context.Context, scope models.ToleranceScope, key string) (*models.MatchingTolerance, error)
	Upsert(ctx context.Context, t *models.MatchingTolerance) error
	AllForTenant(ctx context.Context) ([]*models.MatchingTolerance, error)
}

// ExceptionRepo (spec §4.6).
type ExceptionRepo interface {
	Get(ctx context.Context, id models.ExceptionID) (*models.ExceptionEntry, error)
	GetOpenForInvoice(ctx context.Context, invoiceID models.InvoiceID) (*models.ExceptionEntry, error)
	Create(ctx context.Context, e *models.ExceptionEntry) error
	CompareAndSet(ctx context.Context, id models.ExceptionID, expectedVersion int64, mutate func(*models.ExceptionEntry)) error
	List(ctx context.Context, filter ListFilter) (Page[*models.ExceptionEntry], error)
}

// IdempotencyRepo (spec §4.2).
type IdempotencyRepo interface {
	// ClaimFresh atomically inserts a new record iff none exists for
	// (tenant, key); returns apperrors.KindConflict-free nil on success, or
	// the pre-existing record when one already exists (caller distinguishes
	// replay vs conflict by comparing fingerprints).
	ClaimFresh(ctx context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, error)
	Complete(ctx context.Context, key string, tenantID models.TenantID, status int, body []byte) error
	ReapExpired(ctx context.Context, before time.Time) (int, error)
}

// notFound is a small helper so repositories share one error shape.
func notFound(resource, id string) error {
	return apperrors.NotFound(resource, id)
}

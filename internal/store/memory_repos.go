package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// --- purchase orders ---

type memPORepo struct{ s *memSession }

func (r *memPORepo) Get(ctx context.Context, id models.PurchaseOrderID) (*models.PurchaseOrder, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	po, ok := r.s.store.pos[key(r.s.tenantID, string(id))]
	if !ok {
		return nil, notFound("purchase_order", string(id))
	}
	cp := *po
	return &cp, nil
}

func (r *memPORepo) GetByNumber(ctx context.Context, poNumber string) (*models.PurchaseOrder, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	for _, po := range r.s.store.pos {
		if po.TenantID == r.s.tenantID && po.PONumber == poNumber {
			cp := *po
			return &cp, nil
		}
	}
	return nil, notFound("purchase_order", poNumber)
}

func (r *memPORepo) Create(ctx context.Context, po *models.PurchaseOrder) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	if po.ID == "" {
		po.ID = models.PurchaseOrderID(uuid.NewString())
	}
	po.TenantID = r.s.tenantID
	cp := *po
	r.s.store.pos[key(r.s.tenantID, string(po.ID))] = &cp
	return nil
}

func (r *memPORepo) UpdateStatus(ctx context.Context, id models.PurchaseOrderID, status models.PurchaseOrderStatus) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	po, ok := r.s.store.pos[key(r.s.tenantID, string(id))]
	if !ok {
		return notFound("purchase_order", string(id))
	}
	po.Status = status
	po.Version++
	po.UpdatedAt = now()
	return nil
}

func (r *memPORepo) CandidatesFor(ctx context.Context, vendorID models.VendorID, currency string, dateFrom, dateTo time.Time, amountCentsLow, amountCentsHigh int64) ([]*models.PurchaseOrder, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	var out []*models.PurchaseOrder
	for _, po := range r.s.store.pos {
		if po.TenantID != r.s.tenantID || po.VendorID != vendorID || po.Currency != currency {
			continue
		}
		if !po.Status.CandidateEligible() {
			continue
		}
		if po.PODate.Before(dateFrom) || po.PODate.After(dateTo) {
			continue
		}
		if po.TotalAmount.Cents < amountCentsLow || po.TotalAmount.Cents > amountCentsHigh {
			continue
		}
		cp := *po
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PODate.After(out[j].PODate) })
	return out, nil
}

func (r *memPORepo) List(ctx context.Context, filter ListFilter) (Page[*models.PurchaseOrder], error) {
	filter.Normalize()
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	var all []*models.PurchaseOrder
	for _, po := range r.s.store.pos {
		if po.TenantID != r.s.tenantID {
			continue
		}
		if filter.VendorID != nil && po.VendorID != *filter.VendorID {
			continue
		}
		if filter.Status != "" && string(po.Status) != filter.Status {
			continue
		}
		cp := *po
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PODate.After(all[j].PODate) })
	return paginate(all, filter), nil
}

// --- receipts ---

type memReceiptRepo struct{ s *memSession }

func (r *memReceiptRepo) Get(ctx context.Context, id models.ReceiptID) (*models.Receipt, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	rcpt, ok := r.s.store.receipts[key(r.s.tenantID, string(id))]
	if !ok {
		return nil, notFound("receipt", string(id))
	}
	cp := *rcpt
	return &cp, nil
}

func (r *memReceiptRepo) Create(ctx context.Context, rcpt *models.Receipt) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	if rcpt.ID == "" {
		rcpt.ID = models.ReceiptID(uuid.NewString())
	}
	rcpt.TenantID = r.s.tenantID
	cp := *rcpt
	r.s.store.receipts[key(r.s.tenantID, string(rcpt.ID))] = &cp
	return nil
}

func (r *memReceiptRepo) ForPurchaseOrder(ctx context.Context, poID models.PurchaseOrderID) ([]*models.Receipt, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	var out []*models.Receipt
	for _, rcpt := range r.s.store.receipts {
		if rcpt.TenantID == r.s.tenantID && rcpt.PurchaseOrderID == poID {
			cp := *rcpt
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedDate.Before(out[j].ReceivedDate) })
	return out, nil
}

// --- vendors ---

type memVendorRepo struct{ s *memSession }

func (r *memVendorRepo) Get(ctx context.Context, id models.VendorID) (*models.Vendor, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	v, ok := r.s.store.vendors[key(r.s.tenantID, string(id))]
	if !ok {
		return nil, notFound("vendor", string(id))
	}
	cp := *v
	return &cp, nil
}

func (r *memVendorRepo) GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Vendor, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	for _, v := range r.s.store.vendors {
		if v.TenantID == r.s.tenantID && v.NormalizedName == normalizedName {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memVendorRepo) Create(ctx context.Context, v *models.Vendor) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	if v.ID == "" {
		v.ID = models.VendorID(uuid.NewString())
	}
	v.TenantID = r.s.tenantID
	for _, existing := range r.s.store.vendors {
		if existing.TenantID == r.s.tenantID && existing.NormalizedName == v.NormalizedName {
			return nil
		}
	}
	cp := *v
	r.s.store.vendors[key(r.s.tenantID, string(v.ID))] = &cp
	return nil
}

func (r *memVendorRepo) List(ctx context.Context) ([]*models.Vendor, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	var out []*models.Vendor
	for _, v := range r.s.store.vendors {
		if v.TenantID == r.s.tenantID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// --- match results ---

type memMatchResultRepo struct{ s *memSession }

func (r *memMatchResultRepo) Get(ctx context.Context, id models.MatchResultID) (*models.MatchResult, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	m, ok := r.s.store.matches[key(r.s.tenantID, string(id))]
	if !ok {
		return nil, notFound("match_result", string(id))
	}
	cp := *m
	return &cp, nil
}

func (r *memMatchResultRepo) Create(ctx context.Context, m *models.MatchResult) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	if m.ID == "" {
		m.ID = models.MatchResultID(uuid.NewString())
	}
	m.TenantID = r.s.tenantID
	cp := *m
	r.s.store.matches[key(r.s.tenantID, string(m.ID))] = &cp
	return nil
}

func (r *memMatchResultRepo) CompareAndSetStatus(ctx context.Context, id models.MatchResultID, expectedVersion int64, newStatus models.MatchResultStatus) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	m, ok := r.s.store.matches[key(r.s.tenantID, string(id))]
	if !ok {
		return notFound("match_result", string(id))
	}
	if m.Version != expectedVersion {
		return apperrors.Conflict("match result version mismatch")
	}
	m.Status = newStatus
	m.Version++
	return nil
}

func (r *memMatchResultRepo) ForInvoice(ctx context.Context, invoiceID models.InvoiceID) ([]*models.MatchResult, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	var out []*models.MatchResult
	for _, m := range r.s.store.matches {
		if m.TenantID == r.s.tenantID && m.InvoiceID == invoiceID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memMatchResultRepo) SupersedeAllPending(ctx context.Context, invoiceID models.InvoiceID, supersededBy models.MatchResultID) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	for _, m := range r.s.store.matches {
		if m.TenantID == r.s.tenantID && m.InvoiceID == invoiceID && m.Status == models.MatchStatusPending && m.ID != supersededBy {
			m.Status = models.MatchStatusSuperseded
			sb := supersededBy
			m.SupersededBy = &sb
			m.Version++
		}
	}
	return nil
}

// --- audit events ---

type memAuditEventRepo struct{ s *memSession }

func (r *memAuditEventRepo) Append(ctx context.Context, e *models.MatchAuditEvent) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	if e.ID == "" {
		e.ID = models.AuditEventID(uuid.NewString())
	}
	e.TenantID = r.s.tenantID
	cp := *e
	r.s.store.auditEvents[key(r.s.tenantID, string(e.ID))] = &cp
	return nil
}

func (r *memAuditEventRepo) ForInvoice(ctx context.Context, invoiceID models.InvoiceID) ([]*models.MatchAuditEvent, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	var out []*models.MatchAuditEvent
	for _, e := range r.s.store.auditEvents {
		if e.TenantID == r.s.tenantID && e.InvoiceID == invoiceID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNo < out[j].SequenceNo })
	return out, nil
}

func (r *memAuditEventRepo) LastForInvoice(ctx context.Context, invoiceID models.InvoiceID) (*models.MatchAuditEvent, error) {
	all, err := r.ForInvoice(ctx, invoiceID)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[len(all)-1], nil
}

// --- tolerances ---

type memToleranceRepo struct{ s *memSession }

func (r *memToleranceRepo) Get(ctx context.Context, scope models.ToleranceScope, key2 string) (*models.MatchingTolerance, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	for _, t := range r.s.store.tolerances {
		if t.TenantID == r.s.tenantID && t.Scope == scope && t.Key == key2 {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memToleranceRepo) Upsert(ctx context.Context, t *models.MatchingTolerance) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	if t.ID == "" {
		t.ID = models.ToleranceID(uuid.NewString())
	}
	t.TenantID = r.s.tenantID
	for k, existing := range r.s.store.tolerances {
		if existing.TenantID == r.s.tenantID && existing.Scope == t.Scope && existing.Key == t.Key {
			cp := *t
			cp.ID = existing.ID
			r.s.store.tolerances[k] = &cp
			return nil
		}
	}
	cp := *t
	r.s.store.tolerances[key(r.s.tenantID, string(t.ID))] = &cp
	return nil
}

func (r *memToleranceRepo) AllForTenant(ctx context.Context) ([]*models.MatchingTolerance, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	var out []*models.MatchingTolerance
	for _, t := range r.s.store.tolerances {
		if t.TenantID == r.s.tenantID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- exceptions ---

type memExceptionRepo struct{ s *memSession }

func (r *memExceptionRepo) Get(ctx context.Context, id models.ExceptionID) (*models.ExceptionEntry, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	e, ok := r.s.store.exceptions[key(r.s.tenantID, string(id))]
	if !ok {
		return nil, notFound("exception", string(id))
	}
	cp := *e
	return &cp, nil
}

func (r *memExceptionRepo) GetOpenForInvoice(ctx context.Context, invoiceID models.InvoiceID) (*models.ExceptionEntry, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	var best *models.ExceptionEntry
	for _, e := range r.s.store.exceptions {
		if e.TenantID != r.s.tenantID || e.InvoiceID != invoiceID {
			continue
		}
		if e.Status != models.ExceptionOpen && e.Status != models.ExceptionInReview {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *memExceptionRepo) Create(ctx context.Context, e *models.ExceptionEntry) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	if e.ID == "" {
		e.ID = models.ExceptionID(uuid.NewString())
	}
	e.TenantID = r.s.tenantID
	cp := *e
	r.s.store.exceptions[key(r.s.tenantID, string(e.ID))] = &cp
	return nil
}

func (r *memExceptionRepo) CompareAndSet(ctx context.Context, id models.ExceptionID, expectedVersion int64, mutate func(*models.ExceptionEntry)) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	e, ok := r.s.store.exceptions[key(r.s.tenantID, string(id))]
	if !ok {
		return notFound("exception", string(id))
	}
	if e.Version != expectedVersion {
		return apperrors.Conflict("exception entry version mismatch")
	}
	mutate(e)
	e.Version++
	e.UpdatedAt = now()
	return nil
}

func (r *memExceptionRepo) List(ctx context.Context, filter ListFilter) (Page[*models.ExceptionEntry], error) {
	filter.Normalize()
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	var all []*models.ExceptionEntry
	for _, e := range r.s.store.exceptions {
		if e.TenantID != r.s.tenantID {
			continue
		}
		if filter.Status != "" && string(e.Status) != filter.Status {
			continue
		}
		cp := *e
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return priorityRank(all[i].Priority) > priorityRank(all[j].Priority)
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return paginate(all, filter), nil
}

func priorityRank(p models.ExceptionPriority) int {
	switch p {
	case models.PriorityCritical:
		return 3
	case models.PriorityHigh:
		return 2
	case models.PriorityMedium:
		return 1
	default:
		return 0
	}
}

// --- idempotency ---

type memIdempotencyRepo struct{ s *memSession }

func (r *memIdempotencyRepo) ClaimFresh(ctx context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	k := key(r.s.tenantID, rec.Key)
	if existing, ok := r.s.store.idempotency[k]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *rec
	cp.TenantID = r.s.tenantID
	cp.CreatedAt = now()
	r.s.store.idempotency[k] = &cp
	claimed := cp
	return &claimed, nil
}

func (r *memIdempotencyRepo) Complete(ctx context.Context, key2 string, tenantID models.TenantID, status int, body []byte) error {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	rec, ok := r.s.store.idempotency[key(tenantID, key2)]
	if !ok {
		return notFound("idempotency_record", key2)
	}
	rec.ResponseStatus = status
	rec.ResponseBody = body
	return nil
}

func (r *memIdempotencyRepo) ReapExpired(ctx context.Context, before time.Time) (int, error) {
	r.s.store.mu.Lock()
	defer r.s.store.mu.Unlock()
	n := 0
	for k, rec := range r.s.store.idempotency {
		if rec.TenantID == r.s.tenantID && rec.CreatedAt.Add(rec.TTL).Before(before) {
			delete(r.s.store.idempotency, k)
			n++
		}
	}
	return n, nil
}

package store

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

type pgPurchaseOrderRepo struct{ s *pgSession }

func (r *pgPurchaseOrderRepo) Get(ctx context.Context, id models.PurchaseOrderID) (*models.PurchaseOrder, error) {
	row := r.s.tx.QueryRow(ctx, `
		SELECT id, tenant_id, po_number, vendor_id, total_amount, currency, po_date, expected_date,
		       status, version, created_at, updated_at
		FROM purchase_orders WHERE tenant_id = $1 AND id = $2`, string(r.s.tenantID), string(id))
	po, err := scanPO(row)
	if err == pgx.ErrNoRows {
		return nil, notFound("purchase_order", string(id))
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	if err := r.attachLines(ctx, po); err != nil {
		return nil, err
	}
	return po, nil
}

func (r *pgPurchaseOrderRepo) GetByNumber(ctx context.Context, poNumber string) (*models.PurchaseOrder, error) {
	row := r.s.tx.QueryRow(ctx, `
		SELECT id, tenant_id, po_number, vendor_id, total_amount, currency, po_date, expected_date,
		       status, version, created_at, updated_at
		FROM purchase_orders WHERE tenant_id = $1 AND po_number = $2`, string(r.s.tenantID), poNumber)
	po, err := scanPO(row)
	if err == pgx.ErrNoRows {
		return nil, notFound("purchase_order", poNumber)
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	if err := r.attachLines(ctx, po); err != nil {
		return nil, err
	}
	return po, nil
}

func (r *pgPurchaseOrderRepo) Create(ctx context.Context, po *models.PurchaseOrder) error {
	if po.ID == "" {
		po.ID = models.PurchaseOrderID(uuid.NewString())
	}
	_, err := r.s.tx.Exec(ctx, `
		INSERT INTO purchase_orders (tenant_id, id, po_number, vendor_id, total_amount, currency,
		                             po_date, expected_date, status, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0)`,
		string(r.s.tenantID), string(po.ID), po.PONumber, string(po.VendorID), po.TotalAmount.String(),
		po.Currency, po.PODate, po.ExpectedDate, string(po.Status))
	if err != nil {
		return apperrors.Transient(err)
	}
	for _, l := range po.Lines {
		_, err := r.s.tx.Exec(ctx, `
			INSERT INTO purchase_order_lines (tenant_id, purchase_order_id, line_no, sku, description,
			                                   ordered_qty, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			string(r.s.tenantID), string(po.ID), l.LineNo, l.SKU, l.Description, l.OrderedQty,
			l.UnitPrice.String(), l.LineTotal.String())
		if err != nil {
			return apperrors.Transient(err)
		}
	}
	return nil
}

func (r *pgPurchaseOrderRepo) UpdateStatus(ctx context.Context, id models.PurchaseOrderID, status models.PurchaseOrderStatus) error {
	_, err := r.s.tx.Exec(ctx, `
		UPDATE purchase_orders SET status = $1, updated_at = now(), version = version + 1
		WHERE tenant_id = $2 AND id = $3`, string(status), string(r.s.tenantID), string(id))
	if err != nil {
		return apperrors.Transient(err)
	}
	return nil
}

// CandidatesFor is the single eager, indexed candidate-band query the
// matching hot path relies on: same currency, eligible status, date window,
// amount within the caller-supplied band (the 30% candidate band from the
// matching engine, already converted to cents by the caller).
func (r *pgPurchaseOrderRepo) CandidatesFor(ctx context.Context, vendorID models.VendorID, currency string, dateFrom, dateTo time.Time, amountCentsLow, amountCentsHigh int64) ([]*models.PurchaseOrder, error) {
	rows, err := r.s.tx.Query(ctx, `
		SELECT id, tenant_id, po_number, vendor_id, total_amount, currency, po_date, expected_date,
		       status, version, created_at, updated_at
		FROM purchase_orders
		WHERE tenant_id = $1 AND vendor_id = $2 AND currency = $3
		  AND status IN ('open', 'partially_received', 'fully_received')
		  AND po_date BETWEEN $4 AND $5
		  AND total_amount BETWEEN $6 AND $7
		ORDER BY po_date DESC`,
		string(r.s.tenantID), string(vendorID), currency, dateFrom, dateTo,
		moneydec.FromCents(amountCentsLow).String(), moneydec.FromCents(amountCentsHigh).String())
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	defer rows.Close()

	var out []*models.PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, apperrors.Transient(err)
		}
		out = append(out, po)
	}
	for _, po := range out {
		if err := r.attachLines(ctx, po); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// List supports the spec §6 paginated/filtered list endpoint.
func (r *pgPurchaseOrderRepo) List(ctx context.Context, filter ListFilter) (Page[*models.PurchaseOrder], error) {
	filter.Normalize()

	where := "WHERE tenant_id = $1"
	args := []any{string(r.s.tenantID)}
	if filter.VendorID != nil {
		args = append(args, string(*filter.VendorID))
		where += " AND vendor_id = $" + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += " AND status = $" + strconv.Itoa(len(args))
	}

	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)
	limitIdx, offsetIdx := strconv.Itoa(len(args)-1), strconv.Itoa(len(args))

	rows, err := r.s.tx.Query(ctx, `
		SELECT id, tenant_id, po_number, vendor_id, total_amount, currency, po_date, expected_date,
		       status, version, created_at, updated_at
		FROM purchase_orders `+where+`
		ORDER BY po_date DESC LIMIT $`+limitIdx+` OFFSET $`+offsetIdx, args...)
	if err != nil {
		return Page[*models.PurchaseOrder]{}, apperrors.Transient(err)
	}
	defer rows.Close()

	var out []*models.PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return Page[*models.PurchaseOrder]{}, apperrors.Transient(err)
		}
		out = append(out, po)
	}
	for _, po := range out {
		if err := r.attachLines(ctx, po); err != nil {
			return Page[*models.PurchaseOrder]{}, err
		}
	}

	var total int
	countArgs := args[:len(args)-2]
	if err := r.s.tx.QueryRow(ctx, `SELECT count(*) FROM purchase_orders `+where, countArgs...).Scan(&total); err != nil {
		return Page[*models.PurchaseOrder]{}, apperrors.Transient(err)
	}

	return Page[*models.PurchaseOrder]{Data: out, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (r *pgPurchaseOrderRepo) attachLines(ctx context.Context, po *models.PurchaseOrder) error {
	rows, err := r.s.tx.Query(ctx, `
		SELECT line_no, sku, description, ordered_qty, unit_price, line_total
		FROM purchase_order_lines WHERE tenant_id = $1 AND purchase_order_id = $2
		ORDER BY line_no`, string(r.s.tenantID), string(po.ID))
	if err != nil {
		return apperrors.Transient(err)
	}
	defer rows.Close()
	for rows.Next() {
		var l models.PurchaseOrderLine
		var unitPrice, lineTotal string
		if err := rows.Scan(&l.LineNo, &l.SKU, &l.Description, &l.OrderedQty, &unitPrice, &lineTotal); err != nil {
			return apperrors.Transient(err)
		}
		l.UnitPrice = moneydec.MustParse(unitPrice)
		l.LineTotal = moneydec.MustParse(lineTotal)
		po.Lines = append(po.Lines, l)
	}
	return nil
}

func scanPO(row rowScanner) (*models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	var id, tenantID, vendorID, total string
	if err := row.Scan(&id, &tenantID, &po.PONumber, &vendorID, &total, &po.Currency, &po.PODate,
		&po.ExpectedDate, &po.Status, &po.Version, &po.CreatedAt, &po.UpdatedAt); err != nil {
		return nil, err
	}
	po.ID = models.PurchaseOrderID(id)
	po.TenantID = models.TenantID(tenantID)
	po.VendorID = models.VendorID(vendorID)
	po.TotalAmount = moneydec.MustParse(total)
	return &po, nil
}

package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

type pgInvoiceRepo struct{ s *pgSession }

func (r *pgInvoiceRepo) Get(ctx context.Context, id models.InvoiceID) (*models.Invoice, error) {
	row := r.s.tx.QueryRow(ctx, `
		SELECT id, tenant_id, invoice_number, vendor_id, po_number, po_id, subtotal, tax_amount,
		       total_amount, currency, invoice_date, due_date, received_date, status,
		       matching_status, import_source, import_batch_id, raw_row, version, created_at, updated_at
		FROM invoices WHERE tenant_id = $1 AND id = $2`, string(r.s.tenantID), string(id))
	inv, err := scanInvoice(row)
	if err == pgx.ErrNoRows {
		return nil, notFound("invoice", string(id))
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return inv, nil
}

func (r *pgInvoiceRepo) GetByBusinessKey(ctx context.Context, invoiceNumber string, vendorID models.VendorID) (*models.Invoice, error) {
	row := r.s.tx.QueryRow(ctx, `
		SELECT id, tenant_id, invoice_number, vendor_id, po_number, po_id, subtotal, tax_amount,
		       total_amount, currency, invoice_date, due_date, received_date, status,
		       matching_status, import_source, import_batch_id, raw_row, version, created_at, updated_at
		FROM invoices WHERE tenant_id = $1 AND invoice_number = $2 AND vendor_id = $3`,
		string(r.s.tenantID), invoiceNumber, string(vendorID))
	inv, err := scanInvoice(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return inv, nil
}

func (r *pgInvoiceRepo) Create(ctx context.Context, inv *models.Invoice) error {
	if inv.ID == "" {
		inv.ID = models.InvoiceID(uuid.NewString())
	}
	rawRow, _ := json.Marshal(inv.RawRow)
	_, err := r.s.tx.Exec(ctx, `
		INSERT INTO invoices (tenant_id, id, invoice_number, vendor_id, po_number, po_id, subtotal,
		                       tax_amount, total_amount, currency, invoice_date, due_date, received_date,
		                       status, matching_status, import_source, import_batch_id, raw_row, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,0)
		ON CONFLICT (tenant_id, invoice_number, vendor_id) DO NOTHING`,
		string(r.s.tenantID), string(inv.ID), inv.InvoiceNumber, string(inv.VendorID), inv.PONumber, inv.POID,
		inv.Subtotal.String(), inv.TaxAmount.String(), inv.TotalAmount.String(), inv.Currency,
		inv.InvoiceDate, inv.DueDate, inv.ReceivedDate, string(inv.Status), string(inv.MatchingStatus),
		inv.ImportSource, inv.ImportBatchID, rawRow)
	if err != nil {
		return apperrors.Transient(err)
	}
	return nil
}

func (r *pgInvoiceRepo) UpdateMatchingStatus(ctx context.Context, id models.InvoiceID, from, to models.MatchingStatus) error {
	if !from.CanTransitionTo(to) {
		return apperrors.New(apperrors.KindConflict, "invalid matching_status transition")
	}
	tag, err := r.s.tx.Exec(ctx, `
		UPDATE invoices SET matching_status = $1, updated_at = now(), version = version + 1
		WHERE tenant_id = $2 AND id = $3 AND matching_status = $4`,
		string(to), string(r.s.tenantID), string(id), string(from))
	if err != nil {
		return apperrors.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict("invoice matching_status changed concurrently")
	}
	return nil
}

func (r *pgInvoiceRepo) UpdateStatus(ctx context.Context, id models.InvoiceID, status models.InvoiceStatus) error {
	_, err := r.s.tx.Exec(ctx, `
		UPDATE invoices SET status = $1, updated_at = now(), version = version + 1
		WHERE tenant_id = $2 AND id = $3`, string(status), string(r.s.tenantID), string(id))
	if err != nil {
		return apperrors.Transient(err)
	}
	return nil
}

func (r *pgInvoiceRepo) List(ctx context.Context, filter ListFilter) (Page[*models.Invoice], error) {
	filter.Normalize()
	rows, err := r.s.tx.Query(ctx, `
		SELECT id, tenant_id, invoice_number, vendor_id, po_number, po_id, subtotal, tax_amount,
		       total_amount, currency, invoice_date, due_date, received_date, status,
		       matching_status, import_source, import_batch_id, raw_row, version, created_at, updated_at
		FROM invoices WHERE tenant_id = $1
		ORDER BY invoice_date DESC LIMIT $2 OFFSET $3`,
		string(r.s.tenantID), filter.Limit, (filter.Page-1)*filter.Limit)
	if err != nil {
		return Page[*models.Invoice]{}, apperrors.Transient(err)
	}
	defer rows.Close()

	var out []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoiceRows(rows)
		if err != nil {
			return Page[*models.Invoice]{}, apperrors.Transient(err)
		}
		out = append(out, inv)
	}

	var total int
	if err := r.s.tx.QueryRow(ctx, `SELECT count(*) FROM invoices WHERE tenant_id = $1`, string(r.s.tenantID)).Scan(&total); err != nil {
		return Page[*models.Invoice]{}, apperrors.Transient(err)
	}

	return Page[*models.Invoice]{Data: out, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (r *pgInvoiceRepo) ScanByVendorStatus(ctx context.Context, vendorID models.VendorID, statuses []models.InvoiceStatus) ([]*models.Invoice, error) {
	strStatuses := make([]string, len(statuses))
	for i, s := range statuses {
		strStatuses[i] = string(s)
	}
	rows, err := r.s.tx.Query(ctx, `
		SELECT id, tenant_id, invoice_number, vendor_id, po_number, po_id, subtotal, tax_amount,
		       total_amount, currency, invoice_date, due_date, received_date, status,
		       matching_status, import_source, import_batch_id, raw_row, version, created_at, updated_at
		FROM invoices WHERE tenant_id = $1 AND vendor_id = $2 AND status = ANY($3)`,
		string(r.s.tenantID), string(vendorID), strStatuses)
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	defer rows.Close()

	var out []*models.Invoice
	for rows.Next() {
		inv, err := scanInvoiceRows(rows)
		if err != nil {
			return nil, apperrors.Transient(err)
		}
		out = append(out, inv)
	}
	return out, nil
}

func (r *pgInvoiceRepo) DeleteByImportBatch(ctx context.Context, batchID string) (int, error) {
	tag, err := r.s.tx.Exec(ctx, `DELETE FROM invoices WHERE tenant_id = $1 AND import_batch_id = $2`,
		string(r.s.tenantID), batchID)
	if err != nil {
		return 0, apperrors.Transient(err)
	}
	return int(tag.RowsAffected()), nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	return scanInvoiceRows(row)
}

func scanInvoiceRows(row rowScanner) (*models.Invoice, error) {
	var inv models.Invoice
	var subtotal, tax, total string
	var rawRow []byte
	var id, tenantID, vendorID string
	var poID *string
	if err := row.Scan(&id, &tenantID, &inv.InvoiceNumber, &vendorID, &inv.PONumber, &poID, &subtotal, &tax,
		&total, &inv.Currency, &inv.InvoiceDate, &inv.DueDate, &inv.ReceivedDate, &inv.Status,
		&inv.MatchingStatus, &inv.ImportSource, &inv.ImportBatchID, &rawRow, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, err
	}
	inv.ID = models.InvoiceID(id)
	inv.TenantID = models.TenantID(tenantID)
	inv.VendorID = models.VendorID(vendorID)
	if poID != nil {
		p := models.PurchaseOrderID(*poID)
		inv.POID = &p
	}
	inv.Subtotal = moneydec.MustParse(subtotal)
	inv.TaxAmount = moneydec.MustParse(tax)
	inv.TotalAmount = moneydec.MustParse(total)
	if len(rawRow) > 0 {
		_ = json.Unmarshal(rawRow, &inv.RawRow)
	}
	return &inv, nil
}

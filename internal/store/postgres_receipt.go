package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

type pgReceiptRepo struct{ s *pgSession }

func (r *pgReceiptRepo) Get(ctx context.Context, id models.ReceiptID) (*models.Receipt, error) {
	row := r.s.tx.QueryRow(ctx, `
		SELECT id, tenant_id, receipt_number, purchase_order_id, received_date, total_amount,
		       created_at, updated_at
		FROM receipts WHERE tenant_id = $1 AND id = $2`, string(r.s.tenantID), string(id))
	rcpt, err := scanReceipt(row)
	if err == pgx.ErrNoRows {
		return nil, notFound("receipt", string(id))
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	if err := r.attachLines(ctx, rcpt); err != nil {
		return nil, err
	}
	return rcpt, nil
}

func (r *pgReceiptRepo) Create(ctx context.Context, rcpt *models.Receipt) error {
	if rcpt.ID == "" {
		rcpt.ID = models.ReceiptID(uuid.NewString())
	}
	_, err := r.s.tx.Exec(ctx, `
		INSERT INTO receipts (tenant_id, id, receipt_number, purchase_order_id, received_date, total_amount)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		string(r.s.tenantID), string(rcpt.ID), rcpt.ReceiptNumber, string(rcpt.PurchaseOrderID),
		rcpt.ReceivedDate, rcpt.TotalAmount.String())
	if err != nil {
		return apperrors.Transient(err)
	}
	for _, l := range rcpt.Lines {
		_, err := r.s.tx.Exec(ctx, `
			INSERT INTO receipt_lines (tenant_id, receipt_id, purchase_order_line_no, sku, received_qty)
			VALUES ($1,$2,$3,$4,$5)`,
			string(r.s.tenantID), string(rcpt.ID), l.PurchaseOrderLineNo, l.SKU, l.ReceivedQty)
		if err != nil {
			return apperrors.Transient(err)
		}
	}
	return nil
}

func (r *pgReceiptRepo) ForPurchaseOrder(ctx context.Context, poID models.PurchaseOrderID) ([]*models.Receipt, error) {
	rows, err := r.s.tx.Query(ctx, `
		SELECT id, tenant_id, receipt_number, purchase_order_id, received_date, total_amount,
		       created_at, updated_at
		FROM receipts WHERE tenant_id = $1 AND purchase_order_id = $2
		ORDER BY received_date`, string(r.s.tenantID), string(poID))
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	defer rows.Close()

	var out []*models.Receipt
	for rows.Next() {
		rcpt, err := scanReceipt(rows)
		if err != nil {
			return nil, apperrors.Transient(err)
		}
		out = append(out, rcpt)
	}
	for _, rcpt := range out {
		if err := r.attachLines(ctx, rcpt); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *pgReceiptRepo) attachLines(ctx context.Context, rcpt *models.Receipt) error {
	rows, err := r.s.tx.Query(ctx, `
		SELECT purchase_order_line_no, sku, received_qty
		FROM receipt_lines WHERE tenant_id = $1 AND receipt_id = $2
		ORDER BY purchase_order_line_no`, string(r.s.tenantID), string(rcpt.ID))
	if err != nil {
		return apperrors.Transient(err)
	}
	defer rows.Close()
	for rows.Next() {
		var l models.ReceiptLine
		if err := rows.Scan(&l.PurchaseOrderLineNo, &l.SKU, &l.ReceivedQty); err != nil {
			return apperrors.Transient(err)
		}
		rcpt.Lines = append(rcpt.Lines, l)
	}
	return nil
}

func scanReceipt(row rowScanner) (*models.Receipt, error) {
	var rcpt models.Receipt
	var id, tenantID, poID, total string
	if err := row.Scan(&id, &tenantID, &rcpt.ReceiptNumber, &poID, &rcpt.ReceivedDate, &total,
		&rcpt.CreatedAt, &rcpt.UpdatedAt); err != nil {
		return nil, err
	}
	rcpt.ID = models.ReceiptID(id)
	rcpt.TenantID = models.TenantID(tenantID)
	rcpt.PurchaseOrderID = models.PurchaseOrderID(poID)
	rcpt.TotalAmount = moneydec.MustParse(total)
	return &rcpt, nil
}

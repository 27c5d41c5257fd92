package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

type pgMatchResultRepo struct{ s *pgSession }

func (r *pgMatchResultRepo) Get(ctx context.Context, id models.MatchResultID) (*models.MatchResult, error) {
	row := r.s.tx.QueryRow(ctx, matchResultSelect+` WHERE tenant_id = $1 AND id = $2`, string(r.s.tenantID), string(id))
	m, err := scanMatchResult(row)
	if err == pgx.ErrNoRows {
		return nil, notFound("match_result", string(id))
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return m, nil
}

func (r *pgMatchResultRepo) Create(ctx context.Context, m *models.MatchResult) error {
	if m.ID == "" {
		m.ID = models.MatchResultID(uuid.NewString())
	}
	discrepancies, _ := json.Marshal(m.Discrepancies)
	_, err := r.s.tx.Exec(ctx, `
		INSERT INTO match_results (tenant_id, id, invoice_id, purchase_order_id, receipt_id, match_type,
		                           three_way_type, confidence, component_reference, component_amount,
		                           component_vendor, component_date, component_line, discrepancies,
		                           status, algorithm_version, reviewed_by, review_notes, superseded_by, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,0)`,
		string(r.s.tenantID), string(m.ID), string(m.InvoiceID), m.PurchaseOrderID, m.ReceiptID,
		string(m.MatchType), string(m.ThreeWayType), m.Confidence, m.Components.Reference,
		m.Components.Amount, m.Components.Vendor, m.Components.Date, m.Components.Line, discrepancies,
		string(m.Status), m.AlgorithmVersion, m.ReviewedBy, m.ReviewNotes, m.SupersededBy)
	if err != nil {
		return apperrors.Transient(err)
	}
	return nil
}

// CompareAndSetStatus implements optimistic concurrency for review
// transitions: the update only applies when the row's version still matches
// expectedVersion, per the conflict kind contract in spec §7.
func (r *pgMatchResultRepo) CompareAndSetStatus(ctx context.Context, id models.MatchResultID, expectedVersion int64, newStatus models.MatchResultStatus) error {
	tag, err := r.s.tx.Exec(ctx, `
		UPDATE match_results SET status = $1, version = version + 1
		WHERE tenant_id = $2 AND id = $3 AND version = $4`,
		string(newStatus), string(r.s.tenantID), string(id), expectedVersion)
	if err != nil {
		return apperrors.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict("match result version mismatch")
	}
	return nil
}

func (r *pgMatchResultRepo) ForInvoice(ctx context.Context, invoiceID models.InvoiceID) ([]*models.MatchResult, error) {
	rows, err := r.s.tx.Query(ctx, matchResultSelect+` WHERE tenant_id = $1 AND invoice_id = $2 ORDER BY created_at DESC`,
		string(r.s.tenantID), string(invoiceID))
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	defer rows.Close()

	var out []*models.MatchResult
	for rows.Next() {
		m, err := scanMatchResult(rows)
		if err != nil {
			return nil, apperrors.Transient(err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *pgMatchResultRepo) SupersedeAllPending(ctx context.Context, invoiceID models.InvoiceID, supersededBy models.MatchResultID) error {
	_, err := r.s.tx.Exec(ctx, `
		UPDATE match_results SET status = 'superseded', superseded_by = $1, version = version + 1
		WHERE tenant_id = $2 AND invoice_id = $3 AND status = 'pending' AND id != $1`,
		string(supersededBy), string(r.s.tenantID), string(invoiceID))
	if err != nil {
		return apperrors.Transient(err)
	}
	return nil
}

const matchResultSelect = `
	SELECT id, tenant_id, invoice_id, purchase_order_id, receipt_id, match_type, three_way_type,
	       confidence, component_reference, component_amount, component_vendor, component_date,
	       component_line, discrepancies, status, algorithm_version, reviewed_by, review_notes,
	       superseded_by, version, created_at
	FROM match_results`

func scanMatchResult(row rowScanner) (*models.MatchResult, error) {
	var m models.MatchResult
	var id, tenantID, invoiceID string
	var discrepancies []byte
	if err := row.Scan(&id, &tenantID, &invoiceID, &m.PurchaseOrderID, &m.ReceiptID, &m.MatchType,
		&m.ThreeWayType, &m.Confidence, &m.Components.Reference, &m.Components.Amount,
		&m.Components.Vendor, &m.Components.Date, &m.Components.Line, &discrepancies, &m.Status,
		&m.AlgorithmVersion, &m.ReviewedBy, &m.ReviewNotes, &m.SupersededBy, &m.Version, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.ID = models.MatchResultID(id)
	m.TenantID = models.TenantID(tenantID)
	m.InvoiceID = models.InvoiceID(invoiceID)
	if len(discrepancies) > 0 {
		_ = json.Unmarshal(discrepancies, &m.Discrepancies)
	}
	return &m, nil
}

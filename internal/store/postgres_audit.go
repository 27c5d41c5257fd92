package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

type pgAuditEventRepo struct{ s *pgSession }

// Append inserts the next event in an invoice's hash chain. The
// (tenant_id, invoice_id, sequence_no) unique constraint rejects a
// concurrent writer racing to append the same sequence number, surfacing as
// a conflict rather than silently overwriting a chain link.
func (r *pgAuditEventRepo) Append(ctx context.Context, e *models.MatchAuditEvent) error {
	if e.ID == "" {
		e.ID = models.AuditEventID(uuid.NewString())
	}
	_, err := r.s.tx.Exec(ctx, `
		INSERT INTO match_audit_events (tenant_id, id, invoice_id, sequence_no, algorithm_version,
		                                rule_set_hash, inputs_hash, component_reference,
		                                component_amount, component_vendor, component_date,
		                                component_line, final_score, decision, actor, prev_event_hash,
		                                content_hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		string(r.s.tenantID), string(e.ID), string(e.InvoiceID), e.SequenceNo, e.AlgorithmVersion,
		e.RuleSetHash, e.InputsHash, e.Components.Reference, e.Components.Amount, e.Components.Vendor,
		e.Components.Date, e.Components.Line, e.FinalScore, e.Decision, e.Actor, e.PrevEventHash,
		e.ContentHash)
	if err != nil {
		return apperrors.Transient(err)
	}
	return nil
}

func (r *pgAuditEventRepo) ForInvoice(ctx context.Context, invoiceID models.InvoiceID) ([]*models.MatchAuditEvent, error) {
	rows, err := r.s.tx.Query(ctx, auditEventSelect+` WHERE tenant_id = $1 AND invoice_id = $2 ORDER BY sequence_no`,
		string(r.s.tenantID), string(invoiceID))
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	defer rows.Close()

	var out []*models.MatchAuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, apperrors.Transient(err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *pgAuditEventRepo) LastForInvoice(ctx context.Context, invoiceID models.InvoiceID) (*models.MatchAuditEvent, error) {
	row := r.s.tx.QueryRow(ctx, auditEventSelect+` WHERE tenant_id = $1 AND invoice_id = $2 ORDER BY sequence_no DESC LIMIT 1`,
		string(r.s.tenantID), string(invoiceID))
	e, err := scanAuditEvent(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return e, nil
}

const auditEventSelect = `
	SELECT id, tenant_id, invoice_id, sequence_no, algorithm_version, rule_set_hash, inputs_hash,
	       component_reference, component_amount, component_vendor, component_date, component_line,
	       final_score, decision, actor, prev_event_hash, content_hash, created_at
	FROM match_audit_events`

func scanAuditEvent(row rowScanner) (*models.MatchAuditEvent, error) {
	var e models.MatchAuditEvent
	var id, tenantID, invoiceID string
	if err := row.Scan(&id, &tenantID, &invoiceID, &e.SequenceNo, &e.AlgorithmVersion, &e.RuleSetHash,
		&e.InputsHash, &e.Components.Reference, &e.Components.Amount, &e.Components.Vendor,
		&e.Components.Date, &e.Components.Line, &e.FinalScore, &e.Decision, &e.Actor,
		&e.PrevEventHash, &e.ContentHash, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.ID = models.AuditEventID(id)
	e.TenantID = models.TenantID(tenantID)
	e.InvoiceID = models.InvoiceID(invoiceID)
	return &e, nil
}

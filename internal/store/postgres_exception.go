package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

type pgExceptionRepo struct{ s *pgSession }

func (r *pgExceptionRepo) Get(ctx context.Context, id models.ExceptionID) (*models.ExceptionEntry, error) {
	row := r.s.tx.QueryRow(ctx, exceptionSelect+` WHERE tenant_id = $1 AND id = $2`, string(r.s.tenantID), string(id))
	e, err := scanException(row)
	if err == pgx.ErrNoRows {
		return nil, notFound("exception", string(id))
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return e, nil
}

func (r *pgExceptionRepo) GetOpenForInvoice(ctx context.Context, invoiceID models.InvoiceID) (*models.ExceptionEntry, error) {
	row := r.s.tx.QueryRow(ctx, exceptionSelect+` WHERE tenant_id = $1 AND invoice_id = $2 AND status IN ('open', 'in_review')
		ORDER BY created_at DESC LIMIT 1`, string(r.s.tenantID), string(invoiceID))
	e, err := scanException(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return e, nil
}

func (r *pgExceptionRepo) Create(ctx context.Context, e *models.ExceptionEntry) error {
	if e.ID == "" {
		e.ID = models.ExceptionID(uuid.NewString())
	}
	suggested := make([]string, len(e.SuggestedMatches))
	for i, m := range e.SuggestedMatches {
		suggested[i] = string(m)
	}
	_, err := r.s.tx.Exec(ctx, `
		INSERT INTO exception_entries (tenant_id, id, invoice_id, reason, priority, suggested_matches,
		                                assigned_to, status, resolution_notes, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0)`,
		string(r.s.tenantID), string(e.ID), string(e.InvoiceID), string(e.Reason), string(e.Priority),
		suggested, e.AssignedTo, string(e.Status), e.ResolutionNotes)
	if err != nil {
		return apperrors.Transient(err)
	}
	return nil
}

// CompareAndSet loads the current row, applies mutate, and writes it back
// guarded by the version it was read at, in one transaction statement pair —
// the same compare-and-set discipline as MatchResultRepo.CompareAndSetStatus,
// but generalized to an arbitrary field mutation since review decisions
// touch several columns (status, assigned_to, resolution_notes) at once.
func (r *pgExceptionRepo) CompareAndSet(ctx context.Context, id models.ExceptionID, expectedVersion int64, mutate func(*models.ExceptionEntry)) error {
	e, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Version != expectedVersion {
		return apperrors.Conflict("exception entry version mismatch")
	}
	mutate(e)
	suggested := make([]string, len(e.SuggestedMatches))
	for i, m := range e.SuggestedMatches {
		suggested[i] = string(m)
	}
	tag, err := r.s.tx.Exec(ctx, `
		UPDATE exception_entries SET reason = $1, priority = $2, suggested_matches = $3,
		       assigned_to = $4, status = $5, resolution_notes = $6, updated_at = now(),
		       version = version + 1
		WHERE tenant_id = $7 AND id = $8 AND version = $9`,
		string(e.Reason), string(e.Priority), suggested, e.AssignedTo, string(e.Status),
		e.ResolutionNotes, string(r.s.tenantID), string(id), expectedVersion)
	if err != nil {
		return apperrors.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Conflict("exception entry version mismatch")
	}
	return nil
}

func (r *pgExceptionRepo) List(ctx context.Context, filter ListFilter) (Page[*models.ExceptionEntry], error) {
	filter.Normalize()
	where := `WHERE tenant_id = $1`
	args := []any{string(r.s.tenantID)}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += ` AND status = $2`
	}
	rows, err := r.s.tx.Query(ctx, exceptionSelect+` `+where+`
		ORDER BY priority DESC, created_at LIMIT `+limitOffsetPlaceholders(len(args)), append(args, filter.Limit, (filter.Page-1)*filter.Limit)...)
	if err != nil {
		return Page[*models.ExceptionEntry]{}, apperrors.Transient(err)
	}
	defer rows.Close()

	var out []*models.ExceptionEntry
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return Page[*models.ExceptionEntry]{}, apperrors.Transient(err)
		}
		out = append(out, e)
	}

	var total int
	if err := r.s.tx.QueryRow(ctx, `SELECT count(*) FROM exception_entries `+where, args[:len(args)]...).Scan(&total); err != nil {
		return Page[*models.ExceptionEntry]{}, apperrors.Transient(err)
	}

	return Page[*models.ExceptionEntry]{Data: out, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// limitOffsetPlaceholders returns "$(n+1) OFFSET $(n+2)" given the count of
// already-bound positional args, so List can append a variable WHERE clause
// ahead of its fixed pagination tail.
func limitOffsetPlaceholders(boundArgs int) string {
	limitPos := boundArgs + 1
	offsetPos := boundArgs + 2
	return "$" + itoa(limitPos) + " OFFSET $" + itoa(offsetPos)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

const exceptionSelect = `
	SELECT id, tenant_id, invoice_id, reason, priority, suggested_matches, assigned_to, status,
	       resolution_notes, version, created_at, updated_at
	FROM exception_entries`

func scanException(row rowScanner) (*models.ExceptionEntry, error) {
	var e models.ExceptionEntry
	var id, tenantID, invoiceID string
	var suggested []string
	if err := row.Scan(&id, &tenantID, &invoiceID, &e.Reason, &e.Priority, &suggested, &e.AssignedTo,
		&e.Status, &e.ResolutionNotes, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.ID = models.ExceptionID(id)
	e.TenantID = models.TenantID(tenantID)
	e.InvoiceID = models.InvoiceID(invoiceID)
	for _, m := range suggested {
		e.SuggestedMatches = append(e.SuggestedMatches, models.MatchResultID(m))
	}
	return &e, nil
}

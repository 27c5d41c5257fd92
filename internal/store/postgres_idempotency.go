package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

type pgIdempotencyRepo struct{ s *pgSession }

// ClaimFresh inserts the record iff (tenant, key) is not already present.
// ON CONFLICT DO NOTHING combined with RETURNING distinguishes the two
// outcomes the idempotency registry needs without a separate round trip:
// a returned row means this call made the fresh claim; no row means someone
// else already holds it, so the caller re-reads it to decide replay vs
// conflict by comparing fingerprints.
func (r *pgIdempotencyRepo) ClaimFresh(ctx context.Context, rec *models.IdempotencyRecord) (*models.IdempotencyRecord, error) {
	row := r.s.tx.QueryRow(ctx, `
		INSERT INTO idempotency_records (tenant_id, key, fingerprint, response_status, response_body, ttl_seconds)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (tenant_id, key) DO NOTHING
		RETURNING tenant_id, key, fingerprint, response_status, response_body, created_at, ttl_seconds`,
		string(rec.TenantID), rec.Key, rec.Fingerprint, nullInt(rec.ResponseStatus), rec.ResponseBody,
		int(rec.TTL.Seconds()))
	claimed, err := scanIdempotency(row)
	if err == pgx.ErrNoRows {
		existing := r.s.tx.QueryRow(ctx, `
			SELECT tenant_id, key, fingerprint, response_status, response_body, created_at, ttl_seconds
			FROM idempotency_records WHERE tenant_id = $1 AND key = $2`, string(rec.TenantID), rec.Key)
		got, err := scanIdempotency(existing)
		if err != nil {
			return nil, apperrors.Transient(err)
		}
		return got, nil
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return claimed, nil
}

func (r *pgIdempotencyRepo) Complete(ctx context.Context, key string, tenantID models.TenantID, status int, body []byte) error {
	_, err := r.s.tx.Exec(ctx, `
		UPDATE idempotency_records SET response_status = $1, response_body = $2
		WHERE tenant_id = $3 AND key = $4`, status, body, string(tenantID), key)
	if err != nil {
		return apperrors.Transient(err)
	}
	return nil
}

func (r *pgIdempotencyRepo) ReapExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.s.tx.Exec(ctx, `
		DELETE FROM idempotency_records
		WHERE tenant_id = $1 AND created_at + (ttl_seconds * interval '1 second') < $2`,
		string(r.s.tenantID), before)
	if err != nil {
		return 0, apperrors.Transient(err)
	}
	return int(tag.RowsAffected()), nil
}

func nullInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func scanIdempotency(row rowScanner) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	var tenantID string
	var status *int
	var ttlSeconds int
	if err := row.Scan(&tenantID, &rec.Key, &rec.Fingerprint, &status, &rec.ResponseBody, &rec.CreatedAt, &ttlSeconds); err != nil {
		return nil, err
	}
	rec.TenantID = models.TenantID(tenantID)
	if status != nil {
		rec.ResponseStatus = *status
	}
	rec.TTL = time.Duration(ttlSeconds) * time.Second
	return &rec, nil
}

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

type pgToleranceRepo struct{ s *pgSession }

func (r *pgToleranceRepo) Get(ctx context.Context, scope models.ToleranceScope, key string) (*models.MatchingTolerance, error) {
	row := r.s.tx.QueryRow(ctx, toleranceSelect+` WHERE tenant_id = $1 AND scope = $2 AND key = $3`,
		string(r.s.tenantID), string(scope), key)
	t, err := scanTolerance(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return t, nil
}

func (r *pgToleranceRepo) Upsert(ctx context.Context, t *models.MatchingTolerance) error {
	if t.ID == "" {
		t.ID = models.ToleranceID(uuid.NewString())
	}
	_, err := r.s.tx.Exec(ctx, `
		INSERT INTO matching_tolerances (tenant_id, id, scope, key, price_tolerance_pct,
		                                 price_tolerance_abs, quantity_tolerance_pct,
		                                 quantity_tolerance_abs, date_tolerance_days,
		                                 auto_approve_threshold, manual_review_threshold,
		                                 weight_reference, weight_amount, weight_vendor, weight_date,
		                                 weight_line)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (tenant_id, scope, key) DO UPDATE SET
		    price_tolerance_pct = EXCLUDED.price_tolerance_pct,
		    price_tolerance_abs = EXCLUDED.price_tolerance_abs,
		    quantity_tolerance_pct = EXCLUDED.quantity_tolerance_pct,
		    quantity_tolerance_abs = EXCLUDED.quantity_tolerance_abs,
		    date_tolerance_days = EXCLUDED.date_tolerance_days,
		    auto_approve_threshold = EXCLUDED.auto_approve_threshold,
		    manual_review_threshold = EXCLUDED.manual_review_threshold,
		    weight_reference = EXCLUDED.weight_reference,
		    weight_amount = EXCLUDED.weight_amount,
		    weight_vendor = EXCLUDED.weight_vendor,
		    weight_date = EXCLUDED.weight_date,
		    weight_line = EXCLUDED.weight_line`,
		string(r.s.tenantID), string(t.ID), string(t.Scope), t.Key, t.PriceTolerancePct,
		t.PriceToleranceAbs, t.QuantityTolerancePct, t.QuantityToleranceAbs, t.DateToleranceDays,
		t.AutoApproveThreshold, t.ManualReviewThreshold, t.WeightReference, t.WeightAmount,
		t.WeightVendor, t.WeightDate, t.WeightLine)
	if err != nil {
		return apperrors.Transient(err)
	}
	return nil
}

func (r *pgToleranceRepo) AllForTenant(ctx context.Context) ([]*models.MatchingTolerance, error) {
	rows, err := r.s.tx.Query(ctx, toleranceSelect+` WHERE tenant_id = $1`, string(r.s.tenantID))
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	defer rows.Close()

	var out []*models.MatchingTolerance
	for rows.Next() {
		t, err := scanTolerance(rows)
		if err != nil {
			return nil, apperrors.Transient(err)
		}
		out = append(out, t)
	}
	return out, nil
}

const toleranceSelect = `
	SELECT id, tenant_id, scope, key, price_tolerance_pct, price_tolerance_abs,
	       quantity_tolerance_pct, quantity_tolerance_abs, date_tolerance_days,
	       auto_approve_threshold, manual_review_threshold, weight_reference, weight_amount,
	       weight_vendor, weight_date, weight_line
	FROM matching_tolerances`

func scanTolerance(row rowScanner) (*models.MatchingTolerance, error) {
	var t models.MatchingTolerance
	var id, tenantID string
	if err := row.Scan(&id, &tenantID, &t.Scope, &t.Key, &t.PriceTolerancePct, &t.PriceToleranceAbs,
		&t.QuantityTolerancePct, &t.QuantityToleranceAbs, &t.DateToleranceDays,
		&t.AutoApproveThreshold, &t.ManualReviewThreshold, &t.WeightReference, &t.WeightAmount,
		&t.WeightVendor, &t.WeightDate, &t.WeightLine); err != nil {
		return nil, err
	}
	t.ID = models.ToleranceID(id)
	t.TenantID = models.TenantID(tenantID)
	return &t, nil
}

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

type pgVendorRepo struct{ s *pgSession }

func (r *pgVendorRepo) Get(ctx context.Context, id models.VendorID) (*models.Vendor, error) {
	row := r.s.tx.QueryRow(ctx, `
		SELECT id, tenant_id, legal_name, display_name, normalized_name, tax_id, aliases,
		       payment_terms_days, created_at, updated_at
		FROM vendors WHERE tenant_id = $1 AND id = $2`, string(r.s.tenantID), string(id))
	v, err := scanVendor(row)
	if err == pgx.ErrNoRows {
		return nil, notFound("vendor", string(id))
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return v, nil
}

func (r *pgVendorRepo) GetByNormalizedName(ctx context.Context, normalizedName string) (*models.Vendor, error) {
	row := r.s.tx.QueryRow(ctx, `
		SELECT id, tenant_id, legal_name, display_name, normalized_name, tax_id, aliases,
		       payment_terms_days, created_at, updated_at
		FROM vendors WHERE tenant_id = $1 AND normalized_name = $2`, string(r.s.tenantID), normalizedName)
	v, err := scanVendor(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	return v, nil
}

func (r *pgVendorRepo) Create(ctx context.Context, v *models.Vendor) error {
	if v.ID == "" {
		v.ID = models.VendorID(uuid.NewString())
	}
	_, err := r.s.tx.Exec(ctx, `
		INSERT INTO vendors (tenant_id, id, legal_name, display_name, normalized_name, tax_id,
		                      aliases, payment_terms_days)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (tenant_id, normalized_name) DO NOTHING`,
		string(r.s.tenantID), string(v.ID), v.LegalName, v.DisplayName, v.NormalizedName, v.TaxID,
		v.Aliases, v.PaymentTermsDays)
	if err != nil {
		return apperrors.Transient(err)
	}
	return nil
}

func (r *pgVendorRepo) List(ctx context.Context) ([]*models.Vendor, error) {
	rows, err := r.s.tx.Query(ctx, `
		SELECT id, tenant_id, legal_name, display_name, normalized_name, tax_id, aliases,
		       payment_terms_days, created_at, updated_at
		FROM vendors WHERE tenant_id = $1 ORDER BY display_name`, string(r.s.tenantID))
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	defer rows.Close()

	var out []*models.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, apperrors.Transient(err)
		}
		out = append(out, v)
	}
	return out, nil
}

func scanVendor(row rowScanner) (*models.Vendor, error) {
	var v models.Vendor
	var id, tenantID string
	if err := row.Scan(&id, &tenantID, &v.LegalName, &v.DisplayName, &v.NormalizedName, &v.TaxID,
		&v.Aliases, &v.PaymentTermsDays, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.ID = models.VendorID(id)
	v.TenantID = models.TenantID(tenantID)
	return &v, nil
}

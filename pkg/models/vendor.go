package models

import "time"

// Vendor (spec §3). NormalizedName is the deterministic-function output of
// the external vendor-normalization collaborator named in spec §6 — the
// core persists whatever that collaborator returns and never recomputes it
// itself, except for the internal matching-time normalization in
// internal/matching/similarity.go, which is a distinct, purely comparative
// transform (case/punctuation/suffix folding for scoring) and is not this
// field.
type Vendor struct {
	ID               VendorID  `json:"id"`
	TenantID         TenantID  `json:"tenant_id"`
	LegalName        string    `json:"legal_name"`
	DisplayName      string    `json:"display_name"`
	NormalizedName   string    `json:"normalized_name"`
	TaxID            string    `json:"tax_id"`
	Aliases          []string  `json:"aliases,omitempty"`
	PaymentTermsDays int       `json:"payment_terms_days"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

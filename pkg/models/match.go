package models

import "time"

// MatchType classifies how a MatchResult was produced (spec §3).
type MatchType string

const (
	MatchTypeExact   MatchType = "exact"
	MatchTypeFuzzy   MatchType = "fuzzy"
	MatchTypeTolerance MatchType = "tolerance"
	MatchTypeThreeWay MatchType = "three_way"
	MatchTypeManual  MatchType = "manual"
	MatchTypeNone    MatchType = "none"
)

// MatchResultStatus (spec §3).
type MatchResultStatus string

const (
	MatchStatusPending    MatchResultStatus = "pending"
	MatchStatusApproved   MatchResultStatus = "approved"
	MatchStatusRejected   MatchResultStatus = "rejected"
	MatchStatusSuperseded MatchResultStatus = "superseded"
)

// ThreeWayType is the classification from spec §4.4.5.
type ThreeWayType string

const (
	ThreeWayPerfectMatch   ThreeWayType = "perfect_match"
	ThreeWayPartialReceipt ThreeWayType = "partial_receipt"
	ThreeWaySplitDelivery  ThreeWayType = "split_delivery"
	ThreeWayOverDelivery   ThreeWayType = "over_delivery"
	ThreeWayOverInvoice    ThreeWayType = "over_invoice"
	ThreeWayUnderDelivery  ThreeWayType = "under_delivery"
	ThreeWayUnderInvoice   ThreeWayType = "under_invoice"
	ThreeWayPriceVariance  ThreeWayType = "price_variance"
	ThreeWayQuantityVariance ThreeWayType = "quantity_variance"
	ThreeWayNotApplicable  ThreeWayType = "" // no receipt present
)

// ComponentScores holds the five weighted sub-scores from spec §4.4.3.
type ComponentScores struct {
	Reference float64 `json:"reference"`
	Amount    float64 `json:"amount"`
	Vendor    float64 `json:"vendor"`
	Date      float64 `json:"date"`
	Line      float64 `json:"line"`
}

// Discrepancy records one field-level variance surfaced by the matcher.
type Discrepancy struct {
	Field     string  `json:"field"`
	Expected  string  `json:"expected"`
	Actual    string  `json:"actual"`
	Magnitude float64 `json:"magnitude"`
}

// MatchResult (spec §3). Immutable once Status != pending except for the
// SupersededBy link.
type MatchResult struct {
	ID               MatchResultID     `json:"id"`
	TenantID         TenantID          `json:"tenant_id"`
	InvoiceID        InvoiceID         `json:"invoice_id"`
	PurchaseOrderID  *PurchaseOrderID  `json:"purchase_order_id,omitempty"`
	ReceiptID        *ReceiptID        `json:"receipt_id,omitempty"`
	MatchType        MatchType         `json:"match_type"`
	ThreeWayType     ThreeWayType      `json:"three_way_type,omitempty"`
	Confidence       float64           `json:"confidence"`
	Components       ComponentScores   `json:"components"`
	Discrepancies    []Discrepancy     `json:"discrepancies,omitempty"`
	Status           MatchResultStatus `json:"status"`
	AlgorithmVersion string            `json:"algorithm_version"`
	CreatedAt        time.Time         `json:"created_at"`
	ReviewedBy       string            `json:"reviewed_by,omitempty"`
	ReviewNotes      string            `json:"review_notes,omitempty"`
	SupersededBy     *MatchResultID    `json:"superseded_by,omitempty"`
	Version          int64             `json:"version"`
}

// IsImmutable reports whether the result may no longer be mutated except
// for the supersession link, per the spec §3 invariant.
func (m *MatchResult) IsImmutable() bool {
	return m.Status != MatchStatusPending
}

// MatchAuditEvent is an append-only, hash-chained decision record (spec §3,
// §4.4.7).
type MatchAuditEvent struct {
	ID               AuditEventID    `json:"id"`
	TenantID         TenantID        `json:"tenant_id"`
	InvoiceID        InvoiceID       `json:"invoice_id"`
	SequenceNo       int64           `json:"sequence_no"`
	AlgorithmVersion string          `json:"algorithm_version"`
	RuleSetHash      string          `json:"rule_set_hash"`
	InputsHash       string          `json:"inputs_hash"`
	Components       ComponentScores `json:"components"`
	FinalScore       float64         `json:"final_score"`
	Decision         string          `json:"decision"`
	Actor            string          `json:"actor"` // "system" or a user id
	PrevEventHash    string          `json:"prev_event_hash"`
	ContentHash      string          `json:"content_hash"`
	CreatedAt        time.Time       `json:"created_at"`
}

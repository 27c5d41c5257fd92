package models

import "time"

// ExceptionReason (spec §3).
type ExceptionReason string

const (
	ReasonNoCandidate        ExceptionReason = "no_candidate"
	ReasonBelowThreshold     ExceptionReason = "below_threshold"
	ReasonMultipleCandidates ExceptionReason = "multiple_candidates"
	ReasonCurrencyMismatch   ExceptionReason = "currency_mismatch"
	ReasonAmountVariance     ExceptionReason = "amount_variance"
	ReasonDateVariance       ExceptionReason = "date_variance"
	ReasonDataQuality        ExceptionReason = "data_quality"
)

// ExceptionPriority (spec §3, §4.6).
type ExceptionPriority string

const (
	PriorityLow      ExceptionPriority = "low"
	PriorityMedium   ExceptionPriority = "medium"
	PriorityHigh     ExceptionPriority = "high"
	PriorityCritical ExceptionPriority = "critical"
)

// ExceptionStatus (spec §3).
type ExceptionStatus string

const (
	ExceptionOpen     ExceptionStatus = "open"
	ExceptionInReview ExceptionStatus = "in_review"
	ExceptionResolved ExceptionStatus = "resolved"
	ExceptionDismissed ExceptionStatus = "dismissed"
)

// ExceptionEntry (spec §3).
type ExceptionEntry struct {
	ID               ExceptionID       `json:"id"`
	TenantID         TenantID          `json:"tenant_id"`
	InvoiceID        InvoiceID         `json:"invoice_id"`
	Reason           ExceptionReason   `json:"reason"`
	Priority         ExceptionPriority `json:"priority"`
	SuggestedMatches []MatchResultID   `json:"suggested_matches,omitempty"`
	AssignedTo       string            `json:"assigned_to,omitempty"`
	Status           ExceptionStatus   `json:"status"`
	ResolutionNotes  string            `json:"resolution_notes,omitempty"`
	Version          int64             `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

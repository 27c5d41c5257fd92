package models

import (
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
)

// InvoiceStatus is the lifecycle state of an Invoice (spec §3).
type InvoiceStatus string

const (
	InvoiceStatusPending    InvoiceStatus = "pending"
	InvoiceStatusProcessing InvoiceStatus = "processing"
	InvoiceStatusMatched    InvoiceStatus = "matched"
	InvoiceStatusException  InvoiceStatus = "exception"
	InvoiceStatusApproved   InvoiceStatus = "approved"
	InvoiceStatusRejected   InvoiceStatus = "rejected"
	InvoiceStatusCancelled  InvoiceStatus = "cancelled"
)

// MatchingStatus is the state machine driven by the matching engine (§4.4.8).
type MatchingStatus string

const (
	MatchingUnmatched       MatchingStatus = "unmatched"
	MatchingInProgress      MatchingStatus = "in_progress"
	MatchingAutoMatched     MatchingStatus = "auto_matched"
	MatchingRequiresReview  MatchingStatus = "requires_review"
	MatchingManuallyMatched MatchingStatus = "manually_matched"
	MatchingUnmatchable     MatchingStatus = "unmatchable"
)

// CanTransitionTo reports whether the §4.4.8 state machine permits moving
// from the receiver to next.
func (s MatchingStatus) CanTransitionTo(next MatchingStatus) bool {
	switch s {
	case MatchingUnmatched:
		return next == MatchingInProgress
	case MatchingInProgress:
		switch next {
		case MatchingAutoMatched, MatchingRequiresReview, MatchingUnmatchable:
			return true
		}
		return false
	case MatchingRequiresReview:
		switch next {
		case MatchingManuallyMatched, MatchingUnmatchable:
			return true
		}
		return false
	case MatchingUnmatchable:
		// Reversible only by a new match run, which re-enters at InProgress.
		return next == MatchingInProgress
	case MatchingAutoMatched, MatchingManuallyMatched:
		// Terminal, except a re-run (supersession) re-enters at InProgress.
		return next == MatchingInProgress
	default:
		return false
	}
}

// Invoice is the central reconciliation subject (spec §3).
type Invoice struct {
	ID             InvoiceID        `json:"id"`
	TenantID       TenantID         `json:"tenant_id"`
	InvoiceNumber  string           `json:"invoice_number"`
	VendorID       VendorID         `json:"vendor_id"`
	PONumber       string           `json:"po_number"` // raw reference string as typed on the invoice, may not resolve
	POID           *PurchaseOrderID `json:"po_id,omitempty"`
	Subtotal       moneydec.Money   `json:"subtotal"`
	TaxAmount      moneydec.Money   `json:"tax_amount"`
	TotalAmount    moneydec.Money   `json:"total_amount"`
	Currency       string           `json:"currency"`
	InvoiceDate    time.Time        `json:"invoice_date"`
	DueDate        *time.Time       `json:"due_date,omitempty"`
	ReceivedDate   *time.Time       `json:"received_date,omitempty"`
	Status         InvoiceStatus    `json:"status"`
	MatchingStatus MatchingStatus   `json:"matching_status"`
	ImportSource   string           `json:"import_source,omitempty"`
	ImportBatchID  string           `json:"import_batch_id,omitempty"`
	RawRow         map[string]string `json:"raw_row,omitempty"`
	Lines          []LineItem       `json:"lines,omitempty"` // optional; populated only by line-item-level ingestion
	Version        int64            `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ValidateInvariants checks the invariants named in spec §3 for Invoice.
func (inv *Invoice) ValidateInvariants() error {
	if inv.TotalAmount.IsNegative() {
		return errInvariant("invoice total_amount must be >= 0")
	}
	expected := inv.Subtotal.Add(inv.TaxAmount)
	if !inv.TotalAmount.WithinTolerance(expected, 1) {
		return errInvariant("invoice total_amount must equal subtotal + tax_amount +/- 0.01")
	}
	return nil
}

// LineItem is a single billable line shared by invoices, POs, and receipts.
type LineItem struct {
	SKU         string         `json:"sku"`
	Description string         `json:"description,omitempty"`
	Quantity    float64        `json:"quantity"`
	UnitPrice   moneydec.Money `json:"unit_price"`
	LineTotal   moneydec.Money `json:"line_total"`
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }

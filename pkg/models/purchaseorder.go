package models

import (
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
)

// PurchaseOrderStatus is the lifecycle state of a PurchaseOrder (spec §3).
type PurchaseOrderStatus string

const (
	POStatusOpen             PurchaseOrderStatus = "open"
	POStatusPartiallyReceived PurchaseOrderStatus = "partially_received"
	POStatusFullyReceived    PurchaseOrderStatus = "fully_received"
	POStatusClosed           PurchaseOrderStatus = "closed"
	POStatusCancelled        PurchaseOrderStatus = "cancelled"
)

// CandidateEligible reports whether a PO in this status may be considered a
// 3-way match candidate (spec §4.4.2).
func (s PurchaseOrderStatus) CandidateEligible() bool {
	switch s {
	case POStatusOpen, POStatusPartiallyReceived, POStatusFullyReceived:
		return true
	default:
		return false
	}
}

// PurchaseOrderLine is a PO line item with ordering metadata.
type PurchaseOrderLine struct {
	LineNo      int            `json:"line_no"`
	SKU         string         `json:"sku"`
	Description string         `json:"description,omitempty"`
	OrderedQty  float64        `json:"ordered_qty"`
	UnitPrice   moneydec.Money `json:"unit_price"`
	LineTotal   moneydec.Money `json:"line_total"`
}

// PurchaseOrder (spec §3).
type PurchaseOrder struct {
	ID           PurchaseOrderID     `json:"id"`
	TenantID     TenantID            `json:"tenant_id"`
	PONumber     string              `json:"po_number"`
	VendorID     VendorID            `json:"vendor_id"`
	TotalAmount  moneydec.Money      `json:"total_amount"`
	Currency     string              `json:"currency"`
	PODate       time.Time           `json:"po_date"`
	ExpectedDate *time.Time          `json:"expected_date,omitempty"`
	Status       PurchaseOrderStatus `json:"status"`
	Lines        []PurchaseOrderLine `json:"lines,omitempty"`
	Version      int64               `json:"version"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// ValidateInvariants checks that the sum of line totals matches the header
// total within one cent, per spec §3.
func (po *PurchaseOrder) ValidateInvariants() error {
	sum := moneydec.Zero
	for _, l := range po.Lines {
		sum = sum.Add(l.LineTotal)
	}
	if len(po.Lines) > 0 && !sum.WithinTolerance(po.TotalAmount, 1) {
		return errInvariant("purchase order line totals must sum to total_amount +/- 0.01")
	}
	return nil
}

package models

import (
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
)

// ReceiptLine ties a received quantity back to a PO line by line number.
type ReceiptLine struct {
	PurchaseOrderLineNo int     `json:"purchase_order_line_no"`
	SKU                 string  `json:"sku"`
	ReceivedQty         float64 `json:"received_qty"`
}

// Receipt is a goods-receipt event against a PurchaseOrder (spec §3).
type Receipt struct {
	ID              ReceiptID       `json:"id"`
	TenantID        TenantID        `json:"tenant_id"`
	ReceiptNumber   string          `json:"receipt_number,omitempty"` // optional
	PurchaseOrderID PurchaseOrderID `json:"purchase_order_id"`
	ReceivedDate    time.Time       `json:"received_date"`
	TotalAmount     moneydec.Money  `json:"total_amount"`
	Lines           []ReceiptLine   `json:"lines,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OverDelivered reports whether the aggregate received quantity across
// receipts for a PO line exceeds the ordered quantity plus the configured
// over-delivery tolerance (spec §3 Receipt invariant).
func OverDelivered(orderedQty, aggregateReceivedQty, toleranceFraction float64) bool {
	allowed := orderedQty * (1 + toleranceFraction)
	return aggregateReceivedQty > allowed
}

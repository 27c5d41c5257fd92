package matching

import (
	"math"

	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// classifyThreeWay implements §4.4.5: classify the (invoice, PO, receipts)
// tuple once a PO has at least one receipt. Absent receipts, callers must
// use models.ThreeWayNotApplicable directly rather than calling this.
func classifyThreeWay(inv *models.Invoice, po *models.PurchaseOrder, receipts []*models.Receipt, rs models.RuleSet) models.ThreeWayType {
	received := aggregateReceivedQty(receipts)
	matches, unmatchedInvoiceLines := matchLines(inv.Lines, po.Lines)

	if len(matches) == 0 {
		// No line-level detail to reason about (header-only ingestion);
		// fall back to header-amount comparison only.
		return classifyByAmountOnly(inv, po, rs)
	}

	var (
		allQtyExact, allPriceExact   = true, true
		anyUnderInvoiced             bool
		anyOverInvoicedVsReceived    bool
		anyOverDelivered             bool
		anyLineNotFullyReceived      bool
		maxQtyVariance, maxPriceVar  float64
	)

	for _, m := range matches {
		rcvd := received[m.po.LineNo]
		qtyVar := 0.0
		if m.po.OrderedQty != 0 {
			qtyVar = math.Abs(m.invoice.Quantity-m.po.OrderedQty) / m.po.OrderedQty
		}
		priceVar := moneydec.RatioVariance(m.invoice.UnitPrice, m.po.UnitPrice)
		if qtyVar > maxQtyVariance {
			maxQtyVariance = qtyVar
		}
		if priceVar > maxPriceVar {
			maxPriceVar = priceVar
		}
		if qtyVar > rs.QuantityTolerancePct {
			allQtyExact = false
		}
		if priceVar > rs.PriceTolerancePct {
			allPriceExact = false
		}

		if m.invoice.Quantity < rcvd*(1-rs.QuantityTolerancePct) {
			anyUnderInvoiced = true
		}
		if m.invoice.Quantity > rcvd*(1+rs.OverDeliveryTolerancePct) {
			anyOverInvoicedVsReceived = true
		}
		if models.OverDelivered(m.po.OrderedQty, rcvd, rs.OverDeliveryTolerancePct) {
			anyOverDelivered = true
		}
		if rcvd < m.po.OrderedQty*(1-rs.QuantityTolerancePct) {
			anyLineNotFullyReceived = true
		}
	}

	switch {
	case unmatchedInvoiceLines == 0 && allQtyExact && allPriceExact && !anyLineNotFullyReceived:
		return models.ThreeWayPerfectMatch
	case anyOverDelivered:
		return models.ThreeWayOverDelivery
	case anyOverInvoicedVsReceived:
		return models.ThreeWayOverInvoice
	case anyLineNotFullyReceived && !anyUnderInvoiced:
		return models.ThreeWayPartialReceipt
	case anyUnderInvoiced:
		return models.ThreeWayUnderInvoice
	case len(receipts) > 1 && !allQtyExact:
		return models.ThreeWaySplitDelivery
	case maxPriceVar > rs.PriceTolerancePct && maxPriceVar >= maxQtyVariance:
		return models.ThreeWayPriceVariance
	case maxQtyVariance > rs.QuantityTolerancePct:
		return models.ThreeWayQuantityVariance
	default:
		return models.ThreeWayPerfectMatch
	}
}

// classifyByAmountOnly degrades gracefully when invoice line detail is
// absent (header-only ingestion, spec §4.3 Non-goal on line-item CSV
// columns): it compares header totals only.
func classifyByAmountOnly(inv *models.Invoice, po *models.PurchaseOrder, rs models.RuleSet) models.ThreeWayType {
	r := moneydec.RatioVariance(inv.TotalAmount, po.TotalAmount)
	switch {
	case r <= rs.PriceTolerancePct:
		return models.ThreeWayPerfectMatch
	case inv.TotalAmount.Cmp(po.TotalAmount) > 0:
		return models.ThreeWayOverInvoice
	default:
		return models.ThreeWayUnderInvoice
	}
}

// aggregateReceivedQty sums ReceivedQty across every receipt line for a
// given PO line number, across all receipts posted against the PO.
func aggregateReceivedQty(receipts []*models.Receipt) map[int]float64 {
	out := make(map[int]float64)
	for _, r := range receipts {
		for _, l := range r.Lines {
			out[l.PurchaseOrderLineNo] += l.ReceivedQty
		}
	}
	return out
}

package matching

import (
	"math"
	"strings"

	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// referenceScore computes S_ref (§4.4.3). invoicePORef is the raw PO
// reference string as typed on the invoice (Invoice.PONumber); an empty
// value means the invoice carries no reference and S_ref is neutral.
func referenceScore(invoicePORef, poNumber string, ocr *ocrMatchCache) float64 {
	if strings.TrimSpace(invoicePORef) == "" {
		return 0.5
	}
	na, nb := normalizeReference(invoicePORef), normalizeReference(poNumber)
	if na == nb {
		return 1.0
	}
	return ocr.referenceSimilarity(na, nb, 3)
}

// amountScore computes S_amt (§4.4.3) given r = |inv.total - po.total| /
// max(inv.total, po.total) and the resolved price-tolerance-pct threshold.
func amountScore(invoiceTotal, poTotal moneydec.Money, priceTolerancePct float64) float64 {
	r := moneydec.RatioVariance(invoiceTotal, poTotal)
	switch {
	case r <= 0.001:
		return 1.0
	case r <= priceTolerancePct:
		if priceTolerancePct == 0 {
			return 0.85
		}
		// Linear decay from 1.0 at r=0 to 0.85 at r=threshold.
		return 1.0 - (1.0-0.85)*(r/priceTolerancePct)
	default:
		v := 0.85 - 5*(r-priceTolerancePct)
		if v < 0 {
			return 0
		}
		return v
	}
}

// vendorScore computes S_ven (§4.4.3): Jaro-Winkler similarity on
// match-normalized vendor names plus a +0.10 bonus, capped at 1.0, when both
// tax IDs are present and equal.
func vendorScore(invoiceVendor, poVendor *models.Vendor) float64 {
	score := jaroWinkler(normalizeVendorForMatching(invoiceVendor.LegalName), normalizeVendorForMatching(poVendor.LegalName))
	if invoiceVendor.TaxID != "" && poVendor.TaxID != "" && invoiceVendor.TaxID == poVendor.TaxID {
		score += 0.10
		if score > 1.0 {
			score = 1.0
		}
	}
	return score
}

// dateScore computes S_date (§4.4.3) given the absolute day delta and the
// resolved date-tolerance-days threshold.
func dateScore(deltaDays, dateToleranceDays int) float64 {
	if deltaDays <= dateToleranceDays {
		return 1.0
	}
	v := 1.0 - float64(deltaDays-dateToleranceDays)/60.0
	if v < 0 {
		return 0
	}
	return v
}

// lineMatch pairs one invoice line against the PO line it was reconciled
// against, for lineScore's per-line variance computation.
type lineMatch struct {
	invoice models.LineItem
	po      models.PurchaseOrderLine
}

// matchLines pairs invoice lines to PO lines by SKU when present, falling
// back to fuzzy description + quantity agreement (§4.4.3 S_line). Returns
// the matched pairs and the count of invoice lines left unmatched.
func matchLines(invoiceLines []models.LineItem, poLines []models.PurchaseOrderLine) ([]lineMatch, int) {
	used := make([]bool, len(poLines))
	var matches []lineMatch
	unmatched := 0

	for _, il := range invoiceLines {
		bestIdx := -1
		bestScore := 0.0
		for i, pl := range poLines {
			if used[i] {
				continue
			}
			var score float64
			switch {
			case il.SKU != "" && pl.SKU != "" && il.SKU == pl.SKU:
				score = 1.0
			case il.SKU != "" && pl.SKU != "":
				continue // both present but distinct SKUs: not a candidate pairing
			default:
				descScore := levenshteinRatio(strings.ToLower(il.Description), strings.ToLower(pl.Description))
				qtyScore := 0.0
				if pl.OrderedQty > 0 {
					qtyScore = 1 - math.Min(1, math.Abs(il.Quantity-pl.OrderedQty)/pl.OrderedQty)
				}
				score = 0.6*descScore + 0.4*qtyScore
			}
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx >= 0 && bestScore >= 0.5 {
			used[bestIdx] = true
			matches = append(matches, lineMatch{invoice: il, po: poLines[bestIdx]})
		} else {
			unmatched++
		}
	}

	return matches, unmatched
}

// lineScore computes S_line (§4.4.3). Absent receipt (hasReceipt == false)
// is the 3-way-inapplicable case and scores neutral at 0.5.
func lineScore(hasReceipt bool, invoiceLines []models.LineItem, poLines []models.PurchaseOrderLine, qtyTolerancePct, priceTolerancePct float64) float64 {
	if !hasReceipt {
		return 0.5
	}
	if len(invoiceLines) == 0 {
		return 0.5
	}

	matches, unmatched := matchLines(invoiceLines, poLines)
	if len(matches) == 0 {
		return 0
	}

	var sum float64
	for _, m := range matches {
		qtyOK := m.po.OrderedQty == 0 || math.Abs(m.invoice.Quantity-m.po.OrderedQty)/math.Max(m.po.OrderedQty, 1) <= qtyTolerancePct
		priceOK := moneydec.RatioVariance(m.invoice.UnitPrice, m.po.UnitPrice) <= priceTolerancePct
		switch {
		case qtyOK && priceOK:
			sum += 1.0
		default:
			qtyVar := 0.0
			if m.po.OrderedQty != 0 {
				qtyVar = math.Abs(m.invoice.Quantity-m.po.OrderedQty) / m.po.OrderedQty
			}
			priceVar := moneydec.RatioVariance(m.invoice.UnitPrice, m.po.UnitPrice)
			variance := math.Max(qtyVar, priceVar)
			frac := 1 - math.Min(1, variance)
			sum += math.Max(0, frac)
		}
	}

	total := len(matches) + unmatched
	return sum / float64(total)
}

// Composite folds the five sub-scores into the weighted confidence score S
// (§4.4.3) using the resolved RuleSet weights.
func Composite(c models.ComponentScores, rs models.RuleSet) float64 {
	return rs.WeightReference*c.Reference + rs.WeightAmount*c.Amount + rs.WeightVendor*c.Vendor + rs.WeightDate*c.Date + rs.WeightLine*c.Line
}

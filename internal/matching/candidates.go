package matching

import (
	"context"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// candidateAmountBandPct is the wide band applied at candidate-selection
// time (§4.4.2); scoring tightens this down to rule_set.price_tolerance_pct.
const candidateAmountBandPct = 0.30

// candidateDateSlackDays is added on top of the resolved date tolerance to
// build the oversized candidate-stage date window (§4.4.2).
const candidateDateSlackDays = 30

// vendorFuzzyThreshold is the minimum vendor-name similarity (§4.4.4) for a
// PO belonging to a different vendor record to still be considered a
// candidate (§4.4.2: "exactly matches ... or has a fuzzy vendor similarity
// >= 0.70").
const vendorFuzzyThreshold = 0.70

// candidate pairs one candidate PurchaseOrder with its vendor record and
// any receipts already posted against it.
type candidate struct {
	po       *models.PurchaseOrder
	vendor   *models.Vendor
	receipts []*models.Receipt
}

// findCandidates implements §4.4.2: fetch the wide-band PO population from
// the store's single indexed query, then apply the vendor-fuzzy-match
// filter in process (the store's CandidatesFor call already narrows
// currency, status, date, and amount — the vendor fuzzy pass only runs for
// the much smaller remaining set).
func findCandidates(ctx context.Context, sess store.Session, inv *models.Invoice, invoiceVendor *models.Vendor, rs models.RuleSet) ([]candidate, error) {
	dateFrom := inv.InvoiceDate.AddDate(0, 0, -(rs.DateToleranceDays + candidateDateSlackDays))
	dateTo := inv.InvoiceDate.AddDate(0, 0, rs.DateToleranceDays+candidateDateSlackDays)

	lowPct := 1 - candidateAmountBandPct
	highPct := 1 + candidateAmountBandPct
	amountLow := int64(float64(inv.TotalAmount.Cents) * lowPct)
	amountHigh := int64(float64(inv.TotalAmount.Cents) * highPct)

	pos, err := sess.PurchaseOrders().CandidatesFor(ctx, inv.VendorID, inv.Currency, dateFrom, dateTo, amountLow, amountHigh)
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, po := range pos {
		if !po.Status.CandidateEligible() {
			continue
		}

		poVendor := invoiceVendor
		if po.VendorID != inv.VendorID {
			var err error
			poVendor, err = sess.Vendors().Get(ctx, po.VendorID)
			if err != nil {
				return nil, err
			}
			if jaroWinkler(normalizeVendorForMatching(invoiceVendor.LegalName), normalizeVendorForMatching(poVendor.LegalName)) < vendorFuzzyThreshold {
				continue
			}
		}

		receipts, err := sess.Receipts().ForPurchaseOrder(ctx, po.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{po: po, vendor: poVendor, receipts: receipts})
	}

	return out, nil
}

func daysBetween(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

package matching

import (
	"testing"

	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

func TestAmountScoreExactWithinRoundingIsOne(t *testing.T) {
	got := amountScore(moneydec.MustParse("100.00"), moneydec.MustParse("100.00"), 0.05)
	if got != 1.0 {
		t.Fatalf("expected 1.0 for exact amounts, got %v", got)
	}
}

func TestAmountScoreDecaysWithinTolerance(t *testing.T) {
	// r = 0.025, exactly half of a 0.05 threshold: should sit halfway
	// between 1.0 and 0.85.
	got := amountScore(moneydec.MustParse("102.50"), moneydec.MustParse("100.00"), 0.05)
	want := 1.0 - 0.15*0.5
	if diff := got - want; diff > 0.01 || diff < -0.01 {
		t.Fatalf("expected ~%v at half the tolerance band, got %v", want, got)
	}
}

func TestAmountScoreBeyondToleranceClampsToZero(t *testing.T) {
	got := amountScore(moneydec.MustParse("1000.00"), moneydec.MustParse("100.00"), 0.05)
	if got != 0 {
		t.Fatalf("expected 0 for a wildly divergent amount, got %v", got)
	}
}

func TestDateScoreWithinToleranceIsOne(t *testing.T) {
	if got := dateScore(3, 7); got != 1.0 {
		t.Fatalf("expected 1.0 within tolerance, got %v", got)
	}
}

func TestDateScoreDecaysBeyondTolerance(t *testing.T) {
	got := dateScore(37, 7) // 30 days past the tolerance boundary
	if got != 0.5 {
		t.Fatalf("expected 0.5 at 30 days past tolerance (60-day decay), got %v", got)
	}
}

func TestVendorScoreAppliesTaxIDBonus(t *testing.T) {
	a := &models.Vendor{LegalName: "Acme Corp", TaxID: "12-3456789"}
	b := &models.Vendor{LegalName: "Acme Corp.", TaxID: "12-3456789"}
	got := vendorScore(a, b)
	if got != 1.0 {
		t.Fatalf("expected a tax-id bonus to cap at 1.0 for near-identical names, got %v", got)
	}
}

func TestLineScoreNeutralWithoutReceipt(t *testing.T) {
	if got := lineScore(false, nil, nil, 0.05, 0.05); got != 0.5 {
		t.Fatalf("expected neutral 0.5 without a receipt, got %v", got)
	}
}

func TestLineScorePerfectMatch(t *testing.T) {
	invLines := []models.LineItem{{SKU: "A1", Quantity: 10, UnitPrice: moneydec.MustParse("5.00")}}
	poLines := []models.PurchaseOrderLine{{LineNo: 1, SKU: "A1", OrderedQty: 10, UnitPrice: moneydec.MustParse("5.00")}}
	got := lineScore(true, invLines, poLines, 0.05, 0.05)
	if got != 1.0 {
		t.Fatalf("expected 1.0 for a fully matched line, got %v", got)
	}
}

func TestCompositeWeightsSumCorrectly(t *testing.T) {
	rs := models.BuiltinDefault()
	c := models.ComponentScores{Reference: 1, Amount: 1, Vendor: 1, Date: 1, Line: 1}
	if got := Composite(c, rs); got < 0.999 || got > 1.001 {
		t.Fatalf("expected ~1.0 when every sub-score is 1.0 and weights sum to 1.0, got %v", got)
	}
}

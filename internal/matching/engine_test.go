package matching

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/internal/rules"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

const testTenant = models.TenantID("tenant-a")

func newEngine(t *testing.T) (*Engine, store.Store, store.Session) {
	t.Helper()
	st := store.NewMemoryStore()
	e := New(st, rules.New(st, time.Minute))
	sess, err := st.Begin(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return e, st, sess
}

func seedVendor(t *testing.T, sess store.Session, name string) *models.Vendor {
	t.Helper()
	v := &models.Vendor{LegalName: name, DisplayName: name, NormalizedName: name}
	if err := sess.Vendors().Create(context.Background(), v); err != nil {
		t.Fatalf("Create vendor: %v", err)
	}
	return v
}

func seedPO(t *testing.T, sess store.Session, vendorID models.VendorID, number string, total moneydec.Money, date time.Time) *models.PurchaseOrder {
	t.Helper()
	po := &models.PurchaseOrder{
		PONumber: number, VendorID: vendorID, TotalAmount: total, Currency: "USD",
		PODate: date, Status: models.POStatusOpen,
	}
	if err := sess.PurchaseOrders().Create(context.Background(), po); err != nil {
		t.Fatalf("Create PO: %v", err)
	}
	return po
}

func seedInvoice(t *testing.T, sess store.Session, vendorID models.VendorID, number, poRef string, total moneydec.Money, date time.Time) *models.Invoice {
	t.Helper()
	inv := &models.Invoice{
		InvoiceNumber: number, VendorID: vendorID, PONumber: poRef,
		Subtotal: total, TotalAmount: total, Currency: "USD",
		InvoiceDate: date, Status: models.InvoiceStatusPending, MatchingStatus: models.MatchingUnmatched,
	}
	if err := sess.Invoices().Create(context.Background(), inv); err != nil {
		t.Fatalf("Create invoice: %v", err)
	}
	return inv
}

func TestMatchInvoiceAutoApprovesOnCloseMatch(t *testing.T) {
	e, _, sess := newEngine(t)
	vendor := seedVendor(t, sess, "Acme Corp")
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	po := seedPO(t, sess, vendor.ID, "PO-1001", moneydec.MustParse("1000.00"), date)
	inv := seedInvoice(t, sess, vendor.ID, "INV-1", "PO-1001", moneydec.MustParse("1000.00"), date)

	result, err := e.MatchInvoice(context.Background(), sess, inv.ID, nil, "system")
	if err != nil {
		t.Fatalf("MatchInvoice: %v", err)
	}
	if result == nil {
		t.Fatal("expected an approved MatchResult, got nil")
	}
	if result.Status != models.MatchStatusApproved {
		t.Fatalf("expected approved status, got %v", result.Status)
	}
	if *result.PurchaseOrderID != po.ID {
		t.Fatalf("expected match against %v, got %v", po.ID, *result.PurchaseOrderID)
	}

	updated, err := sess.Invoices().Get(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("Get invoice: %v", err)
	}
	if updated.MatchingStatus != models.MatchingAutoMatched {
		t.Fatalf("expected auto_matched status, got %v", updated.MatchingStatus)
	}

	events, err := sess.MatchAuditEvents().ForInvoice(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("ForInvoice: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if broken := VerifyChain(events); broken != 0 {
		t.Fatalf("expected intact audit chain, broke at seq %d", broken)
	}
}

func TestMatchInvoiceNoCandidateRaisesException(t *testing.T) {
	e, _, sess := newEngine(t)
	vendor := seedVendor(t, sess, "Acme Corp")
	inv := seedInvoice(t, sess, vendor.ID, "INV-2", "PO-9999", moneydec.MustParse("500.00"), time.Now())

	result, err := e.MatchInvoice(context.Background(), sess, inv.ID, nil, "system")
	if err != nil {
		t.Fatalf("MatchInvoice: %v", err)
	}
	if result != nil {
		t.Fatalf("expected no MatchResult when no candidates exist, got %+v", result)
	}

	exc, err := sess.ExceptionEntries().GetOpenForInvoice(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("GetOpenForInvoice: %v", err)
	}
	if exc == nil {
		t.Fatal("expected an open exception entry")
	}
	if exc.Reason != models.ReasonNoCandidate {
		t.Fatalf("expected no_candidate reason, got %v", exc.Reason)
	}
}

func TestMatchInvoiceBelowThresholdCreatesReviewException(t *testing.T) {
	e, _, sess := newEngine(t)
	vendor := seedVendor(t, sess, "Acme Corp")
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	// Amount differs by ~20%, reference does not match: composite score
	// should land well under the 0.85 auto-approve threshold but candidate
	// selection (30% band) still picks it up.
	seedPO(t, sess, vendor.ID, "PO-7000", moneydec.MustParse("1000.00"), date)
	inv := seedInvoice(t, sess, vendor.ID, "INV-3", "PO-UNRELATED", moneydec.MustParse("1180.00"), date)

	result, err := e.MatchInvoice(context.Background(), sess, inv.ID, nil, "system")
	if err != nil {
		t.Fatalf("MatchInvoice: %v", err)
	}
	if result != nil {
		t.Fatalf("expected no approved MatchResult, got %+v", result)
	}

	updated, err := sess.Invoices().Get(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("Get invoice: %v", err)
	}
	if updated.MatchingStatus != models.MatchingRequiresReview {
		t.Fatalf("expected requires_review status, got %v", updated.MatchingStatus)
	}

	exc, err := sess.ExceptionEntries().GetOpenForInvoice(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("GetOpenForInvoice: %v", err)
	}
	if exc == nil {
		t.Fatal("expected an open exception entry")
	}
	if len(exc.SuggestedMatches) == 0 {
		t.Fatal("expected at least one suggested match")
	}
}

func TestScoreAndRankTieBreakPrefersExactReference(t *testing.T) {
	e, _, sess := newEngine(t)
	vendor := seedVendor(t, sess, "Acme Corp")
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	poExact := seedPO(t, sess, vendor.ID, "PO-500", moneydec.MustParse("500.00"), date)
	seedPO(t, sess, vendor.ID, "PO-501", moneydec.MustParse("500.00"), date)
	inv := seedInvoice(t, sess, vendor.ID, "INV-4", "PO-500", moneydec.MustParse("500.00"), date)

	invoiceVendor, err := sess.Vendors().Get(context.Background(), vendor.ID)
	if err != nil {
		t.Fatalf("Get vendor: %v", err)
	}
	cands, err := findCandidates(context.Background(), sess, inv, invoiceVendor, models.BuiltinDefault())
	if err != nil {
		t.Fatalf("findCandidates: %v", err)
	}
	ranked := e.scoreAndRank(cands, inv, invoiceVendor, models.BuiltinDefault())
	if ranked[0].cand.po.ID != poExact.ID {
		t.Fatalf("expected exact-reference PO to rank first, got %v", ranked[0].cand.po.ID)
	}
}

func TestMatchBatchCommitsIndependently(t *testing.T) {
	st := store.NewMemoryStore()
	e := New(st, rules.New(st, time.Minute))
	sess, err := st.Begin(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	vendor := seedVendor(t, sess, "Acme Corp")
	date := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	var ids []models.InvoiceID
	for i := 0; i < 3; i++ {
		num := "PO-" + string(rune('A'+i))
		seedPO(t, sess, vendor.ID, num, moneydec.MustParse("200.00"), date)
		inv := seedInvoice(t, sess, vendor.ID, "INV-batch-"+string(rune('A'+i)), num, moneydec.MustParse("200.00"), date)
		ids = append(ids, inv.ID)
	}

	results := e.MatchBatch(context.Background(), testTenant, ids, 2, "system")
	seen := map[models.InvoiceID]bool{}
	for p := range results {
		if p.Err != nil {
			t.Fatalf("unexpected batch error for %v: %v", p.InvoiceID, p.Err)
		}
		seen[p.InvoiceID] = true
	}
	if len(seen) != len(ids) {
		t.Fatalf("expected progress for all %d invoices, saw %d", len(ids), len(seen))
	}
}

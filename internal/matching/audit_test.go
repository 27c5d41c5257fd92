package matching

import (
	"context"
	"testing"

	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

func TestAppendAuditEventChainsSequentially(t *testing.T) {
	st := store.NewMemoryStore()
	sess, err := st.Begin(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	inv := &models.Invoice{InvoiceNumber: "INV-1", TotalAmount: moneydec.MustParse("10.00")}
	if err := sess.Invoices().Create(context.Background(), inv); err != nil {
		t.Fatalf("Create invoice: %v", err)
	}
	rs := models.BuiltinDefault()

	first, err := appendAuditEvent(context.Background(), sess, inv, rs, "po-1", nil, models.ComponentScores{}, 0.9, "auto_approved", "system")
	if err != nil {
		t.Fatalf("appendAuditEvent: %v", err)
	}
	if first.SequenceNo != 1 || first.PrevEventHash != "" {
		t.Fatalf("expected first event to be seq 1 with no predecessor, got seq=%d prev=%q", first.SequenceNo, first.PrevEventHash)
	}

	second, err := appendAuditEvent(context.Background(), sess, inv, rs, "po-2", nil, models.ComponentScores{}, 0.6, "requires_review", "system")
	if err != nil {
		t.Fatalf("appendAuditEvent: %v", err)
	}
	if second.SequenceNo != 2 {
		t.Fatalf("expected second event seq 2, got %d", second.SequenceNo)
	}
	if second.PrevEventHash != first.ContentHash {
		t.Fatal("expected second event's PrevEventHash to equal first event's ContentHash")
	}

	events, err := sess.MatchAuditEvents().ForInvoice(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("ForInvoice: %v", err)
	}
	if broken := VerifyChain(events); broken != 0 {
		t.Fatalf("expected an intact chain, broke at seq %d", broken)
	}
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	events := []*models.MatchAuditEvent{
		{InvoiceID: "inv-1", SequenceNo: 1, Decision: "auto_approved"},
	}
	events[0].ContentHash = contentHash(events[0])

	// Simulate a retroactive edit: the decision changes after the hash was
	// computed, without updating ContentHash.
	events[0].Decision = "requires_review"

	if broken := VerifyChain(events); broken != 1 {
		t.Fatalf("expected tamper detected at seq 1, got %d", broken)
	}
}

func TestRuleSetHashStableForEqualRuleSets(t *testing.T) {
	a := models.BuiltinDefault()
	b := models.BuiltinDefault()
	if ruleSetHash(a) != ruleSetHash(b) {
		t.Fatal("expected identical RuleSets to hash identically")
	}
}

func TestInputsHashDiffersOnInvoiceVersionChange(t *testing.T) {
	inv := &models.Invoice{ID: "inv-1", TotalAmount: moneydec.MustParse("10.00"), Version: 1}
	h1 := inputsHash(inv, "po-1", nil)
	inv.Version = 2
	h2 := inputsHash(inv, "po-1", nil)
	if h1 == h2 {
		t.Fatal("expected inputsHash to change when invoice version changes")
	}
}

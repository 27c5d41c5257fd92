package exceptions

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

const testTenant = models.TenantID("tenant-a")

func newSession(t *testing.T) (*Queue, store.Session) {
	t.Helper()
	st := store.NewMemoryStore()
	sess, err := st.Begin(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return New(st), sess
}

func seedInvoice(t *testing.T, sess store.Session) *models.Invoice {
	t.Helper()
	inv := &models.Invoice{InvoiceNumber: "INV-1", MatchingStatus: models.MatchingRequiresReview}
	if err := sess.Invoices().Create(context.Background(), inv); err != nil {
		t.Fatalf("Create invoice: %v", err)
	}
	return inv
}

func TestEnqueueIsIdempotentByOpenStatus(t *testing.T) {
	q, sess := newSession(t)
	inv := seedInvoice(t, sess)

	first, err := q.Enqueue(context.Background(), sess, inv.ID, models.ReasonBelowThreshold, nil, models.PriorityMedium)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := q.Enqueue(context.Background(), sess, inv.ID, models.ReasonNoCandidate, nil, models.PriorityHigh)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the second Enqueue to return the existing open entry, got a new one")
	}
	if second.Reason != models.ReasonBelowThreshold {
		t.Fatalf("expected the original reason to be preserved, got %v", second.Reason)
	}
}

func TestClaimTransitionsOpenToInReview(t *testing.T) {
	q, sess := newSession(t)
	inv := seedInvoice(t, sess)
	entry, err := q.Enqueue(context.Background(), sess, inv.ID, models.ReasonBelowThreshold, nil, models.PriorityMedium)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := q.Claim(context.Background(), sess, entry.ID, entry.Version, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	got, err := sess.ExceptionEntries().Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.ExceptionInReview {
		t.Fatalf("expected in_review, got %v", got.Status)
	}
	if got.AssignedTo != "alice" {
		t.Fatalf("expected assignee alice, got %q", got.AssignedTo)
	}
}

func TestDecideApproveFlipsMatchAndInvoice(t *testing.T) {
	q, sess := newSession(t)
	inv := seedInvoice(t, sess)

	approved := &models.MatchResult{InvoiceID: inv.ID, Status: models.MatchStatusPending}
	if err := sess.MatchResults().Create(context.Background(), approved); err != nil {
		t.Fatalf("Create match: %v", err)
	}
	rejected := &models.MatchResult{InvoiceID: inv.ID, Status: models.MatchStatusPending}
	if err := sess.MatchResults().Create(context.Background(), rejected); err != nil {
		t.Fatalf("Create match: %v", err)
	}

	entry, err := q.Enqueue(context.Background(), sess, inv.ID, models.ReasonBelowThreshold,
		[]models.MatchResultID{approved.ID, rejected.ID}, models.PriorityMedium)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := q.Decide(context.Background(), sess, entry.ID, entry.Version, "alice", DecisionApprove, approved.ID, time.Time{}, "looks right"); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	gotApproved, err := sess.MatchResults().Get(context.Background(), approved.ID)
	if err != nil {
		t.Fatalf("Get approved: %v", err)
	}
	if gotApproved.Status != models.MatchStatusApproved {
		t.Fatalf("expected approved match to be approved, got %v", gotApproved.Status)
	}

	gotRejected, err := sess.MatchResults().Get(context.Background(), rejected.ID)
	if err != nil {
		t.Fatalf("Get rejected: %v", err)
	}
	if gotRejected.Status != models.MatchStatusSuperseded {
		t.Fatalf("expected the other candidate to be superseded, got %v", gotRejected.Status)
	}

	gotInvoice, err := sess.Invoices().Get(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("Get invoice: %v", err)
	}
	if gotInvoice.MatchingStatus != models.MatchingManuallyMatched {
		t.Fatalf("expected manually_matched, got %v", gotInvoice.MatchingStatus)
	}

	gotEntry, err := sess.ExceptionEntries().Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("Get entry: %v", err)
	}
	if gotEntry.Status != models.ExceptionResolved {
		t.Fatalf("expected resolved, got %v", gotEntry.Status)
	}
}

func TestDecideStaleVersionFailsWithConflict(t *testing.T) {
	q, sess := newSession(t)
	inv := seedInvoice(t, sess)
	entry, err := q.Enqueue(context.Background(), sess, inv.ID, models.ReasonBelowThreshold, nil, models.PriorityMedium)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	err = q.Decide(context.Background(), sess, entry.ID, entry.Version+1, "alice", DecisionRejectAll, "", time.Time{}, "stale")
	if err == nil {
		t.Fatal("expected a conflict error on a stale version")
	}
	if !apperrors.Is(err, apperrors.KindConflict) {
		t.Fatalf("expected a conflict-kind error, got %v", err)
	}
}

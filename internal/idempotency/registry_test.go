package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

func newSession(t *testing.T) store.Session {
	t.Helper()
	st := store.NewMemoryStore()
	sess, err := st.Begin(context.Background(), models.TenantID("tenant-a"))
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return sess
}

func TestFingerprintStableUnderKeyOrder(t *testing.T) {
	a := map[string]any{"amount": "10.00", "invoice_number": "INV-1"}
	b := map[string]any{"invoice_number": "INV-1", "amount": "10.00"}

	fa, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint(a): %v", err)
	}
	fb, err := Fingerprint(b)
	if err != nil {
		t.Fatalf("Fingerprint(b): %v", err)
	}
	if fa != fb {
		t.Fatalf("fingerprints differ for semantically identical payloads: %s != %s", fa, fb)
	}
}

func TestClaimFreshThenReplay(t *testing.T) {
	sess := newSession(t)
	r := New(24 * time.Hour)
	tenantID := models.TenantID("tenant-a")

	fp, _ := Fingerprint(map[string]any{"x": 1})

	res, err := r.Claim(context.Background(), sess, tenantID, "key-1", fp)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.Outcome != Fresh {
		t.Fatalf("expected Fresh, got %v", res.Outcome)
	}

	if err := r.Complete(context.Background(), sess, tenantID, "key-1", 201, []byte(`{"id":"abc"}`)); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	res, err = r.Claim(context.Background(), sess, tenantID, "key-1", fp)
	if err != nil {
		t.Fatalf("Claim replay: %v", err)
	}
	if res.Outcome != Replay {
		t.Fatalf("expected Replay, got %v", res.Outcome)
	}
	if res.Status != 201 || string(res.Body) != `{"id":"abc"}` {
		t.Fatalf("unexpected replay payload: %d %s", res.Status, res.Body)
	}
}

func TestClaimConflictOnDifferentFingerprint(t *testing.T) {
	sess := newSession(t)
	r := New(24 * time.Hour)
	tenantID := models.TenantID("tenant-a")

	fp1, _ := Fingerprint(map[string]any{"x": 1})
	fp2, _ := Fingerprint(map[string]any{"x": 2})

	if _, err := r.Claim(context.Background(), sess, tenantID, "key-1", fp1); err != nil {
		t.Fatalf("first Claim: %v", err)
	}

	_, err := r.Claim(context.Background(), sess, tenantID, "key-1", fp2)
	if err == nil {
		t.Fatal("expected conflict error for mismatched fingerprint")
	}
}

func TestClaimMissingKey(t *testing.T) {
	sess := newSession(t)
	r := New(24 * time.Hour)

	_, err := r.Claim(context.Background(), sess, models.TenantID("tenant-a"), "", "fp")
	if err == nil {
		t.Fatal("expected error for empty key")
	}
}

package rules

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

func ptrFloat(f float64) *float64 { return &f }

func TestResolveFallsThroughToBuiltinDefault(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, time.Minute)
	sess, _ := st.Begin(context.Background(), models.TenantID("tenant-a"))

	rs, err := r.Resolve(context.Background(), sess, models.TenantID("tenant-a"), models.VendorID("v1"), "", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rs != models.BuiltinDefault() {
		t.Fatalf("expected built-in default when no layers configured, got %+v", rs)
	}
}

func TestResolveVendorLayerOverridesGlobal(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, time.Minute)
	tenantID := models.TenantID("tenant-a")
	sess, _ := st.Begin(context.Background(), tenantID)

	if err := sess.Tolerances().Upsert(context.Background(), &models.MatchingTolerance{
		Scope: models.ScopeGlobal, Key: "", AutoApproveThreshold: ptrFloat(0.80),
	}); err != nil {
		t.Fatalf("Upsert global: %v", err)
	}
	if err := sess.Tolerances().Upsert(context.Background(), &models.MatchingTolerance{
		Scope: models.ScopeVendor, Key: "v1", AutoApproveThreshold: ptrFloat(0.95),
	}); err != nil {
		t.Fatalf("Upsert vendor: %v", err)
	}

	rs, err := r.Resolve(context.Background(), sess, tenantID, models.VendorID("v1"), "", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rs.AutoApproveThreshold != 0.95 {
		t.Fatalf("expected vendor-layer threshold 0.95 to win over global 0.80, got %v", rs.AutoApproveThreshold)
	}

	// A different vendor with no vendor-layer override should see the
	// global layer instead.
	rs2, err := r.Resolve(context.Background(), sess, tenantID, models.VendorID("v2"), "", "")
	if err != nil {
		t.Fatalf("Resolve v2: %v", err)
	}
	if rs2.AutoApproveThreshold != 0.80 {
		t.Fatalf("expected global threshold 0.80 for unconfigured vendor, got %v", rs2.AutoApproveThreshold)
	}
}

func TestInvalidateEvictsCache(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st, time.Hour)
	tenantID := models.TenantID("tenant-a")
	sess, _ := st.Begin(context.Background(), tenantID)

	if _, err := r.Resolve(context.Background(), sess, tenantID, models.VendorID("v1"), "", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := sess.Tolerances().Upsert(context.Background(), &models.MatchingTolerance{
		Scope: models.ScopeVendor, Key: "v1", AutoApproveThreshold: ptrFloat(0.99),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	rs, _ := r.Resolve(context.Background(), sess, tenantID, models.VendorID("v1"), "", "")
	if rs.AutoApproveThreshold == 0.99 {
		t.Fatal("expected stale cached value before Invalidate")
	}

	r.Invalidate(tenantID, models.VendorID("v1"))
	rs, err := r.Resolve(context.Background(), sess, tenantID, models.VendorID("v1"), "", "")
	if err != nil {
		t.Fatalf("Resolve after invalidate: %v", err)
	}
	if rs.AutoApproveThreshold != 0.99 {
		t.Fatalf("expected fresh value 0.99 after Invalidate, got %v", rs.AutoApproveThreshold)
	}
}

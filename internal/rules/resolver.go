// Package rules implements the layered tolerance/rule resolver (C5, spec
// §4.5): vendor > vendor_category > amount_band > global > built-in
// default, with a process-local, per-tenant TTL cache in front of the
// store so the matching hot path never pays a round trip per invoice.
//
// The cache follows the teacher's AddressWatchlist shape
// (internal/heuristics/address_watchlist.go): a concurrent-safe map guarded
// by sync.RWMutex, reads taking the read lock on the hot path and writes
// (refresh, invalidate) taking the write lock.
package rules

import (
	"context"
	"sync"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/logging"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

var log = logging.Component("rules")

type cacheEntry struct {
	ruleSet   models.RuleSet
	expiresAt time.Time
}

// Resolver resolves the fully-populated RuleSet for a given vendor/amount,
// caching the result per (tenant, vendor) for TTL.
type Resolver struct {
	st  store.Store
	ttl time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New builds a Resolver whose cache entries expire after ttl (config
// RULE_CACHE_TTL_SECONDS, default 60s).
func New(st store.Store, ttl time.Duration) *Resolver {
	return &Resolver{st: st, ttl: ttl, cache: make(map[string]cacheEntry)}
}

func cacheKey(tenantID models.TenantID, vendorID models.VendorID) string {
	return string(tenantID) + "/" + string(vendorID)
}

// amountBandBoundsCents are the upper bounds (in cents) of each amount band,
// the last band being open-ended. A tenant configures a ScopeAmountBand
// tolerance layer keyed by the band label AmountBandKey returns.
var amountBandBoundsCents = []int64{10000, 100000, 1000000, 10000000}

// AmountBandKey classifies an amount (in cents) into the band label used as
// the ScopeAmountBand tolerance key, e.g. "under_100", "100_to_1000".
func AmountBandKey(cents int64) string {
	labels := []string{"under_100", "100_to_1000", "1000_to_10000", "10000_to_100000", "over_100000"}
	for i, bound := range amountBandBoundsCents {
		if cents < bound {
			return labels[i]
		}
	}
	return labels[len(labels)-1]
}

// Resolve returns the fully-populated RuleSet for tenantID/vendorID/amount,
// applying the §4.5 precedence order layer by layer over
// models.BuiltinDefault(). vendorCategory and amountBandKey may be empty;
// missing layers are simply absent from the store.
func (r *Resolver) Resolve(ctx context.Context, sess store.Session, tenantID models.TenantID, vendorID models.VendorID, vendorCategory, amountBandKey string) (models.RuleSet, error) {
	if cached, ok := r.fromCache(tenantID, vendorID); ok {
		return cached, nil
	}

	layers, err := r.loadLayers(ctx, sess, vendorID, vendorCategory, amountBandKey)
	if err != nil {
		return models.RuleSet{}, err
	}

	resolved := applyLayers(models.BuiltinDefault(), layers)
	if err := resolved.Validate(); err != nil {
		log.WithError(err).WithField("vendor_id", vendorID).Warn("resolved rule set failed validation, falling back to built-in default")
		resolved = models.BuiltinDefault()
	}

	r.store(tenantID, vendorID, resolved)
	return resolved, nil
}

func (r *Resolver) fromCache(tenantID models.TenantID, vendorID models.VendorID) (models.RuleSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[cacheKey(tenantID, vendorID)]
	if !ok || time.Now().After(entry.expiresAt) {
		return models.RuleSet{}, false
	}
	return entry.ruleSet, true
}

func (r *Resolver) store(tenantID models.TenantID, vendorID models.VendorID, rs models.RuleSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[cacheKey(tenantID, vendorID)] = cacheEntry{ruleSet: rs, expiresAt: time.Now().Add(r.ttl)}
}

// Invalidate evicts any cached entry for (tenantID, vendorID), used when a
// tolerance layer affecting that vendor is updated via the tolerances API.
func (r *Resolver) Invalidate(tenantID models.TenantID, vendorID models.VendorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, cacheKey(tenantID, vendorID))
}

// InvalidateTenant evicts every cached entry for tenantID, used after a
// global-scope tolerance update since it is not keyed by vendor.
func (r *Resolver) InvalidateTenant(tenantID models.TenantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := string(tenantID) + "/"
	for k := range r.cache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(r.cache, k)
		}
	}
}

// loadLayers fetches every tolerance layer present for this resolution key,
// ordered highest-to-lowest precedence per ToleranceScope.Precedence.
func (r *Resolver) loadLayers(ctx context.Context, sess store.Session, vendorID models.VendorID, vendorCategory, amountBandKey string) ([]*models.MatchingTolerance, error) {
	var layers []*models.MatchingTolerance

	if t, err := sess.Tolerances().Get(ctx, models.ScopeVendor, string(vendorID)); err != nil {
		return nil, err
	} else if t != nil {
		layers = append(layers, t)
	}
	if vendorCategory != "" {
		if t, err := sess.Tolerances().Get(ctx, models.ScopeVendorCategory, vendorCategory); err != nil {
			return nil, err
		} else if t != nil {
			layers = append(layers, t)
		}
	}
	if amountBandKey != "" {
		if t, err := sess.Tolerances().Get(ctx, models.ScopeAmountBand, amountBandKey); err != nil {
			return nil, err
		} else if t != nil {
			layers = append(layers, t)
		}
	}
	if t, err := sess.Tolerances().Get(ctx, models.ScopeGlobal, ""); err != nil {
		return nil, err
	} else if t != nil {
		layers = append(layers, t)
	}

	return layers, nil
}

// applyLayers folds each non-nil field of each layer (already ordered
// highest to lowest precedence) over base, so the first layer to set a
// field wins and unset fields fall through.
func applyLayers(base models.RuleSet, layers []*models.MatchingTolerance) models.RuleSet {
	resolved := base
	set := map[string]bool{}

	for _, layer := range layers {
		if layer.PriceTolerancePct != nil && !set["price_pct"] {
			resolved.PriceTolerancePct = *layer.PriceTolerancePct
			set["price_pct"] = true
		}
		if layer.PriceToleranceAbs != nil && !set["price_abs"] {
			resolved.PriceToleranceAbs = *layer.PriceToleranceAbs
			set["price_abs"] = true
		}
		if layer.QuantityTolerancePct != nil && !set["qty_pct"] {
			resolved.QuantityTolerancePct = *layer.QuantityTolerancePct
			set["qty_pct"] = true
		}
		if layer.QuantityToleranceAbs != nil && !set["qty_abs"] {
			resolved.QuantityToleranceAbs = *layer.QuantityToleranceAbs
			set["qty_abs"] = true
		}
		if layer.DateToleranceDays != nil && !set["date_days"] {
			resolved.DateToleranceDays = *layer.DateToleranceDays
			set["date_days"] = true
		}
		if layer.AutoApproveThreshold != nil && !set["auto"] {
			resolved.AutoApproveThreshold = *layer.AutoApproveThreshold
			set["auto"] = true
		}
		if layer.ManualReviewThreshold != nil && !set["manual"] {
			resolved.ManualReviewThreshold = *layer.ManualReviewThreshold
			set["manual"] = true
		}
		if layer.WeightReference != nil && !set["w_ref"] {
			resolved.WeightReference = *layer.WeightReference
			set["w_ref"] = true
		}
		if layer.WeightAmount != nil && !set["w_amt"] {
			resolved.WeightAmount = *layer.WeightAmount
			set["w_amt"] = true
		}
		if layer.WeightVendor != nil && !set["w_ven"] {
			resolved.WeightVendor = *layer.WeightVendor
			set["w_ven"] = true
		}
		if layer.WeightDate != nil && !set["w_date"] {
			resolved.WeightDate = *layer.WeightDate
			set["w_date"] = true
		}
		if layer.WeightLine != nil && !set["w_line"] {
			resolved.WeightLine = *layer.WeightLine
			set["w_line"] = true
		}
	}

	return resolved
}

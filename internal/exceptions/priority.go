package exceptions

import (
	"sort"

	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// AssignPriority implements the §4.6 priority formula:
// priority = f(amount_percentile_within_tenant, age_days, vendor_criticality).
//
// vendor_criticality is not yet a modeled field on models.Vendor (no
// example or spec source names its scale), so this implementation folds
// amount and age only, per the spec's own "concretely" fallback rule; a
// vendor_criticality multiplier is a natural follow-on once that field
// exists. peerAmountsCents is the tenant's recent invoice-amount
// population used to compute the percentile rank; callers pass a bounded
// sample (the store's paginated List, capped at 100 per spec §6) rather
// than the full tenant history.
func AssignPriority(amountCents int64, peerAmountsCents []int64, ageDays int) models.ExceptionPriority {
	percentile := percentileRank(amountCents, peerAmountsCents)
	median := medianOf(peerAmountsCents)

	switch {
	case percentile >= 0.95 && ageDays >= 3:
		return models.PriorityCritical
	case percentile >= 0.95 || ageDays >= 3:
		return models.PriorityHigh
	case amountCents < median && ageDays < 1:
		return models.PriorityLow
	default:
		return models.PriorityMedium
	}
}

// percentileRank returns the fraction of values at or below x, or 0.5 when
// there is no peer population to compare against (neutral midpoint).
func percentileRank(x int64, values []int64) float64 {
	if len(values) == 0 {
		return 0.5
	}
	atOrBelow := 0
	for _, v := range values {
		if v <= x {
			atOrBelow++
		}
	}
	return float64(atOrBelow) / float64(len(values))
}

// medianOf returns the median of values, or 0 for an empty population.
func medianOf(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

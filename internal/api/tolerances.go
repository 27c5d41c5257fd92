package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// handleListTolerances implements GET /tolerances: every configured layer
// for the caller's tenant (spec §4.5). Unlike the transactional resources,
// tolerances are a small configuration set, so the repo exposes a plain
// AllForTenant rather than the paginated filter contract.
func (h *APIHandler) handleListTolerances(c *gin.Context) {
	sess, ok := beginReadSession(c, h.store)
	if !ok {
		return
	}
	defer endReadSession(c, sess)

	tolerances, err := sess.Tolerances().AllForTenant(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tolerances, "total": len(tolerances)})
}

// upsertToleranceRequest is the body for PUT /tolerances: one layer of the
// §4.5 layered configuration. Nil-able fields fall through to the next
// layer on resolution when omitted here.
type upsertToleranceRequest struct {
	Scope                 string   `json:"scope"`
	Key                   string   `json:"key"`
	PriceTolerancePct     *float64 `json:"price_tolerance_pct"`
	PriceToleranceAbs     *float64 `json:"price_tolerance_abs"`
	QuantityTolerancePct  *float64 `json:"quantity_tolerance_pct"`
	QuantityToleranceAbs  *float64 `json:"quantity_tolerance_abs"`
	DateToleranceDays     *int     `json:"date_tolerance_days"`
	AutoApproveThreshold  *float64 `json:"auto_approve_threshold"`
	ManualReviewThreshold *float64 `json:"manual_review_threshold"`
	WeightReference       *float64 `json:"weight_reference"`
	WeightAmount          *float64 `json:"weight_amount"`
	WeightVendor          *float64 `json:"weight_vendor"`
	WeightDate            *float64 `json:"weight_date"`
	WeightLine            *float64 `json:"weight_line"`
}

// handleUpsertTolerance implements PUT /tolerances: writes one configuration
// layer and invalidates the rule resolver's cache for it, so the next match
// run picks up the change instead of serving a stale cached RuleSet (spec
// §4.5 cache-invalidation requirement).
func (h *APIHandler) handleUpsertTolerance(c *gin.Context) {
	var req upsertToleranceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", "malformed", "request body must be valid JSON"))
		return
	}
	scope := models.ToleranceScope(req.Scope)
	if scope == "" {
		h.fail(c, apperrors.Validation("scope", "required", "scope is required"))
		return
	}

	sess := session(c)
	t := &models.MatchingTolerance{
		TenantID:              sess.TenantID(),
		Scope:                 scope,
		Key:                   req.Key,
		PriceTolerancePct:     req.PriceTolerancePct,
		PriceToleranceAbs:     req.PriceToleranceAbs,
		QuantityTolerancePct:  req.QuantityTolerancePct,
		QuantityToleranceAbs:  req.QuantityToleranceAbs,
		DateToleranceDays:     req.DateToleranceDays,
		AutoApproveThreshold:  req.AutoApproveThreshold,
		ManualReviewThreshold: req.ManualReviewThreshold,
		WeightReference:       req.WeightReference,
		WeightAmount:          req.WeightAmount,
		WeightVendor:          req.WeightVendor,
		WeightDate:            req.WeightDate,
		WeightLine:            req.WeightLine,
	}
	if err := sess.Tolerances().Upsert(c.Request.Context(), t); err != nil {
		h.fail(c, err)
		return
	}

	switch scope {
	case models.ScopeVendor:
		h.resolver.Invalidate(sess.TenantID(), models.VendorID(req.Key))
	default:
		h.resolver.InvalidateTenant(sess.TenantID())
	}

	h.respond(c, http.StatusOK, t)
}

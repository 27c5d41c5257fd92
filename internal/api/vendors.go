package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

var normalizationCaser = cases.Upper(language.Und)

// handleListVendors implements GET /vendors. Vendors are a small,
// tenant-scoped reference table (spec §3), so the repo exposes a plain
// List rather than the paginated filter contract used by the
// transactional resources.
func (h *APIHandler) handleListVendors(c *gin.Context) {
	sess, ok := beginReadSession(c, h.store)
	if !ok {
		return
	}
	defer endReadSession(c, sess)

	vendors, err := sess.Vendors().List(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": vendors, "total": len(vendors)})
}

// handleGetVendor implements GET /vendors/:id.
func (h *APIHandler) handleGetVendor(c *gin.Context) {
	sess, ok := beginReadSession(c, h.store)
	if !ok {
		return
	}
	defer endReadSession(c, sess)

	v, err := sess.Vendors().Get(c.Request.Context(), models.VendorID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// createVendorRequest is the body for POST /vendors.
type createVendorRequest struct {
	LegalName        string   `json:"legal_name"`
	DisplayName      string   `json:"display_name"`
	TaxID            string   `json:"tax_id"`
	Aliases          []string `json:"aliases"`
	PaymentTermsDays int      `json:"payment_terms_days"`
}

// handleCreateVendor implements POST /vendors. NormalizedName is populated
// the way spec.md §6 describes the external vendor-normalization
// collaborator working: a pure deterministic function of the legal name,
// whose output core persists verbatim and never recomputes elsewhere
// (pkg/models/vendor.go).
func (h *APIHandler) handleCreateVendor(c *gin.Context) {
	var req createVendorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", "malformed", "request body must be valid JSON"))
		return
	}
	if req.LegalName == "" {
		h.fail(c, apperrors.Validation("legal_name", "required", "legal_name is required"))
		return
	}

	sess := session(c)
	v := &models.Vendor{
		LegalName:        req.LegalName,
		DisplayName:      firstNonEmptyAPI(req.DisplayName, req.LegalName),
		NormalizedName:   normalizeVendorNameForPersistence(req.LegalName),
		TaxID:            req.TaxID,
		Aliases:          req.Aliases,
		PaymentTermsDays: req.PaymentTermsDays,
	}
	if err := sess.Vendors().Create(c.Request.Context(), v); err != nil {
		h.fail(c, err)
		return
	}

	h.respond(c, http.StatusCreated, v)
}

// normalizeVendorNameForPersistence stands in for the external
// normalize_vendor_name(name) collaborator (spec §6): a pure, deterministic
// fold whose output is persisted as Vendor.NormalizedName and never
// recomputed by core logic.
func normalizeVendorNameForPersistence(name string) string {
	return normalizationCaser.String(strings.Join(strings.Fields(name), " "))
}

func firstNonEmptyAPI(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/exceptions"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// handleListExceptions implements GET /exceptions: paginated/filtered per
// spec §4.6/§6.
func (h *APIHandler) handleListExceptions(c *gin.Context) {
	sess, ok := beginReadSession(c, h.store)
	if !ok {
		return
	}
	defer endReadSession(c, sess)

	filter := parseListFilter(c)
	applyCommonFilters(c, &filter)

	page, err := h.exceptions.List(c.Request.Context(), sess, filter)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, envelope(page))
}

// handleGetException implements GET /exceptions/:id.
func (h *APIHandler) handleGetException(c *gin.Context) {
	sess, ok := beginReadSession(c, h.store)
	if !ok {
		return
	}
	defer endReadSession(c, sess)

	e, err := sess.ExceptionEntries().Get(c.Request.Context(), models.ExceptionID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// claimExceptionRequest is the body for POST /exceptions/:id/claim.
type claimExceptionRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
}

// handleClaimException implements POST /exceptions/:id/claim: a reviewer
// takes ownership of an open exception (spec §4.6). The caller supplies the
// version it last observed so a concurrent claim by another reviewer
// surfaces as a conflict instead of silently overwriting the assignment.
func (h *APIHandler) handleClaimException(c *gin.Context) {
	var req claimExceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", "malformed", "request body must be valid JSON"))
		return
	}

	rc, _ := requestContext(c)
	sess := session(c)
	id := models.ExceptionID(c.Param("id"))

	if err := h.exceptions.Claim(c.Request.Context(), sess, id, req.ExpectedVersion, rc.UserID); err != nil {
		h.fail(c, err)
		return
	}

	e, err := sess.ExceptionEntries().Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, e)
}

// decideExceptionRequest is the body for POST /exceptions/:id/decide.
type decideExceptionRequest struct {
	ExpectedVersion int64  `json:"expected_version"`
	Decision        string `json:"decision"`
	MatchID         string `json:"match_id"`
	DeferUntil      string `json:"defer_until"`
	Notes           string `json:"notes"`
}

// handleDecideException implements POST /exceptions/:id/decide: records a
// reviewer's approve/reject_all/defer decision (spec §4.6).
func (h *APIHandler) handleDecideException(c *gin.Context) {
	var req decideExceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", "malformed", "request body must be valid JSON"))
		return
	}

	var deferUntil time.Time
	if req.DeferUntil != "" {
		d, err := time.Parse(time.RFC3339, req.DeferUntil)
		if err != nil {
			h.fail(c, apperrors.Validation("defer_until", "invalid_timestamp", err.Error()))
			return
		}
		deferUntil = d
	}

	rc, _ := requestContext(c)
	sess := session(c)
	id := models.ExceptionID(c.Param("id"))

	if err := h.exceptions.Decide(c.Request.Context(), sess, id, req.ExpectedVersion, rc.UserID,
		exceptions.Decision(req.Decision), models.MatchResultID(req.MatchID), deferUntil, req.Notes); err != nil {
		h.fail(c, err)
		return
	}

	e, err := sess.ExceptionEntries().Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, e)
}

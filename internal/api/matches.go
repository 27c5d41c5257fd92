package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/exceptions"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// handleGetMatch implements GET /matches/:id.
func (h *APIHandler) handleGetMatch(c *gin.Context) {
	sess, ok := beginReadSession(c, h.store)
	if !ok {
		return
	}
	defer endReadSession(c, sess)

	m, err := sess.MatchResults().Get(c.Request.Context(), models.MatchResultID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// runMatchRequest is the body for POST /matches/run (spec §4.4.6 batch
// contract). InvoiceIDs selects the invoices to (re)match; Parallelism
// bounds the worker pool and defaults to 4 when omitted.
type runMatchRequest struct {
	InvoiceIDs  []string `json:"invoice_ids"`
	Parallelism int      `json:"parallelism"`
}

// runMatchOutcome reports one invoice's result within a batch run.
type runMatchOutcome struct {
	InvoiceID string `json:"invoice_id"`
	Error     string `json:"error,omitempty"`
}

// handleRunMatch implements POST /matches/run: drives matching.Engine over
// the requested invoices under a bounded worker pool, each invoice
// committing independently (§4.4.6, §5 per-invoice transaction boundary), so
// one invoice's failure never blocks or rolls back another's.
func (h *APIHandler) handleRunMatch(c *gin.Context) {
	var req runMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", "malformed", "request body must be valid JSON"))
		return
	}
	if len(req.InvoiceIDs) == 0 {
		h.fail(c, apperrors.Validation("invoice_ids", "required", "invoice_ids must contain at least one invoice"))
		return
	}

	ids := make([]models.InvoiceID, len(req.InvoiceIDs))
	for i, id := range req.InvoiceIDs {
		ids[i] = models.InvoiceID(id)
	}

	rc, _ := requestContext(c)
	tenantID := mustTenantID(c)
	actor := rc.UserID

	outcomes := make([]runMatchOutcome, 0, len(ids))
	for progress := range h.matcher.MatchBatch(c.Request.Context(), tenantID, ids, req.Parallelism, actor) {
		o := runMatchOutcome{InvoiceID: string(progress.InvoiceID)}
		if progress.Err != nil {
			o.Error = progress.Err.Error()
		} else {
			h.hub.Publish(EventInvoiceMatched, string(tenantID), gin.H{"invoice_id": progress.InvoiceID})
		}
		outcomes = append(outcomes, o)
	}

	h.respond(c, http.StatusOK, gin.H{"total": len(outcomes), "results": outcomes})
}

// decideMatchRequest is the shared body shape for approve/reject.
type decideMatchRequest struct {
	Notes string `json:"notes"`
}

// handleApproveMatch implements POST /matches/:id/approve: the reviewer
// manually approves a pending (or exception-suggested) MatchResult. It
// requires an open exception for the invoice (not_found otherwise) and
// resolves it via the same Decide path the exception-queue endpoints use, so
// approval always leaves the invoice and its exception entry in a consistent
// state.
func (h *APIHandler) handleApproveMatch(c *gin.Context) {
	var req decideMatchRequest
	_ = c.ShouldBindJSON(&req)

	matchID := models.MatchResultID(c.Param("id"))
	sess := session(c)

	m, err := sess.MatchResults().Get(c.Request.Context(), matchID)
	if err != nil {
		h.fail(c, err)
		return
	}

	rc, _ := requestContext(c)
	entry, err := sess.ExceptionEntries().GetOpenForInvoice(c.Request.Context(), m.InvoiceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entry == nil {
		h.fail(c, apperrors.NotFound("exception", "for invoice "+string(m.InvoiceID)))
		return
	}

	if err := h.exceptions.Decide(c.Request.Context(), sess, entry.ID, entry.Version, rc.UserID,
		exceptions.DecisionApprove, matchID, time.Time{}, req.Notes); err != nil {
		h.fail(c, err)
		return
	}

	updated, err := sess.MatchResults().Get(c.Request.Context(), matchID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.hub.Publish(EventInvoiceMatched, string(sess.TenantID()), gin.H{"invoice_id": m.InvoiceID, "match_id": matchID})
	h.respond(c, http.StatusOK, updated)
}

// handleRejectMatch implements POST /matches/:id/reject: records a
// reject_all decision (spec §4.6) on the invoice's open exception, which
// resolves the exception and moves the invoice to unmatchable. The
// MatchResult's own status is left unchanged.
func (h *APIHandler) handleRejectMatch(c *gin.Context) {
	var req decideMatchRequest
	_ = c.ShouldBindJSON(&req)

	matchID := models.MatchResultID(c.Param("id"))
	sess := session(c)

	m, err := sess.MatchResults().Get(c.Request.Context(), matchID)
	if err != nil {
		h.fail(c, err)
		return
	}

	rc, _ := requestContext(c)
	entry, err := sess.ExceptionEntries().GetOpenForInvoice(c.Request.Context(), m.InvoiceID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entry == nil {
		h.fail(c, apperrors.NotFound("exception", "for invoice "+string(m.InvoiceID)))
		return
	}

	if err := h.exceptions.Decide(c.Request.Context(), sess, entry.ID, entry.Version, rc.UserID,
		exceptions.DecisionRejectAll, "", time.Time{}, req.Notes); err != nil {
		h.fail(c, err)
		return
	}

	h.hub.Publish(EventExceptionCreated, string(sess.TenantID()), gin.H{"invoice_id": m.InvoiceID, "exception_id": entry.ID})
	h.respond(c, http.StatusOK, gin.H{"invoice_id": m.InvoiceID, "status": "rejected"})
}

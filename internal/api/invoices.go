package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// handleListInvoices implements GET /invoices: paginated/sorted/filtered
// per spec §6.
func (h *APIHandler) handleListInvoices(c *gin.Context) {
	sess, ok := beginReadSession(c, h.store)
	if !ok {
		return
	}
	defer endReadSession(c, sess)

	filter := parseListFilter(c)
	applyCommonFilters(c, &filter)

	page, err := sess.Invoices().List(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, envelope(page))
}

// handleGetInvoice implements GET /invoices/:id.
func (h *APIHandler) handleGetInvoice(c *gin.Context) {
	sess, ok := beginReadSession(c, h.store)
	if !ok {
		return
	}
	defer endReadSession(c, sess)

	inv, err := sess.Invoices().Get(c.Request.Context(), models.InvoiceID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// createInvoiceRequest is the body for POST /invoices.
type createInvoiceRequest struct {
	InvoiceNumber string         `json:"invoice_number"`
	VendorID      string         `json:"vendor_id"`
	PONumber      string         `json:"po_number"`
	Subtotal      moneydec.Money `json:"subtotal"`
	TaxAmount     moneydec.Money `json:"tax_amount"`
	TotalAmount   moneydec.Money `json:"total_amount"`
	Currency      string         `json:"currency"`
	InvoiceDate   string         `json:"invoice_date"`
	DueDate       string         `json:"due_date"`
	ImportSource  string         `json:"import_source"`
}

// handleCreateInvoice implements POST /invoices.
func (h *APIHandler) handleCreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", "malformed", "request body must be valid JSON matching the invoice schema"))
		return
	}
	if req.InvoiceNumber == "" {
		h.fail(c, apperrors.Validation("invoice_number", "required", "invoice_number is required"))
		return
	}

	invoiceDate, err := parseISODate(req.InvoiceDate)
	if err != nil {
		h.fail(c, apperrors.Validation("invoice_date", "invalid_date", err.Error()))
		return
	}
	var dueDate *time.Time
	if req.DueDate != "" {
		d, err := parseISODate(req.DueDate)
		if err != nil {
			h.fail(c, apperrors.Validation("due_date", "invalid_date", err.Error()))
			return
		}
		dueDate = &d
	}

	sess := session(c)
	inv := &models.Invoice{
		InvoiceNumber: req.InvoiceNumber,
		VendorID:      models.VendorID(req.VendorID),
		PONumber:      req.PONumber,
		Subtotal:      req.Subtotal,
		TaxAmount:     req.TaxAmount,
		TotalAmount:   req.TotalAmount,
		Currency:      req.Currency,
		InvoiceDate:   invoiceDate,
		DueDate:       dueDate,
		Status:        models.InvoiceStatusPending,
		MatchingStatus: models.MatchingUnmatched,
		ImportSource:  req.ImportSource,
	}
	if err := inv.ValidateInvariants(); err != nil {
		h.fail(c, apperrors.Validation("total_amount", "invariant", err.Error()))
		return
	}
	if err := sess.Invoices().Create(c.Request.Context(), inv); err != nil {
		h.fail(c, err)
		return
	}

	h.respond(c, http.StatusCreated, inv)
}

// updateInvoiceStatusRequest is the body for PUT /invoices/:id/status.
type updateInvoiceStatusRequest struct {
	Status string `json:"status"`
}

// handleUpdateInvoiceStatus implements PUT /invoices/:id/status — the only
// update operation core exposes for invoices (spec §6: "update (status
// transitions only for core)").
func (h *APIHandler) handleUpdateInvoiceStatus(c *gin.Context) {
	var req updateInvoiceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", "malformed", "request body must be valid JSON"))
		return
	}

	sess := session(c)
	id := models.InvoiceID(c.Param("id"))
	if err := sess.Invoices().UpdateStatus(c.Request.Context(), id, models.InvoiceStatus(req.Status)); err != nil {
		h.fail(c, err)
		return
	}

	inv, err := sess.Invoices().Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, inv)
}

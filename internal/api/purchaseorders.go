package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// handleListPurchaseOrders implements GET /purchase-orders: paginated/
// filtered per spec §6.
func (h *APIHandler) handleListPurchaseOrders(c *gin.Context) {
	sess, ok := beginReadSession(c, h.store)
	if !ok {
		return
	}
	defer endReadSession(c, sess)

	filter := parseListFilter(c)
	applyCommonFilters(c, &filter)

	page, err := sess.PurchaseOrders().List(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, envelope(page))
}

// handleGetPurchaseOrder implements GET /purchase-orders/:id.
func (h *APIHandler) handleGetPurchaseOrder(c *gin.Context) {
	sess, ok := beginReadSession(c, h.store)
	if !ok {
		return
	}
	defer endReadSession(c, sess)

	po, err := sess.PurchaseOrders().Get(c.Request.Context(), models.PurchaseOrderID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, po)
}

// createPurchaseOrderRequest is the body for POST /purchase-orders.
type createPurchaseOrderRequest struct {
	PONumber     string                    `json:"po_number"`
	VendorID     string                    `json:"vendor_id"`
	TotalAmount  moneydec.Money            `json:"total_amount"`
	Currency     string                    `json:"currency"`
	PODate       string                    `json:"po_date"`
	ExpectedDate string                    `json:"expected_date"`
	Lines        []purchaseOrderLineInput  `json:"lines"`
}

type purchaseOrderLineInput struct {
	LineNo      int            `json:"line_no"`
	SKU         string         `json:"sku"`
	Description string         `json:"description"`
	OrderedQty  float64        `json:"ordered_qty"`
	UnitPrice   moneydec.Money `json:"unit_price"`
	LineTotal   moneydec.Money `json:"line_total"`
}

// handleCreatePurchaseOrder implements POST /purchase-orders.
func (h *APIHandler) handleCreatePurchaseOrder(c *gin.Context) {
	var req createPurchaseOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", "malformed", "request body must be valid JSON"))
		return
	}
	if req.PONumber == "" {
		h.fail(c, apperrors.Validation("po_number", "required", "po_number is required"))
		return
	}

	poDate, err := parseISODate(req.PODate)
	if err != nil {
		h.fail(c, apperrors.Validation("po_date", "invalid_date", err.Error()))
		return
	}
	var expectedDate *time.Time
	if req.ExpectedDate != "" {
		d, err := parseISODate(req.ExpectedDate)
		if err != nil {
			h.fail(c, apperrors.Validation("expected_date", "invalid_date", err.Error()))
			return
		}
		expectedDate = &d
	}

	lines := make([]models.PurchaseOrderLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = models.PurchaseOrderLine{
			LineNo: l.LineNo, SKU: l.SKU, Description: l.Description,
			OrderedQty: l.OrderedQty, UnitPrice: l.UnitPrice, LineTotal: l.LineTotal,
		}
	}

	sess := session(c)
	po := &models.PurchaseOrder{
		PONumber:     req.PONumber,
		VendorID:     models.VendorID(req.VendorID),
		TotalAmount:  req.TotalAmount,
		Currency:     req.Currency,
		PODate:       poDate,
		ExpectedDate: expectedDate,
		Status:       models.POStatusOpen,
		Lines:        lines,
	}
	if err := po.ValidateInvariants(); err != nil {
		h.fail(c, apperrors.Validation("total_amount", "invariant", err.Error()))
		return
	}
	if err := sess.PurchaseOrders().Create(c.Request.Context(), po); err != nil {
		h.fail(c, err)
		return
	}

	h.respond(c, http.StatusCreated, po)
}

// updatePurchaseOrderStatusRequest is the body for PUT /purchase-orders/:id/status.
type updatePurchaseOrderStatusRequest struct {
	Status string `json:"status"`
}

// handleUpdatePurchaseOrderStatus implements PUT /purchase-orders/:id/status.
func (h *APIHandler) handleUpdatePurchaseOrderStatus(c *gin.Context) {
	var req updatePurchaseOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", "malformed", "request body must be valid JSON"))
		return
	}

	sess := session(c)
	id := models.PurchaseOrderID(c.Param("id"))
	if err := sess.PurchaseOrders().UpdateStatus(c.Request.Context(), id, models.PurchaseOrderStatus(req.Status)); err != nil {
		h.fail(c, err)
		return
	}

	po, err := sess.PurchaseOrders().Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.respond(c, http.StatusOK, po)
}

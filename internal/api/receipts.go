package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// handleGetReceipt implements GET /receipts/:id.
func (h *APIHandler) handleGetReceipt(c *gin.Context) {
	sess, ok := beginReadSession(c, h.store)
	if !ok {
		return
	}
	defer endReadSession(c, sess)

	r, err := sess.Receipts().Get(c.Request.Context(), models.ReceiptID(c.Param("id")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// createReceiptRequest is the body for POST /receipts.
type createReceiptRequest struct {
	ReceiptNumber   string               `json:"receipt_number"`
	PurchaseOrderID string               `json:"purchase_order_id"`
	ReceivedDate    string               `json:"received_date"`
	TotalAmount     moneydec.Money       `json:"total_amount"`
	Lines           []receiptLineInput   `json:"lines"`
}

type receiptLineInput struct {
	PurchaseOrderLineNo int     `json:"purchase_order_line_no"`
	SKU                 string  `json:"sku"`
	ReceivedQty         float64 `json:"received_qty"`
}

// handleCreateReceipt implements POST /receipts. A receipt is always tied to
// an existing purchase order (spec §3 Receipt invariant); the handler
// verifies the PO exists before creating the receipt so a dangling
// PurchaseOrderID can never be persisted.
func (h *APIHandler) handleCreateReceipt(c *gin.Context) {
	var req createReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperrors.Validation("body", "malformed", "request body must be valid JSON"))
		return
	}
	if req.PurchaseOrderID == "" {
		h.fail(c, apperrors.Validation("purchase_order_id", "required", "purchase_order_id is required"))
		return
	}

	receivedDate, err := parseISODate(req.ReceivedDate)
	if err != nil {
		h.fail(c, apperrors.Validation("received_date", "invalid_date", err.Error()))
		return
	}

	sess := session(c)
	poID := models.PurchaseOrderID(req.PurchaseOrderID)
	if _, err := sess.PurchaseOrders().Get(c.Request.Context(), poID); err != nil {
		h.fail(c, err)
		return
	}

	lines := make([]models.ReceiptLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = models.ReceiptLine{
			PurchaseOrderLineNo: l.PurchaseOrderLineNo,
			SKU:                 l.SKU,
			ReceivedQty:         l.ReceivedQty,
		}
	}

	r := &models.Receipt{
		ReceiptNumber:   req.ReceiptNumber,
		PurchaseOrderID: poID,
		ReceivedDate:    receivedDate,
		TotalAmount:     req.TotalAmount,
		Lines:           lines,
	}
	if err := sess.Receipts().Create(c.Request.Context(), r); err != nil {
		h.fail(c, err)
		return
	}

	h.respond(c, http.StatusCreated, r)
}

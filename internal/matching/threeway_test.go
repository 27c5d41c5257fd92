package matching

import (
	"testing"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

func TestClassifyThreeWayPerfectMatch(t *testing.T) {
	po := &models.PurchaseOrder{
		Lines: []models.PurchaseOrderLine{{LineNo: 1, SKU: "A1", OrderedQty: 10, UnitPrice: moneydec.MustParse("5.00")}},
	}
	inv := &models.Invoice{
		Lines: []models.LineItem{{SKU: "A1", Quantity: 10, UnitPrice: moneydec.MustParse("5.00")}},
	}
	receipts := []*models.Receipt{{
		Lines: []models.ReceiptLine{{PurchaseOrderLineNo: 1, SKU: "A1", ReceivedQty: 10}},
	}}

	got := classifyThreeWay(inv, po, receipts, models.BuiltinDefault())
	if got != models.ThreeWayPerfectMatch {
		t.Fatalf("expected perfect_match, got %v", got)
	}
}

func TestClassifyThreeWayPartialReceipt(t *testing.T) {
	po := &models.PurchaseOrder{
		Lines: []models.PurchaseOrderLine{{LineNo: 1, SKU: "A1", OrderedQty: 10, UnitPrice: moneydec.MustParse("5.00")}},
	}
	inv := &models.Invoice{
		Lines: []models.LineItem{{SKU: "A1", Quantity: 4, UnitPrice: moneydec.MustParse("5.00")}},
	}
	receipts := []*models.Receipt{{
		Lines: []models.ReceiptLine{{PurchaseOrderLineNo: 1, SKU: "A1", ReceivedQty: 4}},
	}}

	got := classifyThreeWay(inv, po, receipts, models.BuiltinDefault())
	if got != models.ThreeWayPartialReceipt {
		t.Fatalf("expected partial_receipt, got %v", got)
	}
}

func TestClassifyThreeWayOverDelivery(t *testing.T) {
	po := &models.PurchaseOrder{
		Lines: []models.PurchaseOrderLine{{LineNo: 1, SKU: "A1", OrderedQty: 10, UnitPrice: moneydec.MustParse("5.00")}},
	}
	inv := &models.Invoice{
		Lines: []models.LineItem{{SKU: "A1", Quantity: 20, UnitPrice: moneydec.MustParse("5.00")}},
	}
	receipts := []*models.Receipt{{
		Lines: []models.ReceiptLine{{PurchaseOrderLineNo: 1, SKU: "A1", ReceivedQty: 20}},
	}}

	got := classifyThreeWay(inv, po, receipts, models.BuiltinDefault())
	if got != models.ThreeWayOverDelivery {
		t.Fatalf("expected over_delivery, got %v", got)
	}
}

func TestAggregateReceivedQtySumsAcrossReceipts(t *testing.T) {
	receipts := []*models.Receipt{
		{Lines: []models.ReceiptLine{{PurchaseOrderLineNo: 1, ReceivedQty: 3}}},
		{Lines: []models.ReceiptLine{{PurchaseOrderLineNo: 1, ReceivedQty: 4}}},
	}
	got := aggregateReceivedQty(receipts)
	if got[1] != 7 {
		t.Fatalf("expected aggregate of 7, got %v", got[1])
	}
}

func TestClassifyByAmountOnlyFallsBackWithoutLineDetail(t *testing.T) {
	po := &models.PurchaseOrder{TotalAmount: moneydec.MustParse("100.00")}
	inv := &models.Invoice{TotalAmount: moneydec.MustParse("100.00")}
	got := classifyThreeWay(inv, po, []*models.Receipt{{ReceivedDate: time.Now()}}, models.BuiltinDefault())
	if got != models.ThreeWayPerfectMatch {
		t.Fatalf("expected perfect_match fallback on equal header totals, got %v", got)
	}
}

package ingest

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// ExportInvoices writes every invoice visible to sess as CSV using the
// inverse of the standard invoice ColumnMapping, so an export followed by an
// Import of the same file reproduces the same set of invoices (spec §8
// round-trip property). due_date and received_date are not exported.
func ExportInvoices(ctx context.Context, sess store.Session, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"invoice_number", "vendor", "po_number", "subtotal", "tax_amount", "total_amount", "currency", "invoice_date"}
	if err := cw.Write(header); err != nil {
		return err
	}

	const pageSize = 100
	for pageNo := 1; ; pageNo++ {
		page, err := sess.Invoices().List(ctx, store.ListFilter{Page: pageNo, Limit: pageSize})
		if err != nil {
			return err
		}
		for _, inv := range page.Data {
			if err := writeInvoiceRow(ctx, sess, cw, inv); err != nil {
				return err
			}
		}
		if len(page.Data) < pageSize {
			break
		}
	}
	return cw.Error()
}

func writeInvoiceRow(ctx context.Context, sess store.Session, cw *csv.Writer, inv *models.Invoice) error {
	vendor, err := sess.Vendors().Get(ctx, inv.VendorID)
	if err != nil {
		return err
	}
	record := []string{
		inv.InvoiceNumber,
		vendor.DisplayName,
		inv.PONumber,
		inv.Subtotal.String(),
		inv.TaxAmount.String(),
		inv.TotalAmount.String(),
		inv.Currency,
		inv.InvoiceDate.Format("2006-01-02"),
	}
	return cw.Write(record)
}

// StandardInvoiceMapping is the column mapping that matches ExportInvoices's
// header, so ExportInvoices's output can be fed straight back into Import.
var StandardInvoiceMapping = ColumnMapping{
	"invoice_number": "invoice_number",
	"vendor":         "vendor",
	"po_number":      "po_number",
	"subtotal":       "subtotal",
	"tax_amount":     "tax_amount",
	"total_amount":   "total_amount",
	"currency":       "currency",
	"invoice_date":   "invoice_date",
}

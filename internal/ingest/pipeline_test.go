package ingest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

const sampleCSV = `invoice_number,vendor,po_number,subtotal,tax_amount,total_amount,currency,invoice_date
INV-1001,Acme Corp,PO-1,"1,000.00",80.00,1080.00,USD,2026-01-15
INV-1002,Acme Corp,PO-2,500.00,40.00,540.00,USD,01/20/2026
INV-1001,Acme Corp,PO-3,200.00,16.00,216.00,USD,2026-01-22
`

func TestImportStreamsAndValidates(t *testing.T) {
	st := store.NewMemoryStore()
	p := New(st, 2, 0.5, "US")

	result, _, err := p.Import(context.Background(), models.TenantID("tenant-a"), DocInvoice,
		StandardInvoiceMapping, "unit-test", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.RowsRead != 3 {
		t.Fatalf("expected 3 rows read, got %d", result.RowsRead)
	}
	if result.RowsCommitted != 2 {
		t.Fatalf("expected 2 rows committed (one duplicate invoice_number), got %d", result.RowsCommitted)
	}
	if result.RowsFailed != 1 {
		t.Fatalf("expected 1 failed row, got %d", result.RowsFailed)
	}
}

func TestImportAbortsOnErrorRate(t *testing.T) {
	st := store.NewMemoryStore()
	p := New(st, 2, 0.1, "US")

	badCSV := `invoice_number,vendor,po_number,subtotal,tax_amount,total_amount,currency,invoice_date
,BadVendor,PO-1,100.00,8.00,108.00,USD,2026-01-01
,BadVendor,PO-2,100.00,8.00,108.00,USD,2026-01-01
,BadVendor,PO-3,100.00,8.00,108.00,USD,2026-01-01
,BadVendor,PO-4,100.00,8.00,108.00,USD,2026-01-01
`
	result, _, err := p.Import(context.Background(), models.TenantID("tenant-a"), DocInvoice,
		StandardInvoiceMapping, "unit-test", strings.NewReader(badCSV))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !result.Aborted {
		t.Fatal("expected import to abort once error rate exceeded threshold")
	}
	if result.RowsRead >= 4 {
		t.Fatalf("expected abort to stop before reading all rows, read %d", result.RowsRead)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	st := store.NewMemoryStore()
	p := New(st, 500, 0.1, "US")
	tenantID := models.TenantID("tenant-a")

	if _, _, err := p.Import(context.Background(), tenantID, DocInvoice, StandardInvoiceMapping,
		"seed", strings.NewReader(sampleCSV)); err != nil {
		t.Fatalf("seed Import: %v", err)
	}

	sess, err := st.Begin(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	var buf bytes.Buffer
	if err := ExportInvoices(context.Background(), sess, &buf); err != nil {
		t.Fatalf("ExportInvoices: %v", err)
	}

	st2 := store.NewMemoryStore()
	p2 := New(st2, 500, 0.1, "US")
	result, _, err := p2.Import(context.Background(), tenantID, DocInvoice, StandardInvoiceMapping,
		"round-trip", &buf)
	if err != nil {
		t.Fatalf("round-trip Import: %v", err)
	}
	if result.RowsCommitted != 2 {
		t.Fatalf("expected 2 invoices to survive the round trip, got %d", result.RowsCommitted)
	}
}

func TestStartImportIsPollableToCompletion(t *testing.T) {
	st := store.NewMemoryStore()
	p := New(st, 2, 0.5, "US")

	token := p.StartImport(context.Background(), models.TenantID("tenant-a"), DocInvoice,
		StandardInvoiceMapping, "unit-test", strings.NewReader(sampleCSV))
	if token == "" {
		t.Fatal("expected a non-empty run token")
	}

	deadline := time.Now().Add(2 * time.Second)
	var (
		result *Result
		err    error
		done   bool
	)
	for time.Now().Before(deadline) {
		_, result, err, done, _ = RunStatus(token)
		if done {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !done {
		t.Fatal("expected the background import to finish within the deadline")
	}
	if err != nil {
		t.Fatalf("RunStatus returned err: %v", err)
	}
	if result.RowsCommitted != 2 {
		t.Fatalf("expected 2 rows committed, got %d", result.RowsCommitted)
	}
}

func TestRunStatusUnknownTokenNotFound(t *testing.T) {
	_, _, _, _, found := RunStatus("does-not-exist")
	if found {
		t.Fatal("expected an unknown token to report found=false")
	}
}

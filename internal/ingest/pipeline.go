// Package ingest implements the streaming CSV ingestion pipeline (C3, spec
// §4.3): a single pass over an RFC 4180 reader, normalizing and validating
// each row, committing in fixed-size windows, and aborting early once the
// running error rate crosses a configured threshold.
//
// Progress is tracked with atomic counters exactly like the teacher's
// BlockScanner.ScanRange (internal/scanner/block_scanner.go): a running
// import is a long background operation whose progress another goroutine
// (an HTTP status handler) needs to read without locking.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/logging"
	"github.com/rawblock/ap-reconcile-engine/internal/moneydec"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

var log = logging.Component("ingest")

// DocumentType names which domain record a column mapping targets.
type DocumentType string

const (
	DocInvoice       DocumentType = "invoice"
	DocPurchaseOrder DocumentType = "purchase_order"
	DocReceipt       DocumentType = "receipt"
)

// ColumnMapping maps each domain field required for DocumentType (the key)
// to the CSV header name it is read from (the value), per spec §4.3 ("the caller supplies a column mapping; the
// pipeline never guesses column meaning from header text").
type ColumnMapping map[string]string

// RowError is a single row's validation failure, surfaced back to the
// caller without aborting the whole import unless the error rate threshold
// trips.
type RowError struct {
	RowNumber int    `json:"row_number"`
	Field     string `json:"field"`
	Message   string `json:"message"`
}

// Progress is read concurrently by an HTTP status endpoint while Import runs
// in the background; every field is atomic so no lock is needed.
type Progress struct {
	rowsRead      atomic.Int64
	rowsCommitted atomic.Int64
	rowsFailed    atomic.Int64
	done          atomic.Bool
	aborted       atomic.Bool
}

// Snapshot is an immutable copy of Progress for API responses.
type Snapshot struct {
	RowsRead      int64 `json:"rows_read"`
	RowsCommitted int64 `json:"rows_committed"`
	RowsFailed    int64 `json:"rows_failed"`
	Done          bool  `json:"done"`
	Aborted       bool  `json:"aborted"`
}

func (p *Progress) Snapshot() Snapshot {
	return Snapshot{
		RowsRead:      p.rowsRead.Load(),
		RowsCommitted: p.rowsCommitted.Load(),
		RowsFailed:    p.rowsFailed.Load(),
		Done:          p.done.Load(),
		Aborted:       p.aborted.Load(),
	}
}

// Result is the final outcome of a completed Import call.
type Result struct {
	BatchID       string
	RowsRead      int
	RowsCommitted int
	RowsFailed    int
	Aborted       bool
	Errors        []RowError
}

// Pipeline streams rows from a CSV reader into the tenant-scoped store,
// committing every WindowSize rows in its own transaction so a mid-file
// failure only loses the current window, not the whole import.
type Pipeline struct {
	st             store.Store
	windowSize     int
	abortErrorRate float64
	// locale resolves ambiguous DD/MM vs MM/DD slash dates (spec §4.3). The
	// engine has no per-tenant locale directory (DESIGN.md open question
	// #3), so every tenant currently shares this one configured value.
	locale string
}

// New builds a Pipeline. windowSize, abortErrorRate, and locale come from
// config.Config (CSV_WINDOW_SIZE, CSV_ABORT_ERROR_RATE,
// DEFAULT_TENANT_LOCALE).
func New(st store.Store, windowSize int, abortErrorRate float64, locale string) *Pipeline {
	if windowSize <= 0 {
		windowSize = 500
	}
	if locale == "" {
		locale = "US"
	}
	return &Pipeline{st: st, windowSize: windowSize, abortErrorRate: abortErrorRate, locale: locale}
}

// Import streams r as RFC 4180 CSV, mapping columns per mapping, validating
// and normalizing each row per spec §4.3, and committing in windows. It
// aborts (stops reading further rows) once rowsFailed/rowsRead exceeds
// abortErrorRate after at least one full window has been processed. It
// blocks until the whole file has been read; StartImport runs the same
// logic in the background for callers (the API layer) that need to return a
// polling token immediately instead of blocking the request.
func (p *Pipeline) Import(ctx context.Context, tenantID models.TenantID, docType DocumentType, mapping ColumnMapping, source string, r io.Reader) (*Result, *Progress, error) {
	progress := &Progress{}
	result, err := p.run(ctx, tenantID, docType, mapping, source, r, progress)
	return result, progress, err
}

// StartImport launches Import in the background and returns a token
// immediately, mirroring the teacher's BlockScanner.ScanRange
// (internal/scanner/block_scanner.go): the caller polls RunStatus instead of
// blocking the request on a potentially large file. Unlike BlockScanner,
// which tracks a single current scan, multiple imports may run concurrently
// (one token per call), since tenants import independently of one another.
func (p *Pipeline) StartImport(ctx context.Context, tenantID models.TenantID, docType DocumentType, mapping ColumnMapping, source string, r io.Reader) string {
	token := uuid.NewString()
	progress := &Progress{}
	registerRun(token, progress)

	go func() {
		result, err := p.run(ctx, tenantID, docType, mapping, source, r, progress)
		completeRun(token, result, err)
	}()

	return token
}

// run is the shared streaming implementation behind Import and StartImport.
func (p *Pipeline) run(ctx context.Context, tenantID models.TenantID, docType DocumentType, mapping ColumnMapping, source string, r io.Reader, progress *Progress) (*Result, error) {
	decoded, err := transcodeToUTF8(r)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(decoded)
	headerLine, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, apperrors.Wrap(apperrors.KindIngestionFatal,
			"failed to read CSV header (row=0,column=0,byteOffset=0)", err)
	}
	if strings.TrimSpace(headerLine) == "" {
		return nil, apperrors.New(apperrors.KindIngestionFatal,
			"CSV file has no header row (row=0,column=0,byteOffset=0)")
	}

	delim, err := detectDelimiter(headerLine)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), br))
	reader.Comma = delim
	reader.FieldsPerRecord = -1 // tolerate ragged rows; validated per-field below

	header, err := reader.Read()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIngestionFatal, "failed to read CSV header", err)
	}
	colIndex := make(map[string]int, len(header))
	for i, h := range header {
		colIndex[strings.TrimSpace(h)] = i
	}
	for _, target := range mapping {
		if _, ok := colIndex[target]; !ok {
			return nil, apperrors.Validation("mapping", "unknown_column",
				fmt.Sprintf("CSV has no column %q required by the supplied mapping", target))
		}
	}

	batchID := uuid.NewString()
	result := &Result{BatchID: batchID}

	windowRows := make([]map[string]string, 0, p.windowSize)
	rowNum := 1 // header is row 0

	flush := func() error {
		if len(windowRows) == 0 {
			return nil
		}
		committed, failed, rowErrs := p.commitWindow(ctx, tenantID, docType, mapping, source, batchID, windowRows)
		progress.rowsCommitted.Add(int64(committed))
		progress.rowsFailed.Add(int64(failed))
		result.RowsCommitted += committed
		result.RowsFailed += failed
		result.Errors = append(result.Errors, rowErrs...)
		windowRows = windowRows[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = flush()
			if err := p.abort(tenantID, batchID, progress, result, "context canceled"); err != nil {
				return result, err
			}
			progress.done.Store(true)
			return result, ctx.Err()
		default:
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			progress.rowsFailed.Add(1)
			result.RowsFailed++
			result.Errors = append(result.Errors, RowError{RowNumber: rowNum, Field: "", Message: err.Error()})
			rowNum++
			continue
		}
		rowNum++
		progress.rowsRead.Add(1)
		result.RowsRead++

		row := make(map[string]string, len(header))
		for name, idx := range colIndex {
			if idx < len(record) {
				row[name] = strings.TrimSpace(record[idx])
			}
		}
		windowRows = append(windowRows, row)

		if len(windowRows) >= p.windowSize {
			if err := flush(); err != nil {
				return result, err
			}
			if p.shouldAbort(progress) {
				if err := p.abort(tenantID, batchID, progress, result, "error rate exceeded threshold after window commit"); err != nil {
					return result, err
				}
				break
			}
		}
	}

	if !result.Aborted {
		if err := flush(); err != nil {
			return result, err
		}
	}

	progress.done.Store(true)
	log.WithField("batch_id", batchID).
		WithField("rows_read", result.RowsRead).
		WithField("rows_committed", result.RowsCommitted).
		WithField("rows_failed", result.RowsFailed).
		WithField("aborted", result.Aborted).
		Info("CSV import finished")
	return result, nil
}

// importRun tracks one StartImport call for RunStatus polling. Entries are never
// evicted; a process-lifetime registry is acceptable here since import
// tokens are a handful per tenant per day, not a hot-path allocation.
type importRun struct {
	progress *Progress
	result   *Result
	err      error
	done     bool
}

var (
	runsMu sync.Mutex
	runs   = map[string]*importRun{}
)

func registerRun(token string, progress *Progress) {
	runsMu.Lock()
	defer runsMu.Unlock()
	runs[token] = &importRun{progress: progress}
}

func completeRun(token string, result *Result, err error) {
	runsMu.Lock()
	defer runsMu.Unlock()
	if r, ok := runs[token]; ok {
		r.result = result
		r.err = err
		r.done = true
	}
}

// RunStatus reports the live progress of a StartImport call, and its final
// Result once done is true. found is false if token is unknown.
func RunStatus(token string) (progress Snapshot, result *Result, err error, done bool, found bool) {
	runsMu.Lock()
	r, ok := runs[token]
	runsMu.Unlock()
	if !ok {
		return Snapshot{}, nil, nil, false, false
	}
	return r.progress.Snapshot(), r.result, r.err, r.done, true
}

// bomUTF8, bomUTF16LE, bomUTF16BE are the byte-order-mark signatures spec
// §4.3 requires the ingester to sniff before reading any CSV content.
var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// transcodeToUTF8 sniffs r's leading bytes for a UTF-8 or UTF-16 BOM and
// transcodes to UTF-8 via golang.org/x/text/encoding/unicode, per spec §4.3.
// A file with no recognizable BOM is assumed to already be UTF-8 (the common
// case for CSV exports), matching the reference decoder's same treatment of
// unmarked files.
func transcodeToUTF8(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	peek, _ := br.Peek(3)

	switch {
	case bytes.HasPrefix(peek, bomUTF8):
		if _, err := br.Discard(3); err != nil {
			return nil, apperrors.Wrap(apperrors.KindIngestionFatal,
				"failed to skip UTF-8 BOM (row=0,column=0,byteOffset=0)", err)
		}
		return br, nil
	case bytes.HasPrefix(peek, bomUTF16LE):
		if _, err := br.Discard(2); err != nil {
			return nil, apperrors.Wrap(apperrors.KindIngestionFatal,
				"failed to skip UTF-16LE BOM (row=0,column=0,byteOffset=0)", err)
		}
		dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		return transform.NewReader(br, dec), nil
	case bytes.HasPrefix(peek, bomUTF16BE):
		if _, err := br.Discard(2); err != nil {
			return nil, apperrors.Wrap(apperrors.KindIngestionFatal,
				"failed to skip UTF-16BE BOM (row=0,column=0,byteOffset=0)", err)
		}
		dec := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
		return transform.NewReader(br, dec), nil
	default:
		return br, nil
	}
}

// delimiterCandidates is the set spec §4.3 requires the ingester to
// auto-detect among by inspecting the header row.
var delimiterCandidates = []rune{',', '\t', '|'}

// detectDelimiter counts each candidate delimiter's occurrences in the
// (unparsed) header line and picks the most frequent one. A header with no
// candidate delimiter at all is treated as single-column and defaults to
// comma; a header where two or more candidates tie for the lead is rejected
// as ambiguous, per spec §4.3's "reject on ambiguity" requirement.
func detectDelimiter(headerLine string) (rune, error) {
	line := strings.TrimRight(headerLine, "\r\n")

	best := rune(',')
	bestCount := 0
	ambiguous := false
	for _, c := range delimiterCandidates {
		n := strings.Count(line, string(c))
		switch {
		case n > bestCount:
			best, bestCount, ambiguous = c, n, false
		case n == bestCount && n > 0:
			ambiguous = true
		}
	}
	if ambiguous {
		return 0, apperrors.New(apperrors.KindIngestionFatal,
			"cannot auto-detect CSV delimiter: header row is ambiguous among ',', tab, and '|'")
	}
	return best, nil
}

// shouldAbort implements spec §4.3's abort-on-error-rate rule: once at least
// one window has completed, if rowsFailed/rowsRead exceeds abortErrorRate the
// import stops reading further rows rather than continuing to burn through a
// systematically malformed file.
func (p *Pipeline) shouldAbort(progress *Progress) bool {
	read := progress.rowsRead.Load()
	if read == 0 {
		return false
	}
	failed := progress.rowsFailed.Load()
	return float64(failed)/float64(read) > p.abortErrorRate
}

// abort performs the batch-scoped compensating delete spec §4.3/§8 requires:
// once the running error rate trips (or the caller's context is canceled),
// every row already committed under batchID — across every prior window,
// regardless of which one committed it — is deleted, so an aborted import
// leaves zero persisted rows behind. It deliberately opens its own
// context.Background() session instead of reusing the caller's ctx, so the
// rollback can still complete even when ctx is the thing that was canceled.
func (p *Pipeline) abort(tenantID models.TenantID, batchID string, progress *Progress, result *Result, reason string) error {
	progress.aborted.Store(true)
	result.Aborted = true

	sess, err := p.st.Begin(context.Background(), tenantID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindIngestionFatal, "failed to open rollback transaction", err)
	}
	deleted, err := sess.Invoices().DeleteByImportBatch(context.Background(), batchID)
	if err != nil {
		_ = sess.Rollback(context.Background())
		return apperrors.Wrap(apperrors.KindIngestionFatal, "failed to roll back committed rows after abort", err)
	}
	if err := sess.Commit(context.Background()); err != nil {
		return apperrors.Wrap(apperrors.KindIngestionFatal, "failed to commit rollback of aborted batch", err)
	}

	result.RowsCommitted = 0
	progress.rowsCommitted.Store(0)
	result.Errors = append(result.Errors, RowError{
		Message: fmt.Sprintf("import aborted (%s): rolled back %d previously committed rows", reason, deleted),
	})
	log.WithField("batch_id", batchID).WithField("rows_deleted", deleted).Warn("import aborted; rolled back batch")
	return nil
}

// commitWindow opens one store transaction, validates and inserts every row
// in the window, and commits. A single row's validation failure does not
// abort the window; it is recorded and the row is skipped.
func (p *Pipeline) commitWindow(ctx context.Context, tenantID models.TenantID, docType DocumentType, mapping ColumnMapping, source, batchID string, rows []map[string]string) (committed, failed int, errs []RowError) {
	sess, err := p.st.Begin(ctx, tenantID)
	if err != nil {
		return 0, len(rows), []RowError{{Message: fmt.Sprintf("failed to open window transaction: %v", err)}}
	}

	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		fieldErr, dupKey, err := p.applyRow(ctx, sess, docType, mapping, source, batchID, row, seen)
		if fieldErr != nil {
			failed++
			errs = append(errs, *fieldErr)
			continue
		}
		if err != nil {
			failed++
			errs = append(errs, RowError{RowNumber: i, Message: err.Error()})
			continue
		}
		if dupKey != "" {
			seen[dupKey] = true
		}
		committed++
	}

	if err := sess.Commit(ctx); err != nil {
		_ = sess.Rollback(ctx)
		return 0, len(rows), []RowError{{Message: fmt.Sprintf("window commit failed: %v", err)}}
	}
	return committed, failed, errs
}

// applyRow normalizes and validates a single row and persists it, per spec
// §4.3. Returns a field-level RowError for validation failures (counted as
// "failed" but not fatal to the window) and a plain error only for
// infrastructure failures.
func (p *Pipeline) applyRow(ctx context.Context, sess store.Session, docType DocumentType, mapping ColumnMapping, source, batchID string, row map[string]string, seen map[string]bool) (*RowError, string, error) {
	switch docType {
	case DocInvoice:
		return p.applyInvoiceRow(ctx, sess, mapping, source, batchID, row, seen)
	default:
		return &RowError{Message: fmt.Sprintf("unsupported document type %q", docType)}, "", nil
	}
}

func (p *Pipeline) applyInvoiceRow(ctx context.Context, sess store.Session, mapping ColumnMapping, source, batchID string, row map[string]string, seen map[string]bool) (*RowError, string, error) {
	get := func(field string) string {
		col, ok := mapping[field]
		if !ok {
			return ""
		}
		return row[col]
	}

	invoiceNumber := get("invoice_number")
	if invoiceNumber == "" {
		return &RowError{Field: "invoice_number", Message: "invoice_number is required"}, "", nil
	}
	vendorName := get("vendor")
	if vendorName == "" {
		return &RowError{Field: "vendor", Message: "vendor is required"}, "", nil
	}

	dupKey := invoiceNumber + "|" + vendorName
	if seen[dupKey] {
		return &RowError{Field: "invoice_number", Message: "duplicate invoice_number+vendor within import batch"}, "", nil
	}

	total, err := moneydec.Parse(normalizeAmount(get("total_amount")))
	if err != nil {
		return &RowError{Field: "total_amount", Message: err.Error()}, "", nil
	}
	subtotal, err := moneydec.Parse(normalizeAmount(firstNonEmpty(get("subtotal"), get("total_amount"))))
	if err != nil {
		return &RowError{Field: "subtotal", Message: err.Error()}, "", nil
	}
	tax := moneydec.Zero
	if raw := get("tax_amount"); raw != "" {
		tax, err = moneydec.Parse(normalizeAmount(raw))
		if err != nil {
			return &RowError{Field: "tax_amount", Message: err.Error()}, "", nil
		}
	}

	invoiceDate, err := parseDate(get("invoice_date"), p.locale)
	if err != nil {
		return &RowError{Field: "invoice_date", Message: err.Error()}, "", nil
	}

	var dueDate *time.Time
	if raw := get("due_date"); raw != "" {
		d, err := parseDate(raw, p.locale)
		if err != nil {
			return &RowError{Field: "due_date", Message: err.Error()}, "", nil
		}
		if d.Before(invoiceDate) {
			return &RowError{Field: "due_date", Message: "due_date must be on or after invoice_date"}, "", nil
		}
		dueDate = &d
	}

	vendor, err := sess.Vendors().GetByNormalizedName(ctx, normalizeVendorName(vendorName))
	if err != nil {
		return nil, "", err
	}
	if vendor == nil {
		vendor = &models.Vendor{
			LegalName:      vendorName,
			DisplayName:    vendorName,
			NormalizedName: normalizeVendorName(vendorName),
		}
		if err := sess.Vendors().Create(ctx, vendor); err != nil {
			return nil, "", err
		}
	}

	existing, err := sess.Invoices().GetByBusinessKey(ctx, invoiceNumber, vendor.ID)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return &RowError{Field: "invoice_number", Message: "invoice already exists for this vendor (cross-batch duplicate)"}, "", nil
	}

	inv := &models.Invoice{
		InvoiceNumber:  invoiceNumber,
		VendorID:       vendor.ID,
		PONumber:       get("po_number"),
		Subtotal:       subtotal,
		TaxAmount:      tax,
		TotalAmount:    total,
		Currency:       strings.ToUpper(firstNonEmpty(get("currency"), "USD")),
		InvoiceDate:    invoiceDate,
		DueDate:        dueDate,
		Status:         models.InvoiceStatusPending,
		MatchingStatus: models.MatchingUnmatched,
		ImportSource:   source,
		ImportBatchID:  batchID,
		RawRow:         row,
	}
	if err := inv.ValidateInvariants(); err != nil {
		return &RowError{Field: "total_amount", Message: err.Error()}, "", nil
	}
	if err := sess.Invoices().Create(ctx, inv); err != nil {
		return nil, "", err
	}
	return nil, dupKey, nil
}

// normalizeAmount strips thousands separators and currency symbols per spec
// §4.3's amount normalization rule.
func normalizeAmount(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	return s
}

// normalizeVendorName folds case/whitespace for duplicate vendor detection.
// This is a distinct, purely comparative transform from the persisted
// Vendor.NormalizedName contract documented in pkg/models/vendor.go — it
// exists only to key an in-batch lookup, not to produce canonical output.
func normalizeVendorName(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseDate accepts the date layouts spec §4.3 requires the ingester to
// recognize (ISO 8601, dotted ISO, and locale-ordered slash dates). Ambiguous
// slash dates (e.g. "03/04/2026") are resolved MM/DD-first for locale "US"
// and DD/MM-first for "EU"; the locale is the Pipeline-wide value passed to
// New (config DefaultTenantLocale), not a per-tenant setting.
func parseDate(s, locale string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	layouts := []string{"2006-01-02", "2006.01.02"}
	if locale == "EU" {
		layouts = append(layouts, "02/01/2006", "2/1/2006")
	} else {
		layouts = append(layouts, "01/02/2006", "1/2/2006")
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", s)
}

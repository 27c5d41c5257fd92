package models

// Opaque surrogate identifiers. Kept as distinct string types (rather than a
// single bare string everywhere) so a PO id can never be passed where an
// Invoice id is expected without the compiler flagging it.
type (
	InvoiceID        string
	PurchaseOrderID  string
	ReceiptID        string
	VendorID         string
	MatchResultID    string
	AuditEventID     string
	ExceptionID      string
	ToleranceID      string
	TenantID         string
)

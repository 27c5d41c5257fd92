// Package tenant carries the explicit per-request context threaded through
// every call in the engine, replacing the framework-managed request-locals
// common in the source material (spec DESIGN NOTES §9).
package tenant

import (
	"context"
	"time"
)

// ID identifies a tenant. Opaque outside of the store.
type ID string

// RequestContext is threaded explicitly through every component call. The
// store's Begin(tenantID) is the sole gate that establishes tenancy on a
// connection; every other component receives tenancy only via this struct,
// never by inferring it from ambient state.
type RequestContext struct {
	TenantID      ID
	UserID        string
	Role          string
	CorrelationID string
	Deadline      time.Time
	Cancel        context.CancelFunc
}

type ctxKey struct{}

// WithContext attaches rc to a context.Context's Value bag purely for
// propagation through layers that only accept a context.Context (e.g. pgx
// calls); business logic should still receive *RequestContext explicitly as
// a parameter wherever practical rather than recovering it implicitly.
func WithContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext recovers a previously attached RequestContext, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return rc, ok
}

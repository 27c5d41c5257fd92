package matching

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// BatchProgress is emitted at invoice boundaries during MatchBatch (§4.4.6).
type BatchProgress struct {
	InvoiceID models.InvoiceID
	Completed int
	Total     int
	Err       error
}

// MatchBatch implements §4.4.6: match every invoice in invoiceIDs under a
// bounded worker pool, each invoice committing in its own short
// transaction so a failure on one invoice never rolls back another's. The
// returned channel is closed once every invoice has been attempted.
func (e *Engine) MatchBatch(ctx context.Context, tenantID models.TenantID, invoiceIDs []models.InvoiceID, parallelism int, actor string) <-chan BatchProgress {
	if parallelism <= 0 {
		parallelism = 4
	}
	progress := make(chan BatchProgress, len(invoiceIDs))

	go func() {
		defer close(progress)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism)

		completed := 0
		for _, id := range invoiceIDs {
			id := id
			g.Go(func() error {
				err := e.matchOneForBatch(gctx, tenantID, id, actor)
				completed++
				progress <- BatchProgress{InvoiceID: id, Completed: completed, Total: len(invoiceIDs), Err: err}
				return nil // a per-invoice failure never aborts the group
			})
		}
		_ = g.Wait()
	}()

	return progress
}

// matchOneForBatch opens its own session (and therefore its own short
// transaction) per invoice, per §4.4.6 and §5's per-invoice transaction
// boundary rule.
func (e *Engine) matchOneForBatch(ctx context.Context, tenantID models.TenantID, invoiceID models.InvoiceID, actor string) error {
	sess, err := e.st.Begin(ctx, tenantID)
	if err != nil {
		return err
	}

	if _, err := e.MatchInvoice(ctx, sess, invoiceID, nil, actor); err != nil {
		_ = sess.Rollback(ctx)
		return err
	}
	return sess.Commit(ctx)
}

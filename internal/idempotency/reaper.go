package idempotency

import (
	"context"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// ReaperLoop runs Reap every interval until ctx is cancelled, mirroring the
// teacher's rate-limiter cleanupLoop (internal/api/ratelimit.go): a ticker
// goroutine that sweeps stale state so it never grows unbounded.
func ReaperLoop(ctx context.Context, st store.Store, tenants func(ctx context.Context) ([]models.TenantID, error), interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reapOnce(ctx, st, tenants)
		}
	}
}

func reapOnce(ctx context.Context, st store.Store, tenants func(ctx context.Context) ([]models.TenantID, error)) {
	ids, err := tenants(ctx)
	if err != nil {
		log.WithError(err).Warn("idempotency reap: failed to list tenants")
		return
	}
	cutoff := time.Now()
	for _, tenantID := range ids {
		sess, err := st.Begin(ctx, tenantID)
		if err != nil {
			log.WithError(err).WithField("tenant_id", tenantID).Warn("idempotency reap: begin failed")
			continue
		}
		n, err := Reap(ctx, sess, cutoff)
		if err != nil {
			log.WithError(err).WithField("tenant_id", tenantID).Warn("idempotency reap: sweep failed")
			_ = sess.Rollback(ctx)
			continue
		}
		if err := sess.Commit(ctx); err != nil {
			log.WithError(err).WithField("tenant_id", tenantID).Warn("idempotency reap: commit failed")
			continue
		}
		if n > 0 {
			log.WithField("tenant_id", tenantID).WithField("reaped", n).Info("idempotency records reaped")
		}
	}
}

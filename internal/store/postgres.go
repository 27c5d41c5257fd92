package store

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/logging"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

// PostgresStore is the production Store implementation, grounded on the
// teacher's internal/db/postgres.go: a single pgxpool.Pool, explicit
// Connect/Close, and schema bootstrap from a checked-in schema.sql.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect opens the pool and verifies connectivity with a Ping, exactly as
// the teacher's db.Connect does.
func Connect(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	logging.Component("store").Info("connected to PostgreSQL")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes schema.sql, mirroring the teacher's
// InitSchema (os.ReadFile + single Exec of the whole file).
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schemaBytes, err := os.ReadFile("internal/store/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	logging.Component("store").Info("reconciliation schema initialized")
	return nil
}

// Begin acquires a pooled connection, opens a transaction, and pins the
// session's tenant via SET LOCAL so row-level security on every statement
// issued through this Session is enforced by Postgres itself.
func (s *PostgresStore) Begin(ctx context.Context, tenantID models.TenantID) (Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.Transient(err)
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('app.current_tenant', $1, true)", string(tenantID)); err != nil {
		_ = tx.Rollback(ctx)
		return nil, apperrors.Internal(fmt.Errorf("failed to pin tenant: %w", err))
	}
	return &pgSession{tx: tx, tenantID: tenantID}, nil
}

// pgSession implements Session over a single pgx.Tx. Every repository it
// hands out shares the same transaction and tenant pin, per spec §5 ("per
// invoice, short" transactions — callers are expected to Begin/Commit
// around a small unit of work, never hold a session across many).
type pgSession struct {
	tx       pgx.Tx
	tenantID models.TenantID
}

func (s *pgSession) TenantID() models.TenantID { return s.tenantID }

func (s *pgSession) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return apperrors.Transient(err)
	}
	return nil
}

func (s *pgSession) Rollback(ctx context.Context) error {
	if err := s.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return apperrors.Transient(err)
	}
	return nil
}

func (s *pgSession) Invoices() InvoiceRepo             { return &pgInvoiceRepo{s} }
func (s *pgSession) PurchaseOrders() PurchaseOrderRepo  { return &pgPurchaseOrderRepo{s} }
func (s *pgSession) Receipts() ReceiptRepo              { return &pgReceiptRepo{s} }
func (s *pgSession) Vendors() VendorRepo                { return &pgVendorRepo{s} }
func (s *pgSession) MatchResults() MatchResultRepo       { return &pgMatchResultRepo{s} }
func (s *pgSession) MatchAuditEvents() AuditEventRepo     { return &pgAuditEventRepo{s} }
func (s *pgSession) Tolerances() ToleranceRepo           { return &pgToleranceRepo{s} }
func (s *pgSession) ExceptionEntries() ExceptionRepo      { return &pgExceptionRepo{s} }
func (s *pgSession) IdempotencyRecords() IdempotencyRepo  { return &pgIdempotencyRepo{s} }

// Command apengine runs the accounts-payable 3-way-matching reconciliation
// engine's HTTP API, wiring the store, matching engine, exception queue,
// idempotency registry, CSV ingestion pipeline, and tolerance resolver onto
// a single Gin router (mirroring the teacher's cmd/engine/main.go wiring
// shape: load config, connect the store, build every component, start
// background loops, serve).
package main

import (
	"context"
	"strings"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/api"
	"github.com/rawblock/ap-reconcile-engine/internal/config"
	"github.com/rawblock/ap-reconcile-engine/internal/exceptions"
	"github.com/rawblock/ap-reconcile-engine/internal/idempotency"
	"github.com/rawblock/ap-reconcile-engine/internal/ingest"
	"github.com/rawblock/ap-reconcile-engine/internal/logging"
	"github.com/rawblock/ap-reconcile-engine/internal/matching"
	"github.com/rawblock/ap-reconcile-engine/internal/rules"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

var log = logging.Component("main")

func main() {
	log.Info("starting accounts-payable reconciliation engine")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to Postgres")
	}
	defer st.Close()

	if err := st.InitSchema(ctx); err != nil {
		log.WithError(err).Fatal("failed to initialize schema")
	}

	resolver := rules.New(st, time.Duration(cfg.RuleCacheTTLSeconds)*time.Second)
	matcher := matching.New(st, resolver)
	excQueue := exceptions.New(st)
	idemReg := idempotency.New(time.Duration(cfg.IdempotencyTTLHours) * time.Hour)
	pipeline := ingest.New(st, cfg.CSVWindowSize, cfg.CSVAbortErrorRate, cfg.DefaultTenantLocale)

	hub := api.NewHub()
	go hub.Run()

	go idempotency.ReaperLoop(ctx, st, knownTenants(cfg.KnownTenantIDs), time.Hour)

	r := api.SetupRouter(api.RouterConfig{
		Store:          st,
		Matcher:        matcher,
		Exceptions:     excQueue,
		Idempotency:    idemReg,
		Ingest:         pipeline,
		Resolver:       resolver,
		Hub:            hub,
		APIAuthToken:   cfg.APIAuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	log.WithField("port", cfg.Port).Info("engine listening")
	if err := r.Run(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

// knownTenants adapts the config-supplied comma-separated tenant list into
// the callback idempotency.ReaperLoop sweeps on each tick.
func knownTenants(raw string) func(ctx context.Context) ([]models.TenantID, error) {
	var ids []models.TenantID
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, models.TenantID(id))
		}
	}
	return func(ctx context.Context) ([]models.TenantID, error) {
		return ids, nil
	}
}

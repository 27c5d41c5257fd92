// Package config loads process configuration from environment variables in
// the teacher's requireEnv/getEnvOrDefault idiom (cmd/engine/main.go),
// generalized into a single typed struct instead of scattered ad-hoc calls.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every environment-derived setting the engine needs at boot.
type Config struct {
	DatabaseURL   string
	Port          string
	APIAuthToken  string // empty disables auth (dev mode), mirrors teacher's AuthMiddleware
	AllowedOrigins string
	// KnownTenantIDs seeds the idempotency reaper's tenant sweep. A
	// comma-separated list kept simple on purpose: the engine has no
	// tenant-directory service of its own (spec §9 Open Question), so the
	// reaper is told which tenants exist rather than discovering them.
	KnownTenantIDs string

	CSVWindowSize         int
	CSVAbortErrorRate     float64
	IdempotencyTTLHours   int
	MatchParallelism      int
	RuleCacheTTLSeconds   int
	DefaultTenantLocale   string // "US" or "EU", spec §9 open question default
	OverDeliveryTolerance float64
}

// Load reads the process environment and fails loudly (returns an error
// rather than silently defaulting) for anything security- or
// correctness-critical, mirroring requireEnv's fail-fast stance.
func Load() (*Config, error) {
	dbURL, err := requireEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}

	windowSize, err := intOrDefault("CSV_WINDOW_SIZE", 500)
	if err != nil {
		return nil, err
	}
	abortRate, err := floatOrDefault("CSV_ABORT_ERROR_RATE", 0.10)
	if err != nil {
		return nil, err
	}
	ttlHours, err := intOrDefault("IDEMPOTENCY_TTL_HOURS", 24)
	if err != nil {
		return nil, err
	}
	parallelism, err := intOrDefault("MATCH_PARALLELISM", 4)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := intOrDefault("RULE_CACHE_TTL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	overDelivery, err := floatOrDefault("OVER_DELIVERY_TOLERANCE_PCT", 0.0)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL:           dbURL,
		Port:                  getEnvOrDefault("PORT", "8080"),
		APIAuthToken:          os.Getenv("API_AUTH_TOKEN"),
		AllowedOrigins:        os.Getenv("ALLOWED_ORIGINS"),
		KnownTenantIDs:        os.Getenv("KNOWN_TENANT_IDS"),
		CSVWindowSize:         windowSize,
		CSVAbortErrorRate:     abortRate,
		IdempotencyTTLHours:   ttlHours,
		MatchParallelism:      parallelism,
		RuleCacheTTLSeconds:   cacheTTL,
		DefaultTenantLocale:   getEnvOrDefault("DEFAULT_TENANT_LOCALE", "US"),
		OverDeliveryTolerance: overDelivery,
	}, nil
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return val, nil
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func intOrDefault(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid int for %s: %w", key, err)
	}
	return n, nil
}

func floatOrDefault(key string, fallback float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float for %s: %w", key, err)
	}
	return f, nil
}

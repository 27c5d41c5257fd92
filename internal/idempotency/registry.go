// Package idempotency implements the at-most-once mutation registry (C2,
// spec §4.2): every mutating request carries a caller-supplied key, and a
// replay of the same key with the same request body returns the original
// response instead of re-executing the mutation.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/logging"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

var log = logging.Component("idempotency")

// Outcome tells the caller what to do with a claim attempt.
type Outcome int

const (
	// Fresh means no prior record existed; the caller should execute the
	// mutation and then call Complete with the result.
	Fresh Outcome = iota
	// Replay means an identical request (same fingerprint) already
	// completed; the caller should return the stored response verbatim.
	Replay
	// Conflict means the same key was reused with a different request body;
	// this is a client error, never silently resolved.
	Conflict
)

// ClaimResult is what Claim returns.
type ClaimResult struct {
	Outcome  Outcome
	Status   int
	Body     []byte
}

// Registry wraps a store.Session's IdempotencyRepo with fingerprinting.
type Registry struct {
	ttl time.Duration
}

// New builds a Registry whose records expire after ttl, per spec §4.2
// (default 24h, configurable via IDEMPOTENCY_TTL_HOURS).
func New(ttl time.Duration) *Registry {
	return &Registry{ttl: ttl}
}

// Fingerprint computes the canonical-JSON SHA-256 digest of a request body
// (spec §4.2): keys are sorted before marshaling so that two JSON payloads
// carrying the same logical content always hash identically regardless of
// field order or incidental whitespace.
func Fingerprint(v any) (string, error) {
	canon, err := canonicalize(v)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindValidationFailed, "unable to canonicalize idempotency payload", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize round-trips v through encoding/json into a generic value tree
// and re-marshals maps with sorted keys, giving a stable byte representation
// regardless of struct field order or map iteration order.
func canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := marshalSorted(t[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	case []any:
		out := []byte{'['}
		for i, e := range t {
			if i > 0 {
				out = append(out, ',')
			}
			eb, err := marshalSorted(e)
			if err != nil {
				return nil, err
			}
			out = append(out, eb...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(t)
	}
}

// Claim attempts to claim key for tenantID with the given request
// fingerprint. It never mutates any domain table; it only reserves the key
// so the caller can proceed to execute its mutation exactly once.
func (r *Registry) Claim(ctx context.Context, sess store.Session, tenantID models.TenantID, key, fingerprint string) (ClaimResult, error) {
	if key == "" {
		return ClaimResult{}, apperrors.New(apperrors.KindIdempotencyKeyMissing, "Idempotency-Key header is required")
	}

	rec, err := sess.IdempotencyRecords().ClaimFresh(ctx, &models.IdempotencyRecord{
		Key:         key,
		TenantID:    tenantID,
		Fingerprint: fingerprint,
		TTL:         r.ttl,
	})
	if err != nil {
		return ClaimResult{}, err
	}

	if rec.Fingerprint != fingerprint {
		return ClaimResult{Outcome: Conflict}, apperrors.New(apperrors.KindIdempotencyConflict,
			"Idempotency-Key was already used with a different request body")
	}

	if rec.ResponseStatus == 0 {
		// This call made the fresh claim (or a concurrent claimant has not
		// yet completed it); treat as fresh, caller executes the mutation.
		return ClaimResult{Outcome: Fresh}, nil
	}

	log.WithField("key", key).Debug("idempotency replay")
	return ClaimResult{Outcome: Replay, Status: rec.ResponseStatus, Body: rec.ResponseBody}, nil
}

// Complete records the outcome of a freshly-executed mutation so future
// replays of the same key return it verbatim.
func (r *Registry) Complete(ctx context.Context, sess store.Session, tenantID models.TenantID, key string, status int, body []byte) error {
	return sess.IdempotencyRecords().Complete(ctx, key, tenantID, status, body)
}

// Reap deletes expired records, mirroring the teacher's rate limiter
// cleanupLoop ticker pattern (internal/api/ratelimit.go) generalized from an
// in-memory map to a store-backed sweep.
func Reap(ctx context.Context, sess store.Session, before time.Time) (int, error) {
	return sess.IdempotencyRecords().ReapExpired(ctx, before)
}

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/idempotency"
	"github.com/rawblock/ap-reconcile-engine/internal/logging"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
	"github.com/rawblock/ap-reconcile-engine/internal/tenant"
	"github.com/rawblock/ap-reconcile-engine/pkg/models"
)

var apiLog = logging.Component("api")

const (
	requestContextKey = "rc"
	sessionKey        = "sess"
	idempotencyKeyCtx = "idem_key"
)

// requestContext recovers the tenant.RequestContext established by
// AuthMiddleware.
func requestContext(c *gin.Context) (*tenant.RequestContext, bool) {
	v, ok := c.Get(requestContextKey)
	if !ok {
		return nil, false
	}
	rc, ok := v.(*tenant.RequestContext)
	return rc, ok
}

func mustTenantID(c *gin.Context) models.TenantID {
	rc, _ := requestContext(c)
	return models.TenantID(rc.TenantID)
}

// session recovers the store.Session an idempotency-aware mutating handler
// must use for its business writes, opened by idempotencyMiddleware. GET
// handlers that never went through that middleware open their own
// short-lived session via beginReadSession.
func session(c *gin.Context) store.Session {
	v, _ := c.Get(sessionKey)
	sess, _ := v.(store.Session)
	return sess
}

// beginReadSession opens a session for a read-only (list/get) handler. It
// is always rolled back since no writes occur within it.
func beginReadSession(c *gin.Context, st store.Store) (store.Session, bool) {
	sess, err := st.Begin(c.Request.Context(), mustTenantID(c))
	if err != nil {
		c.Error(apperrors.Internal(err))
		return nil, false
	}
	c.Set(sessionKey, sess)
	return sess, true
}

func endReadSession(c *gin.Context, sess store.Session) {
	_ = sess.Rollback(c.Request.Context())
}

// isMutating reports whether method requires an Idempotency-Key per
// spec.md §6.
func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}

// idempotencyMiddleware implements the C2 contract at the HTTP boundary:
// it claims the caller's Idempotency-Key inside the same store.Session the
// handler goes on to use for its business mutation, so Complete and the
// mutation commit atomically together. A replayed key short-circuits with
// the stored response; a conflicting key renders idempotency_conflict;
// a fresh key hands the open session to the handler via the Gin context.
func idempotencyMiddleware(reg *idempotency.Registry, st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isMutating(c.Request.Method) {
			c.Next()
			return
		}

		tenantID := mustTenantID(c)
		key := c.GetHeader("Idempotency-Key")

		var fingerprintOf any
		if c.Request.Body != nil {
			raw, err := io.ReadAll(c.Request.Body)
			if err != nil {
				c.Error(apperrors.Wrap(apperrors.KindValidationFailed, "unable to read request body", err))
				c.Abort()
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &fingerprintOf); err != nil {
					if c.ContentType() == "application/json" {
						c.Error(apperrors.Validation("body", "invalid_json", "request body must be valid JSON"))
						c.Abort()
						return
					}
					// Non-JSON bodies (e.g. multipart uploads) are fingerprinted byte-for-byte.
					fingerprintOf = string(raw)
				}
			}
		}

		fingerprint, err := idempotency.Fingerprint(map[string]any{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"body":   fingerprintOf,
		})
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}

		sess, err := st.Begin(c.Request.Context(), tenantID)
		if err != nil {
			c.Error(apperrors.Internal(err))
			c.Abort()
			return
		}

		result, err := reg.Claim(c.Request.Context(), sess, tenantID, key, fingerprint)
		if err != nil {
			_ = sess.Rollback(c.Request.Context())
			c.Error(err)
			c.Abort()
			return
		}

		switch result.Outcome {
		case idempotency.Replay:
			_ = sess.Rollback(c.Request.Context())
			c.Header("Content-Type", "application/json")
			c.Data(result.Status, "application/json", result.Body)
			c.Abort()
		case idempotency.Fresh:
			c.Set(sessionKey, sess)
			c.Set(idempotencyKeyCtx, key)
			c.Next()
		}
	}
}

// respond marshals payload, completes the idempotency claim (if this was a
// mutating request) against the same session the handler wrote with, and
// commits. Call this on every success path of a mutating handler instead
// of c.JSON directly.
func (h *APIHandler) respond(c *gin.Context, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		h.fail(c, apperrors.Internal(err))
		return
	}

	if sess := session(c); sess != nil {
		if key, ok := c.Get(idempotencyKeyCtx); ok {
			if err := h.idempotency.Complete(c.Request.Context(), sess, mustTenantID(c), key.(string), status, body); err != nil {
				h.fail(c, err)
				return
			}
		}
		if err := sess.Commit(c.Request.Context()); err != nil {
			c.Error(apperrors.Internal(err))
			return
		}
	}

	c.Data(status, "application/json", body)
}

// fail rolls back the handler's session (if any) and renders err as
// Problem Details.
func (h *APIHandler) fail(c *gin.Context, err error) {
	if sess := session(c); sess != nil {
		_ = sess.Rollback(c.Request.Context())
	}
	c.Error(err)
}

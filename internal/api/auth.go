package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
	"github.com/rawblock/ap-reconcile-engine/internal/logging"
	"github.com/rawblock/ap-reconcile-engine/internal/tenant"
)

// ──────────────────────────────────────────────────────────────────
// Bearer Token Authentication Middleware
//
// AuthMiddleware stands in for the external authentication subsystem named
// in spec.md §6: the core trusts whatever identity this middleware
// establishes and never handles credentials itself. In a full deployment a
// real identity provider would issue and verify these headers upstream of
// the engine; here the bearer token gates the request the way the
// teacher's AuthMiddleware does, and the already-verified
// tenant/user/role are read off the headers the authentication subsystem
// is contracted to set.
// ──────────────────────────────────────────────────────────────────

const (
	headerTenantID      = "X-Tenant-ID"
	headerUserID        = "X-User-ID"
	headerRole          = "X-User-Role"
	headerCorrelationID = "X-Correlation-ID"
)

var authLog = logging.Component("api.auth")

// AuthMiddleware returns a Gin middleware that validates the bearer token
// (when apiAuthToken is non-empty) and establishes a tenant.RequestContext
// from the identity headers for every downstream handler.
func AuthMiddleware(apiAuthToken string) gin.HandlerFunc {
	if apiAuthToken == "" {
		authLog.Warn("API_AUTH_TOKEN is not set; all protected endpoints are unauthenticated")
	}

	return func(c *gin.Context) {
		if apiAuthToken != "" {
			auth := c.GetHeader("Authorization")
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				renderError(c, apperrors.New(apperrors.KindValidationFailed, "missing or malformed Authorization header"))
				c.Abort()
				return
			}
			if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(apiAuthToken)) != 1 {
				c.JSON(http.StatusForbidden, gin.H{"error": "invalid or expired token"})
				c.Abort()
				return
			}
		}

		tenantID := c.GetHeader(headerTenantID)
		if tenantID == "" {
			renderError(c, apperrors.New(apperrors.KindValidationFailed, headerTenantID+" header is required"))
			c.Abort()
			return
		}

		correlationID := c.GetHeader(headerCorrelationID)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		rc := &tenant.RequestContext{
			TenantID:      tenant.ID(tenantID),
			UserID:        c.GetHeader(headerUserID),
			Role:          c.GetHeader(headerRole),
			CorrelationID: correlationID,
		}
		c.Set(requestContextKey, rc)
		c.Request = c.Request.WithContext(tenant.WithContext(c.Request.Context(), rc))
		c.Writer.Header().Set(headerCorrelationID, correlationID)

		c.Next()
	}
}

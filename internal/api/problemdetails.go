package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/apperrors"
)

// problemDetails is the RFC 9457 payload shape required by spec.md §6/§7:
// type/title/status/detail/instance plus the correlation_id and errors[]
// extension fields.
type problemDetails struct {
	Type          string                  `json:"type"`
	Title         string                  `json:"title"`
	Status        int                     `json:"status"`
	Detail        string                  `json:"detail"`
	Instance      string                  `json:"instance"`
	CorrelationID string                  `json:"correlation_id,omitempty"`
	Errors        []apperrors.FieldError  `json:"errors,omitempty"`
}

// renderError writes err as an RFC 9457 Problem Details response and
// aborts the Gin context. Any error that is not an *apperrors.Error is
// treated as an unexpected internal failure (spec §7: "never leak internal
// details").
func renderError(c *gin.Context, err error) {
	appErr, ok := err.(*apperrors.Error)
	if !ok {
		appErr = apperrors.Internal(err)
	}

	correlationID := ""
	if rc, ok := requestContext(c); ok {
		correlationID = rc.CorrelationID
	}

	pd := problemDetails{
		Type:          appErr.TypeURI(),
		Title:         string(appErr.Kind),
		Status:        appErr.HTTPStatus(),
		Detail:        appErr.Message,
		Instance:      c.Request.URL.Path,
		CorrelationID: correlationID,
		Errors:        appErr.Fields,
	}

	if appErr.Kind == apperrors.KindTenantViolation || appErr.Kind == apperrors.KindInternal {
		apiLog.WithField("correlation_id", correlationID).WithError(err).Error("request failed")
	}

	c.Header("Content-Type", "application/problem+json")
	c.JSON(pd.Status, pd)
}

// problemDetailsMiddleware converts any error attached via c.Error during
// the request (by a handler that returned early without writing a
// response itself) into the RFC 9457 envelope, so individual handlers can
// simply do `c.Error(err); return` on a failure path.
func problemDetailsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		if len(c.Errors) == 0 {
			return
		}
		renderError(c, c.Errors.Last().Err)
	}
}

// notFoundHandler answers unmapped routes with a Problem Details 404
// instead of Gin's bare-text default.
func notFoundHandler(c *gin.Context) {
	c.Header("Content-Type", "application/problem+json")
	c.JSON(http.StatusNotFound, problemDetails{
		Type:     "https://apengine.internal/errors/not_found",
		Title:    "not_found",
		Status:   http.StatusNotFound,
		Detail:   "no route matches " + c.Request.Method + " " + c.Request.URL.Path,
		Instance: c.Request.URL.Path,
	})
}

package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/exceptions"
	"github.com/rawblock/ap-reconcile-engine/internal/idempotency"
	"github.com/rawblock/ap-reconcile-engine/internal/ingest"
	"github.com/rawblock/ap-reconcile-engine/internal/matching"
	"github.com/rawblock/ap-reconcile-engine/internal/rules"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
)

// APIHandler wires every component (C1-C6) onto the HTTP surface named in
// spec.md §6.
type APIHandler struct {
	store       store.Store
	matcher     *matching.Engine
	exceptions  *exceptions.Queue
	idempotency *idempotency.Registry
	ingest      *ingest.Pipeline
	resolver    *rules.Resolver
	hub         *Hub

	apiAuthToken   string
	allowedOrigins string
}

// RouterConfig names every component dependency and environment-derived
// setting SetupRouter needs, mirroring the teacher's SetupRouter parameter
// list generalized to this domain's component set.
type RouterConfig struct {
	Store          store.Store
	Matcher        *matching.Engine
	Exceptions     *exceptions.Queue
	Idempotency    *idempotency.Registry
	Ingest         *ingest.Pipeline
	Resolver       *rules.Resolver
	Hub            *Hub
	APIAuthToken   string
	AllowedOrigins string
}

// SetupRouter builds the Gin engine: a CORS/problem-details layer applied
// to every route, a public group (health check, event stream), and a
// bearer-token-plus-idempotency-protected group for every mutating and
// read resource named in spec.md §6.
func SetupRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(problemDetailsMiddleware())
	r.Use(corsMiddleware(cfg.AllowedOrigins))
	r.NoRoute(notFoundHandler)

	h := &APIHandler{
		store:          cfg.Store,
		matcher:        cfg.Matcher,
		exceptions:     cfg.Exceptions,
		idempotency:    cfg.Idempotency,
		ingest:         cfg.Ingest,
		resolver:       cfg.Resolver,
		hub:            cfg.Hub,
		apiAuthToken:   cfg.APIAuthToken,
		allowedOrigins: cfg.AllowedOrigins,
	}

	pub := r.Group("/api/v1")
	{
		pub.GET("/health", h.handleHealth)
		pub.GET("/stream", cfg.Hub.Subscribe)
	}

	protected := r.Group("/api/v1")
	protected.Use(AuthMiddleware(cfg.APIAuthToken))
	protected.Use(idempotencyMiddleware(cfg.Idempotency, cfg.Store))
	{
		inv := protected.Group("/invoices")
		inv.GET("", h.handleListInvoices)
		inv.GET("/:id", h.handleGetInvoice)
		inv.POST("", h.handleCreateInvoice)
		inv.PUT("/:id/status", h.handleUpdateInvoiceStatus)

		po := protected.Group("/purchase-orders")
		po.GET("", h.handleListPurchaseOrders)
		po.GET("/:id", h.handleGetPurchaseOrder)
		po.POST("", h.handleCreatePurchaseOrder)
		po.PUT("/:id/status", h.handleUpdatePurchaseOrderStatus)

		rc := protected.Group("/receipts")
		rc.GET("/:id", h.handleGetReceipt)
		rc.POST("", h.handleCreateReceipt)

		ven := protected.Group("/vendors")
		ven.GET("", h.handleListVendors)
		ven.GET("/:id", h.handleGetVendor)
		ven.POST("", h.handleCreateVendor)

		mat := protected.Group("/matches")
		mat.GET("/:id", h.handleGetMatch)
		mat.POST("/run", NewRateLimiter(30, 5).Middleware(), h.handleRunMatch)
		mat.POST("/:id/approve", h.handleApproveMatch)
		mat.POST("/:id/reject", h.handleRejectMatch)

		exc := protected.Group("/exceptions")
		exc.GET("", h.handleListExceptions)
		exc.GET("/:id", h.handleGetException)
		exc.POST("/:id/claim", h.handleClaimException)
		exc.POST("/:id/decide", h.handleDecideException)

		tol := protected.Group("/tolerances")
		tol.GET("", h.handleListTolerances)
		tol.PUT("", h.handleUpsertTolerance)

		imp := protected.Group("/imports")
		imp.POST("", NewRateLimiter(30, 5).Middleware(), h.handleStartImport)
		imp.GET("/:token", h.handleImportStatus)
	}

	return r
}

// corsMiddleware mirrors the teacher's ALLOWED_ORIGINS-driven CORS layer
// (internal/api/routes.go in the original), generalized into its own
// middleware function instead of an inline closure.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Authorization, Idempotency-Key, X-Tenant-ID, X-User-ID, X-User-Role, X-Correlation-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// handleHealth reports engine status for service discovery.
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "ap-reconcile-engine",
	})
}

// Package httpapi is the HTTP ingress of the server: the payment
// notification endpoint called by the trusted verifier, the payment-page
// ledger endpoint, entry actions for users and administrators, and the
// Prometheus and health endpoints.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/logging"
	"github.com/dmitrijs2005/entryledger/internal/server/metrics"
	"github.com/dmitrijs2005/entryledger/internal/server/services"
	"github.com/gin-gonic/gin"
)

type Server struct {
	address string
	router  *gin.Engine
	logger  logging.Logger

	entries *services.EntryService
	ledger  *services.LedgerService
	webhook *services.WebhookProcessor
	dir     *services.Directory
	metrics *metrics.Collector

	jwtSecret []byte
}

// Options carries the collaborators of a Server.
type Options struct {
	Address   string
	Logger    logging.Logger
	Entries   *services.EntryService
	Ledger    *services.LedgerService
	Webhook   *services.WebhookProcessor
	Metrics   *metrics.Collector
	Directory *services.Directory
	JWTSecret string
}

func NewServer(o Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		address:   o.Address,
		router:    gin.New(),
		logger:    o.Logger.With("module", "http_server"),
		entries:   o.Entries,
		ledger:    o.Ledger,
		webhook:   o.Webhook,
		dir:       o.Directory,
		metrics:   o.Metrics,
		jwtSecret: []byte(o.JWTSecret),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(gin.Recovery(), s.accessLog)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	r.POST("/ipn", s.requireRole(roleVerifier), s.handleNotification)

	r.POST("/entries/:ref/payments/:type", s.requireRole(rolePaymentPage, roleUser, roleAdmin), s.handlePaymentPage)

	entries := r.Group("/entries", s.requireRole(roleUser, roleAdmin))
	{
		entries.GET("", s.handleListEntries)
		entries.POST("", s.handleCreateEntry)
		entries.GET("/:ref", s.handleGetEntry)
		entries.PATCH("/:ref", s.handleUpdateEntry)
		entries.DELETE("/:ref", s.handleDeleteEntry)
		entries.POST("/:ref/submit", s.handleSubmit)
		entries.POST("/:ref/confirm", s.handleConfirm)
		entries.POST("/:ref/withdraw", s.handleWithdraw)
	}

	admin := r.Group("/admin/entries", s.requireRole(roleAdmin))
	{
		admin.POST("/:ref/decision", s.handleDecision)
		admin.POST("/:ref/notify", s.handleNotify)
		admin.POST("/:ref/reset-notified", s.handleResetNotified)
	}
	r.DELETE("/admin/users/:id/cache", s.requireRole(roleAdmin), s.handleInvalidateUser)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) accessLog(c *gin.Context) {
	started := time.Now()
	c.Next()
	s.logger.Debug(c.Request.Context(), "request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"took", time.Since(started),
	)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

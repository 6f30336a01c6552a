// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/expense-approval/internal/application/service"
	"github.com/garyjia/expense-approval/internal/application/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Services are the application entry points the handlers call
type Services struct {
	Engine    workflow.ApprovalEngine
	Companies service.CompanyService
	Workflows service.WorkflowService
	Expenses  service.ExpenseService
	Approvals service.ApprovalService
	Reports   service.ReportService
}

// HealthFunc reports overall health plus per-component details
type HealthFunc func(ctx context.Context) (bool, interface{})

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	handlers   *Handlers
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, health HealthFunc, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(services, health, logger),
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(corsMiddleware())
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserIDHeader)
		c.Writer.Header().Set("Access-Control-Expose-Headers", ArchiveNameHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		fields := []interface{}{
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if user, ok := c.Get(userKey); ok {
			fields = append(fields, "user_id", userFrom(user).ID)
		}
		s.logger.Info("HTTP request", fields...)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api")

	// Bootstrapping a company is the only unauthenticated call
	api.POST("/companies", h.BootstrapCompany)

	authed := api.Group("")
	authed.Use(h.Authenticate())
	{
		authed.GET("/users", h.ListUsers)
		authed.GET("/users/me", h.CurrentUser)
		authed.POST("/users", h.CreateUser)

		authed.GET("/workflows", h.ListWorkflows)
		authed.GET("/workflows/templates", h.WorkflowTemplates)
		authed.GET("/workflows/:id", h.GetWorkflow)
		authed.POST("/workflows", h.CreateWorkflow)
		authed.PUT("/workflows/:id", h.UpdateWorkflow)
		authed.DELETE("/workflows/:id", h.DeleteWorkflow)

		authed.POST("/expenses", h.CreateExpense)
		authed.GET("/expenses", h.ListExpenses)
		authed.GET("/expenses/pending", h.PendingApprovals)
		authed.GET("/expenses/:id", h.GetExpense)
		authed.PUT("/expenses/:id", h.UpdateExpense)
		authed.POST("/expenses/:id/submit", h.SubmitExpense)
		authed.POST("/expenses/:id/approve", h.ApproveExpense)
		authed.POST("/expenses/:id/reject", h.RejectExpense)
		authed.POST("/expenses/:id/cancel", h.CancelExpense)
		authed.GET("/expenses/:id/permission", h.ExpensePermission)

		authed.GET("/reports/approvals.xlsx", h.ExportApprovals)
		authed.GET("/reports/archive", h.ListArchivedReports)
		authed.GET("/reports/archive/:name", h.DownloadArchivedReport)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

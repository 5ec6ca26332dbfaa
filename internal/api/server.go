// Package api exposes the clinical risk pipeline over HTTP using gin.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/alerting"
	"github.com/clinical-risk-server/internal/auth"
	"github.com/clinical-risk-server/internal/cache"
	"github.com/clinical-risk-server/internal/database"
	"github.com/clinical-risk-server/internal/domain"
	"github.com/clinical-risk-server/internal/feedback"
	"github.com/clinical-risk-server/internal/importer"
	"github.com/clinical-risk-server/internal/middleware"
	"github.com/clinical-risk-server/internal/model"
	"github.com/clinical-risk-server/internal/service"
	"github.com/clinical-risk-server/internal/trend"
)

// Dependencies bundles everything the HTTP layer serves.
type Dependencies struct {
	ConfigManager domain.ConfigManager
	Logger        *logrus.Logger
	DB            *database.DB
	Pipeline      *service.Pipeline
	Extractor     *trend.Extractor
	Registry      *model.Registry
	Alerts        *alerting.Manager
	Auth          *auth.Service
	Importer      *importer.Importer
	Cache         *cache.AssessmentCache
	Feedback      feedback.Store

	Patients    domain.PatientStore
	Readings    domain.ReadingStore
	Assessments domain.AssessmentStore
	AlertStore  domain.AlertStore
	Notes       domain.NoteStore
}

// Server represents the HTTP server
type Server struct {
	deps   Dependencies
	router *gin.Engine
	server *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(deps Dependencies) *Server {
	cfg := deps.ConfigManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit)
		router.Use(limiter.Handler())
	}

	server := &Server{
		deps:   deps,
		router: router,
	}

	server.setupRoutes()

	return server
}

// Router exposes the configured engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.deps.ConfigManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")

	v1.POST("/auth/login", s.handleLogin)

	authed := v1.Group("")
	authed.Use(middleware.RequireAuth(s.deps.Auth))
	{
		authed.GET("/patients", s.handleListPatients)
		authed.POST("/patients", middleware.RequireRole(auth.RoleDoctor), s.handleCreatePatient)
		authed.GET("/patients/:id", s.handleGetPatient)
		authed.DELETE("/patients/:id", middleware.RequireRole(auth.RoleAdmin), s.handleDeletePatient)

		authed.GET("/patients/:id/readings", s.handleGetReadings)
		authed.POST("/patients/:id/readings", s.handleAddReadings)

		authed.POST("/patients/:id/compute-risk", s.handleComputeRisk)
		authed.GET("/patients/:id/risk", s.handleGetRisk)
		authed.GET("/patients/:id/risk-history", s.handleRiskHistory)
		authed.GET("/patients/:id/trends", s.handleTrends)
		authed.GET("/patients/:id/velocity", s.handleVelocity)

		authed.GET("/patients/:id/notes", s.handleGetNotes)
		authed.POST("/patients/:id/notes", s.handleAddNote)

		authed.GET("/patients/:id/alerts", s.handlePatientAlerts)

		authed.GET("/alerts", s.handleListAlerts)
		authed.GET("/alerts/:id", s.handleGetAlert)
		authed.POST("/alerts/:id/status", s.handleAlertTransition)
		authed.POST("/alerts/:id/feedback", s.handleAlertFeedback)

		authed.POST("/import/preview", middleware.RequireRole(auth.RoleDoctor), s.handleImportPreview)
		authed.POST("/import", middleware.RequireRole(auth.RoleDoctor), s.handleImportExecute)

		authed.GET("/cache/stats", middleware.RequireRole(auth.RoleAdmin), s.handleCacheStats)
	}
}

// handleHealth reports liveness plus database and model readiness.
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	checks := gin.H{}

	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Health(ctx); err != nil {
			status = "degraded"
			checks["database"] = "unreachable"
		} else {
			checks["database"] = "ok"
		}
	}

	if s.deps.Registry != nil {
		checks["models_loaded"] = s.deps.Registry.Loaded()
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

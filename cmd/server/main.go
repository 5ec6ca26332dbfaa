package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/clinical-risk-server/internal/alerting"
	"github.com/clinical-risk-server/internal/api"
	"github.com/clinical-risk-server/internal/auth"
	"github.com/clinical-risk-server/internal/cache"
	"github.com/clinical-risk-server/internal/config"
	"github.com/clinical-risk-server/internal/database"
	"github.com/clinical-risk-server/internal/domain"
	"github.com/clinical-risk-server/internal/feedback"
	"github.com/clinical-risk-server/internal/importer"
	"github.com/clinical-risk-server/internal/model"
	"github.com/clinical-risk-server/internal/repository"
	"github.com/clinical-risk-server/internal/service"
	"github.com/clinical-risk-server/internal/trend"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host":        cfg.Server.Host,
		"port":        cfg.Server.Port,
		"environment": cfg.Environment,
	}).Info("Starting clinical risk server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewConnection(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Database,
		Username:    cfg.Database.Username,
		Password:    cfg.Database.Password,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnLife: cfg.Database.MaxConnLifetime,
		MaxConnIdle: cfg.Database.MaxConnIdleTime,
		SSLMode:     cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	databaseURL := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database, cfg.Database.SSLMode)
	migrator, err := database.NewMigrationRunner(databaseURL, cfg.Database.MigrationsPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize migration runner")
	}
	if err := migrator.Up(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to apply migrations")
	}
	migrator.Close()

	patients := repository.NewPatientRepository(db.Pool, logger)
	readings := repository.NewReadingRepository(db.Pool, logger)
	assessments := repository.NewAssessmentRepository(db.Pool, logger)
	alertStore := repository.NewAlertRepository(db.Pool, logger)
	notes := repository.NewNoteRepository(db.Pool, logger)
	users := repository.NewUserRepository(db.Pool, logger)

	feedbackStore, err := newFeedbackStore(cfg.Feedback, configManager)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open feedback store")
	}
	defer feedbackStore.Close()

	assessmentCache, err := cache.New(cfg.Cache, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize assessment cache")
	}
	defer assessmentCache.Close()

	registry := model.NewRegistry(cfg.Models.ArtifactDir, logger)
	extractor := trend.NewExtractor(logger)
	scorer := service.NewRiskScorer(logger, registry, cfg.Models)
	explainer := service.NewExplanationEngine(logger)
	velocity := service.NewVelocityClassifier(logger, cfg.Velocity.Window)
	alertManager := alerting.NewManager(cfg.Alerting, logger, alertStore)
	pipeline := service.NewPipeline(logger, extractor, scorer, explainer, velocity,
		alertManager, patients, readings, assessments)

	server := api.NewServer(api.Dependencies{
		ConfigManager: configManager,
		Logger:        logger,
		DB:            db,
		Pipeline:      pipeline,
		Extractor:     extractor,
		Registry:      registry,
		Alerts:        alertManager,
		Auth:          auth.NewService(cfg.Auth, users, logger),
		Importer:      importer.New(patients, readings, logger),
		Cache:         assessmentCache,
		Feedback:      feedbackStore,
		Patients:      patients,
		Readings:      readings,
		Assessments:   assessments,
		AlertStore:    alertStore,
		Notes:         notes,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}
	return logger
}

// newFeedbackStore selects the feedback backend. SQLite is the default so a
// development instance needs no extra infrastructure; postgres reuses the
// primary database when no dedicated DSN is configured.
func newFeedbackStore(cfg domain.FeedbackConfig, configManager domain.ConfigManager) (feedback.Store, error) {
	switch cfg.Driver {
	case "postgres":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = configManager.GetDatabaseConnectionString()
		}
		return feedback.NewPostgresStoreFromURL(dsn)
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = "data/feedback.db"
		}
		return feedback.NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported feedback driver %q", cfg.Driver)
	}
}

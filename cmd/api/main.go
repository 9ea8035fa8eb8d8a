package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/smartlms/submission-core/internal/config"
	"github.com/smartlms/submission-core/internal/database"
	"github.com/smartlms/submission-core/internal/handler"
	"github.com/smartlms/submission-core/internal/middleware"
	"github.com/smartlms/submission-core/internal/models"
	"github.com/smartlms/submission-core/internal/repository"
	"github.com/smartlms/submission-core/internal/router"
	"github.com/smartlms/submission-core/internal/service"
	"github.com/smartlms/submission-core/pkg/evaluator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.Assignment{},
		&models.Submission{},
		&models.Version{},
		&models.CheckResult{},
		&models.GradeRecord{},
		&models.SubmissionEvent{},
		&models.AuditLog{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	} else {
		logger.Warn().Msg("nats url not configured, cross-node event fan-out limited to redis")
	}

	evaluators := make(map[string]evaluator.Evaluator)

	if cfg.OriginalityBaseURL != "" {
		originality, err := evaluator.NewOriginalityEvaluator(evaluator.OriginalityConfig{
			BaseURL: cfg.OriginalityBaseURL,
			APIKey:  cfg.OriginalityAPIKey,
			Timeout: cfg.CheckTimeout,
			Logger:  logger,
		})
		if err != nil {
			log.Fatalf("failed to create originality evaluator: %v", err)
		}
		evaluators[models.CheckTypeOriginality] = originality
	} else {
		logger.Warn().Msg("originality base url not configured, originality checks will be recorded as failed")
	}

	if cfg.OpenAIAPIKey != "" {
		quality, err := evaluator.NewQualityEvaluator(evaluator.QualityConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.QualityModel,
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("failed to create quality evaluator: %v", err)
		}
		evaluators[models.CheckTypeQuality] = quality
	} else {
		logger.Warn().Msg("openai api key not configured, quality checks will be recorded as failed")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	locker := service.NewSubmissionLocker()

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	versionRepo := repository.NewVersionRepository(db)
	checkRepo := repository.NewCheckRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	eventRepo := repository.NewEventRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	eventService := service.NewEventService(eventRepo, redisClient, cfg.EventChannelBase, natsConn, logger)
	submissionService := service.NewSubmissionService(submissionRepo, versionRepo, gradeRepo, auditRepo, eventService, locker, cfg.FlagThreshold, logger)
	orchestrator := service.NewCheckOrchestrator(checkRepo, versionRepo, submissionRepo, evaluators, submissionService, eventService, locker, service.OrchestratorConfig{
		Timeout:     cfg.CheckTimeout,
		RetryBase:   cfg.CheckRetryBase,
		RetryCap:    cfg.CheckRetryCap,
		MaxAttempts: cfg.CheckMaxAttempts,
	}, logger)
	versionService := service.NewVersionService(versionRepo, submissionRepo, assignmentRepo, orchestrator, eventService, locker, validate, logger)
	gradingService := service.NewGradingService(gradeRepo, submissionRepo, versionRepo, auditRepo, eventService, locker, validate, logger)

	consumerCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()
	eventService.Start(consumerCtx)

	versionHandler := handler.NewVersionHandler(versionService, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, logger)
	gradingHandler := handler.NewGradingHandler(gradingService, logger)
	checkHandler := handler.NewCheckHandler(orchestrator, logger)
	eventHandler := handler.NewEventHandler(eventService, logger, cfg.EventStreamKeepAlive)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		VersionHandler:    versionHandler,
		SubmissionHandler: submissionHandler,
		GradingHandler:    gradingHandler,
		CheckHandler:      checkHandler,
		EventHandler:      eventHandler,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}

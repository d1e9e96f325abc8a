package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/kine-assistant/cmd/mainconfig"
	"github.com/wolfman30/kine-assistant/internal/api/router"
	"github.com/wolfman30/kine-assistant/internal/app/bootstrap"
	"github.com/wolfman30/kine-assistant/internal/bilan"
	appconfig "github.com/wolfman30/kine-assistant/internal/config"
	"github.com/wolfman30/kine-assistant/internal/exercises"
	"github.com/wolfman30/kine-assistant/internal/observability/metrics"
	"github.com/wolfman30/kine-assistant/internal/practitioners"
	"github.com/wolfman30/kine-assistant/internal/transcription"
	"github.com/wolfman30/kine-assistant/pkg/logging"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting kine-assistant API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// Long-running structuring and generation calls must fit in one response.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.GatewayTimeout + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
}

// buildServer wires every collaborator from configuration. The returned
// cleanup closes clients in reverse order of creation.
func buildServer(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (http.Handler, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (http.Handler, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	metricsHandler, workflowMetrics := setupMetrics()

	var awsCfg *aws.Config
	if loaded, err := mainconfig.LoadAWSConfig(ctx, cfg); err != nil {
		logger.Warn("aws config unavailable; bedrock, s3 and ses disabled", "error", err)
	} else {
		awsCfg = &loaded
	}

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	var sqlDB *sql.DB
	if pool != nil {
		sqlDB = stdlib.OpenDBFromPool(pool)
		closers = append(closers, pool.Close, func() { _ = sqlDB.Close() })
	}
	bilanRepo, profileStore := buildRepositories(pool, logger)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		closers = append(closers, func() { _ = redisClient.Close() })
	}
	guard := bootstrap.BuildGuard(cfg, redisClient)

	llmClient, closeLLM, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = closeLLM() })

	structurer, err := bootstrap.BuildStructurer(cfg, llmClient, workflowMetrics, logger)
	if err != nil {
		return fail(err)
	}
	transcriber, closeSpeech, err := bootstrap.BuildTranscriber(ctx, cfg, workflowMetrics, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = closeSpeech() })
	generator, err := bootstrap.BuildGenerator(cfg, llmClient, workflowMetrics, logger)
	if err != nil {
		return fail(err)
	}
	renderer, err := bootstrap.BuildRenderer(cfg, workflowMetrics, logger)
	if err != nil {
		return fail(err)
	}

	usageLogger, closeUsage := bootstrap.BuildUsageLogger(cfg, sqlDB, logger)
	closers = append(closers, func() { _ = closeUsage() })
	archiveStore := bootstrap.BuildArchive(cfg, awsCfg, logger)
	mailer := bootstrap.BuildProgramMailer(cfg, awsCfg, logger)

	sessions := practitioners.NewSessions(profileStore, cfg.FreeCredits)

	workflow := bilan.NewWorkflow(bilan.WorkflowConfig{
		Repo:          bilanRepo,
		Drafts:        bilan.NewDraftStore(cfg.DraftTTL),
		Structurer:    structurer,
		Renderer:      renderer,
		Guard:         guard,
		Archive:       archiveStore,
		Usage:         usageLogger,
		Metrics:       workflowMetrics,
		Logger:        logger,
		MaxNotesChars: cfg.NotesMaxChars,
	})
	assistant := exercises.NewAssistant(exercises.AssistantConfig{
		Sessions:  bootstrap.BuildSessionStore(cfg, redisClient),
		Generator: generator,
		Renderer:  renderer,
		Guard:     guard,
		Archive:   archiveStore,
		Mailer:    mailer,
		Usage:     usageLogger,
		Metrics:   workflowMetrics,
		Logger:    logger,
	})

	handler := router.New(&router.Config{
		Logger:                logger,
		MetricsHandler:        metricsHandler,
		CORSAllowedOrigins:    cfg.CORSAllowedOrigins,
		PractitionerJWTSecret: cfg.PractitionerJWTSecret,
		RateLimitRPS:          cfg.RateLimitRPS,
		RateLimitBurst:        cfg.RateLimitBurst,
		Practitioners:         practitioners.NewHandler(sessions, logger),
		Bilans:                bilan.NewHandler(workflow, sessions, logger),
		Transcriptions:        transcription.NewHandler(transcriber, usageLogger, logger),
		Exercises:             exercises.NewHandler(assistant, sessions, logger),
	})
	if cfg.PractitionerJWTSecret == "" {
		logger.Warn("PRACTITIONER_JWT_SECRET not set; every authenticated route will answer 401")
	}
	return handler, cleanup, nil
}

// setupMetrics registers the workflow metrics on a dedicated registry.
func setupMetrics() (http.Handler, *metrics.WorkflowMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewWorkflowMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

// connectPostgresPool returns nil when DATABASE_URL is empty or unreachable;
// callers then fall back to in-memory storage.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("postgres ping failed; using in-memory storage", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func buildRepositories(pool *pgxpool.Pool, logger *logging.Logger) (bilan.Repository, practitioners.Store) {
	if pool == nil {
		logger.Warn("no database configured; records and profiles are kept in memory")
		return bilan.NewInMemoryRepository(), practitioners.NewInMemoryStore()
	}
	return bilan.NewPostgresRepository(pool), practitioners.NewPostgresStore(pool)
}

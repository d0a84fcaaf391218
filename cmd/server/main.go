package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/examportal/internal/config"
	"github.com/stemsi/examportal/internal/database"
	"github.com/stemsi/examportal/internal/events"
	"github.com/stemsi/examportal/internal/handler"
	"github.com/stemsi/examportal/internal/logger"
	"github.com/stemsi/examportal/internal/middleware"
	"github.com/stemsi/examportal/internal/repository"
	"github.com/stemsi/examportal/internal/router"
	"github.com/stemsi/examportal/internal/service"
	"github.com/stemsi/examportal/internal/session"
	"github.com/stemsi/examportal/internal/validator"
	"github.com/stemsi/examportal/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("events", cfg.Events.Publisher).
		Msg("Starting exam portal")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Event Publisher ───────────────────────────────────────────────
	publisher, err := events.New(cfg.Events, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event publisher")
	}
	defer publisher.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)
	proctoringRepo := repository.NewProctoringRepository(pool)
	cacheRepo := repository.NewCacheRepository(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	policy := session.Policy{
		Debounce:     cfg.Proctor.Debounce,
		PromptGrace:  cfg.Proctor.PromptGrace,
		DismissGrace: cfg.Proctor.DismissGrace,
		AwayTimeout:  cfg.Proctor.AwayTimeout,
		Strikes:      cfg.Proctor.Strikes,
	}

	authService := service.NewAuthService(cfg)
	examService := service.NewExamService(examRepo, questionRepo, cacheRepo, log)
	mediaService := service.NewMediaService(cfg)
	attemptService := service.NewAttemptService(service.AttemptServiceConfig{
		Exams:       examService,
		Attempts:    attemptRepo,
		Submissions: submissionRepo,
		Cache:       cacheRepo,
		Auth:        authService,
		Media:       mediaService,
		Events:      publisher,
		SubmitGrace: cfg.SubmitGrace,
		Logger:      log,
	})
	proctorService := service.NewProctorService(cacheRepo, policy, log)
	monitorService := service.NewMonitorService(monitorRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Exam:    handler.NewExamHandler(examService, attemptService, cfg.MaxAudioUploadBytes, log),
		Proctor: handler.NewProctorHandler(attemptService, examService, proctorService, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(examService, monitorService, handler.NewRedisMonitorFeed(cacheRepo), log),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": handler.PingFunc(pool.Ping),
			"redis":    handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		}, log),
	}
	limiters := &router.Limiters{
		Start:  middleware.NewRateLimiter(rdb, "start", 10, time.Minute, log),
		Submit: middleware.NewRateLimiter(rdb, "submit", 5, time.Minute, log),
		Upload: middleware.NewRateLimiter(rdb, "upload", 60, time.Minute, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	proctoringWorker := worker.NewProctoringWorker(cacheRepo, proctoringRepo, log)
	go func() {
		defer close(workerDone)
		proctoringWorker.Start(workerCtx)
	}()

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published exams into Redis BEFORE accepting traffic.
	// This avoids race conditions from lazy loading under thundering herd.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiters, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the worker and wait for its buffer to drain.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(7 * time.Second):
		log.Warn().Msg("Proctoring worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/database"
	"github.com/stemsi/mocktest-backend/internal/handler"
	"github.com/stemsi/mocktest-backend/internal/logger"
	"github.com/stemsi/mocktest-backend/internal/repository"
	"github.com/stemsi/mocktest-backend/internal/router"
	"github.com/stemsi/mocktest-backend/internal/service"
	"github.com/stemsi/mocktest-backend/internal/testrun"
	"github.com/stemsi/mocktest-backend/internal/validator"
	"github.com/stemsi/mocktest-backend/internal/worker"
	"golang.org/x/sync/errgroup"
)

const (
	janitorInterval = time.Minute
	drainTimeout    = 5 * time.Second
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

func main() {
	cfg := config.Load()
	log := logger.Setup("server", cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
	log.Info().Msg("Shutdown complete")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Msg("Starting MockTest backend")

	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Storage ───────────────────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	profileRepo := repository.NewProfileRepository(pool)
	subjectRepo := repository.NewSubjectRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	testRepo := repository.NewTestRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool, log)
	chatRepo := repository.NewChatRepository(pool)

	// ─── Services ──────────────────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb, profileRepo, log)
	profileService := service.NewProfileService(profileRepo, log)
	subjectService := service.NewSubjectService(subjectRepo, log)
	testService := service.NewTestService(testRepo, questionRepo, rdb, cfg.PaperCacheTTL, log)
	questionService := service.NewQuestionService(questionRepo, testService, log)
	attemptService := service.NewAttemptService(attemptRepo, questionRepo, rdb, log)
	chatService := service.NewChatService(chatRepo, rdb, cfg.ChatHistoryLimit, log)
	dashboardService := service.NewDashboardService(repository.NewDashboardRepository(pool), rdb, log)

	runs := testrun.NewManager(testrun.Deps{
		Papers:        testService,
		Store:         attemptService,
		Recorder:      testrun.NewRedisRecorder(rdb),
		Log:           log,
		SubmitTimeout: cfg.SubmitTimeout,
		SnapshotTTL:   cfg.RunRetention,
	}, cfg.RunRetention)
	monitorService := service.NewMonitorService(runs, repository.NewMonitorRepository(pool))

	// ─── HTTP ──────────────────────────────────────────────────────────
	runHandler := handler.NewRunHandler(runs, authService, log)
	handlers := &router.Handlers{
		Auth:      handler.NewAuthHandler(authService, profileService, log),
		Catalog:   handler.NewCatalogHandler(subjectService, testService, log),
		Run:       runHandler,
		Attempt:   handler.NewAttemptHandler(attemptService, log),
		Subject:   handler.NewSubjectHandler(subjectService, testService, log),
		Question:  handler.NewQuestionHandler(questionService, log),
		Test:      handler.NewTestHandler(testService, log),
		Chat:      handler.NewChatHandler(chatService, log),
		WS:        handler.NewWSHandler(runHandler, chatService, log, cfg.AllowedOrigins),
		System:    handler.NewSystemHandler(rdb, pool, runs, log),
		Dashboard: handler.NewDashboardHandler(dashboardService, log),
		Monitor:   handler.NewMonitorHandler(testService, monitorService, log),
	}
	srv := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: router.SetupRouter(router.Deps{
			AuthService:    authService,
			ProfileService: profileService,
			Redis:          rdb,
			Log:            log,
		}, handlers, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Background work ───────────────────────────────────────────────
	// Workers get their own context so they outlive the HTTP drain and can
	// flush what the last requests queued.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers errgroup.Group
	workers.Go(func() error {
		worker.NewAnswerRowsWorker(attemptRepo, rdb, log).Start(workerCtx)
		return nil
	})
	workers.Go(func() error {
		runs.Janitor(workerCtx, janitorInterval)
		return nil
	})

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stopWorkers()
		_ = workers.Wait()
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		log.Info().Msg("Signal received, draining")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error().Err(err).Msg("HTTP drain incomplete")
	}

	// Countdowns stop here; unsubmitted runs stay mirrored in Redis.
	runs.Shutdown()

	stopWorkers()
	return workers.Wait()
}

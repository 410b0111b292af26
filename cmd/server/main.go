package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sleepwatch/sleep-server-go/internal/config"
	"github.com/sleepwatch/sleep-server-go/internal/database"
	"github.com/sleepwatch/sleep-server-go/internal/handler"
	"github.com/sleepwatch/sleep-server-go/internal/jobs"
	"github.com/sleepwatch/sleep-server-go/internal/middleware"
	"github.com/sleepwatch/sleep-server-go/internal/queue"
	"github.com/sleepwatch/sleep-server-go/internal/redis"
	"github.com/sleepwatch/sleep-server-go/internal/repository"
	"github.com/sleepwatch/sleep-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load time zone")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if cfg.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	jobQueue := queue.New(redisClient.Client, cfg.SchedulerQueuePrefix, cfg.VisibilityTimeout())

	userRepo := repository.NewUserRepository(db.DB)
	followRepo := repository.NewFollowRepository(db.DB)
	sleepSessionRepo := repository.NewSleepSessionRepository(db.DB)

	scheduler := jobs.NewAutoCompleteScheduler(jobQueue)
	userService := service.NewUserService(userRepo)
	sleepService := service.NewSleepService(db, sleepSessionRepo, scheduler)
	followingService := service.NewFollowingSleepService(followRepo, sleepSessionRepo, loc)

	sleepHandler := handler.NewSleepHandler(userService, sleepService, followingService)
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": db,
		"redis":    redisClient,
	})

	rateLimitMiddleware := middleware.NewRateLimitMiddleware(
		middleware.NewRateLimiter(redisClient.Client), cfg.RateLimitPerMin,
	)

	r := newRouter(healthHandler.Health, sleepHandler.Routes(), rateLimitMiddleware.Handler)

	workerPool := jobs.NewWorkerPool(jobQueue, sleepService, jobs.WorkerPoolConfig{
		Workers:      cfg.SchedulerWorkers,
		BatchSize:    cfg.SchedulerBatchSize,
		PollInterval: cfg.PollInterval(),
		MaxAttempts:  cfg.SchedulerMaxAttempts,
	})
	workerPool.Start()
	defer workerPool.Stop()

	recoveryJob := jobs.NewRecoveryJob(jobQueue, config.RecoveryJobInterval)
	recoveryJob.Start()
	defer recoveryJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func newRouter(health http.HandlerFunc, users http.Handler, rateLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit)
		r.Mount("/users", users)
	})

	return r
}

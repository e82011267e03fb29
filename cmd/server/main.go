package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"

	"github.com/screentask/screentask/internal/backup"
	"github.com/screentask/screentask/internal/config"
	"github.com/screentask/screentask/internal/engine"
	"github.com/screentask/screentask/internal/extractions"
	"github.com/screentask/screentask/internal/handlers"
	"github.com/screentask/screentask/internal/kv"
	"github.com/screentask/screentask/internal/logger"
	"github.com/screentask/screentask/internal/middleware"
	"github.com/screentask/screentask/internal/queue"
	"github.com/screentask/screentask/internal/services/auth"
	"github.com/screentask/screentask/internal/store"
	"github.com/screentask/screentask/internal/syncer"
	"github.com/screentask/screentask/internal/telemetry"
)

// maxScreenshotBody allows for a 10 MiB image plus base64 and JSON overhead.
const maxScreenshotBody int64 = 16 << 20

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	var tracerProvider interface{ Shutdown(context.Context) error }
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else {
			tp, err := telemetry.InitTracer(context.Background(), "screentask-api", cfg.OTELEndpoint)
			if err != nil {
				zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
			} else {
				tracerProvider = tp
				defer func() {
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer shutdownCancel()
					if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
						zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
					}
				}()
			}
		}
	}

	docStore, err := store.NewPostgres(cfg.DatabaseURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := docStore.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_database")

	kvStore, err := kv.NewRedisStore(context.Background(), cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
	}
	zapLogger.Info("connected_to_redis")

	jobQueue := connectQueue(cfg.RabbitMQURL, zapLogger)
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()

	guard := backup.NewWithOptions(
		kvStore,
		time.Duration(cfg.BackupWindowMinutes)*time.Minute,
		cfg.BackupHistoryCap,
		time.Now,
	)
	manager := syncer.NewManager(syncer.Config{
		Store:  docStore,
		Guard:  guard,
		Engine: engine.New(),
		Logger: zapLogger,
	}, kvStore)
	defer manager.Close()

	registry := extractions.New(kvStore)

	if cfg.JWKSURL == "" || cfg.JWTIssuer == "" {
		zapLogger.Fatal("jwks_url_and_jwt_issuer_are_required")
	}
	verifier := auth.NewVerifier(cfg.JWKSURL, cfg.JWTIssuer, cfg.JWTAudience)

	taskHandler := handlers.NewTaskHandler(manager, zapLogger)
	spaceHandler := handlers.NewSpaceHandler(manager, zapLogger)
	extractionHandler := handlers.NewExtractionHandler(manager, registry, jobQueue, zapLogger)
	healthChecker := handlers.NewHealthChecker(docStore, kvStore, jobQueue)

	rateLimitMW, err := middleware.RateLimit(kvStore.Client(), cfg.RateLimit)
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limiter", zap.Error(err))
	}

	r := mux.NewRouter()
	if cfg.OTELEnabled && tracerProvider != nil {
		r.Use(otelmux.Middleware("screentask-api"))
	}
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORSFromEnv(cfg.FrontendURL))
	r.Use(middleware.ContentType)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.Auth(verifier, zapLogger))
	apiRouter.Use(rateLimitMW)

	tasksRouter := apiRouter.PathPrefix("/tasks").Subrouter()
	tasksRouter.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	tasksRouter.HandleFunc("", taskHandler.List).Methods("GET")
	tasksRouter.HandleFunc("", taskHandler.Create).Methods("POST")
	tasksRouter.HandleFunc("/reorder", taskHandler.Reorder).Methods("POST")
	tasksRouter.HandleFunc("/{id}", taskHandler.Update).Methods("PATCH")
	tasksRouter.HandleFunc("/{id}", taskHandler.Delete).Methods("DELETE")
	tasksRouter.HandleFunc("/{id}/toggle", taskHandler.Toggle).Methods("POST")
	tasksRouter.HandleFunc("/{id}/frog", taskHandler.Frog).Methods("POST")
	tasksRouter.HandleFunc("/{id}/schedule-today", taskHandler.ScheduleToday).Methods("POST")
	tasksRouter.HandleFunc("/{id}/subtasks", taskHandler.AddSubtask).Methods("POST")

	spacesRouter := apiRouter.PathPrefix("/spaces").Subrouter()
	spacesRouter.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	spacesRouter.HandleFunc("", spaceHandler.List).Methods("GET")
	spacesRouter.HandleFunc("", spaceHandler.Create).Methods("POST")
	spacesRouter.HandleFunc("/active", spaceHandler.Activate).Methods("PUT")
	spacesRouter.HandleFunc("/{id}", spaceHandler.Rename).Methods("PATCH")
	spacesRouter.HandleFunc("/{id}", spaceHandler.Delete).Methods("DELETE")

	extractionsRouter := apiRouter.PathPrefix("/extractions").Subrouter()
	extractionsRouter.Use(middleware.MaxRequestSize(maxScreenshotBody))
	extractionsRouter.HandleFunc("", extractionHandler.Create).Methods("POST")
	extractionsRouter.HandleFunc("/{id}", extractionHandler.Get).Methods("GET")

	// Preflight requests never reach a route handler; CORS middleware has
	// already set the headers by the time this runs.
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if dlqPurger, ok := jobQueue.(queue.DLQPurger); ok {
		dlqGC := queue.NewGarbageCollector(dlqPurger, 1*time.Hour, 24*time.Hour, zapLogger)
		go func() {
			if err := dlqGC.Start(bgCtx); err != nil && err != context.Canceled {
				zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
			}
		}()
	}

	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")
	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Fatal("server_forced_to_shutdown", zap.Error(err))
	}
	zapLogger.Info("server_exited")
}

// connectQueue dials RabbitMQ with exponential backoff to ride out broker
// startup delays.
func connectQueue(amqpURL string, zapLogger *zap.Logger) queue.JobQueue {
	const maxRetries = 10
	const initialDelay = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		jobQueue, err := queue.NewRabbitMQQueue(amqpURL)
		if err == nil {
			zapLogger.Info("connected_to_rabbitmq")
			return jobQueue
		}
		lastErr = err
		delay := initialDelay * time.Duration(1<<uint(attempt))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)
		time.Sleep(delay)
	}

	zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries",
		zap.Int("max_retries", maxRetries),
		zap.Error(lastErr),
	)
	return nil
}

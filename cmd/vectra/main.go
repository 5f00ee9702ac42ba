package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vectra/internal/config"
	"github.com/kailas-cloud/vectra/internal/db"
	dbMemory "github.com/kailas-cloud/vectra/internal/db/memory"
	dbPostgres "github.com/kailas-cloud/vectra/internal/db/postgres"
	"github.com/kailas-cloud/vectra/internal/embedding"
	logpkg "github.com/kailas-cloud/vectra/internal/logger"
	"github.com/kailas-cloud/vectra/internal/metastore"
	metaMemory "github.com/kailas-cloud/vectra/internal/metastore/memory"
	metaRedis "github.com/kailas-cloud/vectra/internal/metastore/redis"
	"github.com/kailas-cloud/vectra/internal/metrics"
	collectionrepo "github.com/kailas-cloud/vectra/internal/repository/collection"
	"github.com/kailas-cloud/vectra/internal/usecase/catalog"
	"github.com/kailas-cloud/vectra/internal/usecase/vectordb"
	"github.com/kailas-cloud/vectra/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting vectra server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("metastore_driver", cfg.Metastore.Driver),
		zap.String("namespace", cfg.Namespace),
	)

	ctx := context.Background()

	// Create the vector store based on driver
	var store db.Store
	switch cfg.Database.Driver {
	case "postgres":
		store, err = dbPostgres.NewStore(ctx, dbPostgres.Config{
			DSN:      cfg.Database.DSN,
			MaxConns: int32(cfg.Database.MaxConns),
		})
	case "memory":
		store = dbMemory.NewStore()
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create vector store", zap.Error(err))
	}
	defer store.Close()

	// Create the metadata store based on driver
	var meta metastore.Store
	switch cfg.Metastore.Driver {
	case "redis":
		meta, err = metaRedis.NewStore(metaRedis.Config{
			Addrs:    cfg.Metastore.Addrs,
			Username: cfg.Metastore.Username,
			Password: cfg.Metastore.Password,
			DB:       cfg.Metastore.DB,
		})
	case "memory":
		meta = metaMemory.NewStore()
	default:
		logger.Fatal("Unknown metastore driver", zap.String("driver", cfg.Metastore.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create metastore", zap.Error(err))
	}
	defer meta.Close()

	// Wait for both backends in parallel
	g, readyCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return store.WaitForReady(readyCtx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second)
	})
	g.Go(func() error {
		return meta.WaitForReady(readyCtx, time.Duration(cfg.Metastore.ReadinessTimeout)*time.Second)
	})
	if err := g.Wait(); err != nil {
		logger.Fatal("Backends not ready", zap.Error(err))
	}
	logger.Info("Connected to backends")

	// Register engine metrics explicitly (no init())
	metrics.RegisterEngineMetrics()

	cat, err := catalog.New(ctx, meta, cfg.Namespace, logger)
	if err != nil {
		logger.Fatal("Failed to load catalog", zap.Error(err))
	}

	locking := collectionrepo.LockConfig{
		MaxRetries: uint64(cfg.Locking.MaxRetries),
		Delay:      time.Duration(cfg.Locking.DelayMS) * time.Millisecond,
	}
	registry := vectordb.New(store, cat, locking, logger)

	// Optional embedder for the debug search endpoint
	var embedder *embedding.Embedder
	if cfg.Embedding.APIKey != "" {
		embedder = embedding.NewEmbedder(&embedding.Config{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Logger:     logger,
		})
		logger.Info("Embedder created", zap.String("model", cfg.Embedding.Model))
	}

	srvHandlers := newHandlers(registry, store, meta, embedder, cfg.Index, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(metrics.Middleware())
	srvHandlers.routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger emits a canonical log line per request, propagates
// X-Request-ID and stores a request-scoped logger in the context.
func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLog := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLog)

			next.ServeHTTP(w, r.WithContext(ctx))

			reqLog.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/chapters-api/internal/config"
	"github.com/benvon/chapters-api/internal/database"
	"github.com/benvon/chapters-api/internal/events"
	"github.com/benvon/chapters-api/internal/handlers"
	"github.com/benvon/chapters-api/internal/logger"
	"github.com/benvon/chapters-api/internal/metrics"
	"github.com/benvon/chapters-api/internal/middleware"
	"github.com/benvon/chapters-api/internal/ratelimit"
	"github.com/benvon/chapters-api/internal/router"
	"github.com/benvon/chapters-api/internal/store"
	"github.com/benvon/chapters-api/internal/telemetry"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	janitorInterval = time.Minute
	connectAttempts = 10
)

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.New(cfg.LogLevel, cfg.LogFormat, debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync(zapLogger) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zapLogger); err != nil {
		zapLogger.Error("server_exited_with_error", zap.Error(err))
		_ = logger.Sync(zapLogger)
		os.Exit(1)
	}
	zapLogger.Info("server_exited")
}

func run(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) error {
	zapLogger.Info("starting_server",
		zap.String("version", handlers.Version),
		zap.String("server_port", cfg.ServerPort),
		zap.String("store_backend", cfg.StoreBackend),
		zap.Int64("general_limit", cfg.GeneralLimit.Max),
		zap.Duration("general_window", cfg.GeneralLimit.Window),
		zap.Int64("upload_limit", cfg.UploadLimit.Max),
		zap.Duration("upload_window", cfg.UploadLimit.Window),
		zap.String("failure_policy", string(cfg.GeneralLimit.FailurePolicy)),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
		zap.Int("trusted_proxies", len(cfg.TrustedProxies)),
	)

	tracing := false
	if cfg.OTELEnabled {
		tp, err := telemetry.InitTracer(ctx, telemetry.Options{
			ServiceName:    router.ServiceName,
			ServiceVersion: handlers.Version,
			Endpoint:       cfg.OTELEndpoint,
			Insecure:       cfg.OTELInsecure,
			SampleRatio:    1,
		})
		if err != nil {
			zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		} else {
			tracing = true
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
					zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
				}
			}()
		}
	}

	db, err := connect(ctx, zapLogger, "database", func() (*database.DB, error) {
		return database.New(ctx, cfg.DatabaseURL)
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()
	if cfg.AutoMigrate {
		if err := db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	st, err := connect(ctx, zapLogger, "store", func() (store.Store, error) {
		s, err := store.Open(cfg.StoreBackend, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			zapLogger.Warn("failed_to_close_store", zap.Error(err))
		}
	}()

	var publisher events.Publisher = events.Nop{}
	var queueCheck handlers.Check
	if cfg.RabbitMQURL != "" {
		p, err := connect(ctx, zapLogger, "rabbitmq", func() (*events.RabbitMQPublisher, error) {
			return events.NewRabbitMQPublisher(cfg.RabbitMQURL)
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(); err != nil {
				zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
			}
		}()
		publisher = p
		queueCheck = p.HealthCheck
	}

	m := metrics.New()
	general, err := ratelimit.New(st, cfg.GeneralLimit, zapLogger, ratelimit.WithDegradedHook(m.IncRateLimitDegraded))
	if err != nil {
		return err
	}
	upload, err := ratelimit.New(st, cfg.UploadLimit, zapLogger, ratelimit.WithDegradedHook(m.IncRateLimitDegraded))
	if err != nil {
		return err
	}

	if cfg.AdminAPIKey == "" && cfg.JWTSecret == "" {
		zapLogger.Warn("admin_credentials_not_configured")
	}

	handler := router.New(router.Deps{
		Logger:         zapLogger,
		Store:          st,
		Repo:           database.NewChapterRepository(db),
		Publisher:      publisher,
		Metrics:        m,
		Auth:           middleware.NewAuthenticator(cfg.AdminAPIKey, cfg.JWTSecret, zapLogger),
		GeneralLimiter: general,
		UploadLimiter:  upload,
		HealthChecks: map[string]handlers.Check{
			"database": db.Ping,
			"store":    st.Ping,
			"queue":    queueCheck,
		},
		TrustedProxies: cfg.TrustedProxies,
		FrontendURL:    cfg.FrontendURL,
		EnableHSTS:     cfg.EnableHSTS,
		CacheTTL:       cfg.CacheTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout,
		Tracing:        tracing,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout + 5*time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	if mem, ok := st.(*store.MemoryStore); ok {
		mem.StartJanitor(gctx, janitorInterval)
	}

	g.Go(func() error {
		zapLogger.Info("server_starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zapLogger.Info("server_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// connect retries dial with exponential backoff so the server can start
// before its dependencies finish booting.
func connect[T any](ctx context.Context, zapLogger *zap.Logger, name string, dial func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second

	policy := backoff.WithContext(backoff.WithMaxRetries(b, connectAttempts-1), ctx)
	v, err := backoff.RetryNotifyWithData[T](dial, policy, func(err error, delay time.Duration) {
		zapLogger.Warn("dependency_connect_retrying",
			zap.String("dependency", name),
			zap.Duration("retry_delay", delay),
			zap.String("error", logger.SanitizeError(err)),
		)
	})
	if err != nil {
		return v, fmt.Errorf("connect %s: %w", name, err)
	}
	zapLogger.Info("dependency_connected", zap.String("dependency", name))
	return v, nil
}

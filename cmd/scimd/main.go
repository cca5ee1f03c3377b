// Command scimd runs the SCIM 2.0 provisioning server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/scimd/pkg/api"
	"github.com/Mindburn-Labs/scimd/pkg/config"
	"github.com/Mindburn-Labs/scimd/pkg/handler"
	"github.com/Mindburn-Labs/scimd/pkg/observability"
	"github.com/Mindburn-Labs/scimd/pkg/provider"
	"github.com/Mindburn-Labs/scimd/pkg/resolver"
	"github.com/Mindburn-Labs/scimd/pkg/schema"
	"github.com/Mindburn-Labs/scimd/pkg/storage"
	"github.com/Mindburn-Labs/scimd/pkg/storage/pgstore"
	"github.com/Mindburn-Labs/scimd/pkg/storage/redisstore"
	"github.com/Mindburn-Labs/scimd/pkg/storage/sqlitestore"
)

const serviceVersion = "0.1.0"

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "scimd",
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.SampleRate,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.TelemetryEnabled,
		Insecure:       cfg.Environment == "development",
	})
	if err != nil {
		log.Fatalf("telemetry init failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer closeStore()
	logger.Info("storage ready", "backend", cfg.Storage)

	registry := schema.NewRegistry()
	prov := provider.New(store, registry,
		provider.WithLogger(logger),
		provider.WithBaseURL(cfg.BaseURL))

	timeline := observability.NewAuditTimeline()
	h := handler.New(prov, registry,
		handler.WithLogger(logger),
		handler.WithAuditTimeline(timeline),
		handler.WithSLOTracker(observability.DefaultSLOTracker()))

	res, err := buildResolver(cfg)
	if err != nil {
		log.Fatalf("tenant resolver init failed: %v", err)
	}
	serverOpts := []api.Option{api.WithLogger(logger)}
	if res != nil {
		serverOpts = append(serverOpts, api.WithResolver(res))
		tenants, _ := res.ListTenants(ctx)
		logger.Info("multi-tenant mode", "tenants", len(tenants))
	}

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.Chain(api.NewServer(h, serverOpts...),
			api.RequestID,
			api.AccessLog(logger),
			api.Metrics(obs.RecordHTTPRequest),
			limiter.Middleware),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("scimd listening", "addr", srv.Addr, "base_url", cfg.BaseURL, "version", serviceVersion)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openStore builds the configured storage backend and returns its closer.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return storage.NewMemoryStore(), func() {}, nil

	case config.StorageSQLite:
		s, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.StoragePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := pgstore.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pgstore.New(db), func() { _ = db.Close() }, nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return redisstore.New(client), func() { _ = client.Close() }, nil
	}
	return nil, nil, errors.New("unknown storage backend " + cfg.Storage)
}

// buildResolver assembles the tenant resolver from the tenant directory
// file and the optional JWT secret. With neither configured the server
// runs single-tenant.
func buildResolver(cfg *config.Config) (resolver.Resolver, error) {
	var static *resolver.StaticResolver
	if cfg.TenantsFile != "" {
		profiles, err := config.LoadTenants(cfg.TenantsFile)
		if err != nil {
			return nil, err
		}
		static = resolver.NewStatic()
		for i := range profiles {
			if err := static.AddTenant(profiles[i].Context(), profiles[i].Secret); err != nil {
				return nil, err
			}
		}
	}

	if cfg.JWTSecret != "" {
		opts := []resolver.JWTOption{}
		if cfg.JWTIssuer != "" {
			opts = append(opts, resolver.WithIssuer(cfg.JWTIssuer))
		}
		if static != nil {
			opts = append(opts, resolver.WithDirectory(static))
		}
		return resolver.NewJWT([]byte(cfg.JWTSecret), opts...), nil
	}
	if static != nil {
		return static, nil
	}
	return nil, nil
}

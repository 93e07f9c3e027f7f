package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pribylovaa/clinic-auth/internal/audit"
	"github.com/pribylovaa/clinic-auth/internal/config"
	"github.com/pribylovaa/clinic-auth/internal/credentials"
	"github.com/pribylovaa/clinic-auth/internal/ephemeral"
	"github.com/pribylovaa/clinic-auth/internal/lockout"
	"github.com/pribylovaa/clinic-auth/internal/metrics"
	"github.com/pribylovaa/clinic-auth/internal/revocation"
	"github.com/pribylovaa/clinic-auth/internal/service"
	"github.com/pribylovaa/clinic-auth/internal/storage"
	"github.com/pribylovaa/clinic-auth/internal/storage/memory"
	"github.com/pribylovaa/clinic-auth/internal/storage/mongo"
	"github.com/pribylovaa/clinic-auth/internal/storage/postgres"
	"github.com/pribylovaa/clinic-auth/internal/tokens"
	transport "github.com/pribylovaa/clinic-auth/internal/transport/http"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// stores - выбранные хранилища; pg заполнен, только если подключён Postgres.
type stores struct {
	users     storage.UserStore
	resources storage.ResourceStore
	pg        *postgres.Storage
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", "env", cfg.Env)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := run(rootCtx, cfg, log); err != nil {
		log.Error("service_failed", slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}

	log.Info("service_stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	creds, err := credentials.New(credentials.PolicyFrom(cfg.Password), cfg.Password.BcryptCost)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, creds, log)
	if err != nil {
		return err
	}
	if st.pg != nil {
		defer st.pg.Close()
	}

	registry, closeRegistry, err := openRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRegistry()

	sink, closeSink, err := openAuditSink(ctx, cfg, st, log)
	if err != nil {
		return err
	}
	defer closeSink()

	auditLog := audit.New(sink, log, cfg.Audit, audit.WithFailureHook(m.AuditFailure))


	srvc := service.New(service.Deps{
		Users:       st.users,
		Resources:   st.resources,
		Credentials: creds,
		Tokens:      tokens.New(cfg.Auth),
		Registry:    registry,
		Lockout:     lockout.New(st.users, cfg.Lockout),
		Ephemeral:   ephemeral.New(st.resources, cfg.ResourceToken),
		Audit:       auditLog,
		Metrics:     m,
	}, cfg.Timeouts)
	log.Info("service_initialized")

	// Фоновая очистка истёкших записей реестра отзыва.
	revocation.StartJanitor(ctx, registry, log, cfg.Revocation.PurgeInterval)

	var ready int32 // 0 - not ready; 1 - ready

	opsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr(),
		Handler:           opsMux(reg, st, &ready),
		ReadHeaderTimeout: 5 * time.Second,
	}

	apiSrv := &http.Server{
		Addr: cfg.HTTP.Addr(),
		Handler: transport.NewRouter(srvc, transport.Options{
			Logger:         log,
			Metrics:        m,
			Timeout:        cfg.Timeouts.Service,
			LoginPerMinute: cfg.RateLimit.LoginPerMinute,
			LoginBurst:     cfg.RateLimit.LoginBurst,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErrCh := make(chan error, 2)
	for _, srv := range []*http.Server{opsSrv, apiSrv} {
		go func(srv *http.Server) {
			log.Info("http_listen_start", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrCh <- err
			}
		}(srv)
	}

	atomic.StoreInt32(&ready, 1)

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case serveErr = <-serveErrCh:
		log.Error("http_serve_failed", slog.String("err", serveErr.Error()))
	}

	atomic.StoreInt32(&ready, 0)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_force_stop", slog.String("err", err.Error()))
	}
	_ = opsSrv.Shutdown(shutdownCtx)

	// Дописываем очередь журнала доступа до закрытия приёмника.
	if err := auditLog.Close(shutdownCtx); err != nil {
		log.Warn("audit_drain_incomplete", slog.String("err", err.Error()))
	}

	return serveErr
}

// openStores подключает Postgres. Без db_url (допустимо только в local)
// используются хранилища в памяти, заполненные из seed_file.
func openStores(ctx context.Context, cfg *config.Config, creds *credentials.Manager, log *slog.Logger) (*stores, error) {
	if cfg.DB.DatabaseURL == "" {
		if cfg.DB.SeedFile == "" {
			log.Warn("using_empty_memory_stores", slog.String("env", cfg.Env))
			return &stores{users: memory.NewUsers(), resources: memory.NewResources()}, nil
		}

		users, resources, err := loadSeed(cfg.DB.SeedFile, creds)
		if err != nil {
			log.Error("seed_load_failed", slog.String("err", err.Error()))
			return nil, err
		}
		log.Info("using_seeded_memory_stores", slog.String("env", cfg.Env), slog.String("seed_file", cfg.DB.SeedFile))

		return &stores{users: users, resources: resources}, nil
	}

	if cfg.DB.SeedFile != "" {
		log.Warn("seed_file_ignored_with_db_url")
	}

	dbCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pg, err := postgres.New(dbCtx, cfg.DB.DatabaseURL)
	if err != nil {
		log.Error("postgres_connect_failed", slog.String("err", err.Error()))
		return nil, err
	}
	log.Info("postgres_connected")

	return &stores{users: pg, resources: pg, pg: pg}, nil
}

// openRegistry выбирает реестр отзыва. Redis-реестр общий для всех экземпляров
// сервиса; перед ним ставится кэш положительных ответов.
func openRegistry(ctx context.Context, cfg *config.Config, log *slog.Logger) (revocation.Registry, func(), error) {
	if cfg.Revocation.Backend != config.RevocationRedis {
		return revocation.NewMemory(), func() {}, nil
	}

	rctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	rdb, err := revocation.NewRedis(rctx, cfg.Redis.RedisURL, "")
	if err != nil {
		log.Error("redis_connect_failed", slog.String("err", err.Error()))
		return nil, nil, err
	}
	log.Info("redis_connected")

	cached, err := revocation.NewCached(rdb, cfg.Revocation.CacheSize)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}

	return cached, func() { _ = rdb.Close() }, nil
}

// openAuditSink выбирает приёмник журнала доступа.
func openAuditSink(ctx context.Context, cfg *config.Config, st *stores, log *slog.Logger) (storage.AuditSink, func(), error) {
	switch cfg.Audit.Backend {
	case config.AuditMongo:
		mctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()

		sink, err := mongo.New(mctx, cfg.Mongo.MongoURL)
		if err != nil {
			log.Error("mongo_connect_failed", slog.String("err", err.Error()))
			return nil, nil, err
		}
		log.Info("mongo_connected")

		return sink, func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sink.Close(cctx)
		}, nil
	case config.AuditPostgres:
		if st.pg != nil {
			return st.pg, func() {}, nil
		}
		log.Warn("audit_postgres_unavailable_fallback_to_log")
	}

	return audit.NewLogSink(log), func() {}, nil
}

// opsMux - служебный HTTP: /livez, /healthz (готовность и доступность БД), /metrics.
func opsMux(g prometheus.Gatherer, st *stores, ready *int32) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(ready) != 1 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if st.pg != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := st.pg.Ping(ctx); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", metrics.Handler(g))

	return mux
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	}

	return log
}

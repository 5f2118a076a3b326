package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/ratekeeper/internal/api"
	"github.com/alecgard/ratekeeper/internal/auth"
	"github.com/alecgard/ratekeeper/internal/config"
	"github.com/alecgard/ratekeeper/internal/frames"
	"github.com/alecgard/ratekeeper/internal/metrics"
	"github.com/alecgard/ratekeeper/internal/ratelimit"
	"github.com/alecgard/ratekeeper/internal/rating"
	"github.com/alecgard/ratekeeper/internal/ratingconfig"
	"github.com/alecgard/ratekeeper/internal/tenant"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Ratekeeper API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() metrics.PoolStats {
		st := pool.Stat()
		return metrics.PoolStats{
			Total:         st.TotalConns(),
			Idle:          st.IdleConns(),
			Acquired:      st.AcquiredConns(),
			Max:           st.MaxConns(),
			EmptyAcquires: st.EmptyAcquireCount(),
			AcquireWait:   st.AcquireDuration(),
		}
	})

	configStore, err := ratingconfig.NewStore(cfg.Rating.RatesDir, cfg.Rating.LockDelay, cfg.Rating.LockStaleAfter)
	if err != nil {
		return err
	}
	configStore.SetMetrics(m)

	active := ratingconfig.NewCache(configStore)
	if cfg.Rating.WatchRatesDir {
		if err := active.Watch(ctx); err != nil {
			return err
		}
		defer active.Stop()
	} else if err := active.Refresh(ctx); err != nil {
		return err
	}

	frameStore := frames.NewStore(pool)
	frameStore.SetMonotonicWatermarks(cfg.Rating.MonotonicWatermarks)
	frameStore.SetMetrics(m)

	tenantStore := tenant.NewStore(pool)
	users := auth.NewLocalBackend(pool)

	var backend auth.Backend = users
	if cfg.Auth.Backend == "trusted_header" {
		backend = auth.NewTrustedHeaderBackend(cfg.Auth.UserHeader, cfg.Auth.GroupsHeader)
	}
	slog.Info("identity backend selected", "backend", cfg.Auth.Backend)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Requests > 0 {
		limiter = ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		stopSweep := make(chan struct{})
		defer close(stopSweep)
		go limiter.Run(cfg.RateLimit.Window, stopSweep)
		slog.Info("query rate limit enabled", "requests", cfg.RateLimit.Requests, "window", cfg.RateLimit.Window)
	}

	router := api.NewRouter(api.RouterDeps{
		Engine:         rating.NewEngine(pool),
		FrameStore:     frameStore,
		TenantStore:    tenantStore,
		Resolver:       tenant.NewResolver(tenantStore, cfg.Auth.AdminAccount),
		ConfigStore:    configStore,
		ActiveRules:    active,
		Backend:        backend,
		Users:          users,
		Metrics:        m,
		Limiter:        limiter,
		DB:             pool,
		Ranges:         rating.RangeDefaults{Skew: cfg.Rating.QuerySkew, Window: cfg.Rating.DefaultWindow},
		MaxBatchSize:   cfg.Ingest.MaxBatchSize,
		AdminKey:       cfg.Auth.AdminKey,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "rates_dir", cfg.Rating.RatesDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/sparkgate/sparkgate/internal/account"
	"github.com/sparkgate/sparkgate/internal/api"
	"github.com/sparkgate/sparkgate/internal/auth"
	"github.com/sparkgate/sparkgate/internal/catalog"
	"github.com/sparkgate/sparkgate/internal/chat"
	"github.com/sparkgate/sparkgate/internal/compress"
	"github.com/sparkgate/sparkgate/internal/config"
	"github.com/sparkgate/sparkgate/internal/executor"
	"github.com/sparkgate/sparkgate/internal/ledger"
	"github.com/sparkgate/sparkgate/internal/metrics"
	"github.com/sparkgate/sparkgate/internal/orchestrator"
	"github.com/sparkgate/sparkgate/internal/ratelimit"
	"github.com/sparkgate/sparkgate/internal/upstream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Sparkgate server",
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
	if err := cfg.Validate(); err != nil {
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
	m.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		stat := pool.Stat()
		return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
	})

	catalogStore := catalog.NewStore(pool)
	accountStore := account.NewStore(pool)
	ledgerStore := ledger.NewStore(pool)

	collector := ledger.NewCollector(ledgerStore, cfg.Ledger.BatchSize, cfg.Ledger.FlushInterval).WithMetrics(m)
	go collector.Start(ctx)

	client := upstream.NewClient(upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		APIKey:  cfg.Upstream.APIKey,
		Referer: cfg.Upstream.Referer,
		Title:   cfg.Upstream.Title,
		Timeout: cfg.Upstream.Timeout,
		OnBreakerReject: func(family string) {
			m.BreakerRejectionsTotal.WithLabelValues(family).Inc()
		},
	})

	exec := executor.New(client).WithMetrics(m)
	summarizer := compress.NewLLMSummarizer(client, cfg.Budget.SummaryModel)
	compressor := compress.New(summarizer).WithThreshold(cfg.Compress.Threshold)

	engine := orchestrator.NewEngine(exec, accountStore, collector, orchestrator.Options{
		Compressor:   compressor,
		SummaryModel: resolveSummaryModel(ctx, catalogStore, cfg.Budget.SummaryModel),
		Logger:       logger,
		Metrics:      m,
	})

	chatService := chat.NewService(exec, accountStore, collector, compressor, logger)

	tokenCodec, err := chat.NewCodec(cfg.Chat.TokenKey)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)
	authService := auth.NewService(accountStore).WithMetrics(m)

	router := api.NewRouter(api.RouterDeps{
		Engine:         engine,
		Chat:           chatService,
		Models:         catalogStore,
		Balances:       accountStore,
		Usage:          ledgerStore,
		Auth:           authService,
		Limiter:        limiter,
		Metrics:        m,
		Tokens:         tokenCodec,
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
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	collector.Stop()

	return srv.Shutdown(shutdownCtx)
}

// resolveSummaryModel looks the configured synthesis model up in the catalog
// so its pricing applies to summary charges. A model that is not in the
// catalog still works; it just settles at the flat transaction fee.
func resolveSummaryModel(ctx context.Context, store *catalog.Store, id string) catalog.Model {
	if m, err := store.GetByID(ctx, id); err == nil && m != nil {
		return *m
	}
	slog.Warn("summary model not in catalog, using flat-fee settlement", "model_id", id)
	return catalog.Model{
		ID:     id,
		Name:   id,
		Tier:   catalog.TierBasic,
		IsFree: true,
	}
}

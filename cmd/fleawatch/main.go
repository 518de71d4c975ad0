// Package main wires together the price tracker service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mfukuda/fleawatch/internal/api"
	"github.com/mfukuda/fleawatch/internal/artifact/local"
	"github.com/mfukuda/fleawatch/internal/browser"
	"github.com/mfukuda/fleawatch/internal/config"
	"github.com/mfukuda/fleawatch/internal/logging"
	"github.com/mfukuda/fleawatch/internal/metrics"
	"github.com/mfukuda/fleawatch/internal/notify"
	"github.com/mfukuda/fleawatch/internal/scheduler"
	"github.com/mfukuda/fleawatch/internal/storage/postgres"
	"github.com/mfukuda/fleawatch/internal/tracker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	chrome, err := browser.New(browser.Config{
		UserAgent:    cfg.Browser.UserAgent,
		NavTimeout:   cfg.Browser.NavTimeout(),
		SettleDelay:  cfg.Browser.SettleDelay(),
		RevealStepPx: cfg.Browser.RevealStepPx,
		HostQPS:      cfg.Browser.HostQPS,
	}, logger.Named("browser"))
	if err != nil {
		logger.Fatal("browser init failed", zap.Error(err))
	}
	defer chrome.Close()

	artifacts, err := local.New(local.Config{BaseDir: cfg.Artifacts.BaseDir})
	if err != nil {
		logger.Fatal("artifact store init failed", zap.Error(err))
	}

	webhook := notify.NewWebhook(notify.Config{
		URL:     cfg.Webhook.URL,
		Timeout: cfg.Webhook.Timeout(),
	}, logger.Named("notify"))

	clock := tracker.SystemClock{}
	extractor := tracker.NewExtractor(tracker.ExtractorConfig{
		ElementTimeout: cfg.Browser.ElementTimeout(),
	}, logger.Named("extractor"))
	collector := tracker.NewCollector(tracker.CollectorConfig{
		MaxRounds:     cfg.Search.MaxRounds,
		StableRounds:  cfg.Search.StableRounds,
		RevealActions: cfg.Search.RevealActions,
		SiteBaseURL:   cfg.Search.SiteBaseURL,
	}, artifacts, clock, logger.Named("collector"))
	runner := tracker.NewRunner(chrome, store, extractor, webhook, clock, logger.Named("runner"))
	service := tracker.NewService(tracker.ServiceConfig{
		SiteBaseURL:   cfg.Search.SiteBaseURL,
		SearchBaseURL: cfg.Search.SearchBaseURL,
	}, chrome, store, extractor, collector, runner, clock, logger.Named("service"))

	if cfg.Checker.Enabled {
		sched := scheduler.New(service, cfg.Checker.Interval(), logger.Named("scheduler"))
		go sched.Run(ctx)
	}

	apiServer := api.NewServer(service, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liamashdown/polyanalytics/internal/alerts"
	"github.com/liamashdown/polyanalytics/internal/analyzer"
	"github.com/liamashdown/polyanalytics/internal/api"
	"github.com/liamashdown/polyanalytics/internal/config"
	"github.com/liamashdown/polyanalytics/internal/ingest"
	"github.com/liamashdown/polyanalytics/internal/monitor"
	"github.com/liamashdown/polyanalytics/internal/polymarket"
	"github.com/liamashdown/polyanalytics/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting polyanalytics service...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	closeLog := configureLogger(log, cfg)
	defer closeLog()

	log.WithFields(logrus.Fields{
		"environment":       cfg.Environment,
		"market_id":         cfg.MarketID,
		"database_driver":   cfg.DatabaseDriver,
		"poll_interval":     cfg.PollInterval.String(),
		"whale_threshold":   cfg.WhaleThresholdUSD,
		"alert_mode":        cfg.AlertMode,
		"analyzer_workers":  cfg.WalletAnalyzerWorkers,
		"api_min_interval":  cfg.APIMinInterval.String(),
		"websocket_enabled": cfg.WSURL != "",
	}).Info("Configuration loaded")

	// Initialize database
	db, err := storage.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("Failed to run database migrations")
	}
	log.Info("Database migrations complete")

	// One client, one outbound gate, shared by every loop
	client := polymarket.NewClient(cfg, log)
	alertSender := alerts.NewFromConfig(cfg, log)
	log.WithField("senders", alertSender.Len()).Info("Alert sender initialized")

	poller := ingest.NewPoller(cfg, client, db, alertSender, log)
	walletAnalyzer := analyzer.NewWalletAnalyzer(cfg, db, client, log)
	marketAnalyzer := analyzer.NewMarketAnalyzer(cfg, db, client, log)

	monitorOpts := monitor.OptionsFromConfig(cfg)
	monitorOpts.Assets = monitor.AssetFunc(func(ctx context.Context) ([]string, error) {
		return db.DistinctTokens(ctx, cfg.MarketID)
	})
	monitorOpts.OnTradeEvent = func(eventType string) {
		if poller.Trigger() {
			log.WithField("event_type", eventType).Debug("Trade event triggered an early poll")
		}
	}
	mon := monitor.New(monitorOpts, log)

	services := api.Services{
		Poller:         poller,
		WalletAnalyzer: walletAnalyzer,
		MarketAnalyzer: marketAnalyzer,
	}
	if cfg.WSURL != "" {
		services.Monitor = mon
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.NewServer(cfg, db, services, log).Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error { return walletAnalyzer.Run(ctx) })
	g.Go(func() error { return marketAnalyzer.Run(ctx) })
	if cfg.WSURL != "" {
		g.Go(func() error { return mon.Run(ctx) })
	} else {
		log.Info("WS_URL empty, realtime monitor disabled")
	}

	g.Go(func() error {
		log.WithField("port", cfg.HTTPPort).Info("Starting HTTP server (API + health + metrics)")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")

		poller.Stop()
		mon.Stop()
		walletAnalyzer.Stop()
		marketAnalyzer.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Service stopped with error")
	}
	log.Info("Graceful shutdown complete")
}

// configureLogger applies LOG_LEVEL and, when LOG_FILE is set, tees output into a
// rotating file. The returned func closes the file.
func configureLogger(log *logrus.Logger, cfg *config.Config) func() {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("Unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogFile == "" {
		return func() {}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, file))
	log.WithField("file", cfg.LogFile).Info("File logging enabled")

	return func() { _ = file.Close() }
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rpi-tgbot-go/internal/bot"
	"github.com/rpi-tgbot-go/internal/config"
	"github.com/rpi-tgbot-go/internal/middleware"
	"github.com/rpi-tgbot-go/internal/services/storage"
	"github.com/rpi-tgbot-go/internal/supervisor"
	"github.com/rpi-tgbot-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "settings.json", "Path to settings file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Warning: failed to load %s: %v\n", *envFile, err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load settings: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting Telegram Bot...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := middleware.NewMetrics()

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	defer storageManager.Close()

	b, err := bot.New(cfg, storageManager, metrics, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutdown signal received")
		cancel()
	}()

	opts := supervisor.Options{
		MaxRetries: cfg.Connection.MaxRetries,
		RetryDelay: cfg.Connection.RetryDelay(),
	}
	if err := supervisor.Run(ctx, opts, b.Run, metrics, log); err != nil {
		log.WithError(err).Error("Bot stopped")
		storageManager.Close()
		os.Exit(1)
	}

	log.Info("Bot stopped")
}

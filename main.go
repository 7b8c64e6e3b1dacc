package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"liquiflow/config"
	"liquiflow/internal/channel"
	"liquiflow/internal/collector"
	"liquiflow/internal/engine"
	"liquiflow/internal/exchange"
	"liquiflow/internal/executor"
	"liquiflow/internal/health"
	"liquiflow/internal/strategy"
	"liquiflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Liquiflow.Name,
		"version": cfg.Liquiflow.Version,
	}).Info("starting liquiflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.InitCloudWatch("", "Liquiflow", cfg.Logging.DashboardName)
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(
		cfg.Engine.EventQueueSize,
		cfg.Engine.ActionQueueSize,
	)
	defer channels.Close()

	client, err := exchange.NewOrderlyClient(
		cfg.Orderly.RestEndpoint,
		cfg.Orderly.AccountID,
		cfg.Orderly.OrderlyKey,
		cfg.Orderly.OrderlySecret,
	)
	if err != nil {
		log.WithError(err).Error("failed to create exchange client")
		os.Exit(1)
	}

	eng := engine.NewEngine(channels, cfg.Collector.StartTimeout)
	eng.AddCollector(collector.NewRestCollector(client, cfg.Collector))
	eng.AddCollector(collector.NewWsCollector(cfg.Orderly.WsPublicEndpoint, cfg.Orderly.AccountID, cfg.Collector))
	eng.AddStrategy(strategy.NewDirectStrategy(cfg.Strategy.MaxEventAge))
	eng.AddExecutor(executor.NewOrderlyExecutor(client, cfg.Executor))

	healthServer := health.NewServer(cfg.App.Port, channels, log)
	go func() {
		if err := healthServer.Run(ctx); err != nil {
			log.WithError(err).Warn("health server stopped")
		}
	}()

	engineErr := make(chan error, 1)
	go func() {
		engineErr <- eng.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-engineErr:
		if err != nil {
			log.WithError(err).Error("engine failed")
			log.Info("liquiflow stopped")
			os.Exit(1)
		}
		log.Info("liquiflow stopped")
		return
	}

	log.Info("starting graceful shutdown")
	cancel()

	select {
	case <-engineErr:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("liquiflow stopped")
}

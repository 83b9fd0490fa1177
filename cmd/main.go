package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"bhyvesync/internal/api"
	"bhyvesync/internal/bhyve"
	"bhyvesync/internal/config"
	"bhyvesync/internal/mqttpub"
	"bhyvesync/internal/syncer"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	username := os.Getenv("BHYVE_USERNAME")
	password := os.Getenv("BHYVE_PASSWORD")
	if username == "" || password == "" {
		logger.Fatal("BHYVE_USERNAME and BHYVE_PASSWORD environment variables must be set")
	}

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal("Failed to load config", zap.String("path", *configPath), zap.Error(err))
		}
	}

	logger.Info("Starting BHyve Sync",
		zap.String("base_url", cfg.BaseURL),
		zap.Duration("poll_interval", cfg.PollInterval.Std()))

	client := bhyve.NewClient(username, password, cfg.BaseURL, cfg.WSURL, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Login(ctx); err != nil {
		logger.Fatal("Failed to log in", zap.Error(err))
	}
	logger.Info("Logged in to BHyve")

	sync := syncer.New(client, syncer.Config{
		PollInterval:     cfg.PollInterval.Std(),
		ReconnectInitial: cfg.ReconnectInitial.Std(),
		ReconnectMax:     cfg.ReconnectMax.Std(),
	}, nil, logger)

	if err := sync.Start(ctx); err != nil {
		logger.Fatal("Failed to start synchronizer", zap.Error(err))
	}
	defer sync.Shutdown()

	server := api.NewServer(sync, logger, cfg.APIPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}
	defer server.Stop()

	var bridge *mqttpub.Bridge
	var publisher mqttpub.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = mqttpub.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			logger.Fatal("Failed to connect to MQTT broker",
				zap.String("broker", cfg.MQTT.Broker),
				zap.Error(err))
		}
		defer publisher.Close()

		bridge = mqttpub.NewBridge(sync, publisher, cfg.MQTT.TopicPrefix, nil, logger)
		bridge.Start()
		defer bridge.Stop()

		logger.Info("Publishing device state to MQTT",
			zap.String("broker", cfg.MQTT.Broker),
			zap.String("topic_prefix", cfg.MQTT.TopicPrefix))
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.")

	<-sigChan

	logger.Info("Shutting down gracefully...")
}

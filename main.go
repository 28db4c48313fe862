package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"legendflow/config"
	"legendflow/internal/channel"
	"legendflow/internal/health"
	"legendflow/internal/pipeline"
	"legendflow/internal/source"
	"legendflow/logger"
	"legendflow/writer"
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
		"service": cfg.Legendflow.Name,
		"version": cfg.Legendflow.Version,
	}).Info("starting legendflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}
	if cfg.Metrics.ReportEach > 0 {
		logger.StartReport(ctx, log, cfg.Metrics.ReportEach)
	}

	channels := channel.NewChannels(cfg.Channels.FrameBuffer)
	defer channels.Close()

	var archiver *writer.Archiver
	if cfg.Storage.S3.Enabled {
		archiver, err = writer.NewArchiver(cfg)
		if err != nil {
			log.WithError(err).Error("failed to create S3 archiver")
			os.Exit(1)
		}
	}

	var onCompressed func(string)
	if archiver != nil {
		onCompressed = archiver.Enqueue
	}
	compressor := writer.NewCompressor(cfg.Rotation.Compressors, onCompressed)

	policy := writer.Policy{
		MaxBytes:     cfg.Rotation.MaxBytes,
		MaxAge:       time.Duration(cfg.Rotation.MaxAgeMinutes) * time.Minute,
		GzipOnRotate: cfg.Rotation.GzipOnRotate,
	}

	tracker := health.NewTracker()
	router := writer.NewRouter(cfg.Storage.Dir, cfg.Storage.Prefix, policy, compressor, tracker)
	statsSink := writer.NewStatsSink(cfg.Storage.Dir, policy, compressor)

	var barPublisher *writer.BarPublisher
	if cfg.Storage.Kafka.Enabled {
		barPublisher, err = writer.NewBarPublisher(cfg.Storage.Kafka.Brokers, cfg.Storage.Kafka.Topic, router.RunID())
		if err != nil {
			log.WithError(err).Error("failed to create kafka publisher")
			os.Exit(1)
		}
	}

	var barArchive *writer.BarArchive
	if cfg.Storage.Parquet.Enabled {
		barArchive = writer.NewBarArchive(cfg.Storage.Parquet.Dir)
	}

	pipe := pipeline.NewPipeline(cfg, channels, router, statsSink, barPublisher, barArchive)
	frameSource := source.NewSource(cfg, channels)

	hours, err := health.NewMarketHours(
		cfg.Health.MarketHours.Timezone,
		cfg.Health.MarketHours.Open,
		cfg.Health.MarketHours.Close,
	)
	if err != nil {
		log.WithError(err).Error("failed to parse market hours")
		os.Exit(1)
	}

	monitor := health.NewMonitor(health.Config{
		HeartbeatInterval: cfg.Health.HeartbeatInterval,
		HealthInterval:    cfg.Health.HealthInterval,
		WatchdogInterval:  cfg.Health.WatchdogInterval,
		WarnCooldown:      cfg.Health.WarnCooldown,
		LagThresholds:     cfg.Health.LagThresholds,
		StallThreshold:    cfg.Health.StallThreshold,
		ReconnectCooldown: cfg.Health.ReconnectCooldown,
	}, tracker, hours, pipe.Heartbeat, frameSource.Reconnect)

	if err := pipe.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start pipeline")
		os.Exit(1)
	}
	if err := frameSource.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start frame source")
		os.Exit(1)
	}
	if err := monitor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start health monitor")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping health monitor")
	monitor.Stop()

	log.Info("stopping frame source")
	frameSource.Stop()

	log.Info("stopping pipeline")
	pipe.Stop()

	log.Info("waiting for background compression")
	if !compressor.WaitTimeout(30 * time.Second) {
		log.Warn("compression queue did not drain before timeout")
	}
	if archiver != nil && !archiver.WaitTimeout(30*time.Second) {
		log.Warn("archive uploads did not drain before timeout")
	}

	log.Info("legendflow stopped")
}

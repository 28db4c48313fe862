package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"legendflow/models"
)

type Config struct {
	Legendflow LegendflowConfig `yaml:"legendflow"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Source     SourceConfig     `yaml:"source"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Rotation   RotationConfig   `yaml:"rotation"`
	Storage    StorageConfig    `yaml:"storage"`
	Health     HealthConfig     `yaml:"health"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type LegendflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	FrameBuffer int `yaml:"frame_buffer"`
}

type SourceConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	StreamerPattern string        `yaml:"streamer_pattern"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	RedialInterval  time.Duration `yaml:"redial_interval"`
}

type PipelineConfig struct {
	Symbols    []string `yaml:"symbols"`
	Timeframes []string `yaml:"timeframes"`
}

type RotationConfig struct {
	MaxBytes      int64 `yaml:"max_bytes"`
	MaxAgeMinutes int   `yaml:"max_age_minutes"`
	GzipOnRotate  bool  `yaml:"gzip_on_rotate"`
	Compressors   int   `yaml:"compressors"`
}

type StorageConfig struct {
	Dir     string        `yaml:"dir"`
	Prefix  string        `yaml:"prefix"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	S3      S3Config      `yaml:"s3"`
	Parquet ParquetConfig `yaml:"parquet"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	KeyPrefix       string `yaml:"key_prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	RemoveLocal     bool   `yaml:"remove_local"`
}

type ParquetConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type HealthConfig struct {
	HeartbeatInterval time.Duration            `yaml:"heartbeat_interval"`
	HealthInterval    time.Duration            `yaml:"health_interval"`
	WatchdogInterval  time.Duration            `yaml:"watchdog_interval"`
	WarnCooldown      time.Duration            `yaml:"warn_cooldown"`
	StallThreshold    time.Duration            `yaml:"stall_threshold"`
	ReconnectCooldown time.Duration            `yaml:"reconnect_cooldown"`
	LagThresholds     map[string]time.Duration `yaml:"lag_thresholds"`
	MarketHours       MarketHoursConfig        `yaml:"market_hours"`
}

type MarketHoursConfig struct {
	Timezone string `yaml:"timezone"`
	Open     string `yaml:"open"`
	Close    string `yaml:"close"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
	ReportEach time.Duration    `yaml:"report_each"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Channels: ChannelsConfig{FrameBuffer: 4096},
		Source: SourceConfig{
			StreamerPattern: "streamer",
			DialTimeout:     15 * time.Second,
			RedialInterval:  5 * time.Second,
		},
		Pipeline: PipelineConfig{Timeframes: []string{"1min", "5min", "15min", "1h", "1d"}},
		Rotation: RotationConfig{
			MaxBytes:      64 * 1024 * 1024,
			MaxAgeMinutes: 60,
			GzipOnRotate:  true,
			Compressors:   2,
		},
		Storage: StorageConfig{Dir: "data", Prefix: "stream"},
		Health: HealthConfig{
			HeartbeatInterval: 5 * time.Second,
			HealthInterval:    30 * time.Second,
			WatchdogInterval:  15 * time.Second,
			WarnCooldown:      60 * time.Second,
			StallThreshold:    90 * time.Second,
			ReconnectCooldown: 120 * time.Second,
			MarketHours: MarketHoursConfig{
				Timezone: "America/New_York",
				Open:     "09:30",
				Close:    "16:00",
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{ReportEach: 30 * time.Second},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Timeframes resolves the configured timeframe tokens. Invalid tokens were
// already rejected during validation.
func (c *Config) Timeframes() []models.Timeframe {
	out := make([]models.Timeframe, 0, len(c.Pipeline.Timeframes))
	for _, s := range c.Pipeline.Timeframes {
		tf, err := models.ParseTimeframe(s)
		if err != nil {
			continue
		}
		out = append(out, tf)
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.Legendflow.Name == "" {
		return fmt.Errorf("legendflow.name is required")
	}

	if cfg.Legendflow.Version == "" {
		return fmt.Errorf("legendflow.version is required")
	}

	if cfg.Channels.FrameBuffer <= 0 {
		return fmt.Errorf("channels.frame_buffer must be greater than 0")
	}

	if len(cfg.Pipeline.Symbols) == 0 {
		return fmt.Errorf("pipeline.symbols is required")
	}

	for _, s := range cfg.Pipeline.Timeframes {
		if _, err := models.ParseTimeframe(s); err != nil {
			return fmt.Errorf("pipeline.timeframes: %w", err)
		}
	}

	if cfg.Rotation.MaxBytes <= 0 && cfg.Rotation.MaxAgeMinutes <= 0 {
		return fmt.Errorf("rotation requires max_bytes or max_age_minutes")
	}

	if cfg.Health.HeartbeatInterval <= 0 || cfg.Health.HealthInterval <= 0 || cfg.Health.WatchdogInterval <= 0 {
		return fmt.Errorf("health intervals must be greater than 0")
	}

	if _, err := time.LoadLocation(cfg.Health.MarketHours.Timezone); err != nil {
		return fmt.Errorf("health.market_hours.timezone '%s' is invalid: %w", cfg.Health.MarketHours.Timezone, err)
	}

	if cfg.Storage.Kafka.Enabled && len(cfg.Storage.Kafka.Brokers) == 0 {
		return fmt.Errorf("storage.kafka.brokers is required when kafka is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

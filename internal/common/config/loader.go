package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like OPENAI_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored if absent.
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideFromEnv(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "voxnote"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = ":9090"
	}

	if cfg.Database.Postgres.Host == "" {
		cfg.Database.Postgres.Host = "localhost"
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = "localhost:6379"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "transcripts"
	}

	if cfg.Messaging.Driver == "" {
		cfg.Messaging.Driver = "webclient"
	}
	if cfg.Messaging.BridgeURL == "" {
		cfg.Messaging.BridgeURL = "ws://localhost:3000/ws"
	}
	if cfg.Messaging.CredentialDir == "" {
		cfg.Messaging.CredentialDir = "data/sessions"
	}
	if cfg.Messaging.QRSize == 0 {
		cfg.Messaging.QRSize = 256
	}
	if cfg.Messaging.PairingRetries == 0 {
		cfg.Messaging.PairingRetries = 10
	}
	if cfg.Messaging.PairingRetryMillis == 0 {
		cfg.Messaging.PairingRetryMillis = 500
	}
	if cfg.Messaging.QueueSize == 0 {
		cfg.Messaging.QueueSize = 256
	}
	if cfg.Messaging.Workers == 0 {
		cfg.Messaging.Workers = 8
	}

	if cfg.OpenAI.WhisperModel == "" {
		cfg.OpenAI.WhisperModel = "whisper-1"
	}
	if cfg.OpenAI.ChatModel == "" {
		cfg.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if cfg.OpenAI.RequestTimeout == 0 {
		cfg.OpenAI.RequestTimeout = 120
	}

	if cfg.Cache.LocalMaxEntries == 0 {
		cfg.Cache.LocalMaxEntries = 1024
	}
	if cfg.Cache.CompressionMinLen == 0 {
		cfg.Cache.CompressionMinLen = 4096
	}

	if cfg.Pipeline.TempDir == "" {
		cfg.Pipeline.TempDir = os.TempDir()
	}
	if cfg.Pipeline.DownloadTimeout == 0 {
		cfg.Pipeline.DownloadTimeout = 60
	}
	if cfg.Pipeline.ProbeTimeout == 0 {
		cfg.Pipeline.ProbeTimeout = 15
	}
	if cfg.Pipeline.ConvertTimeout == 0 {
		cfg.Pipeline.ConvertTimeout = 60
	}

	if cfg.Pricing.PerMinuteRate == 0 {
		cfg.Pricing.PerMinuteRate = 0.006
	}
	if cfg.Pricing.SummaryCost == 0 {
		cfg.Pricing.SummaryCost = 0.001
	}

	if cfg.Notifications.ScanInterval == 0 {
		cfg.Notifications.ScanInterval = 300
	}
	if cfg.Notifications.AWSRegion == "" {
		cfg.Notifications.AWSRegion = "us-east-1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Database.Postgres.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Database.Redis.Password = v
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if cfg.OpenAI.APIKey == "" && cfg.App.Environment != "development" {
		return fmt.Errorf("openai.api_key is required outside development")
	}
	if cfg.Messaging.Workers < 1 {
		return fmt.Errorf("messaging.workers must be positive")
	}
	return nil
}

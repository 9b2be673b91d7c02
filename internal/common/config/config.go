package config

import "fmt"

type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Messaging     MessagingConfig    `mapstructure:"messaging"`
	OpenAI        OpenAIConfig       `mapstructure:"openai"`
	Cache         CacheConfig        `mapstructure:"cache"`
	Pipeline      PipelineConfig     `mapstructure:"pipeline"`
	Pricing       PricingConfig      `mapstructure:"pricing"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
	Enabled   bool     `mapstructure:"enabled"`
}

type MessagingConfig struct {
	Driver             string `mapstructure:"driver"`         // registered protocol engine name
	BridgeURL          string `mapstructure:"bridge_url"`     // websocket endpoint of the automation engine
	CredentialDir      string `mapstructure:"credential_dir"` // per-user session artifacts live under here
	QRSize             int    `mapstructure:"qr_size"`        // pairing artifact PNG edge in pixels
	PairingRetries     int    `mapstructure:"pairing_retries"`
	PairingRetryMillis int    `mapstructure:"pairing_retry_millis"`
	QueueSize          int    `mapstructure:"queue_size"` // inbound voice-note work queue
	Workers            int    `mapstructure:"workers"`    // concurrent pipeline runners
}

type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	WhisperModel   string `mapstructure:"whisper_model"`
	ChatModel      string `mapstructure:"chat_model"`
	RequestTimeout int    `mapstructure:"request_timeout"` // seconds
}

type CacheConfig struct {
	LocalMaxEntries   int `mapstructure:"local_max_entries"`
	CompressionMinLen int `mapstructure:"compression_min_len"` // bytes; larger values gzip before Redis
}

type PipelineConfig struct {
	TempDir         string `mapstructure:"temp_dir"`
	DownloadTimeout int    `mapstructure:"download_timeout"` // seconds
	ProbeTimeout    int    `mapstructure:"probe_timeout"`    // seconds
	ConvertTimeout  int    `mapstructure:"convert_timeout"`  // seconds
}

type PricingConfig struct {
	PerMinuteRate  float64 `mapstructure:"per_minute_rate"`
	SummaryCost    float64 `mapstructure:"summary_cost"`
	PlanCatalogURI string  `mapstructure:"plan_catalog_uri"` // path to plans.json; empty uses built-in defaults
}

type NotificationConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	AWSRegion    string `mapstructure:"aws_region"`
	SESEnabled   bool   `mapstructure:"ses_enabled"`
	SESFromEmail string `mapstructure:"ses_from_email"`
	SNSEnabled   bool   `mapstructure:"sns_enabled"`
	SNSTopicARN  string `mapstructure:"sns_topic_arn"`
	ScanInterval int    `mapstructure:"scan_interval"` // seconds between quota threshold scans
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

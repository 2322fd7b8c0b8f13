package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"villaops/internal/models"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig          `yaml:"app"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Telegram      TelegramConfig     `yaml:"telegram"`
	SMTP          SMTPConfig         `yaml:"smtp"`
	Backup        BackupConfig       `yaml:"backup"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
	API           APIConfig          `yaml:"api"`
	Sweeps        SweepsConfig       `yaml:"sweeps"`
	Notifications NotificationConfig `yaml:"notifications"`
	Staff         StaffConfig        `yaml:"staff"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	InstanceID  string `yaml:"instance_id"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

// SMTPConfig configures the email channel. An empty host disables it.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig configures the delivery queue, dedupe store and event relay. An empty
// address runs everything in process.
type RedisConfig struct {
	Address      string `yaml:"address"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	EventChannel string `yaml:"event_channel"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type SweepsConfig struct {
	CheckoutSchedule        string `yaml:"checkout_schedule"`
	TimeoutSchedule         string `yaml:"timeout_schedule"`
	OfferTimeoutMinutes     int    `yaml:"offer_timeout_minutes"`
	JobAcceptedTimeoutHours int    `yaml:"job_accepted_timeout_hours"`
	JobStartedTimeoutHours  int    `yaml:"job_started_timeout_hours"`
}

func (s SweepsConfig) OfferTimeout() time.Duration {
	return time.Duration(s.OfferTimeoutMinutes) * time.Minute
}

func (s SweepsConfig) JobAcceptedTimeout() time.Duration {
	return time.Duration(s.JobAcceptedTimeoutHours) * time.Hour
}

func (s SweepsConfig) JobStartedTimeout() time.Duration {
	return time.Duration(s.JobStartedTimeoutHours) * time.Hour
}

type NotificationConfig struct {
	Channels      []string      `yaml:"channels"`
	QueueSize     int           `yaml:"queue_size"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	DedupeTTL     time.Duration `yaml:"dedupe_ttl"`
}

type StaffConfig struct {
	RosterPath string `yaml:"roster_path"`
}

// Load reads configPath after applying an optional .env file and expanding environment
// variables in the YAML.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	if path := os.Getenv("STAFF_PATH"); path != "" {
		config.Staff.RosterPath = path
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		return errors.New("telegram bot token is a placeholder")
	}

	for name, spec := range map[string]string{
		"sweeps.checkout_schedule": c.Sweeps.CheckoutSchedule,
		"sweeps.timeout_schedule":  c.Sweeps.TimeoutSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Backup.Enabled {
		if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
			return fmt.Errorf("backup.schedule: %w", err)
		}
	}
	if c.Sweeps.OfferTimeoutMinutes < 0 || c.Sweeps.JobAcceptedTimeoutHours < 0 || c.Sweeps.JobStartedTimeoutHours < 0 {
		return errors.New("sweep thresholds must be positive")
	}

	for _, ch := range c.Notifications.Channels {
		switch models.Channel(ch) {
		case models.ChannelInApp, models.ChannelPush, models.ChannelEmail:
		default:
			return fmt.Errorf("unknown notification channel %q", ch)
		}
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "villaops"
	}
	if c.App.InstanceID == "" {
		if host, err := os.Hostname(); err == nil {
			c.App.InstanceID = host
		}
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Redis.EventChannel == "" {
		c.Redis.EventChannel = "villaops:events"
	}

	// Sweep defaults
	if c.Sweeps.CheckoutSchedule == "" {
		c.Sweeps.CheckoutSchedule = models.DefaultCheckoutSweepSpec
	}
	if c.Sweeps.TimeoutSchedule == "" {
		c.Sweeps.TimeoutSchedule = models.DefaultTimeoutSweepSpec
	}
	if c.Sweeps.OfferTimeoutMinutes == 0 {
		c.Sweeps.OfferTimeoutMinutes = int(models.DefaultOfferTimeout / time.Minute)
	}
	if c.Sweeps.JobAcceptedTimeoutHours == 0 {
		c.Sweeps.JobAcceptedTimeoutHours = int(models.DefaultJobAcceptedTimeout / time.Hour)
	}
	if c.Sweeps.JobStartedTimeoutHours == 0 {
		c.Sweeps.JobStartedTimeoutHours = int(models.DefaultJobStartedTimeout / time.Hour)
	}

	// Notification defaults
	if len(c.Notifications.Channels) == 0 {
		c.Notifications.Channels = []string{string(models.ChannelInApp), string(models.ChannelPush)}
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = models.DeliveryQueueSize
	}
	if c.Notifications.DedupeTTL == 0 {
		c.Notifications.DedupeTTL = models.DedupeTTL
	}

	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 3 * * *"
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 14
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
}

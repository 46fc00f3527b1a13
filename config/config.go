package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseConfig   DatabaseConfig   `json:"database"`
	ServerConfig     ServerConfig     `json:"server"`
	RedisConfig      RedisConfig      `json:"redis"`
	TelegramConfig   TelegramConfig   `json:"telegram"`
	MarketDataConfig MarketDataConfig `json:"marketdata"`
	VaultConfig      VaultConfig      `json:"vault"`
	SchedulerConfig  SchedulerConfig  `json:"scheduler"`
	LoggingConfig    LoggingConfig    `json:"logging"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// ServerConfig holds HTTP API server settings
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	ProductionMode  bool   `json:"production_mode"`
	AllowedOrigins  string `json:"allowed_origins"`  // comma-separated CORS origins
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// Origins splits the comma-separated origin list
func (c ServerConfig) Origins() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RedisConfig holds Redis settings for market data caching
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// TelegramConfig holds the ingest bot and notification settings.
// The ingest token reads channel posts; notifications go to NotifyChatID.
type TelegramConfig struct {
	Enabled      bool   `json:"enabled"`
	BotToken     string `json:"bot_token"`
	NotifyChatID int64  `json:"notify_chat_id"`
}

// MarketDataConfig holds the OHLC provider settings
type MarketDataConfig struct {
	BaseURL       string   `json:"base_url"`
	WSURL         string   `json:"ws_url"`
	Interval      string   `json:"interval"`       // bar size, e.g. "60" for hourly
	StreamTickers []string `json:"stream_tickers"` // tickers to follow on the quote stream
}

// VaultConfig holds HashiCorp Vault settings for credential storage
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// SchedulerConfig holds the pipeline cadence
type SchedulerConfig struct {
	ParseSpec        string `json:"parse_spec"`
	DetectSpec       string `json:"detect_spec"`
	CleanupSpec      string `json:"cleanup_spec"`
	ReloadSpec       string `json:"reload_spec"`
	ParseBatch       int    `json:"parse_batch"`
	EventMaxAgeHours int    `json:"event_max_age_hours"`
	RunRetentionDays int    `json:"run_retention_days"`
}

// EventMaxAge returns the stale-event cutoff as a duration
func (c SchedulerConfig) EventMaxAge() time.Duration {
	return time.Duration(c.EventMaxAgeHours) * time.Hour
}

// RunRetention returns the backtest-run retention window as a duration
func (c SchedulerConfig) RunRetention() time.Duration {
	return time.Duration(c.RunRetentionDays) * 24 * time.Hour
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // JSON output instead of console writer
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultStr(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultStr(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultStr(cfg.DatabaseConfig.Database, "signals"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", defaultStr(cfg.DatabaseConfig.SSLMode, "disable"))

	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", defaultInt(cfg.ServerConfig.Port, 8088))
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", defaultStr(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", boolStr(cfg.ServerConfig.ProductionMode)) == "true"
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultStr(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Telegram config
	cfg.TelegramConfig.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", boolStr(cfg.TelegramConfig.Enabled)) == "true"
	cfg.TelegramConfig.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.TelegramConfig.BotToken)
	cfg.TelegramConfig.NotifyChatID = getEnvInt64OrDefault("TELEGRAM_NOTIFY_CHAT_ID", cfg.TelegramConfig.NotifyChatID)

	// Market data config
	cfg.MarketDataConfig.BaseURL = getEnvOrDefault("MARKETDATA_BASE_URL", defaultStr(cfg.MarketDataConfig.BaseURL, "https://iss.moex.com/iss"))
	cfg.MarketDataConfig.WSURL = getEnvOrDefault("MARKETDATA_WS_URL", cfg.MarketDataConfig.WSURL)
	cfg.MarketDataConfig.Interval = getEnvOrDefault("MARKETDATA_INTERVAL", defaultStr(cfg.MarketDataConfig.Interval, "60"))
	if raw := os.Getenv("MARKETDATA_STREAM_TICKERS"); raw != "" {
		cfg.MarketDataConfig.StreamTickers = nil
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.MarketDataConfig.StreamTickers = append(cfg.MarketDataConfig.StreamTickers, t)
			}
		}
	}

	// Vault config
	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", defaultStr(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultStr(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", boolStr(cfg.VaultConfig.TLSEnabled)) == "true"
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CA_CERT", cfg.VaultConfig.CACert)

	// Scheduler config
	cfg.SchedulerConfig.ParseSpec = getEnvOrDefault("SCHEDULER_PARSE_SPEC", defaultStr(cfg.SchedulerConfig.ParseSpec, "@every 1m"))
	cfg.SchedulerConfig.DetectSpec = getEnvOrDefault("SCHEDULER_DETECT_SPEC", defaultStr(cfg.SchedulerConfig.DetectSpec, "@every 1m"))
	cfg.SchedulerConfig.CleanupSpec = getEnvOrDefault("SCHEDULER_CLEANUP_SPEC", defaultStr(cfg.SchedulerConfig.CleanupSpec, "@every 10m"))
	cfg.SchedulerConfig.ReloadSpec = getEnvOrDefault("SCHEDULER_RELOAD_SPEC", defaultStr(cfg.SchedulerConfig.ReloadSpec, "@every 5m"))
	cfg.SchedulerConfig.ParseBatch = getEnvIntOrDefault("SCHEDULER_PARSE_BATCH", defaultInt(cfg.SchedulerConfig.ParseBatch, 500))
	cfg.SchedulerConfig.EventMaxAgeHours = getEnvIntOrDefault("SCHEDULER_EVENT_MAX_AGE_HOURS", defaultInt(cfg.SchedulerConfig.EventMaxAgeHours, 24))
	cfg.SchedulerConfig.RunRetentionDays = getEnvIntOrDefault("SCHEDULER_RUN_RETENTION_DAYS", defaultInt(cfg.SchedulerConfig.RunRetentionDays, 30))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultStr(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolStr(cfg.LoggingConfig.JSONFormat)) == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func defaultStr(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

func defaultInt(current, fallback int) int {
	if current != 0 {
		return current
	}
	return fallback
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

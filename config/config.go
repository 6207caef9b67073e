// Package config loads application settings from config.json with
// environment variable overrides. Environment values take precedence so
// deployments can run from env alone.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/database"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/notification"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/risk"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/vault"
)

type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     database.Config    `json:"database"`
	Redis        RedisConfig        `json:"redis"`
	Vault        vault.Config       `json:"vault"`
	Auth         AuthConfig         `json:"auth"`
	Notification NotificationConfig `json:"notification"`
	Risk         risk.Config        `json:"risk"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Logging      LoggingConfig      `json:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	ProductionMode  bool     `json:"production_mode"`
	AllowedOrigins  []string `json:"allowed_origins"`
	ShutdownTimeout int      `json:"shutdown_timeout"` // seconds
}

// RedisConfig holds the alert store backend. With Enabled false alerts live
// in process memory.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

// NotificationConfig groups the delivery providers.
type NotificationConfig struct {
	Enabled  bool                        `json:"enabled"`
	Telegram notification.TelegramConfig `json:"telegram"`
	Discord  notification.DiscordConfig  `json:"discord"`
}

// SchedulerConfig holds the trading tick cadence.
type SchedulerConfig struct {
	Timezone           string `json:"timezone"`             // default Asia/Seoul
	TickIntervalMin    int    `json:"tick_interval_min"`    // minutes between ticks
	TickDeadlineSec    int    `json:"tick_deadline_sec"`    // per-tick budget
	MaxConcurrentUsers int    `json:"max_concurrent_users"` // bounded broker fan-out
}

type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Output string `json:"output"` // stdout, stderr, or file path
	Pretty bool   `json:"pretty"` // console writer instead of JSON
}

// Load reads config.json if present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = newBaseConfig()
	}
	applyEnvOverrides(cfg)

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variables over the file config.
// Brokerage credentials are never read here: they are per-user and live in
// Vault.
func applyEnvOverrides(cfg *Config) {
	// Server
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", defaultStr(cfg.Server.Host, "0.0.0.0"))
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.Server.Port, 8080))
	cfg.Server.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", boolStr(cfg.Server.ProductionMode)) == "true"
	cfg.Server.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.Server.ShutdownTimeout, 10))

	// Database
	cfg.Database.Host = getEnvOrDefault("DB_HOST", defaultStr(cfg.Database.Host, "localhost"))
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.Database.Port, 5432))
	cfg.Database.User = getEnvOrDefault("DB_USER", defaultStr(cfg.Database.User, "kingsick"))
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnvOrDefault("DB_NAME", defaultStr(cfg.Database.Database, "kingsick"))
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultStr(cfg.Database.SSLMode, "disable"))

	// Redis
	cfg.Redis.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.Redis.Enabled)) == "true"
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", defaultStr(cfg.Redis.Address, "localhost:6379"))
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	// Vault
	cfg.Vault.Enabled = getEnvOrDefault("VAULT_ENABLED", boolStr(cfg.Vault.Enabled)) == "true"
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", defaultStr(cfg.Vault.Address, "http://localhost:8200"))
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", defaultStr(cfg.Vault.MountPath, "secret"))
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", defaultStr(cfg.Vault.SecretPath, "kingsick/users"))
	cfg.Vault.TLSEnabled = getEnvOrDefault("VAULT_TLS_ENABLED", boolStr(cfg.Vault.TLSEnabled)) == "true"
	cfg.Vault.CACert = getEnvOrDefault("VAULT_CACERT", cfg.Vault.CACert)

	// Auth
	cfg.Auth.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", defaultDur(cfg.Auth.AccessTokenDuration, 24*time.Hour))

	// Notification
	cfg.Notification.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", boolStr(cfg.Notification.Enabled)) == "true"
	cfg.Notification.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", boolStr(cfg.Notification.Telegram.Enabled)) == "true"
	cfg.Notification.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notification.Telegram.BotToken)
	cfg.Notification.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.Notification.Telegram.ChatID)
	cfg.Notification.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", boolStr(cfg.Notification.Discord.Enabled)) == "true"
	cfg.Notification.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.Notification.Discord.WebhookURL)

	// Risk; file values win over defaults, env wins over both.
	defaults := risk.DefaultConfig()
	cfg.Risk.StopLossPct = getEnvFloatOrDefault("RISK_STOP_LOSS_PCT", defaultFloat(cfg.Risk.StopLossPct, defaults.StopLossPct))
	cfg.Risk.TakeProfitPct = getEnvFloatOrDefault("RISK_TAKE_PROFIT_PCT", defaultFloat(cfg.Risk.TakeProfitPct, defaults.TakeProfitPct))
	cfg.Risk.TrailingStopEnabled = getEnvOrDefault("RISK_TRAILING_STOP_ENABLED", boolStr(cfg.Risk.TrailingStopEnabled)) == "true"
	cfg.Risk.TrailingStopPct = getEnvFloatOrDefault("RISK_TRAILING_STOP_PCT", defaultFloat(cfg.Risk.TrailingStopPct, defaults.TrailingStopPct))
	cfg.Risk.MaxInvestmentPerStock = getEnvFloatOrDefault("RISK_MAX_INVESTMENT_PER_STOCK", defaultFloat(cfg.Risk.MaxInvestmentPerStock, defaults.MaxInvestmentPerStock))
	cfg.Risk.MaxStocks = getEnvIntOrDefault("RISK_MAX_STOCKS", defaultInt(cfg.Risk.MaxStocks, defaults.MaxStocks))
	cfg.Risk.DailyLossLimit = getEnvFloatOrDefault("RISK_DAILY_LOSS_LIMIT", defaultFloat(cfg.Risk.DailyLossLimit, defaults.DailyLossLimit))
	cfg.Risk.RiskPerTradePct = getEnvFloatOrDefault("RISK_PER_TRADE_PCT", defaultFloat(cfg.Risk.RiskPerTradePct, defaults.RiskPerTradePct))

	// Scheduler
	cfg.Scheduler.Timezone = getEnvOrDefault("MARKET_TZ", defaultStr(cfg.Scheduler.Timezone, "Asia/Seoul"))
	cfg.Scheduler.TickIntervalMin = getEnvIntOrDefault("TICK_INTERVAL_MIN", defaultInt(cfg.Scheduler.TickIntervalMin, 5))
	cfg.Scheduler.TickDeadlineSec = getEnvIntOrDefault("TICK_DEADLINE_SEC", defaultInt(cfg.Scheduler.TickDeadlineSec, 240))
	cfg.Scheduler.MaxConcurrentUsers = getEnvIntOrDefault("MAX_CONCURRENT_BROKER_CALLS", defaultInt(cfg.Scheduler.MaxConcurrentUsers, 5))

	// Logging
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", defaultStr(cfg.Logging.Level, "info"))
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", defaultStr(cfg.Logging.Output, "stdout"))
	cfg.Logging.Pretty = getEnvOrDefault("LOG_PRETTY", boolStr(cfg.Logging.Pretty)) == "true"
}

// newBaseConfig returns the config the file and env layer on top of. Only
// default-on booleans need seeding here; zero values cannot express them.
func newBaseConfig() *Config {
	cfg := &Config{}
	cfg.Risk.TrailingStopEnabled = risk.DefaultConfig().TrailingStopEnabled
	return cfg
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := newBaseConfig()
	if err := json.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
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

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func defaultStr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func defaultInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func defaultFloat(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

func defaultDur(v, fallback time.Duration) time.Duration {
	if v != 0 {
		return v
	}
	return fallback
}

func boolStr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

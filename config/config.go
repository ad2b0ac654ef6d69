package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level configuration for the copy-trading bot.
type Config struct {
	VenueConfig        VenueConfig        `json:"venue"`
	CopyConfig         CopyConfig         `json:"copy"`
	IndependentConfig  IndependentConfig  `json:"independent"`
	PredictionConfig   PredictionConfig   `json:"prediction"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	VaultConfig        VaultConfig        `json:"vault"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	NotificationConfig NotificationConfig `json:"notification"`
}

// VenueConfig holds the derivatives venue connection settings.
type VenueConfig struct {
	BaseURL         string `json:"base_url"`
	WSURL           string `json:"ws_url"`
	APIKey          string `json:"api_key"`
	APISecret       string `json:"api_secret"`
	TargetAccount   string `json:"target_account"`   // account whose positions are copied
	OperatorAccount string `json:"operator_account"` // account the bot controls
}

// CopyConfig holds the copy planner and scan orchestrator settings.
type CopyConfig struct {
	Enabled              bool    `json:"enabled"`
	Mode                 string  `json:"mode"` // "scaled" or "exact"
	PollIntervalMinutes  int     `json:"poll_interval_minutes"`
	ScaleMultiplier      float64 `json:"scale_multiplier"`
	AdjustThreshold      float64 `json:"adjust_threshold"`       // fractional size delta that triggers an adjust
	MinPositionMarginUSD float64 `json:"min_position_margin_usd"`
	MinNotionalUSD       float64 `json:"min_notional_usd"`
	SlippagePct          float64 `json:"slippage_pct"`
	ScanTimeout          time.Duration `json:"scan_timeout"`
	SymbolTimeout        time.Duration `json:"symbol_timeout"`
	SyncBatchSize        int           `json:"sync_batch_size"`
	OrderCooldown        time.Duration `json:"order_cooldown"`
	RunOnStart           bool          `json:"run_on_start"`
}

// IndependentConfig holds the independent trader settings.
type IndependentConfig struct {
	Enabled          bool     `json:"enabled"`
	MaxAllocationPct float64  `json:"max_allocation_pct"`
	MaxPositions     int      `json:"max_positions"`
	Leverage         int      `json:"leverage"`
	UseTimeExit      bool     `json:"use_time_exit"`
	HoldHours        float64  `json:"hold_hours"`
	TakeProfitPct    float64  `json:"take_profit_pct"`
	StopLossPct      float64  `json:"stop_loss_pct"`
	MinScore         float64  `json:"min_score"`
	Whitelist        []string `json:"whitelist"`
}

// PredictionConfig holds the prediction recorder settings.
type PredictionConfig struct {
	Model            string        `json:"model"` // scorer selection, e.g. "momentum-v1"
	ValidationWindow time.Duration `json:"validation_window"`
	ValidationLimit  int           `json:"validation_limit"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds the market-state cache settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
	TTL      time.Duration `json:"ttl"`
}

// VaultConfig holds the optional HashiCorp Vault secret source.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// ServerConfig holds the status API server settings.
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// AuthConfig holds the operator API auth settings.
type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret"`
	Password            string        `json:"password"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	JSONFormat bool   `json:"json_format"` // console writer when false
}

// NotificationConfig holds webhook notification settings.
type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// Load reads configuration from an optional JSON file (CONFIG_FILE) and
// applies environment overrides. Unknown env keys are ignored; missing keys
// fall back to defaults.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		VenueConfig: VenueConfig{
			BaseURL: "https://api.hyperliquid.xyz",
			WSURL:   "wss://api.hyperliquid.xyz/ws",
		},
		CopyConfig: CopyConfig{
			Enabled:              true,
			Mode:                 "scaled",
			PollIntervalMinutes:  5,
			ScaleMultiplier:      1.3,
			AdjustThreshold:      0.10,
			MinPositionMarginUSD: 5,
			MinNotionalUSD:       10,
			SlippagePct:          0.02,
			ScanTimeout:          4 * time.Minute,
			SymbolTimeout:        30 * time.Second,
			SyncBatchSize:        5,
			OrderCooldown:        5 * time.Minute,
			RunOnStart:           true,
		},
		IndependentConfig: IndependentConfig{
			Enabled:          false,
			MaxAllocationPct: 0.10,
			MaxPositions:     3,
			Leverage:         5,
			UseTimeExit:      true,
			HoldHours:        4,
			TakeProfitPct:    0.20,
			StopLossPct:      0.12,
			MinScore:         90,
		},
		PredictionConfig: PredictionConfig{
			Model:            "momentum-v1",
			ValidationWindow: 4 * time.Hour,
			ValidationLimit:  100,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "copybot",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
			TTL:      5 * time.Minute,
		},
		VaultConfig: VaultConfig{
			MountPath:  "secret",
			SecretPath: "copybot/venue",
		},
		ServerConfig: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
		},
		AuthConfig: AuthConfig{
			AccessTokenDuration: 24 * time.Hour,
		},
		LoggingConfig: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks required keys. Configuration errors are fatal at startup.
func (c *Config) Validate() error {
	if c.VenueConfig.TargetAccount == "" {
		return fmt.Errorf("TARGET_ACCOUNT is required")
	}
	if c.VenueConfig.OperatorAccount == "" {
		return fmt.Errorf("OPERATOR_ACCOUNT is required")
	}
	if c.CopyConfig.Mode != "scaled" && c.CopyConfig.Mode != "exact" {
		return fmt.Errorf("COPY_MODE must be \"scaled\" or \"exact\", got %q", c.CopyConfig.Mode)
	}
	if c.CopyConfig.PollIntervalMinutes <= 0 {
		return fmt.Errorf("COPY_POLL_INTERVAL_MINUTES must be positive")
	}
	if c.ServerConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("API_JWT_SECRET is required when the status API is enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	// Venue
	cfg.VenueConfig.BaseURL = getEnvOrDefault("VENUE_BASE_URL", cfg.VenueConfig.BaseURL)
	cfg.VenueConfig.WSURL = getEnvOrDefault("VENUE_WS_URL", cfg.VenueConfig.WSURL)
	cfg.VenueConfig.APIKey = getEnvOrDefault("VENUE_API_KEY", cfg.VenueConfig.APIKey)
	cfg.VenueConfig.APISecret = getEnvOrDefault("VENUE_API_SECRET", cfg.VenueConfig.APISecret)
	cfg.VenueConfig.TargetAccount = getEnvOrDefault("TARGET_ACCOUNT", cfg.VenueConfig.TargetAccount)
	cfg.VenueConfig.OperatorAccount = getEnvOrDefault("OPERATOR_ACCOUNT", cfg.VenueConfig.OperatorAccount)

	// Copy planner
	cfg.CopyConfig.Enabled = getEnvBoolOrDefault("ENABLE_COPY_TRADING", cfg.CopyConfig.Enabled)
	cfg.CopyConfig.Mode = getEnvOrDefault("COPY_MODE", cfg.CopyConfig.Mode)
	cfg.CopyConfig.PollIntervalMinutes = getEnvIntOrDefault("COPY_POLL_INTERVAL_MINUTES", cfg.CopyConfig.PollIntervalMinutes)
	cfg.CopyConfig.ScaleMultiplier = getEnvFloatOrDefault("COPY_SCALE_MULTIPLIER", cfg.CopyConfig.ScaleMultiplier)
	cfg.CopyConfig.AdjustThreshold = getEnvFloatOrDefault("POSITION_ADJUST_THRESHOLD", cfg.CopyConfig.AdjustThreshold)
	cfg.CopyConfig.MinPositionMarginUSD = getEnvFloatOrDefault("MIN_POSITION_SIZE_USD", cfg.CopyConfig.MinPositionMarginUSD)
	cfg.CopyConfig.MinNotionalUSD = getEnvFloatOrDefault("EXCHANGE_MIN_NOTIONAL_USD", cfg.CopyConfig.MinNotionalUSD)
	cfg.CopyConfig.SlippagePct = getEnvFloatOrDefault("ORDER_SLIPPAGE_PCT", cfg.CopyConfig.SlippagePct)
	cfg.CopyConfig.ScanTimeout = getEnvDurationOrDefault("SCAN_TIMEOUT", cfg.CopyConfig.ScanTimeout)
	cfg.CopyConfig.SyncBatchSize = getEnvIntOrDefault("SYNC_BATCH_SIZE", cfg.CopyConfig.SyncBatchSize)
	cfg.CopyConfig.OrderCooldown = getEnvDurationOrDefault("ORDER_COOLDOWN", cfg.CopyConfig.OrderCooldown)
	cfg.CopyConfig.RunOnStart = getEnvBoolOrDefault("SCAN_ON_START", cfg.CopyConfig.RunOnStart)

	// Independent trader
	cfg.IndependentConfig.Enabled = getEnvBoolOrDefault("ENABLE_INDEPENDENT_TRADING", cfg.IndependentConfig.Enabled)
	cfg.IndependentConfig.MaxAllocationPct = getEnvFloatOrDefault("INDEPENDENT_MAX_ALLOCATION_PCT", cfg.IndependentConfig.MaxAllocationPct)
	cfg.IndependentConfig.MaxPositions = getEnvIntOrDefault("INDEPENDENT_MAX_POSITIONS", cfg.IndependentConfig.MaxPositions)
	cfg.IndependentConfig.Leverage = getEnvIntOrDefault("INDEPENDENT_LEVERAGE", cfg.IndependentConfig.Leverage)
	cfg.IndependentConfig.UseTimeExit = getEnvBoolOrDefault("INDEPENDENT_USE_TIME_EXIT", cfg.IndependentConfig.UseTimeExit)
	cfg.IndependentConfig.HoldHours = getEnvFloatOrDefault("INDEPENDENT_HOLD_HOURS", cfg.IndependentConfig.HoldHours)
	cfg.IndependentConfig.TakeProfitPct = getEnvFloatOrDefault("INDEPENDENT_TP_PCT", cfg.IndependentConfig.TakeProfitPct)
	cfg.IndependentConfig.StopLossPct = getEnvFloatOrDefault("INDEPENDENT_SL_PCT", cfg.IndependentConfig.StopLossPct)
	cfg.IndependentConfig.MinScore = getEnvFloatOrDefault("INDEPENDENT_MIN_SCORE", cfg.IndependentConfig.MinScore)
	if wl := os.Getenv("INDEPENDENT_WHITELIST"); wl != "" {
		parts := strings.Split(wl, ",")
		list := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				list = append(list, s)
			}
		}
		cfg.IndependentConfig.Whitelist = list
	}

	// Prediction recorder
	cfg.PredictionConfig.Model = getEnvOrDefault("PREDICTION_MODEL", cfg.PredictionConfig.Model)
	if h := getEnvFloatOrDefault("PREDICTION_VALIDATION_HOURS", 0); h > 0 {
		cfg.PredictionConfig.ValidationWindow = time.Duration(h * float64(time.Hour))
	}
	cfg.PredictionConfig.ValidationLimit = getEnvIntOrDefault("PREDICTION_VALIDATION_LIMIT", cfg.PredictionConfig.ValidationLimit)

	// Database
	cfg.DatabaseConfig.Host = getEnvOrDefault("DATABASE_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DATABASE_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DATABASE_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DATABASE_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DATABASE_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DATABASE_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", cfg.RedisConfig.PoolSize)
	cfg.RedisConfig.TTL = getEnvDurationOrDefault("REDIS_TTL", cfg.RedisConfig.TTL)

	// Vault
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CA_CERT", cfg.VaultConfig.CACert)

	// Server / auth
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("API_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.Password = getEnvOrDefault("API_PASSWORD", cfg.AuthConfig.Password)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("API_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)

	// Notifications
	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFY_ENABLED", cfg.NotificationConfig.Enabled)
	cfg.NotificationConfig.Telegram.Enabled = getEnvBoolOrDefault("NOTIFY_TELEGRAM_ENABLED", cfg.NotificationConfig.Telegram.Enabled)
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("NOTIFY_TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("NOTIFY_TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvBoolOrDefault("NOTIFY_DISCORD_ENABLED", cfg.NotificationConfig.Discord.Enabled)
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("NOTIFY_DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

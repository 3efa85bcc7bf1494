package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"avgx-index/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Baskets   BasketsConfig   `mapstructure:"baskets"`
	Stability StabilityConfig `mapstructure:"stability"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN keeps the
// daemon on the in-memory state store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs calculation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// FeedsConfig covers the two upstream price feeds and their shared
// retry/freshness policy.
type FeedsConfig struct {
	Fiat        FeedEndpointConfig `mapstructure:"fiat"`
	Crypto      FeedEndpointConfig `mapstructure:"crypto"`
	Freshness   time.Duration      `mapstructure:"freshness"`
	MaxAttempts int                `mapstructure:"max_attempts"`
	BackoffBase time.Duration      `mapstructure:"backoff_base"`
	BackoffCap  time.Duration      `mapstructure:"backoff_cap"`
}

// FeedEndpointConfig parameterises a single HTTP feed.
type FeedEndpointConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// EthereumConfig covers the optional on-chain reference price source.
// Aggregators maps a crypto asset id to a Chainlink-style aggregator address.
type EthereumConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Aggregators    map[string]string `mapstructure:"aggregators"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// AssetWeight is a single configured basket member.
type AssetWeight struct {
	Code   string  `mapstructure:"code"`
	Name   string  `mapstructure:"name"`
	Weight float64 `mapstructure:"weight"`
}

// BasketsConfig holds the two weight lists. Empty lists are valid and leave
// the corresponding basket degenerate.
type BasketsConfig struct {
	Fiat   []AssetWeight `mapstructure:"fiat"`
	Crypto []AssetWeight `mapstructure:"crypto"`
}

// StabilityConfig tunes the smoothing, volatility, and clamp pipeline.
type StabilityConfig struct {
	AlphaFiat          float64 `mapstructure:"alpha_fiat"`
	AlphaCrypto        float64 `mapstructure:"alpha_crypto"`
	VolatilityWindow   int     `mapstructure:"volatility_window"`
	VolatilityTarget   float64 `mapstructure:"volatility_target"`
	ClampPct           float64 `mapstructure:"clamp_pct"`
	SmoothedHistoryCap int     `mapstructure:"smoothed_history_cap"`
	IndexHistoryCap    int     `mapstructure:"index_history_cap"`
}

// AlertingConfig defines guard-alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AVGX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "avgxd")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x41564758))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("feeds.fiat.base_url", "https://api.exchangerate.host")
	v.SetDefault("feeds.fiat.request_timeout", "10s")
	v.SetDefault("feeds.fiat.user_agent", "avgxd/1.0")
	v.SetDefault("feeds.crypto.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("feeds.crypto.request_timeout", "10s")
	v.SetDefault("feeds.crypto.user_agent", "avgxd/1.0")
	v.SetDefault("feeds.freshness", "1m")
	v.SetDefault("feeds.max_attempts", 3)
	v.SetDefault("feeds.backoff_base", "1s")
	v.SetDefault("feeds.backoff_cap", "10s")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("baskets.fiat", []map[string]any{
		{"code": "USD", "name": "US Dollar", "weight": 0.35},
		{"code": "EUR", "name": "Euro", "weight": 0.25},
		{"code": "JPY", "name": "Japanese Yen", "weight": 0.15},
		{"code": "GBP", "name": "British Pound", "weight": 0.10},
		{"code": "CNY", "name": "Chinese Yuan", "weight": 0.15},
	})
	v.SetDefault("baskets.crypto", []map[string]any{
		{"code": "bitcoin", "name": "Bitcoin", "weight": 0.50},
		{"code": "ethereum", "name": "Ethereum", "weight": 0.30},
		{"code": "solana", "name": "Solana", "weight": 0.10},
		{"code": "binancecoin", "name": "BNB", "weight": 0.10},
	})

	v.SetDefault("stability.alpha_fiat", 0.2)
	v.SetDefault("stability.alpha_crypto", 0.1)
	v.SetDefault("stability.volatility_window", 30)
	v.SetDefault("stability.volatility_target", 0.10)
	v.SetDefault("stability.clamp_pct", 0.015)
	v.SetDefault("stability.smoothed_history_cap", 100)
	v.SetDefault("stability.index_history_cap", 720)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Feeds.MaxAttempts <= 0 {
		return fmt.Errorf("feeds.max_attempts must be greater than zero")
	}
	if c.Stability.AlphaFiat <= 0 || c.Stability.AlphaFiat > 1 {
		return fmt.Errorf("stability.alpha_fiat must be in (0,1]")
	}
	if c.Stability.AlphaCrypto <= 0 || c.Stability.AlphaCrypto > 1 {
		return fmt.Errorf("stability.alpha_crypto must be in (0,1]")
	}
	if c.Stability.VolatilityWindow < 2 {
		return fmt.Errorf("stability.volatility_window must be at least 2")
	}
	if c.Stability.VolatilityTarget <= 0 {
		return fmt.Errorf("stability.volatility_target must be greater than zero")
	}
	if c.Stability.ClampPct <= 0 {
		return fmt.Errorf("stability.clamp_pct must be greater than zero")
	}
	if c.Stability.SmoothedHistoryCap <= 0 || c.Stability.IndexHistoryCap <= 0 {
		return fmt.Errorf("stability history caps must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	for _, w := range append(append([]AssetWeight{}, c.Baskets.Fiat...), c.Baskets.Crypto...) {
		if w.Code == "" {
			return fmt.Errorf("basket entries require a code")
		}
		if w.Weight < 0 {
			return fmt.Errorf("basket weight for %s cannot be negative", w.Code)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/SVG-campus/KRAKEN-VOLUME/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Digest   DigestConfig   `mapstructure:"digest"`
	Ranking  RankingConfig  `mapstructure:"ranking"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// FeedConfig selects the ticker stream and the monitored pairs.
type FeedConfig struct {
	URL     string   `mapstructure:"url"`
	Symbols []string `mapstructure:"symbols"`
}

// EngineConfig governs signal computation.
type EngineConfig struct {
	Strategy        string        `mapstructure:"strategy"` // "velocity" or "lookback"
	SlopeWindow     time.Duration `mapstructure:"slope_window"`
	HorizonMultiple int           `mapstructure:"horizon_multiple"`
	MinHorizon      time.Duration `mapstructure:"min_horizon"`
	LookbackHours   int           `mapstructure:"lookback_hours"`
}

// AlertingConfig defines the level lattice and routing.
type AlertingConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	BaseThresholdPct float64        `mapstructure:"base_threshold_pct"`
	StepPct          float64        `mapstructure:"step_pct"`
	Cooldown         time.Duration  `mapstructure:"cooldown"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
	Webhook          WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// WebhookConfig describes a generic JSON webhook channel.
type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DigestConfig tunes the periodic sustained-signal summary.
type DigestConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Interval           time.Duration `mapstructure:"interval"`
	Window             time.Duration `mapstructure:"window"`
	TopN               int           `mapstructure:"top_n"`
	MinSignificancePct float64       `mapstructure:"min_significance_pct"`
	CrownStreak        int           `mapstructure:"crown_streak"`
	CrownWindow        time.Duration `mapstructure:"crown_window"`
	RepostDeltaPct     float64       `mapstructure:"repost_delta_pct"`
	AdvisoryLockKey    int64         `mapstructure:"advisory_lock_key"`
}

// RankingConfig selects the composite score.
type RankingConfig struct {
	Mode string `mapstructure:"mode"` // "ratio" or "raw"
}

// ServerConfig covers the snapshot API.
type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Listen       string        `mapstructure:"listen"`
	PushInterval time.Duration `mapstructure:"push_interval"`
}

// DatabaseConfig encapsulates the optional PostgreSQL audit store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VOLWATCH")
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
	v.SetDefault("app.name", "volwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("feed.url", "wss://ws.kraken.com/v2")
	v.SetDefault("feed.symbols", []string{"BTC/USD", "ETH/USD", "SOL/USD", "XRP/USD"})

	v.SetDefault("engine.strategy", "velocity")
	v.SetDefault("engine.slope_window", "5m")
	v.SetDefault("engine.horizon_multiple", 5)
	v.SetDefault("engine.min_horizon", "10m")
	v.SetDefault("engine.lookback_hours", 24)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.base_threshold_pct", 5.0)
	v.SetDefault("alerting.step_pct", 1.25)
	v.SetDefault("alerting.cooldown", "10m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.webhook.enabled", false)
	v.SetDefault("alerting.webhook.timeout", "10s")

	v.SetDefault("digest.enabled", true)
	v.SetDefault("digest.interval", "5m")
	v.SetDefault("digest.window", "5m")
	v.SetDefault("digest.top_n", 5)
	v.SetDefault("digest.min_significance_pct", 1.0)
	v.SetDefault("digest.crown_streak", 3)
	v.SetDefault("digest.crown_window", "30m")
	v.SetDefault("digest.repost_delta_pct", 2.0)
	v.SetDefault("digest.advisory_lock_key", int64(0x564f4c57))

	v.SetDefault("ranking.mode", "ratio")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.push_interval", "2s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("export.max_data_points", 100000)
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
	switch c.Engine.Strategy {
	case "velocity", "lookback":
	default:
		return fmt.Errorf("engine.strategy must be velocity or lookback")
	}
	if c.Engine.SlopeWindow <= 0 {
		return fmt.Errorf("engine.slope_window must be greater than zero")
	}
	if c.Engine.Strategy == "lookback" && c.Engine.LookbackHours <= 0 {
		return fmt.Errorf("engine.lookback_hours must be greater than zero")
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols must not be empty")
	}
	if c.Alerting.BaseThresholdPct < 0 {
		return fmt.Errorf("alerting.base_threshold_pct cannot be negative")
	}
	if c.Alerting.Enabled && c.Alerting.StepPct <= 0 {
		return fmt.Errorf("alerting.step_pct must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Alerting.Webhook.Enabled && c.Alerting.Webhook.URL == "" {
		return fmt.Errorf("alerting.webhook.url is required")
	}
	switch c.Ranking.Mode {
	case "ratio", "raw":
	default:
		return fmt.Errorf("ranking.mode must be ratio or raw")
	}
	if c.Digest.Enabled {
		if c.Digest.Interval <= 0 {
			return fmt.Errorf("digest.interval must be greater than zero")
		}
		if c.Digest.Window <= 0 {
			return fmt.Errorf("digest.window must be greater than zero")
		}
		if c.Digest.TopN <= 0 {
			return fmt.Errorf("digest.top_n must be greater than zero")
		}
	}
	if c.Server.Enabled && c.Server.PushInterval <= 0 {
		return fmt.Errorf("server.push_interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
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

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"autolender/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Server    ServerConfig    `mapstructure:"server"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig identifies the robot and the account it trades for.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Account     string `mapstructure:"account"`
	DryRun      bool   `mapstructure:"dry_run"`
}

// StorageConfig selects where marketplace state and the operations log live.
type StorageConfig struct {
	// Driver is postgres, sqlite or memory.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RemoteConfig covers the marketplace API.
type RemoteConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PageSize       int           `mapstructure:"page_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffMin     time.Duration `mapstructure:"backoff_min"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// CacheConfig sets entity cache lifetimes.
type CacheConfig struct {
	LoanTTL         time.Duration `mapstructure:"loan_ttl"`
	RestrictionsTTL time.Duration `mapstructure:"restrictions_ttl"`
}

// PortfolioConfig tunes synthetic charge handling.
type PortfolioConfig struct {
	SyntheticMaxAge time.Duration `mapstructure:"synthetic_max_age"`
}

// IntervalsConfig holds the run period of each operation kind.
type IntervalsConfig struct {
	Investing  time.Duration `mapstructure:"investing"`
	Purchasing time.Duration `mapstructure:"purchasing"`
	Selling    time.Duration `mapstructure:"selling"`
}

// DaemonConfig governs scheduling.
type DaemonConfig struct {
	Operations       []string        `mapstructure:"operations"`
	Intervals        IntervalsConfig `mapstructure:"intervals"`
	Workers          int             `mapstructure:"workers"`
	ForcedCheckAfter time.Duration   `mapstructure:"forced_check_after"`
	LivenessInterval time.Duration   `mapstructure:"liveness_interval"`
	StrategyRefresh  time.Duration   `mapstructure:"strategy_refresh"`
	PortfolioRefresh time.Duration   `mapstructure:"portfolio_refresh"`
	ShutdownTimeout  time.Duration   `mapstructure:"shutdown_timeout"`
}

// StrategyConfig points at the rules file.
type StrategyConfig struct {
	Path string `mapstructure:"path"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 通知参数。
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ServerConfig controls the status endpoint.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTOLENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("autolender")
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
	v.SetDefault("app.name", "autolender")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.account", "")
	v.SetDefault("app.dry_run", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.sqlite_path", "autolender.db")
	v.SetDefault("storage.max_conns", 5)
	v.SetDefault("storage.min_conns", 1)
	v.SetDefault("storage.conn_max_lifetime", "30m")

	v.SetDefault("remote.base_url", "https://api.zonky.cz")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.user_agent", "autolender/1.0")
	v.SetDefault("remote.request_timeout", "30s")
	v.SetDefault("remote.page_size", 100)
	v.SetDefault("remote.max_attempts", 3)
	v.SetDefault("remote.backoff_min", "500ms")
	v.SetDefault("remote.backoff_max", "10s")

	v.SetDefault("cache.loan_ttl", "24h")
	v.SetDefault("cache.restrictions_ttl", "1h")

	v.SetDefault("portfolio.synthetic_max_age", "5m")

	v.SetDefault("daemon.operations", []string{"investing", "purchasing", "selling"})
	v.SetDefault("daemon.intervals.investing", "30s")
	v.SetDefault("daemon.intervals.purchasing", "30s")
	v.SetDefault("daemon.intervals.selling", "10m")
	v.SetDefault("daemon.workers", 2)
	v.SetDefault("daemon.forced_check_after", "1m")
	v.SetDefault("daemon.liveness_interval", "1m")
	v.SetDefault("daemon.strategy_refresh", "1h")
	v.SetDefault("daemon.portfolio_refresh", "5m")
	v.SetDefault("daemon.shutdown_timeout", "1m")

	v.SetDefault("strategy.path", "strategy.yaml")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", ":9090")

	v.SetDefault("export.max_rows", 100000)
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
	if c.App.Account == "" {
		return fmt.Errorf("app.account is required")
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver %q is not one of postgres, sqlite, memory", c.Storage.Driver)
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Remote.MaxAttempts <= 0 {
		return fmt.Errorf("remote.max_attempts must be greater than zero")
	}
	if c.Remote.PageSize <= 0 {
		return fmt.Errorf("remote.page_size must be greater than zero")
	}
	if c.Cache.LoanTTL <= 0 || c.Cache.RestrictionsTTL <= 0 {
		return fmt.Errorf("cache TTLs must be greater than zero")
	}
	if c.Daemon.Workers <= 0 {
		return fmt.Errorf("daemon.workers must be greater than zero")
	}
	if len(c.Daemon.Operations) == 0 {
		return fmt.Errorf("daemon.operations must name at least one operation")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
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

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}

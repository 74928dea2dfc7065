package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stockwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Quotes    QuotesConfig    `mapstructure:"quotes"`
	AI        AIConfig        `mapstructure:"ai"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs scan cadence.
type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// HTTPConfig covers the API server.
type HTTPConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// QuotesConfig covers the quote gateway.
type QuotesConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	APIToken       string            `mapstructure:"api_token"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	MaxConcurrent  int               `mapstructure:"max_concurrent"`
	RateLimitRPS   float64           `mapstructure:"rate_limit_rps"`
	RateLimitBurst int               `mapstructure:"rate_limit_burst"`
	RPCURL         string            `mapstructure:"rpc_url"`
	OnchainFeeds   map[string]string `mapstructure:"onchain_feeds"`
}

// AIConfig bounds opinion generation.
type AIConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
}

// SMTPConfig covers outbound alert mail.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Sender   string `mapstructure:"sender"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	EmailEnabled  bool          `mapstructure:"email_enabled"`
	RetentionDays int           `mapstructure:"retention_days"`
	StatusWindow  time.Duration `mapstructure:"status_window"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKWATCH")
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
	v.SetDefault("app.name", "stockwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("http.listen", ":8085")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")

	v.SetDefault("quotes.request_timeout", "10s")
	v.SetDefault("quotes.user_agent", "stockwatch/1.0")
	v.SetDefault("quotes.max_concurrent", 4)
	v.SetDefault("quotes.rate_limit_rps", 2.0)
	v.SetDefault("quotes.rate_limit_burst", 4)

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.request_timeout", "30s")
	v.SetDefault("ai.max_concurrent", 2)

	v.SetDefault("smtp.port", 25)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.email_enabled", false)
	v.SetDefault("alerting.retention_days", 30)
	v.SetDefault("alerting.status_window", "10m")

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
	if c.Quotes.MaxConcurrent <= 0 {
		return fmt.Errorf("quotes.max_concurrent must be greater than zero")
	}
	if c.Quotes.RateLimitRPS <= 0 {
		return fmt.Errorf("quotes.rate_limit_rps must be greater than zero")
	}
	if c.AI.MaxConcurrent <= 0 {
		return fmt.Errorf("ai.max_concurrent must be greater than zero")
	}
	if c.AI.RequestTimeout <= 0 {
		return fmt.Errorf("ai.request_timeout must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.RetentionDays < 0 {
		return fmt.Errorf("alerting.retention_days cannot be negative")
	}
	if c.Alerting.EmailEnabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host 必须配置")
		}
		if c.SMTP.Username == "" || c.SMTP.Password == "" {
			return fmt.Errorf("smtp.username 与 smtp.password 必须配置")
		}
	}
	for code, feed := range c.Quotes.OnchainFeeds {
		if code == "" || feed == "" {
			return fmt.Errorf("quotes.onchain_feeds entries must be non-empty")
		}
	}
	if c.Quotes.BaseURL != "" {
		if _, err := url.Parse(c.Quotes.BaseURL); err != nil {
			return fmt.Errorf("quotes.base_url invalid: %w", err)
		}
	}
	return nil
}

// SenderAddress returns the configured sender, falling back to the SMTP user.
func (c *SMTPConfig) SenderAddress() string {
	if c.Sender != "" {
		return c.Sender
	}
	return c.Username
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrNoSettings is returned when the settings file is missing or holds no keys.
	ErrNoSettings = errors.New("no settings found")
	// ErrNoToken is returned when the Telegram API token is missing or empty.
	ErrNoToken = errors.New("the Telegram API token must be provided for the bot to work")
)

// InvalidUserID is the placeholder whitelist entry used when nothing is configured.
const InvalidUserID int64 = -1

type Config struct {
	Token              string           `mapstructure:"token"`
	Whitelist          []int64          `mapstructure:"whitelist"`
	IPChanges          []int64          `mapstructure:"ip_changes"`
	Restarts           []int64          `mapstructure:"restarts"`
	MaxTextWarning     int              `mapstructure:"max_text_warning"`
	Connection         ConnectionConfig `mapstructure:"connection"`
	Logging            LoggingConfig    `mapstructure:"logging"`
	ImagesDLNABasePath string           `mapstructure:"images_dlna_basepath"`
	IPSources          []string         `mapstructure:"ip_sources"`
	IPCacheTTL         int              `mapstructure:"ip_cache_ttl"`
	HelpFile           string           `mapstructure:"help_file"`
	HelpParseMode      string           `mapstructure:"help_parse_mode"`
	LogUnauthorized    bool             `mapstructure:"log_unauthorized"`
	Host               HostConfig       `mapstructure:"host"`
	Storage            StorageConfig    `mapstructure:"storage"`
	RateLimit          RateLimitConfig  `mapstructure:"rate_limit"`
	Monitoring         MonitoringConfig `mapstructure:"monitoring"`
	I18n               I18nConfig       `mapstructure:"i18n"`
}

// ConnectionConfig values are all in seconds except MaxRetries.
type ConnectionConfig struct {
	MaxRetries      int `mapstructure:"max_retries"`
	RetryTimeout    int `mapstructure:"retry_timeout"`
	IPCheckInterval int `mapstructure:"ip_check_interval"`
	UptimeThreshold int `mapstructure:"uptime_threshold"`
	FirstJobDelay   int `mapstructure:"first_job_delay"`
	RequestTimeout  int `mapstructure:"request_timeout"`
	PollTimeout     int `mapstructure:"poll_timeout"`
}

type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	Output       string `mapstructure:"output"`
	LogFile      string `mapstructure:"log_file"`
	FileMaxBytes int    `mapstructure:"file_max_bytes"`
	MaxBackups   int    `mapstructure:"max_backups"`
}

type HostConfig struct {
	UptimeCommand      string   `mapstructure:"uptime_command"`
	TemperatureCommand []string `mapstructure:"temperature_command"`
}

type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
	Directory       string `mapstructure:"directory"`
}

// Defaults returns the built-in settings used for every key that is absent or falsy.
func Defaults() Config {
	return Config{
		Whitelist:      []int64{InvalidUserID},
		IPChanges:      []int64{},
		Restarts:       []int64{},
		MaxTextWarning: 3,
		Connection: ConnectionConfig{
			MaxRetries:      300,
			RetryTimeout:    60,
			IPCheckInterval: 3600,
			UptimeThreshold: 600,
			FirstJobDelay:   10,
			RequestTimeout:  10,
			PollTimeout:     30,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "text",
			Output:       "file",
			LogFile:      "/var/log/rpi-telegram-bot.log",
			FileMaxBytes: 10485760,
			MaxBackups:   10,
		},
		ImagesDLNABasePath: "/home/pi/minidlna/",
		IPSources: []string{
			"https://api.ipify.org",
			"https://ident.me",
			"https://ipinfo.io/ip",
		},
		IPCacheTTL:    30,
		HelpFile:      "command_descriptions.txt",
		HelpParseMode: "MarkdownV2",
		Host: HostConfig{
			UptimeCommand:      "uptime",
			TemperatureCommand: []string{"vcgencmd", "measure_temp"},
		},
		Storage: StorageConfig{
			Type:  "memory",
			Redis: RedisConfig{Addr: "localhost:6379"},
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			Burst:             5,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{Port: 9090, Path: "/metrics"},
		},
		I18n: I18nConfig{DefaultLanguage: "en"},
	}
}

// LoadConfig loads settings from a JSON file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSettings, err)
	}
	if len(v.AllSettings()) == 0 {
		return nil, ErrNoSettings
	}

	v.BindEnv("token", "BOT_TOKEN")

	// An explicit falsy base path turns media intake off; a missing one uses the default.
	imagesDisabled := v.IsSet("images_dlna_basepath") && !truthy(v.Get("images_dlna_basepath"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	cfg.applyDefaults(Defaults())
	if imagesDisabled {
		cfg.ImagesDLNABasePath = ""
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults replaces every zero value with its built-in default, field by field.
func (c *Config) applyDefaults(d Config) {
	if len(c.Whitelist) == 0 {
		c.Whitelist = d.Whitelist
	}
	if len(c.IPChanges) == 0 {
		c.IPChanges = d.IPChanges
	}
	if len(c.Restarts) == 0 {
		c.Restarts = d.Restarts
	}
	orInt(&c.MaxTextWarning, d.MaxTextWarning)

	orInt(&c.Connection.MaxRetries, d.Connection.MaxRetries)
	orInt(&c.Connection.RetryTimeout, d.Connection.RetryTimeout)
	orInt(&c.Connection.IPCheckInterval, d.Connection.IPCheckInterval)
	orInt(&c.Connection.UptimeThreshold, d.Connection.UptimeThreshold)
	orInt(&c.Connection.FirstJobDelay, d.Connection.FirstJobDelay)
	orInt(&c.Connection.RequestTimeout, d.Connection.RequestTimeout)
	orInt(&c.Connection.PollTimeout, d.Connection.PollTimeout)

	orString(&c.Logging.Level, d.Logging.Level)
	orString(&c.Logging.Format, d.Logging.Format)
	orString(&c.Logging.Output, d.Logging.Output)
	orString(&c.Logging.LogFile, d.Logging.LogFile)
	orInt(&c.Logging.FileMaxBytes, d.Logging.FileMaxBytes)
	orInt(&c.Logging.MaxBackups, d.Logging.MaxBackups)

	orString(&c.ImagesDLNABasePath, d.ImagesDLNABasePath)
	if len(c.IPSources) == 0 {
		c.IPSources = d.IPSources
	}
	orInt(&c.IPCacheTTL, d.IPCacheTTL)
	orString(&c.HelpFile, d.HelpFile)
	orString(&c.HelpParseMode, d.HelpParseMode)

	orString(&c.Host.UptimeCommand, d.Host.UptimeCommand)
	if len(c.Host.TemperatureCommand) == 0 {
		c.Host.TemperatureCommand = d.Host.TemperatureCommand
	}

	orString(&c.Storage.Type, d.Storage.Type)
	orString(&c.Storage.Redis.Addr, d.Storage.Redis.Addr)

	orInt(&c.RateLimit.RequestsPerMinute, d.RateLimit.RequestsPerMinute)
	orInt(&c.RateLimit.Burst, d.RateLimit.Burst)

	orInt(&c.Monitoring.Metrics.Port, d.Monitoring.Metrics.Port)
	orString(&c.Monitoring.Metrics.Path, d.Monitoring.Metrics.Path)

	orString(&c.I18n.DefaultLanguage, d.I18n.DefaultLanguage)
}

func truthy(val interface{}) bool {
	switch x := val.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	default:
		return true
	}
}

func orInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func orString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Token == "" {
		return ErrNoToken
	}
	switch cfg.Storage.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	switch cfg.HelpParseMode {
	case "MarkdownV2", "HTML":
	default:
		return fmt.Errorf("unsupported help parse mode: %s", cfg.HelpParseMode)
	}
	return nil
}

// WhitelistConfigured reports whether the whitelist holds at least one real user ID.
func (c *Config) WhitelistConfigured() bool {
	for _, id := range c.Whitelist {
		if id != InvalidUserID {
			return true
		}
	}
	return false
}

// ImagesEnabled reports whether photos and image documents should be archived.
func (c *Config) ImagesEnabled() bool {
	return c.ImagesDLNABasePath != ""
}

func (c ConnectionConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryTimeout) * time.Second
}

func (c ConnectionConfig) IPCheckEvery() time.Duration {
	return time.Duration(c.IPCheckInterval) * time.Second
}

func (c ConnectionConfig) UptimeLimit() time.Duration {
	return time.Duration(c.UptimeThreshold) * time.Second
}

func (c ConnectionConfig) JobDelay() time.Duration {
	return time.Duration(c.FirstJobDelay) * time.Second
}

func (c ConnectionConfig) CallTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c ConnectionConfig) LongPollTimeout() time.Duration {
	return time.Duration(c.PollTimeout) * time.Second
}

// IPCacheDuration is how long a fetched external IP is reused by the /ip command.
func (c *Config) IPCacheDuration() time.Duration {
	return time.Duration(c.IPCacheTTL) * time.Second
}

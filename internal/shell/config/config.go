// Package config holds the configuration shared by the watchdog binaries:
// logging, notifier settings and the viper plumbing that loads them.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/artpar/watchdog/internal/core/domain"
	"github.com/artpar/watchdog/internal/shell/notify"
)

// EnvPrefix prefixes every structured environment override, e.g.
// WATCHDOG_HEALTH_URL for health.url.
const EnvPrefix = "WATCHDOG"

// =============================================================================
// Config Types
// =============================================================================

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NotifyConfig holds the settings of every notifier.
type NotifyConfig struct {
	// LogDir holds the rotating notification log. Empty keeps the file
	// notifier console-only.
	LogDir   string         `mapstructure:"log_dir"`
	File     FileConfig     `mapstructure:"file"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

// FileConfig holds the file/console notifier settings.
type FileConfig struct {
	Filename    string          `mapstructure:"filename"`
	MaxSizeMB   int             `mapstructure:"max_size_mb"`
	MaxBackups  int             `mapstructure:"max_backups"`
	MaxAgeDays  int             `mapstructure:"max_age_days"`
	Compress    bool            `mapstructure:"compress"`
	Console     bool            `mapstructure:"console"`
	MinSeverity domain.Severity `mapstructure:"min_severity"`
}

// TelegramConfig holds the Telegram notifier settings.
type TelegramConfig struct {
	BotToken    string          `mapstructure:"bot_token"`
	ChatID      string          `mapstructure:"chat_id"`
	BaseURL     string          `mapstructure:"base_url"`
	MinSeverity domain.Severity `mapstructure:"min_severity"`
	MinInterval time.Duration   `mapstructure:"min_interval"`
	Timeout     time.Duration   `mapstructure:"timeout"`
}

// WebhookConfig holds the webhook notifier settings.
type WebhookConfig struct {
	URL         string            `mapstructure:"url"`
	Format      string            `mapstructure:"format"`
	Headers     map[string]string `mapstructure:"headers"`
	MinSeverity domain.Severity   `mapstructure:"min_severity"`
	RequireTLS  bool              `mapstructure:"require_tls"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	RetryMax    int               `mapstructure:"retry_max"`
}

// =============================================================================
// Defaults and Environment
// =============================================================================

// SetDefaults registers the defaults of the shared sections. Every key
// needs a default so that environment overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("notify.log_dir", "/app/logs")
	v.SetDefault("notify.file.filename", "notifications.log")
	v.SetDefault("notify.file.max_size_mb", 5)
	v.SetDefault("notify.file.max_backups", 3)
	v.SetDefault("notify.file.max_age_days", 0)
	v.SetDefault("notify.file.compress", false)
	v.SetDefault("notify.file.console", true)
	v.SetDefault("notify.file.min_severity", "DEBUG")

	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", "")
	v.SetDefault("notify.telegram.base_url", "https://api.telegram.org")
	v.SetDefault("notify.telegram.min_severity", "INFO")
	v.SetDefault("notify.telegram.min_interval", "1500ms")
	v.SetDefault("notify.telegram.timeout", "10s")

	v.SetDefault("notify.webhook.url", "")
	v.SetDefault("notify.webhook.format", "json")
	v.SetDefault("notify.webhook.headers", map[string]string{})
	v.SetDefault("notify.webhook.min_severity", "WARNING")
	v.SetDefault("notify.webhook.require_tls", false)
	v.SetDefault("notify.webhook.timeout", "10s")
	v.SetDefault("notify.webhook.retry_max", 1)
}

// SharedEnv maps config keys to the flat environment variable names used by
// existing deployments.
var SharedEnv = map[string]string{
	"notify.telegram.bot_token": "TELEGRAM_BOT_TOKEN",
	"notify.telegram.chat_id":   "ADMIN_CHAT_ID",
	"notify.webhook.url":        "WEBHOOK_URL",
	"notify.webhook.format":     "WEBHOOK_FORMAT",
	"notify.log_dir":            "LOG_DIR",
	"log.level":                 "LOG_LEVEL",
}

// BindEnv enables WATCHDOG_ prefixed overrides for every key and binds the
// flat names in legacy. The prefixed name wins when both are set.
func BindEnv(v *viper.Viper, legacy map[string]string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacy {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

// Load reads configPath (optional) into v. A missing file is not an error;
// a file that does not parse is.
func Load(v *viper.Viper, configPath string) error {
	if configPath == "" {
		return nil
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigParseError); ok {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		// File not found is OK, defaults apply
	}
	return nil
}

// Unmarshal decodes v into out. Severities are parsed by name, durations
// accept Go syntax or a bare number of seconds, and comma separated strings
// decode into slices.
func Unmarshal(v *viper.Viper, out any) error {
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(out, hook); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// secondsToDurationHook decodes "30" as 30 seconds.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		durationType := reflect.TypeOf(time.Duration(0))
		if to != durationType || from == durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			s := strings.TrimSpace(data.(string))
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				return time.Duration(n * float64(time.Second)), nil
			}
		case reflect.Int, reflect.Int64, reflect.Int32:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Float64, reflect.Float32:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		}
		return data, nil
	}
}

// =============================================================================
// Validation
// =============================================================================

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Key + ": " + e.Message
}

// Validate checks the shared sections.
func (c NotifyConfig) Validate() error {
	if c.Webhook.URL != "" {
		if _, err := notify.ParsePayloadFormat(c.Webhook.Format); err != nil {
			return &ConfigError{Key: "notify.webhook.format", Message: err.Error()}
		}
	}
	if c.Webhook.RetryMax < 0 {
		return &ConfigError{Key: "notify.webhook.retry_max", Message: "must not be negative"}
	}
	return nil
}

// =============================================================================
// Notifier Setup
// =============================================================================

// SetupConfig converts the settings into the notifier factory input.
func (c NotifyConfig) SetupConfig(logger *slog.Logger) notify.SetupConfig {
	file := notify.DefaultFileConfig()
	file.Dir = c.LogDir
	file.Filename = c.File.Filename
	file.MaxSizeMB = c.File.MaxSizeMB
	file.MaxBackups = c.File.MaxBackups
	file.MaxAgeDays = c.File.MaxAgeDays
	file.Compress = c.File.Compress
	file.Console = c.File.Console
	file.MinSeverity = c.File.MinSeverity

	tg := notify.DefaultTelegramConfig()
	tg.Token = c.Telegram.BotToken
	tg.ChatID = c.Telegram.ChatID
	tg.BaseURL = c.Telegram.BaseURL
	tg.MinSeverity = c.Telegram.MinSeverity
	tg.MinInterval = c.Telegram.MinInterval
	tg.Timeout = c.Telegram.Timeout
	tg.Logger = logger

	wh := notify.DefaultWebhookConfig()
	wh.URL = c.Webhook.URL
	if format, err := notify.ParsePayloadFormat(c.Webhook.Format); err == nil {
		wh.Format = format
	} else {
		wh.Format = notify.PayloadFormat(c.Webhook.Format)
	}
	wh.Headers = c.Webhook.Headers
	wh.MinSeverity = c.Webhook.MinSeverity
	wh.RequireTLS = c.Webhook.RequireTLS
	wh.Timeout = c.Webhook.Timeout
	wh.RetryMax = c.Webhook.RetryMax
	wh.Logger = logger

	return notify.SetupConfig{
		File:     file,
		Telegram: tg,
		Webhook:  wh,
		Logger:   logger,
	}
}

// =============================================================================
// Logger Setup
// =============================================================================

// ParseLevel maps a level name to a slog level; unknown names are INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogHandler creates the JSON or text handler writing to w.
func NewLogHandler(cfg LogConfig, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg LogConfig) *slog.Logger {
	return slog.New(NewLogHandler(cfg, os.Stdout))
}

package notify

import (
	"fmt"
	"log/slog"
)

// SetupConfig holds the settings of every built-in notifier.
type SetupConfig struct {
	File     FileConfig
	Telegram TelegramConfig
	Webhook  WebhookConfig
	Logger   *slog.Logger
}

// Setup registers the configured notifiers on bus and returns their names.
// Telegram is registered when both token and chat id are set, the webhook
// when a URL is set; the file notifier is always registered last. Missing
// or invalid settings are logged and the channel is skipped.
func Setup(bus *Bus, cfg SetupConfig) ([]string, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", ComponentPrefix)

	var registered []string
	register := func(n Notifier) {
		if err := bus.Register(n); err != nil {
			logger.Warn("notifier not registered", "notifier", n.Name(), "error", err)
			return
		}
		registered = append(registered, n.Name())
	}

	switch {
	case cfg.Telegram.Token != "" && cfg.Telegram.ChatID != "":
		if cfg.Telegram.Logger == nil {
			cfg.Telegram.Logger = cfg.Logger
		}
		tg, err := NewTelegramNotifier(cfg.Telegram)
		if err != nil {
			logger.Warn("telegram notifier disabled", "error", err)
			break
		}
		register(tg)
	case cfg.Telegram.Token != "" || cfg.Telegram.ChatID != "":
		logger.Warn("telegram notifier disabled: both bot token and chat id are required")
	default:
		logger.Info("telegram notifier not configured")
	}

	if cfg.Webhook.URL != "" {
		if cfg.Webhook.Logger == nil {
			cfg.Webhook.Logger = cfg.Logger
		}
		wh, err := NewWebhookNotifier(cfg.Webhook)
		if err != nil {
			logger.Warn("webhook notifier disabled", "error", err)
		} else {
			register(wh)
		}
	}

	file, err := NewFileNotifier(cfg.File)
	if err != nil {
		logger.Warn("file notifier running without log file", "error", err)
	}
	register(file)

	if len(registered) == 0 {
		return nil, ErrNoNotifiers
	}
	logger.Info("notifiers configured", "notifiers", registered)
	return registered, nil
}

// String renders the info as "name(>=SEVERITY)".
func (i NotifierInfo) String() string {
	return fmt.Sprintf("%s(>=%s)", i.Name, i.MinSeverity)
}

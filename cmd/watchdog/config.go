package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/watchdog/internal/core/compose"
	"github.com/artpar/watchdog/internal/core/domain"
	"github.com/artpar/watchdog/internal/shell/config"
	"github.com/artpar/watchdog/internal/shell/docker"
	"github.com/artpar/watchdog/internal/shell/notify"
	"github.com/artpar/watchdog/internal/shell/supervisor"
	"github.com/artpar/watchdog/internal/shell/workers"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all watchdog configuration.
type Config struct {
	Server     ServerConfig        `mapstructure:"server"`
	Log        config.LogConfig    `mapstructure:"log"`
	Notify     config.NotifyConfig `mapstructure:"notify"`
	Docker     DockerConfig        `mapstructure:"docker"`
	Health     HealthConfig        `mapstructure:"health"`
	Host       HostConfig          `mapstructure:"host"`
	Restart    RestartConfig       `mapstructure:"restart"`
	Supervisor SupervisorConfig    `mapstructure:"supervisor"`
	Report     ReportConfig        `mapstructure:"report"`
}

// ServerConfig holds the status HTTP server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AuthToken guards the status endpoints; /health stays open.
	AuthToken string `mapstructure:"auth_token"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DockerConfig holds Docker client and event monitor configuration.
type DockerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	TLS            TLSConfig     `mapstructure:"tls"`
	Containers     []string      `mapstructure:"containers"`
	Labels         []string      `mapstructure:"labels"`
	ComposeFile    string        `mapstructure:"compose_file"`
	ComposeProject string        `mapstructure:"compose_project"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	QueueSize      int           `mapstructure:"queue_size"`
}

// TLSConfig holds client certificates for a remote daemon.
type TLSConfig struct {
	CAFile             string `mapstructure:"ca_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// HealthConfig holds health checker configuration. An empty URL disables it.
type HealthConfig struct {
	URL              string        `mapstructure:"url"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ExpectStatus     string        `mapstructure:"expect_status"`
	SkipBodyCheck    bool          `mapstructure:"skip_body_check"`
}

// HostConfig holds host metric monitor configuration.
type HostConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	SampleTimeout time.Duration `mapstructure:"sample_timeout"`
	DiskPath      string        `mapstructure:"disk_path"`
	CPU           MetricConfig  `mapstructure:"cpu"`
	RAM           MetricConfig  `mapstructure:"ram"`
	Disk          MetricConfig  `mapstructure:"disk"`
}

// MetricConfig holds the thresholds of one host metric.
type MetricConfig struct {
	Threshold      float64       `mapstructure:"threshold"`
	RecoveryMargin float64       `mapstructure:"recovery_margin"`
	ErrorValue     float64       `mapstructure:"error_value"`
	EscalateAfter  time.Duration `mapstructure:"escalate_after"`
}

// RestartConfig holds restart loop detection configuration.
type RestartConfig struct {
	Window    time.Duration `mapstructure:"window"`
	Threshold int           `mapstructure:"threshold"`
}

// SupervisorConfig holds monitor restart backoff configuration.
type SupervisorConfig struct {
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// ReportConfig holds periodic status report configuration.
type ReportConfig struct {
	// Interval of 0 disables the report.
	Interval     time.Duration `mapstructure:"interval"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
}

// legacyEnv maps config keys to the flat environment names of existing
// deployments, on top of config.SharedEnv.
var legacyEnv = map[string]string{
	"docker.containers":        "WATCHED_CONTAINER",
	"health.url":               "HEALTH_CHECK_URL",
	"health.interval":          "HEALTH_CHECK_INTERVAL",
	"health.failure_threshold": "HEALTH_CHECK_THRESHOLD",
	"host.interval":            "HOST_METRICS_INTERVAL",
	"host.cpu.threshold":       "CPU_THRESHOLD",
	"host.ram.threshold":       "RAM_THRESHOLD",
	"host.disk.threshold":      "DISK_THRESHOLD",
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	config.SetDefaults(v)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.auth_token", "")

	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.tls.ca_file", "")
	v.SetDefault("docker.tls.cert_file", "")
	v.SetDefault("docker.tls.key_file", "")
	v.SetDefault("docker.tls.insecure_skip_verify", false)
	v.SetDefault("docker.containers", []string{"tempmail-bot"})
	v.SetDefault("docker.labels", []string{})
	v.SetDefault("docker.compose_file", "")
	v.SetDefault("docker.compose_project", "")
	v.SetDefault("docker.reconnect_delay", "10s")
	v.SetDefault("docker.queue_size", 256)

	v.SetDefault("health.url", "http://tempmail-bot:8080/health")
	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.timeout", "10s")
	v.SetDefault("health.failure_threshold", 3)
	v.SetDefault("health.expect_status", "healthy")
	v.SetDefault("health.skip_body_check", false)

	v.SetDefault("host.enabled", true)
	v.SetDefault("host.interval", "60s")
	v.SetDefault("host.sample_timeout", "10s")
	v.SetDefault("host.disk_path", "/")
	setMetricDefaults(v, "host.cpu", 90)
	setMetricDefaults(v, "host.ram", 85)
	setMetricDefaults(v, "host.disk", 90)

	v.SetDefault("restart.window", "5m")
	v.SetDefault("restart.threshold", 3)

	v.SetDefault("supervisor.initial_backoff", "1s")
	v.SetDefault("supervisor.max_backoff", "1m")

	v.SetDefault("report.interval", "1h")
	v.SetDefault("report.initial_delay", "1m")

	if err := config.Load(v, configPath); err != nil {
		return nil, err
	}

	env := make(map[string]string, len(config.SharedEnv)+len(legacyEnv))
	for k, e := range config.SharedEnv {
		env[k] = e
	}
	for k, e := range legacyEnv {
		env[k] = e
	}
	if err := config.BindEnv(v, env); err != nil {
		return nil, err
	}

	var cfg Config
	if err := config.Unmarshal(v, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setMetricDefaults(v *viper.Viper, prefix string, threshold float64) {
	v.SetDefault(prefix+".threshold", threshold)
	v.SetDefault(prefix+".recovery_margin", 5)
	v.SetDefault(prefix+".error_value", 95)
	v.SetDefault(prefix+".escalate_after", "10m")
}

// Validate checks value ranges viper cannot express.
func (c *Config) Validate() error {
	if err := c.Notify.Validate(); err != nil {
		return err
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return &config.ConfigError{Key: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Health.URL != "" && c.Health.Interval <= 0 {
		return &config.ConfigError{Key: "health.interval", Message: "must be positive"}
	}
	if c.Restart.Threshold < 1 {
		return &config.ConfigError{Key: "restart.threshold", Message: "must be at least 1"}
	}
	for key, m := range map[string]MetricConfig{"host.cpu": c.Host.CPU, "host.ram": c.Host.RAM, "host.disk": c.Host.Disk} {
		if m.Threshold <= 0 || m.Threshold > 100 {
			return &config.ConfigError{Key: key + ".threshold", Message: "must be in (0, 100]"}
		}
		if m.RecoveryMargin < 0 {
			return &config.ConfigError{Key: key + ".recovery_margin", Message: "must not be negative"}
		}
	}
	if c.Report.Interval < 0 {
		return &config.ConfigError{Key: "report.interval", Message: "must not be negative"}
	}
	return nil
}

// =============================================================================
// Component Configs
// =============================================================================

// Plan lists what a configuration runs.
type Plan struct {
	Monitors  []string
	Notifiers []string
}

// Plan returns the monitors and notifiers the configuration enables, in the
// order the server registers them. The file notifier is always present.
func (c *Config) Plan() Plan {
	var p Plan
	if c.Docker.Enabled {
		p.Monitors = append(p.Monitors, domain.SourceDockerMonitor)
	}
	if c.Health.URL != "" {
		p.Monitors = append(p.Monitors, domain.SourceHealthChecker)
	}
	if c.Host.Enabled {
		p.Monitors = append(p.Monitors, domain.SourceHostMonitor)
	}
	if c.Report.Interval > 0 {
		p.Monitors = append(p.Monitors, workers.StatusReporterName)
	}

	p.Notifiers = []string{notify.DefaultFileConfig().Name}
	if c.Notify.Telegram.BotToken != "" && c.Notify.Telegram.ChatID != "" {
		p.Notifiers = append(p.Notifiers, notify.DefaultTelegramConfig().Name)
	}
	if c.Notify.Webhook.URL != "" {
		p.Notifiers = append(p.Notifiers, notify.DefaultWebhookConfig().Name)
	}
	return p
}

// DockerClientConfig returns the Docker client settings.
func (c *Config) DockerClientConfig() docker.Config {
	return docker.Config{
		Host: c.Docker.Host,
		TLS: docker.TLSConfig{
			CAFile:             c.Docker.TLS.CAFile,
			CertFile:           c.Docker.TLS.CertFile,
			KeyFile:            c.Docker.TLS.KeyFile,
			InsecureSkipVerify: c.Docker.TLS.InsecureSkipVerify,
		},
	}
}

// DockerMonitorConfig returns the event monitor settings. Containers
// discovered from the compose file are merged with the configured names.
func (c *Config) DockerMonitorConfig(logger *slog.Logger) (workers.DockerMonitorConfig, error) {
	cfg := workers.DefaultDockerMonitorConfig()
	cfg.Containers = slices.Clone(c.Docker.Containers)
	cfg.Labels = slices.Clone(c.Docker.Labels)
	cfg.QueueSize = c.Docker.QueueSize
	cfg.ReconnectDelay = c.Docker.ReconnectDelay
	cfg.RestartWindow = c.Restart.Window
	cfg.RestartThreshold = c.Restart.Threshold

	if c.Docker.ComposeFile != "" {
		targets, err := discoverTargets(c.Docker.ComposeFile, c.Docker.ComposeProject)
		if err != nil {
			return cfg, err
		}
		for _, name := range compose.ContainerNames(targets) {
			if !slices.Contains(cfg.Containers, name) {
				cfg.Containers = append(cfg.Containers, name)
			}
		}
		logger.Info("discovered compose targets",
			"compose_file", c.Docker.ComposeFile,
			"targets", len(targets),
		)
	}
	return cfg, nil
}

// discoverTargets reads the compose file. The project name defaults to the
// name of the directory holding it, as docker compose does.
func discoverTargets(path, project string) ([]compose.WatchTarget, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}
	if project == "" {
		abs, err := filepath.Abs(path)
		if err == nil {
			project = filepath.Base(filepath.Dir(abs))
		}
	}
	return compose.ParseWatchTargets(string(content), project)
}

// HealthCheckerConfig returns the health checker settings.
func (c *Config) HealthCheckerConfig() workers.HealthCheckerConfig {
	cfg := workers.DefaultHealthCheckerConfig()
	cfg.URL = c.Health.URL
	cfg.Interval = c.Health.Interval
	cfg.Timeout = c.Health.Timeout
	cfg.FailureThreshold = c.Health.FailureThreshold
	cfg.ExpectStatus = c.Health.ExpectStatus
	cfg.SkipBodyCheck = c.Health.SkipBodyCheck
	return cfg
}

// HostMonitorConfig returns the host monitor settings.
func (c *Config) HostMonitorConfig() workers.HostMonitorConfig {
	cfg := workers.DefaultHostMonitorConfig()
	cfg.Interval = c.Host.Interval
	cfg.SampleTimeout = c.Host.SampleTimeout
	cfg.DiskPath = c.Host.DiskPath
	cfg.Metrics = []workers.MetricConfig{
		c.Host.CPU.worker(domain.MetricCPU),
		c.Host.RAM.worker(domain.MetricMemory),
		c.Host.Disk.worker(domain.MetricDisk),
	}
	return cfg
}

func (m MetricConfig) worker(name domain.MetricName) workers.MetricConfig {
	return workers.MetricConfig{
		Name:           name,
		Threshold:      m.Threshold,
		RecoveryMargin: m.RecoveryMargin,
		ErrorValue:     m.ErrorValue,
		EscalateAfter:  m.EscalateAfter,
	}
}

// SupervisorConfig returns the supervisor backoff settings.
func (c *Config) SupervisorConfig() supervisor.Config {
	cfg := supervisor.DefaultConfig()
	cfg.InitialBackoff = c.Supervisor.InitialBackoff
	cfg.MaxBackoff = c.Supervisor.MaxBackoff
	return cfg
}

// ReporterConfig returns the status report settings.
func (c *Config) ReporterConfig() workers.ReporterConfig {
	cfg := workers.DefaultReporterConfig()
	cfg.Interval = c.Report.Interval
	cfg.InitialDelay = c.Report.InitialDelay
	return cfg
}

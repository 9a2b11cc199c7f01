package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/watchdog/internal/shell/config"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all agent configuration.
type Config struct {
	Server ServerConfig        `mapstructure:"server"`
	Log    config.LogConfig    `mapstructure:"log"`
	Notify config.NotifyConfig `mapstructure:"notify"`
	Agent  AgentConfig         `mapstructure:"agent"`
}

// ServerConfig holds the health/status HTTP server configuration.
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

// AgentConfig holds the service identity, the log bridge and the child
// process settings.
type AgentConfig struct {
	// Service names the reporting service in lifecycle events.
	Service string `mapstructure:"service"`

	// BridgeLevel is the minimum log level published as an event.
	BridgeLevel string `mapstructure:"bridge_level"`

	// BridgeIgnore lists extra components never published.
	BridgeIgnore []string `mapstructure:"bridge_ignore"`

	// Restart restarts the child process after a non-zero exit.
	Restart        bool          `mapstructure:"restart"`
	MaxRestarts    int           `mapstructure:"max_restarts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
}

var legacyEnv = map[string]string{
	"agent.service": "SERVICE_NAME",
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.auth_token", "")

	v.SetDefault("agent.service", "tempmail-bot")
	v.SetDefault("agent.bridge_level", "error")
	v.SetDefault("agent.bridge_ignore", []string{})
	v.SetDefault("agent.restart", false)
	v.SetDefault("agent.max_restarts", 5)
	v.SetDefault("agent.initial_backoff", "1s")
	v.SetDefault("agent.max_backoff", "1m")
	v.SetDefault("agent.stop_timeout", "10s")

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

// Validate checks value ranges viper cannot express.
func (c *Config) Validate() error {
	if err := c.Notify.Validate(); err != nil {
		return err
	}
	if c.Agent.Service == "" {
		return &config.ConfigError{Key: "agent.service", Message: "must not be empty"}
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return &config.ConfigError{Key: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Agent.MaxRestarts < 0 {
		return &config.ConfigError{Key: "agent.max_restarts", Message: "must not be negative"}
	}
	return nil
}

// ProcessConfig returns the child process settings for command.
func (c *Config) ProcessConfig(command []string) ProcessConfig {
	return ProcessConfig{
		Command:        command,
		Restart:        c.Agent.Restart,
		MaxRestarts:    c.Agent.MaxRestarts,
		InitialBackoff: c.Agent.InitialBackoff,
		MaxBackoff:     c.Agent.MaxBackoff,
		StopTimeout:    c.Agent.StopTimeout,
	}
}

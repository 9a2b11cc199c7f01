// Command watchdog-agent runs next to (or in front of) the primary service.
// It publishes error logs, panics and lifecycle transitions as watchdog
// events and serves the /health endpoint the sidecar polls.
//
// Usage:
//
//	watchdog-agent [-config path] [-- command args...]
//
// With a command, the agent runs it as a child process, reports its exit and
// exits with the child's exit code.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/artpar/watchdog/internal/shell/config"
	"github.com/artpar/watchdog/internal/shell/logbridge"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("watchdog-agent %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	handler := config.NewLogHandler(cfg.Log, os.Stdout)
	agent, err := NewAgent(cfg, handler, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create agent: %v\n", err)
		if aErr, ok := err.(*AgentError); ok {
			return aErr.ExitCode
		}
		return ExitConfigError
	}

	logger := agent.Logger()
	slog.SetDefault(logger)
	defer logbridge.RecoverAndReport(agent.Bus(), cfg.Agent.Service)

	logger.Info("starting watchdog-agent",
		"version", Version,
		"service", cfg.Agent.Service,
		"command", flag.Args(),
	)

	code, err := agent.Start(context.Background())
	if err != nil {
		// the bus is closed by now
		logger = slog.New(handler)
		if aErr, ok := err.(*AgentError); ok {
			logger.Error("agent error",
				"error", aErr.Err,
				"operation", aErr.Op,
			)
			return aErr.ExitCode
		}
		logger.Error("agent error", "error", err)
		return ExitConfigError
	}
	return code
}

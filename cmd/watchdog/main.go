// Command watchdog is the sidecar that watches a containerised service: its
// docker lifecycle events, an HTTP health endpoint and the host resources.
// Noteworthy transitions are fanned out to the configured notifiers.
//
// Usage:
//
//	watchdog [-config path] [-check-config] [-version]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/artpar/watchdog/internal/shell/config"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// Parse command line flags
	fs := flag.NewFlagSet("watchdog", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	checkConfig := fs.Bool("check-config", false, "Validate the configuration, print what it runs and exit")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitConfigError
	}

	if *showVersion {
		fmt.Fprintf(stdout, "watchdog %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	plan := cfg.Plan()
	if *checkConfig {
		fmt.Fprintf(stdout, "monitors: %s\nnotifiers: %s\n", listOrNone(plan.Monitors), listOrNone(plan.Notifiers))
		return ExitSuccess
	}

	logger := config.SetupLogger(cfg.Log)
	logger.Info("starting watchdog",
		"version", Version,
		"config", *configPath,
		"monitors", plan.Monitors,
		"notifiers", plan.Notifiers,
	)
	if len(plan.Monitors) == 0 {
		logger.Warn("no monitor enabled, only lifecycle events will be reported")
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", errorAttrs(err)...)
		return exitCode(err)
	}

	if err := server.Start(context.Background()); err != nil {
		logger.Error("server error", errorAttrs(err)...)
		return exitCode(err)
	}

	return ExitSuccess
}

// exitCode maps a server error to the process exit code.
func exitCode(err error) int {
	var sErr *ServerError
	if errors.As(err, &sErr) {
		return sErr.ExitCode
	}
	return ExitConfigError
}

func errorAttrs(err error) []any {
	var sErr *ServerError
	if errors.As(err, &sErr) {
		return []any{"error", sErr.Err, "operation", sErr.Op}
	}
	return []any{"error", err}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

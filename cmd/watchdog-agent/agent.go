package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/watchdog/internal/core/domain"
	"github.com/artpar/watchdog/internal/shell/api"
	"github.com/artpar/watchdog/internal/shell/config"
	"github.com/artpar/watchdog/internal/shell/logbridge"
	"github.com/artpar/watchdog/internal/shell/metrics"
	"github.com/artpar/watchdog/internal/shell/notify"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitNotifierError   = 2
	ExitHTTPServerError = 4
)

// lifecycleTimeout bounds the startup and shutdown event deliveries.
const lifecycleTimeout = 30 * time.Second

// =============================================================================
// Agent
// =============================================================================

// Agent is the in-process half of the watchdog: it publishes the service's
// error logs, panics and lifecycle to the notifiers and serves the health
// endpoint the sidecar polls.
type Agent struct {
	config     *Config
	bus        *notify.Bus
	bridge     *logbridge.Bridge
	lifecycle  *logbridge.Lifecycle
	health     *api.HealthState
	runner     *ProcessRunner
	httpServer *http.Server
	logger     *slog.Logger
}

// NewAgent wires the bus, the log bridge and the status surface. next is
// the handler ordinary log output goes to. command, when not empty, is run
// as the supervised child process.
func NewAgent(cfg *Config, next slog.Handler, command []string) (*Agent, error) {
	m := metrics.New()

	// The bridge publishes to the bus that logs through it.
	var bus *notify.Bus
	bridge := logbridge.New(next, logbridge.PublisherFunc(func(ctx context.Context, ev domain.Event) map[string]bool {
		return bus.Publish(ctx, ev)
	}), logbridge.Config{
		MinLevel:      config.ParseLevel(cfg.Agent.BridgeLevel),
		Ignore:        cfg.Agent.BridgeIgnore,
		DefaultSource: cfg.Agent.Service,
	})
	logger := slog.New(bridge)

	bus = notify.NewBus(notify.BusConfig{Logger: logger, Metrics: m})
	if _, err := notify.Setup(bus, cfg.Notify.SetupConfig(logger)); err != nil {
		return nil, &AgentError{Op: "NewAgent", Err: err, ExitCode: ExitNotifierError}
	}

	a := &Agent{
		config:    cfg,
		bus:       bus,
		bridge:    bridge,
		lifecycle: logbridge.NewLifecycle(bus, cfg.Agent.Service),
		health:    api.NewHealthState(),
		logger:    logger,
	}

	if len(command) > 0 {
		a.runner = NewProcessRunner(cfg.ProcessConfig(command), cfg.Agent.Service, bus, a.lifecycle, a.health, logger)
	}

	if cfg.Server.Enabled {
		handler := api.SetupAPI(api.APIConfig{
			Service: cfg.Agent.Service,
			Version: Version,
			Events:  bus,
			Health:  a.health,
			Components: []api.Component{{
				Name: "log_bridge",
				Status: func() any {
					return map[string]any{"dropped": bridge.Dropped()}
				},
			}},
			Metrics:   m.Handler(nil),
			AuthToken: cfg.Server.AuthToken,
			Logger:    logger,
		})
		a.httpServer = &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	return a, nil
}

// Logger returns the bridged logger; run installs it as the slog default.
func (a *Agent) Logger() *slog.Logger {
	return a.logger
}

// Bus returns the event bus.
func (a *Agent) Bus() *notify.Bus {
	return a.bus
}

// Start blocks until a shutdown signal, ctx cancellation, a fatal server
// error or the final exit of the child process. It returns the exit code
// of the agent.
func (a *Agent) Start(ctx context.Context) (int, error) {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(sigCtx, lifecycleTimeout)
	a.lifecycle.Startup(startCtx)
	cancel()

	runCtx, cancelRun := context.WithCancel(sigCtx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	exitCode := ExitSuccess
	var childErr error
	if a.runner != nil {
		g.Go(func() error {
			defer cancelRun()
			exitCode, childErr = a.runner.Run(gctx)
			return nil
		})
	}

	if a.httpServer != nil {
		g.Go(func() error {
			a.logger.Info("starting HTTP server", "address", a.config.Server.Address())
			if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return &AgentError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
			defer cancel()
			if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("HTTP server shutdown error", "error", err)
			}
			return nil
		})
	}

	if a.runner == nil && a.httpServer == nil {
		<-runCtx.Done()
	}
	err := g.Wait()

	reason := "normal shutdown"
	switch {
	case err != nil:
		reason = err.Error()
	case childErr != nil:
		reason = childErr.Error()
	case ctx.Err() != nil:
		reason = "context cancelled"
	case sigCtx.Err() != nil:
		reason = "received shutdown signal"
	case a.runner != nil:
		reason = "process exited"
	}
	a.Shutdown(reason)

	if err != nil {
		return ExitHTTPServerError, err
	}
	return exitCode, nil
}

// Shutdown publishes the shutdown event, waits for pending log publishes
// and closes the notifiers.
func (a *Agent) Shutdown(reason string) {
	a.health.SetUnhealthy("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()
	a.lifecycle.Shutdown(ctx, reason)

	if err := a.bridge.Wait(ctx); err != nil {
		a.logger.Warn("log bridge did not drain", "error", err)
	}
	if err := a.bus.Close(); err != nil {
		a.logger.Warn("notifier close error", "error", err)
	}
}

// =============================================================================
// Agent Error
// =============================================================================

// AgentError represents an error during agent operation.
type AgentError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *AgentError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *AgentError) Unwrap() error {
	return e.Err
}

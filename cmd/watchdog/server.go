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

	"github.com/artpar/watchdog/internal/shell/api"
	"github.com/artpar/watchdog/internal/shell/docker"
	"github.com/artpar/watchdog/internal/shell/logbridge"
	"github.com/artpar/watchdog/internal/shell/metrics"
	"github.com/artpar/watchdog/internal/shell/notify"
	"github.com/artpar/watchdog/internal/shell/supervisor"
	"github.com/artpar/watchdog/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitNotifierError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// lifecycleTimeout bounds the startup and shutdown event deliveries.
const lifecycleTimeout = 30 * time.Second

// =============================================================================
// Server
// =============================================================================

// Server wires the event bus, the monitors and the status surface.
type Server struct {
	config     *Config
	bus        *notify.Bus
	supervisor *supervisor.Supervisor
	lifecycle  *logbridge.Lifecycle
	docker     *docker.DockerClient
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	m := metrics.New()

	bus := notify.NewBus(notify.BusConfig{Logger: logger, Metrics: m})
	if _, err := notify.Setup(bus, cfg.Notify.SetupConfig(logger)); err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitNotifierError}
	}

	s := &Server{
		config:    cfg,
		bus:       bus,
		lifecycle: logbridge.NewLifecycle(bus, "watchdog"),
		logger:    logger,
	}

	var monitors []supervisor.Monitor
	reporterCfg := cfg.ReporterConfig()
	var components []api.Component

	// Docker event monitor
	var dockerMonitor *workers.DockerMonitor
	if cfg.Docker.Enabled {
		d, err := docker.NewDockerClient(cfg.DockerClientConfig())
		if err != nil {
			bus.Close()
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDockerError}
		}
		s.docker = d

		monitorCfg, err := cfg.DockerMonitorConfig(logger)
		if err != nil {
			s.close()
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
		}
		dockerMonitor = workers.NewDockerMonitor(d, bus, monitorCfg, logger)
		monitors = append(monitors, dockerMonitor)
		reporterCfg.Docker = dockerMonitor
		components = append(components, api.Component{
			Name:   "docker",
			Status: func() any { return dockerMonitor.Status() },
		})
		logger.Info("docker monitor enabled",
			"containers", monitorCfg.Containers,
			"labels", monitorCfg.Labels,
		)
	} else {
		logger.Info("docker monitor disabled")
	}

	// Health checker
	var healthChecker *workers.HealthChecker
	if cfg.Health.URL != "" {
		hc, err := workers.NewHealthChecker(bus, cfg.HealthCheckerConfig(), logger)
		if err != nil {
			s.close()
			return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
		}
		healthChecker = hc
		monitors = append(monitors, hc)
		reporterCfg.Health = hc
		components = append(components, api.Component{
			Name:   "health",
			Status: func() any { return hc.Status() },
		})
	} else {
		logger.Info("health checker disabled")
	}

	// Host metrics monitor
	var hostMonitor *workers.HostMonitor
	if cfg.Host.Enabled {
		hostMonitor = workers.NewHostMonitor(bus, cfg.HostMonitorConfig(), logger)
		monitors = append(monitors, hostMonitor)
		reporterCfg.Host = hostMonitor
		components = append(components, api.Component{
			Name:   "host",
			Status: func() any { return hostMonitor.Status() },
		})
	} else {
		logger.Info("host monitor disabled")
	}

	// Periodic status report
	if cfg.Report.Interval > 0 {
		monitors = append(monitors, workers.NewStatusReporter(bus, reporterCfg, logger))
	} else {
		logger.Info("status report disabled")
	}

	// Crash reports bypass the bus and go straight to the file notifier.
	supCfg := cfg.SupervisorConfig()
	if fileNotifier, ok := bus.Lookup(notify.DefaultFileConfig().Name); ok {
		supCfg.SafetyNet = fileNotifier
	}
	supCfg.Metrics = m
	supCfg.Logger = logger
	sup, err := supervisor.New(supCfg, monitors...)
	if err != nil {
		s.close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}
	s.supervisor = sup
	components = append([]api.Component{{
		Name:   "monitors",
		Status: func() any { return sup.Status() },
	}}, components...)

	// Status surface
	if cfg.Server.Enabled {
		handler := api.SetupAPI(api.APIConfig{
			Service:    "watchdog",
			Version:    Version,
			Events:     bus,
			Health:     api.NewHealthState(),
			Components: components,
			Metrics: m.Handler(func() {
				if dockerMonitor != nil {
					m.ObserveContainers(dockerMonitor.Status().Containers)
				}
				if healthChecker != nil {
					m.ObserveHealth(healthChecker.Status())
				}
				if hostMonitor != nil {
					m.ObserveHost(hostMonitor.Status())
				}
			}),
			AuthToken: cfg.Server.AuthToken,
			Logger:    logger,
		})
		s.httpServer = &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	} else {
		logger.Info("status server disabled")
	}

	return s, nil
}

// Start runs the monitors and the status server and blocks until a shutdown
// signal, ctx cancellation or a fatal server error.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(sigCtx, lifecycleTimeout)
	s.lifecycle.Startup(startCtx)
	cancel()

	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		return s.supervisor.Run(gctx)
	})

	if s.httpServer != nil {
		g.Go(func() error {
			s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
			defer cancel()
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("HTTP server shutdown error", "error", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	reason := "server error"
	switch {
	case ctx.Err() != nil:
		reason = "context cancelled"
	case sigCtx.Err() != nil:
		reason = "received shutdown signal"
	}
	s.logger.Info("initiating graceful shutdown", "reason", reason)

	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()

	var err error
	select {
	case err = <-waitErr:
	case <-time.After(s.config.Server.ShutdownTimeout):
		s.logger.Warn("monitors did not stop within shutdown timeout",
			"timeout", s.config.Server.ShutdownTimeout)
	}
	if err != nil {
		reason = err.Error()
	}

	s.Shutdown(reason)
	return err
}

// Shutdown publishes the shutdown event and releases resources.
func (s *Server) Shutdown(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()
	s.lifecycle.Shutdown(ctx, reason)

	s.close()
	s.logger.Info("shutdown complete")
}

func (s *Server) close() {
	if s.docker != nil {
		if err := s.docker.Close(); err != nil {
			s.logger.Error("Docker client close error", "error", err)
		}
	}
	if err := s.bus.Close(); err != nil {
		s.logger.Error("notifier close error", "error", err)
	}
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

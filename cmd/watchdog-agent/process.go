package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
	"github.com/artpar/watchdog/internal/shell/logbridge"
	"github.com/artpar/watchdog/internal/shell/supervisor"
)

// ExitCommandNotFound is returned when the child cannot be started.
const ExitCommandNotFound = 127

// ProcessConfig configures the supervised child process.
type ProcessConfig struct {
	Command        []string
	Restart        bool
	MaxRestarts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
}

// HealthSetter receives the child's liveness.
type HealthSetter interface {
	SetHealthy()
	SetUnhealthy(reason string)
}

// ProcessRunner runs the primary service as a child process, reports its
// crashes and optionally restarts it.
type ProcessRunner struct {
	config    ProcessConfig
	pub       logbridge.Publisher
	lifecycle *logbridge.Lifecycle
	health    HealthSetter
	service   string
	logger    *slog.Logger
}

// NewProcessRunner creates a runner for config.Command.
func NewProcessRunner(config ProcessConfig, service string, pub logbridge.Publisher, lifecycle *logbridge.Lifecycle, health HealthSetter, logger *slog.Logger) *ProcessRunner {
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 10 * time.Second
	}
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}
	return &ProcessRunner{
		config:    config,
		pub:       pub,
		lifecycle: lifecycle,
		health:    health,
		service:   service,
		logger:    logger.With("component", "process"),
	}
}

// Run starts the child and blocks until it exits for good or ctx is
// cancelled. It returns the exit code the agent should exit with.
func (p *ProcessRunner) Run(ctx context.Context) (int, error) {
	for restarts := 0; ; restarts++ {
		code, err := p.runOnce(ctx)
		if ctx.Err() != nil {
			// stopped by the agent
			return 0, nil
		}
		if err == nil {
			p.logger.Info("process exited", "exit_code", code)
			return code, nil
		}

		p.health.SetUnhealthy(err.Error())
		if !p.config.Restart || restarts >= p.config.MaxRestarts || code == ExitCommandNotFound {
			p.reportExit(ctx, code, err, restarts)
			return code, err
		}

		delay := supervisor.Backoff(restarts, p.config.InitialBackoff, p.config.MaxBackoff)
		p.logger.Warn("process failed, restarting",
			"error", err,
			"restarts", restarts+1,
			"delay", delay,
		)
		p.lifecycle.CrashRestart(ctx, err)

		select {
		case <-ctx.Done():
			return 0, nil
		case <-time.After(delay):
		}
	}
}

// runOnce returns a nil error only for a clean exit.
func (p *ProcessRunner) runOnce(ctx context.Context) (int, error) {
	cmd := exec.CommandContext(ctx, p.config.Command[0], p.config.Command[1:]...)
	cmd.Stdout = p.config.Stdout
	cmd.Stderr = p.config.Stderr
	cmd.Stdin = os.Stdin
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = p.config.StopTimeout

	if err := cmd.Start(); err != nil {
		return ExitCommandNotFound, fmt.Errorf("start %s: %w", p.config.Command[0], err)
	}
	p.logger.Info("process started", "command", p.config.Command, "pid", cmd.Process.Pid)
	p.health.SetHealthy()

	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// terminated by a signal
			code = 1
		}
		return code, fmt.Errorf("process exited with code %d: %w", code, err)
	}
	return 1, fmt.Errorf("wait: %w", err)
}

func (p *ProcessRunner) reportExit(ctx context.Context, code int, err error, restarts int) {
	ev := domain.NewEvent(domain.SeverityCritical, domain.SourceLifecycle, "💥 "+p.service+" exited", err.Error()).
		WithCategory(domain.CategoryCrash).
		WithMetadata("exit_code", code).
		WithMetadata("restarts", restarts)
	p.pub.Publish(context.WithoutCancel(ctx), ev)
}

// Package supervisor keeps the watchdog monitors running. Each monitor runs in
// its own goroutine; a monitor that panics or returns unexpectedly is reported
// straight to a safety-net notifier, bypassing the event bus, and restarted
// after an exponential backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/artpar/watchdog/internal/core/domain"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrMonitorExited is recorded when a monitor returns nil before shutdown.
	ErrMonitorExited = errors.New("monitor exited unexpectedly")

	// ErrDuplicateMonitor is returned when two monitors share a name.
	ErrDuplicateMonitor = errors.New("duplicate monitor name")

	// ErrAlreadyRunning is returned by Add after Run has started.
	ErrAlreadyRunning = errors.New("supervisor already running")
)

// PanicError carries a recovered panic and the stack at the point of panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// =============================================================================
// Interfaces
// =============================================================================

// Monitor is a long-running unit of work. Run blocks until ctx is cancelled.
type Monitor interface {
	Name() string
	Run(ctx context.Context) error
}

// SafetyNet receives crash reports directly. notify.Notifier implementations satisfy it.
type SafetyNet interface {
	Send(ctx context.Context, ev domain.Event) bool
}

// Recorder observes monitor restarts.
type Recorder interface {
	MonitorRestarted(name string)
}

type nopRecorder struct{}

func (nopRecorder) MonitorRestarted(string) {}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the supervisor.
type Config struct {
	// InitialBackoff is the delay before the first restart.
	// Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps the restart delay.
	// Default: 1 minute.
	MaxBackoff time.Duration

	// ResetAfter resets the backoff when a run lasted at least this long.
	// Default: 5 minutes.
	ResetAfter time.Duration

	// ReportTimeout bounds one safety-net delivery.
	// Default: 10 seconds.
	ReportTimeout time.Duration

	SafetyNet SafetyNet
	Metrics   Recorder
	Logger    *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
		ResetAfter:     5 * time.Minute,
		ReportTimeout:  10 * time.Second,
	}
}

// Backoff returns the delay before restart number attempt (0-based):
// initial doubled per attempt, capped at limit.
func Backoff(attempt int, initial, limit time.Duration) time.Duration {
	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	return min(d, limit)
}

// =============================================================================
// Supervisor
// =============================================================================

// MonitorStatus is the supervision state of one monitor.
type MonitorStatus struct {
	Name      string     `json:"name" yaml:"name"`
	Running   bool       `json:"running" yaml:"running"`
	Restarts  int        `json:"restarts" yaml:"restarts"`
	LastError string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastExit  *time.Time `json:"last_exit,omitempty" yaml:"last_exit,omitempty"`
}

// Supervisor runs and restarts monitors.
type Supervisor struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	monitors []Monitor
	status   map[string]*MonitorStatus
	running  bool
}

// New creates a supervisor. Duplicate monitor names are rejected by Add.
func New(config Config, monitors ...Monitor) (*Supervisor, error) {
	defaults := DefaultConfig()
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if config.ResetAfter <= 0 {
		config.ResetAfter = defaults.ResetAfter
	}
	if config.ReportTimeout <= 0 {
		config.ReportTimeout = defaults.ReportTimeout
	}
	if config.Metrics == nil {
		config.Metrics = nopRecorder{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		config: config,
		logger: logger.With("component", "supervisor"),
		now:    time.Now,
		status: make(map[string]*MonitorStatus),
	}
	for _, m := range monitors {
		if err := s.Add(m); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers a monitor before Run.
func (s *Supervisor) Add(m Monitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	name := m.Name()
	if _, ok := s.status[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMonitor, name)
	}
	s.monitors = append(s.monitors, m)
	s.status[name] = &MonitorStatus{Name: name}
	return nil
}

// Run supervises every monitor until ctx is cancelled, then waits for all of
// them to return.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	monitors := slices.Clone(s.monitors)
	s.mu.Unlock()

	s.logger.Info("supervisor started", "monitors", len(monitors))

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.supervise(ctx, m)
		}()
	}
	wg.Wait()

	s.logger.Info("supervisor stopped")
	return nil
}

func (s *Supervisor) supervise(ctx context.Context, m Monitor) {
	name := m.Name()
	logger := s.logger.With("monitor", name)
	attempt := 0

	for {
		s.setRunning(name, true)
		started := s.now()
		err := runOnce(ctx, m)
		s.setRunning(name, false)

		if ctx.Err() != nil {
			logger.Debug("monitor stopped")
			return
		}
		if err == nil {
			err = ErrMonitorExited
		}

		if s.now().Sub(started) >= s.config.ResetAfter {
			attempt = 0
		}
		delay := Backoff(attempt, s.config.InitialBackoff, s.config.MaxBackoff)
		attempt++

		s.recordFailure(name, err)
		s.config.Metrics.MonitorRestarted(name)
		logger.Warn("monitor failed, restarting", "error", err, "restart_in", delay)
		s.report(ctx, name, err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce runs the monitor, converting a panic into a *PanicError.
func runOnce(ctx context.Context, m Monitor) (err error) {
	defer Recover(&err)
	return m.Run(ctx)
}

// Recover stores a panic of the calling goroutine in *err as a *PanicError.
// Monitors defer it in every goroutine they spawn so a crash there reaches
// the supervisor through Run's error instead of killing the process.
func Recover(err *error) {
	if r := recover(); r != nil {
		*err = &PanicError{Value: r, Stack: debug.Stack()}
	}
}

// report sends the failure to the safety net, outside the event bus.
func (s *Supervisor) report(ctx context.Context, name string, err error, delay time.Duration) {
	if s.config.SafetyNet == nil {
		return
	}

	severity := domain.SeverityError
	title := fmt.Sprintf("Monitor %s failed", name)
	var trace string
	var pe *PanicError
	if errors.As(err, &pe) {
		severity = domain.SeverityCritical
		title = fmt.Sprintf("Monitor %s crashed", name)
		trace = string(pe.Stack)
	}

	ev := domain.NewEvent(severity, domain.SourceSupervisor, title,
		fmt.Sprintf("%v. Restarting in %s", err, delay)).
		WithCategory(domain.CategoryCrash).
		WithFields(map[string]any{
			"monitor":    name,
			"restart_in": delay.String(),
			"restarts":   s.restarts(name),
		})
	if trace != "" {
		ev = ev.WithTrace(trace)
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ReportTimeout)
	defer cancel()
	if !s.config.SafetyNet.Send(sendCtx, ev) {
		s.logger.Warn("safety net delivery failed", "monitor", name)
	}
}

func (s *Supervisor) setRunning(name string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[name].Running = running
}

func (s *Supervisor) recordFailure(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status[name]
	st.Restarts++
	st.LastError = err.Error()
	now := s.now().UTC()
	st.LastExit = &now
}

func (s *Supervisor) restarts(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[name].Restarts
}

// Status returns the supervision state of every monitor, in registration order.
func (s *Supervisor) Status() []MonitorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MonitorStatus, 0, len(s.monitors))
	for _, m := range s.monitors {
		st := *s.status[m.Name()]
		if st.LastExit != nil {
			t := *st.LastExit
			st.LastExit = &t
		}
		out = append(out, st)
	}
	return out
}

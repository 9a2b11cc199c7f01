package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/artpar/watchdog/internal/core/domain"
)

// FileConfig configures a FileNotifier.
type FileConfig struct {
	Name        string
	Dir         string
	Filename    string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	Compress    bool
	Console     bool
	MinSeverity domain.Severity
	// ConsoleWriter defaults to os.Stderr.
	ConsoleWriter io.Writer
	// ErrorWriter receives the notifier's own failures. Defaults to os.Stderr.
	ErrorWriter io.Writer
}

// DefaultFileConfig returns the file notifier defaults: 5MB files, 3 backups.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Name:        "file",
		Dir:         "/app/logs",
		Filename:    "notifications.log",
		MaxSizeMB:   5,
		MaxBackups:  3,
		Console:     true,
		MinSeverity: domain.SeverityDebug,
	}
}

var consoleColors = map[domain.Severity]string{
	domain.SeverityDebug:    "\033[90m",
	domain.SeverityInfo:     "\033[36m",
	domain.SeverityWarning:  "\033[33m",
	domain.SeverityError:    "\033[31m",
	domain.SeverityCritical: "\033[41m",
}

const colorReset = "\033[0m"

// =============================================================================
// File Notifier
// =============================================================================

// FileNotifier appends one JSON line per event to a rotating file and
// optionally echoes a coloured plain line to the console. It is the
// last-resort channel: its failures go to ErrorWriter, never to a logger.
type FileNotifier struct {
	base

	mu      sync.Mutex
	file    io.WriteCloser
	console io.Writer
	errOut  io.Writer
}

// NewFileNotifier creates the log directory and the rotating writer.
// When the directory cannot be created the notifier still works in
// console-only mode and the error is returned alongside it.
func NewFileNotifier(cfg FileConfig) (*FileNotifier, error) {
	defaults := DefaultFileConfig()
	if cfg.MinSeverity == 0 {
		cfg.MinSeverity = defaults.MinSeverity
	}
	if cfg.Filename == "" {
		cfg.Filename = defaults.Filename
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = defaults.MaxSizeMB
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = defaults.MaxBackups
	}
	if cfg.ConsoleWriter == nil {
		cfg.ConsoleWriter = os.Stderr
	}
	if cfg.ErrorWriter == nil {
		cfg.ErrorWriter = os.Stderr
	}

	n := &FileNotifier{errOut: cfg.ErrorWriter}
	n.init(cfg.Name, defaults.Name, cfg.MinSeverity)
	if cfg.Console {
		n.console = cfg.ConsoleWriter
	}

	if cfg.Dir == "" {
		return n, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return n, fmt.Errorf("create log directory %s: %w", cfg.Dir, err)
	}

	n.file = &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, cfg.Filename),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return n, nil
}

// Send writes ev to the file and the console.
func (n *FileNotifier) Send(_ context.Context, ev domain.Event) bool {
	line, err := json.Marshal(jsonPayload(ev))
	if err != nil {
		fmt.Fprintf(n.errOut, "file notifier: encode event %s: %v\n", ev.ID, err)
		return false
	}
	line = append(line, '\n')

	n.mu.Lock()
	defer n.mu.Unlock()

	ok := true
	if n.file != nil {
		if _, err := n.file.Write(line); err != nil {
			fmt.Fprintf(n.errOut, "file notifier: write: %v (event: %s)\n", err, ev.FormatPlain())
			ok = false
		}
	}
	if n.console != nil {
		if _, err := fmt.Fprintf(n.console, "%s%s%s\n", consoleColors[ev.Severity], ev.FormatPlain(), colorReset); err != nil {
			ok = false
		}
	}
	return ok
}

// Close closes the rotating file.
func (n *FileNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.file == nil {
		return nil
	}
	err := n.file.Close()
	n.file = nil
	return err
}

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	slogmulti "github.com/samber/slog-multi"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logging configuration
type Config struct {
	Level   LogLevel  // Minimum log level to output
	Output  io.Writer // Console destination (defaults to stderr)
	LogFile string    // Optional file that receives a copy of every record
	RunID   string    // Attached to every record when set
}

// Logger wraps slog.Logger with the messages xssh emits
type Logger struct {
	logger *slog.Logger
	file   *os.File
}

// NewLogger creates the console logger and, when configured, tees it into
// the log file
func NewLogger(config Config) (*Logger, error) {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	level := convertLogLevel(config.Level)

	console := charmlog.NewWithOptions(config.Output, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           charmlog.Level(level),
	})

	var handler slog.Handler = console
	var file *os.File
	if config.LogFile != "" {
		f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		file = f
		handler = slogmulti.Fanout(console, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}

	logger := slog.New(handler)
	if config.RunID != "" {
		logger = logger.With("run_id", config.RunID)
	}

	return &Logger{logger: logger, file: file}, nil
}

// Discard returns a logger that drops everything, for tests and library use
func Discard() *Logger {
	return &Logger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// convertLogLevel converts our LogLevel to slog.Level
func convertLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// LogConfigFiles logs the SSH config files that were read
func (l *Logger) LogConfigFiles(root string, files []string, aliases int) {
	l.Debug("ssh config resolved",
		"root", root,
		"files", files,
		"aliases", aliases,
	)
}

// LogFallback logs that a pattern matched no alias
func (l *Logger) LogFallback(pattern string) {
	l.Warn("no hosts found matching pattern, falling back to direct connection",
		"pattern", pattern,
	)
}

// LogDispatchStart logs the start of a run
func (l *Logger) LogDispatchStart(mode string, hosts []string, limit int) {
	l.Debug("dispatch started",
		"mode", mode,
		"host_count", len(hosts),
		"hosts", hosts,
		"max_parallel", limit,
	)
}

// LogHostSuccess logs a host that completed cleanly
func (l *Logger) LogHostSuccess(host string, duration time.Duration) {
	l.Debug("command executed successfully",
		"host", host,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogHostFailure logs a failed host without aborting the run
func (l *Logger) LogHostFailure(host, status string, exitCode int, err error) {
	args := []any{
		"host", host,
		"status", status,
		"exit_code", exitCode,
	}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Warn("host failed", args...)
}

// LogDispatchComplete logs the aggregated outcome
func (l *Logger) LogDispatchComplete(total, failed int, summary string, duration time.Duration) {
	l.Debug("dispatch completed",
		"total", total,
		"failed", failed,
		"errors", summary,
		"total_duration_ms", duration.Milliseconds(),
	)
}

// LogInterrupt logs the signal that cancelled the run
func (l *Logger) LogInterrupt(sig string) {
	l.Error("received interrupt, aborting", "signal", sig)
}

// LogConnectionWarning logs security warnings for connections
func (l *Logger) LogConnectionWarning(hostname string, message string) {
	l.Warn("connection security warning",
		"host", hostname,
		"warning", message,
	)
}

package pkg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Host controller stack component identifiers.
const (
	ComponentController Component = "controller"
	ComponentRing       Component = "ring"
	ComponentEvent      Component = "event"
	ComponentContext    Component = "context"
	ComponentCommand    Component = "command"
	ComponentTransfer   Component = "transfer"
	ComponentPort       Component = "port"
	ComponentHost       Component = "host"
	ComponentHAL        Component = "hal"
	ComponentSim        Component = "sim"
)

// LogFormat selects the handler used by SetLogFormat.
type LogFormat int

// Log formats.
const (
	LogFormatText LogFormat = iota // key=value pairs
	LogFormatJSON                  // one JSON object per record
)

// ParseLogFormat returns the format named "text" or "json".
func ParseLogFormat(s string) (LogFormat, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return LogFormatText, nil
	case "json":
		return LogFormatJSON, nil
	}
	return 0, fmt.Errorf("%w: log format %q", ErrInvalidParameter, s)
}

// ParseLogLevel returns the level named by s ("debug", "info", "warn",
// "error", optionally with an offset such as "debug-4").
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return level, nil
}

var (
	// DefaultLogger receives every record logged through this package.
	DefaultLogger *slog.Logger

	// Shared by every handler this package creates, so SetLogLevel
	// applies across SetLogFormat calls.
	logLevel = new(slog.LevelVar)

	logMutex sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	DefaultLogger = NewLogger(os.Stderr, nil)
}

// SetLogLevel sets the minimum level of the package handlers.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// GetLogLevel returns the minimum level of the package handlers.
func GetLogLevel() slog.Level {
	return logLevel.Level()
}

// SetLogger replaces DefaultLogger.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat installs a handler writing format to w, or to os.Stderr if
// w is nil.
func SetLogFormat(w io.Writer, format LogFormat) {
	if w == nil {
		w = os.Stderr
	}
	if format == LogFormatJSON {
		SetLogger(NewJSONLogger(w, nil))
		return
	}
	SetLogger(NewLogger(w, nil))
}

// NewLogger returns a text logger on w. Nil opts use the package level.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, handlerOptions(opts)))
}

// NewJSONLogger returns a JSON logger on w. Nil opts use the package level.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, handlerOptions(opts)))
}

func handlerOptions(opts *slog.HandlerOptions) *slog.HandlerOptions {
	if opts == nil {
		return &slog.HandlerOptions{Level: logLevel}
	}
	return opts
}

// Logger returns DefaultLogger scoped to component, as installed at call
// time.
func Logger(component Component) *slog.Logger {
	return logger().With("component", string(component))
}

func logger() *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return DefaultLogger
}

// logAt skips building the attribute list when level is disabled; the
// engine logs from its event loop.
func logAt(level slog.Level, component Component, msg string, args []any) {
	l := logger()
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, msg, append([]any{"component", string(component)}, args...)...)
}

// LogDebug logs msg at debug level for component.
func LogDebug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args)
}

// LogInfo logs msg at info level for component.
func LogInfo(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args)
}

// LogWarn logs msg at warn level for component.
func LogWarn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args)
}

// LogError logs msg at error level for component.
func LogError(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args)
}

// Package logging configures zerolog for the Graph client and its binaries.
//
// Binaries call Setup once at startup. Packages derive their loggers with
// NewLogger, which tags entries with a "component" field:
//
//	graph-client  request engine, retries, batches
//	testuser      test account provisioning
//	graph-proxy   the service binary
//
// Request flow is logged at debug, recovered retries and server lifecycle at
// info, throttling, retry exhaustion and gate failures at warn, and usage
// blocks and transport failures at error.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel names a minimum severity, e.g. "debug" or "warn".
type LogLevel string

const (
	LevelDebug    LogLevel = "debug"
	LevelInfo     LogLevel = "info"
	LevelWarn     LogLevel = "warn"
	LevelError    LogLevel = "error"
	LevelDisabled LogLevel = "disabled"
)

// levels maps accepted level names, including aliases, to zerolog levels.
var levels = map[string]zerolog.Level{
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"disabled": zerolog.Disabled,
	"off":      zerolog.Disabled,
}

// Config controls Setup.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console format.
	Pretty bool

	// Output receives log lines. Nil means os.Stderr.
	Output io.Writer

	// Service tags every entry with a "service" field when set.
	Service string
}

// DefaultConfig returns JSON logging at info level to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Setup installs the process-wide logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	fields := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		fields = fields.Str("service", cfg.Service)
	}

	log.Logger = fields.Logger()
	return log.Logger
}

// parseLevel resolves a level name case-insensitively. Unknown names log at info.
func parseLevel(level LogLevel) zerolog.Level {
	if l, ok := levels[strings.ToLower(string(level))]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// NewLogger derives a logger for component from the process-wide logger.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

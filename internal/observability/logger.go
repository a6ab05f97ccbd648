package observability

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string

	// Format is the output format (json, console, pretty).
	Format string

	// Output is the output destination: stdout, stderr, or a file path opened for appending.
	Output string

	// AddSource adds source file and line number to log entries.
	AddSource bool

	// TimeFormat is the time format for timestamps.
	TimeFormat string
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates a new zerolog logger based on configuration.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	return NewLoggerTo(cfg, openOutput(cfg.Output))
}

// NewLoggerTo is NewLogger with an explicit destination; cfg.Output is ignored.
func NewLoggerTo(cfg LoggingConfig, output io.Writer) zerolog.Logger {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	// Use console writer for pretty output in development
	if strings.ToLower(cfg.Format) == "console" || strings.ToLower(cfg.Format) == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	logger := zerolog.New(output).With().Timestamp()
	if cfg.AddSource {
		logger = logger.Caller()
	}
	log := logger.Logger()

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return log.Level(level)
}

// openOutput resolves the configured destination. Unusable file paths fall back to stderr.
func openOutput(output string) io.Writer {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return os.Stderr
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stderr
	}
	return f
}

// parseLevel converts a string log level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithScopeContext adds the canonical scope keywords to a logger.
func WithScopeContext(logger zerolog.Logger, keywords string) zerolog.Logger {
	return logger.With().
		Str("scope", keywords).
		Logger()
}

// WithCombinationContext adds combination and year fields to a logger.
func WithCombinationContext(logger zerolog.Logger, combination string, year int) zerolog.Logger {
	return logger.With().
		Str("combination", combination).
		Int("year", year).
		Logger()
}

// WithSourceContext adds bibliographic source fields to a logger.
func WithSourceContext(logger zerolog.Logger, source, query string) zerolog.Logger {
	return logger.With().
		Str("source", source).
		Str("query", query).
		Logger()
}

// WithTaskContext adds the task name and its position in the chain.
func WithTaskContext(logger zerolog.Logger, task string, index, count int) zerolog.Logger {
	return logger.With().
		Str("task", task).
		Int("task_index", index).
		Int("task_count", count).
		Logger()
}

// WithRunContext adds the pipeline run identifier.
func WithRunContext(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().
		Str("run_id", runID).
		Logger()
}

// Package logging builds the zerolog loggers and the diagnostics reporter.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config contains logger configuration.
type Config struct {
	// Level sets the logging level (trace, debug, info, warn, error).
	Level string
	// Pretty enables human-readable console output with colors.
	Pretty bool
	// Output sets the output writer (defaults to os.Stderr, stdout carries
	// script output).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Pretty: true,
		Output: os.Stderr,
	}
}

// New creates a new zerolog logger with the given configuration.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewWithComponent creates a logger with a component field for structured logging.
func NewWithComponent(cfg Config, component string) zerolog.Logger {
	return New(cfg).With().Str("component", component).Logger()
}

// Diagnostics reports one-line setup and teardown notices. Every notice is
// logged at info level and written, newline terminated, to each sink.
type Diagnostics struct {
	logger zerolog.Logger

	mu    sync.Mutex
	sinks []io.Writer
}

// NewDiagnostics creates a reporter logging through logger.
func NewDiagnostics(logger zerolog.Logger, sinks ...io.Writer) *Diagnostics {
	return &Diagnostics{
		logger: logger.With().Str("component", "diagnostics").Logger(),
		sinks:  sinks,
	}
}

// Report implements probe.Reporter.
func (d *Diagnostics) Report(msg string) {
	d.logger.Info().Msg(msg)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range d.sinks {
		if _, err := fmt.Fprintln(w, msg); err != nil {
			d.logger.Debug().Err(err).Msg("Diagnostics sink write failed")
		}
	}
}

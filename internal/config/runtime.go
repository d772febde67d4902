package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Runtime holds runtime settings from environment variables
type Runtime struct {
	Tracefs      string `env:"PROBESCRIPT_TRACEFS" envDefault:""`
	LogLevel     string `env:"PROBESCRIPT_LOG_LEVEL" envDefault:"info"`
	LogPretty    bool   `env:"PROBESCRIPT_LOG_PRETTY" envDefault:"false"`
	OutputBuffer int    `env:"PROBESCRIPT_OUTPUT_BUFFER" envDefault:"1024"`
	RingBuffer   uint32 `env:"PROBESCRIPT_RING_BUFFER" envDefault:"4194304"`
}

// ParseRuntime parses runtime settings from the process environment
func ParseRuntime() (*Runtime, error) {
	return parseRuntime(env.Options{})
}

// ParseRuntimeFrom parses runtime settings from the given environment
func ParseRuntimeFrom(environ map[string]string) (*Runtime, error) {
	return parseRuntime(env.Options{Environment: environ})
}

func parseRuntime(opts env.Options) (*Runtime, error) {
	var cfg Runtime
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse runtime config: %w", err)
	}
	if cfg.OutputBuffer < 0 {
		return nil, fmt.Errorf("PROBESCRIPT_OUTPUT_BUFFER must not be negative, got %d", cfg.OutputBuffer)
	}
	return &cfg, nil
}

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		debug   bool
		info    bool
		warning bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"bogus", false, true, true},
		{"", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Output: &buf})

			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")
			logger.Warn().Msg("warn message")

			out := buf.String()
			assert.Equal(t, tt.debug, strings.Contains(out, "debug message"))
			assert.Equal(t, tt.info, strings.Contains(out, "info message"))
			assert.Equal(t, tt.warning, strings.Contains(out, "warn message"))
		})
	}
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Pretty: true, Output: &buf})
	logger.Info().Msg("pretty message")

	out := buf.String()
	assert.Contains(t, out, "pretty message")
	assert.False(t, strings.HasPrefix(out, "{"), "console output is not JSON")
}

func TestNewWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithComponent(Config{Level: "info", Output: &buf}, "probe")
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"probe"`)
}

func TestDiagnostics_Report(t *testing.T) {
	var logBuf, sink bytes.Buffer
	logger := zerolog.New(&logBuf)
	d := NewDiagnostics(logger, &sink)

	d.Report("enable tracepoint event: sys_enter_read")
	d.Report("unable to create tracepoint event sys_enter_read on cpu 2: busy")

	assert.Equal(t,
		"enable tracepoint event: sys_enter_read\n"+
			"unable to create tracepoint event sys_enter_read on cpu 2: busy\n",
		sink.String())
	assert.Contains(t, logBuf.String(), `"component":"diagnostics"`)
	assert.Contains(t, logBuf.String(), `"level":"info"`)
}

package bpfloader

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mrzor/probescript/internal/probe"
)

func TestKprobeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"missing symbol", fmt.Errorf("lookup: %w", os.ErrNotExist), probe.ErrSymbolNotFound},
		{"exists", fmt.Errorf("create: %w", unix.EEXIST), probe.ErrAlreadyHooked},
		{"busy", unix.EBUSY, probe.ErrAlreadyHooked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kprobeError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err, "the cause stays wrapped")
		})
	}

	other := errors.New("permission denied")
	assert.Equal(t, other, kprobeError(other))
}

func TestCPUs(t *testing.T) {
	cpus, err := CPUs()
	require.NoError(t, err)
	require.NotEmpty(t, cpus)
	for i, c := range cpus {
		assert.Equal(t, i, c)
	}
}

func TestNew_RequiresRouter(t *testing.T) {
	_, err := New(Config{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

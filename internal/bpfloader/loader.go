// Package bpfloader manages the lifecycle of eBPF programs and their kernel attachments.
package bpfloader

import (
	"errors"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sys/unix"

	"github.com/mrzor/probescript/internal/bpf"
	"github.com/mrzor/probescript/internal/event"
	"github.com/mrzor/probescript/internal/eventprocessor"
	"github.com/mrzor/probescript/internal/probe"
)

// DefaultBufferSize is the ring buffer size used when none is configured.
const DefaultBufferSize = 1 << 22

// Config contains loader configuration.
type Config struct {
	Logger zerolog.Logger
	Router *eventprocessor.Router
	// BufferSize is the ring buffer size in bytes, a power of two multiple
	// of the page size.
	BufferSize uint32
	// GroupID is the thread group whose own hits the programs never submit.
	// Zero submits every hit.
	GroupID uint32
}

// Loader owns the probe ring buffer and creates kernel attachments feeding it.
// It implements probe.PointHooker and probe.CounterFactory.
type Loader struct {
	logger zerolog.Logger
	router *eventprocessor.Router
	events *ebpf.Map
	group  uint32
}

// New creates a new Loader and creates the ring buffer in the kernel.
func New(cfg Config) (*Loader, error) {
	if cfg.Router == nil {
		return nil, errors.New("loader requires a router")
	}
	size := cfg.BufferSize
	if size == 0 {
		size = DefaultBufferSize
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("removing memlock rlimit: %w", err)
	}

	events, err := ebpf.NewMap(bpf.EventsMap(size))
	if err != nil {
		return nil, fmt.Errorf("creating ring buffer: %w", err)
	}

	return &Loader{
		logger: cfg.Logger.With().Str("component", "bpfloader").Logger(),
		router: cfg.Router,
		events: events,
		group:  cfg.GroupID,
	}, nil
}

// OpenRingBuffer opens and returns a ring buffer reader for receiving samples.
func (l *Loader) OpenRingBuffer() (*ringbuf.Reader, error) {
	rd, err := ringbuf.NewReader(l.events)
	if err != nil {
		return nil, fmt.Errorf("opening ring buffer: %w", err)
	}
	return rd, nil
}

// Close releases the ring buffer. Hooks and counters must be released first.
func (l *Loader) Close() error {
	if err := l.events.Close(); err != nil {
		return fmt.Errorf("closing ring buffer: %w", err)
	}
	return nil
}

// Hook implements probe.PointHooker with a kprobe on symbol.
func (l *Loader) Hook(symbol string, fn probe.PointHandler) (probe.Hook, error) {
	cookie := l.router.NextCookie()
	prog, err := ebpf.NewProgram(bpf.KprobeProgram(l.events.FD(), cookie, l.group))
	if err != nil {
		return nil, fmt.Errorf("loading kprobe program: %w", err)
	}

	l.router.Add(cookie, func(h bpf.Header, payload []byte) {
		var regs event.Registers
		if err := bpf.DecodeRegisters(payload, &regs); err != nil {
			l.logger.Debug().Err(err).Str("symbol", symbol).Msg("Dropping kprobe sample")
			return
		}
		fn(int(h.CPU), h.TGID(), &regs)
	})

	lnk, err := link.Kprobe(symbol, prog, nil)
	if err != nil {
		l.router.Remove(cookie)
		_ = prog.Close() //nolint:errcheck // Best-effort cleanup in error path
		return nil, fmt.Errorf("attaching kprobe %s: %w", symbol, kprobeError(err))
	}

	l.logger.Debug().Str("symbol", symbol).Uint64("cookie", cookie).Msg("Kprobe attached")
	return &kprobeHook{link: lnk, prog: prog, cookie: cookie, router: l.router}, nil
}

// kprobeError maps kprobe attachment failures onto the probe sentinels.
func kprobeError(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %w", probe.ErrSymbolNotFound, err)
	case errors.Is(err, unix.EEXIST), errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w: %w", probe.ErrAlreadyHooked, err)
	default:
		return err
	}
}

type kprobeHook struct {
	link   link.Link
	prog   *ebpf.Program
	cookie uint64
	router *eventprocessor.Router
}

// Unhook detaches the kprobe, removes its route and unloads the program.
func (h *kprobeHook) Unhook() error {
	var errs []error
	if err := h.link.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing kprobe link: %w", err))
	}
	h.router.Remove(h.cookie)
	if err := h.prog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing kprobe program: %w", err))
	}
	return errors.Join(errs...)
}

// CPUs returns the logical CPUs of the host, numbered from zero.
func CPUs() ([]int, error) {
	n, err := cpu.Counts(true)
	if err != nil {
		return nil, fmt.Errorf("counting CPUs: %w", err)
	}
	if n < 1 {
		n = 1
	}
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i
	}
	return cpus, nil
}

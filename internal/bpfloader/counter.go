package bpfloader

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"

	"github.com/mrzor/probescript/internal/bpf"
	"github.com/mrzor/probescript/internal/catalog"
	"github.com/mrzor/probescript/internal/eventprocessor"
	"github.com/mrzor/probescript/internal/probe"
)

// CreateCounter implements probe.CounterFactory. It opens a disabled
// tracepoint perf event on cpu and attaches a program submitting every raw
// record of desc to the ring buffer.
func (l *Loader) CreateCounter(cpu int, desc *catalog.EventDescriptor, fn probe.OverflowHandler) (probe.Counter, error) {
	if desc.ID == 0 {
		return nil, fmt.Errorf("event %s has no tracepoint id", desc.Name)
	}
	size := desc.CopySize(bpf.MaxRecordSize)

	cookie := l.router.NextCookie()
	spec, err := bpf.TracepointProgram(l.events.FD(), cookie, l.group, cpu, size)
	if err != nil {
		return nil, err
	}
	prog, err := ebpf.NewProgram(spec)
	if err != nil {
		return nil, fmt.Errorf("loading tracepoint program: %w", err)
	}

	attr := &unix.PerfEventAttr{
		Type:        unix.PERF_TYPE_TRACEPOINT,
		Config:      desc.ID,
		Size:        uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample:      1,
		Sample_type: unix.PERF_SAMPLE_RAW,
		Wakeup:      1,
		Bits:        unix.PerfBitDisabled,
	}
	fd, err := unix.PerfEventOpen(attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		_ = prog.Close() //nolint:errcheck // Best-effort cleanup in error path
		return nil, fmt.Errorf("opening perf event: %w", err)
	}

	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_SET_BPF, prog.FD()); err != nil {
		_ = unix.Close(fd) //nolint:errcheck // Best-effort cleanup in error path
		_ = prog.Close() //nolint:errcheck // Best-effort cleanup in error path
		return nil, fmt.Errorf("attaching program to perf event: %w", err)
	}

	l.router.Add(cookie, func(h bpf.Header, payload []byte) {
		fn(probe.Sample{Unit: int(h.CPU), TGID: h.TGID(), Raw: payload})
	})

	return &perfCounter{fd: fd, prog: prog, cookie: cookie, router: l.router}, nil
}

type perfCounter struct {
	fd     int
	prog   *ebpf.Program
	cookie uint64
	router *eventprocessor.Router
}

func (c *perfCounter) Enable() error {
	if err := unix.IoctlSetInt(c.fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		return fmt.Errorf("enabling perf event: %w", err)
	}
	return nil
}

func (c *perfCounter) Disable() error {
	if err := unix.IoctlSetInt(c.fd, unix.PERF_EVENT_IOC_DISABLE, 0); err != nil {
		return fmt.Errorf("disabling perf event: %w", err)
	}
	return nil
}

// Release closes the perf event, removes the route and unloads the program.
func (c *perfCounter) Release() error {
	if c.fd < 0 {
		return nil
	}
	var errs []error
	if err := unix.Close(c.fd); err != nil {
		errs = append(errs, fmt.Errorf("closing perf event: %w", err))
	}
	c.fd = -1
	c.router.Remove(c.cookie)
	if err := c.prog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing tracepoint program: %w", err))
	}
	return errors.Join(errs...)
}

package probe

import (
	"errors"
	"fmt"

	"github.com/mrzor/probescript/internal/catalog"
	"github.com/mrzor/probescript/internal/event"
)

// Kind is the probe record variant.
type Kind uint8

const (
	// KindPoint is a single-location hook.
	KindPoint Kind = iota + 1
	// KindCounter is one per-CPU sampling counter.
	KindCounter
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindCounter:
		return "counter"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Record is an active probe owned by a session registry.
// The concrete type is *PointRecord or *CounterRecord.
type Record interface {
	Kind() Kind
	// Target names what the record is bound to.
	Target() string
	// Closure returns the script the record dispatches to, nil once released.
	Closure() Closure
	// GroupID returns the controlling thread group recorded at registration.
	GroupID() uint32

	teardown() error
	release()
	released() bool
}

// recordBase holds the fields shared by every record variant.
type recordBase struct {
	closure Closure
	group   uint32
	freed   bool
}

func (b *recordBase) Closure() Closure { return b.closure }
func (b *recordBase) GroupID() uint32  { return b.group }
func (b *recordBase) released() bool   { return b.freed }

func (b *recordBase) releaseBase() {
	b.closure = nil
	b.freed = true
}

// PointRecord is a point probe bound to one symbol.
type PointRecord struct {
	recordBase
	symbol string
	desc   *catalog.EventDescriptor
	hook   Hook
}

// Kind implements Record.
func (r *PointRecord) Kind() Kind { return KindPoint }

// Target implements Record.
func (r *PointRecord) Target() string { return "kprobe:" + r.symbol }

// Symbol returns the hooked symbol.
func (r *PointRecord) Symbol() string { return r.symbol }

func (r *PointRecord) teardown() error {
	if r.hook == nil {
		return nil
	}
	if err := r.hook.Unhook(); err != nil {
		return fmt.Errorf("unhooking %s: %w", r.symbol, err)
	}
	return nil
}

func (r *PointRecord) release() {
	r.hook = nil
	r.desc = nil
	r.releaseBase()
}

// CounterRecord is one sampling counter bound to a tracepoint on one CPU.
type CounterRecord struct {
	recordBase
	desc    *catalog.EventDescriptor
	class   event.Classification
	cpu     int
	counter Counter
}

// Kind implements Record.
func (r *CounterRecord) Kind() Kind { return KindCounter }

// Target implements Record.
func (r *CounterRecord) Target() string {
	return fmt.Sprintf("tracepoint:%s:%s@cpu%d", r.desc.Subsystem, r.desc.Name, r.cpu)
}

// Event returns the tracepoint descriptor.
func (r *CounterRecord) Event() *catalog.EventDescriptor { return r.desc }

// CPU returns the CPU the counter is bound to.
func (r *CounterRecord) CPU() int { return r.cpu }

// Classification returns the event classification.
func (r *CounterRecord) Classification() event.Classification { return r.class }

// teardown disables then releases the counter. Release runs even when
// disabling fails.
func (r *CounterRecord) teardown() error {
	if r.counter == nil {
		return nil
	}
	var errs []error
	if err := r.counter.Disable(); err != nil {
		errs = append(errs, fmt.Errorf("disabling counter: %w", err))
	}
	if err := r.counter.Release(); err != nil {
		errs = append(errs, fmt.Errorf("releasing counter: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s on cpu %d: %w", r.desc.Name, r.cpu, errors.Join(errs...))
	}
	return nil
}

func (r *CounterRecord) release() {
	r.counter = nil
	r.releaseBase()
}

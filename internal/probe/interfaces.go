package probe

import (
	"errors"

	"github.com/mrzor/probescript/internal/catalog"
	"github.com/mrzor/probescript/internal/event"
)

var (
	// ErrUnknownPrefix is returned for registration specs with an unknown prefix.
	ErrUnknownPrefix = errors.New("unknown probe event name")
	// ErrSymbolNotFound is returned when a point probe symbol does not exist.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrAlreadyHooked is returned when a point probe location is already taken.
	ErrAlreadyHooked = errors.New("location already hooked")
	// ErrNoDriver is returned when the session has no driver for a probe kind.
	ErrNoDriver = errors.New("no driver configured")
)

// Reporter receives one-line human-readable setup and teardown notices.
type Reporter interface {
	Report(msg string)
}

// Closure is a compiled script the dispatcher can invoke.
type Closure interface {
	// NumParams returns the number of parameters the script declares.
	NumParams() int
}

// ExecContext is a lightweight interpreter context created per dispatch.
type ExecContext interface {
	// Push pushes a value on the context stack.
	Push(v any)
	// Invoke calls the closure found below the top argc values. Script
	// failures are contained in the interpreter's own error channel.
	Invoke(argc int)
}

// Interpreter creates execution contexts derived from the session's main
// context. CreateContext must be safe for concurrent use.
type Interpreter interface {
	CreateContext() ExecContext
	DestroyContext(ctx ExecContext)
}

// PointHandler is called by a point hook on every hit.
// unit is the execution unit (CPU) the hit happened on and tgid the thread
// group of the task that triggered it.
type PointHandler func(unit int, tgid uint32, regs *event.Registers)

// Hook is an installed point probe.
type Hook interface {
	Unhook() error
}

// PointHooker installs single-location hooks.
// Implementations report a missing symbol with ErrSymbolNotFound and a
// location already taken with ErrAlreadyHooked.
type PointHooker interface {
	Hook(symbol string, fn PointHandler) (Hook, error)
}

// Sample is one counter overflow delivered to an OverflowHandler.
// Raw and Regs are borrowed for the duration of the call.
type Sample struct {
	Unit int
	TGID uint32
	Raw  []byte
	Regs *event.Registers
}

// OverflowHandler is called by a counter on every sample.
type OverflowHandler func(s Sample)

// Counter is one sampling counter bound to one CPU.
type Counter interface {
	Enable() error
	Disable() error
	Release() error
}

// CounterFactory creates raw-sampling counters bound to a catalog event.
type CounterFactory interface {
	CreateCounter(cpu int, desc *catalog.EventDescriptor, fn OverflowHandler) (Counter, error)
}

// InterruptMask saves and restores the interrupt state of an execution
// unit around counter dispatch.
type InterruptMask interface {
	Save(unit int) uintptr
	Restore(unit int, state uintptr)
}

// Synchronizer is an environment-provided quiescence wait. It returns once
// every hook disarmed so far can no longer start a dispatch.
type Synchronizer interface {
	Synchronize() error
}

type noInterruptMask struct{}

func (noInterruptMask) Save(int) uintptr     { return 0 }
func (noInterruptMask) Restore(int, uintptr) {}

package event

import (
	"fmt"
	"strings"

	"github.com/mrzor/probescript/internal/catalog"
)

// Classification tags the kind of occurrence an EventView wraps.
type Classification uint8

const (
	// Default is a tracepoint that is not a syscall entry or exit.
	Default Classification = iota
	// SyscallEnter is a sys_enter_* tracepoint.
	SyscallEnter
	// SyscallExit is a sys_exit_* tracepoint.
	SyscallExit

	tracepointMax

	// Point is a point-probe hit. It carries registers, not a trace record.
	Point
)

const (
	syscallEnterPrefix = "sys_enter_"
	syscallExitPrefix  = "sys_exit_"
)

// Classify derives the classification of a tracepoint from its name.
func Classify(name string) Classification {
	switch {
	case strings.HasPrefix(name, syscallEnterPrefix):
		return SyscallEnter
	case strings.HasPrefix(name, syscallExitPrefix):
		return SyscallExit
	default:
		return Default
	}
}

// IsTracepoint reports whether c belongs to the tracepoint family.
func (c Classification) IsTracepoint() bool {
	return c < tracepointMax
}

func (c Classification) String() string {
	switch c {
	case Default:
		return "default"
	case SyscallEnter:
		return "syscall_enter"
	case SyscallExit:
		return "syscall_exit"
	case Point:
		return "point"
	default:
		return fmt.Sprintf("classification(%d)", uint8(c))
	}
}

// Registers is an x86-64 pt_regs snapshot, in kernel layout order.
type Registers struct {
	R15, R14, R13, R12 uint64
	BP, BX             uint64
	R11, R10, R9, R8   uint64
	AX, CX, DX, SI, DI uint64
	OrigAX             uint64
	IP, CS, Flags      uint64
	SP, SS             uint64
}

// String renders the snapshot the way the regstr accessor exposes it.
func (r *Registers) String() string {
	return fmt.Sprintf("{ax: 0x%x, orig_ax: 0x%x, bx: 0x%x, cx: 0x%x, dx: 0x%x, "+
		"si: 0x%x, di: 0x%x, bp: 0x%x, ip: 0x%x, cs: 0x%x, flags: 0x%x, sp: 0x%x, ss: 0x%x}",
		r.AX, r.OrigAX, r.BX, r.CX, r.DX,
		r.SI, r.DI, r.BP, r.IP, r.CS, r.Flags, r.SP, r.SS)
}

// View is a transient typed view over one captured occurrence.
// Every reference it holds is borrowed from the dispatch that built it; a
// View must not be retained once that dispatch returns.
type View struct {
	raw   []byte
	regs  *Registers
	desc  *catalog.EventDescriptor
	class Classification
}

// NewView builds a view. raw and regs may be nil.
func NewView(desc *catalog.EventDescriptor, raw []byte, regs *Registers, class Classification) View {
	return View{raw: raw, regs: regs, desc: desc, class: class}
}

// Descriptor returns the event descriptor, or nil.
func (v *View) Descriptor() *catalog.EventDescriptor { return v.desc }

// Raw returns the borrowed raw payload, or nil.
func (v *View) Raw() []byte { return v.raw }

// Registers returns the borrowed register snapshot, or nil.
func (v *View) Registers() *Registers { return v.regs }

// Classification returns the occurrence classification.
func (v *View) Classification() Classification { return v.class }

// Invalidate drops every borrowed reference. Accessors on an invalidated
// view behave as if nothing had been captured.
func (v *View) Invalidate() {
	v.raw = nil
	v.regs = nil
	v.desc = nil
}

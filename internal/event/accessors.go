package event

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FieldBase is the first index of the fixed accessors. Indices below it are
// reserved for positional field access.
const FieldBase = 100

// Syscall tracepoint record layout, after the 8-byte common header.
const (
	syscallNrOffset   = 8
	syscallArgsOffset = 16
)

// Accessor computes one event property. A nil result is the script nil.
type Accessor func(v *View) any

// Entry binds a field name to its stable index and accessor.
type Entry struct {
	Name  string
	Index int
	Fn    Accessor
}

// Table maps field names to accessors. It is immutable once built.
type Table struct {
	entries []Entry
	byName  map[string]int
}

type definition struct {
	name string
	fn   Accessor
}

var fixedTable = newTable([]definition{
	{"annotate", annotate},
	{"name", name},
	{"print_fmt", printFmt},
	{"sc_nr", syscallNr},
	{"sc_is_enter", syscallIsEnter},
	{"sc_arg1", syscallArg(1)},
	{"sc_arg2", syscallArg(2)},
	{"sc_arg3", syscallArg(3)},
	{"sc_arg4", syscallArg(4)},
	{"sc_arg5", syscallArg(5)},
	{"sc_arg6", syscallArg(6)},
	{"regstr", regstr},
	{"allfield", allField},
	{"field1", field(1)},
})

// Fields returns the table of fixed event accessors.
func Fields() *Table {
	return fixedTable
}

func newTable(defs []definition) *Table {
	t := &Table{
		entries: make([]Entry, len(defs)),
		byName:  make(map[string]int, len(defs)),
	}
	for i, def := range defs {
		t.entries[i] = Entry{Name: def.name, Index: FieldBase + i, Fn: def.fn}
		t.byName[def.name] = FieldBase + i
	}
	return t
}

// Resolve returns the stable index of a field name.
func (t *Table) Resolve(name string) (int, bool) {
	idx, ok := t.byName[name]
	return idx, ok
}

// Name returns the field name bound to index.
func (t *Table) Name(index int) (string, bool) {
	e, ok := t.entry(index)
	if !ok {
		return "", false
	}
	return e.Name, true
}

// Entries returns a copy of the table entries in index order.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Get evaluates the accessor at index against v. Reserved and unknown
// indices evaluate to nil.
func (t *Table) Get(v *View, index int) any {
	e, ok := t.entry(index)
	if !ok || v == nil {
		return nil
	}
	return e.Fn(v)
}

func (t *Table) entry(index int) (Entry, bool) {
	i := index - FieldBase
	if i < 0 || i >= len(t.entries) {
		return Entry{}, false
	}
	return t.entries[i], true
}

func annotate(v *View) any {
	if !v.class.IsTracepoint() || v.desc == nil || v.raw == nil {
		return nil
	}
	text, ok := v.desc.Render(v.raw)
	if !ok {
		return nil
	}
	return text
}

func name(v *View) any {
	if v.desc == nil {
		return nil
	}
	return v.desc.Name
}

func printFmt(v *View) any {
	if v.desc == nil {
		return nil
	}
	return v.desc.PrintFmt
}

func syscallNr(v *View) any {
	if v.class != SyscallEnter {
		return nil
	}
	if len(v.raw) < syscallNrOffset+4 {
		return nil
	}
	//nolint:gosec // The record stores nr as a C int
	return int64(int32(binary.NativeEndian.Uint32(v.raw[syscallNrOffset:])))
}

func syscallIsEnter(v *View) any {
	return v.class == SyscallEnter
}

func syscallArg(n int) Accessor {
	offset := syscallArgsOffset + (n-1)*8
	return func(v *View) any {
		if v.class != SyscallEnter {
			return nil
		}
		if len(v.raw) < offset+8 {
			return nil
		}
		//nolint:gosec // Arguments are unsigned longs viewed as script numbers
		return int64(binary.NativeEndian.Uint64(v.raw[offset:]))
	}
}

func regstr(v *View) any {
	if v.regs == nil {
		return ""
	}
	return v.regs.String()
}

// allField lists every field as [name-type-offset-size-signed], in
// reverse-declared order.
func allField(v *View) any {
	if v.desc == nil {
		return nil
	}
	var b strings.Builder
	fields := v.desc.Fields
	for i := len(fields) - 1; i >= 0; i-- {
		f := fields[i]
		signed := 0
		if f.Signed {
			signed = 1
		}
		fmt.Fprintf(&b, "[%s-%s-%d-%d-%d] ", f.Name, f.Type, f.Offset, f.Size, signed)
	}
	return b.String()
}

// field returns the accessor for the nth 4-byte field in reverse-declared
// order, read as a signed int.
func field(n int) Accessor {
	return func(v *View) any {
		if v.desc == nil || v.raw == nil {
			return nil
		}
		fields := v.desc.Fields
		seen := 0
		for i := len(fields) - 1; i >= 0; i-- {
			f := fields[i]
			if f.Size != 4 {
				continue
			}
			if seen++; seen < n {
				continue
			}
			if f.Offset < 0 || f.Offset+4 > len(v.raw) {
				return nil
			}
			//nolint:gosec // 4-byte fields are read as C ints
			return int64(int32(binary.NativeEndian.Uint32(v.raw[f.Offset:])))
		}
		return nil
	}
}

package catalog

import (
	"errors"
	"strings"
)

// ErrNoCatalog is returned when no trace event catalog can be located.
var ErrNoCatalog = errors.New("trace event catalog not available")

// Flags carries per-event registration properties.
type Flags uint32

const (
	// FlagIgnore marks events that must never be enabled by a probe
	// (the kernel's own ftrace-internal events).
	FlagIgnore Flags = 1 << iota
	// FlagNoRegister marks events that expose no sampling attachment id.
	FlagNoRegister
)

// FieldDescriptor describes one field of a trace event record.
type FieldDescriptor struct {
	Name   string // Field name as declared by the event
	Type   string // C type text, e.g. "unsigned long" or "char[16]"
	Offset int    // Byte offset inside the raw record
	Size   int    // Field width in bytes
	Signed bool
}

// EventDescriptor describes one trace event of the catalog.
// Descriptors are owned by the catalog and are read-only to consumers.
type EventDescriptor struct {
	Name      string
	Subsystem string
	PrintFmt  string
	// Fields holds the event-specific fields in declared order.
	Fields []FieldDescriptor
	// CommonFields holds the shared record header fields.
	CommonFields []FieldDescriptor
	// ID is the sampling attachment id (the tracepoint perf config value).
	ID    uint64
	Flags Flags
}

// Eligible reports whether the event may be bound to a probe.
func (d *EventDescriptor) Eligible() bool {
	return d.Name != "" && d.Flags&(FlagIgnore|FlagNoRegister) == 0
}

// RecordSize returns the size in bytes of a raw record of this event,
// computed from the furthest field end.
func (d *EventDescriptor) RecordSize() int {
	size := 0
	for _, fields := range [][]FieldDescriptor{d.CommonFields, d.Fields} {
		for _, f := range fields {
			if end := f.Offset + f.Size; end > size {
				size = end
			}
		}
	}
	return size
}

// CopySize returns how many bytes of a raw record must be captured to render
// it, at most limit. Events with __data_loc fields keep their payload after
// the fixed fields, so the whole limit is captured for them.
func (d *EventDescriptor) CopySize(limit int) int {
	size := d.RecordSize()
	if d.HasDynamicFields() || size > limit {
		return limit
	}
	if size == 0 {
		return 8
	}
	return size
}

// HasDynamicFields reports whether any field is stored out of line.
func (d *EventDescriptor) HasDynamicFields() bool {
	for _, f := range d.Fields {
		if strings.HasPrefix(f.Type, "__data_loc") {
			return true
		}
	}
	return false
}

// Predicate selects catalog entries.
type Predicate func(d *EventDescriptor) bool

// Catalog enumerates the instrumentable events of the host.
type Catalog interface {
	// Enumerate returns every descriptor accepted by pred, in catalog order.
	Enumerate(pred Predicate) ([]*EventDescriptor, error)
}

// Static is an in-memory catalog.
type Static []*EventDescriptor

// Enumerate implements Catalog.
func (s Static) Enumerate(pred Predicate) ([]*EventDescriptor, error) {
	var out []*EventDescriptor
	for _, d := range s {
		if pred == nil || pred(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

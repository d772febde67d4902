package catalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Render formats a raw record of this event as "name: f1=v1 f2=v2".
// It returns false when the record is too short to hold any field.
func (d *EventDescriptor) Render(raw []byte) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString(d.Name)
	b.WriteByte(':')

	rendered := 0
	for _, f := range d.Fields {
		value, ok := fieldText(f, raw)
		if !ok {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(value)
		rendered++
	}
	if rendered == 0 && len(d.Fields) > 0 {
		return "", false
	}
	return b.String(), true
}

// fieldText decodes one field of raw as text.
func fieldText(f FieldDescriptor, raw []byte) (string, bool) {
	if f.Offset < 0 || f.Size <= 0 || f.Offset+f.Size > len(raw) {
		return "", false
	}
	data := raw[f.Offset : f.Offset+f.Size]

	switch {
	case strings.HasPrefix(f.Type, "__data_loc"):
		// 32-bit descriptor: low half offset, high half length.
		if len(data) < 4 {
			return "", false
		}
		loc := binary.NativeEndian.Uint32(data)
		off, length := int(loc&0xffff), int(loc>>16)
		if off+length > len(raw) {
			return "", false
		}
		return fmt.Sprintf("%q", cString(raw[off:off+length])), true
	case strings.HasPrefix(f.Type, "char[") || strings.HasPrefix(f.Type, "char ["):
		return fmt.Sprintf("%q", cString(data)), true
	}

	switch f.Size {
	case 1:
		if f.Signed {
			return fmt.Sprint(int8(data[0])), true
		}
		return fmt.Sprint(data[0]), true
	case 2:
		v := binary.NativeEndian.Uint16(data)
		if f.Signed {
			return fmt.Sprint(int16(v)), true //nolint:gosec // Reinterpretation of a signed field
		}
		return fmt.Sprint(v), true
	case 4:
		v := binary.NativeEndian.Uint32(data)
		if f.Signed {
			return fmt.Sprint(int32(v)), true //nolint:gosec // Reinterpretation of a signed field
		}
		return fmt.Sprint(v), true
	case 8:
		v := binary.NativeEndian.Uint64(data)
		if f.Signed {
			return fmt.Sprint(int64(v)), true //nolint:gosec // Reinterpretation of a signed field
		}
		return fmt.Sprintf("0x%x", v), true
	default:
		return fmt.Sprintf("%x", data), true
	}
}

// cString truncates b at its first NUL byte.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

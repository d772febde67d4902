package event

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/mrzor/probescript/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, v *View, field string) any {
	t.Helper()
	idx, ok := Fields().Resolve(field)
	require.True(t, ok, "field %q must resolve", field)
	return Fields().Get(v, idx)
}

func syscallEnterDesc() *catalog.EventDescriptor {
	return &catalog.EventDescriptor{
		Name:      "sys_enter_read",
		Subsystem: "syscalls",
		PrintFmt:  `"fd: 0x%08lx"`,
		ID:        678,
		Fields: []catalog.FieldDescriptor{
			{Name: "__syscall_nr", Type: "int", Offset: 8, Size: 4, Signed: true},
			{Name: "fd", Type: "unsigned int", Offset: 16, Size: 8},
			{Name: "buf", Type: "char *", Offset: 24, Size: 8},
			{Name: "count", Type: "size_t", Offset: 32, Size: 8},
		},
	}
}

func syscallEnterRecord(nr int32, args ...uint64) []byte {
	raw := make([]byte, 16+6*8)
	binary.NativeEndian.PutUint32(raw[8:], uint32(nr)) //nolint:gosec // Test fixture
	for i, a := range args {
		binary.NativeEndian.PutUint64(raw[16+i*8:], a)
	}
	return raw
}

func TestClassify(t *testing.T) {
	assert.Equal(t, SyscallEnter, Classify("sys_enter_read"))
	assert.Equal(t, SyscallExit, Classify("sys_exit_read"))
	assert.Equal(t, Default, Classify("sched_switch"))
	assert.Equal(t, Default, Classify("sys_enter"))

	assert.True(t, Default.IsTracepoint())
	assert.True(t, SyscallExit.IsTracepoint())
	assert.False(t, Point.IsTracepoint())
}

func TestTable_ResolveStableIndices(t *testing.T) {
	table := Fields()

	idx, ok := table.Resolve("annotate")
	require.True(t, ok)
	assert.Equal(t, FieldBase, idx)

	idx, ok = table.Resolve("field1")
	require.True(t, ok)
	assert.Equal(t, FieldBase+13, idx)

	_, ok = table.Resolve("nope")
	assert.False(t, ok)

	for _, e := range table.Entries() {
		got, ok := table.Name(e.Index)
		require.True(t, ok)
		assert.Equal(t, e.Name, got)
		assert.GreaterOrEqual(t, e.Index, FieldBase)
	}
}

func TestTable_ReservedIndexIsNil(t *testing.T) {
	v := NewView(syscallEnterDesc(), syscallEnterRecord(0), nil, SyscallEnter)
	assert.Nil(t, Fields().Get(&v, 1))
	assert.Nil(t, Fields().Get(&v, FieldBase+1000))
	assert.Nil(t, Fields().Get(nil, FieldBase))

	_, ok := Fields().Name(FieldBase - 1)
	assert.False(t, ok)
}

func TestAccessors_SyscallEnter(t *testing.T) {
	v := NewView(syscallEnterDesc(), syscallEnterRecord(0, 3, 0xdead, 4096, 4, 5, 6), nil, SyscallEnter)

	assert.Equal(t, "sys_enter_read", get(t, &v, "name"))
	assert.Equal(t, `"fd: 0x%08lx"`, get(t, &v, "print_fmt"))
	assert.Equal(t, int64(0), get(t, &v, "sc_nr"))
	assert.Equal(t, true, get(t, &v, "sc_is_enter"))
	assert.Equal(t, int64(3), get(t, &v, "sc_arg1"))
	assert.Equal(t, int64(0xdead), get(t, &v, "sc_arg2"))
	assert.Equal(t, int64(4096), get(t, &v, "sc_arg3"))
	assert.Equal(t, int64(6), get(t, &v, "sc_arg6"))
}

func TestAccessors_SyscallExitHidesEntryFields(t *testing.T) {
	desc := &catalog.EventDescriptor{Name: "sys_exit_read", Subsystem: "syscalls"}
	v := NewView(desc, syscallEnterRecord(0, 1, 2, 3, 4, 5, 6), nil, SyscallExit)

	assert.Equal(t, false, get(t, &v, "sc_is_enter"))
	assert.Nil(t, get(t, &v, "sc_nr"))
	for i := 1; i <= 6; i++ {
		assert.Nil(t, get(t, &v, "sc_arg"+string(rune('0'+i))))
	}
}

func TestAccessors_DefaultHidesSyscallFields(t *testing.T) {
	desc := &catalog.EventDescriptor{Name: "sched_switch", Subsystem: "sched"}
	v := NewView(desc, make([]byte, 64), nil, Default)

	assert.Nil(t, get(t, &v, "sc_nr"))
	assert.Nil(t, get(t, &v, "sc_arg1"))
	assert.Equal(t, "sched_switch", get(t, &v, "name"))
}

func TestAccessors_ShortRecord(t *testing.T) {
	v := NewView(syscallEnterDesc(), make([]byte, 10), nil, SyscallEnter)

	assert.Nil(t, get(t, &v, "sc_nr"))
	assert.Nil(t, get(t, &v, "sc_arg1"))
}

func TestAccessors_PointProbeHasNoPayload(t *testing.T) {
	desc := &catalog.EventDescriptor{Name: "do_sys_open", Subsystem: "kprobes"}
	regs := &Registers{AX: 0x10, OrigAX: 2, IP: 0xffffffff81000000, SP: 0x7ff0}
	v := NewView(desc, nil, regs, Point)

	assert.Equal(t, "do_sys_open", get(t, &v, "name"))
	assert.Nil(t, get(t, &v, "annotate"))
	assert.Nil(t, get(t, &v, "field1"))
	assert.Nil(t, get(t, &v, "sc_nr"))

	str, ok := get(t, &v, "regstr").(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(str, "{ax: 0x10, orig_ax: 0x2, "))
	assert.Contains(t, str, "ip: 0xffffffff81000000")
	assert.Contains(t, str, "sp: 0x7ff0")
}

func TestAccessors_RegstrWithoutSnapshot(t *testing.T) {
	v := NewView(syscallEnterDesc(), syscallEnterRecord(0), nil, SyscallEnter)
	assert.Equal(t, "", get(t, &v, "regstr"))
}

func TestAccessors_Annotate(t *testing.T) {
	desc := &catalog.EventDescriptor{
		Name: "sched_wakeup",
		Fields: []catalog.FieldDescriptor{
			{Name: "pid", Type: "pid_t", Offset: 8, Size: 4, Signed: true},
		},
	}
	raw := make([]byte, 12)
	binary.NativeEndian.PutUint32(raw[8:], 77)
	v := NewView(desc, raw, nil, Default)

	assert.Equal(t, "sched_wakeup: pid=77", get(t, &v, "annotate"))
}

func TestAccessors_AllFieldReverseOrder(t *testing.T) {
	v := NewView(syscallEnterDesc(), nil, nil, SyscallEnter)

	assert.Equal(t,
		"[count-size_t-32-8-0] [buf-char *-24-8-0] [fd-unsigned int-16-8-0] [__syscall_nr-int-8-4-1] ",
		get(t, &v, "allfield"))
}

func TestAccessors_Field1(t *testing.T) {
	desc := &catalog.EventDescriptor{
		Name: "mixed",
		Fields: []catalog.FieldDescriptor{
			{Name: "first", Type: "int", Offset: 8, Size: 4, Signed: true},
			{Name: "second", Type: "int", Offset: 12, Size: 4, Signed: true},
			{Name: "wide", Type: "u64", Offset: 16, Size: 8},
		},
	}
	raw := make([]byte, 24)
	binary.NativeEndian.PutUint32(raw[8:], 1)
	binary.NativeEndian.PutUint32(raw[12:], 0xfffffffe)
	v := NewView(desc, raw, nil, Default)

	// "wide" is the most recently declared field but is 8 bytes wide, so
	// the first 4-byte field in reverse order is "second".
	assert.Equal(t, int64(-2), get(t, &v, "field1"))
}

func TestAccessors_Field1NoMatch(t *testing.T) {
	desc := &catalog.EventDescriptor{
		Name:   "wide_only",
		Fields: []catalog.FieldDescriptor{{Name: "wide", Offset: 8, Size: 8}},
	}
	v := NewView(desc, make([]byte, 16), nil, Default)
	assert.Nil(t, get(t, &v, "field1"))
}

func TestView_Invalidate(t *testing.T) {
	v := NewView(syscallEnterDesc(), syscallEnterRecord(1), &Registers{}, SyscallEnter)
	v.Invalidate()

	assert.Nil(t, v.Raw())
	assert.Nil(t, v.Registers())
	assert.Nil(t, v.Descriptor())
	assert.Nil(t, get(t, &v, "name"))
	assert.Nil(t, get(t, &v, "sc_nr"))
}

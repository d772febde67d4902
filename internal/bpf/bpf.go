// Package bpf builds the eBPF programs behind probes and decodes the samples
// they submit.
package bpf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"

	"github.com/mrzor/probescript/internal/event"
)

const (
	// HeaderSize is the size of the header starting every sample.
	HeaderSize = 24
	// RegistersSize is the size of an x86-64 pt_regs snapshot.
	RegistersSize = 21 * 8
	// MaxRecordSize bounds the raw trace record copied by tracepoint programs.
	MaxRecordSize = 4096

	exitLabel = "exit"
)

// ErrShortSample is returned for samples smaller than their layout.
var ErrShortSample = errors.New("short sample")

// Header matches the header every program writes at the start of a sample.
type Header struct {
	Cookie  uint64 // Identifies the probe that submitted the sample
	PidTgid uint64 // bpf_get_current_pid_tgid()
	CPU     uint32
	_       uint32
}

// TGID returns the thread group id of the task that triggered the sample.
func (h *Header) TGID() uint32 {
	return uint32(h.PidTgid >> 32)
}

// DecodeHeader decodes the sample header and returns the payload following it.
func DecodeHeader(sample []byte) (Header, []byte, error) {
	var h Header
	if len(sample) < HeaderSize {
		return h, nil, fmt.Errorf("%w: %d bytes", ErrShortSample, len(sample))
	}
	if err := binary.Read(bytes.NewReader(sample[:HeaderSize]), binary.NativeEndian, &h); err != nil {
		return h, nil, fmt.Errorf("decoding header: %w", err)
	}
	return h, sample[HeaderSize:], nil
}

// DecodeRegisters decodes a pt_regs snapshot from a point probe payload.
func DecodeRegisters(payload []byte, regs *event.Registers) error {
	if len(payload) < RegistersSize {
		return fmt.Errorf("%w: %d bytes of registers", ErrShortSample, len(payload))
	}
	if err := binary.Read(bytes.NewReader(payload[:RegistersSize]), binary.NativeEndian, regs); err != nil {
		return fmt.Errorf("decoding registers: %w", err)
	}
	return nil
}

// EncodeSample builds a sample the way the programs lay it out. It is used
// to feed the routing path without a kernel.
func EncodeSample(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderSize, HeaderSize+len(payload))
	binary.NativeEndian.PutUint64(buf[0:], h.Cookie)
	binary.NativeEndian.PutUint64(buf[8:], h.PidTgid)
	binary.NativeEndian.PutUint32(buf[16:], h.CPU)
	return append(buf, payload...)
}

// reserve emits a ring buffer reservation of size bytes and leaves the
// reserved pointer in R7, jumping to exit when the buffer is full. The
// context pointer must already be saved in R6.
func reserve(eventsFD int, size int32) asm.Instructions {
	return asm.Instructions{
		asm.LoadMapPtr(asm.R1, eventsFD),
		asm.Mov.Imm(asm.R2, size),
		asm.Mov.Imm(asm.R3, 0),
		asm.FnRingbufReserve.Call(),
		asm.JEq.Imm(asm.R0, 0, exitLabel),
		asm.Mov.Reg(asm.R7, asm.R0),
	}
}

// skipGroup emits the exit taken when the current task belongs to thread
// group group. Zero emits nothing.
func skipGroup(group uint32) asm.Instructions {
	if group == 0 {
		return nil
	}
	return asm.Instructions{
		asm.FnGetCurrentPidTgid.Call(),
		asm.RSh.Imm(asm.R0, 32),
		asm.JEq.Imm(asm.R0, int32(group), exitLabel), //nolint:gosec // pids fit in 31 bits
	}
}

// header emits the stores filling the sample header at R7.
func header(cookie uint64) asm.Instructions {
	return asm.Instructions{
		asm.LoadImm(asm.R1, int64(cookie), asm.DWord), //nolint:gosec // cookie bits are stored as-is
		asm.StoreMem(asm.R7, 0, asm.R1, asm.DWord),
		asm.FnGetCurrentPidTgid.Call(),
		asm.StoreMem(asm.R7, 8, asm.R0, asm.DWord),
		asm.FnGetSmpProcessorId.Call(),
		asm.StoreMem(asm.R7, 16, asm.R0, asm.Word),
		asm.StoreImm(asm.R7, 20, 0, asm.Word),
	}
}

// submit emits the ring buffer submission of R7 and the common exit.
func submit() asm.Instructions {
	return asm.Instructions{
		asm.Mov.Reg(asm.R1, asm.R7),
		asm.Mov.Imm(asm.R2, 0),
		asm.FnRingbufSubmit.Call(),
		asm.Mov.Imm(asm.R0, 0).WithSymbol(exitLabel),
		asm.Return(),
	}
}

// KprobeProgram returns a kprobe program that submits the header followed by
// the probed task's registers to the ring buffer eventsFD. Hits from thread
// group group are not submitted.
func KprobeProgram(eventsFD int, cookie uint64, group uint32) *ebpf.ProgramSpec {
	insns := asm.Instructions{asm.Mov.Reg(asm.R6, asm.R1)}
	insns = append(insns, skipGroup(group)...)
	insns = append(insns, reserve(eventsFD, HeaderSize+RegistersSize)...)
	insns = append(insns, header(cookie)...)
	for i := int16(0); i < RegistersSize/8; i++ {
		insns = append(insns,
			asm.LoadMem(asm.R1, asm.R6, i*8, asm.DWord),
			asm.StoreMem(asm.R7, HeaderSize+i*8, asm.R1, asm.DWord),
		)
	}
	insns = append(insns, submit()...)

	return &ebpf.ProgramSpec{
		Name:         "probe_kprobe",
		Type:         ebpf.Kprobe,
		License:      "GPL",
		Instructions: insns,
	}
}

// TracepointProgram returns a tracepoint program that submits the header
// followed by recordSize bytes of the raw trace record to the ring buffer
// eventsFD. It only fires on cpu: tracepoint programs run on every CPU
// whatever the perf event they are attached through. Records from thread
// group group are not submitted.
func TracepointProgram(eventsFD int, cookie uint64, group uint32, cpu int, recordSize int) (*ebpf.ProgramSpec, error) {
	if recordSize <= 0 || recordSize > MaxRecordSize {
		return nil, fmt.Errorf("record size %d out of range", recordSize)
	}
	size := int32(recordSize) //nolint:gosec // bounded above

	insns := asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.FnGetSmpProcessorId.Call(),
		asm.JNE.Imm(asm.R0, int32(cpu), exitLabel), //nolint:gosec // cpu ids fit in 32 bits
	}
	insns = append(insns, skipGroup(group)...)
	insns = append(insns, reserve(eventsFD, HeaderSize+size)...)
	insns = append(insns, header(cookie)...)
	insns = append(insns,
		asm.Mov.Reg(asm.R1, asm.R7),
		asm.Add.Imm(asm.R1, HeaderSize),
		asm.Mov.Imm(asm.R2, size),
		asm.Mov.Reg(asm.R3, asm.R6),
		asm.FnProbeReadKernel.Call(),
	)
	insns = append(insns, submit()...)

	return &ebpf.ProgramSpec{
		Name:         "probe_tracepoint",
		Type:         ebpf.TracePoint,
		License:      "GPL",
		Instructions: insns,
	}, nil
}

// EventsMap returns the MapSpec of the ring buffer every program submits to.
func EventsMap(size uint32) *ebpf.MapSpec {
	return &ebpf.MapSpec{
		Name:       "probe_events",
		Type:       ebpf.RingBuf,
		MaxEntries: size,
	}
}

// Package emu is the emulator core: segmented memory, the RV32IMAC
// interpreter, the syscall layer, and the step/trace driver that ties
// them together (components H, I, J, L).
package emu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	errSegmentationFault = errors.New("segmentation fault")
	errUnaligned         = errors.New("misaligned access")
	errMemPermission      = errors.New("memory permission violation")
)

const (
	SegFlagRead  = 1
	SegFlagWrite = 2
	SegFlagExec  = 4

	StackSize = 8192
)

// MemSegment is one contiguous, permission-tagged region of the
// address space: a loaded ELF PT_LOAD region, or the synthesized
// stack segment the emulator adds on top of whatever the image
// describes.
type MemSegment struct {
	Name  string
	Base  uint32
	Bytes []byte
	Flags uint32
}

func (s *MemSegment) contains(addr uint32, size uint32) bool {
	end := uint64(s.Base) + uint64(len(s.Bytes))
	return uint64(addr) >= uint64(s.Base) && uint64(addr)+uint64(size) <= end
}

// Memory is the whole address space: an ordered list of segments plus
// the one piece of shared hardware state the A-extension needs, the
// load-reserved bit LR.W sets and SC.W consumes.
type Memory struct {
	Segments []*MemSegment

	reservationValid bool
	reservationAddr  uint32
}

// NewMemory builds a Memory from loaded ELF segments plus a freshly
// zeroed stack segment placed just above the highest loaded address,
// page-aligned.
func NewMemory(segments []*MemSegment) *Memory {
	top := uint32(0)
	for _, s := range segments {
		end := s.Base + uint32(len(s.Bytes))
		if end > top {
			top = end
		}
	}
	stackBase := alignUp(top, 0x1000)
	stack := &MemSegment{
		Name:  "stack",
		Base:  stackBase,
		Bytes: make([]byte, StackSize),
		Flags: SegFlagRead | SegFlagWrite,
	}
	all := append(append([]*MemSegment{}, segments...), stack)
	return &Memory{Segments: all}
}

func alignUp(v, align uint32) uint32 {
	if v%align == 0 {
		return v
	}
	return v + (align - v%align)
}

// StackTop is the initial stack pointer value: one past the stack
// segment's last valid byte, rounded down to a 16-byte boundary per
// the RISC-V calling convention's stack alignment requirement.
func (m *Memory) StackTop() uint32 {
	for _, s := range m.Segments {
		if s.Name == "stack" {
			top := s.Base + uint32(len(s.Bytes))
			return top &^ 0xf
		}
	}
	return 0
}

func (m *Memory) find(addr uint32, size uint32) (*MemSegment, error) {
	for _, s := range m.Segments {
		if s.contains(addr, size) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: address %#08x", errSegmentationFault, addr)
}

func (m *Memory) checkAlign(addr uint32, size uint32) error {
	if size > 1 && addr%size != 0 {
		return fmt.Errorf("%w: address %#08x size %d", errUnaligned, addr, size)
	}
	return nil
}

// Load reads size bytes (1, 2, or 4) at addr, checking segment bounds,
// alignment, and read permission.
func (m *Memory) Load(addr uint32, size uint32) (uint32, error) {
	if err := m.checkAlign(addr, size); err != nil {
		return 0, err
	}
	seg, err := m.find(addr, size)
	if err != nil {
		return 0, err
	}
	if seg.Flags&SegFlagRead == 0 {
		return 0, fmt.Errorf("%w: segment %q is not readable", errMemPermission, seg.Name)
	}
	off := addr - seg.Base
	switch size {
	case 1:
		return uint32(seg.Bytes[off]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(seg.Bytes[off:])), nil
	case 4:
		return binary.LittleEndian.Uint32(seg.Bytes[off:]), nil
	}
	return 0, fmt.Errorf("emu: unsupported load size %d", size)
}

// Store writes size bytes (1, 2, or 4) at addr, checking segment
// bounds, alignment, and write permission. Any successful store
// invalidates a pending LR/SC reservation, whatever address it writes.
func (m *Memory) Store(addr uint32, size uint32, value uint32) error {
	if err := m.checkAlign(addr, size); err != nil {
		return err
	}
	seg, err := m.find(addr, size)
	if err != nil {
		return err
	}
	if seg.Flags&SegFlagWrite == 0 {
		return fmt.Errorf("%w: segment %q is not writable", errMemPermission, seg.Name)
	}
	off := addr - seg.Base
	switch size {
	case 1:
		seg.Bytes[off] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(seg.Bytes[off:], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(seg.Bytes[off:], value)
	default:
		return fmt.Errorf("emu: unsupported store size %d", size)
	}
	m.reservationValid = false
	return nil
}

// FetchInstruction reads up to 4 bytes starting at addr for the
// decoder, returning as many bytes as the containing segment has
// available (the decoder itself determines whether 2 or 4 were
// needed).
func (m *Memory) FetchInstruction(addr uint32) ([]byte, error) {
	seg, err := m.find(addr, 2)
	if err != nil {
		return nil, err
	}
	if seg.Flags&SegFlagExec == 0 {
		return nil, fmt.Errorf("%w: segment %q is not executable", errMemPermission, seg.Name)
	}
	off := addr - seg.Base
	end := off + 4
	if end > uint32(len(seg.Bytes)) {
		end = uint32(len(seg.Bytes))
	}
	return seg.Bytes[off:end], nil
}

// SetReservation implements LR.W's half of the A-extension protocol.
func (m *Memory) SetReservation(addr uint32) {
	m.reservationValid = true
	m.reservationAddr = addr
}

// CheckAndClearReservation implements SC.W's half: it reports whether
// a matching reservation was live, and always clears it (a successful
// SC.W consumes the reservation before its own Store runs).
func (m *Memory) CheckAndClearReservation(addr uint32) bool {
	ok := m.reservationValid && m.reservationAddr == addr
	m.reservationValid = false
	return ok
}

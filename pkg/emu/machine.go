package emu

import (
	"strings"

	"rv32edu/pkg/elfimage"
)

// NewMachineFromImage builds a Machine ready to execute img: every
// PT_LOAD segment becomes a MemSegment with matching permissions, a
// stack segment is synthesized above the highest loaded address, PC
// starts at the entry point, sp starts at the top of the stack per the
// RISC-V calling convention, and the symbol table is split into the
// two views the ABI checker (component K) consults: addresses that
// name a function or label, and absolute (.equ) constants such as a
// callee's "<name>_args" argument count.
func NewMachineFromImage(img elfimage.Image) *Machine {
	segments := make([]*MemSegment, 0, len(img.Segments))
	for _, s := range img.Segments {
		bytes := s.Data
		if uint32(len(bytes)) < s.MemSize {
			grown := make([]byte, s.MemSize)
			copy(grown, bytes)
			bytes = grown
		}
		segments = append(segments, &MemSegment{
			Name:  segmentName(s),
			Base:  s.Addr,
			Bytes: bytes,
			Flags: translateFlags(s.Flags),
		})
	}

	mem := NewMemory(segments)
	m := &Machine{
		Mem:            mem,
		PC:             img.Entry,
		AddressSymbols: map[uint32]string{},
		ConstSymbols:   map[string]int64{},
	}
	m.Regs[2] = mem.StackTop()

	for _, sym := range img.Symbols {
		if sym.Name == "" || strings.HasPrefix(sym.Name, "$") || strings.HasPrefix(sym.Name, "__") {
			continue
		}
		if sym.Section == elfimage.SHNAbs {
			m.ConstSymbols[sym.Name] = int64(sym.Value)
		} else {
			m.AddressSymbols[sym.Value] = sym.Name
		}
	}
	return m
}

func segmentName(s elfimage.Segment) string {
	if s.Name != "" {
		return s.Name
	}
	return "segment"
}

func translateFlags(elfFlags uint32) uint32 {
	var f uint32
	if elfFlags&elfimage.PFlagRead != 0 {
		f |= SegFlagRead
	}
	if elfFlags&elfimage.PFlagWrite != 0 {
		f |= SegFlagWrite
	}
	if elfFlags&elfimage.PFlagExec != 0 {
		f |= SegFlagExec
	}
	return f
}

package emu

import (
	"encoding/binary"
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func newTestMachine() *Machine {
	text := &MemSegment{Name: "text", Base: 0x10000, Bytes: make([]byte, 0x1000), Flags: SegFlagRead | SegFlagExec}
	data := &MemSegment{Name: "data", Base: 0x20000, Bytes: make([]byte, 0x1000), Flags: SegFlagRead | SegFlagWrite}
	mem := NewMemory([]*MemSegment{text, data})
	return &Machine{PC: 0x10000, Mem: mem}
}

// rWord/iWord/etc. mirror pkg/asm's encoder just enough to build the
// handful of standard-form words these tests need, without importing
// pkg/asm (which would make pkg/emu depend on its own assembler).
func putWord(m *Machine, pc uint32, w uint32) {
	binary.LittleEndian.PutUint32(m.Mem.Segments[0].Bytes[pc-m.Mem.Segments[0].Base:], w)
}

func rWord(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return opcode | rd<<7 | funct3<<12 | rs1<<15 | rs2<<20 | funct7<<25
}

func iWord(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return opcode | rd<<7 | funct3<<12 | rs1<<15 | (uint32(imm)&0xfff)<<20
}

func sWord(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return opcode | (u&0x1f)<<7 | funct3<<12 | rs1<<15 | rs2<<20 | ((u>>5)&0x7f)<<25
}

func bWord(funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return 0x63 | ((u>>11)&0x1)<<7 | ((u>>1)&0xf)<<8 | funct3<<12 | rs1<<15 | rs2<<20 | ((u>>5)&0x3f)<<25 | ((u>>12)&0x1)<<31
}

func TestAddiWraparound(t *testing.T) {
	m := newTestMachine()
	m.SetReg(10, 0xFFFFFFFF)
	putWord(m, m.PC, iWord(0x13, 11, 0, 10, 1)) // addi x11, x10, 1
	eff, err := Step(m)
	assert(t, err == nil, "step failed: %v", err)
	assert(t, eff.Kind == EffectRegWrite, "expected reg write, got %v", eff.Kind)
	assert(t, m.Reg(11) == 0, "expected wraparound to 0, got %#x", m.Reg(11))
}

func TestDivByZeroReturnsAllOnes(t *testing.T) {
	m := newTestMachine()
	m.SetReg(10, 7)
	m.SetReg(11, 0)
	putWord(m, m.PC, rWord(0x33, 12, 4, 10, 11, 1)) // div x12, x10, x11
	_, err := Step(m)
	assert(t, err == nil, "step failed: %v", err)
	assert(t, m.Reg(12) == 0xFFFFFFFF, "expected -1 for div by zero, got %#x", m.Reg(12))
}

func TestDivOverflowIsDividend(t *testing.T) {
	m := newTestMachine()
	m.SetReg(10, 0x80000000) // INT_MIN
	m.SetReg(11, 0xFFFFFFFF) // -1
	putWord(m, m.PC, rWord(0x33, 12, 4, 10, 11, 1))
	_, err := Step(m)
	assert(t, err == nil, "step failed: %v", err)
	assert(t, m.Reg(12) == 0x80000000, "expected INT_MIN overflow result, got %#x", m.Reg(12))
}

func TestRemOverflowIsZero(t *testing.T) {
	m := newTestMachine()
	m.SetReg(10, 0x80000000)
	m.SetReg(11, 0xFFFFFFFF)
	putWord(m, m.PC, rWord(0x33, 12, 6, 10, 11, 1)) // rem x12, x10, x11
	_, err := Step(m)
	assert(t, err == nil, "step failed: %v", err)
	assert(t, m.Reg(12) == 0, "expected 0 remainder on overflow, got %#x", m.Reg(12))
}

func TestMulhSignedHighHalf(t *testing.T) {
	m := newTestMachine()
	m.SetReg(10, 0xFFFFFFFF) // -1
	m.SetReg(11, 0xFFFFFFFF) // -1
	putWord(m, m.PC, rWord(0x33, 12, 1, 10, 11, 1)) // mulh x12, x10, x11
	_, err := Step(m)
	assert(t, err == nil, "step failed: %v", err)
	assert(t, m.Reg(12) == 0, "expected high half of 1 to be 0, got %#x", m.Reg(12))
}

func TestMulhuHighHalf(t *testing.T) {
	m := newTestMachine()
	m.SetReg(10, 0xFFFFFFFF)
	m.SetReg(11, 0xFFFFFFFF)
	putWord(m, m.PC, rWord(0x33, 12, 3, 10, 11, 1)) // mulhu x12, x10, x11
	_, err := Step(m)
	assert(t, err == nil, "step failed: %v", err)
	assert(t, m.Reg(12) == 0xFFFFFFFE, "expected high half 0xFFFFFFFE, got %#x", m.Reg(12))
}

func TestStoreLoadRoundTrip(t *testing.T) {
	m := newTestMachine()
	m.SetReg(10, 0x20000)
	m.SetReg(11, 0xDEADBEEF)
	putWord(m, m.PC, sWord(0x23, 2, 10, 11, 0)) // sw x11, 0(x10)
	_, err := Step(m)
	assert(t, err == nil, "store failed: %v", err)
	putWord(m, m.PC, iWord(0x03, 12, 2, 10, 0)) // lw x12, 0(x10)
	_, err = Step(m)
	assert(t, err == nil, "load failed: %v", err)
	assert(t, m.Reg(12) == 0xDEADBEEF, "expected round-tripped value, got %#x", m.Reg(12))
}

func TestBranchTakenAdvancesPastImmediate(t *testing.T) {
	m := newTestMachine()
	m.SetReg(10, 5)
	m.SetReg(11, 5)
	putWord(m, m.PC, bWord(0, 10, 11, 8)) // beq x10, x11, +8
	eff, err := Step(m)
	assert(t, err == nil, "step failed: %v", err)
	assert(t, eff.Kind == EffectBranchTaken, "expected branch taken, got %v", eff.Kind)
	assert(t, m.PC == 0x10000+8, "expected PC to advance by immediate, got %#x", m.PC)
}

func TestBranchNotTakenFallsThrough(t *testing.T) {
	m := newTestMachine()
	m.SetReg(10, 5)
	m.SetReg(11, 6)
	putWord(m, m.PC, bWord(0, 10, 11, 8)) // beq x10, x11, +8
	eff, err := Step(m)
	assert(t, err == nil, "step failed: %v", err)
	assert(t, eff.Kind == EffectBranchNotTaken, "expected branch not taken, got %v", eff.Kind)
	assert(t, m.PC == 0x10000+4, "expected PC to fall through, got %#x", m.PC)
}

func TestRegisterX0WritesDiscarded(t *testing.T) {
	m := newTestMachine()
	m.SetReg(0, 123)
	assert(t, m.Reg(0) == 0, "expected x0 to stay 0, got %d", m.Reg(0))
}

func TestLrScSucceedsWithoutInterveningStore(t *testing.T) {
	m := newTestMachine()
	m.SetReg(10, 0x20000)
	m.SetReg(11, 99)
	putWord(m, m.PC, rWord(0x2f, 12, 2, 10, 0, 0x02<<2)) // lr.w x12, (x10)
	_, err := Step(m)
	assert(t, err == nil, "lr.w failed: %v", err)
	putWord(m, m.PC, rWord(0x2f, 13, 2, 10, 11, 0x03<<2)) // sc.w x13, x11, (x10)
	eff, err := Step(m)
	assert(t, err == nil, "sc.w failed: %v", err)
	assert(t, m.Reg(13) == 0, "expected sc.w success code 0, got %d", m.Reg(13))
	assert(t, eff.Kind == EffectMemWrite, "expected mem write effect from successful sc.w")
}

package abi

import (
	"fmt"
	"testing"

	"rv32edu/pkg/emu"
	"rv32edu/pkg/isa"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func newTestMachine() *emu.Machine {
	m := &emu.Machine{
		AddressSymbols: map[uint32]string{},
		ConstSymbols:   map[string]int64{},
	}
	m.Regs[2] = 0x1000 // sp, 16-byte aligned
	return m
}

func callEffect(pc, target uint32) emu.Effect {
	return emu.Effect{Op: isa.Op{Kind: isa.KindJal, Rd: 1}, Kind: emu.EffectJump, PCBefore: pc, PCAfter: target, RegWritten: 1}
}

func returnEffect(pc uint32) emu.Effect {
	return emu.Effect{Op: isa.Op{Kind: isa.KindJalr, Rd: 0, Rs1: 1}, Kind: emu.EffectJump, PCBefore: pc}
}

func regWrite(pc uint32, rd isa.Reg) emu.Effect {
	return emu.Effect{Op: isa.Op{Kind: isa.KindAddi, Rd: rd}, Kind: emu.EffectRegWrite, PCBefore: pc, RegWritten: rd}
}

func TestCheckerAllowsBalancedCall(t *testing.T) {
	m := newTestMachine()
	m.AddressSymbols[0x1000] = "callee"
	c := NewChecker()

	call := callEffect(0x100, 0x1000)
	assert(t, c.Check(&call, m) == nil, "call should not error")
	clobber := regWrite(0x104, 10) // a0, caller-saved
	assert(t, c.Check(&clobber, m) == nil, "clobbering a caller-saved reg should not error")
	ret := returnEffect(0x108)
	assert(t, c.Check(&ret, m) == nil, "balanced return should not error")
}

func TestCheckerCatchesCalleeSavedClobber(t *testing.T) {
	m := newTestMachine()
	m.AddressSymbols[0x1000] = "callee"
	c := NewChecker()

	call := callEffect(0x100, 0x1000)
	assert(t, c.Check(&call, m) == nil, "call should not error")
	clobber := regWrite(0x104, 8) // s0
	assert(t, c.Check(&clobber, m) == nil, "clobbering s0 is not itself an error")
	ret := returnEffect(0x108)
	err := c.Check(&ret, m)
	assert(t, err != nil, "expected callee-saved clobber to be caught at return")
}

func TestCheckerCatchesStackImbalance(t *testing.T) {
	m := newTestMachine()
	m.AddressSymbols[0x1000] = "callee"
	c := NewChecker()

	call := callEffect(0x100, 0x1000)
	assert(t, c.Check(&call, m) == nil, "call should not error")
	m.Regs[2] += 4 // simulate an unbalanced push/pop inside the callee
	ret := returnEffect(0x108)
	err := c.Check(&ret, m)
	assert(t, err != nil, "expected stack imbalance to be caught at return")
}

func TestCheckerCatchesReturnWithoutCall(t *testing.T) {
	m := newTestMachine()
	c := NewChecker()
	ret := returnEffect(0x100)
	err := c.Check(&ret, m)
	assert(t, err != nil, "expected return without a matching call to error")
}

func TestCheckerAllowsNestedCalls(t *testing.T) {
	m := newTestMachine()
	m.AddressSymbols[0x1000] = "outer"
	m.AddressSymbols[0x2000] = "inner"
	c := NewChecker()

	outerCall := callEffect(0x100, 0x1000)
	assert(t, c.Check(&outerCall, m) == nil, "outer call should not error")
	// outer spills ra before the inner call overwrites it and reloads it
	// afterwards, so its own return still sees the ra it was entered with
	saveRA := emu.Effect{
		Op:       isa.Op{Kind: isa.KindSw, Rs1: 2, Rs2: 1, Imm: -16},
		Kind:     emu.EffectMemWrite,
		PCBefore: 0x1fc,
		RegReads: []emu.RegRead{{Reg: 2}, {Reg: 1}},
		MemAddr:  0x0ff0,
		MemSize:  4,
	}
	assert(t, c.Check(&saveRA, m) == nil, "spilling ra before the inner call should not error")
	innerCall := callEffect(0x200, 0x2000)
	assert(t, c.Check(&innerCall, m) == nil, "inner call should not error")
	innerRet := returnEffect(0x204)
	assert(t, c.Check(&innerRet, m) == nil, "inner return should not error")
	reloadRA := emu.Effect{
		Op:         isa.Op{Kind: isa.KindLw, Rd: 1, Rs1: 2, Imm: -16},
		Kind:       emu.EffectRegWrite,
		PCBefore:   0x208,
		RegReads:   []emu.RegRead{{Reg: 2}},
		RegWritten: 1,
		MemAddr:    0x0ff0,
		MemSize:    4,
		MemWasLoad: true,
	}
	assert(t, c.Check(&reloadRA, m) == nil, "reloading ra after the inner return should not error")
	outerRet := returnEffect(0x108)
	assert(t, c.Check(&outerRet, m) == nil, "outer return should not error")
}

func TestCheckerCatchesUnlabeledCallTarget(t *testing.T) {
	m := newTestMachine()
	c := NewChecker()
	call := callEffect(0x100, 0x1234)
	err := c.Check(&call, m)
	assert(t, err != nil, "expected a jump to an address with no symbol to be rejected")
}

func TestCheckerCatchesUninitializedRead(t *testing.T) {
	m := newTestMachine()
	m.AddressSymbols[0x1000] = "callee"
	c := NewChecker()

	call := callEffect(0x100, 0x1000)
	assert(t, c.Check(&call, m) == nil, "call should not error")

	// t0 was invalidated by the call; nothing has written it since.
	useT0 := emu.Effect{
		Op:         isa.Op{Kind: isa.KindAddi, Rd: 10, Rs1: 5},
		Kind:       emu.EffectRegWrite,
		PCBefore:   0x1000,
		RegReads:   []emu.RegRead{{Reg: 5}},
		RegWritten: 10,
	}
	err := c.Check(&useT0, m)
	assert(t, err != nil, "expected use of uninitialized t0 to be rejected")
}

func TestCheckerCatchesSaveOnlyViolation(t *testing.T) {
	m := newTestMachine()
	m.AddressSymbols[0x1000] = "callee"
	c := NewChecker()

	call := callEffect(0x100, 0x1000)
	assert(t, c.Check(&call, m) == nil, "call should not error")

	useS0 := emu.Effect{
		Op:         isa.Op{Kind: isa.KindAddi, Rd: 10, Rs1: 8},
		Kind:       emu.EffectRegWrite,
		PCBefore:   0x1000,
		RegReads:   []emu.RegRead{{Reg: 8}},
		RegWritten: 10,
	}
	err := c.Check(&useS0, m)
	assert(t, err != nil, "expected reading save-only s0 as an operand to be rejected")
}

func TestCheckerAllowsSpillingSaveOnlyRegister(t *testing.T) {
	m := newTestMachine()
	m.AddressSymbols[0x1000] = "callee"
	c := NewChecker()

	call := callEffect(0x100, 0x1000)
	assert(t, c.Check(&call, m) == nil, "call should not error")

	spillS0 := emu.Effect{
		Op:       isa.Op{Kind: isa.KindSw, Rs1: 2, Rs2: 8},
		Kind:     emu.EffectMemWrite,
		PCBefore: 0x1000,
		RegReads: []emu.RegRead{{Reg: 2}, {Reg: 8}},
		MemAddr:  0x2000,
		MemSize:  4,
	}
	err := c.Check(&spillS0, m)
	assert(t, err == nil, "a full-width store of a save-only register should be allowed")
}

func TestCheckerEnforcesArgsCount(t *testing.T) {
	m := newTestMachine()
	m.AddressSymbols[0x1000] = "callee"
	m.ConstSymbols["callee_args"] = 2
	c := NewChecker()

	a0 := regWrite(0x100, 10)
	assert(t, c.Check(&a0, m) == nil, "setting a0 should not error")
	a1 := regWrite(0x104, 11)
	assert(t, c.Check(&a1, m) == nil, "setting a1 should not error")

	call := callEffect(0x108, 0x1000)
	assert(t, c.Check(&call, m) == nil, "call with its declared args satisfied should not error")

	useA2 := emu.Effect{
		Op:         isa.Op{Kind: isa.KindAddi, Rd: 5, Rs1: 12},
		Kind:       emu.EffectRegWrite,
		PCBefore:   0x1000,
		RegReads:   []emu.RegRead{{Reg: 12}},
		RegWritten: 5,
	}
	err := c.Check(&useA2, m)
	assert(t, err != nil, "expected use of an argument beyond the declared count to be rejected")
}

func TestCheckerCatchesMissingDeclaredArg(t *testing.T) {
	m := newTestMachine()
	m.AddressSymbols[0x1000] = "callee"
	m.ConstSymbols["callee_args"] = 1
	c := NewChecker()

	call := callEffect(0x100, 0x1000)
	err := c.Check(&call, m)
	assert(t, err != nil, "expected a call declaring an uninitialized argument to be rejected")
}

func TestCheckerCatchesUnalignedStore(t *testing.T) {
	m := newTestMachine()
	c := NewChecker()
	a0 := regWrite(0x100, 10)
	assert(t, c.Check(&a0, m) == nil, "setting a0 should not error")

	store := emu.Effect{
		Op:       isa.Op{Kind: isa.KindSw, Rs1: 2, Rs2: 10},
		Kind:     emu.EffectMemWrite,
		PCBefore: 0x104,
		RegReads: []emu.RegRead{{Reg: 2}, {Reg: 10}},
		MemAddr:  0x2002,
		MemSize:  4,
	}
	err := c.Check(&store, m)
	assert(t, err != nil, "expected an unaligned word store to be rejected")
}

func TestCheckerAllowsStoreLoadRoundTrip(t *testing.T) {
	m := newTestMachine()
	c := NewChecker()
	a0 := regWrite(0x100, 10)
	assert(t, c.Check(&a0, m) == nil, "setting a0 should not error")

	store := emu.Effect{
		Op:       isa.Op{Kind: isa.KindSw, Rs1: 2, Rs2: 10},
		Kind:     emu.EffectMemWrite,
		PCBefore: 0x104,
		RegReads: []emu.RegRead{{Reg: 2}, {Reg: 10}},
		MemAddr:  0x2000,
		MemSize:  4,
	}
	assert(t, c.Check(&store, m) == nil, "aligned word store should not error")

	load := emu.Effect{
		Op:         isa.Op{Kind: isa.KindLw, Rd: 11, Rs1: 2},
		Kind:       emu.EffectRegWrite,
		PCBefore:   0x108,
		RegReads:   []emu.RegRead{{Reg: 2}},
		RegWritten: 11,
		MemAddr:    0x2000,
		MemSize:    4,
		MemWasLoad: true,
	}
	assert(t, c.Check(&load, m) == nil, "a matching-width load of a just-stored word should not error")
}

func TestCheckerCatchesPartialReloadOfStoredWord(t *testing.T) {
	m := newTestMachine()
	c := NewChecker()
	a0 := regWrite(0x100, 10)
	assert(t, c.Check(&a0, m) == nil, "setting a0 should not error")

	store := emu.Effect{
		Op:       isa.Op{Kind: isa.KindSw, Rs1: 2, Rs2: 10},
		Kind:     emu.EffectMemWrite,
		PCBefore: 0x104,
		RegReads: []emu.RegRead{{Reg: 2}, {Reg: 10}},
		MemAddr:  0x2000,
		MemSize:  4,
	}
	assert(t, c.Check(&store, m) == nil, "aligned word store should not error")

	load := emu.Effect{
		Op:         isa.Op{Kind: isa.KindLb, Rd: 11, Rs1: 2},
		Kind:       emu.EffectRegWrite,
		PCBefore:   0x108,
		RegReads:   []emu.RegRead{{Reg: 2}},
		RegWritten: 11,
		MemAddr:    0x2000,
		MemSize:    1,
		MemWasLoad: true,
	}
	err := c.Check(&load, m)
	assert(t, err != nil, "expected a byte reload of a word store to be rejected")
}

func TestCheckerEcallWriteRequiresByteData(t *testing.T) {
	m := newTestMachine()
	c := NewChecker()
	a0 := regWrite(0x100, 10)
	assert(t, c.Check(&a0, m) == nil, "setting a0 should not error")

	store := emu.Effect{
		Op:       isa.Op{Kind: isa.KindSw, Rs1: 2, Rs2: 10},
		Kind:     emu.EffectMemWrite,
		PCBefore: 0x104,
		RegReads: []emu.RegRead{{Reg: 2}, {Reg: 10}},
		MemAddr:  0x2000,
		MemSize:  4,
	}
	assert(t, c.Check(&store, m) == nil, "aligned word store should not error")

	write := emu.Effect{
		Op:                isa.Op{Kind: isa.KindEcall},
		Kind:              emu.EffectEcall,
		PCBefore:          0x108,
		EcallNum:          64,
		SyscallBufAddr:    0x2000,
		SyscallBufSize:    4,
		SyscallBufIsStore: false,
	}
	err := c.Check(&write, m)
	assert(t, err != nil, "expected a write(2) of a 4-byte shadow-tagged word to be rejected")
}

package abi

import (
	"fmt"

	"rv32edu/pkg/emu"
	"rv32edu/pkg/isa"
)

// Register numbers the checker treats specially, in the standard ABI
// numbering.
const (
	regRA = 1
	regSP = 2
	regGP = 3
	regTP = 4
)

// sRegs, aRegs, and tRegs are the three register groups the function-
// call protocol and the save-only discipline care about: the callee-
// saved s0-s11, the argument/return a0-a7, and the caller-saved
// temporaries t0-t6.
var (
	sRegs = []uint8{8, 9, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27}
	aRegs = []uint8{10, 11, 12, 13, 14, 15, 16, 17}
	tRegs = []uint8{5, 6, 7, 28, 29, 30, 31}
)

// Checker implements emu.EffectChecker: a shadow-state abstract
// interpreter that watches every instruction's Effect, after the
// interpreter has already applied it to the real machine, and reports
// the instant a calling-convention invariant breaks.
type Checker struct {
	s *shadow
}

func NewChecker() *Checker {
	return &Checker{s: newShadow()}
}

// Check inspects one Effect against the current shadow state, updates
// that state, and returns an error the moment an invariant is
// violated. The error, like any runtime fault, is meant to be attached
// to eff by the caller (the trace driver) rather than raised on its
// own — Check never mutates eff.Terminate itself.
func (c *Checker) Check(eff *emu.Effect, m *emu.Machine) error {
	if err := c.check(eff, m); err != nil {
		return fmt.Errorf("%s (at %#08x)", err, eff.PCBefore)
	}
	return nil
}

func (c *Checker) check(eff *emu.Effect, m *emu.Machine) error {
	s := c.s

	// Checks applicable to every instruction, so later per-instruction
	// cases can assume their operands are already sound.
	for _, rr := range eff.RegReads {
		x := uint8(rr.Reg)
		if !s.valid[x] {
			return fmt.Errorf("cannot use uninitialized %s", isa.RegisterName(isa.Reg(x)))
		}
		if s.saveOnly[x] && !(eff.Kind == emu.EffectMemWrite && eff.MemSize == 4) {
			return fmt.Errorf("%s can only be stored, not used as input", isa.RegisterName(isa.Reg(x)))
		}
	}

	if eff.RegWritten != 0 {
		x := uint8(eff.RegWritten)
		if isMove(eff.Op) {
			srcID, _ := s.read(uint8(eff.Op.Rs1))
			s.write(x, srcID)
		} else {
			s.write(x, s.fresh())
		}
		if x == regSP && m.Reg(isa.Reg(regSP))&0xf != 0 {
			return fmt.Errorf("stack pointer must be 16-byte aligned")
		}
	}

	switch {
	case isCall(eff.Op):
		return c.checkCall(eff, m)
	case isReturn(eff.Op):
		return c.checkReturn(eff, m)
	case isStore(eff.Op):
		return c.checkStore(eff)
	case isLoad(eff.Op):
		return c.checkLoad(eff)
	case eff.Op.Kind == isa.KindEcall:
		return c.checkEcall(eff)
	}
	return nil
}

// checkCall implements the function-call protocol (spec item list
// under "Function call protocol"): the return-address register must
// be ra, the target must name an address symbol, an optional
// "<name>_args" constant narrows which a-registers the callee may
// assume are initialized, every t-register becomes uninitialized in
// the callee's view, and every s-register becomes save-only.
func (c *Checker) checkCall(eff *emu.Effect, m *emu.Machine) error {
	s := c.s

	if eff.RegWritten != regRA {
		return fmt.Errorf("return address must be stored in ra")
	}

	name, ok := m.AddressSymbols[eff.PCAfter]
	if !ok {
		return fmt.Errorf("cannot jump to unlabeled address")
	}

	sp := m.Reg(isa.Reg(regSP))
	entrySP := sp
	eff.FunctionEntrySP = &entrySP
	s.pushFrame(sp)

	for _, r := range tRegs {
		s.invalidate(r)
	}

	argCount := len(aRegs)
	if v, ok := m.ConstSymbols[name+"_args"]; ok && v >= 0 && int(v) < len(aRegs) {
		argCount = int(v)
		for i, r := range aRegs {
			if i >= argCount {
				break
			}
			if !s.valid[r] {
				return fmt.Errorf("function argument %s is uninitialized", isa.RegisterName(isa.Reg(r)))
			}
		}
	}
	for i, r := range aRegs {
		if i >= argCount {
			s.invalidate(r)
		}
	}

	for _, r := range sRegs {
		s.saveOnly[r] = false
		if s.reg[r] == 0 {
			s.reg[r] = s.fresh()
		}
		s.valid[r] = true
		s.saveOnly[r] = true
	}

	s.atEntry = s.reg
	return nil
}

// checkReturn implements function return (spec item list under
// "Function return"): ra/gp/tp and every s-register must still carry
// the identity they held at function entry, sp must numerically match
// the entry-time stack pointer, and the call stack must have a frame
// to pop.
func (c *Checker) checkReturn(eff *emu.Effect, m *emu.Machine) error {
	s := c.s

	for _, r := range []uint8{regRA, regGP, regTP} {
		if s.reg[r] != s.atEntry[r] {
			return fmt.Errorf("%s must be preserved across function call", isa.RegisterName(isa.Reg(r)))
		}
	}
	for _, r := range sRegs {
		if s.reg[r] != s.atEntry[r] {
			return fmt.Errorf("%s must be preserved across function call", isa.RegisterName(isa.Reg(r)))
		}
	}

	sp := m.Reg(isa.Reg(regSP))
	if sp != s.atEntrySP {
		return fmt.Errorf("stack pointer must be restored before return")
	}
	exitSP := sp
	eff.FunctionExitSP = &exitSP

	if _, ok := s.popFrame(); !ok {
		return fmt.Errorf("unexpected return: no matching function call")
	}

	for _, r := range tRegs {
		s.invalidate(r)
	}
	for i, r := range aRegs {
		if i == 0 {
			continue // a0 stays live as the return value
		}
		s.invalidate(r)
	}
	return nil
}

// checkStore implements the store half of "Memory access": sb/sh/sw
// alignment, and the rule that a full-register sw preserves its
// source register's identity (so a later matching-width load can
// recover it) while sb/sh mint a fresh identity (a partial write
// cannot round-trip to the original register value).
func (c *Checker) checkStore(eff *emu.Effect) error {
	s := c.s
	addr := eff.MemAddr

	var alignment uint32
	var id valueID
	switch eff.Op.Kind {
	case isa.KindSb:
		alignment = 1
		id = s.fresh()
	case isa.KindSh:
		alignment = 2
		id = s.fresh()
	case isa.KindSw:
		alignment = 4
		id, _ = s.read(uint8(eff.Op.Rs2))
	}
	if addr%alignment != 0 {
		return fmt.Errorf("unaligned %d-byte memory write at %#08x", alignment, addr)
	}

	size := sizeFromByteCount(eff.MemSize)
	for a := addr; a < addr+eff.MemSize; a++ {
		s.store(a, id, size)
	}
	return nil
}

// checkLoad implements the load half of "Memory access": alignment,
// and the save/restore recognition rule — a read of all-uninitialized
// bytes mints a fresh identity, a read of bytes all written by the
// same store at the same width recovers that store's identity, and
// anything else (partial write, spanning writes, width mismatch) is a
// violation.
func (c *Checker) checkLoad(eff *emu.Effect) error {
	s := c.s
	addr := eff.MemAddr
	readSize := sizeFromByteCount(eff.MemSize)

	var alignment uint32
	switch eff.Op.Kind {
	case isa.KindLb, isa.KindLbu:
		alignment = 0
	case isa.KindLh, isa.KindLhu:
		alignment = 1
	case isa.KindLw:
		alignment = 3
	}
	if addr&alignment != 0 {
		return fmt.Errorf("unaligned %d-byte memory read at %#08x", alignment+1, addr)
	}

	first, _ := s.load(addr)

	var id valueID
	if first.size == sizeUninit {
		id = s.fresh()
		for a := addr; a < addr+eff.MemSize; a++ {
			if c, ok := s.load(a); ok && c.size != sizeUninit {
				return fmt.Errorf("cannot read: incomplete write before this read")
			}
			s.store(a, id, readSize)
		}
	} else {
		id = first.id
		for a := addr; a < addr+eff.MemSize; a++ {
			c, ok := s.load(a)
			if !ok || c.size == sizeUninit {
				return fmt.Errorf("cannot read: incomplete write before this read")
			}
			if c.id != id {
				return fmt.Errorf("cannot read: data spans multiple separate writes")
			}
			if c.size != readSize {
				return fmt.Errorf("read size mismatches original write size")
			}
		}
	}

	s.write(uint8(eff.Op.Rd), id)
	return nil
}

// checkEcall implements the two ecall rules under "Memory access":
// the write syscall (fd 1, reads machine memory) demands every byte
// it touches already be uninitialized or byte-sized; the read syscall
// (fd 0, writes machine memory) demands the same of what it is about
// to overwrite, then marks every touched byte freshly byte-sized.
func (c *Checker) checkEcall(eff *emu.Effect) error {
	s := c.s
	addr, size := eff.SyscallBufAddr, eff.SyscallBufSize
	if size == 0 {
		return nil
	}

	if !eff.SyscallBufIsStore {
		for a := addr; a < addr+size; a++ {
			if c, ok := s.load(a); ok && c.size != sizeUninit && c.size != sizeByte {
				return fmt.Errorf("syscall write requires byte-level data")
			}
		}
		return nil
	}

	for a := addr; a < addr+size; a++ {
		if c, ok := s.load(a); ok && c.size != sizeUninit && c.size != sizeByte {
			return fmt.Errorf("syscall read would overwrite non-byte data")
		}
		s.store(a, s.fresh(), sizeByte)
	}
	return nil
}

func isMove(op isa.Op) bool {
	return op.Kind == isa.KindAddi && op.Rd != 0 && op.Rs1 != 0 && op.Imm == 0
}

func isCall(op isa.Op) bool {
	return (op.Kind == isa.KindJal || op.Kind == isa.KindJalr) && op.Rd != 0
}

func isReturn(op isa.Op) bool {
	return op.Kind == isa.KindJalr && op.Rd == 0 && op.Rs1 == regRA && op.Imm == 0
}

func isStore(op isa.Op) bool {
	switch op.Kind {
	case isa.KindSb, isa.KindSh, isa.KindSw:
		return true
	}
	return false
}

func isLoad(op isa.Op) bool {
	switch op.Kind {
	case isa.KindLb, isa.KindLh, isa.KindLw, isa.KindLbu, isa.KindLhu:
		return true
	}
	return false
}

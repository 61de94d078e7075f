package emu

import (
	"fmt"
	"math/bits"

	"rv32edu/pkg/isa"
)

const errUnimplementedOpMsg = "unimplemented or reserved instruction"

// Registers is the 32-entry integer register file. x0 is wired to
// always read zero; Machine.SetReg silently discards writes to it, the
// same way real hardware does, rather than erroring.
type Registers [32]uint32

// Machine is all the mutable state one RV32IMAC hart has: its
// registers, program counter, memory, and the symbol tables the loader
// populated from the ELF image (consulted only by the ABI checker).
type Machine struct {
	Regs Registers
	PC   uint32
	Mem  *Memory

	// AddressSymbols maps an address to the label defined there, used
	// by the ABI checker to reject jumps to unlabeled targets.
	AddressSymbols map[uint32]string
	// ConstSymbols maps an absolute (.equ) symbol's name to its value,
	// used by the ABI checker to find a callee's "<name>_args" count.
	ConstSymbols map[string]int64
}

func (m *Machine) Reg(r isa.Reg) uint32 {
	return m.Regs[r]
}

func (m *Machine) SetReg(r isa.Reg, v uint32) {
	if r == 0 {
		return
	}
	m.Regs[r] = v
}

// EffectKind tags what kind of side effect one instruction produced,
// for the trace driver and the ABI checker to interpret.
type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectRegWrite
	EffectMemWrite
	EffectBranchTaken
	EffectBranchNotTaken
	EffectJump
	EffectEcall
	EffectEbreak
)

// RegRead is one source-register read an instruction performed, with
// the value the register held at the moment it was read. An
// instruction may read more than one register (e.g. add rd, rs1, rs2),
// and the ABI checker needs every one of them, not just the last.
type RegRead struct {
	Reg      isa.Reg
	OldValue uint32
}

// Effect is the complete, structured record of one instruction's
// execution: every register it read and to what prior value, which
// register or memory location it wrote and the value that location
// held before and after, whether a branch/jump was taken and to where,
// and any I/O or error that resulted — rather than a bare "it
// happened" flag. The interpreter has no side effect that isn't
// represented here — Step only mutates Machine through the operations
// this Effect also describes, and never returns a bare error: every
// failure (a bad fetch, a segfault, an ABI violation attached later by
// the checker) is recorded on the Effect itself so a debugger can
// replay up to and including it.
type Effect struct {
	Kind EffectKind

	Op isa.Op

	PCBefore uint32
	PCAfter  uint32

	RegReads []RegRead

	RegWritten  isa.Reg
	RegOldValue uint32
	RegValue    uint32

	MemAddr     uint32
	MemSize     uint32
	MemValue    uint32
	MemOldValue uint32
	MemWasLoad  bool

	EcallNum uint32
	// SyscallBufAddr/SyscallBufSize describe the user buffer an ecall
	// touched; SyscallBufIsStore is true when the syscall wrote into
	// machine memory (read(2)) and false when it read from machine
	// memory (write(2)).
	SyscallBufAddr    uint32
	SyscallBufSize    uint32
	SyscallBufIsStore bool

	StdinConsumed  []byte
	StdoutProduced []byte

	// Terminate is set once execution cannot or should not continue:
	// a clean exit, a runtime fault, or an ABI violation. Error carries
	// the human-readable reason when Terminate was set by a fault
	// rather than a clean SysExit.
	Terminate bool
	Error     string

	// FunctionEntrySP/FunctionExitSP are filled in by the ABI checker
	// (component K), not the interpreter: the stack pointer observed
	// at a call's entry and a matching return's exit, for display.
	FunctionEntrySP *uint32
	FunctionExitSP  *uint32
}

// Step decodes and executes exactly one instruction at m.PC, mutating
// m and returning the Effect describing what changed. It never
// panics and never returns a non-nil error on malformed or faulting
// input — every failure mode is attached to the returned Effect's
// Error/Terminate fields instead, so the trace driver can record the
// instruction that failed rather than losing it.
func Step(m *Machine) (Effect, error) {
	eff := Effect{PCBefore: m.PC, PCAfter: m.PC}

	buf, err := m.Mem.FetchInstruction(m.PC)
	if err != nil {
		eff.Error = err.Error()
		eff.Terminate = true
		return eff, nil
	}
	op, length, err := isa.Decode(buf)
	if err != nil {
		eff.Error = err.Error()
		eff.Terminate = true
		return eff, nil
	}
	eff.Op = op
	if op.Kind == isa.KindUnimplemented {
		eff.Error = fmt.Sprintf("%s at %#08x: %s", errUnimplementedOpMsg, m.PC, op.Note)
		eff.Terminate = true
		return eff, nil
	}

	nextPC := m.PC + uint32(length)
	if err := execute(m, op, &eff, &nextPC); err != nil {
		eff.Error = err.Error()
		eff.Terminate = true
		eff.PCAfter = m.PC
		return eff, nil
	}

	m.PC = nextPC
	eff.PCAfter = nextPC
	return eff, nil
}

func execute(m *Machine, op isa.Op, eff *Effect, nextPC *uint32) error {
	switch op.Kind {
	case isa.KindLui:
		writeRd(m, eff, op.Rd, uint32(op.Imm))
	case isa.KindAuipc:
		writeRd(m, eff, op.Rd, eff.PCBefore+uint32(op.Imm))

	case isa.KindJal:
		writeRd(m, eff, op.Rd, *nextPC)
		*nextPC = eff.PCBefore + uint32(op.Imm)
		eff.Kind = EffectJump
	case isa.KindJalr:
		base := readReg(m, eff, op.Rs1)
		target := (base + uint32(op.Imm)) &^ 1
		writeRd(m, eff, op.Rd, *nextPC)
		*nextPC = target
		eff.Kind = EffectJump

	case isa.KindBeq, isa.KindBne, isa.KindBlt, isa.KindBge, isa.KindBltu, isa.KindBgeu:
		return executeBranch(m, op, eff, nextPC)

	case isa.KindLb, isa.KindLh, isa.KindLw, isa.KindLbu, isa.KindLhu:
		return executeLoad(m, op, eff)

	case isa.KindSb, isa.KindSh, isa.KindSw:
		return executeStore(m, op, eff)

	case isa.KindAddi:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)+uint32(op.Imm))
	case isa.KindSlti:
		writeRd(m, eff, op.Rd, boolU32(int32(readReg(m, eff, op.Rs1)) < op.Imm))
	case isa.KindSltiu:
		writeRd(m, eff, op.Rd, boolU32(readReg(m, eff, op.Rs1) < uint32(op.Imm)))
	case isa.KindXori:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)^uint32(op.Imm))
	case isa.KindOri:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)|uint32(op.Imm))
	case isa.KindAndi:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)&uint32(op.Imm))
	case isa.KindSlli:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)<<(uint32(op.Imm)&0x1f))
	case isa.KindSrli:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)>>(uint32(op.Imm)&0x1f))
	case isa.KindSrai:
		writeRd(m, eff, op.Rd, uint32(int32(readReg(m, eff, op.Rs1))>>(uint32(op.Imm)&0x1f)))

	case isa.KindAdd:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)+readReg(m, eff, op.Rs2))
	case isa.KindSub:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)-readReg(m, eff, op.Rs2))
	case isa.KindSll:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)<<(readReg(m, eff, op.Rs2)&0x1f))
	case isa.KindSlt:
		writeRd(m, eff, op.Rd, boolU32(int32(readReg(m, eff, op.Rs1)) < int32(readReg(m, eff, op.Rs2))))
	case isa.KindSltu:
		writeRd(m, eff, op.Rd, boolU32(readReg(m, eff, op.Rs1) < readReg(m, eff, op.Rs2)))
	case isa.KindXor:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)^readReg(m, eff, op.Rs2))
	case isa.KindSrl:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)>>(readReg(m, eff, op.Rs2)&0x1f))
	case isa.KindSra:
		writeRd(m, eff, op.Rd, uint32(int32(readReg(m, eff, op.Rs1))>>(readReg(m, eff, op.Rs2)&0x1f)))
	case isa.KindOr:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)|readReg(m, eff, op.Rs2))
	case isa.KindAnd:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)&readReg(m, eff, op.Rs2))

	case isa.KindFence:
		// single-hart emulator: fence is a no-op

	case isa.KindEcall:
		eff.Kind = EffectEcall
		eff.EcallNum = readReg(m, eff, 17) // a7
	case isa.KindEbreak:
		eff.Kind = EffectEbreak

	case isa.KindMul:
		writeRd(m, eff, op.Rd, readReg(m, eff, op.Rs1)*readReg(m, eff, op.Rs2))
	case isa.KindMulh:
		writeRd(m, eff, op.Rd, mulhSigned(int32(readReg(m, eff, op.Rs1)), int32(readReg(m, eff, op.Rs2))))
	case isa.KindMulhsu:
		writeRd(m, eff, op.Rd, mulhSignedUnsigned(int32(readReg(m, eff, op.Rs1)), readReg(m, eff, op.Rs2)))
	case isa.KindMulhu:
		hi, _ := bits.Mul32(readReg(m, eff, op.Rs1), readReg(m, eff, op.Rs2))
		writeRd(m, eff, op.Rd, hi)
	case isa.KindDiv:
		writeRd(m, eff, op.Rd, uint32(divSigned(int32(readReg(m, eff, op.Rs1)), int32(readReg(m, eff, op.Rs2)))))
	case isa.KindDivu:
		writeRd(m, eff, op.Rd, divUnsigned(readReg(m, eff, op.Rs1), readReg(m, eff, op.Rs2)))
	case isa.KindRem:
		writeRd(m, eff, op.Rd, uint32(remSigned(int32(readReg(m, eff, op.Rs1)), int32(readReg(m, eff, op.Rs2)))))
	case isa.KindRemu:
		writeRd(m, eff, op.Rd, remUnsigned(readReg(m, eff, op.Rs1), readReg(m, eff, op.Rs2)))

	case isa.KindLrW:
		return executeLRW(m, op, eff)
	case isa.KindScW:
		return executeSCW(m, op, eff)
	case isa.KindAmoswapW, isa.KindAmoaddW, isa.KindAmoxorW, isa.KindAmoandW, isa.KindAmoorW,
		isa.KindAmominW, isa.KindAmomaxW, isa.KindAmominuW, isa.KindAmomaxuW:
		return executeAMO(m, op, eff)

	default:
		return fmt.Errorf("%s: %s", errUnimplementedOpMsg, op.Kind)
	}
	return nil
}

// readReg reads register r and records the read (and the value it held
// at the time) into eff.RegReads — the data the ABI checker needs to
// catch a read of a register nothing has ever written.
func readReg(m *Machine, eff *Effect, r isa.Reg) uint32 {
	v := m.Reg(r)
	eff.RegReads = append(eff.RegReads, RegRead{Reg: r, OldValue: v})
	return v
}

func writeRd(m *Machine, eff *Effect, rd isa.Reg, v uint32) {
	if rd != 0 {
		eff.RegOldValue = m.Reg(rd)
		eff.Kind = EffectRegWrite
		eff.RegWritten = rd
		eff.RegValue = v
	}
	m.SetReg(rd, v)
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func executeBranch(m *Machine, op isa.Op, eff *Effect, nextPC *uint32) error {
	a, b := readReg(m, eff, op.Rs1), readReg(m, eff, op.Rs2)
	var taken bool
	switch op.Kind {
	case isa.KindBeq:
		taken = a == b
	case isa.KindBne:
		taken = a != b
	case isa.KindBlt:
		taken = int32(a) < int32(b)
	case isa.KindBge:
		taken = int32(a) >= int32(b)
	case isa.KindBltu:
		taken = a < b
	case isa.KindBgeu:
		taken = a >= b
	}
	if taken {
		*nextPC = eff.PCBefore + uint32(op.Imm)
		eff.Kind = EffectBranchTaken
	} else {
		eff.Kind = EffectBranchNotTaken
	}
	return nil
}

func executeLoad(m *Machine, op isa.Op, eff *Effect) error {
	addr := readReg(m, eff, op.Rs1) + uint32(op.Imm)
	var size uint32
	switch op.Kind {
	case isa.KindLb, isa.KindLbu:
		size = 1
	case isa.KindLh, isa.KindLhu:
		size = 2
	case isa.KindLw:
		size = 4
	}
	raw, err := m.Mem.Load(addr, size)
	if err != nil {
		return err
	}
	var v uint32
	switch op.Kind {
	case isa.KindLb:
		v = uint32(int32(int8(raw)))
	case isa.KindLh:
		v = uint32(int32(int16(raw)))
	case isa.KindLbu, isa.KindLhu, isa.KindLw:
		v = raw
	}
	writeRd(m, eff, op.Rd, v)
	eff.MemAddr, eff.MemSize, eff.MemValue, eff.MemWasLoad = addr, size, raw, true
	return nil
}

func executeStore(m *Machine, op isa.Op, eff *Effect) error {
	addr := readReg(m, eff, op.Rs1) + uint32(op.Imm)
	var size uint32
	switch op.Kind {
	case isa.KindSb:
		size = 1
	case isa.KindSh:
		size = 2
	case isa.KindSw:
		size = 4
	}
	v := readReg(m, eff, op.Rs2)
	old, _ := m.Mem.Load(addr, size)
	if err := m.Mem.Store(addr, size, v); err != nil {
		return err
	}
	eff.Kind = EffectMemWrite
	eff.MemAddr, eff.MemSize, eff.MemValue, eff.MemOldValue = addr, size, v, old
	return nil
}

func executeLRW(m *Machine, op isa.Op, eff *Effect) error {
	addr := readReg(m, eff, op.Rs1)
	v, err := m.Mem.Load(addr, 4)
	if err != nil {
		return err
	}
	m.Mem.SetReservation(addr)
	writeRd(m, eff, op.Rd, v)
	eff.MemAddr, eff.MemSize, eff.MemValue, eff.MemWasLoad = addr, 4, v, true
	return nil
}

func executeSCW(m *Machine, op isa.Op, eff *Effect) error {
	addr := readReg(m, eff, op.Rs1)
	v := readReg(m, eff, op.Rs2)
	if m.Mem.CheckAndClearReservation(addr) {
		old, _ := m.Mem.Load(addr, 4)
		if err := m.Mem.Store(addr, 4, v); err != nil {
			return err
		}
		writeRd(m, eff, op.Rd, 0)
		eff.Kind = EffectMemWrite
		eff.MemAddr, eff.MemSize, eff.MemValue, eff.MemOldValue = addr, 4, v, old
	} else {
		writeRd(m, eff, op.Rd, 1)
	}
	return nil
}

func executeAMO(m *Machine, op isa.Op, eff *Effect) error {
	addr := readReg(m, eff, op.Rs1)
	old, err := m.Mem.Load(addr, 4)
	if err != nil {
		return err
	}
	operand := readReg(m, eff, op.Rs2)
	var result uint32
	switch op.Kind {
	case isa.KindAmoswapW:
		result = operand
	case isa.KindAmoaddW:
		result = old + operand
	case isa.KindAmoxorW:
		result = old ^ operand
	case isa.KindAmoandW:
		result = old & operand
	case isa.KindAmoorW:
		result = old | operand
	case isa.KindAmominW:
		if int32(old) < int32(operand) {
			result = old
		} else {
			result = operand
		}
	case isa.KindAmomaxW:
		if int32(old) > int32(operand) {
			result = old
		} else {
			result = operand
		}
	case isa.KindAmominuW:
		if old < operand {
			result = old
		} else {
			result = operand
		}
	case isa.KindAmomaxuW:
		if old > operand {
			result = old
		} else {
			result = operand
		}
	}
	if err := m.Mem.Store(addr, 4, result); err != nil {
		return err
	}
	writeRd(m, eff, op.Rd, old)
	eff.MemAddr, eff.MemSize, eff.MemValue, eff.MemOldValue = addr, 4, result, old
	return nil
}

// mulhSigned computes the high 32 bits of a full signed 64-bit product.
func mulhSigned(a, b int32) uint32 {
	return uint32(int64(a) * int64(b) >> 32)
}

// mulhSignedUnsigned computes the high 32 bits of a*b where a is
// signed and b is treated as unsigned.
func mulhSignedUnsigned(a int32, b uint32) uint32 {
	product := int64(a) * int64(b)
	return uint32(product >> 32)
}

// divSigned implements RISC-V's signed division special cases:
// division by zero yields -1, and INT_MIN/-1 yields INT_MIN (the
// mathematically correct result overflows, so it wraps instead of
// trapping).
func divSigned(a, b int32) int32 {
	if b == 0 {
		return -1
	}
	if a == -2147483648 && b == -1 {
		return a
	}
	return a / b
}

func divUnsigned(a, b uint32) uint32 {
	if b == 0 {
		return 0xffffffff
	}
	return a / b
}

// remSigned mirrors divSigned's special cases: remainder by zero
// returns the dividend unchanged, and INT_MIN%-1 is 0.
func remSigned(a, b int32) int32 {
	if b == 0 {
		return a
	}
	if a == -2147483648 && b == -1 {
		return 0
	}
	return a % b
}

func remUnsigned(a, b uint32) uint32 {
	if b == 0 {
		return a
	}
	return a % b
}

package asm

import (
	"errors"
	"fmt"

	"rv32edu/pkg/ast"
	"rv32edu/pkg/isa"
)

var (
	errUnknownMnemonic = errors.New("unknown mnemonic")
	errBadOperands     = errors.New("wrong number or shape of operands")
)

// RelaxPolicy carries the one knob the relaxation driver exposes over
// pseudo-instruction expansion: whether `la` may emit the shorter
// gp-relative form. SPEC_FULL.md resolves the corresponding Open
// Question by auto-detecting this from the presence of the
// conventional `la gp, __global_pointer$` idiom in source, rather than
// requiring an explicit flag from the caller.
type RelaxPolicy struct {
	GPRelaxation bool
}

// AssembleLine expands one parsed instruction line into one or more
// Ops, already carrying resolved Imm values (symbol/label references
// are evaluated eagerly against the current Layout — a later pass with
// a different Layout produces a fresh, independent result, which is
// what lets the relaxation driver call this once per pass).
func AssembleLine(instr ast.Instruction, at ast.LinePointer, r Resolver, policy RelaxPolicy) ([]isa.Op, error) {
	switch instr.Mnemonic {
	case "nop":
		return []isa.Op{{Kind: isa.KindAddi}}, nil
	case "ret":
		return []isa.Op{{Kind: isa.KindJalr, Rs1: 1}}, nil
	case "mv":
		rd, rs1, err := two(instr)
		if err != nil {
			return nil, err
		}
		return []isa.Op{{Kind: isa.KindAddi, Rd: rd, Rs1: rs1}}, nil
	case "not":
		rd, rs1, err := two(instr)
		if err != nil {
			return nil, err
		}
		return []isa.Op{{Kind: isa.KindXori, Rd: rd, Rs1: rs1, Imm: -1}}, nil
	case "neg":
		rd, rs1, err := two(instr)
		if err != nil {
			return nil, err
		}
		return []isa.Op{{Kind: isa.KindSub, Rd: rd, Rs2: rs1}}, nil
	case "seqz":
		rd, rs1, err := two(instr)
		if err != nil {
			return nil, err
		}
		return []isa.Op{{Kind: isa.KindSltiu, Rd: rd, Rs1: rs1, Imm: 1}}, nil
	case "snez":
		rd, rs1, err := two(instr)
		if err != nil {
			return nil, err
		}
		return []isa.Op{{Kind: isa.KindSltu, Rd: rd, Rs2: rs1}}, nil
	case "sltz":
		rd, rs1, err := two(instr)
		if err != nil {
			return nil, err
		}
		return []isa.Op{{Kind: isa.KindSlt, Rd: rd, Rs1: rs1}}, nil
	case "sgtz":
		rd, rs1, err := two(instr)
		if err != nil {
			return nil, err
		}
		return []isa.Op{{Kind: isa.KindSlt, Rd: rd, Rs2: rs1}}, nil

	case "j":
		imm, err := branchTarget(instr, 0, at, r)
		if err != nil {
			return nil, err
		}
		return []isa.Op{{Kind: isa.KindJal, Imm: imm}}, nil
	case "jr":
		rs1, err := one(instr)
		if err != nil {
			return nil, err
		}
		return []isa.Op{{Kind: isa.KindJalr, Rs1: rs1}}, nil

	case "beqz", "bnez", "blez", "bgez", "bltz", "bgtz":
		return assembleZeroBranch(instr, at, r)
	case "bgt", "ble", "bgtu", "bleu":
		return assembleSwappedBranch(instr, at, r)

	case "li":
		return assembleLi(instr)
	case "la":
		return assembleLa(instr, at, r, policy)
	case "call":
		return assembleCallTail(instr, at, r, 1)
	case "tail":
		return assembleCallTail(instr, at, r, 0)
	}

	entry, ok := mnemonicTable[instr.Mnemonic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownMnemonic, instr.Mnemonic)
	}
	op, err := bindFormat(entry.kind, entry.fmt, instr, at, r)
	if err != nil {
		return nil, err
	}
	return []isa.Op{op}, nil
}

func bindFormat(kind isa.Kind, f format, instr ast.Instruction, at ast.LinePointer, r Resolver) (isa.Op, error) {
	a := instr.Args
	switch f {
	case fmtR:
		if len(a) != 3 || !a[0].IsReg || !a[1].IsReg || !a[2].IsReg {
			return isa.Op{}, badShape(instr)
		}
		rd, rs1, rs2, err := regs3(a)
		return isa.Op{Kind: kind, Rd: rd, Rs1: rs1, Rs2: rs2}, err
	case fmtIArith, fmtShift:
		if len(a) != 3 || !a[0].IsReg || !a[1].IsReg || a[2].IsReg {
			return isa.Op{}, badShape(instr)
		}
		rd, rs1, err := regs2(a)
		if err != nil {
			return isa.Op{}, err
		}
		imm, err := evalArg(a[2], at, r)
		if err != nil {
			return isa.Op{}, err
		}
		return isa.Op{Kind: kind, Rd: rd, Rs1: rs1, Imm: imm}, nil
	case fmtILoad:
		if kind == isa.KindJalr {
			return bindJalr(a, at, r)
		}
		if len(a) != 2 || !a[0].IsReg || a[1].IsReg {
			return isa.Op{}, badShape(instr)
		}
		rd, err := reg(a[0])
		if err != nil {
			return isa.Op{}, err
		}
		base, err := reg(regFromMem(a[1]))
		if err != nil {
			return isa.Op{}, err
		}
		imm, err := evalArg(a[1], at, r)
		if err != nil {
			return isa.Op{}, err
		}
		return isa.Op{Kind: kind, Rd: rd, Rs1: base, Imm: imm}, nil
	case fmtS:
		if len(a) != 2 || !a[0].IsReg || a[1].IsReg {
			return isa.Op{}, badShape(instr)
		}
		rs2, err := reg(a[0])
		if err != nil {
			return isa.Op{}, err
		}
		base, err := reg(regFromMem(a[1]))
		if err != nil {
			return isa.Op{}, err
		}
		imm, err := evalArg(a[1], at, r)
		if err != nil {
			return isa.Op{}, err
		}
		return isa.Op{Kind: kind, Rs1: base, Rs2: rs2, Imm: imm}, nil
	case fmtB:
		if len(a) != 3 || !a[0].IsReg || !a[1].IsReg || a[2].IsReg {
			return isa.Op{}, badShape(instr)
		}
		rs1, rs2, err := regs2(a)
		if err != nil {
			return isa.Op{}, err
		}
		imm, err := branchImm(a[2], at, r)
		if err != nil {
			return isa.Op{}, err
		}
		return isa.Op{Kind: kind, Rs1: rs1, Rs2: rs2, Imm: imm}, nil
	case fmtU:
		if len(a) != 2 || !a[0].IsReg || a[1].IsReg {
			return isa.Op{}, badShape(instr)
		}
		rd, err := reg(a[0])
		if err != nil {
			return isa.Op{}, err
		}
		imm, err := evalArg(a[1], at, r)
		if err != nil {
			return isa.Op{}, err
		}
		return isa.Op{Kind: kind, Rd: rd, Imm: imm << 12}, nil
	case fmtJ:
		rd := isa.Reg(1)
		idx := 0
		if len(a) == 2 {
			r0, err := reg(a[0])
			if err != nil {
				return isa.Op{}, err
			}
			rd, idx = r0, 1
		} else if len(a) != 1 {
			return isa.Op{}, badShape(instr)
		}
		imm, err := branchImm(a[idx], at, r)
		if err != nil {
			return isa.Op{}, err
		}
		return isa.Op{Kind: kind, Rd: rd, Imm: imm}, nil
	case fmtSystem:
		return isa.Op{Kind: kind}, nil
	case fmtAMO:
		return bindAMO(kind, a)
	}
	return isa.Op{}, fmt.Errorf("asm: unhandled format for %s", kind)
}

func bindJalr(a []ast.InstrArg, at ast.LinePointer, r Resolver) (isa.Op, error) {
	if len(a) == 1 && a[0].IsReg {
		rs1, _ := reg(a[0])
		return isa.Op{Kind: isa.KindJalr, Rd: 1, Rs1: rs1}, nil
	}
	if len(a) == 2 && a[0].IsReg && !a[1].IsReg {
		rd, _ := reg(a[0])
		base, err := reg(regFromMem(a[1]))
		if err != nil {
			return isa.Op{}, err
		}
		imm, err := evalArg(a[1], at, r)
		if err != nil {
			return isa.Op{}, err
		}
		return isa.Op{Kind: isa.KindJalr, Rd: rd, Rs1: base, Imm: imm}, nil
	}
	return isa.Op{}, errBadOperands
}

func bindAMO(kind isa.Kind, a []ast.InstrArg) (isa.Op, error) {
	if kind == isa.KindLrW {
		if len(a) != 2 || !a[0].IsReg || !a[1].IsReg {
			return isa.Op{}, errBadOperands
		}
		rd, _ := reg(a[0])
		rs1, _ := reg(a[1])
		return isa.Op{Kind: kind, Rd: rd, Rs1: rs1}, nil
	}
	if len(a) != 3 || !a[0].IsReg || !a[1].IsReg || !a[2].IsReg {
		return isa.Op{}, errBadOperands
	}
	rd, _ := reg(a[0])
	rs2, _ := reg(a[1])
	rs1, _ := reg(a[2])
	return isa.Op{Kind: kind, Rd: rd, Rs1: rs1, Rs2: rs2}, nil
}

func regFromMem(a ast.InstrArg) ast.InstrArg {
	return ast.InstrArg{IsReg: true, Register: a.Register}
}

func reg(a ast.InstrArg) (isa.Reg, error) {
	r, ok := isa.LookupRegister(a.Register)
	if !ok {
		return 0, fmt.Errorf("%w: not a register: %s", errBadOperands, a.Register)
	}
	return r, nil
}

func regs2(a []ast.InstrArg) (isa.Reg, isa.Reg, error) {
	r0, err := reg(a[0])
	if err != nil {
		return 0, 0, err
	}
	r1, err := reg(a[1])
	return r0, r1, err
}

func regs3(a []ast.InstrArg) (isa.Reg, isa.Reg, isa.Reg, error) {
	r0, r1, err := regs2(a)
	if err != nil {
		return 0, 0, 0, err
	}
	r2, err := reg(a[2])
	return r0, r1, r2, err
}

func one(instr ast.Instruction) (isa.Reg, error) {
	if len(instr.Args) != 1 || !instr.Args[0].IsReg {
		return 0, badShape(instr)
	}
	return reg(instr.Args[0])
}

func two(instr ast.Instruction) (isa.Reg, isa.Reg, error) {
	if len(instr.Args) != 2 || !instr.Args[0].IsReg || !instr.Args[1].IsReg {
		return 0, 0, badShape(instr)
	}
	return regs2(instr.Args)
}

func evalArg(a ast.InstrArg, at ast.LinePointer, r Resolver) (int32, error) {
	v, err := Eval(a.Expr, at, r)
	if err != nil {
		return 0, err
	}
	return v.Bits, nil
}

// branchImm evaluates a jump/branch target expression as a PC-relative
// displacement: the expression denotes an absolute address, and the
// encoded immediate is (target - current instruction address).
func branchImm(a ast.InstrArg, at ast.LinePointer, r Resolver) (int32, error) {
	v, err := Eval(a.Expr, at, r)
	if err != nil {
		return 0, err
	}
	return v.Bits - r.CurrentAddress(at), nil
}

func branchTarget(instr ast.Instruction, idx int, at ast.LinePointer, r Resolver) (int32, error) {
	if len(instr.Args) <= idx {
		return 0, badShape(instr)
	}
	return branchImm(instr.Args[idx], at, r)
}

func badShape(instr ast.Instruction) error {
	return fmt.Errorf("%w: %s", errBadOperands, instr.Mnemonic)
}

// assembleZeroBranch expands bNNz rs1, label into the corresponding
// two-register branch with the implicit operand set to x0.
func assembleZeroBranch(instr ast.Instruction, at ast.LinePointer, r Resolver) ([]isa.Op, error) {
	if len(instr.Args) != 2 || !instr.Args[0].IsReg || instr.Args[1].IsReg {
		return nil, badShape(instr)
	}
	rs1, err := reg(instr.Args[0])
	if err != nil {
		return nil, err
	}
	imm, err := branchImm(instr.Args[1], at, r)
	if err != nil {
		return nil, err
	}
	var kind isa.Kind
	switch instr.Mnemonic {
	case "beqz":
		kind = isa.KindBeq
	case "bnez":
		kind = isa.KindBne
	case "blez":
		return []isa.Op{{Kind: isa.KindBge, Rs1: 0, Rs2: rs1, Imm: imm}}, nil
	case "bgez":
		kind = isa.KindBge
	case "bltz":
		kind = isa.KindBlt
	case "bgtz":
		return []isa.Op{{Kind: isa.KindBlt, Rs1: 0, Rs2: rs1, Imm: imm}}, nil
	}
	return []isa.Op{{Kind: kind, Rs1: rs1, Imm: imm}}, nil
}

// assembleSwappedBranch expands bgt/ble/bgtu/bleu by swapping operands
// into the equivalent blt/bge/bltu/bgeu form (RISC-V has no dedicated
// encoding for "greater than").
func assembleSwappedBranch(instr ast.Instruction, at ast.LinePointer, r Resolver) ([]isa.Op, error) {
	if len(instr.Args) != 3 || !instr.Args[0].IsReg || !instr.Args[1].IsReg || instr.Args[2].IsReg {
		return nil, badShape(instr)
	}
	rs1, rs2, err := regs2(instr.Args)
	if err != nil {
		return nil, err
	}
	imm, err := branchImm(instr.Args[2], at, r)
	if err != nil {
		return nil, err
	}
	var kind isa.Kind
	switch instr.Mnemonic {
	case "bgt":
		kind = isa.KindBlt
	case "ble":
		kind = isa.KindBge
	case "bgtu":
		kind = isa.KindBltu
	case "bleu":
		kind = isa.KindBgeu
	}
	return []isa.Op{{Kind: kind, Rs1: rs2, Rs2: rs1, Imm: imm}}, nil
}

// assembleLi expands li rd, imm into the shortest legal sequence: a
// single addi when imm fits 12 signed bits, else lui+addi with the
// standard "does the low 12 bits look negative" rounding correction.
func assembleLi(instr ast.Instruction) ([]isa.Op, error) {
	if len(instr.Args) != 2 || !instr.Args[0].IsReg || instr.Args[1].IsReg {
		return nil, badShape(instr)
	}
	rd, err := reg(instr.Args[0])
	if err != nil {
		return nil, err
	}
	// li's immediate must be evaluable without a Resolver (pure
	// constant), so it is evaluated here with a no-symbol resolver.
	v, err := Eval(instr.Args[1].Expr, ast.LinePointer{}, constOnlyResolver{})
	if err != nil {
		return nil, err
	}
	imm := v.Bits
	if fitsSigned(imm, 12) {
		return []isa.Op{{Kind: isa.KindAddi, Rd: rd, Imm: imm}}, nil
	}
	hi := (imm + 0x800) >> 12
	lo := imm - (hi << 12)
	return []isa.Op{
		{Kind: isa.KindLui, Rd: rd, Imm: hi << 12},
		{Kind: isa.KindAddi, Rd: rd, Rs1: rd, Imm: lo},
	}, nil
}

type constOnlyResolver struct{}

func (constOnlyResolver) SymbolAddress(string) (int32, bool)                { return 0, false }
func (constOnlyResolver) NumericLabelAddress(ast.LinePointer, int, bool) (int32, bool) { return 0, false }
func (constOnlyResolver) CurrentAddress(ast.LinePointer) int32              { return 0 }

// assembleLa expands la rd, symbol. When policy.GPRelaxation is set and
// the symbol lies within reach of __global_pointer$, it emits the
// shorter single-instruction gp-relative form; otherwise it emits the
// general pc-relative auipc+addi sequence.
func assembleLa(instr ast.Instruction, at ast.LinePointer, r Resolver, policy RelaxPolicy) ([]isa.Op, error) {
	if len(instr.Args) != 2 || !instr.Args[0].IsReg || instr.Args[1].IsReg {
		return nil, badShape(instr)
	}
	rd, err := reg(instr.Args[0])
	if err != nil {
		return nil, err
	}
	v, err := Eval(instr.Args[1].Expr, at, r)
	if err != nil {
		return nil, err
	}
	target := v.Bits

	if policy.GPRelaxation {
		gp, ok := r.SymbolAddress("__global_pointer$")
		if ok {
			off := target - gp
			if fitsSigned(off, 12) {
				return []isa.Op{{Kind: isa.KindAddi, Rd: rd, Rs1: 3, Imm: off}}, nil
			}
		}
	}

	pc := r.CurrentAddress(at)
	disp := target - pc
	hi := (disp + 0x800) >> 12
	lo := disp - (hi << 12)
	return []isa.Op{
		{Kind: isa.KindAuipc, Rd: rd, Imm: hi << 12},
		{Kind: isa.KindAddi, Rd: rd, Rs1: rd, Imm: lo},
	}, nil
}

// assembleCallTail expands call/tail symbol. linkReg is ra (1) for
// call, x0 (0) for tail — tail must not return, so it never preserves
// a link. Within +-1MiB it collapses to one jal; otherwise the general
// auipc+jalr sequence.
func assembleCallTail(instr ast.Instruction, at ast.LinePointer, r Resolver, linkReg isa.Reg) ([]isa.Op, error) {
	if len(instr.Args) != 1 || instr.Args[0].IsReg {
		return nil, badShape(instr)
	}
	v, err := Eval(instr.Args[0].Expr, at, r)
	if err != nil {
		return nil, err
	}
	target := v.Bits
	pc := r.CurrentAddress(at)
	disp := target - pc

	if fitsSigned(disp, 21) && disp%2 == 0 {
		return []isa.Op{{Kind: isa.KindJal, Rd: linkReg, Imm: disp}}, nil
	}

	hi := (disp + 0x800) >> 12
	lo := disp - (hi << 12)
	scratch := isa.Reg(6) // t1; call uses ra itself as scratch, tail must not clobber a caller's ra
	if linkReg == 1 {
		scratch = 1
	}
	return []isa.Op{
		{Kind: isa.KindAuipc, Rd: scratch, Imm: hi << 12},
		{Kind: isa.KindJalr, Rd: linkReg, Rs1: scratch, Imm: lo},
	}, nil
}

package asm

import "rv32edu/pkg/isa"

// format classifies how an instruction's ast operands bind to an Op's
// fields, so AssembleLine doesn't need a bespoke case per mnemonic.
type format int

const (
	fmtR      format = iota // rd, rs1, rs2
	fmtIArith               // rd, rs1, imm
	fmtShift                // rd, rs1, shamt(imm)
	fmtILoad                // rd, imm(rs1)
	fmtS                    // rs2, imm(rs1)
	fmtB                    // rs1, rs2, imm (pc-relative label)
	fmtU                    // rd, imm
	fmtJ                    // rd, imm (pc-relative label); rd defaults to ra if omitted
	fmtSystem               // no operands
	fmtAMO                  // rd, rs2, (rs1)   (rs2 omitted for lr.w)
)

// mnemonicTable holds every non-pseudo mnemonic's Kind and operand
// format. Pseudo-instructions (li, la, call, ...) are handled
// separately in pseudo.go since they expand to more than one Op.
var mnemonicTable = map[string]struct {
	kind Kind
	fmt  format
}{
	"lui":   {isa.KindLui, fmtU}, "auipc": {isa.KindAuipc, fmtU},
	"jal": {isa.KindJal, fmtJ}, "jalr": {isa.KindJalr, fmtILoad},

	"beq": {isa.KindBeq, fmtB}, "bne": {isa.KindBne, fmtB},
	"blt": {isa.KindBlt, fmtB}, "bge": {isa.KindBge, fmtB},
	"bltu": {isa.KindBltu, fmtB}, "bgeu": {isa.KindBgeu, fmtB},

	"lb": {isa.KindLb, fmtILoad}, "lh": {isa.KindLh, fmtILoad}, "lw": {isa.KindLw, fmtILoad},
	"lbu": {isa.KindLbu, fmtILoad}, "lhu": {isa.KindLhu, fmtILoad},
	"sb": {isa.KindSb, fmtS}, "sh": {isa.KindSh, fmtS}, "sw": {isa.KindSw, fmtS},

	"addi": {isa.KindAddi, fmtIArith}, "slti": {isa.KindSlti, fmtIArith},
	"sltiu": {isa.KindSltiu, fmtIArith}, "xori": {isa.KindXori, fmtIArith},
	"ori": {isa.KindOri, fmtIArith}, "andi": {isa.KindAndi, fmtIArith},
	"slli": {isa.KindSlli, fmtShift}, "srli": {isa.KindSrli, fmtShift}, "srai": {isa.KindSrai, fmtShift},

	"add": {isa.KindAdd, fmtR}, "sub": {isa.KindSub, fmtR}, "sll": {isa.KindSll, fmtR},
	"slt": {isa.KindSlt, fmtR}, "sltu": {isa.KindSltu, fmtR}, "xor": {isa.KindXor, fmtR},
	"srl": {isa.KindSrl, fmtR}, "sra": {isa.KindSra, fmtR}, "or": {isa.KindOr, fmtR}, "and": {isa.KindAnd, fmtR},

	"fence": {isa.KindFence, fmtSystem}, "ecall": {isa.KindEcall, fmtSystem}, "ebreak": {isa.KindEbreak, fmtSystem},

	"mul": {isa.KindMul, fmtR}, "mulh": {isa.KindMulh, fmtR}, "mulhsu": {isa.KindMulhsu, fmtR},
	"mulhu": {isa.KindMulhu, fmtR}, "div": {isa.KindDiv, fmtR}, "divu": {isa.KindDivu, fmtR},
	"rem": {isa.KindRem, fmtR}, "remu": {isa.KindRemu, fmtR},

	"lr.w": {isa.KindLrW, fmtAMO}, "sc.w": {isa.KindScW, fmtAMO},
	"amoswap.w": {isa.KindAmoswapW, fmtAMO}, "amoadd.w": {isa.KindAmoaddW, fmtAMO},
	"amoxor.w": {isa.KindAmoxorW, fmtAMO}, "amoand.w": {isa.KindAmoandW, fmtAMO},
	"amoor.w": {isa.KindAmoorW, fmtAMO}, "amomin.w": {isa.KindAmominW, fmtAMO},
	"amomax.w": {isa.KindAmomaxW, fmtAMO}, "amominu.w": {isa.KindAmominuW, fmtAMO}, "amomaxu.w": {isa.KindAmomaxuW, fmtAMO},
}

// Kind is re-exported from isa for package-local brevity in the table above.
type Kind = isa.Kind

package asm

import (
	"fmt"

	"rv32edu/pkg/isa"
)

// EncodeStandard produces the 32-bit word for op, the inverse of
// isa.Decode's standard-form path. Every Kind isa.Decode can produce
// from a 32-bit word is handled here; Kind values reachable only
// through compressed decode (none currently) would need no entry since
// the encoder always prefers the smallest legal form itself.
func EncodeStandard(op isa.Op) (uint32, error) {
	switch op.Kind {
	case isa.KindLui:
		return uType(0x37, op.Rd, op.Imm), nil
	case isa.KindAuipc:
		return uType(0x17, op.Rd, op.Imm), nil
	case isa.KindJal:
		return jType(0x6f, op.Rd, op.Imm), nil
	case isa.KindJalr:
		return iType(0x67, op.Rd, 0, op.Rs1, op.Imm), nil

	case isa.KindBeq:
		return bType(0x63, 0, op.Rs1, op.Rs2, op.Imm), nil
	case isa.KindBne:
		return bType(0x63, 1, op.Rs1, op.Rs2, op.Imm), nil
	case isa.KindBlt:
		return bType(0x63, 4, op.Rs1, op.Rs2, op.Imm), nil
	case isa.KindBge:
		return bType(0x63, 5, op.Rs1, op.Rs2, op.Imm), nil
	case isa.KindBltu:
		return bType(0x63, 6, op.Rs1, op.Rs2, op.Imm), nil
	case isa.KindBgeu:
		return bType(0x63, 7, op.Rs1, op.Rs2, op.Imm), nil

	case isa.KindLb:
		return iType(0x03, op.Rd, 0, op.Rs1, op.Imm), nil
	case isa.KindLh:
		return iType(0x03, op.Rd, 1, op.Rs1, op.Imm), nil
	case isa.KindLw:
		return iType(0x03, op.Rd, 2, op.Rs1, op.Imm), nil
	case isa.KindLbu:
		return iType(0x03, op.Rd, 4, op.Rs1, op.Imm), nil
	case isa.KindLhu:
		return iType(0x03, op.Rd, 5, op.Rs1, op.Imm), nil

	case isa.KindSb:
		return sType(0x23, 0, op.Rs1, op.Rs2, op.Imm), nil
	case isa.KindSh:
		return sType(0x23, 1, op.Rs1, op.Rs2, op.Imm), nil
	case isa.KindSw:
		return sType(0x23, 2, op.Rs1, op.Rs2, op.Imm), nil

	case isa.KindAddi:
		return iType(0x13, op.Rd, 0, op.Rs1, op.Imm), nil
	case isa.KindSlti:
		return iType(0x13, op.Rd, 2, op.Rs1, op.Imm), nil
	case isa.KindSltiu:
		return iType(0x13, op.Rd, 3, op.Rs1, op.Imm), nil
	case isa.KindXori:
		return iType(0x13, op.Rd, 4, op.Rs1, op.Imm), nil
	case isa.KindOri:
		return iType(0x13, op.Rd, 6, op.Rs1, op.Imm), nil
	case isa.KindAndi:
		return iType(0x13, op.Rd, 7, op.Rs1, op.Imm), nil
	case isa.KindSlli:
		return rType(0x13, uint32(op.Rd), 1, uint32(op.Rs1), uint32(op.Imm)&0x1f, 0), nil
	case isa.KindSrli:
		return rType(0x13, uint32(op.Rd), 5, uint32(op.Rs1), uint32(op.Imm)&0x1f, 0), nil
	case isa.KindSrai:
		return rType(0x13, uint32(op.Rd), 5, uint32(op.Rs1), uint32(op.Imm)&0x1f, 0x20), nil

	case isa.KindAdd:
		return rType(0x33, uint32(op.Rd), 0, uint32(op.Rs1), uint32(op.Rs2), 0), nil
	case isa.KindSub:
		return rType(0x33, uint32(op.Rd), 0, uint32(op.Rs1), uint32(op.Rs2), 0x20), nil
	case isa.KindSll:
		return rType(0x33, uint32(op.Rd), 1, uint32(op.Rs1), uint32(op.Rs2), 0), nil
	case isa.KindSlt:
		return rType(0x33, uint32(op.Rd), 2, uint32(op.Rs1), uint32(op.Rs2), 0), nil
	case isa.KindSltu:
		return rType(0x33, uint32(op.Rd), 3, uint32(op.Rs1), uint32(op.Rs2), 0), nil
	case isa.KindXor:
		return rType(0x33, uint32(op.Rd), 4, uint32(op.Rs1), uint32(op.Rs2), 0), nil
	case isa.KindSrl:
		return rType(0x33, uint32(op.Rd), 5, uint32(op.Rs1), uint32(op.Rs2), 0), nil
	case isa.KindSra:
		return rType(0x33, uint32(op.Rd), 5, uint32(op.Rs1), uint32(op.Rs2), 0x20), nil
	case isa.KindOr:
		return rType(0x33, uint32(op.Rd), 6, uint32(op.Rs1), uint32(op.Rs2), 0), nil
	case isa.KindAnd:
		return rType(0x33, uint32(op.Rd), 7, uint32(op.Rs1), uint32(op.Rs2), 0), nil

	case isa.KindFence:
		return 0x0000000f, nil
	case isa.KindEcall:
		return 0x00000073, nil
	case isa.KindEbreak:
		return 0x00100073, nil

	case isa.KindMul:
		return rType(0x33, uint32(op.Rd), 0, uint32(op.Rs1), uint32(op.Rs2), 1), nil
	case isa.KindMulh:
		return rType(0x33, uint32(op.Rd), 1, uint32(op.Rs1), uint32(op.Rs2), 1), nil
	case isa.KindMulhsu:
		return rType(0x33, uint32(op.Rd), 2, uint32(op.Rs1), uint32(op.Rs2), 1), nil
	case isa.KindMulhu:
		return rType(0x33, uint32(op.Rd), 3, uint32(op.Rs1), uint32(op.Rs2), 1), nil
	case isa.KindDiv:
		return rType(0x33, uint32(op.Rd), 4, uint32(op.Rs1), uint32(op.Rs2), 1), nil
	case isa.KindDivu:
		return rType(0x33, uint32(op.Rd), 5, uint32(op.Rs1), uint32(op.Rs2), 1), nil
	case isa.KindRem:
		return rType(0x33, uint32(op.Rd), 6, uint32(op.Rs1), uint32(op.Rs2), 1), nil
	case isa.KindRemu:
		return rType(0x33, uint32(op.Rd), 7, uint32(op.Rs1), uint32(op.Rs2), 1), nil

	case isa.KindLrW:
		return amoType(0x02, uint32(op.Rd), uint32(op.Rs1), 0), nil
	case isa.KindScW:
		return amoType(0x03, uint32(op.Rd), uint32(op.Rs1), uint32(op.Rs2)), nil
	case isa.KindAmoswapW:
		return amoType(0x01, uint32(op.Rd), uint32(op.Rs1), uint32(op.Rs2)), nil
	case isa.KindAmoaddW:
		return amoType(0x00, uint32(op.Rd), uint32(op.Rs1), uint32(op.Rs2)), nil
	case isa.KindAmoxorW:
		return amoType(0x04, uint32(op.Rd), uint32(op.Rs1), uint32(op.Rs2)), nil
	case isa.KindAmoandW:
		return amoType(0x0c, uint32(op.Rd), uint32(op.Rs1), uint32(op.Rs2)), nil
	case isa.KindAmoorW:
		return amoType(0x08, uint32(op.Rd), uint32(op.Rs1), uint32(op.Rs2)), nil
	case isa.KindAmominW:
		return amoType(0x10, uint32(op.Rd), uint32(op.Rs1), uint32(op.Rs2)), nil
	case isa.KindAmomaxW:
		return amoType(0x14, uint32(op.Rd), uint32(op.Rs1), uint32(op.Rs2)), nil
	case isa.KindAmominuW:
		return amoType(0x18, uint32(op.Rd), uint32(op.Rs1), uint32(op.Rs2)), nil
	case isa.KindAmomaxuW:
		return amoType(0x1c, uint32(op.Rd), uint32(op.Rs1), uint32(op.Rs2)), nil
	}
	return 0, fmt.Errorf("asm: cannot encode op kind %s", op.Kind)
}

func rType(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return opcode | rd<<7 | funct3<<12 | rs1<<15 | rs2<<20 | funct7<<25
}

func iType(opcode uint32, rd isa.Reg, funct3 uint32, rs1 isa.Reg, imm int32) uint32 {
	return opcode | uint32(rd)<<7 | funct3<<12 | uint32(rs1)<<15 | (uint32(imm)&0xfff)<<20
}

func uType(opcode uint32, rd isa.Reg, imm int32) uint32 {
	return opcode | uint32(rd)<<7 | uint32(imm)&0xfffff000
}

func jType(opcode uint32, rd isa.Reg, imm int32) uint32 {
	u := uint32(imm)
	return opcode | uint32(rd)<<7 |
		((u>>20)&0x1)<<31 | ((u>>1)&0x3ff)<<21 | ((u>>11)&0x1)<<20 | ((u>>12)&0xff)<<12
}

func bType(opcode, funct3 uint32, rs1, rs2 isa.Reg, imm int32) uint32 {
	u := uint32(imm)
	return opcode | funct3<<12 | uint32(rs1)<<15 | uint32(rs2)<<20 |
		((u>>11)&0x1)<<7 | ((u>>1)&0xf)<<8 | ((u>>5)&0x3f)<<25 | ((u>>12)&0x1)<<31
}

func sType(opcode, funct3 uint32, rs1, rs2 isa.Reg, imm int32) uint32 {
	u := uint32(imm)
	return opcode | funct3<<12 | uint32(rs1)<<15 | uint32(rs2)<<20 |
		(u&0x1f)<<7 | ((u>>5)&0x7f)<<25
}

func amoType(funct5, rd, rs1, rs2 uint32) uint32 {
	return 0x2f | rd<<7 | 2<<12 | rs1<<15 | rs2<<20 | funct5<<27
}

package isa

import "fmt"

// Decode inspects the low two bits of the half-word at buf[0:2] to decide
// whether the instruction is a 16-bit compressed form or a 32-bit
// standard form, reads the remainder if needed, and returns the decoded
// Op plus its length in bytes (2 or 4). Unrecognized encodings return
// Op{Kind: KindUnimplemented} rather than an error — the error surfaces
// only when execution attempts to run it (see pkg/emu).
func Decode(buf []byte) (Op, int, error) {
	if len(buf) < 2 {
		return Op{}, 0, fmt.Errorf("isa: need at least 2 bytes to decode, got %d", len(buf))
	}
	lo := uint16(buf[0]) | uint16(buf[1])<<8
	if lo&0x3 != 0x3 {
		return decodeCompressed(lo), 2, nil
	}
	if len(buf) < 4 {
		return Op{}, 0, fmt.Errorf("isa: truncated 32-bit instruction")
	}
	word := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	return decodeStandard(word), 4, nil
}

func signExtend(v uint32, bits int) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

func decodeStandard(w uint32) Op {
	opcode := w & 0x7f
	rd := Reg((w >> 7) & 0x1f)
	funct3 := (w >> 12) & 0x7
	rs1 := Reg((w >> 15) & 0x1f)
	rs2 := Reg((w >> 20) & 0x1f)
	funct7 := (w >> 25) & 0x7f

	iImm := signExtend(w>>20, 12)
	sImm := signExtend(((w>>25)&0x7f)<<5|((w>>7)&0x1f), 12)
	bImm := signExtend(
		((w>>31)&0x1)<<12|((w>>7)&0x1)<<11|((w>>25)&0x3f)<<5|((w>>8)&0xf)<<1,
		13)
	uImm := int32(w & 0xfffff000)
	jImm := signExtend(
		((w>>31)&0x1)<<20|((w>>12)&0xff)<<12|((w>>20)&0x1)<<11|((w>>21)&0x3ff)<<1,
		21)

	switch opcode {
	case 0x37:
		return Op{Kind: KindLui, Rd: rd, Imm: uImm, Raw: w}
	case 0x17:
		return Op{Kind: KindAuipc, Rd: rd, Imm: uImm, Raw: w}
	case 0x6f:
		return Op{Kind: KindJal, Rd: rd, Imm: jImm, Raw: w}
	case 0x67:
		if funct3 == 0 {
			return Op{Kind: KindJalr, Rd: rd, Rs1: rs1, Imm: iImm, Raw: w}
		}
	case 0x63:
		kinds := map[uint32]Kind{0: KindBeq, 1: KindBne, 4: KindBlt, 5: KindBge, 6: KindBltu, 7: KindBgeu}
		if k, ok := kinds[funct3]; ok {
			return Op{Kind: k, Rs1: rs1, Rs2: rs2, Imm: bImm, Raw: w}
		}
	case 0x03:
		kinds := map[uint32]Kind{0: KindLb, 1: KindLh, 2: KindLw, 4: KindLbu, 5: KindLhu}
		if k, ok := kinds[funct3]; ok {
			return Op{Kind: k, Rd: rd, Rs1: rs1, Imm: iImm, Raw: w}
		}
	case 0x23:
		kinds := map[uint32]Kind{0: KindSb, 1: KindSh, 2: KindSw}
		if k, ok := kinds[funct3]; ok {
			return Op{Kind: k, Rs1: rs1, Rs2: rs2, Imm: sImm, Raw: w}
		}
	case 0x13:
		switch funct3 {
		case 0:
			return Op{Kind: KindAddi, Rd: rd, Rs1: rs1, Imm: iImm, Raw: w}
		case 2:
			return Op{Kind: KindSlti, Rd: rd, Rs1: rs1, Imm: iImm, Raw: w}
		case 3:
			return Op{Kind: KindSltiu, Rd: rd, Rs1: rs1, Imm: iImm, Raw: w}
		case 4:
			return Op{Kind: KindXori, Rd: rd, Rs1: rs1, Imm: iImm, Raw: w}
		case 6:
			return Op{Kind: KindOri, Rd: rd, Rs1: rs1, Imm: iImm, Raw: w}
		case 7:
			return Op{Kind: KindAndi, Rd: rd, Rs1: rs1, Imm: iImm, Raw: w}
		case 1:
			if funct7 == 0 {
				return Op{Kind: KindSlli, Rd: rd, Rs1: rs1, Imm: int32(rs2), Raw: w}
			}
		case 5:
			switch funct7 {
			case 0:
				return Op{Kind: KindSrli, Rd: rd, Rs1: rs1, Imm: int32(rs2), Raw: w}
			case 0x20:
				return Op{Kind: KindSrai, Rd: rd, Rs1: rs1, Imm: int32(rs2), Raw: w}
			}
		}
	case 0x33:
		if funct7 == 1 {
			kinds := map[uint32]Kind{
				0: KindMul, 1: KindMulh, 2: KindMulhsu, 3: KindMulhu,
				4: KindDiv, 5: KindDivu, 6: KindRem, 7: KindRemu,
			}
			if k, ok := kinds[funct3]; ok {
				return Op{Kind: k, Rd: rd, Rs1: rs1, Rs2: rs2, Raw: w}
			}
		}
		switch {
		case funct3 == 0 && funct7 == 0:
			return Op{Kind: KindAdd, Rd: rd, Rs1: rs1, Rs2: rs2, Raw: w}
		case funct3 == 0 && funct7 == 0x20:
			return Op{Kind: KindSub, Rd: rd, Rs1: rs1, Rs2: rs2, Raw: w}
		case funct3 == 1 && funct7 == 0:
			return Op{Kind: KindSll, Rd: rd, Rs1: rs1, Rs2: rs2, Raw: w}
		case funct3 == 2 && funct7 == 0:
			return Op{Kind: KindSlt, Rd: rd, Rs1: rs1, Rs2: rs2, Raw: w}
		case funct3 == 3 && funct7 == 0:
			return Op{Kind: KindSltu, Rd: rd, Rs1: rs1, Rs2: rs2, Raw: w}
		case funct3 == 4 && funct7 == 0:
			return Op{Kind: KindXor, Rd: rd, Rs1: rs1, Rs2: rs2, Raw: w}
		case funct3 == 5 && funct7 == 0:
			return Op{Kind: KindSrl, Rd: rd, Rs1: rs1, Rs2: rs2, Raw: w}
		case funct3 == 5 && funct7 == 0x20:
			return Op{Kind: KindSra, Rd: rd, Rs1: rs1, Rs2: rs2, Raw: w}
		case funct3 == 6 && funct7 == 0:
			return Op{Kind: KindOr, Rd: rd, Rs1: rs1, Rs2: rs2, Raw: w}
		case funct3 == 7 && funct7 == 0:
			return Op{Kind: KindAnd, Rd: rd, Rs1: rs1, Rs2: rs2, Raw: w}
		}
	case 0x0f:
		if funct3 == 0 {
			return Op{Kind: KindFence, Raw: w}
		}
	case 0x73:
		if funct3 == 0 && rd == 0 && rs1 == 0 {
			if rs2 == 0 && funct7 == 0 {
				return Op{Kind: KindEcall, Raw: w}
			}
			if rs2 == 1 && funct7 == 0 {
				return Op{Kind: KindEbreak, Raw: w}
			}
		}
	case 0x2f:
		if funct3 != 2 {
			break
		}
		funct5 := funct7 >> 2
		kinds := map[uint32]Kind{
			0x00: KindAmoaddW, 0x01: KindAmoswapW, 0x02: KindLrW, 0x03: KindScW,
			0x04: KindAmoxorW, 0x08: KindAmoorW, 0x0c: KindAmoandW,
			0x10: KindAmominW, 0x14: KindAmomaxW, 0x18: KindAmominuW, 0x1c: KindAmomaxuW,
		}
		if k, ok := kinds[funct5]; ok {
			op := Op{Kind: k, Rd: rd, Rs1: rs1, Raw: w}
			if k != KindLrW {
				op.Rs2 = rs2
			}
			return op
		}
	}

	return Op{Kind: KindUnimplemented, Raw: w, Note: fmt.Sprintf("unrecognized 32-bit encoding %#08x", w)}
}

// decodeCompressed implements the common core of RVC used by the
// encoder's relaxation (see pkg/asm/compressed.go for the matching
// encode side and the rationale for which patterns are covered).
func decodeCompressed(w uint16) Op {
	op := w & 0x3
	funct3 := (w >> 13) & 0x7

	rdRs1 := Reg((w >> 7) & 0x1f)
	rs2 := Reg((w >> 2) & 0x1f)
	rdRs1p := Reg((w>>7)&0x7) + 8
	rs2p := Reg((w>>2)&0x7) + 8

	switch op {
	case 0x0: // C0
		switch funct3 {
		case 0x0: // C.ADDI4SPN
			imm := ((w>>7)&0xf)<<6 | ((w>>11)&0x3)<<4 | ((w>>5)&0x1)<<3 | ((w>>6)&0x1)<<2
			if imm == 0 {
				return Op{Kind: KindUnimplemented, Raw: uint32(w), Note: "reserved c.addi4spn imm=0"}
			}
			return Op{Kind: KindAddi, Rd: rs2p, Rs1: 2, Imm: int32(imm), Raw: uint32(w)}
		case 0x2: // C.LW
			imm := ((w>>10)&0x7)<<3 | ((w>>6)&0x1)<<2 | ((w>>5)&0x1)<<6
			return Op{Kind: KindLw, Rd: rs2p, Rs1: rdRs1p, Imm: int32(imm), Raw: uint32(w)}
		case 0x6: // C.SW
			imm := ((w>>10)&0x7)<<3 | ((w>>6)&0x1)<<2 | ((w>>5)&0x1)<<6
			return Op{Kind: KindSw, Rs1: rdRs1p, Rs2: rs2p, Imm: int32(imm), Raw: uint32(w)}
		}
	case 0x1: // C1
		switch funct3 {
		case 0x0: // C.NOP / C.ADDI
			imm := signExtend(uint32((w>>7)&0x20|(w>>2)&0x1f), 6)
			return Op{Kind: KindAddi, Rd: rdRs1, Rs1: rdRs1, Imm: imm, Raw: uint32(w)}
		case 0x1: // C.JAL (RV32 only)
			imm := signExtend(decodeCJImm(w), 12)
			return Op{Kind: KindJal, Rd: 1, Imm: imm, Raw: uint32(w)}
		case 0x2: // C.LI
			imm := signExtend(uint32((w>>7)&0x20|(w>>2)&0x1f), 6)
			return Op{Kind: KindAddi, Rd: rdRs1, Rs1: 0, Imm: imm, Raw: uint32(w)}
		case 0x3:
			if rdRs1 == 2 { // C.ADDI16SP
				imm := signExtend(uint32((w>>3)&0x200|(w>>2)&0x10|(w<<1)&0x40|(w<<4)&0x180|(w<<3)&0x20), 10)
				return Op{Kind: KindAddi, Rd: 2, Rs1: 2, Imm: imm, Raw: uint32(w)}
			}
			// C.LUI
			imm := signExtend((uint32(w)>>12&0x1)<<17|(uint32(w)>>2&0x1f)<<12, 18)
			if rdRs1 == 0 {
				return Op{Kind: KindUnimplemented, Raw: uint32(w), Note: "reserved c.lui rd=0"}
			}
			return Op{Kind: KindLui, Rd: rdRs1, Imm: imm, Raw: uint32(w)}
		case 0x4:
			funct2 := (w >> 10) & 0x3
			switch funct2 {
			case 0x0: // C.SRLI
				shamt := (w >> 2) & 0x1f
				return Op{Kind: KindSrli, Rd: rdRs1p, Rs1: rdRs1p, Imm: int32(shamt), Raw: uint32(w)}
			case 0x1: // C.SRAI
				shamt := (w >> 2) & 0x1f
				return Op{Kind: KindSrai, Rd: rdRs1p, Rs1: rdRs1p, Imm: int32(shamt), Raw: uint32(w)}
			case 0x2: // C.ANDI
				imm := signExtend(uint32((w>>7)&0x20|(w>>2)&0x1f), 6)
				return Op{Kind: KindAndi, Rd: rdRs1p, Rs1: rdRs1p, Imm: imm, Raw: uint32(w)}
			case 0x3:
				funct6b := (w >> 5) & 0x3
				kinds := [4]Kind{KindSub, KindXor, KindOr, KindAnd}
				if (w>>12)&0x1 == 0 {
					return Op{Kind: kinds[funct6b], Rd: rdRs1p, Rs1: rdRs1p, Rs2: rs2p, Raw: uint32(w)}
				}
			}
		case 0x5: // C.J
			imm := signExtend(decodeCJImm(w), 12)
			return Op{Kind: KindJal, Rd: 0, Imm: imm, Raw: uint32(w)}
		case 0x6: // C.BEQZ
			imm := signExtend(decodeCBImm(w), 9)
			return Op{Kind: KindBeq, Rs1: rdRs1p, Rs2: 0, Imm: imm, Raw: uint32(w)}
		case 0x7: // C.BNEZ
			imm := signExtend(decodeCBImm(w), 9)
			return Op{Kind: KindBne, Rs1: rdRs1p, Rs2: 0, Imm: imm, Raw: uint32(w)}
		}
	case 0x2: // C2
		switch funct3 {
		case 0x0: // C.SLLI
			shamt := (w >> 2) & 0x1f
			return Op{Kind: KindSlli, Rd: rdRs1, Rs1: rdRs1, Imm: int32(shamt), Raw: uint32(w)}
		case 0x4:
			bit12 := (w >> 12) & 0x1
			switch {
			case bit12 == 0 && rs2 == 0 && rdRs1 != 0: // C.JR
				return Op{Kind: KindJalr, Rd: 0, Rs1: rdRs1, Imm: 0, Raw: uint32(w)}
			case bit12 == 0: // C.MV
				return Op{Kind: KindAdd, Rd: rdRs1, Rs1: 0, Rs2: rs2, Raw: uint32(w)}
			case bit12 == 1 && rdRs1 == 0 && rs2 == 0: // C.EBREAK
				return Op{Kind: KindEbreak, Raw: uint32(w)}
			case bit12 == 1 && rs2 == 0: // C.JALR
				return Op{Kind: KindJalr, Rd: 1, Rs1: rdRs1, Imm: 0, Raw: uint32(w)}
			default: // C.ADD
				return Op{Kind: KindAdd, Rd: rdRs1, Rs1: rdRs1, Rs2: rs2, Raw: uint32(w)}
			}
		case 0x6: // C.SWSP
			imm := ((w>>9)&0xf)<<2 | ((w>>7)&0x3)<<6
			return Op{Kind: KindSw, Rs1: 2, Rs2: rs2, Imm: int32(imm), Raw: uint32(w)}
		}
		if funct3 == 0x2 { // C.LWSP
			imm := ((w>>4)&0x7)<<2 | ((w>>12)&0x1)<<5 | ((w>>2)&0x3)<<6
			return Op{Kind: KindLw, Rd: rdRs1, Rs1: 2, Imm: int32(imm), Raw: uint32(w)}
		}
	}

	return Op{Kind: KindUnimplemented, Raw: uint32(w), Note: fmt.Sprintf("unrecognized 16-bit encoding %#04x", w)}
}

func decodeCJImm(w uint16) uint32 {
	return ((uint32(w)>>12)&0x1)<<11 | ((uint32(w)>>11)&0x1)<<4 | ((uint32(w)>>9)&0x3)<<8 |
		((uint32(w)>>8)&0x1)<<10 | ((uint32(w)>>7)&0x1)<<6 | ((uint32(w)>>6)&0x1)<<7 |
		((uint32(w)>>3)&0x7)<<1 | ((uint32(w)>>2)&0x1)<<5
}

func decodeCBImm(w uint16) uint32 {
	return ((uint32(w)>>12)&0x1)<<8 | ((uint32(w)>>10)&0x3)<<3 | ((uint32(w)>>5)&0x3)<<6 |
		((uint32(w)>>3)&0x3)<<1 | ((uint32(w)>>2)&0x1)<<5
}

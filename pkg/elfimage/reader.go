package elfimage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	errBadMagic = errors.New("elfimage: not an ELF file")
	errBadClass = errors.New("elfimage: not a 32-bit little-endian file")
	errBadMachine = errors.New("elfimage: not a RISC-V executable")
	errTruncated  = errors.New("elfimage: truncated file")
)

// Read parses an ELF-32 RISC-V executable back into an Image, used by
// the emulator (component I) to load a program and by tests to
// round-trip the writer's output.
func Read(data []byte) (Image, error) {
	if len(data) < ELFHeaderSize {
		return Image{}, errTruncated
	}
	if string(data[0:4]) != ELFMagic {
		return Image{}, errBadMagic
	}
	if data[4] != ClassELF32 || data[5] != DataLittle {
		return Image{}, errBadClass
	}
	machine := binary.LittleEndian.Uint16(data[18:20])
	if machine != EMachineRISCV {
		return Image{}, fmt.Errorf("%w: machine=%#x", errBadMachine, machine)
	}

	entry := binary.LittleEndian.Uint32(data[24:28])
	phOff := binary.LittleEndian.Uint32(data[28:32])
	phEntSize := binary.LittleEndian.Uint16(data[42:44])
	phNum := binary.LittleEndian.Uint16(data[44:46])

	img := Image{Entry: entry}

	for i := uint16(0); i < phNum; i++ {
		base := phOff + uint32(i)*uint32(phEntSize)
		if int(base+ProgramHeaderSize) > len(data) {
			return Image{}, errTruncated
		}
		ph := data[base : base+ProgramHeaderSize]
		typ := binary.LittleEndian.Uint32(ph[0:4])
		if typ != PTypeLoad {
			continue
		}
		fileOff := binary.LittleEndian.Uint32(ph[4:8])
		vaddr := binary.LittleEndian.Uint32(ph[8:12])
		fileSize := binary.LittleEndian.Uint32(ph[16:20])
		memSize := binary.LittleEndian.Uint32(ph[20:24])
		flags := binary.LittleEndian.Uint32(ph[24:28])

		if int(fileOff+fileSize) > len(data) {
			return Image{}, errTruncated
		}
		seg := Segment{
			Addr:    vaddr,
			MemSize: memSize,
			Flags:   flags,
			IsBss:   fileSize == 0 && memSize > 0,
		}
		if fileSize > 0 {
			seg.Data = append([]byte(nil), data[fileOff:fileOff+fileSize]...)
		}
		img.Segments = append(img.Segments, seg)
	}

	syms, err := readSymbols(data)
	if err != nil {
		return Image{}, err
	}
	img.Symbols = syms

	return img, nil
}

func readSymbols(data []byte) ([]Symbol, error) {
	if len(data) < 40 {
		return nil, nil
	}
	shOff := binary.LittleEndian.Uint32(data[32:36])
	shEntSize := binary.LittleEndian.Uint16(data[46:48])
	shNum := binary.LittleEndian.Uint16(data[48:50])
	shStrNdx := binary.LittleEndian.Uint16(data[50:52])

	type sectionHeader struct {
		name, typ, offset, size, link uint32
	}
	var sections []sectionHeader
	for i := uint16(0); i < shNum; i++ {
		base := shOff + uint32(i)*uint32(shEntSize)
		if int(base+SectionHeaderSize) > len(data) {
			return nil, errTruncated
		}
		sh := data[base : base+SectionHeaderSize]
		sections = append(sections, sectionHeader{
			name:   binary.LittleEndian.Uint32(sh[0:4]),
			typ:    binary.LittleEndian.Uint32(sh[4:8]),
			offset: binary.LittleEndian.Uint32(sh[16:20]),
			size:   binary.LittleEndian.Uint32(sh[20:24]),
			link:   binary.LittleEndian.Uint32(sh[24:28]),
		})
	}
	_ = shStrNdx

	var symSection *sectionHeader
	for i := range sections {
		if sections[i].typ == SHTSymTab {
			symSection = &sections[i]
			break
		}
	}
	if symSection == nil {
		return nil, nil
	}
	strSection := sections[symSection.link]
	strBytes := data[strSection.offset : strSection.offset+strSection.size]

	var out []Symbol
	const entSize = 16
	for off := symSection.offset + entSize; off+entSize <= symSection.offset+symSection.size; off += entSize {
		entry := data[off : off+entSize]
		nameOff := binary.LittleEndian.Uint32(entry[0:4])
		value := binary.LittleEndian.Uint32(entry[4:8])
		size := binary.LittleEndian.Uint32(entry[8:12])
		info := entry[12]
		section := binary.LittleEndian.Uint16(entry[14:16])
		out = append(out, Symbol{
			Name:    cString(strBytes, nameOff),
			Value:   value,
			Size:    size,
			Section: section,
			Info:    info,
		})
	}
	return out, nil
}

func cString(buf []byte, off uint32) string {
	if int(off) >= len(buf) {
		return ""
	}
	end := off
	for end < uint32(len(buf)) && buf[end] != 0 {
		end++
	}
	return string(buf[off:end])
}

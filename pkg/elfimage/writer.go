package elfimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Write serializes img into a complete ELF-32 little-endian RISC-V
// executable: ELF header, one program header per segment, the
// segments' bytes, then .symtab/.strtab/.shstrtab and their section
// headers. Layout mirrors a conventional statically-linked, non-PIE
// binary closely enough for readelf/objdump to parse it, while staying
// far simpler than a real linker's output (no relocations, no dynamic
// section, no interpreter).
func Write(img Image) ([]byte, error) {
	var buf bytes.Buffer

	numPH := len(img.Segments)
	phOff := uint32(ELFHeaderSize)
	dataOff := phOff + uint32(numPH)*ProgramHeaderSize

	type placedSegment struct {
		seg    Segment
		offset uint32
	}
	placed := make([]placedSegment, 0, len(img.Segments))
	off := dataOff
	for _, seg := range img.Segments {
		placed = append(placed, placedSegment{seg: seg, offset: off})
		off += uint32(len(seg.Data))
	}

	shstrtab := newStringTable()
	strtab := newStringTable()

	shstrtabName := shstrtab.add(".shstrtab")
	strtabName := shstrtab.add(".strtab")
	symtabName := shstrtab.add(".symtab")
	segNameOffsets := make([]uint32, len(img.Segments))
	for i, seg := range img.Segments {
		segNameOffsets[i] = shstrtab.add(seg.Name)
	}

	symtabOff := off
	symEntrySize := uint32(16)
	symCount := uint32(len(img.Symbols)) + 1 // +1 for the null symbol
	symtabBytes := make([]byte, 0, symCount*symEntrySize)
	symtabBytes = append(symtabBytes, make([]byte, symEntrySize)...) // STN_UNDEF
	strtab.add("")
	for _, sym := range img.Symbols {
		nameOff := strtab.add(sym.Name)
		entry := make([]byte, symEntrySize)
		binary.LittleEndian.PutUint32(entry[0:4], nameOff)
		binary.LittleEndian.PutUint32(entry[4:8], sym.Value)
		binary.LittleEndian.PutUint32(entry[8:12], sym.Size)
		entry[12] = sym.Info
		entry[13] = 0
		binary.LittleEndian.PutUint16(entry[14:16], sym.Section)
		symtabBytes = append(symtabBytes, entry...)
	}
	off += uint32(len(symtabBytes))

	strtabOff := off
	off += uint32(len(strtab.bytes))

	shstrtabOff := off
	off += uint32(len(shstrtab.bytes))

	numSections := uint32(1 + len(img.Segments) + 3) // null + segments + symtab + strtab + shstrtab
	shOff := off

	// --- ELF header ---
	header := make([]byte, ELFHeaderSize)
	copy(header[0:4], ELFMagic)
	header[4] = ClassELF32
	header[5] = DataLittle
	header[6] = ELFVersion
	header[7] = OSABISysV
	binary.LittleEndian.PutUint16(header[16:18], ETypeExec)
	binary.LittleEndian.PutUint16(header[18:20], EMachineRISCV)
	binary.LittleEndian.PutUint32(header[20:24], ELFVersion)
	binary.LittleEndian.PutUint32(header[24:28], img.Entry)
	binary.LittleEndian.PutUint32(header[28:32], phOff)
	binary.LittleEndian.PutUint32(header[32:36], shOff)
	binary.LittleEndian.PutUint32(header[36:40], 0) // flags
	binary.LittleEndian.PutUint16(header[40:42], ELFHeaderSize)
	binary.LittleEndian.PutUint16(header[42:44], ProgramHeaderSize)
	binary.LittleEndian.PutUint16(header[44:46], uint16(numPH))
	binary.LittleEndian.PutUint16(header[46:48], SectionHeaderSize)
	binary.LittleEndian.PutUint16(header[48:50], uint16(numSections))
	binary.LittleEndian.PutUint16(header[50:52], uint16(1+len(img.Segments)+2)) // shstrtab index
	buf.Write(header)

	for _, ps := range placed {
		ph := make([]byte, ProgramHeaderSize)
		binary.LittleEndian.PutUint32(ph[0:4], PTypeLoad)
		binary.LittleEndian.PutUint32(ph[4:8], ps.offset)
		binary.LittleEndian.PutUint32(ph[8:12], ps.seg.Addr)
		binary.LittleEndian.PutUint32(ph[12:16], ps.seg.Addr)
		fileSize := uint32(len(ps.seg.Data))
		if ps.seg.IsBss {
			fileSize = 0
		}
		binary.LittleEndian.PutUint32(ph[16:20], fileSize)
		binary.LittleEndian.PutUint32(ph[20:24], ps.seg.MemSize)
		binary.LittleEndian.PutUint32(ph[24:28], ps.seg.Flags)
		binary.LittleEndian.PutUint32(ph[28:32], pageAlign)
		buf.Write(ph)
	}

	for _, ps := range placed {
		if !ps.seg.IsBss {
			buf.Write(ps.seg.Data)
		}
	}

	buf.Write(symtabBytes)
	buf.Write(strtab.bytes)
	buf.Write(shstrtab.bytes)

	if uint32(buf.Len()) != shOff {
		return nil, fmt.Errorf("elfimage: internal layout mismatch: buf=%d shoff=%d", buf.Len(), shOff)
	}

	writeSectionHeader(&buf, 0, 0, 0, 0, 0, 0, 0, 0, 0)
	for i, ps := range placed {
		typ := uint32(SHTProgBits)
		flags := uint32(SHFAlloc)
		fileSize := uint32(len(ps.seg.Data))
		fileOff := ps.offset
		if ps.seg.IsBss {
			typ = SHTNoBits
			fileSize = ps.seg.MemSize
		}
		if ps.seg.Flags&PFlagWrite != 0 {
			flags |= SHFWrite
		}
		if ps.seg.Flags&PFlagExec != 0 {
			flags |= SHFExec
		}
		writeSectionHeader(&buf, segNameOffsets[i], typ, flags, ps.seg.Addr, fileOff, fileSize, 0, 0, 4)
	}
	writeSectionHeader(&buf, symtabName, SHTSymTab, 0, 0, symtabOff, uint32(len(symtabBytes)), uint32(1+len(img.Segments)+1), 1, 4)
	writeSectionHeader(&buf, strtabName, SHTStrTab, 0, 0, strtabOff, uint32(len(strtab.bytes)), 0, 0, 1)
	writeSectionHeader(&buf, shstrtabName, SHTStrTab, 0, 0, shstrtabOff, uint32(len(shstrtab.bytes)), 0, 0, 1)

	return buf.Bytes(), nil
}

func writeSectionHeader(buf *bytes.Buffer, name, typ, flags, addr, offset, size, link, info, align uint32) {
	sh := make([]byte, SectionHeaderSize)
	binary.LittleEndian.PutUint32(sh[0:4], name)
	binary.LittleEndian.PutUint32(sh[4:8], typ)
	binary.LittleEndian.PutUint32(sh[8:12], flags)
	binary.LittleEndian.PutUint32(sh[12:16], addr)
	binary.LittleEndian.PutUint32(sh[16:20], offset)
	binary.LittleEndian.PutUint32(sh[20:24], size)
	binary.LittleEndian.PutUint32(sh[24:28], link)
	binary.LittleEndian.PutUint32(sh[28:32], info)
	binary.LittleEndian.PutUint32(sh[32:36], align)
	binary.LittleEndian.PutUint32(sh[36:40], 0)
	buf.Write(sh)
}

const pageAlign = 0x1000

type stringTable struct {
	bytes []byte
}

func newStringTable() *stringTable {
	return &stringTable{bytes: []byte{0}}
}

func (t *stringTable) add(s string) uint32 {
	off := uint32(len(t.bytes))
	t.bytes = append(t.bytes, []byte(s)...)
	t.bytes = append(t.bytes, 0)
	return off
}

package asm

import (
	"errors"
	"fmt"

	"rv32edu/pkg/elfimage"
)

var errNoStartSymbol = errors.New("asm: program defines no _start symbol")

// ToImage builds the elfimage.Image component F serializes: one
// PT_LOAD segment for .text (R+X), one for .data (R+W), one
// synthetic-size-only one for .bss (R+W, zero file bytes), and a
// symbol table entry for every defined label plus every .equ/.set
// constant, local or global (the latter marked SHN_ABS since they denote a
// value, not an address within any segment).
func (res *Result) ToImage() (elfimage.Image, error) {
	entry, ok := res.Layout.SymbolAddress("_start")
	if !ok {
		return elfimage.Image{}, errNoStartSymbol
	}

	img := elfimage.Image{Entry: uint32(entry)}

	textBytes := make([]byte, 0, len(res.Text)*4)
	for _, w := range res.Text {
		textBytes = append(textBytes, w.Bytes...)
	}
	if len(textBytes) > 0 {
		img.Segments = append(img.Segments, elfimage.Segment{
			Name: ".text", Addr: uint32(res.Layout.TextBase), Data: textBytes,
			MemSize: uint32(len(textBytes)), Flags: elfimage.PFlagRead | elfimage.PFlagExec,
		})
	}
	if len(res.DataInit) > 0 {
		img.Segments = append(img.Segments, elfimage.Segment{
			Name: ".data", Addr: uint32(res.Layout.DataBase), Data: res.DataInit,
			MemSize: uint32(len(res.DataInit)), Flags: elfimage.PFlagRead | elfimage.PFlagWrite,
		})
	}
	if res.BssLen > 0 {
		img.Segments = append(img.Segments, elfimage.Segment{
			Name: ".bss", Addr: uint32(res.Layout.BssBase), MemSize: uint32(res.BssLen),
			Flags: elfimage.PFlagRead | elfimage.PFlagWrite, IsBss: true,
		})
	}

	for name, p := range res.Symbols.Defs {
		addr, ok := res.Layout.Addr[p]
		if !ok {
			continue
		}
		info := byte(elfimage.STBLocal<<4) | elfimage.STTNoType
		if res.Symbols.Globals[name] {
			info = byte(elfimage.STBGlobal<<4) | elfimage.STTNoType
		}
		img.Symbols = append(img.Symbols, elfimage.Symbol{
			Name: name, Value: uint32(addr), Section: segmentIndexFor(res, addr), Info: info,
		})
	}
	for name, c := range res.Symbols.Constants {
		v, err := Eval(c.expr, c.at, res.Layout)
		if err != nil {
			return elfimage.Image{}, fmt.Errorf("asm: evaluating constant %s for symbol table: %w", name, err)
		}
		info := byte(elfimage.STBLocal<<4) | elfimage.STTObject
		if res.Symbols.Globals[name] {
			info = byte(elfimage.STBGlobal<<4) | elfimage.STTObject
		}
		img.Symbols = append(img.Symbols, elfimage.Symbol{
			Name: name, Value: uint32(v.Bits), Section: elfimage.SHNAbs, Info: info,
		})
	}

	return img, nil
}

func segmentIndexFor(res *Result, addr int32) uint16 {
	switch {
	case addr >= res.Layout.BssBase && res.BssLen > 0:
		return 3
	case addr >= res.Layout.DataBase && len(res.DataInit) > 0:
		return 2
	default:
		return 1
	}
}

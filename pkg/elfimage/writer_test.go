package elfimage

import (
	"fmt"
	"testing"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	img := Image{
		Entry: 0x10000,
		Segments: []Segment{
			{Name: ".text", Addr: 0x10000, Data: []byte{0x13, 0x00, 0x00, 0x00}, MemSize: 4, Flags: PFlagRead | PFlagExec},
			{Name: ".data", Addr: 0x20000, Data: []byte{1, 2, 3, 4}, MemSize: 4, Flags: PFlagRead | PFlagWrite},
			{Name: ".bss", Addr: 0x21000, Data: nil, MemSize: 16, Flags: PFlagRead | PFlagWrite, IsBss: true},
		},
		Symbols: []Symbol{
			{Name: "_start", Value: 0x10000, Section: 1, Info: STBGlobal<<4 | STTFunc},
			{Name: "FOO", Value: 4, Section: SHNAbs, Info: STBGlobal<<4 | STTNoType},
		},
	}

	data, err := Write(img)
	assert(t, err == nil, "write failed: %v", err)
	assert(t, string(data[:4]) == ELFMagic, "expected ELF magic at start of file")

	got, err := Read(data)
	assert(t, err == nil, "read failed: %v", err)
	assert(t, got.Entry == img.Entry, "expected entry %#x, got %#x", img.Entry, got.Entry)
	assert(t, len(got.Segments) == 3, "expected 3 segments, got %d", len(got.Segments))

	text := got.Segments[0]
	assert(t, text.Addr == 0x10000 && len(text.Data) == 4, "bad text segment: %+v", text)
	assert(t, text.Flags&PFlagExec != 0, "expected text segment to be executable")

	bss := got.Segments[2]
	assert(t, bss.IsBss, "expected bss segment to round-trip IsBss=true")
	assert(t, bss.MemSize == 16, "expected bss memsize 16, got %d", bss.MemSize)

	names := map[string]uint32{}
	for _, s := range got.Symbols {
		names[s.Name] = s.Value
	}
	assert(t, names["_start"] == 0x10000, "expected _start symbol at entry, got %#x", names["_start"])
	assert(t, names["FOO"] == 4, "expected FOO constant value 4, got %d", names["FOO"])
}

func TestReadRejectsBadMagic(t *testing.T) {
	_, err := Read([]byte("not an elf file at all, padded out"))
	assert(t, err != nil, "expected bad magic to be rejected")
}

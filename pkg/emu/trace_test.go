package emu

import (
	"bytes"
	"errors"
	"testing"
)

// buildExitAndWriteProgram assembles (by hand, via putWord) a tiny program that
// writes "hi" to fd 1 then exits with code 7:
//
//	li a0, 1          ; fd
//	la a1, msg        ; addr (resolved by hand below)
//	li a2, 2          ; count
//	li a7, 64         ; SysWrite
//	ecall
//	li a0, 7
//	li a7, 93         ; SysExit
//	ecall
func buildExitAndWriteProgram(t *testing.T) *Machine {
	t.Helper()
	m := newTestMachine()
	msgAddr := uint32(0x20000)
	copy(m.Mem.Segments[1].Bytes, []byte("hi"))

	pc := m.PC
	emit := func(w uint32) {
		putWord(m, pc, w)
		pc += 4
	}
	emit(iWord(0x13, 10, 0, 0, 1))            // addi a0, x0, 1
	emit(uWord(11, int32(msgAddr)&^0xfff))    // lui a1, %hi(msgAddr); msgAddr is page-aligned here so lo is 0
	emit(iWord(0x13, 12, 0, 0, 2))            // addi a2, x0, 2
	emit(iWord(0x13, 17, 0, 0, 64))           // addi a7, x0, SysWrite
	emit(0x73)                                // ecall
	emit(iWord(0x13, 10, 0, 0, 7))            // addi a0, x0, 7
	emit(iWord(0x13, 17, 0, 0, 93))           // addi a7, x0, SysExit
	emit(0x73)                                // ecall
	return m
}

func uWord(rd uint32, imm int32) uint32 {
	return 0x37 | rd<<7 | (uint32(imm) & 0xfffff000)
}

func TestTracerRunWritesAndExits(t *testing.T) {
	m := buildExitAndWriteProgram(t)
	var out bytes.Buffer
	tracer := NewTracer(m, stubIO{out: &out}, nil, 0)
	err := tracer.Run()

	var exitErr *ExitError
	assert(t, errors.As(err, &exitErr), "expected an ExitError, got %v", err)
	assert(t, exitErr.Code == 7, "expected exit code 7, got %d", exitErr.Code)
	assert(t, out.String() == "hi", "expected stdout %q, got %q", "hi", out.String())
}

func TestTracerMaxStepsBudget(t *testing.T) {
	m := newTestMachine()
	text := m.Mem.Segments[0]
	for off := 0; off+4 <= len(text.Bytes); off += 4 {
		putWord(m, text.Base+uint32(off), iWord(0x13, 0, 0, 0, 0)) // nop, forever
	}
	tracer := NewTracer(m, stubIO{out: &bytes.Buffer{}}, nil, 3)
	err := tracer.Run()
	assert(t, err == errMaxStepsExceeded, "expected max-steps error, got %v", err)
}

type stubIO struct {
	out *bytes.Buffer
}

func (s stubIO) Read(p []byte) (int, error)  { return 0, nil }
func (s stubIO) Write(p []byte) (int, error) { return s.out.Write(p) }

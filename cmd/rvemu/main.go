// Command rvemu executes a statically linked RV32IMAC ELF executable
// (or, with -S, assembles and runs source directly), optionally
// tracing every instruction's effect, checking ABI conformance, or
// single-stepping interactively.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rv32edu/pkg/abi"
	"rv32edu/pkg/asm"
	"rv32edu/pkg/elfimage"
	"rv32edu/pkg/emu"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		fromSource bool
		trace      bool
		checkABI   bool
		debug      bool
		maxSteps   int
	)

	cmd := &cobra.Command{
		Use:   "rvemu [flags] program",
		Short: "Execute an RV32IMAC ELF executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := loadImage(args[0], fromSource)
			if err != nil {
				return err
			}

			machine := emu.NewMachineFromImage(img)
			var checker emu.EffectChecker
			if checkABI {
				checker = abi.NewChecker()
			}
			tracer := emu.NewTracer(machine, stdIO{}, checker, maxSteps)

			if debug {
				return tracer.RunDebug(os.Stdin, os.Stdout)
			}

			runErr := tracer.Run()
			if trace {
				for _, eff := range tracer.Trace {
					fmt.Println(emu.FormatEffect(eff))
				}
			}

			var exitErr *emu.ExitError
			if errors.As(runErr, &exitErr) {
				os.Exit(int(exitErr.Code))
			}
			return runErr
		},
	}

	cmd.Flags().BoolVarP(&fromSource, "source", "S", false, "treat the argument as assembly source to assemble in-memory")
	cmd.Flags().BoolVarP(&trace, "trace", "t", false, "print every instruction's effect after it runs")
	cmd.Flags().BoolVar(&checkABI, "check-abi", false, "enforce calling-convention invariants while executing")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "drop into the interactive single-step debugger")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 10_000_000, "abort after this many instructions (0 disables the budget)")

	return cmd
}

func loadImage(path string, fromSource bool) (elfimage.Image, error) {
	if !fromSource {
		data, err := os.ReadFile(path)
		if err != nil {
			return elfimage.Image{}, err
		}
		return elfimage.Read(data)
	}

	lines, err := readLines(path)
	if err != nil {
		return elfimage.Image{}, err
	}
	result, err := asm.Assemble(map[string][]string{path: lines}, []string{path})
	if err != nil {
		return elfimage.Image{}, err
	}
	return result.ToImage()
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// stdIO wires the syscall layer's read/write ecalls to the process's
// real stdin/stdout.
type stdIO struct{}

func (stdIO) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdIO) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

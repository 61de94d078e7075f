// Command rvasm assembles RV32IMAC assembly source into a statically
// linked ELF-32 executable.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rv32edu/pkg/asm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "rvasm [flags] file.s [file.s...]",
		Short: "Assemble RV32IMAC source into an ELF-32 executable",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := map[string][]string{}
			var order []string
			for _, path := range args {
				lines, err := readLines(path)
				if err != nil {
					return err
				}
				sources[path] = lines
				order = append(order, path)
			}

			result, err := asm.Assemble(sources, order)
			if err != nil {
				return err
			}
			img, err := result.ToImage()
			if err != nil {
				return err
			}

			return writeELF(img, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "a.out", "output executable path")
	return cmd
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

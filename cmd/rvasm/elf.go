package main

import (
	"os"

	"rv32edu/pkg/elfimage"
)

func writeELF(img elfimage.Image, path string) error {
	bytes, err := elfimage.Write(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bytes, 0o755)
}

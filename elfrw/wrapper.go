package elfrw

import (
	"fmt"
	"io"
	"os"
)

// OpenELF opens an ELF file for reading and in-place section edits. The caller closes it.
func OpenELF(filePath string) (*ELFFile, error) {
	file, err := os.OpenFile(filePath, os.O_RDWR, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	elfFile, err := ReadELF(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read ELF file: %w", err)
	}
	return elfFile, nil
}

func AnalyzeELF(filePath string, w io.Writer) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	elfFile, err := ReadELF(file)
	if err != nil {
		return err
	}

	return elfFile.Analyze(w)
}

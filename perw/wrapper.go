package perw

import (
	"fmt"
	"io"
	"os"
)

// Wrapper functions provide the main API for PE file operations
// These functions handle file opening, operation execution, and file closing

// OpenPE opens a PE file for reading and in-place section edits. The caller closes it.
func OpenPE(filePath string) (*PEFile, error) {
	file, err := os.OpenFile(filePath, os.O_RDWR, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	peFile, err := ReadPE(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read PE file: %w", err)
	}
	return peFile, nil
}

// AnalyzePE analyzes a PE file and prints information about it
func AnalyzePE(filePath string, w io.Writer) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	peFile, err := ReadPE(file)
	if err != nil {
		return err
	}

	return peFile.Analyze(w)
}

package artifact

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gosshield/common"
	"gosshield/elfrw"
	"gosshield/perw"
)

var (
	peMagic  = []byte("MZ")
	elfMagic = []byte("\x7fELF")
)

// OpenImage picks the binary-format collaborator by file magic.
func OpenImage(path string) (common.BinaryImage, error) {
	magic, err := readMagic(path)
	if err != nil {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(magic, peMagic):
		pf, err := perw.OpenPE(path)
		if err != nil {
			return nil, err
		}
		return pf, nil
	case bytes.HasPrefix(magic, elfMagic):
		ef, err := elfrw.OpenELF(path)
		if err != nil {
			return nil, err
		}
		return ef, nil
	}
	return nil, fmt.Errorf("%s: %w", path, common.ErrUnknownFormat)
}

// Inspect writes the analysis report of the binary at path.
func Inspect(path string, w io.Writer) error {
	magic, err := readMagic(path)
	if err != nil {
		return err
	}
	switch {
	case bytes.HasPrefix(magic, peMagic):
		return perw.AnalyzePE(path, w)
	case bytes.HasPrefix(magic, elfMagic):
		return elfrw.AnalyzeELF(path, w)
	}
	return fmt.Errorf("%s: %w", path, common.ErrUnknownFormat)
}

func readMagic(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(f)

	magic := make([]byte, 4)
	n, err := io.ReadFull(f, magic)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return magic[:n], nil
}

package perw

import (
	"debug/pe"
	"os"

	"gosshield/common"
)

const (
	sectionHeaderSize     = 40
	characteristicsOffset = 36
)

type Section struct {
	Name           string
	Offset         int64
	Size           int64
	VirtualAddress uint32
	VirtualSize    uint32
	Index          int
	Flags          uint32
	HeaderOffset   int64 // file offset of the 40-byte section header
	Entropy        float64
	IsExecutable   bool
	IsReadable     bool
	IsWritable     bool
}

type PEFile struct {
	File     *os.File
	PE       *pe.File
	Is64Bit  bool
	FileName string
	Sections []Section
	RawData  []byte

	imageBase     uint64
	entryPoint    uint32
	Machine       string
	TimeDateStamp string
	FileSize      int64

	// Warnings collects non-fatal parser complaints (fallback parsing, odd headers).
	Warnings []string

	table []*common.Section
}

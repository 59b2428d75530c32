package elfrw

import (
	"debug/elf"
	"encoding/binary"
	"os"

	"github.com/yalue/elf_reader"

	"gosshield/common"
)

// Header layout offsets shared by both ELF classes.
const (
	identClass  = 4
	identData   = 5
	typeOffset  = 16
	machOffset  = 18
	entryOffset = 24
)

// headerLayout locates the section header table fields for one ELF class.
type headerLayout struct {
	shoff     int
	shentsize int
	shnum     int
	shstrndx  int

	// offsets inside a single section header
	name, typ, flags, addr, offset, size int
	wide                                 bool
}

var (
	layout64 = headerLayout{shoff: 0x28, shentsize: 58, shnum: 60, shstrndx: 62,
		name: 0, typ: 4, flags: 8, addr: 16, offset: 24, size: 32, wide: true}
	layout32 = headerLayout{shoff: 0x20, shentsize: 46, shnum: 48, shstrndx: 50,
		name: 0, typ: 4, flags: 8, addr: 12, offset: 16, size: 20}
)

type Section struct {
	Name         string
	Offset       uint64
	Size         uint64
	Address      uint64
	Type         uint32
	Flags        uint64 // raw sh_flags
	Index        uint16
	HeaderOffset uint64 // file offset of the section header
	Entropy      float64
	IsExecutable bool
	IsAllocated  bool
	IsWritable   bool
}

type ELFFile struct {
	File     *os.File
	RawData  []byte
	ELF      elf_reader.ELFFile // nil when the raw parser had to take over
	Is64Bit  bool
	FileName string
	Sections []Section

	Machine  string
	FileType string

	// Warnings collects non-fatal parser complaints.
	Warnings []string

	table []*common.Section
}

func (e *ELFFile) layout() headerLayout {
	if e.Is64Bit {
		return layout64
	}
	return layout32
}

// ByteOrder reports the data encoding declared in e_ident.
func (e *ELFFile) ByteOrder() binary.ByteOrder {
	if len(e.RawData) > identData && elf.Data(e.RawData[identData]) == elf.ELFDATA2MSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// IsLittleEndian checks if the ELF file uses little-endian byte order
func (e *ELFFile) IsLittleEndian() bool {
	return e.ByteOrder() == binary.LittleEndian
}

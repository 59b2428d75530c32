package elfrw

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"os"

	"github.com/yalue/elf_reader"

	"gosshield/common"
)

func ReadELF(file *os.File) (*ELFFile, error) {
	rawData, err := readFileData(file)
	if err != nil {
		return nil, err
	}
	if !IsELFFile(rawData) {
		return nil, fmt.Errorf("invalid ELF signature")
	}

	ef := &ELFFile{
		File:     file,
		RawData:  rawData,
		Is64Bit:  elf.Class(rawData[identClass]) == elf.ELFCLASS64,
		FileName: file.Name(),
	}

	elfFile, err := elf_reader.ParseELFFile(rawData)
	if err != nil {
		ef.Warnings = append(ef.Warnings, fmt.Sprintf("non-standard ELF format (%v), using raw parser", err))
	} else {
		ef.ELF = elfFile
	}

	if err := ef.parseSections(); err != nil {
		return nil, fmt.Errorf("sections: %w", err)
	}
	ef.parseHeader()
	return ef, nil
}

func readFileData(file *os.File) ([]byte, error) {
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	rawData := make([]byte, fileInfo.Size())
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to reset file pointer: %w", err)
	}
	if _, err := io.ReadFull(file, rawData); err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}
	return rawData, nil
}

func (e *ELFFile) parseHeader() {
	e.Machine = machineName(elf.Machine(e.readUint16(machOffset)))
	if e.ELF != nil {
		e.FileType = fileTypeName(uint16(e.ELF.GetFileType()))
		return
	}
	e.FileType = fileTypeName(e.readUint16(typeOffset))
}

// EntryPoint returns e_entry.
func (e *ELFFile) EntryPoint() uint64 {
	if e.Is64Bit {
		return e.readUint64(entryOffset)
	}
	return uint64(e.readUint32(entryOffset))
}

// parseSections walks the raw section header table and, when elf_reader
// accepted the image, takes names and permission flags from it.
func (e *ELFFile) parseSections() error {
	l := e.layout()
	var shoff uint64
	if l.wide {
		shoff = e.readUint64(uint64(l.shoff))
	} else {
		shoff = uint64(e.readUint32(uint64(l.shoff)))
	}
	entsize := uint64(e.readUint16(uint64(l.shentsize)))
	count := e.readUint16(uint64(l.shnum))
	if count == 0 || shoff == 0 {
		e.Warnings = append(e.Warnings, "no section header table")
		return nil
	}
	if _, ok := e.span(shoff, uint64(count)*entsize); entsize == 0 || !ok {
		return fmt.Errorf("section headers extend beyond file")
	}

	e.Sections = make([]Section, 0, count)
	for i := uint16(0); i < count; i++ {
		e.Sections = append(e.Sections, e.rawSection(i, shoff+uint64(i)*entsize))
	}
	e.resolveRawNames()

	if e.ELF != nil {
		for i := range e.Sections {
			e.applyReaderMetadata(&e.Sections[i])
		}
	}
	for i := range e.Sections {
		e.fillSectionEntropy(&e.Sections[i])
	}
	return nil
}

func (e *ELFFile) rawSection(index uint16, headerOffset uint64) Section {
	l := e.layout()
	field := func(off int) uint64 {
		if l.wide {
			return e.readUint64(headerOffset + uint64(off))
		}
		return uint64(e.readUint32(headerOffset + uint64(off)))
	}
	flags := field(l.flags)
	return Section{
		Offset:       field(l.offset),
		Size:         field(l.size),
		Address:      field(l.addr),
		Type:         e.readUint32(headerOffset + uint64(l.typ)),
		Flags:        flags,
		Index:        index,
		HeaderOffset: headerOffset,
		IsExecutable: flags&uint64(elf.SHF_EXECINSTR) != 0,
		IsAllocated:  flags&uint64(elf.SHF_ALLOC) != 0,
		IsWritable:   flags&uint64(elf.SHF_WRITE) != 0,
	}
}

// resolveRawNames looks section names up in the section name string table.
func (e *ELFFile) resolveRawNames() {
	strndx := int(e.readUint16(uint64(e.layout().shstrndx)))
	if strndx >= len(e.Sections) {
		return
	}
	strtab := e.Sections[strndx]
	names, ok := e.span(strtab.Offset, strtab.Size)
	if !ok {
		e.Warnings = append(e.Warnings, "section name table lies outside the file")
		return
	}

	l := e.layout()
	for i := range e.Sections {
		idx := uint64(e.readUint32(e.Sections[i].HeaderOffset + uint64(l.name)))
		if idx >= uint64(len(names)) {
			continue
		}
		name := names[idx:]
		if end := bytes.IndexByte(name, 0); end >= 0 {
			name = name[:end]
		}
		e.Sections[i].Name = string(name)
	}
}

func (e *ELFFile) applyReaderMetadata(s *Section) {
	if name, err := e.ELF.GetSectionName(s.Index); err == nil && name != "" {
		s.Name = name
	}
	header, err := e.ELF.GetSectionHeader(s.Index)
	if err != nil {
		return
	}
	flags := header.GetFlags()
	s.IsExecutable = flags.Executable()
	s.IsAllocated = flags.Allocated()
	s.IsWritable = flags.Writable()
}

func (e *ELFFile) fillSectionEntropy(s *Section) {
	if s.Type == uint32(elf.SHT_NOBITS) || s.Size == 0 {
		return
	}
	if data, ok := e.span(s.Offset, s.Size); ok {
		s.Entropy = common.CalculateEntropy(data)
	}
}

func machineName(m elf.Machine) string {
	switch m {
	case elf.EM_X86_64:
		return "x86-64"
	case elf.EM_386:
		return "i386"
	case elf.EM_AARCH64:
		return "aarch64"
	case elf.EM_ARM:
		return "arm"
	}
	return fmt.Sprintf("Unknown (0x%X)", uint16(m))
}

func fileTypeName(fileType uint16) string {
	switch fileType {
	case 1:
		return "Relocatable file"
	case 2:
		return "Executable file"
	case 3:
		return "Shared object file"
	case 4:
		return "Core file"
	default:
		return fmt.Sprintf("Unknown (%d)", fileType)
	}
}

func sectionTypeName(sectionType uint32) string {
	switch elf.SectionType(sectionType) {
	case elf.SHT_NULL:
		return "NULL"
	case elf.SHT_PROGBITS:
		return "PROGBITS"
	case elf.SHT_SYMTAB:
		return "SYMTAB"
	case elf.SHT_STRTAB:
		return "STRTAB"
	case elf.SHT_RELA:
		return "RELA"
	case elf.SHT_DYNAMIC:
		return "DYNAMIC"
	case elf.SHT_NOTE:
		return "NOTE"
	case elf.SHT_NOBITS:
		return "NOBITS"
	case elf.SHT_REL:
		return "REL"
	case elf.SHT_DYNSYM:
		return "DYNSYM"
	default:
		return fmt.Sprintf("0x%X", sectionType)
	}
}

func (e *ELFFile) Close() error {
	if e.File == nil {
		return nil
	}
	if err := e.File.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return nil
}

// IsELFFile reports whether data starts with the ELF magic and a known class.
func IsELFFile(data []byte) bool {
	if len(data) < 64 || !bytes.HasPrefix(data, []byte(elf.ELFMAG)) {
		return false
	}
	c := elf.Class(data[identClass])
	return c == elf.ELFCLASS32 || c == elf.ELFCLASS64
}

package perw

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"

	"gosshield/common"
)

func ReadPE(file *os.File) (*PEFile, error) {
	pf, err := newPEFileFromDisk(file)
	if err != nil {
		return nil, err
	}
	if err := pf.parseHeaders(); err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}
	if err := pf.parseSectionsAtomic(); err != nil {
		return nil, fmt.Errorf("sections: %w", err)
	}
	return pf, nil
}

func newPEFileFromDisk(file *os.File) (*PEFile, error) {
	rawData, err := readFileData(file)
	if err != nil {
		return nil, err
	}
	if err := validateDOSHeader(rawData); err != nil {
		return nil, err
	}

	pf := &PEFile{
		File:     file,
		FileName: file.Name(),
		RawData:  rawData,
		FileSize: int64(len(rawData)),
	}

	peLibFile, err := pe.NewFile(bytes.NewReader(rawData))
	if err != nil {
		// Packed or hand-edited images still carry usable raw headers.
		pf.Warnings = append(pf.Warnings, fmt.Sprintf("non-standard PE format (%v), using raw parser", err))
		if off := peHeaderOffset(rawData); off > 0 && off+26 < len(rawData) {
			pf.Is64Bit = binary.LittleEndian.Uint16(rawData[off+24:off+26]) == 0x20b
		}
		return pf, nil
	}

	pf.PE = peLibFile
	pf.Is64Bit = isPE64Bit(peLibFile)
	return pf, nil
}

func readFileData(file *os.File) ([]byte, error) {
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	data := make([]byte, fileInfo.Size())
	if _, err := file.ReadAt(data, 0); err != nil {
		return nil, fmt.Errorf("failed to read file data: %w", err)
	}

	return data, nil
}

func isPE64Bit(peFile *pe.File) bool {
	return peFile.FileHeader.Machine == pe.IMAGE_FILE_MACHINE_AMD64
}

func validateDOSHeader(data []byte) error {
	if len(data) < 64 {
		return fmt.Errorf("file too small to be a valid PE file")
	}
	if data[0] != 'M' || data[1] != 'Z' {
		return fmt.Errorf("invalid DOS header signature")
	}
	return nil
}

// peHeaderOffset returns e_lfanew, or -1 when it does not point at a PE signature.
func peHeaderOffset(data []byte) int {
	if len(data) < 64 {
		return -1
	}
	off := int(binary.LittleEndian.Uint32(data[60:64]))
	if off <= 0 || off+24 > len(data) || string(data[off:off+4]) != "PE\x00\x00" {
		return -1
	}
	return off
}

// sectionTableOffset returns the file offset of the first section header and the header count.
func sectionTableOffset(data []byte) (int, int, error) {
	peOffset := peHeaderOffset(data)
	if peOffset < 0 {
		return 0, 0, fmt.Errorf("invalid PE signature")
	}
	numSections := int(binary.LittleEndian.Uint16(data[peOffset+6 : peOffset+8]))
	optHeaderSize := int(binary.LittleEndian.Uint16(data[peOffset+20 : peOffset+22]))
	offset := peOffset + 24 + optHeaderSize
	if offset+numSections*sectionHeaderSize > len(data) {
		return 0, 0, fmt.Errorf("section headers extend beyond file")
	}
	return offset, numSections, nil
}

func (p *PEFile) parseHeaders() error {
	if p.PE == nil {
		return p.parseBasicHeadersFromRaw()
	}

	switch oh := p.PE.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		p.imageBase = uint64(oh.ImageBase)
		p.entryPoint = oh.AddressOfEntryPoint
	case *pe.OptionalHeader64:
		p.imageBase = oh.ImageBase
		p.entryPoint = oh.AddressOfEntryPoint
	case nil:
		p.Warnings = append(p.Warnings, "optional header unavailable")
	default:
		return fmt.Errorf("unsupported optional header type")
	}

	p.Machine = machineName(p.PE.FileHeader.Machine)
	p.TimeDateStamp = formatTimestamp(p.PE.FileHeader.TimeDateStamp)
	return nil
}

// parseBasicHeadersFromRaw reads the entry point and image base straight from the optional header.
func (p *PEFile) parseBasicHeadersFromRaw() error {
	peOffset := peHeaderOffset(p.RawData)
	if peOffset < 0 {
		return fmt.Errorf("invalid PE signature")
	}
	p.Machine = machineName(binary.LittleEndian.Uint16(p.RawData[peOffset+4 : peOffset+6]))
	p.TimeDateStamp = formatTimestamp(binary.LittleEndian.Uint32(p.RawData[peOffset+8 : peOffset+12]))

	optHeaderSize := int(binary.LittleEndian.Uint16(p.RawData[peOffset+20 : peOffset+22]))
	opt := peOffset + 24
	if optHeaderSize < 32 || opt+32 > len(p.RawData) {
		p.Warnings = append(p.Warnings, "optional header truncated")
		return nil
	}

	p.entryPoint = binary.LittleEndian.Uint32(p.RawData[opt+16 : opt+20])
	switch binary.LittleEndian.Uint16(p.RawData[opt : opt+2]) {
	case 0x10b:
		p.imageBase = uint64(binary.LittleEndian.Uint32(p.RawData[opt+28 : opt+32]))
	case 0x20b:
		p.imageBase = binary.LittleEndian.Uint64(p.RawData[opt+24 : opt+32])
	}
	return nil
}

func (p *PEFile) parseSectionsAtomic() error {
	p.Sections = make([]Section, 0)

	tableOffset, count, err := sectionTableOffset(p.RawData)
	if err != nil {
		return err
	}

	if p.PE == nil || len(p.PE.Sections) != count {
		return p.parseBasicSectionsFromRaw(tableOffset, count)
	}

	for i, s := range p.PE.Sections {
		section := Section{
			Name:           strings.TrimRight(s.Name, "\x00"),
			Offset:         int64(s.Offset),
			Size:           int64(s.Size),
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
			Index:          i,
			Flags:          s.Characteristics,
			HeaderOffset:   int64(tableOffset + i*sectionHeaderSize),
			IsExecutable:   (s.Characteristics & pe.IMAGE_SCN_MEM_EXECUTE) != 0,
			IsReadable:     (s.Characteristics & pe.IMAGE_SCN_MEM_READ) != 0,
			IsWritable:     (s.Characteristics & pe.IMAGE_SCN_MEM_WRITE) != 0,
		}
		p.fillSectionEntropy(&section)
		p.Sections = append(p.Sections, section)
	}
	return nil
}

// parseBasicSectionsFromRaw walks the section headers without debug/pe.
func (p *PEFile) parseBasicSectionsFromRaw(tableOffset, count int) error {
	for i := range count {
		offset := tableOffset + i*sectionHeaderSize
		h := p.RawData[offset : offset+sectionHeaderSize]

		characteristics := binary.LittleEndian.Uint32(h[characteristicsOffset:])
		section := Section{
			Name:           sanitizeSectionName(h[:8], i),
			VirtualSize:    binary.LittleEndian.Uint32(h[8:]),
			VirtualAddress: binary.LittleEndian.Uint32(h[12:]),
			Size:           int64(binary.LittleEndian.Uint32(h[16:])),
			Offset:         int64(binary.LittleEndian.Uint32(h[20:])),
			Index:          i,
			Flags:          characteristics,
			HeaderOffset:   int64(offset),
			IsExecutable:   (characteristics & pe.IMAGE_SCN_MEM_EXECUTE) != 0,
			IsReadable:     (characteristics & pe.IMAGE_SCN_MEM_READ) != 0,
			IsWritable:     (characteristics & pe.IMAGE_SCN_MEM_WRITE) != 0,
		}
		p.fillSectionEntropy(&section)
		p.Sections = append(p.Sections, section)
	}
	return nil
}

func (p *PEFile) fillSectionEntropy(section *Section) {
	if section.Size > 0 && section.Offset+section.Size <= int64(len(p.RawData)) {
		section.Entropy = common.CalculateEntropy(p.RawData[section.Offset : section.Offset+section.Size])
	}
}

func sanitizeSectionName(nameBytes []byte, index int) string {
	name := strings.TrimRight(string(nameBytes), "\x00")
	for _, r := range name {
		if r < 32 || r > 126 {
			return fmt.Sprintf("<mangled_%d>", index)
		}
	}
	if name == "" {
		return fmt.Sprintf("<stripped_%d>", index)
	}
	return name
}

func machineName(machine uint16) string {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return "i386"
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "amd64"
	case pe.IMAGE_FILE_MACHINE_ARM:
		return "arm"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "arm64"
	}
	return fmt.Sprintf("Unknown (0x%X)", machine)
}

func formatTimestamp(ts uint32) string {
	if ts == 0 {
		return "Not set"
	}
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

func (p *PEFile) ImageBase() uint64 {
	return p.imageBase
}

func (p *PEFile) EntryPoint() uint32 {
	return p.entryPoint
}

func (p *PEFile) Close() error {
	var err error
	if p.PE != nil {
		if cerr := p.PE.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close PE: %w", cerr))
		}
	}
	if p.File != nil {
		if cerr := p.File.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("failed to close file: %w", cerr))
		}
	}
	return err
}

// IsPEFile reports whether data starts with an MZ stub pointing at a PE signature.
func IsPEFile(data []byte) bool {
	return validateDOSHeader(data) == nil && peHeaderOffset(data) > 0
}

package perw

import (
	"fmt"

	"gosshield/common"
)

func (p *PEFile) Format() string { return "PE" }

// SectionTable exposes the sections as editable format-neutral entries.
func (p *PEFile) SectionTable() []*common.Section {
	if p.table != nil {
		return p.table
	}
	p.table = make([]*common.Section, len(p.Sections))
	for i, s := range p.Sections {
		p.table[i] = &common.Section{
			Name:       s.Name,
			Index:      s.Index,
			Offset:     s.Offset,
			Size:       s.Size,
			Address:    p.imageBase + uint64(s.VirtualAddress),
			Entropy:    s.Entropy,
			Readable:   s.IsReadable,
			Writable:   s.IsWritable,
			Executable: s.IsExecutable,
		}
	}
	return p.table
}

// Commit patches every dirty section header and writes the image back.
func (p *PEFile) Commit() error {
	changed := 0
	for i, entry := range p.table {
		if !entry.Dirty() {
			continue
		}
		if err := p.setSectionWritable(i, entry.Writable); err != nil {
			return err
		}
		changed++
	}
	if changed == 0 {
		return nil
	}
	if err := p.Save(); err != nil {
		return err
	}
	for _, entry := range p.table {
		entry.Clean()
	}
	return nil
}

// EntryCode returns up to limit bytes starting at the entry point and the x86 decode mode.
func (p *PEFile) EntryCode(limit int) ([]byte, int, error) {
	mode := 32
	if p.Is64Bit {
		mode = 64
	}
	for _, s := range p.Sections {
		size := s.VirtualSize
		if size == 0 {
			size = uint32(s.Size)
		}
		if p.entryPoint < s.VirtualAddress || p.entryPoint-s.VirtualAddress >= size {
			continue
		}
		start := s.Offset + int64(p.entryPoint-s.VirtualAddress)
		end := s.Offset + s.Size
		if limit > 0 && start+int64(limit) < end {
			end = start + int64(limit)
		}
		if start >= end || end > int64(len(p.RawData)) {
			return nil, mode, fmt.Errorf("entry point 0x%X has no file backing", p.entryPoint)
		}
		return p.RawData[start:end], mode, nil
	}
	return nil, mode, fmt.Errorf("entry point 0x%X is outside every section", p.entryPoint)
}

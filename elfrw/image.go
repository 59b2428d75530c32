package elfrw

import (
	"debug/elf"
	"fmt"

	"gosshield/common"
)

func (e *ELFFile) Format() string { return "ELF" }

// SectionTable exposes the sections as editable format-neutral entries.
// The NULL section at index zero is left out.
func (e *ELFFile) SectionTable() []*common.Section {
	if e.table != nil {
		return e.table
	}
	e.table = make([]*common.Section, 0, len(e.Sections))
	for i, s := range e.Sections {
		if s.Type == uint32(elf.SHT_NULL) {
			continue
		}
		e.table = append(e.table, &common.Section{
			Name:       s.Name,
			Index:      i,
			Offset:     int64(s.Offset),
			Size:       int64(s.Size),
			Address:    s.Address,
			Entropy:    s.Entropy,
			Readable:   s.IsAllocated,
			Writable:   s.IsWritable,
			Executable: s.IsExecutable,
		})
	}
	return e.table
}

// Commit patches every dirty section header and writes the image back.
func (e *ELFFile) Commit() error {
	changed := 0
	for _, entry := range e.table {
		if !entry.Dirty() {
			continue
		}
		if err := e.setSectionWritable(entry.Index, entry.Writable); err != nil {
			return err
		}
		changed++
	}
	if changed == 0 {
		return nil
	}
	if err := e.Save(); err != nil {
		return err
	}
	for _, entry := range e.table {
		entry.Clean()
	}
	return nil
}

// EntryCode returns up to limit bytes starting at e_entry and the x86 decode mode.
func (e *ELFFile) EntryCode(limit int) ([]byte, int, error) {
	var mode int
	switch elf.Machine(e.readUint16(machOffset)) {
	case elf.EM_X86_64:
		mode = 64
	case elf.EM_386:
		mode = 32
	default:
		return nil, 0, fmt.Errorf("entry point disassembly not supported for %s", e.Machine)
	}

	entry := e.EntryPoint()
	for _, s := range e.Sections {
		if s.Type == uint32(elf.SHT_NOBITS) || !s.IsAllocated {
			continue
		}
		if entry < s.Address || entry-s.Address >= s.Size {
			continue
		}
		data, ok := e.span(s.Offset, s.Size)
		if !ok {
			return nil, mode, fmt.Errorf("entry point 0x%X has no file backing", entry)
		}
		code := data[entry-s.Address:]
		if limit > 0 && len(code) > limit {
			code = code[:limit]
		}
		return code, mode, nil
	}
	return nil, mode, fmt.Errorf("entry point 0x%X is outside every section", entry)
}

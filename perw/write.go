package perw

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
)

// WriteAtOffset writes a value to rawData at a specific offset, ensuring bounds and endianness.
func WriteAtOffset(rawData []byte, offset int64, value interface{}) error {
	size := 0
	switch v := value.(type) {
	case uint32:
		size = 4
		if offset < 0 || int(offset)+size > len(rawData) {
			return fmt.Errorf("offset out of range: %d", offset)
		}
		binary.LittleEndian.PutUint32(rawData[int(offset):int(offset)+size], v)
	case uint16:
		size = 2
		if offset < 0 || int(offset)+size > len(rawData) {
			return fmt.Errorf("offset out of range: %d", offset)
		}
		binary.LittleEndian.PutUint16(rawData[int(offset):int(offset)+size], v)
	default:
		return fmt.Errorf("unsupported type: %T", value)
	}
	return nil
}

// setSectionWritable rewrites the characteristics field of one section header in RawData.
func (p *PEFile) setSectionWritable(index int, writable bool) error {
	if index < 0 || index >= len(p.Sections) {
		return fmt.Errorf("section index %d out of range", index)
	}
	s := &p.Sections[index]
	flags := s.Flags &^ uint32(pe.IMAGE_SCN_MEM_WRITE)
	if writable {
		flags |= pe.IMAGE_SCN_MEM_WRITE
	}
	if err := WriteAtOffset(p.RawData, s.HeaderOffset+characteristicsOffset, flags); err != nil {
		return fmt.Errorf("failed to patch characteristics of %s: %w", s.Name, err)
	}
	s.Flags = flags
	s.IsWritable = writable
	return nil
}

// Save writes RawData to the file and truncates it to the same length
func (p *PEFile) Save() error {
	if p.File == nil {
		return fmt.Errorf("invalid file reference")
	}
	if err := p.writeRawDataAtomic(); err != nil {
		return err
	}
	return p.truncateFileAtomic()
}

// writeRawDataAtomic writes RawData to the file from the start
func (p *PEFile) writeRawDataAtomic() error {
	if _, err := p.File.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to reposition file: %w", err)
	}
	if _, err := p.File.Write(p.RawData); err != nil {
		return fmt.Errorf("failed to write changes to disk: %w", err)
	}
	return nil
}

// truncateFileAtomic truncates the file to the length of RawData
func (p *PEFile) truncateFileAtomic() error {
	if err := p.File.Truncate(int64(len(p.RawData))); err != nil {
		return fmt.Errorf("failed to resize file: %w", err)
	}
	return nil
}

package elfrw

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

// WriteAtOffset writes a value to rawData at a specific offset, ensuring bounds and endianness.
func WriteAtOffset(rawData []byte, offset uint64, endian binary.ByteOrder, value interface{}) error {
	var size int
	switch value.(type) {
	case uint16:
		size = 2
	case uint32:
		size = 4
	case uint64:
		size = 8
	default:
		return fmt.Errorf("unsupported type: %T", value)
	}

	if offset > uint64(len(rawData)) || uint64(size) > uint64(len(rawData))-offset {
		return fmt.Errorf("write would exceed buffer limits: offset %d + size %d > length %d",
			offset, size, len(rawData))
	}

	switch v := value.(type) {
	case uint16:
		endian.PutUint16(rawData[offset:], v)
	case uint32:
		endian.PutUint32(rawData[offset:], v)
	case uint64:
		endian.PutUint64(rawData[offset:], v)
	}
	return nil
}

// span returns RawData[offset:offset+size], or false when the range does not
// lie inside the file. Offsets come from untrusted headers and may overflow.
func (e *ELFFile) span(offset, size uint64) ([]byte, bool) {
	n := uint64(len(e.RawData))
	if offset > n || size > n-offset {
		return nil, false
	}
	return e.RawData[offset : offset+size], true
}

func (e *ELFFile) readUint16(offset uint64) uint16 {
	b, ok := e.span(offset, 2)
	if !ok {
		return 0
	}
	return e.ByteOrder().Uint16(b)
}

func (e *ELFFile) readUint32(offset uint64) uint32 {
	b, ok := e.span(offset, 4)
	if !ok {
		return 0
	}
	return e.ByteOrder().Uint32(b)
}

func (e *ELFFile) readUint64(offset uint64) uint64 {
	b, ok := e.span(offset, 8)
	if !ok {
		return 0
	}
	return e.ByteOrder().Uint64(b)
}

// setSectionWritable rewrites sh_flags of one section header in RawData.
func (e *ELFFile) setSectionWritable(index int, writable bool) error {
	if index < 0 || index >= len(e.Sections) {
		return fmt.Errorf("section index %d out of range", index)
	}
	s := &e.Sections[index]
	flags := s.Flags &^ uint64(elf.SHF_WRITE)
	if writable {
		flags |= uint64(elf.SHF_WRITE)
	}

	at := s.HeaderOffset + uint64(e.layout().flags)
	var err error
	if e.Is64Bit {
		err = WriteAtOffset(e.RawData, at, e.ByteOrder(), flags)
	} else {
		err = WriteAtOffset(e.RawData, at, e.ByteOrder(), uint32(flags))
	}
	if err != nil {
		return fmt.Errorf("failed to patch flags of %s: %w", s.Name, err)
	}
	s.Flags = flags
	s.IsWritable = writable
	return nil
}

// Save writes RawData back over the file and truncates it to the same length
func (e *ELFFile) Save() error {
	if e.File == nil {
		return fmt.Errorf("invalid file reference")
	}
	if _, err := e.File.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to file start: %w", err)
	}
	if _, err := e.File.Write(e.RawData); err != nil {
		return fmt.Errorf("failed to write file data: %w", err)
	}
	if err := e.File.Truncate(int64(len(e.RawData))); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}
	return nil
}

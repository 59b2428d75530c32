package common

// Section is the format-neutral view of one section header.
type Section struct {
	Name       string
	Index      int
	Offset     int64
	Size       int64
	Address    uint64
	Entropy    float64
	Readable   bool
	Writable   bool
	Executable bool

	dirty bool
}

// ClearWritable drops the writable permission. It is a no-op on read-only sections.
func (s *Section) ClearWritable() bool {
	if !s.Writable {
		return false
	}
	s.Writable = false
	s.dirty = true
	return true
}

// Dirty reports whether the section was modified since it was read.
func (s *Section) Dirty() bool { return s.dirty }

// Perm renders the permissions as a three letter mask (rwx).
func (s *Section) Perm() string {
	b := []byte("---")
	if s.Readable {
		b[0] = 'r'
	}
	if s.Writable {
		b[1] = 'w'
	}
	if s.Executable {
		b[2] = 'x'
	}
	return string(b)
}

// Clean marks the section as persisted.
func (s *Section) Clean() { s.dirty = false }

// BinaryImage is an opened executable whose section metadata can be edited.
// Commit persists every dirty section back to disk.
type BinaryImage interface {
	Format() string
	SectionTable() []*Section
	EntryCode(limit int) (code []byte, mode int, err error)
	Commit() error
	Close() error
}

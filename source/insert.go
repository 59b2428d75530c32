package source

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// textLines splits inserted text into lines; a single trailing newline does
// not start another line.
func textLines(text string) []string {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// InsertLine writes text so that its first line becomes line atLine, pushing
// the original line atLine (and everything after it) down. atLine may be
// LineCount()+1 to append. Declarations at or after atLine shift by the number
// of inserted lines once the file has been replaced.
func (m *Model) InsertLine(text string, atLine int) error {
	if atLine < 1 || atLine > m.lines+1 {
		return fmt.Errorf("insert at line %d out of range [1, %d]", atLine, m.lines+1)
	}
	inserted := textLines(text)

	written, err := m.rewrite(inserted, atLine)
	if err != nil {
		return err
	}

	k := len(inserted)
	for _, d := range m.includes {
		if d.Line >= atLine {
			d.Line += k
		}
	}
	for _, d := range m.functions {
		if d.Line >= atLine {
			d.Line += k
		}
	}
	m.lines = written
	return nil
}

// rewrite streams the file into a scratch sibling with the new lines spliced in
// and renames it over the original. It returns the new line count.
func (m *Model) rewrite(inserted []string, atLine int) (int, error) {
	src, err := os.Open(m.path)
	if err != nil {
		return 0, fmt.Errorf("failed to open source %s: %w", m.path, err)
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(src)

	info, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to get file info: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), "."+filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create scratch file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	eol := "\n"
	lineNo := 0
	emit := func() error {
		for _, l := range inserted {
			if _, err := w.WriteString(l + eol); err != nil {
				return err
			}
		}
		return nil
	}

	var last string
	err = eachLine(src, func(line string) error {
		lineNo++
		if lineNo == 1 && strings.HasSuffix(line, "\r\n") {
			eol = "\r\n"
		}
		if lineNo == atLine {
			if err := emit(); err != nil {
				return err
			}
		}
		last = line
		_, err := w.WriteString(line)
		return err
	})
	if err == nil && atLine == lineNo+1 {
		if last != "" && !strings.HasSuffix(last, "\n") {
			_, err = w.WriteString(eol)
		}
		if err == nil {
			err = emit()
		}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite %s: %w", m.path, err)
	}
	if lineNo != m.lines {
		return 0, fmt.Errorf("source %s changed on disk: %d lines, model tracks %d", m.path, lineNo, m.lines)
	}

	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush scratch file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close scratch file: %w", err)
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("failed to set mode on scratch file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		return 0, fmt.Errorf("failed to replace %s: %w", m.path, err)
	}
	committed = true
	return lineNo + len(inserted), nil
}

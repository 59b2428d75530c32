package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var (
	includePattern  = regexp.MustCompile(`(?i)^#include *["<](.*)[">]`)
	functionPattern = regexp.MustCompile(`(?i)^(?:[a-z_][\w \t*]*?[\s*])?([a-z_]\w*)\s*\([^()]*\)\s*\{`)
)

var keywords = map[string]bool{
	"if": true, "else": true, "for": true, "while": true, "do": true,
	"switch": true, "return": true, "sizeof": true, "case": true,
}

// Declaration is an include or a function definition and the 1-based line it starts on.
type Declaration struct {
	Name string
	Line int
}

// Model tracks the include and function declarations of one C source file
// and keeps their line numbers in sync with the file as lines are inserted.
type Model struct {
	path      string
	includes  []*Declaration
	functions []*Declaration
	lines     int
}

// MatchInclude returns the header named by an #include line.
func MatchInclude(line string) (string, bool) {
	m := includePattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// MatchFunction returns the name of a function whose definition opens on line.
func MatchFunction(line string) (string, bool) {
	m := functionPattern.FindStringSubmatch(line)
	if m == nil || keywords[strings.ToLower(m[1])] {
		return "", false
	}
	return m[1], true
}

// Parse scans path once and records every include and function declaration.
func Parse(path string) (*Model, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source %s: %w", path, err)
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	m := &Model{path: path}
	lineNo := 0
	err = eachLine(file, func(line string) error {
		lineNo++
		text := strings.TrimRight(line, "\r\n")
		if text == "" {
			return nil
		}
		if name, ok := MatchInclude(text); ok {
			m.includes = append(m.includes, &Declaration{Name: name, Line: lineNo})
		}
		if name, ok := MatchFunction(text); ok {
			m.functions = append(m.functions, &Declaration{Name: name, Line: lineNo})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read source %s: %w", path, err)
	}
	m.lines = lineNo
	return m, nil
}

// eachLine calls fn with every line of r, terminator included.
func eachLine(r io.Reader, fn func(string) error) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (m *Model) Path() string { return m.path }

// LineCount is the number of lines in the file as last written by the model.
func (m *Model) LineCount() int { return m.lines }

// Functions returns the function declarations in file order.
func (m *Model) Functions() []Declaration { return snapshot(m.functions) }

// Includes returns the include declarations in file order.
func (m *Model) Includes() []Declaration { return snapshot(m.includes) }

func (m *Model) FunctionCount() int { return len(m.functions) }

func snapshot(decls []*Declaration) []Declaration {
	out := make([]Declaration, len(decls))
	for i, d := range decls {
		out[i] = *d
	}
	return out
}

// ExistsInclude reports whether a header with exactly this name is included.
func (m *Model) ExistsInclude(name string) bool {
	for _, d := range m.includes {
		if d.Name == name {
			return true
		}
	}
	return false
}

// FunctionLine returns the line of the first function declared as name.
func (m *Model) FunctionLine(name string) (int, bool) {
	for _, d := range m.functions {
		if d.Name == name {
			return d.Line, true
		}
	}
	return -1, false
}

// LastIncludeLine returns the line of the last include, or 1 when there is none.
func (m *Model) LastIncludeLine() int {
	if len(m.includes) == 0 {
		return 1
	}
	return m.includes[len(m.includes)-1].Line
}

// AddFunction registers a function the caller wrote into the file.
func (m *Model) AddFunction(name string, line int) {
	m.functions = append(m.functions, &Declaration{Name: name, Line: line})
	sortDecls(m.functions)
}

// AddInclude registers an include the caller wrote into the file.
func (m *Model) AddInclude(name string, line int) {
	m.includes = append(m.includes, &Declaration{Name: name, Line: line})
	sortDecls(m.includes)
}

// sortDecls keeps declarations in file order; registration order breaks ties.
func sortDecls(decls []*Declaration) {
	for i := len(decls) - 1; i > 0 && decls[i].Line < decls[i-1].Line; i-- {
		decls[i], decls[i-1] = decls[i-1], decls[i]
	}
}

package common

import (
	"fmt"
	"runtime"
	"strings"
)

// Stage is a position in the compile -> assemble -> link chain.
type Stage int

const (
	StageSource Stage = iota
	StageAssembly
	StageObject
	StageExecutable
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageSource, StageAssembly, StageObject, StageExecutable}

func (s Stage) String() string {
	switch s {
	case StageSource:
		return "source"
	case StageAssembly:
		return "assembly"
	case StageObject:
		return "object"
	case StageExecutable:
		return "executable"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Extension returns the file extension bound to the stage.
func (s Stage) Extension() string {
	switch s {
	case StageSource:
		return ".c"
	case StageAssembly:
		return ".s"
	case StageObject:
		return ".o"
	case StageExecutable:
		return ".exe"
	}
	return ""
}

// ParseStage accepts a stage name ("object") or its extension (".o").
func ParseStage(value string) (Stage, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, s := range Stages {
		if v == s.String() || v == s.Extension() || "."+v == s.Extension() {
			return s, nil
		}
	}
	switch v {
	case "asm":
		return StageAssembly, nil
	case "obj":
		return StageObject, nil
	case "bin":
		return StageExecutable, nil
	}
	return 0, fmt.Errorf("unknown stage %q", value)
}

// StageForExtension maps a file extension to its stage. Matching is exact:
// ".C" is C++ to gcc and is not a source artifact.
func StageForExtension(ext string) (Stage, bool) {
	for _, s := range Stages {
		if s.Extension() == ext {
			return s, true
		}
	}
	return 0, false
}

// OS is the target operating system that gates OS-specific techniques.
type OS string

const (
	Windows OS = "windows"
	Linux   OS = "linux"
	Mac     OS = "mac"
	Other   OS = "other"
)

// ParseOS normalizes user and runtime.GOOS spellings.
func ParseOS(value string) OS {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "windows", "win", "win32", "win64":
		return Windows
	case "linux":
		return Linux
	case "mac", "macos", "darwin", "osx":
		return Mac
	}
	return Other
}

// HostOS returns the OS the binary is running on.
func HostOS() OS {
	return ParseOS(runtime.GOOS)
}

// Technique identifies one anti-analysis defense.
type Technique string

const (
	EncryptionWrapper           Technique = "encryption-wrapper"
	StripSymbols                Technique = "strip-symbols"
	HeaderEntrypoint            Technique = "header-entrypoint"
	SoftwareBreakpointDetection Technique = "breakpoint-detection"
	PtraceDenyAttach            Technique = "ptrace-deny-attach"
	CheckRemoteDebugger         Technique = "check-remote-debugger"
)

// Techniques lists every technique in application order.
var Techniques = []Technique{
	EncryptionWrapper,
	StripSymbols,
	HeaderEntrypoint,
	SoftwareBreakpointDetection,
	PtraceDenyAttach,
	CheckRemoteDebugger,
}

type techniqueInfo struct {
	tag   string
	title string
}

var techniqueInfos = map[Technique]techniqueInfo{
	EncryptionWrapper:           {"EW", "Encryption Wrapper"},
	StripSymbols:                {"SRS", "Strip Symbols"},
	HeaderEntrypoint:            {"HE", "Header Entrypoint"},
	SoftwareBreakpointDetection: {"SBD", "Software Breakpoint Detection"},
	PtraceDenyAttach:            {"PTDA", "Ptrace Deny Attach"},
	CheckRemoteDebugger:         {"CRDP", "Check Remote Debugger Present"},
}

// Tag returns the short upper-case tag (EW, SRS, ...).
func (t Technique) Tag() string {
	if info, ok := techniqueInfos[t]; ok {
		return info.tag
	}
	return strings.ToUpper(string(t))
}

// Title returns the human readable name.
func (t Technique) Title() string {
	if info, ok := techniqueInfos[t]; ok {
		return info.title
	}
	return string(t)
}

// SourceLevel reports whether the technique patches C source.
func (t Technique) SourceLevel() bool {
	switch t {
	case SoftwareBreakpointDetection, PtraceDenyAttach, CheckRemoteDebugger:
		return true
	}
	return false
}

// ParseTechnique accepts the canonical name or the short tag.
func ParseTechnique(value string) (Technique, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, t := range Techniques {
		if v == string(t) || v == strings.ToLower(t.Tag()) {
			return t, nil
		}
	}
	if v == "ptdaw" {
		return PtraceDenyAttach, nil
	}
	return "", fmt.Errorf("unknown technique %q", value)
}

// Selection records which techniques the user asked for.
type Selection map[Technique]bool

// NewSelection builds a selection from technique names or tags.
func NewSelection(names ...string) (Selection, error) {
	sel := Selection{}
	for _, name := range names {
		t, err := ParseTechnique(name)
		if err != nil {
			return nil, err
		}
		sel[t] = true
	}
	return sel, nil
}

// Selected returns the selected techniques in application order.
func (s Selection) Selected() []Technique {
	var out []Technique
	for _, t := range Techniques {
		if s[t] {
			out = append(out, t)
		}
	}
	return out
}

func (s Selection) String() string {
	tags := make([]string, 0, len(s))
	for _, t := range s.Selected() {
		tags = append(tags, t.Tag())
	}
	return strings.Join(tags, ",")
}

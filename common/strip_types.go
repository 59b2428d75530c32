package common

// SectionType classifies a section by what a hardening pass cares about
type SectionType int

const (
	CodeSections SectionType = iota
	DebugSections
	SymbolSections
	RelocationSections
	NonEssentialSections
)

type SectionMatcher struct {
	ExactNames  []string
	PrefixNames []string
	Description string
	Residual    bool // True if its presence after stripping means symbols leaked
}

// CodeSectionName is the conventional name of the entry code section in PE and ELF images.
const CodeSectionName = ".text"

func GetSectionMatchers() map[SectionType]SectionMatcher {
	return map[SectionType]SectionMatcher{
		CodeSections: {
			ExactNames:  []string{CodeSectionName, ".init", ".fini"},
			PrefixNames: []string{".text."},
			Description: "executable code",
		},
		DebugSections: {
			ExactNames:  []string{".stab", ".stabstr"},
			PrefixNames: []string{".debug", ".zdebug", ".gnu.debuglto_"},
			Description: "debugging information",
			Residual:    true,
		},
		SymbolSections: {
			ExactNames:  []string{".symtab", ".strtab"},
			PrefixNames: []string{},
			Description: "static symbol table",
			Residual:    true,
		},
		RelocationSections: {
			ExactNames:  []string{".reloc"},
			PrefixNames: []string{".rela.", ".rel."},
			Description: "relocation information",
		},
		NonEssentialSections: {
			ExactNames:  []string{".comment", ".note", ".gnu_debuglink", ".gnu_debugaltlink"},
			PrefixNames: []string{".note."},
			Description: "non-essential metadata",
		},
	}
}

// ClassifySection returns the first matcher category for a section name.
func ClassifySection(name string) (SectionType, SectionMatcher, bool) {
	matchers := GetSectionMatchers()
	for _, st := range []SectionType{CodeSections, DebugSections, SymbolSections, RelocationSections, NonEssentialSections} {
		m := matchers[st]
		if MatchesPattern(name, m.ExactNames, m.PrefixNames) {
			return st, m, true
		}
	}
	return 0, SectionMatcher{}, false
}

// ResidualSymbolSections lists the sections whose names mean a strip pass left symbols behind.
func ResidualSymbolSections(sections []*Section) []string {
	var names []string
	for _, s := range sections {
		if _, m, ok := ClassifySection(s.Name); ok && m.Residual {
			names = append(names, s.Name)
		}
	}
	return names
}

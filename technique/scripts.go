package technique

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"gosshield/common"
)

//go:embed scripts.yaml
var embeddedScripts []byte

const anyOS = "any"

// Script holds the C fragments one technique injects on one OS.
type Script struct {
	Includes       []string `yaml:"includes"`
	EntryFunctions []string `yaml:"entry_functions"`
	Indent         string   `yaml:"indent"`
	Prelude        string   `yaml:"prelude"`
	Entry          string   `yaml:"entry"`
	Marker         string   `yaml:"marker"`
	Reference      string   `yaml:"reference"`
	Comparison     string   `yaml:"comparison"`
	Separator      string   `yaml:"separator"`
	Check          string   `yaml:"check"`
}

// Indented prefixes every non-empty line of block with the script indent.
func (s Script) Indented(block string) string {
	if s.Indent == "" {
		return block
	}
	lines := strings.Split(strings.TrimSuffix(block, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = s.Indent + l
		}
	}
	return strings.Join(lines, "\n")
}

// ScriptTable maps technique and OS to its script. It is never mutated after loading.
type ScriptTable struct {
	scripts map[common.Technique]map[string]Script
}

// Lookup returns the script for os, falling back to the OS-neutral entry.
func (t *ScriptTable) Lookup(tech common.Technique, os common.OS) (Script, bool) {
	byOS, ok := t.scripts[tech]
	if !ok {
		return Script{}, false
	}
	if s, ok := byOS[string(os)]; ok {
		return s, true
	}
	s, ok := byOS[anyOS]
	return s, ok
}

// LoadScripts parses a script table document.
func LoadScripts(r io.Reader) (*ScriptTable, error) {
	raw := map[string]map[string]Script{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse technique scripts: %w", err)
	}

	table := &ScriptTable{scripts: map[common.Technique]map[string]Script{}}
	for name, byOS := range raw {
		tech, err := common.ParseTechnique(name)
		if err != nil {
			return nil, fmt.Errorf("technique scripts: %w", err)
		}
		if !tech.SourceLevel() {
			return nil, fmt.Errorf("technique scripts: %s does not patch source", tech)
		}
		entries := map[string]Script{}
		for osName, script := range byOS {
			key := osName
			if key != anyOS {
				parsed := common.ParseOS(osName)
				if parsed == common.Other {
					return nil, fmt.Errorf("technique scripts: %s: unknown os %q", tech, osName)
				}
				key = string(parsed)
			}
			entries[key] = script
		}
		table.scripts[tech] = entries
	}
	return table, nil
}

var (
	defaultOnce  sync.Once
	defaultTable *ScriptTable
	defaultErr   error
)

// DefaultScripts returns the built-in script table, parsed on first use.
func DefaultScripts() (*ScriptTable, error) {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = LoadScripts(bytes.NewReader(embeddedScripts))
	})
	return defaultTable, defaultErr
}

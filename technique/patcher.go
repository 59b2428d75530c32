package technique

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gosshield/common"
	"gosshield/source"
)

// sourceOrder is the order source-stage techniques are applied in.
var sourceOrder = []common.Technique{
	common.CheckRemoteDebugger,
	common.PtraceDenyAttach,
	common.SoftwareBreakpointDetection,
}

// Patcher applies the source-stage techniques to a parsed C file.
type Patcher struct {
	scripts *ScriptTable
	os      common.OS
	log     *zap.Logger
}

func NewPatcher(scripts *ScriptTable, os common.OS, log *zap.Logger) *Patcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Patcher{scripts: scripts, os: os, log: log}
}

// Apply runs every active source-stage technique against m. Unmet
// preconditions come back as skipped results; an error means the file could
// not be rewritten.
func (p *Patcher) Apply(m *source.Model, r *Resolution) ([]*common.OperationResult, error) {
	var results []*common.OperationResult
	for _, t := range sourceOrder {
		if !r.Active(t) {
			continue
		}
		res, err := p.ApplyTechnique(m, t)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ApplyTechnique applies a single source-stage technique.
func (p *Patcher) ApplyTechnique(m *source.Model, t common.Technique) (*common.OperationResult, error) {
	script, ok := p.scripts.Lookup(t, p.os)
	if !ok {
		return common.NewSkipped(fmt.Sprintf("no script for %s", p.os)).For(t, common.StageSource), nil
	}

	var (
		res *common.OperationResult
		err error
	)
	switch t {
	case common.CheckRemoteDebugger, common.PtraceDenyAttach:
		res, err = p.injectEntryGuard(m, script)
	case common.SoftwareBreakpointDetection:
		res, err = p.guardBreakpoints(m, script)
	default:
		return nil, fmt.Errorf("%s is not a source-stage technique", t)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.Tag(), err)
	}
	res.For(t, common.StageSource)

	p.log.Debug("source technique processed",
		zap.String("technique", string(t)),
		zap.String("path", m.Path()),
		zap.Bool("applied", res.Applied),
		zap.String("detail", res.Message),
	)
	return res, nil
}

// injectEntryGuard adds the missing includes, the optional prelude after the
// last include and the entry statements at the top of the entry function.
func (p *Patcher) injectEntryGuard(m *source.Model, s Script) (*common.OperationResult, error) {
	entry, ok := entryFunction(m, s)
	if !ok {
		return common.NewSkipped(fmt.Sprintf("no %s function", strings.Join(s.EntryFunctions, " or "))), nil
	}

	inserted, err := ensureIncludes(m, s.Includes)
	if err != nil {
		return nil, err
	}

	if s.Prelude != "" {
		n, err := insert(m, s.Prelude, m.LastIncludeLine()+1)
		if err != nil {
			return nil, err
		}
		inserted += n
	}

	line, _ := m.FunctionLine(entry)
	n, err := insert(m, s.Indented(s.Entry), line+1)
	if err != nil {
		return nil, err
	}
	inserted += n

	return common.NewApplied(fmt.Sprintf("guard injected into %s", entry), inserted), nil
}

// guardBreakpoints plants a symbol at the start of every non-entry function
// and checks all of them for an INT3 opcode when the entry function starts.
func (p *Patcher) guardBreakpoints(m *source.Model, s Script) (*common.OperationResult, error) {
	if m.FunctionCount() < 2 {
		return common.NewSkipped("needs at least two function declarations"), nil
	}
	entry, ok := entryFunction(m, s)
	if !ok {
		return common.NewSkipped(fmt.Sprintf("no %s function", strings.Join(s.EntryFunctions, " or "))), nil
	}
	if _, ok := nthOther(m, entry, 0); !ok {
		return common.NewSkipped(fmt.Sprintf("no function besides %s", entry)), nil
	}

	if _, err := insert(m, s.Prelude, 1); err != nil {
		return nil, err
	}

	guarded := 0
	var terms []string
	for {
		fn, ok := nthOther(m, entry, guarded)
		if !ok {
			break
		}
		if _, err := insert(m, fmt.Sprintf(s.Marker, fn.Name), fn.Line+1); err != nil {
			return nil, err
		}
		entryLine, _ := m.FunctionLine(entry)
		if _, err := insert(m, fmt.Sprintf(s.Reference, fn.Name), entryLine); err != nil {
			return nil, err
		}
		terms = append(terms, fmt.Sprintf(s.Comparison, fn.Name))
		guarded++
	}

	entryLine, _ := m.FunctionLine(entry)
	check := fmt.Sprintf(s.Check, strings.Join(terms, s.Separator))
	if _, err := insert(m, s.Indented(check), entryLine+1); err != nil {
		return nil, err
	}

	return common.NewApplied(fmt.Sprintf("breakpoint check covers %d functions", guarded), guarded), nil
}

func entryFunction(m *source.Model, s Script) (string, bool) {
	for _, name := range s.EntryFunctions {
		if _, ok := m.FunctionLine(name); ok {
			return name, true
		}
	}
	return "", false
}

// nthOther returns the n-th declared function that is not the entry function.
func nthOther(m *source.Model, entry string, n int) (source.Declaration, bool) {
	i := 0
	for _, d := range m.Functions() {
		if d.Name == entry {
			continue
		}
		if i == n {
			return d, true
		}
		i++
	}
	return source.Declaration{}, false
}

func ensureIncludes(m *source.Model, headers []string) (int, error) {
	var missing []string
	for _, h := range headers {
		if !m.ExistsInclude(h) {
			missing = append(missing, "#include <"+h+">")
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	return insert(m, strings.Join(missing, "\n"), 1)
}

// insert writes text at line and registers the includes and functions it declares.
func insert(m *source.Model, text string, line int) (int, error) {
	if err := m.InsertLine(text, line); err != nil {
		return 0, err
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i, l := range lines {
		if name, ok := source.MatchInclude(l); ok {
			m.AddInclude(name, line+i)
		}
		if name, ok := source.MatchFunction(l); ok {
			m.AddFunction(name, line+i)
		}
	}
	return len(lines), nil
}

package technique

import (
	"fmt"

	"gosshield/common"
)

type stageSet map[common.Stage]bool

func stages(list ...common.Stage) stageSet {
	set := stageSet{}
	for _, s := range list {
		set[s] = true
	}
	return set
}

// eligibility is the static capability table per input variant.
var eligibility = map[common.Stage]struct {
	techniques []common.Technique
	reachable  stageSet
}{
	common.StageSource: {
		techniques: []common.Technique{common.EncryptionWrapper, common.StripSymbols, common.HeaderEntrypoint, common.SoftwareBreakpointDetection},
		reachable:  stages(common.StageSource, common.StageAssembly, common.StageObject, common.StageExecutable),
	},
	common.StageAssembly: {
		techniques: []common.Technique{common.EncryptionWrapper, common.StripSymbols, common.HeaderEntrypoint, common.SoftwareBreakpointDetection},
		reachable:  stages(common.StageAssembly, common.StageObject, common.StageExecutable),
	},
	common.StageObject: {
		techniques: []common.Technique{common.EncryptionWrapper, common.StripSymbols, common.HeaderEntrypoint},
		reachable:  stages(common.StageObject, common.StageExecutable),
	},
	common.StageExecutable: {
		techniques: []common.Technique{common.EncryptionWrapper, common.HeaderEntrypoint, common.StripSymbols},
		reachable:  stages(common.StageExecutable),
	},
}

// Resolution is the eligibility and reachability derived for one input,
// target OS and selection. It is recomputed for every request.
type Resolution struct {
	Input     common.Stage
	OS        common.OS
	Selection common.Selection

	eligible  map[common.Technique]bool
	reachable stageSet
}

// Resolve derives which techniques apply and which output stages stay reachable.
func Resolve(input common.Stage, os common.OS, sel common.Selection) (*Resolution, error) {
	row, ok := eligibility[input]
	if !ok {
		return nil, fmt.Errorf("no capability row for %v input", input)
	}

	r := &Resolution{
		Input:     input,
		OS:        os,
		Selection: sel,
		eligible:  map[common.Technique]bool{},
		reachable: stageSet{},
	}
	for _, t := range row.techniques {
		r.eligible[t] = true
	}
	if input == common.StageSource || input == common.StageAssembly {
		switch os {
		case common.Linux, common.Mac:
			r.eligible[common.PtraceDenyAttach] = true
		case common.Windows:
			r.eligible[common.CheckRemoteDebugger] = true
		}
	}
	for s := range row.reachable {
		r.reachable[s] = true
	}

	// Overlay: each rule only ever removes stages.
	if r.Active(common.StripSymbols) {
		delete(r.reachable, common.StageSource)
		delete(r.reachable, common.StageAssembly)
	}
	if r.Active(common.EncryptionWrapper) || r.Active(common.HeaderEntrypoint) {
		delete(r.reachable, common.StageSource)
		delete(r.reachable, common.StageAssembly)
		delete(r.reachable, common.StageObject)
	}
	return r, nil
}

// Eligible reports whether t may be applied to this input on this OS.
func (r *Resolution) Eligible(t common.Technique) bool { return r.eligible[t] }

// Active reports whether t is both selected and eligible.
func (r *Resolution) Active(t common.Technique) bool {
	return r.Selection[t] && r.eligible[t]
}

// Reachable reports whether s can be produced.
func (r *Resolution) Reachable(s common.Stage) bool { return r.reachable[s] }

// EligibleTechniques lists eligible techniques in application order.
func (r *Resolution) EligibleTechniques() []common.Technique {
	var out []common.Technique
	for _, t := range common.Techniques {
		if r.eligible[t] {
			out = append(out, t)
		}
	}
	return out
}

// ReachableStages lists reachable stages in pipeline order.
func (r *Resolution) ReachableStages() []common.Stage {
	var out []common.Stage
	for _, s := range common.Stages {
		if r.reachable[s] {
			out = append(out, s)
		}
	}
	return out
}

// Ineligible returns one skipped notice per selected technique that cannot apply.
func (r *Resolution) Ineligible() []*common.OperationResult {
	var out []*common.OperationResult
	for _, t := range r.Selection.Selected() {
		if r.eligible[t] {
			continue
		}
		out = append(out, common.NewSkipped(
			fmt.Sprintf("not eligible for %s input on %s", r.Input, r.OS),
		).For(t, r.Input))
	}
	return out
}

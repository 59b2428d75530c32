package pipeline

import (
	"fmt"
	"strings"

	"gosshield/common"
)

// Report describes a finished generation.
type Report struct {
	RunID     string
	Input     string
	Target    common.Stage
	Selection common.Selection
	Output    string
	Results   []*common.OperationResult
}

// Applied returns the results of techniques that changed the artifact.
func (r *Report) Applied() []*common.OperationResult {
	var out []*common.OperationResult
	for _, res := range r.Results {
		if res.Applied {
			out = append(out, res)
		}
	}
	return out
}

// Skipped returns the notices of techniques that were not applied.
func (r *Report) Skipped() []*common.OperationResult {
	var out []*common.OperationResult
	for _, res := range r.Results {
		if !res.Applied {
			out = append(out, res)
		}
	}
	return out
}

func (r *Report) String() string {
	title := fmt.Sprintf("🛡️  %s OUTPUT: %s", strings.ToUpper(r.Target.String()), r.Output)
	return common.FormatOperationResult(title, nil, common.CategorizeResults(r.Results))
}

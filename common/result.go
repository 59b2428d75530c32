package common

import "fmt"

// OperationResult is the outcome of applying one technique to one artifact.
// A skipped result is a notice, never a failure.
type OperationResult struct {
	Technique Technique
	Stage     Stage
	Applied   bool
	Message   string
	Count     int // Number of items affected (sections hardened, functions guarded, lines inserted)
}

// NewSkipped creates a result for skipped operations
func NewSkipped(reason string) *OperationResult {
	return &OperationResult{
		Applied: false,
		Message: reason,
		Count:   0,
	}
}

// NewApplied creates a result for applied operations
func NewApplied(message string, count int) *OperationResult {
	return &OperationResult{
		Applied: true,
		Message: message,
		Count:   count,
	}
}

// For tags the result with the technique and stage that produced it.
func (r *OperationResult) For(t Technique, s Stage) *OperationResult {
	r.Technique = t
	r.Stage = s
	return r
}

// String returns a human-readable representation
func (r *OperationResult) String() string {
	prefix := ""
	if r.Technique != "" {
		prefix = r.Technique.Tag() + ": "
	}
	if r.Applied {
		if r.Count > 0 {
			return fmt.Sprintf("%sAPPLIED (%s, %d items)", prefix, r.Message, r.Count)
		}
		return fmt.Sprintf("%sAPPLIED (%s)", prefix, r.Message)
	}
	return fmt.Sprintf("%sSKIPPED (%s)", prefix, r.Message)
}

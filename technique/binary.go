package technique

import (
	"fmt"

	"gosshield/common"
)

// HardenEntrypoint clears the writable flag of every code section that has
// it and asks the image to persist the change.
func HardenEntrypoint(img common.BinaryImage) (*common.OperationResult, error) {
	cleared := 0
	for _, s := range img.SectionTable() {
		if s.Name == common.CodeSectionName && s.ClearWritable() {
			cleared++
		}
	}
	if cleared == 0 {
		return common.NewSkipped(fmt.Sprintf("no writable %s section", common.CodeSectionName)).
			For(common.HeaderEntrypoint, common.StageExecutable), nil
	}
	if err := img.Commit(); err != nil {
		return nil, fmt.Errorf("failed to persist %s section flags: %w", img.Format(), err)
	}
	return common.NewApplied(fmt.Sprintf("cleared writable flag on %s", common.CodeSectionName), cleared).
		For(common.HeaderEntrypoint, common.StageExecutable), nil
}

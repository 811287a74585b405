package executor

import "fmt"

// UnknownStepTypeError is raised (not reified as stderr) when a step names a
// StepType absent from the registry — a configuration error, not a runtime
// classification (spec §4.7 step 2c).
type UnknownStepTypeError struct {
	Type string
}

func (e *UnknownStepTypeError) Error() string {
	return fmt.Sprintf("executor: no handler registered for step type %q", e.Type)
}

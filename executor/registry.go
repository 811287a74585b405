// Package executor walks an ActionGraph step by step against a live target,
// dispatching each step to a handler keyed by StepType (spec §4.3, §4.7).
package executor

import (
	"context"

	"autograph.dev/model"
)

// Handler implements a single step type. Handler errors never raise — they
// are reified into StepResult.Stderr so the Executor's failure classifier
// is the single place that turns a diagnostic into control flow.
type Handler interface {
	Execute(ctx context.Context, step model.Step, ec *model.ExecutionContext) model.StepResult
}

// Registry maps StepType to Handler. Adding a new step type requires
// exactly one Register call (spec §4.3).
type Registry struct {
	handlers map[model.StepType]Handler
}

// NewRegistry builds a Registry pre-populated with the three built-in
// handlers.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[model.StepType]Handler)}
	r.Register(model.StepHTTPRequest, NewHTTPRequestHandler())
	r.Register(model.StepShellCommand, NewShellCommandHandler())
	r.Register(model.StepRegexMatch, NewRegexMatchHandler())
	return r
}

// Register adds or replaces the handler for a StepType.
func (r *Registry) Register(t model.StepType, h Handler) {
	r.handlers[t] = h
}

// Lookup returns the handler for a StepType, or UnknownStepTypeError.
func (r *Registry) Lookup(t model.StepType) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, &UnknownStepTypeError{Type: string(t)}
	}
	return h, nil
}

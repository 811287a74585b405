package executor

import (
	"context"
	"fmt"
	"regexp"

	"autograph.dev/model"
)

// RegexMatchHandler implements the REGEX_MATCH step type (spec §4.3).
type RegexMatchHandler struct{}

// NewRegexMatchHandler builds a handler.
func NewRegexMatchHandler() *RegexMatchHandler {
	return &RegexMatchHandler{}
}

func (h *RegexMatchHandler) Execute(ctx context.Context, step model.Step, ec *model.ExecutionContext) model.StepResult {
	pattern, _ := step.Parameters["pattern"].(string)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return model.StepResult{Stderr: fmt.Sprintf("regex_match: invalid pattern %q: %v", pattern, err)}
	}

	source := -1 // defaults to previous_outputs[-1], the most recent output (spec §4.3)
	if raw, ok := step.Parameters["source"]; ok {
		if n, err := toInt(raw); err == nil {
			source = n
		}
	}
	idx := source
	if idx < 0 {
		idx += len(ec.PreviousOutputs)
	}
	if idx < 0 || idx >= len(ec.PreviousOutputs) {
		return model.StepResult{Stderr: fmt.Sprintf("regex_match: source index %d out of range (len=%d)", source, len(ec.PreviousOutputs))}
	}
	text := ec.PreviousOutputs[idx]

	captureGroup := 0
	if raw, ok := step.Parameters["capture_group"]; ok {
		if n, err := toInt(raw); err == nil {
			captureGroup = n
		}
	}

	matches := re.FindStringSubmatch(text)
	if matches == nil || captureGroup >= len(matches) {
		return model.StepResult{Stderr: fmt.Sprintf("regex_match: pattern %q did not match source %d", pattern, source)}
	}
	return model.StepResult{Stdout: matches[captureGroup], SuccessCriteriaMatched: true}
}

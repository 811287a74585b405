package executor

import (
	"regexp"
	"strconv"

	"autograph.dev/model"
)

var previousOutputPattern = regexp.MustCompile(`^\{\{previous_outputs\[(-?\d+)\]\}\}$`)

// interpolateParameters walks step.Parameters recursively, substituting any
// string of the exact form {{previous_outputs[N]}} with
// context.PreviousOutputs[N] (N may be negative, Python-slice style).
// Unresolved references (index out of range, or any other string) are left
// as-is rather than raising (spec §4.3).
func interpolateParameters(params map[string]any, ctx *model.ExecutionContext) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = interpolateValue(v, ctx)
	}
	return out
}

func interpolateValue(v any, ctx *model.ExecutionContext) any {
	switch val := v.(type) {
	case string:
		return interpolateString(val, ctx)
	case map[string]any:
		return interpolateParameters(val, ctx)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = interpolateValue(e, ctx)
		}
		return out
	default:
		return v
	}
}

func interpolateString(s string, ctx *model.ExecutionContext) string {
	m := previousOutputPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return s
	}
	idx := n
	if idx < 0 {
		idx += len(ctx.PreviousOutputs)
	}
	if idx < 0 || idx >= len(ctx.PreviousOutputs) {
		return s
	}
	return ctx.PreviousOutputs[idx]
}

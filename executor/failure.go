package executor

import (
	"strconv"
	"strings"

	"autograph.dev/model"
)

// FailureClass is the three-way classification of a non-empty StepResult
// the Executor's failure handler applies (spec §7).
type FailureClass string

const (
	TransientRecoverable   FailureClass = "TRANSIENT_RECOVERABLE"
	TransientUnrecoverable FailureClass = "TRANSIENT_UNRECOVERABLE"
	Systemic               FailureClass = "SYSTEMIC"
)

var sessionExpiredMarkers = []string{"session expired", "please log in"}

// classify implements the §7 error taxonomy. HTTP 404 is deliberately
// SYSTEMIC, not unrecoverable: the endpoint shape may have shifted and the
// graph must be recompiled, not abandoned. Every non-HTTP step failure
// (SHELL_COMMAND, REGEX_MATCH) is SYSTEMIC. For an HTTP step, a nil
// StatusCode means the request never got a response at all (timeout,
// connection reset) rather than the target rejecting it, so it is
// TRANSIENT_RECOVERABLE, not SYSTEMIC.
func classify(step model.Step, result model.StepResult) FailureClass {
	if step.Type != model.StepHTTPRequest {
		return Systemic
	}

	if containsAny(result.Stdout, sessionExpiredMarkers) {
		return TransientUnrecoverable
	}

	if result.StatusCode == nil {
		return TransientRecoverable
	}
	switch *result.StatusCode {
	case 503, 408, 429:
		return TransientRecoverable
	case 401:
		return TransientUnrecoverable
	case 404, 500, 400:
		return Systemic
	default:
		return Systemic
	}
}

func containsAny(haystack string, needles []string) bool {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func statusCodeString(code *int) string {
	if code == nil {
		return "none"
	}
	return strconv.Itoa(*code)
}

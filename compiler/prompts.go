package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	"autograph.dev/executor"
	"autograph.dev/model"
)

func reconSystemPrompt() string {
	return strings.TrimSpace(`
You are the recon phase of a web-application penetration-testing compiler.
You are given a capture of HTTP traffic against a single target and four
tools for inspecting it: response_inspect, jwt_decode, header_audit, and
response_diff. Use them to build an understanding of the target's
authentication model, endpoint structure, and security posture.

You are looking specifically for opportunities to exploit broken object
level authorization, missing authentication, token or session confusion
between accounts, and role/privilege tampering. You are NOT looking for
injection, XSS, or infrastructure vulnerabilities.

When you have gathered enough evidence, call submit_attack_plan exactly
once with your recon_observations, a list of attack_opportunities (each
naming one of idor_walk, auth_strip, token_swap, namespace_probe, or
role_tamper as recommended_exploit), and an overall confidence in [0,1].
`)
}

func reconUserPrompt(fp model.Fingerprint, captureFile string, repairCtx *executor.RepairContext) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Target fingerprint:\n  tech_stack: %s\n  auth_model: %s\n  endpoint_pattern: %s\n  security_signals: %v\n",
		fp.TechStack, fp.AuthModel, fp.EndpointPattern, fp.SecuritySignals))
	sb.WriteString(fmt.Sprintf("Capture file: %s\n", captureFile))
	if repairCtx != nil {
		sb.WriteString("\nThis is a REPAIR compile. The previously compiled ActionGraph failed:\n")
		sb.WriteString(fmt.Sprintf("  failed step: %s (%s)\n", repairCtx.FailedStep.Command, repairCtx.FailedStep.Type))
		sb.WriteString(fmt.Sprintf("  error: %s\n", repairCtx.ErrorLog))
		if len(repairCtx.ExecutionHistory) > 0 {
			sb.WriteString(fmt.Sprintf("  execution history: %s\n", strings.Join(repairCtx.ExecutionHistory, " | ")))
		}
		if len(repairCtx.RepairHistory) > 0 {
			sb.WriteString(fmt.Sprintf("  %d prior repair(s) recorded for this fingerprint; avoid repeating their failed approach.\n", len(repairCtx.RepairHistory)))
		}
	}
	sb.WriteString("\nInspect the capture and propose attack opportunities.")
	return sb.String()
}

func criticSystemPrompt() string {
	return strings.TrimSpace(`
You are the critic phase of a web-application penetration-testing
compiler. You are given an AttackPlan produced by the recon phase. Your
job is to tighten it: reject attack opportunities that are not actually
supported by the cited observation, sharpen exploit_target paths, and
raise or lower the overall confidence to reflect how well-supported the
plan actually is.

Submit your refined plan once, via submit_refined_attack_plan, using the
same shape as the plan you were given. If the plan is already sound,
resubmit it unchanged.
`)
}

func criticUserPrompt(plan model.AttackPlan) string {
	encoded, _ := json.MarshalIndent(plan, "", "  ")
	return "Current attack plan:\n" + string(encoded)
}

func stringField(input []byte, field string) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return "", err
	}
	v, _ := m[field].(string)
	return v, nil
}

func intField(input []byte, field string) (int, error) {
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return 0, err
	}
	switch v := m[field].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("compiler: field %q not a number", field)
	}
}

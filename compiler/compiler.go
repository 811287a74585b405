// Package compiler implements the one-time LLM "compiler" phase: a
// Recon→Critic agent loop that produces an AttackPlan, deterministically
// translated into an executable ActionGraph (spec §4.6).
package compiler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"autograph.dev/capture"
	"autograph.dev/exploit"
	"autograph.dev/executor"
	"autograph.dev/llmclient"
	"autograph.dev/model"
	"autograph.dev/recon"
)

// State is the Compiler's state machine (spec §4.6).
type State string

const (
	StateRecon  State = "RECON"
	StateCritic State = "CRITIC"
	StateDone   State = "DONE"
	StateFailed State = "FAILED"
)

const (
	defaultMaxCriticIterations = 3
	defaultReconMaxIterations  = 6
	convergenceThreshold       = 0.8
)

var attackPlanSchema = map[string]any{
	"recon_observations": map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recon_tool":  map[string]any{"type": "string"},
				"observation": map[string]any{"type": "string"},
			},
		},
	},
	"attack_opportunities": map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recon_tool_used":     map[string]any{"type": "string"},
				"observation":         map[string]any{"type": "string"},
				"suspected_gap":       map[string]any{"type": "string"},
				"recommended_exploit": map[string]any{"type": "string", "enum": []string{"idor_walk", "auth_strip", "token_swap", "namespace_probe", "role_tamper"}},
				"exploit_target":      map[string]any{"type": "string"},
				"exploit_reasoning":   map[string]any{"type": "string"},
			},
		},
	},
	"confidence": map[string]any{"type": "number"},
}

// languageModel is the subset of *llmclient.Client the Compiler drives.
// Expressed as an interface so tests can substitute a fake agent without
// exercising the Anthropic SDK.
type languageModel interface {
	SimpleAgent(ctx context.Context, systemPrompt, userPrompt, schemaName, schemaDescription string, jsonSchema map[string]any, out any) error
	ProgrammaticAgent(ctx context.Context, systemPrompt, userPrompt string, tools []llmclient.Tool, outputSchemaName, outputSchemaDescription string, outputSchema map[string]any, out any, maxIterations int) error
}

// Compiler drives the Recon→Critic loop and the deterministic AttackPlan→
// ActionGraph translation.
type Compiler struct {
	llm                 languageModel
	profile             model.TargetProfile
	maxCriticIterations int
	reconMaxIterations  int
	log                 *logrus.Entry
}

// New builds a Compiler bound to one TargetProfile (generators need its
// credentials). maxCriticIterations is MAX_CRITIC_ITERATIONS (spec §6,
// default 3); pass 0 to use the default.
func New(llm languageModel, profile model.TargetProfile, maxCriticIterations int, log *logrus.Entry) *Compiler {
	if maxCriticIterations <= 0 {
		maxCriticIterations = defaultMaxCriticIterations
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Compiler{llm: llm, profile: profile, maxCriticIterations: maxCriticIterations, reconMaxIterations: defaultReconMaxIterations, log: log}
}

// Compile implements compile(fingerprint, capture_file, repair_context?) →
// ActionGraph (spec §4.6). The returned graph is not yet persisted — the
// caller (Executor on repair, Orchestrator on cold start) persists it.
func (c *Compiler) Compile(ctx context.Context, fp model.Fingerprint, captureFile string, repairCtx *executor.RepairContext) (model.ActionGraph, error) {
	state := StateRecon
	flows, err := capture.Open(captureFile)
	if err != nil {
		return model.ActionGraph{}, fmt.Errorf("compiler: open capture file: %w", err)
	}

	plan, err := c.runRecon(ctx, fp, flows, captureFile, repairCtx)
	if err != nil {
		state = StateFailed
		return model.ActionGraph{}, fmt.Errorf("compiler: %s: recon: %w", state, err)
	}
	state = StateCritic

	for iteration := 0; iteration < c.maxCriticIterations; iteration++ {
		refined, err := c.runCritic(ctx, plan)
		if err != nil {
			state = StateFailed
			return model.ActionGraph{}, fmt.Errorf("compiler: %s: critic: %w", state, err)
		}
		converged := refined.Confidence >= convergenceThreshold || plansEqual(plan, refined)
		plan = refined
		if converged {
			break
		}
	}
	state = StateDone

	ag, err := c.attackPlanToActionGraph(plan)
	if err != nil {
		return model.ActionGraph{}, fmt.Errorf("compiler: %s: %w", state, err)
	}
	return ag, nil
}

func (c *Compiler) runRecon(ctx context.Context, fp model.Fingerprint, flows []capture.Flow, captureFile string, repairCtx *executor.RepairContext) (model.AttackPlan, error) {
	systemPrompt := reconSystemPrompt()
	userPrompt := reconUserPrompt(fp, captureFile, repairCtx)

	tools := []llmclient.Tool{
		{
			Name:        "response_inspect",
			Description: "Summarize or detail captured HTTP flows, optionally filtered by endpoint substring.",
			InputSchema: map[string]any{"endpoint_filter": map[string]any{"type": "string"}},
			Handler: func(ctx context.Context, input []byte) (string, error) {
				filter, _ := stringField(input, "endpoint_filter")
				return recon.ResponseInspect(flows, filter)
			},
		},
		{
			Name:        "jwt_decode",
			Description: "Decode all Bearer tokens seen in the capture and return their claim sets.",
			InputSchema: map[string]any{},
			Handler: func(ctx context.Context, input []byte) (string, error) {
				return recon.JWTDecode(flows)
			},
		},
		{
			Name:        "header_audit",
			Description: "Report per-endpoint security header presence/absence and server-version leaks.",
			InputSchema: map[string]any{},
			Handler: func(ctx context.Context, input []byte) (string, error) {
				return recon.HeaderAudit(flows)
			},
		},
		{
			Name:        "response_diff",
			Description: "Structurally diff headers and JSON bodies between two flows by index.",
			InputSchema: map[string]any{
				"flow_index_a": map[string]any{"type": "integer"},
				"flow_index_b": map[string]any{"type": "integer"},
			},
			Handler: func(ctx context.Context, input []byte) (string, error) {
				a, _ := intField(input, "flow_index_a")
				b, _ := intField(input, "flow_index_b")
				return recon.ResponseDiff(flows, a, b)
			},
		},
	}

	var plan model.AttackPlan
	err := c.llm.ProgrammaticAgent(ctx, systemPrompt, userPrompt, tools, "submit_attack_plan", "Submit the final AttackPlan once recon is sufficient.", attackPlanSchema, &plan, c.reconMaxIterations)
	return plan, err
}

func (c *Compiler) runCritic(ctx context.Context, plan model.AttackPlan) (model.AttackPlan, error) {
	var refined model.AttackPlan
	err := c.llm.SimpleAgent(ctx, criticSystemPrompt(), criticUserPrompt(plan), "submit_refined_attack_plan", "Submit the critic's refined AttackPlan.", attackPlanSchema, &refined)
	return refined, err
}

// attackPlanToActionGraph deterministically translates the final AttackPlan
// into an ActionGraph, capping the result to exactly one exploit's step
// chain: the first opportunity whose generator does not raise
// IncompatibleExploitError (spec §4.6 step 5).
func (c *Compiler) attackPlanToActionGraph(plan model.AttackPlan) (model.ActionGraph, error) {
	for _, opp := range plan.AttackOpportunities {
		gen, ok := exploit.Registry[opp.RecommendedExploit]
		if !ok {
			continue
		}
		steps, err := gen(c.profile, normalizeExploitTarget(opp.ExploitTarget))
		if err != nil {
			var incompatible *exploit.IncompatibleExploitError
			if isIncompatible(err, &incompatible) {
				continue
			}
			return model.ActionGraph{}, err
		}

		now := time.Now().UTC()
		vulnType := vulnerabilityTypeFor(opp.RecommendedExploit)
		return model.ActionGraph{
			ID:                uuid.NewString(),
			VulnerabilityType: vulnType,
			Description:       opp.ExploitReasoning,
			Confidence:        plan.Confidence,
			CreatedAt:         now,
			UpdatedAt:         now,
			Steps:             steps,
		}, nil
	}
	return model.ActionGraph{}, fmt.Errorf("compiler: no attack opportunity produced a compatible step chain")
}

// normalizeExploitTarget validates and auto-normalizes an AttackOpportunity's
// exploit_target before it reaches a generator (spec.md:93): an absolute
// URL is reduced to its path so every generator only ever sees a
// path-relative target, and the literal placeholder "{id}" is replaced
// with a concrete resource identifier. The LLM is asked to emit a clean
// path already, but this is the deterministic backstop — a model that
// echoes the full URL or leaves the placeholder in must not be trusted to
// get it right on its own.
func normalizeExploitTarget(target string) string {
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		target = u.Path
		if u.RawQuery != "" {
			target += "?" + u.RawQuery
		}
	}
	return strings.ReplaceAll(target, "{id}", "1")
}

func isIncompatible(err error, target **exploit.IncompatibleExploitError) bool {
	ie, ok := err.(*exploit.IncompatibleExploitError)
	if ok {
		*target = ie
	}
	return ok
}

func vulnerabilityTypeFor(e model.ExploitType) model.VulnerabilityType {
	switch e {
	case model.ExploitIDORWalk:
		return model.VulnIDOR
	case model.ExploitAuthStrip:
		return model.VulnAuthBypass
	case model.ExploitTokenSwap:
		return model.VulnTokenReuse
	case model.ExploitNamespaceProbe:
		return model.VulnNamespaceLeak
	case model.ExploitRoleTamper:
		return model.VulnRoleTamper
	default:
		return model.VulnIDOR
	}
}

func plansEqual(a, b model.AttackPlan) bool {
	if len(a.AttackOpportunities) != len(b.AttackOpportunities) {
		return false
	}
	for i := range a.AttackOpportunities {
		if a.AttackOpportunities[i] != b.AttackOpportunities[i] {
			return false
		}
	}
	return a.Confidence == b.Confidence
}

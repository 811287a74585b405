package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"autograph.dev/graphstore"
	"autograph.dev/model"
)

// RepairContext is the compact summary the Compiler's repair path consumes
// (spec §4.6): the failed step, its error log, the execution history up to
// the failure, and the last few repair attempts on this Fingerprint.
type RepairContext struct {
	FailedStep       model.Step
	ErrorLog         string
	ExecutionHistory []string
	RepairHistory    []model.RepairRecord
}

// Compiler is the narrow dependency the Executor needs for self-repair — a
// seam so executor tests can supply a fake rather than driving the full
// Recon/Critic loop.
type Compiler interface {
	Compile(ctx context.Context, fp model.Fingerprint, captureFile string, repairCtx *RepairContext) (model.ActionGraph, error)
}

// Executor walks an ActionGraph against a live ExecutionContext (spec §4.7).
type Executor struct {
	registry *Registry
	repo     graphstore.Repository
	compiler Compiler
	backoff  time.Duration
	log      *logrus.Entry
}

// New builds an Executor. backoff is the TRANSIENT_RECOVERABLE retry delay;
// pass 0 to use the default (250ms).
func New(registry *Registry, repo graphstore.Repository, compiler Compiler, backoff time.Duration, log *logrus.Entry) *Executor {
	if registry == nil {
		registry = NewRegistry()
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{registry: registry, repo: repo, compiler: compiler, backoff: backoff, log: log}
}

// Execute runs action_graph.steps against context in strict order, applying
// parameter interpolation, step dispatch, failure classification, and
// at-most-one self-repair (spec §4.7, §8 "at most one SYSTEMIC repair per
// run"). captureFile is forwarded to the Compiler if a repair is triggered.
func (e *Executor) Execute(ctx context.Context, ag model.ActionGraph, ec *model.ExecutionContext, captureFile string) (model.ExecutionResult, error) {
	findings := make([]model.Finding, 0)
	repairedOnce := false
	stepsExecuted := 0

	i := 0
	for i < len(ag.Steps) {
		step := ag.Steps[i]
		interpolated := step
		interpolated.Parameters = interpolateParameters(step.Parameters, ec)

		handler, err := e.registry.Lookup(interpolated.Type)
		if err != nil {
			return model.ExecutionResult{}, err
		}

		result := handler.Execute(ctx, interpolated, ec)

		if result.Failed() {
			class := classify(interpolated, result)
			e.log.WithFields(logrus.Fields{
				"step_order": step.Order,
				"step_type":  string(step.Type),
				"class":      string(class),
				"status":     statusCodeString(result.StatusCode),
			}).Warn("step failed")

			// Single-repair guard: once a repair has happened, any further
			// failure ends the run, whatever its classification.
			if repairedOnce {
				_ = e.repo.IncrementExecutionCount(ctx, ag.ID, false)
				return model.ExecutionResult{Success: false, Findings: findings, StepsExecuted: stepsExecuted, Repaired: true}, nil
			}

			switch class {
			case TransientRecoverable:
				select {
				case <-time.After(e.backoff):
				case <-ctx.Done():
					return model.ExecutionResult{}, ctx.Err()
				}
				continue

			case TransientUnrecoverable:
				_ = e.repo.IncrementExecutionCount(ctx, ag.ID, false)
				return model.ExecutionResult{Success: false, Findings: findings, StepsExecuted: stepsExecuted, Repaired: repairedOnce}, nil

			case Systemic:
				if repairedOnce {
					_ = e.repo.IncrementExecutionCount(ctx, ag.ID, false)
					return model.ExecutionResult{Success: false, Findings: findings, StepsExecuted: stepsExecuted, Repaired: true}, nil
				}
				newAG, err := e.repair(ctx, ag, interpolated, result, ec, captureFile)
				if err != nil {
					_ = e.repo.IncrementExecutionCount(ctx, ag.ID, false)
					return model.ExecutionResult{Success: false, Findings: findings, StepsExecuted: stepsExecuted, Repaired: false}, err
				}
				ag = newAG
				repairedOnce = true
				i = 0
				stepsExecuted = 0
				ec.Reset()
				continue
			}
		}

		ec.PreviousOutputs = append(ec.PreviousOutputs, result.Stdout)

		if step.Phase == model.PhaseObserve && result.SuccessCriteriaMatched {
			finding := model.Finding{
				ID:                   uuid.NewString(),
				Observation:          result.Stdout,
				Severity:             model.SeverityHigh,
				EvidenceSummary:      fmt.Sprintf("step %d (%s) matched success criteria %q", step.Order, step.Command, step.SuccessCriteria),
				ObservationEmbedding: nil,
				DiscoveredAt:         time.Now().UTC(),
				TargetURL:            ec.TargetURL,
			}
			if err := e.repo.SaveFinding(ctx, ag.ID, finding); err != nil {
				return model.ExecutionResult{}, fmt.Errorf("executor: save finding: %w", err)
			}
			findings = append(findings, finding)
		}

		i++
		stepsExecuted++
	}

	if err := e.repo.IncrementExecutionCount(ctx, ag.ID, true); err != nil {
		return model.ExecutionResult{}, fmt.Errorf("executor: increment execution count: %w", err)
	}
	return model.ExecutionResult{Success: true, Findings: findings, StepsExecuted: stepsExecuted, Repaired: repairedOnce}, nil
}

// repair invokes the Compiler with a repair context, persists the resulting
// ActionGraph as a new generation triggered by the same Fingerprint, and
// records step-level REPAIRED_TO lineage from the failed step to the new
// graph's first step via RepairStepChain — satisfying both "a new
// ActionGraph... newer created_at" (§4.7.f) and the (Step)-[REPAIRED_TO]->
// (Step) edge §3/§4.2 describe, without requiring two separate repair
// mechanisms to be driven independently by callers.
func (e *Executor) repair(ctx context.Context, failedGraph model.ActionGraph, failedStep model.Step, result model.StepResult, ec *model.ExecutionContext, captureFile string) (model.ActionGraph, error) {
	history, err := e.repo.GetRepairHistory(ctx, ec.Fingerprint.Hash, 5)
	if err != nil {
		return model.ActionGraph{}, fmt.Errorf("load repair history: %w", err)
	}

	repairCtx := &RepairContext{
		FailedStep:       failedStep,
		ErrorLog:         result.Stderr,
		ExecutionHistory: append([]string(nil), ec.PreviousOutputs...),
		RepairHistory:    history,
	}

	newAG, err := e.compiler.Compile(ctx, ec.Fingerprint, captureFile, repairCtx)
	if err != nil {
		return model.ActionGraph{}, fmt.Errorf("compile repair: %w", err)
	}
	if len(newAG.Steps) == 0 {
		return model.ActionGraph{}, fmt.Errorf("repair compiler returned an empty ActionGraph")
	}

	if err := e.repo.SaveActionGraph(ctx, ec.Fingerprint.Hash, newAG); err != nil {
		return model.ActionGraph{}, fmt.Errorf("save repaired action graph: %w", err)
	}
	if err := e.repo.RepairStepChain(ctx, failedGraph.ID, failedStep.Order, newAG.Steps, "systemic_failure_repair", result.Stderr); err != nil {
		e.log.WithError(err).Warn("repair lineage edge could not be recorded")
	}
	return newAG, nil
}

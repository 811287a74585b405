// Package orchestrator implements the single top-level control loop (spec
// §4.8): resolve a capture source, fingerprint it, look up or compile an
// ActionGraph, execute it, and report the run's outcome. Orchestrator is
// the only component in this core with a side-effectful control loop and
// the only one that enforces the cumulative token budget and overall
// run success/failure.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"autograph.dev/capture"
	"autograph.dev/embedding"
	"autograph.dev/executor"
	"autograph.dev/fingerprint"
	"autograph.dev/graphstore"
	"autograph.dev/llmclient"
	"autograph.dev/model"
)

// CaptureMode discriminates how the Orchestrator resolves its capture
// source (spec §4.8 step 1, CAPTURE_MODE env var per §6).
type CaptureMode string

const (
	CaptureModeFile CaptureMode = "file"
	CaptureModeLive CaptureMode = "live"
)

// Orchestrator wires GraphRepository, Compiler, and Executor together per
// spec §4.8. It does not implement executor.Compiler itself; it depends on
// it to drive a cold-start compile.
type Orchestrator struct {
	repo     graphstore.Repository
	compiler executor.Compiler
	exec     *executor.Executor
	budget   *llmclient.TokenBudget
	probe    *http.Client
	embedder embedding.Provider
	log      *logrus.Entry
}

// New builds an Orchestrator. budget is the same TokenBudget the Compiler's
// llmclient.Client was constructed with — Run resets it at entry and
// reports its cumulative spend in OrchestratorResult.TokensUsed (spec §5:
// "the cumulative token counter (process-scoped, reset per run)"); pass
// nil if this Orchestrator never drives a cold-start compile (warm-start
// only callers, e.g. some tests). probeClient is used only for the
// live-mode quick-fingerprint probe (spec §4.8 step 1); pass nil to use a
// default 10-second-timeout client. embedder is optional (spec §3:
// observation_embedding is optional) — pass nil to leave it unset, which
// find_similar_fingerprints already degrades gracefully for.
func New(repo graphstore.Repository, compiler executor.Compiler, exec *executor.Executor, budget *llmclient.TokenBudget, probeClient *http.Client, embedder embedding.Provider, log *logrus.Entry) *Orchestrator {
	if probeClient == nil {
		probeClient = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{repo: repo, compiler: compiler, exec: exec, budget: budget, probe: probeClient, embedder: embedder, log: log}
}

// Run implements run(target_profile, capture_source) → OrchestratorResult
// (spec §4.8).
func (o *Orchestrator) Run(ctx context.Context, profile model.TargetProfile, mode CaptureMode, trafficFile string) (model.OrchestratorResult, error) {
	if o.budget != nil {
		o.budget.Reset()
	}

	captureFile, cleanup, err := o.resolveCaptureSource(profile, mode, trafficFile)
	if err != nil {
		return model.OrchestratorResult{}, fmt.Errorf("orchestrator: resolve capture source: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	flows, err := capture.Open(captureFile)
	if err != nil {
		return model.OrchestratorResult{}, fmt.Errorf("orchestrator: open capture: %w", err)
	}

	fp, err := fingerprint.Build(flows)
	if err != nil {
		return model.OrchestratorResult{}, fmt.Errorf("orchestrator: build fingerprint: %w", err)
	}
	fp = o.embedFingerprint(ctx, fp)

	if err := o.repo.SaveFingerprint(ctx, fp); err != nil {
		return model.OrchestratorResult{}, fmt.Errorf("orchestrator: save fingerprint: %w", err)
	}

	var path model.RunPath
	existing, err := o.repo.GetActionGraphWithSteps(ctx, fp.Hash)
	switch {
	case err == nil:
		path = model.PathWarmStart
		o.log.WithFields(logrus.Fields{"fingerprint_hash": fp.Hash, "run_path": path}).Info("reusing compiled action graph")
	case err == graphstore.ErrNotFound:
		path = model.PathColdStart
		o.log.WithFields(logrus.Fields{"fingerprint_hash": fp.Hash, "run_path": path}).Info("compiling new action graph")
		existing, err = o.compiler.Compile(ctx, fp, captureFile, nil)
		if err != nil {
			return model.OrchestratorResult{}, fmt.Errorf("orchestrator: compile: %w", err)
		}
		if err := o.repo.SaveActionGraph(ctx, fp.Hash, existing); err != nil {
			return model.OrchestratorResult{}, fmt.Errorf("orchestrator: save action graph: %w", err)
		}
	default:
		return model.OrchestratorResult{}, fmt.Errorf("orchestrator: lookup action graph: %w", err)
	}

	ec := model.NewExecutionContext(profile.BaseURL, fp)
	result, err := o.exec.Execute(ctx, existing, ec, captureFile)
	if err != nil {
		return model.OrchestratorResult{}, fmt.Errorf("orchestrator: execute: %w", err)
	}
	if result.Repaired {
		path = model.PathRepair
	}

	tokensUsed := 0
	if o.budget != nil {
		tokensUsed = o.budget.Used()
	}
	return model.OrchestratorResult{
		Path:          path,
		Success:       result.Success,
		FindingsCount: len(result.Findings),
		TokensUsed:    tokensUsed,
	}, nil
}

// embedFingerprint attaches observation_embedding when an embedding
// provider is configured (spec §3: the field is optional). A provider
// failure is logged and swallowed rather than failing the run — a missing
// embedding only degrades find_similar_fingerprints, it never blocks
// compilation or execution.
func (o *Orchestrator) embedFingerprint(ctx context.Context, fp model.Fingerprint) model.Fingerprint {
	if o.embedder == nil {
		return fp
	}
	vec, err := o.embedder.Embed(ctx, fp.ObservationText)
	if err != nil {
		o.log.WithFields(logrus.Fields{"fingerprint_hash": fp.Hash}).WithError(err).Warn("embedding provider failed, continuing without observation_embedding")
		return fp
	}
	fp.ObservationEmbedding = vec
	return fp
}

// resolveCaptureSource implements spec §4.8 step 1. File mode returns
// trafficFile unchanged. Live mode sends three deterministic HTTP requests
// directly to profile.BaseURL (never through a proxy), writes them to a
// temporary capture file, and returns that path plus a cleanup func.
func (o *Orchestrator) resolveCaptureSource(profile model.TargetProfile, mode CaptureMode, trafficFile string) (string, func(), error) {
	if mode == CaptureModeFile {
		return trafficFile, nil, nil
	}

	flows, err := o.quickFingerprintProbe(profile)
	if err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp("", "quick-fingerprint-*.gob")
	if err != nil {
		return "", nil, fmt.Errorf("orchestrator: create quick-fingerprint capture: %w", err)
	}
	path := f.Name()
	f.Close()

	if err := capture.Write(path, flows); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("orchestrator: write quick-fingerprint capture: %w", err)
	}
	return path, func() { os.Remove(path) }, nil
}

// quickFingerprintProbe sends the three deterministic requests spec §4.8
// step 1 describes: an unauthenticated root GET, a GET at the login
// endpoint, and a GET at a representative API path. They build just
// enough traffic for the Fingerprinter without driving any agent.
func (o *Orchestrator) quickFingerprintProbe(profile model.TargetProfile) ([]capture.Flow, error) {
	targets := []string{"/", profile.LoginEndpoint, "/api/"}
	flows := make([]capture.Flow, 0, len(targets))
	for _, path := range targets {
		flow, err := o.probeOnce(profile.BaseURL, path)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: quick fingerprint probe %s: %w", path, err)
		}
		flows = append(flows, flow)
	}
	return flows, nil
}

func (o *Orchestrator) probeOnce(baseURL, path string) (capture.Flow, error) {
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		return capture.Flow{}, err
	}
	resp, err := o.probe.Do(req)
	if err != nil {
		return capture.Flow{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return capture.Flow{}, err
	}

	return capture.Flow{
		Method:          http.MethodGet,
		URL:             baseURL + path,
		RequestHeaders:  map[string][]string{},
		ResponseStatus:  resp.StatusCode,
		ResponseHeaders: resp.Header,
		ResponseBody:    body,
	}, nil
}

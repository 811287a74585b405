package executor

import (
	"context"
	"testing"

	"autograph.dev/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepository is an in-memory graphstore.Repository double.
type fakeRepository struct {
	findings        []model.Finding
	graphs          map[string]model.ActionGraph
	executionCounts map[string]int
	successCounts   map[string]int
	repairChains    int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		graphs:          make(map[string]model.ActionGraph),
		executionCounts: make(map[string]int),
		successCounts:   make(map[string]int),
	}
}

func (f *fakeRepository) SaveFingerprint(ctx context.Context, fp model.Fingerprint) error { return nil }
func (f *fakeRepository) GetFingerprintByHash(ctx context.Context, hash string) (model.Fingerprint, error) {
	return model.Fingerprint{}, nil
}
func (f *fakeRepository) FindSimilarFingerprints(ctx context.Context, embedding []float32, topK int) ([]model.SimilarFingerprint, error) {
	return nil, nil
}
func (f *fakeRepository) SaveActionGraph(ctx context.Context, fingerprintHash string, ag model.ActionGraph) error {
	f.graphs[ag.ID] = ag
	return nil
}
func (f *fakeRepository) GetActionGraphWithSteps(ctx context.Context, fingerprintHash string) (model.ActionGraph, error) {
	return model.ActionGraph{}, nil
}
func (f *fakeRepository) SaveFinding(ctx context.Context, actionGraphID string, finding model.Finding) error {
	f.findings = append(f.findings, finding)
	return nil
}
func (f *fakeRepository) RepairStepChain(ctx context.Context, actionGraphID string, failedStepOrder int, newSteps []model.Step, reason, errorLog string) error {
	f.repairChains++
	return nil
}
func (f *fakeRepository) IncrementExecutionCount(ctx context.Context, actionGraphID string, succeeded bool) error {
	f.executionCounts[actionGraphID]++
	if succeeded {
		f.successCounts[actionGraphID]++
	}
	return nil
}
func (f *fakeRepository) GetRepairHistory(ctx context.Context, fingerprintHash string, maxResults int) ([]model.RepairRecord, error) {
	return nil, nil
}

// fakeCompiler always returns the replacement graph the test configured it
// with, counting how many times a repair compile was requested.
type fakeCompiler struct {
	replacement model.ActionGraph
	calls       int
}

func (f *fakeCompiler) Compile(ctx context.Context, fp model.Fingerprint, captureFile string, repairCtx *RepairContext) (model.ActionGraph, error) {
	f.calls++
	return f.replacement, nil
}

func regexObserveStep(order int, pattern string) model.Step {
	return model.Step{
		Order:           order,
		Phase:           model.PhaseObserve,
		Type:            model.StepRegexMatch,
		Parameters:      map[string]any{"pattern": pattern, "source": -1},
		SuccessCriteria: "regex_matched",
	}
}

func TestExecuteRunsStepsInOrderAndRecordsFindingOnObserveMatch(t *testing.T) {
	repo := newFakeRepository()
	registry := NewRegistry()
	executorInstance := New(registry, repo, &fakeCompiler{}, 0, nil)

	ag := model.ActionGraph{
		ID: "ag-1",
		Steps: []model.Step{
			{Order: 1, Phase: model.PhaseCapture, Type: model.StepShellCommand, Parameters: map[string]any{"command": "echo victim@example.com"}},
			regexObserveStep(2, `[\w.]+@[\w.]+`),
		},
	}
	ec := model.NewExecutionContext("https://target.test", model.Fingerprint{Hash: "h1"})

	result, err := executorInstance.Execute(context.Background(), ag, ec, "")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.StepsExecuted)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "victim@example.com", result.Findings[0].Observation)
	assert.Equal(t, 1, repo.successCounts["ag-1"])
}

func TestExecuteUnknownStepTypeRaises(t *testing.T) {
	repo := newFakeRepository()
	registry := NewRegistry()
	executorInstance := New(registry, repo, &fakeCompiler{}, 0, nil)

	ag := model.ActionGraph{ID: "ag-2", Steps: []model.Step{{Order: 1, Type: model.StepType("NOT_REAL")}}}
	ec := model.NewExecutionContext("https://target.test", model.Fingerprint{Hash: "h2"})

	_, err := executorInstance.Execute(context.Background(), ag, ec, "")
	require.Error(t, err)
	var unknown *UnknownStepTypeError
	assert.ErrorAs(t, err, &unknown)
}

func TestExecuteSystemicFailureTriggersOneRepairThenSucceeds(t *testing.T) {
	repo := newFakeRepository()
	registry := NewRegistry()

	replacement := model.ActionGraph{
		ID: "ag-repaired",
		Steps: []model.Step{
			{Order: 1, Phase: model.PhaseCapture, Type: model.StepShellCommand, Parameters: map[string]any{"command": "echo fixed"}},
		},
	}
	compiler := &fakeCompiler{replacement: replacement}
	executorInstance := New(registry, repo, compiler, 0, nil)

	failingGraph := model.ActionGraph{
		ID: "ag-failing",
		Steps: []model.Step{
			{Order: 1, Phase: model.PhaseCapture, Type: model.StepRegexMatch, Parameters: map[string]any{"pattern": `admin_token`, "source": 0}},
		},
	}
	ec := model.NewExecutionContext("https://target.test", model.Fingerprint{Hash: "h3"})

	result, err := executorInstance.Execute(context.Background(), failingGraph, ec, "")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Repaired)
	assert.Equal(t, 1, compiler.calls)
	assert.Equal(t, 1, repo.repairChains)
	assert.Equal(t, replacement.ID, repo.graphs[replacement.ID].ID)
}

func TestExecuteSecondSystemicFailureAfterRepairAborts(t *testing.T) {
	repo := newFakeRepository()
	registry := NewRegistry()

	stillFailing := model.ActionGraph{
		ID: "ag-still-failing",
		Steps: []model.Step{
			{Order: 1, Type: model.StepRegexMatch, Parameters: map[string]any{"pattern": `admin_token`, "source": 0}},
		},
	}
	compiler := &fakeCompiler{replacement: stillFailing}
	executorInstance := New(registry, repo, compiler, 0, nil)

	ag := model.ActionGraph{
		ID: "ag-original",
		Steps: []model.Step{
			{Order: 1, Type: model.StepRegexMatch, Parameters: map[string]any{"pattern": `admin_token`, "source": 0}},
		},
	}
	ec := model.NewExecutionContext("https://target.test", model.Fingerprint{Hash: "h4"})

	result, err := executorInstance.Execute(context.Background(), ag, ec, "")

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Repaired)
	assert.Equal(t, 1, compiler.calls)
}

// Package graphstore hides all Cypher/query-language detail behind the
// small set of semantic operations spec §4.2 names: GraphRepository. The
// only implementation is Neo4j-backed (Neo4jRepository in neo4j.go); the
// Repository interface exists so compiler/executor/orchestrator depend on
// a narrow contract instead of the driver directly, and so tests can supply
// a fake.
package graphstore

import (
	"context"
	"errors"

	"autograph.dev/model"
)

// ErrNotFound is returned by lookups that find nothing, distinguished from
// a driver error so callers can treat "no row" as a normal miss.
var ErrNotFound = errors.New("graphstore: not found")

// Repository is the semantic contract the rest of the core depends on.
// Every method corresponds 1:1 to an operation named in spec §4.2.
type Repository interface {
	// SaveFingerprint upserts keyed on Hash. Idempotent.
	SaveFingerprint(ctx context.Context, fp model.Fingerprint) error

	// GetFingerprintByHash performs an exact lookup, returning ErrNotFound
	// when no Fingerprint has that hash.
	GetFingerprintByHash(ctx context.Context, hash string) (model.Fingerprint, error)

	// FindSimilarFingerprints performs cosine-similarity k-NN over
	// observation_embedding. Returns an empty slice (not an error) when the
	// vector index is absent or holds no vectors.
	FindSimilarFingerprints(ctx context.Context, embedding []float32, topK int) ([]model.SimilarFingerprint, error)

	// SaveActionGraph atomically upserts the ActionGraph, links it to the
	// Fingerprint via TRIGGERS, creates one Step node per step linked by
	// HAS_STEP, chains them by NEXT in ascending Order, and links
	// STARTS_WITH to the step of minimum Order.
	SaveActionGraph(ctx context.Context, fingerprintHash string, ag model.ActionGraph) error

	// GetActionGraphWithSteps selects, for the given Fingerprint, the
	// ActionGraph with the newest CreatedAt (ties broken by lexicographic
	// ID), loads its full step chain by traversing the longest
	// STARTS_WITH -> NEXT* path, and returns ErrNotFound if none exists.
	GetActionGraphWithSteps(ctx context.Context, fingerprintHash string) (model.ActionGraph, error)

	// SaveFinding creates the Finding node and its PRODUCED_BY edge in one
	// write.
	SaveFinding(ctx context.Context, actionGraphID string, f model.Finding) error

	// RepairStepChain detaches the failed step and its NEXT-reachable
	// successors within this ActionGraph only, splices in newSteps, rewires
	// NEXT, and creates exactly one REPAIRED_TO edge from the failed step
	// to the first new step — repeated calls with the same arguments MUST
	// NOT fan out additional REPAIRED_TO edges.
	RepairStepChain(ctx context.Context, actionGraphID string, failedStepOrder int, newSteps []model.Step, reason, errorLog string) error

	// IncrementExecutionCount atomically increments TimesExecuted (always)
	// and TimesSucceeded (only if succeeded).
	IncrementExecutionCount(ctx context.Context, actionGraphID string, succeeded bool) error

	// GetRepairHistory returns, for telemetry and repair-context assembly,
	// up to maxResults repair records for the Fingerprint's graphs, newest
	// first.
	GetRepairHistory(ctx context.Context, fingerprintHash string, maxResults int) ([]model.RepairRecord, error)
}

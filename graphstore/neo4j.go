package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"autograph.dev/model"
)

// Neo4jRepository is the sole Repository implementation, grounded on
// eve's db/repository/neo4j.go session-per-call idiom: one driver is shared
// across the process (§5 "Shared resources"), and every method opens and
// closes its own short-lived session.
type Neo4jRepository struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logrus.Entry

	schemaOnce sync.Once
	schemaErr  error
}

// NewNeo4jRepository dials the graph store and verifies connectivity,
// mirroring eve's NewNeo4jRepository constructor.
func NewNeo4jRepository(ctx context.Context, uri, username, password, database string, log *logrus.Entry) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("graphstore: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("graphstore: verify connectivity: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Neo4jRepository{driver: driver, database: database, log: log}, nil
}

// Close releases the shared driver.
func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *Neo4jRepository) writeSession(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: r.database})
}

func (r *Neo4jRepository) readSession(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: r.database})
}

// ensureSchema creates, on first use, the unique constraints and vector
// indexes spec §4.2 requires. It is idempotent (IF NOT EXISTS) and latched
// behind sync.Once so repeated calls across the process do not reissue DDL
// (spec §5 "schema-creation latch (idempotent)").
func (r *Neo4jRepository) ensureSchema(ctx context.Context) error {
	r.schemaOnce.Do(func() {
		session := r.writeSession(ctx)
		defer session.Close(ctx)

		statements := []string{
			`CREATE CONSTRAINT fingerprint_hash_unique IF NOT EXISTS FOR (f:Fingerprint) REQUIRE f.hash IS UNIQUE`,
			`CREATE CONSTRAINT action_graph_id_unique IF NOT EXISTS FOR (a:ActionGraph) REQUIRE a.id IS UNIQUE`,
			`CREATE CONSTRAINT finding_id_unique IF NOT EXISTS FOR (f:Finding) REQUIRE f.id IS UNIQUE`,
			`CREATE VECTOR INDEX fingerprint_embedding_index IF NOT EXISTS FOR (f:Fingerprint) ON (f.observation_embedding)
			 OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: 384, ` + "`vector.similarity_function`" + `: 'cosine'}}`,
			`CREATE VECTOR INDEX finding_embedding_index IF NOT EXISTS FOR (f:Finding) ON (f.observation_embedding)
			 OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: 384, ` + "`vector.similarity_function`" + `: 'cosine'}}`,
		}

		for _, stmt := range statements {
			_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
				return tx.Run(ctx, stmt, nil)
			})
			if err != nil {
				r.schemaErr = fmt.Errorf("graphstore: schema setup: %w", err)
				r.log.WithError(err).Error("schema setup failed")
				return
			}
		}
		r.log.Debug("graph schema ensured")
	})
	return r.schemaErr
}

// SaveFingerprint upserts keyed on Hash.
func (r *Neo4jRepository) SaveFingerprint(ctx context.Context, fp model.Fingerprint) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	session := r.writeSession(ctx)
	defer session.Close(ctx)

	query := `
		MERGE (f:Fingerprint {hash: $hash})
		SET f.tech_stack = $tech_stack,
		    f.auth_model = $auth_model,
		    f.endpoint_pattern = $endpoint_pattern,
		    f.security_signals = $security_signals,
		    f.observation_text = $observation_text,
		    f.observation_embedding = $observation_embedding
		RETURN f.hash
	`
	params := map[string]any{
		"hash":                  fp.Hash,
		"tech_stack":            fp.TechStack,
		"auth_model":            fp.AuthModel,
		"endpoint_pattern":      fp.EndpointPattern,
		"security_signals":      fp.SecuritySignals,
		"observation_text":      fp.ObservationText,
		"observation_embedding": embeddingParam(fp.ObservationEmbedding),
	}
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("graphstore: save fingerprint: %w", err)
	}
	return nil
}

// GetFingerprintByHash performs an exact lookup.
func (r *Neo4jRepository) GetFingerprintByHash(ctx context.Context, hash string) (model.Fingerprint, error) {
	session := r.readSession(ctx)
	defer session.Close(ctx)

	query := `MATCH (f:Fingerprint {hash: $hash}) RETURN f LIMIT 1`
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"hash": hash})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, nil // no row: treated as miss below
		}
		node, _ := record.Get("f")
		return node, nil
	})
	if err != nil {
		return model.Fingerprint{}, fmt.Errorf("graphstore: get fingerprint: %w", err)
	}
	node, ok := result.(neo4j.Node)
	if !ok {
		return model.Fingerprint{}, ErrNotFound
	}
	return fingerprintFromNode(node), nil
}

// FindSimilarFingerprints runs a cosine-similarity k-NN query over the
// vector index. Any driver error indicating the index is absent is treated
// as "no matches" rather than propagated, per spec §4.2.
func (r *Neo4jRepository) FindSimilarFingerprints(ctx context.Context, embedding []float32, topK int) ([]model.SimilarFingerprint, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	session := r.readSession(ctx)
	defer session.Close(ctx)

	query := `
		CALL db.index.vector.queryNodes('fingerprint_embedding_index', $top_k, $embedding)
		YIELD node, score
		RETURN node, score
	`
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"top_k": topK, "embedding": embeddingParam(embedding)})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		r.log.WithError(err).Debug("similarity search unavailable, treating as empty")
		return nil, nil
	}
	records, _ := result.([]*neo4j.Record)
	out := make([]model.SimilarFingerprint, 0, len(records))
	for _, rec := range records {
		nodeVal, _ := rec.Get("node")
		scoreVal, _ := rec.Get("score")
		node, ok := nodeVal.(neo4j.Node)
		if !ok {
			continue
		}
		score, _ := scoreVal.(float64)
		out = append(out, model.SimilarFingerprint{Fingerprint: fingerprintFromNode(node), Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func fingerprintFromNode(node neo4j.Node) model.Fingerprint {
	props := node.Props
	fp := model.Fingerprint{
		Hash:            stringProp(props, "hash"),
		TechStack:       stringProp(props, "tech_stack"),
		AuthModel:       stringProp(props, "auth_model"),
		EndpointPattern: stringProp(props, "endpoint_pattern"),
		ObservationText: stringProp(props, "observation_text"),
	}
	if raw, ok := props["security_signals"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				fp.SecuritySignals = append(fp.SecuritySignals, s)
			}
		}
	}
	fp.ObservationEmbedding = embeddingFromProp(props["observation_embedding"])
	return fp
}

func stringProp(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func embeddingParam(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func embeddingFromProp(v any) []float32 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, e := range raw {
		if f, ok := e.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}

// SaveActionGraph is expected to be called exactly once per distinct
// ActionGraph value — the Compiler assigns a fresh UUID per compile, so
// repeated calls for the same ID would duplicate the underlying Step nodes.
// Each Step node is keyed by an internal `uid` property (not part of
// model.Step) rather than by (action_graph_id, order), so that a later
// repair_step_chain can introduce a fresh generation of steps without
// colliding with the original nodes it is superseding.
func (r *Neo4jRepository) SaveActionGraph(ctx context.Context, fingerprintHash string, ag model.ActionGraph) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	if len(ag.Steps) == 0 {
		return fmt.Errorf("graphstore: save action graph %s: len(steps) must be >= 1", ag.ID)
	}

	sorted := make([]model.Step, len(ag.Steps))
	copy(sorted, ag.Steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	uids := make([]string, len(sorted))
	stepParams := make([]map[string]any, len(sorted))
	for i, s := range sorted {
		uids[i] = uuid.NewString()
		paramsJSON, err := json.Marshal(s.Parameters)
		if err != nil {
			return fmt.Errorf("graphstore: marshal step %d parameters: %w", s.Order, err)
		}
		stepParams[i] = map[string]any{
			"uid":              uids[i],
			"order":            s.Order,
			"phase":            string(s.Phase),
			"type":             string(s.Type),
			"command":          s.Command,
			"parameters":       string(paramsJSON),
			"output_file":      s.OutputFile,
			"success_criteria": s.SuccessCriteria,
			"deterministic":    s.Deterministic,
		}
	}
	pairs := make([]map[string]any, 0, len(sorted)-1)
	for i := 0; i+1 < len(sorted); i++ {
		pairs = append(pairs, map[string]any{"from_uid": uids[i], "to_uid": uids[i+1]})
	}

	session := r.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		agQuery := `
			MERGE (ag:ActionGraph {id: $id})
			SET ag.vulnerability_type = $vulnerability_type,
			    ag.description = $description,
			    ag.times_executed = $times_executed,
			    ag.times_succeeded = $times_succeeded,
			    ag.confidence = $confidence,
			    ag.created_at = $created_at,
			    ag.updated_at = $updated_at
			WITH ag
			MATCH (fp:Fingerprint {hash: $fingerprint_hash})
			MERGE (fp)-[:TRIGGERS]->(ag)
		`
		if _, err := tx.Run(ctx, agQuery, map[string]any{
			"id":                 ag.ID,
			"vulnerability_type": string(ag.VulnerabilityType),
			"description":        ag.Description,
			"times_executed":     ag.TimesExecuted,
			"times_succeeded":    ag.TimesSucceeded,
			"confidence":         ag.Confidence,
			"created_at":         ag.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated_at":         ag.UpdatedAt.UTC().Format(time.RFC3339Nano),
			"fingerprint_hash":   fingerprintHash,
		}); err != nil {
			return nil, err
		}

		stepsQuery := `
			MATCH (ag:ActionGraph {id: $id})
			UNWIND $steps AS step
			CREATE (s:Step {uid: step.uid, action_graph_id: $id, order: step.order, phase: step.phase,
			                 type: step.type, command: step.command, parameters: step.parameters,
			                 output_file: step.output_file, success_criteria: step.success_criteria,
			                 deterministic: step.deterministic})
			MERGE (ag)-[:HAS_STEP]->(s)
		`
		if _, err := tx.Run(ctx, stepsQuery, map[string]any{"id": ag.ID, "steps": stepParams}); err != nil {
			return nil, err
		}

		if len(pairs) > 0 {
			pairsQuery := `
				UNWIND $pairs AS pair
				MATCH (a:Step {uid: pair.from_uid})
				MATCH (b:Step {uid: pair.to_uid})
				MERGE (a)-[:NEXT]->(b)
			`
			if _, err := tx.Run(ctx, pairsQuery, map[string]any{"pairs": pairs}); err != nil {
				return nil, err
			}
		}

		startQuery := `
			MATCH (ag:ActionGraph {id: $id})
			MATCH (s:Step {uid: $start_uid})
			MERGE (ag)-[:STARTS_WITH]->(s)
		`
		if _, err := tx.Run(ctx, startQuery, map[string]any{"id": ag.ID, "start_uid": uids[0]}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graphstore: save action graph: %w", err)
	}
	return nil
}

type stepNode struct {
	UID  string
	Step model.Step
}

// loadActiveChain traverses STARTS_WITH -> NEXT* from the given
// ActionGraph, returning the currently-reachable steps in execution order.
// It always picks the longest such path, matching spec §4.2's
// get_action_graph_with_steps contract, and is reused by RepairStepChain to
// locate the failed step unambiguously among possibly-orphaned nodes left
// behind by prior repairs.
func loadActiveChain(ctx context.Context, tx neo4j.ManagedTransaction, actionGraphID string) ([]stepNode, error) {
	query := `
		MATCH (ag:ActionGraph {id: $id})-[:STARTS_WITH]->(start:Step)
		MATCH path = (start)-[:NEXT*0..]->(end:Step)
		WHERE NOT (end)-[:NEXT]->()
		WITH path ORDER BY length(path) DESC LIMIT 1
		UNWIND nodes(path) AS s
		RETURN s
	`
	res, err := tx.Run(ctx, query, map[string]any{"id": actionGraphID})
	if err != nil {
		return nil, err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]stepNode, 0, len(records))
	for _, rec := range records {
		nodeVal, _ := rec.Get("s")
		node, ok := nodeVal.(neo4j.Node)
		if !ok {
			continue
		}
		out = append(out, stepNode{UID: stringProp(node.Props, "uid"), Step: stepFromProps(node.Props)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step.Order < out[j].Step.Order })
	return out, nil
}

func stepFromProps(props map[string]any) model.Step {
	var params map[string]any
	if raw, ok := props["parameters"].(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &params)
	}
	order := 0
	switch v := props["order"].(type) {
	case int64:
		order = int(v)
	case int:
		order = v
	}
	deterministic, _ := props["deterministic"].(bool)
	return model.Step{
		Order:           order,
		Phase:           model.Phase(stringProp(props, "phase")),
		Type:            model.StepType(stringProp(props, "type")),
		Command:         stringProp(props, "command"),
		Parameters:      params,
		OutputFile:      stringProp(props, "output_file"),
		SuccessCriteria: stringProp(props, "success_criteria"),
		Deterministic:   deterministic,
	}
}

// GetActionGraphWithSteps selects the newest ActionGraph for the
// Fingerprint and loads its full, currently-active step chain.
func (r *Neo4jRepository) GetActionGraphWithSteps(ctx context.Context, fingerprintHash string) (model.ActionGraph, error) {
	session := r.readSession(ctx)
	defer session.Close(ctx)

	type loaded struct {
		ag    model.ActionGraph
		steps []stepNode
	}

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		agQuery := `
			MATCH (fp:Fingerprint {hash: $hash})-[:TRIGGERS]->(ag:ActionGraph)
			RETURN ag
			ORDER BY ag.created_at DESC, ag.id ASC
			LIMIT 1
		`
		res, err := tx.Run(ctx, agQuery, map[string]any{"hash": fingerprintHash})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, nil
		}
		nodeVal, _ := record.Get("ag")
		node, ok := nodeVal.(neo4j.Node)
		if !ok {
			return nil, nil
		}
		ag, err := actionGraphFromNode(node)
		if err != nil {
			return nil, err
		}

		steps, err := loadActiveChain(ctx, tx, ag.ID)
		if err != nil {
			return nil, err
		}
		return loaded{ag: ag, steps: steps}, nil
	})
	if err != nil {
		return model.ActionGraph{}, fmt.Errorf("graphstore: get action graph: %w", err)
	}
	l, ok := result.(loaded)
	if !ok {
		return model.ActionGraph{}, ErrNotFound
	}
	for _, sn := range l.steps {
		l.ag.Steps = append(l.ag.Steps, sn.Step)
	}
	return l.ag, nil
}

func actionGraphFromNode(node neo4j.Node) (model.ActionGraph, error) {
	props := node.Props
	createdAt, err := parseTimestamp(props["created_at"])
	if err != nil {
		return model.ActionGraph{}, err
	}
	updatedAt, err := parseTimestamp(props["updated_at"])
	if err != nil {
		return model.ActionGraph{}, err
	}
	timesExecuted, _ := props["times_executed"].(int64)
	timesSucceeded, _ := props["times_succeeded"].(int64)
	confidence, _ := props["confidence"].(float64)
	return model.ActionGraph{
		ID:                stringProp(props, "id"),
		VulnerabilityType: model.VulnerabilityType(stringProp(props, "vulnerability_type")),
		Description:       stringProp(props, "description"),
		TimesExecuted:     int(timesExecuted),
		TimesSucceeded:    int(timesSucceeded),
		Confidence:        confidence,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

// parseTimestamp converts the stored ISO-8601 (RFC3339Nano) string to a
// time.Time, per spec §4.2's "convert any datetime values to ISO-8601
// strings before materializing the value object." A time.Time value is
// returned unchanged; any other type yields the zero time.
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case time.Time:
		return t, nil
	default:
		return time.Time{}, nil
	}
}

// SaveFinding creates the Finding node and its PRODUCED_BY edge in one
// write.
func (r *Neo4jRepository) SaveFinding(ctx context.Context, actionGraphID string, f model.Finding) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	session := r.writeSession(ctx)
	defer session.Close(ctx)

	query := `
		MATCH (ag:ActionGraph {id: $action_graph_id})
		CREATE (f:Finding {id: $id, observation: $observation, severity: $severity,
		                    evidence_summary: $evidence_summary, observation_embedding: $observation_embedding,
		                    discovered_at: $discovered_at, target_url: $target_url})
		MERGE (f)-[:PRODUCED_BY]->(ag)
	`
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, map[string]any{
			"action_graph_id":       actionGraphID,
			"id":                    f.ID,
			"observation":           f.Observation,
			"severity":              string(f.Severity),
			"evidence_summary":      f.EvidenceSummary,
			"observation_embedding": embeddingParam(f.ObservationEmbedding),
			"discovered_at":         f.DiscoveredAt.UTC().Format(time.RFC3339Nano),
			"target_url":            f.TargetURL,
		})
	})
	if err != nil {
		return fmt.Errorf("graphstore: save finding: %w", err)
	}
	return nil
}

// RepairStepChain detaches the failed step's active successors, splices in
// newSteps, and records exactly one REPAIRED_TO edge. Repeated calls with
// the same failedStepOrder are a no-op once a REPAIRED_TO edge already
// exists from a step of that order in this action graph, satisfying the
// "no fan-out" idempotence law without requiring new-step content to be
// compared.
func (r *Neo4jRepository) RepairStepChain(ctx context.Context, actionGraphID string, failedStepOrder int, newSteps []model.Step, reason, errorLog string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	if len(newSteps) == 0 {
		return fmt.Errorf("graphstore: repair step chain: newSteps must be non-empty")
	}

	session := r.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		alreadyRepaired, err := stepAlreadyRepaired(ctx, tx, actionGraphID, failedStepOrder)
		if err != nil {
			return nil, err
		}
		if alreadyRepaired {
			return nil, nil
		}

		chain, err := loadActiveChain(ctx, tx, actionGraphID)
		if err != nil {
			return nil, err
		}
		var failedUID string
		failedIdx := -1
		for i, sn := range chain {
			if sn.Step.Order == failedStepOrder {
				failedUID = sn.UID
				failedIdx = i
				break
			}
		}
		if failedUID == "" {
			return nil, fmt.Errorf("no active step with order %d in action graph %s", failedStepOrder, actionGraphID)
		}

		var predecessorUID string
		if failedIdx > 0 {
			predecessorUID = chain[failedIdx-1].UID
		}
		doomedUIDs := make([]string, 0, len(chain)-failedIdx)
		for _, sn := range chain[failedIdx:] {
			doomedUIDs = append(doomedUIDs, sn.UID)
		}

		sorted := make([]model.Step, len(newSteps))
		copy(sorted, newSteps)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

		uids := make([]string, len(sorted))
		stepParams := make([]map[string]any, len(sorted))
		for i, s := range sorted {
			uids[i] = uuid.NewString()
			paramsJSON, err := json.Marshal(s.Parameters)
			if err != nil {
				return nil, fmt.Errorf("marshal repair step %d parameters: %w", s.Order, err)
			}
			stepParams[i] = map[string]any{
				"uid":              uids[i],
				"order":            s.Order,
				"phase":            string(s.Phase),
				"type":             string(s.Type),
				"command":          s.Command,
				"parameters":       string(paramsJSON),
				"output_file":      s.OutputFile,
				"success_criteria": s.SuccessCriteria,
				"deterministic":    s.Deterministic,
			}
		}

		detachQuery := `
			UNWIND $doomed_uids AS uid
			MATCH (s:Step {uid: uid})
			OPTIONAL MATCH (s)-[next_out:NEXT]->()
			DELETE next_out
		`
		if _, err := tx.Run(ctx, detachQuery, map[string]any{"doomed_uids": doomedUIDs}); err != nil {
			return nil, err
		}
		if predecessorUID != "" {
			if _, err := tx.Run(ctx, `MATCH (p:Step {uid: $p})-[r:NEXT]->(f:Step {uid: $f}) DELETE r`,
				map[string]any{"p": predecessorUID, "f": failedUID}); err != nil {
				return nil, err
			}
		} else {
			if _, err := tx.Run(ctx, `MATCH (:ActionGraph {id: $id})-[r:STARTS_WITH]->(f:Step {uid: $f}) DELETE r`,
				map[string]any{"id": actionGraphID, "f": failedUID}); err != nil {
				return nil, err
			}
		}

		createQuery := `
			MATCH (ag:ActionGraph {id: $id})
			UNWIND $steps AS step
			CREATE (s:Step {uid: step.uid, action_graph_id: $id, order: step.order, phase: step.phase,
			                 type: step.type, command: step.command, parameters: step.parameters,
			                 output_file: step.output_file, success_criteria: step.success_criteria,
			                 deterministic: step.deterministic})
			MERGE (ag)-[:HAS_STEP]->(s)
		`
		if _, err := tx.Run(ctx, createQuery, map[string]any{"id": actionGraphID, "steps": stepParams}); err != nil {
			return nil, err
		}

		pairs := make([]map[string]any, 0, len(uids)-1)
		for i := 0; i+1 < len(uids); i++ {
			pairs = append(pairs, map[string]any{"from_uid": uids[i], "to_uid": uids[i+1]})
		}
		if len(pairs) > 0 {
			if _, err := tx.Run(ctx, `
				UNWIND $pairs AS pair
				MATCH (a:Step {uid: pair.from_uid})
				MATCH (b:Step {uid: pair.to_uid})
				MERGE (a)-[:NEXT]->(b)
			`, map[string]any{"pairs": pairs}); err != nil {
				return nil, err
			}
		}

		if predecessorUID != "" {
			if _, err := tx.Run(ctx, `
				MATCH (p:Step {uid: $p}), (n:Step {uid: $n})
				MERGE (p)-[:NEXT]->(n)
			`, map[string]any{"p": predecessorUID, "n": uids[0]}); err != nil {
				return nil, err
			}
		} else {
			if _, err := tx.Run(ctx, `
				MATCH (ag:ActionGraph {id: $id}), (n:Step {uid: $n})
				MERGE (ag)-[:STARTS_WITH]->(n)
			`, map[string]any{"id": actionGraphID, "n": uids[0]}); err != nil {
				return nil, err
			}
		}

		if _, err := tx.Run(ctx, `
			MATCH (f:Step {uid: $f}), (n:Step {uid: $n})
			MERGE (f)-[:REPAIRED_TO {reason: $reason, timestamp: $timestamp, error_log: $error_log}]->(n)
		`, map[string]any{
			"f": failedUID, "n": uids[0],
			"reason": reason, "timestamp": time.Now().UTC().Format(time.RFC3339Nano), "error_log": errorLog,
		}); err != nil {
			return nil, err
		}

		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graphstore: repair step chain: %w", err)
	}
	return nil
}

func stepAlreadyRepaired(ctx context.Context, tx neo4j.ManagedTransaction, actionGraphID string, order int) (bool, error) {
	res, err := tx.Run(ctx, `MATCH (:Step {action_graph_id: $id, order: $order})-[:REPAIRED_TO]->() RETURN count(*) AS c`,
		map[string]any{"id": actionGraphID, "order": order})
	if err != nil {
		return false, err
	}
	record, err := res.Single(ctx)
	if err != nil {
		return false, nil
	}
	count, _ := record.Get("c")
	n, _ := count.(int64)
	return n > 0, nil
}

// IncrementExecutionCount atomically increments the run counters.
func (r *Neo4jRepository) IncrementExecutionCount(ctx context.Context, actionGraphID string, succeeded bool) error {
	session := r.writeSession(ctx)
	defer session.Close(ctx)

	query := `
		MATCH (ag:ActionGraph {id: $id})
		SET ag.times_executed = ag.times_executed + 1,
		    ag.times_succeeded = ag.times_succeeded + CASE WHEN $succeeded THEN 1 ELSE 0 END
	`
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, map[string]any{"id": actionGraphID, "succeeded": succeeded})
	})
	if err != nil {
		return fmt.Errorf("graphstore: increment execution count: %w", err)
	}
	return nil
}

// GetRepairHistory returns repair records for telemetry and repair-context
// assembly, newest first.
func (r *Neo4jRepository) GetRepairHistory(ctx context.Context, fingerprintHash string, maxResults int) ([]model.RepairRecord, error) {
	session := r.readSession(ctx)
	defer session.Close(ctx)

	query := `
		MATCH (fp:Fingerprint {hash: $hash})-[:TRIGGERS]->(:ActionGraph)-[:HAS_STEP]->(failed:Step)-[rep:REPAIRED_TO]->(repair:Step)
		RETURN failed, repair, rep.reason AS reason, rep.timestamp AS ts
		ORDER BY ts DESC
		LIMIT $limit
	`
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"hash": fingerprintHash, "limit": maxResults})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: get repair history: %w", err)
	}
	records, _ := result.([]*neo4j.Record)
	out := make([]model.RepairRecord, 0, len(records))
	for _, rec := range records {
		failedVal, _ := rec.Get("failed")
		repairVal, _ := rec.Get("repair")
		reasonVal, _ := rec.Get("reason")
		failedNode, ok1 := failedVal.(neo4j.Node)
		repairNode, ok2 := repairVal.(neo4j.Node)
		if !ok1 || !ok2 {
			continue
		}
		reason, _ := reasonVal.(string)
		out = append(out, model.RepairRecord{
			FailedStep:  stepFromProps(failedNode.Props),
			RepairStep:  stepFromProps(repairNode.Props),
			FailureType: reason,
		})
	}
	return out, nil
}

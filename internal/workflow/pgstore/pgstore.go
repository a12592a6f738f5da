// Package pgstore provides a PostgreSQL implementation of workflow.Store and
// workflow.MetricsStore.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/caseflow/internal/workflow"
)

var tracer = otel.Tracer("github.com/linnemanlabs/caseflow/internal/workflow/pgstore")

//go:embed schema.sql
var schema string

// Store persists workflow state and metrics history in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store. The
// pool stays owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const workflowColumns = `id, alert_id, status, current_stage, start_time, stage_start_time,
	updated_at, error_message, cancel_requested, metadata, alert, case_ref, analysis, decision`

// CreateWorkflow inserts a new workflow row.
func (s *Store) CreateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	ctx, span := s.startSpan(ctx, "pgstore.CreateWorkflow", "INSERT")
	defer span.End()

	cols, err := marshalWorkflow(w)
	if err != nil {
		return s.fail(span, err)
	}

	query := `INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	if _, err := s.pool.Exec(ctx, query,
		w.ID, w.AlertID, string(w.Status), string(w.CurrentStage),
		w.StartTime, w.StageStartTime, w.UpdatedAt, w.ErrorMessage, w.CancelRequested,
		cols.metadata, cols.alert, cols.caseRef, cols.analysis, cols.decision,
	); err != nil {
		return s.fail(span, fmt.Errorf("insert workflow: %w", err))
	}
	return nil
}

// UpdateWorkflow replaces the mutable columns of a workflow row.
// Single-record atomicity, last writer wins.
func (s *Store) UpdateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	ctx, span := s.startSpan(ctx, "pgstore.UpdateWorkflow", "UPDATE")
	defer span.End()

	cols, err := marshalWorkflow(w)
	if err != nil {
		return s.fail(span, err)
	}

	query := `UPDATE workflows SET
		status = $2, current_stage = $3, stage_start_time = $4, updated_at = $5,
		error_message = $6, cancel_requested = $7, metadata = $8,
		case_ref = $9, analysis = $10, decision = $11
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		w.ID, string(w.Status), string(w.CurrentStage), w.StageStartTime, w.UpdatedAt,
		w.ErrorMessage, w.CancelRequested, cols.metadata,
		cols.caseRef, cols.analysis, cols.decision,
	)
	if err != nil {
		return s.fail(span, fmt.Errorf("update workflow: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return &workflow.NotFoundError{WorkflowID: w.ID}
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	ctx, span := s.startSpan(ctx, "pgstore.GetWorkflow", "SELECT")
	defer span.End()

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`
	w, err := scanWorkflowRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &workflow.NotFoundError{WorkflowID: id}
		}
		return nil, s.fail(span, err)
	}
	return w, nil
}

// ListWorkflows returns workflows matching the status filter; the empty
// status matches everything.
func (s *Store) ListWorkflows(ctx context.Context, status workflow.Status) ([]*workflow.Workflow, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListWorkflows", "SELECT")
	defer span.End()

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("query workflows: %w", err))
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		w, err := scanWorkflowRow(rows)
		if err != nil {
			return nil, s.fail(span, err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(span, fmt.Errorf("iterate workflows: %w", err))
	}
	return out, nil
}

// AppendExecution inserts a stage execution record.
func (s *Store) AppendExecution(ctx context.Context, rec *workflow.StageExecutionRecord) error {
	ctx, span := s.startSpan(ctx, "pgstore.AppendExecution", "INSERT")
	defer span.End()

	meta, err := marshalMap(rec.Metadata)
	if err != nil {
		return s.fail(span, err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO stage_executions (id, agent_name, workflow_id, attempt, execution_time, success, ts, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.AgentName, rec.WorkflowID, rec.Attempt, rec.ExecutionTime, rec.Success, rec.Timestamp, meta,
	); err != nil {
		return s.fail(span, fmt.Errorf("insert stage execution: %w", err))
	}
	return nil
}

// ListExecutions returns execution records filtered by agent and timestamp.
func (s *Store) ListExecutions(ctx context.Context, agentName string, since time.Time) ([]*workflow.StageExecutionRecord, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListExecutions", "SELECT")
	defer span.End()

	query := `SELECT id, agent_name, workflow_id, attempt, execution_time, success, ts, metadata
		FROM stage_executions WHERE ($1 = '' OR agent_name = $1) AND ts >= $2 ORDER BY ts`
	rows, err := s.pool.Query(ctx, query, agentName, since)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("query stage executions: %w", err))
	}
	defer rows.Close()

	var out []*workflow.StageExecutionRecord
	for rows.Next() {
		var r workflow.StageExecutionRecord
		var meta []byte
		if err := rows.Scan(&r.ID, &r.AgentName, &r.WorkflowID, &r.Attempt, &r.ExecutionTime, &r.Success, &r.Timestamp, &meta); err != nil {
			return nil, s.fail(span, fmt.Errorf("scan stage execution: %w", err))
		}
		if err := unmarshalMap(meta, &r.Metadata); err != nil {
			return nil, s.fail(span, err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(span, fmt.Errorf("iterate stage executions: %w", err))
	}
	return out, nil
}

// AppendAgentError inserts an agent error record.
func (s *Store) AppendAgentError(ctx context.Context, ae *workflow.AgentError) error {
	ctx, span := s.startSpan(ctx, "pgstore.AppendAgentError", "INSERT")
	defer span.End()

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO agent_errors (id, agent_name, workflow_id, error, error_count, ts)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		ae.ID, ae.AgentName, ae.WorkflowID, ae.Error, ae.ErrorCount, ae.Timestamp,
	); err != nil {
		return s.fail(span, fmt.Errorf("insert agent error: %w", err))
	}
	return nil
}

// CountAgentErrors counts error records for an agent since the given time.
func (s *Store) CountAgentErrors(ctx context.Context, agentName string, since time.Time) (int, error) {
	ctx, span := s.startSpan(ctx, "pgstore.CountAgentErrors", "SELECT")
	defer span.End()

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM agent_errors WHERE ($1 = '' OR agent_name = $1) AND ts >= $2`,
		agentName, since,
	).Scan(&n)
	if err != nil {
		return 0, s.fail(span, fmt.Errorf("count agent errors: %w", err))
	}
	return n, nil
}

// AppendOptimization inserts an optimization report.
func (s *Store) AppendOptimization(ctx context.Context, rep *workflow.OptimizationReport) error {
	ctx, span := s.startSpan(ctx, "pgstore.AppendOptimization", "INSERT")
	defer span.End()

	bottlenecks, err := json.Marshal(rep.Bottlenecks)
	if err != nil {
		return s.fail(span, fmt.Errorf("marshal bottlenecks: %w", err))
	}
	recs, err := json.Marshal(rep.Recommendations)
	if err != nil {
		return s.fail(span, fmt.Errorf("marshal recommendations: %w", err))
	}
	perf, err := json.Marshal(rep.Performance)
	if err != nil {
		return s.fail(span, fmt.Errorf("marshal performance: %w", err))
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO workflow_optimizations (id, ts, status, bottlenecks, recommendations, note, performance)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rep.ID, rep.Timestamp, string(rep.Status), bottlenecks, recs, rep.Note, perf,
	); err != nil {
		return s.fail(span, fmt.Errorf("insert optimization: %w", err))
	}
	return nil
}

// ListOptimizations returns reports since the given time, oldest first.
func (s *Store) ListOptimizations(ctx context.Context, since time.Time) ([]*workflow.OptimizationReport, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListOptimizations", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, status, bottlenecks, recommendations, note, performance
		 FROM workflow_optimizations WHERE ts >= $1 ORDER BY ts`, since)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("query optimizations: %w", err))
	}
	defer rows.Close()

	var out []*workflow.OptimizationReport
	for rows.Next() {
		var r workflow.OptimizationReport
		var status string
		var bottlenecks, recs, perf []byte
		if err := rows.Scan(&r.ID, &r.Timestamp, &status, &bottlenecks, &recs, &r.Note, &perf); err != nil {
			return nil, s.fail(span, fmt.Errorf("scan optimization: %w", err))
		}
		r.Status = workflow.OptimizationStatus(status)
		if err := json.Unmarshal(bottlenecks, &r.Bottlenecks); err != nil {
			return nil, s.fail(span, fmt.Errorf("unmarshal bottlenecks: %w", err))
		}
		if err := json.Unmarshal(recs, &r.Recommendations); err != nil {
			return nil, s.fail(span, fmt.Errorf("unmarshal recommendations: %w", err))
		}
		if err := json.Unmarshal(perf, &r.Performance); err != nil {
			return nil, s.fail(span, fmt.Errorf("unmarshal performance: %w", err))
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(span, fmt.Errorf("iterate optimizations: %w", err))
	}
	return out, nil
}

// AppendStuckAnalysis inserts a stuck-workflow analysis record.
func (s *Store) AppendStuckAnalysis(ctx context.Context, a *workflow.StuckWorkflowAnalysis) error {
	ctx, span := s.startSpan(ctx, "pgstore.AppendStuckAnalysis", "INSERT")
	defer span.End()

	analysis, err := json.Marshal(a.Analysis)
	if err != nil {
		return s.fail(span, fmt.Errorf("marshal stuck analysis: %w", err))
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO stuck_workflow_analyses (id, workflow_id, stage, analysis, ts)
		 VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.WorkflowID, string(a.Stage), analysis, a.Timestamp,
	); err != nil {
		return s.fail(span, fmt.Errorf("insert stuck analysis: %w", err))
	}
	return nil
}

// ListStuckAnalyses returns analyses filtered by workflow ID and timestamp.
func (s *Store) ListStuckAnalyses(ctx context.Context, workflowID string, since time.Time) ([]*workflow.StuckWorkflowAnalysis, error) {
	ctx, span := s.startSpan(ctx, "pgstore.ListStuckAnalyses", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, workflow_id, stage, analysis, ts FROM stuck_workflow_analyses
		 WHERE ($1 = '' OR workflow_id = $1) AND ts >= $2 ORDER BY ts`,
		workflowID, since)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("query stuck analyses: %w", err))
	}
	defer rows.Close()

	var out []*workflow.StuckWorkflowAnalysis
	for rows.Next() {
		var r workflow.StuckWorkflowAnalysis
		var stage string
		var analysis []byte
		if err := rows.Scan(&r.ID, &r.WorkflowID, &stage, &analysis, &r.Timestamp); err != nil {
			return nil, s.fail(span, fmt.Errorf("scan stuck analysis: %w", err))
		}
		r.Stage = workflow.Stage(stage)
		if err := json.Unmarshal(analysis, &r.Analysis); err != nil {
			return nil, s.fail(span, fmt.Errorf("unmarshal stuck analysis: %w", err))
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(span, fmt.Errorf("iterate stuck analyses: %w", err))
	}
	return out, nil
}

func (s *Store) startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func (s *Store) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

type workflowColumnsJSON struct {
	metadata, alert, caseRef, analysis, decision []byte
}

func marshalWorkflow(w *workflow.Workflow) (workflowColumnsJSON, error) {
	var c workflowColumnsJSON
	var err error
	if c.metadata, err = marshalOrNil(w.Metadata, w.Metadata == nil); err != nil {
		return c, fmt.Errorf("marshal metadata: %w", err)
	}
	if c.alert, err = marshalOrNil(w.Alert, w.Alert == nil); err != nil {
		return c, fmt.Errorf("marshal alert: %w", err)
	}
	if c.caseRef, err = marshalOrNil(w.Case, w.Case == nil); err != nil {
		return c, fmt.Errorf("marshal case: %w", err)
	}
	if c.analysis, err = marshalOrNil(w.Analysis, w.Analysis == nil); err != nil {
		return c, fmt.Errorf("marshal analysis: %w", err)
	}
	if c.decision, err = marshalOrNil(w.Decision, w.Decision == nil); err != nil {
		return c, fmt.Errorf("marshal decision: %w", err)
	}
	return c, nil
}

func marshalOrNil(v any, isNil bool) ([]byte, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}

func marshalMap(m map[string]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func unmarshalMap(b []byte, dst *map[string]string) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("unmarshal metadata: %w", err)
	}
	return nil
}

// scanWorkflowRow scans a single workflows row.
func scanWorkflowRow(row pgx.Row) (*workflow.Workflow, error) {
	var (
		w        workflow.Workflow
		status   string
		stage    string
		metadata []byte
		alert    []byte
		caseRef  []byte
		analysis []byte
		decision []byte
	)
	err := row.Scan(
		&w.ID, &w.AlertID, &status, &stage, &w.StartTime, &w.StageStartTime,
		&w.UpdatedAt, &w.ErrorMessage, &w.CancelRequested,
		&metadata, &alert, &caseRef, &analysis, &decision,
	)
	if err != nil {
		return nil, err
	}

	w.Status = workflow.Status(status)
	w.CurrentStage = workflow.Stage(stage)

	if err := unmarshalMap(metadata, &w.Metadata); err != nil {
		return nil, err
	}
	if len(alert) > 0 {
		w.Alert = &workflow.Alert{}
		if err := json.Unmarshal(alert, w.Alert); err != nil {
			return nil, fmt.Errorf("unmarshal alert: %w", err)
		}
	}
	if len(caseRef) > 0 {
		w.Case = &workflow.CaseRef{}
		if err := json.Unmarshal(caseRef, w.Case); err != nil {
			return nil, fmt.Errorf("unmarshal case: %w", err)
		}
	}
	if len(analysis) > 0 {
		w.Analysis = &workflow.AnalysisResult{}
		if err := json.Unmarshal(analysis, w.Analysis); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
	}
	if len(decision) > 0 {
		w.Decision = &workflow.Decision{}
		if err := json.Unmarshal(decision, w.Decision); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
	}
	return &w, nil
}

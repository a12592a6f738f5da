package workflow

import (
	"context"
	"time"
)

// Store is the persistence contract for workflow records. Updates are
// last-writer-wins with single-record atomicity; the core never deletes.
type Store interface {
	CreateWorkflow(ctx context.Context, w *Workflow) error
	UpdateWorkflow(ctx context.Context, w *Workflow) error

	// GetWorkflow returns a *NotFoundError for an unknown ID.
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)

	// ListWorkflows filters by status; the empty status returns everything.
	ListWorkflows(ctx context.Context, status Status) ([]*Workflow, error)
}

// MetricsStore is the append-only contract for execution history, agent
// errors, optimization reports, and stuck-workflow analyses. Appends must be
// safe under concurrent workflows; duplicates on a retried write are
// acceptable and never deduplicated.
type MetricsStore interface {
	AppendExecution(ctx context.Context, rec *StageExecutionRecord) error

	// ListExecutions filters by agent name (empty = all agents) and by
	// timestamp (zero since = full history).
	ListExecutions(ctx context.Context, agentName string, since time.Time) ([]*StageExecutionRecord, error)

	AppendAgentError(ctx context.Context, ae *AgentError) error
	CountAgentErrors(ctx context.Context, agentName string, since time.Time) (int, error)

	AppendOptimization(ctx context.Context, rep *OptimizationReport) error
	ListOptimizations(ctx context.Context, since time.Time) ([]*OptimizationReport, error)

	AppendStuckAnalysis(ctx context.Context, a *StuckWorkflowAnalysis) error
	ListStuckAnalyses(ctx context.Context, workflowID string, since time.Time) ([]*StuckWorkflowAnalysis, error)
}

package workflow

import "time"

// Status tracks where a workflow is in its lifecycle.
type Status string

const (
	// StatusPending means created, not yet picked up by a driver
	StatusPending Status = "pending"

	// StatusRunning means the pipeline is executing; CurrentStage says where
	StatusRunning Status = "running"

	// StatusCompleted means the pipeline finished successfully
	StatusCompleted Status = "completed"

	// StatusError means the pipeline finished with an unrecoverable failure
	StatusError Status = "error"

	// StatusStuck is a diagnostic marker set by the monitor; it does not
	// prevent a later Advance from resuming the workflow
	StatusStuck Status = "stuck"
)

// Terminal reports whether a status can never transition again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Stage is one discrete pipeline step operating on a single case.
type Stage string

const (
	StageSelection     Stage = "selection"
	StageInvestigation Stage = "investigation"
	StageDecision      Stage = "decision"
	StageNotification  Stage = "notification"
)

// Stages is the fixed pipeline order.
var Stages = []Stage{StageSelection, StageInvestigation, StageDecision, StageNotification}

// Alert is the inbound payload that starts a workflow. The ID is required;
// everything else passes through to the selection criteria and audit trail.
type Alert struct {
	ID       string            `json:"id" validate:"required"`
	Severity string            `json:"severity,omitempty"`
	Score    float64           `json:"score,omitempty"`
	Source   string            `json:"source,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CaseRef identifies a case in the case-management system plus the fields the
// pipeline inspects when ranking and reporting.
type CaseRef struct {
	ID         string  `json:"id"`
	TicketID   string  `json:"ticket_id"`
	Title      string  `json:"title,omitempty"`
	Severity   string  `json:"severity,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Status     string  `json:"status,omitempty"`
	AlertCount int     `json:"alert_count,omitempty"`
}

// AnalysisResult is the investigation stage's output for a case.
type AnalysisResult struct {
	CaseID             string    `json:"case_id"`
	TicketID           string    `json:"ticket_id"`
	SeverityScore      float64   `json:"severity_score"`
	PriorityScore      float64   `json:"priority_score"`
	KeyIndicators      []string  `json:"key_indicators,omitempty"`
	Patterns           []string  `json:"patterns,omitempty"`
	RecommendedActions []string  `json:"recommended_actions,omitempty"`
	KillChainStages    []string  `json:"kill_chain_stages,omitempty"`
	AlertCount         int       `json:"alert_count"`
	Summary            string    `json:"summary,omitempty"`
	AnalyzedAt         time.Time `json:"analyzed_at"`
}

// Decision is the decision stage's verdict on whether a case needs a human.
type Decision struct {
	NeedsHuman bool     `json:"needs_human"`
	RiskLevel  int      `json:"risk_level"`
	Priority   int      `json:"priority"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Workflow is the persisted, single-case execution context tracked across
// stage transitions. Accumulated stage outputs (Case, Analysis, Decision)
// live on the record so an advance after a restart has what it needs.
type Workflow struct {
	ID              string            `json:"id"`
	AlertID         string            `json:"alert_id"`
	Status          Status            `json:"status"`
	CurrentStage    Stage             `json:"current_stage"`
	StartTime       time.Time         `json:"start_time"`
	StageStartTime  time.Time         `json:"stage_start_time"`
	UpdatedAt       time.Time         `json:"updated_at"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`

	Alert    *Alert          `json:"alert,omitempty"`
	Case     *CaseRef        `json:"case,omitempty"`
	Analysis *AnalysisResult `json:"analysis,omitempty"`
	Decision *Decision       `json:"decision,omitempty"`
}

// StageExecutionRecord is the immutable outcome of a single stage attempt.
// Every attempt gets one, including retried and failed attempts.
type StageExecutionRecord struct {
	ID            string            `json:"id"`
	AgentName     string            `json:"agent_name"`
	WorkflowID    string            `json:"workflow_id"`
	Attempt       int               `json:"attempt"`
	ExecutionTime float64           `json:"execution_time"`
	Success       bool              `json:"success"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// AgentError is the durable record of a stage failure, with the cumulative
// failure count for that agent at the time it was written.
type AgentError struct {
	ID         string    `json:"id"`
	AgentName  string    `json:"agent_name"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	Error      string    `json:"error"`
	ErrorCount int       `json:"error_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// AgentStatus is the derived health classification of a stage agent.
type AgentStatus string

const (
	AgentHealthy  AgentStatus = "healthy"
	AgentDegraded AgentStatus = "degraded"
	AgentFailing  AgentStatus = "failing"
	AgentUnknown  AgentStatus = "unknown"
)

// AgentPerformance aggregates an agent's execution history.
type AgentPerformance struct {
	SuccessRate      float64     `json:"success_rate"`
	AvgExecutionTime float64     `json:"avg_execution_time"`
	TotalExecutions  int         `json:"total_executions"`
	ErrorCount       int         `json:"error_count"`
	CurrentStatus    AgentStatus `json:"current_status"`
}

// OptimizationStatus is the overall verdict of an optimization run.
type OptimizationStatus string

const (
	OptimizationOptimal    OptimizationStatus = "optimal"
	OptimizationBottleneck OptimizationStatus = "bottleneck_detected"
)

// Recommendation is one structured advice item from the advisory function.
type Recommendation struct {
	Description    string `json:"description"`
	Priority       string `json:"priority,omitempty"`
	ExpectedImpact string `json:"expected_impact,omitempty"`
}

// OptimizationReport is the immutable output of one optimization run,
// retained for audit and trend analysis.
type OptimizationReport struct {
	ID              string                      `json:"id"`
	Timestamp       time.Time                   `json:"timestamp"`
	Status          OptimizationStatus          `json:"status"`
	Bottlenecks     []string                    `json:"bottlenecks,omitempty"`
	Recommendations []Recommendation            `json:"recommendations,omitempty"`
	Note            string                      `json:"note,omitempty"`
	Performance     map[string]AgentPerformance `json:"performance_metrics,omitempty"`
}

// StuckDiagnosis is the payload of a stuck-workflow detection event.
type StuckDiagnosis struct {
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	LastStatus     Status  `json:"last_status"`
	SuspectedCause string  `json:"suspected_cause,omitempty"`
	Diagnosis      string  `json:"diagnosis,omitempty"`
}

// StuckWorkflowAnalysis records one detection of a stalled workflow. Each
// scan that still finds the workflow stalled appends a fresh record.
type StuckWorkflowAnalysis struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Stage      Stage          `json:"stage"`
	Analysis   StuckDiagnosis `json:"analysis"`
	Timestamp  time.Time      `json:"timestamp"`
}

// MetricsSnapshot is the aggregate view handed to the advisory function.
type MetricsSnapshot struct {
	TotalExecutions    int                         `json:"total_executions"`
	OverallSuccessRate float64                     `json:"overall_success_rate"`
	TotalAvgTime       float64                     `json:"total_avg_time"`
	Agents             map[string]AgentPerformance `json:"agents"`
}

// Advice is the advisory function's structured answer to a metrics snapshot.
type Advice struct {
	Bottlenecks     []string         `json:"bottlenecks,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Summary         string           `json:"summary,omitempty"`
}

// nextStage returns the stage after s in the pipeline, or false when s is the
// last stage.
func nextStage(s Stage) (Stage, bool) {
	for i, st := range Stages {
		if st == s && i+1 < len(Stages) {
			return Stages[i+1], true
		}
	}
	return "", false
}

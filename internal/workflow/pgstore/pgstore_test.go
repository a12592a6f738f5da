package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/caseflow/internal/postgres"
	"github.com/linnemanlabs/caseflow/internal/workflow"
	"github.com/linnemanlabs/caseflow/internal/workflow/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("CASEFLOW_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CASEFLOW_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func testWorkflow() *workflow.Workflow {
	now := time.Now().Truncate(time.Microsecond).UTC()
	return &workflow.Workflow{
		ID:             ulid.Make().String(),
		AlertID:        "alert-" + ulid.Make().String(),
		Status:         workflow.StatusRunning,
		CurrentStage:   workflow.StageSelection,
		StartTime:      now,
		StageStartTime: now,
		UpdatedAt:      now,
		Metadata:       map[string]string{"source": "integration-test"},
		Alert:          &workflow.Alert{ID: "al-1", Severity: "High", Source: "edr"},
	}
}

func TestCreateAndGetWorkflow(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w := testWorkflow()
	w.Case = &workflow.CaseRef{ID: "case-1", TicketID: "T-100", Severity: "Critical", Score: 92.5}
	w.Analysis = &workflow.AnalysisResult{CaseID: "case-1", SeverityScore: 85, KeyIndicators: []string{"lateral movement"}}
	w.Decision = &workflow.Decision{NeedsHuman: true, RiskLevel: 9, Priority: 10, Reasons: []string{"risk level 9 exceeds threshold"}}

	if err := s.CreateWorkflow(ctx, w); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	got, err := s.GetWorkflow(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}

	assertEqual(t, "ID", w.ID, got.ID)
	assertEqual(t, "AlertID", w.AlertID, got.AlertID)
	assertEqual(t, "Status", string(w.Status), string(got.Status))
	assertEqual(t, "CurrentStage", string(w.CurrentStage), string(got.CurrentStage))
	assertEqual(t, "Metadata[source]", "integration-test", got.Metadata["source"])

	if got.Alert == nil || got.Alert.Source != "edr" {
		t.Errorf("Alert round-trip mismatch: %+v", got.Alert)
	}
	if got.Case == nil || got.Case.Score != 92.5 {
		t.Errorf("Case round-trip mismatch: %+v", got.Case)
	}
	if got.Analysis == nil || len(got.Analysis.KeyIndicators) != 1 {
		t.Errorf("Analysis round-trip mismatch: %+v", got.Analysis)
	}
	if got.Decision == nil || !got.Decision.NeedsHuman || got.Decision.Priority != 10 {
		t.Errorf("Decision round-trip mismatch: %+v", got.Decision)
	}
}

func TestGetWorkflowMissing(t *testing.T) {
	s := openStore(t)

	_, err := s.GetWorkflow(context.Background(), "nonexistent-id")
	var nf *workflow.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("GetWorkflow error = %v, want NotFoundError", err)
	}
}

func TestUpdateWorkflow(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w := testWorkflow()
	if err := s.CreateWorkflow(ctx, w); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	w.Status = workflow.StatusCompleted
	w.CurrentStage = workflow.StageNotification
	w.ErrorMessage = ""
	w.Metadata["resolution"] = "escalated"
	w.UpdatedAt = time.Now().Truncate(time.Microsecond).UTC()

	if err := s.UpdateWorkflow(ctx, w); err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}

	got, err := s.GetWorkflow(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflow after update: %v", err)
	}
	assertEqual(t, "Status", string(workflow.StatusCompleted), string(got.Status))
	assertEqual(t, "Metadata[resolution]", "escalated", got.Metadata["resolution"])
}

func TestUpdateWorkflowMissing(t *testing.T) {
	s := openStore(t)

	w := testWorkflow()
	err := s.UpdateWorkflow(context.Background(), w)
	var nf *workflow.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("UpdateWorkflow error = %v, want NotFoundError", err)
	}
}

func TestListWorkflowsByStatus(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	running := testWorkflow()
	done := testWorkflow()
	done.Status = workflow.StatusCompleted
	for _, w := range []*workflow.Workflow{running, done} {
		if err := s.CreateWorkflow(ctx, w); err != nil {
			t.Fatalf("CreateWorkflow: %v", err)
		}
	}

	got, err := s.ListWorkflows(ctx, workflow.StatusRunning)
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	var foundRunning, foundDone bool
	for _, w := range got {
		if w.ID == running.ID {
			foundRunning = true
		}
		if w.ID == done.ID {
			foundDone = true
		}
	}
	if !foundRunning {
		t.Error("running workflow missing from filtered list")
	}
	if foundDone {
		t.Error("completed workflow returned by running filter")
	}
}

func TestExecutionHistory(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	agent := "agent-" + ulid.Make().String()
	now := time.Now().Truncate(time.Microsecond).UTC()

	recs := []*workflow.StageExecutionRecord{
		{ID: ulid.Make().String(), AgentName: agent, WorkflowID: "wf-1", Attempt: 1, ExecutionTime: 1.5, Success: true, Timestamp: now.Add(-2 * time.Hour)},
		{ID: ulid.Make().String(), AgentName: agent, WorkflowID: "wf-1", Attempt: 1, ExecutionTime: 2.5, Success: false, Timestamp: now},
	}
	for _, r := range recs {
		if err := s.AppendExecution(ctx, r); err != nil {
			t.Fatalf("AppendExecution: %v", err)
		}
	}

	got, err := s.ListExecutions(ctx, agent, time.Time{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("executions = %d, want 2", len(got))
	}

	recent, err := s.ListExecutions(ctx, agent, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListExecutions since: %v", err)
	}
	if len(recent) != 1 || recent[0].Success {
		t.Errorf("recent executions = %+v, want only the failed attempt", recent)
	}
}

func TestAgentErrorCount(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	agent := "agent-" + ulid.Make().String()
	now := time.Now().Truncate(time.Microsecond).UTC()

	for i := 0; i < 3; i++ {
		ae := &workflow.AgentError{
			ID:         ulid.Make().String(),
			AgentName:  agent,
			WorkflowID: "wf-1",
			Error:      "upstream timeout",
			ErrorCount: i + 1,
			Timestamp:  now,
		}
		if err := s.AppendAgentError(ctx, ae); err != nil {
			t.Fatalf("AppendAgentError: %v", err)
		}
	}

	n, err := s.CountAgentErrors(ctx, agent, time.Time{})
	if err != nil {
		t.Fatalf("CountAgentErrors: %v", err)
	}
	if n != 3 {
		t.Errorf("error count = %d, want 3", n)
	}
}

func TestOptimizationRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	rep := &workflow.OptimizationReport{
		ID:          ulid.Make().String(),
		Status:      workflow.OptimizationBottleneck,
		Bottlenecks: []string{"investigation"},
		Recommendations: []workflow.Recommendation{
			{Description: "cache case summaries", Priority: "high", ExpectedImpact: "halves analysis latency"},
		},
		Performance: map[string]workflow.AgentPerformance{
			"investigation": {TotalExecutions: 10, SuccessRate: 0.8, AvgExecutionTime: 42, CurrentStatus: workflow.AgentDegraded},
		},
		Note:      "investigation stage dominates latency",
		Timestamp: time.Now().Truncate(time.Microsecond).UTC(),
	}
	if err := s.AppendOptimization(ctx, rep); err != nil {
		t.Fatalf("AppendOptimization: %v", err)
	}

	got, err := s.ListOptimizations(ctx, rep.Timestamp.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListOptimizations: %v", err)
	}
	var found *workflow.OptimizationReport
	for _, r := range got {
		if r.ID == rep.ID {
			found = r
		}
	}
	if found == nil {
		t.Fatal("persisted report missing from list")
	}
	if len(found.Recommendations) != 1 || found.Recommendations[0].Priority != "high" {
		t.Errorf("recommendations round-trip mismatch: %+v", found.Recommendations)
	}
	if found.Performance["investigation"].CurrentStatus != workflow.AgentDegraded {
		t.Errorf("performance round-trip mismatch: %+v", found.Performance)
	}
}

func TestStuckAnalysisRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	wfID := ulid.Make().String()
	a := &workflow.StuckWorkflowAnalysis{
		ID:         ulid.Make().String(),
		WorkflowID: wfID,
		Stage:      workflow.StageInvestigation,
		Analysis: workflow.StuckDiagnosis{
			ElapsedSeconds: 1234,
			LastStatus:     workflow.StatusRunning,
			SuspectedCause: "dependency outage",
			Diagnosis:      "case API unreachable",
		},
		Timestamp: time.Now().Truncate(time.Microsecond).UTC(),
	}
	if err := s.AppendStuckAnalysis(ctx, a); err != nil {
		t.Fatalf("AppendStuckAnalysis: %v", err)
	}

	got, err := s.ListStuckAnalyses(ctx, wfID, time.Time{})
	if err != nil {
		t.Fatalf("ListStuckAnalyses: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("analyses = %d, want 1", len(got))
	}
	if got[0].Analysis.SuspectedCause != "dependency outage" {
		t.Errorf("diagnosis round-trip mismatch: %+v", got[0].Analysis)
	}
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: got %v, want %v", field, got, want)
	}
}

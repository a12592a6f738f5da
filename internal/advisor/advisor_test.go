package advisor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/caseflow/internal/workflow"
)

type completerFunc func(ctx context.Context, system, prompt string) (string, error)

func (f completerFunc) Complete(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

const sampleAdvice = `Bottlenecks:
- investigation stage latency
- decision stage error rate

Recommendations:
- [high] Cache case summaries between retries
- [medium] Batch alert fetches
- Add more logging

Summary: investigation dominates end-to-end latency`

func TestRecommend_ParsesSections(t *testing.T) {
	t.Parallel()

	a := New(completerFunc(func(context.Context, string, string) (string, error) {
		return sampleAdvice, nil
	}), nil)

	advice, err := a.Recommend(context.Background(), workflow.MetricsSnapshot{})
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}

	if len(advice.Bottlenecks) != 2 {
		t.Errorf("bottlenecks = %v, want 2 items", advice.Bottlenecks)
	}
	if len(advice.Recommendations) != 3 {
		t.Fatalf("recommendations = %v, want 3 items", advice.Recommendations)
	}
	if advice.Recommendations[0].Priority != "high" {
		t.Errorf("priority = %q, want high", advice.Recommendations[0].Priority)
	}
	if advice.Recommendations[0].Description != "Cache case summaries between retries" {
		t.Errorf("description = %q, want tag stripped", advice.Recommendations[0].Description)
	}
	if advice.Recommendations[2].Priority != "" {
		t.Errorf("untagged priority = %q, want empty", advice.Recommendations[2].Priority)
	}
	if advice.Summary != "investigation dominates end-to-end latency" {
		t.Errorf("summary = %q, want inline summary text", advice.Summary)
	}
}

func TestRecommend_PromptCarriesMetrics(t *testing.T) {
	t.Parallel()

	var gotPrompt string
	a := New(completerFunc(func(_ context.Context, _, prompt string) (string, error) {
		gotPrompt = prompt
		return "Summary: fine", nil
	}), nil)

	snap := workflow.MetricsSnapshot{
		TotalExecutions:    42,
		OverallSuccessRate: 0.9,
		TotalAvgTime:       12.5,
		Agents: map[string]workflow.AgentPerformance{
			"investigation": {AvgExecutionTime: 40, SuccessRate: 0.8, ErrorCount: 5},
		},
	}
	if _, err := a.Recommend(context.Background(), snap); err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}

	for _, want := range []string{
		"Total Executions: 42",
		"Overall Success Rate: 90.0%",
		"investigation:",
		"Average Time: 40.0s",
		"Errors: 5",
	} {
		if !strings.Contains(gotPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestRecommend_FailureWrapsAdvisoryUnavailable(t *testing.T) {
	t.Parallel()

	a := New(completerFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("connection refused")
	}), nil)

	_, err := a.Recommend(context.Background(), workflow.MetricsSnapshot{})
	if !errors.Is(err, workflow.ErrAdvisoryUnavailable) {
		t.Fatalf("error = %v, want ErrAdvisoryUnavailable", err)
	}
}

func TestDiagnoseStuck_ReturnsTrimmedText(t *testing.T) {
	t.Parallel()

	a := New(completerFunc(func(context.Context, string, string) (string, error) {
		return "\n  The case API is likely rate limiting the investigation stage.  \n", nil
	}), nil)

	w := &workflow.Workflow{ID: "wf-1", CurrentStage: workflow.StageInvestigation, Status: workflow.StatusStuck}
	got, err := a.DiagnoseStuck(context.Background(), w, 20*time.Minute)
	if err != nil {
		t.Fatalf("DiagnoseStuck() error = %v", err)
	}
	if got != "The case API is likely rate limiting the investigation stage." {
		t.Errorf("diagnosis = %q, want trimmed completion", got)
	}
}

func TestDiagnoseStuck_PromptCarriesWorkflowState(t *testing.T) {
	t.Parallel()

	var gotPrompt string
	a := New(completerFunc(func(_ context.Context, _, prompt string) (string, error) {
		gotPrompt = prompt
		return "ok", nil
	}), nil)

	w := &workflow.Workflow{
		ID:           "wf-1",
		CurrentStage: workflow.StageInvestigation,
		Status:       workflow.StatusStuck,
		ErrorMessage: "stage investigation failed: timeout",
		Case:         &workflow.CaseRef{TicketID: "T-9", Severity: "Critical"},
	}
	if _, err := a.DiagnoseStuck(context.Background(), w, 15*time.Minute); err != nil {
		t.Fatalf("DiagnoseStuck() error = %v", err)
	}

	for _, want := range []string{
		"Workflow ID: wf-1",
		"Current Stage: investigation",
		"Time in Stage: 900s",
		"Last Error: stage investigation failed: timeout",
		"Case: T-9 (Critical)",
	} {
		if !strings.Contains(gotPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestDiagnoseStuck_FailureWrapsAdvisoryUnavailable(t *testing.T) {
	t.Parallel()

	a := New(completerFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("overloaded")
	}), nil)

	w := &workflow.Workflow{ID: "wf-1"}
	_, err := a.DiagnoseStuck(context.Background(), w, time.Minute)
	if !errors.Is(err, workflow.ErrAdvisoryUnavailable) {
		t.Fatalf("error = %v, want ErrAdvisoryUnavailable", err)
	}
}

func TestParseAdvice_SummaryOnFollowingLine(t *testing.T) {
	t.Parallel()

	advice := parseAdvice("Summary:\nthe pipeline is healthy")
	if advice.Summary != "the pipeline is healthy" {
		t.Errorf("summary = %q, want follow-on line captured", advice.Summary)
	}
}

func TestParseAdvice_IgnoresUnstructuredText(t *testing.T) {
	t.Parallel()

	advice := parseAdvice("I looked at the metrics.\n- a stray bullet\nEverything seems fine.")
	if len(advice.Bottlenecks) != 0 || len(advice.Recommendations) != 0 {
		t.Errorf("advice = %+v, want nothing extracted outside sections", advice)
	}
}

package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/caseflow/internal/workflow"
)

// capture runs a webhook server and returns the notifier plus a pointer to
// the last decoded payload.
func capture(t *testing.T) (*Notifier, *map[string]any) {
	t.Helper()
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("payload is not JSON: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL), &payload
}

// blockTexts flattens all text fields in the block list for matching.
func blockTexts(t *testing.T, payload map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(payload["blocks"])
	if err != nil {
		t.Fatalf("marshal blocks: %v", err)
	}
	return string(raw)
}

func TestSendEscalation(t *testing.T) {
	t.Parallel()

	n, payload := capture(t)

	c := workflow.CaseRef{ID: "c1", TicketID: "1042", Severity: "Critical", Score: 92}
	a := &workflow.AnalysisResult{
		SeverityScore:   88,
		PriorityScore:   90,
		AlertCount:      4,
		KeyIndicators:   []string{"beacon interval", "rare domain"},
		KillChainStages: []string{"command-and-control"},
		Summary:         "Periodic outbound connections to a rare domain.",
	}
	if err := n.SendEscalation(context.Background(), c, a); err != nil {
		t.Fatalf("SendEscalation() error = %v", err)
	}

	texts := blockTexts(t, *payload)
	for _, want := range []string{
		"Security Case Requires Attention",
		"*Case ID:*\\n#1042",
		"*Severity:*\\nCritical",
		"*Risk Score:*\\n88",
		"*Risk Factors:*",
		"beacon interval",
		"*Kill Chain Stages:*",
		"*Case Summary:*",
	} {
		if !strings.Contains(texts, want) {
			t.Errorf("payload missing %q", want)
		}
	}
}

func TestSendEscalation_OptionalBlocksOmitted(t *testing.T) {
	t.Parallel()

	n, payload := capture(t)

	c := workflow.CaseRef{TicketID: "7", Severity: "Low"}
	if err := n.SendEscalation(context.Background(), c, &workflow.AnalysisResult{}); err != nil {
		t.Fatalf("SendEscalation() error = %v", err)
	}

	texts := blockTexts(t, *payload)
	for _, absent := range []string{"Risk Factors", "Kill Chain Stages", "Case Summary"} {
		if strings.Contains(texts, absent) {
			t.Errorf("payload contains %q for an empty analysis", absent)
		}
	}
}

func TestNotifyStuck(t *testing.T) {
	t.Parallel()

	n, payload := capture(t)

	sa := &workflow.StuckWorkflowAnalysis{
		WorkflowID: "wf-1",
		Stage:      workflow.StageInvestigation,
		Analysis: workflow.StuckDiagnosis{
			ElapsedSeconds: 1234,
			LastStatus:     workflow.StatusRunning,
			SuspectedCause: "dependency outage",
			Diagnosis:      "case API unreachable since 09:00",
		},
	}
	if err := n.NotifyStuck(context.Background(), sa); err != nil {
		t.Fatalf("NotifyStuck() error = %v", err)
	}

	texts := blockTexts(t, *payload)
	for _, want := range []string{
		"Stuck Workflow Alert",
		"*Workflow ID:*\\nwf-1",
		"*Current Stage:*\\ninvestigation",
		"*Time in Stage:*\\n1234s",
		"*Suspected Cause:*",
		"case API unreachable",
	} {
		if !strings.Contains(texts, want) {
			t.Errorf("payload missing %q", want)
		}
	}
}

func TestNotifyOptimization(t *testing.T) {
	t.Parallel()

	n, payload := capture(t)

	rep := &workflow.OptimizationReport{
		Status:      workflow.OptimizationBottleneck,
		Bottlenecks: []string{"investigation"},
		Recommendations: []workflow.Recommendation{
			{Description: "Cache case summaries", Priority: "high", ExpectedImpact: "halves latency"},
			{Description: "Add more workers"},
		},
		Note: "investigation dominates latency",
	}
	if err := n.NotifyOptimization(context.Background(), rep); err != nil {
		t.Fatalf("NotifyOptimization() error = %v", err)
	}

	texts := blockTexts(t, *payload)
	for _, want := range []string{
		"Workflow Optimization Recommendations",
		"*Bottlenecks Identified:*",
		"[HIGH] Cache case summaries (Expected Impact: halves latency)",
		"Add more workers",
		"*Summary:*",
	} {
		if !strings.Contains(texts, want) {
			t.Errorf("payload missing %q", want)
		}
	}
}

func TestPost_EmptyURLIsNoop(t *testing.T) {
	t.Parallel()

	n := New("")
	err := n.SendEscalation(context.Background(), workflow.CaseRef{}, &workflow.AnalysisResult{})
	if err != nil {
		t.Errorf("SendEscalation() error = %v, want nil with no webhook configured", err)
	}
}

func TestPost_Non2xxIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("no_service"))
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := n.SendEscalation(context.Background(), workflow.CaseRef{}, &workflow.AnalysisResult{})
	if err == nil {
		t.Fatal("error = nil, want webhook failure")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %v, want status code in message", err)
	}
}

func TestSeverityEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		severity string
		want     string
	}{
		{"Critical", "\U0001f534"},
		{"critical", "\U0001f534"},
		{"High", "\U0001f7e0"},
		{"Medium", "\U0001f7e1"},
		{"Low", "\U0001f535"},
		{"Unknown", "⚪"},
		{"", "⚪"},
	}

	for _, tt := range tests {
		if got := severityEmoji(tt.severity); got != tt.want {
			t.Errorf("severityEmoji(%q) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", maxSummaryLen+100)
	got := truncate(long, maxSummaryLen)
	if len(got) != maxSummaryLen {
		t.Errorf("len = %d, want %d", len(got), maxSummaryLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated string missing ellipsis")
	}
	if short := truncate("short", maxSummaryLen); short != "short" {
		t.Errorf("truncate(short) = %q, want unchanged", short)
	}
}

package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/linnemanlabs/caseflow/internal/workflow"
)

func TestRiskLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		score float64
		want  int
	}{
		{0, 1},
		{4, 1},
		{14, 1},
		{15, 2},
		{50, 5},
		{85, 9},
		{94, 9},
		{95, 10},
		{100, 10},
		{150, 10},
	}

	for _, tt := range tests {
		if got := riskLevel(tt.score); got != tt.want {
			t.Errorf("riskLevel(%.0f) = %d, want %d", tt.score, got, tt.want)
		}
	}
}

func TestPriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		risk       int
		needsHuman bool
		indicators int
		want       int
	}{
		{"low risk", 2, false, 0, 3},
		{"mid risk", 4, false, 0, 6},
		{"high risk caps at 10", 8, false, 0, 10},
		{"escalated floors at 7", 2, true, 0, 7},
		{"indicator bump", 4, false, 4, 7},
		{"bump never exceeds 10", 8, true, 5, 10},
		{"escalated high risk", 6, true, 0, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := priority(tt.risk, tt.needsHuman, tt.indicators); got != tt.want {
				t.Errorf("priority(%d, %t, %d) = %d, want %d", tt.risk, tt.needsHuman, tt.indicators, got, tt.want)
			}
		})
	}
}

func TestDecide_RiskAboveThreshold(t *testing.T) {
	t.Parallel()

	d := NewDecider(DecisionConfig{RiskThreshold: 7}, nil)

	dec, err := d.Decide(context.Background(), &workflow.AnalysisResult{SeverityScore: 85})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !dec.NeedsHuman {
		t.Error("needs_human = false, want true")
	}
	if dec.RiskLevel != 9 {
		t.Errorf("risk level = %d, want 9", dec.RiskLevel)
	}
	if len(dec.Reasons) != 1 || !strings.Contains(dec.Reasons[0], "exceeds threshold") {
		t.Errorf("reasons = %v, want threshold reason", dec.Reasons)
	}
}

func TestDecide_RiskAtThresholdStaysAutomatic(t *testing.T) {
	t.Parallel()

	d := NewDecider(DecisionConfig{RiskThreshold: 7}, nil)

	dec, err := d.Decide(context.Background(), &workflow.AnalysisResult{SeverityScore: 70})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if dec.NeedsHuman {
		t.Error("needs_human = true at threshold, want false")
	}
	if len(dec.Reasons) != 0 {
		t.Errorf("reasons = %v, want none", dec.Reasons)
	}
}

func TestDecide_AlertCountEscalates(t *testing.T) {
	t.Parallel()

	d := NewDecider(DecisionConfig{RiskThreshold: 7, MinAlertsForEscalation: 3}, nil)

	dec, err := d.Decide(context.Background(), &workflow.AnalysisResult{SeverityScore: 30, AlertCount: 5})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !dec.NeedsHuman {
		t.Error("needs_human = false, want true on alert volume")
	}
	if len(dec.Reasons) != 1 || !strings.Contains(dec.Reasons[0], "5 alerts") {
		t.Errorf("reasons = %v, want alert-count reason", dec.Reasons)
	}
}

func TestDecide_AlertRuleDisabledWhenZero(t *testing.T) {
	t.Parallel()

	d := NewDecider(DecisionConfig{RiskThreshold: 7, MinAlertsForEscalation: 0}, nil)

	dec, err := d.Decide(context.Background(), &workflow.AnalysisResult{SeverityScore: 30, AlertCount: 50})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if dec.NeedsHuman {
		t.Error("needs_human = true with disabled alert rule, want false")
	}
}

func TestDecide_CriticalKillChain(t *testing.T) {
	t.Parallel()

	d := NewDecider(DecisionConfig{
		RiskThreshold:     7,
		CriticalKillChain: []string{"exfiltration", "command-and-control"},
	}, nil)

	dec, err := d.Decide(context.Background(), &workflow.AnalysisResult{
		SeverityScore:   30,
		KillChainStages: []string{"reconnaissance", "exfiltration"},
	})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if !dec.NeedsHuman {
		t.Error("needs_human = false, want true on critical kill chain stage")
	}
	if len(dec.Reasons) != 1 || !strings.Contains(dec.Reasons[0], "exfiltration") {
		t.Errorf("reasons = %v, want kill-chain reason", dec.Reasons)
	}
}

func TestDecide_MultipleReasonsAccumulate(t *testing.T) {
	t.Parallel()

	d := NewDecider(DecisionConfig{
		RiskThreshold:          7,
		MinAlertsForEscalation: 3,
		CriticalKillChain:      []string{"exfiltration"},
	}, nil)

	dec, err := d.Decide(context.Background(), &workflow.AnalysisResult{
		SeverityScore:   90,
		AlertCount:      4,
		KillChainStages: []string{"exfiltration"},
	})
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if len(dec.Reasons) != 3 {
		t.Errorf("reasons = %v, want all three rules recorded", dec.Reasons)
	}
	if dec.Priority != 10 {
		t.Errorf("priority = %d, want 10", dec.Priority)
	}
}

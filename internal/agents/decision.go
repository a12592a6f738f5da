package agents

import (
	"context"
	"fmt"
	"math"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/workflow"
)

// DecisionConfig tunes the escalation rules.
type DecisionConfig struct {
	// RiskThreshold is the 1-10 risk level above which a case needs a human.
	RiskThreshold int
	// MinAlertsForEscalation escalates cases with at least this many alerts.
	MinAlertsForEscalation int
	// CriticalKillChain lists kill chain stages that always escalate.
	CriticalKillChain []string
}

// Decider applies deterministic escalation rules to an analysis result. The
// rules are intentionally simple and auditable; the model's judgement stays
// confined to the investigation stage.
type Decider struct {
	cfg    DecisionConfig
	logger log.Logger
}

// NewDecider wires a Decider.
func NewDecider(cfg DecisionConfig, logger log.Logger) *Decider {
	if logger == nil {
		logger = log.Nop()
	}
	return &Decider{cfg: cfg, logger: logger}
}

// Decide derives a 1-10 risk level from the severity score and applies the
// escalation rules. The decision always carries the reasons that fired.
func (d *Decider) Decide(ctx context.Context, a *workflow.AnalysisResult) (*workflow.Decision, error) {
	risk := riskLevel(a.SeverityScore)

	dec := &workflow.Decision{RiskLevel: risk}

	if risk > d.cfg.RiskThreshold {
		dec.NeedsHuman = true
		dec.Reasons = append(dec.Reasons,
			fmt.Sprintf("risk level %d exceeds threshold %d", risk, d.cfg.RiskThreshold))
	}
	if d.cfg.MinAlertsForEscalation > 0 && a.AlertCount >= d.cfg.MinAlertsForEscalation {
		dec.NeedsHuman = true
		dec.Reasons = append(dec.Reasons,
			fmt.Sprintf("case has %d alerts (threshold %d)", a.AlertCount, d.cfg.MinAlertsForEscalation))
	}
	if stage, hit := d.criticalStage(a.KillChainStages); hit {
		dec.NeedsHuman = true
		dec.Reasons = append(dec.Reasons, "critical kill chain stage observed: "+stage)
	}

	dec.Priority = priority(risk, dec.NeedsHuman, len(a.KeyIndicators))

	d.logger.Info(ctx, "escalation decision made",
		"case_id", a.CaseID,
		"risk_level", dec.RiskLevel,
		"priority", dec.Priority,
		"needs_human", dec.NeedsHuman,
	)
	return dec, nil
}

func (d *Decider) criticalStage(stages []string) (string, bool) {
	for _, s := range stages {
		for _, crit := range d.cfg.CriticalKillChain {
			if s == crit {
				return s, true
			}
		}
	}
	return "", false
}

// riskLevel maps a 1-100 severity score onto the 1-10 risk scale.
func riskLevel(severityScore float64) int {
	risk := int(math.Round(severityScore / 10))
	if risk < 1 {
		risk = 1
	}
	if risk > 10 {
		risk = 10
	}
	return risk
}

// priority derives the handling priority from the risk level. Escalated cases
// floor at 7; indicator-heavy cases get a bump. Capped at 10.
func priority(risk int, needsHuman bool, indicators int) int {
	p := min(int(float64(risk)*1.5), 10)
	if needsHuman && p < 7 {
		p = 7
	}
	if indicators > 3 {
		p++
	}
	return min(p, 10)
}

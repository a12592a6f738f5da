package agents

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/caseapi"
	"github.com/linnemanlabs/caseflow/internal/workflow"
)

const analysisSystemPrompt = `You are a security analyst AI assistant. Analyze
the security case provided and return a structured analysis including severity
assessment, priority level, key indicators, patterns identified, and
recommended actions. Be specific and concise.`

// CaseReader is the slice of the case API the investigation agent needs.
type CaseReader interface {
	GetCase(ctx context.Context, caseID string) (*caseapi.Case, error)
	GetCaseSummary(ctx context.Context, caseID string) (*caseapi.Summary, error)
	GetCaseAlerts(ctx context.Context, caseID string) ([]caseapi.Alert, error)
}

// Completer produces one text completion.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Investigation gathers everything known about a case and has the analysis
// model score it.
type Investigation struct {
	api    CaseReader
	llm    Completer
	logger log.Logger
}

// NewInvestigation wires an Investigation agent.
func NewInvestigation(api CaseReader, llm Completer, logger log.Logger) *Investigation {
	if logger == nil {
		logger = log.Nop()
	}
	return &Investigation{api: api, llm: llm, logger: logger}
}

// Investigate collects case details, summary, and alerts, then asks the model
// for a structured analysis. Case API failures keep the transient/permanent
// classification the client assigned; model failures are transient.
func (inv *Investigation) Investigate(ctx context.Context, c workflow.CaseRef) (*workflow.AnalysisResult, error) {
	detail, err := inv.api.GetCase(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	summary, err := inv.api.GetCaseSummary(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	alerts, err := inv.api.GetCaseAlerts(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	prompt := buildAnalysisPrompt(detail, summary, alerts)
	text, err := inv.llm.Complete(ctx, analysisSystemPrompt, prompt)
	if err != nil {
		return nil, &workflow.TransientError{Err: fmt.Errorf("case analysis: %w", err)}
	}

	result := parseAnalysis(text)
	result.CaseID = detail.ID
	result.TicketID = detail.TicketID
	result.AlertCount = len(alerts)
	result.KillChainStages = summary.KillChainStages
	result.Summary = summary.Description
	result.AnalyzedAt = time.Now().UTC()

	inv.logger.Info(ctx, "case investigation complete",
		"case_id", detail.ID,
		"ticket_id", detail.TicketID,
		"severity_score", result.SeverityScore,
		"priority_score", result.PriorityScore,
		"alert_count", result.AlertCount,
	)
	return result, nil
}

func buildAnalysisPrompt(c *caseapi.Case, summary *caseapi.Summary, alerts []caseapi.Alert) string {
	var sb strings.Builder
	sb.WriteString("Analyze this security case:\n\n")
	fmt.Fprintf(&sb, "Title: %s\n", c.Title)
	fmt.Fprintf(&sb, "Current Severity: %s\n", c.Severity)
	fmt.Fprintf(&sb, "Status: %s\n\n", c.Status)

	if summary.Description != "" {
		fmt.Fprintf(&sb, "Summary:\n%s\n\n", summary.Description)
	}
	if len(summary.KillChainStages) > 0 {
		fmt.Fprintf(&sb, "Kill Chain Stages: %s\n\n", strings.Join(summary.KillChainStages, ", "))
	}

	fmt.Fprintf(&sb, "Alerts (%d):\n", len(alerts))
	if len(alerts) == 0 {
		sb.WriteString("No alerts\n")
	}
	for _, a := range alerts {
		fmt.Fprintf(&sb, "- %s (Severity: %s)\n", a.Title, a.Severity)
	}

	sb.WriteString(`
Please provide:
1. Severity Score (1-100)
2. Priority Score (1-100)
3. Key Indicators (list the most important indicators of compromise or suspicious activity)
4. Patterns Identified (any patterns in the alerts or activities)
5. Recommended Actions (prioritized list of actions to take)

Format your response in a structured way that can be easily parsed.`)
	return sb.String()
}

// parseAnalysis extracts the numbered sections from the model's response.
// Lines that don't match the expected shape are skipped; a malformed score
// leaves the zero value rather than failing the investigation.
func parseAnalysis(text string) *workflow.AnalysisResult {
	result := &workflow.AnalysisResult{}
	section := ""

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "1. Severity Score:"):
			result.SeverityScore = parseScore(line)
			continue
		case strings.HasPrefix(line, "2. Priority Score:"):
			result.PriorityScore = parseScore(line)
			continue
		case strings.Contains(line, "3. Key Indicators:"):
			section = "indicators"
			continue
		case strings.Contains(line, "4. Patterns Identified:"):
			section = "patterns"
			continue
		case strings.Contains(line, "5. Recommended Actions:"):
			section = "actions"
			continue
		}

		item, ok := strings.CutPrefix(line, "- ")
		if !ok {
			continue
		}
		item = strings.TrimSpace(item)

		switch section {
		case "indicators":
			result.KeyIndicators = append(result.KeyIndicators, item)
		case "patterns":
			result.Patterns = append(result.Patterns, item)
		case "actions":
			result.RecommendedActions = append(result.RecommendedActions, item)
		}
	}
	return result
}

// parseScore reads the first number after the colon in a score line.
func parseScore(line string) float64 {
	_, after, ok := strings.Cut(line, ":")
	if !ok {
		return 0
	}
	fields := strings.Fields(after)
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}

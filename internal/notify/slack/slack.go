// Package slack sends escalation and operational notices to Slack via
// incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/caseflow/internal/workflow"
)

const (
	maxSummaryLen = 1000
	httpTimeout   = 10 * time.Second
)

// Notifier posts messages to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, every send is a
// no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// SendEscalation posts a case escalation message.
func (n *Notifier) SendEscalation(ctx context.Context, c workflow.CaseRef, a *workflow.AnalysisResult) error {
	return n.post(ctx, escalationMessage(c, a))
}

// NotifyStuck posts a stuck-workflow notice. Best-effort; the monitor logs
// and ignores failures.
func (n *Notifier) NotifyStuck(ctx context.Context, sa *workflow.StuckWorkflowAnalysis) error {
	return n.post(ctx, stuckMessage(sa))
}

// NotifyOptimization posts the bottleneck findings of an optimization run.
func (n *Notifier) NotifyOptimization(ctx context.Context, rep *workflow.OptimizationReport) error {
	return n.post(ctx, optimizationMessage(rep))
}

func (n *Notifier) post(ctx context.Context, msg map[string]any) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func escalationMessage(c workflow.CaseRef, a *workflow.AnalysisResult) map[string]any {
	blocks := []map[string]any{
		headerBlock(fmt.Sprintf("%s Security Case Requires Attention", severityEmoji(c.Severity))),
		{
			"type": "section",
			"fields": []map[string]any{
				mrkdwn(fmt.Sprintf("*Case ID:*\n#%s", c.TicketID)),
				mrkdwn(fmt.Sprintf("*Severity:*\n%s", c.Severity)),
				mrkdwn(fmt.Sprintf("*Score:*\n%.0f", c.Score)),
				mrkdwn(fmt.Sprintf("*Alert Count:*\n%d", a.AlertCount)),
				mrkdwn(fmt.Sprintf("*Risk Score:*\n%.0f", a.SeverityScore)),
				mrkdwn(fmt.Sprintf("*Priority Score:*\n%.0f", a.PriorityScore)),
			},
		},
	}
	if len(a.KeyIndicators) > 0 {
		blocks = append(blocks, listBlock("Risk Factors", a.KeyIndicators))
	}
	if len(a.KillChainStages) > 0 {
		blocks = append(blocks, listBlock("Kill Chain Stages", a.KillChainStages))
	}
	if a.Summary != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": mrkdwn("*Case Summary:*\n" + truncate(a.Summary, maxSummaryLen)),
		})
	}
	return map[string]any{"blocks": blocks}
}

func stuckMessage(sa *workflow.StuckWorkflowAnalysis) map[string]any {
	blocks := []map[string]any{
		headerBlock("⚠️ Stuck Workflow Alert"),
		{
			"type": "section",
			"fields": []map[string]any{
				mrkdwn(fmt.Sprintf("*Workflow ID:*\n%s", sa.WorkflowID)),
				mrkdwn(fmt.Sprintf("*Current Stage:*\n%s", sa.Stage)),
				mrkdwn(fmt.Sprintf("*Time in Stage:*\n%.0fs", sa.Analysis.ElapsedSeconds)),
				mrkdwn(fmt.Sprintf("*Last Status:*\n%s", sa.Analysis.LastStatus)),
			},
		},
	}
	if sa.Analysis.SuspectedCause != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": mrkdwn("*Suspected Cause:*\n" + sa.Analysis.SuspectedCause),
		})
	}
	if sa.Analysis.Diagnosis != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": mrkdwn("*Analysis:*\n" + truncate(sa.Analysis.Diagnosis, maxSummaryLen)),
		})
	}
	return map[string]any{"blocks": blocks}
}

func optimizationMessage(rep *workflow.OptimizationReport) map[string]any {
	blocks := []map[string]any{
		headerBlock("\U0001f504 Workflow Optimization Recommendations"),
	}
	if len(rep.Bottlenecks) > 0 {
		blocks = append(blocks, listBlock("Bottlenecks Identified", rep.Bottlenecks))
	}
	if len(rep.Recommendations) > 0 {
		items := make([]string, 0, len(rep.Recommendations))
		for _, rec := range rep.Recommendations {
			line := rec.Description
			if rec.Priority != "" {
				line = fmt.Sprintf("[%s] %s", strings.ToUpper(rec.Priority), rec.Description)
			}
			if rec.ExpectedImpact != "" {
				line += fmt.Sprintf(" (Expected Impact: %s)", rec.ExpectedImpact)
			}
			items = append(items, line)
		}
		blocks = append(blocks, listBlock("Recommendations", items))
	}
	if rep.Note != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": mrkdwn("*Summary:*\n" + rep.Note),
		})
	}
	return map[string]any{"blocks": blocks}
}

func headerBlock(text string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func listBlock(title string, items []string) map[string]any {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*%s:*", title)
	for _, item := range items {
		fmt.Fprintf(&sb, "\n• %s", item)
	}
	return map[string]any{
		"type": "section",
		"text": mrkdwn(sb.String()),
	}
}

func mrkdwn(text string) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": text}
}

func severityEmoji(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "\U0001f534" // red circle
	case "high":
		return "\U0001f7e0" // orange circle
	case "medium":
		return "\U0001f7e1" // yellow circle
	case "low":
		return "\U0001f535" // blue circle
	default:
		return "⚪" // white circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

// Package advisor turns workflow metrics into optimization advice and stuck
// diagnoses via an LLM completion backend.
package advisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/workflow"
)

const systemPrompt = `You are a workflow optimization expert for a security case
triage pipeline. Analyze the metrics you are given and provide specific,
actionable recommendations for improving performance and reliability.`

// Completer produces one text completion. *claude.Client satisfies this.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Advisor implements workflow.Advisor over a Completer.
type Advisor struct {
	llm    Completer
	logger log.Logger
}

// New wires an Advisor.
func New(llm Completer, logger log.Logger) *Advisor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Advisor{llm: llm, logger: logger}
}

// Recommend asks the advisory function for bottlenecks and recommendations
// given a metrics snapshot. Any backend failure is reported as
// workflow.ErrAdvisoryUnavailable so callers degrade instead of failing.
func (a *Advisor) Recommend(ctx context.Context, snap workflow.MetricsSnapshot) (*workflow.Advice, error) {
	prompt := buildOptimizationPrompt(snap)

	text, err := a.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrAdvisoryUnavailable, err)
	}

	advice := parseAdvice(text)
	a.logger.Info(ctx, "advisory recommendation received",
		"bottlenecks", len(advice.Bottlenecks),
		"recommendations", len(advice.Recommendations),
	)
	return advice, nil
}

// DiagnoseStuck asks the advisory function for a diagnosis of a stalled
// workflow. Backend failures come back as workflow.ErrAdvisoryUnavailable.
func (a *Advisor) DiagnoseStuck(ctx context.Context, w *workflow.Workflow, elapsed time.Duration) (string, error) {
	prompt := buildStuckPrompt(w, elapsed)

	text, err := a.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", workflow.ErrAdvisoryUnavailable, err)
	}
	return strings.TrimSpace(text), nil
}

func buildOptimizationPrompt(snap workflow.MetricsSnapshot) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following workflow metrics and provide optimization recommendations:\n\n")
	sb.WriteString("Performance Metrics:\n")
	fmt.Fprintf(&sb, "- Total Executions: %d\n", snap.TotalExecutions)
	fmt.Fprintf(&sb, "- Overall Success Rate: %.1f%%\n", snap.OverallSuccessRate*100)
	fmt.Fprintf(&sb, "- Combined Average Stage Time: %.1fs\n", snap.TotalAvgTime)
	sb.WriteString("\nStage Metrics:\n")
	for _, stage := range workflow.Stages {
		p, ok := snap.Agents[string(stage)]
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "%s:\n", stage)
		fmt.Fprintf(&sb, "  - Average Time: %.1fs\n", p.AvgExecutionTime)
		fmt.Fprintf(&sb, "  - Success Rate: %.1f%%\n", p.SuccessRate*100)
		fmt.Fprintf(&sb, "  - Errors: %d\n", p.ErrorCount)
	}
	sb.WriteString(`
Please provide:
Bottlenecks:
- one stage or concern per line
Recommendations:
- one recommendation per line, with a [high], [medium], or [low] priority tag
Summary:
- a one-line summary
`)
	return sb.String()
}

func buildStuckPrompt(w *workflow.Workflow, elapsed time.Duration) string {
	var sb strings.Builder
	sb.WriteString("A case triage workflow appears stuck. Diagnose the likely cause in a short paragraph.\n\n")
	fmt.Fprintf(&sb, "Workflow ID: %s\n", w.ID)
	fmt.Fprintf(&sb, "Current Stage: %s\n", w.CurrentStage)
	fmt.Fprintf(&sb, "Status: %s\n", w.Status)
	fmt.Fprintf(&sb, "Time in Stage: %.0fs\n", elapsed.Seconds())
	if w.ErrorMessage != "" {
		fmt.Fprintf(&sb, "Last Error: %s\n", w.ErrorMessage)
	}
	if w.Case != nil {
		fmt.Fprintf(&sb, "Case: %s (%s)\n", w.Case.TicketID, w.Case.Severity)
	}
	return sb.String()
}

// parseAdvice extracts the Bottlenecks / Recommendations / Summary sections
// from the completion text. Lines the model formats unexpectedly are dropped
// rather than failing the whole response.
func parseAdvice(text string) *workflow.Advice {
	advice := &workflow.Advice{}
	section := ""

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "bottlenecks"):
			section = "bottlenecks"
			continue
		case strings.HasPrefix(lower, "recommendations"):
			section = "recommendations"
			continue
		case strings.HasPrefix(lower, "summary"):
			section = "summary"
			if rest := strings.TrimSpace(strings.TrimPrefix(line, line[:len("summary")])); rest != "" && rest != ":" {
				advice.Summary = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			}
			continue
		}

		item, ok := strings.CutPrefix(line, "- ")
		if !ok {
			if section == "summary" && advice.Summary == "" {
				advice.Summary = line
			}
			continue
		}

		switch section {
		case "bottlenecks":
			advice.Bottlenecks = append(advice.Bottlenecks, item)
		case "recommendations":
			advice.Recommendations = append(advice.Recommendations, parseRecommendation(item))
		case "summary":
			if advice.Summary == "" {
				advice.Summary = item
			}
		}
	}
	return advice
}

// parseRecommendation splits a "[high] do the thing" item into priority and
// description. Items without a recognized tag keep an empty priority.
func parseRecommendation(item string) workflow.Recommendation {
	rec := workflow.Recommendation{Description: item}
	for _, p := range []string{"high", "medium", "low"} {
		tag := "[" + p + "]"
		if idx := strings.Index(strings.ToLower(item), tag); idx >= 0 {
			rec.Priority = p
			rec.Description = strings.TrimSpace(item[:idx] + item[idx+len(tag):])
			break
		}
	}
	return rec
}

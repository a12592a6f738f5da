package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/caseapi"
	"github.com/linnemanlabs/caseflow/internal/workflow"
)

// EscalationSender delivers an escalation message to the humans.
type EscalationSender interface {
	SendEscalation(ctx context.Context, c workflow.CaseRef, a *workflow.AnalysisResult) error
}

// CaseUpdater is the slice of the case API the notification agent needs to
// mark a case escalated.
type CaseUpdater interface {
	UpdateCase(ctx context.Context, caseID string, req caseapi.UpdateRequest) error
	AddComment(ctx context.Context, caseID, comment string) error
}

// Notification escalates a case: it sends the Slack message and writes the
// escalation back onto the case record.
type Notification struct {
	sender EscalationSender
	api    CaseUpdater
	logger log.Logger
}

// NewNotification wires a Notification agent. api may be nil; the case
// write-back is then skipped.
func NewNotification(sender EscalationSender, api CaseUpdater, logger log.Logger) *Notification {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notification{sender: sender, api: api, logger: logger}
}

// Notify sends the escalation message, then updates the case status and adds
// an audit comment. Message delivery failures are DeliveryErrors and retry
// under the stage policy; the case write-back is best-effort because the
// humans have already been told.
func (n *Notification) Notify(ctx context.Context, c workflow.CaseRef, a *workflow.AnalysisResult) error {
	if err := n.sender.SendEscalation(ctx, c, a); err != nil {
		return &workflow.DeliveryError{Err: err}
	}

	n.logger.Info(ctx, "escalation notification sent",
		"case_id", c.ID,
		"ticket_id", c.TicketID,
	)

	if n.api == nil {
		return nil
	}

	if err := n.api.UpdateCase(ctx, c.ID, caseapi.UpdateRequest{
		Status: "Escalated",
		Tags:   []string{"auto-escalated"},
	}); err != nil {
		n.logger.Error(ctx, err, "failed to mark case escalated", "case_id", c.ID)
	}
	if err := n.api.AddComment(ctx, c.ID, escalationComment(a)); err != nil {
		n.logger.Error(ctx, err, "failed to add escalation comment", "case_id", c.ID)
	}
	return nil
}

func escalationComment(a *workflow.AnalysisResult) string {
	var sb strings.Builder
	sb.WriteString("Case automatically escalated for human review.\n")
	if len(a.KeyIndicators) > 0 {
		sb.WriteString("Risk Factors:\n")
		for _, ind := range a.KeyIndicators {
			fmt.Fprintf(&sb, "- %s\n", ind)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

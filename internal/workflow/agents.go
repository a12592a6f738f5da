package workflow

import (
	"context"
	"time"
)

// Selector picks candidate cases for investigation, best first. A pure query
// with no side effects on case state.
type Selector interface {
	SelectCandidates(ctx context.Context) ([]CaseRef, error)
}

// Investigator analyzes a case and produces an AnalysisResult. Failures are
// classified as *TransientError (retryable) or *PermanentError.
type Investigator interface {
	Investigate(ctx context.Context, c CaseRef) (*AnalysisResult, error)
}

// Decider judges whether an analyzed case needs human escalation.
type Decider interface {
	Decide(ctx context.Context, a *AnalysisResult) (*Decision, error)
}

// CaseNotifier escalates a case to the humans. Transport failures surface as
// *DeliveryError and retry under the stage backoff policy.
type CaseNotifier interface {
	Notify(ctx context.Context, c CaseRef, a *AnalysisResult) error
}

// Advisor is the advisory function. Any failure is reported as (or wrapping)
// ErrAdvisoryUnavailable; callers degrade rather than abort.
type Advisor interface {
	Recommend(ctx context.Context, snap MetricsSnapshot) (*Advice, error)
	DiagnoseStuck(ctx context.Context, w *Workflow, elapsed time.Duration) (string, error)
}

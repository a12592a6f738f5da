package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Executors bundles the four stage executors the Coordinator sequences.
type Executors struct {
	Selector     Selector
	Investigator Investigator
	Decider      Decider
	Notifier     CaseNotifier
}

// Thresholds are the performance limits used for agent health classification
// and bottleneck detection.
type Thresholds struct {
	// ExecutionTime is the per-stage average duration limit in seconds.
	ExecutionTime float64
	// SuccessRate is the minimum acceptable success fraction (0..1).
	SuccessRate float64
	// ErrorThreshold is the error count above which an agent is failing.
	ErrorThreshold int
}

// Coordinator drives workflows through the triage pipeline: it sequences the
// stage executors, persists every transition, records per-attempt metrics,
// retries transient failures with backoff, and owns performance aggregation
// and optimization. Advancing one workflow never blocks another; a single
// workflow is advanced by at most one caller at a time.
type Coordinator struct {
	store      Store
	metrics    MetricsStore
	execs      Executors
	advisor    Advisor
	retry      RetryPolicy
	thresholds Thresholds
	logger     log.Logger
	pm         *Metrics
	validate   *validator.Validate

	mu        sync.Mutex
	advancing map[string]struct{}
}

// NewCoordinator wires a Coordinator. The advisor may be nil; optimization
// and stuck diagnosis then degrade to local metrics only.
func NewCoordinator(store Store, metrics MetricsStore, execs Executors, advisor Advisor, retry RetryPolicy, th Thresholds, logger log.Logger, pm *Metrics) *Coordinator {
	if logger == nil {
		logger = log.Nop()
	}
	return &Coordinator{
		store:      store,
		metrics:    metrics,
		execs:      execs,
		advisor:    advisor,
		retry:      retry,
		thresholds: th,
		logger:     logger,
		pm:         pm,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		advancing:  make(map[string]struct{}),
	}
}

// StartWorkflow validates the alert, creates the workflow record at the first
// stage, and returns its ID. Stage execution never happens synchronously with
// creation; the caller drives the pipeline via Advance or RunToCompletion.
func (c *Coordinator) StartWorkflow(ctx context.Context, al *Alert) (string, error) {
	if al == nil {
		return "", &ValidationError{Msg: "alert data is required"}
	}
	if err := c.validate.Struct(al); err != nil {
		return "", &ValidationError{Msg: "alert must have an id"}
	}

	now := time.Now().UTC()
	w := &Workflow{
		ID:             ulid.Make().String(),
		AlertID:        al.ID,
		Status:         StatusRunning,
		CurrentStage:   StageSelection,
		StartTime:      now,
		StageStartTime: now,
		UpdatedAt:      now,
		Alert:          al,
	}

	// Single write so a store failure leaves no partially-visible record.
	if err := c.store.CreateWorkflow(ctx, w); err != nil {
		return "", &PersistenceError{Op: "create workflow", Err: err}
	}

	c.pm.WorkflowsStarted.Inc()
	c.logger.Info(ctx, "workflow started",
		"workflow_id", w.ID,
		"alert_id", al.ID,
		"stage", w.CurrentStage,
	)
	return w.ID, nil
}

// Cancel marks a workflow for cancellation. The flag is honored at the next
// stage boundary; an in-flight stage executor call is not interrupted.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	w, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	if w.Status.Terminal() {
		return nil
	}
	w.CancelRequested = true
	w.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateWorkflow(ctx, w); err != nil {
		return &PersistenceError{Op: "mark cancellation", Err: err}
	}
	c.logger.Info(ctx, "workflow cancellation requested", "workflow_id", id)
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (c *Coordinator) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	return c.store.GetWorkflow(ctx, id)
}

// ListWorkflows lists workflows, optionally filtered by status.
func (c *Coordinator) ListWorkflows(ctx context.Context, status Status) ([]*Workflow, error) {
	return c.store.ListWorkflows(ctx, status)
}

// Advance executes the current stage of the workflow and persists the
// resulting transition. Terminal workflows are returned unchanged. A second
// concurrent Advance on the same ID gets ErrAdvanceInProgress.
func (c *Coordinator) Advance(ctx context.Context, id string) (*Workflow, error) {
	if !c.tryAcquire(id) {
		return nil, ErrAdvanceInProgress
	}
	defer c.release(id)

	w, err := c.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	if w.Status.Terminal() {
		return w, nil
	}

	// Stuck is diagnostic only; a resumed advance clears it.
	w.Status = StatusRunning

	if w.CancelRequested {
		return c.failWorkflow(ctx, w, "workflow cancelled before stage "+string(w.CurrentStage))
	}

	L := c.logger.With("workflow_id", w.ID, "stage", w.CurrentStage)

	stage := w.CurrentStage
	err = c.retry.Run(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			c.pm.StageRetries.WithLabelValues(string(stage)).Inc()
			L.Warn(ctx, "retrying stage", "attempt", attempt)
		}
		return c.executeStage(ctx, w, attempt)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return c.failWorkflow(ctx, w, fmt.Sprintf("stage %s failed: %v", stage, err))
	}

	return c.transition(ctx, w, L)
}

// RunToCompletion drives a workflow until it reaches a terminal status. It is
// the per-workflow driver goroutine spawned at ingestion; Advance stays
// callable individually for manual recovery.
func (c *Coordinator) RunToCompletion(ctx context.Context, id string) {
	L := c.logger.With("workflow_id", id)
	for {
		w, err := c.Advance(ctx, id)
		if err != nil {
			if errors.Is(err, ErrAdvanceInProgress) {
				L.Warn(ctx, "another driver owns this workflow, backing off")
				return
			}
			L.Error(ctx, err, "advance failed, leaving workflow for the monitor")
			return
		}
		if w.Status.Terminal() {
			L.Info(ctx, "workflow finished",
				"status", w.Status,
				"duration_s", time.Since(w.StartTime).Seconds(),
			)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// executeStage runs one attempt of the workflow's current stage, appends the
// StageExecutionRecord for the attempt, and records an AgentError on failure.
func (c *Coordinator) executeStage(ctx context.Context, w *Workflow, attempt int) error {
	agent := string(w.CurrentStage)
	start := time.Now()

	var err error
	switch w.CurrentStage {
	case StageSelection:
		var cases []CaseRef
		cases, err = c.execs.Selector.SelectCandidates(ctx)
		if err == nil && len(cases) > 0 {
			cp := cases[0]
			w.Case = &cp
		}
	case StageInvestigation:
		if w.Case == nil {
			err = &PermanentError{Err: errors.New("no case selected for investigation")}
			break
		}
		var a *AnalysisResult
		a, err = c.execs.Investigator.Investigate(ctx, *w.Case)
		if err == nil {
			w.Analysis = a
		}
	case StageDecision:
		if w.Analysis == nil {
			err = &PermanentError{Err: errors.New("no analysis available for decision")}
			break
		}
		var d *Decision
		d, err = c.execs.Decider.Decide(ctx, w.Analysis)
		if err == nil {
			w.Decision = d
		}
	case StageNotification:
		if w.Case == nil || w.Analysis == nil {
			err = &PermanentError{Err: errors.New("missing case context for notification")}
			break
		}
		err = c.execs.Notifier.Notify(ctx, *w.Case, w.Analysis)
	default:
		err = &PermanentError{Err: fmt.Errorf("unknown stage %q", w.CurrentStage)}
	}

	elapsed := time.Since(start).Seconds()
	c.recordAttempt(ctx, w, agent, attempt, elapsed, err)
	return err
}

// recordAttempt durably logs one stage attempt: a StageExecutionRecord always,
// plus an AgentError append on failure. Metrics append failures are logged but
// do not fail the stage; the contract is at-least-once, not exactly-once.
func (c *Coordinator) recordAttempt(ctx context.Context, w *Workflow, agent string, attempt int, elapsed float64, stageErr error) {
	now := time.Now().UTC()

	rec := &StageExecutionRecord{
		ID:            ulid.Make().String(),
		AgentName:     agent,
		WorkflowID:    w.ID,
		Attempt:       attempt,
		ExecutionTime: elapsed,
		Success:       stageErr == nil,
		Timestamp:     now,
	}
	if err := c.metrics.AppendExecution(ctx, rec); err != nil {
		c.logger.Error(ctx, err, "failed to append stage execution record",
			"workflow_id", w.ID, "agent", agent)
	}

	outcome := "success"
	if stageErr != nil {
		outcome = "failure"

		count, err := c.metrics.CountAgentErrors(ctx, agent, time.Time{})
		if err != nil {
			c.logger.Error(ctx, err, "failed to count agent errors", "agent", agent)
		}
		ae := &AgentError{
			ID:         ulid.Make().String(),
			AgentName:  agent,
			WorkflowID: w.ID,
			Error:      stageErr.Error(),
			ErrorCount: count + 1,
			Timestamp:  now,
		}
		if err := c.metrics.AppendAgentError(ctx, ae); err != nil {
			c.logger.Error(ctx, err, "failed to append agent error",
				"workflow_id", w.ID, "agent", agent)
		}
	}

	c.pm.StageExecutions.WithLabelValues(agent, outcome).Inc()
	c.pm.StageDuration.WithLabelValues(agent).Observe(elapsed)
}

// transition advances the workflow past a successfully executed stage and
// persists the new state. The decision stage short-circuits to completed when
// no human is needed; an empty selection completes the workflow with nothing
// to do.
func (c *Coordinator) transition(ctx context.Context, w *Workflow, L log.Logger) (*Workflow, error) {
	now := time.Now().UTC()

	complete := false
	switch w.CurrentStage {
	case StageSelection:
		if w.Case == nil {
			complete = true
			c.setMetadata(w, "resolution", "no_candidate_cases")
		}
	case StageDecision:
		if !w.Decision.NeedsHuman {
			complete = true
			c.setMetadata(w, "resolution", "no_escalation_needed")
		}
	case StageNotification:
		complete = true
		c.setMetadata(w, "resolution", "escalated")
	}

	if !complete {
		if next, ok := nextStage(w.CurrentStage); ok {
			w.CurrentStage = next
			w.StageStartTime = now
		} else {
			complete = true
		}
	}

	if complete {
		w.Status = StatusCompleted
	}
	w.UpdatedAt = now

	if err := c.store.UpdateWorkflow(ctx, w); err != nil {
		// Not a successful transition: surface and let the driver stop.
		return nil, &PersistenceError{Op: "persist stage transition", Err: err}
	}

	if complete {
		c.pm.WorkflowsFinished.WithLabelValues(string(StatusCompleted)).Inc()
		L.Info(ctx, "workflow completed", "resolution", w.Metadata["resolution"])
	} else {
		L.Info(ctx, "stage complete", "next_stage", w.CurrentStage)
	}
	return w, nil
}

// failWorkflow resolves a workflow to the terminal error status.
func (c *Coordinator) failWorkflow(ctx context.Context, w *Workflow, msg string) (*Workflow, error) {
	w.Status = StatusError
	w.ErrorMessage = msg
	w.UpdatedAt = time.Now().UTC()

	if err := c.store.UpdateWorkflow(ctx, w); err != nil {
		return nil, &PersistenceError{Op: "persist workflow failure", Err: err}
	}

	c.pm.WorkflowsFinished.WithLabelValues(string(StatusError)).Inc()
	c.logger.Warn(ctx, "workflow failed",
		"workflow_id", w.ID,
		"stage", w.CurrentStage,
		"error", msg,
	)
	return w, nil
}

func (c *Coordinator) setMetadata(w *Workflow, k, v string) {
	if w.Metadata == nil {
		w.Metadata = make(map[string]string)
	}
	w.Metadata[k] = v
}

func (c *Coordinator) tryAcquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.advancing[id]; busy {
		return false
	}
	c.advancing[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.advancing, id)
}

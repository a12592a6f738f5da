package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Optimizer is the slice of the Coordinator the monitor needs for its
// periodic optimization runs.
type Optimizer interface {
	OptimizeWorkflow(ctx context.Context) (*OptimizationReport, error)
}

// StatusNotifier receives operational notices about stuck workflows and
// optimization findings. Optional; failures are logged and ignored.
type StatusNotifier interface {
	NotifyStuck(ctx context.Context, a *StuckWorkflowAnalysis) error
	NotifyOptimization(ctx context.Context, rep *OptimizationReport) error
}

// Monitor is the background loop that detects stuck workflows and triggers
// periodic optimization. It diagnoses and reports but never advances or
// retries a workflow; recovery stays a separate, explicit action.
type Monitor struct {
	store    Store
	metrics  MetricsStore
	advisor  Advisor
	optimize Optimizer
	notifier StatusNotifier
	logger   log.Logger
	pm       *Metrics

	// StuckThreshold is how long a workflow may sit in one stage before it
	// is flagged. ScanInterval and OptimizeInterval pace the two loops.
	StuckThreshold   time.Duration
	ScanInterval     time.Duration
	OptimizeInterval time.Duration
}

// NewMonitor wires a Monitor. advisor and notifier may be nil.
func NewMonitor(store Store, metrics MetricsStore, advisor Advisor, optimize Optimizer, notifier StatusNotifier, logger log.Logger, pm *Metrics, stuckThreshold, scanInterval, optimizeInterval time.Duration) *Monitor {
	if logger == nil {
		logger = log.Nop()
	}
	return &Monitor{
		store:            store,
		metrics:          metrics,
		advisor:          advisor,
		optimize:         optimize,
		notifier:         notifier,
		logger:           logger,
		pm:               pm,
		StuckThreshold:   stuckThreshold,
		ScanInterval:     scanInterval,
		OptimizeInterval: optimizeInterval,
	}
}

// Run executes both periodic loops until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	scan := time.NewTicker(m.ScanInterval)
	defer scan.Stop()
	opt := time.NewTicker(m.OptimizeInterval)
	defer opt.Stop()

	m.logger.Info(ctx, "monitor started",
		"stuck_threshold", m.StuckThreshold.String(),
		"scan_interval", m.ScanInterval.String(),
		"optimize_interval", m.OptimizeInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info(context.Background(), "monitor stopped")
			return
		case <-scan.C:
			if _, err := m.ScanStuck(ctx); err != nil {
				m.logger.Error(ctx, err, "stuck-workflow scan failed")
			}
		case <-opt.C:
			rep, err := m.optimize.OptimizeWorkflow(ctx)
			if err != nil {
				m.logger.Error(ctx, err, "periodic optimization failed")
				continue
			}
			if rep.Status == OptimizationBottleneck && m.notifier != nil {
				if err := m.notifier.NotifyOptimization(ctx, rep); err != nil {
					m.logger.Error(ctx, err, "failed to send optimization notice")
				}
			}
		}
	}
}

// ScanStuck flags every running workflow whose current stage has exceeded the
// stuck threshold. Each scan appends a fresh StuckWorkflowAnalysis for every
// workflow still stalled; detections are intentionally not deduplicated so
// the analysis log doubles as a stall-duration trail. Reads race benignly
// with in-flight advances; a workflow that moved between list and flag just
// shows up clean on the next scan.
func (m *Monitor) ScanStuck(ctx context.Context) ([]*StuckWorkflowAnalysis, error) {
	running, err := m.store.ListWorkflows(ctx, StatusRunning)
	if err != nil {
		return nil, &PersistenceError{Op: "list running workflows", Err: err}
	}
	stuck, err := m.store.ListWorkflows(ctx, StatusStuck)
	if err != nil {
		return nil, &PersistenceError{Op: "list stuck workflows", Err: err}
	}

	now := time.Now().UTC()
	var found []*StuckWorkflowAnalysis

	for _, w := range append(running, stuck...) {
		elapsed := now.Sub(w.StageStartTime)
		if elapsed <= m.StuckThreshold {
			continue
		}

		a := m.diagnose(ctx, w, elapsed)
		if err := m.metrics.AppendStuckAnalysis(ctx, a); err != nil {
			m.logger.Error(ctx, err, "failed to append stuck analysis", "workflow_id", w.ID)
			continue
		}
		found = append(found, a)
		m.pm.StuckDetected.Inc()

		if w.Status != StatusStuck {
			w.Status = StatusStuck
			w.UpdatedAt = now
			if err := m.store.UpdateWorkflow(ctx, w); err != nil {
				m.logger.Error(ctx, err, "failed to mark workflow stuck", "workflow_id", w.ID)
			}
		}

		m.logger.Warn(ctx, "stuck workflow detected",
			"workflow_id", w.ID,
			"stage", w.CurrentStage,
			"elapsed_s", elapsed.Seconds(),
		)

		if m.notifier != nil {
			if err := m.notifier.NotifyStuck(ctx, a); err != nil {
				m.logger.Error(ctx, err, "failed to send stuck notice", "workflow_id", w.ID)
			}
		}
	}
	return found, nil
}

// diagnose assembles the detection payload: elapsed time, last known state,
// and a suspected cause from the agent's recent error history, enriched with
// an advisory diagnosis when one is reachable.
func (m *Monitor) diagnose(ctx context.Context, w *Workflow, elapsed time.Duration) *StuckWorkflowAnalysis {
	diag := StuckDiagnosis{
		ElapsedSeconds: elapsed.Seconds(),
		LastStatus:     w.Status,
		SuspectedCause: "stage executor stalled or upstream dependency unresponsive",
	}

	if count, err := m.metrics.CountAgentErrors(ctx, string(w.CurrentStage), time.Time{}); err == nil && count > 0 {
		diag.SuspectedCause = fmt.Sprintf("agent %s has %d recorded failures; likely retry loop or dependency outage", w.CurrentStage, count)
	}

	if m.advisor != nil {
		if d, err := m.advisor.DiagnoseStuck(ctx, w, elapsed); err != nil {
			m.pm.AdvisoryCalls.WithLabelValues("diagnose_stuck", "error").Inc()
			m.logger.Warn(ctx, "advisory diagnosis unavailable", "workflow_id", w.ID, "error", err.Error())
		} else {
			m.pm.AdvisoryCalls.WithLabelValues("diagnose_stuck", "success").Inc()
			diag.Diagnosis = d
		}
	}

	return &StuckWorkflowAnalysis{
		ID:         ulid.Make().String(),
		WorkflowID: w.ID,
		Stage:      w.CurrentStage,
		Analysis:   diag,
		Timestamp:  time.Now().UTC(),
	}
}

// Package memstore provides in-memory implementations of workflow.Store and
// workflow.MetricsStore. Suitable for dev/testing and single-node runs
// without a database.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/caseflow/internal/workflow"
)

// Store holds workflow state and metrics history in memory.
type Store struct {
	mu            sync.RWMutex
	workflows     map[string]*workflow.Workflow
	executions    []*workflow.StageExecutionRecord
	agentErrors   []*workflow.AgentError
	optimizations []*workflow.OptimizationReport
	stuckAnalyses []*workflow.StuckWorkflowAnalysis
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		workflows: make(map[string]*workflow.Workflow),
	}
}

// CreateWorkflow stores a copy of the workflow. Creating an existing ID is an
// error; IDs are ULIDs so collisions indicate a caller bug.
func (s *Store) CreateWorkflow(_ context.Context, w *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[w.ID]; exists {
		return fmt.Errorf("workflow %s already exists", w.ID)
	}
	s.workflows[w.ID] = copyWorkflow(w)
	return nil
}

// UpdateWorkflow replaces the stored record. Last writer wins.
func (s *Store) UpdateWorkflow(_ context.Context, w *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[w.ID]; !exists {
		return &workflow.NotFoundError{WorkflowID: w.ID}
	}
	s.workflows[w.ID] = copyWorkflow(w)
	return nil
}

// GetWorkflow retrieves a workflow by ID. Returns a copy.
func (s *Store) GetWorkflow(_ context.Context, id string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, &workflow.NotFoundError{WorkflowID: id}
	}
	return copyWorkflow(w), nil
}

// ListWorkflows returns copies of workflows matching the status filter; the
// empty status matches everything.
func (s *Store) ListWorkflows(_ context.Context, status workflow.Status) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.Workflow
	for _, w := range s.workflows {
		if status == "" || w.Status == status {
			out = append(out, copyWorkflow(w))
		}
	}
	return out, nil
}

// AppendExecution appends a copy of the record.
func (s *Store) AppendExecution(_ context.Context, rec *workflow.StageExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.executions = append(s.executions, &cp)
	return nil
}

// ListExecutions filters by agent name (empty = all) and timestamp.
func (s *Store) ListExecutions(_ context.Context, agentName string, since time.Time) ([]*workflow.StageExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.StageExecutionRecord
	for _, r := range s.executions {
		if agentName != "" && r.AgentName != agentName {
			continue
		}
		if !since.IsZero() && r.Timestamp.Before(since) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// AppendAgentError appends a copy of the error record.
func (s *Store) AppendAgentError(_ context.Context, ae *workflow.AgentError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ae
	s.agentErrors = append(s.agentErrors, &cp)
	return nil
}

// CountAgentErrors counts error records for an agent since the given time.
func (s *Store) CountAgentErrors(_ context.Context, agentName string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	for _, ae := range s.agentErrors {
		if agentName != "" && ae.AgentName != agentName {
			continue
		}
		if !since.IsZero() && ae.Timestamp.Before(since) {
			continue
		}
		n++
	}
	return n, nil
}

// AppendOptimization appends a copy of the report.
func (s *Store) AppendOptimization(_ context.Context, rep *workflow.OptimizationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rep
	s.optimizations = append(s.optimizations, &cp)
	return nil
}

// ListOptimizations returns reports since the given time.
func (s *Store) ListOptimizations(_ context.Context, since time.Time) ([]*workflow.OptimizationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.OptimizationReport
	for _, r := range s.optimizations {
		if !since.IsZero() && r.Timestamp.Before(since) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// AppendStuckAnalysis appends a copy of the analysis record.
func (s *Store) AppendStuckAnalysis(_ context.Context, a *workflow.StuckWorkflowAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.stuckAnalyses = append(s.stuckAnalyses, &cp)
	return nil
}

// ListStuckAnalyses filters by workflow ID (empty = all) and timestamp.
func (s *Store) ListStuckAnalyses(_ context.Context, workflowID string, since time.Time) ([]*workflow.StuckWorkflowAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*workflow.StuckWorkflowAnalysis
	for _, a := range s.stuckAnalyses {
		if workflowID != "" && a.WorkflowID != workflowID {
			continue
		}
		if !since.IsZero() && a.Timestamp.Before(since) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// copyWorkflow deep-copies the mutable parts of a workflow record so callers
// and the store never share pointers.
func copyWorkflow(w *workflow.Workflow) *workflow.Workflow {
	cp := *w
	if w.Metadata != nil {
		cp.Metadata = make(map[string]string, len(w.Metadata))
		for k, v := range w.Metadata {
			cp.Metadata[k] = v
		}
	}
	if w.Alert != nil {
		a := *w.Alert
		cp.Alert = &a
	}
	if w.Case != nil {
		c := *w.Case
		cp.Case = &c
	}
	if w.Analysis != nil {
		a := *w.Analysis
		cp.Analysis = &a
	}
	if w.Decision != nil {
		d := *w.Decision
		cp.Decision = &d
	}
	return &cp
}

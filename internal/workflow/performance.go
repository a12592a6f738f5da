package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// GetAgentPerformance aggregates execution history per agent. An agent with
// no recorded executions reports a zero success rate and an unknown status
// rather than an error.
func (c *Coordinator) GetAgentPerformance(ctx context.Context) (map[string]AgentPerformance, error) {
	perf := make(map[string]AgentPerformance, len(Stages))

	for _, stage := range Stages {
		agent := string(stage)

		recs, err := c.metrics.ListExecutions(ctx, agent, time.Time{})
		if err != nil {
			return nil, &PersistenceError{Op: "list executions for " + agent, Err: err}
		}
		errCount, err := c.metrics.CountAgentErrors(ctx, agent, time.Time{})
		if err != nil {
			return nil, &PersistenceError{Op: "count errors for " + agent, Err: err}
		}

		perf[agent] = c.aggregate(recs, errCount)
	}
	return perf, nil
}

func (c *Coordinator) aggregate(recs []*StageExecutionRecord, errCount int) AgentPerformance {
	p := AgentPerformance{
		TotalExecutions: len(recs),
		ErrorCount:      errCount,
		CurrentStatus:   AgentUnknown,
	}
	if len(recs) == 0 {
		return p
	}

	var successes int
	var successTime float64
	for _, r := range recs {
		if r.Success {
			successes++
			successTime += r.ExecutionTime
		}
	}

	p.SuccessRate = float64(successes) / float64(len(recs))
	if successes > 0 {
		p.AvgExecutionTime = successTime / float64(successes)
	}

	switch {
	case p.SuccessRate < c.thresholds.SuccessRate && errCount > c.thresholds.ErrorThreshold:
		p.CurrentStatus = AgentFailing
	case p.SuccessRate < c.thresholds.SuccessRate || p.AvgExecutionTime > c.thresholds.ExecutionTime:
		p.CurrentStatus = AgentDegraded
	default:
		p.CurrentStatus = AgentHealthy
	}
	return p
}

// OptimizeWorkflow recomputes per-agent aggregates, flags bottlenecks, and
// asks the advisory function for recommendations. With no bottlenecks the
// result is optimal and nothing is persisted. An unreachable advisory
// function degrades the report (local bottlenecks, empty recommendations,
// diagnostic note) instead of failing the run.
func (c *Coordinator) OptimizeWorkflow(ctx context.Context) (*OptimizationReport, error) {
	perf, err := c.GetAgentPerformance(ctx)
	if err != nil {
		return nil, err
	}

	var bottlenecks []string
	for _, stage := range Stages {
		agent := string(stage)
		p := perf[agent]
		if p.TotalExecutions == 0 {
			continue
		}
		if p.AvgExecutionTime > c.thresholds.ExecutionTime || p.SuccessRate < c.thresholds.SuccessRate {
			bottlenecks = append(bottlenecks, agent)
		}
	}

	rep := &OptimizationReport{
		ID:          ulid.Make().String(),
		Timestamp:   time.Now().UTC(),
		Performance: perf,
	}

	if len(bottlenecks) == 0 {
		rep.Status = OptimizationOptimal
		c.pm.Optimizations.WithLabelValues(string(OptimizationOptimal)).Inc()
		return rep, nil
	}

	rep.Status = OptimizationBottleneck
	rep.Bottlenecks = bottlenecks

	if c.advisor != nil {
		advice, aerr := c.advisor.Recommend(ctx, c.snapshot(perf))
		if aerr != nil {
			c.pm.AdvisoryCalls.WithLabelValues("recommend", "error").Inc()
			c.logger.Warn(ctx, "advisory function unavailable, returning local bottlenecks only",
				"error", aerr.Error())
			rep.Note = fmt.Sprintf("advisory unavailable: %v", aerr)
		} else {
			c.pm.AdvisoryCalls.WithLabelValues("recommend", "success").Inc()
			rep.Recommendations = advice.Recommendations
			rep.Note = advice.Summary
		}
	} else {
		rep.Note = "advisory function not configured"
	}

	if err := c.metrics.AppendOptimization(ctx, rep); err != nil {
		return rep, &PersistenceError{Op: "persist optimization report", Err: err}
	}

	c.pm.Optimizations.WithLabelValues(string(OptimizationBottleneck)).Inc()
	c.logger.Info(ctx, "optimization run complete",
		"status", rep.Status,
		"bottlenecks", len(rep.Bottlenecks),
		"recommendations", len(rep.Recommendations),
	)
	return rep, nil
}

// snapshot converts per-agent aggregates into the advisory input format.
func (c *Coordinator) snapshot(perf map[string]AgentPerformance) MetricsSnapshot {
	snap := MetricsSnapshot{Agents: perf}
	var rateSum float64
	var agents int
	for _, p := range perf {
		snap.TotalExecutions += p.TotalExecutions
		snap.TotalAvgTime += p.AvgExecutionTime
		rateSum += p.SuccessRate
		agents++
	}
	if agents > 0 {
		snap.OverallSuccessRate = rateSum / float64(agents)
	}
	return snap
}

package agents

import (
	"context"
	"sort"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/caseapi"
	"github.com/linnemanlabs/caseflow/internal/workflow"
)

// CaseLister is the slice of the case API the selection agent needs.
type CaseLister interface {
	ListCases(ctx context.Context, opts caseapi.ListOptions) ([]caseapi.Case, error)
}

// SelectionConfig are the case selection criteria.
type SelectionConfig struct {
	MinScore   float64
	Severities []string
	Statuses   []string
	Limit      int
}

// Selection picks candidate cases for investigation, highest priority first.
// A pure query; it never mutates case state.
type Selection struct {
	api    CaseLister
	cfg    SelectionConfig
	logger log.Logger
}

// NewSelection wires a Selection agent.
func NewSelection(api CaseLister, cfg SelectionConfig, logger log.Logger) *Selection {
	if logger == nil {
		logger = log.Nop()
	}
	return &Selection{api: api, cfg: cfg, logger: logger}
}

var severityWeights = map[string]int{
	"Critical": 4,
	"High":     3,
	"Medium":   2,
	"Low":      1,
}

// SelectCandidates queries the case API with the configured criteria and
// ranks results by severity weight, then score. An empty result is not an
// error; it means nothing needs triage right now.
func (s *Selection) SelectCandidates(ctx context.Context) ([]workflow.CaseRef, error) {
	cases, err := s.api.ListCases(ctx, caseapi.ListOptions{
		Statuses:   s.cfg.Statuses,
		Severities: s.cfg.Severities,
		MinScore:   s.cfg.MinScore,
		Limit:      s.cfg.Limit,
	})
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		s.logger.Info(ctx, "no cases match selection criteria")
		return nil, nil
	}

	sort.SliceStable(cases, func(i, j int) bool {
		wi, wj := severityWeights[cases[i].Severity], severityWeights[cases[j].Severity]
		if wi != wj {
			return wi > wj
		}
		return cases[i].Score > cases[j].Score
	})

	refs := make([]workflow.CaseRef, 0, len(cases))
	for _, c := range cases {
		refs = append(refs, workflow.CaseRef{
			ID:         c.ID,
			TicketID:   c.TicketID,
			Title:      c.Title,
			Severity:   c.Severity,
			Score:      c.Score,
			Status:     c.Status,
			AlertCount: c.AlertCount,
		})
	}

	s.logger.Info(ctx, "selected candidate cases",
		"count", len(refs),
		"top_ticket", refs[0].TicketID,
		"top_severity", refs[0].Severity,
	)
	return refs, nil
}

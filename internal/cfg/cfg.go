// Package cfg holds the application configuration and its validation rules.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

// Config collects every tunable the service reads at startup.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	CaseAPIURL   string
	CaseAPIToken string

	ClaudeAPIKey string
	ClaudeModel  string

	DatabaseURL     string
	SlackWebhookURL string

	// Selection criteria.
	MinCaseScore       float64
	CriticalSeverities string
	NewCaseStatuses    string
	MaxCasesPerBatch   int

	// Escalation rules.
	RiskLevelThreshold     int
	MinAlertsForEscalation int
	CriticalKillChain      string

	// Retry policy.
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration

	// Performance thresholds.
	ExecutionTimeThreshold float64
	SuccessRateThreshold   float64
	ErrorThreshold         int

	// Monitor pacing.
	StuckThreshold    time.Duration
	StuckScanInterval time.Duration
	OptimizeInterval  time.Duration
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = auth disabled)")
	fs.StringVar(&c.CaseAPIURL, "case-api-url", "", "base URL of the case-management API")
	fs.StringVar(&c.CaseAPIToken, "case-api-token", "", "bearer token for the case-management API")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.Float64Var(&c.MinCaseScore, "min-case-score", 70, "minimum case score eligible for selection (0..100)")
	fs.StringVar(&c.CriticalSeverities, "critical-severities", "Critical,High", "comma-separated severities eligible for selection")
	fs.StringVar(&c.NewCaseStatuses, "new-case-statuses", "New", "comma-separated case statuses eligible for selection")
	fs.IntVar(&c.MaxCasesPerBatch, "max-cases-per-batch", 10, "maximum candidate cases fetched per selection query")
	fs.IntVar(&c.RiskLevelThreshold, "risk-level-threshold", 7, "1-10 risk level above which a case is escalated")
	fs.IntVar(&c.MinAlertsForEscalation, "min-alerts-for-escalation", 3, "alert count at which a case is escalated regardless of risk")
	fs.StringVar(&c.CriticalKillChain, "critical-kill-chain", "", "comma-separated kill chain stages that always escalate")
	fs.IntVar(&c.MaxRetries, "max-retries", 3, "maximum attempts per stage (1..10)")
	fs.DurationVar(&c.BaseRetryDelay, "base-retry-delay", 2*time.Second, "backoff base delay between stage retries")
	fs.DurationVar(&c.MaxRetryDelay, "max-retry-delay", 30*time.Second, "backoff delay ceiling between stage retries")
	fs.Float64Var(&c.ExecutionTimeThreshold, "execution-time-threshold", 30, "average stage seconds above which an agent is a bottleneck")
	fs.Float64Var(&c.SuccessRateThreshold, "success-rate-threshold", 0.95, "success fraction below which an agent is a bottleneck (0..1)")
	fs.IntVar(&c.ErrorThreshold, "error-threshold", 3, "error count above which a degraded agent is failing")
	fs.DurationVar(&c.StuckThreshold, "stuck-threshold", 15*time.Minute, "time in one stage before a workflow is flagged stuck")
	fs.DurationVar(&c.StuckScanInterval, "stuck-scan-interval", time.Minute, "interval between stuck-workflow scans")
	fs.DurationVar(&c.OptimizeInterval, "optimize-interval", 15*time.Minute, "interval between optimization runs")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Case API is required; selection cannot run without it
	if c.CaseAPIURL == "" {
		errs = append(errs, errors.New("CASE_API_URL is required"))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.MinCaseScore < 0 || c.MinCaseScore > 100 {
		errs = append(errs, fmt.Errorf("invalid MIN_CASE_SCORE %.1f (must be 0..100)", c.MinCaseScore))
	}
	if c.MaxCasesPerBatch <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_CASES_PER_BATCH %d (must be positive)", c.MaxCasesPerBatch))
	}
	if c.RiskLevelThreshold < 1 || c.RiskLevelThreshold > 10 {
		errs = append(errs, fmt.Errorf("invalid RISK_LEVEL_THRESHOLD %d (must be 1..10)", c.RiskLevelThreshold))
	}

	if c.MaxRetries <= 0 || c.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("invalid MAX_RETRIES %d (must be 1..10)", c.MaxRetries))
	}
	if c.BaseRetryDelay <= 0 {
		errs = append(errs, fmt.Errorf("invalid BASE_RETRY_DELAY %s (must be positive)", c.BaseRetryDelay))
	}
	if c.MaxRetryDelay < c.BaseRetryDelay {
		errs = append(errs, fmt.Errorf("MAX_RETRY_DELAY %s must be at least BASE_RETRY_DELAY %s", c.MaxRetryDelay, c.BaseRetryDelay))
	}

	if c.ExecutionTimeThreshold <= 0 {
		errs = append(errs, fmt.Errorf("invalid EXECUTION_TIME_THRESHOLD %.1f (must be positive)", c.ExecutionTimeThreshold))
	}
	if c.SuccessRateThreshold < 0 || c.SuccessRateThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid SUCCESS_RATE_THRESHOLD %.2f (must be 0..1)", c.SuccessRateThreshold))
	}
	if c.ErrorThreshold <= 0 {
		errs = append(errs, fmt.Errorf("invalid ERROR_THRESHOLD %d (must be positive)", c.ErrorThreshold))
	}

	if c.StuckThreshold <= 0 {
		errs = append(errs, fmt.Errorf("invalid STUCK_THRESHOLD %s (must be positive)", c.StuckThreshold))
	}
	if c.StuckScanInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid STUCK_SCAN_INTERVAL %s (must be positive)", c.StuckScanInterval))
	}
	if c.OptimizeInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid OPTIMIZE_INTERVAL %s (must be positive)", c.OptimizeInterval))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SplitCSV turns a comma-separated flag value into a clean slice.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package caseapi is the HTTP client for the external case-management
// system. Responses arrive wrapped in a data envelope; this package
// unwraps them and classifies failures as transient or permanent so the
// pipeline's retry policy can act on them.
package caseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/workflow"
)

const httpTimeout = 30 * time.Second

// Client talks to the case-management REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  log.Logger
}

// New creates a client rooted at baseURL (the API root, e.g.
// https://host/connect/api/v1). token is sent as a bearer token on every
// request.
func New(baseURL, token string, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: httpTimeout},
		logger:  logger,
	}
}

// Case is a case record as the API reports it.
type Case struct {
	ID         string  `json:"_id"`
	TicketID   string  `json:"ticket_id"`
	Title      string  `json:"title,omitempty"`
	Severity   string  `json:"severity,omitempty"`
	Score      float64 `json:"score,omitempty"`
	Status     string  `json:"status,omitempty"`
	AlertCount int     `json:"alert_count,omitempty"`
}

// Alert is an alert attached to a case.
type Alert struct {
	ID       string         `json:"_id"`
	Title    string         `json:"title,omitempty"`
	Severity string         `json:"severity,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Summary is the case summary endpoint's payload.
type Summary struct {
	Description     string   `json:"description,omitempty"`
	KillChainStages []string `json:"kill_chain_stages,omitempty"`
}

// ListOptions are the selection criteria for ListCases. Zero values mean
// no filter.
type ListOptions struct {
	Statuses   []string
	Severities []string
	MinScore   float64
	Limit      int
}

// UpdateRequest carries the mutable case fields. Empty fields are left
// untouched.
type UpdateRequest struct {
	Status   string   `json:"status,omitempty"`
	Severity string   `json:"severity,omitempty"`
	Assignee string   `json:"assignee,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// ListCases returns cases matching the given criteria, as the API orders
// them.
func (c *Client) ListCases(ctx context.Context, opts ListOptions) ([]Case, error) {
	q := url.Values{}
	if len(opts.Statuses) > 0 {
		q.Set("status", strings.Join(opts.Statuses, ","))
	}
	if len(opts.Severities) > 0 {
		q.Set("severity", strings.Join(opts.Severities, ","))
	}
	if opts.MinScore > 0 {
		q.Set("min_score", strconv.FormatFloat(opts.MinScore, 'f', -1, 64))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	q.Set("sort", "created_at")
	q.Set("order", "desc")

	var out struct {
		Data struct {
			Cases []Case `json:"cases"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/cases", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Cases, nil
}

// GetCase retrieves a single case by ID.
func (c *Client) GetCase(ctx context.Context, caseID string) (*Case, error) {
	var out struct {
		Data Case `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/cases/"+url.PathEscape(caseID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetCaseSummary retrieves the summary for a case.
func (c *Client) GetCaseSummary(ctx context.Context, caseID string) (*Summary, error) {
	var out struct {
		Data Summary `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/cases/"+url.PathEscape(caseID)+"/summary", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetCaseAlerts retrieves the alerts attached to a case.
func (c *Client) GetCaseAlerts(ctx context.Context, caseID string) ([]Alert, error) {
	var out struct {
		Data struct {
			Alerts []Alert `json:"alerts"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/cases/"+url.PathEscape(caseID)+"/alerts", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data.Alerts, nil
}

// UpdateCase applies the non-empty fields of req to a case.
func (c *Client) UpdateCase(ctx context.Context, caseID string, req UpdateRequest) error {
	return c.do(ctx, http.MethodPut, "/cases/"+url.PathEscape(caseID), nil, req, nil)
}

// AddComment posts a comment on a case.
func (c *Client) AddComment(ctx context.Context, caseID, comment string) error {
	body := map[string]string{"comment": comment}
	return c.do(ctx, http.MethodPost, "/cases/"+url.PathEscape(caseID)+"/comments", nil, body, nil)
}

// do performs one request and decodes the response into out (when out is
// non-nil). Network failures, 429s, and 5xx responses come back as
// transient; other non-2xx responses are permanent.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("caseapi: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("caseapi: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &workflow.TransientError{Err: fmt.Errorf("caseapi: %s %s: %w", method, path, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Info(ctx, "case api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_s", time.Since(start).Seconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		reqErr := fmt.Errorf("caseapi: %s %s returned %d: %s", method, path, resp.StatusCode, string(snippet))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &workflow.TransientError{Err: reqErr}
		}
		return &workflow.PermanentError{Err: reqErr}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("caseapi: decode response: %w", err)
	}
	return nil
}

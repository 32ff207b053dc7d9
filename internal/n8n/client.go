// Package n8n reads workflows and executions from the n8n public REST API.
package n8n

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/ignatij/flowmetrics/internal/log"
	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/pkg/errors"
)

const (
	apiKeyHeader    = "X-N8N-API-KEY"
	defaultPageSize = 100
	maxPageSize     = 250
)

// ErrUnauthorized is returned when n8n rejects the API key.
var ErrUnauthorized = errors.New("n8n: unauthorized")

type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	RetryMax int
	// RetryWait bounds the backoff between attempts; zero keeps the retryablehttp defaults.
	RetryWait time.Duration
	Timeout   time.Duration
}

type Client struct {
	baseURL    *url.URL
	apiKey     string
	pageSize   int
	httpClient *retryablehttp.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("n8n base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse n8n base url")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	if cfg.RetryWait > 0 {
		client.RetryWaitMin = cfg.RetryWait
		client.RetryWaitMax = cfg.RetryWait
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	client.Logger = nil // Disable retryablehttp's default logging
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log.GetLogger().Warnf("Retrying n8n request %s %s (attempt %d)", req.Method, req.URL.Path, attempt+1)
		}
	}

	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		pageSize:   pageSize,
		httpClient: client,
	}, nil
}

// ListWorkflows returns every workflow visible to the API key.
func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var workflows []Workflow
	cursor := ""
	for {
		var p page[Workflow]
		q := url.Values{}
		q.Set("limit", strconv.Itoa(c.pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		if err := c.get(ctx, "/api/v1/workflows", q, &p); err != nil {
			return nil, err
		}
		workflows = append(workflows, p.Data...)
		if p.NextCursor == nil || *p.NextCursor == "" {
			return workflows, nil
		}
		cursor = *p.NextCursor
	}
}

// ListExecutions returns the executions of a workflow, newest first. When since is
// set, paging stops at the first execution that started before it and older
// executions are left out. Executions that have not started yet are always kept.
func (c *Client) ListExecutions(ctx context.Context, workflowID string, since time.Time) ([]Execution, error) {
	var executions []Execution
	cursor := ""
	for {
		var p page[Execution]
		q := url.Values{}
		q.Set("workflowId", workflowID)
		q.Set("limit", strconv.Itoa(c.pageSize))
		q.Set("includeData", "false")
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		if err := c.get(ctx, "/api/v1/executions", q, &p); err != nil {
			return nil, err
		}
		reachedSince := false
		for _, e := range p.Data {
			if !since.IsZero() && e.StartedAt != nil && e.StartedAt.Before(since) {
				reachedSince = true
				continue
			}
			executions = append(executions, e)
		}
		if reachedSince || p.NextCursor == nil || *p.NextCursor == "" {
			return executions, nil
		}
		cursor = *p.NextCursor
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := *c.baseURL
	u.Path = u.Path + path
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "build n8n request")
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}

// FetchExecutions lists the executions of a workflow as records owned by userID.
func (c *Client) FetchExecutions(ctx context.Context, workflowID, userID string, since time.Time) ([]models.ExecutionRecord, error) {
	executions, err := c.ListExecutions(ctx, workflowID, since)
	if err != nil {
		return nil, err
	}
	records := make([]models.ExecutionRecord, 0, len(executions))
	for _, e := range executions {
		r := e.Record(userID)
		if r.WorkflowID == "" {
			r.WorkflowID = workflowID
		}
		records = append(records, r)
	}
	return records, nil
}

// FetchWorkflows lists n8n workflows as unregistered models owned by userID.
func (c *Client) FetchWorkflows(ctx context.Context, userID string) ([]models.Workflow, error) {
	workflows, err := c.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Workflow, 0, len(workflows))
	for _, w := range workflows {
		out = append(out, models.Workflow{
			ID:        string(w.ID),
			Name:      w.Name,
			UserID:    userID,
			Active:    w.Active,
			CreatedAt: w.CreatedAt,
			UpdatedAt: w.UpdatedAt,
		})
	}
	return out, nil
}

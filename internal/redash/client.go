// Package redash executes SQL statements against a remote Redash server,
// hiding its asynchronous job model behind a submit/poll/fetch protocol.
package redash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"
)

// DefaultPollInterval is the fixed cadence between job status polls.
const DefaultPollInterval = 1 * time.Second

// DefaultPollAttempts bounds the poll loop; with the default interval this
// amounts to roughly three minutes of wall time.
const DefaultPollAttempts = 180

// DefaultTimeout is the per-request HTTP timeout.
const DefaultTimeout = 30 * time.Second

// Redash job status codes as reported by GET /api/jobs/{id}.
const (
	jobStatusPending = 1
	jobStatusRunning = 2
	jobStatusDone    = 3
	jobStatusFailed  = 4
)

// Config holds connection settings for a Redash server.
type Config struct {
	Host         string
	APIKey       string
	DataSourceID int
	// MaxAge controls result caching on the server; 0 forces fresh execution.
	MaxAge int
}

// NewConfigFromEnv builds a Config from REDASH_HOST, REDASH_API_KEY and
// REDASH_DATA_SOURCE_ID. Only the host is required here; a missing API key
// is reported by ExecuteQuery so that callers can classify it separately.
func NewConfigFromEnv() (*Config, error) {
	host := os.Getenv("REDASH_HOST")
	if host == "" {
		return nil, fmt.Errorf("REDASH_HOST environment variable is required")
	}

	dataSourceID := 10
	if v := os.Getenv("REDASH_DATA_SOURCE_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDASH_DATA_SOURCE_ID %q: %w", v, err)
		}
		dataSourceID = id
	}

	return &Config{
		Host:         host,
		APIKey:       os.Getenv("REDASH_API_KEY"),
		DataSourceID: dataSourceID,
	}, nil
}

// SleepFunc suspends until the duration elapses or the context is canceled.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures client behavior. The zero value of each field selects
// a default, so tests can override only what they need (a fake sleep, a
// short poll bound, an httptest client).
type Options struct {
	HTTPClient   *http.Client
	PollInterval time.Duration
	PollAttempts int
	Sleep        SleepFunc
}

// Client talks to one Redash server. It is stateless and safe for
// concurrent use.
type Client struct {
	cfg          *Config
	httpClient   *http.Client
	pollInterval time.Duration
	pollAttempts int
	sleep        SleepFunc
}

// NewClient creates a client for the given server. opts may be nil.
func NewClient(cfg *Config, opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}

	c := &Client{
		cfg:          cfg,
		httpClient:   opts.HTTPClient,
		pollInterval: opts.PollInterval,
		pollAttempts: opts.PollAttempts,
		sleep:        opts.Sleep,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.pollAttempts <= 0 {
		c.pollAttempts = DefaultPollAttempts
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Column describes one column of a query result.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult holds the tabular outcome of one executed query.
type QueryResult struct {
	ResultID int64
	Rows     []map[string]any
	Columns  []Column
	// Runtime is the execution time in seconds as reported by the server.
	Runtime float64
}

// SubmitOutcome is the result of creating a query job: either an immediate
// (cached) result reference or a job id to poll.
type SubmitOutcome struct {
	JobID    string
	ResultID int64
}

// Cached reports whether the server returned a result without a job.
func (o SubmitOutcome) Cached() bool {
	return o.ResultID != 0
}

type redashJob struct {
	ID            string `json:"id"`
	Status        int    `json:"status"`
	Error         string `json:"error"`
	QueryResultID int64  `json:"query_result_id"`
}

type submitResponse struct {
	Job         *redashJob `json:"job"`
	QueryResult *struct {
		ID int64 `json:"id"`
	} `json:"query_result"`
}

type jobResponse struct {
	Job redashJob `json:"job"`
}

type resultResponse struct {
	QueryResult struct {
		ID   int64 `json:"id"`
		Data struct {
			Rows    []map[string]any `json:"rows"`
			Columns []Column         `json:"columns"`
		} `json:"data"`
		Runtime float64 `json:"runtime"`
	} `json:"query_result"`
}

// Submit creates a query job on the server. If the server has a cached
// result it returns the result reference directly.
func (c *Client) Submit(ctx context.Context, query string) (SubmitOutcome, error) {
	body, err := json.Marshal(map[string]any{
		"data_source_id": c.cfg.DataSourceID,
		"query":          query,
		"max_age":        c.cfg.MaxAge,
	})
	if err != nil {
		return SubmitOutcome{}, &SubmitError{Message: "failed to encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Host+"/api/query_results", bytes.NewReader(body))
	if err != nil {
		return SubmitOutcome{}, &SubmitError{Message: "failed to create request", Cause: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SubmitOutcome{}, &SubmitError{Message: "request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return SubmitOutcome{}, &SubmitError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(text)),
		}
	}

	var payload submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return SubmitOutcome{}, &SubmitError{Message: "failed to decode response", Cause: err}
	}

	if payload.QueryResult != nil && payload.QueryResult.ID != 0 {
		return SubmitOutcome{ResultID: payload.QueryResult.ID}, nil
	}
	if payload.Job != nil && payload.Job.ID != "" {
		return SubmitOutcome{JobID: payload.Job.ID}, nil
	}
	return SubmitOutcome{}, &SubmitError{Message: "unexpected response: no job or query_result"}
}

// Poll fetches the job status at a fixed cadence until the job completes,
// fails, or the attempt bound is exhausted. It returns the result reference
// of a completed job.
func (c *Client) Poll(ctx context.Context, jobID string) (int64, error) {
	start := time.Now()

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		job, err := c.getJob(ctx, jobID)
		if err != nil {
			return 0, err
		}

		if attempt%5 == 0 {
			log.Printf("[redash] job %s status=%d attempt=%d elapsed=%.1fs",
				shortID(jobID), job.Status, attempt, time.Since(start).Seconds())
		}

		switch job.Status {
		case jobStatusDone:
			if job.QueryResultID == 0 {
				return 0, &PollError{JobID: jobID, Message: "job completed but no query_result_id"}
			}
			return job.QueryResultID, nil
		case jobStatusFailed:
			msg := job.Error
			if msg == "" {
				msg = "job failed with unknown error"
			}
			return 0, &JobFailedError{JobID: jobID, Message: msg}
		}

		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return 0, &PollError{JobID: jobID, Message: "wait aborted", Cause: err}
		}
	}

	return 0, &PollTimeoutError{JobID: jobID, Attempts: c.pollAttempts}
}

func (c *Client) getJob(ctx context.Context, jobID string) (*redashJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+"/api/jobs/"+jobID, nil)
	if err != nil {
		return nil, &PollError{JobID: jobID, Message: "failed to create request", Cause: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &PollError{JobID: jobID, Message: "request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &PollError{JobID: jobID, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var payload jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &PollError{JobID: jobID, Message: "failed to decode response", Cause: err}
	}
	return &payload.Job, nil
}

// FetchResults retrieves the rows and columns for a result reference.
func (c *Client) FetchResults(ctx context.Context, resultID int64) (*QueryResult, error) {
	url := fmt.Sprintf("%s/api/query_results/%d", c.cfg.Host, resultID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{ResultID: resultID, Message: "failed to create request", Cause: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{ResultID: resultID, Message: "request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{
			ResultID:   resultID,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(text)),
		}
	}

	var payload resultResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &FetchError{ResultID: resultID, Message: "failed to decode response", Cause: err}
	}

	return &QueryResult{
		ResultID: resultID,
		Rows:     payload.QueryResult.Data.Rows,
		Columns:  payload.QueryResult.Data.Columns,
		Runtime:  payload.QueryResult.Runtime,
	}, nil
}

// ExecuteQuery runs one SQL statement end to end: submit, poll if the
// result was not cached, then fetch the rows.
func (c *Client) ExecuteQuery(ctx context.Context, query string) (*QueryResult, error) {
	if c.cfg.APIKey == "" {
		return nil, &ConfigError{Message: "REDASH_API_KEY is not configured"}
	}

	outcome, err := c.Submit(ctx, query)
	if err != nil {
		return nil, err
	}

	resultID := outcome.ResultID
	if !outcome.Cached() {
		log.Printf("[redash] job created: %s, polling...", shortID(outcome.JobID))
		resultID, err = c.Poll(ctx, outcome.JobID)
		if err != nil {
			return nil, err
		}
	}

	result, err := c.FetchResults(ctx, resultID)
	if err != nil {
		return nil, err
	}

	log.Printf("[redash] got %d rows in %.2fs", len(result.Rows), result.Runtime)
	return result, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.cfg.APIKey)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

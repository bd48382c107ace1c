package sparkapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

// Sentinel errors for history-API operations. Use errors.Is() to check
// for these in calling code.
var (
	// ErrUnsupportedVersion indicates the server's reported Spark
	// version is not in the configured allow-list. Fatal at startup.
	ErrUnsupportedVersion = errors.New("unsupported spark version")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")
)

// statusError is an HTTP failure carrying the response code so the
// retry loop can distinguish transient from permanent failures.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.code, e.url)
}

// Config holds client settings.
type Config struct {
	// BaseURL is the history server API root, e.g.
	// http://spark-history:18080/api/v1.
	BaseURL string

	// MaxConcurrency bounds in-flight requests against the server.
	MaxConcurrency int

	// MaxRetries caps backoff retries per request.
	MaxRetries uint64

	// Timeout applies per HTTP request.
	Timeout time.Duration
}

// Client fetches application, stage and task telemetry with a bounded
// number of concurrent requests so a rate-sensitive history server is
// never overwhelmed.
type Client struct {
	baseURL    string
	http       *http.Client
	sem        *semaphore.Weighted
	maxRetries uint64
	log        *slog.Logger
}

// NewClient creates a history-API client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		http:       &http.Client{Timeout: cfg.Timeout},
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		maxRetries: cfg.MaxRetries,
		log:        log,
	}
}

// get performs a bounded, retried GET and decodes the JSON body into out.
// 5xx and transport errors are retried with exponential backoff; 4xx are
// permanent.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	u := c.baseURL + "/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Transport errors are retryable unless the context is done.
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, u))
		case resp.StatusCode >= 500:
			return &statusError{code: resp.StatusCode, url: u}
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(&statusError{code: resp.StatusCode, url: u})
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", u, err))
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	notify := func(err error, wait time.Duration) {
		c.log.Warn("retrying history API request", "url", u, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return err
	}
	return nil
}

// Version fetches the server's Spark version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v VersionInfo
	if err := c.get(ctx, "version", nil, &v); err != nil {
		return "", fmt.Errorf("fetch version: %w", err)
	}
	return v.Spark, nil
}

// CheckVersion fetches the server version and verifies it against the
// allow-list. Returns ErrUnsupportedVersion when it does not match.
// Runs once per run; an unsupported version is a fatal startup error.
func (c *Client) CheckVersion(ctx context.Context, allowed []string) (string, error) {
	version, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	for _, v := range allowed {
		if v == version {
			return version, nil
		}
	}
	return version, fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
}

// ListApplications fetches completed applications, newest first. When
// userFilter is non-empty only applications submitted by that user are
// returned. limit <= 0 means no explicit limit parameter.
func (c *Client) ListApplications(ctx context.Context, limit int, userFilter string) ([]Application, error) {
	query := url.Values{"status": {"completed"}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var apps []Application
	if err := c.get(ctx, "applications", query, &apps); err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}

	out := apps[:0]
	for _, app := range apps {
		if app.ID == "" {
			return nil, fmt.Errorf("list applications: application without id in response")
		}
		if !app.Completed() {
			continue
		}
		if userFilter != "" && app.User() != userFilter {
			continue
		}
		out = append(out, app)
	}
	return out, nil
}

// appPath maps an application and attempt onto the URL path segment.
// Cluster-mode applications address attempts as {id}/{attempt}.
func appPath(appID, attemptID string) string {
	if attemptID != "" {
		return appID + "/" + attemptID
	}
	return appID
}

// Environment fetches the environment payload of an application attempt.
func (c *Client) Environment(ctx context.Context, appID, attemptID string) (Environment, error) {
	var env Environment
	err := c.get(ctx, fmt.Sprintf("applications/%s/environment", appPath(appID, attemptID)), nil, &env)
	if err != nil {
		return Environment{}, fmt.Errorf("fetch environment for %s: %w", appID, err)
	}
	return env, nil
}

// Executors fetches the executor list of an application attempt.
func (c *Client) Executors(ctx context.Context, appID, attemptID string) ([]ExecutorSummary, error) {
	var execs []ExecutorSummary
	err := c.get(ctx, fmt.Sprintf("applications/%s/executors", appPath(appID, attemptID)), nil, &execs)
	if err != nil {
		return nil, fmt.Errorf("fetch executors for %s: %w", appID, err)
	}
	return execs, nil
}

// Jobs fetches the job list of an application attempt.
func (c *Client) Jobs(ctx context.Context, appID, attemptID string) ([]Job, error) {
	var jobs []Job
	err := c.get(ctx, fmt.Sprintf("applications/%s/jobs", appPath(appID, attemptID)), nil, &jobs)
	if err != nil {
		return nil, fmt.Errorf("fetch jobs for %s: %w", appID, err)
	}
	return jobs, nil
}

// Stages fetches the completed stages of an application attempt.
func (c *Client) Stages(ctx context.Context, appID, attemptID string) ([]Stage, error) {
	query := url.Values{"status": {"complete"}}
	var stages []Stage
	err := c.get(ctx, fmt.Sprintf("applications/%s/stages", appPath(appID, attemptID)), query, &stages)
	if err != nil {
		return nil, fmt.Errorf("fetch stages for %s: %w", appID, err)
	}
	return stages, nil
}

// StageAttempts fetches all attempts of one stage.
func (c *Client) StageAttempts(ctx context.Context, appID, attemptID string, stageID int64) ([]StageDetail, error) {
	var details []StageDetail
	err := c.get(ctx, fmt.Sprintf("applications/%s/stages/%d", appPath(appID, attemptID), stageID), nil, &details)
	if err != nil {
		return nil, fmt.Errorf("fetch stage %d for %s: %w", stageID, appID, err)
	}
	return details, nil
}

// TaskList fetches one page of a stage attempt's tasks.
func (c *Client) TaskList(ctx context.Context, appID, attemptID string, stageID int64, stageAttempt, offset, length int) ([]Task, error) {
	query := url.Values{
		"offset": {strconv.Itoa(offset)},
		"length": {strconv.Itoa(length)},
	}
	var tasks []Task
	err := c.get(ctx, fmt.Sprintf("applications/%s/stages/%d/%d/taskList", appPath(appID, attemptID), stageID, stageAttempt), query, &tasks)
	if err != nil {
		return nil, fmt.Errorf("fetch task list for %s stage %d: %w", appID, stageID, err)
	}
	return tasks, nil
}

// AllTasks pages through the full task population of a stage attempt.
func (c *Client) AllTasks(ctx context.Context, appID, attemptID string, stageID int64, stageAttempt int) ([]Task, error) {
	const pageSize = 500

	var all []Task
	for offset := 0; ; offset += pageSize {
		page, err := c.TaskList(ctx, appID, attemptID, stageID, stageAttempt, offset, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// TaskSummary fetches the pre-aggregated quantile summary of a stage
// attempt. Cheaper than AllTasks when task detail is disabled.
func (c *Client) TaskSummary(ctx context.Context, appID, attemptID string, stageID int64, stageAttempt int) (TaskSummary, error) {
	var summary TaskSummary
	err := c.get(ctx, fmt.Sprintf("applications/%s/stages/%d/%d/taskSummary", appPath(appID, attemptID), stageID, stageAttempt), nil, &summary)
	if err != nil {
		return TaskSummary{}, fmt.Errorf("fetch task summary for %s stage %d: %w", appID, stageID, err)
	}
	return summary, nil
}

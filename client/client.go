// Package client provides a Go client for a remote lineup monitor.
//
// Usage:
//
//	c := client.New("http://localhost:3000")
//
//	// Trigger the demonstration batch.
//	err := c.Execute(ctx)
//
//	// Inspect the queue.
//	stats, err := c.Stats(ctx)
//	failed, err := c.ListJobs(ctx, job.ListOpts{State: job.StateFailed})
//
//	// Watch one job.
//	sub, err := c.Subscribe(ctx, stream.JobTopic("Burger#1"))
//	defer sub.Close()
//	for evt := range sub.Events() {
//	    fmt.Println(evt.Type)
//	}
package client

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
	"strings"
	"time"

	"github.com/xraph/lineup"
	"github.com/xraph/lineup/job"
)

// DefaultBasePath matches the server's default mount point.
const DefaultBasePath = "/admin/queues"

// Client talks to the monitor routes of a lineup server.
type Client struct {
	baseURL  string
	basePath string
	format   string
	http     *http.Client
	logger   *slog.Logger

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration
}

// New creates a Client for the server at baseURL, e.g.
// "http://localhost:3000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		basePath:   DefaultBasePath,
		format:     "json",
		http:       http.DefaultClient,
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListJobs returns the server's jobs in enqueue order.
func (c *Client) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var jobs []*job.Job
	if err := c.getJSON(ctx, c.basePath+"/api/jobs", q, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob returns one job. A missing job yields lineup.ErrJobNotFound.
func (c *Client) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.getJSON(ctx, c.basePath+"/api/jobs/"+url.PathEscape(jobID), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Stats returns per-state job counts.
func (c *Client) Stats(ctx context.Context) (job.Stats, error) {
	var s job.Stats
	err := c.getJSON(ctx, c.basePath+"/api/stats", nil, &s)
	return s, err
}

// Execute asks the server to enqueue its demonstration batch.
func (c *Client) Execute(ctx context.Context) error {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.getJSON(ctx, "/queue/execute", nil, &resp); err != nil {
		return err
	}
	c.logger.Debug("execute triggered", slog.String("message", resp.Message))
	return nil
}

// ServerError is a non-2xx answer from the server.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("lineup/client: server returned %d: %s", e.Status, e.Message)
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("lineup/client: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("lineup/client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("lineup/client: decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) //nolint:errcheck // best effort
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	serverErr := &ServerError{Status: resp.StatusCode, Message: body.Error}
	if resp.StatusCode == http.StatusNotFound && strings.Contains(body.Error, lineup.ErrJobNotFound.Error()) {
		return errors.Join(lineup.ErrJobNotFound, serverErr)
	}
	return serverErr
}

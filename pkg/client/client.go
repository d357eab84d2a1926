// Package client provides an HTTP client for the fleetrun daemon API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/fleetrun/internal/catalog"
	"github.com/loykin/fleetrun/internal/device"
	"github.com/loykin/fleetrun/internal/orchestrator"
	"github.com/loykin/fleetrun/internal/run"
)

// Client talks to a running fleetrun daemon.
type Client struct {
	baseURL string
	client  *http.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig returns the local daemon defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8080/api",
		Timeout: 10 * time.Second,
	}
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// IsReachable reports whether the daemon answers its health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	var out map[string]any
	return c.get(ctx, "/health", &out) == nil
}

// Devices returns the daemon's configured inventory.
func (c *Client) Devices(ctx context.Context) ([]device.Target, error) {
	var out struct {
		Devices []device.Target `json:"devices"`
	}
	if err := c.get(ctx, "/devices", &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// Tests returns the test files discovered under the daemon's tests dir.
func (c *Client) Tests(ctx context.Context) ([]catalog.Test, error) {
	var out struct {
		Tests []catalog.Test `json:"tests"`
	}
	if err := c.get(ctx, "/tests", &out); err != nil {
		return nil, err
	}
	return out.Tests, nil
}

// StartRun asks the daemon to begin orchestration and returns the run id.
func (c *Client) StartRun(ctx context.Context, testTarget string, deviceIDs []string, opts orchestrator.Options) (string, error) {
	body := map[string]any{
		"test_target": testTarget,
		"device_ids":  deviceIDs,
		"options":     opts,
	}
	var out struct {
		RunID string `json:"run_id"`
	}
	if err := c.post(ctx, "/runs", body, &out); err != nil {
		return "", err
	}
	return out.RunID, nil
}

// ListRuns returns all known runs, most recent first.
func (c *Client) ListRuns(ctx context.Context) ([]run.Summary, error) {
	var out struct {
		Runs []run.Summary `json:"runs"`
	}
	if err := c.get(ctx, "/runs", &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// GetRun returns full detail for one run, including captured output.
func (c *Client) GetRun(ctx context.Context, runID string) (run.Detail, error) {
	var out run.Detail
	if err := c.get(ctx, "/runs/"+runID, &out); err != nil {
		return run.Detail{}, err
	}
	return out, nil
}

// StopRun requests cancellation and returns the run's state at that moment.
func (c *Client) StopRun(ctx context.Context, runID string) (run.Summary, error) {
	var out run.Summary
	if err := c.post(ctx, "/runs/"+runID+"/stop", nil, &out); err != nil {
		return run.Summary{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		var er struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&er) == nil && er.Error != "" {
			return fmt.Errorf("daemon: %s (status %d)", er.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon: status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

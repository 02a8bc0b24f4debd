package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client provides HTTP client functionality to communicate with a peerviser daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new peerviser API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the supervisor daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Supervisor unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	isReachable := resp.StatusCode == http.StatusOK
	c.logger.Debug("Supervisor reachability check", "reachable", isReachable, "status", resp.StatusCode)
	return isReachable
}

// Start asks the supervisor to start the named daemon. The call returns as
// soon as the request is accepted; startup continues in the background.
func (c *Client) Start(ctx context.Context, daemon string) error {
	c.logger.Debug("Starting daemon", "daemon", daemon)

	u := fmt.Sprintf("%s/start?daemon=%s", c.baseURL, url.QueryEscape(daemon))
	if err := c.doRequest(ctx, http.MethodPost, u); err != nil {
		return err
	}

	c.logger.Debug("Daemon start accepted", "daemon", daemon)
	return nil
}

// Stop asks the supervisor to stop the named daemon and waits up to wait for
// the daemon to exit. A zero wait uses the server default.
func (c *Client) Stop(ctx context.Context, daemon string, wait time.Duration) error {
	c.logger.Debug("Stopping daemon", "daemon", daemon, "wait", wait)

	u := fmt.Sprintf("%s/stop?daemon=%s", c.baseURL, url.QueryEscape(daemon))
	if wait > 0 {
		u += "&wait=" + wait.String()
	}
	if err := c.doRequest(ctx, http.MethodPost, u); err != nil {
		return err
	}

	c.logger.Debug("Daemon stop completed", "daemon", daemon)
	return nil
}

// Status returns the supervision state of one daemon
func (c *Client) Status(ctx context.Context, daemon string) (DaemonStatus, error) {
	var st DaemonStatus
	u := fmt.Sprintf("%s/status?daemon=%s", c.baseURL, url.QueryEscape(daemon))
	if err := c.getJSON(ctx, u, &st); err != nil {
		return DaemonStatus{}, err
	}
	return st, nil
}

// StatusAll returns the supervision state of every managed daemon
func (c *Client) StatusAll(ctx context.Context) ([]DaemonStatus, error) {
	var sts []DaemonStatus
	if err := c.getJSON(ctx, c.baseURL+"/status", &sts); err != nil {
		return nil, err
	}
	return sts, nil
}

// Registry returns the current service registry snapshot keyed by daemon name
func (c *Client) Registry(ctx context.Context) (map[string]RegistryRecord, error) {
	var snap map[string]RegistryRecord
	if err := c.getJSON(ctx, c.baseURL+"/registry", &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// doRequest performs a bodyless HTTP request with common error handling
func (c *Client) doRequest(ctx context.Context, method, u string) error {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return c.handleErrorResponse(resp)
}

// getJSON performs a GET and decodes the JSON body into out
func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	c.logger.Error("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return fmt.Errorf("API error: %s", errorResp.Error)
}

package rerun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/procdash-labs/procdash-go/internal/platform/env"
)

// Config points at the automation server that owns the workitems behind
// rerunnable steps. Retry behavior is caller-configured: the service itself
// never invents a policy.
type Config struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxAttempts int
	RetryDelays []time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("AUTOMATION_SERVER_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	maxAttempts, err := env.Int("AUTOMATION_SERVER_MAX_ATTEMPTS", 1)
	if err != nil {
		return Config{}, err
	}
	delays, err := parseDelays(env.String("AUTOMATION_SERVER_RETRY_DELAYS", ""))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:     env.String("AUTOMATION_SERVER_URL", ""),
		Token:       env.String("AUTOMATION_SERVER_TOKEN", ""),
		Timeout:     timeout,
		MaxAttempts: maxAttempts,
		RetryDelays: delays,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("AUTOMATION_SERVER_URL is required")
	}
	if c.Timeout <= 0 {
		return errors.New("AUTOMATION_SERVER_TIMEOUT must be positive")
	}
	if c.MaxAttempts < 1 {
		return errors.New("AUTOMATION_SERVER_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}

func parseDelays(raw string) ([]time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	delays := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("parse AUTOMATION_SERVER_RETRY_DELAYS: %w", err)
		}
		delays = append(delays, d)
	}
	return delays, nil
}

// Policy is the per-dispatch retry budget read from a step run's rerun
// config. Zero fields fall back to the env-configured defaults, so a step
// without an opinion inherits the server-wide behavior.
type Policy struct {
	MaxAttempts int
	Delays      []time.Duration
}

// Client resets workitems on the automation server to trigger reruns.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// ResetWorkitem puts the workitem back into status new, retrying per the
// step run's policy where set and the env-configured budget otherwise.
func (c *Client) ResetWorkitem(ctx context.Context, workitemID string, policy Policy) error {
	if c == nil {
		return errors.New("rerun client not initialized")
	}
	if strings.TrimSpace(workitemID) == "" {
		return errors.New("workitem id is required")
	}

	attempts := c.cfg.MaxAttempts
	if policy.MaxAttempts > 0 {
		attempts = policy.MaxAttempts
	}
	delays := c.cfg.RetryDelays
	if len(policy.Delays) > 0 {
		delays = policy.Delays
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(0)
			if idx := attempt - 1; idx < len(delays) {
				delay = delays[idx]
			} else if len(delays) > 0 {
				delay = delays[len(delays)-1]
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = c.resetOnce(ctx, workitemID)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("reset workitem %s: %w", workitemID, lastErr)
}

func (c *Client) resetOnce(ctx context.Context, workitemID string) error {
	body, err := json.Marshal(map[string]string{"status": "new"})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/workitems/" + workitemID + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("put workitem status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("automation server status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

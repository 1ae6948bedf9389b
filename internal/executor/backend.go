// Package executor runs gated commands against the execution backend under
// a supervising deadline and writes the audit trail.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// Result is the backend's answer for one command.
type Result struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Backend executes commands. Implementations must honor ctx cancellation.
type Backend interface {
	Execute(ctx context.Context, command string) (*Result, error)
	Ping(ctx context.Context) error
}

// BackendConfig configures the HTTP execution backend client.
type BackendConfig struct {
	BaseURL        string
	ConnectTimeout time.Duration
}

// HTTPBackend submits commands to the platform's execution service over
// JSON/HTTP. Request deadlines come from the caller's context; the client
// itself sets no overall timeout.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates an execution backend client.
func NewHTTPBackend(cfg BackendConfig) *HTTPBackend {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	return &HTTPBackend{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
			},
		},
	}
}

type executeRequest struct {
	Command string `json:"command"`
}

type executeResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error"`
}

// Execute submits one command and waits for its result.
func (b *HTTPBackend) Execute(ctx context.Context, command string) (*Result, error) {
	body, err := json.Marshal(executeRequest{Command: command})
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("execution backend returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var execResp executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&execResp); err != nil {
		return nil, fmt.Errorf("decode execute response: %w", err)
	}

	return &Result{
		Success:    execResp.Success,
		Output:     execResp.Output,
		Error:      execResp.Error,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// Ping checks backend reachability.
func (b *HTTPBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("execution backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("execution backend health returned status %d", resp.StatusCode)
	}
	return nil
}

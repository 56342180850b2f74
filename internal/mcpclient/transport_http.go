package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nexuscli/agent/pkg/models"
)

// HTTPTransport implements spec §4.d's HTTP-mode: GET <base>/schema for the
// function list, POST <base>/execute with {name, arguments} for calls,
// Authorization: Bearer <token> when configured.
type HTTPTransport struct {
	cfg    models.McpServerConfig
	logger *slog.Logger
	client *http.Client
}

// NewHTTPTransport builds an HTTP transport for cfg.
func NewHTTPTransport(cfg models.McpServerConfig) *HTTPTransport {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		cfg:    cfg,
		logger: slog.Default().With("mcp_server", cfg.Name, "transport", "http"),
		client: &http.Client{Timeout: timeout},
	}
}

// Connect validates the configured URL; the HTTP transport is otherwise
// stateless between calls.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if strings.TrimSpace(t.cfg.URL) == "" {
		return fmt.Errorf("mcp server %q: url is required for http transport", t.cfg.Name)
	}
	return nil
}

// Close is a no-op for HTTP; there is no persistent connection to tear down.
func (t *HTTPTransport) Close() error { return nil }

func (t *HTTPTransport) authorize(req *http.Request) {
	if t.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.AuthToken)
	}
}

// FetchSchema fetches the function catalog from <base>/schema.
func (t *HTTPTransport) FetchSchema(ctx context.Context) ([]models.McpFunction, error) {
	url := strings.TrimSuffix(t.cfg.URL, "/") + "/schema"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build schema request: %w", err)
	}
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: schema request: %w", t.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mcp server %q: schema returned HTTP %d: %s", t.cfg.Name, resp.StatusCode, string(body))
	}

	var functions []models.McpFunction
	if err := json.NewDecoder(resp.Body).Decode(&functions); err != nil {
		return nil, fmt.Errorf("mcp server %q: decode schema: %w", t.cfg.Name, err)
	}
	return functions, nil
}

type executeRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Execute posts {name, arguments} to <base>/execute and returns the raw
// result body.
func (t *HTTPTransport) Execute(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error) {
	url := strings.TrimSuffix(t.cfg.URL, "/") + "/execute"
	body, err := json.Marshal(executeRequest{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.authorize(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: execute %q: %w", t.cfg.Name, name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcp server %q: read execute response: %w", t.cfg.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("execute returned non-200", "tool", name, "status", resp.StatusCode)
		return nil, fmt.Errorf("mcp server %q: execute %q returned HTTP %d: %s", t.cfg.Name, name, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

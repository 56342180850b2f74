package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nexuscli/agent/pkg/models"
)

// Client adapts a Transport into an mcpregistry.ToolProvider, fetching and
// caching the server's function catalog once at Connect time.
type Client struct {
	cfg       models.McpServerConfig
	transport Transport

	mu        sync.RWMutex
	functions []models.McpFunction
}

// New builds a Client for cfg, selecting the transport by ConnectionType.
func New(cfg models.McpServerConfig) *Client {
	return &Client{cfg: cfg, transport: NewTransport(cfg)}
}

// Connect starts the transport and fetches the initial function catalog.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	functions, err := c.transport.FetchSchema(ctx)
	if err != nil {
		return fmt.Errorf("mcp server %q: fetch schema: %w", c.cfg.Name, err)
	}
	c.mu.Lock()
	c.functions = functions
	c.mu.Unlock()
	return nil
}

// Close tears down the underlying transport.
func (c *Client) Close() error { return c.transport.Close() }

// ServerName satisfies mcpregistry.ToolProvider.
func (c *Client) ServerName() string { return c.cfg.Name }

// Functions satisfies mcpregistry.ToolProvider, returning the catalog
// fetched at Connect time.
func (c *Client) Functions() []models.McpFunction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.McpFunction, len(c.functions))
	copy(out, c.functions)
	return out
}

// Call satisfies mcpregistry.ToolProvider by delegating to the transport.
func (c *Client) Call(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	return c.transport.Execute(ctx, name, params)
}

// Ping verifies the server is still reachable, satisfying
// mcpsupervisor.Pinger. A successful schema re-fetch is treated as a
// liveness signal; the fetched catalog also replaces the cached one, so a
// health check doubles as picking up a server's current tool set.
func (c *Client) Ping(ctx context.Context) error {
	return c.RefreshSchema(ctx)
}

// RefreshSchema re-fetches the function catalog, used by /mcp commands
// that want to pick up a server's current state without reconnecting.
func (c *Client) RefreshSchema(ctx context.Context) error {
	functions, err := c.transport.FetchSchema(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.functions = functions
	c.mu.Unlock()
	return nil
}

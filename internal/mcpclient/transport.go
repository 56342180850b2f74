// Package mcpclient implements spec §4.d's two external MCP transports:
// HTTP-mode (schema/execute over plain REST) and stdin-mode (a long-lived
// child process speaking newline-delimited JSON). Grounded on the teacher's
// internal/mcp/transport.go Transport interface and its http/stdio
// implementations, simplified from full JSON-RPC+SSE down to spec's
// schema/execute contract.
package mcpclient

import (
	"context"
	"encoding/json"

	"github.com/nexuscli/agent/pkg/models"
)

// Transport is the minimal seam both connection types implement.
type Transport interface {
	// Connect prepares the transport (dials nothing for HTTP beyond
	// validating config; starts the child process for stdio).
	Connect(ctx context.Context) error
	// Close tears the transport down.
	Close() error
	// FetchSchema retrieves the server's function catalog.
	FetchSchema(ctx context.Context) ([]models.McpFunction, error)
	// Execute invokes name with arguments and returns its raw result.
	Execute(ctx context.Context, name string, arguments json.RawMessage) (json.RawMessage, error)
}

// NewTransport builds the transport named by cfg.ConnectionType.
func NewTransport(cfg models.McpServerConfig) Transport {
	switch cfg.ConnectionType {
	case models.ConnectionHTTP:
		return NewHTTPTransport(cfg)
	case models.ConnectionStdin:
		return NewStdioTransport(cfg)
	default:
		return NewHTTPTransport(cfg)
	}
}

// Package mcpregistry implements the function catalog and call routing of
// spec §4.d: a tool→server map built on demand from whatever built-in and
// external providers are configured, grounded on the teacher's
// internal/mcp/manager.go Manager/Client split (generalized from the
// teacher's full JSON-RPC MCP manager down to the schema/execute contract
// spec §6 defines).
package mcpregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nexuscli/agent/internal/agenterr"
	"github.com/nexuscli/agent/pkg/models"
)

// ToolProvider is satisfied by both built-in tool bundles
// (internal/builtintools) and external MCP server clients
// (internal/mcpclient), letting Registry treat them uniformly.
type ToolProvider interface {
	ServerName() string
	Functions() []models.McpFunction
	Call(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error)
}

// Registry enumerates visible functions and routes tool calls to exactly
// one server, per spec §4.d.
type Registry struct {
	mu        sync.RWMutex
	providers []ToolProvider // config order; ambiguous names resolve to the first match
}

// New builds an empty Registry; providers are attached with Register.
func New() *Registry {
	return &Registry{}
}

// Register appends a provider in configuration order. Order matters:
// ambiguous tool names resolve to the first provider that declares them.
func (r *Registry) Register(p ToolProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// Providers returns the registered providers in configuration order, for
// status commands like /mcp list.
func (r *Registry) Providers() []ToolProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolProvider, len(r.providers))
	copy(out, r.providers)
	return out
}

// VisibleFunctions returns the union of functions exposed by the servers
// named in serverRefs (or every registered provider if serverRefs is nil),
// filtered by allowedTools, and sorted by name — spec §4.b requires tool
// catalogs sorted by name so request bodies stay byte-stable for prompt
// caching. An empty (non-nil) allowedTools slice means "no tools visible"
// (see DESIGN.md Open Question 1); a nil allowedTools means "no filter".
func (r *Registry) VisibleFunctions(serverRefs []string, allowedTools []string) []models.McpFunction {
	if allowedTools != nil && len(allowedTools) == 0 {
		return nil
	}
	allow := map[string]bool{}
	filterByName := allowedTools != nil
	for _, name := range allowedTools {
		allow[name] = true
	}

	refSet := map[string]bool{}
	filterByServer := serverRefs != nil
	for _, ref := range serverRefs {
		refSet[ref] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.McpFunction
	for _, p := range r.providers {
		if filterByServer && !refSet[p.ServerName()] {
			continue
		}
		for _, fn := range p.Functions() {
			if filterByName && !allow[fn.Name] {
				continue
			}
			out = append(out, fn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ownerOf returns the first provider (in config order) that declares name,
// along with that declaration, implementing spec §4.d's "ambiguous names
// resolve to the first server in config order" rule.
func (r *Registry) ownerOf(name string) (ToolProvider, models.McpFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.providers {
		for _, fn := range p.Functions() {
			if fn.Name == name {
				return p, fn, true
			}
		}
	}
	return nil, models.McpFunction{}, false
}

// Route dispatches call to the owning provider and converts the result to
// an McpToolResult. Unknown tool names fail with agenterr.ToolNotFound;
// arguments that do not satisfy the function's declared parameter schema
// fail with agenterr.ToolExecError without ever reaching the provider.
func (r *Registry) Route(ctx context.Context, call models.McpToolCall) (models.McpToolResult, error) {
	owner, fn, ok := r.ownerOf(call.ToolName)
	if !ok {
		return models.McpToolResult{}, agenterr.New(agenterr.ToolNotFound, "mcpregistry",
			fmt.Sprintf("unknown tool %q", call.ToolName))
	}
	if err := validateParameters(fn, call.Parameters); err != nil {
		return models.McpToolResult{}, agenterr.Wrap(agenterr.ToolExecError, "mcpregistry", err)
	}
	result, err := owner.Call(ctx, call.ToolName, call.Parameters)
	if err != nil {
		return models.McpToolResult{}, agenterr.Wrap(agenterr.ToolExecError, "mcpregistry", err)
	}
	return models.McpToolResult{ToolName: call.ToolName, ToolID: call.ToolID, Result: result}, nil
}

// EnsureToolCallIDs implements spec §4.d's uniqueness pass: providers that
// deliver ids pass through unchanged; an empty id becomes "tool_<index>",
// and any collision detected within one assistant response gets a numeric
// "_<n>" suffix appended so every id in the batch is unique. Safe to call
// even when every id is already unique (the common case), in which case it
// is a no-op.
func EnsureToolCallIDs(calls []models.ToolCall) []models.ToolCall {
	seen := make(map[string]bool, len(calls))
	out := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("tool_%d", i)
		}
		base := id
		for n := 1; seen[id]; n++ {
			id = fmt.Sprintf("%s_%d", base, n)
		}
		seen[id] = true
		c.ID = id
		out[i] = c
	}
	return out
}

package models

import "encoding/json"

// McpFunction describes a tool exposed by a built-in or external MCP server.
type McpFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// McpToolCall is a single tool invocation to be routed by the registry.
// Invariant T1: ToolID is non-empty and unique within one assistant turn.
type McpToolCall struct {
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters"`
	ToolID     string          `json:"tool_id"`
}

// McpToolResult is the outcome of routing an McpToolCall.
type McpToolResult struct {
	ToolName string          `json:"tool_name"`
	ToolID   string          `json:"tool_id"`
	Result   json.RawMessage `json:"result"`
}

// ConnectionType identifies how an external MCP server is reached.
type ConnectionType string

const (
	ConnectionBuiltin ConnectionType = "builtin"
	ConnectionHTTP    ConnectionType = "http"
	ConnectionStdin   ConnectionType = "stdin"
)

// McpServerConfig describes one configured MCP server (spec §3/§6).
type McpServerConfig struct {
	Name           string         `yaml:"name" json:"name"`
	ConnectionType ConnectionType `yaml:"connection_type" json:"connection_type"`
	URL            string         `yaml:"url,omitempty" json:"url,omitempty"`
	Command        string         `yaml:"command,omitempty" json:"command,omitempty"`
	Args           []string       `yaml:"args,omitempty" json:"args,omitempty"`
	AuthToken      string         `yaml:"auth_token,omitempty" json:"auth_token,omitempty"`
	AllowedTools   []string       `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	TimeoutSeconds int            `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// ServerHealth is the lifecycle state of a supervised MCP process.
type ServerHealth string

const (
	HealthRunning    ServerHealth = "running"
	HealthDead       ServerHealth = "dead"
	HealthRestarting ServerHealth = "restarting"
	HealthFailed     ServerHealth = "failed"
)

// ServerRuntimeState tracks a single supervised server's lifecycle
// (spec §3, §4.g).
type ServerRuntimeState struct {
	Health              ServerHealth `json:"health"`
	RestartCount        int          `json:"restart_count"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastRestartTime     int64        `json:"last_restart_time,omitempty"`
	LastHealthCheck     int64        `json:"last_health_check,omitempty"`
	PID                 int          `json:"pid,omitempty"`
	LastError           string       `json:"last_error,omitempty"`
	Episodes            int          `json:"episodes"`
	FailedAt            int64        `json:"failed_at,omitempty"`
}

// InputMode controls how a Layer's input is assembled from session state.
type InputMode string

const (
	InputLast    InputMode = "last"
	InputAll     InputMode = "all"
	InputSummary InputMode = "summary"
)

// LayerConfig configures one stage of the LayeredOrchestrator (spec §3/§4.i).
type LayerConfig struct {
	Name         string    `yaml:"name" json:"name"`
	Model        string    `yaml:"model,omitempty" json:"model,omitempty"`
	SystemPrompt string    `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Temperature  float64   `yaml:"temperature" json:"temperature"`
	InputMode    InputMode `yaml:"input_mode" json:"input_mode"`
	MCPServerRefs []string `yaml:"mcp_server_refs,omitempty" json:"mcp_server_refs,omitempty"`
	AllowedTools []string  `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
}

// Package config decodes the single configuration document spec §6
// describes: the default model, per-role model/server overrides, cache
// and truncation thresholds, layer definitions, and MCP server
// definitions. Grounded on the teacher's internal/config/config.go (one
// root struct, yaml tags, nested sub-configs by concern) and loader.go
// (env-var expansion before decode, strict unknown-field rejection);
// simplified by dropping $include and JSON5 support, which spec's single-
// document model has no use for.
package config

import "github.com/nexuscli/agent/pkg/models"

// RoleConfig overrides the root model and visible MCP servers for one
// named role (spec §6's "per-role {developer, assistant}").
type RoleConfig struct {
	Model      string   `yaml:"model,omitempty"`
	ServerRefs []string `yaml:"mcp_server_refs,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	// DefaultModel is the mandatory "provider:model" tag used when no
	// role or layer overrides it.
	DefaultModel string `yaml:"default_model"`

	SystemPrompt string `yaml:"system_prompt,omitempty"`

	Roles map[string]RoleConfig `yaml:"roles,omitempty"`

	CacheTokensThreshold      int64 `yaml:"cache_tokens_threshold"`
	CacheTimeoutSeconds       int64 `yaml:"cache_timeout_seconds"`
	MaxRequestTokensThreshold int   `yaml:"max_request_tokens_threshold,omitempty"`
	EnableAutoTruncation      bool  `yaml:"enable_auto_truncation"`
	EnableMarkdownRendering   bool  `yaml:"enable_markdown_rendering"`

	Layers []models.LayerConfig `yaml:"layers,omitempty"`

	MCP MCPConfig `yaml:"mcp"`
}

// MCPConfig names the configured external MCP servers.
type MCPConfig struct {
	Servers map[string]models.McpServerConfig `yaml:"servers,omitempty"`
}

// Default returns a Config with spec's documented fallback values for the
// fields a document is allowed to omit.
func Default() *Config {
	return &Config{
		CacheTokensThreshold: 2048,
		CacheTimeoutSeconds:  300,
		EnableAutoTruncation: true,
	}
}

// RoleModel resolves the effective model for a named role, falling back to
// DefaultModel when the role is unconfigured or leaves Model empty.
func (c *Config) RoleModel(role string) string {
	if r, ok := c.Roles[role]; ok && r.Model != "" {
		return r.Model
	}
	return c.DefaultModel
}

// RoleServerRefs resolves the MCP server refs visible to a named role; nil
// means "no restriction" per mcpregistry.Registry.VisibleFunctions.
func (c *Config) RoleServerRefs(role string) []string {
	if r, ok := c.Roles[role]; ok {
		return r.ServerRefs
	}
	return nil
}

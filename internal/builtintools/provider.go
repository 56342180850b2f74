package builtintools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexuscli/agent/pkg/models"
)

// Provider bundles shell, text_editor, and list_files as a single
// mcpregistry.ToolProvider under the "builtin" server name, matching spec
// §4.d's "built-in providers are synthesized in-process" requirement.
type Provider struct {
	workspace string
	editor    *textEditor
}

// New builds the built-in tool provider rooted at workspace.
func New(workspace string) *Provider {
	return &Provider{workspace: workspace, editor: newTextEditor(workspace)}
}

func (p *Provider) ServerName() string { return "builtin" }

func (p *Provider) Functions() []models.McpFunction {
	return []models.McpFunction{
		{
			Name:        "shell",
			Description: "Run a shell command in the workspace and report its exit status and combined output.",
			Parameters:  shellSchema(),
		},
		{
			Name:        "text_editor",
			Description: "View, write, find/replace, or undo edits to a file in the workspace.",
			Parameters:  textEditorSchema(),
		},
		{
			Name:        "list_files",
			Description: "List or search files under a workspace directory, honoring .gitignore.",
			Parameters:  listFilesSchema(),
		},
	}
}

func (p *Provider) Call(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	switch name {
	case "shell":
		return runShell(ctx, params)
	case "text_editor":
		return p.editor.execute(ctx, params)
	case "list_files":
		return listFiles(ctx, p.workspace, params)
	default:
		return nil, fmt.Errorf("builtin tool %q not found", name)
	}
}

package builtintools

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/nexuscli/agent/internal/agenterr"
)

const undoRingCapacity = 10

// textEditorParams mirrors spec §4.d's text_editor(command, path, file_text?,
// old_str?, new_str?) signature.
type textEditorParams struct {
	Command  string `json:"command" jsonschema:"required,enum=view,enum=write,enum=str_replace,enum=undo_edit,description=Operation to perform"`
	Path     string `json:"path" jsonschema:"required,description=File path relative to the workspace"`
	FileText string `json:"file_text,omitempty" jsonschema:"description=Full content for the write command"`
	OldStr   string `json:"old_str,omitempty" jsonschema:"description=Exact text to replace for str_replace"`
	NewStr   string `json:"new_str,omitempty" jsonschema:"description=Replacement text for str_replace"`
}

type textEditorResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Message string `json:"message,omitempty"`
}

func textEditorSchema() json.RawMessage {
	return mustSchema(&textEditorParams{})
}

// textEditor implements spec §4.d's text_editor tool. The undo ring is a
// map owned by each textEditor and guarded by its mutex, keyed by resolved
// path, capacity 10 per path — oldest snapshot is dropped once the ring is
// full.
type textEditor struct {
	res resolver

	mu   sync.Mutex
	ring map[string][]string
}

func newTextEditor(workspace string) *textEditor {
	return &textEditor{res: newResolver(workspace), ring: map[string][]string{}}
}

func (t *textEditor) pushUndo(path, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stack := t.ring[path]
	stack = append(stack, content)
	if len(stack) > undoRingCapacity {
		stack = stack[len(stack)-undoRingCapacity:]
	}
	t.ring[path] = stack
}

func (t *textEditor) popUndo(path string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stack := t.ring[path]
	if len(stack) == 0 {
		return "", false
	}
	last := stack[len(stack)-1]
	t.ring[path] = stack[:len(stack)-1]
	return last, true
}

func (t *textEditor) execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var in textEditorParams
	if err := json.Unmarshal(params, &in); err != nil {
		return marshalResult(textEditorResult{Message: "invalid parameters: " + err.Error()})
	}

	resolved, err := t.res.resolve(in.Path)
	if err != nil {
		return marshalResult(textEditorResult{Message: err.Error()})
	}

	switch in.Command {
	case "view":
		return t.view(resolved)
	case "write":
		return t.write(resolved, in.FileText)
	case "str_replace":
		return t.strReplace(resolved, in.OldStr, in.NewStr)
	case "undo_edit":
		return t.undo(resolved)
	default:
		return marshalResult(textEditorResult{Message: "unknown command: " + in.Command})
	}
}

func (t *textEditor) view(path string) (json.RawMessage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return marshalResult(textEditorResult{Message: err.Error()})
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return marshalResult(textEditorResult{Message: err.Error()})
	}
	sniff := data
	if len(sniff) > 8192 {
		sniff = sniff[:8192]
	}
	if err := checkReadable(path, info.Size(), sniff); err != nil {
		return nil, err
	}
	return marshalResult(textEditorResult{Success: true, Output: string(data)})
}

func (t *textEditor) write(path, content string) (json.RawMessage, error) {
	if prior, err := os.ReadFile(path); err == nil {
		t.pushUndo(path, string(prior))
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return marshalResult(textEditorResult{Message: err.Error()})
	}
	return marshalResult(textEditorResult{Success: true, Output: "wrote " + path})
}

func (t *textEditor) strReplace(path, oldStr, newStr string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return marshalResult(textEditorResult{Message: err.Error()})
	}
	content := string(data)
	count := strings.Count(content, oldStr)
	if count == 0 {
		return marshalResult(textEditorResult{Message: "old_str not found"})
	}
	if count > 1 {
		return nil, agenterr.New(agenterr.AmbiguousReplace, "builtintools", "old_str occurs multiple times").WithCount(count)
	}

	t.pushUndo(path, content)
	replaced := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(path, []byte(replaced), 0o644); err != nil {
		return marshalResult(textEditorResult{Message: err.Error()})
	}
	return marshalResult(textEditorResult{Success: true, Output: "replaced 1 occurrence in " + path})
}

func (t *textEditor) undo(path string) (json.RawMessage, error) {
	prior, ok := t.popUndo(path)
	if !ok {
		return marshalResult(textEditorResult{Message: "no prior edit to undo for " + path})
	}
	if err := os.WriteFile(path, []byte(prior), 0o644); err != nil {
		return marshalResult(textEditorResult{Message: err.Error()})
	}
	return marshalResult(textEditorResult{Success: true, Output: "restored previous contents of " + path})
}

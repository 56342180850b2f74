package builtintools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestProviderFunctionsIncludesAllThree(t *testing.T) {
	p := New(t.TempDir())
	names := map[string]bool{}
	for _, fn := range p.Functions() {
		names[fn.Name] = true
	}
	for _, want := range []string{"shell", "text_editor", "list_files"} {
		if !names[want] {
			t.Errorf("missing function %q", want)
		}
	}
}

func TestProviderCallDispatchesToEditor(t *testing.T) {
	dir := t.TempDir()
	p := New(dir)

	params, _ := json.Marshal(textEditorParams{Command: "write", Path: "a.txt", FileText: "hi"})
	if _, err := p.Call(context.Background(), "text_editor", params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "a.txt"))
	if string(data) != "hi" {
		t.Fatalf("got %q", data)
	}
}

func TestProviderCallUnknownTool(t *testing.T) {
	p := New(t.TempDir())
	_, err := p.Call(context.Background(), "nope", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestProviderServerName(t *testing.T) {
	p := New(t.TempDir())
	if p.ServerName() != "builtin" {
		t.Fatalf("got %q", p.ServerName())
	}
}

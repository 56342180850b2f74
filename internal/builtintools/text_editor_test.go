package builtintools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/nexuscli/agent/internal/agenterr"
)

func TestTextEditorWriteViewRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ed := newTextEditor(dir)
	ctx := context.Background()

	writeParams, _ := json.Marshal(textEditorParams{Command: "write", Path: "notes.txt", FileText: "hello world"})
	if _, err := ed.execute(ctx, writeParams); err != nil {
		t.Fatalf("write: %v", err)
	}

	viewParams, _ := json.Marshal(textEditorParams{Command: "view", Path: "notes.txt"})
	out, err := ed.execute(ctx, viewParams)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	var result textEditorResult
	json.Unmarshal(out, &result)
	if result.Output != "hello world" {
		t.Errorf("Output = %q, want %q", result.Output, "hello world")
	}
}

func TestTextEditorStrReplaceSingleOccurrence(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hello world"), 0o644)
	ed := newTextEditor(dir)

	params, _ := json.Marshal(textEditorParams{Command: "str_replace", Path: "f.txt", OldStr: "world", NewStr: "nexus"})
	if _, err := ed.execute(context.Background(), params); err != nil {
		t.Fatalf("str_replace: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	if string(data) != "hello nexus" {
		t.Fatalf("got %q", data)
	}
}

func TestTextEditorStrReplaceAmbiguous(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("a a a"), 0o644)
	ed := newTextEditor(dir)

	params, _ := json.Marshal(textEditorParams{Command: "str_replace", Path: "f.txt", OldStr: "a", NewStr: "b"})
	_, err := ed.execute(context.Background(), params)
	if !agenterr.Is(err, agenterr.AmbiguousReplace) {
		t.Fatalf("expected AmbiguousReplace, got %v", err)
	}
	e, _ := agenterr.As(err)
	if e.Count != 3 {
		t.Errorf("Count = %d, want 3", e.Count)
	}
}

func TestTextEditorUndoRestoresPriorContent(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "f.txt"), []byte("original"), 0o644)
	ed := newTextEditor(dir)
	ctx := context.Background()

	writeParams, _ := json.Marshal(textEditorParams{Command: "write", Path: "f.txt", FileText: "changed"})
	ed.execute(ctx, writeParams)

	undoParams, _ := json.Marshal(textEditorParams{Command: "undo_edit", Path: "f.txt"})
	if _, err := ed.execute(ctx, undoParams); err != nil {
		t.Fatalf("undo: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "f.txt"))
	if string(data) != "original" {
		t.Fatalf("got %q, want %q", data, "original")
	}
}

func TestTextEditorUndoRingCapacity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("v0"), 0o644)
	ed := newTextEditor(dir)
	ctx := context.Background()

	for i := 1; i <= 15; i++ {
		params, _ := json.Marshal(textEditorParams{Command: "write", Path: "f.txt", FileText: "v" + strconv.Itoa(i)})
		ed.execute(ctx, params)
	}

	undos := 0
	for {
		params, _ := json.Marshal(textEditorParams{Command: "undo_edit", Path: "f.txt"})
		out, _ := ed.execute(ctx, params)
		var result textEditorResult
		json.Unmarshal(out, &result)
		if !result.Success {
			break
		}
		undos++
	}
	if undos != undoRingCapacity {
		t.Fatalf("undos = %d, want %d", undos, undoRingCapacity)
	}
}

func TestTextEditorRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	ed := newTextEditor(dir)
	params, _ := json.Marshal(textEditorParams{Command: "view", Path: "../../etc/passwd"})
	out, err := ed.execute(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result textEditorResult
	json.Unmarshal(out, &result)
	if result.Success {
		t.Fatal("expected path escape to be rejected")
	}
}

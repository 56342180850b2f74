package builtintools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRunShellSuccess(t *testing.T) {
	params, _ := json.Marshal(shellParams{Command: "echo hi"})
	out, err := runShell(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result shellResult
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.Success || result.Code != 0 {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Output != "hi\n" {
		t.Errorf("Output = %q, want %q", result.Output, "hi\n")
	}
}

func TestRunShellNonZeroExit(t *testing.T) {
	params, _ := json.Marshal(shellParams{Command: "exit 3"})
	out, err := runShell(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result shellResult
	json.Unmarshal(out, &result)
	if result.Success || result.Code != 3 {
		t.Fatalf("expected failure with code 3, got %+v", result)
	}
}

func TestRunShellMissingCommand(t *testing.T) {
	out, err := runShell(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result shellResult
	json.Unmarshal(out, &result)
	if result.Message == "" {
		t.Error("expected a message explaining the missing command")
	}
}

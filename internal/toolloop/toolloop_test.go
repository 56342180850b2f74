package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/nexuscli/agent/internal/mcpregistry"
	"github.com/nexuscli/agent/pkg/models"
)

type echoProvider struct{ name string }

func (p *echoProvider) ServerName() string { return p.name }
func (p *echoProvider) Functions() []models.McpFunction {
	return []models.McpFunction{{Name: "echo"}}
}
func (p *echoProvider) Call(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"echoed":%s}`, params)), nil
}

type memAppender struct {
	mu       sync.Mutex
	messages []models.Message
}

func (a *memAppender) AppendMessage(m models.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, m)
	return nil
}

func (a *memAppender) snapshot() []models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Message(nil), a.messages...)
}

func TestRunStopsWhenNoToolCalls(t *testing.T) {
	reg := mcpregistry.New()
	reg.Register(&echoProvider{name: "srv"})
	appender := &memAppender{}

	first := &ProviderResponse{Content: "done", FinishReason: "stop"}
	invokeCalled := false
	invoke := func(ctx context.Context) (*ProviderResponse, error) {
		invokeCalled = true
		return nil, nil
	}

	final, stats, err := Run(context.Background(), Config{}, reg, appender, first, invoke, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if invokeCalled {
		t.Fatal("invoke should not be called when the first response has no tool calls")
	}
	if final.Content != "done" {
		t.Errorf("final content = %q", final.Content)
	}
	if stats.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", stats.Iterations)
	}
	if len(appender.snapshot()) != 0 {
		t.Error("expected no messages appended for a response with no tool calls")
	}
}

func TestRunAppendsInOriginalOrderAndStopsOnTerminalResponse(t *testing.T) {
	reg := mcpregistry.New()
	reg.Register(&echoProvider{name: "srv"})
	appender := &memAppender{}

	first := &ProviderResponse{
		ToolCalls: []models.ToolCall{
			{ID: "1", Name: "echo", Arguments: json.RawMessage(`1`)},
			{ID: "2", Name: "echo", Arguments: json.RawMessage(`2`)},
			{ID: "3", Name: "echo", Arguments: json.RawMessage(`3`)},
		},
		FinishReason: "tool_use",
	}
	invoke := func(ctx context.Context) (*ProviderResponse, error) {
		return &ProviderResponse{Content: "all done", FinishReason: "stop"}, nil
	}

	final, stats, err := Run(context.Background(), Config{Concurrency: 2}, reg, appender, first, invoke, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Content != "all done" {
		t.Errorf("final content = %q", final.Content)
	}
	if stats.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", stats.Iterations)
	}
	if stats.ToolCalls != 3 {
		t.Errorf("tool calls = %d, want 3", stats.ToolCalls)
	}

	msgs := appender.snapshot()
	if len(msgs) != 4 {
		t.Fatalf("expected 1 assistant + 3 tool messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleAssistant || len(msgs[0].ToolCalls) != 3 {
		t.Fatalf("unexpected assistant message: %+v", msgs[0])
	}
	for i, want := range []string{"1", "2", "3"} {
		tm := msgs[i+1]
		if tm.Role != models.RoleTool || tm.ToolCallID != want {
			t.Errorf("tool message %d: tool_call_id = %q, want %q (order must match original call order)", i, tm.ToolCallID, want)
		}
	}
}

func TestRunUnknownToolProducesErrorResultNotFailure(t *testing.T) {
	reg := mcpregistry.New()
	appender := &memAppender{}

	first := &ProviderResponse{
		ToolCalls:    []models.ToolCall{{ID: "1", Name: "missing", Arguments: json.RawMessage(`{}`)}},
		FinishReason: "tool_use",
	}
	invoke := func(ctx context.Context) (*ProviderResponse, error) {
		return &ProviderResponse{Content: "ok", FinishReason: "stop"}, nil
	}

	_, _, err := Run(context.Background(), Config{}, reg, appender, first, invoke, nil)
	if err != nil {
		t.Fatalf("Run should not surface a tool routing failure as a loop error: %v", err)
	}
	msgs := appender.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected assistant + tool error message, got %d", len(msgs))
	}
	if msgs[1].ToolCallID != "1" {
		t.Errorf("tool_call_id = %q", msgs[1].ToolCallID)
	}
}

func TestRunStopsOnCancellationBetweenIterations(t *testing.T) {
	reg := mcpregistry.New()
	reg.Register(&echoProvider{name: "srv"})
	appender := &memAppender{}

	first := &ProviderResponse{
		ToolCalls:    []models.ToolCall{{ID: "1", Name: "echo", Arguments: json.RawMessage(`1`)}},
		FinishReason: "tool_use",
	}
	invokeCalled := false
	invoke := func(ctx context.Context) (*ProviderResponse, error) {
		invokeCalled = true
		return &ProviderResponse{Content: "unreachable", FinishReason: "stop"}, nil
	}
	cancelled := func() bool { return true }

	final, stats, err := Run(context.Background(), Config{}, reg, appender, first, invoke, cancelled)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if invokeCalled {
		t.Error("provider should not be re-invoked once cancelled")
	}
	if final != first {
		t.Error("expected the loop to return the last response seen before cancellation")
	}
	if stats.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", stats.Iterations)
	}
	msgs := appender.snapshot()
	if len(msgs) != 1 || msgs[0].Role != models.RoleAssistant {
		t.Fatalf("expected only the assistant message to have been appended before cancellation, got %+v", msgs)
	}
}

func TestRunRespectsMaxIterations(t *testing.T) {
	reg := mcpregistry.New()
	reg.Register(&echoProvider{name: "srv"})
	appender := &memAppender{}

	first := &ProviderResponse{
		ToolCalls:    []models.ToolCall{{ID: "1", Name: "echo", Arguments: json.RawMessage(`1`)}},
		FinishReason: "tool_use",
	}
	calls := 0
	invoke := func(ctx context.Context) (*ProviderResponse, error) {
		calls++
		return &ProviderResponse{
			ToolCalls:    []models.ToolCall{{ID: fmt.Sprintf("%d", calls+1), Name: "echo", Arguments: json.RawMessage(`1`)}},
			FinishReason: "tool_use",
		}, nil
	}

	_, stats, err := Run(context.Background(), Config{MaxIterations: 3}, reg, appender, first, invoke, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", stats.Iterations)
	}
	if calls != 3 {
		t.Errorf("invoke called %d times, want 3", calls)
	}
}

package repl

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/nexuscli/agent/internal/cache"
	"github.com/nexuscli/agent/internal/layers"
	"github.com/nexuscli/agent/internal/mcpregistry"
	"github.com/nexuscli/agent/internal/providers"
	"github.com/nexuscli/agent/internal/session"
	"github.com/nexuscli/agent/internal/slashcmd"
	"github.com/nexuscli/agent/internal/toolloop"
	"github.com/nexuscli/agent/pkg/models"
)

type scriptedProvider struct {
	responses []*providers.ChatResponse
	call      int
	seenReqs  []providers.ChatRequest
	caching   bool
}

func (p *scriptedProvider) Name() string                 { return "openrouter" }
func (p *scriptedProvider) SupportsModel(m string) bool   { return true }
func (p *scriptedProvider) SupportsCaching(m string) bool { return p.caching }
func (p *scriptedProvider) SupportsVision(m string) bool  { return false }
func (p *scriptedProvider) MaxInputTokens(m string) int   { return 100_000 }
func (p *scriptedProvider) ChatCompletion(ctx context.Context, cfg providers.Config, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.seenReqs = append(p.seenReqs, req)
	resp := p.responses[p.call]
	if p.call < len(p.responses)-1 {
		p.call++
	}
	return resp, nil
}

type echoTool struct{}

func (echoTool) ServerName() string { return "builtin" }
func (echoTool) Functions() []models.McpFunction {
	return []models.McpFunction{{Name: "echo"}}
}
func (echoTool) Call(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}

func newTestLoop(t *testing.T, p providers.Provider, registerTool bool) *Loop {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.log")
	sess, err := session.New(path, models.SessionInfo{Name: "t", Model: "openrouter:m"})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	mcp := mcpregistry.New()
	if registerTool {
		mcp.Register(echoTool{})
	}
	preg := providers.NewRegistry(p, nil, nil, nil, nil, nil)
	orch := layers.New(nil, mcp, preg, providers.Credentials{}, "openrouter:m")
	cmds := slashcmd.NewRegistry()
	slashcmd.RegisterBuiltins(cmds)

	return New(Config{
		DefaultModel: "openrouter:m",
		SystemPrompt: "you are a test agent",
		Cache:        cache.Config{CacheTokensThreshold: 1_000_000, CacheTimeoutSeconds: 1_000_000},
		Tools:        toolloop.Config{},
	}, sess, mcp, preg, providers.Credentials{}, orch, cmds)
}

func TestProcessTurnAppendsUserAndAssistantMessages(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{Content: "hello back", FinishReason: providers.FinishStop},
	}}
	l := newTestLoop(t, p, false)

	out, err := l.ProcessTurn(context.Background(), "hi")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if out != "hello back" {
		t.Errorf("output = %q", out)
	}
	msgs := l.sess.Snapshot()
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected message log: %+v", msgs)
	}
}

func TestProcessTurnRunsToolLoopOnToolCalls(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			ToolCalls:    []models.ToolCall{{ID: "1", Name: "echo", Arguments: json.RawMessage(`{}`)}},
			FinishReason: providers.FinishToolUse,
		},
		{Content: "done", FinishReason: providers.FinishStop},
	}}
	l := newTestLoop(t, p, true)

	out, err := l.ProcessTurn(context.Background(), "run echo")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if out != "done" {
		t.Errorf("output = %q", out)
	}
	var sawTool bool
	for _, m := range l.sess.Snapshot() {
		if m.Role == models.RoleTool {
			sawTool = true
		}
	}
	if !sawTool {
		t.Fatal("expected a tool-role message in the session log")
	}
}

func TestSecondInterruptInCancelledTurnReportsHardExit(t *testing.T) {
	l := newTestLoop(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x", FinishReason: providers.FinishStop}}}, false)
	l.beginTurn()
	if l.Interrupt() {
		t.Fatal("first interrupt should be a soft cancel")
	}
	if !l.Interrupt() {
		t.Fatal("second interrupt inside the same turn should report hard exit")
	}
}

func TestInterruptIgnoredWhenNoTurnActive(t *testing.T) {
	l := newTestLoop(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x", FinishReason: providers.FinishStop}}}, false)
	if l.Interrupt() {
		t.Fatal("an interrupt with no turn in flight must not request a hard exit")
	}
}

func TestHandleLineDispatchesSlashCommands(t *testing.T) {
	l := newTestLoop(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x", FinishReason: providers.FinishStop}}}, false)
	res, err := l.HandleLine(context.Background(), "/model openrouter:bar")
	if err != nil {
		t.Fatalf("HandleLine: %v", err)
	}
	if res.Action != slashcmd.ActionSetModel {
		t.Fatalf("expected ActionSetModel, got %v", res.Action)
	}
	if l.model != "openrouter:bar" {
		t.Fatalf("model not updated: %q", l.model)
	}
}

func TestHandleLineExitReportsExitAndCode(t *testing.T) {
	l := newTestLoop(t, &scriptedProvider{responses: []*providers.ChatResponse{{Content: "x", FinishReason: providers.FinishStop}}}, false)
	res, err := l.HandleLine(context.Background(), "/exit")
	if err != nil {
		t.Fatalf("HandleLine: %v", err)
	}
	if !res.Exit || res.Code != 0 {
		t.Fatalf("unexpected exit result: %+v", res)
	}
}

func TestSystemMessageGetsCachedWhenProviderSupportsIt(t *testing.T) {
	p := &scriptedProvider{caching: true, responses: []*providers.ChatResponse{
		{Content: "ok", FinishReason: providers.FinishStop},
	}}
	l := newTestLoop(t, p, false)
	l.sess.AppendMessage(models.Message{Role: models.RoleSystem, Content: "you are a test agent"})

	if _, err := l.ProcessTurn(context.Background(), "hi"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	msgs := l.sess.Snapshot()
	if !msgs[0].Cached {
		t.Fatalf("expected the system message to be cached, got %+v", msgs[0])
	}
}

package mcpregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nexuscli/agent/internal/agenterr"
	"github.com/nexuscli/agent/pkg/models"
)

type stubProvider struct {
	name  string
	fns   []models.McpFunction
	calls map[string]json.RawMessage
}

func (s *stubProvider) ServerName() string             { return s.name }
func (s *stubProvider) Functions() []models.McpFunction { return s.fns }
func (s *stubProvider) Call(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	if out, ok := s.calls[name]; ok {
		return out, nil
	}
	return json.RawMessage(`{}`), nil
}

func TestVisibleFunctionsSortedByName(t *testing.T) {
	r := New()
	r.Register(&stubProvider{name: "builtin", fns: []models.McpFunction{
		{Name: "zeta"}, {Name: "alpha"}, {Name: "mid"},
	}})

	fns := r.VisibleFunctions(nil, nil)
	if len(fns) != 3 || fns[0].Name != "alpha" || fns[1].Name != "mid" || fns[2].Name != "zeta" {
		t.Fatalf("expected sorted catalog, got %+v", fns)
	}
}

func TestVisibleFunctionsEmptyAllowedToolsMeansNone(t *testing.T) {
	r := New()
	r.Register(&stubProvider{name: "builtin", fns: []models.McpFunction{{Name: "shell"}}})

	fns := r.VisibleFunctions(nil, []string{})
	if fns != nil {
		t.Fatalf("expected no visible functions for empty allowedTools, got %+v", fns)
	}
}

func TestVisibleFunctionsFiltersByServerRef(t *testing.T) {
	r := New()
	r.Register(&stubProvider{name: "a", fns: []models.McpFunction{{Name: "fn_a"}}})
	r.Register(&stubProvider{name: "b", fns: []models.McpFunction{{Name: "fn_b"}}})

	fns := r.VisibleFunctions([]string{"b"}, nil)
	if len(fns) != 1 || fns[0].Name != "fn_b" {
		t.Fatalf("expected only server b's functions, got %+v", fns)
	}
}

func TestRouteAmbiguousNameResolvesToFirstServer(t *testing.T) {
	r := New()
	first := &stubProvider{name: "first", fns: []models.McpFunction{{Name: "dup"}}, calls: map[string]json.RawMessage{"dup": json.RawMessage(`"from-first"`)}}
	second := &stubProvider{name: "second", fns: []models.McpFunction{{Name: "dup"}}, calls: map[string]json.RawMessage{"dup": json.RawMessage(`"from-second"`)}}
	r.Register(first)
	r.Register(second)

	result, err := r.Route(context.Background(), models.McpToolCall{ToolName: "dup", ToolID: "c1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.Result) != `"from-first"` {
		t.Fatalf("got %s, want the first-registered server's result", result.Result)
	}
}

func TestRouteUnknownToolFails(t *testing.T) {
	r := New()
	_, err := r.Route(context.Background(), models.McpToolCall{ToolName: "missing"})
	if !agenterr.Is(err, agenterr.ToolNotFound) {
		t.Fatalf("expected ToolNotFound, got %v", err)
	}
}

func TestEnsureToolCallIDsDeduplicates(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "c1", Name: "shell"},
		{ID: "c1", Name: "list_files"},
		{ID: "", Name: "text_editor"},
	}
	out := EnsureToolCallIDs(calls)
	if out[0].ID != "c1" {
		t.Errorf("first occurrence should keep its id, got %q", out[0].ID)
	}
	if out[1].ID == "c1" || out[1].ID == "" {
		t.Errorf("second occurrence should get a distinct suffixed id, got %q", out[1].ID)
	}
	if out[2].ID == "" {
		t.Error("empty id should be synthesized, not left blank")
	}
	seen := map[string]bool{}
	for _, c := range out {
		if seen[c.ID] {
			t.Fatalf("duplicate id %q survived EnsureToolCallIDs", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestEnsureToolCallIDsPassesThroughUnique(t *testing.T) {
	calls := []models.ToolCall{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	out := EnsureToolCallIDs(calls)
	for i, c := range calls {
		if out[i].ID != c.ID {
			t.Errorf("expected unique ids to pass through unchanged, got %q want %q", out[i].ID, c.ID)
		}
	}
}

package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexuscli/agent/pkg/models"
)

func TestOpenRouterSendsUsageIncludeAndProviderOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		usage, ok := body["usage"].(map[string]any)
		if !ok || usage["include"] != true {
			t.Errorf("usage.include not set: %+v", body["usage"])
		}
		provider, ok := body["provider"].(map[string]any)
		if !ok {
			t.Fatalf("provider field missing: %+v", body)
		}
		order, _ := provider["order"].([]any)
		if len(order) != 2 || order[0] != "anthropic" {
			t.Errorf("provider.order = %v, want [anthropic together]", order)
		}
		json.NewEncoder(w).Encode(openrouterResponse{
			Model: "anthropic/claude-3.5-sonnet",
		})
	}))
	defer server.Close()

	p := NewOpenRouterProvider(1, time.Millisecond, []string{"anthropic", "together"})
	_, err := p.ChatCompletion(context.Background(), Config{APIKey: "test-key", BaseURL: server.URL}, ChatRequest{
		Model:    "anthropic/claude-3.5-sonnet",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenRouterDetectsErrorBodyOn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"error":{"message":"upstream provider overloaded","code":503}}`))
	}))
	defer server.Close()

	p := NewOpenRouterProvider(1, time.Millisecond, nil)
	_, err := p.ChatCompletion(context.Background(), Config{APIKey: "test-key", BaseURL: server.URL}, ChatRequest{
		Model:    "openai/gpt-4o",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for error-body-on-200 response")
	}
}

func TestOpenRouterMissingAPIKey(t *testing.T) {
	p := NewOpenRouterProvider(1, time.Millisecond, nil)
	_, err := p.ChatCompletion(context.Background(), Config{}, ChatRequest{Model: "openai/gpt-4o"})
	if err == nil {
		t.Fatal("expected missing-credential error")
	}
}

func TestOpenRouterSupportsModelIsPermissive(t *testing.T) {
	p := NewOpenRouterProvider(1, time.Millisecond, nil)
	if !p.SupportsModel("anything/at-all") {
		t.Error("expected permissive SupportsModel to accept any non-empty model")
	}
	if p.SupportsModel("") {
		t.Error("expected empty model to be rejected")
	}
}

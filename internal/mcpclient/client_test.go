package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexuscli/agent/pkg/models"
)

func TestClientConnectCachesSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/schema":
			json.NewEncoder(w).Encode([]models.McpFunction{{Name: "alpha"}})
		default:
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	c := New(models.McpServerConfig{Name: "srv", ConnectionType: models.ConnectionHTTP, URL: srv.URL})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.ServerName() != "srv" {
		t.Errorf("ServerName = %q", c.ServerName())
	}
	functions := c.Functions()
	if len(functions) != 1 || functions[0].Name != "alpha" {
		t.Fatalf("unexpected functions: %+v", functions)
	}

	out, err := c.Call(context.Background(), "alpha", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(out) != `{"ok":true}` {
		t.Errorf("out = %s", out)
	}
}

func TestClientFunctionsReturnsCopyNotAlias(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]models.McpFunction{{Name: "alpha"}})
	}))
	defer srv.Close()

	c := New(models.McpServerConfig{Name: "srv", ConnectionType: models.ConnectionHTTP, URL: srv.URL})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := c.Functions()
	first[0].Name = "mutated"

	second := c.Functions()
	if second[0].Name != "alpha" {
		t.Fatalf("expected cached functions to be unaffected by caller mutation, got %q", second[0].Name)
	}
}

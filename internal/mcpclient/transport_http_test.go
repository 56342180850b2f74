package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexuscli/agent/pkg/models"
)

func TestHTTPTransportFetchSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/schema" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]models.McpFunction{{Name: "ping"}})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(models.McpServerConfig{Name: "s", URL: srv.URL})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	functions, err := tr.FetchSchema(context.Background())
	if err != nil {
		t.Fatalf("fetch schema: %v", err)
	}
	if len(functions) != 1 || functions[0].Name != "ping" {
		t.Fatalf("unexpected functions: %+v", functions)
	}
}

func TestHTTPTransportExecuteSendsAuthAndBody(t *testing.T) {
	var gotAuth string
	var gotReq executeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(models.McpServerConfig{Name: "s", URL: srv.URL, AuthToken: "secret"})
	out, err := tr.Execute(context.Background(), "ping", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReq.Name != "ping" {
		t.Errorf("Name = %q", gotReq.Name)
	}
	if string(out) != `{"ok":true}` {
		t.Errorf("out = %s", out)
	}
}

func TestHTTPTransportExecuteNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(models.McpServerConfig{Name: "s", URL: srv.URL})
	_, err := tr.Execute(context.Background(), "ping", nil)
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestHTTPTransportConnectRequiresURL(t *testing.T) {
	tr := NewHTTPTransport(models.McpServerConfig{Name: "s"})
	if err := tr.Connect(context.Background()); err == nil {
		t.Fatal("expected error for missing URL")
	}
}

package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nexuscli/agent/pkg/models"
)

func tempSessionPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.jsonl")
}

func TestNewGeneratesNameWhenMissing(t *testing.T) {
	s, err := New(tempSessionPath(t), models.SessionInfo{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if s.Info.Name == "" {
		t.Fatal("expected a generated session name")
	}
}

func TestAppendMessageJournalsBeforeReturn(t *testing.T) {
	path := tempSessionPath(t)
	s, err := New(path, models.SessionInfo{Name: "t1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.AppendMessage(models.Message{Role: models.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	s.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected journal to contain the summary + message lines")
	}
}

func TestAppendMessageEscapesNewlinesOnDiskOnly(t *testing.T) {
	path := tempSessionPath(t)
	s, err := New(path, models.SessionInfo{Name: "t1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.AppendMessage(models.Message{Role: models.RoleUser, Content: "line1\nline2"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if s.Messages[0].Content != "line1\nline2" {
		t.Errorf("in-memory content should keep the original newline, got %q", s.Messages[0].Content)
	}
	s.Close()

	raw, _ := os.ReadFile(path)
	if contains := string(raw); contains == "" {
		t.Fatal("expected file contents")
	}
}

func TestLoadReplaysMessagesAndSkipsDebugLines(t *testing.T) {
	path := tempSessionPath(t)
	s, err := New(path, models.SessionInfo{Name: "t1", Model: "anthropic:claude-sonnet-4-20250514"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.AppendMessage(models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := s.LogDebug("API_REQUEST", map[string]string{"model": "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(models.Message{Role: models.RoleAssistant, Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()

	if len(loaded.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2 (debug line must be skipped)", len(loaded.Messages))
	}
	if loaded.Info.Model != "anthropic:claude-sonnet-4-20250514" {
		t.Errorf("Info.Model = %q, not replayed from SUMMARY", loaded.Info.Model)
	}
}

func TestRestorationPointDiscardsEarlierMessages(t *testing.T) {
	path := tempSessionPath(t)
	s, err := New(path, models.SessionInfo{Name: "t1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.AppendMessage(models.Message{Role: models.RoleUser, Content: "old-1"})
	s.AppendMessage(models.Message{Role: models.RoleAssistant, Content: "old-2"})
	if err := s.AddRestorationPoint(); err != nil {
		t.Fatalf("AddRestorationPoint: %v", err)
	}
	s.AppendMessage(models.Message{Role: models.RoleUser, Content: "new-1"})
	s.Close()

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()

	if len(loaded.Messages) != 1 || loaded.Messages[0].Content != "new-1" {
		t.Fatalf("expected restoration point to discard earlier messages, got %+v", loaded.Messages)
	}
}

func TestAddCacheCheckpointMarksFirstSystemMessageAndResetsCounters(t *testing.T) {
	path := tempSessionPath(t)
	s, err := New(path, models.SessionInfo{Name: "t1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	s.AppendMessage(models.Message{Role: models.RoleSystem, Content: "sys"})
	s.AppendMessage(models.Message{Role: models.RoleUser, Content: "hi"})
	s.CurrentTotalTokens = 500
	s.CurrentNonCachedTokens = 500

	s.AddCacheCheckpoint(true)

	if !s.Messages[0].Cached {
		t.Error("expected first system message to be marked cached")
	}
	if s.CurrentTotalTokens != 0 || s.CurrentNonCachedTokens != 0 {
		t.Errorf("expected counters reset, got total=%d non_cached=%d", s.CurrentTotalTokens, s.CurrentNonCachedTokens)
	}
	if s.LastCacheCheckpointTime == 0 {
		t.Error("expected LastCacheCheckpointTime to be set")
	}
}

func TestAddCacheCheckpointSkipsWhenUnsupported(t *testing.T) {
	path := tempSessionPath(t)
	s, err := New(path, models.SessionInfo{Name: "t1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	s.AppendMessage(models.Message{Role: models.RoleSystem, Content: "sys"})

	s.AddCacheCheckpoint(false)

	if s.Messages[0].Cached {
		t.Error("expected cache marker to be skipped when model does not support caching")
	}
}

func TestSaveRewritesLogFromScratch(t *testing.T) {
	path := tempSessionPath(t)
	s, err := New(path, models.SessionInfo{Name: "t1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.AppendMessage(models.Message{Role: models.RoleUser, Content: "a"})
	s.AppendMessage(models.Message{Role: models.RoleAssistant, Content: "b"})
	s.ReplaceMessages(s.Messages[1:]) // simulate a truncation pass
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer loaded.Close()
	if len(loaded.Messages) != 1 || loaded.Messages[0].Content != "b" {
		t.Fatalf("expected Save to persist the truncated buffer, got %+v", loaded.Messages)
	}
}

// Package session implements the append-only, replayable session journal
// of spec §3/§4.c/§6: an in-memory message buffer backed by a line-
// delimited JSON log. AppendMessage, AddRestorationPoint and Save write to
// the log before they return; AddCacheCheckpoint and ReplaceMessages change
// only the in-memory state, which the next Save writes out. This is the
// same "journal then return" discipline the teacher uses in
// internal/sessions/memory.go, generalized from a clone-on-read in-memory
// store to a real on-disk log.
package session

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscli/agent/pkg/models"
)

// LineType tags a session-log line. Only messageLine lines feed the
// replayed in-memory buffer; every other type is a debug/bookkeeping
// record the loader skips (spec §6).
type LineType string

const (
	lineSummary          LineType = "SUMMARY"
	lineRestorationPoint LineType = "RESTORATION_POINT"
	lineAPIRequest       LineType = "API_REQUEST"
	lineAPIResponse      LineType = "API_RESPONSE"
	lineToolCall         LineType = "TOOL_CALL"
	lineToolResult       LineType = "TOOL_RESULT"
	lineCache            LineType = "CACHE"
	lineError            LineType = "ERROR"
)

type summaryLine struct {
	Type        LineType          `json:"type"`
	Timestamp   int64             `json:"timestamp"`
	SessionInfo models.SessionInfo `json:"session_info"`
}

type restorationPointLine struct {
	Type      LineType `json:"type"`
	Timestamp int64    `json:"timestamp"`
}

type debugLine struct {
	Type      LineType `json:"type"`
	Timestamp int64    `json:"timestamp"`
	Payload   any      `json:"payload,omitempty"`
}

// Session is the mutable runtime state spec §3 describes.
type Session struct {
	mu sync.Mutex

	Info     models.SessionInfo
	Messages []models.Message

	path string
	file *os.File

	CurrentTotalTokens      int64
	CurrentNonCachedTokens  int64
	LastCacheCheckpointTime int64
}

// NewSessionName generates a random, file-safe session identifier for
// callers that don't pass `--session <name>` explicitly.
func NewSessionName() string {
	return "session-" + uuid.NewString()
}

// New creates a session backed by path, truncating any existing file: this
// is the "brand new session" constructor, distinct from Load which replays
// an existing log.
func New(path string, info models.SessionInfo) (*Session, error) {
	if info.Name == "" {
		info.Name = NewSessionName()
	}
	if info.CreatedAt == 0 {
		info.CreatedAt = time.Now().Unix()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s := &Session{path: path, file: f, Info: info}
	if err := s.writeSummaryLocked(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Load replays path: a SUMMARY line seeds Info, message lines append to
// the in-memory buffer in file order, a RESTORATION_POINT line discards
// everything buffered before it, and every other line type is ignored.
// The file is then reopened in append mode for subsequent writes.
func Load(path string) (*Session, error) {
	rf, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer rf.Close()

	s := &Session{path: path}
	scanner := bufio.NewScanner(rf)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var probe struct {
			Type LineType `json:"type"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			continue
		}
		switch probe.Type {
		case lineSummary:
			var sl summaryLine
			if err := json.Unmarshal(line, &sl); err == nil {
				s.Info = sl.SessionInfo
			}
		case lineRestorationPoint:
			s.Messages = nil
		case "":
			// Bare message lines carry no "type" field.
			var m models.Message
			if err := json.Unmarshal(line, &m); err == nil {
				s.Messages = append(s.Messages, m)
			}
		default:
			// API_REQUEST/API_RESPONSE/TOOL_CALL/TOOL_RESULT/CACHE/ERROR:
			// debug-log entries, ignored by the loader per spec §6.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s.file = f
	return s, nil
}

// Close releases the underlying file handle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// escapeNewlines turns embedded newlines into spaces so one message never
// spans more than one log line (spec §4.c).
func escapeNewlines(content string) string {
	content = strings.ReplaceAll(content, "\r\n", " ")
	content = strings.ReplaceAll(content, "\n", " ")
	return content
}

func (s *Session) writeLineLocked(v any) error {
	if s.file == nil {
		return nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	_, err = s.file.Write(buf)
	if err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *Session) writeSummaryLocked() error {
	return s.writeLineLocked(summaryLine{
		Type:        lineSummary,
		Timestamp:   time.Now().Unix(),
		SessionInfo: s.Info,
	})
}

// AppendMessage constructs and appends a message, journaling it before
// returning (spec §4.c). Newlines in content are escaped for the on-disk
// line only; the in-memory copy keeps the original content.
func (s *Session) AppendMessage(msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	onDisk := msg
	onDisk.Content = escapeNewlines(msg.Content)
	if err := s.writeLineLocked(onDisk); err != nil {
		return err
	}
	s.Messages = append(s.Messages, msg)
	return nil
}

// AddRestorationPoint writes a reset marker and discards the in-memory
// buffer, the mechanism by which context reduction survives a restart.
func (s *Session) AddRestorationPoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLineLocked(restorationPointLine{Type: lineRestorationPoint, Timestamp: time.Now().Unix()}); err != nil {
		return err
	}
	s.Messages = nil
	return nil
}

// LogDebug appends a debug-log line (API_REQUEST/API_RESPONSE/TOOL_CALL/
// TOOL_RESULT/CACHE/ERROR); the loader ignores these on replay.
func (s *Session) LogDebug(lineType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLineLocked(debugLine{Type: LineType(lineType), Timestamp: time.Now().Unix(), Payload: payload})
}

// Save rewrites the log from scratch: a fresh SUMMARY header followed by
// every buffered message in order (spec §4.c). Used after a truncation or
// summarization pass collapses the in-memory buffer and the on-disk log
// needs to match it exactly rather than accumulate a restoration point.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		s.file.Close()
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	s.file = f

	if err := s.writeSummaryLocked(); err != nil {
		return err
	}
	for _, m := range s.Messages {
		onDisk := m
		onDisk.Content = escapeNewlines(m.Content)
		if err := s.writeLineLocked(onDisk); err != nil {
			return err
		}
	}
	return nil
}

// AddCacheCheckpoint implements spec §4.e's add_cache_checkpoint(system):
// it sets cached=true on the first system message iff the current model
// supports caching, and resets the per-interaction token counters.
func (s *Session) AddCacheCheckpoint(supportsCaching bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supportsCaching {
		for i := range s.Messages {
			if s.Messages[i].Role == models.RoleSystem {
				s.Messages[i].Cached = true
				break
			}
		}
	}
	s.CurrentTotalTokens = 0
	s.CurrentNonCachedTokens = 0
	s.LastCacheCheckpointTime = time.Now().Unix()
}

// Snapshot returns a defensive copy of the in-memory message buffer.
func (s *Session) Snapshot() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.Messages))
	for i, m := range s.Messages {
		out[i] = m.Clone()
	}
	return out
}

// ReplaceMessages swaps the in-memory buffer wholesale (used by truncation
// and summarization) without touching the on-disk log; callers are
// expected to follow with Save or AddRestorationPoint depending on whether
// the new state should be a full rewrite or a replay-time reset marker.
func (s *Session) ReplaceMessages(msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = msgs
}

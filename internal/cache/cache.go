// Package cache implements the bounded prompt-cache-marker policy of
// spec §4.e: Anthropic-family providers reward reusing a stable prefix
// between consecutive requests, so the runtime marks a bounded set of
// messages "cached" and relies on the wire encoder (providers package) to
// translate that into cache_control breakpoints. The algorithm itself has
// no equivalent in the teacher — internal/cache/dedupe.go solves TTL
// message de-duplication, an unrelated problem — so this package is new
// code written in that file's texture: a small struct, defaults via
// options, table-driven tests.
package cache

import (
	"time"

	"github.com/nexuscli/agent/internal/agenterr"
	"github.com/nexuscli/agent/internal/session"
	"github.com/nexuscli/agent/pkg/models"
)

// Config holds the thresholds spec §6 names for auto-promotion.
type Config struct {
	CacheTokensThreshold int64
	CacheTimeoutSeconds  int64
}

// Manager is stateless beyond its Config: all mutable state lives on the
// Session passed into each call, matching spec's "CacheMarkerSet (derived,
// not stored explicitly)" framing.
type Manager struct {
	cfg Config
}

// New builds a Manager with the given thresholds. Zero values are legal —
// a zero timeout means "always eligible by time", so callers relying on
// the default should set an explicit positive value.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// AddAutomaticCacheMarkers implements spec §4.e's two-step automatic
// marking, run before every main request of a turn; on an unchanged prefix
// a repeat run marks the same messages again:
//  1. if supportsCaching, mark the first system message cached (C-I1).
//  2. if hasTools, mark the last system-adjacent message before the first
//     user turn cached (C-I2) — the position the wire encoder attaches
//     cache_control to for the tool catalog (spec §4.b).
//
// When supportsCaching is false neither step runs and no marker is placed.
func (m *Manager) AddAutomaticCacheMarkers(s *session.Session, hasTools, supportsCaching bool) {
	if !supportsCaching {
		return
	}
	firstUser := len(s.Messages)
	for i, msg := range s.Messages {
		if msg.Role == models.RoleUser {
			firstUser = i
			break
		}
	}

	markedSystem := false
	lastSystemBeforeUser := -1
	for i := 0; i < firstUser; i++ {
		if s.Messages[i].Role != models.RoleSystem {
			continue
		}
		if !markedSystem {
			s.Messages[i].Cached = true
			markedSystem = true
		}
		lastSystemBeforeUser = i
	}
	if hasTools && lastSystemBeforeUser >= 0 {
		s.Messages[lastSystemBeforeUser].Cached = true
	}
}

// contentMarkerIndices returns, in ascending order, the indices of
// messages eligible to be a "content" marker (role ∈ {user, tool}) that
// are currently cached.
func contentMarkerIndices(msgs []models.Message) []int {
	var out []int
	for i, msg := range msgs {
		if msg.Cached && (msg.Role == models.RoleUser || msg.Role == models.RoleTool) {
			out = append(out, i)
		}
	}
	return out
}

// applyContentMarker enforces invariant C-I3 (at most two content markers)
// while placing a new one at target, per spec §4.e's manage_content_cache_
// markers algorithm: fewer than two existing markers just adds one; exactly
// two evicts the oldest; more than two (a corrupted log) evicts down to one
// before adding, landing back at two.
func applyContentMarker(s *session.Session, target int) {
	existing := contentMarkerIndices(s.Messages)
	switch {
	case len(existing) < 2:
		// no eviction needed
	case len(existing) == 2:
		s.Messages[existing[0]].Cached = false
	default:
		for _, idx := range existing[:len(existing)-1] {
			s.Messages[idx].Cached = false
		}
	}
	s.Messages[target].Cached = true
}

// RequestCacheFlags derives a ChatRequest's cache fields from the current
// marker state: cacheSystem mirrors AddCacheCheckpoint's system marker,
// cacheTools mirrors the tools-position marker AddAutomaticCacheMarkers sets
// alongside it, and breakpoints is the bounded set of content markers
// placed on user/tool messages — the wire encoder translates these into
// cache_control breakpoints.
func RequestCacheFlags(msgs []models.Message, hasTools bool) (cacheSystem, cacheTools bool, breakpoints []int) {
	firstUser := len(msgs)
	for i, msg := range msgs {
		if msg.Role == models.RoleUser {
			firstUser = i
			break
		}
	}

	lastSystemBeforeUser := -1
	for i := 0; i < firstUser; i++ {
		if msgs[i].Role != models.RoleSystem {
			continue
		}
		if msgs[i].Cached {
			cacheSystem = true
		}
		lastSystemBeforeUser = i
	}
	cacheTools = hasTools && lastSystemBeforeUser >= 0 && msgs[lastSystemBeforeUser].Cached

	return cacheSystem, cacheTools, contentMarkerIndices(msgs)
}

// ManageContentCacheMarkers resolves the target message (targetIndex if
// given, else the highest-index user-or-tool message), validates the
// preconditions, and places a bounded content marker on it. Manually
// placing a marker is itself a checkpoint event (spec scenario S3):
// current_non_cached_tokens resets and last_cache_checkpoint_time advances,
// the same bookkeeping AddCacheCheckpoint performs for the system marker.
func (m *Manager) ManageContentCacheMarkers(s *session.Session, targetIndex *int) error {
	target := -1
	if targetIndex != nil {
		target = *targetIndex
	} else {
		for i := len(s.Messages) - 1; i >= 0; i-- {
			if s.Messages[i].Role == models.RoleUser || s.Messages[i].Role == models.RoleTool {
				target = i
				break
			}
		}
	}
	if target < 0 || target >= len(s.Messages) {
		return agenterr.New(agenterr.InvalidCacheTarget, "cache", "no eligible user/tool message to mark")
	}
	msg := s.Messages[target]
	if msg.Role != models.RoleUser && msg.Role != models.RoleTool {
		return agenterr.New(agenterr.InvalidCacheTarget, "cache", "target message role must be user or tool")
	}
	if msg.Cached {
		return agenterr.New(agenterr.InvalidCacheTarget, "cache", "target message is already cached")
	}

	applyContentMarker(s, target)
	s.CurrentNonCachedTokens = 0
	s.LastCacheCheckpointTime = time.Now().Unix()
	return nil
}

// CheckAndApplyAutoCacheThreshold implements spec §4.e's time/token
// auto-promotion: it fires when either the time since the last checkpoint
// reaches cfg.CacheTimeoutSeconds or the accumulated non-cached tokens
// reach cfg.CacheTokensThreshold, preferring the highest-index tool
// message and falling back to the highest-index user message. When no
// eligible message exists, only the checkpoint clock advances, so the
// condition doesn't fire again on every single call.
func (m *Manager) CheckAndApplyAutoCacheThreshold(s *session.Session, supportsCaching bool, now time.Time) {
	if !supportsCaching {
		return
	}
	elapsed := now.Unix() - s.LastCacheCheckpointTime
	fire := elapsed >= m.cfg.CacheTimeoutSeconds || s.CurrentNonCachedTokens >= m.cfg.CacheTokensThreshold
	if !fire {
		return
	}

	target := -1
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == models.RoleTool {
			target = i
			break
		}
	}
	if target < 0 {
		for i := len(s.Messages) - 1; i >= 0; i-- {
			if s.Messages[i].Role == models.RoleUser {
				target = i
				break
			}
		}
	}

	if target < 0 {
		s.LastCacheCheckpointTime = now.Unix()
		return
	}
	if !s.Messages[target].Cached {
		applyContentMarker(s, target)
	}
	s.CurrentNonCachedTokens = 0
	s.CurrentTotalTokens = 0
	s.LastCacheCheckpointTime = now.Unix()
}

// UpdateTokenTracking folds one provider round-trip's usage into the
// session's lifetime counters (Info) and per-interaction accumulators
// (Current*), per spec §4.e/invariant I1. Output tokens are never cached.
func (m *Manager) UpdateTokenTracking(s *session.Session, inputNonCached, output, cached int64) {
	s.Info.InputTokens += inputNonCached
	s.Info.OutputTokens += output
	s.Info.CachedTokens += cached

	s.CurrentNonCachedTokens += inputNonCached
	s.CurrentTotalTokens += inputNonCached + cached
}

// Stats is the CacheManager snapshot spec §4.e says the UI reports.
type Stats struct {
	ContentMarkers         int     `json:"content_markers"`
	SystemMarkers          int     `json:"system_markers"`
	ToolMarkers            int     `json:"tool_markers"`
	TotalCachedTokens      int64   `json:"total_cached_tokens"`
	TotalInputTokens       int64   `json:"total_input_tokens"`
	TotalOutputTokens      int64   `json:"total_output_tokens"`
	CurrentNonCachedTokens int64   `json:"current_non_cached_tokens"`
	CurrentTotalTokens     int64   `json:"current_total_tokens"`
	CacheEfficiency        float64 `json:"cache_efficiency"`
}

// Stats computes the reporting snapshot by inspecting the session's
// current marker positions — the CacheMarkerSet is derived, never stored
// explicitly (spec §3).
func (m *Manager) Stats(s *session.Session) Stats {
	firstUser := len(s.Messages)
	for i, msg := range s.Messages {
		if msg.Role == models.RoleUser {
			firstUser = i
			break
		}
	}

	stats := Stats{
		TotalCachedTokens:      s.Info.CachedTokens,
		TotalInputTokens:       s.Info.InputTokens,
		TotalOutputTokens:      s.Info.OutputTokens,
		CurrentNonCachedTokens: s.CurrentNonCachedTokens,
		CurrentTotalTokens:     s.CurrentTotalTokens,
	}

	markedSystem := false
	for i := 0; i < firstUser; i++ {
		if s.Messages[i].Role != models.RoleSystem || !s.Messages[i].Cached {
			continue
		}
		if !markedSystem {
			stats.SystemMarkers++
			markedSystem = true
		}
		stats.ToolMarkers++ // the last cached system-side message also serves as the tools position
	}
	if stats.ToolMarkers > 1 {
		stats.ToolMarkers = 1 // only the last one counts as the tools-position marker
	}

	stats.ContentMarkers = len(contentMarkerIndices(s.Messages))

	denom := stats.TotalInputTokens + stats.TotalCachedTokens
	if denom > 0 {
		stats.CacheEfficiency = float64(stats.TotalCachedTokens) / float64(denom) * 100
	}
	return stats
}

// Package governor implements spec §4.h's ContextGovernor: estimate the
// token cost of a pending request, and if it exceeds the model's input
// budget, shrink the message list through smart truncation that preserves
// tool_use/tool_result pairing (invariant M1) and the cached-prefix/system
// message, oldest removable unit first. Grounded on the teacher's
// internal/context/truncation.go (Truncator's keepFirst/keepLast,
// oldest-first-removal shape), generalized from token-budget-agnostic
// message structs to tool-call-aware pairing removal.
package governor

import (
	"time"

	"github.com/nexuscli/agent/internal/agenterr"
	"github.com/nexuscli/agent/internal/tokencount"
	"github.com/nexuscli/agent/pkg/models"
)

// EstimateRequestTokens is spec §4.h step 1: the message-token estimate plus
// a constant tool-catalog estimate the caller computes once per session and
// passes in here (cheap to recompute, but callers are expected to cache it).
func EstimateRequestTokens(messages []models.Message, toolCatalogTokens int) int {
	return tokencount.EstimateMessageTokens(toMessageLike(messages)) + toolCatalogTokens
}

func toMessageLike(msgs []models.Message) []tokencount.MessageLike {
	out := make([]tokencount.MessageLike, len(msgs))
	for i, m := range msgs {
		out[i] = m
	}
	return out
}

// Ensure returns a message list whose estimated request token count fits
// within maxInputTokens, truncating as needed (spec §4.h steps 2-4). If no
// further reduction is possible and the budget is still exceeded, it
// returns the most-truncated list obtained along with
// agenterr.BudgetExceededAfterTruncation (invariant P3).
func Ensure(messages []models.Message, maxInputTokens, toolCatalogTokens int) ([]models.Message, error) {
	if EstimateRequestTokens(messages, toolCatalogTokens) <= maxInputTokens {
		return messages, nil
	}

	working := append([]models.Message(nil), messages...)

	for {
		if EstimateRequestTokens(working, toolCatalogTokens) <= maxInputTokens {
			return working, nil
		}
		start, end := oldestToolGroup(working)
		if start < 0 {
			break
		}
		working = removeRange(working, start, end)
	}

	for {
		if EstimateRequestTokens(working, toolCatalogTokens) <= maxInputTokens {
			return working, nil
		}
		start, end := oldestPair(working)
		if start < 0 {
			break
		}
		working = removeRange(working, start, end)
	}

	if EstimateRequestTokens(working, toolCatalogTokens) <= maxInputTokens {
		return working, nil
	}
	return working, agenterr.New(agenterr.BudgetExceededAfterTruncation, "governor",
		"message set still exceeds the model's input token budget after truncation")
}

// cachedPrefixEnd returns the highest index carrying a cache marker, or -1
// if none do. Every message at or before this index is part of the cached
// prefix and must never be dropped (spec §4.h step 4a).
func cachedPrefixEnd(msgs []models.Message) int {
	end := -1
	for i, m := range msgs {
		if m.Cached {
			end = i
		}
	}
	return end
}

func protected(i int, msgs []models.Message, prefixEnd int) bool {
	if msgs[i].Role == models.RoleSystem {
		return true
	}
	return i <= prefixEnd
}

// oldestToolGroup finds the first contiguous run of one tool-call-bearing
// assistant message followed by its tool-role results that contains no
// protected message, and returns its [start, end] index range (inclusive).
// Returns (-1, -1) if no such group exists.
func oldestToolGroup(msgs []models.Message) (int, int) {
	prefixEnd := cachedPrefixEnd(msgs)
	for i := 0; i < len(msgs); i++ {
		if msgs[i].Role != models.RoleAssistant || len(msgs[i].ToolCalls) == 0 {
			continue
		}
		if protected(i, msgs, prefixEnd) {
			continue
		}
		j := i + 1
		for j < len(msgs) && msgs[j].Role == models.RoleTool {
			j++
		}
		end := j - 1
		if groupProtected(msgs, i, end, prefixEnd) {
			continue
		}
		return i, end
	}
	return -1, -1
}

func groupProtected(msgs []models.Message, start, end, prefixEnd int) bool {
	for i := start; i <= end; i++ {
		if protected(i, msgs, prefixEnd) {
			return true
		}
	}
	return false
}

// oldestPair finds the first consecutive (user, plain-assistant) turn,
// neither message protected and neither part of the final remaining turn,
// and returns its [start, end] index range. Returns (-1, -1) if none
// qualifies, which is how the caller recognizes "only the system message
// and the last user turn remain" (spec §4.h step 4d).
func oldestPair(msgs []models.Message) (int, int) {
	prefixEnd := cachedPrefixEnd(msgs)
	for i := 0; i+1 < len(msgs)-1; i++ {
		if msgs[i].Role != models.RoleUser || msgs[i+1].Role != models.RoleAssistant {
			continue
		}
		if len(msgs[i+1].ToolCalls) != 0 {
			continue
		}
		if protected(i, msgs, prefixEnd) || protected(i+1, msgs, prefixEnd) {
			continue
		}
		return i, i + 1
	}
	return -1, -1
}

func removeRange(msgs []models.Message, start, end int) []models.Message {
	out := make([]models.Message, 0, len(msgs)-(end-start+1))
	out = append(out, msgs[:start]...)
	out = append(out, msgs[end+1:]...)
	return out
}

// Summarize implements spec §4.h step 5: every message is dropped in favor
// of a single synthetic user message carrying summaryText, except the
// system message(s), which are preserved. The synthetic message is not
// cached by default — callers that want it cached must place a marker
// explicitly via the cache package.
func Summarize(messages []models.Message, summaryText string) []models.Message {
	out := make([]models.Message, 0, 2)
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			out = append(out, m)
		}
	}
	out = append(out, models.Message{
		Role:      models.RoleUser,
		Content:   summaryText,
		Timestamp: time.Now().Unix(),
	})
	return out
}

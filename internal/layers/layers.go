// Package layers implements spec §4.i's LayeredOrchestrator: a sequence of
// Layer invocations, each a scoped mini-session with its own model, system
// prompt, input assembly mode, and MCP tool subset, whose last member's
// textual output becomes the effective input for the outer InteractiveLoop.
// Grounded on the teacher's internal/multiagent/orchestrator.go (mu-guarded
// orchestrator struct, event-callback hook, per-unit runtime lookup),
// generalized from the teacher's handoff-routing design down to spec's
// flatter declaration-order pipeline with no inter-layer handoffs.
package layers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nexuscli/agent/internal/mcpregistry"
	"github.com/nexuscli/agent/internal/providers"
	"github.com/nexuscli/agent/internal/toolloop"
	"github.com/nexuscli/agent/pkg/models"
)

// Event mirrors the teacher's OrchestratorEvent hook, reporting progress to
// callers that want to surface layer activity (e.g. /layers, a status
// line) without coupling this package to any particular UI.
type Event struct {
	LayerName string
	Message   string
	Timestamp time.Time
}

// EventCallback is invoked for each layer transition. May be nil.
type EventCallback func(Event)

// Orchestrator runs a fixed sequence of layers against a shared provider
// registry and tool registry.
type Orchestrator struct {
	mu sync.RWMutex

	layerConfigs []models.LayerConfig
	registry     *mcpregistry.Registry
	providers    *providers.Registry
	creds        providers.Credentials
	defaultModel string
	toolCfg      toolloop.Config

	onEvent EventCallback
}

// New builds an Orchestrator for the given layer sequence (declaration
// order is preserved and drives execution order, per spec §4.i).
func New(layerConfigs []models.LayerConfig, registry *mcpregistry.Registry, providerRegistry *providers.Registry, creds providers.Credentials, defaultModel string) *Orchestrator {
	return &Orchestrator{
		layerConfigs: append([]models.LayerConfig(nil), layerConfigs...),
		registry:     registry,
		providers:    providerRegistry,
		creds:        creds,
		defaultModel: defaultModel,
		toolCfg:      toolloop.Config{},
	}
}

// SetEventCallback wires a progress callback.
func (o *Orchestrator) SetEventCallback(cb EventCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEvent = cb
}

func (o *Orchestrator) emit(e Event) {
	o.mu.RLock()
	cb := o.onEvent
	o.mu.RUnlock()
	if cb != nil {
		cb(e)
	}
}

// Enabled reports whether any layer is configured.
func (o *Orchestrator) Enabled() bool { return len(o.layerConfigs) > 0 }

// Names returns the configured layer names in declaration order, for
// spec §4.j's "/layers" command.
func (o *Orchestrator) Names() []string {
	names := make([]string, len(o.layerConfigs))
	for i, lc := range o.layerConfigs {
		names[i] = lc.Name
	}
	return names
}

// HistoryView is the subset of session state layers read from when
// assembling All/Summary input modes: every message recorded so far,
// oldest first.
type HistoryView interface {
	Snapshot() []models.Message
}

// Run executes every configured layer in order, threading each layer's
// textual output forward as the next layer's effective input, and returns
// the last layer's output together with per-layer statistics (spec §4.i).
func (o *Orchestrator) Run(ctx context.Context, history HistoryView, userInput string) (string, []models.LayerStat, error) {
	current := userInput
	stats := make([]models.LayerStat, 0, len(o.layerConfigs))

	for _, lc := range o.layerConfigs {
		o.emit(Event{LayerName: lc.Name, Message: "starting", Timestamp: time.Now()})

		stat, output, err := o.runOne(ctx, lc, history, current)
		if err != nil {
			return "", stats, fmt.Errorf("layer %q: %w", lc.Name, err)
		}
		stats = append(stats, stat)
		current = output

		o.emit(Event{LayerName: lc.Name, Message: "completed", Timestamp: time.Now()})
	}

	return current, stats, nil
}

// RunOnDemand executes a single named layer (spec §4.j's "/run
// <layer-name>"), outside the declaration-order pipeline.
func (o *Orchestrator) RunOnDemand(ctx context.Context, name string, history HistoryView, userInput string) (string, models.LayerStat, error) {
	for _, lc := range o.layerConfigs {
		if lc.Name == name {
			stat, output, err := o.runOne(ctx, lc, history, userInput)
			return output, stat, err
		}
	}
	return "", models.LayerStat{}, fmt.Errorf("layers: no such layer %q", name)
}

func (o *Orchestrator) runOne(ctx context.Context, lc models.LayerConfig, history HistoryView, currentInput string) (models.LayerStat, string, error) {
	start := time.Now()

	model := lc.Model
	if model == "" {
		model = o.defaultModel
	}
	provider, modelName, err := o.providers.ProviderFor(model)
	if err != nil {
		return models.LayerStat{}, "", err
	}
	tag, _, _ := providers.ParseModel(model)
	pcfg := providers.ConfigForTag(tag, o.creds)

	input := assembleInput(lc.InputMode, history, currentInput)
	messages := []models.Message{{Role: models.RoleUser, Content: input, Timestamp: time.Now().Unix()}}

	visible := o.registry.VisibleFunctions(lc.MCPServerRefs, lc.AllowedTools)
	tools := make([]providers.ToolSpec, 0, len(visible))
	for _, fn := range visible {
		tools = append(tools, providers.ToolSpec{Name: fn.Name, Description: fn.Description, Parameters: fn.Parameters})
	}

	var apiTimeMs, toolTimeMs int64
	var usage providers.Usage
	var finalContent string

	// A layer's system prompt and tool catalog are identical on every
	// invocation of that named layer, so — unlike the per-turn Session
	// history, which has its own bounded marker policy — they form a
	// stable prefix worth caching outright whenever the provider supports it.
	supportsCaching := provider.SupportsCaching(modelName)
	req := providers.ChatRequest{
		Model:       modelName,
		System:      lc.SystemPrompt,
		Messages:    messages,
		Tools:       tools,
		Temperature: lc.Temperature,
		CacheSystem: supportsCaching && lc.SystemPrompt != "",
		CacheTools:  supportsCaching && len(tools) > 0,
	}

	apiStart := time.Now()
	resp, err := provider.ChatCompletion(ctx, pcfg, req)
	apiTimeMs += time.Since(apiStart).Milliseconds()
	if err != nil {
		return models.LayerStat{}, "", err
	}
	usage = resp.Usage
	finalContent = resp.Content

	if len(resp.ToolCalls) > 0 && len(visible) > 0 {
		scratch := &scratchAppender{}
		first := &toolloop.ProviderResponse{
			Content:      resp.Content,
			ToolCalls:    resp.ToolCalls,
			FinishReason: string(resp.FinishReason),
		}
		invoke := func(ctx context.Context) (*toolloop.ProviderResponse, error) {
			req.Messages = append(append([]models.Message(nil), messages...), scratch.messages...)
			apiStart := time.Now()
			r, err := provider.ChatCompletion(ctx, pcfg, req)
			apiTimeMs += time.Since(apiStart).Milliseconds()
			if err != nil {
				return nil, err
			}
			usage.InputTokens += r.Usage.InputTokens
			usage.OutputTokens += r.Usage.OutputTokens
			usage.CacheReadTokens += r.Usage.CacheReadTokens
			usage.CacheWriteTokens += r.Usage.CacheWriteTokens
			return &toolloop.ProviderResponse{
				Content:      r.Content,
				ToolCalls:    r.ToolCalls,
				FinishReason: string(r.FinishReason),
			}, nil
		}

		final, tstats, err := toolloop.Run(ctx, o.toolCfg, o.registry, scratch, first, invoke, nil)
		toolTimeMs += tstats.ToolTimeMs
		apiTimeMs += tstats.APITimeMs
		if err != nil {
			return models.LayerStat{}, "", err
		}
		finalContent = final.Content
	}

	cost := providers.EstimateCost(provider.Name(), modelName, usage)
	stat := models.LayerStat{
		LayerName:    lc.Name,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Cost:         cost,
		APITimeMs:    apiTimeMs,
		ToolTimeMs:   toolTimeMs,
		TotalTimeMs:  time.Since(start).Milliseconds(),
	}
	return stat, finalContent, nil
}

// scratchAppender accumulates a layer's inner tool-loop messages in memory
// only — layer tool chatter never touches the main session, per spec's
// "scoped mini-session" framing; only the final textual output escapes.
type scratchAppender struct {
	messages []models.Message
}

func (s *scratchAppender) AppendMessage(m models.Message) error {
	s.messages = append(s.messages, m)
	return nil
}

func assembleInput(mode models.InputMode, history HistoryView, currentInput string) string {
	switch mode {
	case models.InputAll:
		return currentInput + "\n\n" + assistantHistoryText(history)
	case models.InputSummary:
		return localSummary(history) + "\n\n" + currentInput
	default: // models.InputLast and unset
		return currentInput
	}
}

func assistantHistoryText(history HistoryView) string {
	if history == nil {
		return ""
	}
	var b strings.Builder
	for _, m := range history.Snapshot() {
		if m.Role == models.RoleAssistant && m.Content != "" {
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// localSummary produces a compact narrative of the session's user/assistant
// turns without invoking a model, for input_mode=Summary. This is distinct
// from the on-demand "/summarize" reducer (internal/governor.Summarize),
// which replaces session history rather than merely feeding a layer.
func localSummary(history HistoryView) string {
	if history == nil {
		return ""
	}
	var b strings.Builder
	for _, m := range history.Snapshot() {
		switch m.Role {
		case models.RoleUser:
			b.WriteString("User: ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		case models.RoleAssistant:
			if m.Content != "" {
				b.WriteString("Assistant: ")
				b.WriteString(m.Content)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

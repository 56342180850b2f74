// Package repl implements spec §4.j's InteractiveLoop: reads a line of
// input, dispatches slash commands, coordinates the LayeredOrchestrator,
// ContextGovernor, CacheManager and ToolLoop around one provider call per
// turn, and owns the cancellation token. Grounded on the teacher's
// internal/agent/loop.go/runtime.go for the overall phase shape
// (stream/tool/continue phases, persist-before-return discipline),
// generalized from the teacher's channel-streamed, async-job-aware loop
// down to spec's simpler synchronous per-turn sequence.
package repl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nexuscli/agent/internal/agenterr"
	"github.com/nexuscli/agent/internal/cache"
	"github.com/nexuscli/agent/internal/governor"
	"github.com/nexuscli/agent/internal/layers"
	"github.com/nexuscli/agent/internal/mcpregistry"
	"github.com/nexuscli/agent/internal/mcpsupervisor"
	"github.com/nexuscli/agent/internal/providers"
	"github.com/nexuscli/agent/internal/session"
	"github.com/nexuscli/agent/internal/slashcmd"
	"github.com/nexuscli/agent/internal/toolloop"
	"github.com/nexuscli/agent/pkg/models"
)

// Config configures one Loop instance. Thresholds mirror spec §6's config
// document fields.
type Config struct {
	DefaultModel         string
	SystemPrompt         string
	EnableAutoTruncation bool
	Cache                cache.Config
	Tools                toolloop.Config
	// SessionsDir lists saved sessions for "/list" (spec §4.j). Empty
	// means no session directory is known, so "/list" reports none.
	SessionsDir string
}

// Loop is the InteractiveLoop runtime. A Loop owns exactly one Session at a
// time; CacheManager and ToolLoop borrow it mutably in sequence, never
// concurrently (spec §5's shared-resource policy).
type Loop struct {
	cfg Config

	sess      *session.Session
	cacheMgr  *cache.Manager
	mcp       *mcpregistry.Registry
	providers *providers.Registry
	creds     providers.Credentials
	layersOrch *layers.Orchestrator
	commands  *slashcmd.Registry

	mu                sync.Mutex
	model             string
	toolCatalogTokens int
	layersArmed       bool
	pendingImages     []models.Image
	logLevel          string

	turnMu        sync.Mutex
	turnActive    bool
	turnCancelled bool
}

// New builds a Loop around an already-open session.
func New(cfg Config, sess *session.Session, mcp *mcpregistry.Registry, providerRegistry *providers.Registry, creds providers.Credentials, layersOrch *layers.Orchestrator, commands *slashcmd.Registry) *Loop {
	model := sess.Info.Model
	if model == "" {
		model = cfg.DefaultModel
	}
	return &Loop{
		cfg:        cfg,
		sess:       sess,
		cacheMgr:   cache.New(cfg.Cache),
		mcp:        mcp,
		providers:  providerRegistry,
		creds:      creds,
		layersOrch: layersOrch,
		commands:   commands,
		model:      model,
		layersArmed: true,
		logLevel:   "info",
	}
}

// Interrupt records a cancellation request. It returns true when this is
// the second interrupt inside an already-cancelled turn, in which case the
// caller must exit the process with code 130 (spec §4.j).
func (l *Loop) Interrupt() (hardExit bool) {
	l.turnMu.Lock()
	defer l.turnMu.Unlock()
	if !l.turnActive {
		return false
	}
	if l.turnCancelled {
		return true
	}
	l.turnCancelled = true
	return false
}

func (l *Loop) cancelled() bool {
	l.turnMu.Lock()
	defer l.turnMu.Unlock()
	return l.turnCancelled
}

func (l *Loop) beginTurn() {
	l.turnMu.Lock()
	defer l.turnMu.Unlock()
	l.turnActive = true
	l.turnCancelled = false
}

func (l *Loop) endTurn() {
	l.turnMu.Lock()
	defer l.turnMu.Unlock()
	l.turnActive = false
}

// DispatchResult is what HandleLine returns to the caller (typically
// cmd/nexus-agent's REPL shell) after processing one line of input.
type DispatchResult struct {
	Text   string
	Action slashcmd.Action
	Exit   bool
	Code   int
}

// HandleLine processes one line of input: a slash command if it parses as
// one, otherwise a user turn.
func (l *Loop) HandleLine(ctx context.Context, line string) (*DispatchResult, error) {
	if name, args, ok := slashcmd.Parse(line); ok {
		return l.handleCommand(ctx, name, args)
	}
	text, err := l.ProcessTurn(ctx, line)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{Text: text}, nil
}

func (l *Loop) handleCommand(ctx context.Context, name, args string) (*DispatchResult, error) {
	inv := &slashcmd.Invocation{Name: name, Args: args, Context: l.commandContext()}
	res, err := l.commands.Dispatch(ctx, inv)
	if err != nil {
		return &DispatchResult{Text: err.Error()}, nil
	}

	switch res.Action {
	case slashcmd.ActionExit:
		return &DispatchResult{Text: res.Text, Exit: true, Code: res.Code}, nil
	case slashcmd.ActionClearHistory:
		if err := l.sess.AddRestorationPoint(); err != nil {
			return nil, err
		}
	case slashcmd.ActionSave:
		if err := l.sess.Save(); err != nil {
			return nil, err
		}
	case slashcmd.ActionSetModel:
		l.mu.Lock()
		l.model = res.Arg
		l.mu.Unlock()
	case slashcmd.ActionSummarize:
		if err := l.summarize(ctx); err != nil {
			return nil, err
		}
	case slashcmd.ActionTruncate:
		if err := l.truncateNow(); err != nil {
			return nil, err
		}
	case slashcmd.ActionCacheClear:
		l.sess.ReplaceMessages(clearCacheMarkers(l.sess.Snapshot()))
	case slashcmd.ActionSetThreshold:
		var n int
		fmt.Sscanf(res.Arg, "%d", &n)
		l.cacheMgr = cache.New(cache.Config{CacheTokensThreshold: int64(n), CacheTimeoutSeconds: l.cfg.Cache.CacheTimeoutSeconds})
	case slashcmd.ActionSetLogLevel:
		l.mu.Lock()
		l.logLevel = res.Arg
		l.mu.Unlock()
	case slashcmd.ActionRunLayer:
		out, _, err := l.layersOrch.RunOnDemand(ctx, res.Arg, l.sess, "")
		if err != nil {
			return &DispatchResult{Text: err.Error()}, nil
		}
		return &DispatchResult{Text: out}, nil
	case slashcmd.ActionAttachImage:
		raw, err := os.ReadFile(res.Arg)
		if err != nil {
			return &DispatchResult{Text: err.Error()}, nil
		}
		l.mu.Lock()
		l.pendingImages = append(l.pendingImages, models.Image{MediaType: http.DetectContentType(raw), Data: base64.StdEncoding.EncodeToString(raw)})
		l.mu.Unlock()
	case slashcmd.ActionDone:
		l.mu.Lock()
		l.layersArmed = true
		l.mu.Unlock()
	}

	return &DispatchResult{Text: res.Text, Action: res.Action}, nil
}

func clearCacheMarkers(msgs []models.Message) []models.Message {
	for i := range msgs {
		msgs[i].Cached = false
	}
	return msgs
}

func (l *Loop) commandContext() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := l.cacheMgr.Stats(l.sess)
	msgs := l.sess.Snapshot()

	out := map[string]any{
		"model":              l.model,
		"session_name":       l.sess.Info.Name,
		"input_tokens":       l.sess.Info.InputTokens,
		"output_tokens":      l.sess.Info.OutputTokens,
		"cost":               l.sess.Info.TotalCost,
		"log_level":          l.logLevel,
		"cache_read_tokens":  stats.TotalCachedTokens,
		"cache_write_tokens": stats.CurrentTotalTokens,
		"cache_hit_rate":     fmt.Sprintf("%.1f%%", stats.CacheEfficiency),
		"message_count":      len(msgs),
		"estimated_tokens":   governor.EstimateRequestTokens(msgs, l.toolCatalogTokens),
	}

	if provider, modelName, err := l.providers.ProviderFor(l.model); err == nil {
		out["max_input_tokens"] = provider.MaxInputTokens(modelName)
	}

	if names := l.layersOrch.Names(); len(names) > 0 {
		out["layer_names"] = names
	}
	if report := formatLayerReport(l.sess.Info.LayerStats); report != "" {
		out["layer_report"] = report
	}
	if names := l.sessionNames(); len(names) > 0 {
		out["session_names"] = names
	}

	for k, v := range l.mcpContext() {
		out[k] = v
	}

	return out
}

// sessionNames lists the saved sessions under cfg.SessionsDir, for "/list".
func (l *Loop) sessionNames() []string {
	if l.cfg.SessionsDir == "" {
		return nil
	}
	entries, err := os.ReadDir(l.cfg.SessionsDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".jsonl"))
	}
	sort.Strings(names)
	return names
}

// formatLayerReport renders spec §4.j's "/report" per-layer cost/timing
// summary from the lifetime LayerStats recorded on SessionInfo.
func formatLayerReport(stats []models.LayerStat) string {
	if len(stats) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range stats {
		fmt.Fprintf(&b, "%s (%s): %d in / %d out tokens, cost $%.4f, %dms\n",
			s.LayerName, s.Model, s.InputTokens, s.OutputTokens, s.Cost, s.TotalTimeMs)
	}
	return strings.TrimRight(b.String(), "\n")
}

// mcpContext renders spec §4.j's "/mcp [list|info|full|health|dump|validate]"
// subcommands from the registry's current providers and the health
// supervisor's runtime state.
func (l *Loop) mcpContext() map[string]any {
	out := map[string]any{}
	providers := l.mcp.Providers()
	if len(providers) == 0 {
		return out
	}

	var list, info, full, health strings.Builder
	dump := make(map[string][]models.McpFunction, len(providers))
	for _, p := range providers {
		name := p.ServerName()
		fns := p.Functions()
		dump[name] = fns

		fmt.Fprintf(&list, "%s: %d tools\n", name, len(fns))

		names := make([]string, len(fns))
		for i, fn := range fns {
			names[i] = fn.Name
		}
		fmt.Fprintf(&info, "%s: %s\n", name, strings.Join(names, ", "))

		fmt.Fprintf(&full, "%s:\n", name)
		for _, fn := range fns {
			fmt.Fprintf(&full, "  %s - %s\n", fn.Name, fn.Description)
		}

		if state, ok := mcpsupervisor.Get().State(name); ok {
			fmt.Fprintf(&health, "%s: %s\n", name, state.Health)
		} else {
			fmt.Fprintf(&health, "%s: unmonitored\n", name)
		}
	}

	out["mcp_list"] = strings.TrimRight(list.String(), "\n")
	out["mcp_info"] = strings.TrimRight(info.String(), "\n")
	out["mcp_full"] = strings.TrimRight(full.String(), "\n")
	out["mcp_health"] = strings.TrimRight(health.String(), "\n")

	if raw, err := json.MarshalIndent(dump, "", "  "); err == nil {
		out["mcp_dump"] = string(raw)
	}

	if problems := l.mcp.ValidateSchemas(); len(problems) == 0 {
		out["mcp_validate"] = "All tool schemas are valid."
	} else {
		out["mcp_validate"] = strings.Join(problems, "\n")
	}

	return out
}

func (l *Loop) truncateNow() error {
	provider, modelName, err := l.providers.ProviderFor(l.model)
	if err != nil {
		return err
	}
	truncated, err := governor.Ensure(l.sess.Snapshot(), provider.MaxInputTokens(modelName), l.toolCatalogTokens)
	if err != nil && !agenterr.Is(err, agenterr.BudgetExceededAfterTruncation) {
		return err
	}
	l.sess.ReplaceMessages(truncated)
	return l.sess.Save()
}

func (l *Loop) summarize(ctx context.Context) error {
	out, _, err := l.layersOrch.Reduce(ctx, l.sess, l.model, "Summarize the conversation so far into one concise paragraph.")
	if err != nil {
		return err
	}
	l.sess.ReplaceMessages(governor.Summarize(l.sess.Snapshot(), out))
	return l.sess.Save()
}

// ProcessTurn runs spec §4.j's seven-step per-turn sequence for one piece
// of user input and returns the assistant's final textual reply.
func (l *Loop) ProcessTurn(ctx context.Context, userInput string) (string, error) {
	l.beginTurn()
	defer l.endTurn()

	l.mu.Lock()
	model := l.model
	layersArmed := l.layersArmed && l.layersOrch.Enabled()
	l.layersArmed = false
	images := l.pendingImages
	l.pendingImages = nil
	l.mu.Unlock()

	provider, modelName, err := l.providers.ProviderFor(model)
	if err != nil {
		return "", err
	}
	tag, _, _ := providers.ParseModel(model)
	pcfg := providers.ConfigForTag(tag, l.creds)

	// Step 1: layered pre-pass on the first armed turn.
	effectiveInput := userInput
	if layersArmed {
		out, stats, err := l.layersOrch.Run(ctx, l.sess, userInput)
		if err != nil {
			return "", err
		}
		effectiveInput = out
		l.sess.Info.LayerStats = append(l.sess.Info.LayerStats, stats...)
		for _, s := range stats {
			l.sess.Info.TotalLayerTimeMs += s.TotalTimeMs
			l.sess.Info.TotalCost += s.Cost
		}
	}

	// Step 2: append user message, then run ContextGovernor.
	if err := l.sess.AppendMessage(models.Message{Role: models.RoleUser, Content: effectiveInput, Images: images}); err != nil {
		return "", err
	}
	if l.cfg.EnableAutoTruncation {
		truncated, err := governor.Ensure(l.sess.Snapshot(), provider.MaxInputTokens(modelName), l.toolCatalogTokens)
		if err != nil && !agenterr.Is(err, agenterr.BudgetExceededAfterTruncation) {
			return "", err
		}
		l.sess.ReplaceMessages(truncated)
	}

	if l.cancelled() {
		return "", agenterr.New(agenterr.Cancelled, "repl", "turn cancelled before the provider call")
	}

	// Step 3: system cache checkpoint, once: only while the first system
	// message is not yet cached and the model supports caching.
	hasTools := len(l.mcp.Providers()) > 0
	if provider.SupportsCaching(modelName) {
		for _, m := range l.sess.Snapshot() {
			if m.Role == models.RoleSystem {
				if !m.Cached {
					l.sess.AddCacheCheckpoint(true)
				}
				break
			}
		}
	}

	// Step 4: automatic content cache markers.
	l.cacheMgr.AddAutomaticCacheMarkers(l.sess, hasTools, provider.SupportsCaching(modelName))

	visible := l.mcp.VisibleFunctions(nil, nil)
	tools := make([]providers.ToolSpec, 0, len(visible))
	for _, fn := range visible {
		tools = append(tools, providers.ToolSpec{Name: fn.Name, Description: fn.Description, Parameters: fn.Parameters})
	}
	l.toolCatalogTokens = estimateToolCatalogTokens(tools)

	msgs := l.sess.Snapshot()
	cacheSystem, cacheTools, breakpoints := cache.RequestCacheFlags(msgs, hasTools)
	req := providers.ChatRequest{
		Model:            modelName,
		System:           l.cfg.SystemPrompt,
		Messages:         msgs,
		Tools:            tools,
		CacheSystem:      cacheSystem,
		CacheTools:       cacheTools,
		CacheBreakpoints: breakpoints,
	}

	// Step 5: provider call, then ToolLoop until terminal.
	start := time.Now()
	resp, err := provider.ChatCompletion(ctx, pcfg, req)
	apiMs := time.Since(start).Milliseconds()
	if err != nil {
		return "", err
	}

	first := &toolloop.ProviderResponse{Content: resp.Content, ToolCalls: resp.ToolCalls, FinishReason: string(resp.FinishReason)}
	invoke := func(ctx context.Context) (*toolloop.ProviderResponse, error) {
		req.Messages = l.sess.Snapshot()
		req.CacheSystem, req.CacheTools, req.CacheBreakpoints = cache.RequestCacheFlags(req.Messages, hasTools)
		r, err := provider.ChatCompletion(ctx, pcfg, req)
		if err != nil {
			return nil, err
		}
		l.cacheMgr.UpdateTokenTracking(l.sess, int64(r.Usage.InputTokens), int64(r.Usage.OutputTokens), int64(r.Usage.CacheReadTokens))
		l.sess.Info.TotalCost += providers.EstimateCost(provider.Name(), modelName, r.Usage)
		return &toolloop.ProviderResponse{Content: r.Content, ToolCalls: r.ToolCalls, FinishReason: string(r.FinishReason)}, nil
	}

	final, tstats, err := toolloop.Run(ctx, l.cfg.Tools, l.mcp, l.sess, first, invoke, l.cancelled)
	if err != nil {
		return "", err
	}
	l.sess.Info.TotalAPITimeMs += apiMs + tstats.APITimeMs
	l.sess.Info.TotalToolTimeMs += tstats.ToolTimeMs
	l.sess.Info.ToolCalls += int64(tstats.ToolCalls)

	// Step 6: token tracking + auto-promotion check.
	l.cacheMgr.UpdateTokenTracking(l.sess, int64(resp.Usage.InputTokens), int64(resp.Usage.OutputTokens), int64(resp.Usage.CacheReadTokens))
	l.cacheMgr.CheckAndApplyAutoCacheThreshold(l.sess, provider.SupportsCaching(modelName), time.Now())
	l.sess.Info.TotalCost += providers.EstimateCost(provider.Name(), modelName, resp.Usage)

	if err := l.sess.AppendMessage(models.Message{Role: models.RoleAssistant, Content: final.Content}); err != nil {
		return "", err
	}

	// Step 7: persist.
	if err := l.sess.Save(); err != nil {
		return "", err
	}

	return final.Content, nil
}

func estimateToolCatalogTokens(tools []providers.ToolSpec) int {
	total := 0
	for _, t := range tools {
		total += len(t.Name) + len(t.Description) + len(t.Parameters)
	}
	return total / 4
}

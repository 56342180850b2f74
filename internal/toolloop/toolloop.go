// Package toolloop implements spec §4.f's ToolLoop: given an assistant
// response carrying tool calls, route each call through the function
// registry, append the results in original call order, and re-invoke the
// provider until the conversation reaches a terminal state. Grounded on the
// teacher's internal/agent/tool_exec.go (ExecuteConcurrently's
// semaphore-bounded goroutine-per-call shape, ToolExecResult bookkeeping),
// generalized from the teacher's registry.Execute(name, input) seam to
// routing through mcpregistry.Registry.
package toolloop

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexuscli/agent/internal/mcpregistry"
	"github.com/nexuscli/agent/pkg/models"
)

const defaultMaxIterations = 10

// Config tunes ToolLoop's concurrency and iteration limits.
type Config struct {
	// Concurrency bounds how many tool calls within one assistant turn run
	// at once. Default: 4.
	Concurrency int

	// MaxIterations is spec's max_tool_iterations. Default: 10.
	MaxIterations int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	return c
}

// Appender is the subset of *session.Session the loop needs: appending a
// message durably before returning to the caller, per spec's "journal then
// return" discipline.
type Appender interface {
	AppendMessage(models.Message) error
}

// InvokeFunc re-invokes the provider with the extended message list. The
// caller owns request assembly (model, system prompt, tool catalog, cache
// breakpoints); ToolLoop only ever sees the resulting response.
type InvokeFunc func(ctx context.Context) (*ProviderResponse, error)

// ProviderResponse is the subset of providers.ChatResponse ToolLoop reasons
// about, kept independent of the providers package so this package has no
// import-cycle exposure to provider wire details.
type ProviderResponse struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason string
}

// terminalFinishReasons are the finish_reason values that stop the loop even
// if ToolCalls happens to be non-empty (spec §4.f step 4).
var terminalFinishReasons = map[string]bool{
	"stop":     true,
	"end_turn": true,
	"length":   true,
}

// Stats accumulates the wall time spent inside the registry (tool_time_ms)
// and inside the provider (api_time_ms) across every iteration, for
// SessionInfo/LayerStat accounting.
type Stats struct {
	Iterations int
	ToolTimeMs int64
	APITimeMs  int64
	ToolCalls  int
}

// Run drives the loop starting from first, appending assistant/tool
// messages to appender as it goes, until a terminal response is reached or
// cfg.MaxIterations is exhausted. cancelled is polled between iterations
// (spec: "polls the cancellation token between iterations"); when it
// reports true before a batch is dispatched, the loop stops immediately,
// leaving whatever has already been appended (invariant M1 still holds
// since every appended tool message has its assistant predecessor already
// durable).
func Run(
	ctx context.Context,
	cfg Config,
	reg *mcpregistry.Registry,
	appender Appender,
	first *ProviderResponse,
	invoke InvokeFunc,
	cancelled func() bool,
) (*ProviderResponse, Stats, error) {
	cfg = cfg.withDefaults()
	current := first
	var stats Stats

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		stats.Iterations++

		if isTerminal(current) {
			return current, stats, nil
		}

		calls := mcpregistry.EnsureToolCallIDs(current.ToolCalls)
		if err := appender.AppendMessage(models.Message{
			Role:      models.RoleAssistant,
			Content:   current.Content,
			Timestamp: time.Now().Unix(),
			ToolCalls: calls,
		}); err != nil {
			return current, stats, err
		}

		if cancelled != nil && cancelled() {
			return current, stats, nil
		}

		results, toolElapsed := execute(ctx, cfg, reg, calls)
		stats.ToolTimeMs += toolElapsed.Milliseconds()
		stats.ToolCalls += len(calls)

		for _, r := range results {
			if err := appender.AppendMessage(r); err != nil {
				return current, stats, err
			}
		}

		if cancelled != nil && cancelled() {
			return current, stats, nil
		}

		apiStart := time.Now()
		resp, err := invoke(ctx)
		stats.APITimeMs += time.Since(apiStart).Milliseconds()
		if err != nil {
			return current, stats, err
		}
		current = resp
	}

	return current, stats, nil
}

func isTerminal(resp *ProviderResponse) bool {
	if len(resp.ToolCalls) == 0 {
		return true
	}
	return terminalFinishReasons[resp.FinishReason]
}

// execute routes calls through reg with bounded concurrency, returning
// tool-role messages in the same order as calls regardless of completion
// order (spec §4.f step 2).
func execute(ctx context.Context, cfg Config, reg *mcpregistry.Registry, calls []models.ToolCall) ([]models.Message, time.Duration) {
	messages := make([]models.Message, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)

	start := time.Now()
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			if gctx.Err() != nil {
				messages[i] = errorResult(call, gctx.Err())
				return nil
			}
			messages[i] = routeOne(ctx, reg, call)
			return nil
		})
	}
	g.Wait()
	return messages, time.Since(start)
}

func routeOne(ctx context.Context, reg *mcpregistry.Registry, call models.ToolCall) models.Message {
	result, err := reg.Route(ctx, models.McpToolCall{
		ToolName:   call.Name,
		Parameters: call.Arguments,
		ToolID:     call.ID,
	})
	if err != nil {
		return errorResult(call, err)
	}
	return models.Message{
		Role:       models.RoleTool,
		Content:    string(result.Result),
		Timestamp:  time.Now().Unix(),
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

func errorResult(call models.ToolCall, err error) models.Message {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return models.Message{
		Role:       models.RoleTool,
		Content:    string(payload),
		Timestamp:  time.Now().Unix(),
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

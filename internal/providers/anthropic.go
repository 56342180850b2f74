package providers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexuscli/agent/internal/agenterr"
	"github.com/nexuscli/agent/pkg/models"
)

// anthropicModels lists the models this adapter accepts directly; anything
// with the "claude-" prefix not in this list is still accepted so newly
// released models work without a code change, matching the teacher's
// Models() list being advisory rather than a hard allowlist.
var anthropicModels = map[string]int{
	"claude-opus-4-20250514":      200_000,
	"claude-sonnet-4-20250514":    200_000,
	"claude-3-5-haiku-20241022":   200_000,
	"claude-3-haiku-20240307":     200_000,
}

// AnthropicProvider implements Provider against the first-party
// anthropic-sdk-go client, following the teacher's AnthropicProvider
// (internal/agent/providers/anthropic.go) for client construction and
// retry wiring, narrowed to the non-streaming Messages.New call since
// spec.md's Non-goals exclude a token-streaming UI.
type AnthropicProvider struct {
	retry Retrier
}

// NewAnthropicProvider constructs the adapter. Credentials are supplied
// per-call via Config so one process can hold several accounts.
func NewAnthropicProvider(maxRetries int, retryDelay time.Duration) *AnthropicProvider {
	return &AnthropicProvider{retry: NewRetrier(maxRetries, retryDelay)}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsModel(model string) bool {
	if _, ok := anthropicModels[model]; ok {
		return true
	}
	return strings.HasPrefix(model, "claude-")
}

func (p *AnthropicProvider) SupportsCaching(model string) bool { return true }

func (p *AnthropicProvider) SupportsVision(model string) bool { return true }

func (p *AnthropicProvider) MaxInputTokens(model string) int {
	if n, ok := anthropicModels[model]; ok {
		return n
	}
	return 200_000
}

func (p *AnthropicProvider) client(cfg Config) (anthropic.Client, error) {
	if cfg.APIKey == "" {
		return anthropic.Client{}, agenterr.New(agenterr.MissingCredential, "anthropic", "ANTHROPIC_API_KEY is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return anthropic.NewClient(opts...), nil
}

func (p *AnthropicProvider) ChatCompletion(ctx context.Context, cfg Config, req ChatRequest) (*ChatResponse, error) {
	client, err := p.client(cfg)
	if err != nil {
		return nil, err
	}

	params, err := buildAnthropicParams(req)
	if err != nil {
		return nil, New(agenterr.ParseError, "anthropic", req.Model, err)
	}

	var msg *anthropic.Message
	callErr := p.retry.Do(ctx, func(err error) bool {
		return ClassifyError(err).IsRetryable()
	}, func(ctx context.Context) error {
		var apiErr error
		msg, apiErr = client.Messages.New(ctx, params)
		return apiErr
	})
	if callErr != nil {
		if ctx.Err() != nil {
			return nil, New(agenterr.Cancelled, "anthropic", req.Model, ctx.Err())
		}
		return nil, New(agenterr.APIError, "anthropic", req.Model, callErr)
	}

	return anthropicToChatResponse(msg), nil
}

func buildAnthropicParams(req ChatRequest) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		block := anthropic.TextBlockParam{Text: req.System}
		if req.CacheSystem {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{block}
	}

	msgs, err := toAnthropicMessages(req.Messages, req.CacheBreakpoints)
	if err != nil {
		return params, err
	}
	params.Messages = msgs

	if len(req.Tools) > 0 {
		tools, err := toAnthropicTools(req.Tools, req.CacheTools)
		if err != nil {
			return params, err
		}
		params.Tools = tools
	}
	return params, nil
}

func toAnthropicMessages(msgs []models.Message, cacheAt []int) ([]anthropic.MessageParam, error) {
	cacheSet := make(map[int]bool, len(cacheAt))
	for _, idx := range cacheAt {
		cacheSet[idx] = true
	}

	out := make([]anthropic.MessageParam, 0, len(msgs))
	for i, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		switch m.Role {
		case models.RoleTool:
			content := m.Content
			if content == "" {
				content = "(empty result)"
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(m.ToolCallID, content, false))
		case models.RoleAssistant:
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &args); err != nil {
						return nil, err
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
		default:
			for _, img := range m.Images {
				blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Data))
			}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if cacheSet[i] {
			applyCacheControl(blocks[len(blocks)-1])
		}
		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out, nil
}

// applyCacheControl sets the ephemeral cache breakpoint on whichever
// concrete variant the union currently holds, the same way buildAnthropicParams
// does for the system block and toAnthropicTools does for the last tool.
func applyCacheControl(block anthropic.ContentBlockParamUnion) {
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = anthropic.NewCacheControlEphemeralParam()
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = anthropic.NewCacheControlEphemeralParam()
	case block.OfImage != nil:
		block.OfImage.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
}

func toAnthropicTools(tools []ToolSpec, cacheLast bool) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for i, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, err
			}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(t.Description)
			if cacheLast && i == len(tools)-1 {
				tool.OfTool.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
		}
		out = append(out, tool)
	}
	return out, nil
}

func anthropicToChatResponse(msg *anthropic.Message) *ChatResponse {
	resp := &ChatResponse{RawModel: string(msg.Model)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	switch msg.StopReason {
	case "tool_use":
		resp.FinishReason = FinishToolUse
	case "max_tokens":
		resp.FinishReason = FinishLength
	case "end_turn", "stop_sequence":
		resp.FinishReason = FinishStop
	default:
		resp.FinishReason = FinishUnknown
	}
	resp.Usage = Usage{
		InputTokens:      int(msg.Usage.InputTokens),
		OutputTokens:     int(msg.Usage.OutputTokens),
		CacheWriteTokens: int(msg.Usage.CacheCreationInputTokens),
		CacheReadTokens:  int(msg.Usage.CacheReadInputTokens),
	}
	return resp
}

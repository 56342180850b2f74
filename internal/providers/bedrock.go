package providers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/nexuscli/agent/internal/agenterr"
	"github.com/nexuscli/agent/pkg/models"
)

var bedrockContextWindows = map[string]int{
	"anthropic.claude-3-5-sonnet": 200_000,
	"anthropic.claude-3-haiku":    200_000,
	"amazon.titan-text":           32_000,
	"meta.llama3":                 8_000,
}

// BedrockProvider implements Provider over aws-sdk-go-v2's bedrockruntime
// InvokeModel. Only anthropic.* model ids are sent: they speak the same
// "messages" shape as the direct Anthropic API (minus the top-level
// model/max_tokens fields, which Bedrock takes from the InvokeModel call
// itself plus anthropic_version). Titan and Llama ids are recognized by
// SupportsModel and MaxInputTokens, but ChatCompletion rejects them with
// UnsupportedModel; no Titan or Llama body shape is built.
type BedrockProvider struct {
	retry Retrier
}

func NewBedrockProvider(maxRetries int, retryDelay time.Duration) *BedrockProvider {
	return &BedrockProvider{retry: NewRetrier(maxRetries, retryDelay)}
}

func (p *BedrockProvider) Name() string { return "amazon" }

func (p *BedrockProvider) SupportsModel(model string) bool {
	for prefix := range bedrockContextWindows {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return strings.HasPrefix(model, "anthropic.") || strings.HasPrefix(model, "amazon.") || strings.HasPrefix(model, "meta.")
}

func (p *BedrockProvider) SupportsCaching(model string) bool {
	return strings.HasPrefix(model, "anthropic.")
}

func (p *BedrockProvider) SupportsVision(model string) bool {
	return strings.HasPrefix(model, "anthropic.claude-3")
}

func (p *BedrockProvider) MaxInputTokens(model string) int {
	for prefix, n := range bedrockContextWindows {
		if strings.HasPrefix(model, prefix) {
			return n
		}
	}
	return 32_000
}

func (p *BedrockProvider) client(ctx context.Context, cfg Config) (*bedrockruntime.Client, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.AWSRegion))
	}
	if cfg.APIKey != "" {
		// APIKey doubles as "access_key:secret_key" for static credential
		// injection when the environment's default chain isn't usable
		// (e.g. a per-session override configured via spec §6's provider
		// block); the normal path leaves this empty and relies on the SDK's
		// default credential chain.
		if parts := strings.SplitN(cfg.APIKey, ":", 2); len(parts) == 2 {
			optFns = append(optFns, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(parts[0], parts[1], "")))
		}
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.MissingCredential, "amazon", err)
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
}

type bedrockAnthropicBody struct {
	AnthropicVersion string                 `json:"anthropic_version"`
	MaxTokens        int                    `json:"max_tokens"`
	System           string                 `json:"system,omitempty"`
	Messages         []bedrockAnthropicMsg  `json:"messages"`
	Tools            []bedrockAnthropicTool `json:"tools,omitempty"`
}

type bedrockAnthropicMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type bedrockAnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type bedrockAnthropicResponse struct {
	Content    []bedrockAnthropicContentBlock `json:"content"`
	StopReason string                         `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

type bedrockAnthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

func (p *BedrockProvider) ChatCompletion(ctx context.Context, cfg Config, req ChatRequest) (*ChatResponse, error) {
	client, err := p.client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(req.Model, "anthropic.") {
		return nil, agenterr.New(agenterr.UnsupportedModel, "amazon", "only anthropic.* Bedrock models implement the full tool-calling contract this runtime needs")
	}

	body := bedrockAnthropicBody{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		System:           req.System,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toBedrockAnthropicMessage(m))
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, bedrockAnthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, New(agenterr.ParseError, "amazon", req.Model, err)
	}

	var parsed bedrockAnthropicResponse
	callErr := p.retry.Do(ctx, func(err error) bool {
		return ClassifyError(err).IsRetryable()
	}, func(ctx context.Context) error {
		out, apiErr := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(req.Model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        payload,
		})
		if apiErr != nil {
			return apiErr
		}
		return json.Unmarshal(out.Body, &parsed)
	})
	if callErr != nil {
		if ctx.Err() != nil {
			return nil, New(agenterr.Cancelled, "amazon", req.Model, ctx.Err())
		}
		return nil, New(agenterr.APIError, "amazon", req.Model, callErr)
	}

	return bedrockToChatResponse(parsed), nil
}

func toBedrockAnthropicMessage(m models.Message) bedrockAnthropicMsg {
	switch m.Role {
	case models.RoleTool:
		return bedrockAnthropicMsg{
			Role: "user",
			Content: []map[string]any{{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     m.Content,
			}},
		}
	case models.RoleAssistant:
		var blocks []map[string]any
		if m.Content != "" {
			blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
		}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal(tc.Arguments, &args)
			blocks = append(blocks, map[string]any{
				"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": args,
			})
		}
		return bedrockAnthropicMsg{Role: "assistant", Content: blocks}
	default:
		return bedrockAnthropicMsg{Role: "user", Content: m.Content}
	}
}

func bedrockToChatResponse(resp bedrockAnthropicResponse) *ChatResponse {
	out := &ChatResponse{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID: block.ID, Name: block.Name, Arguments: block.Input,
			})
		}
	}
	switch resp.StopReason {
	case "tool_use":
		out.FinishReason = FinishToolUse
	case "max_tokens":
		out.FinishReason = FinishLength
	case "end_turn", "stop_sequence":
		out.FinishReason = FinishStop
	default:
		out.FinishReason = FinishUnknown
	}
	out.Usage = Usage{
		InputTokens:      resp.Usage.InputTokens,
		OutputTokens:     resp.Usage.OutputTokens,
		CacheWriteTokens: resp.Usage.CacheCreationInputTokens,
		CacheReadTokens:  resp.Usage.CacheReadInputTokens,
	}
	return out
}

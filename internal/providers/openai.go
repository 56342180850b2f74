package providers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexuscli/agent/internal/agenterr"
	"github.com/nexuscli/agent/pkg/models"
)

var openaiContextWindows = map[string]int{
	"gpt-4o":      128_000,
	"gpt-4o-mini": 128_000,
	"gpt-4-turbo": 128_000,
	"o1":          200_000,
	"o1-mini":     128_000,
}

// OpenAIProvider implements Provider against go-openai's chat completions
// API. It also backs the OpenRouter and Cloudflare adapters, which speak
// the same OpenAI-compatible wire shape against a different base URL; see
// openrouter.go and cloudflare.go.
type OpenAIProvider struct {
	name    string
	baseURL string
	retry   Retrier
}

// NewOpenAIProvider builds the adapter against api.openai.com.
func NewOpenAIProvider(maxRetries int, retryDelay time.Duration) *OpenAIProvider {
	return &OpenAIProvider{name: "openai", retry: NewRetrier(maxRetries, retryDelay)}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) SupportsModel(model string) bool {
	if _, ok := openaiContextWindows[model]; ok {
		return true
	}
	return strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1")
}

func (p *OpenAIProvider) SupportsCaching(model string) bool { return false }

func (p *OpenAIProvider) SupportsVision(model string) bool {
	return strings.HasPrefix(model, "gpt-4o") || strings.HasPrefix(model, "gpt-4-turbo")
}

func (p *OpenAIProvider) MaxInputTokens(model string) int {
	if n, ok := openaiContextWindows[model]; ok {
		return n
	}
	return 128_000
}

func (p *OpenAIProvider) client(cfg Config) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, agenterr.New(agenterr.MissingCredential, p.name, "OPENAI_API_KEY is required")
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	base := p.baseURL
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}
	if base != "" {
		conf.BaseURL = base
	}
	return openai.NewClientWithConfig(conf), nil
}

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, cfg Config, req ChatRequest) (*ChatResponse, error) {
	client, err := p.client(cfg)
	if err != nil {
		return nil, err
	}

	body, err := buildOpenAIRequest(req)
	if err != nil {
		return nil, New(agenterr.ParseError, p.name, req.Model, err)
	}

	var resp openai.ChatCompletionResponse
	callErr := p.retry.Do(ctx, func(err error) bool {
		return ClassifyError(err).IsRetryable()
	}, func(ctx context.Context) error {
		var apiErr error
		resp, apiErr = client.CreateChatCompletion(ctx, body)
		return apiErr
	})
	if callErr != nil {
		if ctx.Err() != nil {
			return nil, New(agenterr.Cancelled, p.name, req.Model, ctx.Err())
		}
		return nil, New(agenterr.APIError, p.name, req.Model, callErr)
	}
	return openAIToChatResponse(resp), nil
}

func buildOpenAIRequest(req ChatRequest) (openai.ChatCompletionRequest, error) {
	body := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}

	if req.System != "" {
		body.Messages = append(body.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		msg, err := toOpenAIMessage(m)
		if err != nil {
			return body, err
		}
		body.Messages = append(body.Messages, msg...)
	}

	for _, t := range req.Tools {
		params := json.RawMessage(t.Parameters)
		body.Tools = append(body.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return body, nil
}

func toOpenAIMessage(m models.Message) ([]openai.ChatCompletionMessage, error) {
	switch m.Role {
	case models.RoleTool:
		return []openai.ChatCompletionMessage{{
			Role:       openai.ChatMessageRoleTool,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}}, nil
	case models.RoleAssistant:
		msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		return []openai.ChatCompletionMessage{msg}, nil
	default:
		role := openai.ChatMessageRoleUser
		if len(m.Images) == 0 {
			return []openai.ChatCompletionMessage{{Role: role, Content: m.Content}}, nil
		}
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
		for _, img := range m.Images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: "data:" + img.MediaType + ";base64," + img.Data,
				},
			})
		}
		return []openai.ChatCompletionMessage{{Role: role, MultiContent: parts}}, nil
	}
}

func openAIToChatResponse(resp openai.ChatCompletionResponse) *ChatResponse {
	out := &ChatResponse{RawModel: resp.Model}
	if len(resp.Choices) == 0 {
		out.FinishReason = FinishUnknown
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	switch choice.FinishReason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		out.FinishReason = FinishToolUse
	case openai.FinishReasonLength:
		out.FinishReason = FinishLength
	case openai.FinishReasonContentFilter:
		out.FinishReason = FinishFiltered
	case openai.FinishReasonStop:
		out.FinishReason = FinishStop
	default:
		out.FinishReason = FinishUnknown
	}
	out.Usage = Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	return out
}

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexuscli/agent/internal/agenterr"
)

const openrouterBaseURL = "https://openrouter.ai/api/v1/chat/completions"

// OpenRouterProvider speaks OpenRouter's OpenAI-compatible wire shape
// directly over net/http rather than through go-openai's client, because
// spec §4.b requires two fields go-openai's request struct has no place
// for: `usage.include=true` (OpenRouter omits token counts unless asked)
// and an optional `provider.order` preference list. The message/tool
// encoding is still built with buildOpenAIRequest/toOpenAIMessage so the
// two OpenAI-shaped adapters stay in lockstep.
type OpenRouterProvider struct {
	providerOrder []string
	retry         Retrier
	httpClient    *http.Client
}

// NewOpenRouterProvider builds the adapter. providerOrder is optional and,
// when set, is sent as OpenRouter's provider-preference-order field.
func NewOpenRouterProvider(maxRetries int, retryDelay time.Duration, providerOrder []string) *OpenRouterProvider {
	return &OpenRouterProvider{
		providerOrder: providerOrder,
		retry:         NewRetrier(maxRetries, retryDelay),
		httpClient:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenRouterProvider) Name() string { return "openrouter" }

// SupportsModel is permissive: OpenRouter's catalog spans every upstream
// vendor and changes frequently, so anything non-empty is accepted and left
// to the live API call to reject.
func (p *OpenRouterProvider) SupportsModel(model string) bool { return model != "" }

func (p *OpenRouterProvider) SupportsCaching(model string) bool {
	return strings.HasPrefix(model, "anthropic/")
}

func (p *OpenRouterProvider) SupportsVision(model string) bool {
	return strings.Contains(model, "vision") || strings.HasPrefix(model, "openai/gpt-4o") || strings.HasPrefix(model, "google/gemini")
}

func (p *OpenRouterProvider) MaxInputTokens(model string) int { return 128_000 }

// openrouterChoice/openrouterResponse/openrouterErrorBody model just enough
// of the wire response to detect the "HTTP 200 with an error body" failure
// mode spec §4.b calls out, plus the fields openAIToChatResponse needs.
type openrouterResponse struct {
	Model   string                            `json:"model"`
	Choices []openai.ChatCompletionChoice     `json:"choices"`
	Usage   openai.Usage                      `json:"usage"`
	Error   *openrouterErrorBody              `json:"error,omitempty"`
}

type openrouterErrorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (p *OpenRouterProvider) ChatCompletion(ctx context.Context, cfg Config, req ChatRequest) (*ChatResponse, error) {
	if cfg.APIKey == "" {
		return nil, agenterr.New(agenterr.MissingCredential, "openrouter", "OPENROUTER_API_KEY is required")
	}

	body, err := buildOpenAIRequest(req)
	if err != nil {
		return nil, New(agenterr.ParseError, "openrouter", req.Model, err)
	}

	payload, err := marshalOpenRouterBody(body, p.providerOrder)
	if err != nil {
		return nil, New(agenterr.ParseError, "openrouter", req.Model, err)
	}

	var parsed openrouterResponse
	callErr := p.retry.Do(ctx, func(err error) bool {
		return ClassifyError(err).IsRetryable()
	}, func(ctx context.Context) error {
		var apiErr error
		parsed, apiErr = p.doRequest(ctx, cfg, payload)
		return apiErr
	})
	if callErr != nil {
		if ctx.Err() != nil {
			return nil, New(agenterr.Cancelled, "openrouter", req.Model, ctx.Err())
		}
		return nil, New(agenterr.APIError, "openrouter", req.Model, callErr)
	}
	if parsed.Error != nil {
		return nil, New(agenterr.APIError, "openrouter", req.Model, nil).
			WithStatus(parsed.Error.Code).
			WithMessage(parsed.Error.Message)
	}

	out := openAIToChatResponse(openai.ChatCompletionResponse{
		Model:   parsed.Model,
		Choices: parsed.Choices,
		Usage:   parsed.Usage,
	})
	return out, nil
}

func marshalOpenRouterBody(req openai.ChatCompletionRequest, providerOrder []string) ([]byte, error) {
	base, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	m["usage"] = map[string]bool{"include": true}
	if len(providerOrder) > 0 {
		m["provider"] = map[string]any{"order": providerOrder}
	}
	return json.Marshal(m)
}

func (p *OpenRouterProvider) doRequest(ctx context.Context, cfg Config, payload []byte) (openrouterResponse, error) {
	url := openrouterBaseURL
	if cfg.BaseURL != "" {
		url = cfg.BaseURL
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return openrouterResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return openrouterResponse{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return openrouterResponse{}, err
	}
	var parsed openrouterResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return openrouterResponse{}, err
	}
	// A non-2xx status with no structured error body still needs to surface
	// as a failure (spec §4.b: HTTP status is authoritative when present).
	if resp.StatusCode >= 300 && parsed.Error == nil {
		parsed.Error = &openrouterErrorBody{Message: string(raw), Code: resp.StatusCode}
	}
	return parsed, nil
}

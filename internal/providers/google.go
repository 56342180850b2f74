package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/nexuscli/agent/internal/agenterr"
	"github.com/nexuscli/agent/pkg/models"
)

var googleContextWindows = map[string]int{
	"gemini-1.5-pro":   2_000_000,
	"gemini-1.5-flash": 1_000_000,
	"gemini-2.0-flash": 1_000_000,
}

// GoogleProvider implements Provider against the genai SDK's Vertex AI
// backend. Vertex's function-calling wire shape has no client-supplied
// tool-call id: a functionCall part carries only name+args, and the
// matching functionResponse part must echo back whatever id the caller
// chooses. This adapter synthesizes a deterministic id — "vtx_" followed
// by the first 16 hex digits of sha256(name + canonical_json(args)) — so
// the same call always gets
// the same id within a turn, which is what invariant T1 (tool id
// uniqueness) and M1 (tool_call_id pairing) actually need; nothing here
// depends on the id being globally unique across turns.
type GoogleProvider struct {
	retry Retrier
}

func NewGoogleProvider(maxRetries int, retryDelay time.Duration) *GoogleProvider {
	return &GoogleProvider{retry: NewRetrier(maxRetries, retryDelay)}
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) SupportsModel(model string) bool {
	if _, ok := googleContextWindows[model]; ok {
		return true
	}
	return strings.HasPrefix(model, "gemini-")
}

func (p *GoogleProvider) SupportsCaching(model string) bool { return false }

func (p *GoogleProvider) SupportsVision(model string) bool { return true }

func (p *GoogleProvider) MaxInputTokens(model string) int {
	if n, ok := googleContextWindows[model]; ok {
		return n
	}
	return 1_000_000
}

func (p *GoogleProvider) client(ctx context.Context, cfg Config) (*genai.Client, error) {
	if cfg.VertexProject == "" {
		return nil, agenterr.New(agenterr.MissingCredential, "google", "Vertex project id is required")
	}
	return genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.VertexProject,
		Location: cfg.VertexRegion,
		Backend:  genai.BackendVertexAI,
	})
}

// synthesizeToolCallID implements the deterministic id scheme described
// above. args is re-marshaled through a sorted map so key order in the
// original JSON never changes the hash.
func synthesizeToolCallID(name string, args map[string]any) string {
	canonical, _ := json.Marshal(sortedArgs(args))
	sum := sha256.Sum256(append([]byte(name), canonical...))
	return "vtx_" + hex.EncodeToString(sum[:])[:16]
}

func sortedArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(args))
	for _, k := range keys {
		out[k] = args[k]
	}
	return out
}

func (p *GoogleProvider) ChatCompletion(ctx context.Context, cfg Config, req ChatRequest) (*ChatResponse, error) {
	client, err := p.client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	contents, idByName, err := toGoogleContents(req.Messages)
	if err != nil {
		return nil, New(agenterr.ParseError, "google", req.Model, err)
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens:   int32(req.MaxTokens),
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
	}
	if len(req.Tools) > 0 {
		decls, err := toGoogleFunctionDeclarations(req.Tools)
		if err != nil {
			return nil, New(agenterr.ParseError, "google", req.Model, err)
		}
		genConfig.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	var resp *genai.GenerateContentResponse
	callErr := p.retry.Do(ctx, func(err error) bool {
		return ClassifyError(err).IsRetryable()
	}, func(ctx context.Context) error {
		var apiErr error
		resp, apiErr = client.Models.GenerateContent(ctx, req.Model, contents, genConfig)
		return apiErr
	})
	if callErr != nil {
		if ctx.Err() != nil {
			return nil, New(agenterr.Cancelled, "google", req.Model, ctx.Err())
		}
		return nil, New(agenterr.APIError, "google", req.Model, callErr)
	}

	return googleToChatResponse(resp, idByName), nil
}

// toGoogleContents converts the canonical message list, threading synthetic
// tool-call ids both onto functionCall parts and tracking them so the
// matching functionResponse part (which only ever carries ToolCallID from
// the caller's own earlier-synthesized id, round-tripped through
// models.ToolCall.ID) can be matched back to a function name.
func toGoogleContents(msgs []models.Message) ([]*genai.Content, map[string]string, error) {
	idByName := make(map[string]string)
	var contents []*genai.Content
	for _, m := range msgs {
		switch m.Role {
		case models.RoleTool:
			name := idByName[m.ToolCallID]
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromFunctionResponse(name, map[string]any{"result": m.Content}),
			}, genai.RoleUser))
		case models.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Arguments, &args)
				idByName[tc.ID] = tc.Name
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, args))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, idByName, nil
}

func toGoogleFunctionDeclarations(tools []ToolSpec) ([]*genai.FunctionDeclaration, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema genai.Schema
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, err
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  &schema,
		})
	}
	return decls, nil
}

func googleToChatResponse(resp *genai.GenerateContentResponse, idByName map[string]string) *ChatResponse {
	out := &ChatResponse{}
	if resp == nil || len(resp.Candidates) == 0 {
		out.FinishReason = FinishUnknown
		return out
	}
	cand := resp.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				out.Content += part.Text
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				id := synthesizeToolCallID(part.FunctionCall.Name, part.FunctionCall.Args)
				out.ToolCalls = append(out.ToolCalls, models.ToolCall{
					ID: id, Name: part.FunctionCall.Name, Arguments: args,
				})
			}
		}
	}
	switch cand.FinishReason {
	case genai.FinishReasonStop:
		if len(out.ToolCalls) > 0 {
			out.FinishReason = FinishToolUse
		} else {
			out.FinishReason = FinishStop
		}
	case genai.FinishReasonMaxTokens:
		out.FinishReason = FinishLength
	case genai.FinishReasonSafety:
		out.FinishReason = FinishFiltered
	default:
		out.FinishReason = FinishUnknown
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out
}

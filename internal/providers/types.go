// Package providers implements the provider abstraction of spec §4.b: a
// single ChatCompletion contract over six heterogeneous wire shapes
// (Anthropic, OpenAI, OpenRouter, Cloudflare Workers AI, Amazon Bedrock,
// Google Vertex), selected at runtime by a "provider:model" tag.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexuscli/agent/pkg/models"
)

// Config carries the credentials and endpoint overrides a Provider needs.
// Fields not relevant to a given provider are left zero.
type Config struct {
	APIKey        string
	BaseURL       string
	AWSRegion     string
	VertexProject string
	VertexRegion  string
}

// ToolSpec is the provider-agnostic shape of one callable tool, converted
// from models.McpFunction at the call boundary.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []byte // raw JSON schema
}

// ChatRequest is the provider-agnostic request assembled by the caller
// (ToolLoop/LayeredOrchestrator) per spec §4.b's request-assembly rules:
// the system message is carried out-of-band, tools are sorted by name
// before being handed to the provider, and CacheBreakpoints names the
// message indices that should carry a cache_control marker.
type ChatRequest struct {
	Model           string
	System          string
	Messages        []models.Message
	Tools           []ToolSpec
	MaxTokens       int
	Temperature     float64
	CacheSystem     bool
	CacheTools      bool
	CacheBreakpoints []int
}

// FinishReason normalizes each provider's stop-reason vocabulary.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolUse   FinishReason = "tool_use"
	FinishLength    FinishReason = "length"
	FinishFiltered  FinishReason = "content_filter"
	FinishUnknown   FinishReason = "unknown"
)

// Usage reports token accounting in the provider's own units; CacheWrite
// tokens further split by TTL where the wire shape distinguishes it.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheWriteTokens int
	CacheWriteLong   bool // true when the 1h-TTL rate applies (spec §9 open question)
	CacheReadTokens  int
}

// ChatResponse is the provider-agnostic reply.
type ChatResponse struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason FinishReason
	Usage        Usage
	RawModel     string // the model id the provider actually billed, if reported
}

// Provider is the contract every wire-shape adapter implements.
type Provider interface {
	Name() string
	SupportsModel(model string) bool
	SupportsCaching(model string) bool
	SupportsVision(model string) bool
	MaxInputTokens(model string) int
	ChatCompletion(ctx context.Context, cfg Config, req ChatRequest) (*ChatResponse, error)
}

// ErrInvalidModelFormat is returned by ParseModel when s has no ":" tag.
var ErrInvalidModelFormat = fmt.Errorf("providers: model must be in \"provider:model\" form")

// ParseModel splits s on its first ':' into (providerTag, modelName).
// Both halves must be non-empty.
func ParseModel(s string) (tag, model string, err error) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return "", "", ErrInvalidModelFormat
	}
	return s[:idx], s[idx+1:], nil
}

// Registry resolves a "provider:model" tag to a concrete Provider.
type Registry struct {
	byTag map[string]Provider
}

// NewRegistry builds a Registry with the six canonical provider tags wired
// to the given adapters. Nil adapters are simply omitted from the map —
// callers construct only the providers they have credentials for.
func NewRegistry(openrouter, openai, anthropicP, google, amazon, cloudflare Provider) *Registry {
	r := &Registry{byTag: make(map[string]Provider, 6)}
	add := func(tag string, p Provider) {
		if p != nil {
			r.byTag[tag] = p
		}
	}
	add("openrouter", openrouter)
	add("openai", openai)
	add("anthropic", anthropicP)
	add("google", google)
	add("amazon", amazon)
	add("cloudflare", cloudflare)
	return r
}

// ErrUnknownProviderTag is returned by ProviderFor for an unrecognized tag.
type ErrUnknownProviderTag struct{ Tag string }

func (e *ErrUnknownProviderTag) Error() string {
	return fmt.Sprintf("providers: unknown provider tag %q", e.Tag)
}

// ErrUnsupportedModel is returned by ProviderFor when the tag resolves but
// the provider does not recognize the model half.
type ErrUnsupportedModel struct {
	Tag   string
	Model string
}

func (e *ErrUnsupportedModel) Error() string {
	return fmt.Sprintf("providers: %s does not support model %q", e.Tag, e.Model)
}

// ProviderFor parses s and resolves it to a registered Provider, verifying
// SupportsModel before returning.
func (r *Registry) ProviderFor(s string) (Provider, string, error) {
	tag, model, err := ParseModel(s)
	if err != nil {
		return nil, "", err
	}
	p, ok := r.byTag[tag]
	if !ok {
		return nil, "", &ErrUnknownProviderTag{Tag: tag}
	}
	if !p.SupportsModel(model) {
		return nil, "", &ErrUnsupportedModel{Tag: tag, Model: model}
	}
	return p, model, nil
}

// Tags returns the provider tags currently registered, for diagnostics
// commands like /model.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	return tags
}

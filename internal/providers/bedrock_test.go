package providers

import (
	"encoding/json"
	"testing"

	"github.com/nexuscli/agent/pkg/models"
)

func TestToBedrockAnthropicMessageToolResult(t *testing.T) {
	msg := toBedrockAnthropicMessage(models.Message{
		Role:       models.RoleTool,
		Content:    "result text",
		ToolCallID: "call_1",
	})
	if msg.Role != "user" {
		t.Fatalf("role = %q, want user", msg.Role)
	}
	blocks, ok := msg.Content.([]map[string]any)
	if !ok || len(blocks) != 1 || blocks[0]["type"] != "tool_result" {
		t.Fatalf("unexpected content: %+v", msg.Content)
	}
}

func TestToBedrockAnthropicMessageAssistantToolUse(t *testing.T) {
	msg := toBedrockAnthropicMessage(models.Message{
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "shell", Arguments: json.RawMessage(`{"cmd":"ls"}`)},
		},
	})
	blocks := msg.Content.([]map[string]any)
	if len(blocks) != 1 || blocks[0]["type"] != "tool_use" || blocks[0]["name"] != "shell" {
		t.Fatalf("unexpected content: %+v", blocks)
	}
}

func TestBedrockToChatResponseStopReasons(t *testing.T) {
	resp := bedrockAnthropicResponse{StopReason: "tool_use"}
	if got := bedrockToChatResponse(resp).FinishReason; got != FinishToolUse {
		t.Errorf("FinishReason = %q, want tool_use", got)
	}
}

func TestBedrockProviderRecognizesNonAnthropicModels(t *testing.T) {
	p := NewBedrockProvider(1, 0)
	if !p.SupportsModel("amazon.titan-text-express-v1") {
		t.Error("expected titan models to be recognized as supported")
	}
	if p.MaxInputTokens("meta.llama3-70b") != 8_000 {
		t.Errorf("MaxInputTokens = %d, want 8000 for llama3", p.MaxInputTokens("meta.llama3-70b"))
	}
}

package models

// LayerStat captures per-layer accounting recorded by the LayeredOrchestrator.
type LayerStat struct {
	LayerName    string  `json:"layer_name"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	APITimeMs    int64   `json:"api_time_ms"`
	ToolTimeMs   int64   `json:"tool_time_ms"`
	TotalTimeMs  int64   `json:"total_time_ms"`
}

// SessionInfo is the persisted, lifetime-accounting summary of a session
// (spec §3, invariant I1).
type SessionInfo struct {
	Name             string      `json:"name"`
	CreatedAt        int64       `json:"created_at"`
	Model            string      `json:"model"`
	Provider         string      `json:"provider"`
	InputTokens      int64       `json:"input_tokens"`
	OutputTokens     int64       `json:"output_tokens"`
	CachedTokens     int64       `json:"cached_tokens"`
	TotalCost        float64     `json:"total_cost"`
	DurationSeconds  int64       `json:"duration_seconds"`
	ToolCalls        int64       `json:"tool_calls"`
	LayerStats       []LayerStat `json:"layer_stats,omitempty"`
	TotalAPITimeMs   int64       `json:"total_api_time_ms"`
	TotalToolTimeMs  int64       `json:"total_tool_time_ms"`
	TotalLayerTimeMs int64       `json:"total_layer_time_ms"`
}

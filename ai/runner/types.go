package runner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hrygo/ccrelay/ai/internal/strutil"
)

// Input summary limits.
const (
	maxCommandSummary = 200
	maxFieldSummary   = 50
	maxSummaryFields  = 2
)

// StreamMessage represents a single record in the stream-json format.
// Unknown fields are ignored so newer CLI versions keep decoding.
type StreamMessage struct {
	Type         string       `json:"type"`
	Subtype      string       `json:"subtype,omitempty"`
	SessionID    string       `json:"session_id,omitempty"`
	Message      *MessageBody `json:"message,omitempty"`
	ToolName     string       `json:"tool_name,omitempty"` // legacy "system" tool notifications
	NumTurns     int          `json:"num_turns,omitempty"` // For "result" message
	IsError      bool         `json:"is_error,omitempty"`  // For "result" message
	Result       string       `json:"result,omitempty"`    // For "result" message
	TotalCostUSD float64      `json:"total_cost_usd,omitempty"`
	DurationMs   int64        `json:"duration_ms,omitempty"`
	Usage        *UsageStats  `json:"usage,omitempty"`
}

// UsageStats represents token usage from result messages.
type UsageStats struct {
	InputTokens           int32 `json:"input_tokens"`
	OutputTokens          int32 `json:"output_tokens"`
	CacheWriteInputTokens int32 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens  int32 `json:"cache_read_input_tokens,omitempty"`
}

// MessageBody is the nested message of assistant and user records.
// Content is either a plain string or an array of typed blocks.
type MessageBody struct {
	ID      string          `json:"id,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Blocks decodes the message content. A plain string content is returned as
// the second value; blocks that fail to decode yield neither.
func (m *MessageBody) Blocks() ([]ContentBlock, string) {
	if m == nil || len(m.Content) == 0 {
		return nil, ""
	}
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return nil, text
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, ""
	}
	return blocks, ""
}

// ContentBlock represents a content block in stream-json format.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Name      string          `json:"name,omitempty"`
	ID        string          `json:"id,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ContentText flattens a tool_result content, which is either a string or a
// list of text blocks.
func (b ContentBlock) ContentText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(b.Content, &text); err == nil {
		return text
	}
	var parts []ContentBlock
	if err := json.Unmarshal(b.Content, &parts); err != nil {
		return string(b.Content)
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// SummarizeInput creates a short human-readable summary of tool input.
// Commands and paths are shown as-is (bounded); anything else is reduced to
// its first two key/value pairs in key order, each value capped at 50 runes.
func SummarizeInput(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}
	if command, ok := input["command"].(string); ok && command != "" {
		return strutil.Cap(command, maxCommandSummary)
	}
	for _, key := range []string{"file_path", "notebook_path", "path"} {
		if path, ok := input[key].(string); ok && path != "" {
			return "file: " + path
		}
	}
	for _, key := range []string{"pattern", "url", "query"} {
		if v, ok := input[key].(string); ok && v != "" {
			return strutil.Cap(v, maxFieldSummary)
		}
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > maxSummaryFields {
		keys = keys[:maxSummaryFields]
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strutil.Cap(stringify(input[k]), maxFieldSummary))
	}
	return strings.Join(parts, ", ")
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}

package runner

import (
	"slices"
	"sync"
	"time"
)

// SessionStats collects per-session counters for logging and the status API.
// SessionStats 收集会话级别统计数据。
type SessionStats struct {
	mu              sync.Mutex
	SessionID       string
	StartTime       time.Time
	Turns           int
	CostUSD         float64
	InputTokens     int32
	OutputTokens    int32
	ToolCallCount   int32
	ToolsUsed       map[string]bool
	Deliveries      int32
	Edits           int32
	DeliveryErrors  int32
	Unparseable     int32
	DiagnosticLines int32
}

// StatsSnapshot is an immutable copy of SessionStats.
type StatsSnapshot struct {
	SessionID       string   `json:"session_id"`
	DurationMs      int64    `json:"duration_ms"`
	Turns           int      `json:"turns"`
	CostUSD         float64  `json:"cost_usd"`
	InputTokens     int32    `json:"input_tokens"`
	OutputTokens    int32    `json:"output_tokens"`
	ToolCallCount   int32    `json:"tool_call_count"`
	ToolsUsed       []string `json:"tools_used"`
	Deliveries      int32    `json:"deliveries"`
	Edits           int32    `json:"edits"`
	DeliveryErrors  int32    `json:"delivery_errors"`
	Unparseable     int32    `json:"unparseable"`
	DiagnosticLines int32    `json:"diagnostic_lines"`
}

// RecordToolUse records a tool invocation.
func (s *SessionStats) RecordToolUse(toolName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ToolCallCount++
	// Ensure ToolsUsed map is initialized
	if s.ToolsUsed == nil {
		s.ToolsUsed = make(map[string]bool)
	}
	if toolName != "" {
		s.ToolsUsed[toolName] = true
	}
}

// RecordResult records the summary carried by the final result record.
func (s *SessionStats) RecordResult(turns int, costUSD float64, usage *UsageStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = turns
	s.CostUSD = costUSD
	if usage != nil {
		s.InputTokens += usage.InputTokens
		s.OutputTokens += usage.OutputTokens
	}
}

// RecordDelivery counts one outbound send or edit.
func (s *SessionStats) RecordDelivery(kind DeliveryKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		s.DeliveryErrors++
	case kind == DeliveryEdit:
		s.Edits++
	default:
		s.Deliveries++
	}
}

func (s *SessionStats) recordUnparseable() {
	s.mu.Lock()
	s.Unparseable++
	s.mu.Unlock()
}

func (s *SessionStats) recordDiagnostic() {
	s.mu.Lock()
	s.DiagnosticLines++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *SessionStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tools := make([]string, 0, len(s.ToolsUsed))
	for tool := range s.ToolsUsed {
		tools = append(tools, tool)
	}
	slices.Sort(tools)

	return StatsSnapshot{
		SessionID:       s.SessionID,
		DurationMs:      time.Since(s.StartTime).Milliseconds(),
		Turns:           s.Turns,
		CostUSD:         s.CostUSD,
		InputTokens:     s.InputTokens,
		OutputTokens:    s.OutputTokens,
		ToolCallCount:   s.ToolCallCount,
		ToolsUsed:       tools,
		Deliveries:      s.Deliveries,
		Edits:           s.Edits,
		DeliveryErrors:  s.DeliveryErrors,
		Unparseable:     s.Unparseable,
		DiagnosticLines: s.DiagnosticLines,
	}
}

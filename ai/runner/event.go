package runner

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EventKind tags the variant held by an Event.
type EventKind int

const (
	EventAssistantText EventKind = iota
	EventToolUse
	EventToolResult
	EventThinking
	EventUserEcho
	EventUsageLimit
	EventTurnCompleted
	EventUnparseable
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventAssistantText:
		return "assistant_text"
	case EventToolUse:
		return "tool_use"
	case EventToolResult:
		return "tool_result"
	case EventThinking:
		return "thinking"
	case EventUserEcho:
		return "user_echo"
	case EventUsageLimit:
		return "usage_limit"
	case EventTurnCompleted:
		return "turn_completed"
	case EventUnparseable:
		return "unparseable"
	default:
		return "unknown"
	}
}

// Event is one decoded unit of child output. Events are values and are never
// mutated after construction.
type Event struct {
	Kind EventKind

	// Text carries the assistant text, thinking text, echoed user text or,
	// for EventUnparseable, the raw line.
	Text string

	// Tool fields (EventToolUse, EventToolResult).
	ToolName     string
	ToolID       string
	InputSummary string
	Input        map[string]any
	OK           bool
	Content      string

	// ResetAt is the usage-limit reset time (EventUsageLimit).
	ResetAt time.Time

	// Result fields (EventTurnCompleted).
	Turns   int
	IsError bool
	CostUSD float64
	Usage   *UsageStats
}

// usageLimitPattern matches the CLI's usage-limit notice, which embeds the
// reset time as a unix epoch after a pipe.
var usageLimitPattern = regexp.MustCompile(`Claude AI usage limit reached\|(\d{9,})`)

// parseUsageLimit extracts the reset time from a usage-limit notice.
func parseUsageLimit(text string) (time.Time, bool) {
	m := usageLimitPattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	epoch, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	// Millisecond epochs are accepted too.
	if epoch > 1e12 {
		return time.UnixMilli(epoch), true
	}
	return time.Unix(epoch, 0), true
}

// ParseLine decodes one newline-delimited record into events.
//
// A line that is not valid JSON yields a single EventUnparseable carrying the
// raw line. Unknown record types and unknown block types are skipped, so the
// result may be empty.
func ParseLine(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var msg StreamMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return []Event{{Kind: EventUnparseable, Text: line}}
	}

	switch msg.Type {
	case "assistant":
		return parseAssistant(msg)
	case "user":
		return parseUser(msg)
	case "system":
		return parseSystem(msg)
	case "result":
		if resetAt, ok := parseUsageLimit(msg.Result); ok {
			return []Event{{Kind: EventUsageLimit, ResetAt: resetAt}}
		}
		return []Event{{
			Kind:    EventTurnCompleted,
			Turns:   msg.NumTurns,
			IsError: msg.IsError,
			CostUSD: msg.TotalCostUSD,
			Usage:   msg.Usage,
			Text:    msg.Result,
		}}
	default:
		return nil
	}
}

func parseAssistant(msg StreamMessage) []Event {
	blocks, text := msg.Message.Blocks()
	if text != "" {
		blocks = []ContentBlock{{Type: "text", Text: text}}
	}

	var events []Event
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text == "" {
				continue
			}
			if resetAt, ok := parseUsageLimit(block.Text); ok {
				events = append(events, Event{Kind: EventUsageLimit, ResetAt: resetAt})
				continue
			}
			events = append(events, Event{Kind: EventAssistantText, Text: block.Text})
		case "tool_use":
			events = append(events, Event{
				Kind:         EventToolUse,
				ToolName:     block.Name,
				ToolID:       block.ID,
				InputSummary: SummarizeInput(block.Input),
				Input:        block.Input,
			})
		case "thinking":
			thinking := block.Thinking
			if thinking == "" {
				thinking = block.Text
			}
			events = append(events, Event{Kind: EventThinking, Text: thinking})
		}
	}
	return events
}

func parseUser(msg StreamMessage) []Event {
	blocks, text := msg.Message.Blocks()
	if text != "" {
		return []Event{{Kind: EventUserEcho, Text: text}}
	}

	var events []Event
	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				events = append(events, Event{Kind: EventUserEcho, Text: block.Text})
			}
		case "tool_result":
			events = append(events, Event{
				Kind:    EventToolResult,
				ToolID:  block.ToolUseID,
				OK:      !block.IsError,
				Content: block.ContentText(),
			})
		}
	}
	return events
}

// parseSystem maps the legacy progress notifications. "init" and other
// control records are consumed silently.
func parseSystem(msg StreamMessage) []Event {
	switch msg.Subtype {
	case "thinking":
		return []Event{{Kind: EventThinking}}
	case "tool_use":
		return []Event{{Kind: EventToolUse, ToolName: orUnknown(msg.ToolName)}}
	case "tool_result", "tool_error":
		return []Event{{
			Kind:     EventToolResult,
			ToolName: orUnknown(msg.ToolName),
			OK:       msg.Subtype == "tool_result",
		}}
	default:
		return nil
	}
}

func orUnknown(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

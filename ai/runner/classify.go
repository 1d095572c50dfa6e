package runner

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hrygo/ccrelay/ai/internal/strutil"
)

const (
	toolResultMaxLen = 1000
	thinkingMaxLen   = 1800
)

// ToolResultKind is a best-effort classification of tool output.
type ToolResultKind int

const (
	ToolResultPlain ToolResultKind = iota
	// ToolResultFileRead is file content echoed back; it is not relayed.
	ToolResultFileRead
	ToolResultTodo
	ToolResultCommand
)

// lineNumbered matches `cat -n` style rows as produced by the Read tool.
var lineNumbered = regexp.MustCompile(`^\s*\d+(→|\t)`)

var commandTools = map[string]bool{
	"Bash": true,
	"Grep": true,
	"Glob": true,
	"LS":   true,
}

// ClassifyToolResult guesses what kind of output a tool produced.
func ClassifyToolResult(toolName, content string) ToolResultKind {
	switch {
	case toolName == "Read" || looksLikeFileContent(content):
		return ToolResultFileRead
	case toolName == "TodoWrite" || toolName == "TodoRead" ||
		strings.Contains(content, "Todos have been modified"):
		return ToolResultTodo
	case commandTools[toolName] || looksStructured(content):
		return ToolResultCommand
	default:
		return ToolResultPlain
	}
}

func looksLikeFileContent(content string) bool {
	rows, numbered := 0, 0
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows++
		if lineNumbered.MatchString(line) {
			numbered++
		}
		if rows == 5 {
			break
		}
	}
	return rows >= 2 && numbered*2 > rows
}

func looksStructured(content string) bool {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return true
	}
	return strings.Count(trimmed, "\n") >= 2
}

// FormatToolUse renders the notice for a tool invocation. A todo-list
// update is rendered as a checklist.
func FormatToolUse(ev Event) string {
	if ev.ToolName == "TodoWrite" {
		if list := formatTodos(ev.Input); list != "" {
			return "📋 Todo list:\n" + list
		}
	}
	if ev.InputSummary == "" {
		return fmt.Sprintf("🔧 %s", ev.ToolName)
	}
	return fmt.Sprintf("🔧 %s: %s", ev.ToolName, ev.InputSummary)
}

// FormatToolResult renders the notice for a tool result. The second return
// value is false when the result should not be relayed.
func FormatToolResult(toolName string, ev Event) (string, bool) {
	name := toolName
	if name == "" {
		name = "tool"
	}
	status := "✅"
	if !ev.OK {
		status = "❌"
	}

	content := strings.TrimSpace(ev.Content)
	switch ClassifyToolResult(toolName, content) {
	case ToolResultFileRead:
		return "", false
	case ToolResultTodo:
		// The checklist was already shown with the tool invocation.
		return "", false
	case ToolResultCommand:
		if content == "" {
			break
		}
		body := strutil.Cap(content, toolResultMaxLen-len("```\n\n```"))
		return fmt.Sprintf("%s %s result:\n```\n%s\n```", status, name, body), true
	}

	if content == "" {
		if ev.OK {
			return fmt.Sprintf("%s %s completed", status, name), true
		}
		return fmt.Sprintf("%s %s failed", status, name), true
	}
	return fmt.Sprintf("%s %s result:\n%s", status, name, strutil.Cap(content, toolResultMaxLen)), true
}

func formatTodos(input map[string]any) string {
	items, ok := input["todos"].([]any)
	if !ok || len(items) == 0 {
		return ""
	}
	lines := make([]string, 0, len(items))
	for _, item := range items {
		todo, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := todo["content"].(string)
		status, _ := todo["status"].(string)
		mark := "☐"
		switch status {
		case "completed":
			mark = "☑"
		case "in_progress":
			mark = "◐"
		}
		lines = append(lines, mark+" "+strutil.Cap(content, maxFieldSummary*2))
	}
	return strutil.Cap(strings.Join(lines, "\n"), toolResultMaxLen)
}

// FormatThinking renders a thinking notice.
func FormatThinking(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "🤔 Thinking..."
	}
	return "🤔 Thinking:\n" + strutil.Cap(text, thinkingMaxLen)
}

// FormatUsageLimit renders the usage-limit notice in the server's local zone.
func FormatUsageLimit(resetAt time.Time) string {
	return fmt.Sprintf("⏳ Claude usage limit reached. Resets at %s.", resetAt.Local().Format("2006-01-02 15:04 MST"))
}

// FormatCompleted renders the completion notice.
func FormatCompleted(turns int) string {
	if turns == 1 {
		return "✨ Conversation completed (1 turn)"
	}
	return fmt.Sprintf("✨ Conversation completed (%d turns)", turns)
}

package server

import (
	"strings"

	"github.com/hrygo/ccrelay/ai/runner"
)

// CommandKind identifies a bot command.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandClaude
	CommandClaudeNew
	CommandClaudeResume
	CommandCancel
	CommandHelp
)

// Command is a parsed bot command.
type Command struct {
	Kind     CommandKind
	Prompt   string
	ResumeID string
}

var commandNames = map[string]CommandKind{
	"claude":        CommandClaude,
	"claude_new":    CommandClaudeNew,
	"claude_resume": CommandClaudeResume,
	"cancel":        CommandCancel,
	"help_claude":   CommandHelp,
}

const helpText = `Claude Bot Commands:
• /claude <prompt> - Ask Claude (continues previous conversation)
• /claude_new <prompt> - Start a fresh conversation
• /claude_resume <session_id> <prompt> - Resume a specific conversation
• /cancel - Stop the running session
• /help_claude - Show this help message

Examples:
• /claude What is Go?
• /claude Can you elaborate on that? (continues from previous)
• /claude_new Tell me about JavaScript (fresh start)
• /claude_resume abc123 What did we discuss earlier?`

// ParseCommand parses text of the form "/name[@bot] args". ok is false for
// anything that is not one of the relay's commands.
func ParseCommand(text string) (cmd Command, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}

	name, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(name, "\n\t"); i >= 0 {
		rest = name[i:] + " " + rest
		name = name[:i]
	}
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	kind, known := commandNames[strings.ToLower(name)]
	if !known {
		return Command{}, false
	}

	cmd = Command{Kind: kind}
	rest = strings.TrimSpace(rest)
	switch kind {
	case CommandClaude, CommandClaudeNew:
		cmd.Prompt = rest
	case CommandClaudeResume:
		id, prompt, _ := strings.Cut(rest, " ")
		cmd.ResumeID = strings.TrimSpace(id)
		cmd.Prompt = strings.TrimSpace(prompt)
	}
	return cmd, true
}

// Mode maps a start command to the conversation mode it requests.
func (c Command) Mode() runner.ConversationMode {
	switch c.Kind {
	case CommandClaudeNew:
		return runner.ModeFresh
	case CommandClaudeResume:
		return runner.ModeResume
	default:
		return runner.ModeContinue
	}
}

// IsStart reports whether the command starts a session.
func (c Command) IsStart() bool {
	return c.Kind == CommandClaude || c.Kind == CommandClaudeNew || c.Kind == CommandClaudeResume
}

// Preamble is posted before a session starts.
func (c Command) Preamble() string {
	switch c.Kind {
	case CommandClaudeNew:
		return "🆕 Starting new conversation..."
	case CommandClaudeResume:
		id := c.ResumeID
		if len(id) > 8 {
			id = id[:8]
		}
		return "🔄 Resuming session " + id + "..."
	default:
		return "🤔 Thinking..."
	}
}

// usage returns the reply for a start command missing its arguments.
func (c Command) usage() string {
	switch c.Kind {
	case CommandClaudeNew:
		return "Usage: /claude_new <prompt>"
	case CommandClaudeResume:
		return "Usage: /claude_resume <session_id> <prompt>"
	default:
		return "Usage: /claude <prompt>"
	}
}

func (c Command) valid() bool {
	if c.Kind == CommandClaudeResume && c.ResumeID == "" {
		return false
	}
	return c.Prompt != ""
}

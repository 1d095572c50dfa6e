package runner

import "strings"

// ConversationMode selects which CLI conversation a request continues.
type ConversationMode int

const (
	// ModeContinue continues the most recent conversation.
	ModeContinue ConversationMode = iota
	// ModeFresh starts a new conversation.
	ModeFresh
	// ModeResume resumes the conversation named by Request.ResumeID.
	ModeResume
)

func (m ConversationMode) String() string {
	switch m {
	case ModeContinue:
		return "continue"
	case ModeFresh:
		return "fresh"
	case ModeResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Request describes one CLI invocation.
type Request struct {
	Prompt       string
	SystemPrompt string
	AllowedTools []string
	Mode         ConversationMode
	ResumeID     string
	// WorkDir overrides the supervisor's working directory when set.
	WorkDir string
	// Stdin is written to the child before its input is closed.
	Stdin string
}

// Args builds the CLI argument list.
// Args 构建 CLI 参数列表。
func (r Request) Args() []string {
	args := []string{"--output-format", "stream-json", "--verbose", "--print", r.Prompt}
	if r.SystemPrompt != "" {
		args = append(args, "--system-prompt", r.SystemPrompt)
	}
	if len(r.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(r.AllowedTools, ","))
	}
	switch r.Mode {
	case ModeContinue:
		args = append(args, "--continue")
	case ModeResume:
		if r.ResumeID != "" {
			args = append(args, "--resume", r.ResumeID)
		}
	}
	return args
}

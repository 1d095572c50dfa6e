package profile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the relay.
type Profile struct {
	Mode    string
	Version string

	// Chat transport
	Channel        string // telegram or console
	TelegramToken  string
	AllowedChatIDs []int64 // empty allows every chat

	// Claude CLI invocation
	ClaudePath   string
	WorkDir      string
	SystemPrompt string
	AllowedTools []string

	// Delivery and supervision
	MaxMessageLength  int
	FlushInterval     time.Duration
	FlushChars        int
	InactivityTimeout time.Duration
	PollInterval      time.Duration
	ReadTimeout       time.Duration
	GracePeriod       time.Duration

	// Ops HTTP server; empty disables it.
	MetricsAddr string
	LogLevel    string
}

// TelegramMaxMessageLength is the longest text message Telegram accepts.
const TelegramMaxMessageLength = 4096

// DefaultSystemPrompt is passed to claude unless overridden.
const DefaultSystemPrompt = "You are a helpful chat bot assistant. Keep responses concise and chat-friendly."

// DefaultAllowedTools is the tool allow-list passed to claude unless overridden.
var DefaultAllowedTools = []string{
	"Read", "Write", "Edit", "MultiEdit", "LS",
	"NotebookRead", "NotebookEdit", "Glob", "Grep", "Task", "Bash",
	"WebFetch", "WebSearch", "TodoRead", "TodoWrite", "exit_plan_mode",
}

// Default returns a profile with the stock delivery and supervision settings.
func Default() *Profile {
	return &Profile{
		Mode:              "dev",
		Channel:           "telegram",
		ClaudePath:        "claude",
		SystemPrompt:      DefaultSystemPrompt,
		AllowedTools:      append([]string(nil), DefaultAllowedTools...),
		MaxMessageLength:  2000,
		FlushInterval:     time.Second,
		FlushChars:        500,
		InactivityTimeout: 10 * time.Minute,
		PollInterval:      10 * time.Second,
		ReadTimeout:       5 * time.Second,
		GracePeriod:       10 * time.Second,
		MetricsAddr:       ":9477",
		LogLevel:          "info",
	}
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsChatAllowed reports whether chatID may start or cancel sessions.
func (p *Profile) IsChatAllowed(chatID int64) bool {
	if len(p.AllowedChatIDs) == 0 {
		return true
	}
	for _, id := range p.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv fills fields that have no flag from environment variables.
// Values already set are kept.
func (p *Profile) FromEnv() {
	if p.TelegramToken == "" {
		// The token name used by BotFather tutorials is accepted as well.
		p.TelegramToken = getEnvOrDefault("CCRELAY_TELEGRAM_TOKEN", os.Getenv("TELEGRAM_BOT_TOKEN"))
	}
	if len(p.AllowedChatIDs) == 0 {
		if raw := os.Getenv("CCRELAY_ALLOWED_CHAT_IDS"); raw != "" {
			p.AllowedChatIDs = parseChatIDs(raw)
		}
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = getEnvOrDefault("CCRELAY_SYSTEM_PROMPT", DefaultSystemPrompt)
	}
	if len(p.AllowedTools) == 0 {
		if raw := os.Getenv("CCRELAY_ALLOWED_TOOLS"); raw != "" {
			p.AllowedTools = splitList(raw)
		} else {
			p.AllowedTools = append([]string(nil), DefaultAllowedTools...)
		}
	}
}

func parseChatIDs(raw string) []int64 {
	var ids []int64
	for _, field := range splitList(raw) {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			slog.Warn("ignoring invalid chat id", "value", field)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func splitList(raw string) []string {
	var out []string
	for _, field := range strings.Split(raw, ",") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}

func checkWorkDir(workDir string) (string, error) {
	if workDir == "" {
		return os.Getwd()
	}
	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return "", errors.Wrapf(err, "unable to access working directory %s", absDir)
	}
	if !info.IsDir() {
		return "", errors.Errorf("working directory %s is not a directory", absDir)
	}
	return absDir, nil
}

// Validate normalises the profile and rejects unusable settings.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" && p.Mode != "demo" {
		p.Mode = "dev"
	}
	if p.Channel != "telegram" && p.Channel != "console" {
		return errors.Errorf("unknown channel %q, want telegram or console", p.Channel)
	}
	if p.Channel == "telegram" && p.TelegramToken == "" {
		return errors.New("telegram token is required (set --telegram-token or CCRELAY_TELEGRAM_TOKEN)")
	}
	if p.ClaudePath == "" {
		p.ClaudePath = "claude"
	}

	for name, v := range map[string]int{
		"max-message-length": p.MaxMessageLength,
		"flush-chars":        p.FlushChars,
	} {
		if v <= 0 {
			return errors.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if p.Channel == "telegram" && p.MaxMessageLength > TelegramMaxMessageLength {
		return errors.Errorf("max-message-length %d exceeds the telegram limit of %d", p.MaxMessageLength, TelegramMaxMessageLength)
	}
	for name, d := range map[string]time.Duration{
		"flush-interval":     p.FlushInterval,
		"inactivity-timeout": p.InactivityTimeout,
		"poll-interval":      p.PollInterval,
		"read-timeout":       p.ReadTimeout,
		"grace-period":       p.GracePeriod,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, d)
		}
	}

	workDir, err := checkWorkDir(p.WorkDir)
	if err != nil {
		slog.Error("failed to check working directory", slog.String("work_dir", p.WorkDir), slog.String("error", err.Error()))
		return err
	}
	p.WorkDir = workDir
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	aimetrics "github.com/hrygo/ccrelay/ai/metrics"
	"github.com/hrygo/ccrelay/ai/runner"
	"github.com/hrygo/ccrelay/internal/logging"
	"github.com/hrygo/ccrelay/internal/profile"
	"github.com/hrygo/ccrelay/internal/version"
	"github.com/hrygo/ccrelay/plugin/chat_apps"
	"github.com/hrygo/ccrelay/plugin/chat_apps/channels"
	"github.com/hrygo/ccrelay/plugin/chat_apps/channels/console"
	"github.com/hrygo/ccrelay/plugin/chat_apps/channels/telegram"
	"github.com/hrygo/ccrelay/plugin/chat_apps/metrics"
	"github.com/hrygo/ccrelay/server"
)

const shutdownTimeout = 30 * time.Second

var (
	rootCmd = &cobra.Command{
		Use:   "ccrelay",
		Short: `Relay Claude Code sessions to a Telegram chat, streaming output as it is produced.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Systemd units provide the environment themselves.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the ops HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	runCmd = &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one claude session and print its relayed output",
		Args:  cobra.MinimumNArgs(1),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("ccrelay " + version.StringFull())
		},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of the relay, "prod" or "dev"`)
	flags.String("channel", "telegram", `chat channel, "telegram" or "console"`)
	flags.String("telegram-token", "", "Telegram bot token")
	flags.IntSlice("allowed-chat-ids", nil, "chat IDs allowed to use the bot (empty allows all)")
	flags.String("claude-path", "claude", "path to the claude CLI")
	flags.String("work-dir", "", "working directory for claude (default: current directory)")
	flags.String("system-prompt", "", "system prompt passed to claude")
	flags.StringSlice("allowed-tools", nil, "tools claude may use")
	flags.Int("max-message-length", 2000, "maximum characters per chat message")
	flags.Duration("flush-interval", time.Second, "minimum time between streamed updates")
	flags.Int("flush-chars", 500, "unsent characters that force an update")
	flags.Duration("inactivity-timeout", 10*time.Minute, "stop claude after this long without output")
	flags.Duration("poll-interval", 10*time.Second, "how often the inactivity watchdog checks")
	flags.Duration("read-timeout", 5*time.Second, "bounded wait for each stdout/stderr read")
	flags.Duration("grace-period", 10*time.Second, "wait after SIGTERM before killing claude")
	flags.String("metrics-addr", ":9477", "ops HTTP listen address (empty disables)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	for _, name := range []string{
		"mode", "channel", "telegram-token", "allowed-chat-ids", "claude-path", "work-dir",
		"system-prompt", "allowed-tools", "max-message-length", "flush-interval", "flush-chars",
		"inactivity-timeout", "poll-interval", "read-timeout", "grace-period", "metrics-addr", "log-level",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	// Assigned here rather than in the declaration: runOnce reads runCmd's
	// flags, which would otherwise form an initialization cycle.
	runCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), strings.Join(args, " "))
	}
	runCmd.Flags().Bool("new", false, "start a fresh conversation instead of continuing")
	runCmd.Flags().String("resume", "", "resume the conversation with this session ID")

	viper.SetEnvPrefix("ccrelay")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(serveCmd, runCmd, versionCmd)
}

// loadProfile builds the profile from flags, the environment and .env.
func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:              viper.GetString("mode"),
		Version:           version.String(),
		Channel:           viper.GetString("channel"),
		TelegramToken:     viper.GetString("telegram-token"),
		ClaudePath:        viper.GetString("claude-path"),
		WorkDir:           viper.GetString("work-dir"),
		SystemPrompt:      viper.GetString("system-prompt"),
		AllowedTools:      splitFlagList(viper.GetStringSlice("allowed-tools")),
		MaxMessageLength:  viper.GetInt("max-message-length"),
		FlushInterval:     viper.GetDuration("flush-interval"),
		FlushChars:        viper.GetInt("flush-chars"),
		InactivityTimeout: viper.GetDuration("inactivity-timeout"),
		PollInterval:      viper.GetDuration("poll-interval"),
		ReadTimeout:       viper.GetDuration("read-timeout"),
		GracePeriod:       viper.GetDuration("grace-period"),
		MetricsAddr:       viper.GetString("metrics-addr"),
		LogLevel:          viper.GetString("log-level"),
	}
	for _, id := range viper.GetIntSlice("allowed-chat-ids") {
		p.AllowedChatIDs = append(p.AllowedChatIDs, int64(id))
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// splitFlagList accepts both repeated flags and a comma-separated env value.
func splitFlagList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, field := range strings.Split(v, ",") {
			if field = strings.TrimSpace(field); field != "" {
				out = append(out, field)
			}
		}
	}
	return out
}

func setupLogger(p *profile.Profile) *slog.Logger {
	level, ok := logging.ParseLevel(p.LogLevel)
	logger := logging.New(os.Stderr, p.Mode, level)
	slog.SetDefault(logger)
	if !ok {
		logger.Warn("unknown log level, using info", "log_level", p.LogLevel)
	}
	return logger
}

func newChannel(p *profile.Profile, logger *slog.Logger) (channels.ChatChannel, error) {
	if p.Channel == string(chat_apps.PlatformConsole) {
		return console.NewConsoleChannel(os.Stdin, os.Stdout, p.MaxMessageLength), nil
	}
	return telegram.NewTelegramChannel(&telegram.TelegramConfig{
		BotToken:         p.TelegramToken,
		MaxMessageLength: p.MaxMessageLength,
	}, logger)
}

func checkCLI(ctx context.Context, sup *runner.Supervisor, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	v, err := sup.CLIVersion(ctx)
	if err != nil {
		logger.Warn("claude CLI check failed", "error", err)
		return
	}
	logger.Info("claude CLI detected", "version", v)
}

func serve(ctx context.Context) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	logger := setupLogger(instanceProfile)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	health := metrics.GetRegistry()
	exporter := aimetrics.NewPrometheusExporter(aimetrics.DefaultConfig())
	router := channels.NewChannelRouter(health)
	channel, err := newChannel(instanceProfile, logger)
	if err != nil {
		return err
	}
	router.Register(channel)

	sup := runner.NewSupervisor(server.SupervisorConfig(instanceProfile), runner.NewRegistry(), exporter, logger)
	checkCLI(ctx, sup, logger)

	s := server.NewServer(instanceProfile, router, sup, exporter, health, logger)

	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)
	defer signal.Stop(c)

	if err := s.Start(ctx); err != nil {
		return err
	}
	printGreetings(instanceProfile)

	select {
	case sig := <-c:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	s.Shutdown(shutdownCtx)
	return nil
}

func runOnce(ctx context.Context, prompt string) error {
	viper.Set("channel", string(chat_apps.PlatformConsole))
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	logger := setupLogger(instanceProfile)

	router := channels.NewChannelRouter(nil)
	router.Register(console.NewConsoleChannel(nil, os.Stdout, instanceProfile.MaxMessageLength))
	out, err := router.Deliverer(chat_apps.PlatformConsole, console.ChatID)
	if err != nil {
		return err
	}

	req := runner.Request{
		Prompt:       prompt,
		SystemPrompt: instanceProfile.SystemPrompt,
		AllowedTools: instanceProfile.AllowedTools,
		Mode:         runner.ModeContinue,
	}
	if fresh, _ := runCmd.Flags().GetBool("new"); fresh {
		req.Mode = runner.ModeFresh
	}
	if id, _ := runCmd.Flags().GetString("resume"); id != "" {
		req.Mode = runner.ModeResume
		req.ResumeID = id
	}

	sup := runner.NewSupervisor(server.SupervisorConfig(instanceProfile), nil, nil, logger)
	sess, err := sup.Start(ctx, req, out)
	if err != nil {
		return err
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, terminationSignals...)
	defer signal.Stop(c)

	select {
	case <-sess.Done():
	case sig := <-c:
		logger.Info("cancelling session", "signal", sig.String())
		fmt.Println(sess.Cancel(context.Background()).String())
	}

	res := sess.Wait()
	if res.State != runner.StateCompleted {
		return fmt.Errorf("session %s ended %s: %v", sess.Handle, res.State, res.Err)
	}
	return nil
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("ccrelay %s started successfully!\n", p.Version)
	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}
	fmt.Printf("Channel: %s\n", p.Channel)
	fmt.Printf("Claude CLI: %s\n", p.ClaudePath)
	fmt.Printf("Working directory: %s\n", p.WorkDir)
	if len(p.AllowedChatIDs) > 0 {
		fmt.Printf("Allowed chats: %v\n", p.AllowedChatIDs)
	}
	if p.MetricsAddr != "" {
		fmt.Printf("Ops API: http://%s/healthz\n", hostPort(p.MetricsAddr))
	}
}

func hostPort(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package server wires the chat channels to the session supervisor and
// serves the ops HTTP endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	aimetrics "github.com/hrygo/ccrelay/ai/metrics"
	"github.com/hrygo/ccrelay/ai/runner"
	"github.com/hrygo/ccrelay/internal/profile"
	"github.com/hrygo/ccrelay/plugin/chat_apps"
	"github.com/hrygo/ccrelay/plugin/chat_apps/channels"
	"github.com/hrygo/ccrelay/plugin/chat_apps/metrics"
)

// Server is the relay: it listens on every registered channel, turns bot
// commands into sessions and exposes the ops API.
type Server struct {
	Profile *profile.Profile

	router     *channels.ChannelRouter
	supervisor *runner.Supervisor
	exporter   *aimetrics.PrometheusExporter
	health     *metrics.Registry
	logger     *slog.Logger

	echoServer *echo.Echo
	httpServer *http.Server

	mu           sync.Mutex
	stopListen   context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewServer creates a server. exporter and health may be nil.
func NewServer(profile *profile.Profile, router *channels.ChannelRouter, supervisor *runner.Supervisor,
	exporter *aimetrics.PrometheusExporter, health *metrics.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if health == nil {
		health = metrics.GetRegistry()
	}
	s := &Server{
		Profile:    profile,
		router:     router,
		supervisor: supervisor,
		exporter:   exporter,
		health:     health,
		logger:     logger,
	}
	s.echoServer = s.newEcho()
	return s
}

// SupervisorConfig derives the supervisor settings from a profile.
func SupervisorConfig(p *profile.Profile) runner.Config {
	cfg := runner.DefaultConfig()
	cfg.CLIPath = p.ClaudePath
	cfg.WorkDir = p.WorkDir
	cfg.ReadTimeout = p.ReadTimeout
	cfg.InactivityTimeout = p.InactivityTimeout
	cfg.PollInterval = p.PollInterval
	cfg.GracePeriod = p.GracePeriod
	cfg.FlushInterval = p.FlushInterval
	cfg.FlushChars = p.FlushChars
	cfg.MaxMessageLength = p.MaxMessageLength
	return cfg
}

// Handler returns the ops HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start starts listening on every registered channel and, when an address
// is configured, the ops HTTP server. It returns once both are running.
func (s *Server) Start(ctx context.Context) error {
	listenCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stopListen = cancel
	s.mu.Unlock()

	for _, ch := range s.router.Channels() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("listening for commands", "platform", ch.Name())
			if err := ch.Listen(listenCtx, s.HandleCommand); err != nil {
				s.logger.Error("channel listener stopped", "platform", ch.Name(), "error", err)
			}
		}()
	}

	if s.Profile.MetricsAddr == "" {
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              s.Profile.MetricsAddr,
		Handler:           s.echoServer,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server stopped", "addr", s.Profile.MetricsAddr, "error", err)
		}
	}()
	s.logger.Info("ops server started", "addr", s.Profile.MetricsAddr)
	return nil
}

// Shutdown stops the listeners, cancels the running session and closes the
// channels. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if s.stopListen != nil {
			s.stopListen()
		}
		s.mu.Unlock()

		if res := s.supervisor.Cancel(ctx); res.Outcome == runner.CancelTerminated {
			s.logger.Info("cancelled running session on shutdown", "session_id", res.SessionID, "exit_code", res.Report.ExitCode)
		}

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.logger.Error("failed to shutdown ops server", "error", err)
			}
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("shutdown timed out waiting for listeners")
		}

		if err := s.router.Close(); err != nil {
			s.logger.Error("failed to close channels", "error", err)
		}
		s.logger.Info("server stopped")
	})
}

// HandleCommand handles one incoming chat message. Messages that are not
// relay commands are ignored.
func (s *Server) HandleCommand(ctx context.Context, msg *chat_apps.IncomingMessage) {
	platform := string(msg.Platform)
	s.health.RecordEvent(platform, msg.PlatformChatID, metrics.EventMessageReceived, nil)

	if msg.Type != chat_apps.MessageTypeText {
		return
	}
	cmd, ok := ParseCommand(msg.Content)
	if !ok {
		return
	}

	logger := s.logger.With("platform", platform, "chat_id", msg.PlatformChatID, "user_id", msg.PlatformUserID)
	if !s.chatAllowed(msg) {
		logger.Warn("command from unauthorized chat")
		s.reply(ctx, msg, "⛔ This chat is not authorized to use this bot.")
		return
	}
	s.health.RecordEvent(platform, msg.PlatformChatID, metrics.EventCommandHandled, nil)

	switch {
	case cmd.Kind == CommandHelp:
		s.reply(ctx, msg, helpText)
	case cmd.Kind == CommandCancel:
		res := s.supervisor.Cancel(ctx)
		logger.Info("cancel requested", "outcome", res.Outcome, "session_id", res.SessionID)
		s.reply(ctx, msg, res.String())
	case cmd.IsStart():
		s.startSession(ctx, msg, cmd, logger)
	}
}

func (s *Server) startSession(ctx context.Context, msg *chat_apps.IncomingMessage, cmd Command, logger *slog.Logger) {
	if !cmd.valid() {
		s.reply(ctx, msg, cmd.usage())
		return
	}
	if cur := s.supervisor.Current(); cur != nil {
		s.reply(ctx, msg, busyMessage(cur))
		return
	}

	out, err := s.router.Deliverer(msg.Platform, msg.PlatformChatID)
	if err != nil {
		logger.Error("no deliverer for chat", "error", err)
		return
	}

	s.reply(ctx, msg, cmd.Preamble())

	req := runner.Request{
		Prompt:       cmd.Prompt,
		SystemPrompt: s.Profile.SystemPrompt,
		AllowedTools: s.Profile.AllowedTools,
		Mode:         cmd.Mode(),
		ResumeID:     cmd.ResumeID,
	}
	sess, err := s.supervisor.Start(ctx, req, out)
	switch {
	case errors.Is(err, runner.ErrSessionActive):
		s.reply(ctx, msg, busyMessage(s.supervisor.Current()))
	case err != nil:
		logger.Error("failed to start session", "error", err)
		s.reply(ctx, msg, fmt.Sprintf("Error: %v", err))
	default:
		logger.Info("session requested", "session_id", sess.ID, "handle", sess.Handle, "mode", req.Mode.String())
	}
}

func busyMessage(cur *runner.Session) string {
	if cur == nil {
		return "⏳ A session is already running. Use /cancel to stop it."
	}
	return fmt.Sprintf("⏳ Session %s is still running. Use /cancel to stop it.", cur.Handle)
}

// chatAllowed applies the chat allow-list. Chats without a numeric ID
// (the console) are local and always allowed.
func (s *Server) chatAllowed(msg *chat_apps.IncomingMessage) bool {
	id, err := strconv.ParseInt(msg.PlatformChatID, 10, 64)
	if err != nil {
		return msg.Platform == chat_apps.PlatformConsole
	}
	return s.Profile.IsChatAllowed(id)
}

func (s *Server) reply(ctx context.Context, msg *chat_apps.IncomingMessage, text string) {
	err := s.router.SendResponse(ctx, msg.Platform, &chat_apps.OutgoingMessage{
		PlatformChatID: msg.PlatformChatID,
		Content:        text,
	})
	if err != nil {
		s.logger.Warn("failed to send reply",
			"platform", msg.Platform,
			"chat_id", msg.PlatformChatID,
			"error", err)
	}
}

var _ runner.Deliverer = (*channels.ChatDeliverer)(nil)

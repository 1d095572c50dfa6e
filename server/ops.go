package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/ccrelay/ai/runner"
	"github.com/hrygo/ccrelay/plugin/chat_apps/metrics"
)

// cancelTimeout bounds POST /api/v1/session/cancel; termination itself is
// bounded by the grace period plus the kill wait.
const cancelTimeout = 30 * time.Second

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	SessionActive bool   `json:"session_active"`
}

type sessionResponse struct {
	Current *runner.SessionInfo `json:"current"`
	Last    *runner.SessionInfo `json:"last"`
}

type cancelResponse struct {
	runner.CancelResult
	Message string `json:"message"`
}

type deliveryHealth struct {
	*metrics.ChatMetricsSnapshot
	SuccessRate float64 `json:"success_rate"`
	ErrorRate   float64 `json:"error_rate"`
	Healthy     bool    `json:"healthy"`
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", s.getHealth)
	if s.exporter != nil {
		e.GET("/metrics", echo.WrapHandler(s.exporter.Handler()))
	}

	api := e.Group("/api/v1")
	api.GET("/session", s.getSession)
	api.POST("/session/cancel", s.cancelSession)
	api.GET("/deliveries", s.getDeliveries)
	return e
}

func (s *Server) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       s.Profile.Version,
		SessionActive: s.supervisor.Current() != nil,
	})
}

func (s *Server) getSession(c echo.Context) error {
	var resp sessionResponse
	registry := s.supervisor.Registry()
	if cur := registry.Current(); cur != nil {
		info := cur.Info()
		resp.Current = &info
	}
	if last := registry.Last(); last != nil {
		info := last.Info()
		resp.Last = &info
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelSession(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), cancelTimeout)
	defer cancel()

	res := s.supervisor.Cancel(ctx)
	s.logger.Info("cancel requested over http", "outcome", res.Outcome, "session_id", res.SessionID)
	return c.JSON(http.StatusOK, cancelResponse{CancelResult: res, Message: res.String()})
}

func (s *Server) getDeliveries(c echo.Context) error {
	snapshots := s.health.GetAllMetrics()
	resp := make([]deliveryHealth, 0, len(snapshots))
	for _, snap := range snapshots {
		resp = append(resp, deliveryHealth{
			ChatMetricsSnapshot: snap,
			SuccessRate:         snap.SuccessRate(),
			ErrorRate:           snap.ErrorRate(),
			Healthy:             snap.IsHealthy(),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

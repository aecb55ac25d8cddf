// Package web serves the operational HTTP endpoints and the OAuth redirect target.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mixelka/whittle/internal/account"
	"github.com/mixelka/whittle/internal/database"
	"github.com/mixelka/whittle/pkg/models"
)

// Connector runs the mailbox OAuth flow
type Connector interface {
	GoogleConnectURL(ctx context.Context, userID int64) (string, error)
	CompleteGoogleConnect(ctx context.Context, state, code string) (*models.User, error)
}

// Server is the HTTP server
type Server struct {
	echo      *echo.Echo
	connector Connector
	logger    *slog.Logger
}

// New creates the server and registers its routes
func New(connector Connector, logger *slog.Logger) *Server {
	s := &Server{
		echo:      echo.New(),
		connector: connector,
		logger:    logger.With("component", "web"),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error == nil {
				s.logger.Debug("request completed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				s.logger.Error("request failed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/oauth/start", s.handleOAuthStart)
	e.GET("/oauth/callback", s.handleOAuthCallback)

	return s
}

// Handler exposes the router, used by tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.logger.Info("starting http server", "address", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOAuthStart(c echo.Context) error {
	userID, err := strconv.ParseInt(c.QueryParam("user_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	consentURL, err := s.connector.GoogleConnectURL(c.Request().Context(), userID)
	switch {
	case errors.Is(err, account.ErrGmailDisabled):
		return echo.NewHTTPError(http.StatusNotFound, "gmail connect is not configured")
	case errors.Is(err, database.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "unknown user")
	case err != nil:
		return err
	}

	return c.Redirect(http.StatusFound, consentURL)
}

func (s *Server) handleOAuthCallback(c echo.Context) error {
	if reason := c.QueryParam("error"); reason != "" {
		s.logger.Warn("oauth consent denied", "reason", reason)
		return c.String(http.StatusBadRequest, "Access was not granted: "+reason)
	}

	state, code := c.QueryParam("state"), c.QueryParam("code")
	if state == "" || code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "state and code are required")
	}

	user, err := s.connector.CompleteGoogleConnect(c.Request().Context(), state, code)
	switch {
	case errors.Is(err, account.ErrGmailDisabled):
		return echo.NewHTTPError(http.StatusNotFound, "gmail connect is not configured")
	case errors.Is(err, database.ErrNotFound):
		return echo.NewHTTPError(http.StatusBadRequest, "unknown or expired state")
	case err != nil:
		return err
	}

	s.logger.Info("mailbox connected via oauth", "user_id", user.ID)
	return c.String(http.StatusOK, "Mailbox connected. Your newsletters will show up shortly.")
}

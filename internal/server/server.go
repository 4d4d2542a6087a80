package server

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	appmiddleware "github.com/nfrund/quickchat/internal/middleware"
	"github.com/nfrund/quickchat/internal/store"
)

// Server exposes a store to remote clients over HTTP.
type Server struct {
	E         *echo.Echo
	connector store.Connector
	logger    *slog.Logger
}

// New creates a server relaying WebSocket clients to connector.
func New(connector store.Connector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{E: e, connector: connector, logger: logger.With("component", "server")}
	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger(s.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			appmiddleware.FromContext(c.Request().Context()).Info("Request handled", "event", "http_request",
				"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	setupErrorHandling(e)
	s.RegisterRoutes()
	return s
}

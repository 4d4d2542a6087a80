package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/quickchat/internal/middleware"
	"github.com/nfrund/quickchat/internal/transport/wsstore"
)

// wsRateLimit is the number of WebSocket upgrades allowed per second and
// client IP.
const wsRateLimit = 20

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	// Each upgrade opens a store connection.
	s.E.GET("/ws", echo.WrapHandler(wsstore.NewHandler(s.connector, wsstore.WithHandlerLogger(s.logger))),
		middleware.RateLimiter(wsRateLimit))

	s.E.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
}

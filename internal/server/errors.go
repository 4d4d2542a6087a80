package server

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	appmiddleware "github.com/nfrund/quickchat/internal/middleware"
)

// setupErrorHandling logs unhandled handler errors with a stack trace before
// answering them with echo's default response.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		logger := appmiddleware.FromContext(c.Request().Context())
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			logger.Error("Internal Server Error (Unhandled)",
				"error", err,
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"stack_trace", string(debug.Stack()),
			)
		} else if he.Code >= http.StatusInternalServerError {
			logger.Error("Internal Server Error", "error", err, "uri", c.Request().RequestURI)
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

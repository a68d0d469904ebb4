package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"KSHPull/pkg/logger"
)

// Recover turns handler panics into 500 responses and logs them with the
// request id and stack.
func Recover(l *logger.Logger) echo.MiddlewareFunc {
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		StackSize: 8 << 10,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			l.Error("HTTP handler panic",
				logger.String("route", c.Path()),
				logger.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				logger.Error(err),
				logger.String("stack", string(stack)))
			return err
		},
	})
}

package api

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/clipvault/clipvault/internal/logger"
)

const traceIDKey = "trace_id"

// traceIDMiddleware assigns every request a trace ID, echoes it in the
// X-Request-ID header and stores it in the request context for logging.
func traceIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			req := ctx.Request()
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			ctx.Set(traceIDKey, id)
			ctx.Response().Header().Set(echo.HeaderXRequestID, id)
			ctx.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
			return next(ctx)
		}
	}
}

func traceID(ctx echo.Context) string {
	id, _ := ctx.Get(traceIDKey).(string)
	return id
}

// requestLogger logs one line per request through the module logger.
func requestLogger(log logger.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(ctx echo.Context, v echomw.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			log.WithContext(ctx.Request().Context()).Debug("request", fields...)
			return nil
		},
	})
}

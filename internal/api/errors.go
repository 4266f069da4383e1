package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clipvault/clipvault/internal/datastore/repository"
	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// statusFor maps an error to an HTTP status by category.
func statusFor(err error) int {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.IsValidation(err):
		return http.StatusBadRequest
	case errors.IsNotFound(err), errors.Is(err, repository.ErrImageNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes an ErrorResponse for err. Server-side failures are
// logged with the request's trace ID; caller errors are not.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		c.log.WithContext(ctx.Request().Context()).Error(message,
			logger.String("path", ctx.Path()),
			logger.Error(err))
	}

	errStr := message
	if err != nil {
		errStr = err.Error()
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			if m, ok := httpErr.Message.(string); ok {
				errStr = m
			}
		}
	}
	return ctx.JSON(code, ErrorResponse{
		Error:         errStr,
		Message:       message,
		Code:          code,
		CorrelationID: traceID(ctx),
	})
}

// errorHandler renders errors that escape handlers, such as unknown routes.
func (c *Controller) errorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}
	if werr := c.HandleError(ctx, err, http.StatusText(statusFor(err))); werr != nil {
		c.log.Warn("failed to write error response", logger.Error(werr))
	}
}

func badRequest(message string) error {
	return errors.New(errors.NewStd(message)).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/pipecounter/internal/errors"
	"github.com/tphakala/pipecounter/internal/logger"
	"github.com/tphakala/pipecounter/internal/orchestrator"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse builds the response for err. Only the category and the
// user message leave the process; raw error text stays in the log.
func NewErrorResponse(err error, fallback string, code int) *ErrorResponse {
	category := string(errors.CategoryGeneric)
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		category = ee.GetCategory()
	}
	return &ErrorResponse{
		Error:         category,
		Message:       errors.UserMessage(err, fallback),
		Code:          code,
		CorrelationID: strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	}
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, orchestrator.ErrSyncInProgress) {
		return http.StatusConflict
	}
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return http.StatusInternalServerError
	}
	switch ee.Category {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryState, errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryAnalysis:
		return http.StatusUnprocessableEntity
	case errors.CategoryStorage:
		return http.StatusInsufficientStorage
	case errors.CategoryIntegration, errors.CategoryNetwork, errors.CategoryHTTP, errors.CategoryMQTTPublish:
		return http.StatusBadGateway
	case errors.CategoryTimeout, errors.CategoryCancellation:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HandleError logs err and writes it as JSON.
func (c *Controller) HandleError(ctx echo.Context, err error, fallback string) error {
	code := statusFor(err)
	resp := NewErrorResponse(err, fallback, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("method", ctx.Request().Method),
		logger.String("path", ctx.Path()),
		logger.Int("code", code),
		logger.Error(err),
	}
	if code >= http.StatusInternalServerError {
		c.log.Error("API error", fields...)
	} else {
		c.log.Debug("API request rejected", fields...)
	}
	return ctx.JSON(code, resp)
}

func badRequest(msg string) error {
	return errors.Newf("%s", msg).
		Component("api").
		Category(errors.CategoryValidation).
		UserMessage(msg).
		Build()
}

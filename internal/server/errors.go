package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rezonia/nfe-engine/internal/model"
)

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// ErrorHandlingMiddleware renders the last handler error when nothing was written
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, ErrorResponse{Error: payload})
	}
}

// AbortWithError records err for ErrorHandlingMiddleware
func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

type invalidBodyError struct {
	cause error
}

func (e *invalidBodyError) Error() string { return "invalid request body: " + e.cause.Error() }
func (e *invalidBodyError) Unwrap() error { return ErrInvalidRequest }

func invalidBody(err error) error {
	return &invalidBodyError{cause: err}
}

func mapError(err error) (int, ErrorPayload) {
	var (
		validation *model.ValidationError
		parse      *model.ParseError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, ErrorPayload{
			Type:    "validation_error",
			Message: validation.Message,
			Errors:  []FieldError{{Field: validation.Field, Code: validation.Rule, Message: validation.Message}},
		}
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, ErrorPayload{Type: "invalid_request", Message: err.Error()}
	case errors.Is(err, model.ErrStateViolation):
		return http.StatusConflict, ErrorPayload{Type: "state_violation", Message: err.Error()}
	case errors.Is(err, model.ErrEnvironmentMismatch):
		return http.StatusConflict, ErrorPayload{Type: "environment_mismatch", Message: err.Error()}
	case errors.Is(err, model.ErrCertificate):
		return http.StatusFailedDependency, ErrorPayload{Type: "certificate_error", Message: err.Error()}
	case errors.As(err, &parse):
		return http.StatusBadGateway, ErrorPayload{Type: "parse_error", Message: err.Error(), Raw: string(parse.Raw)}
	case errors.Is(err, model.ErrTransport):
		return http.StatusBadGateway, ErrorPayload{Type: "transport_error", Message: err.Error()}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, ErrorPayload{Type: "service_unavailable", Message: "emission is not configured"}
	default:
		return http.StatusInternalServerError, ErrorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

func errorType(err error) string {
	_, payload := mapError(err)
	return payload.Type
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"recovery/internal/realtime"
	"recovery/internal/repository"
	"recovery/internal/service"
)

// Wire error codes returned to clients.
const (
	CodeValidation        = "validation_error"
	CodeNotFound          = "not_found"
	CodeUnauthorizedActor = "unauthorized_actor"
	CodeInvalidState      = "invalid_state"
	CodeDriverUnavailable = "driver_unavailable"
	CodeUnauthenticated   = "unauthenticated"
	CodeInternal          = realtime.CodeInternal
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Success bool               `json:"success"`
	Error   realtime.ErrorBody `json:"error"`
}

// DataResponse represents a successful response.
type DataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	wire := mapErrorToCode(err)
	c.JSON(mapCodeToHTTPStatus(wire.Code), ErrorResponse{Error: wire.Body()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, DataResponse{Success: true, Data: data})
}

// mapErrorToCode maps service/repository errors to wire errors. Errors without
// a mapping are collaborator failures and never expose their text.
func mapErrorToCode(err error) *realtime.Error {
	var (
		wire        *realtime.Error
		invalid     *service.ValidationError
		state       *service.StateError
		unavailable *service.UnavailableError
		fields      validator.ValidationErrors
	)

	switch {
	case errors.As(err, &wire):
		return wire

	case errors.As(err, &fields):
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = f.Namespace()
		}
		return &realtime.Error{
			Code:    CodeValidation,
			Message: "invalid payload",
			Details: map[string]any{"fields": names},
			Err:     err,
		}

	case errors.As(err, &invalid):
		return &realtime.Error{
			Code:    CodeValidation,
			Message: invalid.Error(),
			Details: map[string]any{"field": invalid.Field},
			Err:     err,
		}

	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidDriverID),
		errors.Is(err, service.ErrInvalidLocation):
		return &realtime.Error{Code: CodeValidation, Message: err.Error(), Err: err}

	case errors.As(err, &state):
		expected := make([]string, len(state.Expected))
		for i, s := range state.Expected {
			expected[i] = string(s)
		}
		return &realtime.Error{
			Code:    CodeInvalidState,
			Message: state.Error(),
			Details: map[string]any{"currentStatus": state.Current, "expected": expected},
			Err:     err,
		}

	case errors.As(err, &unavailable):
		return &realtime.Error{
			Code:    CodeDriverUnavailable,
			Message: "no driver available",
			Details: map[string]any{"bookingId": unavailable.BookingID},
			Err:     err,
		}

	case errors.Is(err, service.ErrNoDriverAvailable):
		return &realtime.Error{Code: CodeDriverUnavailable, Message: "no driver available", Err: err}

	case errors.Is(err, service.ErrBookingNotFound),
		errors.Is(err, service.ErrOfferNotFound),
		errors.Is(err, repository.ErrNotFound):
		return &realtime.Error{Code: CodeNotFound, Message: err.Error(), Err: err}

	case errors.Is(err, service.ErrNotAuthorized):
		return &realtime.Error{Code: CodeUnauthorizedActor, Message: err.Error(), Err: err}

	default:
		return &realtime.Error{Code: CodeInternal, Message: "internal error", Err: err}
	}
}

// mapCodeToHTTPStatus maps wire codes to HTTP status codes.
func mapCodeToHTTPStatus(code string) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeUnauthorizedActor:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidState:
		return http.StatusConflict
	case CodeDriverUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func wireBody(code, message string) realtime.ErrorBody {
	return realtime.ErrorBody{Code: code, Message: message}
}

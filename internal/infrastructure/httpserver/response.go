package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/notifysync/internal/application/appcore"
	appnotification "github.com/lllypuk/notifysync/internal/application/notification"
	"github.com/lllypuk/notifysync/internal/domain/errs"
)

// Response represents a standard API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents an error in the API response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPError interface allows application errors to define their HTTP representation.
// Errors implementing this interface will be automatically mapped to proper HTTP responses.
type HTTPError interface {
	error
	HTTPStatus() int
	HTTPCode() string
	HTTPMessage() string
}

// RespondJSON sends a successful JSON response.
func RespondJSON(c echo.Context, code int, data any) error {
	return c.JSON(code, Response{
		Success: true,
		Data:    data,
	})
}

// RespondOK sends a 200 OK response with data.
func RespondOK(c echo.Context, data any) error {
	return RespondJSON(c, http.StatusOK, data)
}

// RespondCreated sends a 201 Created response with data.
func RespondCreated(c echo.Context, data any) error {
	return RespondJSON(c, http.StatusCreated, data)
}

// RespondNoContent sends a 204 No Content response.
func RespondNoContent(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// RespondError sends an error JSON response based on the error type.
func RespondError(c echo.Context, err error) error {
	statusCode, apiError := mapError(err)
	return c.JSON(statusCode, Response{
		Success: false,
		Error:   apiError,
	})
}

// RespondErrorWithCode sends an error JSON response with a specific HTTP status code.
func RespondErrorWithCode(c echo.Context, code int, errorCode, message string) error {
	return c.JSON(code, Response{
		Success: false,
		Error: &Error{
			Code:    errorCode,
			Message: message,
		},
	})
}

// mapError maps domain and sync errors to HTTP status codes and API errors.
// Wrapped sync errors are checked before the domain errors they may wrap.
func mapError(err error) (int, *Error) {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.HTTPStatus(), &Error{
			Code:    httpErr.HTTPCode(),
			Message: httpErr.HTTPMessage(),
		}
	}

	var validationErr *appcore.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, &Error{
			Code:    "VALIDATION_FAILED",
			Message: validationErr.Error(),
		}
	}

	switch {
	case errors.Is(err, appnotification.ErrRefreshRequired):
		return http.StatusConflict, &Error{
			Code:    "REFRESH_REQUIRED",
			Message: "Bulk update failed; the feed will be reloaded",
		}

	case errors.Is(err, appnotification.ErrMarkReadRejected):
		return http.StatusConflict, &Error{
			Code:    "MARK_READ_REJECTED",
			Message: "The server rejected the update; local state was restored",
		}

	case errors.Is(err, appnotification.ErrNotSignedIn),
		errors.Is(err, appnotification.ErrStaleSession),
		errors.Is(err, appnotification.ErrEngineStopped):
		return http.StatusConflict, &Error{
			Code:    "SESSION_ENDED",
			Message: "The sync session ended before the operation completed",
		}

	case errors.Is(err, appnotification.ErrLoadFailed), errors.Is(err, errs.ErrUnavailable):
		return http.StatusServiceUnavailable, &Error{
			Code:    "UNAVAILABLE",
			Message: "Notifications are temporarily unavailable",
		}

	case errors.Is(err, appnotification.ErrNotificationNotFound), errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, &Error{
			Code:    "NOT_FOUND",
			Message: "The requested resource was not found",
		}

	case errors.Is(err, appnotification.ErrNotificationAccessDenied), errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, &Error{
			Code:    "FORBIDDEN",
			Message: "Access denied",
		}

	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, &Error{
			Code:    "ALREADY_EXISTS",
			Message: "The resource already exists",
		}

	case errors.Is(err, appnotification.ErrInvalidNotificationKind),
		errors.Is(err, appcore.ErrValidationFailed),
		errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, &Error{
			Code:    "INVALID_INPUT",
			Message: "Invalid input data",
		}

	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, &Error{
			Code:    "UNAUTHORIZED",
			Message: "Authentication required",
		}

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, &Error{
			Code:    "TIMEOUT",
			Message: "The operation timed out",
		}

	default:
		return http.StatusInternalServerError, &Error{
			Code:    "INTERNAL_ERROR",
			Message: "An internal error occurred",
		}
	}
}

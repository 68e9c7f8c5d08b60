package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type errorBody struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// EchoErrorHandler translates taxonomy errors and echo HTTP errors into
// the {"error":{"kind","message"}} envelope. Internal causes are logged,
// never echoed to the client.
func EchoErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	kind := KindInternal
	message := "internal server error"

	var appErr *Error
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		kind = appErr.Kind
		message = appErr.Message
	case errors.As(err, &httpErr):
		message = http.StatusText(httpErr.Code)
		if s, ok := httpErr.Message.(string); ok {
			message = s
		}
		switch httpErr.Code {
		case http.StatusBadRequest:
			kind = KindValidation
		case http.StatusNotFound:
			message = "not found"
			kind = KindNotFound
		case http.StatusUnauthorized:
			kind = "Unauthorized"
		case http.StatusForbidden:
			kind = "Forbidden"
		case http.StatusMethodNotAllowed:
			kind = "MethodNotAllowed"
		}
	}

	status := HTTPStatus(kind)
	if httpErr != nil && kind != KindNotFound {
		status = httpErr.Code
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorResponse{Error: errorBody{Kind: kind, Message: message}})
}

package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	taskNotFoundDetail  = "Task not found"
	internalErrorDetail = "internal server error"
	taskDeletedMessage  = "Task deleted successfully"
	maxBodySize         = 1 << 20
)

type errorResponse struct {
	Detail string `json:"detail"`
}

type validationResponse struct {
	Detail []FieldError `json:"detail"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func taskNotFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, errorResponse{Detail: taskNotFoundDetail})
}

func internalError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, errorResponse{Detail: internalErrorDetail})
}

func unprocessable(c echo.Context, ve *ValidationError) error {
	return c.JSON(http.StatusUnprocessableEntity, validationResponse{Detail: ve.Fields})
}

// HTTPErrorHandler renders errors that escape handlers, such as unknown
// routes or disallowed methods, with the same {"detail": ...} body the
// handlers use.
func HTTPErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		detail := internalErrorDetail
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if msg, ok := he.Message.(string); ok && code < http.StatusInternalServerError {
				detail = msg
			} else if code < http.StatusInternalServerError {
				detail = http.StatusText(code)
			}
		}
		if code >= http.StatusInternalServerError {
			e.Logger.Error(err)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, errorResponse{Detail: detail})
		}
		if werr != nil {
			e.Logger.Error(werr)
		}
	}
}

package http

import (
	"errors"
	"net/http"

	applogger "PatternScan/pkg/logger"

	"github.com/labstack/echo/v4"
)

// DataResponse writes API response with status and data.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// ListResponse writes paginated list response.
func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return DataResponse(c, http.StatusOK, &ListDataResponse{
		Rows:  rows,
		Total: total,
	})
}

// SuccessResponse writes success response.
func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// CreatedResponse writes created response.
func CreatedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusCreated, data)
}

// NoContentResponse writes no content response.
func NoContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// BadRequestResponse writes bad request error.
func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// NotFoundResponse writes not found error.
func NotFoundResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusNotFound, data)
}

// InternalServerErrorResponse writes internal server error.
func InternalServerErrorResponse(c echo.Context) error {
	return DataResponse(c, http.StatusInternalServerError, "Something went wrong")
}

// AppErrorResponse writes application error response. Engine errors are
// mapped to their status and code.
func AppErrorResponse(c echo.Context, err error) error {
	appErr := FromError(err)
	if appErr.Status == http.StatusInternalServerError {
		return InternalServerErrorResponse(c)
	}
	return DataResponse(c, appErr.Status, []*AppError{appErr})
}

// ErrorHandler renders errors that escape handlers in the APIResponse
// envelope.
func ErrorHandler(l *applogger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			_ = DataResponse(c, he.Code, he.Message)
			return
		}
		if FromError(err).Status == http.StatusInternalServerError {
			l.Error("unhandled error", applogger.String("route", c.Path()), applogger.Error(err))
		}
		_ = AppErrorResponse(c, err)
	}
}

package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse wraps data in the APIResponse envelope.
func DataResponse(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, APIResponse{Status: status, Message: http.StatusText(status), Data: data})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// AcceptedResponse acknowledges work that finishes after the response.
func AcceptedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusAccepted, data)
}

func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return SuccessResponse(c, &ListData{Rows: rows, Total: total})
}

// BadRequestResponse carries the value returned by ReadAndValidateRequest.
func BadRequestResponse(c echo.Context, details interface{}) error {
	return DataResponse(c, http.StatusBadRequest, details)
}

// AppErrorResponse maps err with FromError. Internal errors are reported
// by message only so nothing about their cause leaks.
func AppErrorResponse(c echo.Context, err error) error {
	ae := FromError(err)
	if ae.Code == CodeInternal {
		return DataResponse(c, ae.Status, ae.Message)
	}
	return DataResponse(c, ae.Status, []*AppError{ae})
}

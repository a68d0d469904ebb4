package http

import (
	"errors"
	"fmt"
	"net/http"

	"KSHPull/internal/domain/models"
)

// Error codes returned to API clients.
const (
	CodeNotFound    = "ERR_NOT_FOUND"
	CodeBadRequest  = "ERR_BAD_REQUEST"
	CodeConflict    = "ERR_CONFLICT"
	CodeBusy        = "ERR_BUSY"
	CodeRateLimited = "ERR_RATE_LIMITED"
	CodeEmptyGroup  = "ERR_EMPTY_GROUP"
	CodeSourceTable = "ERR_SOURCE_TABLE"
	CodeUpstream    = "ERR_UPSTREAM"
	CodeTimeout     = "ERR_TIMEOUT"
	CodeInternal    = "ERR_INTERNAL"
)

// AppError is an error with the HTTP status and code the API answers with.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func newAppError(status int, code string, err error) *AppError {
	return &AppError{Code: code, Message: err.Error(), Status: status, Err: err}
}

// TooManyRequestsError creates a 429 error.
func TooManyRequestsError(message string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message, Status: http.StatusTooManyRequests}
}

// sentinels maps domain sentinel errors to API errors, first match wins.
var sentinels = []struct {
	target error
	status int
	code   string
}{
	{models.ErrUnknownDataset, http.StatusNotFound, CodeNotFound},
	{models.ErrUnknownJob, http.StatusNotFound, CodeNotFound},
	{models.ErrReportNotFound, http.StatusNotFound, CodeNotFound},
	{models.ErrJobRunning, http.StatusConflict, CodeConflict},
	{models.ErrRunnerBusy, http.StatusServiceUnavailable, CodeBusy},
	{models.ErrUnknownModel, http.StatusBadRequest, CodeBadRequest},
	{models.ErrFitTimeout, http.StatusGatewayTimeout, CodeTimeout},
}

// FromError maps domain errors onto API errors. Unknown errors become 500
// without leaking their text.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, s := range sentinels {
		if errors.Is(err, s.target) {
			return newAppError(s.status, s.code, err)
		}
	}

	var empty *models.EmptyGroupError
	if errors.As(err, &empty) {
		return newAppError(http.StatusUnprocessableEntity, CodeEmptyGroup, err)
	}
	if models.IsDataError(err) {
		// the KSH table changed shape; the fault is upstream
		return newAppError(http.StatusBadGateway, CodeSourceTable, err)
	}
	var se *StatusError
	if errors.As(err, &se) {
		return newAppError(http.StatusBadGateway, CodeUpstream, err)
	}
	return &AppError{Code: CodeInternal, Message: "Something went wrong", Status: http.StatusInternalServerError, Err: err}
}

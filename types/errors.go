package types

import (
	"errors"
	"fmt"
	"net/http"
)

// X402Error carries one of the error codes below.
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e X402Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidRequest            = "INVALID_REQUEST"
	ErrMalformedTransaction      = "MALFORMED_TRANSACTION"
	ErrEmptyTransaction          = "EMPTY_TRANSACTION"
	ErrInvalidSplitConfig        = "INVALID_SPLIT_CONFIG"
	ErrUpstreamSignerUnavailable = "UPSTREAM_SIGNER_UNAVAILABLE"
	ErrSigningFailure            = "SIGNING_FAILURE"
	ErrUnexpectedResponse        = "UNEXPECTED_RESPONSE"
	ErrFacilitatorUnavailable    = "FACILITATOR_UNAVAILABLE"
	ErrPaymentMismatch           = "PAYMENT_MISMATCH"
	ErrConfigError               = "CONFIG_ERROR"
	ErrCancelled                 = "CANCELLED"
)

// NewError builds an *X402Error with a formatted message.
func NewError(code string, format string, args ...interface{}) *X402Error {
	return &X402Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode extracts the code of the first X402Error in err's chain, or
// the empty string.
func ErrorCode(err error) string {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	var xv X402Error
	if errors.As(err, &xv) {
		return xv.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// HTTPStatus maps an error code to the status the facilitator answers with.
func HTTPStatus(code string) int {
	switch code {
	case ErrInvalidRequest, ErrMalformedTransaction, ErrEmptyTransaction,
		ErrInvalidSplitConfig, ErrPaymentMismatch:
		return http.StatusBadRequest
	case ErrFacilitatorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the JSON body of every non-2xx facilitator response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

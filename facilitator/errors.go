package facilitator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vitwit/x402split/types"
)

// APIError is a non-200 facilitator response.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("facilitator error: status=%d, code=%s, message=%s", e.StatusCode, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("facilitator error: status=%d", e.StatusCode)
}

// Unwrap exposes the response as an X402Error so callers can switch on
// types.ErrorCode.
func (e *APIError) Unwrap() error {
	code := e.ErrorCode
	if code == "" {
		code = types.ErrUnexpectedResponse
		if e.StatusCode >= 500 {
			code = types.ErrFacilitatorUnavailable
		}
	}
	return &types.X402Error{Code: code, Message: e.Message}
}

// HandleAPIResponse decodes a 200 body into result, or turns any other
// status into an *APIError.
func HandleAPIResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return types.NewError(types.ErrUnexpectedResponse, "failed to decode response: %v", err)
			}
		}
		return nil
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read error response: %v", err),
		}
	}

	var errorResp types.ErrorResponse
	if err := json.Unmarshal(bodyBytes, &errorResp); err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status code: %d", resp.StatusCode),
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		ErrorCode:  errorResp.Error,
		Message:    errorResp.Message,
	}
}

// IsUnavailable reports whether err means the facilitator could not serve
// the request at all: transport failures and 5xx responses.
func IsUnavailable(err error) bool {
	if types.IsCode(err, types.ErrFacilitatorUnavailable) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 500
}

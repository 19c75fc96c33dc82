package server

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/vitwit/x402split/types"
)

// upstreamMessage replaces signer failure details in responses. The
// details are logged instead.
const upstreamMessage = "fee-abstraction signer is unavailable"

func (s *Server) writeError(c *gin.Context, err error) {
	code := types.ErrorCode(err)
	message := err.Error()

	var xe *types.X402Error
	if errors.As(err, &xe) {
		message = xe.Message
	}

	switch code {
	case "":
		code = types.ErrUpstreamSignerUnavailable
		message = "internal error"
	case types.ErrUpstreamSignerUnavailable:
		message = upstreamMessage
	}

	status := types.HTTPStatus(code)
	if status >= 500 {
		s.logger.Error("request failed", map[string]any{
			"path":       c.FullPath(),
			"code":       code,
			"error":      err.Error(),
			"request_id": c.GetString(RequestIDKey),
		})
	}

	c.AbortWithStatusJSON(status, types.ErrorResponse{
		Success: false,
		Error:   code,
		Message: message,
	})
}

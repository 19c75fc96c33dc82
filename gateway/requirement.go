package gateway

import (
	"github.com/gin-gonic/gin"
	"github.com/vitwit/x402split/types"
)

// RequirementFunc builds the payment requirement of the current request.
// It runs on every request; nothing is cached between calls.
type RequirementFunc func(c *gin.Context) (*types.PaymentRequirement, error)

// RecipientResolver maps something the caller supplied, usually a path
// parameter, to a recipient address.
type RecipientResolver func(c *gin.Context) (string, error)

// StaticRequirement returns the same requirement for every request.
func StaticRequirement(req types.PaymentRequirement) RequirementFunc {
	return func(c *gin.Context) (*types.PaymentRequirement, error) {
		out := clone(req)
		out.Resource = resourceOf(c, out.Resource)
		return &out, nil
	}
}

// DynamicRequirement returns template with the recipient of its first
// split replaced by whatever resolve returns for the request. The other
// splits are kept as they are.
func DynamicRequirement(template types.PaymentRequirement, resolve RecipientResolver) RequirementFunc {
	return func(c *gin.Context) (*types.PaymentRequirement, error) {
		if len(template.Splits) == 0 {
			return nil, types.NewError(types.ErrInvalidSplitConfig, "requirement template has no splits")
		}

		primary, err := resolve(c)
		if err != nil {
			return nil, err
		}

		out := clone(template)
		out.Splits[0].Recipient = primary
		out.Resource = resourceOf(c, out.Resource)
		return &out, nil
	}
}

func clone(req types.PaymentRequirement) types.PaymentRequirement {
	out := req
	out.Splits = append([]types.PaymentSplit(nil), req.Splits...)
	out.SupportedTokens = append([]string(nil), req.SupportedTokens...)
	if out.ProtocolVersion == 0 {
		out.ProtocolVersion = types.X402Version1
	}
	return out
}

func resourceOf(c *gin.Context, fallback string) string {
	if fallback != "" {
		return fallback
	}
	return c.Request.URL.Path
}

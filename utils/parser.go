package utils

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/x402split/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("solpubkey", validateSolanaPubkeyTag)
}

// ValidateStruct runs struct-tag validation and maps failures to
// INVALID_REQUEST.
func ValidateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidRequest,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}
	return nil
}

// ParseFacilitatorConfig parses and validates FacilitatorConfig from JSON
func ParseFacilitatorConfig(data []byte) (*types.FacilitatorConfig, error) {
	var config types.FacilitatorConfig

	if err := json.Unmarshal(data, &config); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("failed to parse facilitator config: %v", err),
		}
	}

	if err := CheckFacilitatorConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// CheckFacilitatorConfig validates an already populated config.
func CheckFacilitatorConfig(config *types.FacilitatorConfig) error {
	if err := validate.Struct(config); err != nil {
		return &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	if !config.Network.IsSolana() {
		return &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("unsupported network: %s", config.Network),
		}
	}

	for _, token := range config.SupportedTokens {
		if err := ValidateAddress(token); err != nil {
			return &types.X402Error{
				Code:    types.ErrConfigError,
				Message: fmt.Sprintf("supported token %q: %v", token, err),
			}
		}
	}

	return nil
}

// ParsePaymentRequired parses a gateway 422 body.
func ParsePaymentRequired(data []byte) (*types.PaymentRequiredBody, error) {
	var body types.PaymentRequiredBody

	if err := json.Unmarshal(data, &body); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrUnexpectedResponse,
			Message: fmt.Sprintf("failed to parse payment requirement: %v", err),
		}
	}

	if body.X402.RequiredAmount == 0 || len(body.X402.PaymentSplits) == 0 {
		return nil, &types.X402Error{
			Code:    types.ErrUnexpectedResponse,
			Message: "payment requirement is missing required_amount or payment_splits",
		}
	}

	for i := range body.X402.PaymentSplits {
		if err := validate.Struct(&body.X402.PaymentSplits[i]); err != nil {
			return nil, &types.X402Error{
				Code:    types.ErrUnexpectedResponse,
				Message: fmt.Sprintf("payment_splits[%d]: %v", i, err),
			}
		}
	}

	return &body, nil
}

func validateSolanaPubkeyTag(fl validator.FieldLevel) bool {
	return ValidateAddress(fl.Field().String()) == nil
}

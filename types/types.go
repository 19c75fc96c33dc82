package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// PaymentScheme represents different payment schemes
type PaymentScheme string

const (
	SchemeExact PaymentScheme = "exact"
	SchemeSplit PaymentScheme = "split"
)

// PaymentSplit is one entry of a payment distribution. Exactly one of
// Percentage or FixedAmount is set.
type PaymentSplit struct {
	// Base58 public key of the recipient.
	Recipient string `json:"recipient"`

	// Share of the remaining pool, 0 to 100.
	Percentage *decimal.Decimal `json:"percentage,omitempty"`

	// Fixed amount in minor units, resolved before any percentage entry.
	FixedAmount *uint64 `json:"fixedAmount,omitempty"`
}

// IsFixed reports whether the split carries a fixed amount.
func (s PaymentSplit) IsFixed() bool {
	return s.FixedAmount != nil
}

// ComputedSplit is a resolved recipient and amount pair.
type ComputedSplit struct {
	Recipient string `json:"recipient" validate:"required,solpubkey"`
	Amount    uint64 `json:"amount" validate:"gt=0"`
}

// PercentageSplit is a convenience constructor for percentage entries.
func PercentageSplit(recipient string, pct float64) PaymentSplit {
	d := decimal.NewFromFloat(pct)
	return PaymentSplit{Recipient: recipient, Percentage: &d}
}

// FixedSplit is a convenience constructor for fixed-amount entries.
func FixedSplit(recipient string, amount uint64) PaymentSplit {
	return PaymentSplit{Recipient: recipient, FixedAmount: &amount}
}

// PaymentRequirement describes what a protected resource costs. It is
// created fresh for every request and never persisted.
type PaymentRequirement struct {
	// Total amount in minor units (lamports).
	RequiredAmount uint64 `json:"required_amount"`

	// Tokens the payer may use to fund network fees.
	SupportedTokens []string `json:"supported_tokens"`

	// Declared distribution of RequiredAmount.
	Splits []PaymentSplit `json:"payment_splits"`

	ProtocolVersion X402Version `json:"protocol_version"`

	// Network the payment must be made on.
	Network string `json:"network,omitempty"`

	// URL of the resource being purchased.
	Resource string `json:"resource,omitempty"`
}

// Validate checks the requirement for structural problems. Split
// arithmetic is validated by the splitter.
func (r *PaymentRequirement) Validate() error {
	if r.RequiredAmount == 0 {
		return NewError(ErrInvalidRequest, "required_amount must be greater than 0")
	}

	if len(r.Splits) == 0 {
		return NewError(ErrInvalidSplitConfig, "payment_splits is required")
	}

	for i, s := range r.Splits {
		if s.Recipient == "" {
			return NewError(ErrInvalidSplitConfig, "payment_splits[%d].recipient is required", i)
		}
		if (s.Percentage == nil) == (s.FixedAmount == nil) {
			return NewError(ErrInvalidSplitConfig, "payment_splits[%d] must set exactly one of percentage or fixedAmount", i)
		}
	}

	return nil
}

// PaymentRequiredBody is the gateway's 422 response.
type PaymentRequiredBody struct {
	Error string              `json:"error"`
	X402  PaymentRequiredX402 `json:"x402"`
}

// PaymentRequiredX402 carries the requirement in the gateway's 422 body.
type PaymentRequiredX402 struct {
	Message         string          `json:"message"`
	RequiredAmount  uint64          `json:"required_amount"`
	SupportedTokens []string        `json:"supported_tokens"`
	PaymentSplits   []ComputedSplit `json:"payment_splits"`
	Network         string          `json:"network,omitempty"`
	Resource        string          `json:"resource,omitempty"`
	X402Version     int             `json:"x402Version"`
}

// PaymentProof is the decoded X-PAYMENT header a client presents after
// settlement.
type PaymentProof struct {
	X402Version int                 `json:"x402Version"`
	Scheme      string              `json:"scheme"`
	Network     string              `json:"network"`
	Payload     PaymentProofPayload `json:"payload"`
}

// PaymentProofPayload holds the settled transaction and its network signature.
type PaymentProofPayload struct {
	// Base64 encoded transaction as settled.
	Transaction string `json:"transaction"`

	// Base58 network signature returned by /settle.
	Signature string `json:"signature"`
}

// Validate checks that the proof contains all required fields.
func (p *PaymentProof) Validate() error {
	if p.X402Version <= 0 {
		return fmt.Errorf("x402Version must be greater than 0")
	}

	if p.Payload.Transaction == "" {
		return fmt.Errorf("payload.transaction is required")
	}

	if p.Payload.Signature == "" {
		return fmt.Errorf("payload.signature is required")
	}

	return nil
}

// VerificationResult contains the result of transaction verification
type VerificationResult struct {
	Valid           bool            `json:"valid"`
	FeeEstimate     uint64          `json:"fee_estimate"`
	RecoveredSplits []ComputedSplit `json:"recovered_splits"`
	TotalRecovered  uint64          `json:"total_recovered"`
	Message         string          `json:"message,omitempty"`

	// Size of the decoded transaction in bytes.
	TransactionSize int `json:"transaction_size"`
}

// SettlementResult contains the result of payment settlement
type SettlementResult struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Message   string `json:"message,omitempty"`
}

// FeeAbstractionInstruction is the instruction a fee-abstraction signer
// wants injected, and the address that becomes the network fee payer.
type FeeAbstractionInstruction struct {
	EncodedInstruction []byte `json:"encoded_instruction"`
	SignerAddress      string `json:"signer_address"`
}

// FeeEstimate is the fee-abstraction signer's quote for a transaction.
type FeeEstimate struct {
	FeeInLamports uint64 `json:"fee_in_lamports"`
	FeeInToken    uint64 `json:"fee_in_token"`
}

// FacilitatorConfig contains the static configuration of a facilitator.
type FacilitatorConfig struct {
	// JSON-RPC endpoint of the fee-abstraction (Kora) signer.
	KoraRPCURL string `json:"koraRpcUrl" mapstructure:"kora_rpc_url" validate:"required,url"`

	// Optional API key sent to the signer.
	KoraAPIKey string `json:"koraApiKey,omitempty" mapstructure:"kora_api_key"`

	// Solana JSON-RPC endpoint, used for blockhashes and confirmations.
	SolanaRPCURL string `json:"solanaRpcUrl,omitempty" mapstructure:"solana_rpc_url" validate:"omitempty,url"`

	Network Network `json:"network" mapstructure:"network" validate:"required"`

	// Token used for fee estimates when a caller does not name one.
	DefaultFeeToken string `json:"defaultFeeToken" mapstructure:"default_fee_token" validate:"required"`

	// Tokens advertised when the signer cannot be reached for its list.
	SupportedTokens []string `json:"supportedTokens,omitempty" mapstructure:"supported_tokens"`

	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty" mapstructure:"default_timeout"`
	ListenAddr     string        `json:"listenAddr,omitempty" mapstructure:"listen_addr"`
	LogLevel       string        `json:"logLevel,omitempty" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics  bool          `json:"enableMetrics,omitempty" mapstructure:"enable_metrics"`
}

// Timeout returns the configured timeout or the 30s default.
func (c *FacilitatorConfig) Timeout() time.Duration {
	if c == nil || c.DefaultTimeout <= 0 {
		return 30 * time.Second
	}
	return c.DefaultTimeout
}

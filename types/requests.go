package types

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	// Base64 encoded transaction.
	Transaction string `json:"transaction" validate:"required"`

	// Optional fee token for the fee estimate.
	FeeToken string `json:"fee_token,omitempty"`
}

// PaymentInfo is the split breakdown recovered from transaction bytes.
type PaymentInfo struct {
	PaymentSplits []ComputedSplit `json:"paymentSplits"`
	TotalAmount   uint64          `json:"totalAmount"`
}

// VerifyResponse is the body returned by POST /verify.
type VerifyResponse struct {
	Success          bool        `json:"success"`
	TransactionValid bool        `json:"transaction_valid"`
	FeeEstimate      uint64      `json:"fee_estimate"`
	TransactionSize  int         `json:"transaction_size"`
	PaymentInfo      PaymentInfo `json:"payment_info"`
	Message          string      `json:"message"`
}

// SettleRequest is the body of POST /settle.
type SettleRequest struct {
	Transaction   string          `json:"transaction" validate:"required"`
	PaymentSplits []ComputedSplit `json:"payment_splits" validate:"required,min=1,dive"`
	Payer         string          `json:"payer" validate:"required,solpubkey"`
}

// SettleResponse is the body returned by POST /settle.
type SettleResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	Message   string `json:"message"`
}

// PaymentInstructionRequest is the body of POST /get-payment-instruction.
type PaymentInstructionRequest struct {
	Transaction  string `json:"transaction" validate:"required"`
	FeeToken     string `json:"fee_token" validate:"required,solpubkey"`
	SourceWallet string `json:"source_wallet" validate:"required,solpubkey"`
}

// PaymentInstructionResponse is the body returned by POST /get-payment-instruction.
type PaymentInstructionResponse struct {
	// Base64 encoded instruction.
	PaymentInstruction string `json:"payment_instruction"`
	SignerAddress      string `json:"signer_address"`
}

// SignerResponse is the body returned by GET /get-kora-signer.
type SignerResponse struct {
	SignerAddress string `json:"signer_address"`
}

package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/vitwit/x402split/types"
	"github.com/vitwit/x402split/utils"
)

const (
	// PaymentHeader carries the base64 JSON payment proof.
	PaymentHeader = "X-PAYMENT"

	// PaymentResponseHeader carries the base64 JSON receipt of an accepted proof.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// Receipt is returned in PaymentResponseHeader.
type Receipt struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	Network   string `json:"network,omitempty"`
}

// EncodeProof serializes a proof for PaymentHeader.
func EncodeProof(p *types.PaymentProof) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeProof parses PaymentHeader.
func DecodeProof(header string) (*types.PaymentProof, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid payment header encoding: %w", err)
	}

	var p types.PaymentProof
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid payment header: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid payment header: %w", err)
	}
	if err := utils.ValidateSignature(p.Payload.Signature); err != nil {
		return nil, fmt.Errorf("invalid payment header: %w", err)
	}

	return &p, nil
}

// EncodeReceipt serializes a receipt for PaymentResponseHeader.
func EncodeReceipt(r Receipt) string {
	raw, _ := json.Marshal(r)
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeReceipt parses PaymentResponseHeader.
func DecodeReceipt(header string) (*Receipt, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

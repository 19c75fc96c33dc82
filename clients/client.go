package clients

import (
	"context"

	"github.com/gagliardetto/solana-go"
	x402types "github.com/vitwit/x402split/types"
)

// FeeAbstraction is the narrow contract of a co-signing service that fronts
// network fees and recoups them in a designated token. Transactions are
// passed as base64 strings, the way the service receives them.
type FeeAbstraction interface {
	// GetSupportedTokens lists the mints accepted for fee payment.
	GetSupportedTokens(ctx context.Context) ([]string, error)

	// EstimateFee quotes tx without signing or broadcasting it. It fails
	// for structurally or semantically invalid transactions.
	EstimateFee(ctx context.Context, tx string, feeToken string) (*x402types.FeeEstimate, error)

	// GetPaymentInstruction returns the fee payment instruction to inject
	// and the address that becomes the network fee payer.
	GetPaymentInstruction(ctx context.Context, tx string, feeToken string, sourceWallet string) (*x402types.FeeAbstractionInstruction, error)

	// SignAndSend co-signs tx as fee payer and broadcasts it.
	SignAndSend(ctx context.Context, tx string) (*SignedTransaction, error)

	// GetSigner returns the address the service signs with.
	GetSigner(ctx context.Context) (string, error)
}

// SignedTransaction is the outcome of SignAndSend.
type SignedTransaction struct {
	// Signature as reported by the service. Not trusted on its own.
	Signature string `json:"signature"`

	// Base64 encoded transaction as broadcast.
	SignedTransaction string `json:"signed_transaction"`
}

// Ledger is the read side of the Solana network used while building and
// after settling a payment.
type Ledger interface {
	// LatestBlockhash returns a blockhash new transactions can reference.
	LatestBlockhash(ctx context.Context) (solana.Hash, error)

	// WaitForConfirmation blocks until sig is confirmed or ctx is done.
	WaitForConfirmation(ctx context.Context, sig string) (*Confirmation, error)

	GetNetwork() x402types.Network

	Close()
}

// Confirmation is the ledger's view of a landed transaction.
type Confirmation struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Status    string `json:"status"`
}

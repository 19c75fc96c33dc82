package orchestrator

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402split/envelope"
)

// State is a step of the payment flow.
type State string

const (
	StateIdle               State = "idle"
	StateDiscovering        State = "discovering"
	StateNoPaymentNeeded    State = "no_payment_needed"
	StateAccessingDirect    State = "accessing_direct"
	StatePaymentRequired    State = "payment_required"
	StateBuilding           State = "building"
	StateVerifying          State = "verifying"
	StateSettling           State = "settling"
	StateAccessingWithProof State = "accessing_with_proof"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Status is reported on every transition. Reason and Err are set only
// for StateFailed; Reason is one of the types error codes.
type Status struct {
	State   State
	Message string
	Reason  string
	Err     error
}

// StatusFunc receives status updates. It is called synchronously from
// Run and must not block for long.
type StatusFunc func(Status)

// BlockhashSource supplies recent blockhashes for new transactions.
// *clients.SolanaClient satisfies it.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// Wallet signs payment transactions on behalf of the payer.
type Wallet interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// KeypairWallet signs with an in-memory private key.
type KeypairWallet struct {
	key solana.PrivateKey
}

// NewKeypairWallet wraps key.
func NewKeypairWallet(key solana.PrivateKey) *KeypairWallet {
	return &KeypairWallet{key: key}
}

func (w *KeypairWallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

// SignTransaction fills the payer's signature slot, leaving the fee
// payer slot for the co-signer.
func (w *KeypairWallet) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	_, err := envelope.Sign(tx, w.key)
	return err
}

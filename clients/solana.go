package clients

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	x402types "github.com/vitwit/x402split/types"
)

// SolanaClient provides the little ledger access the payment flow needs:
// fresh blockhashes for building and signature status for confirming.
type SolanaClient struct {
	network x402types.Network
	rpcURL  string
	client  *rpc.Client

	// PollInterval is the delay between status polls in WaitForConfirmation.
	PollInterval time.Duration
}

var _ Ledger = (*SolanaClient)(nil)

// NewSolanaClient creates a ledger client for rpcURL.
func NewSolanaClient(network x402types.Network, rpcURL string) (*SolanaClient, error) {
	if !network.IsSolana() {
		return nil, x402types.NewError(x402types.ErrConfigError, "unsupported network: %s", network)
	}
	if rpcURL == "" {
		return nil, x402types.NewError(x402types.ErrConfigError, "solana rpc url is required")
	}

	return &SolanaClient{
		network:      network,
		rpcURL:       rpcURL,
		client:       rpc.New(rpcURL),
		PollInterval: 2 * time.Second,
	}, nil
}

// LatestBlockhash returns the most recent finalized blockhash.
func (s *SolanaClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	res, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if res == nil || res.Value == nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: empty response")
	}
	return res.Value.Blockhash, nil
}

// WaitForConfirmation polls the status of sig until it reaches at least
// confirmed commitment, fails on chain, or ctx is done.
func (s *SolanaClient) WaitForConfirmation(ctx context.Context, sig string) (*Confirmation, error) {
	signature, err := solana.SignatureFromBase58(sig)
	if err != nil {
		return nil, x402types.NewError(x402types.ErrInvalidRequest, "invalid signature: %v", err)
	}

	interval := s.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := s.client.GetSignatureStatuses(ctx, true, signature)
		if err == nil && status != nil && len(status.Value) > 0 && status.Value[0] != nil {
			st := status.Value[0]
			if st.Err != nil {
				return nil, fmt.Errorf("%s: %v", ReasonTransactionFailed, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return &Confirmation{
					Signature: sig,
					Slot:      st.Slot,
					Status:    string(st.ConfirmationStatus),
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", ReasonConfirmationTimedOut, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *SolanaClient) GetNetwork() x402types.Network { return s.network }

func (s *SolanaClient) Close() {}

package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/vitwit/x402split/clients"
	"github.com/vitwit/x402split/logger"
	"github.com/vitwit/x402split/splitter"
	"github.com/vitwit/x402split/types"
)

// Verifier interface defines the contract for payment verification
type Verifier interface {
	Verify(ctx context.Context, transaction string, feeToken string) (*types.VerificationResult, error)
}

// VerificationService checks payment envelopes without mutating or
// broadcasting them.
type VerificationService struct {
	fee             clients.FeeAbstraction
	defaultFeeToken string
	timeout         time.Duration
	logger          logger.Logger
}

var _ Verifier = (*VerificationService)(nil)

// NewVerificationService creates a new verification service
func NewVerificationService(fee clients.FeeAbstraction, defaultFeeToken string, timeout time.Duration, log logger.Logger) *VerificationService {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &VerificationService{
		fee:             fee,
		defaultFeeToken: defaultFeeToken,
		timeout:         timeout,
		logger:          log,
	}
}

// Verify decodes transaction, asks the fee-abstraction signer for a fee
// estimate and recovers the system transfers it encodes.
//
// Undecodable input fails with MALFORMED_TRANSACTION and a transaction
// without instructions with EMPTY_TRANSACTION. A signer that rejects the
// transaction yields an invalid result; a signer that cannot be reached
// yields an UPSTREAM_SIGNER_UNAVAILABLE error.
func (s *VerificationService) Verify(ctx context.Context, transaction string, feeToken string) (*types.VerificationResult, error) {
	tx, size, err := envelopeDecode(transaction)
	if err != nil {
		return nil, err
	}

	if len(tx.Message.Instructions) == 0 {
		return nil, types.NewError(types.ErrEmptyTransaction, "transaction has no instructions")
	}

	transfers, err := ParseTransfers(tx)
	if err != nil {
		return nil, err
	}
	recovered := Splits(transfers)

	if feeToken == "" {
		feeToken = s.defaultFeeToken
	}

	verifyCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	estimate, err := s.fee.EstimateFee(verifyCtx, transaction, feeToken)
	if err != nil {
		if clients.IsRejection(err) {
			s.logger.Info("transaction rejected by fee signer", map[string]any{
				"error": err.Error(),
				"size":  size,
			})
			return &types.VerificationResult{
				Valid:           false,
				RecoveredSplits: recovered,
				TotalRecovered:  splitter.Total(recovered),
				TransactionSize: size,
				Message:         fmt.Sprintf("transaction rejected: %v", err),
			}, nil
		}

		s.logger.Error("fee estimate failed", map[string]any{"error": err.Error()})
		return nil, err
	}

	s.logger.Debug("transaction verified", map[string]any{
		"instructions": len(tx.Message.Instructions),
		"transfers":    len(transfers),
		"fee":          estimate.FeeInLamports,
	})

	return &types.VerificationResult{
		Valid:           true,
		FeeEstimate:     estimate.FeeInLamports,
		RecoveredSplits: recovered,
		TotalRecovered:  splitter.Total(recovered),
		TransactionSize: size,
		Message:         "transaction is valid",
	}, nil
}

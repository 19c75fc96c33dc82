package settlement

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402split/clients"
	"github.com/vitwit/x402split/composer"
	"github.com/vitwit/x402split/envelope"
	"github.com/vitwit/x402split/logger"
	"github.com/vitwit/x402split/types"
	"github.com/vitwit/x402split/utils"
	"github.com/vitwit/x402split/verification"
)

// Settler interface defines the contract for payment settlement
type Settler interface {
	Settle(ctx context.Context, request *types.SettleRequest) (*types.SettlementResult, error)
}

// SettlementService completes payment envelopes and hands them to the
// fee-abstraction signer for co-signing and broadcast. It holds no keys.
type SettlementService struct {
	fee     clients.FeeAbstraction
	timeout time.Duration
	logger  logger.Logger
}

var _ Settler = (*SettlementService)(nil)

// NewSettlementService creates a new settlement service
func NewSettlementService(fee clients.FeeAbstraction, timeout time.Duration, log logger.Logger) *SettlementService {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &SettlementService{
		fee:     fee,
		timeout: timeout,
		logger:  log,
	}
}

// Settle makes sure the transaction pays every declared split from the
// payer, then submits it. Splits already encoded from the payer are not
// appended twice. The returned signature is the first signature of the
// transaction the signer reports as sent.
//
// A signature attempt is made at most once per call; retrying a failed
// settlement needs a transaction with a fresh blockhash.
func (s *SettlementService) Settle(ctx context.Context, request *types.SettleRequest) (*types.SettlementResult, error) {
	if request == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "settlement request is nil")
	}
	if err := utils.ValidateStruct(request); err != nil {
		return nil, err
	}

	payer, err := utils.ParseAddress(request.Payer)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid payer: %v", err)
	}

	tx, _, err := envelope.DecodeBase64(request.Transaction)
	if err != nil {
		return nil, err
	}

	existing, err := payerSplits(tx, payer)
	if err != nil {
		return nil, err
	}

	missing := verification.Missing(existing, request.PaymentSplits)
	if len(missing) > 0 {
		if envelope.HasSignatures(tx) {
			return nil, types.NewError(types.ErrInvalidRequest,
				"transaction is already signed and lacks %d declared transfers", len(missing))
		}

		tx, err = composer.AppendTransfers(tx, missing, payer)
		if err != nil {
			return nil, err
		}
	}

	if err := reconcile(tx, payer, request.PaymentSplits); err != nil {
		return nil, err
	}

	encoded, err := envelope.EncodeBase64(tx)
	if err != nil {
		return nil, err
	}

	settleCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		settleCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	signed, err := s.fee.SignAndSend(settleCtx, encoded)
	if err != nil {
		if clients.IsRejection(err) {
			s.logger.Warn("signer rejected settlement", map[string]any{
				"payer": request.Payer,
				"error": err.Error(),
			})
			return nil, types.NewError(types.ErrSigningFailure, "signer rejected the transaction: %v", err)
		}

		s.logger.Error("signer unavailable during settlement", map[string]any{
			"payer": request.Payer,
			"error": err.Error(),
		})
		if types.ErrorCode(err) == "" {
			return nil, types.NewError(types.ErrUpstreamSignerUnavailable, "signer unavailable: %v", err)
		}
		return nil, err
	}

	signature, err := firstSignature(signed)
	if err != nil {
		s.logger.Error("signer returned an unusable transaction", map[string]any{
			"payer": request.Payer,
			"error": err.Error(),
		})
		return nil, err
	}

	if signed.Signature != "" && signed.Signature != signature {
		s.logger.Warn("signer reported a different signature", map[string]any{
			"reported": signed.Signature,
			"decoded":  signature,
		})
	}

	s.logger.Info("payment settled", map[string]any{
		"payer":     request.Payer,
		"signature": signature,
		"splits":    len(request.PaymentSplits),
	})

	return &types.SettlementResult{
		Success:   true,
		Signature: signature,
		Message:   "payment settled",
	}, nil
}

func payerSplits(tx *solana.Transaction, payer solana.PublicKey) ([]types.ComputedSplit, error) {
	transfers, err := verification.ParseTransfers(tx)
	if err != nil {
		return nil, err
	}
	return verification.Splits(verification.From(transfers, payer)), nil
}

// reconcile checks that the payer's transfers in tx are exactly the
// declared splits, so what verification recovers equals what is settled.
func reconcile(tx *solana.Transaction, payer solana.PublicKey, declared []types.ComputedSplit) error {
	got, err := payerSplits(tx, payer)
	if err != nil {
		return err
	}

	if missing := verification.Missing(got, declared); len(missing) > 0 {
		return types.NewError(types.ErrPaymentMismatch, "transaction lacks %d declared transfers", len(missing))
	}
	if extra := verification.Missing(declared, got); len(extra) > 0 {
		return types.NewError(types.ErrPaymentMismatch, "transaction pays %d undeclared transfers from the payer", len(extra))
	}

	return nil
}

func firstSignature(signed *clients.SignedTransaction) (string, error) {
	if signed == nil || signed.SignedTransaction == "" {
		return "", types.NewError(types.ErrSigningFailure, "signer returned no transaction")
	}

	tx, _, err := envelope.DecodeBase64(signed.SignedTransaction)
	if err != nil {
		return "", types.NewError(types.ErrSigningFailure, "signer returned an undecodable transaction: %v", err)
	}

	sig, ok := envelope.FirstSignature(tx)
	if !ok {
		return "", types.NewError(types.ErrSigningFailure, "signer returned a transaction without signatures")
	}

	return sig.String(), nil
}

// BatchSettle settles independent payments concurrently. Results keep the
// order of requests; a failed settlement is recorded as an unsuccessful
// result carrying the error message.
func (s *SettlementService) BatchSettle(
	ctx context.Context,
	requests []*types.SettleRequest,
) ([]*types.SettlementResult, error) {
	results := make([]*types.SettlementResult, len(requests))

	type settlementResult struct {
		index  int
		result *types.SettlementResult
		err    error
	}

	resultChan := make(chan settlementResult, len(requests))

	for i, request := range requests {
		go func(index int, req *types.SettleRequest) {
			result, err := s.Settle(ctx, req)
			resultChan <- settlementResult{
				index:  index,
				result: result,
				err:    err,
			}
		}(i, request)
	}

	for i := 0; i < len(requests); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			if res.err != nil {
				results[res.index] = &types.SettlementResult{
					Success: false,
					Message: res.err.Error(),
				}
				continue
			}
			results[res.index] = res.result
		}
	}

	return results, nil
}

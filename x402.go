// Package x402 implements a stateless x402 facilitator for split payments
// on Solana. Verification and settlement are delegated to a
// fee-abstraction signer; the facilitator itself holds no private keys.
package x402

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/x402split/clients"
	"github.com/vitwit/x402split/envelope"
	"github.com/vitwit/x402split/logger"
	"github.com/vitwit/x402split/metrics"
	"github.com/vitwit/x402split/settlement"
	"github.com/vitwit/x402split/types"
	"github.com/vitwit/x402split/utils"
	"github.com/vitwit/x402split/verification"
)

// X402 is the facilitator service. It is safe for concurrent use; only the
// static configuration is shared between requests.
type X402 struct {
	config   *types.FacilitatorConfig
	fee      clients.FeeAbstraction
	verifier *verification.VerificationService
	settler  *settlement.SettlementService

	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration
}

// New creates a facilitator from config. Unless WithFeeAbstraction is
// given, a Kora client for config.KoraRPCURL is used.
func New(config *types.FacilitatorConfig, opts ...Option) (*X402, error) {
	if config == nil {
		return nil, types.NewError(types.ErrConfigError, "facilitator config is required")
	}
	if err := utils.CheckFacilitatorConfig(config); err != nil {
		return nil, err
	}

	x := &X402{
		config:  config,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		timeout: config.Timeout(),
	}
	for _, opt := range opts {
		opt(x)
	}

	if x.fee == nil {
		x.fee = clients.NewKoraClient(config.KoraRPCURL, config.KoraAPIKey, x.timeout)
	}

	x.verifier = verification.NewVerificationService(x.fee, config.DefaultFeeToken, x.timeout, x.logger)
	x.settler = settlement.NewSettlementService(x.fee, x.timeout, x.logger)

	return x, nil
}

// Config returns the configuration the facilitator was built with.
func (x *X402) Config() *types.FacilitatorConfig {
	return x.config
}

// Supported describes the facilitator's capabilities. The token list comes
// from the signer, or from the configured list when the signer cannot be
// reached.
func (x *X402) Supported(ctx context.Context) (*types.SupportedResponse, error) {
	start := time.Now()

	tokens, err := x.fee.GetSupportedTokens(ctx)
	if err != nil {
		if len(x.config.SupportedTokens) == 0 {
			x.record(metrics.EventSupported, start, metrics.OutcomeError)
			x.logger.Error("supported tokens unavailable", map[string]any{"error": err.Error()})
			return nil, err
		}
		x.logger.Warn("using configured supported tokens", map[string]any{"error": err.Error()})
		tokens = x.config.SupportedTokens
	}
	x.record(metrics.EventSupported, start, metrics.OutcomeSuccess)

	return &types.SupportedResponse{
		Version:         Version,
		Network:         x.config.Network.String(),
		SupportedTokens: tokens,
		PaymentMethods:  []string{string(types.SchemeSplit), string(types.SchemeExact)},
		Capabilities: types.Capabilities{
			FeeAbstraction:   true,
			PaymentSplitting: true,
			TokenPayments:    true,
		},
		APIEndpoints: APIEndpoints,
	}, nil
}

// Verify checks a payment envelope without mutating or broadcasting it.
func (x *X402) Verify(ctx context.Context, request *types.VerifyRequest) (*types.VerificationResult, error) {
	start := time.Now()

	if request == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "verify request is nil")
	}
	if request.Transaction == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "transaction is required")
	}

	res, err := x.verifier.Verify(ctx, request.Transaction, request.FeeToken)
	switch {
	case err != nil:
		x.record(metrics.EventVerify, start, metrics.OutcomeError)
	case !res.Valid:
		x.record(metrics.EventVerify, start, metrics.OutcomeInvalid)
	default:
		x.record(metrics.EventVerify, start, metrics.OutcomeSuccess)
	}

	return res, err
}

// Settle completes and submits a payment envelope.
func (x *X402) Settle(ctx context.Context, request *types.SettleRequest) (*types.SettlementResult, error) {
	start := time.Now()

	res, err := x.settler.Settle(ctx, request)
	if err != nil {
		x.record(metrics.EventSettle, start, metrics.OutcomeError)
		return nil, err
	}

	x.record(metrics.EventSettle, start, metrics.OutcomeSuccess)
	return res, nil
}

// BatchSettle settles independent payments concurrently
func (x *X402) BatchSettle(ctx context.Context, requests []*types.SettleRequest) ([]*types.SettlementResult, error) {
	if len(requests) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "at least one settlement request is required")
	}
	return x.settler.BatchSettle(ctx, requests)
}

// PaymentInstruction asks the signer for the fee payment instruction of
// a transaction. The result is what a client injects before signing.
func (x *X402) PaymentInstruction(ctx context.Context, request *types.PaymentInstructionRequest) (*types.PaymentInstructionResponse, error) {
	start := time.Now()

	if request == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "payment instruction request is nil")
	}
	if err := utils.ValidateStruct(request); err != nil {
		return nil, err
	}
	if _, _, err := envelope.DecodeBase64(request.Transaction); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	ix, err := x.fee.GetPaymentInstruction(callCtx, request.Transaction, request.FeeToken, request.SourceWallet)
	if err != nil {
		x.record(metrics.EventPaymentInstruction, start, metrics.OutcomeError)
		x.logger.Error("payment instruction failed", map[string]any{
			"source_wallet": request.SourceWallet,
			"error":         err.Error(),
		})
		if clients.IsRejection(err) {
			return nil, types.NewError(types.ErrSigningFailure, "signer refused a payment instruction: %v", err)
		}
		return nil, err
	}

	x.record(metrics.EventPaymentInstruction, start, metrics.OutcomeSuccess)

	return &types.PaymentInstructionResponse{
		PaymentInstruction: base64.StdEncoding.EncodeToString(ix.EncodedInstruction),
		SignerAddress:      ix.SignerAddress,
	}, nil
}

// Signer returns the fee-abstraction signer's address.
func (x *X402) Signer(ctx context.Context) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	return x.fee.GetSigner(callCtx)
}

func (x *X402) record(event string, start time.Time, outcome string) {
	network := x.config.Network.String()
	labels := map[string]string{"network": network, "outcome": outcome}
	x.metrics.IncCounter(event, labels)
	x.metrics.ObserveLatency(event, time.Since(start), labels)
}

// Version information
const (
	Version         = "1.0.0"
	ProtocolVersion = int(types.X402Version1)
)

// APIEndpoints lists the facilitator's HTTP routes.
var APIEndpoints = []string{
	"GET /supported",
	"POST /verify",
	"POST /settle",
	"POST /get-payment-instruction",
	"GET /get-kora-signer",
	"GET /health",
}

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":  Version,
		"protocol_version": ProtocolVersion,
		"supported_networks": []string{
			types.NetworkSolanaMainnet.String(),
			types.NetworkSolanaDevnet.String(),
			types.NetworkSolanaLocal.String(),
		},
		"supported_schemes": []string{
			string(types.SchemeSplit), string(types.SchemeExact),
		},
	}
}

// DecimalFromString helper function
func DecimalFromString(s string) *decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

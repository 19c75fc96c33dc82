// Package gateway protects gin routes with split payments. Requests
// without a payment proof receive the per-request requirement; requests
// with one are verified with the facilitator before they reach the
// handler.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vitwit/x402split/clients"
	"github.com/vitwit/x402split/envelope"
	"github.com/vitwit/x402split/facilitator"
	"github.com/vitwit/x402split/logger"
	"github.com/vitwit/x402split/metrics"
	"github.com/vitwit/x402split/splitter"
	"github.com/vitwit/x402split/types"
	"github.com/vitwit/x402split/verification"
)

// VerificationKey is the gin context key of the *types.VerificationResult
// of an accepted payment.
const VerificationKey = "x402.verification"

// Facilitator is what the gateway needs from the facilitator.
type Facilitator interface {
	Supported(ctx context.Context) (*types.SupportedResponse, error)
	Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error)
	Signer(ctx context.Context) (string, error)
}

var _ Facilitator = (*facilitator.Client)(nil)

// Confirmer waits for a settled signature to land on the ledger.
type Confirmer interface {
	WaitForConfirmation(ctx context.Context, sig string) (*clients.Confirmation, error)
}

// Config configures Middleware.
type Config struct {
	Facilitator Facilitator
	Requirement RequirementFunc

	// Confirmer, when set, makes the gateway wait for the payment
	// signature to be confirmed before serving the request.
	Confirmer           Confirmer
	ConfirmationTimeout time.Duration

	Logger  logger.Logger
	Metrics metrics.Recorder
}

type gateway struct {
	cfg     Config
	logger  logger.Logger
	metrics metrics.Recorder
}

// Middleware returns a gin handler enforcing payment on the routes it
// wraps.
func Middleware(cfg Config) gin.HandlerFunc {
	g := &gateway{
		cfg:     cfg,
		logger:  logger.OrNoop(cfg.Logger),
		metrics: cfg.Metrics,
	}
	if g.metrics == nil {
		g.metrics = metrics.NoopRecorder{}
	}
	if g.cfg.ConfirmationTimeout <= 0 {
		g.cfg.ConfirmationTimeout = 30 * time.Second
	}
	return g.handle
}

// VerificationFromContext returns the result attached by Middleware.
func VerificationFromContext(c *gin.Context) (*types.VerificationResult, bool) {
	v, ok := c.Get(VerificationKey)
	if !ok {
		return nil, false
	}
	res, ok := v.(*types.VerificationResult)
	return res, ok
}

func (g *gateway) handle(c *gin.Context) {
	req, err := g.cfg.Requirement(c)
	if err != nil {
		g.fail(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		g.fail(c, err)
		return
	}

	computed, err := splitter.ComputeSplits(req.RequiredAmount, req.Splits)
	if err != nil {
		g.fail(c, err)
		return
	}
	computed = payable(computed)

	header := c.GetHeader(PaymentHeader)
	if header == "" {
		g.paymentRequired(c, req, computed, "payment required")
		return
	}

	result, reason, err := g.verifyProof(c.Request.Context(), header, req, computed)
	if err != nil {
		g.unavailable(c, err)
		return
	}
	if reason != "" {
		g.paymentRequired(c, req, computed, reason)
		return
	}

	g.metrics.IncCounter(metrics.EventPaymentAccepted, map[string]string{"network": req.Network, "outcome": metrics.OutcomeSuccess})
	c.Set(VerificationKey, result.verification)
	c.Header(PaymentResponseHeader, EncodeReceipt(Receipt{
		Success:   true,
		Signature: result.signature,
		Network:   req.Network,
	}))
	c.Next()
}

type accepted struct {
	verification *types.VerificationResult
	signature    string
}

// verifyProof returns either an accepted payment, a reason the proof is
// not acceptable, or an error when the facilitator could not answer.
func (g *gateway) verifyProof(ctx context.Context, header string, req *types.PaymentRequirement, computed []types.ComputedSplit) (*accepted, string, error) {
	proof, err := DecodeProof(header)
	if err != nil {
		return nil, err.Error(), nil
	}
	if req.Network != "" && proof.Network != "" && proof.Network != req.Network {
		return nil, "payment was made on " + proof.Network + ", not " + req.Network, nil
	}

	tx, _, err := envelope.DecodeBase64(proof.Payload.Transaction)
	if err != nil {
		return nil, err.Error(), nil
	}
	first, ok := envelope.FirstSignature(tx)
	if !ok || first.String() != proof.Payload.Signature {
		return nil, "payment signature does not match the transaction", nil
	}

	// Settled payments carry the facilitator signer as fee payer.
	signer, err := g.cfg.Facilitator.Signer(ctx)
	if err != nil {
		if facilitator.IsUnavailable(err) {
			return nil, "", err
		}
		return nil, "payment rejected: " + errorMessage(err), nil
	}
	feePayer := tx.Message.AccountKeys[0]
	if feePayer.String() != signer {
		return nil, "payment was not settled through the facilitator's signer", nil
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil || !first.Verify(feePayer, msg) {
		return nil, "payment signature is not valid for the fee payer", nil
	}

	res, err := g.cfg.Facilitator.Verify(ctx, &types.VerifyRequest{Transaction: proof.Payload.Transaction})
	if err != nil {
		if facilitator.IsUnavailable(err) {
			return nil, "", err
		}
		return nil, "payment rejected: " + errorMessage(err), nil
	}
	if !res.TransactionValid {
		return nil, "payment is not valid: " + res.Message, nil
	}

	if missing := verification.Missing(res.PaymentInfo.PaymentSplits, computed); len(missing) > 0 {
		g.logger.Info("payment does not cover requirement", map[string]any{
			"missing":  len(missing),
			"resource": req.Resource,
		})
		return nil, "payment does not cover the required splits", nil
	}

	if g.cfg.Confirmer != nil {
		confirmCtx, cancel := context.WithTimeout(ctx, g.cfg.ConfirmationTimeout)
		defer cancel()

		if _, err := g.cfg.Confirmer.WaitForConfirmation(confirmCtx, proof.Payload.Signature); err != nil {
			return nil, "payment is not confirmed: " + err.Error(), nil
		}
	}

	return &accepted{
		verification: &types.VerificationResult{
			Valid:           true,
			FeeEstimate:     res.FeeEstimate,
			RecoveredSplits: res.PaymentInfo.PaymentSplits,
			TotalRecovered:  res.PaymentInfo.TotalAmount,
			Message:         res.Message,
			TransactionSize: res.TransactionSize,
		},
		signature: proof.Payload.Signature,
	}, "", nil
}

func (g *gateway) paymentRequired(c *gin.Context, req *types.PaymentRequirement, computed []types.ComputedSplit, message string) {
	sup, err := g.cfg.Facilitator.Supported(c.Request.Context())
	if err != nil {
		g.unavailable(c, err)
		return
	}

	tokens := req.SupportedTokens
	if len(tokens) == 0 {
		tokens = sup.SupportedTokens
	}

	network := req.Network
	if network == "" {
		network = sup.Network
	}

	g.metrics.IncCounter(metrics.EventPaymentRequired, map[string]string{"network": network, "outcome": metrics.OutcomeInvalid})

	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, types.PaymentRequiredBody{
		Error: "Payment Required",
		X402: types.PaymentRequiredX402{
			Message:         message,
			RequiredAmount:  req.RequiredAmount,
			SupportedTokens: tokens,
			PaymentSplits:   computed,
			Network:         network,
			Resource:        req.Resource,
			X402Version:     int(req.ProtocolVersion),
		},
	})
}

func (g *gateway) unavailable(c *gin.Context, err error) {
	g.logger.Error("facilitator unavailable", map[string]any{
		"path":  c.Request.URL.Path,
		"error": err.Error(),
	})
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, types.ErrorResponse{
		Success: false,
		Error:   types.ErrFacilitatorUnavailable,
		Message: "payment facilitator is unavailable",
	})
}

// fail answers requirement errors. Caller mistakes are 400; anything else
// is a gateway misconfiguration.
func (g *gateway) fail(c *gin.Context, err error) {
	code := types.ErrorCode(err)
	status := http.StatusInternalServerError
	if code == types.ErrInvalidRequest {
		status = http.StatusBadRequest
	}
	if code == "" {
		code = types.ErrConfigError
	}
	if status >= 500 {
		g.logger.Error("payment requirement failed", map[string]any{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		})
	}

	c.AbortWithStatusJSON(status, types.ErrorResponse{
		Success: false,
		Error:   code,
		Message: errorMessage(err),
	})
}

// payable drops splits that round down to nothing. A transfer of zero
// cannot be built, so such a recipient is not owed anything.
func payable(computed []types.ComputedSplit) []types.ComputedSplit {
	out := make([]types.ComputedSplit, 0, len(computed))
	for _, s := range computed {
		if s.Amount > 0 {
			out = append(out, s)
		}
	}
	return out
}

func errorMessage(err error) string {
	var xe *types.X402Error
	if errors.As(err, &xe) {
		return xe.Message
	}
	return err.Error()
}

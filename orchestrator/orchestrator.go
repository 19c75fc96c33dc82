// Package orchestrator drives a client through a paid request: discover
// the requirement, build and verify the payment, settle it, then fetch
// the resource with proof.
package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402split/composer"
	"github.com/vitwit/x402split/envelope"
	"github.com/vitwit/x402split/facilitator"
	"github.com/vitwit/x402split/gateway"
	"github.com/vitwit/x402split/logger"
	"github.com/vitwit/x402split/splitter"
	"github.com/vitwit/x402split/types"
	"github.com/vitwit/x402split/utils"
	"github.com/vitwit/x402split/verification"
)

// Facilitator is what the orchestrator needs from the facilitator.
type Facilitator interface {
	PaymentInstruction(ctx context.Context, req *types.PaymentInstructionRequest) (*types.PaymentInstructionResponse, error)
	Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error)
	Settle(ctx context.Context, req *types.SettleRequest) (*types.SettleResponse, error)
}

var _ Facilitator = (*facilitator.Client)(nil)

// Config configures an Orchestrator.
type Config struct {
	Facilitator Facilitator
	Blockhash   BlockhashSource
	Wallet      Wallet

	// FeeToken pays network fees. When empty the first token the
	// requirement supports is used.
	FeeToken string

	// MaxAmount, when non-zero, is the most a single Run pays.
	MaxAmount uint64

	// HTTPClient fetches the protected resource. Defaults to a client
	// with a 30s timeout.
	HTTPClient *http.Client

	OnStatus StatusFunc
	Logger   logger.Logger
}

// Result is the outcome of a successful Run.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Set when a payment was made.
	Signature    string
	Requirement  *types.PaymentRequiredX402
	Verification *types.VerifyResponse
}

// Paid reports whether the resource was bought.
func (r *Result) Paid() bool {
	return r.Signature != ""
}

// Orchestrator runs one payment flow at a time.
type Orchestrator struct {
	cfg     Config
	http    *http.Client
	logger  logger.Logger
	running atomic.Bool
	state   atomic.Value
}

// New checks cfg and creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Facilitator == nil {
		return nil, types.NewError(types.ErrConfigError, "facilitator is required")
	}
	if cfg.Blockhash == nil {
		return nil, types.NewError(types.ErrConfigError, "blockhash source is required")
	}
	if cfg.Wallet == nil {
		return nil, types.NewError(types.ErrConfigError, "wallet is required")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	o := &Orchestrator{
		cfg:    cfg,
		http:   hc,
		logger: logger.OrNoop(cfg.Logger),
	}
	o.state.Store(StateIdle)
	return o, nil
}

// State returns the state of the current or last flow.
func (o *Orchestrator) State() State {
	return o.state.Load().(State)
}

// Run fetches url, paying for it when the server asks. A second Run
// while one is in flight fails immediately with INVALID_REQUEST.
//
// ctx cancels the flow only until settlement starts. From then on the
// payment is broadcast and the flow runs to completion regardless.
func (o *Orchestrator) Run(ctx context.Context, url string) (*Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, types.NewError(types.ErrInvalidRequest, "a payment flow is already running")
	}
	defer o.running.Store(false)

	f := &flow{o: o, url: url, log: logger.With(o.logger, map[string]any{"url": url})}
	f.enter(StateIdle, "")
	return f.run(ctx)
}

type flow struct {
	o   *Orchestrator
	url string
	log logger.Logger
}

func (f *flow) enter(s State, msg string) {
	f.o.state.Store(s)
	f.log.Debug("payment flow", map[string]any{"state": string(s), "message": msg})
	if f.o.cfg.OnStatus != nil {
		f.o.cfg.OnStatus(Status{State: s, Message: msg})
	}
}

// fail reports err as the terminal status and returns it. Errors without
// a code are reported as UNEXPECTED_RESPONSE.
func (f *flow) fail(from State, err error) error {
	reason := types.ErrorCode(err)
	if reason == "" {
		reason = types.ErrUnexpectedResponse
		err = &types.X402Error{Code: reason, Message: err.Error()}
	}

	msg := fmt.Sprintf("%s failed: %v", from, err)
	f.o.state.Store(StateFailed)
	f.log.Warn("payment flow failed", map[string]any{
		"state":  string(from),
		"reason": reason,
		"error":  err.Error(),
	})
	if f.o.cfg.OnStatus != nil {
		f.o.cfg.OnStatus(Status{State: StateFailed, Message: msg, Reason: reason, Err: err})
	}
	return err
}

// checkpoint fails the flow when ctx is done.
func (f *flow) checkpoint(ctx context.Context, at State) error {
	if err := ctx.Err(); err != nil {
		return f.fail(at, types.NewError(types.ErrCancelled, "cancelled: %v", err))
	}
	return nil
}

func (f *flow) run(ctx context.Context) (*Result, error) {
	f.enter(StateDiscovering, f.url)

	resp, err := f.get(ctx, "")
	if err != nil {
		if ctx.Err() != nil {
			return nil, f.checkpoint(ctx, StateDiscovering)
		}
		return nil, f.fail(StateDiscovering, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		f.enter(StateNoPaymentNeeded, "resource is free")
		f.enter(StateAccessingDirect, "")
		f.enter(StateDone, "")
		return resp, nil
	case http.StatusUnprocessableEntity:
	default:
		return nil, f.fail(StateDiscovering, types.NewError(types.ErrUnexpectedResponse,
			"resource answered %d", resp.StatusCode))
	}

	body, err := utils.ParsePaymentRequired(resp.Body)
	if err != nil {
		return nil, f.fail(StateDiscovering, err)
	}
	req := &body.X402
	f.enter(StatePaymentRequired, fmt.Sprintf("%d across %d recipients", req.RequiredAmount, len(req.PaymentSplits)))

	if limit := f.o.cfg.MaxAmount; limit > 0 && req.RequiredAmount > limit {
		return nil, f.fail(StatePaymentRequired, types.NewError(types.ErrInvalidRequest,
			"resource costs %d, limit is %d", req.RequiredAmount, limit))
	}
	if err := f.checkpoint(ctx, StatePaymentRequired); err != nil {
		return nil, err
	}

	f.enter(StateBuilding, "")
	tx, err := f.build(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, f.checkpoint(ctx, StateBuilding)
		}
		return nil, f.fail(StateBuilding, err)
	}

	f.enter(StateVerifying, "")
	verified, err := f.verify(ctx, tx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, f.checkpoint(ctx, StateVerifying)
		}
		return nil, f.fail(StateVerifying, err)
	}

	if err := f.checkpoint(ctx, StateVerifying); err != nil {
		return nil, err
	}
	if err := f.o.cfg.Wallet.SignTransaction(ctx, tx); err != nil {
		return nil, f.fail(StateVerifying, types.NewError(types.ErrSigningFailure, "wallet refused to sign: %v", err))
	}
	if err := f.checkpoint(ctx, StateVerifying); err != nil {
		return nil, err
	}

	// Past this point the payment may be on the ledger.
	committed := context.WithoutCancel(ctx)

	f.enter(StateSettling, "")
	signature, err := f.settle(committed, tx, req)
	if err != nil {
		return nil, f.fail(StateSettling, err)
	}

	f.enter(StateAccessingWithProof, signature)
	proof, err := proofHeader(tx, signature, req)
	if err != nil {
		return nil, f.fail(StateAccessingWithProof, err)
	}

	out, err := f.get(committed, proof)
	if err != nil {
		return nil, f.fail(StateAccessingWithProof, err)
	}
	out.Signature = signature
	out.Requirement = req
	out.Verification = verified

	if out.StatusCode != http.StatusOK {
		return out, f.fail(StateAccessingWithProof, types.NewError(types.ErrUnexpectedResponse,
			"resource answered %d after payment %s", out.StatusCode, signature))
	}

	f.enter(StateDone, signature)
	return out, nil
}

func (f *flow) get(ctx context.Context, proof string) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid url: %v", err)
	}
	if proof != "" {
		httpReq.Header.Set(gateway.PaymentHeader, proof)
	}

	resp, err := f.o.http.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrUnexpectedResponse, "request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewError(types.ErrUnexpectedResponse, "failed to read response: %v", err)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// build composes the split transfers under the wallet and hands fee
// payment to the fee-abstraction signer. The result is unsigned.
func (f *flow) build(ctx context.Context, req *types.PaymentRequiredX402) (*solana.Transaction, error) {
	if total := splitter.Total(req.PaymentSplits); total != req.RequiredAmount {
		return nil, types.NewError(types.ErrInvalidSplitConfig,
			"payment splits sum to %d, requirement asks for %d", total, req.RequiredAmount)
	}

	feeToken := f.o.cfg.FeeToken
	if feeToken == "" && len(req.SupportedTokens) > 0 {
		feeToken = req.SupportedTokens[0]
	}
	if feeToken == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "no fee token configured or offered")
	}

	payer := f.o.cfg.Wallet.PublicKey()

	blockhash, err := f.o.cfg.Blockhash.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := composer.Build(req.PaymentSplits, payer, blockhash)
	if err != nil {
		return nil, err
	}

	encoded, err := envelope.EncodeBase64(tx)
	if err != nil {
		return nil, err
	}

	res, err := f.o.cfg.Facilitator.PaymentInstruction(ctx, &types.PaymentInstructionRequest{
		Transaction:  encoded,
		FeeToken:     feeToken,
		SourceWallet: payer.String(),
	})
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(res.PaymentInstruction)
	if err != nil {
		return nil, types.NewError(types.ErrUnexpectedResponse, "payment instruction is not base64: %v", err)
	}
	ix, err := envelope.DecodeInstruction(raw)
	if err != nil {
		return nil, err
	}

	feePayer, err := solana.PublicKeyFromBase58(res.SignerAddress)
	if err != nil {
		return nil, types.NewError(types.ErrUnexpectedResponse, "invalid signer address %q", res.SignerAddress)
	}

	return composer.InjectInstruction(tx, ix, feePayer)
}

// verify asks the facilitator what tx pays and checks it against the
// requirement before anything is signed.
func (f *flow) verify(ctx context.Context, tx *solana.Transaction, req *types.PaymentRequiredX402) (*types.VerifyResponse, error) {
	encoded, err := envelope.EncodeBase64(tx)
	if err != nil {
		return nil, err
	}

	res, err := f.o.cfg.Facilitator.Verify(ctx, &types.VerifyRequest{Transaction: encoded})
	if err != nil {
		return nil, err
	}
	if !res.TransactionValid {
		return nil, types.NewError(types.ErrInvalidRequest, "facilitator rejected the transaction: %s", res.Message)
	}

	if missing := verification.Missing(res.PaymentInfo.PaymentSplits, req.PaymentSplits); len(missing) > 0 {
		return nil, types.NewError(types.ErrPaymentMismatch,
			"transaction lacks %d required transfers", len(missing))
	}

	return res, nil
}

func (f *flow) settle(ctx context.Context, tx *solana.Transaction, req *types.PaymentRequiredX402) (string, error) {
	encoded, err := envelope.EncodeBase64(tx)
	if err != nil {
		return "", err
	}

	res, err := f.o.cfg.Facilitator.Settle(ctx, &types.SettleRequest{
		Transaction:   encoded,
		PaymentSplits: req.PaymentSplits,
		Payer:         f.o.cfg.Wallet.PublicKey().String(),
	})
	if err != nil {
		return "", err
	}
	if !res.Success || res.Signature == "" {
		return "", types.NewError(types.ErrSigningFailure, "settlement returned no signature: %s", res.Message)
	}

	return res.Signature, nil
}

// proofHeader places the settled signature in the fee payer slot, which
// reproduces the transaction as broadcast, and encodes the proof.
func proofHeader(tx *solana.Transaction, signature string, req *types.PaymentRequiredX402) (string, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return "", types.NewError(types.ErrUnexpectedResponse, "settlement returned an invalid signature: %v", err)
	}

	envelope.PadSignatures(tx)
	if len(tx.Signatures) == 0 {
		return "", types.NewError(types.ErrSigningFailure, "transaction has no signature slots")
	}
	tx.Signatures[0] = sig

	encoded, err := envelope.EncodeBase64(tx)
	if err != nil {
		return "", err
	}

	return gateway.EncodeProof(&types.PaymentProof{
		X402Version: versionOf(req),
		Scheme:      string(types.SchemeSplit),
		Network:     req.Network,
		Payload: types.PaymentProofPayload{
			Transaction: encoded,
			Signature:   signature,
		},
	})
}

func versionOf(req *types.PaymentRequiredX402) int {
	if req.X402Version > 0 {
		return req.X402Version
	}
	return int(types.X402Version1)
}

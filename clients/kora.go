package clients

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	pkgerrors "github.com/pkg/errors"
	"github.com/vitwit/x402split/envelope"
	x402types "github.com/vitwit/x402split/types"
)

// KoraClient talks JSON-RPC to a Kora fee-abstraction signer.
type KoraClient struct {
	rpcURL string
	client jsonrpc.RPCClient
}

var _ FeeAbstraction = (*KoraClient)(nil)

// NewKoraClient creates a client for the signer at rpcURL. apiKey is sent
// as x-api-key when set.
func NewKoraClient(rpcURL string, apiKey string, timeout time.Duration) *KoraClient {
	headers := map[string]string{}
	if apiKey != "" {
		headers["x-api-key"] = apiKey
	}

	return &KoraClient{
		rpcURL: rpcURL,
		client: jsonrpc.NewClientWithOpts(rpcURL, &jsonrpc.RPCClientOpts{
			HTTPClient:    &http.Client{Timeout: timeout},
			CustomHeaders: headers,
		}),
	}
}

type koraTransactionParams struct {
	Transaction  string `json:"transaction"`
	FeeToken     string `json:"fee_token,omitempty"`
	SourceWallet string `json:"source_wallet,omitempty"`
}

type koraSupportedTokens struct {
	Tokens []string `json:"tokens"`
}

type koraAccountMeta struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

type koraInstruction struct {
	ProgramID string            `json:"program_id"`
	Accounts  []koraAccountMeta `json:"accounts"`
	Data      string            `json:"data"`
}

type koraPaymentInstruction struct {
	PaymentInstruction koraInstruction `json:"payment_instruction"`
	SignerAddress      string          `json:"signer_address"`
	PaymentAddress     string          `json:"payment_address"`
	PaymentToken       string          `json:"payment_token"`
	PaymentAmount      uint64          `json:"payment_amount"`
}

type koraSigner struct {
	SignerAddress  string `json:"signer_address"`
	PaymentAddress string `json:"payment_address"`
}

// GetSupportedTokens lists the mints the signer accepts for fees.
func (k *KoraClient) GetSupportedTokens(ctx context.Context) ([]string, error) {
	var out koraSupportedTokens
	if err := k.client.CallForInto(ctx, &out, "getSupportedTokens", nil); err != nil {
		return nil, classify("getSupportedTokens", err)
	}
	return out.Tokens, nil
}

// EstimateFee asks the signer to price tx. The signer simulates but never
// signs or broadcasts.
func (k *KoraClient) EstimateFee(ctx context.Context, tx string, feeToken string) (*x402types.FeeEstimate, error) {
	var out x402types.FeeEstimate
	params := koraTransactionParams{Transaction: tx, FeeToken: feeToken}

	if err := k.client.CallForInto(ctx, &out, "estimateTransactionFee", []interface{}{params}); err != nil {
		return nil, classify("estimateTransactionFee", err)
	}
	return &out, nil
}

// GetPaymentInstruction asks the signer for the instruction that pays it
// in feeToken from sourceWallet. The instruction is returned in the
// message encoding understood by envelope.DecodeInstruction.
func (k *KoraClient) GetPaymentInstruction(ctx context.Context, tx string, feeToken string, sourceWallet string) (*x402types.FeeAbstractionInstruction, error) {
	var out koraPaymentInstruction
	params := koraTransactionParams{Transaction: tx, FeeToken: feeToken, SourceWallet: sourceWallet}

	if err := k.client.CallForInto(ctx, &out, "getPaymentInstruction", []interface{}{params}); err != nil {
		return nil, classify("getPaymentInstruction", err)
	}

	signer, err := solana.PublicKeyFromBase58(out.SignerAddress)
	if err != nil {
		return nil, invalidInstruction(err, "signer_address")
	}

	ix, err := out.PaymentInstruction.toInstruction()
	if err != nil {
		return nil, err
	}

	encoded, err := envelope.EncodeInstruction(ix, signer)
	if err != nil {
		return nil, invalidInstruction(err, "encode")
	}

	return &x402types.FeeAbstractionInstruction{
		EncodedInstruction: encoded,
		SignerAddress:      signer.String(),
	}, nil
}

// SignAndSend has the signer co-sign tx as fee payer and broadcast it.
func (k *KoraClient) SignAndSend(ctx context.Context, tx string) (*SignedTransaction, error) {
	var out SignedTransaction
	params := koraTransactionParams{Transaction: tx}

	if err := k.client.CallForInto(ctx, &out, "signAndSendTransaction", []interface{}{params}); err != nil {
		return nil, classify("signAndSendTransaction", err)
	}
	return &out, nil
}

// GetSigner returns the signer's fee payer address.
func (k *KoraClient) GetSigner(ctx context.Context) (string, error) {
	var out koraSigner
	if err := k.client.CallForInto(ctx, &out, "getPayerSigner", nil); err != nil {
		return "", classify("getPayerSigner", err)
	}
	if out.SignerAddress == "" {
		return "", x402types.NewError(x402types.ErrUnexpectedResponse, "signer returned an empty address")
	}
	return out.SignerAddress, nil
}

func (ki koraInstruction) toInstruction() (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(ki.ProgramID)
	if err != nil {
		return nil, invalidInstruction(err, "program_id")
	}

	metas := make(solana.AccountMetaSlice, len(ki.Accounts))
	for i, a := range ki.Accounts {
		pub, err := solana.PublicKeyFromBase58(a.Pubkey)
		if err != nil {
			return nil, invalidInstruction(err, "accounts")
		}
		metas[i] = &solana.AccountMeta{
			PublicKey:  pub,
			IsSigner:   a.IsSigner,
			IsWritable: a.IsWritable,
		}
	}

	data, err := base64.StdEncoding.DecodeString(ki.Data)
	if err != nil {
		return nil, invalidInstruction(err, "data")
	}

	return solana.NewInstruction(programID, metas, data), nil
}

func invalidInstruction(err error, field string) error {
	return pkgerrors.Wrapf(
		x402types.NewError(x402types.ErrSigningFailure, ReasonInvalidInstruction),
		"%s: %v", field, err,
	)
}

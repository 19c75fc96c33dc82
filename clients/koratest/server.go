// Package koratest runs an in-process fake of the Kora fee-abstraction
// signer for tests. It speaks the same JSON-RPC methods as the real
// service and signs with a throwaway key.
package koratest

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402split/envelope"
	x402types "github.com/vitwit/x402split/types"
)

// JSON-RPC error codes returned by the fake.
const (
	CodeInvalidParams = -32602
	CodeRejected      = -32000
)

// Server is a fake Kora signer. Exported fields may be changed between
// requests to steer its behavior.
type Server struct {
	*httptest.Server

	Signer solana.PrivateKey
	Tokens []string
	Fee    x402types.FeeEstimate

	// RejectEstimate makes estimateTransactionFee answer with an RPC error.
	RejectEstimate string

	// RejectSign makes signAndSendTransaction answer with an RPC error.
	RejectSign string

	// StripSignatures makes signAndSendTransaction return a transaction
	// with no signatures at all.
	StripSignatures bool

	// SourceTokenAccount and DestTokenAccount are used in the token
	// transfer returned by getPaymentInstruction.
	SourceTokenAccount solana.PublicKey
	DestTokenAccount   solana.PublicKey

	mu    sync.Mutex
	calls map[string]int
	sent  []*solana.Transaction
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type txParams struct {
	Transaction  string `json:"transaction"`
	FeeToken     string `json:"fee_token"`
	SourceWallet string `json:"source_wallet"`
}

// NewServer starts a fake signer with a fresh key.
func NewServer() *Server {
	s := &Server{
		Signer:             solana.NewWallet().PrivateKey,
		Tokens:             []string{solana.SolMint.String()},
		Fee:                x402types.FeeEstimate{FeeInLamports: 5000, FeeInToken: 5000},
		SourceTokenAccount: solana.NewWallet().PublicKey(),
		DestTokenAccount:   solana.NewWallet().PublicKey(),
		calls:              map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SignerAddress is the base58 address of the fake's key.
func (s *Server) SignerAddress() string {
	return s.Signer.PublicKey().String()
}

// Calls returns how many times method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Sent returns the transactions accepted by signAndSendTransaction.
func (s *Server) Sent() []*solana.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*solana.Transaction(nil), s.sent...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls[req.Method]++
	s.mu.Unlock()

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	result, rerr := s.dispatch(req.Method, decodeParams(req.Params))
	if rerr != nil {
		resp.Error = rerr
	} else {
		resp.Result = result
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) dispatch(method string, p txParams) (interface{}, *rpcError) {
	switch method {
	case "getSupportedTokens":
		return map[string]interface{}{"tokens": s.Tokens}, nil

	case "getPayerSigner":
		return map[string]string{
			"signer_address":  s.SignerAddress(),
			"payment_address": s.SignerAddress(),
		}, nil

	case "estimateTransactionFee":
		if _, _, err := envelope.DecodeBase64(p.Transaction); err != nil {
			return nil, &rpcError{Code: CodeInvalidParams, Message: err.Error()}
		}
		if s.RejectEstimate != "" {
			return nil, &rpcError{Code: CodeRejected, Message: s.RejectEstimate}
		}
		return s.Fee, nil

	case "getPaymentInstruction":
		if _, _, err := envelope.DecodeBase64(p.Transaction); err != nil {
			return nil, &rpcError{Code: CodeInvalidParams, Message: err.Error()}
		}
		owner, err := solana.PublicKeyFromBase58(p.SourceWallet)
		if err != nil {
			return nil, &rpcError{Code: CodeInvalidParams, Message: "invalid source_wallet"}
		}
		return s.paymentInstruction(owner), nil

	case "signAndSendTransaction":
		return s.signAndSend(p.Transaction)

	default:
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}
}

// paymentInstruction is an SPL token transfer of the token fee from the
// payer's token account to the signer's.
func (s *Server) paymentInstruction(owner solana.PublicKey) map[string]interface{} {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], s.Fee.FeeInToken)

	return map[string]interface{}{
		"payment_instruction": map[string]interface{}{
			"program_id": solana.TokenProgramID.String(),
			"accounts": []map[string]interface{}{
				{"pubkey": s.SourceTokenAccount.String(), "is_signer": false, "is_writable": true},
				{"pubkey": s.DestTokenAccount.String(), "is_signer": false, "is_writable": true},
				{"pubkey": owner.String(), "is_signer": true, "is_writable": false},
			},
			"data": base64.StdEncoding.EncodeToString(data),
		},
		"signer_address":  s.SignerAddress(),
		"payment_address": s.SignerAddress(),
		"payment_token":   solana.SolMint.String(),
		"payment_amount":  s.Fee.FeeInToken,
	}
}

func (s *Server) signAndSend(raw string) (interface{}, *rpcError) {
	tx, _, err := envelope.DecodeBase64(raw)
	if err != nil {
		return nil, &rpcError{Code: CodeInvalidParams, Message: err.Error()}
	}
	if s.RejectSign != "" {
		return nil, &rpcError{Code: CodeRejected, Message: s.RejectSign}
	}

	sig, err := envelope.Sign(tx, s.Signer)
	if err != nil {
		return nil, &rpcError{Code: CodeRejected, Message: err.Error()}
	}

	s.mu.Lock()
	s.sent = append(s.sent, tx)
	s.mu.Unlock()

	if s.StripSignatures {
		tx.Signatures = nil
	}

	encoded, err := envelope.EncodeBase64(tx)
	if err != nil {
		return nil, &rpcError{Code: CodeRejected, Message: err.Error()}
	}

	return map[string]string{
		"signature":          sig.String(),
		"signed_transaction": encoded,
	}, nil
}

// decodeParams accepts both by-name params and a one-element array.
func decodeParams(raw json.RawMessage) txParams {
	var p txParams
	if len(raw) == 0 {
		return p
	}
	if json.Unmarshal(raw, &p) == nil {
		return p
	}
	var arr []txParams
	if json.Unmarshal(raw, &arr) == nil && len(arr) > 0 {
		return arr[0]
	}
	return p
}

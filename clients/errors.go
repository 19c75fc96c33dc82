package clients

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	pkgerrors "github.com/pkg/errors"
	x402types "github.com/vitwit/x402split/types"
)

const (
	// -----------------------------
	// FEE ABSTRACTION
	// -----------------------------
	ReasonSignerRejected     = "fee_abstraction_signer_rejected_transaction"
	ReasonSignerUnreachable  = "fee_abstraction_signer_unreachable"
	ReasonInvalidInstruction = "fee_abstraction_invalid_payment_instruction"

	// -----------------------------
	// LEDGER
	// -----------------------------
	ReasonTransactionFailed    = "transaction_failed_on_chain"
	ReasonConfirmationTimedOut = "transaction_confirmation_timed_out"
)

// SignerError is a rejection reported by the fee-abstraction service. The
// service was reachable and answered; retrying the same transaction will
// not help.
type SignerError struct {
	Method  string
	Code    int
	Message string
}

func (e *SignerError) Error() string {
	return fmt.Sprintf("%s: %s (%s, code %d)", ReasonSignerRejected, e.Message, e.Method, e.Code)
}

// IsRejection reports whether err is a SignerError.
func IsRejection(err error) bool {
	var se *SignerError
	return errors.As(err, &se)
}

// IsUnavailable reports whether err means the service could not be
// reached or answered outside the JSON-RPC protocol.
func IsUnavailable(err error) bool {
	return x402types.IsCode(err, x402types.ErrUpstreamSignerUnavailable)
}

// classify turns a JSON-RPC call failure into either a SignerError or an
// UPSTREAM_SIGNER_UNAVAILABLE error. The transport error text is kept in
// the wrapped message for logging.
func classify(method string, err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return &SignerError{
			Method:  method,
			Code:    rpcErr.Code,
			Message: rpcErr.Message,
		}
	}

	return pkgerrors.Wrapf(
		x402types.NewError(x402types.ErrUpstreamSignerUnavailable, ReasonSignerUnreachable),
		"%s: %v", method, err,
	)
}

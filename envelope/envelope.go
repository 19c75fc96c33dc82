// Package envelope decodes and encodes transaction blobs as they travel
// between client, facilitator and fee-abstraction signer. Unlike
// solana.Transaction.MarshalBinary it accepts unsigned and partially
// signed transactions, which is the normal state of an envelope before
// settlement.
package envelope

import (
	"encoding/base64"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402split/types"
)

// Metadata is what the facilitator can tell about an envelope without
// trusting anything but its bytes.
type Metadata struct {
	InstructionCount   int              `json:"instruction_count"`
	FeePayer           solana.PublicKey `json:"fee_payer"`
	RequiredSignatures int              `json:"required_signatures"`
	SignaturesPresent  int              `json:"signatures_present"`
	Size               int              `json:"size"`
}

// FullySigned reports whether every required signature slot is filled.
func (m Metadata) FullySigned() bool {
	return m.RequiredSignatures > 0 && m.SignaturesPresent == m.RequiredSignatures
}

// Decode parses a raw transaction. Any structural problem is reported as
// MALFORMED_TRANSACTION. A transaction with zero instructions decodes
// successfully; callers decide whether that is acceptable.
func Decode(raw []byte) (*solana.Transaction, error) {
	if len(raw) == 0 {
		return nil, types.NewError(types.ErrMalformedTransaction, "transaction is empty")
	}

	dec := bin.NewBinDecoder(raw)
	tx, err := solana.TransactionFromDecoder(dec)
	if err != nil {
		return nil, types.NewError(types.ErrMalformedTransaction, "failed to decode transaction: %v", err)
	}

	if dec.Remaining() != 0 {
		return nil, types.NewError(types.ErrMalformedTransaction, "%d trailing bytes after transaction", dec.Remaining())
	}

	if err := checkStructure(tx); err != nil {
		return nil, err
	}

	return tx, nil
}

// DecodeBase64 decodes a base64 transaction and returns it together with
// its size in bytes.
func DecodeBase64(s string) (*solana.Transaction, int, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, 0, types.NewError(types.ErrMalformedTransaction, "invalid transaction base64: %v", err)
	}

	tx, err := Decode(raw)
	if err != nil {
		return nil, 0, err
	}

	return tx, len(raw), nil
}

// Encode serializes tx as signature count, signatures, message. Missing
// signatures are encoded as zero-filled slots when the slice has been
// padded by the caller, and omitted otherwise.
func Encode(tx *solana.Transaction) ([]byte, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, types.NewError(types.ErrMalformedTransaction, "failed to encode message: %v", err)
	}

	buf := make([]byte, 0, 1+len(tx.Signatures)*64+len(msg))
	bin.EncodeCompactU16Length(&buf, len(tx.Signatures))
	for _, sig := range tx.Signatures {
		buf = append(buf, sig[:]...)
	}
	buf = append(buf, msg...)

	return buf, nil
}

// EncodeBase64 serializes tx and encodes it as standard base64.
func EncodeBase64(tx *solana.Transaction) (string, error) {
	raw, err := Encode(tx)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Describe returns the metadata of a decoded transaction.
func Describe(tx *solana.Transaction) Metadata {
	md := Metadata{
		InstructionCount:   len(tx.Message.Instructions),
		RequiredSignatures: int(tx.Message.Header.NumRequiredSignatures),
	}

	if len(tx.Message.AccountKeys) > 0 {
		md.FeePayer = tx.Message.AccountKeys[0]
	}

	for _, sig := range tx.Signatures {
		if sig != (solana.Signature{}) {
			md.SignaturesPresent++
		}
	}

	if raw, err := Encode(tx); err == nil {
		md.Size = len(raw)
	}

	return md
}

// HasSignatures reports whether any non-zero signature is attached.
func HasSignatures(tx *solana.Transaction) bool {
	return Describe(tx).SignaturesPresent > 0
}

// FirstSignature returns the first signature slot, which by ledger
// convention belongs to the fee payer and identifies the transaction.
func FirstSignature(tx *solana.Transaction) (solana.Signature, bool) {
	if len(tx.Signatures) == 0 || tx.Signatures[0] == (solana.Signature{}) {
		return solana.Signature{}, false
	}
	return tx.Signatures[0], true
}

// PadSignatures sizes the signature slice to the number of required
// signers, keeping existing signatures in place.
func PadSignatures(tx *solana.Transaction) {
	want := int(tx.Message.Header.NumRequiredSignatures)
	if len(tx.Signatures) >= want {
		return
	}
	sigs := make([]solana.Signature, want)
	copy(sigs, tx.Signatures)
	tx.Signatures = sigs
}

func checkStructure(tx *solana.Transaction) error {
	keys := len(tx.Message.AccountKeys)
	required := int(tx.Message.Header.NumRequiredSignatures)

	if required > keys {
		return types.NewError(types.ErrMalformedTransaction, "header requires %d signers but only %d accounts are listed", required, keys)
	}

	if len(tx.Signatures) > required {
		return types.NewError(types.ErrMalformedTransaction, "%d signatures for %d required signers", len(tx.Signatures), required)
	}

	for i, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= keys {
			return types.NewError(types.ErrMalformedTransaction, "instruction %d: program index %d out of range", i, inst.ProgramIDIndex)
		}
		for _, idx := range inst.Accounts {
			if int(idx) >= keys {
				return types.NewError(types.ErrMalformedTransaction, "instruction %d: account index %d out of range", i, idx)
			}
		}
	}

	return nil
}

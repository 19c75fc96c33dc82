// Package composer appends split transfers and fee-abstraction
// instructions to transactions. Composition always happens before
// signing: a fully signed transaction is never mutated.
package composer

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/vitwit/x402split/envelope"
	"github.com/vitwit/x402split/types"
	"github.com/vitwit/x402split/utils"
)

// TransferInstructions builds one system transfer per split, paid by payer.
func TransferInstructions(transfers []types.ComputedSplit, payer solana.PublicKey) ([]solana.Instruction, error) {
	ixs := make([]solana.Instruction, 0, len(transfers))

	for i, t := range transfers {
		to, err := utils.ParseAddress(t.Recipient)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidRequest, "transfer %d: %v", i, err)
		}
		if t.Amount == 0 {
			return nil, types.NewError(types.ErrInvalidRequest, "transfer %d: amount must be greater than 0", i)
		}

		ixs = append(ixs, system.NewTransferInstruction(t.Amount, payer, to).Build())
	}

	return ixs, nil
}

// Build creates a fresh transaction holding one transfer per split, with
// payer as fee payer and the given blockhash.
func Build(transfers []types.ComputedSplit, payer solana.PublicKey, blockhash solana.Hash) (*solana.Transaction, error) {
	if len(transfers) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "at least one transfer is required")
	}

	ixs, err := TransferInstructions(transfers, payer)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to build transaction: %v", err)
	}
	envelope.PadSignatures(tx)

	return tx, nil
}

// AppendTransfers appends one system transfer per split after the
// existing instructions of tx. Existing instructions keep their order and
// content; existing signatures stay attached to their signers. The fee
// payer is unchanged unless tx has no accounts yet, in which case payer
// pays fees.
func AppendTransfers(tx *solana.Transaction, transfers []types.ComputedSplit, payer solana.PublicKey) (*solana.Transaction, error) {
	if len(transfers) == 0 {
		return tx, nil
	}

	ixs, err := TransferInstructions(transfers, payer)
	if err != nil {
		return nil, err
	}

	feePayer := payer
	if len(tx.Message.AccountKeys) > 0 {
		feePayer = tx.Message.AccountKeys[0]
	}

	return recompile(tx, ixs, feePayer)
}

// InjectInstruction appends ix and makes feePayer the network fee payer.
// This is how a fee-abstraction payment instruction is applied; it must
// happen before the payer signs.
func InjectInstruction(tx *solana.Transaction, ix solana.Instruction, feePayer solana.PublicKey) (*solana.Transaction, error) {
	return recompile(tx, []solana.Instruction{ix}, feePayer)
}

func recompile(tx *solana.Transaction, extra []solana.Instruction, feePayer solana.PublicKey) (*solana.Transaction, error) {
	if envelope.Describe(tx).FullySigned() {
		return nil, types.NewError(types.ErrInvalidRequest, "refusing to modify a fully signed transaction")
	}

	existing, err := envelope.Decompile(tx)
	if err != nil {
		return nil, err
	}

	all := make([]solana.Instruction, 0, len(existing)+len(extra))
	all = append(all, existing...)
	all = append(all, extra...)

	out, err := solana.NewTransaction(all, tx.Message.RecentBlockhash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to compose transaction: %v", err)
	}

	// carry signatures over by signer key
	previous := make(map[solana.PublicKey]solana.Signature, len(tx.Signatures))
	for i, sig := range tx.Signatures {
		if i < len(tx.Message.AccountKeys) && sig != (solana.Signature{}) {
			previous[tx.Message.AccountKeys[i]] = sig
		}
	}

	envelope.PadSignatures(out)
	for i := range out.Signatures {
		if sig, ok := previous[out.Message.AccountKeys[i]]; ok {
			out.Signatures[i] = sig
		}
	}

	return out, nil
}

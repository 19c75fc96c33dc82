package envelope

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402split/types"
)

// Decompile turns the compiled instructions of tx back into standalone
// instructions, in order, with signer and writable flags taken from the
// message header.
func Decompile(tx *solana.Transaction) ([]solana.Instruction, error) {
	return decompileMessage(&tx.Message)
}

func decompileMessage(msg *solana.Message) ([]solana.Instruction, error) {
	out := make([]solana.Instruction, 0, len(msg.Instructions))

	for i, inst := range msg.Instructions {
		if int(inst.ProgramIDIndex) >= len(msg.AccountKeys) {
			return nil, types.NewError(types.ErrMalformedTransaction, "instruction %d: program index out of range", i)
		}
		programID := msg.AccountKeys[inst.ProgramIDIndex]

		accountMetas := make(solana.AccountMetaSlice, len(inst.Accounts))
		for j, accIdx := range inst.Accounts {
			if int(accIdx) >= len(msg.AccountKeys) {
				return nil, types.NewError(types.ErrMalformedTransaction, "instruction %d: account index out of range", i)
			}
			pub := msg.AccountKeys[accIdx]
			writable, err := msg.IsWritable(pub)
			if err != nil {
				return nil, types.NewError(types.ErrMalformedTransaction, "instruction %d: %v", i, err)
			}

			accountMetas[j] = &solana.AccountMeta{
				PublicKey:  pub,
				IsSigner:   msg.IsSigner(pub),
				IsWritable: writable,
			}
		}

		data := make([]byte, len(inst.Data))
		copy(data, inst.Data)

		out = append(out, solana.NewInstruction(programID, accountMetas, data))
	}

	return out, nil
}

// EncodeInstruction serializes a single instruction as a one-instruction
// message paid by feePayer. The message form keeps account flags and is
// understood by every ledger tool that can read a transaction.
func EncodeInstruction(ix solana.Instruction, feePayer solana.PublicKey) ([]byte, error) {
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, fmt.Errorf("failed to compile instruction: %w", err)
	}

	return tx.Message.MarshalBinary()
}

// DecodeInstruction reverses EncodeInstruction.
func DecodeInstruction(raw []byte) (solana.Instruction, error) {
	var msg solana.Message
	if err := msg.UnmarshalWithDecoder(bin.NewBinDecoder(raw)); err != nil {
		return nil, types.NewError(types.ErrMalformedTransaction, "failed to decode instruction: %v", err)
	}

	if len(msg.Instructions) != 1 {
		return nil, types.NewError(types.ErrMalformedTransaction, "expected one instruction, got %d", len(msg.Instructions))
	}

	ixs, err := decompileMessage(&msg)
	if err != nil {
		return nil, err
	}

	return ixs[0], nil
}

// Sign signs the message of tx with key and stores the signature in the
// slot belonging to the key. Other slots are left untouched, so a
// co-signer can fill the fee payer slot later.
func Sign(tx *solana.Transaction, key solana.PrivateKey) (solana.Signature, error) {
	pub := key.PublicKey()
	required := int(tx.Message.Header.NumRequiredSignatures)

	slot := -1
	for i := 0; i < required && i < len(tx.Message.AccountKeys); i++ {
		if tx.Message.AccountKeys[i].Equals(pub) {
			slot = i
			break
		}
	}
	if slot < 0 {
		return solana.Signature{}, fmt.Errorf("%s is not a required signer of this transaction", pub)
	}

	payload, err := tx.Message.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to encode message: %w", err)
	}

	sig, err := key.Sign(payload)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign message: %w", err)
	}

	PadSignatures(tx)
	tx.Signatures[slot] = sig

	return sig, nil
}

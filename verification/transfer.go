package verification

import (
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/vitwit/x402split/envelope"
	"github.com/vitwit/x402split/types"
)

const (
	// transferDataLen is discriminator (u32) + lamports (u64).
	transferDataLen = 12

	// transferDiscriminator is the system program's Transfer variant.
	transferDiscriminator = 2
)

// Transfer is a system transfer recovered from instruction bytes.
type Transfer struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Amount      uint64
}

// DecodeTransferInstruction reads the lamports of a system transfer
// payload. The payload must be exactly 12 bytes: a little-endian u32
// discriminator equal to 2, then a little-endian u64 amount.
func DecodeTransferInstruction(data []byte) (uint64, error) {
	if len(data) != transferDataLen {
		return 0, types.NewError(types.ErrMalformedTransaction, "transfer data must be %d bytes, got %d", transferDataLen, len(data))
	}

	dec := bin.NewBinDecoder(data)

	kind, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return 0, types.NewError(types.ErrMalformedTransaction, "failed to read discriminator: %v", err)
	}
	if kind != transferDiscriminator {
		return 0, types.NewError(types.ErrMalformedTransaction, "system instruction %d is not a transfer", kind)
	}

	amount, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return 0, types.NewError(types.ErrMalformedTransaction, "failed to read amount: %v", err)
	}

	return amount, nil
}

// ParseTransfers statically recovers every system transfer in tx, in
// instruction order. Instructions of other programs, and system
// instructions that are not transfers, are skipped. Nothing but the
// transaction bytes is consulted.
func ParseTransfers(tx *solana.Transaction) ([]Transfer, error) {
	keys := tx.Message.AccountKeys
	var out []Transfer

	for i, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(keys) {
			return nil, types.NewError(types.ErrMalformedTransaction, "instruction %d: program index out of range", i)
		}
		if !keys[inst.ProgramIDIndex].Equals(solana.SystemProgramID) {
			continue
		}
		if len(inst.Accounts) < 2 {
			continue
		}

		amount, err := DecodeTransferInstruction(inst.Data)
		if err != nil {
			continue
		}

		src, dst := int(inst.Accounts[0]), int(inst.Accounts[1])
		if src >= len(keys) || dst >= len(keys) {
			return nil, types.NewError(types.ErrMalformedTransaction, "instruction %d: account index out of range", i)
		}

		out = append(out, Transfer{
			Source:      keys[src],
			Destination: keys[dst],
			Amount:      amount,
		})
	}

	return out, nil
}

// Splits converts transfers into recipient and amount pairs.
func Splits(transfers []Transfer) []types.ComputedSplit {
	out := make([]types.ComputedSplit, len(transfers))
	for i, t := range transfers {
		out[i] = types.ComputedSplit{Recipient: t.Destination.String(), Amount: t.Amount}
	}
	return out
}

// From returns the transfers whose source is payer.
func From(transfers []Transfer, payer solana.PublicKey) []Transfer {
	var out []Transfer
	for _, t := range transfers {
		if t.Source.Equals(payer) {
			out = append(out, t)
		}
	}
	return out
}

// Covers reports whether every expected split appears among got, counting
// duplicates. Extra entries in got are allowed.
func Covers(got []types.ComputedSplit, expected []types.ComputedSplit) bool {
	return len(Missing(got, expected)) == 0
}

// Missing returns the expected splits not present in got, counting
// duplicates, in expected order.
func Missing(got []types.ComputedSplit, expected []types.ComputedSplit) []types.ComputedSplit {
	have := make(map[types.ComputedSplit]int, len(got))
	for _, s := range got {
		have[s]++
	}

	var missing []types.ComputedSplit
	for _, s := range expected {
		if have[s] > 0 {
			have[s]--
			continue
		}
		missing = append(missing, s)
	}
	return missing
}

func envelopeDecode(transaction string) (*solana.Transaction, int, error) {
	if transaction == "" {
		return nil, 0, types.NewError(types.ErrMalformedTransaction, "transaction is required")
	}
	return envelope.DecodeBase64(transaction)
}

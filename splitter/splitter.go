// Package splitter turns a total amount and a list of payment splits into
// exact per-recipient amounts.
package splitter

import (
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/vitwit/x402split/types"
	"github.com/vitwit/x402split/utils"
)

var hundred = decimal.NewFromInt(100)

// ComputeSplits resolves splits against total. Fixed-amount entries are
// resolved first and subtracted from total; percentage entries then share
// the remaining pool. Every percentage entry but the last receives
// floor(remaining*pct/100); the last receives whatever is left, so the
// result always sums to total when at least one percentage entry exists.
// The output keeps the input order.
func ComputeSplits(total uint64, splits []types.PaymentSplit) ([]types.ComputedSplit, error) {
	if len(splits) == 0 {
		return nil, types.NewError(types.ErrInvalidSplitConfig, "at least one split is required")
	}

	sum := decimal.Zero
	lastPct := -1
	var fixedTotal uint64

	for i, s := range splits {
		if err := utils.ValidateAddress(s.Recipient); err != nil {
			return nil, types.NewError(types.ErrInvalidSplitConfig, "split %d: %v", i, err)
		}

		switch {
		case s.Percentage != nil && s.FixedAmount != nil:
			return nil, types.NewError(types.ErrInvalidSplitConfig, "split %d sets both percentage and fixedAmount", i)
		case s.Percentage != nil:
			if err := utils.ValidatePercentage(*s.Percentage); err != nil {
				return nil, types.NewError(types.ErrInvalidSplitConfig, "split %d: %v", i, err)
			}
			sum = sum.Add(*s.Percentage)
			lastPct = i
		case s.FixedAmount != nil:
			if *s.FixedAmount > total-fixedTotal {
				return nil, types.NewError(types.ErrInvalidSplitConfig, "fixed amounts exceed total %d", total)
			}
			fixedTotal += *s.FixedAmount
		default:
			return nil, types.NewError(types.ErrInvalidSplitConfig, "split %d sets neither percentage nor fixedAmount", i)
		}
	}

	if sum.GreaterThan(hundred) {
		return nil, types.NewError(types.ErrInvalidSplitConfig, "percentages sum to %s, more than 100", sum.String())
	}

	remaining := total - fixedTotal
	if lastPct < 0 && remaining != 0 {
		return nil, types.NewError(types.ErrInvalidSplitConfig, "fixed amounts sum to %d, want %d", fixedTotal, total)
	}
	pool := decimal.NewFromBigInt(new(big.Int).SetUint64(remaining), 0)

	out := make([]types.ComputedSplit, len(splits))
	var consumed uint64

	for i, s := range splits {
		out[i].Recipient = s.Recipient

		if s.FixedAmount != nil {
			out[i].Amount = *s.FixedAmount
			continue
		}

		if i == lastPct {
			if consumed > remaining {
				return nil, types.NewError(types.ErrInvalidSplitConfig, "percentages consumed %d of %d", consumed, remaining)
			}
			out[i].Amount = remaining - consumed
			continue
		}

		amount := pool.Mul(*s.Percentage).Shift(-2).Floor()
		out[i].Amount = amount.BigInt().Uint64()
		consumed += out[i].Amount
	}

	return out, nil
}

// Total sums the amounts of computed splits.
func Total(splits []types.ComputedSplit) uint64 {
	var total uint64
	for _, s := range splits {
		total += s.Amount
	}
	return total
}

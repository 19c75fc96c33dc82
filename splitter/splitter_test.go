package splitter

import (
	"math/rand"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402split/types"
)

func newAddress(t *testing.T) string {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key.PublicKey().String()
}

func amounts(splits []types.ComputedSplit) []uint64 {
	out := make([]uint64, len(splits))
	for i, s := range splits {
		out[i] = s.Amount
	}
	return out
}

func TestComputeSplits_EvenPercentages(t *testing.T) {
	a, b, c := newAddress(t), newAddress(t), newAddress(t)

	got, err := ComputeSplits(1_000_000, []types.PaymentSplit{
		types.PercentageSplit(a, 50),
		types.PercentageSplit(b, 30),
		types.PercentageSplit(c, 20),
	})
	require.NoError(t, err)

	assert.Equal(t, []uint64{500000, 300000, 200000}, amounts(got))
	assert.Equal(t, uint64(1_000_000), Total(got))
	assert.Equal(t, a, got[0].Recipient)
	assert.Equal(t, c, got[2].Recipient)
}

func TestComputeSplits_RemainderGoesToLast(t *testing.T) {
	got, err := ComputeSplits(100, []types.PaymentSplit{
		types.PercentageSplit(newAddress(t), 33),
		types.PercentageSplit(newAddress(t), 33),
		types.PercentageSplit(newAddress(t), 34),
	})
	require.NoError(t, err)

	assert.Equal(t, []uint64{33, 33, 34}, amounts(got))
	assert.Equal(t, uint64(100), Total(got))
}

func TestComputeSplits_RoundingAbsorbedByLastEntry(t *testing.T) {
	// 101 * 33% = 33.33 -> 33 for the first two, 35 for the last.
	got, err := ComputeSplits(101, []types.PaymentSplit{
		types.PercentageSplit(newAddress(t), 33),
		types.PercentageSplit(newAddress(t), 33),
		types.PercentageSplit(newAddress(t), 34),
	})
	require.NoError(t, err)

	assert.Equal(t, []uint64{33, 33, 35}, amounts(got))
}

func TestComputeSplits_PercentagesBelowHundred(t *testing.T) {
	got, err := ComputeSplits(1000, []types.PaymentSplit{
		types.PercentageSplit(newAddress(t), 50),
		types.PercentageSplit(newAddress(t), 10),
	})
	require.NoError(t, err)

	assert.Equal(t, []uint64{500, 500}, amounts(got))
}

func TestComputeSplits_FixedResolvedFirst(t *testing.T) {
	got, err := ComputeSplits(1000, []types.PaymentSplit{
		types.PercentageSplit(newAddress(t), 50),
		types.FixedSplit(newAddress(t), 100),
		types.PercentageSplit(newAddress(t), 50),
	})
	require.NoError(t, err)

	// the pool after the fixed entry is 900
	assert.Equal(t, []uint64{450, 100, 450}, amounts(got))
	assert.Equal(t, uint64(1000), Total(got))
}

func TestComputeSplits_FractionalPercentage(t *testing.T) {
	pct, err := decimal.NewFromString("12.5")
	require.NoError(t, err)

	got, err := ComputeSplits(999, []types.PaymentSplit{
		{Recipient: newAddress(t), Percentage: &pct},
		types.PercentageSplit(newAddress(t), 87.5),
	})
	require.NoError(t, err)

	assert.Equal(t, []uint64{124, 875}, amounts(got))
}

func TestComputeSplits_OnlyFixed(t *testing.T) {
	got, err := ComputeSplits(300, []types.PaymentSplit{
		types.FixedSplit(newAddress(t), 100),
		types.FixedSplit(newAddress(t), 200),
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 200}, amounts(got))

	_, err = ComputeSplits(301, []types.PaymentSplit{
		types.FixedSplit(newAddress(t), 100),
		types.FixedSplit(newAddress(t), 200),
	})
	assert.True(t, types.IsCode(err, types.ErrInvalidSplitConfig))
}

func TestComputeSplits_Errors(t *testing.T) {
	valid := newAddress(t)
	both := types.PercentageSplit(valid, 10)
	fixed := uint64(5)
	both.FixedAmount = &fixed

	tests := []struct {
		name   string
		total  uint64
		splits []types.PaymentSplit
	}{
		{"empty", 100, nil},
		{"over hundred", 100, []types.PaymentSplit{
			types.PercentageSplit(valid, 60),
			types.PercentageSplit(newAddress(t), 41),
		}},
		{"missing recipient", 100, []types.PaymentSplit{types.PercentageSplit("", 100)}},
		{"bad recipient", 100, []types.PaymentSplit{types.PercentageSplit("not-a-key", 100)}},
		{"negative", 100, []types.PaymentSplit{types.PercentageSplit(valid, -1)}},
		{"both set", 100, []types.PaymentSplit{both}},
		{"neither set", 100, []types.PaymentSplit{{Recipient: valid}}},
		{"fixed exceeds total", 100, []types.PaymentSplit{
			types.FixedSplit(valid, 80),
			types.FixedSplit(newAddress(t), 30),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeSplits(tt.total, tt.splits)
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidSplitConfig, types.ErrorCode(err))
		})
	}
}

func TestComputeSplits_SumAndFloorProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	recipients := make([]string, 8)
	for i := range recipients {
		recipients[i] = newAddress(t)
	}

	for iter := 0; iter < 500; iter++ {
		total := uint64(rng.Int63n(1_000_000_000_000))
		n := 1 + rng.Intn(len(recipients))

		budget := 100
		splits := make([]types.PaymentSplit, n)
		for i := 0; i < n; i++ {
			pct := 0
			if budget > 0 {
				pct = rng.Intn(budget + 1)
			}
			budget -= pct
			splits[i] = types.PercentageSplit(recipients[i], float64(pct))
		}

		got, err := ComputeSplits(total, splits)
		require.NoError(t, err)
		require.Equal(t, total, Total(got), "iteration %d", iter)

		for i := 0; i < n-1; i++ {
			want := decimal.NewFromInt(int64(total)).Mul(*splits[i].Percentage).Shift(-2).Floor()
			require.Equal(t, want.BigInt().Uint64(), got[i].Amount, "iteration %d entry %d", iter, i)
		}
	}
}

package verification

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/x402split/clients"
	"github.com/vitwit/x402split/composer"
	"github.com/vitwit/x402split/envelope"
	"github.com/vitwit/x402split/logger"
	"github.com/vitwit/x402split/types"
)

type stubFee struct {
	estimate *types.FeeEstimate
	err      error
	calls    int
}

func (s *stubFee) GetSupportedTokens(context.Context) ([]string, error) { return nil, nil }

func (s *stubFee) EstimateFee(context.Context, string, string) (*types.FeeEstimate, error) {
	s.calls++
	return s.estimate, s.err
}

func (s *stubFee) GetPaymentInstruction(context.Context, string, string, string) (*types.FeeAbstractionInstruction, error) {
	return nil, errors.New("not implemented")
}

func (s *stubFee) SignAndSend(context.Context, string) (*clients.SignedTransaction, error) {
	return nil, errors.New("not implemented")
}

func (s *stubFee) GetSigner(context.Context) (string, error) { return "", nil }

func newService(fee clients.FeeAbstraction) *VerificationService {
	return NewVerificationService(fee, solana.SolMint.String(), time.Second, logger.NoopLogger{})
}

func emptyTransaction(t *testing.T) string {
	t.Helper()

	tx := &solana.Transaction{
		Message: solana.Message{
			Header:          solana.MessageHeader{NumRequiredSignatures: 1},
			AccountKeys:     solana.PublicKeySlice{solana.NewWallet().PublicKey()},
			RecentBlockhash: solana.Hash{3},
		},
	}
	envelope.PadSignatures(tx)

	encoded, err := envelope.EncodeBase64(tx)
	require.NoError(t, err)
	return encoded
}

func TestDecodeTransferInstructionMatchesSystemProgram(t *testing.T) {
	ix := system.NewTransferInstruction(123456789, solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()).Build()
	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 12)

	amount, err := DecodeTransferInstruction(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), amount)
}

func TestDecodeTransferInstructionLayout(t *testing.T) {
	data := []byte{2, 0, 0, 0, 0x01, 0x02, 0, 0, 0, 0, 0, 0x01}

	amount, err := DecodeTransferInstruction(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0100000000000201), amount)
}

func TestDecodeTransferInstructionRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{2, 0, 0, 0, 1, 0, 0, 0}},
		{"long", make([]byte, 13)},
		{"allocate", []byte{8, 0, 0, 0, 100, 0, 0, 0, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTransferInstruction(tt.data)
			assert.Equal(t, types.ErrMalformedTransaction, types.ErrorCode(err))
		})
	}
}

func TestComposeThenParseRoundTrip(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	splits := []types.ComputedSplit{
		{Recipient: solana.NewWallet().PublicKey().String(), Amount: 500000},
		{Recipient: solana.NewWallet().PublicKey().String(), Amount: 300000},
		{Recipient: solana.NewWallet().PublicKey().String(), Amount: 200000},
	}

	tx, err := composer.Build(splits, payer, solana.Hash{9})
	require.NoError(t, err)

	// through the wire and back
	encoded, err := envelope.EncodeBase64(tx)
	require.NoError(t, err)
	decoded, _, err := envelope.DecodeBase64(encoded)
	require.NoError(t, err)

	transfers, err := ParseTransfers(decoded)
	require.NoError(t, err)
	require.Len(t, transfers, 3)

	for _, tr := range transfers {
		assert.True(t, tr.Source.Equals(payer))
	}
	assert.Equal(t, splits, Splits(transfers))
}

func TestParseTransfersSkipsOtherInstructions(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()

	memo := solana.NewInstruction(
		solana.MemoProgramID,
		solana.AccountMetaSlice{solana.Meta(payer).SIGNER()},
		[]byte("order-42"),
	)
	allocate := system.NewAllocateInstruction(100, payer).Build()
	transfer := system.NewTransferInstruction(77, payer, dest).Build()

	tx, err := solana.NewTransaction([]solana.Instruction{memo, allocate, transfer}, solana.Hash{1}, solana.TransactionPayer(payer))
	require.NoError(t, err)

	transfers, err := ParseTransfers(tx)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.True(t, transfers[0].Destination.Equals(dest))
	assert.Equal(t, uint64(77), transfers[0].Amount)
}

func TestMissingCountsDuplicates(t *testing.T) {
	a := types.ComputedSplit{Recipient: "a", Amount: 1}
	b := types.ComputedSplit{Recipient: "b", Amount: 2}

	assert.Empty(t, Missing([]types.ComputedSplit{a, b, a}, []types.ComputedSplit{a, a}))
	assert.Equal(t, []types.ComputedSplit{a}, Missing([]types.ComputedSplit{a, b}, []types.ComputedSplit{a, a}))
	assert.True(t, Covers([]types.ComputedSplit{b, a}, []types.ComputedSplit{a}))
	assert.False(t, Covers(nil, []types.ComputedSplit{b}))
}

func TestVerifyEmptyTransaction(t *testing.T) {
	fee := &stubFee{estimate: &types.FeeEstimate{FeeInLamports: 5000}}

	_, err := newService(fee).Verify(context.Background(), emptyTransaction(t), "")
	require.Error(t, err)
	assert.Equal(t, types.ErrEmptyTransaction, types.ErrorCode(err))
	assert.Equal(t, 400, types.HTTPStatus(types.ErrorCode(err)))
	assert.Zero(t, fee.calls)
}

func TestVerifyMalformed(t *testing.T) {
	fee := &stubFee{estimate: &types.FeeEstimate{FeeInLamports: 5000}}
	svc := newService(fee)

	inputs := []string{
		"",
		"not base64!",
		base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
	}
	for _, in := range inputs {
		_, err := svc.Verify(context.Background(), in, "")
		assert.Equal(t, types.ErrMalformedTransaction, types.ErrorCode(err), "input %q", in)
	}
	assert.Zero(t, fee.calls)
}

func TestVerifyValid(t *testing.T) {
	payer := solana.NewWallet().PublicKey()
	splits := []types.ComputedSplit{
		{Recipient: solana.NewWallet().PublicKey().String(), Amount: 600},
		{Recipient: solana.NewWallet().PublicKey().String(), Amount: 400},
	}
	tx, err := composer.Build(splits, payer, solana.Hash{2})
	require.NoError(t, err)
	encoded, err := envelope.EncodeBase64(tx)
	require.NoError(t, err)

	fee := &stubFee{estimate: &types.FeeEstimate{FeeInLamports: 5000, FeeInToken: 10}}
	res, err := newService(fee).Verify(context.Background(), encoded, "")
	require.NoError(t, err)

	assert.True(t, res.Valid)
	assert.Equal(t, uint64(5000), res.FeeEstimate)
	assert.Equal(t, splits, res.RecoveredSplits)
	assert.Equal(t, uint64(1000), res.TotalRecovered)
	assert.Positive(t, res.TransactionSize)
	assert.Equal(t, 1, fee.calls)
}

func TestVerifySignerRejection(t *testing.T) {
	tx, err := composer.Build([]types.ComputedSplit{
		{Recipient: solana.NewWallet().PublicKey().String(), Amount: 10},
	}, solana.NewWallet().PublicKey(), solana.Hash{2})
	require.NoError(t, err)
	encoded, err := envelope.EncodeBase64(tx)
	require.NoError(t, err)

	fee := &stubFee{err: &clients.SignerError{Method: "estimateTransactionFee", Code: -32000, Message: "simulation failed"}}
	res, err := newService(fee).Verify(context.Background(), encoded, "")
	require.NoError(t, err)

	assert.False(t, res.Valid)
	assert.Contains(t, res.Message, "simulation failed")
	assert.Equal(t, uint64(10), res.TotalRecovered)
}

func TestVerifySignerUnavailable(t *testing.T) {
	tx, err := composer.Build([]types.ComputedSplit{
		{Recipient: solana.NewWallet().PublicKey().String(), Amount: 10},
	}, solana.NewWallet().PublicKey(), solana.Hash{2})
	require.NoError(t, err)
	encoded, err := envelope.EncodeBase64(tx)
	require.NoError(t, err)

	fee := &stubFee{err: types.NewError(types.ErrUpstreamSignerUnavailable, "unreachable")}
	_, err = newService(fee).Verify(context.Background(), encoded, "")
	assert.Equal(t, types.ErrUpstreamSignerUnavailable, types.ErrorCode(err))
}

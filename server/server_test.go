package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	x402 "github.com/vitwit/x402split"
	"github.com/vitwit/x402split/clients/koratest"
	"github.com/vitwit/x402split/composer"
	"github.com/vitwit/x402split/envelope"
	"github.com/vitwit/x402split/metrics"
	"github.com/vitwit/x402split/types"
)

type harness struct {
	kora    *koratest.Server
	handler http.Handler
	reg     *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	kora := koratest.NewServer()
	t.Cleanup(kora.Close)

	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheusRecorder(reg)
	require.NoError(t, err)

	f, err := x402.New(&types.FacilitatorConfig{
		KoraRPCURL:      kora.URL,
		Network:         types.NetworkSolanaDevnet,
		DefaultFeeToken: solana.SolMint.String(),
		DefaultTimeout:  time.Second,
	}, x402.WithMetrics(rec))
	require.NoError(t, err)

	return &harness{
		kora:    kora,
		handler: New(f, WithMetrics(rec), WithMetricsEndpoint(reg)).Handler(),
		reg:     reg,
	}
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

// sponsored returns a payer-signed transaction with the fake signer as fee
// payer, and the splits it pays.
func (h *harness) sponsored(t *testing.T, payer solana.PrivateKey, amounts ...uint64) (string, []types.ComputedSplit) {
	t.Helper()

	splits := make([]types.ComputedSplit, len(amounts))
	for i, a := range amounts {
		splits[i] = types.ComputedSplit{Recipient: solana.NewWallet().PublicKey().String(), Amount: a}
	}

	tx, err := composer.Build(splits, payer.PublicKey(), solana.Hash{1})
	require.NoError(t, err)
	marker := solana.NewInstruction(solana.MemoProgramID,
		solana.AccountMetaSlice{solana.Meta(payer.PublicKey()).SIGNER()}, []byte("x402"))
	tx, err = composer.InjectInstruction(tx, marker, h.kora.Signer.PublicKey())
	require.NoError(t, err)
	_, err = envelope.Sign(tx, payer)
	require.NoError(t, err)

	encoded, err := envelope.EncodeBase64(tx)
	require.NoError(t, err)
	return encoded, splits
}

func newPayer(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return key
}

func TestSupportedShape(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/supported", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	for _, key := range []string{"version", "supported_tokens", "payment_methods", "capabilities", "api_endpoints"} {
		assert.Contains(t, body, key)
	}
	caps := body["capabilities"].(map[string]interface{})
	assert.Equal(t, true, caps["fee_abstraction"])
	assert.Equal(t, true, caps["payment_splitting"])
	assert.Equal(t, true, caps["token_payments"])
}

func TestVerifyEmptyTransactionIs400(t *testing.T) {
	h := newHarness(t)

	tx := &solana.Transaction{Message: solana.Message{
		Header:      solana.MessageHeader{NumRequiredSignatures: 1},
		AccountKeys: solana.PublicKeySlice{solana.NewWallet().PublicKey()},
	}}
	envelope.PadSignatures(tx)
	encoded, err := envelope.EncodeBase64(tx)
	require.NoError(t, err)

	rec := h.do(t, http.MethodPost, "/verify", types.VerifyRequest{Transaction: encoded})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body types.ErrorResponse
	decode(t, rec, &body)
	assert.False(t, body.Success)
	assert.Equal(t, types.ErrEmptyTransaction, body.Error)
}

func TestVerifyMalformedIs400(t *testing.T) {
	h := newHarness(t)

	for _, raw := range []string{"AQID", "not base64!"} {
		rec := h.do(t, http.MethodPost, "/verify", types.VerifyRequest{Transaction: raw})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body types.ErrorResponse
		decode(t, rec, &body)
		assert.Equal(t, types.ErrMalformedTransaction, body.Error, raw)
	}
}

func TestVerifyRejectsUnknownFields(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/verify", `{"transaction":"AQID","amount":5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body types.ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, types.ErrInvalidRequest, body.Error)
}

func TestStrictDecodingStaysLocal(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/verify", `{"transaction":"AQID"} {"transaction":"AQID"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body types.ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, types.ErrInvalidRequest, body.Error)

	// gin routes outside the facilitator keep the permissive default
	assert.False(t, binding.EnableDecoderDisallowUnknownFields)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/echo", func(c *gin.Context) {
		var in struct {
			Name string `json:"name"`
		}
		if err := c.ShouldBindJSON(&in); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.String(http.StatusOK, in.Name)
	})
	out := httptest.NewRecorder()
	r.ServeHTTP(out, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(`{"name":"a","extra":1}`)))
	assert.Equal(t, http.StatusOK, out.Code)
}

func TestVerifyValid(t *testing.T) {
	h := newHarness(t)
	tx, splits := h.sponsored(t, newPayer(t), 600, 400)

	rec := h.do(t, http.MethodPost, "/verify", types.VerifyRequest{Transaction: tx})
	require.Equal(t, http.StatusOK, rec.Code)

	var body types.VerifyResponse
	decode(t, rec, &body)
	assert.True(t, body.Success)
	assert.True(t, body.TransactionValid)
	assert.Equal(t, uint64(5000), body.FeeEstimate)
	assert.Equal(t, splits, body.PaymentInfo.PaymentSplits)
	assert.Equal(t, uint64(1000), body.PaymentInfo.TotalAmount)
	assert.Contains(t, rec.Body.String(), `"paymentSplits"`)
}

func TestSettle(t *testing.T) {
	h := newHarness(t)
	payer := newPayer(t)
	tx, splits := h.sponsored(t, payer, 700, 300)

	rec := h.do(t, http.MethodPost, "/settle", types.SettleRequest{
		Transaction:   tx,
		PaymentSplits: splits,
		Payer:         payer.PublicKey().String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body types.SettleResponse
	decode(t, rec, &body)
	assert.True(t, body.Success)

	sent := h.kora.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, sent[0].Signatures[0].String(), body.Signature)
}

func TestSettleValidation(t *testing.T) {
	h := newHarness(t)
	payer := newPayer(t)
	tx, _ := h.sponsored(t, payer, 10)

	rec := h.do(t, http.MethodPost, "/settle", types.SettleRequest{
		Transaction: tx,
		Payer:       payer.PublicKey().String(),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body types.ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, types.ErrInvalidRequest, body.Error)
	assert.Zero(t, h.kora.Calls("signAndSendTransaction"))
}

func TestSettleSigningFailure(t *testing.T) {
	h := newHarness(t)
	h.kora.StripSignatures = true
	payer := newPayer(t)
	tx, splits := h.sponsored(t, payer, 10)

	rec := h.do(t, http.MethodPost, "/settle", types.SettleRequest{
		Transaction: tx, PaymentSplits: splits, Payer: payer.PublicKey().String(),
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body types.ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, types.ErrSigningFailure, body.Error)
}

func TestSettleUpstreamUnavailableIsGeneric(t *testing.T) {
	h := newHarness(t)
	payer := newPayer(t)
	tx, splits := h.sponsored(t, payer, 10)
	koraURL := h.kora.URL
	h.kora.Close()

	rec := h.do(t, http.MethodPost, "/settle", types.SettleRequest{
		Transaction: tx, PaymentSplits: splits, Payer: payer.PublicKey().String(),
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body types.ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, types.ErrUpstreamSignerUnavailable, body.Error)
	assert.Equal(t, upstreamMessage, body.Message)
	assert.NotContains(t, rec.Body.String(), strings.TrimPrefix(koraURL, "http://"))
}

func TestPaymentInstructionAndSigner(t *testing.T) {
	h := newHarness(t)
	payer := newPayer(t)
	tx, _ := h.sponsored(t, payer, 10)

	rec := h.do(t, http.MethodPost, "/get-payment-instruction", types.PaymentInstructionRequest{
		Transaction:  tx,
		FeeToken:     solana.SolMint.String(),
		SourceWallet: payer.PublicKey().String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var pi types.PaymentInstructionResponse
	decode(t, rec, &pi)
	assert.Equal(t, h.kora.SignerAddress(), pi.SignerAddress)
	assert.NotEmpty(t, pi.PaymentInstruction)

	rec = h.do(t, http.MethodGet, "/get-kora-signer", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var signer types.SignerResponse
	decode(t, rec, &signer)
	assert.Equal(t, h.kora.SignerAddress(), signer.SignerAddress)
}

func TestHealthRequestIDAndMetrics(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	out := httptest.NewRecorder()
	h.handler.ServeHTTP(out, req)
	assert.Equal(t, "req-1", out.Header().Get(RequestIDHeader))

	rec = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "x402split_events_total")
}

type stubLedger struct{ err error }

func (s stubLedger) LatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{1}, s.err
}

func TestHealthChecksLedger(t *testing.T) {
	kora := koratest.NewServer()
	defer kora.Close()

	f, err := x402.New(&types.FacilitatorConfig{
		KoraRPCURL:      kora.URL,
		Network:         types.NetworkSolanaDevnet,
		DefaultFeeToken: solana.SolMint.String(),
	})
	require.NoError(t, err)

	up := New(f, WithLedger(stubLedger{})).Handler()
	rec := httptest.NewRecorder()
	up.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","ledger":"reachable"}`, rec.Body.String())

	down := New(f, WithLedger(stubLedger{err: errors.New("connection refused")})).Handler()
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

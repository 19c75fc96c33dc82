// Package server exposes a facilitator over HTTP with gin.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitwit/x402split/logger"
	"github.com/vitwit/x402split/metrics"
	"github.com/vitwit/x402split/types"
	"github.com/vitwit/x402split/utils"
)

// Facilitator is what the HTTP layer needs from the facilitator service.
type Facilitator interface {
	Supported(ctx context.Context) (*types.SupportedResponse, error)
	Verify(ctx context.Context, request *types.VerifyRequest) (*types.VerificationResult, error)
	Settle(ctx context.Context, request *types.SettleRequest) (*types.SettlementResult, error)
	PaymentInstruction(ctx context.Context, request *types.PaymentInstructionRequest) (*types.PaymentInstructionResponse, error)
	Signer(ctx context.Context) (string, error)
}

// Server routes facilitator requests.
type Server struct {
	facilitator Facilitator
	logger      logger.Logger
	metrics     metrics.Recorder
	gatherer    prometheus.Gatherer
	ledger      Ledger
	engine      *gin.Engine
}

// Ledger is checked by /health when configured.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Server) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithMetricsEndpoint serves g on GET /metrics.
func WithMetricsEndpoint(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLedger makes /health report whether the ledger RPC answers.
func WithLedger(l Ledger) Option {
	return func(s *Server) {
		s.ledger = l
	}
}

// New builds the gin engine for f.
func New(f Facilitator, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		facilitator: f,
		logger:      logger.NoopLogger{},
		metrics:     metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(s.logger, s.metrics))

	r.GET("/supported", s.handleSupported)
	r.POST("/verify", s.handleVerify)
	r.POST("/settle", s.handleSettle)
	r.POST("/get-payment-instruction", s.handlePaymentInstruction)
	r.GET("/get-kora-signer", s.handleSigner)
	r.GET("/health", s.handleHealth)

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	s.engine = r
	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleSupported(c *gin.Context) {
	res, err := s.facilitator.Supported(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleVerify(c *gin.Context) {
	var req types.VerifyRequest
	if !s.bind(c, &req) {
		return
	}

	res, err := s.facilitator.Verify(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.VerifyResponse{
		Success:          true,
		TransactionValid: res.Valid,
		FeeEstimate:      res.FeeEstimate,
		TransactionSize:  res.TransactionSize,
		PaymentInfo: types.PaymentInfo{
			PaymentSplits: nonNil(res.RecoveredSplits),
			TotalAmount:   res.TotalRecovered,
		},
		Message: res.Message,
	})
}

func (s *Server) handleSettle(c *gin.Context) {
	var req types.SettleRequest
	if !s.bind(c, &req) {
		return
	}

	res, err := s.facilitator.Settle(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, types.SettleResponse{
		Success:   res.Success,
		Signature: res.Signature,
		Message:   res.Message,
	})
}

func (s *Server) handlePaymentInstruction(c *gin.Context) {
	var req types.PaymentInstructionRequest
	if !s.bind(c, &req) {
		return
	}

	res, err := s.facilitator.PaymentInstruction(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleSigner(c *gin.Context) {
	addr, err := s.facilitator.Signer(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.SignerResponse{SignerAddress: addr})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.ledger == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.ledger.LatestBlockhash(ctx); err != nil {
		s.logger.Warn("ledger health check failed", map[string]any{"error": err.Error()})
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "ledger": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ledger": "reachable"})
}

// bind decodes the JSON body into req, rejecting unknown fields, and runs
// struct validation. On failure the 400 response is already written.
func (s *Server) bind(c *gin.Context, req interface{}) bool {
	if err := decodeStrict(c.Request.Body, req); err != nil {
		s.writeError(c, types.NewError(types.ErrInvalidRequest, "invalid request body: %v", err))
		return false
	}
	if err := utils.ValidateStruct(req); err != nil {
		s.writeError(c, err)
		return false
	}
	return true
}

// decodeStrict reads a single JSON object, refusing fields req does not
// declare. It leaves gin's process-wide binding settings alone.
func decodeStrict(body io.Reader, req interface{}) error {
	if body == nil {
		return errors.New("request body is empty")
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("request body has trailing data")
	}
	return nil
}

func nonNil(splits []types.ComputedSplit) []types.ComputedSplit {
	if splits == nil {
		return []types.ComputedSplit{}
	}
	return splits
}

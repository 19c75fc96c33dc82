// Package facilitator is an HTTP client for a split-payment facilitator.
// Gateways use it to advertise and verify payments, clients to build and
// settle them.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/vitwit/x402split/types"
)

// Client calls a facilitator over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client for the facilitator at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewWithHTTPClient creates a client that sends requests with hc.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  hc,
	}
}

// BaseURL returns the facilitator address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Supported fetches GET /supported.
func (c *Client) Supported(ctx context.Context) (*types.SupportedResponse, error) {
	var out types.SupportedResponse
	if err := c.do(ctx, http.MethodGet, "/supported", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify posts to /verify.
func (c *Client) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	var out types.VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle posts to /settle.
func (c *Client) Settle(ctx context.Context, req *types.SettleRequest) (*types.SettleResponse, error) {
	var out types.SettleResponse
	if err := c.do(ctx, http.MethodPost, "/settle", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PaymentInstruction posts to /get-payment-instruction.
func (c *Client) PaymentInstruction(ctx context.Context, req *types.PaymentInstructionRequest) (*types.PaymentInstructionResponse, error) {
	var out types.PaymentInstructionResponse
	if err := c.do(ctx, http.MethodPost, "/get-payment-instruction", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Signer fetches GET /get-kora-signer.
func (c *Client) Signer(ctx context.Context) (string, error) {
	var out types.SignerResponse
	if err := c.do(ctx, http.MethodGet, "/get-kora-signer", nil, &out); err != nil {
		return "", err
	}
	return out.SignerAddress, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return pkgerrors.Wrap(types.NewError(types.ErrCancelled, "request canceled"), ctx.Err().Error())
		}
		return pkgerrors.Wrapf(
			types.NewError(types.ErrFacilitatorUnavailable, "facilitator unavailable"),
			"%s %s: %v", method, path, err,
		)
	}

	return HandleAPIResponse(resp, out)
}

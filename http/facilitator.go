// Package http provides the HTTP facilitator client and the payment-gating
// middleware.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	x402 "github.com/meshpay/x402-mesh-go"
	"github.com/meshpay/x402-mesh-go/facilitator"
	"github.com/meshpay/x402-mesh-go/retry"
)

// OnAfterVerifyFunc is a callback invoked after a Verify operation completes.
// Called with the result (success or failure) for logging, metrics, etc.
type OnAfterVerifyFunc func(context.Context, x402.PaymentPayload, x402.PaymentRequirements, *x402.VerifyResponse, error)

// OnAfterSettleFunc is a callback invoked after a Settle operation completes.
type OnAfterSettleFunc func(context.Context, x402.PaymentPayload, x402.PaymentRequirements, *x402.SettleResponse, error)

// FacilitatorClient talks to an external facilitator service over HTTP.
// One verification call yields one result; the client retries only when
// MaxRetries is set explicitly.
type FacilitatorClient struct {
	// BaseURL is the facilitator service URL (e.g. "https://x402.org/facilitator").
	BaseURL string

	// Client is the HTTP client to use. If nil, http.DefaultClient is used.
	Client *http.Client

	// Timeouts contains timeout configuration for payment operations.
	Timeouts x402.TimeoutConfig

	// MaxRetries is the number of retry attempts for unreachable-facilitator
	// errors (default 0: no retries).
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts (default 100ms).
	RetryDelay time.Duration

	// Authorization is a static Authorization header value, if the
	// facilitator requires one.
	Authorization string

	// OnAfterVerify is called after each Verify operation completes.
	OnAfterVerify OnAfterVerifyFunc

	// OnAfterSettle is called after each Settle operation completes.
	OnAfterSettle OnAfterSettleFunc
}

// Verify that FacilitatorClient implements facilitator.Interface.
var _ facilitator.Interface = (*FacilitatorClient)(nil)

func (c *FacilitatorClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *FacilitatorClient) retryConfig() retry.Config {
	retryDelay := c.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	maxRetries := c.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return retry.Config{
		MaxAttempts:  maxRetries + 1,
		InitialDelay: retryDelay,
		MaxDelay:     retryDelay * 4,
		Multiplier:   2.0,
	}
}

// Verify submits a payment authorization for verification without settling it.
func (c *FacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	req := facilitator.VerifyRequest{
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	timeout := c.Timeouts.OrDefault().VerifyTimeout
	resp, resultErr := retry.WithRetry(ctx, c.retryConfig(), isFacilitatorUnavailableError, func() (*x402.VerifyResponse, error) {
		var verifyResp x402.VerifyResponse
		if err := c.post(ctx, "/verify", data, timeout, x402.ErrVerificationFailed, &verifyResp); err != nil {
			return nil, err
		}
		if verifyResp.Payer == "" {
			verifyResp.Payer = payload.From
		}
		return &verifyResp, nil
	})

	if c.OnAfterVerify != nil {
		c.OnAfterVerify(ctx, payload, requirements, resp, resultErr)
	}
	return resp, resultErr
}

// Settle executes a verified payment on the ledger.
func (c *FacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	req := facilitator.SettleRequest{
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	timeout := c.Timeouts.OrDefault().SettleTimeout
	resp, resultErr := retry.WithRetry(ctx, c.retryConfig(), isFacilitatorUnavailableError, func() (*x402.SettleResponse, error) {
		var settleResp x402.SettleResponse
		if err := c.post(ctx, "/settle", data, timeout, x402.ErrSettlementFailed, &settleResp); err != nil {
			return nil, err
		}
		return &settleResp, nil
	})

	if c.OnAfterSettle != nil {
		c.OnAfterSettle(ctx, payload, requirements, resp, resultErr)
	}
	return resp, resultErr
}

// post sends one JSON request and decodes the response into out.
// A transport failure maps to ErrFacilitatorUnavailable; a non-200 status
// maps to baseErr with any reason the body carries.
func (c *FacilitatorClient) post(ctx context.Context, path string, body []byte, timeout time.Duration, baseErr error, out interface{}) error {
	reqCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, "POST", c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Authorization != "" {
		httpReq.Header.Set("Authorization", c.Authorization)
	}

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return parseErrorResponse(httpResp, baseErr)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// parseErrorResponse extracts error details from a non-200 HTTP response.
func parseErrorResponse(resp *http.Response, baseErr error) error {
	bodyBytes, _ := io.ReadAll(resp.Body)

	var errBody map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &errBody); err == nil {
		for _, key := range []string{"invalidReason", "error", "reason"} {
			if reason, ok := errBody[key].(string); ok && reason != "" {
				return fmt.Errorf("%w: status %d, reason: %s", baseErr, resp.StatusCode, reason)
			}
		}
	}

	if len(bodyBytes) > 0 && len(bodyBytes) < 500 {
		return fmt.Errorf("%w: status %d, body: %s", baseErr, resp.StatusCode, string(bodyBytes))
	}
	return fmt.Errorf("%w: status %d", baseErr, resp.StatusCode)
}

// isFacilitatorUnavailableError reports whether an error is a transport
// failure rather than a negative verification or settlement result.
func isFacilitatorUnavailableError(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable)
}

package http

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	x402 "github.com/meshpay/x402-mesh-go"
	"github.com/meshpay/x402-mesh-go/encoding"
	"github.com/meshpay/x402-mesh-go/validation"
)

// Config holds the configuration for the payment gate.
type Config struct {
	// FacilitatorURL is the facilitator endpoint used for verification.
	FacilitatorURL string

	// WalletAddress is the recipient of payments (payTo).
	WalletAddress string

	// Price is the amount required per request, e.g. "$0.10".
	Price string

	// Network is the target ledger identifier, e.g. "avalanche".
	Network string

	// Resource is the logical identifier of the protected endpoint.
	Resource string

	// Settle settles verified payments before granting access. Default is
	// verify-only.
	Settle bool

	// FacilitatorAuthorization is a static Authorization header value for
	// the facilitator, if it requires one.
	FacilitatorAuthorization string

	// Timeouts overrides the default facilitator timeouts.
	Timeouts x402.TimeoutConfig

	// Logger receives structured gate decisions. Defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the time source for the validity-window check.
	Now func() time.Time

	// OnAfterVerify and OnAfterSettle are forwarded to the facilitator client.
	OnAfterVerify OnAfterVerifyFunc
	OnAfterSettle OnAfterSettleFunc
}

// Denial is a deny decision with everything a transport adapter needs to
// write the response.
type Denial struct {
	// Status is the HTTP status code to return.
	Status int

	// Reason is the machine-readable deny code.
	Reason x402.DenyReason

	// Message is the display string for the caller.
	Message string

	// Challenge is true when the response should carry the payment
	// requirements (no payment was provided).
	Challenge bool
}

// Gate evaluates a single request's payment authorization. Checks run in a
// fixed short-circuiting order: structural, amount, time window, then remote
// verification, so the cheap local checks never trigger a network call.
type Gate struct {
	requirements x402.PaymentRequirements
	required     *big.Int
	facilitator  *FacilitatorClient
	settle       bool
	logger       *slog.Logger
	now          func() time.Time
}

// NewGate builds a Gate from the configuration. An unknown network or
// unparseable price is a configuration error returned immediately.
func NewGate(config Config) (*Gate, error) {
	requirements, err := x402.NewPaymentRequirements(config.WalletAddress, config.Price, config.Network, config.Resource)
	if err != nil {
		return nil, err
	}

	networkConfig, err := x402.GetNetworkConfig(config.Network)
	if err != nil {
		return nil, err
	}
	required, err := x402.PriceToAtomic(config.Price, networkConfig.Decimals)
	if err != nil {
		return nil, err
	}

	timeouts := config.Timeouts.OrDefault()
	if err := timeouts.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Gate{
		requirements: requirements,
		required:     required,
		facilitator: &FacilitatorClient{
			BaseURL:       config.FacilitatorURL,
			Client:        &http.Client{Timeout: timeouts.RequestTimeout},
			Timeouts:      timeouts,
			Authorization: config.FacilitatorAuthorization,
			OnAfterVerify: config.OnAfterVerify,
			OnAfterSettle: config.OnAfterSettle,
		},
		settle: config.Settle,
		logger: logger,
		now:    now,
	}, nil
}

// Requirements returns the challenge this gate issues.
func (g *Gate) Requirements() x402.PaymentRequirements {
	return g.requirements
}

// Check evaluates the X-PAYMENT header value for one request. It returns the
// verification result and decoded payload on allow, or a Denial on deny.
func (g *Gate) Check(ctx context.Context, header string) (*x402.VerifyResponse, *x402.PaymentPayload, *Denial) {
	if header == "" {
		g.logger.Info("no payment header provided", "resource", g.requirements.Resource)
		return nil, nil, &Denial{
			Status:    http.StatusPaymentRequired,
			Message:   "Payment required",
			Challenge: true,
		}
	}

	payload, err := encoding.DecodePayment(header)
	if err == nil {
		err = validation.ValidatePaymentPayload(payload)
	}
	if err != nil {
		g.logger.Warn("malformed payment payload", "error", err)
		return nil, nil, deny(http.StatusBadRequest, x402.DenyMalformedPayload)
	}

	value, _ := new(big.Int).SetString(payload.Value, 10)
	if value.Cmp(g.required) < 0 {
		g.logger.Warn("insufficient payment amount", "required", g.required.String(), "got", payload.Value)
		return nil, nil, deny(http.StatusPaymentRequired, x402.DenyInsufficientAmount)
	}

	now := g.now().Unix()
	if now < payload.ValidAfter || now > payload.ValidBefore {
		g.logger.Warn("payment outside validity window",
			"now", now, "validAfter", payload.ValidAfter, "validBefore", payload.ValidBefore)
		return nil, nil, deny(http.StatusPaymentRequired, x402.DenyExpiredOrNotYetValid)
	}

	verifyResp, err := g.facilitator.Verify(ctx, payload, g.requirements)
	if err != nil {
		// Only a transport failure is retryable. A non-200 facilitator
		// response is a final rejection of this payment.
		if errors.Is(err, x402.ErrFacilitatorUnavailable) {
			g.logger.Error("facilitator unreachable", "error", err)
			return nil, nil, deny(http.StatusServiceUnavailable, x402.DenyFacilitatorUnreachable)
		}
		g.logger.Warn("payment verification failed", "error", err)
		d := deny(http.StatusPaymentRequired, x402.DenyVerificationFailed)
		d.Message = d.Message + ": " + strings.TrimPrefix(err.Error(), x402.ErrVerificationFailed.Error()+": ")
		return nil, nil, d
	}
	if !verifyResp.IsValid {
		g.logger.Warn("payment verification failed", "reason", verifyResp.InvalidReason)
		d := deny(http.StatusPaymentRequired, x402.DenyVerificationFailed)
		if verifyResp.InvalidReason != "" {
			d.Message = d.Message + ": " + verifyResp.InvalidReason
		}
		return nil, nil, d
	}

	g.logger.Info("payment verified", "payer", verifyResp.Payer)
	return verifyResp, &payload, nil
}

// SettleIfConfigured settles a verified payment when the gate is configured
// to do so. Returns the settlement on success, nil when settling is off, or
// a Denial when settlement fails.
func (g *Gate) SettleIfConfigured(ctx context.Context, payload x402.PaymentPayload) (*x402.SettleResponse, *Denial) {
	if !g.settle {
		return nil, nil
	}

	settleResp, err := g.facilitator.Settle(ctx, payload, g.requirements)
	if err != nil {
		if errors.Is(err, x402.ErrFacilitatorUnavailable) {
			g.logger.Error("facilitator unreachable", "error", err)
			return nil, deny(http.StatusServiceUnavailable, x402.DenyFacilitatorUnreachable)
		}
		g.logger.Warn("settlement failed", "error", err)
		d := deny(http.StatusPaymentRequired, x402.DenySettlementFailed)
		d.Message = d.Message + ": " + strings.TrimPrefix(err.Error(), x402.ErrSettlementFailed.Error()+": ")
		return nil, d
	}
	if !settleResp.Success {
		g.logger.Warn("settlement unsuccessful", "reason", settleResp.ErrorReason)
		d := deny(http.StatusPaymentRequired, x402.DenySettlementFailed)
		if settleResp.ErrorReason != "" {
			d.Message = d.Message + ": " + settleResp.ErrorReason
		}
		return nil, d
	}

	g.logger.Info("payment settled", "transaction", settleResp.Transaction)
	return settleResp, nil
}

func deny(status int, reason x402.DenyReason) *Denial {
	return &Denial{Status: status, Reason: reason, Message: reason.Message()}
}

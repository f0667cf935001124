package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	x402 "github.com/meshpay/x402-mesh-go"
	"github.com/meshpay/x402-mesh-go/encoding"
)

// PaymentHeader is the request header carrying the payment payload.
const PaymentHeader = "X-PAYMENT"

// PaymentResponseHeader carries the settlement result on a settled pass.
const PaymentResponseHeader = "X-Payment-Response"

// ChallengeHeader is the response header carrying the serialized
// requirements alongside the 402 body.
const ChallengeHeader = "WWW-Authenticate"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for storing verified payment information.
const PaymentContextKey = contextKey("x402_payment")

// NewPaymentMiddleware wraps HTTP handlers with payment gating. The returned
// middleware denies with a 402 challenge until a request carries a payment
// authorization that passes the gate's full check pipeline.
func NewPaymentMiddleware(config Config) (func(http.Handler) http.Handler, error) {
	gate, err := NewGate(config)
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verifyResp, payload, denial := gate.Check(r.Context(), r.Header.Get(PaymentHeader))
			if denial != nil {
				WriteDenial(w, gate.Requirements(), denial)
				return
			}

			settlement, denial := gate.SettleIfConfigured(r.Context(), *payload)
			if denial != nil {
				WriteDenial(w, gate.Requirements(), denial)
				return
			}
			if settlement != nil {
				if encoded, err := encoding.EncodeSettlement(*settlement); err == nil {
					w.Header().Set(PaymentResponseHeader, encoded)
				}
			}

			ctx := context.WithValue(r.Context(), PaymentContextKey, verifyResp)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, nil
}

// WriteDenial writes a deny decision. A challenge denial carries the
// serialized requirements in both the body and the WWW-Authenticate header;
// other denials return a machine-readable reason.
func WriteDenial(w http.ResponseWriter, requirements x402.PaymentRequirements, denial *Denial) {
	w.Header().Set("Content-Type", "application/json")

	if denial.Challenge {
		if encoded, err := json.Marshal(requirements); err == nil {
			w.Header().Set(ChallengeHeader, fmt.Sprintf("x402 %s", encoded))
		}
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(requirements)
		return
	}

	w.WriteHeader(denial.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  denial.Message,
		"reason": string(denial.Reason),
	})
}

// GetPaymentFromContext extracts the verified payment information from the
// request context. Returns nil if no payment was verified.
func GetPaymentFromContext(ctx context.Context) *x402.VerifyResponse {
	value := ctx.Value(PaymentContextKey)
	if value == nil {
		return nil
	}
	resp, ok := value.(*x402.VerifyResponse)
	if !ok {
		return nil
	}
	return resp
}

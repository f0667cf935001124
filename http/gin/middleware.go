// Package gin provides Gin-compatible middleware for payment gating.
// This package is a thin adapter that translates gin.Context to the shared
// gate in the http package; all verification and settlement logic lives there.
package gin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	x402 "github.com/meshpay/x402-mesh-go"
	"github.com/meshpay/x402-mesh-go/encoding"
	x402http "github.com/meshpay/x402-mesh-go/http"
)

// Config is an alias for the http package's gate configuration.
type Config = x402http.Config

// PaymentContextKey is the gin context key for storing verified payment information.
const PaymentContextKey = "x402_payment"

// NewPaymentMiddleware creates a payment-gating middleware for Gin.
// It aborts the handler chain on deny and stores the verification result in
// the gin context on allow.
func NewPaymentMiddleware(config Config) (gin.HandlerFunc, error) {
	gate, err := x402http.NewGate(config)
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		verifyResp, payload, denial := gate.Check(c.Request.Context(), c.GetHeader(x402http.PaymentHeader))
		if denial != nil {
			abortWithDenial(c, gate.Requirements(), denial)
			return
		}

		settlement, denial := gate.SettleIfConfigured(c.Request.Context(), *payload)
		if denial != nil {
			abortWithDenial(c, gate.Requirements(), denial)
			return
		}
		if settlement != nil {
			if encoded, err := encoding.EncodeSettlement(*settlement); err == nil {
				c.Header(x402http.PaymentResponseHeader, encoded)
			}
		}

		c.Set(PaymentContextKey, verifyResp)

		// Also store in the request context for stdlib helpers.
		ctx := context.WithValue(c.Request.Context(), x402http.PaymentContextKey, verifyResp)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}, nil
}

func abortWithDenial(c *gin.Context, requirements x402.PaymentRequirements, denial *x402http.Denial) {
	if denial.Challenge {
		if encoded, err := json.Marshal(requirements); err == nil {
			c.Header(x402http.ChallengeHeader, fmt.Sprintf("x402 %s", encoded))
		}
		c.AbortWithStatusJSON(http.StatusPaymentRequired, requirements)
		return
	}
	c.AbortWithStatusJSON(denial.Status, gin.H{
		"error":  denial.Message,
		"reason": string(denial.Reason),
	})
}

// GetPaymentFromContext extracts the verified payment information from the
// Gin context. Returns nil if no payment was verified.
func GetPaymentFromContext(c *gin.Context) *x402.VerifyResponse {
	value, exists := c.Get(PaymentContextKey)
	if !exists {
		return nil
	}
	resp, ok := value.(*x402.VerifyResponse)
	if !ok {
		return nil
	}
	return resp
}

// Package facilitator defines the capability interface for payment
// verification and settlement.
//
// A facilitator is the external service that checks a payment authorization's
// validity and submits it to the ledger. Concrete wire formats vary by
// provider; adapters implement this one verify/settle contract rather than
// branching inline.
package facilitator

import (
	"context"

	x402 "github.com/meshpay/x402-mesh-go"
)

// Interface is the facilitator contract consumed by the access gate and the
// mesh orchestrator.
type Interface interface {
	// Verify checks a payment authorization without executing the transfer.
	Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error)

	// Settle executes a verified payment on the ledger.
	// This should only be called after successful verification.
	Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error)
}

// VerifyRequest is the request payload sent to POST /verify.
type VerifyRequest struct {
	// PaymentPayload contains the signed payment data from the client.
	PaymentPayload x402.PaymentPayload `json:"paymentPayload"`

	// PaymentRequirements contains the challenge the payment must satisfy.
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the request payload sent to POST /settle.
type SettleRequest struct {
	// PaymentPayload contains the signed payment data from the client.
	PaymentPayload x402.PaymentPayload `json:"paymentPayload"`

	// PaymentRequirements contains the challenge the payment must satisfy.
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

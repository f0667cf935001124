package x402

import "errors"

// Sentinel errors for payment gating and mesh orchestration.
var (
	// ErrMalformedPayload indicates the payment payload is structurally invalid.
	ErrMalformedPayload = errors.New("x402: malformed payment payload")

	// ErrInsufficientAmount indicates the authorized value is below the required amount.
	ErrInsufficientAmount = errors.New("x402: insufficient payment amount")

	// ErrExpiredOrNotYetValid indicates the current time is outside the
	// authorization's validity window.
	ErrExpiredOrNotYetValid = errors.New("x402: payment expired or not yet valid")

	// ErrVerificationFailed indicates the facilitator rejected the payment.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrSettlementFailed indicates the facilitator could not settle the payment.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrFacilitatorUnavailable indicates the facilitator service could not be
	// reached. Unlike a negative verification result, this is retryable by the
	// caller.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrUnsupportedNetwork indicates the network identifier has no known
	// asset/chain mapping. This is a configuration error, never defaulted.
	ErrUnsupportedNetwork = errors.New("x402: unsupported network")

	// ErrInvalidAmount indicates an invalid amount or price string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidRunParameters indicates a mesh run request failed validation.
	ErrInvalidRunParameters = errors.New("x402: invalid run parameters")

	// ErrSigningDeclined indicates the external signer refused or failed to sign.
	ErrSigningDeclined = errors.New("x402: signing declined or failed")
)

// DenyReason is a machine-readable code attached to every deny decision.
// The code is stable for programmatic handling; Message returns the
// display string shown to callers.
type DenyReason string

const (
	// DenyMalformedPayload marks a structurally invalid payment payload.
	DenyMalformedPayload DenyReason = "MALFORMED_PAYLOAD"

	// DenyInsufficientAmount marks an authorized value below the price.
	DenyInsufficientAmount DenyReason = "INSUFFICIENT_AMOUNT"

	// DenyExpiredOrNotYetValid marks a request outside the validity window.
	DenyExpiredOrNotYetValid DenyReason = "EXPIRED_OR_NOT_YET_VALID"

	// DenyVerificationFailed marks a negative facilitator verification result.
	DenyVerificationFailed DenyReason = "VERIFICATION_FAILED"

	// DenySettlementFailed marks a failed settlement attempt.
	DenySettlementFailed DenyReason = "SETTLEMENT_FAILED"

	// DenyFacilitatorUnreachable marks a transport failure talking to the
	// facilitator. Callers may retry; the other deny reasons are final.
	DenyFacilitatorUnreachable DenyReason = "FACILITATOR_UNREACHABLE"
)

// Message returns the display string for the deny reason.
func (r DenyReason) Message() string {
	switch r {
	case DenyMalformedPayload:
		return "Invalid payment payload"
	case DenyInsufficientAmount:
		return "Insufficient payment amount"
	case DenyExpiredOrNotYetValid:
		return "Payment has expired or is not yet valid"
	case DenyVerificationFailed:
		return "Payment verification failed"
	case DenySettlementFailed:
		return "Payment settlement failed"
	case DenyFacilitatorUnreachable:
		return "Payment service unavailable"
	default:
		return "Payment required"
	}
}

// PaymentError provides structured error information for gate decisions.
type PaymentError struct {
	// Reason is the deny code for programmatic handling.
	Reason DenyReason

	// Message is the human-readable error message.
	Message string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a PaymentError with the given reason and message.
func NewPaymentError(reason DenyReason, message string, err error) *PaymentError {
	return &PaymentError{Reason: reason, Message: message, Err: err}
}

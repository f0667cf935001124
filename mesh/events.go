package mesh

import x402 "github.com/meshpay/x402-mesh-go"

// Event is one entry on a run's ordered, append-only stream. Exactly one of
// the four shapes is populated: a transaction update, a signing request
// (transaction plus paymentData), a terminal error, or the completion marker.
type Event struct {
	// Transaction is a snapshot of the transaction after a state change.
	Transaction *Transaction `json:"transaction,omitempty"`

	// NeedsSignature asks the external signer to produce an authorization
	// for PaymentData and report the outcome back.
	NeedsSignature bool `json:"needsSignature,omitempty"`

	// PaymentData describes the transfer to sign.
	PaymentData *PaymentData `json:"paymentData,omitempty"`

	// Error terminates the stream before any transaction is produced.
	Error string `json:"error,omitempty"`

	// Complete marks the end of a run; the channel closes after it.
	Complete bool `json:"complete,omitempty"`
}

// PaymentData is the signing request handed across the stream boundary.
type PaymentData struct {
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// SigningOutcome is the externally reported result of a signing request.
// The signer either returns a completed payment payload or a decline.
type SigningOutcome struct {
	// TransactionID identifies the transaction the outcome belongs to. It
	// must match the transaction currently awaiting a signature.
	TransactionID string `json:"transactionId"`

	// Payload is the signed authorization, absent on decline.
	Payload *x402.PaymentPayload `json:"payload,omitempty"`

	// Declined is true when the signer refused or failed to sign.
	Declined bool `json:"declined,omitempty"`

	// Reason carries the decline reason for display.
	Reason string `json:"reason,omitempty"`
}

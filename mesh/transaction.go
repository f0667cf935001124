// Package mesh drives bounded sequences of payment authorizations between
// one sender and a set of recipients, streaming per-transaction progress to
// the initiator.
package mesh

import (
	"errors"
	"fmt"
	"time"
)

// Status is a transaction's lifecycle state.
type Status string

const (
	// StatusPending marks a generated transaction with no signing request yet.
	StatusPending Status = "pending"

	// StatusAwaitingSignature marks a published signing request.
	StatusAwaitingSignature Status = "awaiting_signature"

	// StatusSettling marks a signed authorization handed to the facilitator.
	StatusSettling Status = "settling"

	// StatusSucceeded marks a settled transaction. Terminal.
	StatusSucceeded Status = "succeeded"

	// StatusFailed marks a declined, rejected, or unsettleable transaction. Terminal.
	StatusFailed Status = "failed"
)

// ErrInvalidTransition indicates a status change outside the lifecycle graph.
var ErrInvalidTransition = errors.New("mesh: invalid status transition")

// validTransitions is the lifecycle graph. No transition skips a state and
// none revisits pending.
var validTransitions = map[Status][]Status{
	StatusPending:           {StatusAwaitingSignature},
	StatusAwaitingSignature: {StatusSettling, StatusFailed},
	StatusSettling:          {StatusSucceeded, StatusFailed},
}

// Transaction is one planned transfer in a run. It is created by the
// orchestrator and mutated only by the orchestrator; a run abandoned with
// the transaction in a non-terminal state is a valid incomplete outcome.
type Transaction struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Token     string    `json:"token"`
	Amount    string    `json:"amount"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`

	// TxHash is the ledger settlement reference, set on success.
	TxHash string `json:"txHash,omitempty"`

	// Error carries the failure reason, set on failure.
	Error string `json:"error,omitempty"`
}

// Advance moves the transaction to the next status, rejecting any edge not
// in the lifecycle graph.
func (t *Transaction) Advance(next Status) error {
	for _, allowed := range validTransitions[t.Status] {
		if allowed == next {
			t.Status = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
}

// Terminal reports whether the transaction has reached a final state.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// snapshot returns a copy safe to publish on the event stream while the
// orchestrator keeps mutating the original.
func (t *Transaction) snapshot() *Transaction {
	copied := *t
	return &copied
}

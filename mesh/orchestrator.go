package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	x402 "github.com/meshpay/x402-mesh-go"
	"github.com/meshpay/x402-mesh-go/facilitator"
)

// MaxRunTransactions bounds the number of transactions in one run.
const MaxRunTransactions = 100

// meshResource is the logical endpoint identifier used in per-transaction
// payment requirements.
const meshResource = "/api/mesh/runs"

// ErrNoPendingSignature indicates an outcome was reported for a transaction
// that is not currently awaiting one.
var ErrNoPendingSignature = errors.New("mesh: no signature pending for transaction")

// RunRequest describes one mesh run.
type RunRequest struct {
	SenderWallet         string   `json:"senderWallet"`
	Recipients           []string `json:"recipients"`
	Tokens               []string `json:"tokens"`
	MinAmount            string   `json:"minAmount"`
	MaxAmount            string   `json:"maxAmount"`
	NumberOfTransactions int      `json:"numberOfTransactions"`
}

// Validate checks the run parameters. All errors wrap
// x402.ErrInvalidRunParameters; a failed validation produces zero
// transactions.
func (r RunRequest) Validate() error {
	if r.SenderWallet == "" {
		return fmt.Errorf("%w: sender wallet required", x402.ErrInvalidRunParameters)
	}
	if len(r.Recipients) == 0 {
		return fmt.Errorf("%w: at least 1 recipient required", x402.ErrInvalidRunParameters)
	}
	if len(r.Tokens) == 0 {
		return fmt.Errorf("%w: at least 1 token required", x402.ErrInvalidRunParameters)
	}
	if len(r.eligibleRecipients()) == 0 {
		return fmt.Errorf("%w: recipients must include an address other than the sender", x402.ErrInvalidRunParameters)
	}

	min, errMin := strconv.ParseFloat(r.MinAmount, 64)
	max, errMax := strconv.ParseFloat(r.MaxAmount, 64)
	if errMin != nil || errMax != nil || min <= 0 || max <= 0 || min > max {
		return fmt.Errorf("%w: invalid amount range", x402.ErrInvalidRunParameters)
	}

	if r.NumberOfTransactions < 1 || r.NumberOfTransactions > MaxRunTransactions {
		return fmt.Errorf("%w: number of transactions must be between 1 and %d",
			x402.ErrInvalidRunParameters, MaxRunTransactions)
	}
	return nil
}

// eligibleRecipients filters the sender out of the recipient set so that a
// transaction's recipient is never its sender.
func (r RunRequest) eligibleRecipients() []string {
	eligible := make([]string, 0, len(r.Recipients))
	for _, recipient := range r.Recipients {
		if recipient != r.SenderWallet {
			eligible = append(eligible, recipient)
		}
	}
	return eligible
}

// Orchestrator generates bounded transaction sequences and drives each
// transaction through its lifecycle, one at a time. Runs own all their
// state; concurrent runs share nothing mutable.
type Orchestrator struct {
	// Facilitator verifies and settles signed authorizations.
	Facilitator facilitator.Interface

	// Network is the target ledger for every transaction in a run.
	Network string

	// Timeouts bounds the facilitator calls.
	Timeouts x402.TimeoutConfig

	// StepDelay is a synthetic pause between generating a transaction and
	// requesting its signature. Zero disables it.
	StepDelay time.Duration

	// Logger receives structured run progress. Defaults to slog.Default().
	Logger *slog.Logger

	// Rand overrides the random source, for deterministic tests.
	Rand *rand.Rand
}

// Run is one live mesh execution. Events are delivered in transition order;
// the channel closing is the sole termination signal.
type Run struct {
	id       string
	events   chan Event
	outcomes chan SigningOutcome
	done     chan struct{}

	mu       sync.Mutex
	awaiting string
}

// ID returns the run identifier used to correlate outcome submissions.
func (r *Run) ID() string {
	return r.id
}

// Events returns the run's ordered event stream.
func (r *Run) Events() <-chan Event {
	return r.events
}

// ReportOutcome delivers the external signer's result for the transaction
// currently awaiting a signature. Outcomes for any other transaction are
// rejected; the orchestrator keeps at most one signing request outstanding.
func (r *Run) ReportOutcome(ctx context.Context, outcome SigningOutcome) error {
	r.mu.Lock()
	awaiting := r.awaiting
	r.mu.Unlock()
	if awaiting == "" || awaiting != outcome.TransactionID {
		return fmt.Errorf("%w: %s", ErrNoPendingSignature, outcome.TransactionID)
	}

	select {
	case r.outcomes <- outcome:
		return nil
	case <-r.done:
		return fmt.Errorf("%w: run closed", ErrNoPendingSignature)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Run) setAwaiting(id string) {
	r.mu.Lock()
	r.awaiting = id
	r.mu.Unlock()
}

// Start validates the request and launches the run. Validation and
// configuration errors are returned before any transaction is created.
func (o *Orchestrator) Start(ctx context.Context, req RunRequest) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	networkConfig, err := x402.GetNetworkConfig(o.Network)
	if err != nil {
		return nil, err
	}

	run := &Run{
		id:       uuid.NewString(),
		events:   make(chan Event),
		outcomes: make(chan SigningOutcome),
		done:     make(chan struct{}),
	}
	go o.drive(ctx, run, req, networkConfig)
	return run, nil
}

// drive is the run loop: one transaction at a time, in generation order,
// blocking on the externally reported outcome before moving on.
func (o *Orchestrator) drive(ctx context.Context, run *Run, req RunRequest, networkConfig x402.NetworkConfig) {
	defer close(run.events)
	defer close(run.done)

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run", run.id)

	rng := o.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	recipients := req.eligibleRecipients()
	min, _ := strconv.ParseFloat(req.MinAmount, 64)
	max, _ := strconv.ParseFloat(req.MaxAmount, 64)
	timeouts := o.Timeouts.OrDefault()

	for i := 0; i < req.NumberOfTransactions; i++ {
		tx := &Transaction{
			ID:        uuid.NewString(),
			From:      req.SenderWallet,
			To:        recipients[rng.Intn(len(recipients))],
			Token:     req.Tokens[rng.Intn(len(req.Tokens))],
			Amount:    fmt.Sprintf("%.2f", min+rng.Float64()*(max-min)),
			Status:    StatusPending,
			CreatedAt: time.Now(),
		}
		logger.Info("transaction generated", "tx", tx.ID, "to", tx.To, "token", tx.Token, "amount", tx.Amount)

		if !emit(ctx, run, Event{Transaction: tx.snapshot()}) {
			return
		}
		if !sleep(ctx, o.StepDelay) {
			return
		}

		_ = tx.Advance(StatusAwaitingSignature)
		run.setAwaiting(tx.ID)
		signing := Event{
			Transaction:    tx.snapshot(),
			NeedsSignature: true,
			PaymentData:    &PaymentData{To: tx.To, Token: tx.Token, Amount: tx.Amount},
		}
		if !emit(ctx, run, signing) {
			return
		}

		var outcome SigningOutcome
		for {
			select {
			case <-ctx.Done():
				logger.Info("run abandoned awaiting signature", "tx", tx.ID)
				return
			case outcome = <-run.outcomes:
			}
			if outcome.TransactionID == tx.ID {
				break
			}
			// A duplicate submission can pass the awaiting check for an
			// earlier transaction and only land here; it must never decide
			// this one.
			logger.Warn("discarding outcome for wrong transaction",
				"tx", tx.ID, "got", outcome.TransactionID)
		}
		run.setAwaiting("")

		if outcome.Declined || outcome.Payload == nil {
			reason := outcome.Reason
			if reason == "" {
				reason = "signing declined"
			}
			_ = tx.Advance(StatusFailed)
			tx.Error = reason
			logger.Warn("signing declined", "tx", tx.ID, "reason", reason)
			if !emit(ctx, run, Event{Transaction: tx.snapshot()}) {
				return
			}
			continue
		}

		_ = tx.Advance(StatusSettling)
		if !emit(ctx, run, Event{Transaction: tx.snapshot()}) {
			return
		}

		o.settle(ctx, logger, tx, *outcome.Payload, networkConfig, timeouts)
		if !emit(ctx, run, Event{Transaction: tx.snapshot()}) {
			return
		}
	}

	logger.Info("run complete")
	emit(ctx, run, Event{Complete: true})
}

// settle drives one signed authorization through verification and settlement,
// leaving the transaction in a terminal state. A transaction's failure never
// aborts the run.
func (o *Orchestrator) settle(ctx context.Context, logger *slog.Logger, tx *Transaction, payload x402.PaymentPayload, networkConfig x402.NetworkConfig, timeouts x402.TimeoutConfig) {
	requirements := x402.PaymentRequirements{
		MaxAmountRequired: tx.Amount,
		Resource:          meshResource,
		Description:       "Mesh distribution payment",
		PayTo:             tx.To,
		Asset:             networkConfig.USDCAddress,
		Network:           o.Network,
		MaxTimeoutSeconds: x402.DefaultMaxTimeoutSeconds,
	}

	verifyCtx, cancel := context.WithTimeout(ctx, timeouts.VerifyTimeout)
	verifyResp, err := o.Facilitator.Verify(verifyCtx, payload, requirements)
	cancel()
	if err != nil {
		_ = tx.Advance(StatusFailed)
		if errors.Is(err, x402.ErrFacilitatorUnavailable) {
			tx.Error = x402.DenyFacilitatorUnreachable.Message()
			logger.Error("verification call failed", "tx", tx.ID, "error", err)
		} else {
			// Non-200 facilitator response: a final rejection, not an outage.
			tx.Error = strings.TrimPrefix(err.Error(), x402.ErrVerificationFailed.Error()+": ")
			logger.Warn("verification rejected", "tx", tx.ID, "error", err)
		}
		return
	}
	if !verifyResp.IsValid {
		_ = tx.Advance(StatusFailed)
		tx.Error = verifyResp.InvalidReason
		if tx.Error == "" {
			tx.Error = x402.DenyVerificationFailed.Message()
		}
		logger.Warn("verification rejected", "tx", tx.ID, "reason", verifyResp.InvalidReason)
		return
	}

	settleCtx, cancel := context.WithTimeout(ctx, timeouts.SettleTimeout)
	settleResp, err := o.Facilitator.Settle(settleCtx, payload, requirements)
	cancel()
	if err != nil {
		_ = tx.Advance(StatusFailed)
		if errors.Is(err, x402.ErrFacilitatorUnavailable) {
			tx.Error = x402.DenyFacilitatorUnreachable.Message()
			logger.Error("settlement call failed", "tx", tx.ID, "error", err)
		} else {
			tx.Error = strings.TrimPrefix(err.Error(), x402.ErrSettlementFailed.Error()+": ")
			logger.Warn("settlement rejected", "tx", tx.ID, "error", err)
		}
		return
	}
	if !settleResp.Success {
		_ = tx.Advance(StatusFailed)
		tx.Error = settleResp.ErrorReason
		if tx.Error == "" {
			tx.Error = x402.DenySettlementFailed.Message()
		}
		logger.Warn("settlement rejected", "tx", tx.ID, "reason", settleResp.ErrorReason)
		return
	}

	_ = tx.Advance(StatusSucceeded)
	tx.TxHash = settleResp.Transaction
	logger.Info("transaction settled", "tx", tx.ID, "hash", tx.TxHash)
}

// emit publishes one event, honoring consumer disconnect.
func emit(ctx context.Context, run *Run, event Event) bool {
	select {
	case run.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleep pauses between steps, honoring consumer disconnect.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	x402 "github.com/meshpay/x402-mesh-go"
)

const (
	sender     = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	recipientA = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	recipientB = "0xcccccccccccccccccccccccccccccccccccccccc"
)

// fakeFacilitator implements facilitator.Interface with overridable behavior.
type fakeFacilitator struct {
	verify func(x402.PaymentPayload, x402.PaymentRequirements) (*x402.VerifyResponse, error)
	settle func(x402.PaymentPayload, x402.PaymentRequirements) (*x402.SettleResponse, error)
}

func (f *fakeFacilitator) Verify(_ context.Context, p x402.PaymentPayload, r x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	if f.verify != nil {
		return f.verify(p, r)
	}
	return &x402.VerifyResponse{IsValid: true, Payer: p.From}, nil
}

func (f *fakeFacilitator) Settle(_ context.Context, p x402.PaymentPayload, r x402.PaymentRequirements) (*x402.SettleResponse, error) {
	if f.settle != nil {
		return f.settle(p, r)
	}
	return &x402.SettleResponse{Success: true, Transaction: "0xfeed", Payer: p.From}, nil
}

func testOrchestrator(f *fakeFacilitator) *Orchestrator {
	return &Orchestrator{
		Facilitator: f,
		Network:     "avalanche",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:        rand.New(rand.NewSource(1)),
	}
}

func testRunRequest(n int) RunRequest {
	return RunRequest{
		SenderWallet:         sender,
		Recipients:           []string{recipientA, recipientB},
		Tokens:               []string{"USDC"},
		MinAmount:            "1",
		MaxAmount:            "2",
		NumberOfTransactions: n,
	}
}

func signedPayload(tx *Transaction) *x402.PaymentPayload {
	return &x402.PaymentPayload{
		From:        tx.From,
		To:          tx.To,
		Value:       "1000000",
		ValidAfter:  time.Now().Add(-time.Minute).Unix(),
		ValidBefore: time.Now().Add(5 * time.Minute).Unix(),
		Nonce:       "0x" + strings.Repeat("ab", 32),
		Signature:   "0x" + strings.Repeat("cd", 65),
	}
}

func TestRunRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunRequest)
		wantErr string
	}{
		{name: "valid", mutate: func(r *RunRequest) {}},
		{name: "missing sender", mutate: func(r *RunRequest) { r.SenderWallet = "" }, wantErr: "sender wallet"},
		{name: "no recipients", mutate: func(r *RunRequest) { r.Recipients = nil }, wantErr: "recipient"},
		{name: "no tokens", mutate: func(r *RunRequest) { r.Tokens = nil }, wantErr: "token"},
		{name: "only recipient is sender", mutate: func(r *RunRequest) { r.Recipients = []string{sender} }, wantErr: "other than the sender"},
		{name: "min above max", mutate: func(r *RunRequest) { r.MinAmount = "5"; r.MaxAmount = "2" }, wantErr: "amount range"},
		{name: "zero min", mutate: func(r *RunRequest) { r.MinAmount = "0" }, wantErr: "amount range"},
		{name: "negative max", mutate: func(r *RunRequest) { r.MaxAmount = "-1" }, wantErr: "amount range"},
		{name: "non-numeric amount", mutate: func(r *RunRequest) { r.MinAmount = "one" }, wantErr: "amount range"},
		{name: "zero transactions", mutate: func(r *RunRequest) { r.NumberOfTransactions = 0 }, wantErr: "between 1 and 100"},
		{name: "too many transactions", mutate: func(r *RunRequest) { r.NumberOfTransactions = 101 }, wantErr: "between 1 and 100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRunRequest(3)
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if !errors.Is(err, x402.ErrInvalidRunParameters) {
				t.Fatalf("error = %v, want ErrInvalidRunParameters", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestStartRejectsInvalidRequest(t *testing.T) {
	orch := testOrchestrator(&fakeFacilitator{})
	if _, err := orch.Start(context.Background(), testRunRequest(0)); !errors.Is(err, x402.ErrInvalidRunParameters) {
		t.Errorf("error = %v, want ErrInvalidRunParameters", err)
	}

	orch.Network = "solana"
	if _, err := orch.Start(context.Background(), testRunRequest(1)); !errors.Is(err, x402.ErrUnsupportedNetwork) {
		t.Errorf("error = %v, want ErrUnsupportedNetwork", err)
	}
}

func TestRunFullLifecycle(t *testing.T) {
	const n = 3
	orch := testOrchestrator(&fakeFacilitator{})
	run, err := orch.Start(context.Background(), testRunRequest(n))
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	amountPattern := regexp.MustCompile(`^\d+\.\d{2}$`)
	statuses := make(map[string][]Status)
	var order []string
	signingRequests := 0
	sawComplete := false

	for event := range run.Events() {
		if event.Complete {
			sawComplete = true
			continue
		}
		if event.Error != "" {
			t.Fatalf("unexpected error event: %s", event.Error)
		}
		tx := event.Transaction
		if tx == nil {
			t.Fatal("event carries neither transaction, error, nor completion")
		}

		if _, seen := statuses[tx.ID]; !seen {
			order = append(order, tx.ID)
			if tx.From != sender {
				t.Errorf("From = %q, want sender", tx.From)
			}
			if tx.To == sender {
				t.Error("recipient must differ from sender")
			}
			if !amountPattern.MatchString(tx.Amount) {
				t.Errorf("amount %q not formatted to two decimals", tx.Amount)
			}
			if v, _ := strconv.ParseFloat(tx.Amount, 64); v < 1 || v > 2 {
				t.Errorf("amount %q outside [1, 2]", tx.Amount)
			}
		}
		statuses[tx.ID] = append(statuses[tx.ID], tx.Status)

		if event.NeedsSignature {
			signingRequests++
			if event.PaymentData == nil {
				t.Fatal("signing request missing paymentData")
			}
			if event.PaymentData.To != tx.To || event.PaymentData.Amount != tx.Amount {
				t.Errorf("paymentData %+v does not match transaction %+v", event.PaymentData, tx)
			}
			outcome := SigningOutcome{TransactionID: tx.ID, Payload: signedPayload(tx)}
			if err := run.ReportOutcome(context.Background(), outcome); err != nil {
				t.Fatalf("ReportOutcome error: %v", err)
			}
		}
	}

	if !sawComplete {
		t.Error("stream ended without a completion event")
	}
	if len(order) != n {
		t.Fatalf("distinct transactions = %d, want %d", len(order), n)
	}
	if signingRequests != n {
		t.Errorf("signing requests = %d, want %d", signingRequests, n)
	}

	want := []Status{StatusPending, StatusAwaitingSignature, StatusSettling, StatusSucceeded}
	for _, id := range order {
		got := statuses[id]
		if len(got) != len(want) {
			t.Fatalf("transaction %s saw statuses %v, want %v", id, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("transaction %s status[%d] = %s, want %s", id, i, got[i], want[i])
			}
		}
	}
}

func TestRunDeclineContinues(t *testing.T) {
	orch := testOrchestrator(&fakeFacilitator{})
	run, err := orch.Start(context.Background(), testRunRequest(2))
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	var finals []Status
	var declineError string
	first := true
	sawComplete := false

	for event := range run.Events() {
		if event.Complete {
			sawComplete = true
			continue
		}
		tx := event.Transaction

		if event.NeedsSignature {
			var outcome SigningOutcome
			if first {
				first = false
				outcome = SigningOutcome{TransactionID: tx.ID, Declined: true, Reason: "user rejected"}
			} else {
				outcome = SigningOutcome{TransactionID: tx.ID, Payload: signedPayload(tx)}
			}
			if err := run.ReportOutcome(context.Background(), outcome); err != nil {
				t.Fatalf("ReportOutcome error: %v", err)
			}
			continue
		}
		if tx.Terminal() {
			finals = append(finals, tx.Status)
			if tx.Status == StatusFailed {
				declineError = tx.Error
			}
		}
	}

	if !sawComplete {
		t.Error("a declined transaction must not end the run early")
	}
	if len(finals) != 2 || finals[0] != StatusFailed || finals[1] != StatusSucceeded {
		t.Errorf("terminal statuses = %v, want [failed succeeded]", finals)
	}
	if declineError != "user rejected" {
		t.Errorf("declined transaction error = %q, want the signer's reason", declineError)
	}
}

func TestRunVerificationRejection(t *testing.T) {
	fake := &fakeFacilitator{
		verify: func(p x402.PaymentPayload, _ x402.PaymentRequirements) (*x402.VerifyResponse, error) {
			return &x402.VerifyResponse{IsValid: false, InvalidReason: "bad signature"}, nil
		},
	}
	orch := testOrchestrator(fake)
	run, err := orch.Start(context.Background(), testRunRequest(1))
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	var final *Transaction
	for event := range run.Events() {
		if event.NeedsSignature {
			outcome := SigningOutcome{TransactionID: event.Transaction.ID, Payload: signedPayload(event.Transaction)}
			if err := run.ReportOutcome(context.Background(), outcome); err != nil {
				t.Fatalf("ReportOutcome error: %v", err)
			}
			continue
		}
		if event.Transaction != nil && event.Transaction.Terminal() {
			final = event.Transaction
		}
	}

	if final == nil || final.Status != StatusFailed {
		t.Fatalf("final = %+v, want failed", final)
	}
	if final.Error != "bad signature" {
		t.Errorf("error = %q, want the facilitator's reason", final.Error)
	}
}

func TestRunVerificationErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name      string
		verifyErr error
		wantError string
	}{
		{
			name:      "rejection status is final",
			verifyErr: fmt.Errorf("%w: status 400, reason: bad network", x402.ErrVerificationFailed),
			wantError: "status 400, reason: bad network",
		},
		{
			name:      "transport failure reads as outage",
			verifyErr: fmt.Errorf("%w: connection refused", x402.ErrFacilitatorUnavailable),
			wantError: x402.DenyFacilitatorUnreachable.Message(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeFacilitator{
				verify: func(x402.PaymentPayload, x402.PaymentRequirements) (*x402.VerifyResponse, error) {
					return nil, tt.verifyErr
				},
			}
			orch := testOrchestrator(fake)
			run, err := orch.Start(context.Background(), testRunRequest(1))
			if err != nil {
				t.Fatalf("Start error: %v", err)
			}

			var final *Transaction
			for event := range run.Events() {
				if event.NeedsSignature {
					outcome := SigningOutcome{TransactionID: event.Transaction.ID, Payload: signedPayload(event.Transaction)}
					if err := run.ReportOutcome(context.Background(), outcome); err != nil {
						t.Fatalf("ReportOutcome error: %v", err)
					}
					continue
				}
				if event.Transaction != nil && event.Transaction.Terminal() {
					final = event.Transaction
				}
			}

			if final == nil || final.Status != StatusFailed {
				t.Fatalf("final = %+v, want failed", final)
			}
			if final.Error != tt.wantError {
				t.Errorf("error = %q, want %q", final.Error, tt.wantError)
			}
		})
	}
}

func TestRunSettlementFailure(t *testing.T) {
	fake := &fakeFacilitator{
		settle: func(p x402.PaymentPayload, _ x402.PaymentRequirements) (*x402.SettleResponse, error) {
			return &x402.SettleResponse{Success: false, ErrorReason: "insufficient funds"}, nil
		},
	}
	orch := testOrchestrator(fake)
	run, err := orch.Start(context.Background(), testRunRequest(1))
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	var final *Transaction
	for event := range run.Events() {
		if event.NeedsSignature {
			outcome := SigningOutcome{TransactionID: event.Transaction.ID, Payload: signedPayload(event.Transaction)}
			if err := run.ReportOutcome(context.Background(), outcome); err != nil {
				t.Fatalf("ReportOutcome error: %v", err)
			}
			continue
		}
		if event.Transaction != nil && event.Transaction.Terminal() {
			final = event.Transaction
		}
	}

	if final == nil || final.Status != StatusFailed {
		t.Fatalf("final = %+v, want failed", final)
	}
	if final.Error != "insufficient funds" {
		t.Errorf("error = %q, want the settlement reason", final.Error)
	}
	if final.TxHash != "" {
		t.Errorf("failed transaction should not carry a tx hash, got %q", final.TxHash)
	}
}

func TestReportOutcomeRejectsWrongTransaction(t *testing.T) {
	orch := testOrchestrator(&fakeFacilitator{})
	run, err := orch.Start(context.Background(), testRunRequest(1))
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	events := run.Events()

	// Nothing is awaiting a signature yet.
	err = run.ReportOutcome(context.Background(), SigningOutcome{TransactionID: "nope"})
	if !errors.Is(err, ErrNoPendingSignature) {
		t.Errorf("error = %v, want ErrNoPendingSignature", err)
	}

	for event := range events {
		if !event.NeedsSignature {
			continue
		}
		// Wrong transaction ID while one is awaiting.
		err = run.ReportOutcome(context.Background(), SigningOutcome{TransactionID: "nope"})
		if !errors.Is(err, ErrNoPendingSignature) {
			t.Errorf("error = %v, want ErrNoPendingSignature", err)
		}

		outcome := SigningOutcome{TransactionID: event.Transaction.ID, Payload: signedPayload(event.Transaction)}
		if err := run.ReportOutcome(context.Background(), outcome); err != nil {
			t.Fatalf("ReportOutcome error: %v", err)
		}
	}
}

func TestRunDiscardsStaleOutcome(t *testing.T) {
	orch := testOrchestrator(&fakeFacilitator{})
	run, err := orch.Start(context.Background(), testRunRequest(2))
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	var firstID string
	var finals []Status
	for event := range run.Events() {
		if event.Complete {
			continue
		}
		tx := event.Transaction

		if event.NeedsSignature {
			if firstID == "" {
				firstID = tx.ID
			} else {
				// A duplicate of the first transaction's outcome that slipped
				// past the awaiting check must never decide this transaction.
				run.outcomes <- SigningOutcome{TransactionID: firstID, Declined: true, Reason: "stale duplicate"}
			}
			outcome := SigningOutcome{TransactionID: tx.ID, Payload: signedPayload(tx)}
			if err := run.ReportOutcome(context.Background(), outcome); err != nil {
				t.Fatalf("ReportOutcome error: %v", err)
			}
			continue
		}
		if tx.Terminal() {
			finals = append(finals, tx.Status)
		}
	}

	if len(finals) != 2 || finals[0] != StatusSucceeded || finals[1] != StatusSucceeded {
		t.Errorf("terminal statuses = %v, want [succeeded succeeded]", finals)
	}
}

func TestRunAbandonedAwaitingSignature(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch := testOrchestrator(&fakeFacilitator{})
	run, err := orch.Start(ctx, testRunRequest(1))
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	for event := range run.Events() {
		if event.NeedsSignature {
			// Consumer walks away mid-run.
			cancel()
		}
	}

	// The stream closed without a completion event; reporting now fails.
	err = run.ReportOutcome(context.Background(), SigningOutcome{TransactionID: "any"})
	if !errors.Is(err, ErrNoPendingSignature) {
		t.Errorf("error = %v, want ErrNoPendingSignature after abandonment", err)
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	run := &Run{id: "run-1"}

	registry.Add(run)
	got, ok := registry.Get("run-1")
	if !ok || got != run {
		t.Fatalf("Get returned %v, %v", got, ok)
	}

	registry.Remove("run-1")
	if _, ok := registry.Get("run-1"); ok {
		t.Error("run still present after Remove")
	}

	if _, ok := registry.Get("missing"); ok {
		t.Error("Get should miss for unknown ID")
	}
}

// Package x402 implements a gasless payment-authorization protocol for
// gating access to protected HTTP resources.
//
// A client proves it authorized a bounded token transfer by attaching a
// signed authorization to the request. The server checks the authorization
// locally (structure, amount, validity window) and then asks an external
// facilitator service to verify the signature and, optionally, settle the
// transfer on the ledger. The package never performs signing or settlement
// itself; both are external collaborators.
package x402

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// PaymentPayload is a signed, gasless transfer authorization.
//
// It is constructed and signed client-side, transported in the X-PAYMENT
// request header, and consumed exactly once by the facilitator. The payload
// is immutable once signed; replay protection relies on the facilitator
// rejecting reused nonces.
type PaymentPayload struct {
	// From is the payer's address.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the transfer amount in atomic units (e.g. 6-decimal USDC).
	Value string `json:"value"`

	// ValidAfter is the inclusive unix second from which the authorization is valid.
	ValidAfter int64 `json:"validAfter"`

	// ValidBefore is the inclusive unix second until which the authorization is valid.
	ValidBefore int64 `json:"validBefore"`

	// Nonce is a unique 32-byte hex value preventing replay.
	Nonce string `json:"nonce"`

	// Signature is the 65-byte hex signature over the authorization tuple.
	// It is produced by an external signer; this package only forwards it.
	Signature string `json:"signature"`
}

// PaymentRequirements describes what payment would satisfy a protected
// request. It is created fresh per challenge and never persisted.
type PaymentRequirements struct {
	// MaxAmountRequired is the price in display form (e.g. "$0.10" or "0.10").
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Resource is the logical identifier of the protected endpoint.
	Resource string `json:"resource"`

	// Description is a human-readable description of the charge.
	Description string `json:"description"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Asset is the token contract address.
	Asset string `json:"asset"`

	// Network is the target ledger identifier (e.g. "avalanche").
	Network string `json:"network"`

	// MaxTimeoutSeconds is the validity period expected of the authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`
}

// VerifyResponse is the outcome of asking the facilitator to check a
// PaymentPayload against PaymentRequirements.
type VerifyResponse struct {
	// IsValid indicates whether the payment is valid.
	IsValid bool `json:"isValid"`

	// InvalidReason provides a short error code if the payment is invalid.
	InvalidReason string `json:"invalidReason,omitempty"`

	// Payer is the address that authorized the payment.
	Payer string `json:"payer,omitempty"`
}

// SettleResponse is returned by the facilitator's settle endpoint.
type SettleResponse struct {
	// Success indicates whether the payment was settled on the ledger.
	Success bool `json:"success"`

	// Transaction is the ledger transaction hash.
	Transaction string `json:"transaction,omitempty"`

	// ErrorReason provides a short error code if settlement failed.
	ErrorReason string `json:"error,omitempty"`

	// Payer is the address that made the payment.
	Payer string `json:"payer,omitempty"`
}

// UnmarshalJSON accepts both the "transaction" and legacy "txHash" keys for
// the settlement reference, depending on the facilitator provider.
func (s *SettleResponse) UnmarshalJSON(data []byte) error {
	type alias SettleResponse
	aux := struct {
		*alias
		TxHash string `json:"txHash"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if s.Transaction == "" {
		s.Transaction = aux.TxHash
	}
	return nil
}

// PriceToAtomic converts a display price (optionally "$"-prefixed) to atomic
// units. For example, "$0.10" with 6 decimals becomes 100000.
// Returns ErrInvalidAmount if the price is malformed, negative, or has more
// precision than the asset supports.
func PriceToAtomic(price string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("%w: negative decimals %d", ErrInvalidAmount, decimals)
	}

	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(price), "$"))
	value := new(big.Rat)
	if _, ok := value.SetString(trimmed); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, price)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative price %q", ErrInvalidAmount, price)
	}

	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, scale)
	if value.Denom().Cmp(big.NewInt(1)) != 0 {
		return nil, fmt.Errorf("%w: %q exceeds %d decimals", ErrInvalidAmount, price, decimals)
	}
	return new(big.Int).Set(value.Num()), nil
}

// AtomicToAmount converts atomic units back to a decimal display string.
// For example, 100000 with 6 decimals becomes "0.100000".
func AtomicToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}
	rat := new(big.Rat).SetInt(value)
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	rat.Quo(rat, scale)
	return rat.FloatString(decimals)
}

// GenerateNonce returns a cryptographically random 32-byte hex nonce.
func GenerateNonce() (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hexutil.Encode(nonce[:]), nil
}

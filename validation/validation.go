// Package validation checks payment payloads and requirements for
// structural well-formedness before any network call is made.
package validation

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	x402 "github.com/meshpay/x402-mesh-go"
)

// ValidatePaymentPayload verifies all required fields are present and
// well-typed. Errors wrap x402.ErrMalformedPayload so the gate can map
// them to a single deny reason distinct from "no payment provided".
func ValidatePaymentPayload(p x402.PaymentPayload) error {
	if !common.IsHexAddress(p.From) {
		return fmt.Errorf("%w: invalid from address %q", x402.ErrMalformedPayload, p.From)
	}
	if !common.IsHexAddress(p.To) {
		return fmt.Errorf("%w: invalid to address %q", x402.ErrMalformedPayload, p.To)
	}

	value, ok := new(big.Int).SetString(p.Value, 10)
	if !ok || value.Sign() < 0 {
		return fmt.Errorf("%w: invalid value %q", x402.ErrMalformedPayload, p.Value)
	}

	if p.ValidAfter >= p.ValidBefore {
		return fmt.Errorf("%w: validAfter %d must precede validBefore %d",
			x402.ErrMalformedPayload, p.ValidAfter, p.ValidBefore)
	}

	nonce, err := hexutil.Decode(p.Nonce)
	if err != nil || len(nonce) != 32 {
		return fmt.Errorf("%w: nonce must be 32 bytes of hex", x402.ErrMalformedPayload)
	}

	sig, err := hexutil.Decode(p.Signature)
	if err != nil || len(sig) != 65 {
		return fmt.Errorf("%w: signature must be 65 bytes of hex", x402.ErrMalformedPayload)
	}

	return nil
}

// ValidatePaymentRequirements verifies a challenge is internally consistent:
// known network, valid addresses, and a parseable price.
func ValidatePaymentRequirements(req x402.PaymentRequirements) error {
	config, err := x402.GetNetworkConfig(req.Network)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(req.PayTo) {
		return fmt.Errorf("invalid requirements: payTo %q is not an address", req.PayTo)
	}
	if !common.IsHexAddress(req.Asset) {
		return fmt.Errorf("invalid requirements: asset %q is not an address", req.Asset)
	}
	if _, err := x402.PriceToAtomic(req.MaxAmountRequired, config.Decimals); err != nil {
		return fmt.Errorf("invalid requirements: %w", err)
	}
	if req.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("invalid requirements: timeout cannot be negative: %d", req.MaxTimeoutSeconds)
	}
	return nil
}

// Package encoding decodes and encodes payment payloads carried in the
// X-PAYMENT transport header. It accepts raw JSON and base64-encoded JSON,
// and normalizes the legacy v/r/s split-signature variant into the compact
// 65-byte form.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	x402 "github.com/meshpay/x402-mesh-go"
)

// wirePayload is the transport form of a payment payload. Either the
// compact signature field or the legacy v/r/s triple must be present.
type wirePayload struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature,omitempty"`

	// Legacy split-signature variant.
	V *int   `json:"v,omitempty"`
	R string `json:"r,omitempty"`
	S string `json:"s,omitempty"`
}

// DecodePayment parses an X-PAYMENT header value into a PaymentPayload.
// The header may carry the JSON object directly or base64-encoded.
// Returns an error wrapping x402.ErrMalformedPayload on any parse failure.
func DecodePayment(header string) (x402.PaymentPayload, error) {
	var payload x402.PaymentPayload

	raw := strings.TrimSpace(header)
	if raw == "" {
		return payload, fmt.Errorf("%w: empty header", x402.ErrMalformedPayload)
	}

	data := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return payload, fmt.Errorf("%w: invalid base64: %v", x402.ErrMalformedPayload, err)
		}
		data = decoded
	}

	var wire wirePayload
	if err := json.Unmarshal(data, &wire); err != nil {
		return payload, fmt.Errorf("%w: invalid JSON: %v", x402.ErrMalformedPayload, err)
	}

	signature := wire.Signature
	if signature == "" && wire.V != nil {
		joined, err := JoinSignature(wire.R, wire.S, *wire.V)
		if err != nil {
			return payload, err
		}
		signature = joined
	}

	payload = x402.PaymentPayload{
		From:        wire.From,
		To:          wire.To,
		Value:       wire.Value,
		ValidAfter:  wire.ValidAfter,
		ValidBefore: wire.ValidBefore,
		Nonce:       wire.Nonce,
		Signature:   signature,
	}
	return payload, nil
}

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string
// suitable for the X-PAYMENT header.
func EncodePayment(payload x402.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeSettlement converts a SettleResponse to a base64-encoded JSON string
// for the X-Payment-Response header.
func EncodeSettlement(settlement x402.SettleResponse) (string, error) {
	data, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// JoinSignature combines a legacy v/r/s split signature into the compact
// 65-byte r||s||v hex form. Recovery values 0 and 1 are shifted to 27/28.
func JoinSignature(r, s string, v int) (string, error) {
	rBytes, err := hexutil.Decode(r)
	if err != nil || len(rBytes) != 32 {
		return "", fmt.Errorf("%w: invalid signature r value", x402.ErrMalformedPayload)
	}
	sBytes, err := hexutil.Decode(s)
	if err != nil || len(sBytes) != 32 {
		return "", fmt.Errorf("%w: invalid signature s value", x402.ErrMalformedPayload)
	}
	if v == 0 || v == 1 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", fmt.Errorf("%w: invalid signature v value %d", x402.ErrMalformedPayload, v)
	}

	sig := make([]byte, 0, 65)
	sig = append(sig, rBytes...)
	sig = append(sig, sBytes...)
	sig = append(sig, byte(v))
	return hexutil.Encode(sig), nil
}

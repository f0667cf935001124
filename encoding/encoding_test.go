package encoding

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"

	x402 "github.com/meshpay/x402-mesh-go"
)

const (
	testFrom = "0x1111111111111111111111111111111111111111"
	testTo   = "0x2222222222222222222222222222222222222222"
)

var (
	testNonce     = "0x" + strings.Repeat("ab", 32)
	testSignature = "0x" + strings.Repeat("cd", 65)
)

func testPayloadJSON() string {
	return fmt.Sprintf(`{"from":%q,"to":%q,"value":"100000","validAfter":100,"validBefore":200,"nonce":%q,"signature":%q}`,
		testFrom, testTo, testNonce, testSignature)
}

func TestDecodePaymentRawJSON(t *testing.T) {
	payload, err := DecodePayment(testPayloadJSON())
	if err != nil {
		t.Fatalf("DecodePayment error: %v", err)
	}
	if payload.From != testFrom || payload.To != testTo {
		t.Errorf("addresses = %q -> %q", payload.From, payload.To)
	}
	if payload.Value != "100000" {
		t.Errorf("Value = %q, want 100000", payload.Value)
	}
	if payload.ValidAfter != 100 || payload.ValidBefore != 200 {
		t.Errorf("window = [%d, %d], want [100, 200]", payload.ValidAfter, payload.ValidBefore)
	}
	if payload.Signature != testSignature {
		t.Errorf("Signature = %q", payload.Signature)
	}
}

func TestDecodePaymentBase64(t *testing.T) {
	header := base64.StdEncoding.EncodeToString([]byte(testPayloadJSON()))
	payload, err := DecodePayment(header)
	if err != nil {
		t.Fatalf("DecodePayment error: %v", err)
	}
	if payload.From != testFrom {
		t.Errorf("From = %q, want %q", payload.From, testFrom)
	}
}

func TestDecodePaymentLegacySplitSignature(t *testing.T) {
	r := "0x" + strings.Repeat("aa", 32)
	s := "0x" + strings.Repeat("bb", 32)
	header := fmt.Sprintf(`{"from":%q,"to":%q,"value":"1","validAfter":1,"validBefore":2,"nonce":%q,"v":0,"r":%q,"s":%q}`,
		testFrom, testTo, testNonce, r, s)

	payload, err := DecodePayment(header)
	if err != nil {
		t.Fatalf("DecodePayment error: %v", err)
	}
	want := "0x" + strings.Repeat("aa", 32) + strings.Repeat("bb", 32) + "1b"
	if payload.Signature != want {
		t.Errorf("joined signature = %q, want %q", payload.Signature, want)
	}
}

func TestDecodePaymentMalformed(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "empty", header: ""},
		{name: "whitespace", header: "   "},
		{name: "bad base64", header: "!!!not-base64!!!"},
		{name: "bad json", header: "{not json"},
		{name: "base64 of bad json", header: base64.StdEncoding.EncodeToString([]byte("nope"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayment(tt.header)
			if !errors.Is(err, x402.ErrMalformedPayload) {
				t.Errorf("DecodePayment(%q) error = %v, want ErrMalformedPayload", tt.header, err)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := x402.PaymentPayload{
		From:        testFrom,
		To:          testTo,
		Value:       "250000",
		ValidAfter:  1000,
		ValidBefore: 2000,
		Nonce:       testNonce,
		Signature:   testSignature,
	}

	header, err := EncodePayment(original)
	if err != nil {
		t.Fatalf("EncodePayment error: %v", err)
	}
	decoded, err := DecodePayment(header)
	if err != nil {
		t.Fatalf("DecodePayment error: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestJoinSignature(t *testing.T) {
	r := "0x" + strings.Repeat("11", 32)
	s := "0x" + strings.Repeat("22", 32)

	tests := []struct {
		name    string
		r, s    string
		v       int
		wantV   string
		wantErr bool
	}{
		{name: "v 0 shifts to 27", r: r, s: s, v: 0, wantV: "1b"},
		{name: "v 1 shifts to 28", r: r, s: s, v: 1, wantV: "1c"},
		{name: "v 27 kept", r: r, s: s, v: 27, wantV: "1b"},
		{name: "v 28 kept", r: r, s: s, v: 28, wantV: "1c"},
		{name: "v out of range", r: r, s: s, v: 5, wantErr: true},
		{name: "short r", r: "0x1122", s: s, v: 0, wantErr: true},
		{name: "short s", r: r, s: "0x1122", v: 0, wantErr: true},
		{name: "non-hex r", r: "zz", s: s, v: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joined, err := JoinSignature(tt.r, tt.s, tt.v)
			if tt.wantErr {
				if !errors.Is(err, x402.ErrMalformedPayload) {
					t.Errorf("error = %v, want ErrMalformedPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("JoinSignature error: %v", err)
			}
			if len(joined) != 2+65*2 {
				t.Errorf("signature length = %d chars, want %d", len(joined), 2+65*2)
			}
			if !strings.HasSuffix(joined, tt.wantV) {
				t.Errorf("signature = %q, want v suffix %q", joined, tt.wantV)
			}
		})
	}
}

func TestEncodeSettlement(t *testing.T) {
	settlement := x402.SettleResponse{Success: true, Transaction: "0xabc", Payer: testFrom}
	encoded, err := EncodeSettlement(settlement)
	if err != nil {
		t.Fatalf("EncodeSettlement error: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("settlement header is not base64: %v", err)
	}
	if !strings.Contains(string(decoded), "0xabc") {
		t.Errorf("decoded settlement %q missing transaction hash", decoded)
	}
}

package x402

import "fmt"

// DefaultMaxTimeoutSeconds is the validity period expected of authorizations
// when the caller does not specify one.
const DefaultMaxTimeoutSeconds = 300

// NewPaymentRequirements builds the challenge describing what payment would
// satisfy a protected resource. Pure construction; no side effects.
//
// Returns ErrUnsupportedNetwork when the network identifier has no known
// asset mapping, and ErrInvalidAmount when the price string does not parse.
func NewPaymentRequirements(payTo, price, network, resource string) (PaymentRequirements, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return PaymentRequirements{}, err
	}

	// Reject unparseable prices at construction time rather than on the
	// first gate evaluation.
	if _, err := PriceToAtomic(price, config.Decimals); err != nil {
		return PaymentRequirements{}, fmt.Errorf("invalid price: %w", err)
	}

	return PaymentRequirements{
		MaxAmountRequired: price,
		Resource:          resource,
		Description:       "Payment required for access",
		PayTo:             payTo,
		Asset:             config.USDCAddress,
		Network:           network,
		MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
	}, nil
}

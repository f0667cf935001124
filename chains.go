package x402

import (
	"fmt"
	"sort"
)

// NetworkConfig holds the asset and chain mapping for a supported ledger.
type NetworkConfig struct {
	// Name is a human-readable network name.
	Name string `json:"name"`

	// ChainID is the EIP-155 chain identifier.
	ChainID int64 `json:"chainId"`

	// RPCURL is the default public RPC endpoint.
	RPCURL string `json:"rpcUrl"`

	// USDCAddress is the official Circle USDC contract address.
	USDCAddress string `json:"usdcAddress"`

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals int `json:"decimals"`
}

// Predefined network configurations.
var (
	// Avalanche is the configuration for Avalanche C-Chain mainnet.
	Avalanche = NetworkConfig{
		Name:        "Avalanche",
		ChainID:     43114,
		RPCURL:      "https://api.avax.network/ext/bc/C/rpc",
		USDCAddress: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:    6,
	}

	// AvalancheFuji is the configuration for the Avalanche Fuji testnet.
	AvalancheFuji = NetworkConfig{
		Name:        "Avalanche Fuji",
		ChainID:     43113,
		RPCURL:      "https://api.avax-test.network/ext/bc/C/rpc",
		USDCAddress: "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:    6,
	}

	// Ethereum is the configuration for Ethereum mainnet.
	Ethereum = NetworkConfig{
		Name:        "Ethereum",
		ChainID:     1,
		RPCURL:      "https://eth.llamarpc.com",
		USDCAddress: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Decimals:    6,
	}

	// Base is the configuration for Base mainnet.
	Base = NetworkConfig{
		Name:        "Base",
		ChainID:     8453,
		RPCURL:      "https://mainnet.base.org",
		USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:    6,
	}

	// BaseSepolia is the configuration for the Base Sepolia testnet.
	BaseSepolia = NetworkConfig{
		Name:        "Base Sepolia",
		ChainID:     84532,
		RPCURL:      "https://sepolia.base.org",
		USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:    6,
	}
)

// networkConfigByName maps network identifiers to configurations.
var networkConfigByName = map[string]NetworkConfig{
	"avalanche":      Avalanche,
	"avalanche-fuji": AvalancheFuji,
	"ethereum":       Ethereum,
	"base":           Base,
	"base-sepolia":   BaseSepolia,
}

// GetNetworkConfig returns the configuration for a network identifier.
// Returns ErrUnsupportedNetwork if the network is not recognized; callers
// must surface this as a configuration error rather than default silently.
func GetNetworkConfig(network string) (NetworkConfig, error) {
	config, ok := networkConfigByName[network]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}
	return config, nil
}

// SupportedNetworks returns the known network identifiers in sorted order.
func SupportedNetworks() []string {
	names := make([]string, 0, len(networkConfigByName))
	for name := range networkConfigByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

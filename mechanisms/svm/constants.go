package svm

import (
	solana "github.com/gagliardetto/solana-go"
)

const (
	// SolanaMainnetCAIP2 is the CAIP-2 network identifier for Solana mainnet.
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	// SolanaDevnetCAIP2 is the CAIP-2 network identifier for Solana devnet.
	SolanaDevnetCAIP2 = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	// SolanaTestnetCAIP2 is the CAIP-2 network identifier for Solana testnet.
	SolanaTestnetCAIP2 = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"

	DevnetRPCURL  = "https://api.devnet.solana.com"
	MainnetRPCURL = "https://api.mainnet-beta.solana.com"
	TestnetRPCURL = "https://api.testnet.solana.com"

	// DefaultProgramAddress is the deployed splitter program.
	DefaultProgramAddress = "8My2SGb47iBJW6D5dkCmfXoRU4cjg1p77aiuHDmwakJo"
	// DevnetUSDCAddress is the USDC mint used on devnet.
	DevnetUSDCAddress = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	// MainnetUSDCAddress is the USDC mint on mainnet.
	MainnetUSDCAddress = "EPjFWdd5AufqSsqeM2qNvKGrtd8fnzXw1vBsx5qYYqHH"

	// USDCDecimals is the number of decimals of the USDC mints.
	USDCDecimals uint8 = 6

	// SplitterSeed is the fixed namespace tag of splitter PDAs.
	SplitterSeed = "splitter"
)

var (
	DefaultProgramID = solana.MustPublicKeyFromBase58(DefaultProgramAddress)
	DevnetUSDCMint   = solana.MustPublicKeyFromBase58(DevnetUSDCAddress)
)

// NetworkConfig describes a supported Solana cluster.
type NetworkConfig struct {
	CAIP2  string
	RPCURL string
	USDC   string
}

var networks = map[string]NetworkConfig{
	SolanaMainnetCAIP2: {CAIP2: SolanaMainnetCAIP2, RPCURL: MainnetRPCURL, USDC: MainnetUSDCAddress},
	SolanaDevnetCAIP2:  {CAIP2: SolanaDevnetCAIP2, RPCURL: DevnetRPCURL, USDC: DevnetUSDCAddress},
	SolanaTestnetCAIP2: {CAIP2: SolanaTestnetCAIP2, RPCURL: TestnetRPCURL},
}

var networkAliases = map[string]string{
	"solana":         SolanaMainnetCAIP2,
	"solana-devnet":  SolanaDevnetCAIP2,
	"solana-testnet": SolanaTestnetCAIP2,
}

// GetNetworkConfig resolves a CAIP-2 identifier or a legacy network name.
func GetNetworkConfig(network string) (NetworkConfig, bool) {
	if caip2, ok := networkAliases[network]; ok {
		network = caip2
	}
	cfg, ok := networks[network]
	return cfg, ok
}

// IsValidNetwork reports whether network names a supported cluster.
func IsValidNetwork(network string) bool {
	_, ok := GetNetworkConfig(network)
	return ok
}

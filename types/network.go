package types

// Network represents supported Solana clusters
type Network string

const (
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSolanaDevnet  Network = "solana-devnet" // testnet
	NetworkSolanaLocal   Network = "solana-localnet"
)

// IsSolana reports whether the network is a known Solana cluster.
func (n Network) IsSolana() bool {
	return n == NetworkSolanaMainnet || n == NetworkSolanaDevnet || n == NetworkSolanaLocal
}

func (n Network) IsTestnet() bool {
	return n == NetworkSolanaDevnet || n == NetworkSolanaLocal
}

func (n Network) String() string {
	return string(n)
}

// Capabilities advertised on /supported.
type Capabilities struct {
	FeeAbstraction   bool `json:"fee_abstraction"`
	PaymentSplitting bool `json:"payment_splitting"`
	TokenPayments    bool `json:"token_payments"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Version         string       `json:"version"`
	Network         string       `json:"network,omitempty"`
	SupportedTokens []string     `json:"supported_tokens"`
	PaymentMethods  []string     `json:"payment_methods"`
	Capabilities    Capabilities `json:"capabilities"`
	APIEndpoints    []string     `json:"api_endpoints"`
}

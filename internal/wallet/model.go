package wallet

import (
	"math/big"
	"time"
)

// Record is the custody record of one user's smart wallet. SignerSecret holds
// the sealed form of the signing key; it is only opened to sign operations.
type Record struct {
	Identity      string    `json:"identity"`
	SignerSecret  string    `json:"signerSecret"`
	SignerAddress string    `json:"signerAddress"`
	WalletAddress string    `json:"walletAddress"`
	IsDeployed    bool      `json:"isDeployed"`
	Network       string    `json:"network"`
	ChainID       int64     `json:"chainId"`
	RegisteredAt  time.Time `json:"registeredAt"`
}

// Registration is the outcome of RegisterIfNeeded.
type Registration struct {
	Record            Record
	AlreadyRegistered bool
}

// Status is a fresh view of a registered wallet.
type Status struct {
	Record  Record
	Balance *big.Int
}

// TokenBalance pairs a token balance with the native balance of the same wallet.
type TokenBalance struct {
	WalletAddress string
	Token         *big.Int
	Native        *big.Int
}

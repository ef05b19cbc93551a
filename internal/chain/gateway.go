// Package chain talks to the account-abstraction network: it derives
// counterfactual smart-wallet addresses, reads balances and submits
// paymaster-sponsored user operations through a bundler.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrTimeout marks a gateway call that did not finish within its deadline.
	// The call may be retried by resending the command.
	ErrTimeout = errors.New("chain gateway timed out")

	// ErrReverted indicates the bundler included the operation but its execution failed.
	ErrReverted = errors.New("user operation reverted")

	// ErrNotSponsored indicates the paymaster refused to sponsor the operation.
	ErrNotSponsored = errors.New("paymaster did not sponsor operation")

	// ErrPending indicates the bundler accepted the operation but no receipt
	// arrived in time. It may still be mined, so it must not be resent.
	ErrPending = errors.New("user operation still pending")
)

// Error wraps a failed gateway call with the name of the operation.
// OperationID is set once the bundler has accepted the operation.
type Error struct {
	Op          string
	OperationID string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("chain %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a gateway failure worth resending.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// PendingOperation returns the id of a submitted operation whose outcome is
// not yet known.
func PendingOperation(err error) (string, bool) {
	var gwErr *Error
	if !errors.Is(err, ErrPending) || !errors.As(err, &gwErr) || gwErr.OperationID == "" {
		return "", false
	}
	return gwErr.OperationID, true
}

// SponsoredCall describes a token contract call executed from a smart wallet
// with gas paid by the paymaster. Method is a function of the ERC-20 token
// interface, e.g. "mint" or "transfer".
type SponsoredCall struct {
	Signer *ecdsa.PrivateKey
	Wallet common.Address
	Target common.Address
	Method string
	Args   []any
}

// Receipt identifies a mined user operation.
type Receipt struct {
	OperationID   string
	TransactionID string
}

// Gateway is the subset of the network the wallet services depend on.
type Gateway interface {
	DeriveWalletAddress(ctx context.Context, signer common.Address) (common.Address, error)
	IsDeployed(ctx context.Context, address common.Address) (bool, error)
	Balance(ctx context.Context, address common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, address common.Address) (*big.Int, error)
	SubmitSponsoredCall(ctx context.Context, call SponsoredCall) (Receipt, error)
}

// GasPolicy holds the fixed gas parameters used for every user operation.
type GasPolicy struct {
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// DefaultGasPolicy returns the gas limits and fees the network accepts for
// sponsored ERC-20 calls.
func DefaultGasPolicy() GasPolicy {
	return GasPolicy{
		CallGasLimit:         big.NewInt(0x88b8),
		VerificationGasLimit: big.NewInt(0x33450),
		PreVerificationGas:   big.NewInt(0xc350),
		MaxFeePerGas:         big.NewInt(0x435a6e7a),
		MaxPriorityFeePerGas: big.NewInt(0x435a6e6c),
	}
}

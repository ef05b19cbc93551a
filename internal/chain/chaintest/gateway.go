// Package chaintest provides an in-memory chain.Gateway for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/congo-pay/textwallet/internal/chain"
)

// Gateway is a scripted chain.Gateway. Error fields, when set, are returned
// by the matching method. Submitted calls deploy the wallet they run from.
type Gateway struct {
	mu sync.Mutex

	Deployed map[common.Address]bool
	Native   map[common.Address]*big.Int
	Tokens   map[common.Address]*big.Int

	DeriveErr  error
	DeployErr  error
	BalanceErr error
	TokenErr   error
	SubmitErr  error

	Submitted []chain.SponsoredCall
	calls     map[string]int
}

var _ chain.Gateway = (*Gateway)(nil)

// New returns an empty gateway.
func New() *Gateway {
	return &Gateway{
		Deployed: make(map[common.Address]bool),
		Native:   make(map[common.Address]*big.Int),
		Tokens:   make(map[common.Address]*big.Int),
		calls:    make(map[string]int),
	}
}

// WalletFor is the deterministic wallet address the fake derives for signer.
func WalletFor(signer common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256(signer.Bytes())[12:])
}

// Calls returns how many times method was invoked.
func (g *Gateway) Calls(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

// TotalCalls returns the number of gateway invocations of any kind.
func (g *Gateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

func (g *Gateway) record(method string) {
	g.calls[method]++
}

func (g *Gateway) DeriveWalletAddress(_ context.Context, signer common.Address) (common.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("DeriveWalletAddress")
	if g.DeriveErr != nil {
		return common.Address{}, g.DeriveErr
	}
	return WalletFor(signer), nil
}

func (g *Gateway) IsDeployed(_ context.Context, address common.Address) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("IsDeployed")
	if g.DeployErr != nil {
		return false, g.DeployErr
	}
	return g.Deployed[address], nil
}

func (g *Gateway) Balance(_ context.Context, address common.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("Balance")
	if g.BalanceErr != nil {
		return nil, g.BalanceErr
	}
	if b, ok := g.Native[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (g *Gateway) TokenBalance(_ context.Context, _ common.Address, address common.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("TokenBalance")
	if g.TokenErr != nil {
		return nil, g.TokenErr
	}
	if b, ok := g.Tokens[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (g *Gateway) SubmitSponsoredCall(_ context.Context, call chain.SponsoredCall) (chain.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record("SubmitSponsoredCall")
	g.Submitted = append(g.Submitted, call)
	if g.SubmitErr != nil {
		return chain.Receipt{}, g.SubmitErr
	}
	g.Deployed[call.Wallet] = true
	n := len(g.Submitted)
	return chain.Receipt{
		OperationID:   common.BigToHash(big.NewInt(int64(n))).Hex(),
		TransactionID: common.BigToHash(big.NewInt(int64(1000 + n))).Hex(),
	}, nil
}

// LastCall returns the most recent submitted call.
func (g *Gateway) LastCall() (chain.SponsoredCall, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.Submitted) == 0 {
		return chain.SponsoredCall{}, fmt.Errorf("no calls submitted")
	}
	return g.Submitted[len(g.Submitted)-1], nil
}

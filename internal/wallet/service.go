package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/congo-pay/textwallet/internal/chain"
	"github.com/congo-pay/textwallet/internal/logging"
)

var (
	// ErrNotRegistered is returned for identities without a wallet record.
	ErrNotRegistered = errors.New("identity is not registered")
	// ErrInvalidIdentity is returned for blank identities and for identities
	// carrying surrounding whitespace, which callers must trim first.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// Network identifies the chain new wallets are registered on.
type Network struct {
	Name    string
	ChainID int64
	Token   common.Address
}

// Service manages the wallet lifecycle of message identities.
type Service struct {
	repo    Repository
	gateway chain.Gateway
	sealer  Sealer
	network Network
	logger  *slog.Logger
	locks   *keyedMutex
	now     func() time.Time
}

// NewService builds a registration service.
func NewService(repo Repository, gateway chain.Gateway, sealer Sealer, network Network, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		gateway: gateway,
		sealer:  sealer,
		network: network,
		logger:  logger,
		locks:   newKeyedMutex(),
		now:     time.Now,
	}
}

// Network returns the chain this service registers wallets on.
func (s *Service) Network() Network {
	return s.network
}

// RegisterIfNeeded returns the existing record for identity, or provisions a
// new signer and counterfactual smart wallet and persists it. The record is
// written last so a failure at any step leaves nothing behind.
func (s *Service) RegisterIfNeeded(ctx context.Context, identity string) (Registration, error) {
	if identity == "" || strings.TrimSpace(identity) != identity {
		return Registration{}, ErrInvalidIdentity
	}
	unlock := s.locks.lock(identity)
	defer unlock()

	existing, err := s.repo.Get(ctx, identity)
	if err == nil {
		return Registration{Record: existing, AlreadyRegistered: true}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Registration{}, err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return Registration{}, fmt.Errorf("generate signer: %w", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)

	walletAddress, err := s.gateway.DeriveWalletAddress(ctx, signer)
	if err != nil {
		return Registration{}, err
	}
	deployed, err := s.gateway.IsDeployed(ctx, walletAddress)
	if err != nil {
		return Registration{}, err
	}

	secret := crypto.FromECDSA(key)
	sealed, err := s.sealer.Seal(secret)
	clear(secret)
	if err != nil {
		return Registration{}, fmt.Errorf("seal signer secret: %w", err)
	}

	rec := Record{
		Identity:      identity,
		SignerSecret:  sealed,
		SignerAddress: signer.Hex(),
		WalletAddress: walletAddress.Hex(),
		IsDeployed:    deployed,
		Network:       s.network.Name,
		ChainID:       s.network.ChainID,
		RegisteredAt:  s.now().UTC(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrExists) {
			existing, getErr := s.repo.Get(ctx, identity)
			if getErr != nil {
				return Registration{}, getErr
			}
			return Registration{Record: existing, AlreadyRegistered: true}, nil
		}
		return Registration{}, err
	}

	s.logger.Info("wallet registered",
		slog.String("identity", identity),
		slog.String("signer_address", rec.SignerAddress),
		slog.String("wallet_address", rec.WalletAddress),
		logging.Secret("signer_secret", rec.SignerSecret),
	)
	return Registration{Record: rec}, nil
}

// GetUserWallet looks up the record for identity without touching the network.
func (s *Service) GetUserWallet(ctx context.Context, identity string) (Record, bool, error) {
	rec, err := s.repo.Get(ctx, identity)
	if errors.Is(err, ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *Service) mustGet(ctx context.Context, identity string) (Record, error) {
	rec, ok, err := s.GetUserWallet(ctx, identity)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{}, ErrNotRegistered
	}
	return rec, nil
}

// GetWalletStatus refreshes the deployment flag and reads the native balance.
// A changed deployment flag is persisted.
func (s *Service) GetWalletStatus(ctx context.Context, identity string) (Status, error) {
	rec, err := s.mustGet(ctx, identity)
	if err != nil {
		return Status{}, err
	}
	address := common.HexToAddress(rec.WalletAddress)

	deployed, err := s.gateway.IsDeployed(ctx, address)
	if err != nil {
		return Status{}, err
	}
	if deployed != rec.IsDeployed {
		rec.IsDeployed = deployed
		if err := s.markDeployed(ctx, identity, deployed); err != nil {
			s.logger.Warn("persist deployment flag", slog.String("identity", identity), slog.Any("error", err))
		}
	}

	balance, err := s.gateway.Balance(ctx, address)
	if err != nil {
		return Status{}, err
	}
	return Status{Record: rec, Balance: balance}, nil
}

// MarkDeployed records that the wallet of identity now has code on chain.
func (s *Service) MarkDeployed(ctx context.Context, identity string) error {
	return s.markDeployed(ctx, identity, true)
}

func (s *Service) markDeployed(ctx context.Context, identity string, deployed bool) error {
	unlock := s.locks.lock(identity)
	defer unlock()
	return s.repo.SetDeployed(ctx, identity, deployed)
}

// Balance returns the native balance of the wallet of identity.
func (s *Service) Balance(ctx context.Context, identity string) (Record, *big.Int, error) {
	rec, err := s.mustGet(ctx, identity)
	if err != nil {
		return Record{}, nil, err
	}
	balance, err := s.gateway.Balance(ctx, common.HexToAddress(rec.WalletAddress))
	if err != nil {
		return Record{}, nil, err
	}
	return rec, balance, nil
}

// USDCBalance returns the stablecoin and native balances of the wallet of identity.
func (s *Service) USDCBalance(ctx context.Context, identity string) (TokenBalance, error) {
	rec, err := s.mustGet(ctx, identity)
	if err != nil {
		return TokenBalance{}, err
	}
	address := common.HexToAddress(rec.WalletAddress)
	token, err := s.gateway.TokenBalance(ctx, s.network.Token, address)
	if err != nil {
		return TokenBalance{}, err
	}
	native, err := s.gateway.Balance(ctx, address)
	if err != nil {
		return TokenBalance{}, err
	}
	return TokenBalance{WalletAddress: rec.WalletAddress, Token: token, Native: native}, nil
}

// SignerKey opens the sealed secret of identity for signing.
func (s *Service) SignerKey(ctx context.Context, identity string) (*ecdsa.PrivateKey, Record, error) {
	rec, err := s.mustGet(ctx, identity)
	if err != nil {
		return nil, Record{}, err
	}
	raw, err := s.sealer.Open(rec.SignerSecret)
	if err != nil {
		return nil, Record{}, err
	}
	defer clear(raw)
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, Record{}, fmt.Errorf("%w: %v", ErrSealed, err)
	}
	return key, rec, nil
}

// UnregisterUser deletes the record of identity and reports whether it existed.
func (s *Service) UnregisterUser(ctx context.Context, identity string) (bool, error) {
	unlock := s.locks.lock(identity)
	defer unlock()
	removed, err := s.repo.Delete(ctx, identity)
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.Info("wallet unregistered", slog.String("identity", identity))
	}
	return removed, nil
}

// ListIdentities returns every registered identity.
func (s *Service) ListIdentities(ctx context.Context) ([]string, error) {
	return s.repo.List(ctx)
}

// keyedMutex serialises work per identity.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

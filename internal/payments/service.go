package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/congo-pay/textwallet/internal/chain"
	"github.com/congo-pay/textwallet/internal/command"
	"github.com/congo-pay/textwallet/internal/ledger"
	"github.com/congo-pay/textwallet/internal/wallet"
)

const (
	defaultDecimals   = 6
	defaultMintAmount = command.Amount("10")
)

var (
	// ErrInvalidAmount indicates an amount that is zero in token base units.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidDestination indicates a transfer destination that is not an address.
	ErrInvalidDestination = errors.New("destination is not a valid address")
)

// Config describes the stablecoin the executor mints and transfers.
type Config struct {
	Token       common.Address
	Decimals    int
	DefaultMint command.Amount
	ExplorerURL string
}

// Result identifies a completed sponsored operation.
type Result struct {
	OperationID   string
	TransactionID string
	ExplorerURL   string
	Amount        command.Amount
	Units         *big.Int
	Destination   string
}

// Service executes paymaster-sponsored stablecoin operations from user wallets.
type Service struct {
	wallets *wallet.Service
	gateway chain.Gateway
	ledger  ledger.Ledger
	cfg     Config
	logger  *slog.Logger
}

// NewService constructs a transaction executor.
func NewService(wallets *wallet.Service, gateway chain.Gateway, led ledger.Ledger, cfg Config, logger *slog.Logger) *Service {
	if cfg.Decimals <= 0 {
		cfg.Decimals = defaultDecimals
	}
	if cfg.DefaultMint == "" {
		cfg.DefaultMint = defaultMintAmount
	}
	cfg.ExplorerURL = strings.TrimRight(cfg.ExplorerURL, "/")
	return &Service{wallets: wallets, gateway: gateway, ledger: led, cfg: cfg, logger: logger}
}

// Decimals returns the token precision used for conversions.
func (s *Service) Decimals() int {
	return s.cfg.Decimals
}

// Mint mints amount of the stablecoin into the wallet of identity. An empty
// amount mints the configured default.
func (s *Service) Mint(ctx context.Context, identity string, amount command.Amount) (Result, error) {
	if amount.IsZero() {
		amount = s.cfg.DefaultMint
	}
	units, err := s.baseUnits(amount)
	if err != nil {
		return Result{}, err
	}
	key, rec, err := s.wallets.SignerKey(ctx, identity)
	if err != nil {
		return Result{}, err
	}
	walletAddress := common.HexToAddress(rec.WalletAddress)

	return s.submit(ctx, rec, ledger.KindMint, amount, units, rec.WalletAddress, chain.SponsoredCall{
		Signer: key,
		Wallet: walletAddress,
		Target: s.cfg.Token,
		Method: "mint",
		Args:   []any{walletAddress, units},
	})
}

// Transfer sends amount of the stablecoin from the wallet of identity to destination.
func (s *Service) Transfer(ctx context.Context, identity, destination string, amount command.Amount) (Result, error) {
	if !common.IsHexAddress(destination) {
		return Result{}, ErrInvalidDestination
	}
	units, err := s.baseUnits(amount)
	if err != nil {
		return Result{}, err
	}
	key, rec, err := s.wallets.SignerKey(ctx, identity)
	if err != nil {
		return Result{}, err
	}
	to := common.HexToAddress(destination)

	return s.submit(ctx, rec, ledger.KindTransfer, amount, units, to.Hex(), chain.SponsoredCall{
		Signer: key,
		Wallet: common.HexToAddress(rec.WalletAddress),
		Target: s.cfg.Token,
		Method: "transfer",
		Args:   []any{to, units},
	})
}

// Operations returns the newest journaled operations of identity.
func (s *Service) Operations(ctx context.Context, identity string, limit int) ([]ledger.Entry, error) {
	return s.ledger.ListByIdentity(ctx, identity, limit)
}

func (s *Service) baseUnits(amount command.Amount) (*big.Int, error) {
	units, err := amount.BaseUnits(s.cfg.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if units.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	return units, nil
}

func (s *Service) submit(ctx context.Context, rec wallet.Record, kind ledger.Kind, amount command.Amount, units *big.Int, destination string, call chain.SponsoredCall) (Result, error) {
	entry := ledger.Entry{
		Identity:    rec.Identity,
		Kind:        kind,
		Amount:      units,
		Destination: destination,
	}

	receipt, err := s.gateway.SubmitSponsoredCall(ctx, call)
	if opID, ok := chain.PendingOperation(err); ok {
		entry.Status = ledger.StatusPending
		entry.OperationID = opID
		entry.FailureReason = err.Error()
		s.journal(ctx, entry)
		s.logger.Warn("sponsored operation pending",
			slog.String("identity", rec.Identity),
			slog.String("kind", string(kind)),
			slog.String("operation_id", opID),
		)
		return Result{}, err
	}
	if err != nil {
		entry.Status = ledger.StatusFailed
		entry.FailureReason = err.Error()
		s.journal(ctx, entry)
		s.logger.Warn("sponsored operation failed",
			slog.String("identity", rec.Identity),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
		return Result{}, err
	}

	entry.Status = ledger.StatusConfirmed
	entry.OperationID = receipt.OperationID
	entry.TransactionID = receipt.TransactionID
	s.journal(ctx, entry)

	if !rec.IsDeployed {
		if err := s.wallets.MarkDeployed(ctx, rec.Identity); err != nil {
			s.logger.Warn("persist deployment flag", slog.String("identity", rec.Identity), slog.Any("error", err))
		}
	}

	s.logger.Info("sponsored operation confirmed",
		slog.String("identity", rec.Identity),
		slog.String("kind", string(kind)),
		slog.String("amount", amount.String()),
		slog.String("transaction_id", receipt.TransactionID),
	)
	return Result{
		OperationID:   receipt.OperationID,
		TransactionID: receipt.TransactionID,
		ExplorerURL:   s.explorerLink(receipt.TransactionID),
		Amount:        amount,
		Units:         units,
		Destination:   destination,
	}, nil
}

func (s *Service) journal(ctx context.Context, entry ledger.Entry) {
	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.Record(ctx, entry); err != nil {
		s.logger.Error("journal operation", slog.String("identity", entry.Identity), slog.Any("error", err))
	}
}

func (s *Service) explorerLink(txID string) string {
	if s.cfg.ExplorerURL == "" || txID == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", s.cfg.ExplorerURL, txID)
}

package poller

import (
	"context"
	"errors"
	"log/slog"

	"github.com/congo-pay/textwallet/internal/command"
	"github.com/congo-pay/textwallet/internal/messages"
	"github.com/congo-pay/textwallet/internal/metrics"
	"github.com/congo-pay/textwallet/internal/notification"
	"github.com/congo-pay/textwallet/internal/payments"
	"github.com/congo-pay/textwallet/internal/wallet"
)

const (
	outcomeOK            = "ok"
	outcomeNotRegistered = "not_registered"
	outcomeInvalid       = "invalid"
	outcomeIgnored       = "ignored"
	outcomeError         = "error"
)

// Dispatcher interprets a message as a command, runs it and replies to the
// sender. Every failure produces exactly one explanatory reply; text that is
// not a command produces none.
type Dispatcher struct {
	wallets  *wallet.Service
	payments *payments.Service
	notifier notification.Notifier
	network  Network
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewDispatcher wires the command handlers.
func NewDispatcher(wallets *wallet.Service, pay *payments.Service, notifier notification.Notifier, network Network, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		wallets:  wallets,
		payments: pay,
		notifier: notifier,
		network:  network,
		metrics:  m,
		logger:   logger,
	}
}

// Dispatch implements Handler.
func (d *Dispatcher) Dispatch(ctx context.Context, msg messages.Message) {
	cmd := command.Parse(msg.Text)
	replies, outcome, err := d.run(ctx, msg.Identity, cmd)

	d.metrics.ObserveCommand(cmd.Name(), outcome)
	if err != nil {
		d.logger.Warn("command failed",
			slog.String("identity", msg.Identity),
			slog.String("command", cmd.Name()),
			slog.Any("error", err),
		)
	} else if outcome != outcomeIgnored {
		d.logger.Info("command handled",
			slog.String("identity", msg.Identity),
			slog.String("command", cmd.Name()),
			slog.String("outcome", outcome),
		)
	}

	for _, body := range replies {
		d.reply(ctx, msg.Identity, body)
	}
}

func (d *Dispatcher) reply(ctx context.Context, identity, body string) {
	err := d.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindReply,
		Destination: identity,
		Body:        body,
	})
	if err != nil {
		d.metrics.ObserveNotifyFailure()
		d.logger.Warn("reply not delivered", slog.String("identity", identity), slog.Any("error", err))
	}
}

// run executes cmd and returns the replies to send, the outcome label and the
// underlying error, if any.
func (d *Dispatcher) run(ctx context.Context, identity string, cmd command.Command) ([]string, string, error) {
	switch c := cmd.(type) {
	case command.Register:
		reg, err := d.wallets.RegisterIfNeeded(ctx, identity)
		if err != nil {
			return []string{replyFailure("Registration", err, false)}, outcomeError, err
		}
		if reg.AlreadyRegistered {
			return []string{replyAlreadyRegistered}, outcomeOK, nil
		}
		return []string{replyRegistered(d.network), replyWalletDetails(d.network, reg.Record)}, outcomeOK, nil

	case command.WalletInfo:
		status, err := d.wallets.GetWalletStatus(ctx, identity)
		if err != nil {
			return d.failed("Wallet info", err)
		}
		return []string{replyWalletStatus(d.network, status)}, outcomeOK, nil

	case command.Help:
		return []string{replyHelp(d.network)}, outcomeOK, nil

	case command.Balance:
		_, balance, err := d.wallets.Balance(ctx, identity)
		if err != nil {
			return d.failed("Balance check", err)
		}
		return []string{replyBalance(d.network, command.FormatUnits(balance, nativeDecimals))}, outcomeOK, nil

	case command.USDCBalance:
		bal, err := d.wallets.USDCBalance(ctx, identity)
		if err != nil {
			return d.failed("Balance check", err)
		}
		return []string{replyTokenBalance(d.network, bal, d.payments.Decimals())}, outcomeOK, nil

	case command.MintUSDC:
		res, err := d.payments.Mint(ctx, identity, c.Amount)
		if err != nil {
			return d.failedTx("USDC mint", err)
		}
		return []string{replyMinted(res, d.payments.Decimals())}, outcomeOK, nil

	case command.TransferUSDC:
		rec, ok, err := d.wallets.GetUserWallet(ctx, identity)
		if err == nil && !ok {
			err = wallet.ErrNotRegistered
		}
		if err != nil {
			return d.failed("USDC transfer", err)
		}
		res, err := d.payments.Transfer(ctx, identity, c.Destination, c.Amount)
		if err != nil {
			return d.failedTx("USDC transfer", err)
		}
		return []string{replyTransferred(res, rec.WalletAddress, d.payments.Decimals())}, outcomeOK, nil

	case command.Unrecognized:
		switch c.Reason {
		case command.ReasonInvalidMint:
			return []string{replyInvalidMint}, outcomeInvalid, nil
		case command.ReasonInvalidTransfer:
			return []string{replyInvalidTransfer}, outcomeInvalid, nil
		default:
			return nil, outcomeIgnored, nil
		}
	}
	return nil, outcomeIgnored, nil
}

func (d *Dispatcher) failed(action string, err error) ([]string, string, error) {
	return d.failure(action, err, false)
}

func (d *Dispatcher) failedTx(action string, err error) ([]string, string, error) {
	return d.failure(action, err, true)
}

func (d *Dispatcher) failure(action string, err error, withReason bool) ([]string, string, error) {
	if errors.Is(err, wallet.ErrNotRegistered) {
		return []string{replyNotRegistered}, outcomeNotRegistered, nil
	}
	return []string{replyFailure(action, err, withReason)}, outcomeError, err
}

package poller

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/congo-pay/textwallet/internal/chain"
	"github.com/congo-pay/textwallet/internal/command"
	"github.com/congo-pay/textwallet/internal/payments"
	"github.com/congo-pay/textwallet/internal/wallet"
)

const (
	nativeDecimals = 18
	tokenSymbol    = "USDC"
)

// Network describes the chain as shown to users.
type Network struct {
	Name        string
	ChainID     int64
	Currency    string
	ExplorerURL string
}

func (n Network) addressLink(address string) string {
	return fmt.Sprintf("%s/address/%s", strings.TrimRight(n.ExplorerURL, "/"), address)
}

const (
	replyAlreadyRegistered = "You are already registered!\n\nSend 'wallet info' to see your wallet details."
	replyNotRegistered     = "You are not registered. Send 'register' to create your wallet."
	replyInvalidMint       = "Invalid mint command. Use: mint 5 usdc"
	replyInvalidTransfer   = "Invalid transfer command. Use: transfer 5 usdc to 0x123..."
)

func replyRegistered(n Network) string {
	return fmt.Sprintf("Registration successful!\n\nYour smart wallet is ready on %s.", n.Name)
}

func deploymentLabel(deployed bool) string {
	if deployed {
		return "Deployed"
	}
	return "Counterfactual (deploys with the first transaction)"
}

func replyWalletDetails(n Network, rec wallet.Record) string {
	var b strings.Builder
	b.WriteString("Your wallet details:\n\n")
	fmt.Fprintf(&b, "Wallet address:\n%s\n\n", rec.WalletAddress)
	fmt.Fprintf(&b, "Status: %s\n\n", deploymentLabel(rec.IsDeployed))
	fmt.Fprintf(&b, "Network: %s\n\n", rec.Network)
	fmt.Fprintf(&b, "Explorer:\n%s\n\n", n.addressLink(rec.WalletAddress))
	b.WriteString("Available commands:\n")
	b.WriteString("• \"wallet info\" - Check status\n")
	fmt.Fprintf(&b, "• \"balance\" - Check %s balance\n", n.Currency)
	b.WriteString("• \"usdc balance\" - Check USDC balance\n")
	b.WriteString("• \"help\" - Show all commands")
	return b.String()
}

func replyWalletStatus(n Network, status wallet.Status) string {
	rec := status.Record
	var b strings.Builder
	b.WriteString("Your wallet status:\n\n")
	fmt.Fprintf(&b, "Wallet:\n%s\n\n", rec.WalletAddress)
	fmt.Fprintf(&b, "Signer:\n%s\n\n", rec.SignerAddress)
	fmt.Fprintf(&b, "Status: %s\n\n", deploymentLabel(rec.IsDeployed))
	fmt.Fprintf(&b, "Balance: %s %s\n\n", command.FormatUnits(status.Balance, nativeDecimals), n.Currency)
	fmt.Fprintf(&b, "Network: %s\n\n", rec.Network)
	fmt.Fprintf(&b, "Registered: %s\n\n", rec.RegisteredAt.UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "Explorer:\n%s", n.addressLink(rec.WalletAddress))
	return b.String()
}

func replyHelp(n Network) string {
	var b strings.Builder
	b.WriteString("Wallet bot commands:\n\n")
	b.WriteString("\"register\" - Create your wallet\n")
	b.WriteString("\"wallet info\" - Check wallet status\n")
	fmt.Fprintf(&b, "\"balance\" - Check %s balance\n", n.Currency)
	b.WriteString("\"usdc balance\" - Check USDC balance\n")
	b.WriteString("\"mint usdc\" - Mint USDC tokens\n")
	b.WriteString("\"mint X usdc\" - Mint X amount of USDC\n")
	b.WriteString("\"transfer X usdc to 0x...\" - Transfer USDC\n")
	b.WriteString("\"help\" - Show this message\n\n")
	fmt.Fprintf(&b, "Network: %s\n", n.Name)
	fmt.Fprintf(&b, "Chain ID: %d", n.ChainID)
	return b.String()
}

func replyBalance(n Network, balance string) string {
	return fmt.Sprintf("Your %s balance: %s %s", n.Currency, balance, n.Currency)
}

func replyTokenBalance(n Network, bal wallet.TokenBalance, tokenDecimals int) string {
	var b strings.Builder
	b.WriteString("Your wallet balances:\n\n")
	fmt.Fprintf(&b, "%s: %s %s\n", tokenSymbol, command.FormatUnits(bal.Token, tokenDecimals), tokenSymbol)
	fmt.Fprintf(&b, "%s: %s %s\n\n", n.Currency, command.FormatUnits(bal.Native, nativeDecimals), n.Currency)
	fmt.Fprintf(&b, "Wallet: %s\n", bal.WalletAddress)
	fmt.Fprintf(&b, "Explorer:\n%s", n.addressLink(bal.WalletAddress))
	return b.String()
}

func replyMinted(res payments.Result, tokenDecimals int) string {
	var b strings.Builder
	b.WriteString("USDC mint successful!\n\n")
	fmt.Fprintf(&b, "Amount: %s %s\n", command.FormatUnits(res.Units, tokenDecimals), tokenSymbol)
	fmt.Fprintf(&b, "Wallet: %s\n", res.Destination)
	fmt.Fprintf(&b, "Transaction: %s\n", res.TransactionID)
	if res.ExplorerURL != "" {
		fmt.Fprintf(&b, "Explorer: %s\n", res.ExplorerURL)
	}
	b.WriteString("Gas: sponsored by paymaster")
	return b.String()
}

func replyTransferred(res payments.Result, from string, tokenDecimals int) string {
	var b strings.Builder
	b.WriteString("USDC transfer successful!\n\n")
	fmt.Fprintf(&b, "Amount: %s %s\n", command.FormatUnits(res.Units, tokenDecimals), tokenSymbol)
	fmt.Fprintf(&b, "From: %s\n", from)
	fmt.Fprintf(&b, "To: %s\n", res.Destination)
	fmt.Fprintf(&b, "Transaction: %s\n", res.TransactionID)
	if res.ExplorerURL != "" {
		fmt.Fprintf(&b, "Explorer: %s\n", res.ExplorerURL)
	}
	b.WriteString("Gas: sponsored by paymaster")
	return b.String()
}

// replyFailure explains a failed action. Transaction failures carry the
// underlying reason; other failures only a hint.
func replyFailure(action string, err error, withReason bool) string {
	if opID, ok := chain.PendingOperation(err); ok {
		return fmt.Sprintf("%s submitted but not yet confirmed\n\nOperation: %s\n\nDo not resend; it may still go through. Check your balance shortly.", action, opID)
	}
	var reason string
	switch {
	case errors.Is(err, chain.ErrTimeout):
		reason = "The network did not respond in time. Please resend your command."
	case errors.Is(err, chain.ErrNotSponsored):
		reason = "The paymaster declined to sponsor this transaction. Please try again later."
	case errors.Is(err, chain.ErrReverted):
		reason = "The transaction was rejected on chain. Please check your balance."
	case errors.Is(err, payments.ErrInvalidDestination):
		reason = "The destination is not a valid wallet address."
	case errors.Is(err, payments.ErrInvalidAmount):
		reason = "The amount is too small."
	default:
		reason = "Something went wrong. Please try again or contact support."
	}
	if withReason {
		return fmt.Sprintf("%s failed\n\nReason: %v\n\n%s", action, err, reason)
	}
	return fmt.Sprintf("%s failed\n\n%s", action, reason)
}

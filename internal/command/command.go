// Package command turns raw message text into typed wallet commands.
package command

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Reason explains why text was not turned into a command.
type Reason string

const (
	// ReasonNone marks text that matched no command pattern. It is ignored silently.
	ReasonNone Reason = ""
	// ReasonInvalidMint marks a mint command with an unusable amount.
	ReasonInvalidMint Reason = "invalid mint amount"
	// ReasonInvalidTransfer marks a transfer command with a missing or unusable amount or destination.
	ReasonInvalidTransfer Reason = "invalid transfer"
)

// Command is the closed set of commands produced by Parse.
type Command interface {
	Name() string
	command()
}

// Register asks for a wallet to be created.
type Register struct{}

// WalletInfo asks for the wallet status.
type WalletInfo struct{}

// Help asks for the command list.
type Help struct{}

// Balance asks for the native currency balance.
type Balance struct{}

// USDCBalance asks for the USDC balance.
type USDCBalance struct{}

// MintUSDC asks for sponsored USDC to be minted to the sender's wallet. An empty
// Amount means the default mint amount.
type MintUSDC struct {
	Amount Amount
}

// TransferUSDC asks for USDC to be sent to Destination.
type TransferUSDC struct {
	Amount      Amount
	Destination string
}

// Unrecognized is text that is not a valid command.
type Unrecognized struct {
	Reason Reason
}

func (Register) Name() string     { return "register" }
func (WalletInfo) Name() string   { return "wallet_info" }
func (Help) Name() string         { return "help" }
func (Balance) Name() string      { return "balance" }
func (USDCBalance) Name() string  { return "usdc_balance" }
func (MintUSDC) Name() string     { return "mint_usdc" }
func (TransferUSDC) Name() string { return "transfer_usdc" }
func (Unrecognized) Name() string { return "unrecognized" }

func (Register) command()     {}
func (WalletInfo) command()   {}
func (Help) command()         {}
func (Balance) command()      {}
func (USDCBalance) command()  {}
func (MintUSDC) command()     {}
func (TransferUSDC) command() {}
func (Unrecognized) command() {}

// Parse interprets a message. Matching is case-insensitive and whitespace
// tolerant; the transfer destination keeps its original spelling.
func Parse(text string) Command {
	original := strings.Fields(text)
	if len(original) == 0 {
		return Unrecognized{}
	}
	tokens := make([]string, len(original))
	for i, tok := range original {
		tokens[i] = strings.ToLower(tok)
	}
	msg := strings.Join(tokens, " ")

	switch msg {
	case "register":
		return Register{}
	case "wallet info":
		return WalletInfo{}
	case "help":
		return Help{}
	case "balance":
		return Balance{}
	case "usdc balance":
		return USDCBalance{}
	case "mint usdc":
		return MintUSDC{}
	}

	switch {
	case strings.HasPrefix(msg, "mint") && strings.Contains(msg, "usdc"):
		amount, ok := parseAmount(tokenAfter(tokens, "mint"))
		if !ok {
			return Unrecognized{Reason: ReasonInvalidMint}
		}
		return MintUSDC{Amount: amount}

	case strings.HasPrefix(msg, "transfer") && strings.Contains(msg, "usdc") && strings.Contains(msg, "to"):
		amount, ok := parseAmount(tokenAfter(tokens, "transfer"))
		if !ok {
			return Unrecognized{Reason: ReasonInvalidTransfer}
		}
		idx := indexOf(tokens, "to")
		if idx < 0 || idx+1 >= len(original) {
			return Unrecognized{Reason: ReasonInvalidTransfer}
		}
		return TransferUSDC{Amount: amount, Destination: original[idx+1]}
	}

	return Unrecognized{}
}

func indexOf(tokens []string, want string) int {
	for i, tok := range tokens {
		if tok == want {
			return i
		}
	}
	return -1
}

func tokenAfter(tokens []string, keyword string) string {
	idx := indexOf(tokens, keyword)
	if idx < 0 || idx+1 >= len(tokens) {
		return ""
	}
	return tokens[idx+1]
}

// Amount is a positive decimal number as typed by the user, e.g. "5" or "2.5".
type Amount string

var decimalPattern = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)$`)

func parseAmount(token string) (Amount, bool) {
	if !decimalPattern.MatchString(token) {
		return "", false
	}
	if !strings.ContainsAny(token, "123456789") {
		return "", false
	}
	return Amount(token), true
}

// IsZero reports whether no amount was given.
func (a Amount) IsZero() bool { return a == "" }

// BaseUnits converts the amount to the smallest unit of an asset with the
// given number of decimals. Digits beyond the asset precision are truncated.
func (a Amount) BaseUnits(decimals int) (*big.Int, error) {
	s := string(a)
	if !decimalPattern.MatchString(s) {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))
	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return units, nil
}

// String renders the amount as typed.
func (a Amount) String() string { return string(a) }

// FormatUnits renders base units of an asset with the given number of
// decimals as a decimal string without trailing zeros, e.g. 2500000 with 6
// decimals is "2.5".
func FormatUnits(units *big.Int, decimals int) string {
	if units == nil {
		return "0"
	}
	neg := units.Sign() < 0
	digits := new(big.Int).Abs(units).String()
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-decimals], strings.TrimRight(digits[len(digits)-decimals:], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

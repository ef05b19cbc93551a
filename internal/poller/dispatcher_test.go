package poller

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/congo-pay/textwallet/internal/chain"
	"github.com/congo-pay/textwallet/internal/chain/chaintest"
	"github.com/congo-pay/textwallet/internal/ledger"
	"github.com/congo-pay/textwallet/internal/logging"
	"github.com/congo-pay/textwallet/internal/messages"
	"github.com/congo-pay/textwallet/internal/metrics"
	"github.com/congo-pay/textwallet/internal/notification"
	"github.com/congo-pay/textwallet/internal/payments"
	"github.com/congo-pay/textwallet/internal/wallet"
)

var testToken = common.HexToAddress("0xec690C24B7451B85B6167a06292e49B5DA822fBE")

type outbox struct {
	mu   sync.Mutex
	sent []notification.Message
	err  error
}

func (o *outbox) Send(_ context.Context, msg notification.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return o.err
}

func (o *outbox) bodies(destination string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, m := range o.sent {
		if m.Destination == destination {
			out = append(out, m.Body)
		}
	}
	return out
}

func (o *outbox) reset() {
	o.mu.Lock()
	o.sent = nil
	o.mu.Unlock()
}

type fixture struct {
	dispatcher *Dispatcher
	repo       wallet.Repository
	gateway    *chaintest.Gateway
	ledger     ledger.Ledger
	outbox     *outbox
	metrics    *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()
	repo := wallet.NewMemoryRepository()
	gw := chaintest.New()
	led := ledger.NewInMemory()
	wallets := wallet.NewService(repo, gw, wallet.PlainSealer{}, wallet.Network{
		Name:    "NERO Chain Testnet",
		ChainID: 689,
		Token:   testToken,
	}, logger)
	pay := payments.NewService(wallets, gw, led, payments.Config{
		Token:       testToken,
		ExplorerURL: "https://testnet.neroscan.io",
	}, logger)
	box := &outbox{}
	m := metrics.New()
	d := NewDispatcher(wallets, pay, box, Network{
		Name:        "NERO Chain Testnet",
		ChainID:     689,
		Currency:    "NERO",
		ExplorerURL: "https://testnet.neroscan.io",
	}, m, logger)
	return &fixture{dispatcher: d, repo: repo, gateway: gw, ledger: led, outbox: box, metrics: m}
}

func counterValue(t *testing.T, m *metrics.Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	series:
		for _, metric := range fam.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue series
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big int " + s)
	}
	return v
}

func (f *fixture) send(identity, text string) []string {
	f.outbox.reset()
	f.dispatcher.Dispatch(context.Background(), messages.Message{Identity: identity, Text: text, Timestamp: 1})
	return f.outbox.bodies(identity)
}

func TestRegisterThenAlreadyRegistered(t *testing.T) {
	f := newFixture(t)

	replies := f.send("+15551234567", "register")
	if len(replies) != 2 {
		t.Fatalf("expected two replies on registration, got %d: %v", len(replies), replies)
	}
	if !strings.Contains(replies[0], "Registration successful") {
		t.Fatalf("unexpected confirmation %q", replies[0])
	}
	rec, err := f.repo.Get(context.Background(), "+15551234567")
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if !strings.Contains(replies[1], rec.WalletAddress) {
		t.Fatalf("details must carry the wallet address, got %q", replies[1])
	}
	if strings.Contains(replies[1], rec.SignerSecret) {
		t.Fatalf("signer secret leaked into reply")
	}

	replies = f.send("+15551234567", "  REGISTER ")
	if len(replies) != 1 || !strings.Contains(replies[0], "already registered") {
		t.Fatalf("expected already registered reply, got %v", replies)
	}
	if ids, _ := f.repo.List(context.Background()); len(ids) != 1 {
		t.Fatalf("expected one record, got %v", ids)
	}
}

func TestUnregisteredBalanceDoesNotReachNetwork(t *testing.T) {
	f := newFixture(t)

	for _, text := range []string{"balance", "usdc balance", "wallet info", "mint 5 usdc", "transfer 1 usdc to 0x1111111111111111111111111111111111111111"} {
		replies := f.send("+15550000001", text)
		if len(replies) != 1 || replies[0] != replyNotRegistered {
			t.Fatalf("%q: expected not registered reply, got %v", text, replies)
		}
	}
	if f.gateway.TotalCalls() != 0 {
		t.Fatalf("expected no gateway calls, got %d", f.gateway.TotalCalls())
	}
	if got := counterValue(t, f.metrics, "textwallet_dispatcher_commands_total", map[string]string{"command": "balance", "outcome": outcomeNotRegistered}); got != 1 {
		t.Fatalf("expected not_registered outcome to be counted, got %v", got)
	}
}

func TestMintSuccessAndFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send("+1", "register")

	replies := f.send("+1", "mint 5 usdc")
	if len(replies) != 1 {
		t.Fatalf("expected one reply, got %v", replies)
	}
	call, err := f.gateway.LastCall()
	if err != nil {
		t.Fatalf("no call submitted: %v", err)
	}
	if call.Method != "mint" || call.Target != testToken {
		t.Fatalf("unexpected call %+v", call)
	}
	if units := call.Args[1].(*big.Int).Int64(); units != 5_000_000 {
		t.Fatalf("expected 5000000 base units, got %d", units)
	}
	entries := ledger.Entries(f.ledger)
	if len(entries) != 1 || entries[0].Status != ledger.StatusConfirmed {
		t.Fatalf("expected a confirmed journal entry, got %+v", entries)
	}
	if !strings.Contains(replies[0], "Amount: 5 USDC") || !strings.Contains(replies[0], entries[0].TransactionID) {
		t.Fatalf("reply must carry amount and transaction, got %q", replies[0])
	}
	if !strings.Contains(replies[0], "https://testnet.neroscan.io/tx/"+entries[0].TransactionID) {
		t.Fatalf("reply must carry explorer link, got %q", replies[0])
	}
	rec, _ := f.repo.Get(ctx, "+1")
	if !rec.IsDeployed {
		t.Fatalf("wallet must be marked deployed after first transaction")
	}

	before := rec
	f.gateway.SubmitErr = &chain.Error{Op: "submit_sponsored_call", Err: chain.ErrReverted}
	replies = f.send("+1", "mint 5 usdc")
	if len(replies) != 1 || !strings.Contains(replies[0], "USDC mint failed") || !strings.Contains(replies[0], "Reason:") {
		t.Fatalf("expected one failure reply with reason, got %v", replies)
	}
	after, _ := f.repo.Get(ctx, "+1")
	if after != before {
		t.Fatalf("failed mint must not change the record")
	}
}

func TestMintTimeoutAsksToResend(t *testing.T) {
	f := newFixture(t)
	f.send("+1", "register")
	f.gateway.SubmitErr = &chain.Error{Op: "submit_sponsored_call", Err: chain.ErrTimeout}

	replies := f.send("+1", "mint usdc")
	if len(replies) != 1 || !strings.Contains(replies[0], "resend") {
		t.Fatalf("expected a resend hint, got %v", replies)
	}
	call, _ := f.gateway.LastCall()
	if units := call.Args[1].(*big.Int).Int64(); units != 10_000_000 {
		t.Fatalf("expected default mint of 10 USDC, got %d", units)
	}
}

func TestMintWithoutReceiptIsReportedPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send("+1", "register")
	const opID = "0x5555555555555555555555555555555555555555555555555555555555555555"
	f.gateway.SubmitErr = &chain.Error{
		Op:          "user_operation",
		OperationID: opID,
		Err:         fmt.Errorf("%w: no receipt for %s", chain.ErrPending, opID),
	}

	replies := f.send("+1", "mint 5 usdc")
	if len(replies) != 1 {
		t.Fatalf("expected one reply, got %v", replies)
	}
	if strings.Contains(strings.ToLower(replies[0]), "please resend") || !strings.Contains(replies[0], "Do not resend") {
		t.Fatalf("a submitted operation must not be resent, got %q", replies[0])
	}
	if !strings.Contains(replies[0], opID) {
		t.Fatalf("expected the operation id in the reply, got %q", replies[0])
	}

	entries, err := f.ledger.ListByIdentity(ctx, "+1", 10)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != ledger.StatusPending || entries[0].OperationID != opID {
		t.Fatalf("expected a pending journal entry, got %+v", entries)
	}
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	f.send("+1", "register")
	rec, _ := f.repo.Get(context.Background(), "+1")

	dest := "0x2222222222222222222222222222222222222222"
	replies := f.send("+1", "transfer 2.5 USDC to "+dest)
	if len(replies) != 1 || !strings.Contains(replies[0], "USDC transfer successful") {
		t.Fatalf("unexpected replies %v", replies)
	}
	if !strings.Contains(replies[0], "From: "+rec.WalletAddress) || !strings.Contains(replies[0], "Amount: 2.5 USDC") {
		t.Fatalf("reply must show source and amount, got %q", replies[0])
	}
	call, _ := f.gateway.LastCall()
	if call.Method != "transfer" || call.Args[0].(common.Address) != common.HexToAddress(dest) {
		t.Fatalf("unexpected call %+v", call)
	}

	calls := f.gateway.Calls("SubmitSponsoredCall")
	replies = f.send("+1", "transfer 1 usdc to bob")
	if len(replies) != 1 || !strings.Contains(replies[0], "USDC transfer failed") {
		t.Fatalf("expected failure reply for bad destination, got %v", replies)
	}
	if f.gateway.Calls("SubmitSponsoredCall") != calls {
		t.Fatalf("invalid destination must not be submitted")
	}
}

func TestInvalidCommandsGetUsage(t *testing.T) {
	f := newFixture(t)

	if replies := f.send("+1", "mint lots usdc"); len(replies) != 1 || replies[0] != replyInvalidMint {
		t.Fatalf("expected mint usage, got %v", replies)
	}
	if replies := f.send("+1", "transfer 5 usdc to"); len(replies) != 1 || replies[0] != replyInvalidTransfer {
		t.Fatalf("expected transfer usage, got %v", replies)
	}
	if replies := f.send("+1", "hey, how are you?"); len(replies) != 0 {
		t.Fatalf("unrecognized text must stay silent, got %v", replies)
	}
}

func TestHelpAndInfo(t *testing.T) {
	f := newFixture(t)

	replies := f.send("+1", "help")
	if len(replies) != 1 || !strings.Contains(replies[0], "Chain ID: 689") {
		t.Fatalf("unexpected help %v", replies)
	}

	f.send("+1", "register")
	rec, _ := f.repo.Get(context.Background(), "+1")
	f.gateway.Native[common.HexToAddress(rec.WalletAddress)] = mustBig("1500000000000000000")

	replies = f.send("+1", "balance")
	if len(replies) != 1 || replies[0] != "Your NERO balance: 1.5 NERO" {
		t.Fatalf("unexpected balance reply %v", replies)
	}
	replies = f.send("+1", "wallet info")
	if len(replies) != 1 || !strings.Contains(replies[0], rec.SignerAddress) {
		t.Fatalf("unexpected wallet info %v", replies)
	}
}

func TestBalanceGatewayFailureIsGeneric(t *testing.T) {
	f := newFixture(t)
	f.send("+1", "register")
	f.gateway.BalanceErr = errors.New("dial tcp: connection refused")

	replies := f.send("+1", "balance")
	if len(replies) != 1 || !strings.HasPrefix(replies[0], "Balance check failed") {
		t.Fatalf("expected one failure reply, got %v", replies)
	}
	if strings.Contains(replies[0], "connection refused") {
		t.Fatalf("non-transaction failures must not expose internals: %q", replies[0])
	}
}

func TestReplyFailureIsCounted(t *testing.T) {
	f := newFixture(t)
	f.outbox.err = notification.ErrTransport

	f.send("+1", "help")
	if got := counterValue(t, f.metrics, "textwallet_notifier_failures_total", nil); got != 1 {
		t.Fatalf("expected one notify failure, got %v", got)
	}
}

package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/congo-pay/textwallet/internal/logging"
)

var (
	testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	testFactory    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	testToken      = common.HexToAddress("0xec690C24B7451B85B6167a06292e49B5DA822fBE")
	testWallet     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	testPaymaster  = common.HexToAddress("0x00000000000000000000000000000000000bee00")
	testChainID    = big.NewInt(689)
)

type callArgs struct {
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
	Data  hexutil.Bytes   `json:"data"`
}

type fakeNode struct {
	mu       sync.Mutex
	code     map[common.Address][]byte
	balance  *big.Int
	tokenBal *big.Int
	delay    time.Duration
}

func (n *fakeNode) ChainId() *hexutil.Big { return (*hexutil.Big)(testChainID) }

func (n *fakeNode) GetCode(addr common.Address, _ string) hexutil.Bytes {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.code[addr]
}

func (n *fakeNode) GetBalance(_ common.Address, _ string) *hexutil.Big {
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	return (*hexutil.Big)(n.balance)
}

func (n *fakeNode) Call(args callArgs, _ string) (hexutil.Bytes, error) {
	data := args.Input
	if len(data) == 0 {
		data = args.Data
	}
	if len(data) < 4 {
		return nil, errors.New("missing selector")
	}
	sel := data[:4]
	switch {
	case bytes.Equal(sel, factoryABI.Methods["getAddress"].ID):
		return factoryABI.Methods["getAddress"].Outputs.Pack(testWallet)
	case bytes.Equal(sel, entryPointABI.Methods["getNonce"].ID):
		return entryPointABI.Methods["getNonce"].Outputs.Pack(big.NewInt(3))
	case bytes.Equal(sel, tokenABI.Methods["balanceOf"].ID):
		return tokenABI.Methods["balanceOf"].Outputs.Pack(n.tokenBal)
	}
	return nil, fmt.Errorf("unexpected call to %s", args.To)
}

type fakeBundler struct {
	mu      sync.Mutex
	signer  common.Address
	sent    []wireUserOp
	revert  bool
	pending int
}

func (b *fakeBundler) SendUserOperation(op wireUserOp, entryPoint common.Address) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	uo := &UserOperation{
		Sender:               op.Sender,
		Nonce:                op.Nonce.ToInt(),
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         op.CallGasLimit.ToInt(),
		VerificationGasLimit: op.VerificationGasLimit.ToInt(),
		PreVerificationGas:   op.PreVerificationGas.ToInt(),
		MaxFeePerGas:         op.MaxFeePerGas.ToInt(),
		MaxPriorityFeePerGas: op.MaxPriorityFeePerGas.ToInt(),
		PaymasterAndData:     op.PaymasterAndData,
	}
	hash, err := uo.Hash(entryPoint, testChainID)
	if err != nil {
		return common.Hash{}, err
	}
	sig := append([]byte(nil), op.Signature...)
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), sig)
	if err != nil {
		return common.Hash{}, err
	}
	if crypto.PubkeyToAddress(*pub) != b.signer {
		return common.Hash{}, errors.New("AA24 signature error")
	}
	b.sent = append(b.sent, op)
	return hash, nil
}

func (b *fakeBundler) GetUserOperationReceipt(hash common.Hash) (*userOpReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending > 0 {
		b.pending--
		return nil, nil
	}
	rec := &userOpReceipt{UserOpHash: hash, Success: !b.revert}
	if b.revert {
		rec.Reason = "ERC20: transfer amount exceeds balance"
	}
	rec.Receipt.TransactionHash = common.HexToHash("0xfeed")
	return rec, nil
}

type fakePaymaster struct {
	refuse bool
	calls  int
}

func (p *fakePaymaster) Sponsor_userop(op wireUserOp, apiKey string, _ common.Address, ctx map[string]string) (*sponsorResult, error) {
	p.calls++
	if apiKey != "test-key" || ctx["type"] != sponsoredPaymentType {
		return nil, errors.New("bad sponsor request")
	}
	if p.refuse {
		return &sponsorResult{}, nil
	}
	return &sponsorResult{PaymasterAndData: append(testPaymaster.Bytes(), 0x01, 0x02)}, nil
}

type harness struct {
	client    *Client
	node      *fakeNode
	bundler   *fakeBundler
	paymaster *fakePaymaster
	key       []byte
}

func newHarness(t *testing.T) (*harness, func()) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	h := &harness{
		node:      &fakeNode{code: map[common.Address][]byte{}, balance: big.NewInt(42), tokenBal: big.NewInt(7_000_000)},
		bundler:   &fakeBundler{signer: crypto.PubkeyToAddress(key.PublicKey)},
		paymaster: &fakePaymaster{},
		key:       crypto.FromECDSA(key),
	}

	servers := []*rpc.Server{rpc.NewServer(), rpc.NewServer(), rpc.NewServer()}
	if err := servers[0].RegisterName("eth", h.node); err != nil {
		t.Fatalf("register node: %v", err)
	}
	if err := servers[1].RegisterName("eth", h.bundler); err != nil {
		t.Fatalf("register bundler: %v", err)
	}
	if err := servers[2].RegisterName("pm", h.paymaster); err != nil {
		t.Fatalf("register paymaster: %v", err)
	}

	h.client = NewClient(rpc.DialInProc(servers[0]), rpc.DialInProc(servers[1]), rpc.DialInProc(servers[2]), Config{
		ChainID:             testChainID,
		EntryPoint:          testEntryPoint,
		AccountFactory:      testFactory,
		PaymasterKey:        "test-key",
		CallTimeout:         time.Second,
		ReceiptTimeout:      2 * time.Second,
		ReceiptPollInterval: 10 * time.Millisecond,
		RequestsPerSecond:   1000,
	}, logging.Discard())

	return h, func() {
		h.client.Close()
		for _, s := range servers {
			s.Stop()
		}
	}
}

func TestDeriveWalletAddress(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()

	addr, err := h.client.DeriveWalletAddress(context.Background(), common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if addr != testWallet {
		t.Fatalf("expected %s got %s", testWallet.Hex(), addr.Hex())
	}
}

func TestBalancesAndDeployment(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()
	ctx := context.Background()

	deployed, err := h.client.IsDeployed(ctx, testWallet)
	if err != nil || deployed {
		t.Fatalf("expected undeployed wallet, got %v err=%v", deployed, err)
	}
	h.node.code[testWallet] = []byte{0x60, 0x80}
	if deployed, _ := h.client.IsDeployed(ctx, testWallet); !deployed {
		t.Fatalf("expected deployed wallet")
	}

	bal, err := h.client.Balance(ctx, testWallet)
	if err != nil || bal.Int64() != 42 {
		t.Fatalf("balance = %v err=%v", bal, err)
	}
	tok, err := h.client.TokenBalance(ctx, testToken, testWallet)
	if err != nil || tok.Int64() != 7_000_000 {
		t.Fatalf("token balance = %v err=%v", tok, err)
	}
}

func TestSubmitSponsoredCallDeploysAndSigns(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()
	h.bundler.pending = 2

	key, _ := crypto.ToECDSA(h.key)
	rec, err := h.client.SubmitSponsoredCall(context.Background(), SponsoredCall{
		Signer: key,
		Wallet: testWallet,
		Target: testToken,
		Method: "mint",
		Args:   []any{testWallet, big.NewInt(5_000_000)},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.TransactionID != common.HexToHash("0xfeed").Hex() {
		t.Fatalf("unexpected transaction id %s", rec.TransactionID)
	}
	if len(h.bundler.sent) != 1 {
		t.Fatalf("expected one operation sent, got %d", len(h.bundler.sent))
	}
	sent := h.bundler.sent[0]
	if !bytes.HasPrefix(sent.InitCode, testFactory.Bytes()) {
		t.Fatalf("expected init code for undeployed wallet")
	}
	if !bytes.HasPrefix(sent.PaymasterAndData, testPaymaster.Bytes()) {
		t.Fatalf("expected paymaster data to be attached")
	}
	if sent.Nonce.ToInt().Int64() != 3 {
		t.Fatalf("expected nonce 3, got %s", sent.Nonce.ToInt())
	}
	if sent.CallGasLimit.ToInt().Cmp(DefaultGasPolicy().CallGasLimit) != 0 {
		t.Fatalf("expected fixed call gas limit")
	}
}

func TestSubmitSponsoredCallReverted(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()
	h.bundler.revert = true
	h.node.code[testWallet] = []byte{0x60}

	key, _ := crypto.ToECDSA(h.key)
	_, err := h.client.SubmitSponsoredCall(context.Background(), SponsoredCall{
		Signer: key, Wallet: testWallet, Target: testToken, Method: "transfer",
		Args: []any{common.HexToAddress("0xb0b"), big.NewInt(1)},
	})
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("expected revert error, got %v", err)
	}
	if len(h.bundler.sent[0].InitCode) != 0 {
		t.Fatalf("deployed wallet must not carry init code")
	}
}

func TestSubmitSponsoredCallRefused(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()
	h.paymaster.refuse = true

	key, _ := crypto.ToECDSA(h.key)
	_, err := h.client.SubmitSponsoredCall(context.Background(), SponsoredCall{
		Signer: key, Wallet: testWallet, Target: testToken, Method: "mint",
		Args: []any{testWallet, big.NewInt(1)},
	})
	if !errors.Is(err, ErrNotSponsored) {
		t.Fatalf("expected not sponsored error, got %v", err)
	}
	if len(h.bundler.sent) != 0 {
		t.Fatalf("unsponsored operation must not reach the bundler")
	}
}

func TestCallTimeoutIsRetryable(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()
	h.client.cfg.CallTimeout = 20 * time.Millisecond
	h.node.delay = 200 * time.Millisecond

	_, err := h.client.Balance(context.Background(), testWallet)
	if !IsRetryable(err) {
		t.Fatalf("expected retryable timeout, got %v", err)
	}
	var gwErr *Error
	if !errors.As(err, &gwErr) || gwErr.Op != "balance" {
		t.Fatalf("expected gateway error tagged with op, got %v", err)
	}
}

func TestMissingReceiptIsPendingNotRetryable(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()
	h.client.cfg.ReceiptTimeout = 50 * time.Millisecond
	h.bundler.pending = 1 << 20
	h.node.code[testWallet] = []byte{0x60}

	key, _ := crypto.ToECDSA(h.key)
	_, err := h.client.SubmitSponsoredCall(context.Background(), SponsoredCall{
		Signer: key, Wallet: testWallet, Target: testToken, Method: "mint",
		Args: []any{testWallet, big.NewInt(1)},
	})
	if !errors.Is(err, ErrPending) {
		t.Fatalf("expected pending error, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("a submitted operation must not be retryable")
	}
	opID, ok := PendingOperation(err)
	if !ok || len(h.bundler.sent) != 1 {
		t.Fatalf("expected pending operation id after one submission, got %q sent=%d", opID, len(h.bundler.sent))
	}
	if !strings.HasPrefix(opID, "0x") || len(opID) != 66 {
		t.Fatalf("unexpected operation id %q", opID)
	}
}

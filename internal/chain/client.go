package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

const (
	defaultCallTimeout     = 30 * time.Second
	defaultReceiptTimeout  = 2 * time.Minute
	defaultReceiptInterval = 2 * time.Second
	defaultRequestsPerSec  = 5
	sponsoredPaymentType   = "0"
)

// Config holds the network parameters of a Client.
type Config struct {
	ChainID        *big.Int
	EntryPoint     common.Address
	AccountFactory common.Address
	PaymasterKey   string
	Gas            GasPolicy

	CallTimeout         time.Duration
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
	RequestsPerSecond   int
}

// Client implements Gateway against a JSON-RPC node, an ERC-4337 bundler and
// a sponsoring paymaster.
type Client struct {
	rpc       *rpc.Client
	eth       *ethclient.Client
	bundler   *rpc.Client
	paymaster *rpc.Client
	cfg       Config
	limiter   *rate.Limiter
	logger    *slog.Logger
}

var _ Gateway = (*Client)(nil)

// Dial connects to the node, bundler and paymaster endpoints.
func Dial(ctx context.Context, nodeURL, bundlerURL, paymasterURL string, cfg Config, logger *slog.Logger) (*Client, error) {
	node, err := rpc.DialContext(ctx, nodeURL)
	if err != nil {
		return nil, fmt.Errorf("dial node: %w", err)
	}
	bundler, err := rpc.DialContext(ctx, bundlerURL)
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("dial bundler: %w", err)
	}
	paymaster, err := rpc.DialContext(ctx, paymasterURL)
	if err != nil {
		node.Close()
		bundler.Close()
		return nil, fmt.Errorf("dial paymaster: %w", err)
	}
	return NewClient(node, bundler, paymaster, cfg, logger), nil
}

// NewClient builds a Client on already connected RPC clients.
func NewClient(node, bundler, paymaster *rpc.Client, cfg Config, logger *slog.Logger) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = defaultReceiptTimeout
	}
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = defaultReceiptInterval
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSec
	}
	if cfg.Gas.CallGasLimit == nil {
		cfg.Gas = DefaultGasPolicy()
	}
	if cfg.ChainID == nil {
		cfg.ChainID = new(big.Int)
	}
	return &Client{
		rpc:       node,
		eth:       ethclient.NewClient(node),
		bundler:   bundler,
		paymaster: paymaster,
		cfg:       cfg,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
		logger:    logger,
	}
}

// Close releases the underlying connections.
func (c *Client) Close() {
	c.rpc.Close()
	c.bundler.Close()
	c.paymaster.Close()
}

// call paces and bounds a single remote call and tags its failure with op.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	err := c.limiter.Wait(callCtx)
	if err == nil {
		err = fn(callCtx)
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &Error{Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	return &Error{Op: op, Err: err}
}

func (c *Client) callContract(ctx context.Context, op string, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := c.call(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	return out, err
}

// DeriveWalletAddress asks the account factory for the counterfactual
// address of the SimpleAccount owned by signer (salt 0).
func (c *Client) DeriveWalletAddress(ctx context.Context, signer common.Address) (common.Address, error) {
	data, err := factoryABI.Pack("getAddress", signer, big.NewInt(0))
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getAddress: %w", err)
	}
	out, err := c.callContract(ctx, "derive_wallet_address", c.cfg.AccountFactory, data)
	if err != nil {
		return common.Address{}, err
	}
	vals, err := factoryABI.Unpack("getAddress", out)
	if err != nil || len(vals) != 1 {
		return common.Address{}, &Error{Op: "derive_wallet_address", Err: fmt.Errorf("decode getAddress: %v", err)}
	}
	addr, ok := vals[0].(common.Address)
	if !ok || addr == (common.Address{}) {
		return common.Address{}, &Error{Op: "derive_wallet_address", Err: errors.New("factory returned zero address")}
	}
	return addr, nil
}

// IsDeployed reports whether contract code exists at address.
func (c *Client) IsDeployed(ctx context.Context, address common.Address) (bool, error) {
	var code []byte
	err := c.call(ctx, "is_deployed", func(ctx context.Context) error {
		var err error
		code, err = c.eth.CodeAt(ctx, address, nil)
		return err
	})
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// Balance returns the native currency balance in wei.
func (c *Client) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.call(ctx, "balance", func(ctx context.Context) error {
		var err error
		balance, err = c.eth.BalanceAt(ctx, address, nil)
		return err
	})
	return balance, err
}

// TokenBalance returns the ERC-20 balance of address in base units.
func (c *Client) TokenBalance(ctx context.Context, token, address common.Address) (*big.Int, error) {
	data, err := tokenABI.Pack("balanceOf", address)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := c.callContract(ctx, "token_balance", token, data)
	if err != nil {
		return nil, err
	}
	vals, err := tokenABI.Unpack("balanceOf", out)
	if err != nil || len(vals) != 1 {
		return nil, &Error{Op: "token_balance", Err: fmt.Errorf("decode balanceOf: %v", err)}
	}
	balance, ok := vals[0].(*big.Int)
	if !ok {
		return nil, &Error{Op: "token_balance", Err: errors.New("unexpected balanceOf result")}
	}
	return balance, nil
}

// SubmitSponsoredCall builds a user operation executing call from the smart
// wallet, has the paymaster sponsor it, signs it, hands it to the bundler and
// waits for the receipt.
func (c *Client) SubmitSponsoredCall(ctx context.Context, call SponsoredCall) (Receipt, error) {
	if call.Signer == nil {
		return Receipt{}, errors.New("signer key is required")
	}
	inner, err := tokenABI.Pack(call.Method, call.Args...)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack %s: %w", call.Method, err)
	}
	callData, err := accountABI.Pack("execute", call.Target, big.NewInt(0), inner)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack execute: %w", err)
	}

	deployed, err := c.IsDeployed(ctx, call.Wallet)
	if err != nil {
		return Receipt{}, err
	}
	var initCode []byte
	if !deployed {
		owner := crypto.PubkeyToAddress(call.Signer.PublicKey)
		create, err := factoryABI.Pack("createAccount", owner, big.NewInt(0))
		if err != nil {
			return Receipt{}, fmt.Errorf("pack createAccount: %w", err)
		}
		initCode = append(c.cfg.AccountFactory.Bytes(), create...)
	}

	nonce, err := c.nonce(ctx, call.Wallet)
	if err != nil {
		return Receipt{}, err
	}

	op := newUserOperation(call.Wallet, nonce, initCode, callData, c.cfg.Gas)
	if err := c.sponsor(ctx, op); err != nil {
		return Receipt{}, err
	}
	localHash, err := op.Sign(call.Signer, c.cfg.EntryPoint, c.cfg.ChainID)
	if err != nil {
		return Receipt{}, err
	}

	var opHash common.Hash
	err = c.call(ctx, "send_user_operation", func(ctx context.Context) error {
		return c.bundler.CallContext(ctx, &opHash, "eth_sendUserOperation", op.wire(), c.cfg.EntryPoint)
	})
	if err != nil {
		return Receipt{}, err
	}
	if opHash != localHash {
		c.logger.Warn("bundler returned unexpected user operation hash",
			slog.String("expected", localHash.Hex()),
			slog.String("got", opHash.Hex()),
		)
	}
	c.logger.Info("user operation sent",
		slog.String("wallet", call.Wallet.Hex()),
		slog.String("method", call.Method),
		slog.String("user_op_hash", opHash.Hex()),
		slog.Bool("deploys_wallet", !deployed),
	)

	return c.waitReceipt(ctx, opHash)
}

func (c *Client) nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	data, err := entryPointABI.Pack("getNonce", sender, big.NewInt(0))
	if err != nil {
		return nil, fmt.Errorf("pack getNonce: %w", err)
	}
	out, err := c.callContract(ctx, "get_nonce", c.cfg.EntryPoint, data)
	if err != nil {
		return nil, err
	}
	vals, err := entryPointABI.Unpack("getNonce", out)
	if err != nil || len(vals) != 1 {
		return nil, &Error{Op: "get_nonce", Err: fmt.Errorf("decode getNonce: %v", err)}
	}
	nonce, ok := vals[0].(*big.Int)
	if !ok {
		return nil, &Error{Op: "get_nonce", Err: errors.New("unexpected getNonce result")}
	}
	return nonce, nil
}

type sponsorResult struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big  `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big  `json:"maxPriorityFeePerGas"`
}

// sponsor fills PaymasterAndData. The paymaster signs over the gas fields, so
// any value it returns replaces the fixed policy value.
func (c *Client) sponsor(ctx context.Context, op *UserOperation) error {
	var res sponsorResult
	err := c.call(ctx, "sponsor_user_operation", func(ctx context.Context) error {
		return c.paymaster.CallContext(ctx, &res, "pm_sponsor_userop",
			op.wire(), c.cfg.PaymasterKey, c.cfg.EntryPoint,
			map[string]string{"type": sponsoredPaymentType},
		)
	})
	if err != nil {
		return err
	}
	if len(res.PaymasterAndData) < common.AddressLength {
		return &Error{Op: "sponsor_user_operation", Err: ErrNotSponsored}
	}
	op.PaymasterAndData = res.PaymasterAndData
	override := func(dst **big.Int, v *hexutil.Big) {
		if v != nil {
			*dst = v.ToInt()
		}
	}
	override(&op.CallGasLimit, res.CallGasLimit)
	override(&op.VerificationGasLimit, res.VerificationGasLimit)
	override(&op.PreVerificationGas, res.PreVerificationGas)
	override(&op.MaxFeePerGas, res.MaxFeePerGas)
	override(&op.MaxPriorityFeePerGas, res.MaxPriorityFeePerGas)
	return nil
}

type userOpReceipt struct {
	UserOpHash common.Hash `json:"userOpHash"`
	Success    bool        `json:"success"`
	Reason     string      `json:"reason"`
	Receipt    struct {
		TransactionHash common.Hash `json:"transactionHash"`
	} `json:"receipt"`
}

// waitReceipt polls the bundler until the operation is mined. Poll errors are
// logged and retried until the receipt deadline since the operation is already
// in flight.
func (c *Client) waitReceipt(ctx context.Context, opHash common.Hash) (Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		var rec *userOpReceipt
		err := c.call(waitCtx, "get_user_operation_receipt", func(ctx context.Context) error {
			return c.bundler.CallContext(ctx, &rec, "eth_getUserOperationReceipt", opHash)
		})
		switch {
		case err != nil:
			c.logger.Warn("poll user operation receipt", slog.String("user_op_hash", opHash.Hex()), slog.Any("error", err))
		case rec != nil && !rec.Success:
			return Receipt{}, &Error{Op: "user_operation", Err: fmt.Errorf("%w: %s", ErrReverted, rec.Reason)}
		case rec != nil:
			return Receipt{OperationID: opHash.Hex(), TransactionID: rec.Receipt.TransactionHash.Hex()}, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Receipt{}, ctx.Err()
			}
			return Receipt{}, &Error{
				Op:          "user_operation",
				OperationID: opHash.Hex(),
				Err:         fmt.Errorf("%w: no receipt for %s within %s", ErrPending, opHash.Hex(), c.cfg.ReceiptTimeout),
			}
		case <-ticker.C:
		}
	}
}

package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// dummySignature has the shape of a real ECDSA signature so paymasters can
// simulate validation before the operation is signed.
var dummySignature = common.FromHex("0x" + strings.Repeat("ff", 64) + "1c")

// UserOperation is an ERC-4337 (EntryPoint v0.6) user operation.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// wireUserOp is the JSON-RPC representation expected by bundlers and paymasters.
type wireUserOp struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

func newUserOperation(sender common.Address, nonce *big.Int, initCode, callData []byte, gas GasPolicy) *UserOperation {
	return &UserOperation{
		Sender:               sender,
		Nonce:                nonce,
		InitCode:             initCode,
		CallData:             callData,
		CallGasLimit:         gas.CallGasLimit,
		VerificationGasLimit: gas.VerificationGasLimit,
		PreVerificationGas:   gas.PreVerificationGas,
		MaxFeePerGas:         gas.MaxFeePerGas,
		MaxPriorityFeePerGas: gas.MaxPriorityFeePerGas,
		PaymasterAndData:     []byte{},
		Signature:            dummySignature,
	}
}

func (op *UserOperation) wire() wireUserOp {
	return wireUserOp{
		Sender:               op.Sender,
		Nonce:                (*hexutil.Big)(op.Nonce),
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         (*hexutil.Big)(op.CallGasLimit),
		VerificationGasLimit: (*hexutil.Big)(op.VerificationGasLimit),
		PreVerificationGas:   (*hexutil.Big)(op.PreVerificationGas),
		MaxFeePerGas:         (*hexutil.Big)(op.MaxFeePerGas),
		MaxPriorityFeePerGas: (*hexutil.Big)(op.MaxPriorityFeePerGas),
		PaymasterAndData:     op.PaymasterAndData,
		Signature:            op.Signature,
	}
}

var (
	addressType = mustType("address")
	uint256Type = mustType("uint256")
	bytes32Type = mustType("bytes32")

	packedOpArgs = abi.Arguments{
		{Type: addressType}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type},
		{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type},
		{Type: uint256Type}, {Type: bytes32Type},
	}
	opHashArgs = abi.Arguments{{Type: bytes32Type}, {Type: addressType}, {Type: uint256Type}}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// Hash returns the user operation hash the EntryPoint at entryPoint on
// chainID computes. The signature field is not part of the hash.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := packedOpArgs.Pack(
		op.Sender,
		op.Nonce,
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		op.CallGasLimit,
		op.VerificationGasLimit,
		op.PreVerificationGas,
		op.MaxFeePerGas,
		op.MaxPriorityFeePerGas,
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation: %w", err)
	}
	enc, err := opHashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation hash: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// Sign sets the signature a SimpleAccount owned by key accepts: an EIP-191
// personal signature over the operation hash.
func (op *UserOperation) Sign(key *ecdsa.PrivateKey, entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	hash, err := op.Hash(entryPoint, chainID)
	if err != nil {
		return common.Hash{}, err
	}
	sig, err := crypto.Sign(accounts.TextHash(hash.Bytes()), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign user operation: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	op.Signature = sig
	return hash, nil
}

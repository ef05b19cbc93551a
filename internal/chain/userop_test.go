package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestUserOperationHashIgnoresSignature(t *testing.T) {
	op := newUserOperation(testWallet, big.NewInt(1), nil, []byte{0xb6, 0x1d, 0x27, 0xf6}, DefaultGasPolicy())

	first, err := op.Hash(testEntryPoint, testChainID)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	op.Signature = []byte{0x01}
	second, _ := op.Hash(testEntryPoint, testChainID)
	if first != second {
		t.Fatalf("signature must not affect the hash")
	}

	other, _ := op.Hash(testEntryPoint, big.NewInt(1))
	if other == first {
		t.Fatalf("hash must be bound to the chain id")
	}
	op.Nonce = big.NewInt(2)
	bumped, _ := op.Hash(testEntryPoint, testChainID)
	if bumped == first {
		t.Fatalf("hash must change with the nonce")
	}
}

func TestUserOperationSignRecoversOwner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	op := newUserOperation(testWallet, big.NewInt(0), nil, nil, DefaultGasPolicy())

	hash, err := op.Sign(key, testEntryPoint, testChainID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(op.Signature) != crypto.SignatureLength {
		t.Fatalf("unexpected signature length %d", len(op.Signature))
	}
	v := op.Signature[crypto.RecoveryIDOffset]
	if v != 27 && v != 28 {
		t.Fatalf("expected v in {27,28}, got %d", v)
	}

	sig := append([]byte(nil), op.Signature...)
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got, want := crypto.PubkeyToAddress(*pub), crypto.PubkeyToAddress(key.PublicKey); got != want {
		t.Fatalf("recovered %s, want %s", got.Hex(), want.Hex())
	}
}

func TestDummySignatureShape(t *testing.T) {
	if len(dummySignature) != crypto.SignatureLength {
		t.Fatalf("dummy signature must be %d bytes", crypto.SignatureLength)
	}
	if (common.Hash{}) == crypto.Keccak256Hash(dummySignature) {
		t.Fatalf("unexpected empty hash")
	}
}

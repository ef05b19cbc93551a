package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	sealedPrefix = "enc:v1:"
)

// ErrSealed is returned when a sealed secret cannot be opened.
var ErrSealed = errors.New("cannot open sealed signer secret")

// Sealer protects signer secrets at rest.
type Sealer interface {
	Seal(secret []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// ScryptSealer encrypts secrets with AES-256-GCM under a key derived once
// from a passphrase with scrypt.
type ScryptSealer struct {
	aead cipher.AEAD
}

// NewScryptSealer derives the sealing key from passphrase and salt.
func NewScryptSealer(passphrase, salt string) (*ScryptSealer, error) {
	if passphrase == "" || salt == "" {
		return nil, errors.New("passphrase and salt are required")
	}
	key, err := scrypt.Key([]byte(passphrase), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("derive sealing key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &ScryptSealer{aead: aead}, nil
}

// Seal returns "enc:v1:" followed by base64(nonce || ciphertext).
func (s *ScryptSealer) Seal(secret []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, secret, nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

func (s *ScryptSealer) Open(sealed string) ([]byte, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return nil, fmt.Errorf("%w: unknown format", ErrSealed)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealed, err)
	}
	size := s.aead.NonceSize()
	if len(raw) < size {
		return nil, fmt.Errorf("%w: truncated", ErrSealed)
	}
	plain, err := s.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wrong passphrase or corrupted data", ErrSealed)
	}
	return plain, nil
}

// PlainSealer stores secrets as 0x-prefixed hex. Development only.
type PlainSealer struct{}

func (PlainSealer) Seal(secret []byte) (string, error) {
	return hexutil.Encode(secret), nil
}

func (PlainSealer) Open(sealed string) ([]byte, error) {
	raw, err := hexutil.Decode(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealed, err)
	}
	return raw, nil
}

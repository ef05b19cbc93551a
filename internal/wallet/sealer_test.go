package wallet

import (
	"bytes"
	"errors"
	"testing"
)

func TestScryptSealerRoundTrip(t *testing.T) {
	s, err := NewScryptSealer("passphrase", "salt")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	secret := bytes.Repeat([]byte{0xab}, 32)

	sealed, err := s.Seal(secret)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	again, _ := s.Seal(secret)
	if sealed == again {
		t.Fatalf("expected fresh nonce per seal")
	}
	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, secret) {
		t.Fatalf("round trip mismatch")
	}
}

func TestScryptSealerRejectsWrongPassphrase(t *testing.T) {
	a, _ := NewScryptSealer("one", "salt")
	b, _ := NewScryptSealer("two", "salt")

	sealed, err := a.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := b.Open(sealed); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
	if _, err := a.Open("0xdeadbeef"); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed for unknown format, got %v", err)
	}
}

func TestNewScryptSealerRequiresInputs(t *testing.T) {
	if _, err := NewScryptSealer("", "salt"); err == nil {
		t.Fatalf("expected error for empty passphrase")
	}
}

func TestPlainSealer(t *testing.T) {
	sealed, _ := PlainSealer{}.Seal([]byte{0x01, 0x02})
	if sealed != "0x0102" {
		t.Fatalf("unexpected plain encoding %s", sealed)
	}
	if _, err := (PlainSealer{}).Open("nothex"); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
}

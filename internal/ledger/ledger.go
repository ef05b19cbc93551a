package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	// ErrDuplicateOperation indicates the user operation was already journaled.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrInvalidEntry is returned for entries missing an identity, kind or amount.
	ErrInvalidEntry = errors.New("invalid journal entry")
)

// Kind names the sponsored call an entry records.
type Kind string

const (
	KindMint     Kind = "mint"
	KindTransfer Kind = "transfer"
)

const (
	// StatusConfirmed marks an operation the bundler reported as executed.
	StatusConfirmed = "confirmed"
	// StatusPending marks an operation the bundler accepted without a receipt
	// arriving before the wait gave up.
	StatusPending = "pending"
	// StatusFailed marks an operation that was rejected or reverted, or that
	// timed out before reaching the bundler.
	StatusFailed = "failed"
)

// Entry is one submitted sponsored operation. Amount is in token base units.
type Entry struct {
	ID            string
	Identity      string
	Kind          Kind
	Amount        *big.Int
	Destination   string
	OperationID   string
	TransactionID string
	Status        string
	FailureReason string
	CreatedAt     time.Time
}

// Ledger journals sponsored operations per identity. It is an audit trail and
// never holds balances; the chain is the source of truth for those.
type Ledger interface {
	Record(ctx context.Context, entry Entry) (Entry, error)
	ListByIdentity(ctx context.Context, identity string, limit int) ([]Entry, error)
}

func validate(entry Entry) error {
	if entry.Identity == "" || entry.Kind == "" || entry.Amount == nil || entry.Amount.Sign() <= 0 {
		return ErrInvalidEntry
	}
	return nil
}

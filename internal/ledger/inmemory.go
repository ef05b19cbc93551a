package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu         sync.RWMutex
	entries    []Entry
	operations map[string]struct{}
}

// NewInMemory creates a concurrency-safe in-memory ledger for tests and local runs.
func NewInMemory() Ledger {
	return &inMemoryLedger{operations: make(map[string]struct{})}
}

func (l *inMemoryLedger) Record(_ context.Context, entry Entry) (Entry, error) {
	if err := validate(entry); err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.OperationID != "" {
		if _, exists := l.operations[entry.OperationID]; exists {
			return Entry{}, ErrDuplicateOperation
		}
		l.operations[entry.OperationID] = struct{}{}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Amount = new(big.Int).Set(entry.Amount)
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *inMemoryLedger) ListByIdentity(_ context.Context, identity string, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Identity != identity {
			continue
		}
		out = append(out, l.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

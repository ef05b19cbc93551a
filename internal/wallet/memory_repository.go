package wallet

import (
	"context"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Record
}

// NewMemoryRepository constructs an in-memory repository for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Record)}
}

func (r *memoryRepository) Get(_ context.Context, identity string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.storage[identity]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *memoryRepository) Create(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[rec.Identity]; exists {
		return ErrExists
	}
	r.storage[rec.Identity] = rec
	return nil
}

func (r *memoryRepository) SetDeployed(_ context.Context, identity string, deployed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.storage[identity]
	if !ok {
		return ErrNotFound
	}
	rec.IsDeployed = deployed
	r.storage[identity] = rec
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, identity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.storage[identity]; !ok {
		return false, nil
	}
	delete(r.storage, identity)
	return true, nil
}

func (r *memoryRepository) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIdentities(r.storage), nil
}

func sortedIdentities(records map[string]Record) []string {
	out := make([]string, 0, len(records))
	for id := range records {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := records[out[i]], records[out[j]]
		if !a.RegisteredAt.Equal(b.RegisteredAt) {
			return a.RegisteredAt.Before(b.RegisteredAt)
		}
		return out[i] < out[j]
	})
	return out
}

package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileRepository keeps records in memory and mirrors every mutation to a JSON
// file so a single-node deployment survives restarts without a database.
type FileRepository struct {
	mu      sync.RWMutex
	path    string
	storage map[string]Record
}

// NewFileRepository loads path if it exists. A missing file is an empty store.
func NewFileRepository(path string) (*FileRepository, error) {
	repo := &FileRepository{path: path, storage: make(map[string]Record)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return repo, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrPersistence, path, err)
	}
	if len(data) == 0 {
		return repo, nil
	}
	if err := json.Unmarshal(data, &repo.storage); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrPersistence, path, err)
	}
	return repo, nil
}

func (r *FileRepository) Get(_ context.Context, identity string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.storage[identity]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *FileRepository) Create(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[rec.Identity]; exists {
		return ErrExists
	}
	r.storage[rec.Identity] = rec
	if err := r.flush(); err != nil {
		delete(r.storage, rec.Identity)
		return err
	}
	return nil
}

func (r *FileRepository) SetDeployed(_ context.Context, identity string, deployed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.storage[identity]
	if !ok {
		return ErrNotFound
	}
	prev := rec
	rec.IsDeployed = deployed
	r.storage[identity] = rec
	if err := r.flush(); err != nil {
		r.storage[identity] = prev
		return err
	}
	return nil
}

func (r *FileRepository) Delete(_ context.Context, identity string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.storage[identity]
	if !ok {
		return false, nil
	}
	delete(r.storage, identity)
	if err := r.flush(); err != nil {
		r.storage[identity] = rec
		return false, err
	}
	return true, nil
}

func (r *FileRepository) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIdentities(r.storage), nil
}

// flush writes the whole store to a temp file and renames it over the target.
// Callers hold the write lock.
func (r *FileRepository) flush() error {
	data, err := json.MarshalIndent(r.storage, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	tmp, err := os.CreateTemp(dir, ".wallets-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

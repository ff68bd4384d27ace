package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend is a BadgerDB-backed storage implementation.
type BadgerBackend struct {
	db          *badger.DB
	initialized bool
	readOnly    bool
	mu          sync.RWMutex
}

// NewBadgerBackend creates a new BadgerDB backend.
func NewBadgerBackend() *BadgerBackend {
	return &BadgerBackend{}
}

// Initialize opens or creates the BadgerDB database at the given path.
func (b *BadgerBackend) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR) // Suppress INFO/WARNING logs

	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	var err error
	b.db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}

	b.initialized = true
	b.readOnly = readOnly
	return nil
}

// Close releases all resources held by the backend.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}

	err := b.db.Close()
	b.db = nil
	b.initialized = false
	return err
}

func (b *BadgerBackend) checkWritable() error {
	if !b.initialized {
		return ErrNotInitialized
	}
	if b.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Put writes all entries in one transaction.
func (b *BadgerBackend) Put(ctx context.Context, entries ...KV) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkWritable(); err != nil {
		return err
	}

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := txn.Set(bytes.Clone(e.Key), bytes.Clone(e.Value)); err != nil {
			return fmt.Errorf("setting %s: %w", e.Key, err)
		}
	}

	return txn.Commit()
}

// Get returns the value stored under key.
func (b *BadgerBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, ErrNotInitialized
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return val, nil
}

// Scan returns every entry under prefix in key order.
func (b *BadgerBackend) Scan(ctx context.Context, prefix []byte) ([]KV, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return nil, ErrNotInitialized
	}

	txn := b.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []KV
	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", item.Key(), err)
		}
		out = append(out, KV{Key: item.KeyCopy(nil), Value: val})
	}
	return out, nil
}

// Delete removes keys in one transaction.
func (b *BadgerBackend) Delete(ctx context.Context, keys ...[]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkWritable(); err != nil {
		return err
	}

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	return txn.Commit()
}

// DeletePrefix removes every key under prefix.
func (b *BadgerBackend) DeletePrefix(ctx context.Context, prefix []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkWritable(); err != nil {
		return 0, err
	}

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var keysToDelete [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range keysToDelete {
		if err := txn.Delete(key); err != nil {
			return 0, fmt.Errorf("deleting %s: %w", key, err)
		}
	}

	return len(keysToDelete), txn.Commit()
}

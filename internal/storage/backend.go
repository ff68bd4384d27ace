// Package storage persists federated fact sets and analysis baselines.
//
// A Backend is a small ordered key/value store; Store layers typed,
// compressed snapshots on top of it. BadgerBackend is used on disk and
// MemoryBackend in tests.
package storage

import (
	"context"
	"errors"
)

// ErrNotInitialized is returned by backends used before Initialize.
var ErrNotInitialized = errors.New("storage backend not initialized")

// ErrReadOnly is returned by writes to a backend opened read-only.
var ErrReadOnly = errors.New("storage backend is read-only")

// ErrKeyNotFound is returned by Get for missing keys.
var ErrKeyNotFound = errors.New("key not found")

// KV is one stored entry.
type KV struct {
	Key   []byte
	Value []byte
}

// Backend defines the interface for storage implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Initialize opens or creates the backend at the given path.
	// If readOnly is true, writes fail with ErrReadOnly.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// Put writes all entries atomically.
	Put(ctx context.Context, entries ...KV) error

	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Scan returns every entry whose key starts with prefix, in key order.
	Scan(ctx context.Context, prefix []byte) ([]KV, error)

	// Delete removes the given keys atomically. Missing keys are ignored.
	Delete(ctx context.Context, keys ...[]byte) error

	// DeletePrefix removes every key starting with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix []byte) (int, error)
}

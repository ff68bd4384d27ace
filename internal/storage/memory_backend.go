package storage

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryBackend is an in-memory implementation of Backend for testing.
type MemoryBackend struct {
	mu       sync.RWMutex
	data     map[string][]byte
	readOnly bool
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Initialize implements Backend. The path is ignored.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.readOnly = readOnly
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

func (m *MemoryBackend) checkWritable() error {
	if m.data == nil {
		return ErrNotInitialized
	}
	if m.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Put implements Backend.
func (m *MemoryBackend) Put(ctx context.Context, entries ...KV) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkWritable(); err != nil {
		return err
	}
	for _, e := range entries {
		m.data[string(e.Key)] = bytes.Clone(e.Value)
	}
	return nil
}

// Get implements Backend.
func (m *MemoryBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return nil, ErrNotInitialized
	}
	val, ok := m.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return bytes.Clone(val), nil
}

// Scan implements Backend.
func (m *MemoryBackend) Scan(ctx context.Context, prefix []byte) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return nil, ErrNotInitialized
	}
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	out := make([]KV, 0, len(keys))
	for _, k := range keys {
		out = append(out, KV{Key: []byte(k), Value: bytes.Clone(m.data[k])})
	}
	return out, nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(ctx context.Context, keys ...[]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkWritable(); err != nil {
		return err
	}
	for _, k := range keys {
		delete(m.data, string(k))
	}
	return nil
}

// DeletePrefix implements Backend.
func (m *MemoryBackend) DeletePrefix(ctx context.Context, prefix []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkWritable(); err != nil {
		return 0, err
	}
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, string(prefix)) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

package graph

import (
	"context"
	"sync/atomic"
)

// Store holds the current graph. Swap replaces it atomically; readers that
// already loaded the previous graph keep using it safely because sealed
// graphs are never mutated.
type Store struct {
	current    atomic.Pointer[KnowledgeGraph]
	generation atomic.Uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Load returns the current graph, or nil before the first Swap.
func (s *Store) Load() *KnowledgeGraph {
	return s.current.Load()
}

// Swap installs g as the current graph and returns the previous one.
// Only sealed graphs are accepted.
func (s *Store) Swap(ctx context.Context, g *KnowledgeGraph) (*KnowledgeGraph, error) {
	if g == nil || !g.Sealed() {
		return nil, ErrGraphNotReady
	}
	prev := s.current.Swap(g)
	s.generation.Add(1)
	recordStoreSwap(ctx)
	return prev, nil
}

// Generation counts successful swaps.
func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

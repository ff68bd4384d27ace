package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/Benny93/strata/internal/diff"
	"github.com/Benny93/strata/internal/federation"
)

// ErrSnapshotNotFound is returned when no snapshot has the requested name.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Kind separates the two kinds of stored snapshot.
type Kind string

const (
	KindFactSet  Kind = "factset"
	KindBaseline Kind = "baseline"
)

// Key prefixes for different data types
const (
	prefixFactSet  = "f:" // compressed FactSet JSON
	prefixBaseline = "b:" // compressed diff.Snapshot JSON
	prefixMeta     = "m:" // plain Meta JSON, keyed by data key
)

func (k Kind) prefix() (string, error) {
	switch k {
	case KindFactSet:
		return prefixFactSet, nil
	case KindBaseline:
		return prefixBaseline, nil
	default:
		return "", fmt.Errorf("unknown snapshot kind %q", k)
	}
}

// Meta describes a stored snapshot without loading it.
type Meta struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Kind           Kind      `json:"kind"`
	SavedAt        time.Time `json:"savedAt"`
	Size           int       `json:"size"`
	CompressedSize int       `json:"compressedSize"`

	// Atoms, Links and Conflicts are set for fact sets; Nodes, Edges,
	// Violations and Cycles for baselines.
	Atoms      int    `json:"atoms,omitempty"`
	Links      int    `json:"links,omitempty"`
	Conflicts  int    `json:"conflicts,omitempty"`
	Nodes      int    `json:"nodes,omitempty"`
	Edges      int    `json:"edges,omitempty"`
	Violations int    `json:"violations,omitempty"`
	Cycles     int    `json:"cycles,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// Store keeps named fact sets and baselines in a Backend. Values are
// JSON compressed with zstd; metadata is stored uncompressed next to them.
//
// Thread Safety: safe for concurrent use when the Backend is.
type Store struct {
	backend Backend
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

// NewStore wraps an initialized backend.
func NewStore(backend Backend) (*Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Store{backend: backend, enc: enc, dec: dec}, nil
}

// Open initializes a BadgerBackend at path and wraps it in a Store.
func Open(path string, readOnly bool) (*Store, error) {
	backend := NewBadgerBackend()
	if err := backend.Initialize(path, readOnly); err != nil {
		return nil, err
	}
	s, err := NewStore(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the codec and closes the backend.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.backend.Close()
}

// SaveFactSet stores fs under name, replacing any previous one.
func (s *Store) SaveFactSet(ctx context.Context, name string, fs *federation.FactSet) (Meta, error) {
	meta := Meta{
		Kind:      KindFactSet,
		Atoms:     len(fs.Atoms),
		Links:     len(fs.Links),
		Conflicts: len(fs.Conflicts),
	}
	return s.save(ctx, name, meta, fs)
}

// LoadFactSet returns the fact set stored under name.
func (s *Store) LoadFactSet(ctx context.Context, name string) (*federation.FactSet, Meta, error) {
	var fs federation.FactSet
	meta, err := s.load(ctx, KindFactSet, name, &fs)
	if err != nil {
		return nil, Meta{}, err
	}
	return &fs, meta, nil
}

// SaveBaseline stores an analysis snapshot under name.
func (s *Store) SaveBaseline(ctx context.Context, name string, snap diff.Snapshot) (Meta, error) {
	meta := Meta{
		Kind:       KindBaseline,
		Nodes:      len(snap.NodeIDs),
		Edges:      len(snap.EdgeIDs),
		Violations: len(snap.Violations),
		Cycles:     len(snap.Cycles),
		Digest:     snap.Digest,
	}
	return s.save(ctx, name, meta, snap)
}

// LoadBaseline returns the analysis snapshot stored under name.
func (s *Store) LoadBaseline(ctx context.Context, name string) (diff.Snapshot, Meta, error) {
	var snap diff.Snapshot
	meta, err := s.load(ctx, KindBaseline, name, &snap)
	if err != nil {
		return diff.Snapshot{}, Meta{}, err
	}
	return snap, meta, nil
}

// List returns metadata of every snapshot of kind, sorted by name.
func (s *Store) List(ctx context.Context, kind Kind) ([]Meta, error) {
	prefix, err := kind.prefix()
	if err != nil {
		return nil, err
	}
	entries, err := s.backend.Scan(ctx, []byte(prefixMeta+prefix))
	if err != nil {
		return nil, fmt.Errorf("listing %s snapshots: %w", kind, err)
	}

	metas := make([]Meta, 0, len(entries))
	for _, e := range entries {
		var m Meta
		if err := json.Unmarshal(e.Value, &m); err != nil {
			return nil, fmt.Errorf("unmarshaling meta %s: %w", e.Key, err)
		}
		metas = append(metas, m)
	}
	slices.SortFunc(metas, func(a, b Meta) int { return strings.Compare(a.Name, b.Name) })
	return metas, nil
}

// Delete removes one snapshot.
func (s *Store) Delete(ctx context.Context, kind Kind, name string) error {
	key, err := dataKey(kind, name)
	if err != nil {
		return err
	}
	if _, err := s.backend.Get(ctx, metaKey(key)); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return fmt.Errorf("%w: %s %q", ErrSnapshotNotFound, kind, name)
		}
		return err
	}
	return s.backend.Delete(ctx, key, metaKey(key))
}

// Clear removes every snapshot and the name index, and returns how many
// snapshots were removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	n, err := s.backend.DeletePrefix(ctx, []byte(prefixMeta))
	if err != nil {
		return 0, err
	}
	for _, prefix := range []string{prefixFactSet, prefixBaseline, prefixName} {
		if _, err := s.backend.DeletePrefix(ctx, []byte(prefix)); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func dataKey(kind Kind, name string) ([]byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("snapshot name is empty")
	}
	prefix, err := kind.prefix()
	if err != nil {
		return nil, err
	}
	return []byte(prefix + name), nil
}

func metaKey(dataKey []byte) []byte {
	return append([]byte(prefixMeta), dataKey...)
}

func (s *Store) save(ctx context.Context, name string, meta Meta, v any) (Meta, error) {
	key, err := dataKey(meta.Kind, name)
	if err != nil {
		return Meta{}, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return Meta{}, fmt.Errorf("marshaling %s: %w", meta.Kind, err)
	}
	compressed := s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))

	meta.ID = uuid.NewString()
	meta.Name = name
	meta.SavedAt = time.Now().UTC()
	meta.Size = len(raw)
	meta.CompressedSize = len(compressed)
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Meta{}, fmt.Errorf("marshaling meta: %w", err)
	}

	if err := s.backend.Put(ctx,
		KV{Key: key, Value: compressed},
		KV{Key: metaKey(key), Value: metaJSON},
	); err != nil {
		return Meta{}, fmt.Errorf("saving %s %q: %w", meta.Kind, name, err)
	}
	return meta, nil
}

func (s *Store) load(ctx context.Context, kind Kind, name string, v any) (Meta, error) {
	key, err := dataKey(kind, name)
	if err != nil {
		return Meta{}, err
	}

	metaJSON, err := s.backend.Get(ctx, metaKey(key))
	if errors.Is(err, ErrKeyNotFound) {
		return Meta{}, fmt.Errorf("%w: %s %q", ErrSnapshotNotFound, kind, name)
	}
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return Meta{}, fmt.Errorf("unmarshaling meta: %w", err)
	}

	compressed, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return Meta{}, fmt.Errorf("%w: %s %q has metadata but no data", ErrSnapshotNotFound, kind, name)
	}
	if err != nil {
		return Meta{}, err
	}
	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return Meta{}, fmt.Errorf("decompressing %s %q: %w", kind, name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return Meta{}, fmt.Errorf("unmarshaling %s %q: %w", kind, name, err)
	}
	return meta, nil
}

package ingestion

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/strata/internal/config"
	"github.com/Benny93/strata/internal/facts"
	"github.com/Benny93/strata/internal/federation"
	"github.com/Benny93/strata/internal/graph"
	"github.com/Benny93/strata/internal/rules"
	"github.com/Benny93/strata/internal/storage"
)

// newTestPipeline configures a pipeline over dir with an in-memory
// snapshot store.
func newTestPipeline(t *testing.T, dir string) *Pipeline {
	t.Helper()
	cfg := config.Default()
	cfg.Bundles.Dir = dir

	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)

	backend := storage.NewMemoryBackend()
	require.NoError(t, backend.Initialize("", false))
	store, err := storage.NewStore(backend)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	p.Snapshots = store
	return p
}

func TestPipeline_Run(t *testing.T) {
	t.Parallel()

	t.Run("FullRun", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		writeBundle(t, tmpDir, "app.yaml", appBundle())
		writeBundle(t, tmpDir, "db.json", dbBundle())
		p := newTestPipeline(t, tmpDir)

		result, err := p.Run(t.Context())
		require.NoError(t, err)

		assert.Len(t, result.Files, 2)
		assert.Len(t, result.Bundles, 2)
		assert.Equal(t, 4, result.Graph().NodeCount())
		// Two calls plus the cross-repository name match.
		assert.Equal(t, 3, result.Graph().EdgeCount())
		assert.Equal(t, 1, result.FactSet.CrossRepositoryLinks())
		assert.False(t, result.Build.HasDiagnostics())

		require.Len(t, result.Violations, 1)
		assert.Equal(t, "controller-no-repository", result.Violations[0].RuleID)
		require.Len(t, result.Cycles, 1)
		assert.Len(t, result.Snapshot.Cycles, 1)
		assert.Len(t, result.Snapshot.NodeIDs, 4)
		assert.Equal(t, result.Graph().Digest(), result.Snapshot.Digest)
		assert.Positive(t, result.Duration)

		assert.Equal(t, CurrentFactSet, result.Saved.Name)
		assert.Equal(t, 4, result.Saved.Atoms)
		assert.Same(t, result.Graph(), p.Graphs.Load())
		assert.Equal(t, uint64(1), p.Graphs.Generation())
	})

	t.Run("PersistsFactSet", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		writeBundle(t, tmpDir, "app.yaml", appBundle())
		p := newTestPipeline(t, tmpDir)

		result, err := p.Run(t.Context())
		require.NoError(t, err)

		loaded, meta, err := p.Snapshots.LoadFactSet(t.Context(), CurrentFactSet)
		require.NoError(t, err)
		assert.Equal(t, result.Saved.ID, meta.ID)
		assert.Equal(t, result.FactSet.Atoms, loaded.Atoms)
		assert.Equal(t, result.FactSet.Links, loaded.Links)
	})

	t.Run("ReportsProgress", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		writeBundle(t, tmpDir, "db.yaml", dbBundle())
		p := newTestPipeline(t, tmpDir)

		var mu sync.Mutex
		var phases []string
		p.Progress = func(phase string, progress float64) {
			mu.Lock()
			defer mu.Unlock()
			if progress == 1.0 {
				phases = append(phases, phase)
			}
		}

		_, err := p.Run(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{
			"Walking bundles",
			"Loading bundles",
			"Merging repositories",
			"Saving fact set",
			"Building graph",
			"Indexing names",
			"Evaluating rules",
			"Detecting cycles",
		}, phases)
	})

	t.Run("EmptyDir", func(t *testing.T) {
		t.Parallel()
		p := newTestPipeline(t, t.TempDir())

		result, err := p.Run(t.Context())
		require.NoError(t, err)
		assert.Zero(t, result.Graph().NodeCount())
		assert.Empty(t, result.Violations)
	})

	t.Run("ConflictFailsUnderFailPolicy", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		other := appBundle()
		other.Scan.Repository = "fork"
		other.CodeAtoms[0].Namespace = "Fork.Web"
		writeBundle(t, tmpDir, "app.yaml", appBundle())
		writeBundle(t, tmpDir, "fork.yaml", other)

		p := newTestPipeline(t, tmpDir)
		p.Federation.ConflictResolution = federation.Fail

		_, err := p.Run(t.Context())
		assert.ErrorIs(t, err, federation.ErrConflict)
		assert.Nil(t, p.Graphs.Load(), "failed runs must not install a graph")
	})

	t.Run("InvalidBundle", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		writeFile(t, tmpDir, "broken.yaml", "scan:\n  repository: \"\"\n")
		p := newTestPipeline(t, tmpDir)

		_, err := p.Run(t.Context())
		assert.ErrorIs(t, err, facts.ErrInvalidBundle)
	})

	t.Run("WithoutStores", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		writeBundle(t, tmpDir, "db.yaml", dbBundle())
		p := &Pipeline{BundleDir: tmpDir}

		result, err := p.Run(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Graph().NodeCount())
		assert.Empty(t, result.Saved.ID)
		assert.Empty(t, result.Violations)
	})
}

func TestPipeline_Analyze(t *testing.T) {
	t.Parallel()

	fs, err := federation.Merge(t.Context(), []*facts.Bundle{appBundle()}, federation.Options{})
	require.NoError(t, err)

	p := &Pipeline{Graphs: graph.NewStore()}
	first, err := p.Analyze(t.Context(), fs)
	require.NoError(t, err)
	second, err := p.Analyze(t.Context(), fs)
	require.NoError(t, err)

	assert.Empty(t, first.Files)
	assert.Equal(t, first.Snapshot.Digest, second.Snapshot.Digest)
	assert.Same(t, second.Graph(), p.Graphs.Load())
	assert.Equal(t, uint64(2), p.Graphs.Generation())
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	t.Run("Defaults", func(t *testing.T) {
		t.Parallel()
		set, err := LoadRules(config.RulesConfig{})
		require.NoError(t, err)
		assert.Equal(t, len(rules.DefaultRules()), set.Len())
	})

	t.Run("FilesOverrideDefaults", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		writeFile(t, tmpDir, "arch.yaml", `
- id: controller-no-repository
  source: {namePattern: "*Controller"}
  forbiddenEdge: calls
  target: {namePattern: "*Repository"}
  severity: warning
- id: no-web-to-db
  source: {namespacePattern: "*.Web"}
  forbiddenEdge: name_match
  target: {kind: table}
`)
		writeFile(t, tmpDir, "extra.yaml", `
- id: no-web-to-db
  source: {namespacePattern: "*.Web"}
  forbiddenEdge: query_trace
  target: {kind: table}
  severity: info
`)

		set, err := LoadRules(config.RulesConfig{Files: []string{
			filepath.Join(tmpDir, "arch.yaml"),
			filepath.Join(tmpDir, "extra.yaml"),
		}})
		require.NoError(t, err)
		assert.Equal(t, len(rules.DefaultRules())+1, set.Len())
		assert.Equal(t, rules.SeverityWarning, set.Rule("controller-no-repository").Severity)
		assert.Equal(t, rules.SeverityInfo, set.Rule("no-web-to-db").Severity)
	})

	t.Run("DisableDefaults", func(t *testing.T) {
		t.Parallel()
		set, err := LoadRules(config.RulesConfig{DisableDefaults: true})
		require.NoError(t, err)
		assert.Zero(t, set.Len())
	})

	t.Run("InvalidRule", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		writeFile(t, tmpDir, "bad.yaml", "- id: bad\n  forbiddenEdge: calls\n  severity: fatal\n")

		_, err := LoadRules(config.RulesConfig{Files: []string{filepath.Join(tmpDir, "bad.yaml")}})
		assert.ErrorIs(t, err, rules.ErrInvalidRule)
	})

	t.Run("MissingFile", func(t *testing.T) {
		t.Parallel()
		_, err := LoadRules(config.RulesConfig{Files: []string{filepath.Join(t.TempDir(), "none.yaml")}})
		assert.Error(t, err)
	})
}

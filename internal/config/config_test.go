package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/strata/internal/federation"
	"github.com/Benny93/strata/internal/graph"
	"github.com/Benny93/strata/internal/logging"
	"github.com/Benny93/strata/internal/query"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Query.MaxDepth)
	assert.Equal(t, federation.NewestWins, cfg.Federation.ConflictResolution)
	assert.InDelta(t, 0.8, cfg.Federation.CrossRepositoryConfidenceMultiplier, 1e-9)
	assert.Equal(t, 500*time.Millisecond, cfg.Bundles.Debounce)
	assert.Nil(t, cfg.OrphanOptions().EntryPointKinds)
	assert.InDelta(t, query.DefaultHubMultiplier, cfg.CentralityOptions().HubMultiplier, 1e-9)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("YAML", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeFile(t, dir, "strata.yaml", `
bundles:
  dir: scans
  ignore: ["*.tmp.yaml"]
  debounce: 2s
rules:
  files: [rules/arch.yaml]
federation:
  conflictResolution: priority-order
  repositoryPriority: [core, web]
query:
  maxDepth: 3
  entryPointKinds: [namespace]
  exemptPublic: true
logging:
  level: debug
  format: json
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, "scans"), cfg.Bundles.Dir)
		assert.Equal(t, []string{"*.tmp.yaml"}, cfg.Bundles.Ignore)
		assert.Equal(t, 2*time.Second, cfg.Bundles.Debounce)
		assert.Equal(t, []string{filepath.Join(dir, "rules", "arch.yaml")}, cfg.Rules.Files)
		assert.Equal(t, filepath.Join(dir, ".strata", "db"), cfg.Storage.Path)

		opts := cfg.FederationOptions()
		assert.Equal(t, federation.PriorityOrder, opts.ConflictResolution)
		assert.Equal(t, []string{"core", "web"}, opts.RepositoryPriority)
		// Unset keys keep their defaults.
		assert.True(t, opts.EnableCrossRepositoryLinking)

		assert.Equal(t, 3, cfg.Query.MaxDepth)
		assert.Equal(t, []graph.NodeKind{graph.NodeNamespace}, cfg.OrphanOptions().EntryPointKinds)
		assert.True(t, cfg.OrphanOptions().ExemptPublic)
		assert.Equal(t, logging.FormatJSON, cfg.Logging.Format)
	})

	t.Run("TOML", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeFile(t, dir, "strata.toml", `
[storage]
path = "/var/lib/strata"

[federation]
conflictResolution = "KeepBoth"
enableCrossRepositoryLinking = false
crossRepositoryConfidenceMultiplier = 0.5

[query]
hubMultiplier = 2.5
topPercentile = 0.01
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "/var/lib/strata", cfg.Storage.Path)
		assert.Equal(t, federation.KeepBoth, cfg.Federation.ConflictResolution)
		assert.False(t, cfg.Federation.EnableCrossRepositoryLinking)
		assert.InDelta(t, 0.5, cfg.Federation.CrossRepositoryConfidenceMultiplier, 1e-9)
		assert.InDelta(t, 2.5, cfg.CentralityOptions().HubMultiplier, 1e-9)
		assert.InDelta(t, 0.01, cfg.CentralityOptions().TopPercentile, 1e-9)
		assert.Equal(t, filepath.Join(dir, "facts"), cfg.Bundles.Dir)
	})

	t.Run("EmptyYAML", func(t *testing.T) {
		t.Parallel()
		cfg, err := Load(writeFile(t, t.TempDir(), "strata.yaml", ""))
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Query.MaxDepth)
	})

	t.Run("UnknownKeys", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		_, err := Load(writeFile(t, dir, "strata.yaml", "query:\n  depth: 3\n"))
		assert.Error(t, err)

		_, err = Load(writeFile(t, dir, "strata.toml", "[query]\ndepth = 3\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query.depth")
	})

	t.Run("InvalidValues", func(t *testing.T) {
		t.Parallel()
		_, err := Load(writeFile(t, t.TempDir(), "strata.yaml", `
federation:
  crossRepositoryConfidenceMultiplier: 2
query:
  maxDepth: -1
  topPercentile: 5
logging:
  format: xml
`))
		require.Error(t, err)
		for _, want := range []string{"crossRepositoryConfidenceMultiplier", "maxDepth", "topPercentile", "xml"} {
			assert.Contains(t, err.Error(), want)
		}
	})

	t.Run("UnknownPolicy", func(t *testing.T) {
		t.Parallel()
		_, err := Load(writeFile(t, t.TempDir(), "strata.yaml", "federation:\n  conflictResolution: coin-flip\n"))
		assert.Error(t, err)
	})

	t.Run("UnsupportedExtension", func(t *testing.T) {
		t.Parallel()
		_, err := Load(writeFile(t, t.TempDir(), "strata.ini", ""))
		assert.Error(t, err)
	})

	t.Run("Missing", func(t *testing.T) {
		t.Parallel()
		_, err := Load(filepath.Join(t.TempDir(), "strata.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()

	t.Run("FindsFile", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, "strata.toml", "[query]\nmaxDepth = 9\n")
		assert.Equal(t, filepath.Join(dir, "strata.toml"), Find(dir))

		cfg, err := LoadOrDefault("", dir)
		require.NoError(t, err)
		assert.Equal(t, 9, cfg.Query.MaxDepth)
	})

	t.Run("YAMLPreferred", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeFile(t, dir, "strata.toml", "")
		writeFile(t, dir, "strata.yaml", "")
		assert.Equal(t, filepath.Join(dir, "strata.yaml"), Find(dir))
	})

	t.Run("Defaults", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		assert.Empty(t, Find(dir))

		cfg, err := LoadOrDefault("", dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "facts"), cfg.Bundles.Dir)
		assert.Equal(t, filepath.Join(dir, ".strata", "db"), cfg.Storage.Path)
	})
}

package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/strata/internal/facts"
)

var scannedAt = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// appBundle has a controller calling a repository that calls it back.
func appBundle() *facts.Bundle {
	return &facts.Bundle{
		Scan: facts.ScanMetadata{Repository: "app", Branch: "main", ScannedAt: scannedAt},
		CodeAtoms: []facts.CodeAtom{
			{ID: "code:Shop.Web.OrderController", Name: "OrderController", Kind: facts.CodeClass, Namespace: "Shop.Web"},
			{ID: "code:Shop.Data.OrderRepository", Name: "OrderRepository", Kind: facts.CodeClass, Namespace: "Shop.Data"},
			{ID: "code:Shop.Domain.Order", Name: "Order", Kind: facts.CodeEntity, Namespace: "Shop.Domain"},
		},
		Links: []facts.Link{
			{SourceID: "code:Shop.Web.OrderController", TargetID: "code:Shop.Data.OrderRepository", Kind: facts.LinkCalls},
			{SourceID: "code:Shop.Data.OrderRepository", TargetID: "code:Shop.Web.OrderController", Kind: facts.LinkCalls},
		},
	}
}

func dbBundle() *facts.Bundle {
	return &facts.Bundle{
		Scan: facts.ScanMetadata{Repository: "db", ScannedAt: scannedAt},
		SchemaAtoms: []facts.SchemaAtom{
			{ID: "schema:dbo.Orders", Name: "Orders", Kind: facts.SchemaTable, Schema: "dbo"},
		},
	}
}

// writeBundle encodes b into dir/relPath in the format of its extension.
func writeBundle(t *testing.T, dir, relPath string, b *facts.Bundle) string {
	t.Helper()
	path := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	format, ok := facts.FormatForPath(path)
	require.True(t, ok, relPath)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, facts.EncodeBundle(f, b, format))
	return path
}

func writeFile(t *testing.T, dir, relPath, content string) {
	t.Helper()
	path := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func relPaths(files []BundleFile) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.RelPath
	}
	return paths
}

func TestWalkBundles(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	writeBundle(t, tmpDir, "app.yaml", appBundle())
	writeBundle(t, tmpDir, "nested/db.json", dbBundle())
	writeFile(t, tmpDir, "README.md", "# bundles")
	writeFile(t, tmpDir, "drafts/wip.yaml", "scan: {}")
	writeFile(t, tmpDir, "old.tmp.yml", "scan: {}")
	writeFile(t, tmpDir, ".strata/db/MANIFEST.json", "{}")
	writeFile(t, tmpDir, ".gitignore", "# scratch\ndrafts/\n")

	t.Run("RespectsIgnoreRules", func(t *testing.T) {
		t.Parallel()
		files, err := WalkBundles(tmpDir, []string{"*.tmp.yml"})
		require.NoError(t, err)
		assert.Equal(t, []string{"app.yaml", filepath.Join("nested", "db.json")}, relPaths(files))
	})

	t.Run("WithoutExtraPatterns", func(t *testing.T) {
		t.Parallel()
		files, err := WalkBundles(tmpDir, nil)
		require.NoError(t, err)
		assert.Contains(t, relPaths(files), "old.tmp.yml")
		assert.NotContains(t, relPaths(files), filepath.Join("drafts", "wip.yaml"))
	})

	t.Run("DetectsFormat", func(t *testing.T) {
		t.Parallel()
		files, err := WalkBundles(tmpDir, nil)
		require.NoError(t, err)
		for _, f := range files {
			want := facts.FormatYAML
			if filepath.Ext(f.RelPath) == ".json" {
				want = facts.FormatJSON
			}
			assert.Equal(t, want, f.Format, f.RelPath)
			assert.Equal(t, filepath.Join(tmpDir, f.RelPath), f.Path)
		}
	})

	t.Run("MissingDir", func(t *testing.T) {
		t.Parallel()
		_, err := WalkBundles(filepath.Join(tmpDir, "missing"), nil)
		assert.Error(t, err)
	})
}

func TestBundleFile_HashConsistency(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	path := writeBundle(t, tmpDir, "db.yaml", dbBundle())
	content, err := os.ReadFile(path)
	require.NoError(t, err)

	files, err := WalkBundles(tmpDir, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)

	expectedHash := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(expectedHash[:]), files[0].SHA256)
}

func TestLoadBundles(t *testing.T) {
	t.Parallel()

	t.Run("KeepsFileOrder", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		writeBundle(t, tmpDir, "a.yaml", dbBundle())
		writeBundle(t, tmpDir, "b.json", appBundle())

		files, err := WalkBundles(tmpDir, nil)
		require.NoError(t, err)
		bundles, err := LoadBundles(t.Context(), files)
		require.NoError(t, err)
		require.Len(t, bundles, 2)
		assert.Equal(t, "db", bundles[0].Scan.Repository)
		assert.Equal(t, "app", bundles[1].Scan.Repository)
		assert.Len(t, bundles[1].CodeAtoms, 3)
	})

	t.Run("InvalidBundle", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		writeBundle(t, tmpDir, "a.yaml", dbBundle())
		writeFile(t, tmpDir, "broken.yaml", "scan:\n  repository: x\nunknownKey: 1\n")

		files, err := WalkBundles(tmpDir, nil)
		require.NoError(t, err)
		_, err = LoadBundles(t.Context(), files)
		assert.ErrorIs(t, err, facts.ErrInvalidBundle)
	})
}

func TestLoadGitignore(t *testing.T) {
	t.Parallel()

	t.Run("NoGitignore", func(t *testing.T) {
		t.Parallel()
		patterns, err := loadGitignore(t.TempDir())
		assert.NoError(t, err)
		assert.Empty(t, patterns)
	})

	t.Run("SkipsCommentsAndBlankLines", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		writeFile(t, tmpDir, ".gitignore", "# comment\n\n*.bak\nscratch/\n")

		patterns, err := loadGitignore(tmpDir)
		assert.NoError(t, err)
		assert.Len(t, patterns, 2)
	})
}

func TestShouldWatchFile(t *testing.T) {
	t.Parallel()

	matcher, err := newIgnoreMatcher(t.TempDir(), []string{"*.draft.yaml"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		relPath  string
		expected bool
	}{
		{"YAML", "app.yaml", true},
		{"YML", "nested/db.yml", true},
		{"JSON", "web.json", true},
		{"Markdown", "README.md", false},
		{"EditorBackup", "app.yaml~", false},
		{"Ignored", "app.draft.yaml", false},
		{"StorageDir", ".strata/db/000001.json", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, shouldWatchFile(filepath.FromSlash(tt.relPath), matcher))
		})
	}
}

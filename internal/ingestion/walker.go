// Package ingestion turns a directory of fact bundles into the current
// knowledge graph: walk, load, merge, persist, build, evaluate and capture.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/strata/internal/facts"
)

// BundleFile is a fact bundle found on disk.
type BundleFile struct {
	// Path is the absolute file path.
	Path string

	// RelPath is the path relative to the bundle directory.
	RelPath string

	// Format is derived from the extension.
	Format facts.Format

	// SHA256 is the hash of the file content.
	SHA256 string
}

// Default patterns to ignore (in addition to .gitignore).
var defaultIgnorePatterns = []string{
	".git/",
	".strata/",
	"node_modules/",
	".DS_Store",
	"*~",
	"*.swp",
	".#*",
}

// WalkBundles walks dir and returns every bundle file not excluded by the
// default patterns, dir/.gitignore or the extra gitignore-style patterns.
// Files are returned in lexical order of their relative path.
func WalkBundles(dir string, extra []string) ([]BundleFile, error) {
	matcher, err := newIgnoreMatcher(dir, extra)
	if err != nil {
		return nil, err
	}

	var files []BundleFile
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}

		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if d.Name() == ".git" || matcher.Match(splitPath(relPath), true) {
				return filepath.SkipDir
			}
			return nil
		}

		format, ok := facts.FormatForPath(d.Name())
		if !ok || matcher.Match(splitPath(relPath), false) {
			return nil
		}

		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		files = append(files, BundleFile{
			Path:    path,
			RelPath: relPath,
			Format:  format,
			SHA256:  sum,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	return files, nil
}

// LoadBundles decodes files concurrently. The result keeps the order of
// files; the first decoding error cancels the rest.
func LoadBundles(ctx context.Context, files []BundleFile) ([]*facts.Bundle, error) {
	bundles := make([]*facts.Bundle, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := facts.LoadBundleFile(f.Path)
			if err != nil {
				return err
			}
			bundles[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bundles, nil
}

// newIgnoreMatcher combines the default patterns, dir/.gitignore and extra.
func newIgnoreMatcher(dir string, extra []string) (gitignore.Matcher, error) {
	patterns := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(extra))
	for _, p := range defaultIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}

	fromFile, err := loadGitignore(dir)
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, fromFile...)
	patterns = append(patterns, parsePatterns(extra)...)

	return gitignore.NewMatcher(patterns), nil
}

// loadGitignore loads .gitignore patterns from the directory root.
func loadGitignore(dir string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading .gitignore: %w", err)
	}
	return parsePatterns(strings.Split(string(content), "\n")), nil
}

// parsePatterns skips blank lines and comments.
func parsePatterns(lines []string) []gitignore.Pattern {
	var patterns []gitignore.Pattern
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns
}

func hashFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:]), nil
}

// splitPath splits a path into its components.
func splitPath(path string) []string {
	return strings.Split(path, string(filepath.Separator))
}

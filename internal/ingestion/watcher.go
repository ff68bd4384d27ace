package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/strata/internal/facts"
	"github.com/Benny93/strata/internal/federation"
)

// DefaultDebounce is the quiet period after the last file event before a
// rebuild starts.
const DefaultDebounce = 500 * time.Millisecond

// RebuildFunc receives the outcome of every rebuild in watch mode. A
// failed rebuild leaves the previous graph installed.
type RebuildFunc func(result *Result, err error)

// watchedFile is the last loaded state of one bundle file.
type watchedFile struct {
	sha    string
	bundle *facts.Bundle
}

// watchState tracks the bundles behind the current fact set so that a
// changed file can be applied as a delta.
type watchState struct {
	p       *Pipeline
	files   map[string]watchedFile
	factSet *federation.FactSet
}

func newWatchState(p *Pipeline, initial *Result) *watchState {
	s := &watchState{p: p}
	s.reset(initial)
	return s
}

func (s *watchState) reset(r *Result) {
	s.files = make(map[string]watchedFile, len(r.Files))
	for i, f := range r.Files {
		s.files[f.RelPath] = watchedFile{sha: f.SHA256, bundle: r.Bundles[i]}
	}
	s.factSet = r.FactSet
}

// owners counts the bundle files per repository.
func (s *watchState) owners() map[string]int {
	counts := make(map[string]int, len(s.files))
	for _, f := range s.files {
		counts[f.bundle.Scan.Repository]++
	}
	return counts
}

// apply folds the changed files into the current fact set. Modified and
// added bundles of repositories owned by a single file become deltas;
// deletions, renamed repositories and shared repositories trigger a full
// run. It returns nil when nothing changed.
func (s *watchState) apply(ctx context.Context, changed []string) (*Result, error) {
	slices.Sort(changed)
	logger := s.p.logger()

	type update struct {
		relPath string
		file    watchedFile
		delta   federation.Delta
	}
	var updates []update
	full := false
	owners := s.owners()

	for _, relPath := range changed {
		path := filepath.Join(s.p.BundleDir, relPath)
		old, known := s.files[relPath]

		sum, err := hashFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			if known {
				logger.Info("bundle removed", slog.String("file", relPath))
				full = true
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if known && old.sha == sum {
			continue
		}

		bundle, err := facts.LoadBundleFile(path)
		if err != nil {
			// Keep the previous facts until the file is valid again.
			logger.Warn("skipping invalid bundle", slog.String("file", relPath), slog.Any("error", err))
			continue
		}

		repo := bundle.Scan.Repository
		switch {
		case known && old.bundle.Scan.Repository != repo:
			full = true
		case known && owners[repo] > 1:
			full = true
		case !known && owners[repo] > 0:
			full = true
		}

		var previous *facts.Bundle
		if known {
			previous = old.bundle
		} else {
			owners[repo]++
		}
		updates = append(updates, update{
			relPath: relPath,
			file:    watchedFile{sha: sum, bundle: bundle},
			delta:   federation.DeltaBetween(previous, bundle),
		})
		logger.Info("bundle changed", slog.String("file", relPath), slog.String("repository", repo))
	}

	if full {
		result, err := s.p.Run(ctx)
		if err != nil {
			return nil, err
		}
		s.reset(result)
		return result, nil
	}
	if len(updates) == 0 {
		return nil, nil
	}

	merged := s.factSet
	for _, u := range updates {
		next, err := federation.ApplyDelta(ctx, merged, u.delta, s.p.federationOptions())
		if err != nil {
			return nil, fmt.Errorf("applying %s: %w", u.relPath, err)
		}
		merged = next
	}

	result, err := s.p.Analyze(ctx, merged)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		s.files[u.relPath] = u.file
	}
	s.factSet = merged
	return result, nil
}

// Watch runs the pipeline once, then monitors the bundle directory and
// rebuilds after every burst of changes. Blocks until ctx is cancelled.
// The initial run must succeed; later failures are reported to onRebuild.
func (p *Pipeline) Watch(ctx context.Context, debounce time.Duration, onRebuild RebuildFunc) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := p.logger()

	initial, err := p.Run(ctx)
	if err != nil {
		return err
	}
	if onRebuild != nil {
		onRebuild(initial, nil)
	}
	state := newWatchState(p, initial)

	matcher, err := newIgnoreMatcher(p.BundleDir, p.Ignore)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchDirs(watcher, p.BundleDir, p.BundleDir, matcher); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	changed := make(map[string]struct{})
	batchTimer := time.NewTimer(debounce)
	batchTimer.Stop()

	logger.Info("watching bundles", slog.String("dir", p.BundleDir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			relPath, err := filepath.Rel(p.BundleDir, event.Name)
			if err != nil {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !matcher.Match(splitPath(relPath), true) {
						if err := addWatchDirs(watcher, p.BundleDir, event.Name, matcher); err != nil {
							logger.Warn("watching new directory failed", slog.String("dir", relPath), slog.Any("error", err))
						}
					}
					continue
				}
			}
			if !shouldWatchFile(relPath, matcher) {
				continue
			}

			changed[relPath] = struct{}{}
			batchTimer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", slog.Any("error", err))

		case <-batchTimer.C:
			if len(changed) == 0 {
				continue
			}
			paths := make([]string, 0, len(changed))
			for relPath := range changed {
				paths = append(paths, relPath)
			}
			changed = make(map[string]struct{})

			result, err := state.apply(ctx, paths)
			if err != nil {
				logger.Error("rebuild failed", slog.Any("error", err))
			}
			if onRebuild != nil && (result != nil || err != nil) {
				onRebuild(result, err)
			}
		}
	}
}

// addWatchDirs adds root and every non-ignored directory below it. Ignore
// patterns are matched relative to dir.
func addWatchDirs(watcher *fsnotify.Watcher, dir, root string, matcher gitignore.Matcher) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir {
			relPath, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			if d.Name() == ".git" || matcher.Match(splitPath(relPath), true) {
				return filepath.SkipDir
			}
		}
		return watcher.Add(path)
	})
}

// shouldWatchFile reports whether relPath is a bundle file that is not
// ignored.
func shouldWatchFile(relPath string, matcher gitignore.Matcher) bool {
	if _, ok := facts.FormatForPath(relPath); !ok {
		return false
	}
	return matcher == nil || !matcher.Match(splitPath(relPath), false)
}

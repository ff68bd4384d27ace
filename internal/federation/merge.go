package federation

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/strata/internal/facts"
)

var tracer = otel.Tracer("strata.federation")

// entry is an atom held by the merge state. rank is the merge position of
// its repository; lower ranks were seen first.
type entry struct {
	atom facts.Atom
	prov Provenance
	rank int
}

type linkEntry struct {
	link FederatedLink
	rank int
}

// preparedBundle is a validated bundle ready for the single-writer phase.
type preparedBundle struct {
	scan  facts.ScanMetadata
	atoms []facts.Atom
	links []facts.Link
}

// state is the single-writer merge state shared by Merge and ApplyDelta.
type state struct {
	opts   Options
	logger *slog.Logger

	repos []facts.ScanMetadata
	ranks map[string]int

	// sources holds every fact each repository supplied, indexed by rank.
	sources []*Contribution

	atoms     map[string]*entry
	links     map[facts.LinkKey]*linkEntry
	cross     []FederatedLink
	conflicts []Conflict

	// touched marks repositories whose atom set changed; their
	// cross-repository links are recomputed.
	touched map[string]bool
}

func newState(opts Options) *state {
	return &state{
		opts:    opts,
		logger:  opts.Logger,
		ranks:   make(map[string]int),
		atoms:   make(map[string]*entry),
		links:   make(map[facts.LinkKey]*linkEntry),
		touched: make(map[string]bool),
	}
}

// Merge combines bundles into one FactSet. Bundles are validated
// concurrently; the combination runs in input order, so the first bundle
// of a repository fixes that repository's rank.
func Merge(ctx context.Context, bundles []*facts.Bundle, opts Options) (*FactSet, error) {
	opts = opts.withDefaults()
	ctx, span := tracer.Start(ctx, "federation.Merge",
		trace.WithAttributes(
			attribute.Int("federation.bundles", len(bundles)),
			attribute.String("federation.policy", string(opts.ConflictResolution)),
		))
	defer span.End()

	prepared, err := prepare(ctx, bundles)
	if err != nil {
		return nil, err
	}

	s := newState(opts)
	for _, p := range prepared {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.addBundle(p)
	}

	fs, err := s.finish(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("federation.atoms", len(fs.Atoms)),
		attribute.Int("federation.links", len(fs.Links)),
		attribute.Int("federation.conflicts", len(fs.Conflicts)),
	)
	return fs, nil
}

// prepare validates and flattens every bundle in parallel.
func prepare(ctx context.Context, bundles []*facts.Bundle) ([]preparedBundle, error) {
	prepared := make([]preparedBundle, len(bundles))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range bundles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if b == nil {
				return fmt.Errorf("bundle %d: %w: nil bundle", i, facts.ErrInvalidBundle)
			}
			if err := b.Validate(); err != nil {
				return fmt.Errorf("bundle %d: %w", i, err)
			}
			links := make([]facts.Link, len(b.Links))
			for j, l := range b.Links {
				links[j] = l.Normalize()
			}
			prepared[i] = preparedBundle{scan: b.Scan, atoms: b.Atoms(), links: links}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return prepared, nil
}

// addRepository registers a scan and returns its repository's rank.
// A later scan of a known repository keeps the rank and, when newer,
// replaces the stored metadata.
func (s *state) addRepository(scan facts.ScanMetadata) int {
	if rank, ok := s.ranks[scan.Repository]; ok {
		if scan.ScannedAt.After(s.repos[rank].ScannedAt) {
			s.repos[rank] = scan
		}
		return rank
	}
	rank := len(s.repos)
	s.ranks[scan.Repository] = rank
	s.repos = append(s.repos, scan)
	s.sources = append(s.sources, &Contribution{Repository: scan.Repository})
	return rank
}

func (s *state) addBundle(p preparedBundle) {
	rank := s.addRepository(p.scan)
	prov := provenanceOf(p.scan)
	src := s.sources[rank]
	for _, a := range p.atoms {
		src.Atoms = append(src.Atoms, FederatedAtom{Atom: a, Provenance: prov})
		s.addAtom(&entry{atom: a, prov: prov, rank: rank})
	}
	src.Links = append(src.Links, p.links...)
	for _, l := range p.links {
		s.addLink(l, p.scan.Repository, rank)
	}
}

func (s *state) addLink(l facts.Link, repo string, rank int) {
	key := l.Key()
	if cur, ok := s.links[key]; ok && cur.rank <= rank {
		return
	}
	s.links[key] = &linkEntry{link: FederatedLink{Link: l, Repository: repo}, rank: rank}
}

// addAtom places an atom, resolving a clash with whatever already holds
// its id. The clash is always settled as if the lower-ranked repository
// had been merged first, so the outcome does not depend on arrival order.
func (s *state) addAtom(in *entry) {
	id := in.atom.AtomID()
	cur, ok := s.atoms[id]
	if !ok {
		s.atoms[id] = in
		s.touched[in.prov.Repository] = true
		return
	}

	first, second := cur, in
	if in.rank < cur.rank {
		first, second = in, cur
	}
	differs := first.atom.Identity() != second.atom.Identity()

	var winner *entry
	resolution := ResolutionKept
	switch {
	case first.prov.Repository == second.prov.Repository:
		// A repository never conflicts its way past itself.
		winner = first
	case s.opts.ConflictResolution == NewestWins && second.prov.ScannedAt.After(first.prov.ScannedAt):
		winner, resolution = second, ResolutionReplaced
	case s.opts.ConflictResolution == PriorityOrder &&
		s.opts.priorityRank(second.prov.Repository) < s.opts.priorityRank(first.prov.Repository):
		winner, resolution = second, ResolutionReplaced
	case s.opts.ConflictResolution == KeepBoth && differs:
		winner, resolution = first, ResolutionKeptBoth
		renamed := &entry{
			atom: facts.WithID(second.atom, keepBothID(id, second.prov.Repository)),
			prov: second.prov,
			rank: second.rank,
		}
		renamed.prov.OriginalID = id
		s.atoms[renamed.atom.AtomID()] = renamed
	case s.opts.ConflictResolution == Fail && differs:
		winner, resolution = first, ResolutionUnresolved
	default:
		winner = first
	}

	s.atoms[id] = winner
	s.touched[first.prov.Repository] = true
	s.touched[second.prov.Repository] = true

	if differs {
		c := Conflict{ID: id, Kept: sideOf(first), Incoming: sideOf(second), Resolution: resolution}
		s.conflicts = append(s.conflicts, c)
		s.logger.Warn("atom conflict",
			slog.String("id", id),
			slog.String("kept", c.Kept.Repository),
			slog.String("incoming", c.Incoming.Repository),
			slog.String("resolution", string(resolution)),
		)
	}
}

// keepBothID is the id a KeepBoth variant is stored under.
func keepBothID(id, repo string) string {
	return id + "@" + repo
}

// finish links repositories and assembles the sorted FactSet.
func (s *state) finish(ctx context.Context) (*FactSet, error) {
	slices.SortStableFunc(s.conflicts, compareConflicts)
	if s.opts.ConflictResolution == Fail {
		var unresolved []Conflict
		for _, c := range s.conflicts {
			if c.Resolution == ResolutionUnresolved {
				unresolved = append(unresolved, c)
			}
		}
		if len(unresolved) > 0 {
			return nil, &ConflictError{Conflicts: unresolved}
		}
	}

	if err := s.linkRepositories(ctx); err != nil {
		return nil, err
	}

	fs := &FactSet{
		Atoms:        make([]FederatedAtom, 0, len(s.atoms)),
		Links:        make([]FederatedLink, 0, len(s.links)+len(s.cross)),
		Conflicts:    slices.Clone(s.conflicts),
		Repositories: slices.Clone(s.repos),
		Sources:      make([]Contribution, len(s.sources)),
		MergedAt:     time.Now().UTC(),
	}
	for i, src := range s.sources {
		fs.Sources[i] = *src.clone()
	}
	for _, e := range s.atoms {
		fs.Atoms = append(fs.Atoms, FederatedAtom{Atom: e.atom, Provenance: e.prov})
	}
	slices.SortFunc(fs.Atoms, func(a, b FederatedAtom) int {
		return cmp.Compare(a.Atom.AtomID(), b.Atom.AtomID())
	})
	for _, l := range s.links {
		fs.Links = append(fs.Links, l.link)
	}
	fs.Links = append(fs.Links, s.cross...)
	slices.SortFunc(fs.Links, func(a, b FederatedLink) int {
		return compareLinkKeys(a.Key(), b.Key())
	})
	return fs, nil
}

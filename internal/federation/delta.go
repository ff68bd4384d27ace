package federation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Benny93/strata/internal/facts"
)

// Delta is an incremental update from one repository. Removals are applied
// before additions. Bundle.Scan names the repository and becomes its scan
// metadata; an added atom whose id the repository already owns replaces it.
type Delta struct {
	Bundle       facts.Bundle
	RemovedAtoms []string
	RemovedLinks []facts.LinkKey
}

// Empty reports whether the delta changes nothing but scan metadata.
func (d Delta) Empty() bool {
	return len(d.RemovedAtoms) == 0 && len(d.RemovedLinks) == 0 &&
		len(d.Bundle.CodeAtoms) == 0 && len(d.Bundle.SchemaAtoms) == 0 && len(d.Bundle.Links) == 0
}

// DeltaBetween computes the delta that turns a repository's previous
// bundle into its next one. previous may be nil for a new repository.
func DeltaBetween(previous, next *facts.Bundle) Delta {
	d := Delta{Bundle: facts.Bundle{Scan: next.Scan}}
	if previous == nil {
		d.Bundle.CodeAtoms = slices.Clone(next.CodeAtoms)
		d.Bundle.SchemaAtoms = slices.Clone(next.SchemaAtoms)
		d.Bundle.Links = slices.Clone(next.Links)
		return d
	}

	oldCode := make(map[string]facts.CodeAtom, len(previous.CodeAtoms))
	for _, a := range previous.CodeAtoms {
		oldCode[a.ID] = a
	}
	oldSchema := make(map[string]facts.SchemaAtom, len(previous.SchemaAtoms))
	for _, a := range previous.SchemaAtoms {
		oldSchema[a.ID] = a
	}
	kept := make(map[string]struct{}, len(next.CodeAtoms)+len(next.SchemaAtoms))
	for _, a := range next.CodeAtoms {
		kept[a.ID] = struct{}{}
		if old, ok := oldCode[a.ID]; !ok || old != a {
			d.Bundle.CodeAtoms = append(d.Bundle.CodeAtoms, a)
		}
	}
	for _, a := range next.SchemaAtoms {
		kept[a.ID] = struct{}{}
		if old, ok := oldSchema[a.ID]; !ok || old != a {
			d.Bundle.SchemaAtoms = append(d.Bundle.SchemaAtoms, a)
		}
	}
	for _, a := range previous.Atoms() {
		if _, ok := kept[a.AtomID()]; !ok {
			d.RemovedAtoms = append(d.RemovedAtoms, a.AtomID())
		}
	}

	oldLinks := make(map[facts.LinkKey]facts.Link, len(previous.Links))
	for _, l := range previous.Links {
		oldLinks[l.Key()] = l.Normalize()
	}
	nextKeys := make(map[facts.LinkKey]struct{}, len(next.Links))
	for _, l := range next.Links {
		nextKeys[l.Key()] = struct{}{}
		if old, ok := oldLinks[l.Key()]; ok && old == l.Normalize() {
			continue
		}
		if _, ok := oldLinks[l.Key()]; ok {
			d.RemovedLinks = append(d.RemovedLinks, l.Key())
		}
		d.Bundle.Links = append(d.Bundle.Links, l)
	}
	for _, l := range previous.Links {
		if _, ok := nextKeys[l.Key()]; !ok {
			d.RemovedLinks = append(d.RemovedLinks, l.Key())
		}
	}
	return d
}

// ApplyDelta patches fs with one repository's delta without re-merging
// the other repositories. The delta is applied to the repository's
// contribution in fs.Sources, then every atom id and link key that
// contribution touches is settled again from all contributions, so the
// result matches merging the same net facts from scratch. Only pairs of
// repositories whose atoms moved are matched again. fs itself is not
// modified.
func ApplyDelta(ctx context.Context, fs *FactSet, delta Delta, opts Options) (*FactSet, error) {
	opts = opts.withDefaults()
	repo := delta.Bundle.Scan.Repository
	ctx, span := tracer.Start(ctx, "federation.ApplyDelta",
		trace.WithAttributes(
			attribute.String("federation.repository", repo),
			attribute.Int("federation.removed_atoms", len(delta.RemovedAtoms)),
			attribute.Int("federation.added_atoms", len(delta.Bundle.CodeAtoms)+len(delta.Bundle.SchemaAtoms)),
		))
	defer span.End()

	prepared, err := prepare(ctx, []*facts.Bundle{&delta.Bundle})
	if err != nil {
		return nil, fmt.Errorf("delta: %w", err)
	}

	s := seedState(fs, opts)
	rank := s.addRepository(delta.Bundle.Scan)
	s.repos[rank] = delta.Bundle.Scan
	s.touched[repo] = true

	ids, keys := s.patchSource(rank, delta, prepared[0])
	s.resettle(ids, keys)

	out, err := s.finish(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("federation.resettled_atoms", len(ids)),
		attribute.Int("federation.conflicts", len(out.Conflicts)),
	)
	return out, nil
}

// seedState loads an existing FactSet into a fresh merge state. Nothing
// is marked touched. A set without Sources, as written before
// contributions were recorded, falls back to its kept facts.
func seedState(fs *FactSet, opts Options) *state {
	s := newState(opts)
	for _, scan := range fs.Repositories {
		s.addRepository(scan)
	}
	rankOf := func(repo string, at time.Time) int {
		if rank, ok := s.ranks[repo]; ok {
			return rank
		}
		return s.addRepository(facts.ScanMetadata{Repository: repo, ScannedAt: at})
	}

	for _, a := range fs.Atoms {
		rank := rankOf(a.Provenance.Repository, a.Provenance.ScannedAt)
		s.atoms[a.Atom.AtomID()] = &entry{atom: a.Atom, prov: a.Provenance, rank: rank}
	}
	for _, l := range fs.Links {
		if l.CrossRepository {
			s.cross = append(s.cross, l)
			continue
		}
		s.links[l.Key()] = &linkEntry{link: l, rank: s.ranks[l.Repository]}
	}
	s.conflicts = slices.Clone(fs.Conflicts)

	if len(fs.Sources) > 0 {
		for _, src := range fs.Sources {
			rank := rankOf(src.Repository, time.Time{})
			s.sources[rank] = src.clone()
		}
		return s
	}
	for _, a := range fs.Atoms {
		kept := FederatedAtom{Atom: a.Atom, Provenance: a.Provenance}
		if original := a.Provenance.OriginalID; original != "" {
			kept.Atom = facts.WithID(a.Atom, original)
			kept.Provenance.OriginalID = ""
		}
		src := s.sources[s.ranks[a.Provenance.Repository]]
		src.Atoms = append(src.Atoms, kept)
	}
	for _, l := range fs.Links {
		if l.CrossRepository {
			continue
		}
		src := s.sources[rankOf(l.Repository, time.Time{})]
		src.Links = append(src.Links, l.Link)
	}
	return s
}

// patchSource applies delta to the contribution at rank and returns the
// atom ids and link keys that must be settled again. The repository's
// scan may have moved, so every id it held or now holds is included.
func (s *state) patchSource(rank int, delta Delta, p preparedBundle) (map[string]struct{}, map[facts.LinkKey]struct{}) {
	src := s.sources[rank]
	prov := provenanceOf(p.scan)

	ids := make(map[string]struct{}, len(src.Atoms)+len(p.atoms))
	for _, a := range src.Atoms {
		ids[a.Atom.AtomID()] = struct{}{}
	}
	dropped := make(map[string]struct{}, len(delta.RemovedAtoms)+len(p.atoms))
	for _, id := range delta.RemovedAtoms {
		dropped[id] = struct{}{}
		ids[id] = struct{}{}
	}
	for _, a := range p.atoms {
		dropped[a.AtomID()] = struct{}{}
		ids[a.AtomID()] = struct{}{}
	}
	src.Atoms = slices.DeleteFunc(src.Atoms, func(a FederatedAtom) bool {
		_, ok := dropped[a.Atom.AtomID()]
		return ok
	})
	for i := range src.Atoms {
		src.Atoms[i].Provenance = prov
	}
	for _, a := range p.atoms {
		src.Atoms = append(src.Atoms, FederatedAtom{Atom: a, Provenance: prov})
	}

	keys := make(map[facts.LinkKey]struct{}, len(delta.RemovedLinks)+len(p.links))
	for _, key := range delta.RemovedLinks {
		keys[key] = struct{}{}
	}
	for _, l := range p.links {
		keys[l.Key()] = struct{}{}
	}
	src.Links = slices.DeleteFunc(src.Links, func(l facts.Link) bool {
		_, ok := keys[l.Key()]
		return ok
	})
	src.Links = append(src.Links, p.links...)
	return ids, keys
}

// resettle forgets the owner of every id and link key given, together
// with their KeepBoth variants and conflicts, then replays all
// contributions for them in rank order.
func (s *state) resettle(ids map[string]struct{}, keys map[facts.LinkKey]struct{}) {
	for id, e := range s.atoms {
		_, plain := ids[id]
		_, variant := ids[e.prov.OriginalID]
		if plain || (variant && e.prov.OriginalID != "") {
			s.touched[e.prov.Repository] = true
			delete(s.atoms, id)
		}
	}
	s.conflicts = slices.DeleteFunc(s.conflicts, func(c Conflict) bool {
		_, ok := ids[c.ID]
		return ok
	})
	for key := range keys {
		delete(s.links, key)
	}

	for rank, src := range s.sources {
		for _, a := range src.Atoms {
			if _, ok := ids[a.Atom.AtomID()]; ok {
				s.addAtom(&entry{atom: a.Atom, prov: a.Provenance, rank: rank})
			}
		}
		for _, l := range src.Links {
			if _, ok := keys[l.Key()]; ok {
				s.addLink(l, src.Repository, rank)
			}
		}
	}
}

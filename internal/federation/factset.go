// Package federation merges fact bundles from independently scanned
// repositories into one FactSet.
//
// Atom ids are shared across repositories. When the same id arrives from
// more than one repository, the configured Policy picks the atom that keeps
// it and every clash in (name, kind, namespace) is recorded as a Conflict.
// Only the Fail policy turns conflicts into an error.
package federation

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Benny93/strata/internal/facts"
)

// ErrConflict is matched by every *ConflictError.
var ErrConflict = errors.New("unresolved atom conflicts")

// ConflictError aborts a merge under the Fail policy. It carries every
// conflict found, not just the first.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ids = append(ids, c.ID)
	}
	return fmt.Sprintf("%d unresolved atom conflicts: %s", len(e.Conflicts), strings.Join(ids, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Provenance records where a federated atom came from.
type Provenance struct {
	Repository string    `json:"repository"`
	Branch     string    `json:"branch,omitempty"`
	Commit     string    `json:"commit,omitempty"`
	ScannedAt  time.Time `json:"scannedAt"`

	// OriginalID is set when KeepBoth stored the atom under a new id.
	OriginalID string `json:"originalId,omitempty"`
}

func provenanceOf(scan facts.ScanMetadata) Provenance {
	return Provenance{
		Repository: scan.Repository,
		Branch:     scan.Branch,
		Commit:     scan.Commit,
		ScannedAt:  scan.ScannedAt,
	}
}

// FederatedAtom is an atom plus its provenance.
type FederatedAtom struct {
	Atom       facts.Atom
	Provenance Provenance
}

type federatedAtomJSON struct {
	Code       *facts.CodeAtom   `json:"code,omitempty"`
	Schema     *facts.SchemaAtom `json:"schema,omitempty"`
	Provenance Provenance        `json:"provenance"`
}

// MarshalJSON stores the atom under a "code" or "schema" key.
func (a FederatedAtom) MarshalJSON() ([]byte, error) {
	out := federatedAtomJSON{Provenance: a.Provenance}
	_, err := facts.Visit(a.Atom,
		func(c facts.CodeAtom) struct{} { out.Code = &c; return struct{}{} },
		func(s facts.SchemaAtom) struct{} { out.Schema = &s; return struct{}{} },
	)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the atom variant written by MarshalJSON.
func (a *FederatedAtom) UnmarshalJSON(data []byte) error {
	var in federatedAtomJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.Code != nil && in.Schema == nil:
		a.Atom = *in.Code
	case in.Schema != nil && in.Code == nil:
		a.Atom = *in.Schema
	default:
		return fmt.Errorf("federated atom must hold exactly one of code or schema: %w", facts.ErrUnknownAtom)
	}
	a.Provenance = in.Provenance
	return nil
}

// FederatedLink is a link plus the repository it came from.
type FederatedLink struct {
	facts.Link

	// Repository is the repository of the link's source atom.
	Repository string `json:"repository"`

	// TargetRepository is set on cross-repository links only.
	TargetRepository string `json:"targetRepository,omitempty"`

	CrossRepository bool `json:"crossRepository,omitempty"`
}

// Resolution says how a conflict was settled.
type Resolution string

const (
	ResolutionKept       Resolution = "kept"
	ResolutionReplaced   Resolution = "replaced"
	ResolutionKeptBoth   Resolution = "kept_both"
	ResolutionUnresolved Resolution = "unresolved"
)

// ConflictSide is one contributor to a conflict.
type ConflictSide struct {
	Repository string    `json:"repository"`
	ScannedAt  time.Time `json:"scannedAt"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Namespace  string    `json:"namespace"`
}

func sideOf(e *entry) ConflictSide {
	id := e.atom.Identity()
	return ConflictSide{
		Repository: e.prov.Repository,
		ScannedAt:  e.prov.ScannedAt,
		Name:       id.Name,
		Kind:       id.Kind,
		Namespace:  id.Namespace,
	}
}

// Conflict is an id seen in two repositories with differing
// (name, kind, namespace). Kept is the side that was merged first,
// Incoming the side that arrived later.
type Conflict struct {
	ID         string       `json:"id"`
	Kept       ConflictSide `json:"kept"`
	Incoming   ConflictSide `json:"incoming"`
	Resolution Resolution   `json:"resolution"`
}

// Contribution is every fact one repository supplied to a merge,
// including atoms and links that lost to another repository's copy.
// Atoms carry the provenance of the bundle they arrived in.
type Contribution struct {
	Repository string          `json:"repository"`
	Atoms      []FederatedAtom `json:"atoms"`
	Links      []facts.Link    `json:"links"`
}

func (c *Contribution) clone() *Contribution {
	return &Contribution{
		Repository: c.Repository,
		Atoms:      slices.Clone(c.Atoms),
		Links:      slices.Clone(c.Links),
	}
}

// FactSet is the federated union of several repositories' facts.
// Atoms are sorted by id, links by (source, kind, target) and conflicts
// by id. Sources follows the order of Repositories.
type FactSet struct {
	Atoms        []FederatedAtom      `json:"atoms"`
	Links        []FederatedLink      `json:"links"`
	Conflicts    []Conflict           `json:"conflicts"`
	Repositories []facts.ScanMetadata `json:"repositories"`
	Sources      []Contribution       `json:"sources,omitempty"`
	MergedAt     time.Time            `json:"mergedAt"`
}

// Facts flattens the set for the graph builder.
func (fs *FactSet) Facts() ([]facts.Atom, []facts.Link) {
	atoms := make([]facts.Atom, len(fs.Atoms))
	for i, a := range fs.Atoms {
		atoms[i] = a.Atom
	}
	links := make([]facts.Link, len(fs.Links))
	for i, l := range fs.Links {
		links[i] = l.Link
	}
	return atoms, links
}

// Repository returns the scan metadata of repo.
func (fs *FactSet) Repository(repo string) (facts.ScanMetadata, bool) {
	i := slices.IndexFunc(fs.Repositories, func(s facts.ScanMetadata) bool { return s.Repository == repo })
	if i < 0 {
		return facts.ScanMetadata{}, false
	}
	return fs.Repositories[i], true
}

// CrossRepositoryLinks counts links synthesized across repositories.
func (fs *FactSet) CrossRepositoryLinks() int {
	n := 0
	for _, l := range fs.Links {
		if l.CrossRepository {
			n++
		}
	}
	return n
}

// Bundles regroups the kept facts per repository, in merge order.
// Cross-repository links are left out since Merge derives them again.
// Merging the result reproduces the same atoms and links without new
// conflicts.
func (fs *FactSet) Bundles() []*facts.Bundle {
	out := make([]*facts.Bundle, len(fs.Repositories))
	byRepo := make(map[string]*facts.Bundle, len(fs.Repositories))
	for i, scan := range fs.Repositories {
		out[i] = &facts.Bundle{Scan: scan}
		byRepo[scan.Repository] = out[i]
	}
	for _, a := range fs.Atoms {
		b, ok := byRepo[a.Provenance.Repository]
		if !ok {
			continue
		}
		switch v := a.Atom.(type) {
		case facts.CodeAtom:
			b.CodeAtoms = append(b.CodeAtoms, v)
		case facts.SchemaAtom:
			b.SchemaAtoms = append(b.SchemaAtoms, v)
		}
	}
	for _, l := range fs.Links {
		if l.CrossRepository {
			continue
		}
		if b, ok := byRepo[l.Repository]; ok {
			b.Links = append(b.Links, l.Link)
		}
	}
	return out
}

func compareConflicts(a, b Conflict) int {
	return cmp.Or(
		cmp.Compare(a.ID, b.ID),
		cmp.Compare(a.Kept.Repository, b.Kept.Repository),
		cmp.Compare(a.Incoming.Repository, b.Incoming.Repository),
	)
}

func compareLinkKeys(a, b facts.LinkKey) int {
	return cmp.Or(
		cmp.Compare(a.SourceID, b.SourceID),
		cmp.Compare(a.Kind, b.Kind),
		cmp.Compare(a.TargetID, b.TargetID),
	)
}

// Package diff compares two analysis snapshots.
//
// Topology diffs are plain set differences of node and edge ids. Structural
// diffs isolate regressions: violations and cycles are matched by canonical
// signature, so findings that already existed in the baseline are never
// reported again and discovery order does not matter.
package diff

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Benny93/strata/internal/graph"
	"github.com/Benny93/strata/internal/query"
	"github.com/Benny93/strata/internal/rules"
)

// CycleRecord is the persisted form of a cycle.
type CycleRecord struct {
	Nodes    []string       `json:"nodes"`
	Severity query.Severity `json:"severity"`
}

// Signature returns the canonical cycle signature.
func (c CycleRecord) Signature() string {
	return query.CycleSignature(c.Nodes)
}

// Snapshot is everything the diff engine needs from one analysed graph.
// It is plain data so it can be stored and compared later.
type Snapshot struct {
	CapturedAt time.Time         `json:"capturedAt"`
	Digest     string            `json:"digest"`
	NodeIDs    []string          `json:"nodeIds"`
	EdgeIDs    []string          `json:"edgeIds"`
	Violations []rules.Violation `json:"violations"`
	Cycles     []CycleRecord     `json:"cycles"`
}

// Capture records a graph's ids plus its rule violations and cycles.
func Capture(g *graph.KnowledgeGraph, violations []rules.Violation, cycles []query.Cycle) Snapshot {
	s := Snapshot{
		CapturedAt: time.Now().UTC(),
		Digest:     g.Digest(),
		NodeIDs:    make([]string, 0, g.NodeCount()),
		EdgeIDs:    make([]string, 0, g.EdgeCount()),
		Violations: slices.Clone(violations),
		Cycles:     make([]CycleRecord, 0, len(cycles)),
	}
	for _, n := range g.Nodes() {
		s.NodeIDs = append(s.NodeIDs, n.ID)
	}
	for _, e := range g.Edges() {
		s.EdgeIDs = append(s.EdgeIDs, e.ID)
	}
	for _, c := range cycles {
		s.Cycles = append(s.Cycles, CycleRecord{Nodes: c.NodeIDs(), Severity: c.Severity})
	}
	return s
}

// TopologyDiff lists ids present on only one side.
type TopologyDiff struct {
	AddedNodes   []string `json:"addedNodes"`
	RemovedNodes []string `json:"removedNodes"`
	AddedEdges   []string `json:"addedEdges"`
	RemovedEdges []string `json:"removedEdges"`
}

// Empty reports whether both sides have the same nodes and edges.
func (d TopologyDiff) Empty() bool {
	return len(d.AddedNodes) == 0 && len(d.RemovedNodes) == 0 &&
		len(d.AddedEdges) == 0 && len(d.RemovedEdges) == 0
}

// Topology compares node and edge id sets. Results are sorted.
func Topology(baseline, current Snapshot) TopologyDiff {
	added, removed := setDiff(baseline.NodeIDs, current.NodeIDs)
	addedEdges, removedEdges := setDiff(baseline.EdgeIDs, current.EdgeIDs)
	return TopologyDiff{
		AddedNodes:   added,
		RemovedNodes: removed,
		AddedEdges:   addedEdges,
		RemovedEdges: removedEdges,
	}
}

// StructuralDiff lists findings that appeared or disappeared.
type StructuralDiff struct {
	NewViolations      []rules.Violation `json:"newViolations"`
	ResolvedViolations []rules.Violation `json:"resolvedViolations"`
	NewCycles          []CycleRecord     `json:"newCycles"`
	ResolvedCycles     []CycleRecord     `json:"resolvedCycles"`
}

// Structural matches violations and cycles by signature. New findings
// keep the order they have in current; resolved ones the order in baseline.
func Structural(baseline, current Snapshot) StructuralDiff {
	return StructuralDiff{
		NewViolations:      missingBySignature(current.Violations, baseline.Violations, rules.Violation.Signature),
		ResolvedViolations: missingBySignature(baseline.Violations, current.Violations, rules.Violation.Signature),
		NewCycles:          missingBySignature(current.Cycles, baseline.Cycles, CycleRecord.Signature),
		ResolvedCycles:     missingBySignature(baseline.Cycles, current.Cycles, CycleRecord.Signature),
	}
}

// Report is a full comparison.
type Report struct {
	Topology   TopologyDiff   `json:"topology"`
	Structural StructuralDiff `json:"structural"`
}

// Compare runs both diffs.
func Compare(baseline, current Snapshot) Report {
	return Report{
		Topology:   Topology(baseline, current),
		Structural: Structural(baseline, current),
	}
}

// HasRegressions reports new violations or new cycles.
func (r Report) HasRegressions() bool {
	return len(r.Structural.NewViolations) > 0 || len(r.Structural.NewCycles) > 0
}

// Summary renders a one-line description of the report.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "nodes +%d/-%d, edges +%d/-%d",
		len(r.Topology.AddedNodes), len(r.Topology.RemovedNodes),
		len(r.Topology.AddedEdges), len(r.Topology.RemovedEdges))
	fmt.Fprintf(&b, ", violations +%d/-%d, cycles +%d/-%d",
		len(r.Structural.NewViolations), len(r.Structural.ResolvedViolations),
		len(r.Structural.NewCycles), len(r.Structural.ResolvedCycles))
	return b.String()
}

func setDiff(baseline, current []string) (added, removed []string) {
	base := make(map[string]struct{}, len(baseline))
	for _, id := range baseline {
		base[id] = struct{}{}
	}
	cur := make(map[string]struct{}, len(current))
	for _, id := range current {
		cur[id] = struct{}{}
		if _, ok := base[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range baseline {
		if _, ok := cur[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return slices.Compact(added), slices.Compact(removed)
}

// missingBySignature returns items of from whose signature is absent in other.
func missingBySignature[T any](from, other []T, sig func(T) string) []T {
	known := make(map[string]struct{}, len(other))
	for _, item := range other {
		known[sig(item)] = struct{}{}
	}
	var out []T
	emitted := make(map[string]struct{})
	for _, item := range from {
		s := sig(item)
		if _, ok := known[s]; ok {
			continue
		}
		if _, dup := emitted[s]; dup {
			continue
		}
		emitted[s] = struct{}{}
		out = append(out, item)
	}
	return out
}

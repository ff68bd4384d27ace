package graph

import "fmt"

// DiagnosticKind classifies a build diagnostic.
type DiagnosticKind string

const (
	// DiagDanglingLink means a link named an atom id that does not exist.
	DiagDanglingLink DiagnosticKind = "dangling_link"

	// DiagDuplicateAtom means an atom id was seen more than once.
	DiagDuplicateAtom DiagnosticKind = "duplicate_atom"
)

// Diagnostic is a fact the builder could not turn into graph structure.
// Diagnostics never fail a build.
type Diagnostic struct {
	Kind DiagnosticKind `json:"kind"`

	// FromID and ToID are the link endpoints for dangling links.
	FromID string `json:"from,omitempty"`
	ToID   string `json:"to,omitempty"`

	// EdgeKind is the kind of the dropped link.
	EdgeKind EdgeKind `json:"edgeKind,omitempty"`

	// AtomID is set for duplicate atoms.
	AtomID string `json:"atomId,omitempty"`

	// Err is ErrDanglingLink or ErrDuplicateAtom with context.
	Err error `json:"-"`
}

// Error implements the error interface.
func (d Diagnostic) Error() string {
	switch d.Kind {
	case DiagDanglingLink:
		return fmt.Sprintf("edge %s -[%s]-> %s: %v", d.FromID, d.EdgeKind, d.ToID, d.Err)
	case DiagDuplicateAtom:
		return fmt.Sprintf("atom %s: %v", d.AtomID, d.Err)
	default:
		return fmt.Sprintf("%s: %v", d.Kind, d.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As support.
func (d Diagnostic) Unwrap() error {
	return d.Err
}

// BuildStats contains statistics about a build operation.
type BuildStats struct {
	// AtomsProcessed is the number of atoms handed to the builder.
	AtomsProcessed int `json:"atomsProcessed"`

	// LinksProcessed is the number of links handed to the builder.
	LinksProcessed int `json:"linksProcessed"`

	// NodesCreated is the number of nodes in the graph.
	NodesCreated int `json:"nodesCreated"`

	// EdgesCreated is the number of edges in the graph.
	EdgesCreated int `json:"edgesCreated"`

	// LinksDropped is the number of links that became diagnostics.
	LinksDropped int `json:"linksDropped"`

	// DurationMicro is the total build time in microseconds.
	DurationMicro int64 `json:"durationMicro"`
}

// BuildResult is the outcome of a build: a sealed graph plus diagnostics.
type BuildResult struct {
	// Graph is sealed and ready for queries.
	Graph *KnowledgeGraph

	// Diagnostics lists dropped links and duplicate atoms in canonical order.
	Diagnostics []Diagnostic

	// Stats contains build statistics.
	Stats BuildStats
}

// HasDiagnostics returns true if any fact was dropped.
func (r *BuildResult) HasDiagnostics() bool {
	return len(r.Diagnostics) > 0
}

// DiagnosticsOf returns the diagnostics of one kind.
func (r *BuildResult) DiagnosticsOf(kind DiagnosticKind) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

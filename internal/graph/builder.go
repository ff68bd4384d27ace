package graph

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/Benny93/strata/internal/facts"
)

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger used for build diagnostics.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Builder turns merged atoms and links into a sealed KnowledgeGraph.
//
// Thread Safety: a Builder holds no per-build state and may be shared.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build is a convenience wrapper around NewBuilder().Build.
func Build(ctx context.Context, atoms []facts.Atom, links []facts.Link) (*BuildResult, error) {
	return NewBuilder().Build(ctx, atoms, links)
}

// Build creates one node per atom and one edge per link whose endpoints
// both exist. Dangling links and repeated atom ids become diagnostics.
//
// Input is sorted canonically before construction, so the same facts in
// any order produce the same graph. The only error is context cancellation.
func (b *Builder) Build(ctx context.Context, atoms []facts.Atom, links []facts.Link) (*BuildResult, error) {
	start := time.Now()
	ctx, span := startBuildSpan(ctx, len(atoms), len(links))
	defer span.End()

	result := &BuildResult{
		Stats: BuildStats{AtomsProcessed: len(atoms), LinksProcessed: len(links)},
	}

	sortedAtoms := sortAtoms(atoms)
	nodes := make([]*GraphNode, 0, len(sortedAtoms))
	seen := make(map[string]struct{}, len(sortedAtoms))
	for _, atom := range sortedAtoms {
		id := atom.AtomID()
		if _, dup := seen[id]; dup {
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				Kind:   DiagDuplicateAtom,
				AtomID: id,
				Err:    fmt.Errorf("%w: %s", ErrDuplicateAtom, id),
			})
			continue
		}
		seen[id] = struct{}{}

		node, err := nodeFromAtom(atom)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}

	if err := ctx.Err(); err != nil {
		recordBuildMetrics(ctx, time.Since(start), result.Stats, false)
		return nil, fmt.Errorf("%w: %w", ErrBuildCancelled, err)
	}

	sortedLinks := sortLinks(links)
	edges := make([]*GraphEdge, 0, len(sortedLinks))
	idCount := make(map[string]int)
	for _, link := range sortedLinks {
		_, okSrc := seen[link.SourceID]
		_, okTgt := seen[link.TargetID]
		kind := mapLinkKind(link.Kind)
		if !okSrc || !okTgt {
			missing := link.TargetID
			if !okSrc {
				missing = link.SourceID
			}
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				Kind:     DiagDanglingLink,
				FromID:   link.SourceID,
				ToID:     link.TargetID,
				EdgeKind: kind,
				Err:      fmt.Errorf("%w: unknown atom %s", ErrDanglingLink, missing),
			})
			result.Stats.LinksDropped++
			b.logger.Debug("dropping dangling link",
				slog.String("source", link.SourceID),
				slog.String("target", link.TargetID),
				slog.String("kind", string(link.Kind)))
			continue
		}

		id := GenerateEdgeID(kind, link.SourceID, link.TargetID)
		idCount[id]++
		if n := idCount[id]; n > 1 {
			id += "#" + strconv.Itoa(n)
		}

		edges = append(edges, &GraphEdge{
			ID:         id,
			SourceID:   link.SourceID,
			TargetID:   link.TargetID,
			Kind:       kind,
			Attributes: edgeAttributes(link),
		})
	}

	g := NewKnowledgeGraph(nodes, edges)
	handle, err := g.BuildIndexes()
	if err != nil {
		// Node ids were deduplicated and edge ids suffixed above.
		recordBuildMetrics(ctx, time.Since(start), result.Stats, false)
		return nil, fmt.Errorf("index graph: %w", err)
	}
	result.Graph = handle.PopulateNavigation()

	result.Stats.NodesCreated = result.Graph.NodeCount()
	result.Stats.EdgesCreated = result.Graph.EdgeCount()
	result.Stats.DurationMicro = time.Since(start).Microseconds()

	setBuildSpanResult(span, result.Stats)
	recordBuildMetrics(ctx, time.Since(start), result.Stats, true)

	if result.Stats.LinksDropped > 0 {
		b.logger.Info("graph built with dropped links",
			slog.Int("nodes", result.Stats.NodesCreated),
			slog.Int("edges", result.Stats.EdgesCreated),
			slog.Int("dropped", result.Stats.LinksDropped))
	}

	return result, nil
}

// nodeFromAtom maps an atom onto a node, folding extractor kinds into the
// graph vocabulary and keeping the original kind as an attribute.
func nodeFromAtom(atom facts.Atom) (*GraphNode, error) {
	node, err := facts.Visit(atom,
		func(a facts.CodeAtom) *GraphNode {
			kind, attrs := mapCodeKind(a.Kind)
			attrs[AttrDomain] = Str(string(facts.DomainCode))
			setIfNotEmpty(attrs, AttrParent, a.Parent)
			setIfNotEmpty(attrs, AttrFile, a.Location.File)
			setIfNotEmpty(attrs, AttrLanguage, a.Language)
			setIfNotEmpty(attrs, AttrVisibility, a.Visibility)
			if a.EntryPoint {
				attrs[AttrEntryPoint] = Bool(true)
			}
			return &GraphNode{ID: a.ID, Name: a.Name, Kind: kind, Namespace: a.Namespace, Attributes: attrs}
		},
		func(a facts.SchemaAtom) *GraphNode {
			kind, attrs := mapSchemaKind(a.Kind)
			attrs[AttrDomain] = Str(string(facts.DomainSchema))
			setIfNotEmpty(attrs, AttrParent, a.Parent)
			setIfNotEmpty(attrs, AttrFile, a.Location.File)
			setIfNotEmpty(attrs, AttrDataType, a.DataType)
			if a.Kind == facts.SchemaColumn {
				attrs["nullable"] = Bool(a.Nullable)
			}
			return &GraphNode{ID: a.ID, Name: a.Name, Kind: kind, Namespace: a.Schema, Attributes: attrs}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("map atom: %w", err)
	}
	return node, nil
}

func mapCodeKind(kind facts.CodeKind) (NodeKind, Attributes) {
	attrs := Attributes{}
	mapped := NodeKind(kind)
	switch kind {
	case facts.CodeDTO:
		mapped = NodeClass
		attrs[AttrIsDTO] = Bool(true)
	case facts.CodeEntity:
		mapped = NodeClass
		attrs[AttrIsEntity] = Bool(true)
	case facts.CodeStruct, facts.CodeRecord:
		mapped = NodeClass
	case facts.CodeConstructor:
		mapped = NodeMethod
		attrs[AttrIsConstructor] = Bool(true)
	case facts.CodeProperty:
		mapped = NodeField
	case facts.CodeModule:
		mapped = NodeNamespace
	}
	if string(mapped) != string(kind) {
		attrs[AttrOriginalKind] = Str(string(kind))
	}
	return mapped, attrs
}

func mapSchemaKind(kind facts.SchemaKind) (NodeKind, Attributes) {
	attrs := Attributes{}
	mapped := NodeKind(kind)
	switch kind {
	case facts.SchemaFunction, facts.SchemaTrigger:
		mapped = NodeProcedure
	case facts.SchemaMaterializedView:
		mapped = NodeView
	case facts.SchemaDatabase, facts.SchemaSchema:
		mapped = NodeNamespace
	}
	if string(mapped) != string(kind) {
		attrs[AttrOriginalKind] = Str(string(kind))
	}
	return mapped, attrs
}

// mapLinkKind is the identity: cross-domain kinds pass through unchanged.
func mapLinkKind(kind facts.LinkKind) EdgeKind {
	return EdgeKind(kind)
}

func edgeAttributes(link facts.Link) Attributes {
	link = link.Normalize()
	attrs := Attributes{AttrConfidence: Num(link.Confidence)}
	setIfNotEmpty(attrs, AttrEvidence, link.Evidence)
	return attrs
}

func setIfNotEmpty(attrs Attributes, key, value string) {
	if value != "" {
		attrs[key] = Str(value)
	}
}

// sortAtoms returns a copy of atoms in canonical order. For repeated ids
// the order falls back to domain, kind, name, namespace and parent, so
// the atom that survives deduplication does not depend on input order.
func sortAtoms(atoms []facts.Atom) []facts.Atom {
	sorted := make([]facts.Atom, 0, len(atoms))
	for _, a := range atoms {
		if a != nil {
			sorted = append(sorted, a)
		}
	}
	slices.SortStableFunc(sorted, func(a, b facts.Atom) int {
		return cmp.Or(
			cmp.Compare(a.AtomID(), b.AtomID()),
			cmp.Compare(a.Domain(), b.Domain()),
			cmp.Compare(a.AtomKind(), b.AtomKind()),
			cmp.Compare(a.AtomName(), b.AtomName()),
			cmp.Compare(a.AtomNamespace(), b.AtomNamespace()),
			cmp.Compare(a.AtomParent(), b.AtomParent()),
		)
	})
	return sorted
}

func sortLinks(links []facts.Link) []facts.Link {
	sorted := slices.Clone(links)
	slices.SortStableFunc(sorted, func(a, b facts.Link) int {
		return cmp.Or(
			cmp.Compare(a.SourceID, b.SourceID),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.TargetID, b.TargetID),
			cmp.Compare(a.Normalize().Confidence, b.Normalize().Confidence),
			cmp.Compare(a.Evidence, b.Evidence),
		)
	})
	return sorted
}

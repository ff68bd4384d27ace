package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/strata/internal/facts"
)

func sampleFacts() ([]facts.Atom, []facts.Link) {
	atoms := []facts.Atom{
		facts.CodeAtom{ID: "code:Shop.OrderController", Name: "OrderController", Kind: facts.CodeClass, Namespace: "Shop"},
		facts.CodeAtom{ID: "code:Shop.OrderDto", Name: "OrderDto", Kind: facts.CodeDTO, Namespace: "Shop"},
		facts.CodeAtom{ID: "code:Shop.Order", Name: "Order", Kind: facts.CodeEntity, Namespace: "Shop"},
		facts.CodeAtom{ID: "code:Shop.Order.ctor", Name: "Order", Kind: facts.CodeConstructor, Namespace: "Shop", Parent: "code:Shop.Order"},
		facts.CodeAtom{ID: "code:Shop.Order.Total", Name: "Total", Kind: facts.CodeProperty, Namespace: "Shop", Parent: "code:Shop.Order"},
		facts.CodeAtom{ID: "code:Shop", Name: "Shop", Kind: facts.CodeModule},
		facts.SchemaAtom{ID: "schema:dbo.Orders", Name: "Orders", Kind: facts.SchemaTable, Schema: "dbo"},
		facts.SchemaAtom{ID: "schema:dbo.Orders.Total", Name: "Total", Kind: facts.SchemaColumn, Schema: "dbo", DataType: "decimal"},
		facts.SchemaAtom{ID: "schema:dbo.fn_total", Name: "fn_total", Kind: facts.SchemaFunction, Schema: "dbo"},
		facts.SchemaAtom{ID: "schema:dbo.mv_orders", Name: "mv_orders", Kind: facts.SchemaMaterializedView, Schema: "dbo"},
		facts.SchemaAtom{ID: "schema:dbo", Name: "dbo", Kind: facts.SchemaSchema},
	}
	links := []facts.Link{
		{SourceID: "code:Shop", TargetID: "code:Shop.Order", Kind: facts.LinkContains},
		{SourceID: "code:Shop.Order", TargetID: "schema:dbo.Orders", Kind: facts.LinkNameMatch, Confidence: 0.9, Evidence: "name"},
		{SourceID: "code:Shop.OrderController", TargetID: "schema:dbo.Orders", Kind: facts.LinkQueryTrace},
		{SourceID: "code:Shop.OrderController", TargetID: "code:Shop.Missing", Kind: facts.LinkCalls},
	}
	return atoms, links
}

func TestBuild(t *testing.T) {
	t.Parallel()

	t.Run("EmptyInput", func(t *testing.T) {
		t.Parallel()
		result, err := Build(t.Context(), nil, nil)
		require.NoError(t, err)
		require.NotNil(t, result.Graph)
		assert.True(t, result.Graph.Sealed())
		assert.Equal(t, 0, result.Graph.NodeCount())
		assert.False(t, result.HasDiagnostics())
	})

	t.Run("OneNodePerAtomOneEdgePerResolvableLink", func(t *testing.T) {
		t.Parallel()
		atoms, links := sampleFacts()
		result, err := Build(t.Context(), atoms, links)
		require.NoError(t, err)

		assert.Equal(t, len(atoms), result.Graph.NodeCount())
		assert.Equal(t, 3, result.Graph.EdgeCount())
		assert.Equal(t, 1, result.Stats.LinksDropped)

		dangling := result.DiagnosticsOf(DiagDanglingLink)
		require.Len(t, dangling, 1)
		assert.Equal(t, "code:Shop.Missing", dangling[0].ToID)
		assert.ErrorIs(t, dangling[0], ErrDanglingLink)
		assert.Empty(t, result.Graph.DroppedEdges(), "builder drops dangling links before indexing")
	})

	t.Run("KindMapping", func(t *testing.T) {
		t.Parallel()
		atoms, links := sampleFacts()
		result, err := Build(t.Context(), atoms, links)
		require.NoError(t, err)
		g := result.Graph

		tests := []struct {
			id           string
			kind         NodeKind
			originalKind string
		}{
			{"code:Shop.OrderController", NodeClass, ""},
			{"code:Shop.OrderDto", NodeClass, "dto"},
			{"code:Shop.Order", NodeClass, "entity"},
			{"code:Shop.Order.ctor", NodeMethod, "constructor"},
			{"code:Shop.Order.Total", NodeField, "property"},
			{"code:Shop", NodeNamespace, "module"},
			{"schema:dbo.Orders", NodeTable, ""},
			{"schema:dbo.Orders.Total", NodeColumn, ""},
			{"schema:dbo.fn_total", NodeProcedure, "function"},
			{"schema:dbo.mv_orders", NodeView, "materialized_view"},
			{"schema:dbo", NodeNamespace, "schema"},
		}
		for _, tt := range tests {
			n := g.Node(tt.id)
			require.NotNil(t, n, tt.id)
			assert.Equal(t, tt.kind, n.Kind, tt.id)
			assert.Equal(t, tt.originalKind, n.Attributes.String(AttrOriginalKind), tt.id)
		}

		assert.True(t, g.Node("code:Shop.OrderDto").Attributes.Bool(AttrIsDTO))
		assert.True(t, g.Node("code:Shop.Order").Attributes.Bool(AttrIsEntity))
		assert.True(t, g.Node("code:Shop.Order.ctor").Attributes.Bool(AttrIsConstructor))
		assert.Equal(t, "code:Shop.Order", g.Node("code:Shop.Order.ctor").Attributes.String(AttrParent))
		assert.Equal(t, "decimal", g.Node("schema:dbo.Orders.Total").Attributes.String(AttrDataType))
		assert.Equal(t, "schema", g.Node("schema:dbo.Orders").Attributes.String(AttrDomain))
	})

	t.Run("CrossDomainEdgesPassThrough", func(t *testing.T) {
		t.Parallel()
		atoms, links := sampleFacts()
		result, err := Build(t.Context(), atoms, links)
		require.NoError(t, err)

		e := result.Graph.Edge(GenerateEdgeID(EdgeNameMatch, "code:Shop.Order", "schema:dbo.Orders"))
		require.NotNil(t, e)
		assert.Equal(t, EdgeNameMatch, e.Kind)
		assert.Equal(t, 0.9, e.Attributes.Number(AttrConfidence))
		assert.Equal(t, "name", e.Attributes.String(AttrEvidence))

		trace := result.Graph.Edge(GenerateEdgeID(EdgeQueryTrace, "code:Shop.OrderController", "schema:dbo.Orders"))
		require.NotNil(t, trace)
		assert.Equal(t, 1.0, trace.Attributes.Number(AttrConfidence))
	})

	t.Run("OrderIndependent", func(t *testing.T) {
		t.Parallel()
		atoms, links := sampleFacts()
		first, err := Build(t.Context(), atoms, links)
		require.NoError(t, err)

		reversedAtoms := make([]facts.Atom, len(atoms))
		for i, a := range atoms {
			reversedAtoms[len(atoms)-1-i] = a
		}
		reversedLinks := make([]facts.Link, len(links))
		for i, l := range links {
			reversedLinks[len(links)-1-i] = l
		}
		second, err := Build(t.Context(), reversedAtoms, reversedLinks)
		require.NoError(t, err)

		assert.Equal(t, first.Graph.Digest(), second.Graph.Digest())
		assert.Equal(t, first.Diagnostics, second.Diagnostics)
	})

	t.Run("DuplicateAtomsBecomeDiagnostics", func(t *testing.T) {
		t.Parallel()
		atoms := []facts.Atom{
			facts.CodeAtom{ID: "code:A", Name: "B", Kind: facts.CodeClass},
			facts.CodeAtom{ID: "code:A", Name: "A", Kind: facts.CodeClass},
		}
		result, err := Build(t.Context(), atoms, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Graph.NodeCount())
		assert.Equal(t, "A", result.Graph.Node("code:A").Name, "canonical order decides the survivor")
		require.Len(t, result.DiagnosticsOf(DiagDuplicateAtom), 1)
		assert.ErrorIs(t, result.Diagnostics[0], ErrDuplicateAtom)
	})

	t.Run("RepeatedLinksGetSuffixedIDs", func(t *testing.T) {
		t.Parallel()
		atoms := []facts.Atom{
			facts.CodeAtom{ID: "code:A", Name: "A", Kind: facts.CodeMethod},
			facts.CodeAtom{ID: "code:B", Name: "B", Kind: facts.CodeMethod},
		}
		links := []facts.Link{
			{SourceID: "code:A", TargetID: "code:B", Kind: facts.LinkCalls, Evidence: "line 10"},
			{SourceID: "code:A", TargetID: "code:B", Kind: facts.LinkCalls, Evidence: "line 20"},
		}
		result, err := Build(t.Context(), atoms, links)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Graph.EdgeCount())
		base := GenerateEdgeID(EdgeCalls, "code:A", "code:B")
		assert.NotNil(t, result.Graph.Edge(base))
		assert.NotNil(t, result.Graph.Edge(base+"#2"))
	})

	t.Run("CancelledContext", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		atoms, links := sampleFacts()
		_, err := Build(ctx, atoms, links)
		assert.True(t, errors.Is(err, ErrBuildCancelled))
	})
}

func TestStore(t *testing.T) {
	t.Parallel()

	t.Run("RejectsUnsealedGraph", func(t *testing.T) {
		t.Parallel()
		s := NewStore()
		_, err := s.Swap(t.Context(), NewKnowledgeGraph(nil, nil))
		assert.ErrorIs(t, err, ErrGraphNotReady)
		assert.Nil(t, s.Load())
	})

	t.Run("SwapReplacesAtomically", func(t *testing.T) {
		t.Parallel()
		s := NewStore()

		first, err := Build(t.Context(), []facts.Atom{facts.CodeAtom{ID: "code:A", Name: "A", Kind: facts.CodeClass}}, nil)
		require.NoError(t, err)
		prev, err := s.Swap(t.Context(), first.Graph)
		require.NoError(t, err)
		assert.Nil(t, prev)

		reader := s.Load()

		second, err := Build(t.Context(), nil, nil)
		require.NoError(t, err)
		prev, err = s.Swap(t.Context(), second.Graph)
		require.NoError(t, err)

		assert.Same(t, first.Graph, prev)
		assert.Same(t, second.Graph, s.Load())
		assert.Equal(t, uint64(2), s.Generation())
		assert.NotNil(t, reader.Node("code:A"), "old readers keep a valid graph")
	})
}

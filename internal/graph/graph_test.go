package graph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, kind NodeKind, ns string) *GraphNode {
	return &GraphNode{ID: id, Name: id, Kind: kind, Namespace: ns}
}

func edge(kind EdgeKind, src, tgt string) *GraphEdge {
	return &GraphEdge{ID: GenerateEdgeID(kind, src, tgt), SourceID: src, TargetID: tgt, Kind: kind}
}

func sealed(t *testing.T, nodes []*GraphNode, edges []*GraphEdge) *KnowledgeGraph {
	t.Helper()
	handle, err := NewKnowledgeGraph(nodes, edges).BuildIndexes()
	require.NoError(t, err)
	return handle.PopulateNavigation()
}

func TestKnowledgeGraphLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("RawGraphHasNoNavigation", func(t *testing.T) {
		t.Parallel()
		a := node("a", NodeClass, "x")
		g := NewKnowledgeGraph([]*GraphNode{a, node("b", NodeClass, "x")}, []*GraphEdge{edge(EdgeCalls, "a", "b")})

		assert.False(t, g.Indexed())
		assert.False(t, g.Sealed())
		assert.Nil(t, g.Node("a"))
		assert.Empty(t, a.Outbound())
	})

	t.Run("IndexedButNotNavigable", func(t *testing.T) {
		t.Parallel()
		a := node("a", NodeClass, "x")
		e := edge(EdgeCalls, "a", "b")
		g := NewKnowledgeGraph([]*GraphNode{a, node("b", NodeClass, "x")}, []*GraphEdge{e})
		handle, err := g.BuildIndexes()
		require.NoError(t, err)

		assert.True(t, g.Indexed())
		assert.False(t, g.Sealed())
		assert.Same(t, a, g.Node("a"))
		assert.Len(t, g.OutEdges("a"), 1)
		assert.Empty(t, a.Outbound(), "navigation is only populated through the handle")
		assert.Nil(t, e.Source())

		got := handle.PopulateNavigation()
		assert.Same(t, g, got)
		assert.True(t, g.Sealed())
		assert.Equal(t, []*GraphEdge{e}, a.Outbound())
		assert.Same(t, a, e.Source())
		assert.Equal(t, "b", e.Target().ID)
	})

	t.Run("BuildIndexesTwice", func(t *testing.T) {
		t.Parallel()
		g := NewKnowledgeGraph(nil, nil)
		_, err := g.BuildIndexes()
		require.NoError(t, err)
		_, err = g.BuildIndexes()
		assert.ErrorIs(t, err, ErrAlreadyIndexed)
	})

	t.Run("PopulateNavigationIsIdempotent", func(t *testing.T) {
		t.Parallel()
		handle, err := NewKnowledgeGraph([]*GraphNode{node("a", NodeClass, "")}, nil).BuildIndexes()
		require.NoError(t, err)
		g1 := handle.PopulateNavigation()
		g2 := handle.PopulateNavigation()
		assert.Same(t, g1, g2)
		assert.Same(t, g1, handle.Graph())
	})

	t.Run("DuplicateNodeID", func(t *testing.T) {
		t.Parallel()
		g := NewKnowledgeGraph([]*GraphNode{node("a", NodeClass, ""), node("a", NodeMethod, "")}, nil)
		_, err := g.BuildIndexes()
		assert.ErrorIs(t, err, ErrDuplicateNode)
	})

	t.Run("DuplicateEdgeID", func(t *testing.T) {
		t.Parallel()
		g := NewKnowledgeGraph(
			[]*GraphNode{node("a", NodeClass, ""), node("b", NodeClass, "")},
			[]*GraphEdge{edge(EdgeCalls, "a", "b"), edge(EdgeCalls, "a", "b")},
		)
		_, err := g.BuildIndexes()
		assert.ErrorIs(t, err, ErrDuplicateEdge)
	})
}

func TestKnowledgeGraphIndexes(t *testing.T) {
	t.Parallel()

	g := sealed(t,
		[]*GraphNode{
			node("c", NodeTable, "dbo"),
			node("a", NodeClass, "shop"),
			node("b", NodeMethod, "shop"),
			nil,
		},
		[]*GraphEdge{
			edge(EdgeContains, "a", "b"),
			edge(EdgeQueryTrace, "b", "c"),
			edge(EdgeCalls, "b", "missing"),
		},
	)

	t.Run("NodesSortedByID", func(t *testing.T) {
		t.Parallel()
		ids := make([]string, 0, g.NodeCount())
		for _, n := range g.Nodes() {
			ids = append(ids, n.ID)
		}
		assert.Equal(t, []string{"a", "b", "c"}, ids)
	})

	t.Run("ByKindAndNamespace", func(t *testing.T) {
		t.Parallel()
		assert.Len(t, g.NodesByKind(NodeClass), 1)
		assert.Len(t, g.NodesByNamespace("shop"), 2)
		assert.Empty(t, g.NodesByKind(NodeView))
		assert.Equal(t, []NodeKind{NodeClass, NodeMethod, NodeTable}, g.Kinds())
		assert.Equal(t, []string{"dbo", "shop"}, g.Namespaces())
	})

	t.Run("DanglingEdgesDropped", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 2, g.EdgeCount())
		require.Len(t, g.DroppedEdges(), 1)
		assert.Equal(t, "missing", g.DroppedEdges()[0].TargetID)
		assert.Nil(t, g.Edge(GenerateEdgeID(EdgeCalls, "b", "missing")))
		assert.Equal(t, map[string]int{"nodes": 3, "edges": 2, "dropped": 1}, g.Stats())
	})

	t.Run("Navigation", func(t *testing.T) {
		t.Parallel()
		b := g.Node("b")
		require.NotNil(t, b)
		assert.Equal(t, 1, b.InDegree())
		assert.Equal(t, 1, b.OutDegree())
		assert.Equal(t, "c", b.Outbound()[0].Target().ID)
		assert.Equal(t, "a", b.Inbound()[0].Source().ID)
		assert.Equal(t, g.InEdges("b"), b.Inbound())
	})
}

func TestKnowledgeGraphDigest(t *testing.T) {
	t.Parallel()

	build := func(order []int) string {
		nodes := []*GraphNode{node("a", NodeClass, "x"), node("b", NodeClass, "x"), node("c", NodeTable, "dbo")}
		edges := []*GraphEdge{edge(EdgeCalls, "a", "b"), edge(EdgeQueryTrace, "b", "c")}
		permuted := make([]*GraphNode, 0, len(order))
		for _, i := range order {
			permuted = append(permuted, nodes[i])
		}
		return sealed(t, permuted, edges).Digest()
	}

	assert.Equal(t, build([]int{0, 1, 2}), build([]int{2, 0, 1}))

	other := sealed(t, []*GraphNode{node("a", NodeClass, "y")}, nil).Digest()
	assert.NotEqual(t, build([]int{0, 1, 2}), other)
}

func TestKnowledgeGraphConcurrentReaders(t *testing.T) {
	t.Parallel()

	g := sealed(t,
		[]*GraphNode{node("a", NodeClass, ""), node("b", NodeClass, "")},
		[]*GraphEdge{edge(EdgeCalls, "a", "b")},
	)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = g.Node("a").Outbound()
				_ = g.NodesByKind(NodeClass)
				_ = g.Digest()
			}
		}()
	}
	wg.Wait()
}

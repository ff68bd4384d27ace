// Package graph provides the knowledge graph built from merged facts.
//
// A KnowledgeGraph is constructed in two phases. BuildIndexes creates the
// lookup indexes and hands back an IndexHandle; only that handle can
// populate the per-node navigation lists, so navigation can never be
// wired before the indexes exist. After PopulateNavigation the graph is
// sealed: it is never mutated again and is safe for concurrent readers.
//
// Rebuilding produces a new graph. Store swaps the current graph
// atomically so in-flight readers keep a consistent view.
package graph

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
)

type graphState uint8

const (
	stateRaw graphState = iota
	stateIndexed
	stateSealed
)

// KnowledgeGraph is a directed graph of code and schema entities.
//
// Every list the graph returns is sorted by id, so identical input yields
// identical iteration order.
type KnowledgeGraph struct {
	state graphState

	nodes []*GraphNode
	edges []*GraphEdge

	// Indexes, built by BuildIndexes.
	byID        map[string]*GraphNode
	edgeByID    map[string]*GraphEdge
	byKind      map[NodeKind][]*GraphNode
	byNamespace map[string][]*GraphNode
	outgoing    map[string][]*GraphEdge
	incoming    map[string][]*GraphEdge

	// Edges removed by BuildIndexes because an endpoint is missing.
	dropped []*GraphEdge
}

// IndexHandle proves that indexes have been built. It is the only way to
// reach PopulateNavigation.
type IndexHandle struct {
	g *KnowledgeGraph
}

// NewKnowledgeGraph creates a raw graph owning the given nodes and edges.
// Nil entries are ignored. The graph takes ownership: callers must not
// modify the nodes or edges afterwards.
func NewKnowledgeGraph(nodes []*GraphNode, edges []*GraphEdge) *KnowledgeGraph {
	g := &KnowledgeGraph{
		nodes: make([]*GraphNode, 0, len(nodes)),
		edges: make([]*GraphEdge, 0, len(edges)),
	}
	for _, n := range nodes {
		if n != nil {
			g.nodes = append(g.nodes, n)
		}
	}
	for _, e := range edges {
		if e != nil {
			g.edges = append(g.edges, e)
		}
	}
	return g
}

// BuildIndexes builds the id, kind, namespace and adjacency indexes.
//
// Edges whose source or target is missing are removed from the graph and
// reported by DroppedEdges. Duplicate node or edge ids are an error.
func (g *KnowledgeGraph) BuildIndexes() (*IndexHandle, error) {
	if g.state != stateRaw {
		return nil, ErrAlreadyIndexed
	}

	slices.SortFunc(g.nodes, func(a, b *GraphNode) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(g.edges, func(a, b *GraphEdge) int { return cmp.Compare(a.ID, b.ID) })

	byID := make(map[string]*GraphNode, len(g.nodes))
	byKind := make(map[NodeKind][]*GraphNode)
	byNamespace := make(map[string][]*GraphNode)
	for _, n := range g.nodes {
		if _, exists := byID[n.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		byID[n.ID] = n
		byKind[n.Kind] = append(byKind[n.Kind], n)
		byNamespace[n.Namespace] = append(byNamespace[n.Namespace], n)
	}

	edgeByID := make(map[string]*GraphEdge, len(g.edges))
	outgoing := make(map[string][]*GraphEdge)
	incoming := make(map[string][]*GraphEdge)
	kept := make([]*GraphEdge, 0, len(g.edges))
	var dropped []*GraphEdge
	for _, e := range g.edges {
		if _, exists := edgeByID[e.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEdge, e.ID)
		}
		_, okSrc := byID[e.SourceID]
		_, okTgt := byID[e.TargetID]
		if !okSrc || !okTgt {
			dropped = append(dropped, e)
			continue
		}
		edgeByID[e.ID] = e
		outgoing[e.SourceID] = append(outgoing[e.SourceID], e)
		incoming[e.TargetID] = append(incoming[e.TargetID], e)
		kept = append(kept, e)
	}

	g.edges = kept
	g.dropped = dropped
	g.byID = byID
	g.edgeByID = edgeByID
	g.byKind = byKind
	g.byNamespace = byNamespace
	g.outgoing = outgoing
	g.incoming = incoming
	g.state = stateIndexed

	return &IndexHandle{g: g}, nil
}

// PopulateNavigation resolves edge endpoints, fills each node's inbound
// and outbound lists from the adjacency indexes and seals the graph.
// Calling it again is a no-op.
func (h *IndexHandle) PopulateNavigation() *KnowledgeGraph {
	g := h.g
	if g.state == stateSealed {
		return g
	}

	for _, e := range g.edges {
		e.source = g.byID[e.SourceID]
		e.target = g.byID[e.TargetID]
	}
	for _, n := range g.nodes {
		n.outbound = g.outgoing[n.ID]
		n.inbound = g.incoming[n.ID]
	}

	g.state = stateSealed
	return g
}

// Graph returns the graph the handle belongs to.
func (h *IndexHandle) Graph() *KnowledgeGraph { return h.g }

// Indexed reports whether BuildIndexes has completed.
func (g *KnowledgeGraph) Indexed() bool { return g.state >= stateIndexed }

// Sealed reports whether navigation has been populated.
func (g *KnowledgeGraph) Sealed() bool { return g.state == stateSealed }

// NodeCount returns the number of nodes.
func (g *KnowledgeGraph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges kept in the graph.
func (g *KnowledgeGraph) EdgeCount() int { return len(g.edges) }

// Node returns the node with the given id, or nil.
func (g *KnowledgeGraph) Node(id string) *GraphNode { return g.byID[id] }

// Edge returns the edge with the given id, or nil.
func (g *KnowledgeGraph) Edge(id string) *GraphEdge { return g.edgeByID[id] }

// Nodes returns all nodes sorted by id. The slice must not be modified.
func (g *KnowledgeGraph) Nodes() []*GraphNode { return g.nodes }

// Edges returns all edges sorted by id. The slice must not be modified.
func (g *KnowledgeGraph) Edges() []*GraphEdge { return g.edges }

// NodesByKind returns nodes of the given kind sorted by id.
func (g *KnowledgeGraph) NodesByKind(kind NodeKind) []*GraphNode { return g.byKind[kind] }

// NodesByNamespace returns nodes in the given namespace sorted by id.
func (g *KnowledgeGraph) NodesByNamespace(namespace string) []*GraphNode {
	return g.byNamespace[namespace]
}

// OutEdges returns edges leaving the node, sorted by id.
func (g *KnowledgeGraph) OutEdges(nodeID string) []*GraphEdge { return g.outgoing[nodeID] }

// InEdges returns edges entering the node, sorted by id.
func (g *KnowledgeGraph) InEdges(nodeID string) []*GraphEdge { return g.incoming[nodeID] }

// DroppedEdges returns the edges BuildIndexes removed as dangling.
func (g *KnowledgeGraph) DroppedEdges() []*GraphEdge { return g.dropped }

// Kinds returns every node kind present, sorted.
func (g *KnowledgeGraph) Kinds() []NodeKind {
	return slices.Sorted(maps.Keys(g.byKind))
}

// Namespaces returns every namespace present, sorted.
func (g *KnowledgeGraph) Namespaces() []string {
	return slices.Sorted(maps.Keys(g.byNamespace))
}

// Stats returns a summary of graph size.
func (g *KnowledgeGraph) Stats() map[string]int {
	return map[string]int{
		"nodes":   len(g.nodes),
		"edges":   len(g.edges),
		"dropped": len(g.dropped),
	}
}

// Digest returns a hash of the graph structure: node ids, kinds, names,
// namespaces and attributes, and edge ids, endpoints, kinds and attributes.
// Two graphs built from the same facts have the same digest.
func (g *KnowledgeGraph) Digest() string {
	h := sha256.New()
	for _, n := range g.nodes {
		fmt.Fprintf(h, "n\x00%s\x00%s\x00%s\x00%s\x00", n.ID, n.Kind, n.Name, n.Namespace)
		writeAttributes(h, n.Attributes)
	}
	for _, e := range g.edges {
		fmt.Fprintf(h, "e\x00%s\x00%s\x00%s\x00%s\x00", e.ID, e.SourceID, e.TargetID, e.Kind)
		writeAttributes(h, e.Attributes)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeAttributes(w io.Writer, attrs Attributes) {
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		fmt.Fprintf(w, "%s=%d:%s\x00", k, attrs[k].Type(), attrs[k].String())
	}
}

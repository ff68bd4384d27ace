package query

import (
	"slices"
	"strings"
	"time"

	"github.com/Benny93/strata/internal/facts"
	"github.com/Benny93/strata/internal/graph"
)

// Severity rates how damaging a cycle is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Cycle is a dependency loop found by FindCycles.
type Cycle struct {
	// Nodes runs from the back edge's target to the node where the back
	// edge was found, in discovery order.
	Nodes []*graph.GraphNode

	// Edges closes the loop: Edges[i] leaves Nodes[i]; the last edge is
	// the back edge.
	Edges []*graph.GraphEdge

	Severity Severity
}

// NodeIDs returns member ids in discovery order.
func (c Cycle) NodeIDs() []string {
	ids := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Signature identifies the cycle independently of where discovery
// started: the sorted member ids joined by facts.SignatureDelimiter.
func (c Cycle) Signature() string {
	return CycleSignature(c.NodeIDs())
}

// CycleSignature builds a cycle signature from member ids in any order.
func CycleSignature(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return strings.Join(sorted, facts.SignatureDelimiter)
}

type color uint8

const (
	white color = iota // unvisited
	gray               // on the DFS stack
	black              // finished
)

// dfsFrame is one entry of the explicit DFS stack.
type dfsFrame struct {
	node    *graph.GraphNode
	via     *graph.GraphEdge
	edgeIdx int
}

// FindCycles runs an iterative three-color depth-first search from every
// unvisited node in id order. An edge into a node that is still on the
// stack is a back edge and yields one cycle; a self-loop yields a
// one-node cycle. Cycles with the same signature are reported once.
func (e *Engine) FindCycles() []Cycle {
	defer e.observe("cycles", time.Now())

	colors := make(map[string]color, e.g.NodeCount())
	stackPos := make(map[string]int)
	seen := make(map[string]bool)
	var cycles []Cycle

	for _, root := range e.g.Nodes() {
		if colors[root.ID] != white {
			continue
		}

		stack := []dfsFrame{{node: root}}
		colors[root.ID] = gray
		stackPos[root.ID] = 0

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			out := top.node.Outbound()

			if top.edgeIdx >= len(out) {
				colors[top.node.ID] = black
				delete(stackPos, top.node.ID)
				stack = stack[:len(stack)-1]
				continue
			}

			edge := out[top.edgeIdx]
			top.edgeIdx++
			next := edge.Target()

			switch colors[next.ID] {
			case white:
				colors[next.ID] = gray
				stackPos[next.ID] = len(stack)
				stack = append(stack, dfsFrame{node: next, via: edge})
			case gray:
				c := cycleFromStack(stack, stackPos[next.ID], edge)
				if sig := c.Signature(); !seen[sig] {
					seen[sig] = true
					cycles = append(cycles, c)
				}
			}
		}
	}

	return cycles
}

func cycleFromStack(stack []dfsFrame, from int, back *graph.GraphEdge) Cycle {
	members := stack[from:]
	c := Cycle{
		Nodes: make([]*graph.GraphNode, 0, len(members)),
		Edges: make([]*graph.GraphEdge, 0, len(members)),
	}
	for i, f := range members {
		c.Nodes = append(c.Nodes, f.node)
		if i > 0 {
			c.Edges = append(c.Edges, f.via)
		}
	}
	c.Edges = append(c.Edges, back)
	c.Severity = cycleSeverity(c.Nodes)
	return c
}

// cycleSeverity rates a cycle by the containers it spans:
//   - high when it crosses top-level namespaces or the code/schema boundary
//   - low for self-loops and cycles among one type and its members
//   - medium otherwise
func cycleSeverity(nodes []*graph.GraphNode) Severity {
	if len(nodes) == 1 {
		return SeverityLow
	}

	domains := make(map[string]struct{})
	tops := make(map[string]struct{})
	owners := make(map[string]struct{})
	for _, n := range nodes {
		domains[n.Attributes.String(graph.AttrDomain)] = struct{}{}
		tops[facts.TopLevelNamespace(n.Namespace)] = struct{}{}
		owners[owningType(n)] = struct{}{}
	}

	switch {
	case len(domains) > 1 || len(tops) > 1:
		return SeverityHigh
	case len(owners) == 1:
		if _, none := owners[""]; !none {
			return SeverityLow
		}
		return SeverityMedium
	default:
		return SeverityMedium
	}
}

// owningType returns the id of the type a node belongs to: the node
// itself for type kinds, its parent for members.
func owningType(n *graph.GraphNode) string {
	switch n.Kind {
	case graph.NodeClass, graph.NodeInterface, graph.NodeEnum, graph.NodeTable, graph.NodeView:
		return n.ID
	default:
		return n.Attributes.String(graph.AttrParent)
	}
}

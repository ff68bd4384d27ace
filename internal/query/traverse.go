package query

import (
	"fmt"
	"slices"
	"time"

	"github.com/Benny93/strata/internal/graph"
)

// Direction selects which edges a traversal follows.
type Direction int

const (
	// Outbound follows edges from source to target (what does X depend on).
	Outbound Direction = iota

	// Inbound follows edges from target to source (what depends on X).
	Inbound
)

// String returns the lowercase direction name.
func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// ParseDirection accepts "inbound"/"in" and "outbound"/"out".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "inbound", "in":
		return Inbound, nil
	case "outbound", "out", "":
		return Outbound, nil
	default:
		return Outbound, fmt.Errorf("unknown direction %q", s)
	}
}

// Step is one node reached during a traversal.
type Step struct {
	// Node is the node discovered at this level.
	Node *graph.GraphNode

	// Via is the edge that was followed to reach Node.
	Via *graph.GraphEdge

	// From is the node the traversal came from.
	From *graph.GraphNode
}

// Level lists the nodes first discovered at one depth.
type Level struct {
	Depth int
	Steps []Step
}

// Traverse walks the graph breadth-first from startID, frontier by
// frontier, up to maxDepth levels. Each node appears once, at the depth of
// its first discovery; the start node is never reported. When kinds is
// non-empty only edges of those kinds are followed.
//
// Levels stop early when the frontier empties. maxDepth < 1 yields no
// levels. An unknown start id returns graph.ErrNodeNotFound.
func (e *Engine) Traverse(startID string, dir Direction, maxDepth int, kinds ...graph.EdgeKind) ([]Level, error) {
	defer e.observe("traverse", time.Now())

	start := e.g.Node(startID)
	if start == nil {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, startID)
	}

	visited := map[string]bool{start.ID: true}
	frontier := []*graph.GraphNode{start}
	var levels []Level

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []*graph.GraphNode
		var steps []Step

		for _, from := range frontier {
			edges := from.Outbound()
			if dir == Inbound {
				edges = from.Inbound()
			}
			for _, edge := range edges {
				if len(kinds) > 0 && !slices.Contains(kinds, edge.Kind) {
					continue
				}
				to := edge.Target()
				if dir == Inbound {
					to = edge.Source()
				}
				if visited[to.ID] {
					continue
				}
				visited[to.ID] = true
				steps = append(steps, Step{Node: to, Via: edge, From: from})
				next = append(next, to)
			}
		}

		if len(steps) == 0 {
			break
		}
		levels = append(levels, Level{Depth: depth, Steps: steps})
		frontier = next
	}

	return levels, nil
}

// Impact is one node affected by a change, flattened from a traversal.
type Impact struct {
	Node  *graph.GraphNode
	Depth int
	Via   *graph.GraphEdge
}

// BlastRadius returns every node that transitively depends on id, up to
// maxDepth hops, ordered by depth and then discovery order.
func (e *Engine) BlastRadius(id string, maxDepth int) ([]Impact, error) {
	levels, err := e.Traverse(id, Inbound, maxDepth)
	if err != nil {
		return nil, err
	}
	var impacts []Impact
	for _, level := range levels {
		for _, step := range level.Steps {
			impacts = append(impacts, Impact{Node: step.Node, Depth: level.Depth, Via: step.Via})
		}
	}
	return impacts, nil
}

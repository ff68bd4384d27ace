package query

import (
	"slices"
	"strings"
	"time"

	"github.com/Benny93/strata/internal/graph"
)

// DefaultEntryPointKinds are node kinds that are never orphans: they are
// containers, not referenced units.
var DefaultEntryPointKinds = []graph.NodeKind{graph.NodeNamespace, graph.NodeFile}

// OrphanOptions tunes orphan detection.
type OrphanOptions struct {
	// EntryPointKinds are exempt from orphan detection. Nil means
	// DefaultEntryPointKinds; an empty non-nil slice exempts no kind.
	EntryPointKinds []graph.NodeKind

	// ExemptPublic skips nodes whose visibility is public, since they may
	// be used from outside the scanned repositories.
	ExemptPublic bool
}

// FindOrphans returns nodes with no inbound edges, sorted by id, as
// dead-code or unused-artifact candidates.
//
// Exempt from the result:
//  1. entry-point kinds
//  2. nodes tagged entry_point by the extractor
//  3. constructors
//  4. test functions
//  5. public nodes when ExemptPublic is set
func (e *Engine) FindOrphans(opts OrphanOptions) []*graph.GraphNode {
	defer e.observe("orphans", time.Now())

	kinds := opts.EntryPointKinds
	if kinds == nil {
		kinds = DefaultEntryPointKinds
	}

	var orphans []*graph.GraphNode
	for _, n := range e.g.Nodes() {
		if n.InDegree() > 0 {
			continue
		}
		if slices.Contains(kinds, n.Kind) || isOrphanExempt(n, opts) {
			continue
		}
		orphans = append(orphans, n)
	}
	return orphans
}

func isOrphanExempt(n *graph.GraphNode, opts OrphanOptions) bool {
	if n.Attributes.Bool(graph.AttrEntryPoint) {
		return true
	}
	if n.Attributes.Bool(graph.AttrIsConstructor) {
		return true
	}
	if isTestFunction(n) {
		return true
	}
	if opts.ExemptPublic && strings.EqualFold(n.Attributes.String(graph.AttrVisibility), "public") {
		return true
	}
	return false
}

// isTestFunction checks file naming and test-function naming conventions.
func isTestFunction(n *graph.GraphNode) bool {
	file := n.Attributes.String(graph.AttrFile)
	for _, suffix := range []string{"_test.go", "_test.py", ".test.ts", ".spec.ts", "Tests.cs", "Test.java"} {
		if file != "" && strings.HasSuffix(file, suffix) {
			return true
		}
	}

	if n.Kind == graph.NodeFunction || n.Kind == graph.NodeMethod {
		if strings.HasPrefix(n.Name, "Test") || strings.HasPrefix(n.Name, "test_") {
			return true
		}
	}
	return false
}

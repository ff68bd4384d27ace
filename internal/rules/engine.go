package rules

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Benny93/strata/internal/facts"
	"github.com/Benny93/strata/internal/graph"
)

var tracer = otel.Tracer("strata.rules")

// Violation is one forbidden edge found by a rule.
type Violation struct {
	RuleID   string   `json:"ruleId"`
	SourceID string   `json:"sourceId"`
	TargetID string   `json:"targetId"`
	EdgeID   string   `json:"edgeId"`
	Severity Severity `json:"severity"`
}

// Signature identifies the violation across builds:
// ruleId, sourceId, targetId and edgeId joined by facts.SignatureDelimiter.
func (v Violation) Signature() string {
	return strings.Join([]string{v.RuleID, v.SourceID, v.TargetID, v.EdgeID}, facts.SignatureDelimiter)
}

// RuleSet is an ordered collection of compiled rules.
type RuleSet struct {
	rules []*CompiledRule
	byID  map[string]*CompiledRule
}

// Rules returns the compiled rules in load order.
func (s *RuleSet) Rules() []*CompiledRule { return s.rules }

// Rule returns the rule with the given id, or nil.
func (s *RuleSet) Rule(id string) *CompiledRule { return s.byID[id] }

// Len returns the number of loaded rules.
func (s *RuleSet) Len() int { return len(s.rules) }

// Evaluate runs every rule against a sealed graph. Violations are sorted
// by rule id, then edge id. The graph is only read, so several
// evaluations may run concurrently.
func (s *RuleSet) Evaluate(ctx context.Context, g *graph.KnowledgeGraph) ([]Violation, error) {
	if g == nil || !g.Sealed() {
		return nil, graph.ErrGraphNotReady
	}

	_, span := tracer.Start(ctx, "rules.Evaluate",
		trace.WithAttributes(attribute.Int("rules.count", len(s.rules))))
	defer span.End()

	var violations []Violation
	for _, r := range s.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		violations = append(violations, r.Evaluate(g)...)
	}

	slices.SortFunc(violations, func(a, b Violation) int {
		return cmp.Or(cmp.Compare(a.RuleID, b.RuleID), cmp.Compare(a.EdgeID, b.EdgeID))
	})
	span.SetAttributes(attribute.Int("rules.violations", len(violations)))
	return violations, nil
}

// Evaluate runs one rule against a sealed graph.
//
// Candidates come from the by-kind index when the source selector names a
// kind, otherwise from all nodes; each candidate's cached outbound edges
// are scanned for the forbidden kind and the edge target is checked
// against the target selector.
func (r *CompiledRule) Evaluate(g *graph.KnowledgeGraph) []Violation {
	candidates := g.Nodes()
	if r.source.kind != "" {
		candidates = g.NodesByKind(r.source.kind)
	}

	var out []Violation
	for _, n := range candidates {
		if !r.source.matches(n) {
			continue
		}
		for _, e := range n.Outbound() {
			if e.Kind != r.ForbiddenEdge {
				continue
			}
			if !r.target.matches(e.Target()) {
				continue
			}
			out = append(out, Violation{
				RuleID:   r.ID,
				SourceID: n.ID,
				TargetID: e.TargetID,
				EdgeID:   e.ID,
				Severity: r.Severity,
			})
		}
	}
	return out
}

// CountBySeverity tallies violations per severity.
func CountBySeverity(violations []Violation) map[Severity]int {
	counts := make(map[Severity]int)
	for _, v := range violations {
		counts[v.Severity]++
	}
	return counts
}

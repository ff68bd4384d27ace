package query

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/Benny93/strata/internal/graph"
)

// DefaultHubMultiplier flags nodes whose degree exceeds three times the mean.
const DefaultHubMultiplier = 3.0

// CentralityOptions tunes hub detection.
type CentralityOptions struct {
	// HubMultiplier flags nodes whose combined degree is strictly greater
	// than HubMultiplier times the mean degree. Zero means the default.
	HubMultiplier float64

	// TopPercentile, when in (0, 1], additionally flags the top fraction of
	// nodes by degree (for example 0.01 for the top 1%). Nodes with zero
	// degree are never hubs.
	TopPercentile float64
}

// DegreeScore is the degree of one node.
type DegreeScore struct {
	Node      *graph.GraphNode
	InDegree  int
	OutDegree int
	Hub       bool
}

// Degree returns in-degree plus out-degree.
func (s DegreeScore) Degree() int { return s.InDegree + s.OutDegree }

// CentralityReport ranks nodes by degree.
type CentralityReport struct {
	// Scores holds every node, sorted by degree descending then id.
	Scores []DegreeScore

	// MeanDegree is the average combined degree.
	MeanDegree float64

	// Threshold is HubMultiplier * MeanDegree.
	Threshold float64
}

// Hubs returns the flagged scores in rank order.
func (r CentralityReport) Hubs() []DegreeScore {
	var hubs []DegreeScore
	for _, s := range r.Scores {
		if s.Hub {
			hubs = append(hubs, s)
		}
	}
	return hubs
}

// CalculateCentrality computes in- and out-degree for every node from the
// cached edge-list sizes and flags hubs.
func (e *Engine) CalculateCentrality(opts CentralityOptions) CentralityReport {
	defer e.observe("centrality", time.Now())

	multiplier := opts.HubMultiplier
	if multiplier <= 0 {
		multiplier = DefaultHubMultiplier
	}

	nodes := e.g.Nodes()
	scores := make([]DegreeScore, 0, len(nodes))
	total := 0
	for _, n := range nodes {
		s := DegreeScore{Node: n, InDegree: n.InDegree(), OutDegree: n.OutDegree()}
		total += s.Degree()
		scores = append(scores, s)
	}

	slices.SortFunc(scores, func(a, b DegreeScore) int {
		return cmp.Or(
			cmp.Compare(b.Degree(), a.Degree()),
			cmp.Compare(a.Node.ID, b.Node.ID),
		)
	})

	report := CentralityReport{Scores: scores}
	if len(scores) == 0 {
		return report
	}

	report.MeanDegree = float64(total) / float64(len(scores))
	report.Threshold = multiplier * report.MeanDegree

	topN := 0
	if opts.TopPercentile > 0 && opts.TopPercentile <= 1 {
		topN = int(math.Ceil(opts.TopPercentile * float64(len(scores))))
	}

	for i := range scores {
		d := scores[i].Degree()
		if d == 0 {
			continue
		}
		if float64(d) > report.Threshold || i < topN {
			scores[i].Hub = true
		}
	}

	return report
}

// Package query implements the analytical queries over a sealed
// knowledge graph: bounded traversal, cycle detection, degree centrality
// and orphan detection.
//
// Every operation reads the graph's precomputed indexes and per-node
// edge lists; none of them scans the full edge list to resolve a node's
// neighbours. An Engine holds no mutable state and may be shared by
// concurrent callers.
package query

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Benny93/strata/internal/graph"
)

var meter = otel.Meter("strata.query")

// Engine runs queries against one sealed graph.
type Engine struct {
	g       *graph.KnowledgeGraph
	latency metric.Float64Histogram
}

// NewEngine wraps a sealed graph. Raw or merely indexed graphs are rejected
// with graph.ErrGraphNotReady.
func NewEngine(g *graph.KnowledgeGraph) (*Engine, error) {
	if g == nil || !g.Sealed() {
		return nil, graph.ErrGraphNotReady
	}
	latency, err := meter.Float64Histogram(
		"query_duration_seconds",
		metric.WithDescription("Duration of graph queries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		// Metrics are optional; queries still work without them.
		return &Engine{g: g}, nil
	}
	return &Engine{g: g, latency: latency}, nil
}

// Graph returns the graph the engine queries.
func (e *Engine) Graph() *graph.KnowledgeGraph { return e.g }

func (e *Engine) observe(queryType string, start time.Time) {
	if e.latency == nil {
		return
	}
	e.latency.Record(context.Background(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("query_type", queryType)))
}

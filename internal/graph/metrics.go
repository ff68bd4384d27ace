package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for graph operations.
var (
	tracer = otel.Tracer("strata.graph")
	meter  = otel.Meter("strata.graph")
)

var (
	buildLatency  metric.Float64Histogram
	buildTotal    metric.Int64Counter
	nodesCreated  metric.Int64Histogram
	edgesCreated  metric.Int64Histogram
	linksDropped  metric.Int64Counter
	storeSwapsCtr metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"graph_build_duration_seconds",
			metric.WithDescription("Duration of graph build operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"graph_build_total",
			metric.WithDescription("Total number of graph build operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesCreated, err = meter.Int64Histogram(
			"graph_nodes_created",
			metric.WithDescription("Number of nodes created per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesCreated, err = meter.Int64Histogram(
			"graph_edges_created",
			metric.WithDescription("Number of edges created per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		linksDropped, err = meter.Int64Counter(
			"graph_links_dropped_total",
			metric.WithDescription("Links dropped as dangling during builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		storeSwapsCtr, err = meter.Int64Counter(
			"graph_store_swaps_total",
			metric.WithDescription("Number of times the current graph was replaced"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for a build operation.
func recordBuildMetrics(ctx context.Context, duration time.Duration, stats BuildStats, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))

	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)

	if success {
		nodesCreated.Record(ctx, int64(stats.NodesCreated))
		edgesCreated.Record(ctx, int64(stats.EdgesCreated))
		linksDropped.Add(ctx, int64(stats.LinksDropped))
	}
}

func recordStoreSwap(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	storeSwapsCtr.Add(ctx, 1)
}

// startBuildSpan creates a span for a build operation.
func startBuildSpan(ctx context.Context, atomCount, linkCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph.Build",
		trace.WithAttributes(
			attribute.Int("graph.atom_count", atomCount),
			attribute.Int("graph.link_count", linkCount),
		),
	)
}

// setBuildSpanResult sets the result attributes on a build span.
func setBuildSpanResult(span trace.Span, stats BuildStats) {
	span.SetAttributes(
		attribute.Int("graph.node_count", stats.NodesCreated),
		attribute.Int("graph.edge_count", stats.EdgesCreated),
		attribute.Int("graph.links_dropped", stats.LinksDropped),
	)
}

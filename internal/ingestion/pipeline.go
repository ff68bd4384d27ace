package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Benny93/strata/internal/config"
	"github.com/Benny93/strata/internal/diff"
	"github.com/Benny93/strata/internal/facts"
	"github.com/Benny93/strata/internal/federation"
	"github.com/Benny93/strata/internal/graph"
	"github.com/Benny93/strata/internal/logging"
	"github.com/Benny93/strata/internal/query"
	"github.com/Benny93/strata/internal/rules"
	"github.com/Benny93/strata/internal/storage"
)

// CurrentFactSet is the name the pipeline saves the merged fact set under.
const CurrentFactSet = "current"

var tracer = otel.Tracer("strata.ingestion")

// ProgressCallback is called with phase name and progress (0.0-1.0).
type ProgressCallback func(phase string, progress float64)

// Pipeline turns the bundle directory into the current graph.
// Snapshots and Graphs are optional.
type Pipeline struct {
	BundleDir  string
	Ignore     []string
	Federation federation.Options
	Rules      *rules.RuleSet
	Snapshots  *storage.Store
	Graphs     *graph.Store
	Logger     *slog.Logger
	Progress   ProgressCallback
}

// Result summarizes a pipeline run.
type Result struct {
	// Files and Bundles are index aligned. Both are empty for runs that
	// only re-analysed an existing fact set.
	Files   []BundleFile
	Bundles []*facts.Bundle

	FactSet    *federation.FactSet
	Build      *graph.BuildResult
	Violations []rules.Violation
	Cycles     []query.Cycle
	Snapshot   diff.Snapshot

	// Saved is the metadata of the persisted fact set, zero without a
	// snapshot store.
	Saved storage.Meta

	Duration time.Duration
}

// Graph returns the built graph.
func (r *Result) Graph() *graph.KnowledgeGraph {
	return r.Build.Graph
}

// NewPipeline configures a pipeline from cfg. Rule files are merged over
// the built-in rules in order; any rule that fails to load is an error.
func NewPipeline(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	ruleSet, err := LoadRules(cfg.Rules)
	if err != nil {
		return nil, err
	}

	opts := cfg.FederationOptions()
	opts.Matcher = federation.NameMatcher{}
	opts.Logger = logger

	return &Pipeline{
		BundleDir:  cfg.Bundles.Dir,
		Ignore:     cfg.Bundles.Ignore,
		Federation: opts,
		Rules:      ruleSet,
		Graphs:     graph.NewStore(),
		Logger:     logger,
	}, nil
}

// LoadRules compiles the built-in rules (unless disabled) with the
// configured rule files merged over them.
func LoadRules(cfg config.RulesConfig) (*rules.RuleSet, error) {
	var defaults []rules.Rule
	if !cfg.DisableDefaults {
		defaults = rules.DefaultRules()
	}
	var overrides []rules.Rule
	for _, path := range cfg.Files {
		fileRules, err := rules.LoadFile(path)
		if err != nil {
			return nil, err
		}
		overrides = rules.Merge(overrides, fileRules)
	}
	set, errs := rules.Load(defaults, overrides)
	if len(errs) > 0 {
		return nil, fmt.Errorf("loading rules: %w", errors.Join(errs...))
	}
	return set, nil
}

// Run walks the bundle directory, merges every bundle and analyses the
// result.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ingestion.Run",
		trace.WithAttributes(attribute.String("ingestion.dir", p.BundleDir)),
	)
	defer span.End()

	p.progress("Walking bundles", 0.0)
	files, err := WalkBundles(p.BundleDir, p.Ignore)
	if err != nil {
		return nil, err
	}
	p.progress("Walking bundles", 1.0)

	p.progress("Loading bundles", 0.0)
	bundles, err := LoadBundles(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("loading bundles: %w", err)
	}
	p.progress("Loading bundles", 1.0)
	span.SetAttributes(attribute.Int("ingestion.bundles", len(bundles)))

	p.progress("Merging repositories", 0.0)
	fs, err := federation.Merge(ctx, bundles, p.federationOptions())
	if err != nil {
		return nil, fmt.Errorf("merging bundles: %w", err)
	}
	p.progress("Merging repositories", 1.0)

	result, err := p.Analyze(ctx, fs)
	if err != nil {
		return nil, err
	}
	result.Files = files
	result.Bundles = bundles
	result.Duration = time.Since(start)

	p.logger().Info("pipeline finished",
		slog.Int("bundles", len(bundles)),
		slog.Int("nodes", result.Graph().NodeCount()),
		slog.Int("edges", result.Graph().EdgeCount()),
		slog.Int("violations", len(result.Violations)),
		slog.Int("cycles", len(result.Cycles)),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// Analyze persists fs, builds its graph, indexes node names, evaluates
// the rules, finds cycles and installs the graph in p.Graphs.
func (p *Pipeline) Analyze(ctx context.Context, fs *federation.FactSet) (*Result, error) {
	start := time.Now()
	result := &Result{FactSet: fs}

	if p.Snapshots != nil {
		p.progress("Saving fact set", 0.0)
		meta, err := p.Snapshots.SaveFactSet(ctx, CurrentFactSet, fs)
		if err != nil {
			return nil, fmt.Errorf("saving fact set: %w", err)
		}
		result.Saved = meta
		p.progress("Saving fact set", 1.0)
	}

	p.progress("Building graph", 0.0)
	atoms, links := fs.Facts()
	build, err := graph.NewBuilder(graph.WithLogger(p.logger())).Build(ctx, atoms, links)
	if err != nil {
		return nil, fmt.Errorf("building graph: %w", err)
	}
	result.Build = build
	p.progress("Building graph", 1.0)

	if p.Snapshots != nil {
		p.progress("Indexing names", 0.0)
		if _, err := p.Snapshots.IndexNodes(ctx, build.Graph.Nodes()); err != nil {
			return nil, err
		}
		p.progress("Indexing names", 1.0)
	}

	p.progress("Evaluating rules", 0.0)
	if p.Rules != nil {
		result.Violations, err = p.Rules.Evaluate(ctx, build.Graph)
		if err != nil {
			return nil, fmt.Errorf("evaluating rules: %w", err)
		}
	}
	p.progress("Evaluating rules", 1.0)

	p.progress("Detecting cycles", 0.0)
	engine, err := query.NewEngine(build.Graph)
	if err != nil {
		return nil, err
	}
	result.Cycles = engine.FindCycles()
	result.Snapshot = diff.Capture(build.Graph, result.Violations, result.Cycles)
	p.progress("Detecting cycles", 1.0)

	if p.Graphs != nil {
		if _, err := p.Graphs.Swap(ctx, build.Graph); err != nil {
			return nil, fmt.Errorf("installing graph: %w", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (p *Pipeline) federationOptions() federation.Options {
	opts := p.Federation
	if opts.Logger == nil {
		opts.Logger = p.logger()
	}
	return opts
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return logging.Discard()
	}
	return p.Logger
}

func (p *Pipeline) progress(phase string, progress float64) {
	if p.Progress != nil {
		p.Progress(phase, progress)
	}
}

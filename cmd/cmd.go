// Package cmd provides CLI command implementations for Strata.
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/Benny93/strata/internal/config"
	"github.com/Benny93/strata/internal/diff"
	"github.com/Benny93/strata/internal/federation"
	"github.com/Benny93/strata/internal/graph"
	"github.com/Benny93/strata/internal/ingestion"
	"github.com/Benny93/strata/internal/logging"
	"github.com/Benny93/strata/internal/query"
	"github.com/Benny93/strata/internal/rules"
	"github.com/Benny93/strata/internal/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	// ErrNoIndex is returned by commands that need a built fact set.
	ErrNoIndex = errors.New("no fact set found. Run 'strata build' first")

	// ErrCheckFailed is returned by check when the architecture got worse.
	ErrCheckFailed = errors.New("architecture check failed")
)

var (
	success = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
	failure = color.New(color.FgRed, color.Bold)
)

// Globals are the flags shared by every command.
type Globals struct {
	Config  string `help:"Config file (default: strata.yaml, strata.yml or strata.toml in --dir)" type:"path"`
	Dir     string `short:"C" default:"." help:"Project directory" type:"path"`
	Verbose int    `short:"v" type:"counter" help:"Increase log output (-v info, -vv debug)"`
	Quiet   bool   `short:"q" help:"Suppress logs and progress output"`
	JSON    bool   `name:"json" help:"Print results as JSON"`

	out    io.Writer `kong:"-"`
	errOut io.Writer `kong:"-"`
	in     io.Reader `kong:"-"`
}

// env is the per-invocation state derived from Globals.
type env struct {
	*Globals
	cfg    *config.Config
	logger *slog.Logger
}

func (g *Globals) stdout() io.Writer {
	if g.out == nil {
		return os.Stdout
	}
	return g.out
}

func (g *Globals) stderr() io.Writer {
	if g.errOut == nil {
		return os.Stderr
	}
	return g.errOut
}

func (g *Globals) stdin() io.Reader {
	if g.in == nil {
		return os.Stdin
	}
	return g.in
}

// setup loads the configuration and builds the logger. Explicit -v or -q
// flags win over the configured log level.
func (g *Globals) setup() (*env, error) {
	cfg, err := config.LoadOrDefault(g.Config, g.Dir)
	if err != nil {
		return nil, err
	}
	level := logging.LevelFromString(cfg.Logging.Level)
	if g.Verbose > 0 || g.Quiet {
		level = logging.LevelFromVerbosity(g.Verbose, g.Quiet)
	}
	return &env{
		Globals: g,
		cfg:     cfg,
		logger:  logging.New(g.stderr(), level, cfg.Logging.Format),
	}, nil
}

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.stdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (e *env) printf(format string, args ...any) {
	fmt.Fprintf(e.stdout(), format, args...)
}

// openStore opens the snapshot database. Read-only opens require an
// existing database.
func (e *env) openStore(readOnly bool) (*storage.Store, error) {
	path := e.cfg.Storage.Path
	if readOnly {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w (no database at %s)", ErrNoIndex, path)
		}
	} else if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	store, err := storage.Open(path, readOnly)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func (e *env) loadFactSet(ctx context.Context, store *storage.Store) (*federation.FactSet, error) {
	fs, _, err := store.LoadFactSet(ctx, ingestion.CurrentFactSet)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		return nil, ErrNoIndex
	}
	return fs, err
}

// analysis is the stored fact set rebuilt into a queryable graph.
type analysis struct {
	factSet *federation.FactSet
	build   *graph.BuildResult
	engine  *query.Engine
}

func (a *analysis) graph() *graph.KnowledgeGraph { return a.build.Graph }

// loadAnalysis rebuilds the graph of the last build.
func (e *env) loadAnalysis(ctx context.Context) (*analysis, error) {
	store, err := e.openStore(true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	fs, err := e.loadFactSet(ctx, store)
	if err != nil {
		return nil, err
	}
	atoms, links := fs.Facts()
	build, err := graph.NewBuilder(graph.WithLogger(e.logger)).Build(ctx, atoms, links)
	if err != nil {
		return nil, fmt.Errorf("building graph: %w", err)
	}
	engine, err := query.NewEngine(build.Graph)
	if err != nil {
		return nil, err
	}
	return &analysis{factSet: fs, build: build, engine: engine}, nil
}

func (e *env) progress() ingestion.ProgressCallback {
	if e.Quiet || e.JSON {
		return nil
	}
	w := e.stderr()
	return func(phase string, pct float64) {
		fmt.Fprintf(w, "\r\033[K%s (%.0f%%)", phase, pct*100)
	}
}

// nodeJSON is the JSON form of a node reference.
type nodeJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Namespace string `json:"namespace,omitempty"`
}

func toNodeJSON(n *graph.GraphNode) nodeJSON {
	return nodeJSON{ID: n.ID, Name: n.Name, Kind: string(n.Kind), Namespace: n.Namespace}
}

func describe(n *graph.GraphNode) string {
	if n.Namespace == "" {
		return fmt.Sprintf("%s (%s)", n.Name, n.Kind)
	}
	return fmt.Sprintf("%s (%s) in %s", n.Name, n.Kind, n.Namespace)
}

// nodeName returns the display name of id, falling back to the id itself.
func nodeName(g *graph.KnowledgeGraph, id string) string {
	if n := g.Node(id); n != nil {
		return n.Name
	}
	return id
}

// resolveNode finds a node by id, then by unique display name.
func resolveNode(g *graph.KnowledgeGraph, ref string) (*graph.GraphNode, error) {
	if n := g.Node(ref); n != nil {
		return n, nil
	}
	var matches []string
	for _, n := range g.Nodes() {
		if n.Name == ref {
			matches = append(matches, n.ID)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, ref)
	case 1:
		return g.Node(matches[0]), nil
	}
	slices.Sort(matches)
	return nil, fmt.Errorf("%q matches %d nodes, use one of: %s", ref, len(matches), strings.Join(matches, ", "))
}

// findNode resolves ref exactly, then falls back to the name index written
// by the last build, so "order_repository" finds OrderRepository.
func (e *env) findNode(ctx context.Context, g *graph.KnowledgeGraph, ref string) (*graph.GraphNode, error) {
	n, err := resolveNode(g, ref)
	if !errors.Is(err, graph.ErrNodeNotFound) {
		return n, err
	}

	store, err := e.openStore(true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	hits, err := store.SearchNodes(ctx, ref, 0)
	if err != nil {
		return nil, err
	}
	hit, err := bestHit(ref, hits)
	if err != nil {
		return nil, err
	}
	if n = g.Node(hit.NodeID); n == nil {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, ref)
	}
	e.logger.Info("resolved node by name search", slog.String("query", ref), slog.String("id", n.ID))
	return n, nil
}

// bestHit picks the single top-scoring hit. Hits must be sorted as
// SearchNodes returns them.
func bestHit(ref string, hits []storage.NameHit) (storage.NameHit, error) {
	switch {
	case len(hits) == 0:
		return storage.NameHit{}, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, ref)
	case len(hits) == 1, hits[0].Score > hits[1].Score:
		return hits[0], nil
	}
	var tied []string
	for _, h := range hits {
		if h.Score == hits[0].Score {
			tied = append(tied, h.NodeID)
		}
	}
	return storage.NameHit{}, fmt.Errorf("%q matches %d nodes, use one of: %s", ref, len(tied), strings.Join(tied, ", "))
}

// BuildCmd merges every bundle into the current fact set.
type BuildCmd struct {
	Bundles string `arg:"" optional:"" help:"Bundle directory (default: bundles.dir from the config)" type:"path"`
}

// buildSummary is the JSON form of a build.
type buildSummary struct {
	Bundles              int                `json:"bundles"`
	Repositories         int                `json:"repositories"`
	Atoms                int                `json:"atoms"`
	Links                int                `json:"links"`
	CrossRepositoryLinks int                `json:"crossRepositoryLinks"`
	Conflicts            int                `json:"conflicts"`
	Nodes                int                `json:"nodes"`
	Edges                int                `json:"edges"`
	Diagnostics          []graph.Diagnostic `json:"diagnostics"`
	Violations           []rules.Violation  `json:"violations"`
	Cycles               int                `json:"cycles"`
	Digest               string             `json:"digest"`
	Saved                storage.Meta       `json:"saved"`
	Duration             string             `json:"duration"`
}

func summarize(r *ingestion.Result) buildSummary {
	return buildSummary{
		Bundles:              len(r.Bundles),
		Repositories:         len(r.FactSet.Repositories),
		Atoms:                len(r.FactSet.Atoms),
		Links:                len(r.FactSet.Links),
		CrossRepositoryLinks: r.FactSet.CrossRepositoryLinks(),
		Conflicts:            len(r.FactSet.Conflicts),
		Nodes:                r.Graph().NodeCount(),
		Edges:                r.Graph().EdgeCount(),
		Diagnostics:          r.Build.Diagnostics,
		Violations:           r.Violations,
		Cycles:               len(r.Cycles),
		Digest:               r.Snapshot.Digest,
		Saved:                r.Saved,
		Duration:             r.Duration.Round(time.Millisecond).String(),
	}
}

// Run executes the build command.
func (c *BuildCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.setup()
	if err != nil {
		return err
	}
	if c.Bundles != "" {
		e.cfg.Bundles.Dir = c.Bundles
	}

	p, err := ingestion.NewPipeline(e.cfg, e.logger)
	if err != nil {
		return err
	}
	store, err := e.openStore(false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	p.Snapshots = store
	p.Progress = e.progress()

	if !e.Quiet && !e.JSON {
		success.Fprintf(e.stdout(), "Building %s\n", e.cfg.Bundles.Dir)
	}
	result, err := p.Run(ctx)
	if p.Progress != nil {
		fmt.Fprintln(e.stderr())
	}
	if err != nil {
		return fmt.Errorf("running pipeline: %w", err)
	}

	summary := summarize(result)
	if e.JSON {
		return e.printJSON(summary)
	}

	success.Fprintln(e.stdout(), "\n✓ Build complete")
	e.printf("  Bundles:        %d\n", summary.Bundles)
	e.printf("  Repositories:   %d\n", summary.Repositories)
	e.printf("  Nodes:          %d\n", summary.Nodes)
	e.printf("  Edges:          %d (%d cross-repository)\n", summary.Edges, summary.CrossRepositoryLinks)
	e.printf("  Conflicts:      %d\n", summary.Conflicts)
	e.printf("  Violations:     %d\n", len(summary.Violations))
	e.printf("  Cycles:         %d\n", summary.Cycles)
	e.printf("  Duration:       %s\n", summary.Duration)

	if n := len(summary.Diagnostics); n > 0 {
		warning.Fprintf(e.stdout(), "\n%d links or atoms were dropped\n", n)
		if e.Verbose > 0 {
			for _, d := range summary.Diagnostics {
				e.printf("  - %s\n", d.Error())
			}
		} else {
			e.printf("Run with -v to list them.\n")
		}
	}
	return nil
}

// ImpactCmd shows what depends on a node, or what it depends on.
type ImpactCmd struct {
	Node      string   `arg:"" help:"Node id or unique name"`
	Depth     int      `short:"d" help:"Traversal depth (default: query.maxDepth from the config)"`
	Direction string   `default:"inbound" enum:"inbound,outbound" help:"inbound lists dependents, outbound lists dependencies"`
	Kinds     []string `short:"k" name:"kind" help:"Only follow edges of these kinds"`
}

type impactJSON struct {
	Node      nodeJSON          `json:"node"`
	Direction string            `json:"direction"`
	Depth     int               `json:"depth"`
	Levels    []impactLevelJSON `json:"levels"`
}

type impactLevelJSON struct {
	Depth int              `json:"depth"`
	Nodes []impactStepJSON `json:"nodes"`
}

type impactStepJSON struct {
	nodeJSON
	Via  string `json:"via"`
	From string `json:"from"`
}

// Run executes the impact command.
func (c *ImpactCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.setup()
	if err != nil {
		return err
	}
	a, err := e.loadAnalysis(ctx)
	if err != nil {
		return err
	}

	start, err := e.findNode(ctx, a.graph(), c.Node)
	if err != nil {
		return err
	}
	dir, err := query.ParseDirection(c.Direction)
	if err != nil {
		return err
	}
	depth := c.Depth
	if depth <= 0 {
		depth = e.cfg.Query.MaxDepth
	}
	kinds := make([]graph.EdgeKind, len(c.Kinds))
	for i, k := range c.Kinds {
		kinds[i] = graph.EdgeKind(k)
	}

	levels, err := a.engine.Traverse(start.ID, dir, depth, kinds...)
	if err != nil {
		return err
	}

	if e.JSON {
		out := impactJSON{Node: toNodeJSON(start), Direction: dir.String(), Depth: depth}
		for _, l := range levels {
			level := impactLevelJSON{Depth: l.Depth}
			for _, s := range l.Steps {
				level.Nodes = append(level.Nodes, impactStepJSON{
					nodeJSON: toNodeJSON(s.Node),
					Via:      string(s.Via.Kind),
					From:     s.From.ID,
				})
			}
			out.Levels = append(out.Levels, level)
		}
		return e.printJSON(out)
	}

	e.printf("## Impact Analysis for: **%s** (%s, depth: %d)\n\n", start.Name, dir, depth)
	if len(levels) == 0 {
		if dir == query.Inbound {
			e.printf("No dependents found. Nothing else breaks when %s changes.\n", start.Name)
		} else {
			e.printf("No dependencies found.\n")
		}
		return nil
	}

	total := 0
	for _, l := range levels {
		total += len(l.Steps)
	}
	e.printf("## Affected Nodes (%d)\n\n", total)
	for _, l := range levels {
		label := "Direct"
		if l.Depth == 2 {
			label = "Indirect"
		} else if l.Depth > 2 {
			label = "Transitive"
		}
		e.printf("### Depth %d (%s) - %d nodes\n", l.Depth, label, len(l.Steps))
		for _, s := range l.Steps {
			e.printf("- %s via %s from %s\n", describe(s.Node), s.Via.Kind, s.From.Name)
		}
		e.printf("\n")
	}
	return nil
}

// CyclesCmd lists dependency cycles.
type CyclesCmd struct {
	MinSeverity string `default:"low" enum:"low,medium,high" help:"Hide cycles below this severity"`
}

type cycleJSON struct {
	Severity query.Severity `json:"severity"`
	Nodes    []nodeJSON     `json:"nodes"`
}

var severityRank = map[query.Severity]int{
	query.SeverityLow:    0,
	query.SeverityMedium: 1,
	query.SeverityHigh:   2,
}

// Run executes the cycles command.
func (c *CyclesCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.setup()
	if err != nil {
		return err
	}
	a, err := e.loadAnalysis(ctx)
	if err != nil {
		return err
	}

	minRank := severityRank[query.Severity(c.MinSeverity)]
	var cycles []query.Cycle
	for _, cy := range a.engine.FindCycles() {
		if severityRank[cy.Severity] >= minRank {
			cycles = append(cycles, cy)
		}
	}

	if e.JSON {
		out := make([]cycleJSON, len(cycles))
		for i, cy := range cycles {
			out[i] = cycleJSON{Severity: cy.Severity}
			for _, n := range cy.Nodes {
				out[i].Nodes = append(out[i].Nodes, toNodeJSON(n))
			}
		}
		return e.printJSON(out)
	}

	if len(cycles) == 0 {
		success.Fprintln(e.stdout(), "No cycles found")
		return nil
	}
	e.printf("## Cycles (%d)\n\n", len(cycles))
	for _, cy := range cycles {
		names := make([]string, 0, len(cy.Nodes)+1)
		for _, n := range cy.Nodes {
			names = append(names, n.Name)
		}
		names = append(names, cy.Nodes[0].Name)
		e.printf("- %s %s\n", severityLabel(string(cy.Severity)), strings.Join(names, " -> "))
	}
	return nil
}

func severityLabel(s string) string {
	label := "[" + s + "]"
	switch s {
	case string(query.SeverityHigh), string(rules.SeverityError):
		return failure.Sprint(label)
	case string(query.SeverityMedium), string(rules.SeverityWarning):
		return warning.Sprint(label)
	}
	return label
}

// HubsCmd lists nodes with unusually high degree.
type HubsCmd struct {
	Multiplier float64 `help:"Flag nodes above this multiple of the mean degree (default: query.hubMultiplier)"`
	Top        float64 `help:"Also flag this top fraction of nodes by degree, e.g. 0.01"`
	Limit      int     `short:"n" default:"20" help:"Maximum hubs to show"`
}

type hubJSON struct {
	nodeJSON
	InDegree  int `json:"inDegree"`
	OutDegree int `json:"outDegree"`
}

type hubsJSON struct {
	MeanDegree float64   `json:"meanDegree"`
	Threshold  float64   `json:"threshold"`
	Hubs       []hubJSON `json:"hubs"`
}

// Run executes the hubs command.
func (c *HubsCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.setup()
	if err != nil {
		return err
	}
	a, err := e.loadAnalysis(ctx)
	if err != nil {
		return err
	}

	opts := e.cfg.CentralityOptions()
	if c.Multiplier > 0 {
		opts.HubMultiplier = c.Multiplier
	}
	if c.Top > 0 {
		opts.TopPercentile = c.Top
	}
	report := a.engine.CalculateCentrality(opts)
	hubs := report.Hubs()
	if c.Limit > 0 && len(hubs) > c.Limit {
		hubs = hubs[:c.Limit]
	}

	if e.JSON {
		out := hubsJSON{MeanDegree: report.MeanDegree, Threshold: report.Threshold, Hubs: []hubJSON{}}
		for _, h := range hubs {
			out.Hubs = append(out.Hubs, hubJSON{nodeJSON: toNodeJSON(h.Node), InDegree: h.InDegree, OutDegree: h.OutDegree})
		}
		return e.printJSON(out)
	}

	e.printf("Mean degree %.2f, hub threshold %.2f\n\n", report.MeanDegree, report.Threshold)
	if len(hubs) == 0 {
		e.printf("No hubs found\n")
		return nil
	}
	e.printf("## Hubs (%d)\n\n", len(hubs))
	for _, h := range hubs {
		e.printf("- %s: %d in, %d out\n", describe(h.Node), h.InDegree, h.OutDegree)
	}
	return nil
}

// OrphansCmd lists nodes nothing refers to.
type OrphansCmd struct {
	ExemptPublic bool `help:"Skip public nodes (default: query.exemptPublic)"`
}

// Run executes the orphans command.
func (c *OrphansCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.setup()
	if err != nil {
		return err
	}
	a, err := e.loadAnalysis(ctx)
	if err != nil {
		return err
	}

	opts := e.cfg.OrphanOptions()
	opts.ExemptPublic = opts.ExemptPublic || c.ExemptPublic
	orphans := a.engine.FindOrphans(opts)

	if e.JSON {
		out := make([]nodeJSON, len(orphans))
		for i, n := range orphans {
			out[i] = toNodeJSON(n)
		}
		return e.printJSON(out)
	}

	if len(orphans) == 0 {
		success.Fprintln(e.stdout(), "No orphans found")
		return nil
	}
	e.printf("## Orphans (%d)\n\n", len(orphans))
	for _, n := range orphans {
		e.printf("- %s\n", describe(n))
	}
	return nil
}

// CheckCmd evaluates the architecture rules against the last build.
type CheckCmd struct {
	Rules        []string `help:"Rule files merged over the configured ones"`
	Baseline     string   `help:"Only fail on findings that are new since this baseline"`
	SaveBaseline string   `help:"Store the current analysis as a baseline under this name"`
}

type checkJSON struct {
	Violations []rules.Violation      `json:"violations"`
	Cycles     []diff.CycleRecord     `json:"cycles"`
	Counts     map[rules.Severity]int `json:"counts"`
	Baseline   *diff.Report           `json:"baseline,omitempty"`
	Saved      *storage.Meta          `json:"saved,omitempty"`
}

// Run executes the check command. Without a baseline it fails on any
// error-severity violation; with one, on any new violation or cycle.
func (c *CheckCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.setup()
	if err != nil {
		return err
	}
	e.cfg.Rules.Files = append(e.cfg.Rules.Files, c.Rules...)

	p, err := ingestion.NewPipeline(e.cfg, e.logger)
	if err != nil {
		return err
	}
	store, err := e.openStore(c.SaveBaseline == "")
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	fs, err := e.loadFactSet(ctx, store)
	if err != nil {
		return err
	}
	result, err := p.Analyze(ctx, fs)
	if err != nil {
		return err
	}
	counts := rules.CountBySeverity(result.Violations)
	out := checkJSON{Violations: result.Violations, Cycles: result.Snapshot.Cycles, Counts: counts}

	var failed error
	if c.Baseline != "" {
		base, _, err := store.LoadBaseline(ctx, c.Baseline)
		if err != nil {
			return fmt.Errorf("loading baseline %q: %w", c.Baseline, err)
		}
		report := diff.Compare(base, result.Snapshot)
		out.Baseline = &report
		if report.HasRegressions() {
			failed = fmt.Errorf("%w: %d new violations, %d new cycles since %q", ErrCheckFailed,
				len(report.Structural.NewViolations), len(report.Structural.NewCycles), c.Baseline)
		}
	} else if n := counts[rules.SeverityError]; n > 0 {
		failed = fmt.Errorf("%w: %d error-severity violations", ErrCheckFailed, n)
	}

	if c.SaveBaseline != "" {
		meta, err := store.SaveBaseline(ctx, c.SaveBaseline, result.Snapshot)
		if err != nil {
			return fmt.Errorf("saving baseline: %w", err)
		}
		out.Saved = &meta
	}

	if e.JSON {
		if err := e.printJSON(out); err != nil {
			return err
		}
		return failed
	}

	kg := result.Graph()
	if len(result.Violations) == 0 {
		success.Fprintln(e.stdout(), "No rule violations")
	} else {
		e.printf("## Violations (%d error, %d warning, %d info)\n\n",
			counts[rules.SeverityError], counts[rules.SeverityWarning], counts[rules.SeverityInfo])
		for _, v := range result.Violations {
			e.printf("- %s %s: %s -> %s\n", severityLabel(string(v.Severity)), v.RuleID,
				nodeName(kg, v.SourceID), nodeName(kg, v.TargetID))
		}
	}
	e.printf("\nCycles: %d\n", len(result.Cycles))

	if out.Baseline != nil {
		e.printf("\nCompared with %q: %s\n", c.Baseline, out.Baseline.Summary())
		for _, v := range out.Baseline.Structural.NewViolations {
			e.printf("  new violation %s: %s -> %s\n", v.RuleID, nodeName(kg, v.SourceID), nodeName(kg, v.TargetID))
		}
		for _, cy := range out.Baseline.Structural.NewCycles {
			e.printf("  new cycle %s\n", strings.Join(cy.Nodes, " -> "))
		}
	}
	if out.Saved != nil {
		success.Fprintf(e.stdout(), "Saved baseline %q\n", c.SaveBaseline)
	}
	if failed == nil {
		success.Fprintln(e.stdout(), "✓ Check passed")
	}
	return failed
}

// DiffCmd compares two baselines, or a baseline with the last build.
type DiffCmd struct {
	Base    string `arg:"" help:"Baseline name"`
	Current string `arg:"" optional:"" help:"Baseline to compare against (default: the last build)"`
	Limit   int    `short:"n" default:"20" help:"Maximum ids listed per section"`
}

// Run executes the diff command.
func (c *DiffCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.setup()
	if err != nil {
		return err
	}
	store, err := e.openStore(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	base, _, err := store.LoadBaseline(ctx, c.Base)
	if err != nil {
		return fmt.Errorf("loading baseline %q: %w", c.Base, err)
	}

	var current diff.Snapshot
	if c.Current != "" {
		current, _, err = store.LoadBaseline(ctx, c.Current)
		if err != nil {
			return fmt.Errorf("loading baseline %q: %w", c.Current, err)
		}
	} else {
		p, err := ingestion.NewPipeline(e.cfg, e.logger)
		if err != nil {
			return err
		}
		fs, err := e.loadFactSet(ctx, store)
		if err != nil {
			return err
		}
		result, err := p.Analyze(ctx, fs)
		if err != nil {
			return err
		}
		current = result.Snapshot
	}

	report := diff.Compare(base, current)
	if e.JSON {
		return e.printJSON(report)
	}

	target := c.Current
	if target == "" {
		target = "last build"
	}
	e.printf("## Diff %s..%s\n\n%s\n", c.Base, target, report.Summary())
	if base.Digest == current.Digest {
		success.Fprintln(e.stdout(), "Graphs are identical")
	}
	c.list(e, "Added nodes", report.Topology.AddedNodes)
	c.list(e, "Removed nodes", report.Topology.RemovedNodes)
	c.list(e, "Added edges", report.Topology.AddedEdges)
	c.list(e, "Removed edges", report.Topology.RemovedEdges)

	for _, v := range report.Structural.NewViolations {
		failure.Fprintf(e.stdout(), "+ violation %s: %s -> %s\n", v.RuleID, v.SourceID, v.TargetID)
	}
	for _, v := range report.Structural.ResolvedViolations {
		success.Fprintf(e.stdout(), "- violation %s: %s -> %s\n", v.RuleID, v.SourceID, v.TargetID)
	}
	for _, cy := range report.Structural.NewCycles {
		failure.Fprintf(e.stdout(), "+ cycle %s\n", strings.Join(cy.Nodes, " -> "))
	}
	for _, cy := range report.Structural.ResolvedCycles {
		success.Fprintf(e.stdout(), "- cycle %s\n", strings.Join(cy.Nodes, " -> "))
	}
	return nil
}

func (c *DiffCmd) list(e *env, title string, ids []string) {
	if len(ids) == 0 {
		return
	}
	e.printf("\n### %s (%d)\n", title, len(ids))
	shown := ids
	if c.Limit > 0 && len(shown) > c.Limit {
		shown = shown[:c.Limit]
	}
	for _, id := range shown {
		e.printf("- %s\n", id)
	}
	if len(shown) < len(ids) {
		e.printf("... and %d more\n", len(ids)-len(shown))
	}
}

// ConflictsCmd lists the atom conflicts of the last build.
type ConflictsCmd struct {
	Repository string `short:"r" help:"Only show conflicts involving this repository"`
}

// Run executes the conflicts command.
func (c *ConflictsCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.setup()
	if err != nil {
		return err
	}
	store, err := e.openStore(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	fs, err := e.loadFactSet(ctx, store)
	if err != nil {
		return err
	}
	conflicts := []federation.Conflict{}
	for _, cf := range fs.Conflicts {
		if c.Repository == "" || cf.Kept.Repository == c.Repository || cf.Incoming.Repository == c.Repository {
			conflicts = append(conflicts, cf)
		}
	}

	if e.JSON {
		return e.printJSON(conflicts)
	}
	if len(conflicts) == 0 {
		success.Fprintln(e.stdout(), "No conflicts")
		return nil
	}
	e.printf("## Conflicts (%d)\n\n", len(conflicts))
	for _, cf := range conflicts {
		e.printf("- %s [%s]\n", cf.ID, cf.Resolution)
		e.printf("    kept:     %s %s (%s) from %s, scanned %s\n", cf.Kept.Kind, cf.Kept.Name,
			cf.Kept.Namespace, cf.Kept.Repository, cf.Kept.ScannedAt.Format(time.RFC3339))
		e.printf("    incoming: %s %s (%s) from %s, scanned %s\n", cf.Incoming.Kind, cf.Incoming.Name,
			cf.Incoming.Namespace, cf.Incoming.Repository, cf.Incoming.ScannedAt.Format(time.RFC3339))
	}
	return nil
}

// WatchCmd rebuilds whenever a bundle changes.
type WatchCmd struct {
	Bundles  string        `arg:"" optional:"" help:"Bundle directory (default: bundles.dir from the config)" type:"path"`
	Debounce time.Duration `help:"Quiet period before a rebuild (default: bundles.debounce)"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.setup()
	if err != nil {
		return err
	}
	if c.Bundles != "" {
		e.cfg.Bundles.Dir = c.Bundles
	}
	debounce := e.cfg.Bundles.Debounce
	if c.Debounce > 0 {
		debounce = c.Debounce
	}

	p, err := ingestion.NewPipeline(e.cfg, e.logger)
	if err != nil {
		return err
	}
	store, err := e.openStore(false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	p.Snapshots = store

	if !e.JSON {
		e.printf("## Watch Mode\n")
		e.printf("Watching %s for changes (Ctrl+C to stop)\n\n", e.cfg.Bundles.Dir)
	}

	err = p.Watch(ctx, debounce, func(result *ingestion.Result, err error) {
		if err != nil {
			failure.Fprintf(e.stdout(), "Rebuild failed: %v\n", err)
			return
		}
		if e.JSON {
			_ = e.printJSON(summarize(result))
			return
		}
		success.Fprintf(e.stdout(), "[%s] rebuilt: ", time.Now().Format(time.TimeOnly))
		e.printf("%d nodes, %d edges, %d violations, %d cycles\n",
			result.Graph().NodeCount(), result.Graph().EdgeCount(), len(result.Violations), len(result.Cycles))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}

	if !e.JSON {
		e.printf("Watch mode stopped.\n")
	}
	return nil
}

// StatusCmd shows the stored fact sets and baselines.
type StatusCmd struct{}

type statusJSON struct {
	Config    string         `json:"config,omitempty"`
	Bundles   string         `json:"bundles"`
	Storage   string         `json:"storage"`
	FactSets  []storage.Meta `json:"factSets"`
	Baselines []storage.Meta `json:"baselines"`
}

// Run executes the status command.
func (c *StatusCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.setup()
	if err != nil {
		return err
	}
	store, err := e.openStore(true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	factSets, err := store.List(ctx, storage.KindFactSet)
	if err != nil {
		return err
	}
	baselines, err := store.List(ctx, storage.KindBaseline)
	if err != nil {
		return err
	}

	configPath := e.Config
	if configPath == "" {
		configPath = config.Find(e.Dir)
	}
	if e.JSON {
		return e.printJSON(statusJSON{
			Config:    configPath,
			Bundles:   e.cfg.Bundles.Dir,
			Storage:   e.cfg.Storage.Path,
			FactSets:  factSets,
			Baselines: baselines,
		})
	}

	if configPath == "" {
		configPath = "(defaults)"
	}
	e.printf("Status for %s\n", e.Dir)
	e.printf("  Config:         %s\n", configPath)
	e.printf("  Bundles:        %s\n", e.cfg.Bundles.Dir)
	e.printf("  Storage:        %s\n", e.cfg.Storage.Path)

	e.printf("\nFact sets (%d):\n", len(factSets))
	for _, m := range factSets {
		e.printf("  %-14s %d atoms, %d links, %d conflicts, saved %s\n",
			m.Name, m.Atoms, m.Links, m.Conflicts, m.SavedAt.Format(time.RFC3339))
	}
	e.printf("\nBaselines (%d):\n", len(baselines))
	for _, m := range baselines {
		e.printf("  %-14s %d nodes, %d edges, %d violations, %d cycles, saved %s\n",
			m.Name, m.Nodes, m.Edges, m.Violations, m.Cycles, m.SavedAt.Format(time.RFC3339))
	}
	return nil
}

// CleanCmd deletes the snapshot database.
type CleanCmd struct {
	Force bool `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run(g *Globals) error {
	e, err := g.setup()
	if err != nil {
		return err
	}
	path := e.cfg.Storage.Path
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("no database at %s. Nothing to clean", path)
	}

	if !c.Force {
		e.printf("Delete database at %s? [y/N] ", path)
		response, _ := bufio.NewReader(e.stdin()).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "y" && response != "Y" {
			e.printf("Aborted\n")
			return nil
		}
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting database: %w", err)
	}
	success.Fprintf(e.stdout(), "Deleted %s\n", path)
	return nil
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	// Commands
	Build     BuildCmd     `cmd:"" help:"Merge fact bundles into the knowledge graph"`
	Impact    ImpactCmd    `cmd:"" help:"Show the blast radius of changing a node"`
	Cycles    CyclesCmd    `cmd:"" help:"List dependency cycles"`
	Hubs      HubsCmd      `cmd:"" help:"List highly connected nodes"`
	Orphans   OrphansCmd   `cmd:"" help:"List nodes nothing depends on"`
	Check     CheckCmd     `cmd:"" help:"Evaluate architecture rules"`
	Diff      DiffCmd      `cmd:"" help:"Compare stored baselines"`
	Conflicts ConflictsCmd `cmd:"" help:"List cross-repository atom conflicts"`
	Watch     WatchCmd     `cmd:"" help:"Rebuild on every bundle change"`
	Status    StatusCmd    `cmd:"" help:"Show stored fact sets and baselines"`
	Clean     CleanCmd     `cmd:"" help:"Delete the snapshot database"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
// SIGINT and SIGTERM cancel the running command.
func (c *CLI) Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return c.ExecuteContext(ctx, args)
}

// ExecuteContext is Execute with a caller-supplied context.
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	parser, err := kong.New(c,
		kong.Name("strata"),
		kong.Description("Cross-repository knowledge graph and architecture checks"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err != nil {
		return err
	}
	if c.out != nil {
		parser.Stdout = c.out
	}
	if c.errOut != nil {
		parser.Stderr = c.errOut
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run(&c.Globals)
}

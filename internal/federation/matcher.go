package federation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Benny93/strata/internal/facts"
)

// Matcher proposes links between code atoms and schema atoms.
// Implementations must be safe for concurrent use.
type Matcher interface {
	Match(ctx context.Context, code []facts.CodeAtom, schema []facts.SchemaAtom) ([]facts.Link, error)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(ctx context.Context, code []facts.CodeAtom, schema []facts.SchemaAtom) ([]facts.Link, error)

func (f MatcherFunc) Match(ctx context.Context, code []facts.CodeAtom, schema []facts.SchemaAtom) ([]facts.Link, error) {
	return f(ctx, code, schema)
}

// Confidence levels reported by NameMatcher.
const (
	ExactNameConfidence           = 1.0
	CaseInsensitiveNameConfidence = 0.9
	PluralNameConfidence          = 0.7
)

// NameMatcher links code types to tables and views with the same name.
// Exact matches beat case-insensitive ones, which beat singular/plural
// matches (Order to Orders, Category to Categories).
type NameMatcher struct{}

func (NameMatcher) Match(ctx context.Context, code []facts.CodeAtom, schema []facts.SchemaAtom) ([]facts.Link, error) {
	tables := make(map[string][]facts.SchemaAtom)
	for _, s := range schema {
		switch s.Kind {
		case facts.SchemaTable, facts.SchemaView, facts.SchemaMaterializedView:
			tables[strings.ToLower(s.Name)] = append(tables[strings.ToLower(s.Name)], s)
		}
	}
	if len(tables) == 0 {
		return nil, nil
	}

	var links []facts.Link
	for _, c := range code {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !isTypeKind(c.Kind) {
			continue
		}
		lower := strings.ToLower(c.Name)
		for _, s := range tables[lower] {
			conf, evidence := CaseInsensitiveNameConfidence, "case-insensitive name match"
			if s.Name == c.Name {
				conf, evidence = ExactNameConfidence, "exact name match"
			}
			links = append(links, nameMatch(c, s, conf, evidence))
		}
		for _, form := range pluralForms(lower) {
			for _, s := range tables[form] {
				links = append(links, nameMatch(c, s, PluralNameConfidence, "plural name match"))
			}
		}
	}
	return links, nil
}

func nameMatch(c facts.CodeAtom, s facts.SchemaAtom, conf float64, evidence string) facts.Link {
	return facts.Link{
		SourceID:   c.ID,
		TargetID:   s.ID,
		Kind:       facts.LinkNameMatch,
		Confidence: conf,
		Evidence:   evidence,
	}
}

func isTypeKind(k facts.CodeKind) bool {
	switch k {
	case facts.CodeClass, facts.CodeStruct, facts.CodeRecord, facts.CodeDTO, facts.CodeEntity:
		return true
	default:
		return false
	}
}

// pluralForms returns the other grammatical number of a lower-case name:
// both its plural and, when it looks plural, its singular.
func pluralForms(name string) []string {
	var forms []string
	switch {
	case strings.HasSuffix(name, "ies") && len(name) > 3:
		forms = append(forms, name[:len(name)-3]+"y")
	case strings.HasSuffix(name, "ses"), strings.HasSuffix(name, "xes"), strings.HasSuffix(name, "ches"), strings.HasSuffix(name, "shes"):
		forms = append(forms, name[:len(name)-2])
	case strings.HasSuffix(name, "s") && !strings.HasSuffix(name, "ss"):
		forms = append(forms, name[:len(name)-1])
	}

	switch {
	case strings.HasSuffix(name, "y") && len(name) > 1 && !strings.ContainsRune("aeiou", rune(name[len(name)-2])):
		forms = append(forms, name[:len(name)-1]+"ies")
	case strings.HasSuffix(name, "s"), strings.HasSuffix(name, "x"), strings.HasSuffix(name, "ch"), strings.HasSuffix(name, "sh"):
		forms = append(forms, name+"es")
	default:
		forms = append(forms, name+"s")
	}
	return forms
}

// linkRepositories recomputes cross-repository links for every pair of
// repositories that includes a touched one. Links of untouched pairs are
// kept. Intra-repository links win over cross-repository links with the
// same key.
func (s *state) linkRepositories(ctx context.Context) error {
	if !s.opts.EnableCrossRepositoryLinking || s.opts.Matcher == nil || len(s.repos) < 2 {
		s.cross = nil
		if s.opts.EnableCrossRepositoryLinking && s.opts.Matcher == nil {
			s.logger.Debug("cross-repository linking enabled without a matcher")
		}
		return nil
	}

	code := make(map[string][]facts.CodeAtom, len(s.repos))
	schema := make(map[string][]facts.SchemaAtom, len(s.repos))
	for _, e := range s.sortedEntries() {
		repo := e.prov.Repository
		_, err := facts.Visit(e.atom,
			func(c facts.CodeAtom) struct{} { code[repo] = append(code[repo], c); return struct{}{} },
			func(sa facts.SchemaAtom) struct{} { schema[repo] = append(schema[repo], sa); return struct{}{} },
		)
		if err != nil {
			return err
		}
	}

	type job struct {
		codeRepo, schemaRepo string
	}
	var jobs []job
	for i := range s.repos {
		for j := i + 1; j < len(s.repos); j++ {
			a, b := s.repos[i].Repository, s.repos[j].Repository
			if !s.touched[a] && !s.touched[b] {
				continue
			}
			jobs = append(jobs, job{codeRepo: a, schemaRepo: b}, job{codeRepo: b, schemaRepo: a})
		}
	}

	results := make([][]facts.Link, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, jb := range jobs {
		if len(code[jb.codeRepo]) == 0 || len(schema[jb.schemaRepo]) == 0 {
			continue
		}
		g.Go(func() error {
			links, err := s.opts.Matcher.Match(gctx, code[jb.codeRepo], schema[jb.schemaRepo])
			if err != nil {
				return fmt.Errorf("match %s against %s: %w", jb.codeRepo, jb.schemaRepo, err)
			}
			results[i] = links
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var cross []FederatedLink
	seen := make(map[facts.LinkKey]struct{})
	add := func(l FederatedLink) {
		key := l.Key()
		if _, intra := s.links[key]; intra {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		cross = append(cross, l)
	}

	for _, l := range s.cross {
		if !s.touched[l.Repository] && !s.touched[l.TargetRepository] {
			add(l)
		}
	}
	for i, links := range results {
		for _, l := range links {
			l = l.Normalize()
			l.Confidence *= s.opts.CrossRepositoryConfidenceMultiplier
			add(FederatedLink{
				Link:             l,
				Repository:       jobs[i].codeRepo,
				TargetRepository: jobs[i].schemaRepo,
				CrossRepository:  true,
			})
		}
	}

	s.logger.Debug("cross-repository links computed",
		slog.Int("pairs", len(jobs)/2),
		slog.Int("links", len(cross)),
	)
	s.cross = cross
	return nil
}

// sortedEntries returns the held atoms in id order so matchers see a
// stable input.
func (s *state) sortedEntries() []*entry {
	ids := make([]string, 0, len(s.atoms))
	for id := range s.atoms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*entry, len(ids))
	for i, id := range ids {
		out[i] = s.atoms[id]
	}
	return out
}

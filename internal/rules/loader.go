package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Benny93/strata/internal/graph"
)

// DefaultRules returns the rules that ship pre-loaded.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:            "controller-no-repository",
			Description:   "Controllers must go through a service instead of calling repositories directly",
			Source:        Selector{NamePattern: "*Controller"},
			ForbiddenEdge: graph.EdgeCalls,
			Target:        Selector{NamePattern: "*Repository"},
			Severity:      SeverityError,
		},
		{
			ID:            "domain-no-infrastructure",
			Description:   "Domain code must not depend on infrastructure code",
			Source:        Selector{NamespacePattern: "*[Dd]omain*"},
			ForbiddenEdge: graph.EdgeReferences,
			Target:        Selector{NamespacePattern: "*[Ii]nfrastructure*"},
			Severity:      SeverityError,
		},
		{
			ID:            "controller-no-direct-table",
			Description:   "Controllers must not query tables directly",
			Source:        Selector{NamePattern: "*Controller"},
			ForbiddenEdge: graph.EdgeQueryTrace,
			Target:        Selector{Kind: graph.NodeTable},
			Severity:      SeverityWarning,
		},
	}
}

// Merge overlays overrides onto base by rule id. An override with an
// existing id replaces that rule in place; new ids are appended in the
// order given. The inputs are not modified.
func Merge(base, overrides []Rule) []Rule {
	merged := make([]Rule, 0, len(base)+len(overrides))
	index := make(map[string]int, len(base)+len(overrides))
	for _, r := range base {
		if i, ok := index[r.ID]; ok {
			merged[i] = r
			continue
		}
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}
	for _, r := range overrides {
		if i, ok := index[r.ID]; ok {
			merged[i] = r
			continue
		}
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}
	return merged
}

// Load compiles defaults, then overlays each override by id with the
// same placement as Merge. A rule that fails to compile is skipped and
// reported; when it overrides a rule, the rule it targets stays in force.
func Load(defaults, overrides []Rule) (*RuleSet, []error) {
	set := &RuleSet{byID: make(map[string]*CompiledRule, len(defaults)+len(overrides))}
	index := make(map[string]int, len(defaults)+len(overrides))
	var errs []error
	place := func(r Rule) {
		compiled, err := Compile(r)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if i, ok := index[compiled.ID]; ok {
			set.rules[i] = compiled
		} else {
			index[compiled.ID] = len(set.rules)
			set.rules = append(set.rules, compiled)
		}
		set.byID[compiled.ID] = compiled
	}
	for _, r := range defaults {
		place(r)
	}
	for _, r := range overrides {
		place(r)
	}
	return set, errs
}

// ruleFile is the on-disk shape: either a bare list or {rules: [...]}.
type ruleFile struct {
	Rules []Rule `json:"rules" yaml:"rules"`
}

// DecodeRules parses a YAML or JSON rule list. Both a top-level list and
// a document with a "rules" key are accepted.
func DecodeRules(data []byte, format string) ([]Rule, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var list []Rule
	var doc ruleFile
	switch strings.ToLower(format) {
	case "json":
		if trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return nil, fmt.Errorf("decode rules: %w", err)
			}
			return list, nil
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
		return doc.Rules, nil
	case "yaml", "yml":
		var node yaml.Node
		if err := yaml.Unmarshal(trimmed, &node); err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("decode rules: %w", err)
			}
			return list, nil
		}
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
		return doc.Rules, nil
	default:
		return nil, fmt.Errorf("unsupported rule format %q", format)
	}
}

// LoadFile reads a rule list from a .yaml, .yml or .json file.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	rules, err := DecodeRules(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

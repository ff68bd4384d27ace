// Package rules evaluates architecture rules against a knowledge graph.
//
// A rule forbids edges of one kind between nodes matching a source
// selector and nodes matching a target selector. Selector globs are
// compiled to anchored regular expressions once, when the rule is
// loaded; evaluation only runs the compiled matchers.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Benny93/strata/internal/facts"
	"github.com/Benny93/strata/internal/graph"
)

// Severity of a rule violation.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	default:
		return false
	}
}

// ErrInvalidRule is wrapped by every rule compilation failure.
var ErrInvalidRule = errors.New("invalid rule")

// Selector matches nodes by kind, name glob and namespace glob.
// Empty fields match everything.
type Selector struct {
	Kind             graph.NodeKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	NamePattern      string         `json:"namePattern,omitempty" yaml:"namePattern,omitempty"`
	NamespacePattern string         `json:"namespacePattern,omitempty" yaml:"namespacePattern,omitempty"`
}

// Rule is an architecture rule as written in configuration.
type Rule struct {
	ID            string         `json:"id" yaml:"id"`
	Description   string         `json:"description,omitempty" yaml:"description,omitempty"`
	Source        Selector       `json:"source" yaml:"source"`
	ForbiddenEdge graph.EdgeKind `json:"forbiddenEdge" yaml:"forbiddenEdge"`
	Target        Selector       `json:"target" yaml:"target"`
	Severity      Severity       `json:"severity,omitempty" yaml:"severity,omitempty"`
}

// RuleError reports why a single rule could not be compiled.
type RuleError struct {
	RuleID string
	Err    error
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q: %v", e.RuleID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RuleError) Unwrap() error {
	return e.Err
}

// compiledSelector holds the regular expressions of a selector.
// A nil matcher matches everything.
type compiledSelector struct {
	kind      graph.NodeKind
	name      *regexp.Regexp
	namespace *regexp.Regexp
}

func (s compiledSelector) matches(n *graph.GraphNode) bool {
	if s.kind != "" && n.Kind != s.kind {
		return false
	}
	if s.name != nil && !s.name.MatchString(n.Name) {
		return false
	}
	if s.namespace != nil && !s.namespace.MatchString(n.Namespace) {
		return false
	}
	return true
}

// CompiledRule is a rule with its globs compiled.
type CompiledRule struct {
	Rule
	source compiledSelector
	target compiledSelector
}

// Compile validates a rule and compiles its globs.
func Compile(r Rule) (*CompiledRule, error) {
	fail := func(err error) (*CompiledRule, error) {
		return nil, &RuleError{RuleID: r.ID, Err: fmt.Errorf("%w: %w", ErrInvalidRule, err)}
	}

	if strings.TrimSpace(r.ID) == "" {
		return fail(errors.New("id is empty"))
	}
	if strings.Contains(r.ID, facts.SignatureDelimiter) {
		return fail(errors.New("id contains the reserved signature delimiter"))
	}
	if r.ForbiddenEdge == "" {
		return fail(errors.New("forbiddenEdge is empty"))
	}
	if r.Severity == "" {
		r.Severity = SeverityError
	}
	if !r.Severity.Valid() {
		return fail(fmt.Errorf("unknown severity %q", r.Severity))
	}

	source, err := compileSelector(r.Source)
	if err != nil {
		return fail(fmt.Errorf("source: %w", err))
	}
	target, err := compileSelector(r.Target)
	if err != nil {
		return fail(fmt.Errorf("target: %w", err))
	}

	return &CompiledRule{Rule: r, source: source, target: target}, nil
}

func compileSelector(s Selector) (compiledSelector, error) {
	cs := compiledSelector{kind: s.Kind}
	var err error
	if s.NamePattern != "" {
		if cs.name, err = GlobToRegexp(s.NamePattern); err != nil {
			return cs, fmt.Errorf("namePattern: %w", err)
		}
	}
	if s.NamespacePattern != "" {
		if cs.namespace, err = GlobToRegexp(s.NamespacePattern); err != nil {
			return cs, fmt.Errorf("namespacePattern: %w", err)
		}
	}
	return cs, nil
}

// GlobToRegexp compiles a glob into an anchored regular expression.
//
// Supported syntax: '*' matches any run of characters (dots included, so
// "*domain*" matches both "Shop.Domain"-style terminal segments and nested
// "shop.domain.orders" paths), '?' matches one character, and '[...]'
// matches a character class ('!' or '^' negates it). A backslash escapes
// the next character. Everything else is literal.
func GlobToRegexp(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")

	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("glob %q: trailing backslash", glob)
			}
			i++
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		case '[':
			end := classEnd(runes, i)
			if end < 0 {
				return nil, fmt.Errorf("glob %q: unterminated character class", glob)
			}
			b.WriteString(classToRegexp(runes[i+1 : end]))
			i = end
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}

	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", glob, err)
	}
	return re, nil
}

// classEnd returns the index of the ']' closing the class opened at start,
// or -1. A ']' right after the opening bracket (or negation) is literal.
func classEnd(runes []rune, start int) int {
	i := start + 1
	if i < len(runes) && (runes[i] == '!' || runes[i] == '^') {
		i++
	}
	if i < len(runes) && runes[i] == ']' {
		i++
	}
	for ; i < len(runes); i++ {
		if runes[i] == ']' {
			return i
		}
	}
	return -1
}

func classToRegexp(body []rune) string {
	var b strings.Builder
	b.WriteString("[")
	if len(body) > 0 && (body[0] == '!' || body[0] == '^') {
		b.WriteString("^")
		body = body[1:]
	}
	for _, r := range body {
		switch r {
		case '\\', '[', ']', '^':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	b.WriteString("]")
	return b.String()
}

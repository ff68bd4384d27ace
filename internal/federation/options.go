package federation

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// DefaultCrossRepositoryConfidenceMultiplier discounts links that cross a
// repository boundary.
const DefaultCrossRepositoryConfidenceMultiplier = 0.8

// Policy decides which atom keeps an id seen in more than one repository.
// The zero Policy keeps the first-seen atom.
type Policy string

const (
	// NewestWins replaces the kept atom when the other repository was
	// scanned strictly later.
	NewestWins Policy = "NewestWins"
	// PriorityOrder replaces the kept atom when the other repository ranks
	// strictly higher in Options.RepositoryPriority.
	PriorityOrder Policy = "PriorityOrder"
	// KeepBoth keeps the other variant under "<id>@<repository>".
	KeepBoth Policy = "KeepBoth"
	// Fail aborts the merge with a *ConflictError listing every conflict.
	Fail Policy = "Fail"
)

// ParsePolicy accepts the CamelCase names and their kebab-case forms
// (newest-wins, priority-order, keep-both, fail), case-insensitively.
func ParsePolicy(s string) (Policy, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	switch norm {
	case "newestwins":
		return NewestWins, nil
	case "priorityorder":
		return PriorityOrder, nil
	case "keepboth":
		return KeepBoth, nil
	case "fail":
		return Fail, nil
	default:
		return "", fmt.Errorf("unknown conflict resolution policy %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so that YAML and TOML
// files may use either spelling.
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Settings is the file form of the federation options.
type Settings struct {
	ConflictResolution                  Policy   `yaml:"conflictResolution" toml:"conflictResolution" json:"conflictResolution"`
	RepositoryPriority                  []string `yaml:"repositoryPriority" toml:"repositoryPriority" json:"repositoryPriority"`
	EnableCrossRepositoryLinking        bool     `yaml:"enableCrossRepositoryLinking" toml:"enableCrossRepositoryLinking" json:"enableCrossRepositoryLinking"`
	CrossRepositoryConfidenceMultiplier float64  `yaml:"crossRepositoryConfidenceMultiplier" toml:"crossRepositoryConfidenceMultiplier" json:"crossRepositoryConfidenceMultiplier"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		ConflictResolution:                  NewestWins,
		EnableCrossRepositoryLinking:        true,
		CrossRepositoryConfidenceMultiplier: DefaultCrossRepositoryConfidenceMultiplier,
	}
}

// Validate reports settings no merge can run with.
func (s Settings) Validate() error {
	var errs []error
	switch s.ConflictResolution {
	case "", NewestWins, PriorityOrder, KeepBoth, Fail:
	default:
		errs = append(errs, fmt.Errorf("unknown conflict resolution policy %q", s.ConflictResolution))
	}
	// Zero means unset in Options.
	if m := s.CrossRepositoryConfidenceMultiplier; m <= 0 || m > 1 {
		errs = append(errs, fmt.Errorf("crossRepositoryConfidenceMultiplier %v is outside (0, 1]", m))
	}
	for _, repo := range s.RepositoryPriority {
		if strings.TrimSpace(repo) == "" {
			errs = append(errs, errors.New("repositoryPriority contains an empty repository id"))
			break
		}
	}
	return errors.Join(errs...)
}

// Options returns merge options for these settings.
func (s Settings) Options() Options {
	return Options{
		ConflictResolution:                  s.ConflictResolution,
		RepositoryPriority:                  slices.Clone(s.RepositoryPriority),
		EnableCrossRepositoryLinking:        s.EnableCrossRepositoryLinking,
		CrossRepositoryConfidenceMultiplier: s.CrossRepositoryConfidenceMultiplier,
	}
}

// Options configures Merge and ApplyDelta.
type Options struct {
	ConflictResolution Policy

	// RepositoryPriority lists repository ids from highest to lowest
	// priority. Unlisted repositories rank below every listed one.
	RepositoryPriority []string

	// EnableCrossRepositoryLinking runs Matcher between every pair of
	// repositories. It has no effect without a Matcher.
	EnableCrossRepositoryLinking bool

	// CrossRepositoryConfidenceMultiplier scales the confidence of every
	// cross-repository link. Zero means the default of 0.8.
	CrossRepositoryConfidenceMultiplier float64

	Matcher Matcher
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.CrossRepositoryConfidenceMultiplier == 0 {
		o.CrossRepositoryConfidenceMultiplier = DefaultCrossRepositoryConfidenceMultiplier
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// priorityRank returns the position of repo in RepositoryPriority, or
// len(RepositoryPriority) for unlisted repositories.
func (o Options) priorityRank(repo string) int {
	if i := slices.Index(o.RepositoryPriority, repo); i >= 0 {
		return i
	}
	return len(o.RepositoryPriority)
}

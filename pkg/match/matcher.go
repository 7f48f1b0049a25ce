// Package match selects photos by name patterns and metadata filters.
//
// Name patterns use doublestar glob semantics. Filters operate on the
// metadata a search page already carries (size, dates, content type), so
// no extra upstream calls are needed to evaluate them.
package match

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates glob patterns against photo names.
//
// A name matches when it matches at least one include pattern and no
// exclude pattern. The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	includeHidden bool
	foldCase      bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns a name must match (at least one).
	Includes []string

	// Excludes are glob patterns a name must not match.
	Excludes []string

	// IncludeHidden matches names starting with '.'. Default false.
	IncludeHidden bool

	// CaseInsensitive folds case on both pattern and name, so "*.jpg"
	// also selects "IMG_0001.JPG".
	CaseInsensitive bool
}

// Errors returned by Matcher operations.
var (
	// ErrNoIncludes is returned when no include patterns are provided.
	ErrNoIncludes = errors.New("at least one include pattern is required")

	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a Matcher, validating every pattern.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}

	m := &Matcher{includeHidden: cfg.IncludeHidden, foldCase: cfg.CaseInsensitive}
	var err error
	if m.includes, err = m.compile(cfg.Includes); err != nil {
		return nil, err
	}
	if m.excludes, err = m.compile(cfg.Excludes); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matcher) compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		if m.foldCase {
			p = strings.ToLower(p)
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether name passes the include and exclude patterns.
func (m *Matcher) Match(name string) bool {
	if !m.includeHidden && IsHidden(name) {
		return false
	}
	if m.foldCase {
		name = strings.ToLower(name)
	}

	matched := false
	for _, inc := range m.includes {
		if matchPattern(inc, name) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, exc := range m.excludes {
		if matchPattern(exc, name) {
			return false
		}
	}
	return true
}

// IncludePatterns returns the include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

// IsHidden reports whether any '/'-separated segment of name starts with a dot.
func IsHidden(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func matchPattern(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}

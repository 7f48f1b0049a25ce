package match

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/cloudphotos/pkg/provider"
)

// Filter evaluates whether a photo passes filter criteria.
type Filter interface {
	// Match returns true if the photo passes the filter.
	Match(p *provider.Photo) bool

	// String returns a human-readable description of the filter.
	String() string
}

// FilterConfig holds filter criteria from config or CLI flags.
type FilterConfig struct {
	// Size specifies min/max size constraints.
	Size *SizeFilterConfig `json:"size,omitempty" yaml:"size,omitempty"`

	// Created specifies a creation date range.
	Created *DateFilterConfig `json:"created,omitempty" yaml:"created,omitempty"`

	// ContentType lists allowed MIME types. Globs such as "image/*" are accepted.
	ContentType []string `json:"content_type,omitempty" yaml:"content_type,omitempty"`

	// NameRegex is applied to photo names after glob matching.
	NameRegex string `json:"name_regex,omitempty" yaml:"name_regex,omitempty"`
}

// SizeFilterConfig specifies size constraints.
type SizeFilterConfig struct {
	// Min is the minimum size (inclusive). Supports "1KB", "100MiB".
	Min string `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum size (inclusive).
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// DateFilterConfig specifies a date range.
type DateFilterConfig struct {
	// After selects photos created at or after this time.
	After string `json:"after,omitempty" yaml:"after,omitempty"`

	// Before selects photos created strictly before this time.
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
}

// Filter errors.
var (
	ErrInvalidSize        = errors.New("invalid size value")
	ErrInvalidDate        = errors.New("invalid date value")
	ErrInvalidRegex       = errors.New("invalid regex pattern")
	ErrInvalidContentType = errors.New("invalid content type pattern")
)

// SizeFilter filters photos by byte size.
type SizeFilter struct {
	min int64 // -1 means no minimum
	max int64 // -1 means no maximum
}

// NewSizeFilter returns nil when cfg is nil.
func NewSizeFilter(cfg *SizeFilterConfig) (*SizeFilter, error) {
	if cfg == nil {
		return nil, nil
	}
	f := &SizeFilter{min: -1, max: -1}
	if cfg.Min != "" {
		n, err := ParseSize(cfg.Min)
		if err != nil {
			return nil, fmt.Errorf("min size: %w", err)
		}
		f.min = n
	}
	if cfg.Max != "" {
		n, err := ParseSize(cfg.Max)
		if err != nil {
			return nil, fmt.Errorf("max size: %w", err)
		}
		f.max = n
	}
	if f.min >= 0 && f.max >= 0 && f.min > f.max {
		return nil, fmt.Errorf("%w: min (%d) > max (%d)", ErrInvalidSize, f.min, f.max)
	}
	return f, nil
}

func (f *SizeFilter) Match(p *provider.Photo) bool {
	if f.min >= 0 && p.Size < f.min {
		return false
	}
	if f.max >= 0 && p.Size > f.max {
		return false
	}
	return true
}

func (f *SizeFilter) String() string {
	switch {
	case f.min >= 0 && f.max >= 0:
		return fmt.Sprintf("size: %s - %s", FormatSize(f.min), FormatSize(f.max))
	case f.min >= 0:
		return fmt.Sprintf("size: >= %s", FormatSize(f.min))
	case f.max >= 0:
		return fmt.Sprintf("size: <= %s", FormatSize(f.max))
	}
	return "size: any"
}

// DateFilter filters photos by creation date. Photos whose creation date
// cannot be parsed never match a constrained range.
type DateFilter struct {
	after  time.Time
	before time.Time
}

// NewDateFilter returns nil when cfg is nil.
func NewDateFilter(cfg *DateFilterConfig) (*DateFilter, error) {
	if cfg == nil {
		return nil, nil
	}
	f := &DateFilter{}
	if cfg.After != "" {
		t, err := ParseDate(cfg.After)
		if err != nil {
			return nil, fmt.Errorf("after date: %w", err)
		}
		f.after = t
	}
	if cfg.Before != "" {
		t, err := ParseDate(cfg.Before)
		if err != nil {
			return nil, fmt.Errorf("before date: %w", err)
		}
		f.before = t
	}
	if !f.after.IsZero() && !f.before.IsZero() && !f.after.Before(f.before) {
		return nil, fmt.Errorf("%w: after (%s) >= before (%s)", ErrInvalidDate, f.after, f.before)
	}
	return f, nil
}

func (f *DateFilter) Match(p *provider.Photo) bool {
	if f.after.IsZero() && f.before.IsZero() {
		return true
	}
	created, err := ParseDate(p.CreatedDate)
	if err != nil {
		return false
	}
	if !f.after.IsZero() && created.Before(f.after) {
		return false
	}
	if !f.before.IsZero() && !created.Before(f.before) {
		return false
	}
	return true
}

func (f *DateFilter) String() string {
	switch {
	case !f.after.IsZero() && !f.before.IsZero():
		return fmt.Sprintf("created: %s to %s", f.after.Format(time.DateOnly), f.before.Format(time.DateOnly))
	case !f.after.IsZero():
		return fmt.Sprintf("created: on/after %s", f.after.Format(time.DateOnly))
	case !f.before.IsZero():
		return fmt.Sprintf("created: before %s", f.before.Format(time.DateOnly))
	}
	return "created: any"
}

// ContentTypeFilter keeps photos whose content type matches any pattern.
type ContentTypeFilter struct {
	patterns []string
}

// NewContentTypeFilter returns nil when patterns is empty.
func NewContentTypeFilter(patterns []string) (*ContentTypeFilter, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	f := &ContentTypeFilter{patterns: make([]string, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidContentType, p)
		}
		f.patterns = append(f.patterns, p)
	}
	return f, nil
}

func (f *ContentTypeFilter) Match(p *provider.Photo) bool {
	ct := strings.ToLower(p.ContentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	for _, pat := range f.patterns {
		if matchPattern(pat, ct) {
			return true
		}
	}
	return false
}

func (f *ContentTypeFilter) String() string {
	return "content_type: " + strings.Join(f.patterns, "|")
}

// RegexFilter filters photos by name.
type RegexFilter struct {
	pattern *regexp.Regexp
	raw     string
}

// NewRegexFilter returns nil when pattern is empty.
func NewRegexFilter(pattern string) (*RegexFilter, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegex, err)
	}
	return &RegexFilter{pattern: re, raw: pattern}, nil
}

func (f *RegexFilter) Match(p *provider.Photo) bool {
	return f.pattern.MatchString(p.Name)
}

func (f *RegexFilter) String() string {
	return "name_regex: " + f.raw
}

// CompositeFilter combines filters with AND semantics.
type CompositeFilter struct {
	filters []Filter
}

// NewFilterFromConfig builds a CompositeFilter. It returns nil when no
// criteria are configured.
func NewFilterFromConfig(cfg *FilterConfig) (*CompositeFilter, error) {
	if cfg == nil {
		return nil, nil
	}

	var filters []Filter
	size, err := NewSizeFilter(cfg.Size)
	if err != nil {
		return nil, err
	}
	if size != nil {
		filters = append(filters, size)
	}
	date, err := NewDateFilter(cfg.Created)
	if err != nil {
		return nil, err
	}
	if date != nil {
		filters = append(filters, date)
	}
	ct, err := NewContentTypeFilter(cfg.ContentType)
	if err != nil {
		return nil, err
	}
	if ct != nil {
		filters = append(filters, ct)
	}
	re, err := NewRegexFilter(cfg.NameRegex)
	if err != nil {
		return nil, err
	}
	if re != nil {
		filters = append(filters, re)
	}

	if len(filters) == 0 {
		return nil, nil
	}
	return &CompositeFilter{filters: filters}, nil
}

// Match returns true if all filters pass.
func (f *CompositeFilter) Match(p *provider.Photo) bool {
	for _, filter := range f.filters {
		if !filter.Match(p) {
			return false
		}
	}
	return true
}

func (f *CompositeFilter) String() string {
	parts := make([]string, len(f.filters))
	for i, filter := range f.filters {
		parts[i] = filter.String()
	}
	return strings.Join(parts, ", ")
}

// Filters returns the underlying filters.
func (f *CompositeFilter) Filters() []Filter {
	return f.filters
}

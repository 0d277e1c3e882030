package site

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is the sentinel wrapped by every ValidationError.
var ErrInvalidConfig = errors.New("invalid site configuration")

// Format selects how listing pages are interpreted.
type Format string

const (
	FormatHTML Format = "html"
	FormatFeed Format = "feed"
)

// Priority ranks how prominently a marker is shown in notifications.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Defaults applied to fields a site file leaves out.
const (
	DefaultRequestTimeout = 30
	DefaultRateLimitDelay = 1.0
	DefaultMaxPages       = 5

	MinRequestTimeout = 5
	MaxRequestTimeout = 120
)

// Listing fields a marker may search.
var searchableFields = map[string]bool{
	"title":       true,
	"location":    true,
	"description": true,
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SiteConfig is the declarative description of how to scrape one website.
type SiteConfig struct {
	Name           string            `yaml:"name" json:"name"`
	DisplayName    string            `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	BaseURL        string            `yaml:"base_url" json:"base_url"`
	Enabled        bool              `yaml:"enabled" json:"enabled"`
	Format         Format            `yaml:"format,omitempty" json:"format,omitempty"`
	Selectors      SelectorMap       `yaml:"selectors" json:"selectors"`
	Pagination     *PaginationConfig `yaml:"pagination,omitempty" json:"pagination,omitempty"`
	Markers        []MarkerConfig    `yaml:"markers,omitempty" json:"markers,omitempty"`
	RequestTimeout int               `yaml:"request_timeout" json:"request_timeout"` // seconds
	RateLimitDelay float64           `yaml:"rate_limit_delay" json:"rate_limit_delay"` // seconds

	// Path is the file the configuration was loaded from, if any.
	Path string `yaml:"-" json:"-"`
}

// SelectorMap holds CSS selectors for the listing fields. Listing, Title,
// URL and Location are required; the rest are optional.
type SelectorMap struct {
	Listing     string `yaml:"listing" json:"listing"`
	Title       string `yaml:"title" json:"title"`
	URL         string `yaml:"url" json:"url"`
	Location    string `yaml:"location" json:"location"`
	Price       string `yaml:"price,omitempty" json:"price,omitempty"`
	Size        string `yaml:"size,omitempty" json:"size,omitempty"`
	Rooms       string `yaml:"rooms,omitempty" json:"rooms,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Image       string `yaml:"image,omitempty" json:"image,omitempty"`
}

// FieldSelector pairs a listing field with its selector.
type FieldSelector struct {
	Field    string
	Selector string
	Required bool
}

// Fields returns every configured selector in a fixed display order.
func (s SelectorMap) Fields() []FieldSelector {
	all := []FieldSelector{
		{"listing", s.Listing, true},
		{"title", s.Title, true},
		{"url", s.URL, true},
		{"location", s.Location, true},
		{"price", s.Price, false},
		{"size", s.Size, false},
		{"rooms", s.Rooms, false},
		{"description", s.Description, false},
		{"image", s.Image, false},
	}

	fields := make([]FieldSelector, 0, len(all))
	for _, f := range all {
		if f.Selector != "" || f.Required {
			fields = append(fields, f)
		}
	}
	return fields
}

// PaginationConfig describes how to reach pages after the first. Exactly
// one of URLPattern and NextSelector is used.
type PaginationConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	MaxPages     int    `yaml:"max_pages" json:"max_pages"`
	URLPattern   string `yaml:"url_pattern,omitempty" json:"url_pattern,omitempty"`
	NextSelector string `yaml:"next_selector,omitempty" json:"next_selector,omitempty"`
}

// UnmarshalYAML applies defaults before decoding.
func (p *PaginationConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw PaginationConfig
	decoded := raw{MaxPages: DefaultMaxPages}
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*p = PaginationConfig(decoded)
	return nil
}

// UsesURLPattern reports whether pages are addressed by number.
func (p *PaginationConfig) UsesURLPattern() bool {
	return p != nil && p.URLPattern != ""
}

// MarkerConfig is a labelled keyword/pattern match surfaced on listings.
type MarkerConfig struct {
	Name     string   `yaml:"name" json:"name"`
	Label    string   `yaml:"label" json:"label"`
	Patterns []string `yaml:"patterns" json:"patterns"`
	Priority Priority `yaml:"priority" json:"priority"`
	SearchIn []string `yaml:"search_in" json:"search_in"`
}

// UnmarshalYAML applies defaults before decoding.
func (m *MarkerConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw MarkerConfig
	decoded := raw{
		Priority: PriorityMedium,
		SearchIn: []string{"title", "description"},
	}
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*m = MarkerConfig(decoded)
	if m.Label == "" {
		m.Label = m.Name
	}
	return nil
}

// NewSiteConfig returns a configuration with every default applied.
func NewSiteConfig(name, baseURL string) *SiteConfig {
	return &SiteConfig{
		Name:           name,
		BaseURL:        baseURL,
		Enabled:        true,
		Format:         FormatHTML,
		RequestTimeout: DefaultRequestTimeout,
		RateLimitDelay: DefaultRateLimitDelay,
	}
}

// Title returns the human-readable site name.
func (c *SiteConfig) Title() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Name
}

// Timeout returns the per-request timeout.
func (c *SiteConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Delay returns the pause enforced between consecutive fetches.
func (c *SiteConfig) Delay() time.Duration {
	return time.Duration(c.RateLimitDelay * float64(time.Second))
}

// Paginated reports whether pages after the first should be fetched.
func (c *SiteConfig) Paginated() bool {
	return c.Pagination != nil && c.Pagination.Enabled
}

// MaxPages returns the page limit, which is 1 without pagination.
func (c *SiteConfig) MaxPages() int {
	if !c.Paginated() {
		return 1
	}
	return c.Pagination.MaxPages
}

// ValidationError lists every problem found in one site configuration.
type ValidationError struct {
	Site     string
	Problems []string
}

func (e *ValidationError) Error() string {
	name := e.Site
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("site %s: %s", name, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks the configuration invariants. It returns a
// *ValidationError or nil.
func (c *SiteConfig) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Name == "" {
		add("name is required")
	} else if !namePattern.MatchString(c.Name) {
		add("name %q may only contain letters, digits, '-' and '_'", c.Name)
	}

	if err := validateAbsoluteURL(c.BaseURL); err != nil {
		add("base_url: %v", err)
	}

	switch c.Format {
	case FormatHTML, "":
		for _, f := range c.Selectors.Fields() {
			if f.Required && f.Selector == "" {
				add("missing required selector: %s", f.Field)
			}
		}
	case FormatFeed:
	default:
		add("format must be %q or %q, got %q", FormatHTML, FormatFeed, c.Format)
	}

	for _, f := range c.Selectors.Fields() {
		if f.Selector == "" {
			continue
		}
		if _, err := cascadia.Compile(f.Selector); err != nil {
			add("selector %s (%q) does not compile: %v", f.Field, f.Selector, err)
		}
	}

	if c.Paginated() {
		p := c.Pagination
		switch {
		case p.URLPattern != "" && p.NextSelector != "":
			add("pagination: url_pattern and next_selector are mutually exclusive")
		case p.URLPattern == "" && p.NextSelector == "":
			add("pagination: one of url_pattern or next_selector is required")
		case p.URLPattern != "" && !strings.Contains(p.URLPattern, "{page}"):
			add("pagination: url_pattern must contain {page}")
		case p.NextSelector != "":
			if _, err := cascadia.Compile(p.NextSelector); err != nil {
				add("pagination: next_selector does not compile: %v", err)
			}
		}
		if p.NextSelector != "" && c.Format == FormatFeed {
			add("pagination: next_selector is not supported for feed sites")
		}
		if p.MaxPages < 1 {
			add("pagination: max_pages must be at least 1")
		}
	}

	seen := make(map[string]bool, len(c.Markers))
	for i, m := range c.Markers {
		if m.Name == "" {
			add("marker %d: name is required", i)
		} else if seen[m.Name] {
			add("marker %q is defined twice", m.Name)
		}
		seen[m.Name] = true

		if len(m.Patterns) == 0 {
			add("marker %q: at least one pattern is required", m.Name)
		}
		switch m.Priority {
		case PriorityLow, PriorityMedium, PriorityHigh:
		default:
			add("marker %q: priority must be low, medium or high, got %q", m.Name, m.Priority)
		}
		for _, field := range m.SearchIn {
			if !searchableFields[field] {
				add("marker %q: cannot search field %q", m.Name, field)
			}
		}
	}

	if c.RequestTimeout < MinRequestTimeout || c.RequestTimeout > MaxRequestTimeout {
		add("request_timeout must be between %d and %d seconds, got %d", MinRequestTimeout, MaxRequestTimeout, c.RequestTimeout)
	}
	if c.RateLimitDelay < 0.1 || c.RateLimitDelay > 10 {
		add("rate_limit_delay must be between 0.1 and 10 seconds, got %g", c.RateLimitDelay)
	}

	if len(problems) > 0 {
		return &ValidationError{Site: c.Name, Problems: problems}
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("must use http or https scheme")
	}
	if u.Host == "" {
		return errors.New("must be absolute")
	}
	return nil
}

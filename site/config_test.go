package site

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
name: example
display_name: Example Housing
base_url: https://example.com/flats
selectors:
  listing: article.listing
  title: h2
  url: a.more
  location: .location
  price: .price
pagination:
  enabled: true
  url_pattern: "?page={page}"
markers:
  - name: balcony
    label: Balcony
    patterns: ["balcony", "balkon"]
    search_in: [description]
  - name: new_build
    patterns: ["erstbezug|neubau"]
    priority: high
`

// TestParse_Defaults verifies defaults for omitted fields
func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "example", cfg.Name)
	assert.Equal(t, "Example Housing", cfg.Title())
	assert.True(t, cfg.Enabled, "sites are enabled unless disabled explicitly")
	assert.Equal(t, FormatHTML, cfg.Format)
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, time.Second, cfg.Delay())
	assert.Equal(t, DefaultMaxPages, cfg.MaxPages())
	assert.True(t, cfg.Pagination.UsesURLPattern())

	require.Len(t, cfg.Markers, 2)
	assert.Equal(t, PriorityMedium, cfg.Markers[0].Priority)
	assert.Equal(t, []string{"description"}, cfg.Markers[0].SearchIn)
	assert.Equal(t, "new_build", cfg.Markers[1].Label, "label falls back to name")
	assert.Equal(t, []string{"title", "description"}, cfg.Markers[1].SearchIn)
	assert.Equal(t, PriorityHigh, cfg.Markers[1].Priority)
}

// TestParse_UnknownField verifies typos in field names are rejected
func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte(validYAML + "\nrequest_timout: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timout")
}

// TestParse_Empty verifies an empty file is a configuration error
func TestParse_Empty(t *testing.T) {
	_, err := Parse([]byte(""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

// TestMaxPages_NoPagination verifies a single page is fetched without
// pagination
func TestMaxPages_NoPagination(t *testing.T) {
	cfg := NewSiteConfig("a", "https://example.com")
	assert.Equal(t, 1, cfg.MaxPages())

	cfg.Pagination = &PaginationConfig{Enabled: false, MaxPages: 9}
	assert.Equal(t, 1, cfg.MaxPages())
}

func validConfig() *SiteConfig {
	cfg := NewSiteConfig("example", "https://example.com/flats")
	cfg.Selectors = SelectorMap{
		Listing:  "article",
		Title:    "h2",
		URL:      "a",
		Location: ".loc",
	}
	return cfg
}

// TestValidate checks each invariant in isolation
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *SiteConfig)
		problem string
	}{
		{
			name:    "valid",
			mutate:  func(c *SiteConfig) {},
			problem: "",
		},
		{
			name:    "missing name",
			mutate:  func(c *SiteConfig) { c.Name = "" },
			problem: "name is required",
		},
		{
			name:    "name with spaces",
			mutate:  func(c *SiteConfig) { c.Name = "my site" },
			problem: "may only contain",
		},
		{
			name:    "relative base url",
			mutate:  func(c *SiteConfig) { c.BaseURL = "/flats" },
			problem: "base_url",
		},
		{
			name:    "ftp base url",
			mutate:  func(c *SiteConfig) { c.BaseURL = "ftp://example.com" },
			problem: "http or https",
		},
		{
			name:    "missing title selector",
			mutate:  func(c *SiteConfig) { c.Selectors.Title = "" },
			problem: "missing required selector: title",
		},
		{
			name:    "missing location selector",
			mutate:  func(c *SiteConfig) { c.Selectors.Location = "" },
			problem: "missing required selector: location",
		},
		{
			name:    "broken selector",
			mutate:  func(c *SiteConfig) { c.Selectors.Price = "div[" },
			problem: "selector price",
		},
		{
			name:    "feed format needs no selectors",
			mutate:  func(c *SiteConfig) { c.Format = FormatFeed; c.Selectors = SelectorMap{} },
			problem: "",
		},
		{
			name:    "unknown format",
			mutate:  func(c *SiteConfig) { c.Format = "json" },
			problem: "format must be",
		},
		{
			name: "pagination without mode",
			mutate: func(c *SiteConfig) {
				c.Pagination = &PaginationConfig{Enabled: true, MaxPages: 3}
			},
			problem: "one of url_pattern or next_selector",
		},
		{
			name: "pagination with both modes",
			mutate: func(c *SiteConfig) {
				c.Pagination = &PaginationConfig{Enabled: true, MaxPages: 3, URLPattern: "?p={page}", NextSelector: "a.next"}
			},
			problem: "mutually exclusive",
		},
		{
			name: "pattern without placeholder",
			mutate: func(c *SiteConfig) {
				c.Pagination = &PaginationConfig{Enabled: true, MaxPages: 3, URLPattern: "?page=2"}
			},
			problem: "{page}",
		},
		{
			name: "zero max pages",
			mutate: func(c *SiteConfig) {
				c.Pagination = &PaginationConfig{Enabled: true, MaxPages: 0, NextSelector: "a.next"}
			},
			problem: "max_pages",
		},
		{
			name: "bad priority",
			mutate: func(c *SiteConfig) {
				c.Markers = []MarkerConfig{{Name: "m", Patterns: []string{"x"}, Priority: "urgent", SearchIn: []string{"title"}}}
			},
			problem: "priority must be",
		},
		{
			name: "duplicate marker",
			mutate: func(c *SiteConfig) {
				m := MarkerConfig{Name: "m", Patterns: []string{"x"}, Priority: PriorityLow, SearchIn: []string{"title"}}
				c.Markers = []MarkerConfig{m, m}
			},
			problem: "defined twice",
		},
		{
			name: "marker without patterns",
			mutate: func(c *SiteConfig) {
				c.Markers = []MarkerConfig{{Name: "m", Priority: PriorityLow, SearchIn: []string{"title"}}}
			},
			problem: "at least one pattern",
		},
		{
			name: "marker searching unknown field",
			mutate: func(c *SiteConfig) {
				c.Markers = []MarkerConfig{{Name: "m", Patterns: []string{"x"}, Priority: PriorityLow, SearchIn: []string{"price"}}}
			},
			problem: "cannot search field",
		},
		{
			name:    "timeout too small",
			mutate:  func(c *SiteConfig) { c.RequestTimeout = 1 },
			problem: "request_timeout",
		},
		{
			name:    "delay too large",
			mutate:  func(c *SiteConfig) { c.RateLimitDelay = 30 },
			problem: "rate_limit_delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.problem == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}

// TestSelectorMap_Fields verifies optional empty selectors are omitted
func TestSelectorMap_Fields(t *testing.T) {
	fields := SelectorMap{Listing: "li", Title: "h2", URL: "a", Location: ".l", Price: ".p"}.Fields()

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	assert.Equal(t, []string{"listing", "title", "url", "location", "price"}, names)
	assert.False(t, fields[4].Required)
}

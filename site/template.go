package site

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DisplayNameFor derives a display name from a site name, e.g.
// "wiener-wohnen" becomes "Wiener Wohnen".
func DisplayNameFor(name string) string {
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(name))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Template renders a starter configuration for a new site. The site is
// disabled until its selectors have been filled in.
func Template(name, baseURL, displayName string) ([]byte, error) {
	if !namePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: name %q may only contain letters, digits, '-' and '_'", ErrInvalidConfig, name)
	}
	if err := validateAbsoluteURL(baseURL); err != nil {
		return nil, fmt.Errorf("%w: base_url: %v", ErrInvalidConfig, err)
	}
	if displayName == "" {
		displayName = DisplayNameFor(name)
	}

	cfg := NewSiteConfig(name, baseURL)
	cfg.DisplayName = displayName
	cfg.Enabled = false
	cfg.Selectors = SelectorMap{
		Listing:     "article.listing",
		Title:       "h2",
		URL:         "a",
		Location:    ".location",
		Price:       ".price",
		Size:        ".size",
		Rooms:       ".rooms",
		Description: ".description",
		Image:       "img",
	}
	cfg.Pagination = &PaginationConfig{
		Enabled:    false,
		MaxPages:   DefaultMaxPages,
		URLPattern: "?page={page}",
	}
	cfg.Markers = []MarkerConfig{
		{
			Name:     "balcony",
			Label:    "Balcony",
			Patterns: []string{"balkon", "balcony", "terrasse"},
			Priority: PriorityMedium,
			SearchIn: []string{"title", "description"},
		},
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n", displayName)
	buf.WriteString("# Update the selectors after inspecting the site, then set enabled: true.\n")
	buf.WriteString("# Pagination uses either url_pattern (with {page}) or next_selector.\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return buf.Bytes(), nil
}

package markers

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pevans/flatwatch/listing"
	"github.com/pevans/flatwatch/site"
)

// regexChars are the characters that make a pattern a regular expression
// rather than a literal substring.
const regexChars = `^$.*+?[]{}()\|`

// matcher is one compiled pattern.
type matcher struct {
	re      *regexp.Regexp
	literal string
}

func (m matcher) match(text string) bool {
	if m.re != nil {
		return m.re.MatchString(text)
	}
	return strings.Contains(text, m.literal)
}

type compiledMarker struct {
	config   site.MarkerConfig
	matchers []matcher
}

// Detector attaches configured markers to listings. It is stateless after
// construction and safe for concurrent use.
type Detector struct {
	markers []compiledMarker
	byName  map[string]site.MarkerConfig
}

// NewDetector compiles every marker pattern once. Patterns containing
// regular expression syntax are matched case-insensitively as expressions;
// a pattern that fails to compile is treated as a literal substring.
func NewDetector(markers []site.MarkerConfig) *Detector {
	d := &Detector{
		markers: make([]compiledMarker, 0, len(markers)),
		byName:  make(map[string]site.MarkerConfig, len(markers)),
	}

	for _, m := range markers {
		cm := compiledMarker{config: m}
		for _, p := range m.Patterns {
			cm.matchers = append(cm.matchers, compile(p))
		}
		d.markers = append(d.markers, cm)
		d.byName[m.Name] = m
	}

	return d
}

func compile(pattern string) matcher {
	lower := strings.ToLower(pattern)
	if strings.ContainsAny(pattern, regexChars) {
		if re, err := regexp.Compile("(?i)" + pattern); err == nil {
			return matcher{re: re}
		}
	}
	return matcher{literal: lower}
}

// Detect returns the names of the markers found in the listing, in
// configuration order.
func (d *Detector) Detect(l listing.Listing) []string {
	var found []string

	for _, m := range d.markers {
		parts := make([]string, 0, len(m.config.SearchIn))
		for _, field := range m.config.SearchIn {
			if v := l.Field(field); v != "" {
				parts = append(parts, v)
			}
		}
		if len(parts) == 0 {
			continue
		}
		text := strings.ToLower(strings.Join(parts, " "))

		for _, mt := range m.matchers {
			if mt.match(text) {
				found = append(found, m.config.Name)
				break
			}
		}
	}

	return found
}

// Apply returns copies of the listings with their markers set. The input
// slice is not modified.
func (d *Detector) Apply(listings []listing.Listing) []listing.Listing {
	out := make([]listing.Listing, len(listings))
	for i, l := range listings {
		l.Markers = d.Detect(l)
		out[i] = l
	}
	return out
}

// Label returns the display label of a marker, or its name when unknown.
func (d *Detector) Label(name string) string {
	if m, ok := d.byName[name]; ok && m.Label != "" {
		return m.Label
	}
	return name
}

// Priority returns the priority of a marker, or low when unknown.
func (d *Detector) Priority(name string) site.Priority {
	if m, ok := d.byName[name]; ok {
		return m.Priority
	}
	return site.PriorityLow
}

// Rank orders priorities from most to least prominent.
func Rank(p site.Priority) int {
	switch p {
	case site.PriorityHigh:
		return 0
	case site.PriorityMedium:
		return 1
	default:
		return 2
	}
}

// ByPriority returns the given marker names sorted high to low, keeping
// configuration order within a priority.
func (d *Detector) ByPriority(names []string) []string {
	sorted := append([]string(nil), names...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Rank(d.Priority(sorted[i])) < Rank(d.Priority(sorted[j]))
	})
	return sorted
}

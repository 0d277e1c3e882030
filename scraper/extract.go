package scraper

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/flatwatch/listing"
	"github.com/pevans/flatwatch/site"
)

// ParseError describes a listing container that was skipped because a
// required field could not be extracted. Index is the container's position
// on the page.
type ParseError struct {
	Site  string
	Index int
	Field string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("site %s: listing %d: missing required field %s", e.Site, e.Index, e.Field)
}

// ExtractResult holds the listings found on one page in document order,
// plus the containers that had to be skipped.
type ExtractResult struct {
	Listings []listing.Listing
	Skipped  []*ParseError
}

// Extract applies the site's selectors to one parsed page. pageURL is used
// to resolve relative links. A page without listing containers yields an
// empty result, not an error.
func Extract(doc *goquery.Document, cfg *site.SiteConfig, pageURL string) (*ExtractResult, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	result := &ExtractResult{}
	seen := make(map[string]bool)
	sel := cfg.Selectors

	doc.Find(sel.Listing).Each(func(i int, s *goquery.Selection) {
		// Required fields
		title, ok := text(s, sel.Title)
		if !ok {
			result.Skipped = append(result.Skipped, &ParseError{Site: cfg.Name, Index: i, Field: "title"})
			return
		}
		href, ok := link(s, sel.URL, base)
		if !ok {
			result.Skipped = append(result.Skipped, &ParseError{Site: cfg.Name, Index: i, Field: "url"})
			return
		}
		location, ok := text(s, sel.Location)
		if !ok {
			result.Skipped = append(result.Skipped, &ParseError{Site: cfg.Name, Index: i, Field: "location"})
			return
		}

		// Later duplicates within a page are dropped
		if seen[href] {
			return
		}
		seen[href] = true

		l := listing.New(cfg.Name, href)
		l.Title = title
		l.Location = location

		// Optional fields
		if v, ok := text(s, sel.Price); ok {
			l.Price = ParsePrice(v)
		}
		if v, ok := text(s, sel.Size); ok {
			l.Size = ParseSize(v)
		}
		if v, ok := text(s, sel.Rooms); ok {
			l.Rooms = ParseRooms(v)
		}
		if v, ok := text(s, sel.Description); ok {
			l.Description = v
		}
		if sel.Image != "" {
			l.Image = image(s.Find(sel.Image).First(), base)
		}

		result.Listings = append(result.Listings, l)
	})

	return result, nil
}

// text returns the normalised text of the first element matching selector
// within s. It reports false when nothing matches or the text is empty.
func text(s *goquery.Selection, selector string) (string, bool) {
	if selector == "" {
		return "", false
	}
	match := s.Find(selector).First()
	if match.Length() == 0 {
		return "", false
	}
	t := NormalizeText(match.Text())
	return t, t != ""
}

// link returns the absolute target of the first element matching selector,
// falling back to the first anchor inside it.
func link(s *goquery.Selection, selector string, base *url.URL) (string, bool) {
	match := s.Find(selector).First()
	if match.Length() == 0 {
		return "", false
	}

	href, ok := match.Attr("href")
	if !ok {
		href, ok = match.Find("a[href]").First().Attr("href")
	}
	if !ok {
		return "", false
	}

	return resolve(base, href)
}

// image returns the absolute source of an image element, preferring
// lazy-loading attributes when src is a placeholder.
func image(s *goquery.Selection, base *url.URL) string {
	if s.Length() == 0 {
		return ""
	}
	if !s.Is("img") {
		s = s.Find("img").First()
	}

	for _, attr := range []string{"data-src", "src"} {
		if v, ok := s.Attr(attr); ok && v != "" && !strings.HasPrefix(v, "data:") {
			if abs, ok := resolve(base, v); ok {
				return abs
			}
		}
	}
	return ""
}

// resolve turns href into an absolute http(s) URL relative to base.
func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""

	return abs.String(), true
}

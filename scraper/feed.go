package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/pevans/flatwatch/listing"
	"github.com/pevans/flatwatch/site"
)

// ExtractFeed converts an RSS or Atom listing feed into listings. gofeed
// normalises both formats, so item title, link and description map
// directly onto the listing. Any configured selectors are applied to the
// item's description HTML; the location falls back to the feed title.
func ExtractFeed(data []byte, cfg *site.SiteConfig, pageURL string) (*ExtractResult, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	result := &ExtractResult{}
	seen := make(map[string]bool)
	sel := cfg.Selectors

	for i, item := range feed.Items {
		title := NormalizeText(item.Title)
		if title == "" {
			result.Skipped = append(result.Skipped, &ParseError{Site: cfg.Name, Index: i, Field: "title"})
			continue
		}

		href, ok := resolve(base, item.Link)
		if !ok {
			result.Skipped = append(result.Skipped, &ParseError{Site: cfg.Name, Index: i, Field: "url"})
			continue
		}
		if seen[href] {
			continue
		}

		body := item.Description
		if body == "" {
			body = item.Content
		}
		desc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to parse item description: %w", err)
		}
		s := desc.Selection

		location, ok := text(s, sel.Location)
		if !ok {
			location = NormalizeText(feed.Title)
		}
		if location == "" {
			result.Skipped = append(result.Skipped, &ParseError{Site: cfg.Name, Index: i, Field: "location"})
			continue
		}
		seen[href] = true

		l := listing.New(cfg.Name, href)
		l.Title = title
		l.Location = location
		l.Description = NormalizeText(s.Text())

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

		switch {
		case item.Image != nil && item.Image.URL != "":
			if abs, ok := resolve(base, item.Image.URL); ok {
				l.Image = abs
			}
		case sel.Image != "":
			l.Image = image(s.Find(sel.Image).First(), base)
		default:
			for _, enc := range item.Enclosures {
				if strings.HasPrefix(enc.Type, "image/") {
					if abs, ok := resolve(base, enc.URL); ok {
						l.Image = abs
						break
					}
				}
			}
		}

		result.Listings = append(result.Listings, l)
	}

	return result, nil
}

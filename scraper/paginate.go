package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/flatwatch/listing"
	"github.com/pevans/flatwatch/site"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ScrapeOutcome is everything collected from one site in one pass.
// Truncated is set when a page after the first failed and pagination
// stopped early; the listings gathered until then are kept.
type ScrapeOutcome struct {
	Site      string
	Listings  []listing.Listing
	Pages     int
	Skipped   []*ParseError
	Truncated error
}

// Scraper drives fetching and extraction for configured sites. Every fetch
// made through one Scraper waits on a shared limiter, so the configured
// rate_limit_delay separates consecutive requests even across sites.
type Scraper struct {
	fetcher Fetcher
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a scraper. A nil logger disables logging.
func New(fetcher Fetcher, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		fetcher: fetcher,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logger.Named("scraper"),
	}
}

// Scrape collects listings from every page the site's pagination allows.
func (s *Scraper) Scrape(ctx context.Context, cfg *site.SiteConfig) (*ScrapeOutcome, error) {
	return s.ScrapePages(ctx, cfg, 0)
}

// ScrapePages is Scrape with an additional page limit. A limit of zero or
// less uses the configured maximum.
//
// Pages are processed as fetch, extract, decide-continue until one of the
// stop conditions holds: pagination disabled, the page limit reached, a
// numbered page that adds no listings, a missing or already visited next
// link, or a failed fetch after the first page.
func (s *Scraper) ScrapePages(ctx context.Context, cfg *site.SiteConfig, limit int) (*ScrapeOutcome, error) {
	log := s.logger.With(zap.String("site", cfg.Name))
	s.limiter.SetLimit(rate.Every(cfg.Delay()))

	maxPages := cfg.MaxPages()
	if limit > 0 && limit < maxPages {
		maxPages = limit
	}

	outcome := &ScrapeOutcome{Site: cfg.Name}
	seen := make(map[string]bool)
	visited := make(map[string]bool)
	pageURL := cfg.BaseURL

	for page := 1; ; page++ {
		// fetch-page
		body, err := s.fetch(ctx, cfg, pageURL)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			log.Warn("pagination stopped after fetch failure",
				zap.Int("page", page), zap.String("url", pageURL), zap.Error(err))
			outcome.Truncated = err
			break
		}
		visited[pageURL] = true
		outcome.Pages = page

		// extract
		var doc *goquery.Document
		var result *ExtractResult
		if cfg.Format == site.FormatFeed {
			result, err = ExtractFeed(body, cfg, pageURL)
		} else {
			doc, err = goquery.NewDocumentFromReader(bytes.NewReader(body))
			if err != nil {
				err = fmt.Errorf("failed to parse HTML: %w", err)
			} else {
				result, err = Extract(doc, cfg, pageURL)
			}
		}
		if err != nil {
			if page == 1 {
				return nil, fmt.Errorf("site %s: %w", cfg.Name, err)
			}
			outcome.Truncated = err
			break
		}

		for _, pe := range result.Skipped {
			log.Warn("skipping listing", zap.Int("page", page), zap.Int("index", pe.Index), zap.String("field", pe.Field))
		}
		outcome.Skipped = append(outcome.Skipped, result.Skipped...)

		added := 0
		for _, l := range result.Listings {
			if seen[l.URL] {
				continue
			}
			seen[l.URL] = true
			outcome.Listings = append(outcome.Listings, l)
			added++
		}
		log.Debug("page extracted", zap.Int("page", page), zap.Int("listings", added))

		// decide-continue
		if !cfg.Paginated() || page >= maxPages {
			break
		}

		var next string
		if cfg.Pagination.UsesURLPattern() {
			if added == 0 {
				break
			}
			next, err = PageURL(cfg, page+1)
			if err != nil {
				outcome.Truncated = err
				break
			}
		} else {
			if doc == nil {
				break
			}
			href, ok := doc.Find(cfg.Pagination.NextSelector).First().Attr("href")
			if !ok {
				break
			}
			base, _ := url.Parse(pageURL)
			next, ok = resolve(base, href)
			if !ok || visited[next] {
				break
			}
		}

		pageURL = next
	}

	log.Info("site scraped",
		zap.Int("pages", outcome.Pages),
		zap.Int("listings", len(outcome.Listings)),
		zap.Int("skipped", len(outcome.Skipped)))

	return outcome, nil
}

// fetch waits for the limiter and retrieves one page within the site's
// request timeout.
func (s *Scraper) fetch(ctx context.Context, cfg *site.SiteConfig, pageURL string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("site %s: %w", cfg.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	return s.fetcher.Fetch(ctx, pageURL)
}

// PageURL returns the address of the given page in URL-pattern mode. Page 1
// is always base_url. A pattern beginning with '?' or '&' is appended to
// base_url as a query; anything else is resolved against base_url.
func PageURL(cfg *site.SiteConfig, page int) (string, error) {
	if page <= 1 || !cfg.Pagination.UsesURLPattern() {
		return cfg.BaseURL, nil
	}

	p := strings.ReplaceAll(cfg.Pagination.URLPattern, "{page}", strconv.Itoa(page))
	base := cfg.BaseURL

	switch {
	case strings.HasPrefix(p, "?"), strings.HasPrefix(p, "&"):
		sep := "?"
		if strings.Contains(base, "?") {
			sep = "&"
		}
		return base + sep + p[1:], nil
	default:
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("invalid base_url: %w", err)
		}
		ref, err := url.Parse(p)
		if err != nil {
			return "", fmt.Errorf("invalid url_pattern: %w", err)
		}
		return b.ResolveReference(ref).String(), nil
	}
}

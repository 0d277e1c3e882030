package scraper

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/pevans/flatwatch/listing"
	"github.com/pevans/flatwatch/site"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingPage = `<html><body>
<article class="listing">
  <h2>  Flat
     A </h2>
  <a class="more" href="/flats/a">details</a>
  <span class="location">1020 Wien</span>
  <span class="price">€ 1.200,50</span>
  <span class="size">65,5 m²</span>
  <span class="rooms">3 Zimmer</span>
  <p class="description">Sunny flat with a BALCONY.</p>
  <img src="/img/a.jpg">
</article>
<article class="listing">
  <h2>Flat B</h2>
  <a class="more" href="https://other.example.com/b">details</a>
  <span class="location">1100 Wien</span>
  <span class="price">Preis auf Anfrage</span>
</article>
</body></html>`

func testSite() *site.SiteConfig {
	cfg := site.NewSiteConfig("example", "https://example.com/flats/")
	cfg.Selectors = site.SelectorMap{
		Listing:     "article.listing",
		Title:       "h2",
		URL:         "a.more",
		Location:    ".location",
		Price:       ".price",
		Size:        ".size",
		Rooms:       ".rooms",
		Description: ".description",
		Image:       "img",
	}
	return cfg
}

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

// TestExtract verifies field extraction in document order
func TestExtract(t *testing.T) {
	cfg := testSite()

	result, err := Extract(parseDoc(t, listingPage), cfg, cfg.BaseURL)
	require.NoError(t, err)
	require.Len(t, result.Listings, 2)
	assert.Empty(t, result.Skipped)

	a := result.Listings[0]
	assert.Equal(t, "Flat A", a.Title)
	assert.Equal(t, "https://example.com/flats/a", a.URL)
	assert.Equal(t, listing.GenerateID("example", "https://example.com/flats/a"), a.ID)
	assert.Equal(t, "example", a.Source)
	assert.Equal(t, "1020 Wien", a.Location)
	require.NotNil(t, a.Price)
	assert.InDelta(t, 1200.50, *a.Price, 0.001)
	require.NotNil(t, a.Size)
	assert.InDelta(t, 65.5, *a.Size, 0.001)
	require.NotNil(t, a.Rooms)
	assert.Equal(t, 3.0, *a.Rooms)
	assert.Equal(t, "Sunny flat with a BALCONY.", a.Description)
	assert.Equal(t, "https://example.com/img/a.jpg", a.Image)

	b := result.Listings[1]
	assert.Equal(t, "Flat B", b.Title)
	assert.Equal(t, "https://other.example.com/b", b.URL)
	assert.Nil(t, b.Price, "unparseable price should be absent")
	assert.Nil(t, b.Size)
	assert.Nil(t, b.Rooms)
	assert.Empty(t, b.Description)
	assert.Empty(t, b.Image)
}

// TestExtract_NoContainers verifies an empty page is not an error
func TestExtract_NoContainers(t *testing.T) {
	cfg := testSite()

	result, err := Extract(parseDoc(t, "<html><body><p>Nothing here</p></body></html>"), cfg, cfg.BaseURL)
	require.NoError(t, err)
	assert.Empty(t, result.Listings)
	assert.Empty(t, result.Skipped)
}

// TestExtract_MissingRequiredField verifies incomplete containers are
// skipped while the rest of the page is kept
func TestExtract_MissingRequiredField(t *testing.T) {
	cfg := testSite()
	html := `<html><body>
<article class="listing"><h2>No link</h2><span class="location">Wien</span></article>
<article class="listing"><a class="more" href="/x">x</a><span class="location">Wien</span></article>
<article class="listing"><h2>No location</h2><a class="more" href="/y">y</a></article>
<article class="listing"><h2>Complete</h2><a class="more" href="/z">z</a><span class="location">Wien</span></article>
</body></html>`

	result, err := Extract(parseDoc(t, html), cfg, cfg.BaseURL)
	require.NoError(t, err)

	require.Len(t, result.Listings, 1)
	assert.Equal(t, "Complete", result.Listings[0].Title)

	require.Len(t, result.Skipped, 3)
	assert.Equal(t, "url", result.Skipped[0].Field)
	assert.Equal(t, 0, result.Skipped[0].Index)
	assert.Equal(t, "title", result.Skipped[1].Field)
	assert.Equal(t, "location", result.Skipped[2].Field)
	assert.Contains(t, result.Skipped[2].Error(), "missing required field location")
}

// TestExtract_DuplicateURLs verifies later duplicates on a page are dropped
func TestExtract_DuplicateURLs(t *testing.T) {
	cfg := testSite()
	html := `<html><body>
<article class="listing"><h2>First</h2><a class="more" href="/same">x</a><span class="location">Wien</span></article>
<article class="listing"><h2>Second</h2><a class="more" href="https://example.com/same#photos">x</a><span class="location">Wien</span></article>
</body></html>`

	result, err := Extract(parseDoc(t, html), cfg, cfg.BaseURL)
	require.NoError(t, err)
	require.Len(t, result.Listings, 1)
	assert.Equal(t, "First", result.Listings[0].Title)
}

// TestExtract_LinkInsideElement verifies the URL falls back to a nested
// anchor when the matched element has no href
func TestExtract_LinkInsideElement(t *testing.T) {
	cfg := testSite()
	cfg.Selectors.URL = ".link"
	cfg.Selectors.Image = ".photo"
	html := `<html><body>
<article class="listing"><h2>Nested</h2><div class="link"><a href="detail?id=7">open</a></div>
<span class="location">Wien</span>
<div class="photo"><img src="data:image/gif;base64,AAAA" data-src="/lazy.jpg"></div></article>
</body></html>`

	result, err := Extract(parseDoc(t, html), cfg, "https://example.com/flats/list")
	require.NoError(t, err)
	require.Len(t, result.Listings, 1)
	assert.Equal(t, "https://example.com/flats/detail?id=7", result.Listings[0].URL)
	assert.Equal(t, "https://example.com/lazy.jpg", result.Listings[0].Image)
}

// TestExtract_JavascriptLink verifies non-http links count as missing
func TestExtract_JavascriptLink(t *testing.T) {
	cfg := testSite()
	html := `<html><body>
<article class="listing"><h2>JS</h2><a class="more" href="javascript:void(0)">x</a><span class="location">Wien</span></article>
</body></html>`

	result, err := Extract(parseDoc(t, html), cfg, cfg.BaseURL)
	require.NoError(t, err)
	assert.Empty(t, result.Listings)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "url", result.Skipped[0].Field)
}

package scraper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// DefaultUserAgent identifies flatwatch to the sites it polls.
const DefaultUserAgent = "flatwatch/1.0 (apartment listing monitor)"

// maxBodySize caps how much of a response is read.
const maxBodySize = 10 << 20

// Fetcher retrieves the raw body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchError describes a page that could not be retrieved. StatusCode is
// zero for network failures and timeouts.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// HTTPFetcher fetches pages with plain GET requests. HTML bodies are
// converted to UTF-8.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher creates a fetcher using the given user agent, or
// DefaultUserAgent when empty.
func NewHTTPFetcher(userAgent string) *HTTPFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPFetcher{
		Client:    &http.Client{},
		UserAgent: userAgent,
	}
}

// Fetch performs a GET request. Timeouts are taken from ctx.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body := io.Reader(io.LimitReader(resp.Body, maxBodySize))

	// XML feeds declare their own encoding and are left to the feed parser
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.Contains(contentType, "html") {
		br := bufio.NewReader(body)
		peek, _ := br.Peek(1024)
		enc, _, _ := charset.DetermineEncoding(peek, contentType)
		body = transform.NewReader(br, enc.NewDecoder())
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	return data, nil
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pevans/flatwatch/discovery"
	"github.com/pevans/flatwatch/history"
	"github.com/pevans/flatwatch/listing"
	"github.com/pevans/flatwatch/markers"
	"github.com/pevans/flatwatch/scraper"
	"github.com/pevans/flatwatch/site"
	"github.com/pevans/flatwatch/store"
)

const timeLayout = "2006-01-02 15:04"

// printSyncResult prints the per-site outcome of a pass and a summary
func printSyncResult(out io.Writer, result *discovery.SyncResult) {
	if result.DryRun {
		fmt.Fprintln(out, "Dry run: nothing was saved or sent.")
		fmt.Fprintln(out)
	}

	if len(result.Sites) == 0 {
		fmt.Fprintln(out, "No enabled sites.")
		return
	}

	for _, r := range result.Sites {
		if r.Failed() {
			fmt.Fprintf(out, "✗ %-24s failed: %v\n", r.Site, r.Fatal)
			continue
		}
		fmt.Fprintf(out, "✓ %-24s %3d found, %3d new", r.Site, r.Found, len(r.New))
		if len(r.Updated) > 0 {
			fmt.Fprintf(out, ", %d updated", len(r.Updated))
		}
		if len(r.Removed) > 0 {
			fmt.Fprintf(out, ", %d removed", len(r.Removed))
		}
		if len(r.Errors) > 0 {
			fmt.Fprintf(out, " (%d warnings)", len(r.Errors))
		}
		fmt.Fprintln(out)

		for _, l := range r.New {
			printListingLine(out, l)
		}
		for _, c := range r.Updated {
			printChangeLine(out, c)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%d new listing(s) across %d site(s) in %s\n",
		result.NewCount(), len(result.Sites), result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))

	if n := len(result.FailedSites()); n > 0 {
		fmt.Fprintf(out, "%d site(s) failed\n", n)
	}

	if result.Notification != nil {
		fmt.Fprintf(out, "Email sent to %d of %d recipient(s)\n",
			len(result.Notification.Delivered), result.Notification.Attempted)
	}
	if result.NotifyErr != nil {
		fmt.Fprintf(out, "Email errors: %v\n", result.NotifyErr)
	}
	if result.HistoryErr != nil {
		fmt.Fprintf(out, "History error: %v\n", result.HistoryErr)
	}
}

func printListingLine(out io.Writer, l listing.Listing) {
	var details []string
	if l.Price != nil {
		details = append(details, "€ "+strconv.FormatFloat(*l.Price, 'f', 0, 64))
	}
	if l.Size != nil {
		details = append(details, strconv.FormatFloat(*l.Size, 'f', -1, 64)+" m²")
	}
	if l.Rooms != nil {
		details = append(details, strconv.FormatFloat(*l.Rooms, 'f', -1, 64)+" rooms")
	}
	if len(l.Markers) > 0 {
		details = append(details, "["+strings.Join(l.Markers, ", ")+"]")
	}

	fmt.Fprintf(out, "    + %s", truncate(l.Title, 60))
	if len(details) > 0 {
		fmt.Fprintf(out, " | %s", strings.Join(details, " | "))
	}
	fmt.Fprintln(out)
}

func printChangeLine(out io.Writer, c store.Change) {
	parts := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		old, cur := f.Old, f.New
		if old == "" {
			old = "-"
		}
		if cur == "" {
			cur = "-"
		}
		parts = append(parts, fmt.Sprintf("%s: %s → %s", f.Field, truncate(old, 30), truncate(cur, 30)))
	}
	fmt.Fprintf(out, "    ~ %s | %s\n", truncate(c.Title, 60), strings.Join(parts, " | "))
}

func printLoadErrors(out io.Writer, errs []site.LoadError) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%d site configuration(s) could not be loaded:\n", len(errs))
	for _, le := range errs {
		fmt.Fprintf(out, "  %s\n", le.Error())
	}
}

// printSiteTable prints configured sites with their stored listing counts
func printSiteTable(out io.Writer, sites []*site.SiteConfig, st *store.Store) error {
	if len(sites) == 0 {
		fmt.Fprintln(out, "No sites configured.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-28s %-8s %-6s %-8s %s\n", "NAME", "DISPLAY NAME", "ENABLED", "PAGES", "MARKERS", "STORED")
	fmt.Fprintln(out, strings.Repeat("-", 84))

	for _, cfg := range sites {
		stats, err := st.Stats(cfg.Name)
		if err != nil {
			return err
		}
		enabled := "no"
		if cfg.Enabled {
			enabled = "yes"
		}
		fmt.Fprintf(out, "%-20s %-28s %-8s %-6d %-8d %d\n",
			truncate(cfg.Name, 20), truncate(cfg.Title(), 28), enabled, cfg.MaxPages(), len(cfg.Markers), stats.Active)
	}

	fmt.Fprintf(out, "\nTotal: %d site(s)\n", len(sites))
	return nil
}

func printSiteInfo(out io.Writer, cfg *site.SiteConfig, stats *store.Stats) {
	fmt.Fprintf(out, "Name:            %s\n", cfg.Name)
	fmt.Fprintf(out, "Display Name:    %s\n", cfg.Title())
	fmt.Fprintf(out, "Base URL:        %s\n", cfg.BaseURL)
	fmt.Fprintf(out, "Enabled:         %t\n", cfg.Enabled)
	fmt.Fprintf(out, "Format:          %s\n", cfg.Format)
	fmt.Fprintf(out, "Request Timeout: %s\n", cfg.Timeout())
	fmt.Fprintf(out, "Rate Limit:      %s\n", cfg.Delay())
	if cfg.Path != "" {
		fmt.Fprintf(out, "File:            %s\n", cfg.Path)
	}

	fmt.Fprintln(out, "\nSelectors:")
	for _, f := range cfg.Selectors.Fields() {
		req := ""
		if f.Required {
			req = " (required)"
		}
		fmt.Fprintf(out, "  %-12s %s%s\n", f.Field+":", f.Selector, req)
	}

	fmt.Fprintln(out, "\nPagination:")
	switch {
	case !cfg.Paginated():
		fmt.Fprintln(out, "  disabled")
	case cfg.Pagination.UsesURLPattern():
		fmt.Fprintf(out, "  url pattern %s, up to %d pages\n", cfg.Pagination.URLPattern, cfg.MaxPages())
	default:
		fmt.Fprintf(out, "  next link %s, up to %d pages\n", cfg.Pagination.NextSelector, cfg.MaxPages())
	}

	if len(cfg.Markers) > 0 {
		fmt.Fprintln(out, "\nMarkers:")
		for _, m := range cfg.Markers {
			fmt.Fprintf(out, "  %-16s %-7s %s (in %s)\n", m.Label, m.Priority,
				strings.Join(m.Patterns, ", "), strings.Join(m.SearchIn, ", "))
		}
	}

	fmt.Fprintln(out, "\nStored Listings:")
	fmt.Fprintf(out, "  %d active, %d removed, %d recorded changes\n", stats.Active, stats.Removed, stats.Changes)
	if stats.LastScrape != nil {
		fmt.Fprintf(out, "  last scrape %s\n", stats.LastScrape.Local().Format(timeLayout))
	}
	if stats.Newest != nil {
		fmt.Fprintf(out, "  newest first seen %s\n", stats.Newest.Local().Format(timeLayout))
	}
}

// printScrapeOutcome shows the result of a live test scrape
func printScrapeOutcome(out io.Writer, outcome *scraper.ScrapeOutcome, listings []listing.Listing, detector *markers.Detector, show int) {
	fmt.Fprintf(out, "Fetched %d page(s), extracted %d listing(s)", outcome.Pages, len(listings))
	if len(outcome.Skipped) > 0 {
		fmt.Fprintf(out, ", skipped %d", len(outcome.Skipped))
	}
	fmt.Fprintln(out)
	if outcome.Truncated != nil {
		fmt.Fprintf(out, "Pagination stopped early: %v\n", outcome.Truncated)
	}

	if len(listings) == 0 {
		fmt.Fprintln(out, "\nNo listings found. Check the listing selector against the page.")
		return
	}

	for i, l := range listings {
		if i >= show {
			fmt.Fprintf(out, "\n... and %d more\n", len(listings)-show)
			break
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%d. %s\n", i+1, l.Title)
		fmt.Fprintf(out, "   Location: %s\n", l.Location)
		if l.Price != nil {
			fmt.Fprintf(out, "   Price:    € %s\n", strconv.FormatFloat(*l.Price, 'f', 0, 64))
		}
		if l.Size != nil {
			fmt.Fprintf(out, "   Size:     %s m²\n", strconv.FormatFloat(*l.Size, 'f', -1, 64))
		}
		if l.Rooms != nil {
			fmt.Fprintf(out, "   Rooms:    %s\n", strconv.FormatFloat(*l.Rooms, 'f', -1, 64))
		}
		if len(l.Markers) > 0 {
			labels := make([]string, 0, len(l.Markers))
			for _, name := range l.Markers {
				labels = append(labels, detector.Label(name))
			}
			fmt.Fprintf(out, "   Markers:  %s\n", strings.Join(labels, ", "))
		}
		fmt.Fprintf(out, "   URL:      %s\n", l.URL)
	}

	if len(outcome.Skipped) > 0 {
		fmt.Fprintln(out, "\nSkipped listings:")
		for _, pe := range outcome.Skipped {
			fmt.Fprintf(out, "  %v\n", pe)
		}
	}
}

// printMarkerTest shows which markers match stored listings
func printMarkerTest(out io.Writer, cfg *site.SiteConfig, records []store.Record, detector *markers.Detector, limit int) {
	if len(cfg.Markers) == 0 {
		fmt.Fprintf(out, "Site %s has no markers configured.\n", cfg.Name)
		return
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "No stored listings for %s. Run a scrape first.\n", cfg.Name)
		return
	}

	counts := make(map[string]int)
	for i, rec := range records {
		found := detector.Detect(rec.Data)
		for _, name := range found {
			counts[name]++
		}
		if i >= limit {
			continue
		}

		labels := make([]string, 0, len(found))
		for _, name := range found {
			labels = append(labels, detector.Label(name))
		}
		mark := "-"
		if len(labels) > 0 {
			mark = strings.Join(labels, ", ")
		}
		fmt.Fprintf(out, "%-60s %s\n", truncate(rec.Data.Title, 60), mark)
	}

	fmt.Fprintf(out, "\nMatches across %d stored listing(s):\n", len(records))
	for _, m := range cfg.Markers {
		fmt.Fprintf(out, "  %-16s %d\n", m.Label, counts[m.Name])
	}
}

// printStatusTable prints site health from run history
func printStatusTable(out io.Writer, statuses []history.SiteStatus) {
	if len(statuses) == 0 {
		fmt.Fprintln(out, "No sites configured.")
		return
	}

	fmt.Fprintf(out, "%-20s %-10s %-17s %-17s %-7s %-6s %s\n",
		"SITE", "HEALTH", "LAST RUN", "LAST SUCCESS", "ERRORS", "FOUND", "LAST ERROR")
	fmt.Fprintln(out, strings.Repeat("-", 100))

	for _, s := range statuses {
		health := "never run"
		lastRun, lastSuccess := "-", "-"
		if s.LastRunAt != nil {
			health = s.Health()
			lastRun = s.LastRunAt.Local().Format(timeLayout)
		}
		if s.LastSuccessAt != nil {
			lastSuccess = s.LastSuccessAt.Local().Format(timeLayout)
		}
		lastErr := ""
		if s.LastError != nil {
			lastErr = truncate(*s.LastError, 40)
		}

		fmt.Fprintf(out, "%-20s %-10s %-17s %-17s %-7d %-6d %s\n",
			truncate(s.Site, 20), health, lastRun, lastSuccess, s.FetchErrorCount, s.LastFound, lastErr)
	}
}

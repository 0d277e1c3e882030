package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pevans/flatwatch/discovery"
	"github.com/pevans/flatwatch/history"
	"github.com/pevans/flatwatch/notify"
	"github.com/pevans/flatwatch/scraper"
	"github.com/pevans/flatwatch/site"
	"github.com/pevans/flatwatch/store"
	"go.uber.org/zap"
)

// loadSites reads the sites directory. Files that fail to load are logged
// and reported back so callers can decide the exit status.
func (a *app) loadSites() (*site.LoadResult, error) {
	result, err := site.LoadDir(a.settings.SitesDir)
	if err != nil {
		return nil, err
	}

	for _, le := range result.Errors {
		a.logger.Warn("skipping site configuration", zap.String("path", le.Path), zap.Error(le.Err))
	}

	// Sites that keep the built-in timeout use the configured default
	for _, cfg := range result.Sites {
		if cfg.RequestTimeout == site.DefaultRequestTimeout {
			cfg.RequestTimeout = int(a.settings.RequestTimeout.Seconds())
		}
	}

	return result, nil
}

// findSite loads the sites directory and returns the named site.
func (a *app) findSite(name string) (*site.SiteConfig, error) {
	result, err := a.loadSites()
	if err != nil {
		return nil, err
	}
	cfg := result.Find(name)
	if cfg == nil {
		return nil, fmt.Errorf("site %q not found in %s", name, a.settings.SitesDir)
	}
	return cfg, nil
}

func (a *app) openStore() (*store.Store, error) {
	return store.Open(filepath.Join(a.settings.DataDir, "listings"))
}

// openHistory returns nil when run history is disabled.
func (a *app) openHistory() (*history.Store, error) {
	if !a.settings.HistoryEnabled() {
		return nil, nil
	}

	source := a.settings.HistorySource()
	if a.settings.HistoryDriver == history.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(source), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	return history.Open(a.settings.HistoryDriver, source)
}

func (a *app) newScraper() *scraper.Scraper {
	return scraper.New(scraper.NewHTTPFetcher(a.settings.UserAgent), a.logger)
}

func (a *app) newNotifier() *notify.Notifier {
	return notify.New(a.settings.EmailFrom, a.settings.Accounts, notify.ResendFactory, a.logger)
}

// newService wires the orchestrator. The returned cleanup closes the
// history database. A dry run never opens history, since opening creates
// the database.
func (a *app) newService(sites []*site.SiteConfig, dryRun bool) (*discovery.Service, *store.Store, *history.Store, func(), error) {
	st, err := a.openStore()
	if err != nil {
		return nil, nil, nil, nil, err
	}

	var hist *history.Store
	if !dryRun {
		hist, err = a.openHistory()
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("failed to open run history: %w", err)
		}
	}
	cleanup := func() {
		if hist != nil {
			hist.Close()
		}
	}

	svc := discovery.New(discovery.Options{
		Sites:    sites,
		Scraper:  a.newScraper(),
		Store:    st,
		Notifier: a.newNotifier(),
		History:  hist,
		Logger:   a.logger,
	})

	return svc, st, hist, cleanup, nil
}

// truncate shortens s to n runes for table output.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

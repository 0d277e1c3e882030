package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/flatwatch/history"
	"github.com/pevans/flatwatch/listing"
	"github.com/pevans/flatwatch/markers"
	"github.com/pevans/flatwatch/notify"
	"github.com/pevans/flatwatch/scraper"
	"github.com/pevans/flatwatch/site"
	"github.com/pevans/flatwatch/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options wires the collaborators of a Service. History and Logger may be
// nil.
type Options struct {
	Sites    []*site.SiteConfig
	Scraper  *scraper.Scraper
	Store    *store.Store
	Notifier *notify.Notifier
	History  *history.Store
	Logger   *zap.Logger
}

// Service runs scrape passes over the configured sites, either once or on
// a polling schedule.
type Service struct {
	sites    []*site.SiteConfig
	scraper  *scraper.Scraper
	store    *store.Store
	notifier *notify.Notifier
	history  *history.Store
	logger   *zap.Logger
	now      func() time.Time

	syncMu sync.Mutex

	mu   sync.Mutex
	last *SyncResult

	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a service from its collaborators.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sites:    opts.Sites,
		scraper:  opts.Scraper,
		store:    opts.Store,
		notifier: opts.Notifier,
		history:  opts.History,
		logger:   logger.Named("discovery"),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// SyncOptions controls one pass.
type SyncOptions struct {
	// DryRun scrapes and diffs but writes nothing and sends nothing.
	DryRun bool
	// Only restricts the pass to the named sites. Disabled sites named
	// here are scraped as well.
	Only []string
}

// SiteResult is the outcome of one site within a pass. Fatal is set when
// the site could not be scraped at all; Errors holds problems that only
// cost individual listings or pages.
type SiteResult struct {
	Site    string
	Title   string
	Found   int
	Pages   int
	New     []listing.Listing
	Updated []store.Change
	Removed []string
	Errors  []error
	Fatal   error

	detector *markers.Detector
}

// Failed reports whether the site's pass aborted.
func (r *SiteResult) Failed() bool {
	return r.Fatal != nil
}

// Health classifies the pass the same way run history does.
func (r *SiteResult) Health() string {
	switch {
	case r.Fatal != nil:
		return "failed"
	case r.Found == 0:
		return "unhealthy"
	default:
		return "healthy"
	}
}

// SyncResult aggregates one pass over all selected sites.
type SyncResult struct {
	RunID        uuid.UUID
	StartedAt    time.Time
	FinishedAt   time.Time
	DryRun       bool
	Sites        []SiteResult
	Notification *notify.Report
	NotifyErr    error
	HistoryErr   error
}

// NewCount returns the number of new listings across all sites.
func (r *SyncResult) NewCount() int {
	n := 0
	for _, s := range r.Sites {
		n += len(s.New)
	}
	return n
}

// Batches groups the new listings by site, leaving out sites with none.
func (r *SyncResult) Batches() []notify.Batch {
	var batches []notify.Batch
	for _, s := range r.Sites {
		if len(s.New) == 0 {
			continue
		}
		batches = append(batches, notify.Batch{
			Site:      s.Site,
			SiteTitle: s.Title,
			Listings:  s.New,
			Markers:   s.detector,
		})
	}
	return batches
}

// FailedSites returns the sites whose pass aborted.
func (r *SyncResult) FailedSites() []SiteResult {
	var failed []SiteResult
	for _, s := range r.Sites {
		if s.Failed() {
			failed = append(failed, s)
		}
	}
	return failed
}

// Err combines the fatal site errors, or returns nil. Notification and
// history failures are reported separately and do not count.
func (r *SyncResult) Err() error {
	var errs []error
	for _, s := range r.Sites {
		if s.Fatal != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Site, s.Fatal))
		}
	}
	return multierr.Combine(errs...)
}

// Last returns the most recent completed pass, or nil.
func (s *Service) Last() *SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Sites returns the configured sites.
func (s *Service) Sites() []*site.SiteConfig {
	return s.sites
}

// selectSites returns the sites for a pass in configuration order.
func (s *Service) selectSites(only []string) ([]*site.SiteConfig, error) {
	if len(only) == 0 {
		return site.Enabled(s.sites), nil
	}

	wanted := make(map[string]bool, len(only))
	for _, name := range only {
		wanted[name] = true
	}

	var selected []*site.SiteConfig
	for _, cfg := range s.sites {
		if wanted[cfg.Name] {
			selected = append(selected, cfg)
			delete(wanted, cfg.Name)
		}
	}
	for _, name := range only {
		if wanted[name] {
			return nil, fmt.Errorf("unknown site %q", name)
		}
	}

	return selected, nil
}

// SyncSites scrapes every selected site in configuration order, records
// what is new, and sends one notification covering all sites. A failing
// site does not stop the others. The returned error is only for problems
// that prevent the pass from starting.
func (s *Service) SyncSites(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	sites, err := s.selectSites(opts.Only)
	if err != nil {
		return nil, err
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	result := &SyncResult{
		RunID:     uuid.New(),
		StartedAt: s.now(),
		DryRun:    opts.DryRun,
	}
	log := s.logger.With(zap.String("run_id", result.RunID.String()))
	log.Info("sync starting", zap.Int("sites", len(sites)), zap.Bool("dry_run", opts.DryRun))

	for _, cfg := range sites {
		res := s.syncSite(ctx, cfg, opts.DryRun)
		if res.Fatal != nil {
			log.Error("site failed", zap.String("site", cfg.Name), zap.Error(res.Fatal))
		} else {
			log.Info("site synced",
				zap.String("site", cfg.Name),
				zap.Int("found", res.Found),
				zap.Int("new", len(res.New)),
				zap.Int("updated", len(res.Updated)),
				zap.Int("removed", len(res.Removed)))
		}
		result.Sites = append(result.Sites, res)
	}

	if !opts.DryRun {
		s.notify(ctx, result)
	}

	result.FinishedAt = s.now()

	if !opts.DryRun && s.history != nil {
		if err := s.recordHistory(ctx, result); err != nil {
			log.Error("failed to record run history", zap.Error(err))
			result.HistoryErr = err
		}
	}

	log.Info("sync finished",
		zap.Int("new", result.NewCount()),
		zap.Int("failed", len(result.FailedSites())),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)))

	s.mu.Lock()
	s.last = result
	s.mu.Unlock()

	return result, nil
}

// syncSite runs scrape, marker detection and the store diff for one site.
// Outside a dry run the store is updated and flushed before returning, so
// a listing is only reported as new once.
// Notification happens after the flush, so delivery is at most once: a
// listing whose email fails to send is not offered again.
func (s *Service) syncSite(ctx context.Context, cfg *site.SiteConfig, dryRun bool) SiteResult {
	res := SiteResult{Site: cfg.Name, Title: cfg.Title()}

	outcome, err := s.scraper.Scrape(ctx, cfg)
	if err != nil {
		res.Fatal = err
		return res
	}
	res.Found = len(outcome.Listings)
	res.Pages = outcome.Pages
	for _, pe := range outcome.Skipped {
		res.Errors = append(res.Errors, pe)
	}
	if outcome.Truncated != nil {
		res.Errors = append(res.Errors, outcome.Truncated)
	}

	res.detector = markers.NewDetector(cfg.Markers)
	found := res.detector.Apply(outcome.Listings)

	ns, err := s.store.Site(cfg.Name)
	if err != nil {
		res.Fatal = err
		return res
	}

	now := s.now()
	fresh := ns.Diff(found)
	for i := range fresh {
		fresh[i].FirstSeen = now
	}
	updated := ns.Updated(found, now)

	if dryRun {
		res.New = fresh
		res.Updated = updated
		return res
	}

	ns.AddChanges(updated)
	ns.RecordAll(found, now)

	// A truncated pass did not see every listing, so absence proves nothing.
	if outcome.Truncated == nil {
		ids := make([]string, 0, len(found))
		for _, l := range found {
			ids = append(ids, l.ID)
		}
		res.Removed = ns.MarkMissing(ids, now)
	}

	if err := ns.Flush(now); err != nil {
		res.Fatal = err
		return res
	}

	res.New = fresh
	res.Updated = updated
	return res
}

func (s *Service) notify(ctx context.Context, result *SyncResult) {
	if s.notifier == nil {
		return
	}

	batches := result.Batches()
	if len(batches) == 0 {
		return
	}

	report, err := s.notifier.Notify(ctx, batches)
	result.Notification = report
	if err != nil {
		s.logger.Error("notification failed", zap.Error(err))
		result.NotifyErr = err
	}
}

func (s *Service) recordHistory(ctx context.Context, result *SyncResult) error {
	run := history.Run{
		ID:          result.RunID,
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
		DryRun:      result.DryRun,
		Sites:       len(result.Sites),
		NewListings: result.NewCount(),
		FailedSites: len(result.FailedSites()),
	}

	outcomes := make([]history.SiteOutcome, 0, len(result.Sites))
	for _, r := range result.Sites {
		outcomes = append(outcomes, history.SiteOutcome{
			Site:  r.Site,
			Found: r.Found,
			New:   len(r.New),
			Err:   r.Fatal,
		})
	}

	return s.history.RecordRun(ctx, run, outcomes)
}

// Run syncs immediately and then once per interval until the context is
// cancelled or Stop is called.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info("discovery service starting", zap.Duration("interval", interval))

	s.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("discovery service stopping (context cancelled)")
			return ctx.Err()
		case <-s.stopChan:
			s.logger.Info("discovery service stopping")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	if _, err := s.SyncSites(ctx, SyncOptions{}); err != nil {
		s.logger.Error("sync failed", zap.Error(err))
	}
}

// Stop signals Run to return after the current pass.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

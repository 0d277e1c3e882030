package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrSiteNotFound is returned when a site has no recorded runs.
var ErrSiteNotFound = errors.New("site not found in history")

// Store records scrape runs and per-site health in a SQL database.
type Store struct {
	db     *sql.DB
	driver string
}

// Run is one orchestration pass.
type Run struct {
	ID          uuid.UUID `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	DryRun      bool      `json:"dry_run"`
	Sites       int       `json:"sites"`
	NewListings int       `json:"new_listings"`
	FailedSites int       `json:"failed_sites"`
}

// SiteOutcome is the result of one site within a run. A non-nil Err marks
// the site as failed.
type SiteOutcome struct {
	Site  string
	Found int
	New   int
	Err   error
}

// SiteStatus is the accumulated health of one site.
type SiteStatus struct {
	Site            string     `json:"site"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	FetchErrorCount int        `json:"fetch_error_count"`
	LastError       *string    `json:"last_error,omitempty"`
	LastFound       int        `json:"last_found"`
	LastNew         int        `json:"last_new"`
}

// Health classifies the site as "failed" when its last run errored,
// "unhealthy" when it returned no listings, and "healthy" otherwise.
func (s SiteStatus) Health() string {
	switch {
	case s.FetchErrorCount > 0:
		return "failed"
	case s.LastFound == 0:
		return "unhealthy"
	default:
		return "healthy"
	}
}

// Open connects to the database and creates the schema if needed.
func Open(driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, driver: driver}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the tables if they don't exist. Column types are kept
// to what both drivers accept; timestamps are stored as RFC 3339 text.
func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			dry_run INTEGER NOT NULL DEFAULT 0,
			sites INTEGER NOT NULL DEFAULT 0,
			new_listings INTEGER NOT NULL DEFAULT 0,
			failed_sites INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS site_status (
			site TEXT PRIMARY KEY,
			last_run_at TEXT,
			last_success_at TEXT,
			fetch_error_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			last_found INTEGER NOT NULL DEFAULT 0,
			last_new INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites '?' placeholders as $1, $2, ... for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RecordRun stores a run and updates the status of every site in it. A
// successful site resets its error count; a failed one increments it and
// keeps the error message.
func (s *Store) RecordRun(ctx context.Context, run Run, outcomes []SiteOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	dryRun := 0
	if run.DryRun {
		dryRun = 1
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO runs (run_id, started_at, finished_at, dry_run, sites, new_listings, failed_sites)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`),
		run.ID.String(),
		formatTime(&run.StartedAt),
		formatTime(&run.FinishedAt),
		dryRun,
		run.Sites,
		run.NewListings,
		run.FailedSites,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, o := range outcomes {
		if o.Err == nil {
			_, err = tx.ExecContext(ctx, s.rebind(`
				INSERT INTO site_status (site, last_run_at, last_success_at, fetch_error_count, last_error, last_found, last_new)
				VALUES (?, ?, ?, 0, NULL, ?, ?)
				ON CONFLICT (site) DO UPDATE SET
					last_run_at = excluded.last_run_at,
					last_success_at = excluded.last_success_at,
					fetch_error_count = 0,
					last_error = NULL,
					last_found = excluded.last_found,
					last_new = excluded.last_new
			`),
				o.Site,
				formatTime(&run.FinishedAt),
				formatTime(&run.FinishedAt),
				o.Found,
				o.New,
			)
		} else {
			_, err = tx.ExecContext(ctx, s.rebind(`
				INSERT INTO site_status (site, last_run_at, fetch_error_count, last_error, last_found, last_new)
				VALUES (?, ?, 1, ?, 0, 0)
				ON CONFLICT (site) DO UPDATE SET
					last_run_at = excluded.last_run_at,
					fetch_error_count = site_status.fetch_error_count + 1,
					last_error = excluded.last_error,
					last_found = 0,
					last_new = 0
			`),
				o.Site,
				formatTime(&run.FinishedAt),
				o.Err.Error(),
			)
		}
		if err != nil {
			return fmt.Errorf("failed to update status for %s: %w", o.Site, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// LatestRuns returns the most recent runs, newest first.
func (s *Store) LatestRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT run_id, started_at, finished_at, dry_run, sites, new_listings, failed_sites
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var idStr, startedAt, finishedAt string
		var dryRun int
		var run Run

		if err := rows.Scan(&idStr, &startedAt, &finishedAt, &dryRun, &run.Sites, &run.NewListings, &run.FailedSites); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.ID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run ID: %w", err)
		}
		run.StartedAt = parseTime(startedAt)
		run.FinishedAt = parseTime(finishedAt)
		run.DryRun = dryRun != 0

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

const siteStatusColumns = `site, last_run_at, last_success_at, fetch_error_count, last_error, last_found, last_new`

// SiteStatus returns the health of one site.
func (s *Store) SiteStatus(ctx context.Context, site string) (*SiteStatus, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+siteStatusColumns+` FROM site_status WHERE site = ?`), site)

	status, err := scanSiteStatus(row)
	if err == sql.ErrNoRows {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query site status: %w", err)
	}

	return status, nil
}

// ListSiteStatus returns the health of every recorded site, by name.
func (s *Store) ListSiteStatus(ctx context.Context) ([]SiteStatus, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+siteStatusColumns+` FROM site_status ORDER BY site`)
	if err != nil {
		return nil, fmt.Errorf("failed to query site status: %w", err)
	}
	defer rows.Close()

	var statuses []SiteStatus
	for rows.Next() {
		status, err := scanSiteStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site status: %w", err)
		}
		statuses = append(statuses, *status)
	}

	return statuses, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSiteStatus(row scanner) (*SiteStatus, error) {
	var status SiteStatus
	var lastRunAt, lastSuccessAt, lastError sql.NullString

	err := row.Scan(
		&status.Site, &lastRunAt, &lastSuccessAt,
		&status.FetchErrorCount, &lastError,
		&status.LastFound, &status.LastNew,
	)
	if err != nil {
		return nil, err
	}

	if lastRunAt.Valid {
		t := parseTime(lastRunAt.String)
		status.LastRunAt = &t
	}
	if lastSuccessAt.Valid {
		t := parseTime(lastSuccessAt.String)
		status.LastSuccessAt = &t
	}
	if lastError.Valid {
		status.LastError = &lastError.String
	}

	return &status, nil
}

// timeFormat is fixed width so that stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

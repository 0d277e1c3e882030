package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pevans/flatwatch/listing"
)

// ErrCorrupt is wrapped by errors for site files that cannot be decoded.
var ErrCorrupt = errors.New("corrupt listing store")

// Status tracks whether a listing was still present on its site at the
// last scrape.
type Status string

const (
	StatusActive  Status = "active"
	StatusRemoved Status = "removed"
)

// maxChanges bounds the change log kept per site; the oldest entries are
// dropped first.
const maxChanges = 500

// Record is one known listing. Data is the listing as it was first seen and
// never changes; Current holds the latest scraped version once it differs.
type Record struct {
	ID        string           `json:"id"`
	Status    Status           `json:"status"`
	FirstSeen time.Time        `json:"first_seen"`
	LastSeen  time.Time        `json:"last_seen"`
	Data      listing.Listing  `json:"data"`
	Current   *listing.Listing `json:"current,omitempty"`
}

// Latest returns the most recently scraped version of the listing.
func (r *Record) Latest() listing.Listing {
	if r.Current != nil {
		return *r.Current
	}
	return r.Data
}

// FieldChange is one monitored field that differs between scrapes.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// Change records that a known listing was re-seen with different content.
type Change struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	URL        string        `json:"url"`
	DetectedAt time.Time     `json:"detected_at"`
	Fields     []FieldChange `json:"fields"`
}

// siteFile is the on-disk layout of one site namespace.
type siteFile struct {
	Site       string             `json:"site"`
	LastScrape *time.Time         `json:"last_scrape,omitempty"`
	Listings   map[string]*Record `json:"listings"`
	Changes    []Change           `json:"changes,omitempty"`
}

// Store keeps one JSON file per site in a directory.
type Store struct {
	dir string
}

// Open returns a store rooted at dir. The directory is created by the
// first Flush, so reading never touches the disk.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory holding the site files.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(site string) string {
	return filepath.Join(s.dir, site+".json")
}

// Site loads the namespace of one site. A site that has never been
// recorded starts empty. Changes stay in memory until Flush.
func (s *Store) Site(name string) (*SiteStore, error) {
	ss := &SiteStore{
		path: s.path(name),
		data: siteFile{Site: name, Listings: make(map[string]*Record)},
	}

	data, err := os.ReadFile(ss.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ss, nil
		}
		return nil, fmt.Errorf("failed to read store for %s: %w", name, err)
	}

	if err := json.Unmarshal(data, &ss.data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, ss.path, err)
	}
	if ss.data.Listings == nil {
		ss.data.Listings = make(map[string]*Record)
	}
	ss.data.Site = name

	return ss, nil
}

// Sites returns the names of every site with a store file, sorted.
func (s *Store) Sites() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)

	return names, nil
}

// Stats summarises the stored listings of one site.
type Stats struct {
	Site       string     `json:"site"`
	Total      int        `json:"total"`
	Active     int        `json:"active"`
	Removed    int        `json:"removed"`
	Changes    int        `json:"changes"`
	LastScrape *time.Time `json:"last_scrape,omitempty"`
	Newest     *time.Time `json:"newest,omitempty"`
	Oldest     *time.Time `json:"oldest,omitempty"`
}

// Stats loads a site and summarises it.
func (s *Store) Stats(site string) (*Stats, error) {
	ss, err := s.Site(site)
	if err != nil {
		return nil, err
	}
	return ss.Stats(), nil
}

// Listings returns the stored records of a site, newest first.
func (s *Store) Listings(site string) ([]Record, error) {
	ss, err := s.Site(site)
	if err != nil {
		return nil, err
	}
	return ss.Records(), nil
}

// SiteStore is the in-memory view of one site's known listings.
type SiteStore struct {
	path string
	data siteFile
}

// IsNew reports whether the listing ID has never been recorded, either on
// disk or earlier in the current run.
func (ss *SiteStore) IsNew(id string) bool {
	_, ok := ss.data.Listings[id]
	return !ok
}

// Diff returns the listings that are new, in input order. A listing that
// appears twice in the input is only reported once.
func (ss *SiteStore) Diff(listings []listing.Listing) []listing.Listing {
	var fresh []listing.Listing
	batch := make(map[string]bool)

	for _, l := range listings {
		if batch[l.ID] || !ss.IsNew(l.ID) {
			continue
		}
		batch[l.ID] = true
		fresh = append(fresh, l)
	}

	return fresh
}

// Updated compares re-seen listings with their latest stored version and
// returns one Change per listing whose monitored fields differ, in input
// order. It does not modify the store.
func (ss *SiteStore) Updated(listings []listing.Listing, now time.Time) []Change {
	var changes []Change
	batch := make(map[string]bool)

	for _, l := range listings {
		rec, ok := ss.data.Listings[l.ID]
		if !ok || batch[l.ID] {
			continue
		}
		batch[l.ID] = true

		fields := CompareListings(rec.Latest(), l)
		if len(fields) == 0 {
			continue
		}
		changes = append(changes, Change{
			ID:         l.ID,
			Title:      l.Title,
			URL:        l.URL,
			DetectedAt: now,
			Fields:     fields,
		})
	}

	return changes
}

// AddChanges appends to the site's change log.
func (ss *SiteStore) AddChanges(changes []Change) {
	ss.data.Changes = append(ss.data.Changes, changes...)
	if n := len(ss.data.Changes); n > maxChanges {
		ss.data.Changes = append([]Change(nil), ss.data.Changes[n-maxChanges:]...)
	}
}

// Changes returns the change log, oldest first.
func (ss *SiteStore) Changes() []Change {
	return append([]Change(nil), ss.data.Changes...)
}

// RecordAll marks every listing as seen at now. Unknown listings are added
// with their first-seen time; known ones have last_seen refreshed, their
// Current version replaced when content changed, and are reactivated if
// they had been removed. It returns how many were added.
func (ss *SiteStore) RecordAll(listings []listing.Listing, now time.Time) int {
	added := 0

	for _, l := range listings {
		l := l // per-iteration copy; &l is retained below
		if rec, ok := ss.data.Listings[l.ID]; ok {
			rec.LastSeen = now
			rec.Status = StatusActive
			if len(CompareListings(rec.Latest(), l)) > 0 {
				l.FirstSeen = rec.FirstSeen
				rec.Current = &l
			}
			continue
		}

		if l.FirstSeen.IsZero() {
			l.FirstSeen = now
		}
		ss.data.Listings[l.ID] = &Record{
			ID:        l.ID,
			Status:    StatusActive,
			FirstSeen: l.FirstSeen,
			LastSeen:  now,
			Data:      l,
		}
		added++
	}

	return added
}

// CompareListings returns the monitored fields that differ between two
// versions of a listing. Markers, images and URLs are not monitored.
func CompareListings(old, cur listing.Listing) []FieldChange {
	var fields []FieldChange
	add := func(field, a, b string) {
		if a != b {
			fields = append(fields, FieldChange{Field: field, Old: a, New: b})
		}
	}

	add("title", old.Title, cur.Title)
	add("price", formatNumber(old.Price), formatNumber(cur.Price))
	add("size", formatNumber(old.Size), formatNumber(cur.Size))
	add("rooms", formatNumber(old.Rooms), formatNumber(cur.Rooms))
	add("location", old.Location, cur.Location)
	add("description", old.Description, cur.Description)

	return fields
}

func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// MarkMissing marks active listings whose IDs are not in seen as removed
// and returns the IDs it changed.
func (ss *SiteStore) MarkMissing(seen []string, now time.Time) []string {
	present := make(map[string]bool, len(seen))
	for _, id := range seen {
		present[id] = true
	}

	var removed []string
	for id, rec := range ss.data.Listings {
		if rec.Status == StatusActive && !present[id] {
			rec.Status = StatusRemoved
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)

	return removed
}

// Flush writes the namespace to disk, replacing the previous file
// atomically.
func (ss *SiteStore) Flush(now time.Time) error {
	ss.data.LastScrape = &now

	data, err := json.MarshalIndent(ss.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(ss.path)
	// 0700: owner-only access
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(ss.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	if err := os.Rename(tmpName, ss.path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}

	return nil
}

// Stats summarises the namespace.
func (ss *SiteStore) Stats() *Stats {
	st := &Stats{Site: ss.data.Site, LastScrape: ss.data.LastScrape, Changes: len(ss.data.Changes)}

	for _, rec := range ss.data.Listings {
		st.Total++
		if rec.Status == StatusRemoved {
			st.Removed++
		} else {
			st.Active++
		}

		first := rec.FirstSeen
		if st.Newest == nil || first.After(*st.Newest) {
			st.Newest = &first
		}
		if st.Oldest == nil || first.Before(*st.Oldest) {
			st.Oldest = &first
		}
	}

	return st
}

// Records returns copies of the stored records, newest first.
func (ss *SiteStore) Records() []Record {
	records := make([]Record, 0, len(ss.data.Listings))
	for _, rec := range ss.data.Listings {
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].FirstSeen.Equal(records[j].FirstSeen) {
			return records[i].ID < records[j].ID
		}
		return records[i].FirstSeen.After(records[j].FirstSeen)
	})
	return records
}

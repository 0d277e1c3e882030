package listing

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Listing represents a single apartment found on a site. Price, Size and
// Rooms are nil when the site does not show them or they could not be
// parsed.
type Listing struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Location    string    `json:"location"`
	Price       *float64  `json:"price,omitempty"`
	Size        *float64  `json:"size,omitempty"`
	Rooms       *float64  `json:"rooms,omitempty"`
	Description string    `json:"description,omitempty"`
	Image       string    `json:"image,omitempty"`
	Source      string    `json:"source"`
	Markers     []string  `json:"markers,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
}

// GenerateID derives the stable identifier for a listing from its site and
// detail URL.
func GenerateID(site, url string) string {
	sum := md5.Sum([]byte(site + ":" + url))
	return site + "-" + hex.EncodeToString(sum[:])[:16]
}

// New returns a listing for the given site and detail URL with its ID set.
func New(site, url string) Listing {
	return Listing{
		ID:     GenerateID(site, url),
		URL:    url,
		Source: site,
	}
}

// HasMarker reports whether the named marker was detected on the listing.
func (l Listing) HasMarker(name string) bool {
	for _, m := range l.Markers {
		if m == name {
			return true
		}
	}
	return false
}

// Field returns the text of a searchable field by name.
func (l Listing) Field(name string) string {
	switch name {
	case "title":
		return l.Title
	case "location":
		return l.Location
	case "description":
		return l.Description
	}
	return ""
}

package markers

import (
	"testing"

	"github.com/pevans/flatwatch/listing"
	"github.com/pevans/flatwatch/site"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marker(name string, priority site.Priority, searchIn []string, patterns ...string) site.MarkerConfig {
	return site.MarkerConfig{
		Name:     name,
		Label:    name + " label",
		Patterns: patterns,
		Priority: priority,
		SearchIn: searchIn,
	}
}

var titleAndDescription = []string{"title", "description"}

// TestDetect_Literal verifies case-insensitive literal matching restricted
// to the configured fields
func TestDetect_Literal(t *testing.T) {
	d := NewDetector([]site.MarkerConfig{
		marker("balcony", site.PriorityMedium, []string{"description"}, "balcony"),
	})

	withBalcony := listing.Listing{Title: "Flat A", Description: "Bright flat with a BALCONY"}
	inTitleOnly := listing.Listing{Title: "Balcony flat", Description: "Quiet street"}

	assert.Equal(t, []string{"balcony"}, d.Detect(withBalcony))
	assert.Empty(t, d.Detect(inTitleOnly), "title is not searched")
}

// TestDetect_Regex verifies regular expression patterns
func TestDetect_Regex(t *testing.T) {
	d := NewDetector([]site.MarkerConfig{
		marker("new_build", site.PriorityHigh, titleAndDescription, `erstbezug|neubau`),
		marker("rooms", site.PriorityLow, titleAndDescription, `\b[34][ -]?zimmer`),
	})

	l := listing.Listing{Title: "NEUBAU Projekt", Description: "Schöne 3-Zimmer Wohnung"}
	assert.Equal(t, []string{"new_build", "rooms"}, d.Detect(l))

	l = listing.Listing{Title: "Altbau", Description: "2 Zimmer"}
	assert.Empty(t, d.Detect(l))
}

// TestDetect_InvalidRegexFallsBack verifies broken expressions are matched
// literally
func TestDetect_InvalidRegexFallsBack(t *testing.T) {
	d := NewDetector([]site.MarkerConfig{
		marker("odd", site.PriorityLow, titleAndDescription, "garden (private"),
	})

	assert.Equal(t, []string{"odd"}, d.Detect(listing.Listing{Description: "with Garden (private use)"}))
	assert.Empty(t, d.Detect(listing.Listing{Description: "garden"}))
}

// TestDetect_ConfigurationOrder verifies attachment order follows the
// configuration, not priority
func TestDetect_ConfigurationOrder(t *testing.T) {
	d := NewDetector([]site.MarkerConfig{
		marker("low", site.PriorityLow, titleAndDescription, "lift"),
		marker("high", site.PriorityHigh, titleAndDescription, "garden"),
		marker("medium", site.PriorityMedium, titleAndDescription, "balcony"),
	})

	l := listing.Listing{Title: "garden and balcony", Description: "lift"}
	found := d.Detect(l)
	assert.Equal(t, []string{"low", "high", "medium"}, found)
	assert.Equal(t, []string{"high", "medium", "low"}, d.ByPriority(found))
}

// TestDetect_Location verifies location is searchable when configured
func TestDetect_Location(t *testing.T) {
	d := NewDetector([]site.MarkerConfig{
		marker("district", site.PriorityMedium, []string{"location"}, "1020"),
	})

	assert.Equal(t, []string{"district"}, d.Detect(listing.Listing{Location: "1020 Wien"}))
	assert.Empty(t, d.Detect(listing.Listing{Title: "1020", Location: "1100 Wien"}))
}

// TestApply verifies inputs are not mutated and detection is repeatable
func TestApply(t *testing.T) {
	d := NewDetector([]site.MarkerConfig{
		marker("balcony", site.PriorityMedium, []string{"description"}, "balcony"),
	})

	in := []listing.Listing{
		{Title: "Flat A", Description: "no outdoor space"},
		{Title: "Flat B", Description: "with balcony"},
	}

	out := d.Apply(in)
	require.Len(t, out, 2)
	assert.Empty(t, out[0].Markers)
	assert.Equal(t, []string{"balcony"}, out[1].Markers)

	assert.Nil(t, in[1].Markers, "input should not be modified")
	assert.Equal(t, out, d.Apply(in))
}

// TestLookups verifies label and priority lookups
func TestLookups(t *testing.T) {
	d := NewDetector([]site.MarkerConfig{
		marker("balcony", site.PriorityHigh, titleAndDescription, "balcony"),
	})

	assert.Equal(t, "balcony label", d.Label("balcony"))
	assert.Equal(t, site.PriorityHigh, d.Priority("balcony"))
	assert.Equal(t, "unknown", d.Label("unknown"))
	assert.Equal(t, site.PriorityLow, d.Priority("unknown"))
}

// TestDetector_NoMarkers verifies an empty detector finds nothing
func TestDetector_NoMarkers(t *testing.T) {
	d := NewDetector(nil)
	assert.Nil(t, d.Detect(listing.Listing{Title: "anything"}))
}

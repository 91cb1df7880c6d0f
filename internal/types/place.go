package locitypes

import "strings"

// Category is the closed set of place categories shown in the catalog.
type Category string

const (
	CategoryAttraction Category = "Attraction"
	CategoryHistorical Category = "Historical"
	CategoryReligious  Category = "Religious"
	CategoryNature     Category = "Nature"
	CategoryWildlife   Category = "Wildlife"
	CategoryBeach      Category = "Beach"
	CategoryMuseum     Category = "Museum"
	CategoryAdventure  Category = "Adventure"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryAttraction,
	CategoryHistorical,
	CategoryReligious,
	CategoryNature,
	CategoryWildlife,
	CategoryBeach,
	CategoryMuseum,
	CategoryAdventure,
}

// ParseCategory matches s against the category names ignoring case.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

// Defaults applied by the normalizer when the store leaves a field empty.
const (
	PlaceholderImage    = "/images/placeholder-destination.jpg"
	DefaultEntryFee     = "Free"
	DefaultDuration     = "1-2 hours"
	DefaultOpeningHours = "Open daily"
	UnknownCity         = "Unknown"
)

type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RawPlace is a record as it arrives from the remote store or the bundled
// seed. Field types are not guaranteed; only the normalizer reads it.
type RawPlace map[string]any

// Place is a normalized catalog entry. Rating is nil when the store has no
// usable rating; it is never defaulted to zero.
type Place struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	Category     Category  `json:"category"`
	Rating       *float64  `json:"rating,omitempty"`
	ReviewCount  int       `json:"review_count"`
	EntryFee     string    `json:"entry_fee"`
	Duration     string    `json:"duration"`
	OpeningHours string    `json:"opening_hours"`
	Coordinates  *GeoPoint `json:"coordinates,omitempty"`
	Images       []string  `json:"images"`
	IsActive     bool      `json:"is_active"`
}

// HasRating reports whether the place carries a defined rating.
func (p Place) HasRating() bool {
	return p.Rating != nil
}

// WithRating returns a copy of p with its rating replaced. The pointer is
// copied so the original place is never aliased.
func (p Place) WithRating(rating *float64) Place {
	if rating != nil {
		r := *rating
		p.Rating = &r
	} else {
		p.Rating = nil
	}
	return p
}

// PlaceQuery narrows a fetch against the remote store.
type PlaceQuery struct {
	ActiveOnly bool   `json:"active_only"`
	State      string `json:"state,omitempty"`
	Category   string `json:"category,omitempty"`
	Search     string `json:"search,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

package locitypes

import (
	"math"
	"strconv"
	"time"
)

// GroupStats holds the aggregates of a city or state group. AverageRating
// keeps full precision; round it with RoundRating only for display.
type GroupStats struct {
	AverageRating float64 `json:"average_rating"`
	RatedCount    int     `json:"rated_count"`
	Count         int     `json:"count"`
	Featured      *Place  `json:"featured,omitempty"`
}

// HasAverage reports whether at least one member carried a rating.
func (s GroupStats) HasAverage() bool {
	return s.RatedCount > 0
}

// DisplayRating renders the average with one decimal, or "N/A" when no
// member is rated.
func (s GroupStats) DisplayRating() string {
	if !s.HasAverage() {
		return "N/A"
	}
	return strconv.FormatFloat(RoundRating(s.AverageRating), 'f', 1, 64)
}

// RoundRating rounds a rating to one decimal place.
func RoundRating(v float64) float64 {
	return math.Round(v*10) / 10
}

type CityGroup struct {
	Key    string     `json:"-"`
	Name   string     `json:"name"`
	Places []Place    `json:"places"`
	Stats  GroupStats `json:"stats"`
}

type StateGroup struct {
	Key      string      `json:"-"`
	Name     string      `json:"name"`
	Cities   []CityGroup `json:"cities"`
	Stats    GroupStats  `json:"stats"`
	Expanded bool        `json:"expanded"`
}

// Selectors are the optional narrowing controls of a filter request.
// Expanded lists state names the caller wants open when no filter applies.
type Selectors struct {
	State    string   `json:"state,omitempty"`
	Category string   `json:"category,omitempty"`
	Expanded []string `json:"expanded,omitempty"`
}

// IsZero reports whether no selector narrows the result.
func (s Selectors) IsZero() bool {
	return s.State == "" && s.Category == ""
}

// FilterOptions are the selector values offered to the presentation layer.
type FilterOptions struct {
	States     []string `json:"states"`
	Categories []string `json:"categories"`
}

// Snapshot sources.
const (
	SourceNone     = "none"
	SourceRemote   = "remote"
	SourceSeed     = "seed"
	SourceRetained = "retained"
)

// RefreshResult describes the outcome of one fetch-and-build cycle.
type RefreshResult struct {
	Generation uint64        `json:"generation"`
	Applied    bool          `json:"applied"`
	Superseded bool          `json:"superseded"`
	Source     string        `json:"source"`
	Places     int           `json:"places"`
	Rejected   int           `json:"rejected"`
	Excluded   int           `json:"excluded"`
	States     int           `json:"states"`
	FetchError string        `json:"fetch_error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Diagnostics exposes the current engine state for health and debugging.
type Diagnostics struct {
	Generation  uint64    `json:"generation"`
	Version     uint64    `json:"version"`
	Source      string    `json:"source"`
	Places      int       `json:"places"`
	States      int       `json:"states"`
	Rejected    int       `json:"rejected"`
	Excluded    int       `json:"excluded"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

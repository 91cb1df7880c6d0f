package destinations

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

// groupKey identifies the (state, city) bucket a place was filed under.
type groupKey struct {
	State string
	City  string
}

// foldKey canonicalises a free-text name for grouping: trimmed, NFC
// composed and case folded. "  DELHI" and "delhi" share a key.
func foldKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return cases.Fold().String(norm.NFC.String(s))
}

// cityName maps an empty city to the reserved sentinel.
func cityName(city string) string {
	if strings.TrimSpace(city) == "" {
		return locitypes.UnknownCity
	}
	return strings.TrimSpace(city)
}

// keyOf returns the grouping key of p. ok is false when p has no state and
// therefore cannot be placed in the hierarchy.
func keyOf(p locitypes.Place) (groupKey, bool) {
	state := foldKey(p.State)
	if state == "" {
		return groupKey{}, false
	}
	return groupKey{State: state, City: foldKey(cityName(p.City))}, true
}

// sorter orders names with a locale-aware collator. A collate.Collator keeps
// internal buffers, so a sorter must not be shared between goroutines.
type sorter struct {
	col *collate.Collator
}

func newSorter() *sorter {
	return &sorter{col: collate.New(language.Und, collate.IgnoreCase, collate.Loose)}
}

func (s *sorter) compare(a, b string) int {
	return s.col.CompareString(a, b)
}

// comparePlaces orders by name, then by ID so the order is total.
func (s *sorter) comparePlaces(a, b locitypes.Place) int {
	if c := s.compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func (s *sorter) compareCities(a, b locitypes.CityGroup) int {
	if c := s.compare(a.Name, b.Name); c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}

func (s *sorter) compareStates(a, b locitypes.StateGroup) int {
	if c := s.compare(a.Name, b.Name); c != 0 {
		return c
	}
	return strings.Compare(a.Key, b.Key)
}

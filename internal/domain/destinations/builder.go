package destinations

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

// Hierarchy is an immutable State → City → Place snapshot. Patches return a
// new Hierarchy that shares every untouched group with its parent, so a
// snapshot handed to a reader never changes underneath it.
type Hierarchy struct {
	States []locitypes.StateGroup

	// Excluded holds, in sorted order, the IDs of places without a state.
	Excluded []string

	version uint64
	index   map[string]groupKey
}

// Version increases with every rebuild or patch applied by an Engine.
func (h *Hierarchy) Version() uint64 {
	if h == nil {
		return 0
	}
	return h.version
}

// Len returns the number of places filed in the hierarchy.
func (h *Hierarchy) Len() int {
	if h == nil {
		return 0
	}
	return len(h.index)
}

// Build groups normalized places into states and cities. The result depends
// only on the set of places, never on their order. Places without a state
// are left out and listed in Excluded. When two records share an ID the one
// that sorts first by name is kept; remaining ties fall back to a comparison
// of the full record.
func Build(places []locitypes.Place) *Hierarchy {
	s := newSorter()

	unique := make(map[string]locitypes.Place, len(places))
	for _, p := range places {
		if prev, dup := unique[p.ID]; dup && !preferPlace(s, p, prev) {
			continue
		}
		unique[p.ID] = p
	}

	h := &Hierarchy{index: make(map[string]groupKey, len(unique))}
	buckets := make(map[string]map[string][]locitypes.Place)
	for _, p := range unique {
		key, ok := keyOf(p)
		if !ok {
			h.Excluded = append(h.Excluded, p.ID)
			continue
		}
		cities, ok := buckets[key.State]
		if !ok {
			cities = make(map[string][]locitypes.Place)
			buckets[key.State] = cities
		}
		cities[key.City] = append(cities[key.City], p)
		h.index[p.ID] = key
	}
	slices.Sort(h.Excluded)

	h.States = make([]locitypes.StateGroup, 0, len(buckets))
	for stateKey, cities := range buckets {
		state := locitypes.StateGroup{
			Key:    stateKey,
			Cities: make([]locitypes.CityGroup, 0, len(cities)),
		}
		for cityKey, members := range cities {
			state.Cities = append(state.Cities, newCityGroup(s, cityKey, members))
		}
		finishState(s, &state)
		h.States = append(h.States, state)
	}
	slices.SortFunc(h.States, s.compareStates)

	return h
}

// Flatten lists every place of the hierarchy in state, city, name order.
func (h *Hierarchy) Flatten() []locitypes.Place {
	if h == nil {
		return nil
	}
	out := make([]locitypes.Place, 0, len(h.index))
	for _, st := range h.States {
		for _, c := range st.Cities {
			out = append(out, c.Places...)
		}
	}
	return out
}

// Place returns the place filed under id.
func (h *Hierarchy) Place(id string) (locitypes.Place, bool) {
	if h == nil {
		return locitypes.Place{}, false
	}
	key, ok := h.index[id]
	if !ok {
		return locitypes.Place{}, false
	}
	si, ci := h.locate(key)
	if si < 0 || ci < 0 {
		return locitypes.Place{}, false
	}
	for _, p := range h.States[si].Cities[ci].Places {
		if p.ID == id {
			return p, true
		}
	}
	return locitypes.Place{}, false
}

// State returns the state group whose name folds to the same key as name.
func (h *Hierarchy) State(name string) (locitypes.StateGroup, bool) {
	if h == nil {
		return locitypes.StateGroup{}, false
	}
	key := foldKey(name)
	for _, st := range h.States {
		if st.Key == key {
			return st, true
		}
	}
	return locitypes.StateGroup{}, false
}

// FavoriteLookup is the read side of a favorite set.
type FavoriteLookup interface {
	Contains(placeID string) bool
}

// FavoritePlaces lists, in hierarchy order, the places whose IDs are in
// favorites. IDs that are no longer in the catalog are skipped.
func (h *Hierarchy) FavoritePlaces(favorites FavoriteLookup) []locitypes.Place {
	if h == nil || favorites == nil {
		return nil
	}
	var out []locitypes.Place
	for _, st := range h.States {
		for _, c := range st.Cities {
			for _, p := range c.Places {
				if favorites.Contains(p.ID) {
					out = append(out, p)
				}
			}
		}
	}
	return out
}

func (h *Hierarchy) locate(key groupKey) (int, int) {
	for si, st := range h.States {
		if st.Key != key.State {
			continue
		}
		for ci, c := range st.Cities {
			if c.Key == key.City {
				return si, ci
			}
		}
		return si, -1
	}
	return -1, -1
}

func newCityGroup(s *sorter, key string, members []locitypes.Place) locitypes.CityGroup {
	slices.SortFunc(members, s.comparePlaces)
	c := locitypes.CityGroup{Key: key, Places: members}
	finishCity(&c)
	return c
}

// finishCity derives the display name and statistics of a city whose
// members are already sorted.
func finishCity(c *locitypes.CityGroup) {
	if len(c.Places) > 0 {
		c.Name = cityName(c.Places[0].City)
	}
	c.Stats = ComputeCityStats(c.Places)
}

// finishState orders the cities and derives the state name and statistics.
func finishState(s *sorter, st *locitypes.StateGroup) {
	slices.SortFunc(st.Cities, s.compareCities)
	st.Stats = computeStateStats(s, st.Cities)
	st.Name = stateName(s, st.Cities)
}

// stateName takes the spelling of the state's first place in name order.
func stateName(s *sorter, cities []locitypes.CityGroup) string {
	var (
		first locitypes.Place
		found bool
	)
	for _, c := range cities {
		if len(c.Places) == 0 {
			continue
		}
		if !found || s.comparePlaces(c.Places[0], first) < 0 {
			first = c.Places[0]
			found = true
		}
	}
	return strings.TrimSpace(first.State)
}

// preferPlace reports whether candidate should replace current for the
// same ID.
func preferPlace(s *sorter, candidate, current locitypes.Place) bool {
	if c := s.comparePlaces(candidate, current); c != 0 {
		return c < 0
	}
	if c := strings.Compare(foldKey(candidate.State), foldKey(current.State)); c != 0 {
		return c < 0
	}
	if c := strings.Compare(foldKey(candidate.City), foldKey(current.City)); c != 0 {
		return c < 0
	}
	return bytes.Compare(canonicalPlace(candidate), canonicalPlace(current)) < 0
}

// canonicalPlace encodes every field of p so that records differing only in
// rating, description or any other attribute still compare unequal.
func canonicalPlace(p locitypes.Place) []byte {
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return b
}

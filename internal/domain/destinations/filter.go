package destinations

import (
	"slices"
	"strings"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

// Filter projects a hierarchy through a free-text query and the optional
// state and category selectors. The source groups are never modified.
//
// The query matches state names, city names, place names and descriptions
// case-insensitively as a substring. A matching place keeps its city and
// state; a matching city keeps all its places and a matching state keeps
// all its cities. The category selector is applied to places first, and
// groups left empty are dropped.
//
// Without a query or selectors the full hierarchy is returned with every
// state collapsed except those named in sel.Expanded.
func Filter(states []locitypes.StateGroup, query string, sel locitypes.Selectors) []locitypes.StateGroup {
	q := foldKey(query)
	stateKey := foldKey(sel.State)
	category := strings.TrimSpace(sel.Category)

	if q == "" && stateKey == "" && category == "" {
		return resetExpanded(states, sel.Expanded)
	}

	out := make([]locitypes.StateGroup, 0)
	for _, st := range states {
		if stateKey != "" && st.Key != stateKey {
			continue
		}
		stateHit := q != "" && containsFolded(st.Name, q)

		var cities []locitypes.CityGroup
		for _, c := range st.Cities {
			cityHit := stateHit || (q != "" && containsFolded(c.Name, q))

			var places []locitypes.Place
			for _, p := range c.Places {
				if category != "" && !strings.EqualFold(string(p.Category), category) {
					continue
				}
				if q == "" || cityHit || containsFolded(p.Name, q) || containsFolded(p.Description, q) {
					places = append(places, p)
				}
			}
			if len(places) == 0 {
				continue
			}
			view := c
			view.Places = places
			cities = append(cities, view)
		}
		if len(cities) == 0 {
			continue
		}

		view := st
		view.Cities = cities
		view.Expanded = true
		out = append(out, view)
	}
	return out
}

func resetExpanded(states []locitypes.StateGroup, expanded []string) []locitypes.StateGroup {
	open := make(map[string]struct{}, len(expanded))
	for _, name := range expanded {
		open[foldKey(name)] = struct{}{}
	}
	out := slices.Clone(states)
	if out == nil {
		out = make([]locitypes.StateGroup, 0)
	}
	for i := range out {
		_, out[i].Expanded = open[out[i].Key]
	}
	return out
}

func containsFolded(s, foldedQuery string) bool {
	return strings.Contains(foldKey(s), foldedQuery)
}

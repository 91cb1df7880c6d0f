package destinations

import (
	"slices"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

// ComputeCityStats aggregates the members of one city. places must already
// be in name order; the featured place is the highest rated member, the
// earliest one winning ties. A city with no rated member features its first
// place.
func ComputeCityStats(places []locitypes.Place) locitypes.GroupStats {
	var (
		sum   float64
		rated int
		best  = -1
	)
	for i, p := range places {
		if p.Rating == nil || !validRating(*p.Rating) {
			continue
		}
		sum += *p.Rating
		rated++
		if best < 0 || *p.Rating > *places[best].Rating {
			best = i
		}
	}

	stats := locitypes.GroupStats{Count: len(places), RatedCount: rated}
	if rated > 0 {
		stats.AverageRating = sum / float64(rated)
	}
	if best < 0 && len(places) > 0 {
		best = 0
	}
	if best >= 0 {
		featured := places[best]
		stats.Featured = &featured
	}
	return stats
}

// ComputeStateStats aggregates every place of a state. The average is taken
// over all rated places, not over the city averages.
func ComputeStateStats(cities []locitypes.CityGroup) locitypes.GroupStats {
	return computeStateStats(newSorter(), cities)
}

func computeStateStats(s *sorter, cities []locitypes.CityGroup) locitypes.GroupStats {
	var (
		sum   float64
		rated int
		count int
	)
	for _, c := range cities {
		for _, p := range c.Places {
			count++
			if p.Rating == nil || !validRating(*p.Rating) {
				continue
			}
			sum += *p.Rating
			rated++
		}
	}

	stats := locitypes.GroupStats{Count: count, RatedCount: rated}
	if rated > 0 {
		stats.AverageRating = sum / float64(rated)
	}
	if featured, ok := stateFeatured(s, cities); ok {
		stats.Featured = &featured
	}
	return stats
}

// stateFeatured picks the highest rated place of the state, breaking ties
// by the state-wide name order rather than by city order.
func stateFeatured(s *sorter, cities []locitypes.CityGroup) (locitypes.Place, bool) {
	var all []locitypes.Place
	for _, c := range cities {
		all = append(all, c.Places...)
	}
	if len(all) == 0 {
		return locitypes.Place{}, false
	}
	slices.SortStableFunc(all, s.comparePlaces)

	best := -1
	for i, p := range all {
		if p.Rating == nil || !validRating(*p.Rating) {
			continue
		}
		if best < 0 || *p.Rating > *all[best].Rating {
			best = i
		}
	}
	if best < 0 {
		best = 0
	}
	return all[best], true
}

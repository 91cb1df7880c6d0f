package destinations

import (
	"fmt"
	"maps"
	"slices"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

// OnRatingChanged returns a hierarchy in which the place id carries rating.
// Ratings the normalizer would reject are stored as nil.
// Only the place's city and state are recomputed; the group is found through
// the key captured at build time, so later edits to the place's city or
// state text do not misfile it.
func (h *Hierarchy) OnRatingChanged(id string, rating *float64) (*Hierarchy, error) {
	if h == nil {
		return nil, fmt.Errorf("place %q: %w", id, locitypes.ErrNotFound)
	}
	key, ok := h.index[id]
	if !ok {
		return nil, fmt.Errorf("place %q: %w", id, locitypes.ErrNotFound)
	}
	si, ci := h.locate(key)
	if si < 0 || ci < 0 {
		return nil, fmt.Errorf("place %q: group %v: %w", id, key, locitypes.ErrNotFound)
	}

	s := newSorter()
	state := h.States[si]
	city := state.Cities[ci]

	members := slices.Clone(city.Places)
	pi := slices.IndexFunc(members, func(p locitypes.Place) bool { return p.ID == id })
	if pi < 0 {
		return nil, fmt.Errorf("place %q: %w", id, locitypes.ErrNotFound)
	}
	members[pi] = members[pi].WithRating(sanitizeRating(rating))
	city.Places = members
	city.Stats = ComputeCityStats(members)

	state.Cities = slices.Clone(state.Cities)
	state.Cities[ci] = city
	state.Stats = computeStateStats(s, state.Cities)

	out := &Hierarchy{
		States:   slices.Clone(h.States),
		Excluded: h.Excluded,
		version:  h.version + 1,
		index:    h.index,
	}
	out.States[si] = state
	return out, nil
}

// OnPlaceUpserted files an inserted or edited place. A place whose
// (state, city) key is unchanged is patched within its city; a place that
// moved is removed from its old groups, pruning any left empty, and added to
// its new ones. A place without a state ends up in Excluded.
func (h *Hierarchy) OnPlaceUpserted(p locitypes.Place) *Hierarchy {
	if h == nil {
		h = &Hierarchy{}
	}
	s := newSorter()
	out := h.mutableCopy()

	if oldKey, ok := out.index[p.ID]; ok {
		out.removeFromGroup(s, oldKey, p.ID)
		delete(out.index, p.ID)
	} else {
		out.Excluded = removeID(out.Excluded, p.ID)
	}

	newKey, ok := keyOf(p)
	if !ok {
		out.Excluded = insertID(out.Excluded, p.ID)
		return out
	}
	out.insertIntoGroup(s, newKey, p)
	out.index[p.ID] = newKey
	return out
}

// OnPlaceRemoved drops the place id, pruning emptied cities and states.
func (h *Hierarchy) OnPlaceRemoved(id string) (*Hierarchy, error) {
	if h == nil {
		return nil, fmt.Errorf("place %q: %w", id, locitypes.ErrNotFound)
	}
	if key, ok := h.index[id]; ok {
		s := newSorter()
		out := h.mutableCopy()
		out.removeFromGroup(s, key, id)
		delete(out.index, id)
		return out, nil
	}
	if _, found := slices.BinarySearch(h.Excluded, id); found {
		out := h.mutableCopy()
		out.Excluded = removeID(out.Excluded, id)
		return out, nil
	}
	return nil, fmt.Errorf("place %q: %w", id, locitypes.ErrNotFound)
}

// mutableCopy clones the top-level slices and the index. Group values are
// still shared and must be replaced, never written through.
func (h *Hierarchy) mutableCopy() *Hierarchy {
	out := &Hierarchy{
		States:   slices.Clone(h.States),
		Excluded: slices.Clone(h.Excluded),
		version:  h.version + 1,
		index:    maps.Clone(h.index),
	}
	if out.index == nil {
		out.index = make(map[string]groupKey)
	}
	return out
}

func (h *Hierarchy) removeFromGroup(s *sorter, key groupKey, id string) {
	si, ci := h.locate(key)
	if si < 0 || ci < 0 {
		return
	}
	state := h.States[si]
	city := state.Cities[ci]

	members := slices.DeleteFunc(slices.Clone(city.Places), func(p locitypes.Place) bool { return p.ID == id })
	state.Cities = slices.Clone(state.Cities)
	if len(members) == 0 {
		state.Cities = slices.Delete(state.Cities, ci, ci+1)
	} else {
		city.Places = members
		finishCity(&city)
		state.Cities[ci] = city
	}

	if len(state.Cities) == 0 {
		h.States = slices.Delete(h.States, si, si+1)
		return
	}
	finishState(s, &state)
	h.States[si] = state
	slices.SortFunc(h.States, s.compareStates)
}

func (h *Hierarchy) insertIntoGroup(s *sorter, key groupKey, p locitypes.Place) {
	si, ci := h.locate(key)
	if si < 0 {
		h.States = append(h.States, locitypes.StateGroup{Key: key.State})
		si = len(h.States) - 1
	}
	state := h.States[si]
	state.Cities = slices.Clone(state.Cities)

	if ci < 0 {
		state.Cities = append(state.Cities, newCityGroup(s, key.City, []locitypes.Place{p}))
	} else {
		city := state.Cities[ci]
		members := append(slices.Clone(city.Places), p)
		state.Cities[ci] = newCityGroup(s, key.City, members)
	}

	finishState(s, &state)
	h.States[si] = state
	slices.SortFunc(h.States, s.compareStates)
}

func insertID(ids []string, id string) []string {
	i, found := slices.BinarySearch(ids, id)
	if found {
		return ids
	}
	return slices.Insert(ids, i, id)
}

func removeID(ids []string, id string) []string {
	i, found := slices.BinarySearch(ids, id)
	if !found {
		return ids
	}
	return slices.Delete(ids, i, i+1)
}

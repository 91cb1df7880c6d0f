package destinations

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

//go:embed seed_places.json
var seedJSON []byte

// BundledSeed returns the static catalog shown when the store cannot be
// reached. Each call returns fresh maps.
func BundledSeed() ([]locitypes.RawPlace, error) {
	return decodeSeed(seedJSON)
}

var bundledSeedOnce = sync.OnceValues(BundledSeed)

func decodeSeed(data []byte) ([]locitypes.RawPlace, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raws []locitypes.RawPlace
	if err := dec.Decode(&raws); err != nil {
		return nil, fmt.Errorf("failed to decode seed places: %w", err)
	}
	return raws, nil
}

// matchesQuery applies a store query to an already normalized place, so the
// seed fallback honours the same narrowing as a remote fetch.
func matchesQuery(p locitypes.Place, q locitypes.PlaceQuery) bool {
	if q.ActiveOnly && !p.IsActive {
		return false
	}
	if q.State != "" && foldKey(p.State) != foldKey(q.State) {
		return false
	}
	if q.Category != "" && !strings.EqualFold(string(p.Category), strings.TrimSpace(q.Category)) {
		return false
	}
	if search := foldKey(q.Search); search != "" {
		if !containsFolded(p.Name, search) && !containsFolded(p.Description, search) && !containsFolded(p.City, search) {
			return false
		}
	}
	return true
}

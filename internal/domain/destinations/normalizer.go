package destinations

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	a "github.com/petar-dambovaliev/aho-corasick"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

// RejectionError reports why a raw record could not become a Place.
type RejectionError struct {
	ID     string
	Reason string
}

func (e *RejectionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("place record rejected: %s", e.Reason)
	}
	return fmt.Sprintf("place record %q rejected: %s", e.ID, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return locitypes.ErrRecordRejected
}

// Keyword matcher used when the store category is free text rather than
// one of the catalog categories.
var (
	categoryMatcherBuilder = a.NewAhoCorasickBuilder(a.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  true,
	})

	categoryKeywords = []string{
		// Historical
		"fort", "forts", "palace", "palaces", "monument", "monuments", "heritage",
		"historical", "historic", "ruins", "tomb", "minar", "stepwell",
		// Religious
		"temple", "temples", "church", "mosque", "masjid", "gurudwara", "shrine",
		"monastery", "cathedral", "dargah", "religious", "pilgrimage",
		// Nature
		"lake", "lakes", "waterfall", "waterfalls", "garden", "gardens", "hill",
		"hills", "valley", "nature", "backwaters", "cave", "caves",
		// Wildlife
		"wildlife", "sanctuary", "zoo", "safari", "reserve",
		// Beach
		"beach", "beaches", "coast", "island",
		// Museum
		"museum", "museums", "gallery", "memorial",
		// Adventure
		"trek", "trekking", "rafting", "adventure", "paragliding", "skiing",
	}

	keywordToCategory = map[string]locitypes.Category{
		"fort": locitypes.CategoryHistorical, "forts": locitypes.CategoryHistorical,
		"palace": locitypes.CategoryHistorical, "palaces": locitypes.CategoryHistorical,
		"monument": locitypes.CategoryHistorical, "monuments": locitypes.CategoryHistorical,
		"heritage": locitypes.CategoryHistorical, "historical": locitypes.CategoryHistorical,
		"historic": locitypes.CategoryHistorical, "ruins": locitypes.CategoryHistorical,
		"tomb": locitypes.CategoryHistorical, "minar": locitypes.CategoryHistorical,
		"stepwell": locitypes.CategoryHistorical,
		"temple": locitypes.CategoryReligious, "temples": locitypes.CategoryReligious,
		"church": locitypes.CategoryReligious, "mosque": locitypes.CategoryReligious,
		"masjid": locitypes.CategoryReligious, "gurudwara": locitypes.CategoryReligious,
		"shrine": locitypes.CategoryReligious, "monastery": locitypes.CategoryReligious,
		"cathedral": locitypes.CategoryReligious, "dargah": locitypes.CategoryReligious,
		"religious": locitypes.CategoryReligious, "pilgrimage": locitypes.CategoryReligious,
		"lake": locitypes.CategoryNature, "lakes": locitypes.CategoryNature,
		"waterfall": locitypes.CategoryNature, "waterfalls": locitypes.CategoryNature,
		"garden": locitypes.CategoryNature, "gardens": locitypes.CategoryNature,
		"hill": locitypes.CategoryNature, "hills": locitypes.CategoryNature,
		"valley": locitypes.CategoryNature, "nature": locitypes.CategoryNature,
		"backwaters": locitypes.CategoryNature, "cave": locitypes.CategoryNature,
		"caves": locitypes.CategoryNature,
		"wildlife": locitypes.CategoryWildlife, "sanctuary": locitypes.CategoryWildlife,
		"zoo": locitypes.CategoryWildlife, "safari": locitypes.CategoryWildlife,
		"reserve": locitypes.CategoryWildlife,
		"beach": locitypes.CategoryBeach, "beaches": locitypes.CategoryBeach,
		"coast": locitypes.CategoryBeach, "island": locitypes.CategoryBeach,
		"museum": locitypes.CategoryMuseum, "museums": locitypes.CategoryMuseum,
		"gallery": locitypes.CategoryMuseum, "memorial": locitypes.CategoryMuseum,
		"trek": locitypes.CategoryAdventure, "trekking": locitypes.CategoryAdventure,
		"rafting": locitypes.CategoryAdventure, "adventure": locitypes.CategoryAdventure,
		"paragliding": locitypes.CategoryAdventure, "skiing": locitypes.CategoryAdventure,
	}

	categoryMatcher = categoryMatcherBuilder.Build(categoryKeywords)
)

// Normalize validates a raw store record and resolves optional fields to
// their defaults. It returns a *RejectionError when id or name is missing.
func Normalize(raw locitypes.RawPlace) (locitypes.Place, error) {
	if raw == nil {
		return locitypes.Place{}, &RejectionError{Reason: "record is empty"}
	}

	id, ok := idField(raw["id"])
	if !ok {
		return locitypes.Place{}, &RejectionError{Reason: "missing id"}
	}
	name := stringField(raw["name"])
	if name == "" {
		return locitypes.Place{}, &RejectionError{ID: id, Reason: "missing name"}
	}

	place := locitypes.Place{
		ID:           id,
		Name:         name,
		Description:  stringField(raw["description"]),
		City:         stringField(raw["city"]),
		State:        stringField(raw["state"]),
		Category:     resolveCategory(stringField(raw["category"])),
		Rating:       ratingField(raw["rating"]),
		ReviewCount:  countField(raw["review_count"]),
		EntryFee:     entryFeeField(raw["entry_fee"]),
		Duration:     orDefault(stringField(raw["duration"]), locitypes.DefaultDuration),
		OpeningHours: orDefault(stringField(raw["opening_hours"]), locitypes.DefaultOpeningHours),
		Coordinates:  coordinatesField(raw["latitude"], raw["longitude"]),
		Images:       imagesField(raw["images"], raw["image_url"]),
		IsActive:     activeField(raw["is_active"]),
	}

	return place, nil
}

// NormalizeAll normalizes every record, collecting rejections instead of
// stopping at the first one.
func NormalizeAll(raws []locitypes.RawPlace) ([]locitypes.Place, []*RejectionError) {
	places := make([]locitypes.Place, 0, len(raws))
	var rejected []*RejectionError
	for _, raw := range raws {
		p, err := Normalize(raw)
		if err != nil {
			if rej, ok := err.(*RejectionError); ok {
				rejected = append(rejected, rej)
				continue
			}
			rejected = append(rejected, &RejectionError{Reason: err.Error()})
			continue
		}
		places = append(places, p)
	}
	return places, rejected
}

func resolveCategory(raw string) locitypes.Category {
	if raw == "" {
		return locitypes.CategoryAttraction
	}
	if c, ok := locitypes.ParseCategory(raw); ok {
		return c
	}

	iter := categoryMatcher.Iter(raw)
	if m := iter.Next(); m != nil {
		if c, ok := keywordToCategory[categoryKeywords[m.Pattern()]]; ok {
			return c
		}
	}
	return locitypes.CategoryAttraction
}

func idField(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	case json.Number:
		s := strings.TrimSpace(id.String())
		return s, s != ""
	case float64:
		if math.IsNaN(id) || math.IsInf(id, 0) || id != math.Trunc(id) || math.Abs(id) >= 1<<63 {
			return "", false
		}
		return strconv.FormatInt(int64(id), 10), true
	case int:
		return strconv.Itoa(id), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case fmt.Stringer:
		s := strings.TrimSpace(id.String())
		return s, s != ""
	default:
		return "", false
	}
}

func stringField(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case *string:
		if s == nil {
			return ""
		}
		return strings.TrimSpace(*s)
	default:
		return ""
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func numberField(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case *float64:
		if n == nil {
			return 0, false
		}
		f = *n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func ratingField(v any) *float64 {
	f, ok := numberField(v)
	if !ok {
		return nil
	}
	return sanitizeRating(&f)
}

// sanitizeRating maps NaN, infinities and values outside [0, 5] to nil.
func sanitizeRating(r *float64) *float64 {
	if r == nil || !validRating(*r) {
		return nil
	}
	f := *r
	return &f
}

func validRating(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0 && f <= 5
}

func countField(v any) int {
	f, ok := numberField(v)
	if !ok || f < 0 {
		return 0
	}
	return int(f)
}

func entryFeeField(v any) string {
	if s := stringField(v); s != "" {
		return s
	}
	if f, ok := numberField(v); ok && f > 0 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return locitypes.DefaultEntryFee
}

func coordinatesField(lat, lon any) *locitypes.GeoPoint {
	la, okLat := numberField(lat)
	lo, okLon := numberField(lon)
	if !okLat || !okLon || la < -90 || la > 90 || lo < -180 || lo > 180 {
		return nil
	}
	return &locitypes.GeoPoint{Latitude: la, Longitude: lo}
}

func imagesField(images, imageURL any) []string {
	var out []string
	switch v := images.(type) {
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range v {
			if s := stringField(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		if s := stringField(imageURL); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = []string{locitypes.PlaceholderImage}
	}
	return out
}

func activeField(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return true
		}
		return parsed
	default:
		return true
	}
}

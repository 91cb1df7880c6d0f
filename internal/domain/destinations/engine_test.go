package destinations

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

// MockPlaceSource is a mock implementation of PlaceSource
type MockPlaceSource struct {
	mock.Mock
}

func (m *MockPlaceSource) ListPlaces(ctx context.Context, query locitypes.PlaceQuery) ([]locitypes.RawPlace, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]locitypes.RawPlace), args.Error(1)
}

func (m *MockPlaceSource) ListStates(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockPlaceSource) ListCategories(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func remoteRaws() []locitypes.RawPlace {
	return []locitypes.RawPlace{
		{"id": "1", "name": "Red Fort", "city": "Delhi", "state": "Delhi", "rating": 4.5},
		{"id": "2", "name": "India Gate", "city": "Delhi", "state": "Delhi", "rating": 4.7},
		{"id": "3", "name": "Taj Mahal", "city": "Agra", "state": "Uttar Pradesh", "rating": 4.9},
		{"name": "no id"},
		{"id": "4", "name": "Stateless", "city": "Nowhere"},
	}
}

func seedRaws() []locitypes.RawPlace {
	return []locitypes.RawPlace{
		{"id": "s1", "name": "Baga Beach", "city": "Calangute", "state": "Goa", "category": "Beach"},
		{"id": "s2", "name": "Hawa Mahal", "city": "Jaipur", "state": "Rajasthan"},
	}
}

func stubSelectors(src *MockPlaceSource) {
	src.On("ListStates", mock.Anything).Return([]string{"Delhi", "Uttar Pradesh"}, nil)
	src.On("ListCategories", mock.Anything).Return([]string{"Attraction"}, nil)
}

func TestEngine_RefreshAppliesRemote(t *testing.T) {
	src := new(MockPlaceSource)
	src.On("ListPlaces", mock.Anything, locitypes.PlaceQuery{ActiveOnly: true, Limit: defaultPageSize}).Return(remoteRaws(), nil).Once()
	stubSelectors(src)

	e := NewEngine(src, testLogger(), WithSeed(seedRaws()))
	defer e.Close()

	res, err := e.Refresh(context.Background(), locitypes.PlaceQuery{ActiveOnly: true})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.False(t, res.Superseded)
	assert.Equal(t, locitypes.SourceRemote, res.Source)
	assert.Equal(t, 3, res.Places)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Excluded)
	assert.Equal(t, 2, res.States)

	states := e.GetHierarchy()
	require.Len(t, states, 2)
	assert.Equal(t, "Delhi", states[0].Name)

	d := e.Diagnostics()
	assert.Equal(t, locitypes.SourceRemote, d.Source)
	assert.Equal(t, uint64(1), d.Version)
	assert.Equal(t, 3, d.Places)
	assert.Equal(t, 1, d.Rejected)
	assert.False(t, d.RefreshedAt.IsZero())

	assert.Equal(t, locitypes.FilterOptions{States: []string{"Delhi", "Uttar Pradesh"}, Categories: []string{"Attraction"}}, e.FilterOptions())
	src.AssertExpectations(t)
}

func TestEngine_RefreshPagesThroughResults(t *testing.T) {
	raws := remoteRaws()[:3]
	src := new(MockPlaceSource)
	src.On("ListPlaces", mock.Anything, locitypes.PlaceQuery{Limit: 2}).Return(raws[:2], nil).Once()
	src.On("ListPlaces", mock.Anything, locitypes.PlaceQuery{Limit: 2, Offset: 2}).Return(raws[2:], nil).Once()
	stubSelectors(src)

	e := NewEngine(src, testLogger(), WithPageSize(2))
	defer e.Close()

	res, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Places)
	src.AssertExpectations(t)
}

func TestEngine_RefreshExplicitLimitIsSinglePage(t *testing.T) {
	q := locitypes.PlaceQuery{Limit: 2}
	src := new(MockPlaceSource)
	src.On("ListPlaces", mock.Anything, q).Return(remoteRaws()[:2], nil).Once()
	stubSelectors(src)

	e := NewEngine(src, testLogger())
	defer e.Close()

	res, err := e.Refresh(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Places)
	src.AssertNumberOfCalls(t, "ListPlaces", 1)
}

func TestEngine_RefreshFallsBackToSeed(t *testing.T) {
	src := new(MockPlaceSource)
	src.On("ListPlaces", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	stubSelectors(src)

	e := NewEngine(src, testLogger(), WithSeed(seedRaws()))
	defer e.Close()

	res, err := e.Refresh(context.Background(), locitypes.PlaceQuery{State: "goa"})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, locitypes.SourceSeed, res.Source)
	assert.Contains(t, res.FetchError, "connection refused")
	assert.Equal(t, []string{"Baga Beach"}, names(e.GetHierarchy()))
	assert.Equal(t, locitypes.SourceSeed, e.Diagnostics().Source)
}

func TestEngine_RefreshWithBundledSeed(t *testing.T) {
	src := new(MockPlaceSource)
	src.On("ListPlaces", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	src.On("ListStates", mock.Anything).Return(nil, errors.New("timeout"))
	src.On("ListCategories", mock.Anything).Return(nil, errors.New("timeout"))

	e := NewEngine(src, testLogger())
	defer e.Close()

	res, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
	require.NoError(t, err)
	assert.Equal(t, locitypes.SourceSeed, res.Source)
	assert.Positive(t, res.Places)

	opts := e.FilterOptions()
	assert.NotEmpty(t, opts.States)
	assert.NotEmpty(t, opts.Categories)
}

func TestEngine_RefreshRetainsRemoteSnapshot(t *testing.T) {
	src := new(MockPlaceSource)
	src.On("ListPlaces", mock.Anything, mock.Anything).Return(remoteRaws(), nil).Once()
	src.On("ListPlaces", mock.Anything, mock.Anything).Return(nil, errors.New("store down")).Once()
	stubSelectors(src)

	e := NewEngine(src, testLogger(), WithSeed(seedRaws()))
	defer e.Close()

	_, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
	require.NoError(t, err)
	before := e.GetHierarchy()

	res, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, locitypes.SourceRetained, res.Source)
	assert.Equal(t, before, e.GetHierarchy())
	assert.Equal(t, locitypes.SourceRemote, e.Diagnostics().Source)
}

func TestEngine_RefreshCancelledByCaller(t *testing.T) {
	src := new(MockPlaceSource)
	src.On("ListPlaces", mock.Anything, mock.Anything).Return(remoteRaws(), nil).Maybe()
	src.On("ListStates", mock.Anything).Return([]string{}, nil).Maybe()
	src.On("ListCategories", mock.Anything).Return([]string{}, nil).Maybe()

	e := NewEngine(src, testLogger())
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Refresh(ctx, locitypes.PlaceQuery{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.GetHierarchy())
	assert.Equal(t, locitypes.SourceNone, e.Diagnostics().Source)
}

// gatedSource blocks the first ListPlaces call until release is closed.
type gatedSource struct {
	mu           sync.Mutex
	calls        int
	entered      chan struct{}
	release      chan struct{}
	first        []locitypes.RawPlace
	later        []locitypes.RawPlace
	honourCancel bool
}

func newGatedSource(first, later []locitypes.RawPlace, honourCancel bool) *gatedSource {
	return &gatedSource{
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
		first:        first,
		later:        later,
		honourCancel: honourCancel,
	}
}

func (g *gatedSource) ListPlaces(ctx context.Context, _ locitypes.PlaceQuery) ([]locitypes.RawPlace, error) {
	g.mu.Lock()
	n := g.calls
	g.calls++
	g.mu.Unlock()

	if n > 0 {
		return g.later, nil
	}
	close(g.entered)
	if g.honourCancel {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		<-g.release
	}
	return g.first, nil
}

func (g *gatedSource) ListStates(context.Context) ([]string, error)     { return nil, nil }
func (g *gatedSource) ListCategories(context.Context) ([]string, error) { return nil, nil }

func TestEngine_StaleRefreshIsDiscarded(t *testing.T) {
	for _, honourCancel := range []bool{true, false} {
		name := "ignores cancel"
		if honourCancel {
			name = "honours cancel"
		}
		t.Run(name, func(t *testing.T) {
			stale := []locitypes.RawPlace{{"id": "old", "name": "Old Place", "state": "Kerala"}}
			fresh := []locitypes.RawPlace{{"id": "new", "name": "New Place", "state": "Goa"}}
			src := newGatedSource(stale, fresh, honourCancel)

			e := NewEngine(src, testLogger())
			defer e.Close()

			type outcome struct {
				res *locitypes.RefreshResult
				err error
			}
			done := make(chan outcome, 1)
			go func() {
				res, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
				done <- outcome{res, err}
			}()
			<-src.entered

			res, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
			require.NoError(t, err)
			assert.True(t, res.Applied)
			close(src.release)

			var first outcome
			select {
			case first = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("stale refresh did not return")
			}
			require.NoError(t, first.err)
			assert.True(t, first.res.Superseded)
			assert.False(t, first.res.Applied)
			assert.Less(t, first.res.Generation, res.Generation)

			assert.Equal(t, []string{"New Place"}, names(e.GetHierarchy()))
		})
	}
}

func TestEngine_CloseCancelsPendingRefresh(t *testing.T) {
	src := newGatedSource(remoteRaws(), nil, true)
	e := NewEngine(src, testLogger())

	errs := make(chan error, 1)
	go func() {
		_, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
		errs <- err
	}()
	<-src.entered
	e.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, locitypes.ErrEngineClosed)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not observe Close")
	}
	assert.Empty(t, e.GetHierarchy())

	_, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
	assert.ErrorIs(t, err, locitypes.ErrEngineClosed)
	_, err = e.OnPlaceRemoved(context.Background(), "1")
	assert.ErrorIs(t, err, locitypes.ErrEngineClosed)

	e.Close()
}

func refreshedEngine(t *testing.T) *Engine {
	t.Helper()
	src := new(MockPlaceSource)
	src.On("ListPlaces", mock.Anything, mock.Anything).Return(remoteRaws(), nil)
	stubSelectors(src)

	e := NewEngine(src, testLogger())
	t.Cleanup(e.Close)
	_, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
	require.NoError(t, err)
	return e
}

func TestEngine_FilterIsMemoisedPerVersion(t *testing.T) {
	e := refreshedEngine(t)

	hits := testutil.ToFloat64(filterCacheRequests.WithLabelValues("hit"))
	first := e.Filter("fort", locitypes.Selectors{})
	again := e.Filter(" FORT ", locitypes.Selectors{})
	require.Len(t, first, 1)
	assert.Equal(t, first, again)
	assert.InDelta(t, hits+1, testutil.ToFloat64(filterCacheRequests.WithLabelValues("hit")), 1e-9)

	states, err := e.OnRatingChanged(context.Background(), "1", ptr(2.0))
	require.NoError(t, err)
	require.Len(t, states, 2)

	after := e.Filter("fort", locitypes.Selectors{})
	require.Len(t, after, 1)
	assert.InDelta(t, 2.0, *after[0].Cities[0].Places[0].Rating, 1e-9)
	assert.Equal(t, uint64(2), e.Diagnostics().Version)
}

func TestEngine_FilterViewsAreIndependent(t *testing.T) {
	e := refreshedEngine(t)

	first := e.Filter("fort", locitypes.Selectors{})
	require.Len(t, first, 1)
	first[0].Name = "Overwritten"
	first[0].Cities[0].Places[0].Name = "Overwritten"

	again := e.Filter("fort", locitypes.Selectors{})
	assert.Equal(t, "Delhi", again[0].Name)
	assert.Equal(t, "Red Fort", again[0].Cities[0].Places[0].Name)
}

func TestEngine_Lookups(t *testing.T) {
	e := refreshedEngine(t)

	p, err := e.GetPlaceByID("3")
	require.NoError(t, err)
	assert.Equal(t, "Taj Mahal", p.Name)

	_, err = e.GetPlaceByID("nope")
	assert.ErrorIs(t, err, locitypes.ErrNotFound)

	cities, err := e.GetCitiesForState("uttar pradesh")
	require.NoError(t, err)
	require.Len(t, cities, 1)
	assert.Equal(t, "Agra", cities[0].Name)

	_, err = e.GetCitiesForState("Kerala")
	assert.ErrorIs(t, err, locitypes.ErrNotFound)

	favs := e.FavoritePlaces(favoriteIDs{"2": true})
	require.Len(t, favs, 1)
	assert.Equal(t, "India Gate", favs[0].Name)
}

func TestEngine_MutationCallbacks(t *testing.T) {
	e := refreshedEngine(t)
	ctx := context.Background()

	states, err := e.OnPlaceUpserted(ctx, locitypes.RawPlace{"id": "9", "name": "Baga Beach", "city": "Calangute", "state": "Goa"})
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, states, e.GetHierarchy())

	_, err = e.OnPlaceUpserted(ctx, locitypes.RawPlace{"id": "10"})
	assert.ErrorIs(t, err, locitypes.ErrRecordRejected)

	states, err = e.OnPlaceRemoved(ctx, "9")
	require.NoError(t, err)
	assert.Len(t, states, 2)

	_, err = e.OnRatingChanged(ctx, "missing", ptr(1.0))
	assert.ErrorIs(t, err, locitypes.ErrNotFound)
	assert.Equal(t, uint64(3), e.Diagnostics().Version)
}

func TestEngine_PatchBeforeRefreshIsRefused(t *testing.T) {
	src := new(MockPlaceSource)
	src.On("ListPlaces", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	stubSelectors(src)

	e := NewEngine(src, testLogger(), WithSeed(seedRaws()))
	defer e.Close()

	_, err := e.OnPlaceUpserted(context.Background(), locitypes.RawPlace{"id": "9", "name": "Dal Lake", "state": "Kashmir"})
	assert.ErrorIs(t, err, locitypes.ErrNotFound)
	_, err = e.OnRatingChanged(context.Background(), "9", ptr(4.0))
	assert.ErrorIs(t, err, locitypes.ErrNotFound)
	assert.Equal(t, locitypes.SourceNone, e.Diagnostics().Source)

	res, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, locitypes.SourceSeed, res.Source)
	assert.NotContains(t, names(e.GetHierarchy()), "Dal Lake")
}

func TestEngine_PatchOverSeedKeepsSeedOrigin(t *testing.T) {
	src := new(MockPlaceSource)
	src.On("ListPlaces", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	stubSelectors(src)

	e := NewEngine(src, testLogger(), WithSeed(seedRaws()))
	defer e.Close()

	_, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
	require.NoError(t, err)
	_, err = e.OnPlaceUpserted(context.Background(), locitypes.RawPlace{"id": "9", "name": "Dal Lake", "state": "Kashmir"})
	require.NoError(t, err)
	assert.Equal(t, locitypes.SourceSeed, e.Diagnostics().Source)

	res, err := e.Refresh(context.Background(), locitypes.PlaceQuery{})
	require.NoError(t, err)
	assert.Equal(t, locitypes.SourceSeed, res.Source)
	assert.True(t, res.Applied)
}

func TestEngine_EmptyBeforeRefresh(t *testing.T) {
	e := NewEngine(new(MockPlaceSource), testLogger())
	defer e.Close()

	assert.Empty(t, e.GetHierarchy())
	assert.Empty(t, e.Filter("anything", locitypes.Selectors{}))
	assert.Equal(t, locitypes.Diagnostics{Source: locitypes.SourceNone}, e.Diagnostics())
}

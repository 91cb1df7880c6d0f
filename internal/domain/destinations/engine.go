package destinations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

const (
	defaultPageSize       = 200
	defaultFilterCacheTTL = 5 * time.Minute
	maxPages              = 500
)

var _ Service = (*Engine)(nil)

// PlaceSource is the query capability of the remote store.
type PlaceSource interface {
	ListPlaces(ctx context.Context, query locitypes.PlaceQuery) ([]locitypes.RawPlace, error)
	ListStates(ctx context.Context) ([]string, error)
	ListCategories(ctx context.Context) ([]string, error)
}

// Service is the catalog surface consumed by presentation code.
type Service interface {
	Refresh(ctx context.Context, query locitypes.PlaceQuery) (*locitypes.RefreshResult, error)
	GetHierarchy() []locitypes.StateGroup
	Filter(query string, sel locitypes.Selectors) []locitypes.StateGroup
	GetPlaceByID(id string) (locitypes.Place, error)
	GetCitiesForState(name string) ([]locitypes.CityGroup, error)
	FilterOptions() locitypes.FilterOptions
	FavoritePlaces(favorites FavoriteLookup) []locitypes.Place
	Diagnostics() locitypes.Diagnostics

	// Mutation notifications
	OnRatingChanged(ctx context.Context, placeID string, rating *float64) ([]locitypes.StateGroup, error)
	OnPlaceUpserted(ctx context.Context, raw locitypes.RawPlace) ([]locitypes.StateGroup, error)
	OnPlaceRemoved(ctx context.Context, placeID string) ([]locitypes.StateGroup, error)

	Close()
}

// Option configures an Engine.
type Option func(*Engine)

// WithPageSize sets how many records each store round-trip asks for.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithFilterCacheTTL sets how long memoised filter views are kept.
func WithFilterCacheTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.filterTTL = d
		}
	}
}

// WithSeed replaces the bundled fallback catalog.
func WithSeed(raws []locitypes.RawPlace) Option {
	return func(e *Engine) {
		e.seed = func() ([]locitypes.RawPlace, error) { return raws, nil }
	}
}

// Engine owns the session's hierarchy. Fetching is the only blocking step;
// building, filtering and patching are synchronous. Each Refresh takes a
// generation token and only the newest one may install its result.
type Engine struct {
	source    PlaceSource
	logger    *slog.Logger
	pageSize  int
	filterTTL time.Duration
	seed      func() ([]locitypes.RawPlace, error)

	generation atomic.Uint64

	mu          sync.RWMutex
	snapshot    *Hierarchy
	origin      string
	options     locitypes.FilterOptions
	rejected    int
	refreshedAt time.Time
	versionSeq  uint64
	cancelGen   uint64
	cancel      context.CancelFunc
	closed      bool

	filterCache *cache.Cache
}

func NewEngine(source PlaceSource, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		source:    source,
		logger:    logger,
		pageSize:  defaultPageSize,
		filterTTL: defaultFilterCacheTTL,
		seed:      bundledSeedOnce,
		origin:    locitypes.SourceNone,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.filterCache = cache.New(e.filterTTL, 2*e.filterTTL)
	return e
}

// Refresh fetches the places matching query, rebuilds the hierarchy and
// installs it unless a newer Refresh was issued meanwhile. Issuing a Refresh
// cancels the fetch of the previous one. When the store fails, an existing
// remote snapshot is retained; without one the bundled seed is installed.
func (e *Engine) Refresh(ctx context.Context, query locitypes.PlaceQuery) (*locitypes.RefreshResult, error) {
	ctx, span := otel.Tracer("DestinationsEngine").Start(ctx, "Refresh", trace.WithAttributes(
		attribute.String("query.state", query.State),
		attribute.String("query.category", query.Category),
		attribute.String("query.search", query.Search),
	))
	defer span.End()

	l := e.logger.With(slog.String("method", "Refresh"))
	start := time.Now()

	fetchCtx, gen, err := e.beginRefresh(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "engine closed")
		return nil, err
	}
	defer e.endRefresh(gen)
	span.SetAttributes(attribute.Int64("refresh.generation", int64(gen)))

	result := &locitypes.RefreshResult{Generation: gen}

	raws, options, fetchErr := e.fetch(fetchCtx, query)
	if fetchErr != nil && fetchCtx.Err() != nil {
		return e.abandon(ctx, l, span, result, fetchCtx)
	}

	origin := locitypes.SourceRemote
	if fetchErr != nil {
		result.FetchError = fetchErr.Error()
		span.RecordError(fetchErr)
		l.WarnContext(ctx, "Store fetch failed, falling back", slog.Any("error", fetchErr))

		if e.hasRemoteSnapshot() {
			result.Source = locitypes.SourceRetained
			result.Duration = time.Since(start)
			refreshTotal.WithLabelValues("retained").Inc()
			span.SetStatus(codes.Ok, "Retained previous snapshot")
			return result, nil
		}
		raws, err = e.seed()
		if err != nil {
			l.ErrorContext(ctx, "Failed to load bundled seed", slog.Any("error", err))
			span.SetStatus(codes.Error, "seed unavailable")
			return nil, fmt.Errorf("store fetch failed and seed unavailable: %w", errors.Join(fetchErr, err))
		}
		origin = locitypes.SourceSeed
	}

	places, rejected := NormalizeAll(raws)
	for _, rej := range rejected {
		l.WarnContext(ctx, "Place record rejected", slog.String("id", rej.ID), slog.String("reason", rej.Reason))
	}
	recordsRejected.Add(float64(len(rejected)))

	if origin == locitypes.SourceSeed {
		places = slices.DeleteFunc(places, func(p locitypes.Place) bool { return !matchesQuery(p, query) })
	}

	h := Build(places)
	if len(h.Excluded) > 0 {
		l.WarnContext(ctx, "Places without a state left out of the hierarchy",
			slog.Int("count", len(h.Excluded)), slog.Any("ids", h.Excluded))
		placesExcluded.Add(float64(len(h.Excluded)))
	}

	result.Source = origin
	result.Places = h.Len()
	result.Rejected = len(rejected)
	result.Excluded = len(h.Excluded)
	result.States = len(h.States)

	if !e.install(gen, fetchCtx, h, origin, options, len(rejected)) {
		return e.abandon(ctx, l, span, result, fetchCtx)
	}

	result.Applied = true
	result.Duration = time.Since(start)
	refreshDuration.Observe(result.Duration.Seconds())
	refreshTotal.WithLabelValues("applied_" + origin).Inc()

	l.InfoContext(ctx, "Hierarchy refreshed",
		slog.String("source", origin),
		slog.Int("places", result.Places),
		slog.Int("states", result.States),
		slog.Int("rejected", result.Rejected),
		slog.Int("excluded", result.Excluded))
	span.SetAttributes(attribute.Int("hierarchy.places", result.Places), attribute.Int("hierarchy.states", result.States))
	span.SetStatus(codes.Ok, "Hierarchy refreshed")

	return result, nil
}

// abandon reports a refresh that ended without installing anything: either
// a newer refresh superseded it, the engine was closed, or the caller
// cancelled.
func (e *Engine) abandon(ctx context.Context, l *slog.Logger, span trace.Span, result *locitypes.RefreshResult, fetchCtx context.Context) (*locitypes.RefreshResult, error) {
	if !e.isCurrent(result.Generation) {
		result.Superseded = true
		result.Applied = false
		refreshTotal.WithLabelValues("superseded").Inc()
		l.DebugContext(ctx, "Discarding superseded refresh", slog.Uint64("generation", result.Generation))
		span.SetStatus(codes.Ok, "Superseded")
		return result, nil
	}

	refreshTotal.WithLabelValues("cancelled").Inc()
	span.SetStatus(codes.Error, "Refresh cancelled")
	if e.isClosed() {
		return nil, fmt.Errorf("%w: %w", locitypes.ErrEngineClosed, context.Canceled)
	}
	return nil, fmt.Errorf("refresh cancelled: %w", context.Cause(fetchCtx))
}

func (e *Engine) beginRefresh(ctx context.Context) (context.Context, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, 0, locitypes.ErrEngineClosed
	}
	if e.cancel != nil {
		e.cancel()
	}
	gen := e.generation.Add(1)
	fetchCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.cancelGen = gen
	return fetchCtx, gen, nil
}

func (e *Engine) endRefresh(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelGen == gen && e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) isCurrent(gen uint64) bool {
	return e.generation.Load() == gen
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

func (e *Engine) hasRemoteSnapshot() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot != nil && (e.origin == locitypes.SourceRemote)
}

// install swaps in h if gen is still the newest generation and its fetch
// was not cancelled.
func (e *Engine) install(gen uint64, fetchCtx context.Context, h *Hierarchy, origin string, options locitypes.FilterOptions, rejected int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || !e.isCurrent(gen) || fetchCtx.Err() != nil {
		return false
	}
	e.versionSeq++
	h.version = e.versionSeq
	e.snapshot = h
	e.origin = origin
	e.rejected = rejected
	e.refreshedAt = time.Now().UTC()
	if len(options.States) == 0 {
		options.States = stateNames(h)
	}
	if len(options.Categories) == 0 {
		options.Categories = categoryNames(h)
	}
	e.options = options
	e.filterCache.Flush()
	return true
}

// fetch reads every page of places together with the distinct selector
// values. Selector failures only cost the options; they fall back to values
// derived from the hierarchy.
func (e *Engine) fetch(ctx context.Context, query locitypes.PlaceQuery) ([]locitypes.RawPlace, locitypes.FilterOptions, error) {
	if e.source == nil {
		return nil, locitypes.FilterOptions{}, errors.New("no place source configured")
	}

	var (
		raws    []locitypes.RawPlace
		options locitypes.FilterOptions
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		raws, err = e.fetchAllPages(gctx, query)
		return err
	})
	g.Go(func() error {
		states, err := e.source.ListStates(gctx)
		if err != nil {
			e.logger.WarnContext(gctx, "Failed to list states", slog.Any("error", err))
			return nil
		}
		options.States = states
		return nil
	})
	g.Go(func() error {
		categories, err := e.source.ListCategories(gctx)
		if err != nil {
			e.logger.WarnContext(gctx, "Failed to list categories", slog.Any("error", err))
			return nil
		}
		options.Categories = categories
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, locitypes.FilterOptions{}, err
	}
	return raws, options, nil
}

// fetchAllPages follows limit/offset paging until a short page. A query
// with an explicit Limit is fetched as a single page.
func (e *Engine) fetchAllPages(ctx context.Context, query locitypes.PlaceQuery) ([]locitypes.RawPlace, error) {
	if query.Limit > 0 {
		return e.source.ListPlaces(ctx, query)
	}

	var all []locitypes.RawPlace
	page := query
	page.Limit = e.pageSize
	for i := 0; i < maxPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raws, err := e.source.ListPlaces(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to list places at offset %d: %w", page.Offset, err)
		}
		all = append(all, raws...)
		if len(raws) < page.Limit {
			return all, nil
		}
		page.Offset += page.Limit
	}
	e.logger.WarnContext(ctx, "Stopped paging places at the page limit", slog.Int("pages", maxPages))
	return all, nil
}

func (e *Engine) current() *Hierarchy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// GetHierarchy returns the current snapshot. The groups are shared with the
// engine and must be treated as read-only.
func (e *Engine) GetHierarchy() []locitypes.StateGroup {
	h := e.current()
	if h == nil {
		return []locitypes.StateGroup{}
	}
	return h.States
}

// Filter returns the filtered view of the current snapshot, memoised by
// (snapshot version, query, selectors). Each caller gets its own copy of the
// group slices.
func (e *Engine) Filter(query string, sel locitypes.Selectors) []locitypes.StateGroup {
	h := e.current()
	if h == nil {
		return []locitypes.StateGroup{}
	}

	key := filterCacheKey(h.Version(), query, sel)
	if cached, found := e.filterCache.Get(key); found {
		filterCacheRequests.WithLabelValues("hit").Inc()
		return cloneStates(cached.([]locitypes.StateGroup))
	}
	filterCacheRequests.WithLabelValues("miss").Inc()

	view := Filter(h.States, query, sel)
	e.filterCache.Set(key, view, cache.DefaultExpiration)
	return cloneStates(view)
}

func cloneStates(states []locitypes.StateGroup) []locitypes.StateGroup {
	out := slices.Clone(states)
	for i := range out {
		out[i].Cities = slices.Clone(out[i].Cities)
		for j := range out[i].Cities {
			out[i].Cities[j].Places = slices.Clone(out[i].Cities[j].Places)
		}
	}
	return out
}

func filterCacheKey(version uint64, query string, sel locitypes.Selectors) string {
	expanded := make([]string, 0, len(sel.Expanded))
	for _, name := range sel.Expanded {
		expanded = append(expanded, foldKey(name))
	}
	slices.Sort(expanded)

	return strings.Join([]string{
		strconv.FormatUint(version, 10),
		foldKey(query),
		foldKey(sel.State),
		foldKey(sel.Category),
		strings.Join(expanded, ","),
	}, "\x1f")
}

func (e *Engine) GetPlaceByID(id string) (locitypes.Place, error) {
	p, ok := e.current().Place(id)
	if !ok {
		return locitypes.Place{}, fmt.Errorf("place %q: %w", id, locitypes.ErrNotFound)
	}
	return p, nil
}

func (e *Engine) GetCitiesForState(name string) ([]locitypes.CityGroup, error) {
	st, ok := e.current().State(name)
	if !ok {
		return nil, fmt.Errorf("state %q: %w", name, locitypes.ErrNotFound)
	}
	return st.Cities, nil
}

func (e *Engine) FilterOptions() locitypes.FilterOptions {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return locitypes.FilterOptions{
		States:     slices.Clone(e.options.States),
		Categories: slices.Clone(e.options.Categories),
	}
}

func (e *Engine) FavoritePlaces(favorites FavoriteLookup) []locitypes.Place {
	return e.current().FavoritePlaces(favorites)
}

func (e *Engine) Diagnostics() locitypes.Diagnostics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	d := locitypes.Diagnostics{
		Generation:  e.generation.Load(),
		Source:      e.origin,
		Rejected:    e.rejected,
		RefreshedAt: e.refreshedAt,
	}
	if e.snapshot != nil {
		d.Version = e.snapshot.Version()
		d.Places = e.snapshot.Len()
		d.States = len(e.snapshot.States)
		d.Excluded = len(e.snapshot.Excluded)
	}
	return d
}

// OnRatingChanged patches the rating of one place, typically after a review
// was stored.
func (e *Engine) OnRatingChanged(ctx context.Context, placeID string, rating *float64) ([]locitypes.StateGroup, error) {
	return e.patch(ctx, "rating_changed", placeID, func(h *Hierarchy) (*Hierarchy, error) {
		return h.OnRatingChanged(placeID, rating)
	})
}

// OnPlaceUpserted normalizes an inserted or edited store record and files it.
func (e *Engine) OnPlaceUpserted(ctx context.Context, raw locitypes.RawPlace) ([]locitypes.StateGroup, error) {
	p, err := Normalize(raw)
	if err != nil {
		recordsRejected.Inc()
		patchTotal.WithLabelValues("place_upserted", "rejected").Inc()
		e.logger.WarnContext(ctx, "Upserted place rejected", slog.String("method", "OnPlaceUpserted"), slog.Any("error", err))
		return nil, err
	}
	return e.patch(ctx, "place_upserted", p.ID, func(h *Hierarchy) (*Hierarchy, error) {
		return h.OnPlaceUpserted(p), nil
	})
}

func (e *Engine) OnPlaceRemoved(ctx context.Context, placeID string) ([]locitypes.StateGroup, error) {
	return e.patch(ctx, "place_removed", placeID, func(h *Hierarchy) (*Hierarchy, error) {
		return h.OnPlaceRemoved(placeID)
	})
}

func (e *Engine) patch(ctx context.Context, operation, placeID string, apply func(*Hierarchy) (*Hierarchy, error)) ([]locitypes.StateGroup, error) {
	l := e.logger.With(slog.String("method", "patch"), slog.String("operation", operation), slog.String("place_id", placeID))

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, locitypes.ErrEngineClosed
	}
	h := e.snapshot
	if h == nil {
		patchTotal.WithLabelValues(operation, "error").Inc()
		return nil, fmt.Errorf("no hierarchy loaded: %w", locitypes.ErrNotFound)
	}

	next, err := apply(h)
	if err != nil {
		patchTotal.WithLabelValues(operation, "error").Inc()
		l.DebugContext(ctx, "Patch not applied", slog.Any("error", err))
		return nil, err
	}

	e.versionSeq++
	next.version = e.versionSeq
	e.snapshot = next
	patchTotal.WithLabelValues(operation, "ok").Inc()
	l.DebugContext(ctx, "Patch applied", slog.Uint64("version", next.version))
	return next.States, nil
}

// Close cancels any pending fetch. Results arriving afterwards are
// discarded and mutations are refused.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.filterCache.Flush()
	e.logger.Info("destinations engine closed")
}

func stateNames(h *Hierarchy) []string {
	names := make([]string, 0, len(h.States))
	for _, st := range h.States {
		names = append(names, st.Name)
	}
	return names
}

func categoryNames(h *Hierarchy) []string {
	seen := make(map[locitypes.Category]struct{})
	for _, st := range h.States {
		for _, c := range st.Cities {
			for _, p := range c.Places {
				seen[p.Category] = struct{}{}
			}
		}
	}
	var names []string
	for _, c := range locitypes.Categories {
		if _, ok := seen[c]; ok {
			names = append(names, string(c))
		}
	}
	return names
}

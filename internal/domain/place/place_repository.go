package place

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/loci-destinations/internal/domain/destinations"
	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
	"github.com/FACorreiaa/loci-destinations/pkg/db"
)

var (
	_ Repository               = (*RepositoryImpl)(nil)
	_ destinations.PlaceSource = (*RepositoryImpl)(nil)
)

type Repository interface {
	ListPlaces(ctx context.Context, query locitypes.PlaceQuery) ([]locitypes.RawPlace, error)
	GetPlaceByID(ctx context.Context, id string) (locitypes.RawPlace, error)
	ListStates(ctx context.Context) ([]string, error)
	ListCategories(ctx context.Context) ([]string, error)
}

var placeColumns = []string{
	"id",
	"name",
	"COALESCE(description, '')",
	"COALESCE(city, '')",
	"COALESCE(state, '')",
	"COALESCE(category, '')",
	"rating",
	"review_count",
	"COALESCE(entry_fee, '')",
	"COALESCE(duration, '')",
	"COALESCE(opening_hours, '')",
	"latitude",
	"longitude",
	"COALESCE(images, '{}')",
	"COALESCE(image_url, '')",
	"is_active",
}

type RepositoryImpl struct {
	logger  *slog.Logger
	pgpool  db.Querier
	limiter *rate.Limiter
}

// NewRepository returns the Postgres place store. A nil limiter disables
// throttling.
func NewRepository(pgpool db.Querier, limiter *rate.Limiter, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger:  logger,
		pgpool:  pgpool,
		limiter: limiter,
	}
}

func (r *RepositoryImpl) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("store rate limit: %w", err)
	}
	return nil
}

// buildListPlaces renders the store query for q.
func buildListPlaces(q locitypes.PlaceQuery) (string, []any, error) {
	sb := squirrel.Select(placeColumns...).
		From("places").
		PlaceholderFormat(squirrel.Dollar)

	if q.ActiveOnly {
		sb = sb.Where(squirrel.Eq{"is_active": true})
	}
	if state := strings.TrimSpace(q.State); state != "" {
		sb = sb.Where("LOWER(state) = LOWER(?)", state)
	}
	if category := strings.TrimSpace(q.Category); category != "" {
		sb = sb.Where("LOWER(category) = LOWER(?)", category)
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		sb = sb.Where(squirrel.Or{
			squirrel.ILike{"name": pattern},
			squirrel.ILike{"description": pattern},
			squirrel.ILike{"city": pattern},
		})
	}

	sb = sb.OrderBy("name", "id")
	if q.Limit > 0 {
		sb = sb.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		sb = sb.Offset(uint64(q.Offset))
	}
	return sb.ToSql()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (r *RepositoryImpl) ListPlaces(ctx context.Context, q locitypes.PlaceQuery) ([]locitypes.RawPlace, error) {
	ctx, span := otel.Tracer("PlaceRepository").Start(ctx, "ListPlaces", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "places"),
		attribute.Int("query.limit", q.Limit),
		attribute.Int("query.offset", q.Offset),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "ListPlaces"))

	query, args, err := buildListPlaces(q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to build query")
		return nil, fmt.Errorf("failed to build places query: %w", err)
	}
	if err := r.wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Rate limit wait failed")
		return nil, err
	}

	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		l.ErrorContext(ctx, "Failed to query places", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to query places: %w", err)
	}
	defer rows.Close()

	var places []locitypes.RawPlace
	for rows.Next() {
		raw, err := scanPlace(rows)
		if err != nil {
			l.ErrorContext(ctx, "Failed to scan place row", slog.Any("error", err))
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to scan row")
			return nil, fmt.Errorf("failed to scan place row: %w", err)
		}
		places = append(places, raw)
	}
	if err := rows.Err(); err != nil {
		l.ErrorContext(ctx, "Error iterating place rows", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Row iteration failed")
		return nil, fmt.Errorf("error iterating place rows: %w", err)
	}

	l.DebugContext(ctx, "Places listed", slog.Int("count", len(places)))
	span.SetAttributes(attribute.Int("places.count", len(places)))
	span.SetStatus(codes.Ok, "Places listed")
	return places, nil
}

func (r *RepositoryImpl) GetPlaceByID(ctx context.Context, id string) (locitypes.RawPlace, error) {
	ctx, span := otel.Tracer("PlaceRepository").Start(ctx, "GetPlaceByID", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("place.id", id),
	))
	defer span.End()

	query, args, err := squirrel.Select(placeColumns...).
		From("places").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build place query: %w", err)
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	raw, err := scanPlace(r.pgpool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Place not found")
			return nil, fmt.Errorf("place %q: %w", id, locitypes.ErrNotFound)
		}
		r.logger.ErrorContext(ctx, "Failed to get place", slog.String("method", "GetPlaceByID"), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to get place %q: %w", id, err)
	}

	span.SetStatus(codes.Ok, "Place retrieved")
	return raw, nil
}

func (r *RepositoryImpl) ListStates(ctx context.Context) ([]string, error) {
	return r.listDistinct(ctx, "ListStates", "state")
}

func (r *RepositoryImpl) ListCategories(ctx context.Context) ([]string, error) {
	return r.listDistinct(ctx, "ListCategories", "category")
}

// listDistinct returns the distinct non-empty values of column among active
// places, in alphabetical order.
func (r *RepositoryImpl) listDistinct(ctx context.Context, method, column string) ([]string, error) {
	ctx, span := otel.Tracer("PlaceRepository").Start(ctx, method, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "places"),
	))
	defer span.End()

	query, args, err := squirrel.Select("DISTINCT TRIM("+column+")").
		From("places").
		Where(squirrel.Eq{"is_active": true}).
		Where(squirrel.NotEq{column: nil}).
		Where("TRIM(" + column + ") <> ''").
		OrderBy("1").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s query: %w", column, err)
	}
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to list distinct values", slog.String("method", method), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to list %s values: %w", column, err)
	}

	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to scan rows")
		return nil, fmt.Errorf("failed to scan %s values: %w", column, err)
	}

	span.SetStatus(codes.Ok, "Values listed")
	return values, nil
}

func scanPlace(row pgx.Row) (locitypes.RawPlace, error) {
	var (
		id, name, description, city, state, category string
		entryFee, duration, openingHours, imageURL    string
		rating, latitude, longitude                   pgtype.Float8
		reviewCount                                   int
		images                                        []string
		isActive                                      bool
	)
	if err := row.Scan(
		&id, &name, &description, &city, &state, &category,
		&rating, &reviewCount,
		&entryFee, &duration, &openingHours,
		&latitude, &longitude,
		&images, &imageURL, &isActive,
	); err != nil {
		return nil, err
	}

	raw := locitypes.RawPlace{
		"id":            id,
		"name":          name,
		"description":   description,
		"city":          city,
		"state":         state,
		"category":      category,
		"review_count":  reviewCount,
		"entry_fee":     entryFee,
		"duration":      duration,
		"opening_hours": openingHours,
		"images":        images,
		"image_url":     imageURL,
		"is_active":     isActive,
	}
	if rating.Valid {
		raw["rating"] = rating.Float64
	}
	if latitude.Valid && longitude.Valid {
		raw["latitude"] = latitude.Float64
		raw["longitude"] = longitude.Float64
	}
	return raw, nil
}

package favorites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
	"github.com/FACorreiaa/loci-destinations/pkg/db"
)

var _ Repository = (*RepositoryImpl)(nil)

type Repository interface {
	ListFavorites(ctx context.Context, userID uuid.UUID) ([]string, error)
	AddFavorite(ctx context.Context, userID uuid.UUID, placeID string) error
	RemoveFavorite(ctx context.Context, userID uuid.UUID, placeID string) error
}

const (
	listFavoritesQuery  = `SELECT place_id FROM user_favorite_places WHERE user_id = $1 ORDER BY place_id`
	addFavoriteQuery    = `INSERT INTO user_favorite_places (user_id, place_id) VALUES ($1, $2) ON CONFLICT (user_id, place_id) DO NOTHING`
	removeFavoriteQuery = `DELETE FROM user_favorite_places WHERE user_id = $1 AND place_id = $2`
)

type RepositoryImpl struct {
	logger *slog.Logger
	pgpool db.Querier
}

func NewRepository(pgpool db.Querier, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *RepositoryImpl) ListFavorites(ctx context.Context, userID uuid.UUID) ([]string, error) {
	ctx, span := otel.Tracer("FavoritesRepository").Start(ctx, "ListFavorites", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	rows, err := r.pgpool.Query(ctx, listFavoritesQuery, userID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query favourites", slog.String("method", "ListFavorites"), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to list favourites: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to scan rows")
		return nil, fmt.Errorf("failed to scan favourites: %w", err)
	}

	span.SetStatus(codes.Ok, "Favourites listed")
	return ids, nil
}

func (r *RepositoryImpl) AddFavorite(ctx context.Context, userID uuid.UUID, placeID string) error {
	ctx, span := otel.Tracer("FavoritesRepository").Start(ctx, "AddFavorite", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("place.id", placeID),
	))
	defer span.End()

	if _, err := r.pgpool.Exec(ctx, addFavoriteQuery, userID, placeID); err != nil {
		span.RecordError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			span.SetStatus(codes.Error, "Place not found")
			return fmt.Errorf("place %q: %w", placeID, locitypes.ErrNotFound)
		}
		r.logger.ErrorContext(ctx, "Failed to add favourite", slog.String("method", "AddFavorite"), slog.Any("error", err))
		span.SetStatus(codes.Error, "Failed to add favourite")
		return fmt.Errorf("failed to add favourite: %w", err)
	}
	span.SetStatus(codes.Ok, "Favourite added")
	return nil
}

func (r *RepositoryImpl) RemoveFavorite(ctx context.Context, userID uuid.UUID, placeID string) error {
	ctx, span := otel.Tracer("FavoritesRepository").Start(ctx, "RemoveFavorite", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("place.id", placeID),
	))
	defer span.End()

	if _, err := r.pgpool.Exec(ctx, removeFavoriteQuery, userID, placeID); err != nil {
		r.logger.ErrorContext(ctx, "Failed to remove favourite", slog.String("method", "RemoveFavorite"), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to remove favourite")
		return fmt.Errorf("failed to remove favourite: %w", err)
	}
	span.SetStatus(codes.Ok, "Favourite removed")
	return nil
}

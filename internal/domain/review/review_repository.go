package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
	"github.com/FACorreiaa/loci-destinations/pkg/db"
)

var _ Repository = (*RepositoryImpl)(nil)

type Repository interface {
	// InsertReview stores r and recomputes the rating and review count of
	// its place in the same transaction.
	InsertReview(ctx context.Context, r locitypes.Review) (locitypes.PlaceRatingSummary, error)
	ListReviews(ctx context.Context, placeID string, limit, offset int) ([]locitypes.Review, error)
}

const (
	insertReviewQuery = `
		INSERT INTO reviews (id, place_id, user_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	recomputeRatingQuery = `
		UPDATE places p
		SET rating = agg.avg_rating,
		    review_count = agg.review_count,
		    updated_at = NOW()
		FROM (
		    SELECT AVG(rating)::float8 AS avg_rating, COUNT(*)::int AS review_count
		    FROM reviews
		    WHERE place_id = $1
		) agg
		WHERE p.id = $1
		RETURNING p.rating, p.review_count`
)

// pgForeignKeyViolation is raised when the review references a missing place.
const pgForeignKeyViolation = "23503"

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

func (r *RepositoryImpl) InsertReview(ctx context.Context, rv locitypes.Review) (locitypes.PlaceRatingSummary, error) {
	ctx, span := otel.Tracer("ReviewRepository").Start(ctx, "InsertReview", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("place.id", rv.PlaceID),
		attribute.String("review.id", rv.ID.String()),
	))
	defer span.End()

	l := r.logger.With(slog.String("method", "InsertReview"), slog.String("place_id", rv.PlaceID))
	summary := locitypes.PlaceRatingSummary{PlaceID: rv.PlaceID}

	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to begin transaction")
		return summary, fmt.Errorf("failed to begin transaction: %w", err)
	}

	rollback := func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			l.ErrorContext(ctx, "Failed to rollback transaction", slog.Any("error", rollbackErr))
		}
	}

	if _, err := tx.Exec(ctx, insertReviewQuery, rv.ID, rv.PlaceID, rv.UserID, rv.Rating, rv.Comment, rv.CreatedAt); err != nil {
		rollback()
		span.RecordError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			span.SetStatus(codes.Error, "Place not found")
			return summary, fmt.Errorf("place %q: %w", rv.PlaceID, locitypes.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to insert review", slog.Any("error", err))
		span.SetStatus(codes.Error, "Failed to insert review")
		return summary, fmt.Errorf("failed to insert review: %w", err)
	}

	var rating pgtype.Float8
	if err := tx.QueryRow(ctx, recomputeRatingQuery, rv.PlaceID).Scan(&rating, &summary.ReviewCount); err != nil {
		rollback()
		span.RecordError(err)
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "Place not found")
			return summary, fmt.Errorf("place %q: %w", rv.PlaceID, locitypes.ErrNotFound)
		}
		l.ErrorContext(ctx, "Failed to recompute place rating", slog.Any("error", err))
		span.SetStatus(codes.Error, "Failed to recompute rating")
		return summary, fmt.Errorf("failed to recompute place rating: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		l.ErrorContext(ctx, "Failed to commit review", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to commit")
		return summary, fmt.Errorf("failed to commit review: %w", err)
	}

	if rating.Valid {
		v := rating.Float64
		summary.Rating = &v
	}
	l.InfoContext(ctx, "Review stored", slog.Int("review_count", summary.ReviewCount))
	span.SetStatus(codes.Ok, "Review stored")
	return summary, nil
}

func (r *RepositoryImpl) ListReviews(ctx context.Context, placeID string, limit, offset int) ([]locitypes.Review, error) {
	ctx, span := otel.Tracer("ReviewRepository").Start(ctx, "ListReviews", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("place.id", placeID),
	))
	defer span.End()

	sb := squirrel.Select("id", "place_id", "user_id", "rating", "comment", "created_at").
		From("reviews").
		Where(squirrel.Eq{"place_id": placeID}).
		OrderBy("created_at DESC", "id").
		PlaceholderFormat(squirrel.Dollar)
	if limit > 0 {
		sb = sb.Limit(uint64(limit))
	}
	if offset > 0 {
		sb = sb.Offset(uint64(offset))
	}
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build reviews query: %w", err)
	}

	rows, err := r.pgpool.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query reviews", slog.String("method", "ListReviews"), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Database query failed")
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	reviews := make([]locitypes.Review, 0)
	for rows.Next() {
		var rv locitypes.Review
		if err := rows.Scan(&rv.ID, &rv.PlaceID, &rv.UserID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to scan row")
			return nil, fmt.Errorf("failed to scan review row: %w", err)
		}
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Row iteration failed")
		return nil, fmt.Errorf("error iterating review rows: %w", err)
	}

	span.SetStatus(codes.Ok, "Reviews listed")
	return reviews, nil
}

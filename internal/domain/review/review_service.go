package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

const maxCommentLength = 2000

var _ Service = (*ServiceImpl)(nil)

// RatingNotifier receives the recomputed rating of a place.
type RatingNotifier interface {
	OnRatingChanged(ctx context.Context, placeID string, rating *float64) ([]locitypes.StateGroup, error)
}

type Service interface {
	SubmitReview(ctx context.Context, userID uuid.UUID, placeID string, rating int, comment string) (locitypes.PlaceRatingSummary, error)
	ListReviews(ctx context.Context, placeID string, limit, offset int) ([]locitypes.Review, error)
}

type ServiceImpl struct {
	logger   *slog.Logger
	repo     Repository
	notifier RatingNotifier
}

func NewService(repo Repository, notifier RatingNotifier, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:   logger,
		repo:     repo,
		notifier: notifier,
	}
}

// SubmitReview validates and stores a review, then patches the new place
// rating into the live hierarchy. A place that is not in the current
// hierarchy (filtered out, or not loaded yet) is only logged.
func (s *ServiceImpl) SubmitReview(ctx context.Context, userID uuid.UUID, placeID string, rating int, comment string) (locitypes.PlaceRatingSummary, error) {
	ctx, span := otel.Tracer("ReviewService").Start(ctx, "SubmitReview", trace.WithAttributes(
		attribute.String("place.id", placeID),
		attribute.Int("review.rating", rating),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "SubmitReview"), slog.String("place_id", placeID))

	placeID = strings.TrimSpace(placeID)
	comment = strings.TrimSpace(comment)
	if err := validateReview(userID, placeID, rating, comment); err != nil {
		span.SetStatus(codes.Error, "Invalid review")
		return locitypes.PlaceRatingSummary{}, err
	}

	summary, err := s.repo.InsertReview(ctx, locitypes.NewReview(userID, placeID, rating, comment))
	if err != nil {
		l.ErrorContext(ctx, "Failed to store review", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to store review")
		return locitypes.PlaceRatingSummary{}, fmt.Errorf("failed to submit review: %w", err)
	}

	if s.notifier != nil {
		if _, err := s.notifier.OnRatingChanged(ctx, placeID, summary.Rating); err != nil {
			if errors.Is(err, locitypes.ErrNotFound) {
				l.InfoContext(ctx, "Reviewed place is not in the current hierarchy")
			} else {
				l.WarnContext(ctx, "Failed to patch hierarchy rating", slog.Any("error", err))
			}
		}
	}

	l.InfoContext(ctx, "Review submitted", slog.Int("review_count", summary.ReviewCount))
	span.SetStatus(codes.Ok, "Review submitted")
	return summary, nil
}

func (s *ServiceImpl) ListReviews(ctx context.Context, placeID string, limit, offset int) ([]locitypes.Review, error) {
	if strings.TrimSpace(placeID) == "" {
		return nil, fmt.Errorf("place id is required: %w", locitypes.ErrBadRequest)
	}
	reviews, err := s.repo.ListReviews(ctx, strings.TrimSpace(placeID), limit, offset)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list reviews", slog.String("method", "ListReviews"), slog.Any("error", err))
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	return reviews, nil
}

func validateReview(userID uuid.UUID, placeID string, rating int, comment string) error {
	switch {
	case userID == uuid.Nil:
		return fmt.Errorf("user id is required: %w", locitypes.ErrBadRequest)
	case placeID == "":
		return fmt.Errorf("place id is required: %w", locitypes.ErrBadRequest)
	case rating < 1 || rating > 5:
		return fmt.Errorf("rating must be between 1 and 5, got %d: %w", rating, locitypes.ErrBadRequest)
	case utf8.RuneCountInString(comment) > maxCommentLength:
		return fmt.Errorf("comment exceeds %d characters: %w", maxCommentLength, locitypes.ErrBadRequest)
	}
	return nil
}

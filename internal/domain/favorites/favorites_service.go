package favorites

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	// Load returns the user's set, reading the store on first use.
	Load(ctx context.Context, userID uuid.UUID) (*Set, error)
	// Toggle persists the flipped membership and then updates the set. It
	// reports whether the place is now a favourite.
	Toggle(ctx context.Context, userID uuid.UUID, placeID string) (bool, error)
}

type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
	sets   *cache.Cache
}

func NewService(repo Repository, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger: logger,
		repo:   repo,
		sets:   cache.New(30*time.Minute, 10*time.Minute),
	}
}

func (s *ServiceImpl) Load(ctx context.Context, userID uuid.UUID) (*Set, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required: %w", locitypes.ErrBadRequest)
	}
	key := userID.String()
	if cached, found := s.sets.Get(key); found {
		return cached.(*Set), nil
	}

	ids, err := s.repo.ListFavorites(ctx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to load favourites", slog.String("method", "Load"), slog.Any("error", err))
		return nil, fmt.Errorf("failed to load favourites: %w", err)
	}
	set := NewSet(ids...)
	s.sets.Set(key, set, cache.DefaultExpiration)
	return set, nil
}

func (s *ServiceImpl) Toggle(ctx context.Context, userID uuid.UUID, placeID string) (bool, error) {
	l := s.logger.With(slog.String("method", "Toggle"), slog.String("place_id", placeID))

	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return false, fmt.Errorf("place id is required: %w", locitypes.ErrBadRequest)
	}
	set, err := s.Load(ctx, userID)
	if err != nil {
		return false, err
	}

	if set.Contains(placeID) {
		if err := s.repo.RemoveFavorite(ctx, userID, placeID); err != nil {
			l.ErrorContext(ctx, "Failed to remove favourite", slog.Any("error", err))
			return true, fmt.Errorf("failed to toggle favourite: %w", err)
		}
		set.Remove(placeID)
		l.InfoContext(ctx, "Favourite removed")
		return false, nil
	}

	if err := s.repo.AddFavorite(ctx, userID, placeID); err != nil {
		l.ErrorContext(ctx, "Failed to add favourite", slog.Any("error", err))
		return false, fmt.Errorf("failed to toggle favourite: %w", err)
	}
	set.Add(placeID)
	l.InfoContext(ctx, "Favourite added")
	return true, nil
}

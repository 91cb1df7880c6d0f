package locitypes

import (
	"time"

	"github.com/google/uuid"
)

type Review struct {
	ID        uuid.UUID `json:"id"`
	PlaceID   string    `json:"place_id"`
	UserID    uuid.UUID `json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewReview(userID uuid.UUID, placeID string, rating int, comment string) Review {
	return Review{
		ID:        uuid.New(),
		PlaceID:   placeID,
		UserID:    userID,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
}

// PlaceRatingSummary is the place aggregate recomputed by the store after a
// review insert.
type PlaceRatingSummary struct {
	PlaceID     string   `json:"place_id"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount int      `json:"review_count"`
}

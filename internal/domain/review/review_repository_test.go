package review

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

func newTestRepo(t *testing.T) (*RepositoryImpl, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return NewRepository(mockPool, slog.New(slog.NewTextHandler(io.Discard, nil))), mockPool
}

func TestInsertReview(t *testing.T) {
	repo, mockPool := newTestRepo(t)
	rv := locitypes.NewReview(uuid.New(), "p1", 4, "Worth the queue")

	mockPool.ExpectBegin()
	mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO reviews")).
		WithArgs(rv.ID, "p1", rv.UserID, 4, "Worth the queue", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectQuery(regexp.QuoteMeta("UPDATE places p")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"rating", "review_count"}).AddRow(4.25, 4))
	mockPool.ExpectCommit()

	summary, err := repo.InsertReview(context.Background(), rv)
	require.NoError(t, err)
	assert.Equal(t, "p1", summary.PlaceID)
	require.NotNil(t, summary.Rating)
	assert.InDelta(t, 4.25, *summary.Rating, 1e-9)
	assert.Equal(t, 4, summary.ReviewCount)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestInsertReview_KeepsFullPrecisionAverage(t *testing.T) {
	repo, mockPool := newTestRepo(t)
	rv := locitypes.NewReview(uuid.New(), "p1", 5, "")

	mockPool.ExpectBegin()
	mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO reviews")).
		WithArgs(rv.ID, "p1", rv.UserID, 5, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectQuery(regexp.QuoteMeta("SELECT AVG(rating)::float8 AS avg_rating")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"rating", "review_count"}).AddRow(13.0/3.0, 3))
	mockPool.ExpectCommit()

	summary, err := repo.InsertReview(context.Background(), rv)
	require.NoError(t, err)
	require.NotNil(t, summary.Rating)
	assert.InDelta(t, 13.0/3.0, *summary.Rating, 1e-12)
	assert.NotContains(t, recomputeRatingQuery, "ROUND")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestInsertReview_UnknownPlace(t *testing.T) {
	repo, mockPool := newTestRepo(t)
	rv := locitypes.NewReview(uuid.New(), "missing", 5, "")

	mockPool.ExpectBegin()
	mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO reviews")).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation, Message: "violates foreign key constraint"})
	mockPool.ExpectRollback()

	_, err := repo.InsertReview(context.Background(), rv)
	assert.ErrorIs(t, err, locitypes.ErrNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestInsertReview_RecomputeFails(t *testing.T) {
	repo, mockPool := newTestRepo(t)
	rv := locitypes.NewReview(uuid.New(), "p1", 3, "")

	mockPool.ExpectBegin()
	mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO reviews")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectQuery(regexp.QuoteMeta("UPDATE places p")).
		WillReturnError(errors.New("deadlock detected"))
	mockPool.ExpectRollback()

	_, err := repo.InsertReview(context.Background(), rv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestListReviews(t *testing.T) {
	repo, mockPool := newTestRepo(t)
	id, user := uuid.New(), uuid.New()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mockPool.ExpectQuery(regexp.QuoteMeta("FROM reviews WHERE place_id = $1 ORDER BY created_at DESC, id LIMIT 10")).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "place_id", "user_id", "rating", "comment", "created_at"}).
			AddRow(id, "p1", user, 5, "Stunning", created))

	reviews, err := repo.ListReviews(context.Background(), "p1", 10, 0)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, locitypes.Review{ID: id, PlaceID: "p1", UserID: user, Rating: 5, Comment: "Stunning", CreatedAt: created}, reviews[0])
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

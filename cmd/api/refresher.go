package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/FACorreiaa/loci-destinations/internal/domain/destinations"
	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
)

// Refresher reloads the catalog once at start and then every interval.
type Refresher struct {
	engine   destinations.Service
	query    locitypes.PlaceQuery
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewRefresher(engine destinations.Service, query locitypes.PlaceQuery, interval, timeout time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		engine:   engine,
		query:    query,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Run blocks until ctx is done. A zero interval performs only the initial
// refresh.
func (r *Refresher) Run(ctx context.Context) error {
	r.refreshOnce(ctx)
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.refreshOnce(ctx)
		}
	}
}

func (r *Refresher) refreshOnce(ctx context.Context) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	res, err := r.engine.Refresh(ctx, r.query)
	switch {
	case err == nil:
		r.logger.InfoContext(ctx, "catalog refresh finished",
			slog.Uint64("generation", res.Generation),
			slog.String("source", res.Source),
			slog.Bool("applied", res.Applied),
			slog.Int("places", res.Places))
	case errors.Is(err, context.Canceled), errors.Is(err, locitypes.ErrEngineClosed):
		r.logger.DebugContext(ctx, "catalog refresh cancelled", slog.Any("error", err))
	default:
		r.logger.ErrorContext(ctx, "catalog refresh failed", slog.Any("error", err))
	}
}

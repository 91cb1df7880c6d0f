package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/FACorreiaa/loci-destinations/internal/domain/destinations"
	"github.com/FACorreiaa/loci-destinations/internal/domain/favorites"
	"github.com/FACorreiaa/loci-destinations/internal/domain/place"
	"github.com/FACorreiaa/loci-destinations/internal/domain/review"
	"github.com/FACorreiaa/loci-destinations/pkg/config"
	"github.com/FACorreiaa/loci-destinations/pkg/db"
)

// HealthChecker verifies that an infrastructure dependency is reachable.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	HealthChecks map[string]HealthChecker

	// Repositories
	PlaceRepo     place.Repository
	ReviewRepo    review.Repository
	FavoritesRepo favorites.Repository

	// Services
	Engine           destinations.Service
	ReviewService    review.Service
	FavoritesService favorites.Service
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:       cfg,
		Logger:       logger,
		HealthChecks: make(map[string]HealthChecker),
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()
	deps.initServices()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        d.Config.Database.MaxConns,
		MinConns:        d.Config.Database.MinConns,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.DB = database
	d.HealthChecks["postgres"] = dbChecker{database}

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() {
	var limiter *rate.Limiter
	if r := d.Config.Catalog.StoreRatePerSecond; r > 0 {
		limiter = rate.NewLimiter(rate.Limit(r), max(d.Config.Catalog.StoreBurst, 1))
	}

	d.PlaceRepo = place.NewRepository(d.DB.Pool, limiter, d.Logger)
	d.ReviewRepo = review.NewRepository(d.DB.Pool, d.Logger)
	d.FavoritesRepo = favorites.NewRepository(d.DB.Pool, d.Logger)

	d.Logger.Info("repositories initialized")
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() {
	engine := destinations.NewEngine(d.PlaceRepo, d.Logger.With(slog.String("component", "destinations")),
		destinations.WithPageSize(d.Config.Catalog.PageSize),
		destinations.WithFilterCacheTTL(d.Config.Catalog.FilterCacheTTL),
	)
	d.Engine = engine
	d.ReviewService = review.NewService(d.ReviewRepo, engine, d.Logger)
	d.FavoritesService = favorites.NewService(d.FavoritesRepo, d.Logger)

	d.Logger.Info("services initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.Engine != nil {
		d.Engine.Close()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}

// dbChecker adapts *db.DB to HealthChecker.
type dbChecker struct{ db *db.DB }

func (c dbChecker) Check(ctx context.Context) error { return c.db.Health(ctx) }

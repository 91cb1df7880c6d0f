package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Database      DatabaseConfig      `envPrefix:"DB_"`
	Server        ServerConfig        `envPrefix:"SERVER_"`
	Catalog       CatalogConfig       `envPrefix:"CATALOG_"`
	Observability ObservabilityConfig `envPrefix:"OBSERVABILITY_"`
	LogLevel      slog.Level          `env:"LOG_LEVEL" envDefault:"INFO"`
}

type DatabaseConfig struct {
	// URL, when set, takes precedence over the individual fields.
	URL      string `env:"URL"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"postgres"`
	Password string `env:"PASSWORD"`
	Name     string `env:"NAME" envDefault:"loci_destinations"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"MAX_CONNS" envDefault:"25"`
	MinConns int32  `env:"MIN_CONNS" envDefault:"5"`
}

// DSN returns the connection string for pgx.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	if d.Password == "" {
		u.User = url.User(d.User)
	}
	return u.String()
}

type ServerConfig struct {
	Addr               string        `env:"ADDR" envDefault:":8000"`
	ReadTimeout        time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	RateLimitPerSecond int           `env:"RATE_LIMIT_PER_SECOND" envDefault:"50"`
	RateLimitBurst     int           `env:"RATE_LIMIT_BURST" envDefault:"100"`
	AllowedOrigins     []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

// CatalogConfig tunes the destinations engine and its store adapter.
type CatalogConfig struct {
	PageSize           int           `env:"PAGE_SIZE" envDefault:"200"`
	ActiveOnly         bool          `env:"ACTIVE_ONLY" envDefault:"true"`
	StoreRatePerSecond float64       `env:"STORE_RATE_PER_SECOND" envDefault:"20"`
	StoreBurst         int           `env:"STORE_BURST" envDefault:"5"`
	FilterCacheTTL     time.Duration `env:"FILTER_CACHE_TTL" envDefault:"5m"`
	RefreshInterval    time.Duration `env:"REFRESH_INTERVAL" envDefault:"10m"`
	RefreshTimeout     time.Duration `env:"REFRESH_TIMEOUT" envDefault:"30s"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	ServiceName    string `env:"SERVICE_NAME" envDefault:"loci-destinations"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return Parse()
}

// Parse reads the configuration from the environment only.
func Parse() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Catalog.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("CATALOG_PAGE_SIZE must be positive, got %d", c.Catalog.PageSize))
	}
	if c.Catalog.RefreshInterval < 0 {
		errs = append(errs, errors.New("CATALOG_REFRESH_INTERVAL must not be negative"))
	}
	if c.Catalog.StoreRatePerSecond < 0 {
		errs = append(errs, errors.New("CATALOG_STORE_RATE_PER_SECOND must not be negative"))
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Database.MinConns, c.Database.MaxConns))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

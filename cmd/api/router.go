package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	locitypes "github.com/FACorreiaa/loci-destinations/internal/types"
	"github.com/FACorreiaa/loci-destinations/pkg/interceptors"
)

// SetupRouter configures all routes and returns the HTTP handler
func SetupRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	var limiter *rate.Limiter
	if deps.Config.Server.RateLimitPerSecond > 0 && deps.Config.Server.RateLimitBurst > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(float64(deps.Config.Server.RateLimitPerSecond)),
			deps.Config.Server.RateLimitBurst,
		)
	}

	registerUtilityRoutes(mux, deps)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: deps.Config.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept",
			"Accept-Encoding",
			"Content-Type",
			"X-Request-ID",
		},
		ExposedHeaders: []string{"X-Request-ID"},
	})

	return interceptors.Chain(mux,
		corsHandler.Handler,
		interceptors.NewRequestIDMiddleware("X-Request-ID"),
		interceptors.NewRecoveryMiddleware(deps.Logger),
		interceptors.NewRateLimitMiddleware(limiter),
		interceptors.NewLoggingMiddleware(deps.Logger),
	)
}

type checkResult struct {
	Status string `json:"status"`
}

type readiness struct {
	Status      string                `json:"status"`
	Diagnostics locitypes.Diagnostics `json:"diagnostics"`
}

// registerUtilityRoutes registers health check, readiness and metrics routes
func registerUtilityRoutes(mux *http.ServeMux, deps *Dependencies) {
	mux.Handle("GET /health", interceptors.NewMetricsMiddleware("/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		results := make(map[string]checkResult, len(deps.HealthChecks))
		status := http.StatusOK
		for name, c := range deps.HealthChecks {
			if err := c.Check(ctx); err != nil {
				deps.Logger.ErrorContext(ctx, "health check failed", "name", name, "error", err)
				results[name] = checkResult{Status: "error"}
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = checkResult{Status: "ok"}
		}
		writeJSON(w, status, results)
	})))
	deps.Logger.Info("registered health check", "path", "/health")

	// Ready once a hierarchy, remote or seed, has been installed.
	mux.Handle("GET /ready", interceptors.NewMetricsMiddleware("/ready")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := deps.Engine.Diagnostics()
		if d.Source == locitypes.SourceNone {
			writeJSON(w, http.StatusServiceUnavailable, readiness{Status: "loading", Diagnostics: d})
			return
		}
		writeJSON(w, http.StatusOK, readiness{Status: "ready", Diagnostics: d})
	})))
	deps.Logger.Info("registered readiness check", "path", "/ready")

	if deps.Config.Observability.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
		deps.Logger.Info("registered metrics endpoint", "path", "/metrics")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

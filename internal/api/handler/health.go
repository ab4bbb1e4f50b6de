package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/tryrack/tryon/internal/api/response"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. The
// endpoint is public and reports degraded instead of failing the request when
// a dependency is down.
func NewHealthHandler(db, cache pinger, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}
		if err := db.Ping(ctx); err != nil {
			status = "degraded"
			checks["database"] = err.Error()
		}
		if err := cache.Ping(ctx); err != nil {
			status = "degraded"
			checks["cache"] = err.Error()
		}

		response.JSON(w, map[string]any{
			"status":  status,
			"version": version,
			"checks":  checks,
		})
	}
}

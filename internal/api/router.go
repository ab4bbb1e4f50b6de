package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/tryrack/tryon/internal/api/middleware"
	"github.com/tryrack/tryon/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateTryOnHandler http.HandlerFunc
	PollTryOnHandler   http.HandlerFunc
	ListTryOnHandler   http.HandlerFunc
	DeleteTryOnHandler http.HandlerFunc

	CreateWardrobeHandler http.HandlerFunc
	GetWardrobeHandler    http.HandlerFunc
	ListWardrobeHandler   http.HandlerFunc
	UpdateWardrobeHandler http.HandlerFunc
	DeleteWardrobeHandler http.HandlerFunc
	MarkWornHandler       http.HandlerFunc
	StyleInsightsHandler  http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/tryon", orNotImplemented(deps.CreateTryOnHandler))
		r.Get("/api/v1/tryon", orNotImplemented(deps.ListTryOnHandler))
		r.Get("/api/v1/tryon/{jobID}", orNotImplemented(deps.PollTryOnHandler))
		r.Delete("/api/v1/tryon/{jobID}", orNotImplemented(deps.DeleteTryOnHandler))

		r.Post("/api/v1/wardrobe", orNotImplemented(deps.CreateWardrobeHandler))
		r.Get("/api/v1/wardrobe", orNotImplemented(deps.ListWardrobeHandler))
		r.Get("/api/v1/wardrobe/{itemID}", orNotImplemented(deps.GetWardrobeHandler))
		r.Patch("/api/v1/wardrobe/{itemID}", orNotImplemented(deps.UpdateWardrobeHandler))
		r.Delete("/api/v1/wardrobe/{itemID}", orNotImplemented(deps.DeleteWardrobeHandler))
		r.Post("/api/v1/wardrobe/{itemID}/worn", orNotImplemented(deps.MarkWornHandler))
		r.Get("/api/v1/style-insights", orNotImplemented(deps.StyleInsightsHandler))

		r.Post("/api/v1/keys", orNotImplemented(deps.CreateKeyHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

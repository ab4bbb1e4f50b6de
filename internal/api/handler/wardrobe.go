package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	mw "github.com/tryrack/tryon/internal/api/middleware"
	"github.com/tryrack/tryon/internal/api/response"
	"github.com/tryrack/tryon/internal/store"
	"github.com/tryrack/tryon/internal/wardrobe"
	"github.com/tryrack/tryon/pkg/models"

	"github.com/go-chi/chi/v5"
)

// WardrobeService defines the catalog operations the handlers depend on.
type WardrobeService interface {
	Create(ctx context.Context, ownerID uuid.UUID, params wardrobe.CreateParams) (*models.WardrobeItem, error)
	Get(ctx context.Context, id, ownerID uuid.UUID) (*models.WardrobeItem, error)
	List(ctx context.Context, filter store.WardrobeFilter) ([]*models.WardrobeItem, int, error)
	Update(ctx context.Context, id, ownerID uuid.UUID, params wardrobe.UpdateParams) (*models.WardrobeItem, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
	MarkWorn(ctx context.Context, id, ownerID uuid.UUID) error
	StyleInsights(ctx context.Context, ownerID uuid.UUID) (*wardrobe.StyleInsights, error)
}

type createWardrobeRequest struct {
	Title     string   `json:"title"`
	Category  string   `json:"category"`
	Colors    []string `json:"colors,omitempty"`
	StyleTags []string `json:"style_tags,omitempty"`
	Image     string   `json:"image,omitempty"`
}

// NewCreateWardrobeHandler returns an http.HandlerFunc for POST /api/v1/wardrobe.
func NewCreateWardrobeHandler(svc WardrobeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		var req createWardrobeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		params := wardrobe.CreateParams{
			Title:     strings.TrimSpace(req.Title),
			Category:  strings.TrimSpace(req.Category),
			Colors:    req.Colors,
			StyleTags: req.StyleTags,
		}
		if req.Image != "" {
			mime, data, err := decodeImageField(req.Image)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "image: "+err.Error(), nil)
				return
			}
			params.ImageData = data
			params.ImageMime = mime
		}

		item, err := svc.Create(r.Context(), ownerID, params)
		if err != nil {
			if errors.Is(err, wardrobe.ErrValidation) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.Created(w, item)
	}
}

// NewGetWardrobeHandler returns an http.HandlerFunc for GET /api/v1/wardrobe/{itemID}.
func NewGetWardrobeHandler(svc WardrobeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid item id", nil)
			return
		}

		item, err := svc.Get(r.Context(), itemID, ownerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Wardrobe item not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, item)
	}
}

// NewListWardrobeHandler returns an http.HandlerFunc for GET /api/v1/wardrobe.
func NewListWardrobeHandler(svc WardrobeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		page, limit := paginationParams(r)
		items, total, err := svc.List(r.Context(), store.WardrobeFilter{
			OwnerID:  ownerID,
			Category: r.URL.Query().Get("category"),
			Page:     page,
			Limit:    limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Collection(w, items, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

type updateWardrobeRequest struct {
	Title     *string  `json:"title,omitempty"`
	Category  *string  `json:"category,omitempty"`
	Colors    []string `json:"colors,omitempty"`
	StyleTags []string `json:"style_tags,omitempty"`
}

// NewUpdateWardrobeHandler returns an http.HandlerFunc for PATCH /api/v1/wardrobe/{itemID}.
func NewUpdateWardrobeHandler(svc WardrobeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid item id", nil)
			return
		}

		var req updateWardrobeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		item, err := svc.Update(r.Context(), itemID, ownerID, wardrobe.UpdateParams{
			Title:     req.Title,
			Category:  req.Category,
			Colors:    req.Colors,
			StyleTags: req.StyleTags,
		})
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Wardrobe item not found", nil)
			case errors.Is(err, wardrobe.ErrValidation):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}
		response.JSON(w, item)
	}
}

// NewDeleteWardrobeHandler returns an http.HandlerFunc for DELETE /api/v1/wardrobe/{itemID}.
func NewDeleteWardrobeHandler(svc WardrobeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid item id", nil)
			return
		}

		if err := svc.Delete(r.Context(), itemID, ownerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Wardrobe item not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.NoContent(w)
	}
}

// NewStyleInsightsHandler returns an http.HandlerFunc for GET /api/v1/style-insights.
func NewStyleInsightsHandler(svc WardrobeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		insights, err := svc.StyleInsights(r.Context(), ownerID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, insights)
	}
}

// NewMarkWornHandler returns an http.HandlerFunc for POST /api/v1/wardrobe/{itemID}/worn.
func NewMarkWornHandler(svc WardrobeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid item id", nil)
			return
		}

		if err := svc.MarkWorn(r.Context(), itemID, ownerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Wardrobe item not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.NoContent(w)
	}
}

package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	mw "github.com/tryrack/tryon/internal/api/middleware"
	"github.com/tryrack/tryon/internal/api/response"
	"github.com/tryrack/tryon/internal/store"
	"github.com/tryrack/tryon/internal/tryon"
	"github.com/tryrack/tryon/pkg/models"

	"github.com/go-chi/chi/v5"
)

// TryOnService defines the job operations the handlers depend on.
type TryOnService interface {
	Create(ctx context.Context, ownerID uuid.UUID, params tryon.CreateParams) (*models.TryOnJob, error)
	Get(ctx context.Context, id, ownerID uuid.UUID) (*tryon.JobView, error)
	List(ctx context.Context, filter store.JobFilter) ([]*models.TryOnJob, int, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
}

type tryOnItemRequest struct {
	Kind           string   `json:"kind"`
	WardrobeItemID string   `json:"wardrobe_item_id,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`
	Image          string   `json:"image,omitempty"`
	Category       string   `json:"category,omitempty"`
	Colors         []string `json:"colors,omitempty"`
	StyleTags      []string `json:"style_tags,omitempty"`
}

type createTryOnRequest struct {
	SubjectImage    string             `json:"subject_image"`
	Items           []tryOnItemRequest `json:"items"`
	CleanBackground bool               `json:"clean_background"`
	Instruction     string             `json:"instruction,omitempty"`
}

// jobResponse is the polling shape. ResultImage carries the base64 result
// while the durable upload is still pending; result_url replaces it later.
type jobResponse struct {
	*models.TryOnJob
	ResultImage     string `json:"result_image,omitempty"`
	ResultImageMime string `json:"result_image_mime,omitempty"`
}

// NewCreateTryOnHandler returns an http.HandlerFunc for POST /api/v1/tryon.
func NewCreateTryOnHandler(svc TryOnService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		var req createTryOnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		params, err := buildCreateParams(req)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		job, err := svc.Create(r.Context(), ownerID, params)
		if err != nil {
			switch {
			case errors.Is(err, tryon.ErrValidation):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			case errors.Is(err, tryon.ErrBusy):
				w.Header().Set("Retry-After", "30")
				response.Error(w, http.StatusServiceUnavailable, "PIPELINE_BUSY",
					"Try-on pipeline is at capacity, retry later", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, jobResponse{TryOnJob: job})
	}
}

// NewPollTryOnHandler returns an http.HandlerFunc for GET /api/v1/tryon/{jobID}.
func NewPollTryOnHandler(svc TryOnService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		view, err := svc.Get(r.Context(), jobID, ownerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		resp := jobResponse{TryOnJob: view.Job}
		if view.InlineResult != nil {
			resp.ResultImage = base64.StdEncoding.EncodeToString(view.InlineResult.Data)
			resp.ResultImageMime = view.InlineResult.ContentType
		}
		response.JSON(w, resp)
	}
}

// NewListTryOnHandler returns an http.HandlerFunc for GET /api/v1/tryon.
func NewListTryOnHandler(svc TryOnService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		page, limit := paginationParams(r)
		status := r.URL.Query().Get("status")
		switch status {
		case "", models.TryOnStatusProcessing, models.TryOnStatusCompleted, models.TryOnStatusFailed:
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown status filter", nil)
			return
		}

		jobs, total, err := svc.List(r.Context(), store.JobFilter{
			OwnerID: ownerID,
			Status:  status,
			Page:    page,
			Limit:   limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.Collection(w, jobs, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewDeleteTryOnHandler returns an http.HandlerFunc for DELETE /api/v1/tryon/{jobID}.
func NewDeleteTryOnHandler(svc TryOnService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job id", nil)
			return
		}

		if err := svc.Delete(r.Context(), jobID, ownerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.NoContent(w)
	}
}

func buildCreateParams(req createTryOnRequest) (tryon.CreateParams, error) {
	params := tryon.CreateParams{
		CleanBackground: req.CleanBackground,
		Instruction:     strings.TrimSpace(req.Instruction),
	}

	subject := strings.TrimSpace(req.SubjectImage)
	if subject == "" {
		return params, fmt.Errorf("subject_image is required")
	}
	if isHTTPURL(subject) {
		params.SubjectImageURL = subject
	} else {
		mime, data, err := decodeImageField(subject)
		if err != nil {
			return params, fmt.Errorf("subject_image: %v", err)
		}
		params.SubjectImageData = data
		params.SubjectImageMime = mime
	}

	for i, it := range req.Items {
		item := models.TryOnItem{
			Kind:      it.Kind,
			Category:  it.Category,
			Colors:    it.Colors,
			StyleTags: it.StyleTags,
		}
		if it.WardrobeItemID != "" {
			id, err := uuid.Parse(it.WardrobeItemID)
			if err != nil {
				return params, fmt.Errorf("items[%d]: invalid wardrobe_item_id", i)
			}
			item.WardrobeItemID = &id
		}
		if it.ImageURL != "" {
			if !isHTTPURL(it.ImageURL) {
				return params, fmt.Errorf("items[%d]: image_url must be http or https", i)
			}
			item.ImageURL = it.ImageURL
		}
		if it.Image != "" {
			mime, data, err := decodeImageField(it.Image)
			if err != nil {
				return params, fmt.Errorf("items[%d]: %v", i, err)
			}
			item.ImageData = data
			item.ImageMime = mime
		}
		params.Items = append(params.Items, item)
	}

	return params, nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// decodeImageField accepts a data URL or bare base64 and returns the mime
// type (empty when unknown) and the decoded bytes.
func decodeImageField(s string) (string, []byte, error) {
	mime := ""
	if strings.HasPrefix(s, "data:") {
		rest := strings.TrimPrefix(s, "data:")
		sep := strings.Index(rest, ";base64,")
		if sep < 0 {
			return "", nil, fmt.Errorf("malformed data URL")
		}
		mime = rest[:sep]
		s = rest[sep+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 image data")
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("empty image data")
	}
	return mime, data, nil
}

func paginationParams(r *http.Request) (page, limit int) {
	page = queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	limit = queryInt(r, "limit", 20)
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

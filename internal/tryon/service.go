package tryon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tryrack/tryon/internal/cache"
	"github.com/tryrack/tryon/internal/store"
	"github.com/tryrack/tryon/pkg/models"
)

// maxItems caps how many garments one job may combine.
const maxItems = 5

// ErrValidation marks a request rejected before any work started.
var ErrValidation = errors.New("invalid try-on request")

// ErrBusy marks a request refused because the job queue is full.
var ErrBusy = errors.New("try-on pipeline at capacity")

// Service is the try-on job API surface: create, poll, list, delete. Creation
// persists the job and hands it to the worker pool; everything after that is
// the orchestrator's business.
type Service struct {
	store  store.Store
	cache  cache.Cache
	pool   *Pool
	logger *slog.Logger
}

func NewService(st store.Store, c cache.Cache, pool *Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, cache: c, pool: pool, logger: logger}
}

// CreateParams is a validated-at-the-edge try-on request. Exactly one of
// SubjectImageURL or SubjectImageData must be set.
type CreateParams struct {
	SubjectImageURL  string
	SubjectImageData []byte
	SubjectImageMime string
	Items            []models.TryOnItem
	CleanBackground  bool
	Instruction      string
}

// Create persists a new processing job and enqueues it. The returned job is
// what the client polls with.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, params CreateParams) (*models.TryOnJob, error) {
	if err := s.validate(ctx, ownerID, &params); err != nil {
		return nil, err
	}

	job := &models.TryOnJob{
		ID:              uuid.New(),
		OwnerID:         ownerID,
		Items:           params.Items,
		Status:          models.TryOnStatusProcessing,
		CleanBackground: params.CleanBackground,
	}
	if params.SubjectImageURL != "" {
		job.SubjectImageURL = &params.SubjectImageURL
	}
	if len(params.SubjectImageData) > 0 {
		job.SubjectImageData = params.SubjectImageData
		job.SubjectImageMime = &params.SubjectImageMime
	}
	if params.Instruction != "" {
		job.Instruction = &params.Instruction
	}

	if err := s.store.CreateTryOnJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating try-on job: %w", err)
	}

	if err := s.pool.Submit(job.ID); err != nil {
		// Roll the row back so the client never polls a job nothing will run.
		if delErr := s.store.DeleteTryOnJob(ctx, job.ID, ownerID); delErr != nil {
			s.logger.Error("rolling back unqueued job failed", "job_id", job.ID, "error", delErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrBusy, err)
	}

	s.logger.Info("try-on job accepted", "job_id", job.ID, "owner_id", ownerID, "items", len(job.Items))
	return job, nil
}

func (s *Service) validate(ctx context.Context, ownerID uuid.UUID, params *CreateParams) error {
	if params.SubjectImageURL == "" && len(params.SubjectImageData) == 0 {
		return fmt.Errorf("%w: subject image is required", ErrValidation)
	}
	if params.SubjectImageURL != "" && len(params.SubjectImageData) > 0 {
		return fmt.Errorf("%w: subject image must be a URL or inline data, not both", ErrValidation)
	}
	if len(params.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	if len(params.Items) > maxItems {
		return fmt.Errorf("%w: at most %d items per job, got %d", ErrValidation, maxItems, len(params.Items))
	}

	for i := range params.Items {
		item := &params.Items[i]
		switch item.Kind {
		case models.ItemSourceWardrobe:
			if item.WardrobeItemID == nil {
				return fmt.Errorf("%w: item %d: wardrobe item id is required", ErrValidation, i+1)
			}
			// Snapshot catalog metadata into the job so the prompt survives
			// later wardrobe edits. The image URL is resolved fresh at run time.
			wi, err := s.store.GetWardrobeItem(ctx, *item.WardrobeItemID, ownerID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%w: item %d: wardrobe item %s not found", ErrValidation, i+1, item.WardrobeItemID)
				}
				return fmt.Errorf("resolving wardrobe item %s: %w", item.WardrobeItemID, err)
			}
			if item.Category == "" {
				item.Category = wi.Category
			}
			if len(item.Colors) == 0 {
				item.Colors = wi.Colors
			}
			if len(item.StyleTags) == 0 {
				item.StyleTags = wi.StyleTags
			}
		case models.ItemSourceExternal:
			if item.ImageURL == "" && len(item.ImageData) == 0 {
				return fmt.Errorf("%w: item %d: an image URL or inline data is required", ErrValidation, i+1)
			}
			if item.ImageURL != "" && len(item.ImageData) > 0 {
				return fmt.Errorf("%w: item %d: image must be a URL or inline data, not both", ErrValidation, i+1)
			}
		default:
			return fmt.Errorf("%w: item %d: unknown kind %q", ErrValidation, i+1, item.Kind)
		}
	}
	return nil
}

// JobView is a job plus, when the durable upload has not landed yet, the
// cached result image.
type JobView struct {
	Job          *models.TryOnJob
	InlineResult *models.ImagePayload
}

// Get returns the job for polling. For a completed job whose result_url is
// still empty the cached image is attached so the client sees the result
// without waiting for the upload.
func (s *Service) Get(ctx context.Context, id, ownerID uuid.UUID) (*JobView, error) {
	job, err := s.store.GetTryOnJob(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	view := &JobView{Job: job}
	if job.Status == models.TryOnStatusCompleted && job.ResultURL == nil {
		payload, ok, err := s.cache.GetTryOnResult(ctx, job.ID)
		if err != nil {
			s.logger.Warn("result cache read failed", "job_id", job.ID, "error", err)
		} else if ok {
			view.InlineResult = &payload
		}
	}
	return view, nil
}

// List returns the owner's jobs, newest first, with the total count.
func (s *Service) List(ctx context.Context, filter store.JobFilter) ([]*models.TryOnJob, int, error) {
	return s.store.ListTryOnJobs(ctx, filter)
}

// Delete removes the job row and its cached result. The uploaded object, if
// any, is kept; clients may still hold its URL.
func (s *Service) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	if err := s.store.DeleteTryOnJob(ctx, id, ownerID); err != nil {
		return err
	}
	if err := s.cache.DeleteTryOnResult(ctx, id); err != nil {
		s.logger.Warn("result cache cleanup failed on delete", "job_id", id, "error", err)
	}
	return nil
}

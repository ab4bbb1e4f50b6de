package tryon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tryrack/tryon/internal/cache"
	"github.com/tryrack/tryon/internal/storage"
	"github.com/tryrack/tryon/internal/store"
	"github.com/tryrack/tryon/pkg/models"
)

// uploadAttempts bounds the durable upload retry budget. After it is spent
// the job stays completed and the durability sweep takes over.
const uploadAttempts = 3

// Deliverer publishes a generated result. Visibility comes first: the image
// goes into the fast result cache and the job flips to completed before any
// upload starts. The durable upload then runs in the background; only once it
// lands is result_url set and the cache entry dropped.
type Deliverer struct {
	store   store.Store
	cache   cache.Cache
	storage storage.Uploader
	logger  *slog.Logger

	cacheTTL      time.Duration
	uploadBackoff time.Duration

	// uploads tracks in-flight background uploads so shutdown can wait.
	uploads sync.WaitGroup
}

func NewDeliverer(st store.Store, c cache.Cache, up storage.Uploader, cacheTTL time.Duration, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{
		store:         st,
		cache:         c,
		storage:       up,
		logger:        logger,
		cacheTTL:      cacheTTL,
		uploadBackoff: 2 * time.Second,
	}
}

// Deliver makes result visible for job and schedules its durable upload.
// When the cache write fails there is no fast copy to serve, so delivery
// falls back to uploading synchronously before the status flip: a completed
// job always has a retrievable result the moment it reads completed.
func (d *Deliverer) Deliver(ctx context.Context, job *models.TryOnJob, result models.ImagePayload) error {
	if err := d.cache.SetTryOnResult(ctx, job.ID, result, d.cacheTTL); err != nil {
		d.logger.Warn("result cache write failed, uploading before completion",
			"job_id", job.ID, "error", err)
		return d.deliverDurably(ctx, job, result)
	}

	if err := d.store.UpdateTryOnJobStatus(ctx, job.ID, models.TryOnStatusCompleted); err != nil {
		return fmt.Errorf("marking job completed: %w", err)
	}

	d.uploads.Add(1)
	go func() {
		defer d.uploads.Done()
		// Detached from the request context: the upload must outlive the run.
		uploadCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		d.persist(uploadCtx, job.ID, job.OwnerID, result)
	}()

	return nil
}

// deliverDurably uploads before marking the job completed. Used when the
// result cache is unavailable; a failed upload here fails the delivery, and
// the caller fails the job.
func (d *Deliverer) deliverDurably(ctx context.Context, job *models.TryOnJob, result models.ImagePayload) error {
	url, err := d.upload(ctx, job.ID, ResultObjectKey(job.OwnerID, job.ID), result)
	if err != nil {
		return fmt.Errorf("uploading result: %w", err)
	}

	if err := d.store.UpdateTryOnJobStatus(ctx, job.ID, models.TryOnStatusCompleted); err != nil {
		return fmt.Errorf("marking job completed: %w", err)
	}

	if err := d.store.SetTryOnJobResultURL(ctx, job.ID, url); err != nil {
		// The object is already durable; the durability sweep picks the job up.
		d.logger.Error("recording result url failed", "job_id", job.ID, "url", url, "error", err)
	}
	return nil
}

// upload pushes the result image with bounded retry and returns its URL.
func (d *Deliverer) upload(ctx context.Context, jobID uuid.UUID, key string, result models.ImagePayload) (string, error) {
	var url string
	var err error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		url, err = d.storage.Put(ctx, key, result.ContentType, result.Data)
		if err == nil {
			return url, nil
		}
		d.logger.Warn("result upload failed", "job_id", jobID, "attempt", attempt, "error", err)
		if attempt < uploadAttempts {
			select {
			case <-time.After(d.uploadBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", err
}

// persist uploads the result and records its URL. On exhausted retries the
// job is left completed with the cache as the only copy; the durability sweep
// retries later or demotes the job once the cache entry is gone.
func (d *Deliverer) persist(ctx context.Context, jobID, ownerID uuid.UUID, result models.ImagePayload) {
	url, err := d.upload(ctx, jobID, ResultObjectKey(ownerID, jobID), result)
	if err != nil {
		d.logger.Error("result upload abandoned, result remains cache-only", "job_id", jobID, "error", err)
		return
	}

	if err := d.store.SetTryOnJobResultURL(ctx, jobID, url); err != nil {
		d.logger.Error("recording result url failed", "job_id", jobID, "url", url, "error", err)
		return
	}

	if err := d.cache.DeleteTryOnResult(ctx, jobID); err != nil {
		d.logger.Warn("result cache cleanup failed, entry will expire on its own",
			"job_id", jobID, "error", err)
	}

	d.logger.Info("result uploaded", "job_id", jobID, "url", url)
}

// Persist re-runs the durable upload synchronously. Used by the durability
// sweep for completed jobs whose background upload never landed.
func (d *Deliverer) Persist(ctx context.Context, jobID, ownerID uuid.UUID, result models.ImagePayload) {
	d.persist(ctx, jobID, ownerID, result)
}

// Wait blocks until all in-flight background uploads finish.
func (d *Deliverer) Wait() {
	d.uploads.Wait()
}

// ResultObjectKey is the storage key for a job's generated image.
func ResultObjectKey(ownerID, jobID uuid.UUID) string {
	return fmt.Sprintf("virtual-tryon/%s/tryon_%s_result.png", ownerID, jobID)
}

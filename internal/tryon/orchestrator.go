package tryon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tryrack/tryon/internal/fetch"
	"github.com/tryrack/tryon/internal/generate"
	"github.com/tryrack/tryon/internal/store"
	"github.com/tryrack/tryon/pkg/models"
)

// Failure reasons recorded on the job. The subject image is mandatory; item
// images are individually optional as long as at least one survives.
const (
	reasonSubjectUnavailable = "subject image unavailable"
	reasonNoUsableItems      = "no usable item images"
	reasonInternal           = "internal error during try-on processing"
)

// Orchestrator runs one try-on job end to end: acquire inputs, invoke the
// generation service, deliver the result. Every run ends with the job in a
// terminal state unless the job row itself is gone.
type Orchestrator struct {
	store     store.Store
	acquirer  *fetch.Acquirer
	invoker   generate.Invoker
	deliverer *Deliverer
	logger    *slog.Logger
}

func NewOrchestrator(st store.Store, acq *fetch.Acquirer, inv generate.Invoker, del *Deliverer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     st,
		acquirer:  acq,
		invoker:   inv,
		deliverer: del,
		logger:    logger,
	}
}

// Run executes the job. A job deleted between enqueue and pickup is a silent
// no-op. Panics are contained per job and recorded as a failure.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic during try-on run", "job_id", jobID, "panic", r)
			o.fail(ctx, jobID, reasonInternal)
		}
	}()

	job, err := o.store.GetTryOnJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.logger.Info("job vanished before pickup, skipping", "job_id", jobID)
			return
		}
		o.logger.Error("loading job failed", "job_id", jobID, "error", err)
		return
	}
	if job.Terminal() {
		o.logger.Info("job already terminal, skipping", "job_id", jobID, "status", job.Status)
		return
	}

	// Re-marking processing is idempotent and stamps started_at on first pickup.
	if err := o.store.UpdateTryOnJobStatus(ctx, job.ID, models.TryOnStatusProcessing); err != nil {
		o.logger.Error("marking job processing failed", "job_id", jobID, "error", err)
		return
	}

	logger := o.logger.With("job_id", job.ID, "owner_id", job.OwnerID, "items", len(job.Items))
	logger.Info("try-on run started")

	subjectSrc := subjectSource(job)
	itemSrcs := o.itemSources(ctx, job)

	subjectOut, itemOuts := o.acquirer.Acquire(ctx, subjectSrc, itemSrcs)

	if !subjectOut.OK() {
		logger.Warn("subject acquisition failed", "error", subjectOut.Err)
		o.fail(ctx, job.ID, reasonSubjectUnavailable)
		return
	}

	itemImages := make([]generate.ItemImage, 0, len(itemOuts))
	for i, out := range itemOuts {
		if !out.OK() {
			logger.Warn("item acquisition failed, continuing without it",
				"item", itemSrcs[i].Label, "error", out.Err)
			continue
		}
		itemImages = append(itemImages, generate.ItemImage{
			Payload:   out.Payload,
			Category:  job.Items[i].Category,
			Colors:    job.Items[i].Colors,
			StyleTags: job.Items[i].StyleTags,
		})
	}
	if len(itemImages) == 0 {
		logger.Warn("no item image acquired")
		o.fail(ctx, job.ID, reasonNoUsableItems)
		return
	}

	opts := generate.Options{CleanBackground: job.CleanBackground}
	if job.Instruction != nil {
		opts.Instruction = *job.Instruction
	}

	result, err := o.invoker.Generate(ctx, subjectOut.Payload, itemImages, opts)
	if err != nil {
		logger.Error("generation failed", "invoker", o.invoker.Name(), "error", err)
		o.fail(ctx, job.ID, fmt.Sprintf("generation failed: %v", err))
		return
	}

	if err := o.deliverer.Deliver(ctx, job, result); err != nil {
		logger.Error("delivery failed", "error", err)
		o.fail(ctx, job.ID, fmt.Sprintf("result delivery failed: %v", err))
		return
	}

	logger.Info("try-on run completed", "used_items", len(itemImages), "result_bytes", len(result.Data))
}

func (o *Orchestrator) fail(ctx context.Context, jobID uuid.UUID, reason string) {
	if err := o.store.UpdateTryOnJobStatus(ctx, jobID, models.TryOnStatusFailed, store.WithErrorMessage(reason)); err != nil {
		o.logger.Error("marking job failed errored", "job_id", jobID, "reason", reason, "error", err)
	}
}

func subjectSource(job *models.TryOnJob) fetch.Source {
	src := fetch.Source{Label: "subject"}
	if len(job.SubjectImageData) > 0 {
		mime := ""
		if job.SubjectImageMime != nil {
			mime = *job.SubjectImageMime
		}
		src.Inline = &models.ImagePayload{Data: job.SubjectImageData, ContentType: mime}
		return src
	}
	if job.SubjectImageURL != nil {
		src.URL = *job.SubjectImageURL
	}
	return src
}

// itemSources maps job items onto fetch sources, index-aligned with
// job.Items. Wardrobe references are resolved through the catalog here so a
// stale reference becomes a per-item failure, not a job abort.
func (o *Orchestrator) itemSources(ctx context.Context, job *models.TryOnJob) []fetch.Source {
	srcs := make([]fetch.Source, len(job.Items))
	for i, item := range job.Items {
		label := fmt.Sprintf("item %d", i+1)
		src := fetch.Source{Label: label}

		switch item.Kind {
		case models.ItemSourceWardrobe:
			if item.WardrobeItemID == nil {
				src.Err = fmt.Errorf("%s: wardrobe reference missing item id", label)
				break
			}
			wi, err := o.store.GetWardrobeItem(ctx, *item.WardrobeItemID, job.OwnerID)
			if err != nil {
				src.Err = fmt.Errorf("%s: resolving wardrobe item %s: %w", label, item.WardrobeItemID, err)
				break
			}
			if wi.ImageURL == nil || *wi.ImageURL == "" {
				src.Err = fmt.Errorf("%s: wardrobe item %s has no image", label, wi.ID)
				break
			}
			src.URL = *wi.ImageURL
		default:
			if len(item.ImageData) > 0 {
				src.Inline = &models.ImagePayload{Data: item.ImageData, ContentType: item.ImageMime}
			} else {
				src.URL = item.ImageURL
			}
		}
		srcs[i] = src
	}
	return srcs
}

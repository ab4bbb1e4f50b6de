package tryon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tryrack/tryon/internal/cache"
	"github.com/tryrack/tryon/internal/store"
)

// Demotion reason recorded when a completed job's only result copy expired
// before it could be uploaded.
const reasonResultExpired = "result expired before durable upload"

const reasonProcessingTimedOut = "processing timed out"

// Sweeper runs the periodic repair jobs: the liveness sweep fails processing
// jobs whose run died with the process, and the durability sweep finishes or
// demotes completed jobs whose upload never landed.
type Sweeper struct {
	store     store.Store
	cache     cache.Cache
	deliverer *Deliverer
	logger    *slog.Logger

	staleAfter time.Duration
	interval   time.Duration
	cron       *cron.Cron
}

func NewSweeper(st store.Store, c cache.Cache, del *Deliverer, staleAfter, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:      st,
		cache:      c,
		deliverer:  del,
		logger:     logger,
		staleAfter: staleAfter,
		interval:   interval,
		cron:       cron.New(),
	}
}

// Start schedules both sweeps. Returns an error only if the schedule spec
// cannot be parsed.
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.sweepLiveness); err != nil {
		return fmt.Errorf("scheduling liveness sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(spec, s.sweepDurability); err != nil {
		return fmt.Errorf("scheduling durability sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("sweeper started", "interval", s.interval, "stale_after", s.staleAfter)
	return nil
}

// Stop halts the schedule and waits for a sweep in progress to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// sweepLiveness fails processing jobs not touched within staleAfter. A live
// run keeps updated_at fresh through its status writes, so only jobs whose
// run crashed or never started qualify.
func (s *Sweeper) sweepLiveness() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := s.store.FailStaleTryOnJobs(ctx, s.staleAfter, reasonProcessingTimedOut)
	if err != nil {
		s.logger.Error("liveness sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Warn("liveness sweep failed stale jobs", "count", n)
	}
}

// sweepDurability revisits completed jobs without a result_url. If the cached
// result is still there the upload is retried; once the cache entry has
// expired the result is unrecoverable and the job is demoted to failed.
func (s *Sweeper) sweepDurability() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	jobs, err := s.store.ListUndeliveredTryOnJobs(ctx, s.staleAfter)
	if err != nil {
		s.logger.Error("durability sweep failed", "error", err)
		return
	}

	for _, job := range jobs {
		payload, ok, err := s.cache.GetTryOnResult(ctx, job.ID)
		if err != nil {
			s.logger.Error("durability sweep cache read failed", "job_id", job.ID, "error", err)
			continue
		}
		if ok {
			s.logger.Info("durability sweep retrying upload", "job_id", job.ID)
			s.deliverer.Persist(ctx, job.ID, job.OwnerID, payload)
			continue
		}
		s.logger.Warn("durability sweep demoting job, cached result gone", "job_id", job.ID)
		if err := s.store.DemoteUndeliveredTryOnJob(ctx, job.ID, reasonResultExpired); err != nil {
			s.logger.Error("demoting undelivered job failed", "job_id", job.ID, "error", err)
		}
	}
}

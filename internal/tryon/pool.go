package tryon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Runner executes one try-on job from start to a terminal state.
type Runner interface {
	Run(ctx context.Context, jobID uuid.UUID)
}

// Pool is a fixed-size worker pool draining a bounded queue of job ids. It
// caps how many generations run concurrently regardless of request volume.
type Pool struct {
	runner   Runner
	logger   *slog.Logger
	jobs     chan uuid.UUID
	workers  int
	inFlight atomic.Int64

	wg       sync.WaitGroup
	stopOnce sync.Once

	// mu orders Submit against Stop so a late Submit sees stopped instead of
	// sending on a closed channel.
	mu      sync.RWMutex
	stopped bool
}

func NewPool(runner Runner, workers, queueSize int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		runner:  runner,
		logger:  logger,
		jobs:    make(chan uuid.UUID, queueSize),
		workers: workers,
	}
}

// Start launches the workers. ctx cancellation stops them after the job in
// hand finishes; queued jobs left behind are picked up by the liveness sweep
// on the next boot.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("try-on worker pool started", "workers", p.workers, "queue_size", cap(p.jobs))
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID, ok := <-p.jobs:
			if !ok {
				return
			}
			p.inFlight.Add(1)
			p.runner.Run(ctx, jobID)
			p.inFlight.Add(-1)
		}
	}
}

// Submit enqueues a job without blocking. A full queue is a hard error so the
// caller can refuse the request instead of accepting work it cannot start.
func (p *Pool) Submit(jobID uuid.UUID) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return fmt.Errorf("pool stopped")
	}
	select {
	case p.jobs <- jobID:
		return nil
	default:
		return fmt.Errorf("job queue full (%d pending)", cap(p.jobs))
	}
}

// InFlight returns the number of jobs currently being executed.
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

// Queued returns the number of accepted jobs not yet picked up by a worker.
func (p *Pool) Queued() int {
	return len(p.jobs)
}

// Stop closes the queue and waits for the workers to drain it. Submits that
// arrive after Stop are rejected.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()
	})
	p.wg.Wait()
	p.logger.Info("try-on worker pool stopped")
}

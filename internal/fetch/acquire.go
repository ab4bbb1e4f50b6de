package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tryrack/tryon/pkg/models"
)

// fetchAttempts is the per-source attempt budget. Each source gets exactly
// this many tries before it is declared failed; sources never share a budget.
const fetchAttempts = 3

// Source identifies one required input image. Exactly one of URL or Inline is
// expected; an inline payload skips the network entirely.
type Source struct {
	Label  string
	URL    string
	Inline *models.ImagePayload
	Err    error // pre-resolved failure, e.g. a catalog key with no image on file
}

// Outcome is the per-source acquisition result: a payload or a failure
// marker. The caller decides which sources were mandatory.
type Outcome struct {
	Payload models.ImagePayload
	Err     error
}

// OK reports whether the source was acquired.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Acquirer resolves a subject plus item sources into in-memory payloads, one
// goroutine per source, joined before returning. A failure on one source
// never aborts the others.
type Acquirer struct {
	fetcher Fetcher
	backoff time.Duration
	logger  *slog.Logger
}

func NewAcquirer(fetcher Fetcher, backoff time.Duration, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{fetcher: fetcher, backoff: backoff, logger: logger}
}

// Acquire fans out one fetch per source and joins all of them. The returned
// slice is index-aligned with items.
func (a *Acquirer) Acquire(ctx context.Context, subject Source, items []Source) (Outcome, []Outcome) {
	var subjectOut Outcome
	itemOuts := make([]Outcome, len(items))

	var wg sync.WaitGroup
	wg.Add(1 + len(items))

	go func() {
		defer wg.Done()
		subjectOut = a.acquireOne(ctx, subject)
	}()
	for i := range items {
		go func(i int) {
			defer wg.Done()
			itemOuts[i] = a.acquireOne(ctx, items[i])
		}(i)
	}
	wg.Wait()

	return subjectOut, itemOuts
}

func (a *Acquirer) acquireOne(ctx context.Context, src Source) Outcome {
	if src.Err != nil {
		return Outcome{Err: src.Err}
	}
	if src.Inline != nil && !src.Inline.Empty() {
		return Outcome{Payload: *src.Inline}
	}
	if src.URL == "" {
		return Outcome{Err: fmt.Errorf("%w: %s", ErrNoSource, src.Label)}
	}

	payload, err := a.fetchWithRetry(ctx, src)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Payload: payload}
}

// fetchWithRetry tries a source up to fetchAttempts times, sleeping
// backoff × attempt between tries. Permanent failures stop early.
func (a *Acquirer) fetchWithRetry(ctx context.Context, src Source) (models.ImagePayload, error) {
	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		payload, err := a.fetcher.Fetch(ctx, src.URL)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		if !Retryable(err) {
			a.logger.Warn("image fetch failed permanently",
				"source", src.Label, "attempt", attempt, "error", err)
			return models.ImagePayload{}, err
		}

		a.logger.Warn("image fetch failed",
			"source", src.Label, "attempt", attempt, "error", err)

		if attempt < fetchAttempts {
			select {
			case <-time.After(a.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return models.ImagePayload{}, fmt.Errorf("%w: %v", ErrFetchTimeout, ctx.Err())
			}
		}
	}
	return models.ImagePayload{}, lastErr
}

package tryon

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tryrack/tryon/internal/generate"
	"github.com/tryrack/tryon/internal/store"
	"github.com/tryrack/tryon/pkg/models"
)

// --- store fake ---

type statusUpdate struct {
	ID           uuid.UUID
	Status       string
	ErrorMessage *string
}

type mockStore struct {
	mu            sync.Mutex
	jobs          map[uuid.UUID]*models.TryOnJob
	wardrobe      map[uuid.UUID]*models.WardrobeItem
	statusUpdates []statusUpdate
	demoted       map[uuid.UUID]string

	updateStatusErr error
	setResultURLErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		jobs:     make(map[uuid.UUID]*models.TryOnJob),
		wardrobe: make(map[uuid.UUID]*models.WardrobeItem),
		demoted:  make(map[uuid.UUID]string),
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error  { return nil }
func (s *mockStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error     { return nil }

func (s *mockStore) CreateTryOnJob(_ context.Context, job *models.TryOnJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *mockStore) GetTryOnJob(_ context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.TryOnJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *mockStore) GetTryOnJobByID(_ context.Context, id uuid.UUID) (*models.TryOnJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *mockStore) ListTryOnJobs(_ context.Context, filter store.JobFilter) ([]*models.TryOnJob, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*models.TryOnJob
	for _, job := range s.jobs {
		if job.OwnerID == filter.OwnerID && (filter.Status == "" || job.Status == filter.Status) {
			cp := *job
			jobs = append(jobs, &cp)
		}
	}
	return jobs, len(jobs), nil
}

func (s *mockStore) UpdateTryOnJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	if s.updateStatusErr != nil {
		return s.updateStatusErr
	}
	upd := store.ApplyJobUpdateOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if job.Terminal() {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, job.Status, status)
	}
	job.Status = status
	if upd.ErrorMessage != nil {
		job.ErrorMessage = upd.ErrorMessage
	}
	if upd.ResultURL != nil {
		job.ResultURL = upd.ResultURL
	}
	s.statusUpdates = append(s.statusUpdates, statusUpdate{
		ID: id, Status: status, ErrorMessage: upd.ErrorMessage,
	})
	return nil
}

func (s *mockStore) SetTryOnJobResultURL(_ context.Context, id uuid.UUID, resultURL string) error {
	if s.setResultURLErr != nil {
		return s.setResultURLErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.TryOnStatusCompleted {
		return store.ErrNotFound
	}
	job.ResultURL = &resultURL
	return nil
}

func (s *mockStore) DeleteTryOnJob(_ context.Context, id uuid.UUID, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *mockStore) FailStaleTryOnJobs(_ context.Context, olderThan time.Duration, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for _, job := range s.jobs {
		if job.Status == models.TryOnStatusProcessing && job.UpdatedAt.Before(cutoff) {
			job.Status = models.TryOnStatusFailed
			r := reason
			job.ErrorMessage = &r
			n++
		}
	}
	return n, nil
}

func (s *mockStore) ListUndeliveredTryOnJobs(_ context.Context, _ time.Duration) ([]*models.TryOnJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []*models.TryOnJob
	for _, job := range s.jobs {
		if job.Status == models.TryOnStatusCompleted && job.ResultURL == nil {
			cp := *job
			jobs = append(jobs, &cp)
		}
	}
	return jobs, nil
}

func (s *mockStore) DemoteUndeliveredTryOnJob(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.TryOnStatusCompleted || job.ResultURL != nil {
		return store.ErrNotFound
	}
	job.Status = models.TryOnStatusFailed
	r := reason
	job.ErrorMessage = &r
	s.demoted[id] = reason
	return nil
}

func (s *mockStore) CreateWardrobeItem(_ context.Context, item *models.WardrobeItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.wardrobe[item.ID] = &cp
	return nil
}

func (s *mockStore) GetWardrobeItem(_ context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.WardrobeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.wardrobe[id]
	if !ok || item.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *mockStore) ListWardrobeItems(_ context.Context, _ store.WardrobeFilter) ([]*models.WardrobeItem, int, error) {
	return nil, 0, nil
}
func (s *mockStore) UpdateWardrobeItem(_ context.Context, _ *models.WardrobeItem) error { return nil }
func (s *mockStore) DeleteWardrobeItem(_ context.Context, _ uuid.UUID, _ uuid.UUID) error {
	return nil
}
func (s *mockStore) MarkWardrobeItemWorn(_ context.Context, _ uuid.UUID, _ uuid.UUID) error {
	return nil
}

func (s *mockStore) job(t *testing.T, id uuid.UUID) *models.TryOnJob {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		t.Fatalf("job %s not in store", id)
	}
	cp := *job
	return &cp
}

// --- cache fake ---

type mockCache struct {
	mu      sync.Mutex
	results map[uuid.UUID]models.ImagePayload

	setResultErr error
}

func newMockCache() *mockCache {
	return &mockCache{results: make(map[uuid.UUID]models.ImagePayload)}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

func (c *mockCache) SetTryOnResult(_ context.Context, jobID uuid.UUID, payload models.ImagePayload, _ time.Duration) error {
	if c.setResultErr != nil {
		return c.setResultErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[jobID] = payload
	return nil
}

func (c *mockCache) GetTryOnResult(_ context.Context, jobID uuid.UUID) (models.ImagePayload, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.results[jobID]
	return p, ok, nil
}

func (c *mockCache) DeleteTryOnResult(_ context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, jobID)
	return nil
}

func (c *mockCache) has(jobID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.results[jobID]
	return ok
}

// --- uploader fake ---

type mockUploader struct {
	mu        sync.Mutex
	puts      []string
	failTimes int // first N Put calls fail
	gate      chan struct{}
}

func (u *mockUploader) Put(ctx context.Context, key, _ string, _ []byte) (string, error) {
	if u.gate != nil {
		select {
		case <-u.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.puts = append(u.puts, key)
	if len(u.puts) <= u.failTimes {
		return "", fmt.Errorf("s3 unavailable")
	}
	return "https://bucket.s3.us-east-1.amazonaws.com/" + key, nil
}

func (u *mockUploader) Delete(_ context.Context, _ string) error { return nil }

func (u *mockUploader) putCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.puts)
}

// --- fetcher fake ---

type stubFetcher struct {
	mu       sync.Mutex
	payloads map[string]models.ImagePayload
	errs     map[string]error
	calls    map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		payloads: make(map[string]models.ImagePayload),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (models.ImagePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return models.ImagePayload{}, err
	}
	if p, ok := f.payloads[url]; ok {
		return p, nil
	}
	return models.ImagePayload{}, fmt.Errorf("unexpected fetch: %s", url)
}

// --- invoker fake ---

type mockInvoker struct {
	mu           sync.Mutex
	calls        int
	lastSubject  models.ImagePayload
	lastItems    []generate.ItemImage
	lastOpts     generate.Options
	generateFunc func() (models.ImagePayload, error)
}

func (m *mockInvoker) Name() string { return "mock" }

func (m *mockInvoker) Generate(_ context.Context, subject models.ImagePayload, items []generate.ItemImage, opts generate.Options) (models.ImagePayload, error) {
	m.mu.Lock()
	m.calls++
	m.lastSubject = subject
	m.lastItems = items
	m.lastOpts = opts
	m.mu.Unlock()
	if m.generateFunc != nil {
		return m.generateFunc()
	}
	return models.ImagePayload{Data: []byte("generated"), ContentType: "image/png"}, nil
}

func (m *mockInvoker) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- helpers ---

func mustUUID(s string) uuid.UUID {
	return uuid.MustParse(s)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting: " + msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

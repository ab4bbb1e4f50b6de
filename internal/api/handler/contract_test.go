package handler_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tryrack/tryon/internal/api"
	"github.com/tryrack/tryon/internal/api/handler"
	mw "github.com/tryrack/tryon/internal/api/middleware"
	"github.com/tryrack/tryon/internal/cache"
	"github.com/tryrack/tryon/internal/store"
	"github.com/tryrack/tryon/internal/tryon"
	"github.com/tryrack/tryon/internal/wardrobe"
	"github.com/tryrack/tryon/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- test fixtures ---

var (
	testOwnerID = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	testRawKey  = "trk_contract_key_1234567890abcdef"
	testPrefix  = testRawKey[:8]
	testJobID   = uuid.MustParse("dddddddd-dddd-dddd-dddd-dddddddddddd")
	testItemID  = uuid.MustParse("eeeeeeee-eeee-eeee-eeee-eeeeeeeeeeee")
)

func testKeyHash() string {
	h, _ := bcrypt.GenerateFromPassword([]byte(testRawKey), bcrypt.MinCost)
	return string(h)
}

// --- mock store (auth and key management only) ---

type mockStore struct {
	keys        []*models.APIKey
	createdKeys []*models.APIKey
}

func newMockStore() *mockStore {
	return &mockStore{
		keys: []*models.APIKey{{
			ID:        uuid.New(),
			UserID:    testOwnerID,
			Name:      "contract-key",
			KeyHash:   testKeyHash(),
			KeyPrefix: testPrefix,
		}},
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *mockStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.keys = append(s.keys, key)
	s.createdKeys = append(s.createdKeys, key)
	return nil
}

func (s *mockStore) CreateTryOnJob(_ context.Context, _ *models.TryOnJob) error { return nil }
func (s *mockStore) GetTryOnJob(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.TryOnJob, error) {
	return nil, store.ErrNotFound
}
func (s *mockStore) GetTryOnJobByID(_ context.Context, _ uuid.UUID) (*models.TryOnJob, error) {
	return nil, store.ErrNotFound
}
func (s *mockStore) ListTryOnJobs(_ context.Context, _ store.JobFilter) ([]*models.TryOnJob, int, error) {
	return nil, 0, nil
}
func (s *mockStore) UpdateTryOnJobStatus(_ context.Context, _ uuid.UUID, _ string, _ ...store.JobUpdateOption) error {
	return nil
}
func (s *mockStore) SetTryOnJobResultURL(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}
func (s *mockStore) DeleteTryOnJob(_ context.Context, _ uuid.UUID, _ uuid.UUID) error { return nil }
func (s *mockStore) FailStaleTryOnJobs(_ context.Context, _ time.Duration, _ string) (int64, error) {
	return 0, nil
}
func (s *mockStore) ListUndeliveredTryOnJobs(_ context.Context, _ time.Duration) ([]*models.TryOnJob, error) {
	return nil, nil
}
func (s *mockStore) DemoteUndeliveredTryOnJob(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}
func (s *mockStore) CreateWardrobeItem(_ context.Context, _ *models.WardrobeItem) error { return nil }
func (s *mockStore) GetWardrobeItem(_ context.Context, _ uuid.UUID, _ uuid.UUID) (*models.WardrobeItem, error) {
	return nil, store.ErrNotFound
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

var _ store.Store = (*mockStore)(nil)

// --- mock cache ---

type mockCache struct {
	counters map[string]int64
}

func newMockCache() *mockCache {
	return &mockCache{counters: make(map[string]int64)}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                         { return nil }
func (c *mockCache) Ping(_ context.Context) error                                     { return nil }
func (c *mockCache) SetTryOnResult(_ context.Context, _ uuid.UUID, _ models.ImagePayload, _ time.Duration) error {
	return nil
}
func (c *mockCache) GetTryOnResult(_ context.Context, _ uuid.UUID) (models.ImagePayload, bool, error) {
	return models.ImagePayload{}, false, nil
}
func (c *mockCache) DeleteTryOnResult(_ context.Context, _ uuid.UUID) error { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.counters[key]++
	return c.counters[key], nil
}

var _ cache.Cache = (*mockCache)(nil)

// --- stub try-on service ---

type stubTryOnService struct {
	jobs      map[uuid.UUID]*tryon.JobView
	createErr error
	created   []tryon.CreateParams
	deleted   []uuid.UUID
}

func newStubTryOnService() *stubTryOnService {
	return &stubTryOnService{jobs: make(map[uuid.UUID]*tryon.JobView)}
}

func (s *stubTryOnService) Create(_ context.Context, ownerID uuid.UUID, params tryon.CreateParams) (*models.TryOnJob, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, params)
	job := &models.TryOnJob{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Status:  models.TryOnStatusProcessing,
		Items:   params.Items,
	}
	s.jobs[job.ID] = &tryon.JobView{Job: job}
	return job, nil
}

func (s *stubTryOnService) Get(_ context.Context, id, ownerID uuid.UUID) (*tryon.JobView, error) {
	view, ok := s.jobs[id]
	if !ok || view.Job.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return view, nil
}

func (s *stubTryOnService) List(_ context.Context, filter store.JobFilter) ([]*models.TryOnJob, int, error) {
	var out []*models.TryOnJob
	for _, v := range s.jobs {
		if v.Job.OwnerID == filter.OwnerID {
			out = append(out, v.Job)
		}
	}
	return out, len(out), nil
}

func (s *stubTryOnService) Delete(_ context.Context, id, ownerID uuid.UUID) error {
	view, ok := s.jobs[id]
	if !ok || view.Job.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	s.deleted = append(s.deleted, id)
	return nil
}

// --- stub wardrobe service ---

type stubWardrobeService struct {
	items map[uuid.UUID]*models.WardrobeItem
	worn  []uuid.UUID
}

func newStubWardrobeService() *stubWardrobeService {
	return &stubWardrobeService{items: make(map[uuid.UUID]*models.WardrobeItem)}
}

func (s *stubWardrobeService) Create(_ context.Context, ownerID uuid.UUID, params wardrobe.CreateParams) (*models.WardrobeItem, error) {
	if params.Title == "" || params.Category == "" {
		return nil, wardrobe.ErrValidation
	}
	item := &models.WardrobeItem{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Title:     params.Title,
		Category:  params.Category,
		Colors:    params.Colors,
		StyleTags: params.StyleTags,
	}
	s.items[item.ID] = item
	return item, nil
}

func (s *stubWardrobeService) Get(_ context.Context, id, ownerID uuid.UUID) (*models.WardrobeItem, error) {
	item, ok := s.items[id]
	if !ok || item.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return item, nil
}

func (s *stubWardrobeService) List(_ context.Context, filter store.WardrobeFilter) ([]*models.WardrobeItem, int, error) {
	var out []*models.WardrobeItem
	for _, item := range s.items {
		if item.OwnerID == filter.OwnerID {
			out = append(out, item)
		}
	}
	return out, len(out), nil
}

func (s *stubWardrobeService) Update(_ context.Context, id, ownerID uuid.UUID, params wardrobe.UpdateParams) (*models.WardrobeItem, error) {
	item, ok := s.items[id]
	if !ok || item.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	if params.Title != nil {
		item.Title = *params.Title
	}
	if params.Category != nil {
		item.Category = *params.Category
	}
	return item, nil
}

func (s *stubWardrobeService) Delete(_ context.Context, id, ownerID uuid.UUID) error {
	item, ok := s.items[id]
	if !ok || item.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *stubWardrobeService) MarkWorn(_ context.Context, id, ownerID uuid.UUID) error {
	item, ok := s.items[id]
	if !ok || item.OwnerID != ownerID {
		return store.ErrNotFound
	}
	s.worn = append(s.worn, id)
	return nil
}

func (s *stubWardrobeService) StyleInsights(_ context.Context, ownerID uuid.UUID) (*wardrobe.StyleInsights, error) {
	insights := &wardrobe.StyleInsights{
		StylePreferences:     make(map[string]float64),
		CategoryDistribution: make(map[string]float64),
	}
	total := 0
	casual := 0
	for _, item := range s.items {
		if item.OwnerID != ownerID {
			continue
		}
		total++
		for _, tag := range item.StyleTags {
			if tag == "casual" {
				casual++
			}
		}
	}
	insights.TotalItems = total
	if total > 0 && casual > 0 {
		insights.StylePreferences["casual"] = float64(casual) / float64(total) * 100
	}
	return insights, nil
}

// --- test harness ---

type testServer struct {
	server   *httptest.Server
	store    *mockStore
	tryons   *stubTryOnService
	wardrobe *stubWardrobeService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ms := newMockStore()
	mc := newMockCache()
	ts := newStubTryOnService()
	ws := newStubWardrobeService()

	// Pre-populate a completed job with an inline result for poll tests.
	url := "https://bucket.s3.us-east-1.amazonaws.com/virtual-tryon/x/result.png"
	completed := &models.TryOnJob{
		ID:        testJobID,
		OwnerID:   testOwnerID,
		Status:    models.TryOnStatusCompleted,
		ResultURL: &url,
	}
	ts.jobs[testJobID] = &tryon.JobView{Job: completed}

	ws.items[testItemID] = &models.WardrobeItem{
		ID:        testItemID,
		OwnerID:   testOwnerID,
		Title:     "Denim jacket",
		Category:  "jacket",
		StyleTags: []string{"casual"},
	}

	deps := api.Dependencies{
		Auth:      mw.NewAuth(ms),
		RateLimit: mw.NewRateLimit(mc, 100),

		HealthHandler: handler.NewHealthHandler(ms, mc, "test"),

		CreateTryOnHandler: handler.NewCreateTryOnHandler(ts),
		PollTryOnHandler:   handler.NewPollTryOnHandler(ts),
		ListTryOnHandler:   handler.NewListTryOnHandler(ts),
		DeleteTryOnHandler: handler.NewDeleteTryOnHandler(ts),

		CreateWardrobeHandler: handler.NewCreateWardrobeHandler(ws),
		GetWardrobeHandler:    handler.NewGetWardrobeHandler(ws),
		ListWardrobeHandler:   handler.NewListWardrobeHandler(ws),
		UpdateWardrobeHandler: handler.NewUpdateWardrobeHandler(ws),
		DeleteWardrobeHandler: handler.NewDeleteWardrobeHandler(ws),
		MarkWornHandler:       handler.NewMarkWornHandler(ws),
		StyleInsightsHandler:  handler.NewStyleInsightsHandler(ws),

		CreateKeyHandler: handler.NewCreateKeyHandler(ms),
	}

	srv := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(srv.Close)

	return &testServer{server: srv, store: ms, tryons: ts, wardrobe: ws}
}

func (ts *testServer) authRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, ts.server.URL+path, &buf)
	req.Header.Set("Authorization", "Bearer "+testRawKey)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (ts *testServer) unauthRequest(method, path string) *http.Request {
	req, _ := http.NewRequest(method, ts.server.URL+path, nil)
	return req
}

func parseBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func validCreateBody() map[string]any {
	return map[string]any{
		"subject_image": "https://img.example.com/person.jpg",
		"items": []map[string]any{{
			"kind":      "external",
			"image_url": "https://img.example.com/shirt.jpg",
			"category":  "shirt",
		}},
	}
}

// --- GET /api/v1/health ---

func TestHealth_200_Public(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.unauthRequest("GET", "/api/v1/health"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
}

// --- POST /api/v1/tryon ---

func TestCreateTryOn_202_WithJobID(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("POST", "/api/v1/tryon", validCreateBody()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := parseBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "processing", data["status"])

	_, err = uuid.Parse(data["id"].(string))
	assert.NoError(t, err)
}

func TestCreateTryOn_DecodesInlineImages(t *testing.T) {
	ts := newTestServer(t)

	subject := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("subject-bytes"))
	body := map[string]any{
		"subject_image": subject,
		"items": []map[string]any{{
			"kind":     "external",
			"image":    base64.StdEncoding.EncodeToString([]byte("item-bytes")),
			"category": "shirt",
		}},
	}

	resp, err := http.DefaultClient.Do(ts.authRequest("POST", "/api/v1/tryon", body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, ts.tryons.created, 1)
	params := ts.tryons.created[0]
	assert.Equal(t, []byte("subject-bytes"), params.SubjectImageData)
	assert.Equal(t, "image/jpeg", params.SubjectImageMime)
	require.Len(t, params.Items, 1)
	assert.Equal(t, []byte("item-bytes"), params.Items[0].ImageData)
}

func TestCreateTryOn_400_MissingSubject(t *testing.T) {
	ts := newTestServer(t)

	body := validCreateBody()
	delete(body, "subject_image")

	resp, err := http.DefaultClient.Do(ts.authRequest("POST", "/api/v1/tryon", body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errObj := parseBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "INVALID_REQUEST", errObj["code"])
}

func TestCreateTryOn_400_BadBase64(t *testing.T) {
	ts := newTestServer(t)

	body := validCreateBody()
	body["subject_image"] = "not base64 and not a url!!!"

	resp, err := http.DefaultClient.Do(ts.authRequest("POST", "/api/v1/tryon", body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateTryOn_400_ServiceValidation(t *testing.T) {
	ts := newTestServer(t)
	ts.tryons.createErr = tryon.ErrValidation

	resp, err := http.DefaultClient.Do(ts.authRequest("POST", "/api/v1/tryon", validCreateBody()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateTryOn_503_PipelineBusy(t *testing.T) {
	ts := newTestServer(t)
	ts.tryons.createErr = tryon.ErrBusy

	resp, err := http.DefaultClient.Do(ts.authRequest("POST", "/api/v1/tryon", validCreateBody()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	errObj := parseBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "PIPELINE_BUSY", errObj["code"])
}

func TestCreateTryOn_401_MissingToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.unauthRequest("POST", "/api/v1/tryon"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errObj := parseBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "INVALID_TOKEN", errObj["code"])
}

// --- GET /api/v1/tryon/{jobID} ---

func TestPollTryOn_200_Completed(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("GET", "/api/v1/tryon/"+testJobID.String(), nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "completed", data["status"])
	assert.NotEmpty(t, data["result_url"])
	assert.Nil(t, data["result_image"])
}

func TestPollTryOn_200_InlineResultBeforeUpload(t *testing.T) {
	ts := newTestServer(t)

	// Completed job whose upload has not landed yet: result held in cache.
	jobID := uuid.New()
	ts.tryons.jobs[jobID] = &tryon.JobView{
		Job: &models.TryOnJob{
			ID:      jobID,
			OwnerID: testOwnerID,
			Status:  models.TryOnStatusCompleted,
		},
		InlineResult: &models.ImagePayload{
			Data:        []byte("png-bytes"),
			ContentType: "image/png",
		},
	}

	resp, err := http.DefaultClient.Do(ts.authRequest("GET", "/api/v1/tryon/"+jobID.String(), nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), data["result_image"])
	assert.Equal(t, "image/png", data["result_image_mime"])
}

func TestPollTryOn_400_InvalidID(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("GET", "/api/v1/tryon/not-a-uuid", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPollTryOn_404_Missing(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("GET", "/api/v1/tryon/"+uuid.New().String(), nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errObj := parseBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", errObj["code"])
}

// --- GET /api/v1/tryon ---

func TestListTryOn_200_Paginated(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("GET", "/api/v1/tryon", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseBody(t, resp)
	assert.NotNil(t, body["data"])
	meta := body["meta"].(map[string]any)
	assert.Equal(t, float64(1), meta["page"])
	assert.Equal(t, float64(20), meta["limit"])
	assert.Equal(t, float64(1), meta["total"])
}

func TestListTryOn_400_UnknownStatusFilter(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("GET", "/api/v1/tryon?status=queued", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- DELETE /api/v1/tryon/{jobID} ---

func TestDeleteTryOn_204(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("DELETE", "/api/v1/tryon/"+testJobID.String(), nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, ts.tryons.deleted, testJobID)
}

func TestDeleteTryOn_404_Missing(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("DELETE", "/api/v1/tryon/"+uuid.New().String(), nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// --- wardrobe endpoints ---

func TestCreateWardrobe_201(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("POST", "/api/v1/wardrobe", map[string]any{
		"title":    "Linen shirt",
		"category": "shirt",
		"colors":   []string{"white"},
	}))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "Linen shirt", data["title"])
	assert.NotEmpty(t, data["id"])
}

func TestCreateWardrobe_400_MissingTitle(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("POST", "/api/v1/wardrobe", map[string]any{
		"category": "shirt",
	}))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetWardrobe_200(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("GET", "/api/v1/wardrobe/"+testItemID.String(), nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "Denim jacket", data["title"])
}

func TestUpdateWardrobe_200_Patch(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("PATCH", "/api/v1/wardrobe/"+testItemID.String(), map[string]any{
		"title": "Denim jacket (faded)",
	}))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "Denim jacket (faded)", data["title"])
	assert.Equal(t, "jacket", data["category"])
}

func TestDeleteWardrobe_204(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("DELETE", "/api/v1/wardrobe/"+testItemID.String(), nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestMarkWorn_204(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("POST", "/api/v1/wardrobe/"+testItemID.String()+"/worn", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, ts.wardrobe.worn, testItemID)
}

func TestStyleInsights_200(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("GET", "/api/v1/style-insights", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, float64(1), data["total_items"])
	prefs := data["style_preferences"].(map[string]any)
	assert.Equal(t, float64(100), prefs["casual"])
}

// --- POST /api/v1/keys ---

func TestCreateKey_201_RawKeyShownOnce(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("POST", "/api/v1/keys", map[string]any{
		"name": "ci-key",
	}))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	rawKey := data["key"].(string)
	assert.Contains(t, rawKey, "trk_")
	assert.Equal(t, rawKey[:8], data["key_prefix"])

	// Stored record holds only the hash, and the hash verifies the raw key.
	require.Len(t, ts.store.createdKeys, 1)
	stored := ts.store.createdKeys[0]
	assert.NotEqual(t, rawKey, stored.KeyHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.KeyHash), []byte(rawKey)))
	assert.Equal(t, testOwnerID, stored.UserID)
}

func TestCreateKey_400_MissingName(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("POST", "/api/v1/keys", map[string]any{}))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- auth contract across endpoints ---

func TestAuth_AllProtectedEndpoints_Reject401(t *testing.T) {
	ts := newTestServer(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/tryon"},
		{"GET", "/api/v1/tryon"},
		{"GET", "/api/v1/tryon/" + testJobID.String()},
		{"DELETE", "/api/v1/tryon/" + testJobID.String()},
		{"POST", "/api/v1/wardrobe"},
		{"GET", "/api/v1/wardrobe"},
		{"GET", "/api/v1/wardrobe/" + testItemID.String()},
		{"PATCH", "/api/v1/wardrobe/" + testItemID.String()},
		{"DELETE", "/api/v1/wardrobe/" + testItemID.String()},
		{"POST", "/api/v1/wardrobe/" + testItemID.String() + "/worn"},
		{"GET", "/api/v1/style-insights"},
		{"POST", "/api/v1/keys"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			resp, err := http.DefaultClient.Do(ts.unauthRequest(ep.method, ep.path))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			errObj := parseBody(t, resp)["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

// --- rate limiting contract ---

func TestRateLimit_Headers_Present(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.authRequest("GET", "/api/v1/tryon", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Reset"))
}

// --- response format contract ---

func TestResponseFormat_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.DefaultClient.Do(ts.unauthRequest("POST", "/api/v1/tryon"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body := parseBody(t, resp)
	assert.Contains(t, body, "error")
	errObj := body["error"].(map[string]any)
	assert.NotEmpty(t, errObj["code"])
	assert.NotEmpty(t, errObj["message"])
}

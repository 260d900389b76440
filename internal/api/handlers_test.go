package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bobarin/cueframe/internal/annotation"
	"github.com/bobarin/cueframe/internal/db"
	"github.com/bobarin/cueframe/internal/models"
	"github.com/google/uuid"
)

type fakeStore struct {
	renders  map[uuid.UUID]*models.Render
	outcomes map[uuid.UUID][]models.CueOutcome
	jobs     []*models.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{renders: map[uuid.UUID]*models.Render{}, outcomes: map[uuid.UUID][]models.CueOutcome{}}
}

func (s *fakeStore) CreateRender(ctx context.Context, render *models.Render) error {
	s.renders[render.ID] = render
	return nil
}

func (s *fakeStore) GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error) {
	r, ok := s.renders[id]
	if !ok {
		return nil, fmt.Errorf("render %s: %w", id, db.ErrNotFound)
	}
	return r, nil
}

func (s *fakeStore) ListRenders(ctx context.Context, status string, limit, offset int) ([]models.Render, error) {
	var out []models.Render
	for _, r := range s.renders {
		if status == "" || string(r.Status) == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) CountRenders(ctx context.Context, status string) (int, error) {
	list, _ := s.ListRenders(ctx, status, 0, 0)
	return len(list), nil
}

func (s *fakeStore) GetCueOutcomes(ctx context.Context, renderID uuid.UUID) ([]models.CueOutcome, error) {
	return s.outcomes[renderID], nil
}

func (s *fakeStore) GetRenderJobs(ctx context.Context, renderID uuid.UUID) ([]models.Job, error) {
	var out []models.Job
	for _, j := range s.jobs {
		if j.RenderID == renderID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.jobs = append(s.jobs, job)
	return nil
}

type fakeQueue struct {
	enqueued []uuid.UUID
}

func (q *fakeQueue) EnqueueRender(ctx context.Context, renderID, jobID uuid.UUID) error {
	q.enqueued = append(q.enqueued, renderID)
	return nil
}

func (q *fakeQueue) PendingRenders(ctx context.Context) (int64, error) {
	return int64(len(q.enqueued)), nil
}

type fakeSigner struct{}

func (fakeSigner) GetPublicURL(path string) string {
	return "https://storage.test/public/" + path
}

func (fakeSigner) GetSignedURL(ctx context.Context, path string, expiresIn int) (string, error) {
	return fmt.Sprintf("https://storage.test/signed/%s?exp=%d", path, expiresIn), nil
}

type testAPI struct {
	store  *fakeStore
	queue  *fakeQueue
	server *httptest.Server
}

func newTestAPI(t *testing.T, apiKey string) *testAPI {
	t.Helper()
	a := &testAPI{store: newFakeStore(), queue: &fakeQueue{}}
	h := NewHandler(a.store, a.queue, fakeSigner{}, annotation.ModeLenient)
	a.server = httptest.NewServer(NewRouter(h, RouterConfig{BackendAPIKey: apiKey}))
	t.Cleanup(a.server.Close)
	return a
}

func (a *testAPI) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPreviewScript(t *testing.T) {
	a := newTestAPI(t, "")
	resp := a.do(t, "POST", "/v1/scripts/preview", `{"script": "[temple] hello there kyoto [market] friends", "duration_seconds": 8}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got models.PreviewResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Cleaned != "hello there kyoto friends" || got.WordCount != 4 {
		t.Errorf("unexpected cleaned text %q (%d words)", got.Cleaned, got.WordCount)
	}
	if len(got.Timed) != 2 || got.Timed[0].TimestampSeconds != 0 || got.Timed[1].TimestampSeconds != 6 {
		t.Errorf("unexpected timing %+v", got.Timed)
	}
}

func TestPreviewScript_StrictRejectsUnterminated(t *testing.T) {
	a := newTestAPI(t, "")
	resp := a.do(t, "POST", "/v1/scripts/preview", `{"script": "hello [never closed", "strict": true}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}

	resp = a.do(t, "POST", "/v1/scripts/preview", `{"script": "hello [never closed"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("lenient preview should succeed, got %d", resp.StatusCode)
	}
}

func TestPreviewScript_CuesWithoutWords(t *testing.T) {
	a := newTestAPI(t, "")
	resp := a.do(t, "POST", "/v1/scripts/preview", `{"script": "[only a cue]", "duration_seconds": 10}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
}

func TestCreateRender(t *testing.T) {
	a := newTestAPI(t, "")
	resp := a.do(t, "POST", "/v1/renders", `{"destination": "Kyoto", "base_video_url": "https://cdn.test/narration.mp4"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var got models.CreateRenderResponse
	json.NewDecoder(resp.Body).Decode(&got)
	render, ok := a.store.renders[got.RenderID]
	if !ok {
		t.Fatal("render not stored")
	}
	if render.Status != models.RenderStatusQueued || *render.Language != "English" {
		t.Errorf("unexpected render %+v", render)
	}
	if len(a.queue.enqueued) != 1 || a.queue.enqueued[0] != got.RenderID {
		t.Errorf("render not enqueued: %v", a.queue.enqueued)
	}
	if len(a.store.jobs) != 1 || a.store.jobs[0].Type != "render_video" {
		t.Errorf("unexpected jobs %+v", a.store.jobs)
	}
}

func TestCreateRender_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "empty", body: `{}`, want: http.StatusBadRequest},
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "cues only", body: `{"script": "[a] [b]"}`, want: http.StatusUnprocessableEntity},
		{name: "bad base url", body: `{"script": "[a] hello", "base_video_url": "ftp://x/y.mp4"}`, want: http.StatusBadRequest},
		{name: "storage base url", body: `{"script": "[a] hello", "base_video_url": "storage://renders/base.mp4"}`, want: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t, "")
			resp := a.do(t, "POST", "/v1/renders", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestGetRender(t *testing.T) {
	a := newTestAPI(t, "")
	id := uuid.New()
	out := "renders/" + id.String() + "/final.mp4"
	a.store.renders[id] = &models.Render{ID: id, Status: models.RenderStatusCompleted, OutputPath: &out}
	a.store.outcomes[id] = []models.CueOutcome{{Index: 0, CueText: "temple", Status: models.OutcomeRealized}}

	resp := a.do(t, "GET", "/v1/renders/"+id.String(), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got models.RenderResponse
	json.NewDecoder(resp.Body).Decode(&got)
	if got.VideoURL == nil || *got.VideoURL != "https://storage.test/public/"+out {
		t.Errorf("unexpected video url %v", got.VideoURL)
	}
	if len(got.Cues) != 1 {
		t.Errorf("expected cue outcomes, got %+v", got.Cues)
	}

	resp = a.do(t, "GET", "/v1/renders/"+id.String()+"/download", "")
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "https://storage.test/signed/") {
		t.Errorf("unexpected redirect %s", loc)
	}
}

func TestGetRender_Errors(t *testing.T) {
	a := newTestAPI(t, "")
	if resp := a.do(t, "GET", "/v1/renders/not-a-uuid", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if resp := a.do(t, "GET", "/v1/renders/"+uuid.New().String(), ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	id := uuid.New()
	a.store.renders[id] = &models.Render{ID: id, Status: models.RenderStatusCompositing}
	if resp := a.do(t, "GET", "/v1/renders/"+id.String()+"/download", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 before the video is ready, got %d", resp.StatusCode)
	}
}

func TestListRenders_InvalidStatus(t *testing.T) {
	a := newTestAPI(t, "")
	if resp := a.do(t, "GET", "/v1/renders?status=planning", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	if resp := a.do(t, "GET", "/v1/renders?status=failed", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHealthReportsBacklog(t *testing.T) {
	a := newTestAPI(t, "")
	a.queue.enqueued = []uuid.UUID{uuid.New(), uuid.New()}

	resp := a.do(t, "GET", "/health", "")
	var got map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&got)
	if got["status"] != "ok" || got["pending_renders"] != float64(2) {
		t.Errorf("unexpected health body %v", got)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	a := newTestAPI(t, "secret")

	if resp := a.do(t, "GET", "/health", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("health should be public, got %d", resp.StatusCode)
	}
	if resp := a.do(t, "GET", "/v1/renders", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", a.server.URL+"/v1/renders", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 with wrong key, got %d", resp.StatusCode)
	}

	req.Header.Del("Authorization")
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", resp.StatusCode)
	}
}

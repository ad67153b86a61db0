package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boltonhq/bolton/internal/models"
	"github.com/boltonhq/bolton/internal/registry"
	"github.com/boltonhq/bolton/internal/sandbox"
	"github.com/boltonhq/bolton/internal/store"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Job{}, &models.SandboxSession{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]*registry.Bundle{
		{
			ID:           "stripe",
			Name:         "Stripe",
			Category:     "payments",
			Kind:         registry.KindIntegration,
			RequiredKeys: []string{"STRIPE_SECRET_KEY"},
			Files: map[string]string{
				"integrations/stripe.js": "const key = '{{STRIPE_SECRET_KEY}}';\n",
			},
		},
		{
			ID:       "env-example",
			Name:     "Env Example",
			Category: "tooling",
			Kind:     registry.KindAddon,
			Files: map[string]string{
				".env.example": "# {{repo}}\n",
			},
		},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

type stubFetcher struct {
	tree map[string]string
	err  error
}

func (f *stubFetcher) FetchTree(ctx context.Context, repo string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(f.tree))
	for k, v := range f.tree {
		out[k] = v
	}
	return out, nil
}

type fixture struct {
	router *gin.Engine
	store  *store.Store
	mgr    *sandbox.Manager
	db     *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := openTestDB(t)
	reg := testRegistry(t)
	st := store.New(db, reg)
	mgr := sandbox.NewManager(sandbox.Opts{
		Fetcher:  &stubFetcher{tree: map[string]string{"README.md": "# demo\n"}},
		Registry: reg,
	})

	router := gin.New()
	registerRoutes(router, StartOpts{
		Store:    st,
		Sandbox:  mgr,
		Registry: reg,
	})
	return &fixture{router: router, store: st, mgr: mgr, db: db}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestCreateJob(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"repo":         "acme/site",
		"integrations": []string{"stripe"},
		"addons":       []string{"env-example"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var job jobView
	decode(t, w, &job)
	if job.Status != models.StatusPending {
		t.Errorf("status = %q, want pending", job.Status)
	}
	if job.Repo != "acme/site" {
		t.Errorf("repo = %q", job.Repo)
	}
	if len(job.Integrations) != 1 || job.Integrations[0] != "stripe" {
		t.Errorf("integrations = %v", job.Integrations)
	}
	if job.CreatedAt == 0 {
		t.Error("createdAt not set")
	}
}

func TestCreateJobUnknownIntegration(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"repo":         "acme/site",
		"integrations": []string{"stripe", "nope"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	// Nothing may be persisted on a rejected submission.
	jobs, err := f.store.List("")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("got %d jobs, want 0", len(jobs))
	}
}

func TestCreateJobStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)

	// A write failure after validation is the server's fault, not the caller's.
	if err := f.db.Exec("DROP TABLE jobs").Error; err != nil {
		t.Fatalf("drop table: %v", err)
	}

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"repo":         "acme/site",
		"integrations": []string{"stripe"},
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestCreateJobMissingFields(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{"repo": "acme/site"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListJobsFilter(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
			"repo":         fmt.Sprintf("acme/repo%d", i),
			"integrations": []string{"stripe"},
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("create %d: %d", i, w.Code)
		}
	}

	w := f.do(t, http.MethodGet, "/api/jobs?status=pending", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var jobs []jobView
	decode(t, w, &jobs)
	if len(jobs) != 3 {
		t.Errorf("got %d pending jobs, want 3", len(jobs))
	}

	w = f.do(t, http.MethodGet, "/api/jobs?status=completed", nil)
	decode(t, w, &jobs)
	if len(jobs) != 0 {
		t.Errorf("got %d completed jobs, want 0", len(jobs))
	}
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/jobs/job-missing1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"repo":         "acme/site",
		"integrations": []string{"stripe"},
	})
	var created jobView
	decode(t, w, &created)

	w = f.do(t, http.MethodPost, "/api/jobs/"+created.ID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var cancelled jobView
	decode(t, w, &cancelled)
	if cancelled.Status != models.StatusCancelled {
		t.Errorf("status = %q, want cancelled", cancelled.Status)
	}

	// Cancelling a terminal job is a conflict.
	w = f.do(t, http.MethodPost, "/api/jobs/"+created.ID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", w.Code)
	}
}

func TestWorkerEndpointsWithoutScheduler(t *testing.T) {
	f := newFixture(t)

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/worker/status"},
		{http.MethodPost, "/api/worker/start"},
		{http.MethodPost, "/api/worker/stop"},
	} {
		w := f.do(t, tc.method, tc.path, nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: status = %d, want 503", tc.method, tc.path, w.Code)
		}
	}
}

func TestDemoSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/sessions", map[string]interface{}{"repo": "acme/site"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		ID   string `json:"id"`
		Demo bool   `json:"demo"`
	}
	decode(t, w, &created)
	if created.ID == "" || !created.Demo {
		t.Fatalf("unexpected session payload: %+v", created)
	}

	w = f.do(t, http.MethodGet, "/api/sessions", nil)
	var sessions []sandbox.SessionInfo
	decode(t, w, &sessions)
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}

	w = f.do(t, http.MethodDelete, "/api/sessions/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/sessions", nil)
	decode(t, w, &sessions)
	if len(sessions) != 0 {
		t.Errorf("got %d sessions after delete, want 0", len(sessions))
	}
}

func TestSessionApplyAndPreview(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/sessions", map[string]interface{}{"repo": "acme/site"})
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)

	w = f.do(t, http.MethodPost, "/api/sessions/"+created.ID+"/apply", map[string]interface{}{
		"integrations": []string{"stripe"},
		"addons":       []string{"env-example"},
		"values":       map[string]string{"STRIPE_SECRET_KEY": "sk_test_123"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("apply: %d, body %s", w.Code, w.Body.String())
	}
	var result sandbox.ApplyResult
	decode(t, w, &result)
	if result.FilesWritten != 2 {
		t.Errorf("filesWritten = %d, want 2", result.FilesWritten)
	}

	w = f.do(t, http.MethodGet, "/api/sessions/"+created.ID+"/file?path=integrations/stripe.js", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("file: %d", w.Code)
	}
	var file struct {
		Content string `json:"content"`
	}
	decode(t, w, &file)
	if file.Content != "const key = 'sk_test_123';\n" {
		t.Errorf("content = %q", file.Content)
	}

	w = f.do(t, http.MethodGet, "/api/sessions/"+created.ID+"/diff?path=integrations/stripe.js", nil)
	var diff sandbox.Diff
	decode(t, w, &diff)
	if diff.Old != "" || diff.New == "" {
		t.Errorf("diff = %+v", diff)
	}

	w = f.do(t, http.MethodGet, "/api/sessions/"+created.ID+"/file", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("file without path: %d, want 400", w.Code)
	}
}

func TestSessionApplyUnknownIntegration(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/sessions", map[string]interface{}{"repo": "acme/site"})
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)

	w = f.do(t, http.MethodPost, "/api/sessions/"+created.ID+"/apply", map[string]interface{}{
		"integrations": []string{"nope"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSessionArchive(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/sessions", map[string]interface{}{"repo": "acme/site"})
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)

	w = f.do(t, http.MethodGet, "/api/sessions/"+created.ID+"/archive", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("archive: %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("content-type = %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Error("empty archive body")
	}
}

func TestSessionNotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/sessions/missing/archive", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("archive: %d, want 404", w.Code)
	}
	w = f.do(t, http.MethodPost, "/api/sessions/missing/apply", map[string]interface{}{
		"integrations": []string{"stripe"},
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("apply: %d, want 404", w.Code)
	}
}

func TestDemoSessionRepoUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := testRegistry(t)
	st := store.New(openTestDB(t), reg)
	mgr := sandbox.NewManager(sandbox.Opts{
		Fetcher:  &stubFetcher{err: fmt.Errorf("boom")},
		Registry: reg,
	})
	router := gin.New()
	registerRoutes(router, StartOpts{Store: st, Sandbox: mgr, Registry: reg})
	f := &fixture{router: router, store: st, mgr: mgr}

	w := f.do(t, http.MethodPost, "/api/sessions", map[string]interface{}{"repo": "acme/site"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}

func TestIntegrationCatalog(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/integrations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var bundles []struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	}
	decode(t, w, &bundles)
	if len(bundles) != 2 {
		t.Fatalf("got %d bundles, want 2", len(bundles))
	}

	w = f.do(t, http.MethodGet, "/api/integrations/categories", nil)
	var categories map[string][]string
	decode(t, w, &categories)
	if len(categories["payments"]) != 1 {
		t.Errorf("categories = %v", categories)
	}
}

func TestStartValidation(t *testing.T) {
	if err := Start(context.Background(), StartOpts{}); err == nil {
		t.Error("expected error for missing store")
	}
	st := store.New(openTestDB(t), testRegistry(t))
	if err := Start(context.Background(), StartOpts{Store: st}); err == nil {
		t.Error("expected error for missing sandbox manager")
	}
}

package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/user/filmrec/internal/config"
	"github.com/user/filmrec/internal/model"
	"github.com/user/filmrec/internal/service"
)

type stubCatalog struct {
	last service.ListQuery
	err  error
}

func (s *stubCatalog) List(ctx context.Context, q service.ListQuery) (*model.Page, error) {
	s.last = q
	if s.err != nil {
		return nil, s.err
	}
	return &model.Page{Page: q.Page, PageSize: q.PageSize, Items: []model.MovieSummary{}}, nil
}

func (s *stubCatalog) Genres(ctx context.Context) ([]string, error) { return nil, nil }

func (s *stubCatalog) Certifications(ctx context.Context) ([]model.Certification, error) {
	return model.DefaultCertifications, nil
}

type stubRecommend struct {
	mu          sync.Mutex
	lastID      int
	lastLimit   int
	lastCeiling string
	err         error
	invalidated int
}

func (s *stubRecommend) Recommend(ctx context.Context, id, limit int, ceiling string) (*model.RecommendationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID, s.lastLimit, s.lastCeiling = id, limit, ceiling
	if s.err != nil {
		return nil, s.err
	}
	return &model.RecommendationResult{
		SearchedMovie: model.MovieDetails{ID: id},
		Results:       []model.Recommendation{{Movie: model.MovieSummary{ID: 2}, SimilarityScore: 0.9}},
	}, nil
}

func (s *stubRecommend) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
}

func (s *stubRecommend) invalidations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}

type stubIngest struct {
	release chan struct{}
	resets  int
}

func (s *stubIngest) Run(ctx context.Context, start, end int) (*service.RunSummary, error) {
	if s.release != nil {
		<-s.release
	}
	return &service.RunSummary{Fetched: end - start + 1, Skipped: map[service.SkipReason]int{}}, nil
}

func (s *stubIngest) Reset(ctx context.Context) error {
	s.resets++
	return nil
}

type stubReconcile struct{ applied bool }

func (s *stubReconcile) Reconcile(ctx context.Context, apply bool) (*service.ReconcileReport, error) {
	s.applied = apply
	return &service.ReconcileReport{Applied: apply}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/movies", h.ListMovies)
	r.GET("/api/movies/:id", h.GetMovie)
	r.GET("/api/genres", h.Genres)
	r.GET("/api/certifications", h.Certifications)
	r.POST("/api/admin/ingest", h.AdminIngest)
	r.GET("/api/admin/ingest", h.AdminIngestStatus)
	r.POST("/api/admin/reset", h.AdminReset)
	r.POST("/api/admin/reconcile", h.AdminReconcile)
	return r
}

func newTestHandler() (*Handler, *stubCatalog, *stubRecommend, *stubIngest, *stubReconcile) {
	catalog, recommend, ingest, reconcile := &stubCatalog{}, &stubRecommend{}, &stubIngest{}, &stubReconcile{}
	cfg := &config.Config{Ingest: config.IngestConfig{StartPage: 1, EndPage: 3}}
	return NewHandler(context.Background(), cfg, catalog, recommend, ingest, reconcile), catalog, recommend, ingest, reconcile
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
	}
	return w, env
}

func TestListMoviesDefaults(t *testing.T) {
	h, catalog, _, _, _ := newTestHandler()
	r := newTestServer(h)

	w, env := do(t, r, http.MethodPost, "/api/movies", "")
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if catalog.last.Page != 1 || catalog.last.PageSize != 10 {
		t.Errorf("query = %+v", catalog.last)
	}

	do(t, r, http.MethodPost, "/api/movies", `{"page":2,"page_size":25,"genres":["Acción"],"certification":"PG"}`)
	if catalog.last.Page != 2 || catalog.last.PageSize != 25 || catalog.last.Certification != "PG" || len(catalog.last.Genres) != 1 {
		t.Errorf("query = %+v", catalog.last)
	}

	// 显式传 0 不会被默认值覆盖
	do(t, r, http.MethodPost, "/api/movies", `{"page":0}`)
	if catalog.last.Page != 0 {
		t.Errorf("page = %d, want 0", catalog.last.Page)
	}
}

func TestListMoviesErrors(t *testing.T) {
	h, catalog, _, _, _ := newTestHandler()
	r := newTestServer(h)

	w, env := do(t, r, http.MethodPost, "/api/movies", `{"page":`)
	if w.Code != http.StatusBadRequest || env.Success {
		t.Errorf("malformed body: status = %d", w.Code)
	}

	catalog.err = fmt.Errorf("%w: 未知分级", service.ErrInvalidArgument)
	if w, _ := do(t, r, http.MethodPost, "/api/movies", `{"certification":"XX"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid argument: status = %d", w.Code)
	}

	catalog.err = fmt.Errorf("database down")
	if w, _ := do(t, r, http.MethodPost, "/api/movies", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("internal error: status = %d", w.Code)
	}
}

func TestGetMovie(t *testing.T) {
	h, _, recommend, _, _ := newTestHandler()
	r := newTestServer(h)

	w, env := do(t, r, http.MethodGet, "/api/movies/7?maximum_certification=PG-13&limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if recommend.lastID != 7 || recommend.lastLimit != 5 || recommend.lastCeiling != "PG-13" {
		t.Errorf("call = %d %d %q", recommend.lastID, recommend.lastLimit, recommend.lastCeiling)
	}
	var result model.RecommendationResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if result.SearchedMovie.ID != 7 || len(result.Results) != 1 {
		t.Errorf("result = %+v", result)
	}

	do(t, r, http.MethodGet, "/api/movies/7", "")
	if recommend.lastLimit != 0 || recommend.lastCeiling != "" {
		t.Errorf("defaults not passed through: %d %q", recommend.lastLimit, recommend.lastCeiling)
	}
}

func TestGetMovieErrors(t *testing.T) {
	h, _, recommend, _, _ := newTestHandler()
	r := newTestServer(h)

	tests := []struct {
		name string
		path string
		err  error
		want int
	}{
		{"bad id", "/api/movies/abc", nil, http.StatusBadRequest},
		{"zero id", "/api/movies/0", nil, http.StatusBadRequest},
		{"bad limit", "/api/movies/1?limit=x", nil, http.StatusBadRequest},
		{"not found", "/api/movies/1", fmt.Errorf("%w: 电影 1", service.ErrNotFound), http.StatusNotFound},
		{"invalid", "/api/movies/1?limit=500", service.ErrInvalidArgument, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recommend.err = tt.err
			if w, _ := do(t, r, http.MethodGet, tt.path, ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestGenresNeverNull(t *testing.T) {
	h, _, _, _, _ := newTestHandler()
	r := newTestServer(h)

	_, env := do(t, r, http.MethodGet, "/api/genres", "")
	if string(env.Data) != "[]" {
		t.Errorf("data = %s, want []", env.Data)
	}
}

func TestAdminIngestLifecycle(t *testing.T) {
	h, _, recommend, ingest, _ := newTestHandler()
	ingest.release = make(chan struct{})
	r := newTestServer(h)

	if w, _ := do(t, r, http.MethodGet, "/api/admin/ingest", ""); w.Code != http.StatusNotFound {
		t.Errorf("status before any job = %d", w.Code)
	}

	w, env := do(t, r, http.MethodPost, "/api/admin/ingest", `{"start_page":2,"end_page":4}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	var job ingestJob
	if err := json.Unmarshal(env.Data, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if !job.Running || job.StartPage != 2 || job.EndPage != 4 {
		t.Errorf("job = %+v", job)
	}

	if w, _ := do(t, r, http.MethodPost, "/api/admin/ingest", ""); w.Code != http.StatusConflict {
		t.Errorf("second ingest status = %d, want 409", w.Code)
	}
	if w, _ := do(t, r, http.MethodPost, "/api/admin/reset", ""); w.Code != http.StatusConflict {
		t.Errorf("reset during ingest status = %d, want 409", w.Code)
	}

	close(ingest.release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, env := do(t, r, http.MethodGet, "/api/admin/ingest", "")
		var status ingestJob
		if err := json.Unmarshal(env.Data, &status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if !status.Running {
			if status.Summary == nil || status.Summary.Fetched != 3 || status.Error != "" {
				t.Errorf("finished job = %+v", status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ingest job did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if recommend.invalidations() != 1 {
		t.Errorf("cache invalidations = %d, want 1", recommend.invalidations())
	}
}

func TestAdminIngestInvalidRange(t *testing.T) {
	h, _, _, _, _ := newTestHandler()
	r := newTestServer(h)

	if w, _ := do(t, r, http.MethodPost, "/api/admin/ingest", `{"start_page":5,"end_page":1}`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAdminResetAndReconcile(t *testing.T) {
	h, _, recommend, ingest, reconcile := newTestHandler()
	r := newTestServer(h)

	if w, _ := do(t, r, http.MethodPost, "/api/admin/reset", ""); w.Code != http.StatusOK || ingest.resets != 1 {
		t.Errorf("reset status = %d, resets = %d", w.Code, ingest.resets)
	}

	_, env := do(t, r, http.MethodPost, "/api/admin/reconcile", "")
	var report service.ReconcileReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if reconcile.applied || report.Applied {
		t.Error("reconcile must default to report-only")
	}

	do(t, r, http.MethodPost, "/api/admin/reconcile?apply=true", "")
	if !reconcile.applied {
		t.Error("apply=true not passed through")
	}
	if recommend.invalidations() != 2 {
		t.Errorf("cache invalidations = %d, want 2", recommend.invalidations())
	}
}

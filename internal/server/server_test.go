package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/connectq/internal/company"
	"github.com/54b3r/connectq/internal/embedder"
	"github.com/54b3r/connectq/internal/rag"
	"github.com/54b3r/connectq/internal/search"
	"github.com/54b3r/connectq/internal/store"
)

// fakeSearcher is a test double for the Searcher interface. Each field is
// returned by the method of the same name.
type fakeSearcher struct {
	searchResult search.SearchResult
	singleResult search.Result
	allResult    search.Result
	stats        rag.Stats
	statsErr     error

	// gotQuery and gotTopK record the last Search arguments.
	gotQuery string
	gotTopK  int
	// singleID records the last EmbedSingle id.
	singleID string
}

func (f *fakeSearcher) Search(_ context.Context, query string, topK int) search.SearchResult {
	f.gotQuery, f.gotTopK = query, topK
	return f.searchResult
}

func (f *fakeSearcher) EmbedSingle(_ context.Context, id string) search.Result {
	f.singleID = id
	return f.singleResult
}

func (f *fakeSearcher) EmbedAndStoreAll(_ context.Context) search.Result { return f.allResult }

func (f *fakeSearcher) Stats(_ context.Context) (rag.Stats, error) { return f.stats, f.statsErr }

// countingWaker records Wake calls.
type countingWaker struct{ n atomic.Int32 }

func (w *countingWaker) Wake() { w.n.Add(1) }

// newTestServer builds a *Server backed by an in-memory store, a fresh
// metrics registry, and svc (a zero fakeSearcher when nil).
func newTestServer(t *testing.T, svc Searcher) (*Server, *store.SQLiteStore) {
	t.Helper()
	return newTestServerWithConfig(t, svc, &Config{})
}

func newTestServerWithConfig(t *testing.T, svc Searcher, cfg *Config) (*Server, *store.SQLiteStore) {
	t.Helper()

	if svc == nil {
		svc = &fakeSearcher{}
	}

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	runner, err := search.NewRunner(2)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(func() { _ = runner.Close(context.Background()) })

	reg := prometheus.NewRegistry()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.MetricsRegistry = reg
	cfg.MetricsGatherer = reg

	s, err := New(svc, runner, st, cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s, st
}

// do sends a request through the full router and returns the recorder.
func do(t *testing.T, s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "127.0.0.1:40000"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	runner, err := search.NewRunner(1)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	t.Cleanup(func() { _ = runner.Close(context.Background()) })

	if _, err := New(nil, runner, nil, nil); err == nil {
		t.Error("expected error for nil search service")
	}
	if _, err := New(&fakeSearcher{}, nil, nil, nil); err == nil {
		t.Error("expected error for nil runner")
	}
	if _, err := New(&fakeSearcher{}, runner, nil, nil); err == nil {
		t.Error("expected error for nil company store")
	}
}

func TestHandleSearch_StatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		body   string
		result search.SearchResult
		want   int
	}{
		{
			name: "success",
			body: `{"query":"ai startups","topK":5}`,
			result: search.SearchResult{
				Success: true,
				Message: "found 1 matching companies",
				Matches: []search.Match{{Company: company.Company{ID: "c1", Name: "Acme"}, Score: 0.9}},
				Count:   1,
			},
			want: http.StatusOK,
		},
		{
			name:   "validation",
			body:   `{"query":"","topK":5}`,
			result: search.SearchResult{Message: "query is required", Matches: []search.Match{}, Err: fmt.Errorf("%w: query is required", search.ErrValidation)},
			want:   http.StatusBadRequest,
		},
		{
			name:   "backend failure",
			body:   `{"query":"x"}`,
			result: search.SearchResult{Message: "failed to query index", Matches: []search.Match{}, Err: rag.ErrIndex},
			want:   http.StatusInternalServerError,
		},
		{
			name: "malformed body",
			body: `{"query":`,
			want: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fs := &fakeSearcher{searchResult: tc.result}
			s, _ := newTestServer(t, fs)

			w := do(t, s, http.MethodPost, "/api/search-companies", tc.body)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d, body: %s", tc.want, w.Code, w.Body.String())
			}

			var got search.SearchResult
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Matches == nil {
				t.Error("matches must be an array, got null")
			}
			if strings.Contains(w.Body.String(), "vector index failed") {
				t.Error("internal error text leaked into the response")
			}
		})
	}
}

func TestHandleSearch_PassesQueryAndTopK(t *testing.T) {
	t.Parallel()

	fs := &fakeSearcher{searchResult: search.SearchResult{Success: true, Matches: []search.Match{}}}
	s, _ := newTestServer(t, fs)

	w := do(t, s, http.MethodPost, "/api/search-companies", `{"query":"robotics in Berlin","topK":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if fs.gotQuery != "robotics in Berlin" || fs.gotTopK != 3 {
		t.Errorf("got query=%q topK=%d", fs.gotQuery, fs.gotTopK)
	}
}

func TestHandleSearch_OmittedTopKUsesDefault(t *testing.T) {
	t.Parallel()

	fs := &fakeSearcher{searchResult: search.SearchResult{Success: true, Matches: []search.Match{}}}
	s, _ := newTestServer(t, fs)

	w := do(t, s, http.MethodPost, "/api/search-companies", `{"query":"robotics"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if fs.gotTopK != search.DefaultTopK {
		t.Errorf("expected default topK %d, got %d", search.DefaultTopK, fs.gotTopK)
	}
}

func TestHandleSearch_ExplicitTopKIsValidated(t *testing.T) {
	t.Parallel()

	reader, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = reader.Close() })
	idx, err := rag.NewMemoryIndex("companies", 64)
	if err != nil {
		t.Fatalf("memory index: %v", err)
	}
	svc, err := search.NewService(embedder.NewHashEmbedder(64), idx, reader, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	s, _ := newTestServer(t, svc)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"omitted", `{"query":"robots"}`, http.StatusOK},
		{"zero", `{"query":"robots","topK":0}`, http.StatusBadRequest},
		{"negative", `{"query":"robots","topK":-3}`, http.StatusBadRequest},
		{"too large", `{"query":"robots","topK":101}`, http.StatusBadRequest},
		{"upper bound", `{"query":"robots","topK":100}`, http.StatusOK},
	}
	for _, tc := range cases {
		w := do(t, s, http.MethodPost, "/api/search-companies", tc.body)
		if w.Code != tc.want {
			t.Errorf("%s: expected %d, got %d, body: %s", tc.name, tc.want, w.Code, w.Body.String())
		}
	}
}

func TestHandleEmbedCompany(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		result search.Result
		want   int
	}{
		{"ok", search.Result{Success: true, Message: "embedded company c1", Count: 1}, http.StatusOK},
		{"not found", search.Result{Message: "company c1 not found", Err: fmt.Errorf("store: get company: %w", store.ErrNotFound)}, http.StatusNotFound},
		{"failure", search.Result{Message: "failed to embed company", Err: rag.ErrEmbedding}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fs := &fakeSearcher{singleResult: tc.result}
			s, _ := newTestServer(t, fs)

			w := do(t, s, http.MethodPost, "/api/embed-company/c1", "")
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d, body: %s", tc.want, w.Code, w.Body.String())
			}
			if fs.singleID != "c1" {
				t.Errorf("expected EmbedSingle(c1), got %q", fs.singleID)
			}

			var got search.Result
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Message != tc.result.Message {
				t.Errorf("message: expected %q, got %q", tc.result.Message, got.Message)
			}
		})
	}
}

func TestHandleEmbedAll(t *testing.T) {
	t.Parallel()

	fs := &fakeSearcher{allResult: search.Result{Success: true, Message: "embedded 3 companies", Count: 3}}
	s, _ := newTestServer(t, fs)

	w := do(t, s, http.MethodPost, "/api/embed-all-companies", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got search.Result
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Success || got.Count != 3 {
		t.Errorf("unexpected result: %+v", got)
	}

	fs.allResult = search.Result{Message: "failed to load companies", Err: errors.New("db down")}
	w = do(t, s, http.MethodPost, "/api/embed-all-companies", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Error("internal error text leaked into the response")
	}
}

func TestHandleIndexStats(t *testing.T) {
	t.Parallel()

	fs := &fakeSearcher{stats: rag.Stats{Collection: "companies", Points: 42, Dimensions: 1536}}
	s, _ := newTestServer(t, fs)

	w := do(t, s, http.MethodGet, "/api/index/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got rag.Stats
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != fs.stats {
		t.Errorf("expected %+v, got %+v", fs.stats, got)
	}

	fs.statsErr = errors.New("qdrant unreachable")
	w = do(t, s, http.MethodGet, "/api/index/stats", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestCompanyCRUD(t *testing.T) {
	t.Parallel()

	waker := &countingWaker{}
	s, _ := newTestServerWithConfig(t, nil, &Config{Outbox: waker})

	w := do(t, s, http.MethodPost, "/api/companies", `{"userId":"u1","name":"Acme AI","industry":"software"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d, body: %s", w.Code, w.Body.String())
	}
	var created company.Company
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("create: expected generated id")
	}
	if loc := w.Header().Get("Location"); loc != "/api/companies/"+created.ID {
		t.Errorf("Location: got %q", loc)
	}

	w = do(t, s, http.MethodPost, "/api/companies", `{"userId":"u1","name":"Second"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate owner: expected 409, got %d", w.Code)
	}

	w = do(t, s, http.MethodPost, "/api/companies", `{"userId":"u2"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing name: expected 400, got %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/api/companies/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", w.Code)
	}

	w = do(t, s, http.MethodPut, "/api/companies/"+created.ID, `{"userId":"u1","name":"Acme Robotics"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d, body: %s", w.Code, w.Body.String())
	}
	var updated company.Company
	if err := json.NewDecoder(w.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.ID != created.ID || updated.Name != "Acme Robotics" {
		t.Errorf("update: unexpected company %+v", updated)
	}

	w = do(t, s, http.MethodGet, "/api/companies", "")
	var list listCompaniesResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("list: expected 1 company, got %d", list.Count)
	}

	w = do(t, s, http.MethodDelete, "/api/companies/"+created.ID, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/api/companies/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", w.Code)
	}
	w = do(t, s, http.MethodDelete, "/api/companies/"+created.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("delete after delete: expected 404, got %d", w.Code)
	}

	if got := waker.n.Load(); got != 3 {
		t.Errorf("expected 3 outbox wakes (create, update, delete), got %d", got)
	}
}

func TestListCompanies_EmptyIsArray(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/api/companies", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"companies":[]`)) {
		t.Errorf("expected empty array, got %s", w.Body.String())
	}
}

func TestRoutes_AuthProtectsMutations(t *testing.T) {
	t.Parallel()

	fs := &fakeSearcher{
		searchResult: search.SearchResult{Success: true, Matches: []search.Match{}},
		singleResult: search.Result{Success: true},
		allResult:    search.Result{Success: true},
	}
	s, _ := newTestServerWithConfig(t, fs, &Config{APIKey: "secret"})

	protected := []struct{ method, path, body string }{
		{http.MethodPost, "/api/embed-company/c1", ""},
		{http.MethodPost, "/api/embed-all-companies", ""},
		{http.MethodPost, "/api/companies", `{"userId":"u1","name":"Acme"}`},
		{http.MethodPut, "/api/companies/c1", `{"userId":"u1","name":"Acme"}`},
		{http.MethodDelete, "/api/companies/c1", ""},
	}
	for _, p := range protected {
		w := do(t, s, p.method, p.path, p.body)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: expected 401, got %d", p.method, p.path, w.Code)
		}
	}

	w := do(t, s, http.MethodPost, "/api/embed-all-companies", "", "Authorization", "Bearer secret")
	if w.Code != http.StatusOK {
		t.Errorf("embed-all with token: expected 200, got %d", w.Code)
	}

	w = do(t, s, http.MethodPost, "/api/search-companies", `{"query":"x"}`)
	if w.Code != http.StatusOK {
		t.Errorf("search is public: expected 200, got %d", w.Code)
	}
	w = do(t, s, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health is public: expected 200, got %d", w.Code)
	}
}

func TestRoutes_RequestIDHeader(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/api/health", "")
	if len(w.Header().Get("X-Request-ID")) != 16 {
		t.Errorf("expected 16-char X-Request-ID, got %q", w.Header().Get("X-Request-ID"))
	}
}

func TestRoutes_UnknownRoute(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/api/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w = do(t, s, http.MethodGet, "/api/search-companies", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

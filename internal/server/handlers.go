package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/54b3r/connectq/internal/company"
	"github.com/54b3r/connectq/internal/logging"
	"github.com/54b3r/connectq/internal/search"
	"github.com/54b3r/connectq/internal/store"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// handleSearch handles POST /api/search-companies. Validation failures map to
// 400 with the validation message; backend failures map to 500 with the
// orchestrator's summary and never the underlying error.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondJSON(w, r, http.StatusBadRequest, search.SearchResult{
			Success: false,
			Message: "invalid request body",
			Matches: []search.Match{},
		})
		return
	}

	topK := search.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	res := s.svc.Search(r.Context(), req.Query, topK)

	status := http.StatusOK
	switch {
	case errors.Is(res.Err, search.ErrValidation):
		status = http.StatusBadRequest
	case !res.Success:
		status = http.StatusInternalServerError
	}
	respondJSON(w, r, status, res)
}

// handleEmbedCompany handles POST /api/embed-company/{companyId}. The job runs
// on the runner; if the client goes away the job still finishes.
func (s *Server) handleEmbedCompany(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "companyId")
	res, ok := s.await(w, r, "embed_single:"+id, func(ctx context.Context) search.Result {
		return s.svc.EmbedSingle(ctx, id)
	})
	if !ok {
		return
	}

	status := http.StatusOK
	switch {
	case errors.Is(res.Err, store.ErrNotFound):
		status = http.StatusNotFound
	case !res.Success:
		status = http.StatusInternalServerError
	}
	respondJSON(w, r, status, res)
}

// handleEmbedAll handles POST /api/embed-all-companies.
func (s *Server) handleEmbedAll(w http.ResponseWriter, r *http.Request) {
	res, ok := s.await(w, r, "embed_all", s.svc.EmbedAndStoreAll)
	if !ok {
		return
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	respondJSON(w, r, status, res)
}

// await submits fn to the runner and waits for it under the request context.
// It writes the error response itself and reports false when no Result is
// available.
func (s *Server) await(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context) search.Result) (search.Result, bool) {
	log := logging.FromContext(r.Context())

	s.metrics.embedJobsInFlight.Inc()
	defer s.metrics.embedJobsInFlight.Dec()

	job, err := s.runner.Submit(r.Context(), name, fn)
	if err != nil {
		log.Error("embed job submit failed", slog.String("job", name), slog.Any("error", err))
		respondJSON(w, r, http.StatusServiceUnavailable, errorResponse{Error: "embedding worker pool unavailable"})
		return search.Result{}, false
	}

	res, err := job.Wait(r.Context())
	if err != nil {
		log.Warn("request ended before embed job finished; job continues in background",
			slog.String("job", name),
			slog.Any("error", err),
		)
		respondJSON(w, r, http.StatusServiceUnavailable, errorResponse{Error: "request cancelled before the job finished"})
		return search.Result{}, false
	}
	return res, true
}

// handleIndexStats handles GET /api/index/stats.
func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("index stats failed", slog.Any("error", err))
		respondJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "failed to read index stats"})
		return
	}
	respondJSON(w, r, http.StatusOK, st)
}

// handleListCompanies handles GET /api/companies.
func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	cs, err := s.companies.ListCompanies(r.Context())
	if err != nil {
		s.storeError(w, r, "list companies", err)
		return
	}
	if cs == nil {
		cs = []company.Company{}
	}
	respondJSON(w, r, http.StatusOK, listCompaniesResponse{Companies: cs, Count: len(cs)})
}

// handleGetCompany handles GET /api/companies/{companyId}.
func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	c, err := s.companies.GetCompany(r.Context(), chi.URLParam(r, "companyId"))
	if err != nil {
		s.storeError(w, r, "get company", err)
		return
	}
	respondJSON(w, r, http.StatusOK, c)
}

// handleCreateCompany handles POST /api/companies. Re-embedding happens
// asynchronously through the outbox.
func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var c company.Company
	if err := decodeJSON(w, r, &c); err != nil {
		respondJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	c.ID = ""
	c.CreatedAt, c.UpdatedAt = time.Time{}, time.Time{}

	created, err := s.companies.CreateCompany(r.Context(), c)
	if err != nil {
		s.storeError(w, r, "create company", err)
		return
	}
	s.wakeOutbox()
	w.Header().Set("Location", "/api/companies/"+created.ID)
	respondJSON(w, r, http.StatusCreated, created)
}

// handleUpdateCompany handles PUT /api/companies/{companyId}. The path id
// wins over any id in the body.
func (s *Server) handleUpdateCompany(w http.ResponseWriter, r *http.Request) {
	var c company.Company
	if err := decodeJSON(w, r, &c); err != nil {
		respondJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	c.ID = chi.URLParam(r, "companyId")

	updated, err := s.companies.UpdateCompany(r.Context(), c)
	if err != nil {
		s.storeError(w, r, "update company", err)
		return
	}
	s.wakeOutbox()
	respondJSON(w, r, http.StatusOK, updated)
}

// handleDeleteCompany handles DELETE /api/companies/{companyId}.
func (s *Server) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	if err := s.companies.DeleteCompany(r.Context(), chi.URLParam(r, "companyId")); err != nil {
		s.storeError(w, r, "delete company", err)
		return
	}
	s.wakeOutbox()
	w.WriteHeader(http.StatusNoContent)
}

// storeError maps a store error to its HTTP status. Only validation
// messages are returned to the client verbatim.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondJSON(w, r, http.StatusNotFound, errorResponse{Error: "company not found"})
	case errors.Is(err, store.ErrDuplicateOwner):
		respondJSON(w, r, http.StatusConflict, errorResponse{Error: "user already owns a company"})
	case errors.Is(err, company.ErrInvalid):
		respondJSON(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		logging.FromContext(r.Context()).Error(op+" failed", slog.Any("error", err))
		respondJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) wakeOutbox() {
	if s.cfg.Outbox != nil {
		s.cfg.Outbox.Wake()
	}
}

// decodeJSON reads a single JSON value from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// respondJSON writes v as the JSON response body with the given status.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// Package search implements the company semantic search orchestrator. It
// builds documents from relational Company records, embeds them, keeps the
// vector index in sync, and answers natural-language queries with hits
// hydrated from the relational store in the index's similarity order.
//
// Every operation converts embedding, index and store failures into a
// structured result instead of returning an error, so background callers can
// fire them without risking the primary request path.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/connectq/internal/budget"
	"github.com/54b3r/connectq/internal/company"
	"github.com/54b3r/connectq/internal/logging"
	"github.com/54b3r/connectq/internal/rag"
	"github.com/54b3r/connectq/internal/store"
)

const (
	// DefaultTopK is applied by callers when a search request omits topK.
	DefaultTopK = 10
	// MaxTopK is the largest accepted topK.
	MaxTopK = 100
)

// ErrValidation is wrapped by every rejected search request.
var ErrValidation = errors.New("search: validation failed")

// CompanyReader is the read side of the relational store used by Service.
// *store.SQLiteStore satisfies it.
type CompanyReader interface {
	// ListCompanies returns every Company.
	ListCompanies(ctx context.Context) ([]company.Company, error)
	// GetCompany returns one Company or an error wrapping store.ErrNotFound.
	GetCompany(ctx context.Context, id string) (company.Company, error)
	// GetCompaniesByIDs loads ids in one round trip; missing ids are absent.
	GetCompaniesByIDs(ctx context.Context, ids []string) (map[string]company.Company, error)
}

// OrphanPolicy decides what Search does with a hit whose Company row no
// longer exists.
type OrphanPolicy string

const (
	// OrphanKeep emits the hit with empty company fields and Orphan set.
	OrphanKeep OrphanPolicy = "keep"
	// OrphanDrop omits the hit from the matches.
	OrphanDrop OrphanPolicy = "drop"
)

// ParseOrphanPolicy converts a config value; the empty string yields OrphanKeep.
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrphanKeep:
		return OrphanKeep, nil
	case OrphanDrop:
		return OrphanDrop, nil
	default:
		return "", fmt.Errorf("search: unknown orphan policy %q (valid values: keep, drop)", s)
	}
}

// Result is the outcome of an indexing operation.
type Result struct {
	// Success is false when any step failed.
	Success bool `json:"success"`
	// Message is a human-readable summary.
	Message string `json:"message"`
	// Count is the number of vectors written or removed.
	Count int `json:"count"`
	// Err is the underlying failure. It is never serialized.
	Err error `json:"-"`
}

// Match is one search hit hydrated with its Company fields.
type Match struct {
	company.Company
	// Score is the similarity in [0,1] reported by the index.
	Score float32 `json:"score"`
	// Orphan is true when the hit has no relational row.
	Orphan bool `json:"orphan,omitempty"`
}

// SearchResult is the outcome of Search.
type SearchResult struct {
	// Success is false when validation or any backend call failed.
	Success bool `json:"success"`
	// Message is a human-readable summary.
	Message string `json:"message"`
	// Matches are in the index's similarity order. Never nil.
	Matches []Match `json:"matches"`
	// Count is len(Matches).
	Count int `json:"count"`
	// Err is the underlying failure. It is never serialized.
	Err error `json:"-"`
}

// Config holds optional Service settings.
type Config struct {
	// Orphans selects the orphan-hit policy (default OrphanKeep).
	Orphans OrphanPolicy
	// Metrics receives operation counters. Nil disables instrumentation.
	Metrics *Metrics
	// MaxDocumentTokens caps the estimated size of each embedded document
	// (default budget.DefaultMaxDocumentTokens). Negative disables the cap.
	MaxDocumentTokens int
}

// Service is the search orchestrator. All collaborators are injected; it
// holds no other state and is safe for concurrent use.
type Service struct {
	// embedder turns documents and queries into vectors.
	embedder rag.Embedder
	// index stores one vector per company, keyed by company id.
	index rag.Index
	// companies is the source of truth for company records.
	companies CompanyReader
	// orphans decides what Search does with hits whose company is gone.
	orphans OrphanPolicy
	// metrics records operation counts and latencies. Nil disables them.
	metrics *Metrics
	// maxTokens caps the document text sent to the embedder.
	maxTokens int
}

// NewService constructs a Service. cfg may be nil.
func NewService(embedder rag.Embedder, index rag.Index, companies CompanyReader, cfg *Config) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("search: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("search: index must not be nil")
	}
	if companies == nil {
		return nil, fmt.Errorf("search: company reader must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	orphans := cfg.Orphans
	if orphans == "" {
		orphans = OrphanKeep
	}
	maxTokens := cfg.MaxDocumentTokens
	if maxTokens == 0 {
		maxTokens = budget.DefaultMaxDocumentTokens
	}
	return &Service{
		embedder:  embedder,
		index:     index,
		companies: companies,
		orphans:   orphans,
		metrics:   cfg.Metrics,
		maxTokens: maxTokens,
	}, nil
}

// document builds the embedding document for c, trimmed to the token budget.
func (s *Service) document(ctx context.Context, c company.Company) string {
	doc := company.BuildDocument(c)
	trimmed, cut := budget.Truncate(doc, s.maxTokens)
	if cut {
		logging.FromContext(ctx).Warn("search: company document truncated to token budget",
			slog.String("company_id", c.ID),
			slog.Int("estimated_tokens", budget.Estimate(doc)),
			slog.Int("max_tokens", s.maxTokens),
		)
	}
	return trimmed
}

// EmbedAndStoreAll re-embeds every Company and upserts the vectors. It builds
// exactly one document per Company.
func (s *Service) EmbedAndStoreAll(ctx context.Context) Result {
	log := logging.FromContext(ctx)

	companies, err := s.companies.ListCompanies(ctx)
	if err != nil {
		return s.fail(ctx, opResync, "failed to load companies", err)
	}
	if len(companies) == 0 {
		log.Info("search: no companies to embed")
		s.metrics.observeOp(opResync, outcomeOK)
		return Result{Success: true, Message: "no companies to embed", Count: 0}
	}

	docs := make([]string, len(companies))
	for i, c := range companies {
		docs[i] = s.document(ctx, c)
	}

	vectors, err := s.embedder.Embed(ctx, docs, rag.ModeDocument)
	if err != nil {
		return s.fail(ctx, opResync, "failed to embed companies", err)
	}
	if len(vectors) != len(companies) {
		err := fmt.Errorf("%w: got %d vectors for %d companies", rag.ErrEmbedding, len(vectors), len(companies))
		return s.fail(ctx, opResync, "failed to embed companies", err)
	}

	records := make([]rag.Record, len(companies))
	for i, c := range companies {
		records[i] = rag.Record{ID: c.ID, Vector: vectors[i], Metadata: company.BuildMetadata(c)}
	}

	if err := s.index.Upsert(ctx, records); err != nil {
		return s.fail(ctx, opResync, "failed to store embeddings", err)
	}

	log.Info("search: embedded all companies", slog.Int("count", len(records)))
	s.metrics.observeOp(opResync, outcomeOK)
	return Result{
		Success: true,
		Message: fmt.Sprintf("embedded %d companies", len(records)),
		Count:   len(records),
	}
}

// EmbedSingle refreshes the vector for one Company. Failure to delete the old
// vector is logged and ignored since the upsert replaces it by id anyway.
func (s *Service) EmbedSingle(ctx context.Context, id string) Result {
	log := logging.FromContext(ctx).With(slog.String("company_id", id))

	if _, err := s.index.DeleteOne(ctx, id); err != nil {
		log.Warn("search: delete before re-embed failed", slog.String("error", err.Error()))
	}

	c, err := s.companies.GetCompany(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.fail(ctx, opSingle, fmt.Sprintf("company %s not found", id), err)
		}
		return s.fail(ctx, opSingle, "failed to load company", err)
	}

	vectors, err := s.embedder.Embed(ctx, []string{s.document(ctx, c)}, rag.ModeDocument)
	if err != nil {
		return s.fail(ctx, opSingle, "failed to embed company", err)
	}
	if len(vectors) != 1 {
		err := fmt.Errorf("%w: got %d vectors for 1 company", rag.ErrEmbedding, len(vectors))
		return s.fail(ctx, opSingle, "failed to embed company", err)
	}

	rec := rag.Record{ID: c.ID, Vector: vectors[0], Metadata: company.BuildMetadata(c)}
	if err := s.index.Upsert(ctx, []rag.Record{rec}); err != nil {
		return s.fail(ctx, opSingle, "failed to store embedding", err)
	}

	log.Debug("search: embedded company")
	s.metrics.observeOp(opSingle, outcomeOK)
	return Result{Success: true, Message: fmt.Sprintf("embedded company %s", id), Count: 1}
}

// RemoveEmbedding deletes the vector for id. Removing an absent id succeeds
// with Count 0.
func (s *Service) RemoveEmbedding(ctx context.Context, id string) Result {
	existed, err := s.index.DeleteOne(ctx, id)
	if err != nil {
		return s.fail(ctx, opRemove, "failed to remove embedding", err)
	}
	logging.FromContext(ctx).Debug("search: removed embedding",
		slog.String("company_id", id),
		slog.Bool("existed", existed),
	)
	s.metrics.observeOp(opRemove, outcomeOK)
	if !existed {
		return Result{Success: true, Message: fmt.Sprintf("no embedding stored for company %s", id), Count: 0}
	}
	return Result{Success: true, Message: fmt.Sprintf("removed embedding for company %s", id), Count: 1}
}

// Search embeds query, retrieves up to topK hits and hydrates them with one
// batched store lookup. Matches keep the index's order exactly. topK must
// be in [1, MaxTopK]; callers apply DefaultTopK when the client gave none.
func (s *Service) Search(ctx context.Context, query string, topK int) SearchResult {
	start := time.Now()
	res := s.search(ctx, query, topK)
	s.metrics.observeSearch(res, time.Since(start))
	return res
}

func (s *Service) search(ctx context.Context, query string, topK int) SearchResult {
	log := logging.FromContext(ctx)

	query = strings.TrimSpace(query)
	if err := validateSearch(query, topK); err != nil {
		return SearchResult{Success: false, Message: err.Error(), Matches: []Match{}, Err: err}
	}

	vectors, err := s.embedder.Embed(ctx, []string{query}, rag.ModeQuery)
	if err != nil {
		return s.failSearch(ctx, "failed to embed query", err)
	}
	if len(vectors) != 1 {
		return s.failSearch(ctx, "failed to embed query",
			fmt.Errorf("%w: got %d vectors for 1 query", rag.ErrEmbedding, len(vectors)))
	}

	hits, err := s.index.Query(ctx, vectors[0], topK)
	if err != nil {
		return s.failSearch(ctx, "failed to query index", err)
	}
	if len(hits) == 0 {
		return SearchResult{Success: true, Message: "no matching companies found", Matches: []Match{}}
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	byID, err := s.companies.GetCompaniesByIDs(ctx, ids)
	if err != nil {
		return s.failSearch(ctx, "failed to load matching companies", err)
	}

	matches := make([]Match, 0, len(hits))
	orphans := 0
	for _, h := range hits {
		c, ok := byID[h.ID]
		if !ok {
			orphans++
			if s.orphans == OrphanDrop {
				continue
			}
			matches = append(matches, Match{Company: company.Company{ID: h.ID}, Score: h.Score, Orphan: true})
			continue
		}
		matches = append(matches, Match{Company: c, Score: h.Score})
	}
	if orphans > 0 {
		log.Warn("search: index returned hits without a company row",
			slog.Int("orphans", orphans),
			slog.String("policy", string(s.orphans)),
		)
	}

	return SearchResult{
		Success: true,
		Message: fmt.Sprintf("found %d matching companies", len(matches)),
		Matches: matches,
		Count:   len(matches),
	}
}

// Stats reports the vector index statistics.
func (s *Service) Stats(ctx context.Context) (rag.Stats, error) {
	st, err := s.index.Stats(ctx)
	if err != nil {
		return rag.Stats{}, fmt.Errorf("search: stats: %w", err)
	}
	return st, nil
}

// validateSearch rejects empty queries and out-of-range topK values.
func validateSearch(query string, topK int) error {
	if query == "" {
		return fmt.Errorf("%w: query is required", ErrValidation)
	}
	if topK < 1 || topK > MaxTopK {
		return fmt.Errorf("%w: topK must be between 1 and %d, got %d", ErrValidation, MaxTopK, topK)
	}
	return nil
}

// fail logs err and converts it into a failed Result.
func (s *Service) fail(ctx context.Context, op, msg string, err error) Result {
	logging.FromContext(ctx).Error("search: "+msg,
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	s.metrics.observeOp(op, outcomeError)
	return Result{Success: false, Message: msg, Err: err}
}

// failSearch logs err and converts it into a failed SearchResult.
func (s *Service) failSearch(ctx context.Context, msg string, err error) SearchResult {
	logging.FromContext(ctx).Error("search: "+msg, slog.String("error", err.Error()))
	return SearchResult{Success: false, Message: msg, Matches: []Match{}, Err: err}
}

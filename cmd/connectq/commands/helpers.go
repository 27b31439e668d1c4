package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/connectq/internal/embedder"
	"github.com/54b3r/connectq/internal/rag"
	"github.com/54b3r/connectq/internal/search"
	"github.com/54b3r/connectq/internal/store"
)

// deps is the wired object graph shared by every command that touches the
// index: the company store, the embedder, the vector index and the
// orchestrator on top of them.
type deps struct {
	// store is the relational company store.
	store *store.SQLiteStore
	// index is the vector index (Qdrant or in-memory).
	index rag.Index
	// qdrant is the raw Qdrant client, nil for the memory backend.
	qdrant *qdrant.Client
	// service is the search orchestrator.
	service *search.Service
}

// close releases the index and the store.
func (d *deps) close(log *slog.Logger) {
	if err := d.index.Close(); err != nil {
		log.Warn("index close failed", slog.Any("error", err))
	}
	if err := d.store.Close(); err != nil {
		log.Warn("store close failed", slog.Any("error", err))
	}
}

// buildDeps opens the store, constructs the embedder and the vector index
// from the environment, and wires the orchestrator. metrics may be nil.
func buildDeps(ctx context.Context, log *slog.Logger, metrics *search.Metrics) (*deps, error) {
	if err := embedder.ValidateForSearch(log); err != nil {
		return nil, err
	}

	dbPath := os.Getenv("CONNECTQ_DB")
	if dbPath == "" {
		var err error
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	log.Info("store opened", slog.String("path", dbPath))

	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	backend := embedder.Backend()
	dims := embedder.DefaultDimensions(backend)
	log.Info("embedder initialised", slog.String("provider", backend), slog.Int("dimensions", dims))

	d := &deps{store: st}
	switch vb := getEnvOrDefault("VECTOR_BACKEND", "qdrant"); vb {
	case "qdrant":
		host := getEnvOrDefault("QDRANT_HOST", "localhost")
		port := getEnvInt("QDRANT_PORT", 6334)
		idx, err := rag.NewQdrantIndex(ctx, &rag.QdrantConfig{
			Host:       host,
			Port:       port,
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "connectq-companies"),
			VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
		}
		d.index, d.qdrant = idx, idx.Client()
	case "memory":
		idx, err := rag.NewMemoryIndex(getEnvOrDefault("QDRANT_COLLECTION", "connectq-companies"), dims)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		log.Warn("vector index is in-memory; embeddings are lost on exit")
		d.index = idx
	default:
		_ = st.Close()
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q (valid values: qdrant, memory)", vb)
	}

	orphans, err := search.ParseOrphanPolicy(os.Getenv("SEARCH_ORPHANS"))
	if err != nil {
		d.close(log)
		return nil, err
	}
	d.service, err = search.NewService(emb, d.index, st, &search.Config{
		Orphans:           orphans,
		Metrics:           metrics,
		MaxDocumentTokens: getEnvInt("SEARCH_MAX_DOCUMENT_TOKENS", 0),
	})
	if err != nil {
		d.close(log)
		return nil, err
	}
	return d, nil
}

// getEnvOrDefault returns the value of the named env var, or fallback if unset.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the named env var parsed as an int, or fallback if unset
// or unparseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvFloat returns the named env var parsed as a float64, or fallback if
// unset or unparseable.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration returns the named env var parsed as a time.Duration, or
// fallback if unset or unparseable.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

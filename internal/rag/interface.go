// Package rag defines the contracts of the semantic-search pipeline:
// text embedding and the external vector index. Concrete implementations
// (Gemini, OpenAI, Ollama embedders; Qdrant and in-memory indexes) satisfy
// these interfaces so the search orchestrator never depends on a specific
// backend and can be tested with fakes.
package rag

import (
	"context"
	"errors"
)

// ErrEmbedding is wrapped by every failure of an embedding provider call,
// including calls that return no vectors or the wrong number of vectors.
var ErrEmbedding = errors.New("embedding failed")

// ErrIndex is wrapped by every failure of a vector index call, including a
// batch upsert that fails partway through.
var ErrIndex = errors.New("vector index failed")

// Mode tells the embedding provider which side of an asymmetric retrieval
// task a text belongs to. Documents and queries are embedded differently
// even when the text is identical.
type Mode string

const (
	// ModeDocument embeds texts that will be stored in the index.
	ModeDocument Mode = "RETRIEVAL_DOCUMENT"
	// ModeQuery embeds a search request that will be matched against documents.
	ModeQuery Mode = "RETRIEVAL_QUERY"
)

// Embedder converts text into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into vectors in one provider call.
	// The returned slice is parallel to texts: result[i] embeds texts[i].
	// The call is all-or-nothing; on error no vectors are returned.
	Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
}

// Record is one entry written to the vector index.
type Record struct {
	// ID is the point key. Upserting an existing ID replaces the point.
	ID string
	// Vector is the embedding.
	Vector []float32
	// Metadata holds flat string/int64 values stored with the vector.
	Metadata map[string]any
}

// Hit is one nearest-neighbour result.
type Hit struct {
	// ID is the point key of the matched record.
	ID string
	// Score is the cosine similarity in [0,1].
	Score float32
	// Metadata is the payload stored with the record.
	Metadata map[string]any
}

// Stats describes the current contents of the index.
type Stats struct {
	// Collection is the index/collection name.
	Collection string `json:"collection"`
	// Points is the number of stored records.
	Points uint64 `json:"points"`
	// Dimensions is the configured vector size.
	Dimensions uint64 `json:"dimensions"`
}

// Index is the vector index client.
// Implementations must be safe to call from multiple goroutines.
type Index interface {
	// Upsert writes records, replacing any existing record with the same ID.
	// Records are sent in sequential chunks of UpsertBatchSize; the first
	// failing chunk aborts the rest and earlier chunks stay committed.
	Upsert(ctx context.Context, records []Record) error

	// DeleteOne removes the record with the given ID and reports whether it
	// was present. Deleting an ID that does not exist is not an error.
	DeleteOne(ctx context.Context, id string) (bool, error)

	// DeleteMany removes all given IDs. Missing IDs are ignored.
	DeleteMany(ctx context.Context, ids []string) error

	// Query returns up to topK hits ordered by descending similarity.
	// Callers must treat the order as authoritative.
	Query(ctx context.Context, vector []float32, topK int) ([]Hit, error)

	// Stats reports the index size and configuration.
	Stats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the index.
	Close() error
}

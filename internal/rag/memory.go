package rag

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process vector index using brute-force cosine
// similarity. It follows the same contract as QdrantIndex and is used for
// tests and for local development without a Qdrant instance.
type MemoryIndex struct {
	// mu guards records.
	mu sync.RWMutex
	// name is reported as the collection in Stats.
	name string
	// dimensions is the required length of every stored and query vector.
	dimensions int
	// records maps point ID to a private copy of the stored record.
	records map[string]Record
}

// NewMemoryIndex creates an empty index for vectors of the given dimension.
func NewMemoryIndex(name string, dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: memory: dimensions must be positive", ErrIndex)
	}
	return &MemoryIndex{
		name:       name,
		dimensions: dimensions,
		records:    make(map[string]Record),
	}, nil
}

// Upsert replaces records by ID in chunks, mirroring the remote client. A
// chunk is validated in full before any of it is written, so a rejected chunk
// leaves the index exactly as the previous chunks left it and
// BatchError.Committed is accurate.
func (m *MemoryIndex) Upsert(ctx context.Context, records []Record) error {
	err := UpsertInBatches(ctx, records, UpsertBatchSize, func(_ context.Context, chunk []Record) error {
		for _, rec := range chunk {
			if len(rec.Vector) != m.dimensions {
				return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", rec.ID, len(rec.Vector), m.dimensions)
			}
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		for _, rec := range chunk {
			m.records[rec.ID] = Record{
				ID:       rec.ID,
				Vector:   append([]float32(nil), rec.Vector...),
				Metadata: maps.Clone(rec.Metadata),
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: memory: %w", ErrIndex, err)
	}
	return nil
}

// DeleteOne removes id if present and reports whether it was.
func (m *MemoryIndex) DeleteOne(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[id]
	delete(m.records, id)
	return ok, nil
}

// DeleteMany removes every id that is present.
func (m *MemoryIndex) DeleteMany(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

// Query returns the topK most similar records, highest score first. Ties
// are broken by ID so results are deterministic.
func (m *MemoryIndex) Query(_ context.Context, vector []float32, topK int) ([]Hit, error) {
	if len(vector) != m.dimensions {
		return nil, fmt.Errorf("%w: memory: query dimension mismatch: got %d, expected %d", ErrIndex, len(vector), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.records))
	for id, rec := range m.records {
		hits = append(hits, Hit{
			ID:       id,
			Score:    clampScore(cosine(vector, rec.Vector)),
			Metadata: maps.Clone(rec.Metadata),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Stats reports the number of stored records.
func (m *MemoryIndex) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Collection: m.name,
		Points:     uint64(len(m.records)),
		Dimensions: uint64(m.dimensions), //nolint:gosec // positive by construction
	}, nil
}

// Close is a no-op.
func (m *MemoryIndex) Close() error { return nil }

// cosine returns the cosine similarity of a and b, or 0 if either is zero.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

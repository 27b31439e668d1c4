package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDKey stores the caller's record ID in the point payload so IDs that
// are not UUIDs survive the round trip through Qdrant's UUID point keys.
const payloadIDKey = "id"

// pointNamespace derives stable point UUIDs for record IDs that are not UUIDs.
var pointNamespace = uuid.MustParse("5b8d3b52-6a4e-4a53-9f0e-2f6f1c1d0a77")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// BatchSize overrides UpsertBatchSize.
	BatchSize int
}

// QdrantIndex implements Index backed by a Qdrant collection.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex connects to Qdrant, ensures the target collection exists
// (creating it with cosine distance if necessary), and returns a ready index.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "connectq-companies"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = UpsertBatchSize
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return idx, nil
}

// Client exposes the gRPC client for health probes.
func (s *QdrantIndex) Client() *qdrant.Client { return s.client }

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("%w: qdrant: failed to check collection existence: %w", ErrIndex, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant: failed to create collection %q: %w", ErrIndex, s.cfg.Collection, err)
	}

	return nil
}

// Upsert writes records in sequential chunks. Qdrant replaces the whole
// point on upsert, so payload keys absent from the new record are dropped.
func (s *QdrantIndex) Upsert(ctx context.Context, records []Record) error {
	err := UpsertInBatches(ctx, records, s.cfg.BatchSize, s.upsertChunk)
	if err != nil {
		return fmt.Errorf("%w: qdrant: %w", ErrIndex, err)
	}
	return nil
}

// upsertChunk sends one Upsert RPC and waits for it to be applied.
func (s *QdrantIndex) upsertChunk(ctx context.Context, records []Record) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		payload := make(map[string]any, len(rec.Metadata)+1)
		for k, v := range rec.Metadata {
			payload[k] = v
		}
		payload[payloadIDKey] = rec.ID

		values, err := qdrant.TryValueMap(payload)
		if err != nil {
			return fmt.Errorf("payload for %s: %w", rec.ID, err)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      pointID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: values,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert failed: %w", err)
	}
	return nil
}

// DeleteOne removes a single point. Qdrant's delete does not say whether
// anything matched, so the point is looked up first; the delete is still
// sent when it is absent, which Qdrant treats as a no-op.
func (s *QdrantIndex) DeleteOne(ctx context.Context, id string) (bool, error) {
	found, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return false, fmt.Errorf("%w: qdrant: lookup before delete failed: %w", ErrIndex, err)
	}
	if err := s.DeleteMany(ctx, []string{id}); err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// DeleteMany removes points by record ID.
func (s *QdrantIndex) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, pointID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant: delete failed: %w", ErrIndex, err)
	}

	return nil
}

// Query performs a cosine similarity search and returns hits in the order
// Qdrant ranked them.
func (s *QdrantIndex) Query(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	limit := uint64(max(topK, 1)) //nolint:gosec // topK is validated by callers
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant: query failed: %w", ErrIndex, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hit := Hit{
			ID:       r.GetId().GetUuid(),
			Score:    clampScore(r.GetScore()),
			Metadata: make(map[string]any, len(r.GetPayload())),
		}
		for k, v := range r.GetPayload() {
			hit.Metadata[k] = payloadValue(v)
		}
		if id, ok := hit.Metadata[payloadIDKey].(string); ok && id != "" {
			hit.ID = id
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// Stats reads the collection's point count and vector size.
func (s *QdrantIndex) Stats(ctx context.Context) (Stats, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: qdrant: collection info failed: %w", ErrIndex, err)
	}
	return Stats{
		Collection: s.cfg.Collection,
		Points:     info.GetPointsCount(),
		Dimensions: info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(),
	}, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

// pointID maps a record ID to a Qdrant UUID point id. UUIDs are used as-is;
// anything else is hashed into a stable name-based UUID.
func pointID(id string) *qdrant.PointId {
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(u.String())
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(id)).String())
}

// payloadValue converts a Qdrant payload value back to a Go scalar.
func payloadValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	default:
		return ""
	}
}

// clampScore bounds a cosine score to [0,1]. It is monotonic and never
// changes the relative order of hits.
func clampScore(s float32) float32 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

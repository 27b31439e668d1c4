package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/54b3r/connectq/internal/rag"
)

// geminiMaxBatch is the number of inputs the Gemini embedContent endpoint
// accepts per request.
const geminiMaxBatch = 100

// GeminiEmbedder implements rag.Embedder using the Gemini embedding API.
// The mode is sent as the provider task type so documents and queries land
// in the asymmetric retrieval space. It is safe for concurrent use.
type GeminiEmbedder struct {
	// client is the shared genai client.
	client *genai.Client
	// model is the embedding model name (e.g. "gemini-embedding-001").
	model string
	// dimensions is the requested output dimensionality.
	dimensions int32
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// APIKey is the Google AI Studio API key.
	APIKey string
	// Model is the embedding model name.
	Model string
	// Dimensions is the requested vector length (e.g. 1536).
	Dimensions int
	// BaseURL overrides the Gemini API endpoint. Empty uses the SDK default.
	BaseURL string
}

// NewGeminiEmbedder constructs a GeminiEmbedder backed by the Gemini API.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	return &GeminiEmbedder{
		client:     client,
		model:      cfg.Model,
		dimensions: int32(cfg.Dimensions), //nolint:gosec // dimensions are bounded
	}, nil
}

// Embed converts texts into vectors. Inputs beyond the provider's batch
// limit are sent as sequential sub-batches; any failure discards all results.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string, mode rag.Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: gemini embedder: no texts to embed", rag.ErrEmbedding)
	}

	cfg := &genai.EmbedContentConfig{TaskType: string(mode)}
	if e.dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(e.dimensions)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiMaxBatch {
		batch := texts[start:min(start+geminiMaxBatch, len(texts))]

		contents := make([]*genai.Content, len(batch))
		for i, t := range batch {
			contents[i] = genai.NewContentFromText(t, genai.RoleUser)
		}

		resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: gemini embedder: request failed: %w", rag.ErrEmbedding, err)
		}
		if resp == nil || len(resp.Embeddings) != len(batch) {
			got := 0
			if resp != nil {
				got = len(resp.Embeddings)
			}
			return nil, fmt.Errorf("%w: gemini embedder: expected %d embeddings, got %d", rag.ErrEmbedding, len(batch), got)
		}
		for i, emb := range resp.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, fmt.Errorf("%w: gemini embedder: empty embedding at index %d", rag.ErrEmbedding, start+i)
			}
			out = append(out, emb.Values)
		}
	}

	return out, nil
}

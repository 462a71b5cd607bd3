package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared/constant"
	"github.com/rotisserie/eris"
)

type fakeEmbeddingService struct {
	response   *openai.CreateEmbeddingResponse
	err        error
	lastParams openai.EmbeddingNewParams
}

func (f *fakeEmbeddingService) New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	f.lastParams = body
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func embeddingResponse(values ...float64) *openai.CreateEmbeddingResponse {
	return &openai.CreateEmbeddingResponse{
		Data: []openai.Embedding{
			{
				Embedding: values,
				Index:     0,
				Object:    constant.ValueOf[constant.Embedding](),
			},
		},
		Model:  "embedding-model",
		Object: constant.ValueOf[constant.List](),
	}
}

func newTestEmbedder(t *testing.T, service *fakeEmbeddingService, dimensions int) *Embedder {
	t.Helper()

	client := &Client{embeddings: service, logger: silentLogger(), baseURL: fakeBaseURL}
	embedder, err := NewEmbedder(EmbedderOptions{Client: client, Model: "text-embedding", Dimensions: dimensions})
	if err != nil {
		t.Fatalf("NewEmbedder returned error: %v", err)
	}
	return embedder
}

func TestEmbedderConvertsVectorToFloat32(t *testing.T) {
	t.Parallel()

	service := &fakeEmbeddingService{response: embeddingResponse(1.5, 2.5, -0.25)}
	embedder := newTestEmbedder(t, service, 3)

	vector, err := embedder.Embed(context.Background(), "  herb garden  ")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}

	expected := []float32{1.5, 2.5, -0.25}
	if len(vector) != len(expected) {
		t.Fatalf("expected %d values, got %d", len(expected), len(vector))
	}

	for idx, value := range expected {
		if vector[idx] != value {
			t.Fatalf("expected value %.2f at index %d, got %.2f", value, idx, vector[idx])
		}
	}

	if service.lastParams.Model != "text-embedding" {
		t.Fatalf("expected model text-embedding, got %s", service.lastParams.Model)
	}
	if service.lastParams.Input.OfString.Value != "herb garden" {
		t.Fatalf("expected trimmed input, got %q", service.lastParams.Input.OfString.Value)
	}
	if embedder.Model() != "text-embedding" {
		t.Fatalf("expected model accessor to report text-embedding")
	}
}

func TestEmbedderRejectsWrongDimensions(t *testing.T) {
	t.Parallel()

	embedder := newTestEmbedder(t, &fakeEmbeddingService{response: embeddingResponse(1, 2)}, 3)

	if _, err := embedder.Embed(context.Background(), "text"); !eris.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse for wrong dimensions, got %v", err)
	}
}

func TestEmbedderValidatesInputs(t *testing.T) {
	t.Parallel()

	embedder := newTestEmbedder(t, &fakeEmbeddingService{}, 0)

	if _, err := embedder.Embed(context.Background(), " "); err == nil {
		t.Fatalf("expected error when input empty")
	}

	client := &Client{embeddings: &fakeEmbeddingService{}, logger: silentLogger()}
	if _, err := NewEmbedder(EmbedderOptions{Client: client}); err == nil {
		t.Fatalf("expected error when model empty")
	}
}

func TestEmbedderMapsErrors(t *testing.T) {
	t.Parallel()

	embedder := newTestEmbedder(t, &fakeEmbeddingService{err: errors.New("connection reset")}, 0)
	if _, err := embedder.Embed(context.Background(), "text"); !eris.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}

	empty := newTestEmbedder(t, &fakeEmbeddingService{response: &openai.CreateEmbeddingResponse{}}, 0)
	if _, err := empty.Embed(context.Background(), "text"); !eris.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse for empty response, got %v", err)
	}
}

package llm

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// EmbedderOptions configures the remote embedding model.
type EmbedderOptions struct {
	Client     *Client
	Model      string
	Dimensions int
}

// Embedder turns query and document text into float32 vectors.
type Embedder struct {
	client     *Client
	logger     *logrus.Logger
	model      string
	dimensions int
}

// NewEmbedder constructs an Embedder. Dimensions of zero disables the size check.
func NewEmbedder(opts EmbedderOptions) (*Embedder, error) {
	if opts.Client == nil {
		return nil, eris.New("llm client is required")
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, eris.New("embedder model is required")
	}

	if opts.Dimensions < 0 {
		return nil, eris.New("embedding dimensions must not be negative")
	}

	return &Embedder{
		client:     opts.Client,
		logger:     opts.Client.logger,
		model:      model,
		dimensions: opts.Dimensions,
	}, nil
}

// Model reports the embedding model name stored alongside each vector.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	input := strings.TrimSpace(text)
	if input == "" {
		return nil, eris.New("embedding input is required")
	}

	fields := logrus.Fields{"model": e.model, "input_chars": len(input)}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(input)},
	}

	response, err := e.client.embeddings.New(ctx, params)
	if err != nil {
		classified := classifyRemote(err)
		e.logError(fields, classified, "requesting embedding")
		return nil, eris.Wrap(classified, "requesting embedding")
	}

	if response == nil || len(response.Data) == 0 {
		err := eris.Wrap(ErrParse, "embedding response contained no vectors")
		e.logError(fields, err, "processing embedding response")
		return nil, err
	}

	vector := response.Data[0].Embedding
	if len(vector) == 0 {
		err := eris.Wrap(ErrParse, "embedding vector was empty")
		e.logError(fields, err, "processing embedding response")
		return nil, err
	}

	if e.dimensions > 0 && len(vector) != e.dimensions {
		err := eris.Wrapf(ErrParse, "embedding has %d dimensions, expected %d", len(vector), e.dimensions)
		e.logError(fields, err, "processing embedding response")
		return nil, err
	}

	converted := make([]float32, len(vector))
	for i, value := range vector {
		converted[i] = float32(value)
	}

	return converted, nil
}

func (e *Embedder) logError(fields logrus.Fields, err error, message string) {
	if e.logger == nil || err == nil {
		return
	}

	entry := e.logger.WithField("error", err.Error()).WithField("component", "llm.embedder")
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}

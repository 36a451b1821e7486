package embedder

import (
	"context"
	"fmt"

	"github.com/bundlepress/api/internal/config"
	"github.com/bundlepress/api/internal/plugin"
)

// TextEmbedder embeds post text through the configured embedding backend.
// Dimensions are discovered from the backend during Initialize so callers
// never have to assume a fixed dimensionality.
type TextEmbedder struct {
	client     *client
	model      string
	dimensions int
	ready      bool
}

func NewTextEmbedder(cfg *config.EmbeddingConfig) *TextEmbedder {
	return &TextEmbedder{
		client: newClient(cfg),
		model:  cfg.TextModel,
	}
}

func (e *TextEmbedder) Name() plugin.Kind       { return plugin.KindTextEmbedder }
func (e *TextEmbedder) Requires() []plugin.Kind { return nil }
func (e *TextEmbedder) Ready() bool             { return e.ready }
func (e *TextEmbedder) Model() string           { return e.model }
func (e *TextEmbedder) Dimensions() int         { return e.dimensions }

// Initialize probes the backend with a single input to record the model's
// declared dimensionality
func (e *TextEmbedder) Initialize(ctx context.Context, pctx *plugin.Context) error {
	if e.model == "" {
		return fmt.Errorf("no text embedding model configured")
	}
	vectors, err := e.client.embed(ctx, e.model, []string{"dimension probe"})
	if err != nil {
		return fmt.Errorf("probe embedding backend: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return fmt.Errorf("embedding backend returned an empty probe vector")
	}
	e.dimensions = len(vectors[0])
	e.ready = true
	return nil
}

func (e *TextEmbedder) Dispose() error {
	e.ready = false
	return nil
}

func (e *TextEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *TextEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.client.embed(ctx, e.model, texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vectors {
		if len(v) != e.dimensions {
			return nil, fmt.Errorf("vector %d has %d dimensions, model %s declares %d", i, len(v), e.model, e.dimensions)
		}
	}
	return vectors, nil
}

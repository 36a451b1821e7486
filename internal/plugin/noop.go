package plugin

import (
	"context"
	"io"
	"os"

	"github.com/bundlepress/api/internal/model"
)

// No-op fallbacks. One canonical implementation per capability kind,
// selected at configuration time when the real capability is unavailable.
// All of them succeed with empty results so the pipeline degrades instead
// of failing.

type noopBase struct {
	kind  Kind
	ready bool
}

func (b *noopBase) Name() Kind       { return b.kind }
func (b *noopBase) Requires() []Kind { return nil }
func (b *noopBase) Ready() bool      { return b.ready }
func (b *noopBase) Dispose() error {
	b.ready = false
	return nil
}
func (b *noopBase) Initialize(ctx context.Context, pctx *Context) error {
	b.ready = true
	return nil
}

// NoopImageProcessor copies files through without transformation
type NoopImageProcessor struct{ noopBase }

func NewNoopImageProcessor() *NoopImageProcessor {
	return &NoopImageProcessor{noopBase{kind: KindImageProcessor}}
}

func (p *NoopImageProcessor) CanProcess(path string) bool { return false }

func (p *NoopImageProcessor) Metadata(path string) (ImageMetadata, error) {
	return ImageMetadata{}, nil
}

func (p *NoopImageProcessor) Process(ctx context.Context, in, out string, opts ProcessOptions) (ProcessResult, error) {
	if err := p.Copy(in, out); err != nil {
		return ProcessResult{}, err
	}
	info, err := os.Stat(out)
	if err != nil {
		return ProcessResult{}, err
	}
	return ProcessResult{Bytes: info.Size()}, nil
}

func (p *NoopImageProcessor) Copy(in, out string) error {
	src, err := os.Open(in)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

// NoopTextEmbedder returns a zero-length vector for every input
type NoopTextEmbedder struct{ noopBase }

func NewNoopTextEmbedder() *NoopTextEmbedder {
	return &NoopTextEmbedder{noopBase{kind: KindTextEmbedder}}
}

func (e *NoopTextEmbedder) Model() string   { return "noop" }
func (e *NoopTextEmbedder) Dimensions() int { return 0 }

func (e *NoopTextEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{}, nil
}

func (e *NoopTextEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{}
	}
	return out, nil
}

// NoopImageEmbedder returns a zero-length vector for every input
type NoopImageEmbedder struct{ noopBase }

func NewNoopImageEmbedder() *NoopImageEmbedder {
	return &NoopImageEmbedder{noopBase{kind: KindImageEmbedder}}
}

func (e *NoopImageEmbedder) Model() string   { return "noop" }
func (e *NoopImageEmbedder) Dimensions() int { return 0 }

func (e *NoopImageEmbedder) Embed(ctx context.Context, path string) ([]float32, error) {
	return []float32{}, nil
}

func (e *NoopImageEmbedder) BatchEmbed(ctx context.Context, paths []string) ([][]float32, error) {
	out := make([][]float32, len(paths))
	for i := range out {
		out[i] = []float32{}
	}
	return out, nil
}

// NoopSimilarity reports no similar posts
type NoopSimilarity struct{ noopBase }

func NewNoopSimilarity() *NoopSimilarity {
	return &NoopSimilarity{noopBase{kind: KindSimilarity}}
}

func (s *NoopSimilarity) Score(a, b []float32) float64 { return 0 }

func (s *NoopSimilarity) Map(vectors []model.EmbeddingVector, topN int) (*model.SimilarityMap, error) {
	return &model.SimilarityMap{Similar: map[string][]model.SimilarPost{}}, nil
}

// NoopDatabase returns an empty build result
type NoopDatabase struct{ noopBase }

func NewNoopDatabase() *NoopDatabase {
	return &NoopDatabase{noopBase{kind: KindDatabase}}
}

func (d *NoopDatabase) Build(ctx context.Context, input DatabaseInput) (DatabaseResult, error) {
	return DatabaseResult{RowCounts: map[string]int{}}, nil
}

// NoopMermaidRenderer passes diagram source through for client-side rendering
type NoopMermaidRenderer struct{ noopBase }

func NewNoopMermaidRenderer() *NoopMermaidRenderer {
	return &NoopMermaidRenderer{noopBase{kind: KindMermaidRenderer}}
}

func (r *NoopMermaidRenderer) Available() bool { return false }

func (r *NoopMermaidRenderer) Render(ctx context.Context, code string, opts MermaidOptions) (MermaidResult, error) {
	return MermaidResult{Output: code, Strategy: MermaidClient}, nil
}

package plugin

import (
	"context"

	"github.com/bundlepress/api/internal/model"
	"github.com/bundlepress/api/internal/schema"
)

// Kind identifies a capability. Each plugin implements exactly one kind.
type Kind string

const (
	KindImageProcessor  Kind = "image-processor"
	KindTextEmbedder    Kind = "text-embedder"
	KindImageEmbedder   Kind = "image-embedder"
	KindSimilarity      Kind = "similarity"
	KindDatabase        Kind = "database"
	KindMermaidRenderer Kind = "mermaid-renderer"
)

// Context carries job-scoped paths into plugin initialization. Plugins are
// stateless with respect to job identity; anything job-specific arrives
// through method arguments or this context.
type Context struct {
	WorkDir   string // scratch space owned by the running job
	OutputDir string // built artifact tree
}

// Plugin is the lifecycle contract every capability implementation satisfies.
// The manager initializes plugins in dependency order and disposes them in
// exact reverse order at job end.
type Plugin interface {
	Name() Kind
	Requires() []Kind
	Initialize(ctx context.Context, pctx *Context) error
	Ready() bool
	Dispose() error
}

// ImageProcessor transforms raster images into output variants
type ImageProcessor interface {
	Plugin
	CanProcess(path string) bool
	Metadata(path string) (ImageMetadata, error)
	Process(ctx context.Context, in, out string, opts ProcessOptions) (ProcessResult, error)
	Copy(in, out string) error
}

// ImageMetadata describes a decodable raster image
type ImageMetadata struct {
	Width  int
	Height int
	Format string
}

// ProcessOptions selects the output rendition
type ProcessOptions struct {
	MaxWidth int
	Format   string // "jpeg" or "png"; "" keeps the source format
	Quality  int    // jpeg quality, 1-100
}

// ProcessResult reports the written rendition
type ProcessResult struct {
	Width  int
	Height int
	Bytes  int64
}

// TextEmbedder produces embedding vectors for text. Dimensions is declared
// by the plugin; callers must never assume a fixed dimensionality.
type TextEmbedder interface {
	Plugin
	Model() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
}

// ImageEmbedder produces embedding vectors for image files
type ImageEmbedder interface {
	Plugin
	Model() string
	Dimensions() int
	Embed(ctx context.Context, path string) ([]float32, error)
	BatchEmbed(ctx context.Context, paths []string) ([][]float32, error)
}

// Similarity computes pairwise scores and ranked similarity maps
type Similarity interface {
	Plugin
	Score(a, b []float32) float64
	Map(vectors []model.EmbeddingVector, topN int) (*model.SimilarityMap, error)
}

// DatabaseInput is everything the database build consumes
type DatabaseInput struct {
	OutputDir  string
	Columns    []schema.Column
	Posts      []model.ProcessedPost
	Media      []model.ProcessedMedia
	Embeddings []model.EmbeddingVector
	Similar    *model.SimilarityMap
}

// DatabaseResult reports what the build produced
type DatabaseResult struct {
	DatabasePath string
	Tables       []string
	RowCounts    map[string]int
}

// Database builds the queryable bundle database
type Database interface {
	Plugin
	Build(ctx context.Context, input DatabaseInput) (DatabaseResult, error)
}

// Mermaid render strategies
const (
	MermaidInlineSVG = "inline-svg"
	MermaidImgSVG    = "img-svg"
	MermaidImgPNG    = "img-png"
	MermaidClient    = "client" // pass-through for client-side rendering
)

// MermaidOptions controls one diagram render
type MermaidOptions struct {
	Strategy  string
	OutputDir string
	Name      string // base name for file-producing strategies
}

// MermaidResult holds the rendered output. For file strategies Output is a
// relative path; for inline-svg it is the SVG markup; for client it is the
// original diagram source.
type MermaidResult struct {
	Output   string
	Strategy string
}

// MermaidRenderer renders mermaid diagram code blocks
type MermaidRenderer interface {
	Plugin
	Available() bool
	Render(ctx context.Context, code string, opts MermaidOptions) (MermaidResult, error)
}

package model

// ProcessedPost is a normalized content unit produced by the transform
// pipeline. Immutable once produced; consumed by the embedding pipeline,
// schema inference and the database build.
type ProcessedPost struct {
	ID          string         `json:"id"`
	Slug        string         `json:"slug"`
	Title       string         `json:"title"`
	Path        string         `json:"path"`
	ContentHash string         `json:"contentHash"`
	Frontmatter map[string]any `json:"frontmatter"`
	Body        string         `json:"-"`
	HTML        string         `json:"-"`
	Links       []string       `json:"links,omitempty"` // resolved internal link slugs
}

// ProcessedMedia is a normalized media unit referenced by one or more posts
type ProcessedMedia struct {
	ID          string         `json:"id"`
	SourcePath  string         `json:"sourcePath"`
	ContentHash string         `json:"contentHash"`
	Kind        string         `json:"kind"` // "image" or "file"
	ContentType string         `json:"contentType"`
	LocalPath   string         `json:"-"` // absolute path inside the job workdir
	Variants    []MediaVariant `json:"variants,omitempty"`
}

// MediaVariant is one rendition of a media file written to the output tree
type MediaVariant struct {
	Name   string `json:"name"` // "" for the original, otherwise e.g. "thumb"
	Path   string `json:"path"` // relative path inside the output tree
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// EmbeddingVector holds one embedding per (owner, model).
// Dimensions always equals the declaration of the producing plugin.
type EmbeddingVector struct {
	OwnerHash  string    `json:"ownerHash"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Values     []float32 `json:"values"`
}

// SimilarPost is one entry in a post's ranked similarity list
type SimilarPost struct {
	Hash  string  `json:"hash"`
	Slug  string  `json:"slug,omitempty"`
	Score float64 `json:"score"`
}

// SimilarityMap holds pairwise scores and the per-post top-N ranking.
// Rankings are deterministic: descending score, ties by ascending hash.
type SimilarityMap struct {
	Pairwise map[string]map[string]float64 `json:"pairwiseScores,omitempty"`
	Similar  map[string][]SimilarPost      `json:"similarPosts"`
}

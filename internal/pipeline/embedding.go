package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bundlepress/api/internal/model"
	"github.com/bundlepress/api/internal/plugin"
)

// EmbeddingOptions tunes batching for one embedding run
type EmbeddingOptions struct {
	BatchSize   int
	MaxInFlight int // concurrent batches against the embedding backend
}

func (o EmbeddingOptions) withDefaults() EmbeddingOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 4
	}
	return o
}

// Embedder runs the embedding stage: batches post bodies and image files
// through the configured embedder plugins and keys every vector by the
// owner's content hash.
type Embedder struct {
	text  plugin.TextEmbedder
	image plugin.ImageEmbedder
	opts  EmbeddingOptions
}

func NewEmbedder(text plugin.TextEmbedder, image plugin.ImageEmbedder, opts EmbeddingOptions) *Embedder {
	return &Embedder{text: text, image: image, opts: opts.withDefaults()}
}

// Run embeds all posts and all processable images. Output order matches
// input order regardless of batch completion order. Byte-identical
// inputs share a content hash and collapse to a single vector.
func (e *Embedder) Run(ctx context.Context, posts []model.ProcessedPost, media []model.ProcessedMedia) ([]model.EmbeddingVector, error) {
	vectors, err := e.embedPosts(ctx, posts)
	if err != nil {
		return nil, err
	}

	imageVecs, err := e.embedImages(ctx, media)
	if err != nil {
		return nil, err
	}
	return dedupVectors(append(vectors, imageVecs...)), nil
}

// dedupVectors keeps the first vector per (owner, model). Identical
// content embeds to the identical vector, so duplicates carry nothing.
func dedupVectors(vectors []model.EmbeddingVector) []model.EmbeddingVector {
	seen := make(map[string]bool, len(vectors))
	out := vectors[:0]
	for _, v := range vectors {
		key := v.OwnerHash + "\x00" + v.Model
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func (e *Embedder) embedPosts(ctx context.Context, posts []model.ProcessedPost) ([]model.EmbeddingVector, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	texts := make([]string, len(posts))
	for i, p := range posts {
		texts[i] = p.Title + "\n\n" + p.Body
	}

	results := make([][]float32, len(posts))
	if err := e.runBatches(ctx, len(posts), func(ctx context.Context, start, end int) error {
		vecs, err := e.text.BatchEmbed(ctx, texts[start:end])
		if err != nil {
			return fmt.Errorf("embed posts %d-%d: %w", start, end-1, err)
		}
		copy(results[start:end], vecs)
		return nil
	}); err != nil {
		return nil, err
	}

	vectors := make([]model.EmbeddingVector, 0, len(posts))
	for i, p := range posts {
		vectors = append(vectors, model.EmbeddingVector{
			OwnerHash:  p.ContentHash,
			Model:      e.text.Model(),
			Dimensions: e.text.Dimensions(),
			Values:     results[i],
		})
	}
	return vectors, nil
}

func (e *Embedder) embedImages(ctx context.Context, media []model.ProcessedMedia) ([]model.EmbeddingVector, error) {
	var images []model.ProcessedMedia
	for _, m := range media {
		if m.Kind == "image" && m.LocalPath != "" {
			images = append(images, m)
		}
	}
	if len(images) == 0 {
		return nil, nil
	}
	sort.Slice(images, func(i, j int) bool { return images[i].ContentHash < images[j].ContentHash })

	paths := make([]string, len(images))
	for i, m := range images {
		paths[i] = m.LocalPath
	}

	results := make([][]float32, len(images))
	if err := e.runBatches(ctx, len(images), func(ctx context.Context, start, end int) error {
		vecs, err := e.image.BatchEmbed(ctx, paths[start:end])
		if err != nil {
			return fmt.Errorf("embed images %d-%d: %w", start, end-1, err)
		}
		copy(results[start:end], vecs)
		return nil
	}); err != nil {
		return nil, err
	}

	vectors := make([]model.EmbeddingVector, 0, len(images))
	for i, m := range images {
		vectors = append(vectors, model.EmbeddingVector{
			OwnerHash:  m.ContentHash,
			Model:      e.image.Model(),
			Dimensions: e.image.Dimensions(),
			Values:     results[i],
		})
	}
	return vectors, nil
}

// runBatches slices [0, total) into BatchSize windows and runs at most
// MaxInFlight of them concurrently. The first error cancels the rest.
func (e *Embedder) runBatches(ctx context.Context, total int, fn func(ctx context.Context, start, end int) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, e.opts.MaxInFlight)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for start := 0; start < total; start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > total {
			end = total
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(ctx, start, end); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}(start, end)
	}

	wg.Wait()
	return firstErr
}

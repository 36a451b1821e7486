package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bundlepress/api/internal/model"
	"github.com/bundlepress/api/internal/plugin"
)

// countingEmbedder records batch sizes and concurrency
type countingEmbedder struct {
	plugin.NoopTextEmbedder

	mu         sync.Mutex
	batches    []int
	inFlight   int32
	maxSeen    int32
	failBatch  int
	callNumber int32
}

func (e *countingEmbedder) Model() string   { return "test-model" }
func (e *countingEmbedder) Dimensions() int { return 3 }

func (e *countingEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	n := atomic.AddInt32(&e.inFlight, 1)
	defer atomic.AddInt32(&e.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&e.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&e.maxSeen, seen, n) {
			break
		}
	}

	call := atomic.AddInt32(&e.callNumber, 1)
	if e.failBatch > 0 && int(call) == e.failBatch {
		return nil, errors.New("backend unavailable")
	}

	e.mu.Lock()
	e.batches = append(e.batches, len(texts))
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func makePosts(n int) []model.ProcessedPost {
	posts := make([]model.ProcessedPost, n)
	for i := range posts {
		posts[i] = model.ProcessedPost{
			Slug:        string(rune('a' + i%26)),
			Title:       "t",
			Body:        "b",
			ContentHash: hashBytes([]byte{byte(i), byte(i >> 8)}),
		}
	}
	return posts
}

func TestEmbedderBatchesPosts(t *testing.T) {
	text := &countingEmbedder{}
	e := NewEmbedder(text, plugin.NewNoopImageEmbedder(), EmbeddingOptions{BatchSize: 4, MaxInFlight: 2})

	posts := makePosts(10)
	vectors, err := e.Run(context.Background(), posts, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(vectors) != 10 {
		t.Fatalf("expected 10 vectors, got %d", len(vectors))
	}
	for i, v := range vectors {
		if v.OwnerHash != posts[i].ContentHash {
			t.Errorf("vector %d owner = %q, want %q", i, v.OwnerHash, posts[i].ContentHash)
		}
		if v.Model != "test-model" || v.Dimensions != 3 {
			t.Errorf("vector %d carries wrong model metadata: %+v", i, v)
		}
	}

	text.mu.Lock()
	defer text.mu.Unlock()
	if len(text.batches) != 3 {
		t.Errorf("expected 3 batches for 10 posts at size 4, got %v", text.batches)
	}
	var total int
	for _, b := range text.batches {
		if b > 4 {
			t.Errorf("batch larger than configured size: %v", text.batches)
		}
		total += b
	}
	if total != 10 {
		t.Errorf("batches cover %d posts, want 10", total)
	}
}

func TestEmbedderBoundsConcurrency(t *testing.T) {
	text := &countingEmbedder{}
	e := NewEmbedder(text, plugin.NewNoopImageEmbedder(), EmbeddingOptions{BatchSize: 1, MaxInFlight: 2})

	if _, err := e.Run(context.Background(), makePosts(20), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if max := atomic.LoadInt32(&text.maxSeen); max > 2 {
		t.Errorf("observed %d concurrent batches, limit is 2", max)
	}
}

func TestEmbedderPropagatesBatchError(t *testing.T) {
	text := &countingEmbedder{failBatch: 2}
	e := NewEmbedder(text, plugin.NewNoopImageEmbedder(), EmbeddingOptions{BatchSize: 2, MaxInFlight: 1})

	_, err := e.Run(context.Background(), makePosts(8), nil)
	if err == nil {
		t.Fatal("expected error from failing batch")
	}
}

func TestEmbedderDedupsIdenticalContent(t *testing.T) {
	text := &countingEmbedder{}
	e := NewEmbedder(text, plugin.NewNoopImageEmbedder(), EmbeddingOptions{})

	shared := hashBytes([]byte("same bytes"))
	posts := []model.ProcessedPost{
		{Slug: "a", Title: "t", Body: "b", ContentHash: shared},
		{Slug: "b", Title: "t", Body: "b", ContentHash: shared},
		{Slug: "c", Title: "t", Body: "c", ContentHash: hashBytes([]byte("other"))},
	}
	vectors, err := e.Run(context.Background(), posts, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("identical content must share one vector, got %d", len(vectors))
	}
	if vectors[0].OwnerHash != shared {
		t.Errorf("first vector owner = %q, want %q", vectors[0].OwnerHash, shared)
	}
}

func TestEmbedderSkipsNonImageMedia(t *testing.T) {
	e := NewEmbedder(&countingEmbedder{}, plugin.NewNoopImageEmbedder(), EmbeddingOptions{})

	media := []model.ProcessedMedia{
		{ContentHash: "aaa", Kind: "file", LocalPath: "/tmp/x.pdf"},
		{ContentHash: "bbb", Kind: "image", LocalPath: ""},
	}
	vectors, err := e.Run(context.Background(), nil, media)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("non-image and pathless media must not be embedded, got %d vectors", len(vectors))
	}
}

func TestSplitFrontmatter(t *testing.T) {
	fm, body, err := splitFrontmatter([]byte("---\ntitle: Hi\ntags:\n  - a\n---\nBody here.\n"))
	if err != nil {
		t.Fatalf("splitFrontmatter: %v", err)
	}
	if fm["title"] != "Hi" {
		t.Errorf("title = %v", fm["title"])
	}
	if string(body) != "Body here.\n" {
		t.Errorf("body = %q", body)
	}

	if _, _, err := splitFrontmatter([]byte("---\ntitle: Hi\nno end")); err == nil {
		t.Error("unterminated frontmatter must error")
	}

	fm, body, err = splitFrontmatter([]byte("plain document"))
	if err != nil || len(fm) != 0 || string(body) != "plain document" {
		t.Errorf("document without frontmatter: fm=%v body=%q err=%v", fm, body, err)
	}
}

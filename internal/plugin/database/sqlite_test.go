package database

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/bundlepress/api/internal/model"
	"github.com/bundlepress/api/internal/plugin"
	"github.com/bundlepress/api/internal/schema"
)

func buildInput(t *testing.T, posts []model.ProcessedPost) plugin.DatabaseInput {
	t.Helper()
	return plugin.DatabaseInput{
		OutputDir: t.TempDir(),
		Columns:   schema.Infer(posts),
		Posts:     posts,
	}
}

func TestBuildWritesPosts(t *testing.T) {
	posts := []model.ProcessedPost{
		{
			ID: "1", Slug: "first", Title: "First", Path: "first.md", ContentHash: "aaa",
			Frontmatter: map[string]any{"draft": true, "weight": 3},
		},
		{
			ID: "2", Slug: "second", Title: "Second", Path: "second.md", ContentHash: "bbb",
			Frontmatter: map[string]any{"draft": false, "weight": 1},
		},
	}

	b := New()
	if err := b.Initialize(context.Background(), &plugin.Context{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	result, err := b.Build(context.Background(), buildInput(t, posts))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if result.RowCounts["posts"] != 2 {
		t.Errorf("posts row count = %d, want 2", result.RowCounts["posts"])
	}
	if len(result.Tables) != 4 {
		t.Errorf("expected 4 tables, got %v", result.Tables)
	}

	db, err := sql.Open("sqlite", result.DatabasePath)
	if err != nil {
		t.Fatalf("open built database: %v", err)
	}
	defer db.Close()

	var draft int
	if err := db.QueryRow("SELECT draft FROM posts WHERE slug = ?", "first").Scan(&draft); err != nil {
		t.Fatalf("query draft: %v", err)
	}
	if draft != 1 {
		t.Errorf("draft = %d, want 1", draft)
	}
}

func TestBuildQuotesReservedColumns(t *testing.T) {
	posts := []model.ProcessedPost{
		{
			ID: "1", Slug: "a", ContentHash: "aaa",
			Frontmatter: map[string]any{"order": 2, "group": "news"},
		},
		{
			ID: "2", Slug: "b", ContentHash: "bbb",
			Frontmatter: map[string]any{"order": 1, "group": "tech"},
		},
	}

	b := New()
	result, err := b.Build(context.Background(), buildInput(t, posts))
	if err != nil {
		t.Fatalf("Build with reserved columns: %v", err)
	}

	db, err := sql.Open("sqlite", result.DatabasePath)
	if err != nil {
		t.Fatalf("open built database: %v", err)
	}
	defer db.Close()

	// the same quoting contract applies on the query side
	rows, err := db.Query(`SELECT slug, "order", "group" FROM posts ORDER BY "order"`)
	if err != nil {
		t.Fatalf("query quoted columns: %v", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug, group string
		var order int
		if err := rows.Scan(&slug, &order, &group); err != nil {
			t.Fatalf("scan: %v", err)
		}
		slugs = append(slugs, slug)
	}
	if len(slugs) != 2 || slugs[0] != "b" {
		t.Errorf("expected order-sorted slugs [b a], got %v", slugs)
	}
}

func TestBuildWidenedColumnValues(t *testing.T) {
	posts := []model.ProcessedPost{
		{ID: "1", Slug: "a", ContentHash: "aaa", Frontmatter: map[string]any{"draft": true}},
		{ID: "2", Slug: "b", ContentHash: "bbb", Frontmatter: map[string]any{"draft": "maybe"}},
	}

	b := New()
	result, err := b.Build(context.Background(), buildInput(t, posts))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	db, err := sql.Open("sqlite", result.DatabasePath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var val string
	if err := db.QueryRow("SELECT draft FROM posts WHERE slug = ?", "a").Scan(&val); err != nil {
		t.Fatalf("query widened column: %v", err)
	}
	if val != "true" {
		t.Errorf("widened bool stored as %q, want %q", val, "true")
	}
}

func TestBuildEmbeddingsAndSimilar(t *testing.T) {
	input := buildInput(t, []model.ProcessedPost{
		{ID: "1", Slug: "a", ContentHash: "aaa"},
	})
	input.Embeddings = []model.EmbeddingVector{
		{OwnerHash: "aaa", Model: "m", Dimensions: 2, Values: []float32{0.1, 0.2}},
		{OwnerHash: "bbb", Model: "noop", Dimensions: 0, Values: []float32{}},
	}
	input.Similar = &model.SimilarityMap{
		Similar: map[string][]model.SimilarPost{
			"aaa": {{Hash: "bbb", Score: 0.9}},
		},
	}

	b := New()
	result, err := b.Build(context.Background(), input)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.RowCounts["embeddings"] != 1 {
		t.Errorf("zero-length vectors must be skipped, embeddings = %d", result.RowCounts["embeddings"])
	}
	if result.RowCounts["similar_posts"] != 1 {
		t.Errorf("similar_posts = %d, want 1", result.RowCounts["similar_posts"])
	}
}

func TestBuildAcceptsDuplicateContentHashes(t *testing.T) {
	// two byte-identical source files share a content hash; the build must
	// keep both posts and store a single vector per (owner, model)
	input := buildInput(t, []model.ProcessedPost{
		{ID: "1", Slug: "a", Path: "a/post.md", ContentHash: "aaaa"},
		{ID: "2", Slug: "b", Path: "b/post.md", ContentHash: "aaaa"},
	})
	input.Embeddings = []model.EmbeddingVector{
		{OwnerHash: "aaaa", Model: "m", Dimensions: 2, Values: []float32{0.1, 0.2}},
		{OwnerHash: "aaaa", Model: "m", Dimensions: 2, Values: []float32{0.1, 0.2}},
	}

	b := New()
	result, err := b.Build(context.Background(), input)
	if err != nil {
		t.Fatalf("Build with duplicate content: %v", err)
	}
	if result.RowCounts["posts"] != 2 {
		t.Errorf("posts row count = %d, want 2", result.RowCounts["posts"])
	}
	if result.RowCounts["embeddings"] != 1 {
		t.Errorf("embeddings row count = %d, want 1", result.RowCounts["embeddings"])
	}
}

func TestNoopDatabaseReturnsEmptyResult(t *testing.T) {
	d := plugin.NewNoopDatabase()
	result, err := d.Build(context.Background(), plugin.DatabaseInput{})
	if err != nil {
		t.Fatalf("noop Build must not fail: %v", err)
	}
	if result.DatabasePath != "" || len(result.Tables) != 0 {
		t.Errorf("noop Build must return an empty result: %+v", result)
	}
}

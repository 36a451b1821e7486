// Package database builds the queryable bundle database with SQLite.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/bundlepress/api/internal/model"
	"github.com/bundlepress/api/internal/plugin"
	"github.com/bundlepress/api/internal/schema"
)

// DatabaseFileName is the artifact name inside the output tree
const DatabaseFileName = "bundle.db"

// baseColumns are always present on the posts table; inferred frontmatter
// columns that collide with them are skipped
var baseColumns = map[string]struct{}{
	"id": {}, "slug": {}, "title": {}, "path": {}, "content_hash": {},
}

// Builder writes posts, media, embeddings and similarity rankings into a
// single SQLite file
type Builder struct {
	ready bool
}

func New() *Builder {
	return &Builder{}
}

func (b *Builder) Name() plugin.Kind       { return plugin.KindDatabase }
func (b *Builder) Requires() []plugin.Kind { return nil }
func (b *Builder) Ready() bool             { return b.ready }

func (b *Builder) Initialize(ctx context.Context, pctx *plugin.Context) error {
	b.ready = true
	return nil
}

func (b *Builder) Dispose() error {
	b.ready = false
	return nil
}

// Build creates the bundle database. All inserts run in one transaction;
// any failure rolls the whole build back and is fatal for the job.
func (b *Builder) Build(ctx context.Context, input plugin.DatabaseInput) (plugin.DatabaseResult, error) {
	dbPath := filepath.Join(input.OutputDir, DatabaseFileName)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return plugin.DatabaseResult{}, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	columns := usableColumns(input.Columns)

	if err := createTables(ctx, db, columns); err != nil {
		return plugin.DatabaseResult{}, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return plugin.DatabaseResult{}, err
	}
	defer tx.Rollback()

	counts := map[string]int{}

	if counts["posts"], err = insertPosts(ctx, tx, columns, input.Posts); err != nil {
		return plugin.DatabaseResult{}, fmt.Errorf("insert posts: %w", err)
	}
	if counts["media"], err = insertMedia(ctx, tx, input.Media); err != nil {
		return plugin.DatabaseResult{}, fmt.Errorf("insert media: %w", err)
	}
	if counts["embeddings"], err = insertEmbeddings(ctx, tx, input.Embeddings); err != nil {
		return plugin.DatabaseResult{}, fmt.Errorf("insert embeddings: %w", err)
	}
	if counts["similar_posts"], err = insertSimilar(ctx, tx, input.Similar); err != nil {
		return plugin.DatabaseResult{}, fmt.Errorf("insert similar posts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return plugin.DatabaseResult{}, fmt.Errorf("commit: %w", err)
	}

	return plugin.DatabaseResult{
		DatabasePath: dbPath,
		Tables:       []string{"posts", "media", "embeddings", "similar_posts"},
		RowCounts:    counts,
	}, nil
}

// usableColumns filters inferred columns that collide with base columns
func usableColumns(columns []schema.Column) []schema.Column {
	out := make([]schema.Column, 0, len(columns))
	for _, c := range columns {
		if _, clash := baseColumns[strings.ToLower(c.Name)]; clash {
			continue
		}
		out = append(out, c)
	}
	return out
}

func createTables(ctx context.Context, db *sql.DB, columns []schema.Column) error {
	var ddl strings.Builder
	ddl.WriteString("CREATE TABLE posts (\n")
	ddl.WriteString("\tid TEXT PRIMARY KEY,\n")
	ddl.WriteString("\tslug TEXT UNIQUE NOT NULL,\n")
	ddl.WriteString("\ttitle TEXT,\n")
	ddl.WriteString("\tpath TEXT,\n")
	ddl.WriteString("\tcontent_hash TEXT NOT NULL")
	for _, c := range columns {
		ddl.WriteString(",\n\t")
		ddl.WriteString(schema.Quote(c.Name))
		ddl.WriteString(" ")
		ddl.WriteString(sqlType(c.Type))
	}
	ddl.WriteString("\n);")

	stmts := []string{
		ddl.String(),
		`CREATE TABLE media (
	id TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	kind TEXT NOT NULL,
	content_type TEXT
);`,
		`CREATE TABLE embeddings (
	owner_hash TEXT NOT NULL,
	model TEXT NOT NULL,
	dimensions INTEGER NOT NULL,
	vector TEXT NOT NULL,
	PRIMARY KEY(owner_hash, model)
);`,
		`CREATE TABLE similar_posts (
	post_hash TEXT NOT NULL,
	other_hash TEXT NOT NULL,
	score REAL NOT NULL,
	rank INTEGER NOT NULL,
	PRIMARY KEY(post_hash, other_hash)
);`,
		`CREATE INDEX idx_posts_content_hash ON posts(content_hash);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func sqlType(t schema.ColumnType) string {
	switch t {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeReal:
		return "REAL"
	case schema.TypeBoolean:
		return "INTEGER" // 0/1
	default:
		return "TEXT" // text and json
	}
}

func insertPosts(ctx context.Context, tx *sql.Tx, columns []schema.Column, posts []model.ProcessedPost) (int, error) {
	names := []string{"id", "slug", "title", "path", "content_hash"}
	for _, c := range columns {
		names = append(names, schema.Quote(c.Name))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	query := fmt.Sprintf("INSERT INTO posts (%s) VALUES (%s)", strings.Join(names, ", "), placeholders)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, post := range posts {
		args := []any{post.ID, post.Slug, post.Title, post.Path, post.ContentHash}
		for _, c := range columns {
			val, err := encodeValue(post.Frontmatter[c.Name], c.Type)
			if err != nil {
				return 0, fmt.Errorf("post %s, column %s: %w", post.Slug, c.Name, err)
			}
			args = append(args, val)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("post %s: %w", post.Slug, err)
		}
	}
	return len(posts), nil
}

// encodeValue converts a frontmatter value to the driver representation of
// its widened column type
func encodeValue(v any, t schema.ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok {
			if b {
				return 1, nil
			}
			return 0, nil
		}
		return nil, fmt.Errorf("expected bool, got %T", v)
	case schema.TypeInteger, schema.TypeReal:
		return v, nil
	case schema.TypeJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil
	}
}

func insertMedia(ctx context.Context, tx *sql.Tx, media []model.ProcessedMedia) (int, error) {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO media (id, source_path, content_hash, kind, content_type) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, m := range media {
		if _, err := stmt.ExecContext(ctx, m.ID, m.SourcePath, m.ContentHash, m.Kind, m.ContentType); err != nil {
			return 0, fmt.Errorf("media %s: %w", m.SourcePath, err)
		}
	}
	return len(media), nil
}

func insertEmbeddings(ctx context.Context, tx *sql.Tx, embeddings []model.EmbeddingVector) (int, error) {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO embeddings (owner_hash, model, dimensions, vector) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	seen := map[string]bool{}
	for _, e := range embeddings {
		if len(e.Values) == 0 {
			continue // no-op embedder output carries no signal
		}
		// identical content shares a hash; one vector per (owner, model)
		key := e.OwnerHash + "\x00" + e.Model
		if seen[key] {
			continue
		}
		seen[key] = true
		vector, err := json.Marshal(e.Values)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, e.OwnerHash, e.Model, e.Dimensions, string(vector)); err != nil {
			return 0, fmt.Errorf("embedding %s: %w", e.OwnerHash, err)
		}
		inserted++
	}
	return inserted, nil
}

func insertSimilar(ctx context.Context, tx *sql.Tx, similar *model.SimilarityMap) (int, error) {
	if similar == nil {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO similar_posts (post_hash, other_hash, score, rank) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for hash, ranked := range similar.Similar {
		for rank, sp := range ranked {
			if _, err := stmt.ExecContext(ctx, hash, sp.Hash, sp.Score, rank+1); err != nil {
				return 0, fmt.Errorf("similar %s -> %s: %w", hash, sp.Hash, err)
			}
			inserted++
		}
	}
	return inserted, nil
}

package schema

import (
	"testing"

	"github.com/bundlepress/api/internal/model"
)

func postsWith(values ...map[string]any) []model.ProcessedPost {
	posts := make([]model.ProcessedPost, len(values))
	for i, fm := range values {
		posts[i] = model.ProcessedPost{Frontmatter: fm}
	}
	return posts
}

func columnByName(t *testing.T, columns []Column, name string) Column {
	t.Helper()
	for _, c := range columns {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("column %q not inferred, got %v", name, columns)
	return Column{}
}

func TestInferTypes(t *testing.T) {
	tests := []struct {
		name   string
		values []map[string]any
		want   ColumnType
	}{
		{"bool only", []map[string]any{{"draft": true}, {"draft": false}}, TypeBoolean},
		{"bool widened by string", []map[string]any{{"draft": true}, {"draft": "maybe"}}, TypeText},
		{"bool widened by number", []map[string]any{{"draft": true}, {"draft": 1}}, TypeText},
		{"int only", []map[string]any{{"weight": 1}, {"weight": 2}}, TypeInteger},
		{"int widened to real", []map[string]any{{"weight": 1}, {"weight": 1.5}}, TypeReal},
		{"string", []map[string]any{{"title": "a"}}, TypeText},
		{"list forces json", []map[string]any{{"tags": []any{"a", "b"}}, {"tags": "single"}}, TypeJSON},
		{"map forces json", []map[string]any{{"meta": map[string]any{"a": 1}}}, TypeJSON},
		{"nil only falls back to text", []map[string]any{{"empty": nil}}, TypeText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			columns := Infer(postsWith(tt.values...))
			var key string
			for k := range tt.values[0] {
				key = k
			}
			if got := columnByName(t, columns, key).Type; got != tt.want {
				t.Errorf("inferred %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInferUnionsKeysAcrossPosts(t *testing.T) {
	columns := Infer(postsWith(
		map[string]any{"title": "one"},
		map[string]any{"title": "two", "draft": true},
	))
	if len(columns) != 2 {
		t.Fatalf("expected 2 columns, got %v", columns)
	}
	// sorted by name
	if columns[0].Name != "draft" || columns[1].Name != "title" {
		t.Errorf("columns not sorted by name: %v", columns)
	}
}

func TestReservedColumnsAreFlagged(t *testing.T) {
	columns := Infer(postsWith(map[string]any{"order": 1, "title": "x", "Group": "news"}))
	if !columnByName(t, columns, "order").Reserved {
		t.Error(`"order" must be flagged reserved`)
	}
	if !columnByName(t, columns, "Group").Reserved {
		t.Error(`reserved check must be case-insensitive`)
	}
	if columnByName(t, columns, "title").Reserved {
		t.Error(`"title" must not be flagged reserved`)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"title", "title"},
		{"order", `"order"`},
		{"UPDATE", `"UPDATE"`},
		{"group", `"group"`},
		{"my-key", `"my-key"`},
		{"1st", `"1st"`},
		{"", `""`},
		{`we"ird`, `"we""ird"`},
		{"snake_case", "snake_case"},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// Package schema derives a relational column shape from heterogeneous,
// user-authored frontmatter. Types widen across the corpus: a key that is
// boolean in one post and a string in another becomes text, and any list or
// map value forces json.
package schema

import (
	"sort"

	"github.com/bundlepress/api/internal/model"
)

// ColumnType is the resolved storage type for one frontmatter key
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeReal    ColumnType = "real"
	TypeBoolean ColumnType = "boolean"
	TypeJSON    ColumnType = "json"
)

// Column is one inferred frontmatter column
type Column struct {
	Name     string
	Type     ColumnType
	Reserved bool
}

// shapes accumulates the value shapes observed for one key
type shapes struct {
	boolean bool
	integer bool
	real    bool
	str     bool
	complex bool // list or map
}

func (s *shapes) observe(v any) {
	switch v.(type) {
	case bool:
		s.boolean = true
	case int, int32, int64, uint, uint32, uint64:
		s.integer = true
	case float32, float64:
		s.real = true
	case string:
		s.str = true
	case nil:
		// absent values carry no shape
	default:
		s.complex = true
	}
}

// resolve widens the observed shapes into a single column type
func (s *shapes) resolve() ColumnType {
	switch {
	case s.complex:
		return TypeJSON
	case s.str:
		return TypeText
	case s.boolean && (s.integer || s.real):
		return TypeText
	case s.boolean:
		return TypeBoolean
	case s.real:
		return TypeReal
	case s.integer:
		return TypeInteger
	default:
		return TypeText
	}
}

// Infer scans every post's frontmatter and returns one column per observed
// key, sorted by name for deterministic DDL.
func Infer(posts []model.ProcessedPost) []Column {
	observed := make(map[string]*shapes)
	for _, post := range posts {
		for key, value := range post.Frontmatter {
			sh, ok := observed[key]
			if !ok {
				sh = &shapes{}
				observed[key] = sh
			}
			sh.observe(value)
		}
	}

	columns := make([]Column, 0, len(observed))
	for name, sh := range observed {
		columns = append(columns, Column{
			Name:     name,
			Type:     sh.resolve(),
			Reserved: IsReserved(name),
		})
	}
	sort.Slice(columns, func(i, j int) bool { return columns[i].Name < columns[j].Name })
	return columns
}

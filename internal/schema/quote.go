package schema

import "strings"

// reservedWords are SQL keywords that collide with user frontmatter keys.
// Columns named after any of these must be quoted in DDL and in every query.
var reservedWords = map[string]struct{}{
	"abort": {}, "add": {}, "all": {}, "alter": {}, "and": {}, "as": {},
	"asc": {}, "attach": {}, "between": {}, "by": {}, "case": {}, "check": {},
	"collate": {}, "column": {}, "commit": {}, "constraint": {}, "create": {},
	"cross": {}, "default": {}, "delete": {}, "desc": {}, "distinct": {},
	"drop": {}, "else": {}, "end": {}, "escape": {}, "except": {},
	"exists": {}, "foreign": {}, "from": {}, "full": {}, "group": {},
	"having": {}, "in": {}, "index": {}, "inner": {}, "insert": {},
	"intersect": {}, "into": {}, "is": {}, "join": {}, "key": {}, "left": {},
	"like": {}, "limit": {}, "not": {}, "null": {}, "on": {}, "or": {},
	"order": {}, "outer": {}, "primary": {}, "references": {}, "right": {},
	"rollback": {}, "row": {}, "select": {}, "set": {}, "table": {},
	"then": {}, "to": {}, "transaction": {}, "union": {}, "unique": {},
	"update": {}, "using": {}, "values": {}, "when": {}, "where": {},
}

// IsReserved reports whether name collides with a reserved SQL keyword
func IsReserved(name string) bool {
	_, ok := reservedWords[strings.ToLower(name)]
	return ok
}

// Quote returns the identifier form of a column name safe for use in DDL
// and queries. Reserved words and names containing non-identifier
// characters are wrapped in double quotes with internal quotes doubled.
func Quote(name string) string {
	if !needsQuoting(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func needsQuoting(name string) bool {
	if name == "" || IsReserved(name) {
		return true
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}

package pipeline

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

var frontmatterDelim = []byte("---")

// splitFrontmatter separates the YAML frontmatter block from the markdown
// body. Documents without a leading --- block yield an empty map and the
// full input as body.
func splitFrontmatter(data []byte) (map[string]any, []byte, error) {
	trimmed := bytes.TrimLeft(data, "\ufeff") // tolerate a BOM
	if !bytes.HasPrefix(trimmed, frontmatterDelim) {
		return map[string]any{}, data, nil
	}

	rest := trimmed[len(frontmatterDelim):]
	if len(rest) > 0 && rest[0] == '\r' {
		rest = rest[1:]
	}
	if len(rest) == 0 || rest[0] != '\n' {
		return map[string]any{}, data, nil
	}
	rest = rest[1:]

	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return nil, nil, fmt.Errorf("unterminated frontmatter block")
	}

	block := rest[:end]
	body := rest[end+len("\n---"):]
	if len(body) > 0 && body[0] == '\r' {
		body = body[1:]
	}
	if len(body) > 0 && body[0] == '\n' {
		body = body[1:]
	}

	fm := map[string]any{}
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, body, nil
}

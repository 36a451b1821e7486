// Package pipeline turns a markdown source tree into normalized posts,
// optimized media and embedding vectors.
package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"

	"github.com/bundlepress/api/internal/model"
	"github.com/bundlepress/api/internal/plugin"
)

var (
	wikilinkPattern = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)
	mermaidPattern  = regexp.MustCompile("(?s)```mermaid\r?\n(.*?)```")
)

// variant renditions produced for every processable image
var imageVariants = []struct {
	name string
	opts plugin.ProcessOptions
}{
	{"", plugin.ProcessOptions{MaxWidth: 1600, Quality: 85}},
	{"thumb", plugin.ProcessOptions{MaxWidth: 320, Quality: 80}},
}

// TransformOptions tunes one transform run
type TransformOptions struct {
	MinContentLength int
	MermaidStrategy  string
}

// TransformOutput is everything the transform stage hands downstream
type TransformOutput struct {
	Posts  []model.ProcessedPost
	Media  []model.ProcessedMedia
	Issues []model.Issue
}

// Transformer walks a source tree and produces normalized content records.
// Image and diagram handling are delegated to the configured plugins.
type Transformer struct {
	images  plugin.ImageProcessor
	mermaid plugin.MermaidRenderer
	opts    TransformOptions
	md      goldmark.Markdown
}

func NewTransformer(images plugin.ImageProcessor, mermaid plugin.MermaidRenderer, opts TransformOptions) *Transformer {
	return &Transformer{
		images:  images,
		mermaid: mermaid,
		opts:    opts,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// draft is a parsed markdown file before link resolution
type draft struct {
	relPath string
	dir     string
	slug    string
	title   string
	hash    string
	fm      map[string]any
	body    []byte
}

// Run transforms every markdown document under sourceDir into the output
// tree. Per-item anomalies become issues; only filesystem-level failures
// abort the run.
func (t *Transformer) Run(ctx context.Context, sourceDir, outputDir string) (*TransformOutput, error) {
	out := &TransformOutput{}

	mdFiles, mediaFiles, err := scanTree(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("scan source tree: %w", err)
	}

	drafts := make([]draft, 0, len(mdFiles))
	slugs := map[string]bool{}
	for _, rel := range mdFiles {
		d, issues, err := t.parseDraft(sourceDir, rel)
		if err != nil {
			return nil, err
		}
		out.Issues = append(out.Issues, issues...)
		if slugs[d.slug] {
			// keep both posts; disambiguate with a hash suffix. Identical
			// files share the hash too, so keep counting until free.
			base := d.slug
			d.slug = base + "-" + d.hash[:8]
			for n := 2; slugs[d.slug]; n++ {
				d.slug = fmt.Sprintf("%s-%s-%d", base, d.hash[:8], n)
			}
		}
		slugs[d.slug] = true
		drafts = append(drafts, d)
	}

	if err := os.MkdirAll(filepath.Join(outputDir, "posts"), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(outputDir, "assets"), 0o755); err != nil {
		return nil, err
	}

	referenced := map[string]bool{}
	mediaByPath := map[string]*model.ProcessedMedia{}

	for _, d := range drafts {
		post, err := t.buildPost(ctx, d, sourceDir, outputDir, slugs, referenced, mediaByPath, out)
		if err != nil {
			return nil, err
		}
		out.Posts = append(out.Posts, post)
	}

	// media present in the tree but never referenced by any post
	for _, rel := range mediaFiles {
		abs := filepath.Join(sourceDir, rel)
		if !referenced[abs] {
			out.Issues = append(out.Issues, model.Issue{
				Kind:   model.IssueOrphanMedia,
				Path:   rel,
				Detail: "media file is not referenced by any post",
			})
		}
	}

	for _, m := range mediaByPath {
		out.Media = append(out.Media, *m)
	}
	sort.Slice(out.Media, func(i, j int) bool { return out.Media[i].SourcePath < out.Media[j].SourcePath })

	return out, nil
}

func scanTree(sourceDir string) (mdFiles, mediaFiles []string, err error) {
	err = filepath.WalkDir(sourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != sourceDir && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}
		if strings.EqualFold(filepath.Ext(name), ".md") {
			mdFiles = append(mdFiles, rel)
		} else {
			mediaFiles = append(mediaFiles, rel)
		}
		return nil
	})
	sort.Strings(mdFiles)
	sort.Strings(mediaFiles)
	return mdFiles, mediaFiles, err
}

func (t *Transformer) parseDraft(sourceDir, rel string) (draft, []model.Issue, error) {
	raw, err := os.ReadFile(filepath.Join(sourceDir, rel))
	if err != nil {
		return draft{}, nil, err
	}

	var issues []model.Issue
	fm, body, err := splitFrontmatter(raw)
	if err != nil {
		issues = append(issues, model.Issue{
			Kind:   model.IssueMissingField,
			Path:   rel,
			Detail: err.Error(),
		})
		fm, body = map[string]any{}, raw
	}

	d := draft{
		relPath: rel,
		dir:     filepath.Dir(rel),
		hash:    hashBytes(raw),
		fm:      fm,
		body:    body,
	}

	if s, ok := fm["slug"].(string); ok && s != "" {
		d.slug = slugify(s)
	} else {
		base := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
		d.slug = slugify(base)
	}

	if title, ok := fm["title"].(string); ok && title != "" {
		d.title = title
	} else {
		issues = append(issues, model.Issue{
			Kind:   model.IssueMissingField,
			Path:   rel,
			Detail: "frontmatter is missing recommended field: title",
		})
		d.title = d.slug
	}
	if _, ok := d.fm["description"]; !ok {
		issues = append(issues, model.Issue{
			Kind:   model.IssueMissingField,
			Path:   rel,
			Detail: "frontmatter is missing recommended field: description",
		})
	}
	if len(strings.TrimSpace(string(body))) < t.opts.MinContentLength {
		issues = append(issues, model.Issue{
			Kind:   model.IssueThinContent,
			Path:   rel,
			Detail: fmt.Sprintf("content shorter than %d characters", t.opts.MinContentLength),
		})
	}

	return d, issues, nil
}

func (t *Transformer) buildPost(
	ctx context.Context,
	d draft,
	sourceDir, outputDir string,
	slugs map[string]bool,
	referenced map[string]bool,
	mediaByPath map[string]*model.ProcessedMedia,
	out *TransformOutput,
) (model.ProcessedPost, error) {
	body, wikiTargets := substituteWikilinks(d.body)
	body = t.renderMermaidBlocks(ctx, d, body, outputDir, out)

	linkTargets, imageRefs := extractReferences(t.md, body)
	linkTargets = append(linkTargets, wikiTargets...)

	var links []string
	seen := map[string]bool{}
	for _, target := range linkTargets {
		slug := linkTargetSlug(target)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		if slugs[slug] {
			links = append(links, slug)
		} else {
			out.Issues = append(out.Issues, model.Issue{
				Kind:   model.IssueBrokenLink,
				Path:   d.relPath,
				Detail: fmt.Sprintf("link target %q does not resolve to any post", target),
			})
		}
	}
	sort.Strings(links)

	for _, ref := range imageRefs {
		abs := filepath.Join(sourceDir, d.dir, filepath.FromSlash(ref))
		if _, err := os.Stat(abs); err != nil {
			out.Issues = append(out.Issues, model.Issue{
				Kind:   model.IssueMissingMedia,
				Path:   d.relPath,
				Detail: fmt.Sprintf("referenced media %q does not exist", ref),
			})
			continue
		}
		referenced[abs] = true
		if _, done := mediaByPath[abs]; done {
			continue
		}
		m, err := t.processMedia(ctx, abs, sourceDir, outputDir, out)
		if err != nil {
			return model.ProcessedPost{}, err
		}
		mediaByPath[abs] = m
	}

	var htmlBuf bytes.Buffer
	if err := t.md.Convert(body, &htmlBuf); err != nil {
		return model.ProcessedPost{}, fmt.Errorf("render %s: %w", d.relPath, err)
	}

	post := model.ProcessedPost{
		ID:          uuid.New().String(),
		Slug:        d.slug,
		Title:       d.title,
		Path:        filepath.ToSlash(d.relPath),
		ContentHash: d.hash,
		Frontmatter: d.fm,
		Body:        string(body),
		HTML:        htmlBuf.String(),
		Links:       links,
	}

	if err := writePostDocument(outputDir, post); err != nil {
		return model.ProcessedPost{}, err
	}
	return post, nil
}

// renderMermaidBlocks replaces ```mermaid fences according to the
// configured strategy. Render failures degrade to pass-through with an
// issue; they never abort the post.
func (t *Transformer) renderMermaidBlocks(ctx context.Context, d draft, body []byte, outputDir string, out *TransformOutput) []byte {
	n := 0
	return mermaidPattern.ReplaceAllFunc(body, func(block []byte) []byte {
		code := mermaidPattern.FindSubmatch(block)[1]
		n++
		result, err := t.mermaid.Render(ctx, string(code), plugin.MermaidOptions{
			Strategy:  t.opts.MermaidStrategy,
			OutputDir: outputDir,
			Name:      fmt.Sprintf("%s-%d", d.slug, n),
		})
		if err != nil {
			out.Issues = append(out.Issues, model.Issue{
				Kind:   model.IssueRenderFailed,
				Path:   d.relPath,
				Detail: fmt.Sprintf("mermaid render failed: %v", err),
			})
			return block
		}
		switch result.Strategy {
		case plugin.MermaidInlineSVG:
			return []byte("\n" + result.Output + "\n")
		case plugin.MermaidImgSVG, plugin.MermaidImgPNG:
			return []byte(fmt.Sprintf("![diagram](%s)", filepath.ToSlash(result.Output)))
		default:
			return block
		}
	})
}

func (t *Transformer) processMedia(ctx context.Context, abs, sourceDir, outputDir string, out *TransformOutput) (*model.ProcessedMedia, error) {
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(sourceDir, abs)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(abs))
	m := &model.ProcessedMedia{
		ID:          uuid.New().String(),
		SourcePath:  filepath.ToSlash(rel),
		ContentHash: hashBytes(raw),
		Kind:        "file",
		ContentType: mime.TypeByExtension(ext),
		LocalPath:   abs,
	}

	if t.images.CanProcess(abs) {
		m.Kind = "image"
		for _, v := range imageVariants {
			name := m.ContentHash + ext
			if v.name != "" {
				name = m.ContentHash + "-" + v.name + ext
			}
			outPath := filepath.Join(outputDir, "assets", name)
			result, err := t.images.Process(ctx, abs, outPath, v.opts)
			if err != nil {
				out.Issues = append(out.Issues, model.Issue{
					Kind:   model.IssueRenderFailed,
					Path:   m.SourcePath,
					Detail: fmt.Sprintf("image processing failed (%s): %v", v.name, err),
				})
				continue
			}
			m.Variants = append(m.Variants, model.MediaVariant{
				Name:   v.name,
				Path:   path.Join("assets", name),
				Width:  result.Width,
				Height: result.Height,
			})
		}
		return m, nil
	}

	// not a raster image: copy through content-addressed
	name := m.ContentHash + ext
	if err := t.images.Copy(abs, filepath.Join(outputDir, "assets", name)); err != nil {
		return nil, err
	}
	m.Variants = append(m.Variants, model.MediaVariant{Path: path.Join("assets", name)})
	return m, nil
}

// substituteWikilinks rewrites [[slug]] and [[slug|label]] into plain
// markdown links and returns the referenced targets
func substituteWikilinks(body []byte) ([]byte, []string) {
	var targets []string
	replaced := wikilinkPattern.ReplaceAllFunc(body, func(match []byte) []byte {
		groups := wikilinkPattern.FindSubmatch(match)
		target := strings.TrimSpace(string(groups[1]))
		label := target
		if len(groups) > 2 && len(groups[2]) > 0 {
			label = string(groups[2])
		}
		targets = append(targets, target)
		return []byte(fmt.Sprintf("[%s](%s)", label, slugify(target)))
	})
	return replaced, targets
}

// extractReferences walks the markdown AST collecting link and image
// destinations
func extractReferences(md goldmark.Markdown, body []byte) (links, images []string) {
	doc := md.Parser().Parse(text.NewReader(body))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Link:
			dest := string(node.Destination)
			if !isExternalRef(dest) && !strings.HasPrefix(dest, "#") {
				links = append(links, dest)
			}
		case *ast.Image:
			dest := string(node.Destination)
			if !isExternalRef(dest) && !strings.HasPrefix(dest, "assets/") && !strings.HasPrefix(dest, "diagrams/") {
				images = append(images, dest)
			}
		}
		return ast.WalkContinue, nil
	})
	return links, images
}

func isExternalRef(dest string) bool {
	return strings.Contains(dest, "://") || strings.HasPrefix(dest, "mailto:") || strings.HasPrefix(dest, "//")
}

// linkTargetSlug reduces a link destination to a candidate post slug
func linkTargetSlug(target string) string {
	target = strings.SplitN(target, "#", 2)[0]
	target = strings.SplitN(target, "?", 2)[0]
	if target == "" {
		return ""
	}
	base := path.Base(strings.TrimSuffix(filepath.ToSlash(target), "/"))
	base = strings.TrimSuffix(base, ".md")
	return slugify(base)
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writePostDocument writes the normalized JSON document for one post
func writePostDocument(outputDir string, post model.ProcessedPost) error {
	doc := struct {
		model.ProcessedPost
		HTML string `json:"html"`
	}{ProcessedPost: post, HTML: post.HTML}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outputDir, "posts", post.Slug+".json"), data, 0o644)
}

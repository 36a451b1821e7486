// Package mermaid renders mermaid diagram code blocks through the mmdc CLI.
package mermaid

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bundlepress/api/internal/config"
	"github.com/bundlepress/api/internal/plugin"
)

// Renderer shells out to the mermaid CLI. When the binary is missing it
// degrades to the client pass-through strategy instead of failing jobs.
type Renderer struct {
	command   string
	available bool
	ready     bool
	workDir   string
}

func New(cfg *config.MermaidConfig) *Renderer {
	return &Renderer{command: cfg.Command}
}

func (r *Renderer) Name() plugin.Kind       { return plugin.KindMermaidRenderer }
func (r *Renderer) Requires() []plugin.Kind { return nil }
func (r *Renderer) Ready() bool             { return r.ready }
func (r *Renderer) Available() bool         { return r.available }

func (r *Renderer) Initialize(ctx context.Context, pctx *plugin.Context) error {
	if _, err := exec.LookPath(r.command); err == nil {
		r.available = true
	}
	r.workDir = pctx.WorkDir
	r.ready = true
	return nil
}

func (r *Renderer) Dispose() error {
	r.ready = false
	return nil
}

// Render renders one diagram. File-producing strategies write into
// opts.OutputDir and return a relative path; inline-svg returns the SVG
// markup itself; client returns the diagram source untouched.
func (r *Renderer) Render(ctx context.Context, code string, opts plugin.MermaidOptions) (plugin.MermaidResult, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = plugin.MermaidInlineSVG
	}
	if strategy == plugin.MermaidClient || !r.available {
		return plugin.MermaidResult{Output: code, Strategy: plugin.MermaidClient}, nil
	}

	ext := "svg"
	if strategy == plugin.MermaidImgPNG {
		ext = "png"
	}

	in := filepath.Join(r.workDir, opts.Name+".mmd")
	if err := os.WriteFile(in, []byte(code), 0o644); err != nil {
		return plugin.MermaidResult{}, err
	}
	defer os.Remove(in)

	var out string
	switch strategy {
	case plugin.MermaidInlineSVG:
		out = filepath.Join(r.workDir, opts.Name+".svg")
		defer os.Remove(out)
	default:
		diagramDir := filepath.Join(opts.OutputDir, "diagrams")
		if err := os.MkdirAll(diagramDir, 0o755); err != nil {
			return plugin.MermaidResult{}, err
		}
		out = filepath.Join(diagramDir, opts.Name+"."+ext)
	}

	cmd := exec.CommandContext(ctx, r.command, "-i", in, "-o", out)
	if output, err := cmd.CombinedOutput(); err != nil {
		return plugin.MermaidResult{}, fmt.Errorf("%s failed: %w: %s", r.command, err, strings.TrimSpace(string(output)))
	}

	if strategy == plugin.MermaidInlineSVG {
		svg, err := os.ReadFile(out)
		if err != nil {
			return plugin.MermaidResult{}, err
		}
		return plugin.MermaidResult{Output: string(svg), Strategy: strategy}, nil
	}

	rel, err := filepath.Rel(opts.OutputDir, out)
	if err != nil {
		return plugin.MermaidResult{}, err
	}
	return plugin.MermaidResult{Output: rel, Strategy: strategy}, nil
}

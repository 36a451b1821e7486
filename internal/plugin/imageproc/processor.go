// Package imageproc implements the image-processor capability on top of
// the imaging library.
package imageproc

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/bundlepress/api/internal/plugin"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

var processableExts = map[string]string{
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".png":  "png",
	".gif":  "gif",
}

// Processor resizes and re-encodes raster images
type Processor struct {
	ready bool
}

func New() *Processor {
	return &Processor{}
}

func (p *Processor) Name() plugin.Kind       { return plugin.KindImageProcessor }
func (p *Processor) Requires() []plugin.Kind { return nil }
func (p *Processor) Ready() bool             { return p.ready }

func (p *Processor) Initialize(ctx context.Context, pctx *plugin.Context) error {
	p.ready = true
	return nil
}

func (p *Processor) Dispose() error {
	p.ready = false
	return nil
}

// CanProcess reports whether the file is a raster format we can transform
func (p *Processor) CanProcess(path string) bool {
	_, ok := processableExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Metadata decodes the image header without loading pixel data
func (p *Processor) Metadata(path string) (plugin.ImageMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return plugin.ImageMetadata{}, err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return plugin.ImageMetadata{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return plugin.ImageMetadata{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Process writes a resized rendition of in to out according to opts
func (p *Processor) Process(ctx context.Context, in, out string, opts plugin.ProcessOptions) (plugin.ProcessResult, error) {
	img, err := imaging.Open(in, imaging.AutoOrientation(true))
	if err != nil {
		return plugin.ProcessResult{}, fmt.Errorf("open %s: %w", in, err)
	}

	bounds := img.Bounds()
	if opts.MaxWidth > 0 && bounds.Dx() > opts.MaxWidth {
		img = imaging.Resize(img, opts.MaxWidth, 0, imaging.Lanczos)
		bounds = img.Bounds()
	}

	var saveOpts []imaging.EncodeOption
	if opts.Quality > 0 {
		saveOpts = append(saveOpts, imaging.JPEGQuality(opts.Quality))
	}
	if err := imaging.Save(img, out, saveOpts...); err != nil {
		return plugin.ProcessResult{}, fmt.Errorf("save %s: %w", out, err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return plugin.ProcessResult{}, err
	}
	return plugin.ProcessResult{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Bytes:  info.Size(),
	}, nil
}

// Copy duplicates a file byte for byte, for media we do not transform
func (p *Processor) Copy(in, out string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

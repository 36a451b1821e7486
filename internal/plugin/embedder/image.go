package embedder

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bundlepress/api/internal/config"
	"github.com/bundlepress/api/internal/plugin"
)

// ImageEmbedder embeds image files through a multimodal embedding backend
// that accepts base64 data URIs as input. Dimensions are discovered from
// the backend during Initialize, the same way the text embedder does it;
// BatchEmbed only reads them, so one instance is safe to share across
// concurrent batches.
type ImageEmbedder struct {
	client     *client
	model      string
	dimensions int
	ready      bool
}

func NewImageEmbedder(cfg *config.EmbeddingConfig) *ImageEmbedder {
	return &ImageEmbedder{
		client: newClient(cfg),
		model:  cfg.ImageModel,
	}
}

func (e *ImageEmbedder) Name() plugin.Kind       { return plugin.KindImageEmbedder }
func (e *ImageEmbedder) Requires() []plugin.Kind { return nil }
func (e *ImageEmbedder) Ready() bool             { return e.ready }
func (e *ImageEmbedder) Model() string           { return e.model }
func (e *ImageEmbedder) Dimensions() int         { return e.dimensions }

// Initialize probes the backend with a one-pixel image to record the
// model's declared dimensionality
func (e *ImageEmbedder) Initialize(ctx context.Context, pctx *plugin.Context) error {
	if e.model == "" {
		return fmt.Errorf("no image embedding model configured")
	}
	vectors, err := e.client.embed(ctx, e.model, []string{probeImageURI()})
	if err != nil {
		return fmt.Errorf("probe embedding backend: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return fmt.Errorf("embedding backend returned an empty probe vector")
	}
	e.dimensions = len(vectors[0])
	e.ready = true
	return nil
}

func (e *ImageEmbedder) Dispose() error {
	e.ready = false
	return nil
}

func (e *ImageEmbedder) Embed(ctx context.Context, path string) ([]float32, error) {
	vectors, err := e.BatchEmbed(ctx, []string{path})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *ImageEmbedder) BatchEmbed(ctx context.Context, paths []string) ([][]float32, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(paths))
	for i, path := range paths {
		uri, err := encodeDataURI(path)
		if err != nil {
			return nil, err
		}
		inputs[i] = uri
	}

	vectors, err := e.client.embed(ctx, e.model, inputs)
	if err != nil {
		return nil, err
	}
	for i, v := range vectors {
		if len(v) != e.dimensions {
			return nil, fmt.Errorf("vector %d has %d dimensions, model %s declares %d", i, len(v), e.model, e.dimensions)
		}
	}
	return vectors, nil
}

// probeImageURI encodes a 1x1 PNG for the dimension probe
func probeImageURI() string {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func encodeDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

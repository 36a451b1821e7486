package imageproc

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/bundlepress/api/internal/plugin"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
}

func TestCanProcess(t *testing.T) {
	p := New()
	for path, want := range map[string]bool{
		"photo.jpg":  true,
		"photo.JPEG": true,
		"icon.png":   true,
		"anim.gif":   true,
		"doc.pdf":    false,
		"clip.mp4":   false,
		"noext":      false,
	} {
		if got := p.CanProcess(path); got != want {
			t.Errorf("CanProcess(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestProcessResizes(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	writePNG(t, in, 100, 50)

	p := New()
	if err := p.Initialize(context.Background(), &plugin.Context{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	out := filepath.Join(dir, "out.png")
	result, err := p.Process(context.Background(), in, out, plugin.ProcessOptions{MaxWidth: 40})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Width != 40 || result.Height != 20 {
		t.Errorf("resized to %dx%d, want 40x20", result.Width, result.Height)
	}

	meta, err := p.Metadata(out)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.Width != 40 || meta.Format != "png" {
		t.Errorf("output metadata = %+v", meta)
	}
}

func TestProcessKeepsSmallImages(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	writePNG(t, in, 20, 10)

	p := New()
	result, err := p.Process(context.Background(), in, filepath.Join(dir, "out.png"), plugin.ProcessOptions{MaxWidth: 1600})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Width != 20 || result.Height != 10 {
		t.Errorf("small image must not be upscaled, got %dx%d", result.Width, result.Height)
	}
}

func TestCopy(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	if err := os.WriteFile(in, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}

	p := New()
	out := filepath.Join(dir, "out.bin")
	if err := p.Copy(in, out); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil || len(data) != 3 {
		t.Errorf("copy wrong: %v %v", data, err)
	}
}

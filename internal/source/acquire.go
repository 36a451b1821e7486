// Package source materializes a job's content tree into the workdir from
// git, the local filesystem or an archive in object storage.
package source

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bundlepress/api/internal/model"
	"github.com/bundlepress/api/internal/storage"
)

// Acquirer fetches source trees. Local sources are disabled unless
// explicitly allowed; they bypass any isolation the service has.
type Acquirer struct {
	store      storage.Client
	allowLocal bool
	gitCommand string
}

func NewAcquirer(store storage.Client, allowLocal bool) *Acquirer {
	return &Acquirer{store: store, allowLocal: allowLocal, gitCommand: "git"}
}

// Fetch materializes the source described by spec into destDir. destDir
// must exist and be empty.
func (a *Acquirer) Fetch(ctx context.Context, spec model.SourceSpec, destDir string) error {
	switch spec.Type {
	case "git":
		return a.fetchGit(ctx, spec, destDir)
	case "local":
		if !a.allowLocal {
			return fmt.Errorf("local sources are disabled")
		}
		return copyTree(spec.Path, destDir)
	case "archive":
		return a.fetchArchive(ctx, spec, destDir)
	default:
		return fmt.Errorf("unknown source type %q", spec.Type)
	}
}

// fetchGit performs a shallow clone. The ref, when set, selects a branch
// or tag; commit hashes are not supported with depth 1.
func (a *Acquirer) fetchGit(ctx context.Context, spec model.SourceSpec, destDir string) error {
	if spec.URL == "" {
		return fmt.Errorf("git source requires a url")
	}

	args := []string{"clone", "--depth", "1", "--single-branch"}
	if spec.Ref != "" {
		args = append(args, "--branch", spec.Ref)
	}
	args = append(args, spec.URL, destDir)

	cmd := exec.CommandContext(ctx, a.gitCommand, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	log.Printf("source: cloned %s (ref %q)", spec.URL, spec.Ref)

	// the clone's history is useless to the build
	return os.RemoveAll(filepath.Join(destDir, ".git"))
}

// fetchArchive downloads a .tar.gz from object storage and unpacks it
func (a *Acquirer) fetchArchive(ctx context.Context, spec model.SourceSpec, destDir string) error {
	if spec.Key == "" {
		return fmt.Errorf("archive source requires a storage key")
	}
	if a.store == nil {
		return fmt.Errorf("archive sources require object storage")
	}

	body, err := a.store.Get(ctx, spec.Key)
	if err != nil {
		return fmt.Errorf("fetch archive %s: %w", spec.Key, err)
	}
	defer body.Close()

	if err := extractTarGz(body, destDir); err != nil {
		return fmt.Errorf("extract archive %s: %w", spec.Key, err)
	}
	log.Printf("source: extracted archive %s", spec.Key)
	return nil
}

func extractTarGz(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			// symlinks and specials are dropped
		}
	}
}

// safeJoin rejects entries that would escape the destination
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if target != destDir && !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

func copyTree(srcDir, destDir string) error {
	if srcDir == "" {
		return fmt.Errorf("local source requires a path")
	}
	info, err := os.Stat(srcDir)
	if err != nil {
		return fmt.Errorf("local source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local source %s is not a directory", srcDir)
	}

	return filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

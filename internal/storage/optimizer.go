package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bundlepress/api/internal/model"
)

// Skip reasons reported by the optimizer
const (
	SkipAlreadyExists    = "already-exists"    // exact destination key present
	SkipIdenticalContent = "identical-content" // same content hash under another key
)

// content-addressed filenames: <hash> or <hash>-<variant>, any extension
var hashedNamePattern = regexp.MustCompile(`^([0-9a-f]{8,64})(?:-[a-z0-9]+)?\.[a-z0-9]+$`)

// Optimizer uploads a built output tree, skipping objects whose content is
// already in storage. Dedup spans previous jobs of the same project: the
// remote listing is taken at <prefix>/<projectId>/, not the job's own key
// space.
type Optimizer struct {
	client Client
	prefix string
}

func NewOptimizer(client Client, keyPrefix string) *Optimizer {
	return &Optimizer{client: client, prefix: strings.Trim(keyPrefix, "/")}
}

// JobKey builds the storage key for one artifact of a job
func (o *Optimizer) JobKey(projectID, jobID string, parts ...string) string {
	segments := append([]string{o.prefix, projectID, jobID}, parts...)
	return path.Join(segments...)
}

// ProjectPrefix is the listing scope used for cross-job dedup
func (o *Optimizer) ProjectPrefix(projectID string) string {
	return path.Join(o.prefix, projectID) + "/"
}

// remoteIndex is the state of a project's key space at job start
type remoteIndex struct {
	keys   map[string]bool
	hashes map[string]string // content hash -> first key carrying it
}

func (o *Optimizer) indexRemote(ctx context.Context, projectID string) (*remoteIndex, error) {
	objects, err := o.client.List(ctx, o.ProjectPrefix(projectID))
	if err != nil {
		return nil, fmt.Errorf("index project %s: %w", projectID, err)
	}

	idx := &remoteIndex{keys: map[string]bool{}, hashes: map[string]string{}}
	for _, obj := range objects {
		idx.keys[obj.Key] = true
		if hash, ok := ExtractContentHash(path.Base(obj.Key)); ok {
			if _, seen := idx.hashes[hash]; !seen {
				idx.hashes[hash] = obj.Key
			}
		}
	}
	return idx, nil
}

// ExtractContentHash pulls the content hash out of a content-addressed
// filename. Returns false for names that do not follow the convention.
func ExtractContentHash(name string) (string, bool) {
	m := hashedNamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// UploadTree publishes every file under outputDir to the job's key space.
// The remote index is fetched once at the start; uploads within the run do
// not re-list. Per-file failures are recorded, not fatal.
func (o *Optimizer) UploadTree(ctx context.Context, projectID, jobID, outputDir string) (*model.UploadReport, []model.Issue, error) {
	idx, err := o.indexRemote(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}

	var files []string
	err = filepath.WalkDir(outputDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk output tree: %w", err)
	}
	sort.Strings(files)

	report := &model.UploadReport{SkipReasons: map[string]int{}}
	var issues []model.Issue

	for _, file := range files {
		rel, err := filepath.Rel(outputDir, file)
		if err != nil {
			return nil, nil, err
		}
		key := o.JobKey(projectID, jobID, filepath.ToSlash(rel))

		if idx.keys[key] {
			report.Skipped++
			report.SkipReasons[SkipAlreadyExists]++
			continue
		}
		if hash, ok := ExtractContentHash(path.Base(key)); ok {
			if existing, seen := idx.hashes[hash]; seen {
				log.Printf("upload optimizer: %s identical to %s, skipping", key, existing)
				report.Skipped++
				report.SkipReasons[SkipIdenticalContent]++
				continue
			}
		}

		if err := o.uploadFile(ctx, key, file); err != nil {
			log.Printf("upload optimizer: %s failed: %v", key, err)
			report.Failed++
			issues = append(issues, model.Issue{
				Kind:   model.IssueUploadFailed,
				Path:   filepath.ToSlash(rel),
				Detail: err.Error(),
			})
			continue
		}

		report.Uploaded++
		idx.keys[key] = true
		if hash, ok := ExtractContentHash(path.Base(key)); ok {
			if _, seen := idx.hashes[hash]; !seen {
				idx.hashes[hash] = key
			}
		}
	}

	return report, issues, nil
}

// uploadFile sends one file, retrying once without metadata when the first
// attempt is rejected. Some S3-compatible backends refuse user metadata.
func (o *Optimizer) uploadFile(ctx context.Context, key, file string) error {
	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	metadata := map[string]string{}
	if hash, ok := ExtractContentHash(path.Base(file)); ok {
		metadata["content-hash"] = hash
	}

	err := o.putFile(ctx, key, file, contentType, metadata)
	if err == nil || len(metadata) == 0 || ctx.Err() != nil {
		return err
	}

	log.Printf("upload optimizer: %s rejected with metadata, retrying without: %v", key, err)
	return o.putFile(ctx, key, file, contentType, nil)
}

func (o *Optimizer) putFile(ctx context.Context, key, file, contentType string, metadata map[string]string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = o.client.Upload(ctx, key, f, contentType, metadata)
	return err
}

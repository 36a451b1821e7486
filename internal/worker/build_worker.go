package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"github.com/bundlepress/api/internal/config"
	"github.com/bundlepress/api/internal/model"
	"github.com/bundlepress/api/internal/pipeline"
	"github.com/bundlepress/api/internal/plugin"
	"github.com/bundlepress/api/internal/plugin/database"
	"github.com/bundlepress/api/internal/plugin/embedder"
	"github.com/bundlepress/api/internal/plugin/imageproc"
	"github.com/bundlepress/api/internal/plugin/mermaid"
	"github.com/bundlepress/api/internal/plugin/similarity"
	"github.com/bundlepress/api/internal/schema"
	"github.com/bundlepress/api/internal/service"
	"github.com/bundlepress/api/internal/source"
	"github.com/bundlepress/api/internal/storage"
	"github.com/bundlepress/api/internal/websocket"
)

// BuildWorker processes build jobs end to end: source acquisition, plugin
// lifecycle, content transform, embeddings, database build and publish.
type BuildWorker struct {
	buildService *service.BuildService
	store        storage.Client // nil when storage is not configured
	optimizer    *storage.Optimizer
	acquirer     *source.Acquirer
	hub          *websocket.Hub
	callbacks    *CallbackDeliverer
	cfg          *config.Config
	plugins      func() *plugin.Manager // one plugin set per job
}

func NewBuildWorker(buildService *service.BuildService, store storage.Client, hub *websocket.Hub, cfg *config.Config) *BuildWorker {
	w := &BuildWorker{
		buildService: buildService,
		store:        store,
		acquirer:     source.NewAcquirer(store, cfg.Build.SourceAllowLocal),
		hub:          hub,
		callbacks:    NewCallbackDeliverer(),
		cfg:          cfg,
	}
	w.plugins = w.defaultPlugins
	if store != nil {
		w.optimizer = storage.NewOptimizer(store, cfg.Storage.KeyPrefix)
	}
	return w
}

// ProcessTask handles one build task. Exactly one callback is sent per
// job, success or failure, and its outcome never changes the job's.
func (w *BuildWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload service.BuildTaskPayload
	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	jobID := taskPayload.JobID
	log.Printf("Starting build job: %s", jobID)
	started := time.Now()

	var payload model.BuildJobPayload
	if err := json.Unmarshal(taskPayload.Payload, &payload); err != nil {
		w.failJob(ctx, jobID, "Invalid payload")
		return fmt.Errorf("failed to unmarshal build payload: %w", err)
	}

	run := &buildRun{jobID: jobID, payload: &payload}
	result, buildErr := w.runBuild(ctx, run)

	if buildErr != nil {
		w.failJob(ctx, jobID, buildErr.Error())
	} else {
		if err := w.buildService.CompleteJob(ctx, jobID, result); err != nil {
			w.failJob(ctx, jobID, "Failed to save result")
			buildErr = err
		} else {
			w.hub.BroadcastComplete(jobID)
			log.Printf("Build job %s completed: %d posts, %d media", jobID, result.Posts, result.Media)
		}
	}

	w.sendCallback(ctx, run, result, buildErr, started)
	return buildErr
}

// buildRun carries the mutable state of one job through the stages
type buildRun struct {
	jobID   string
	payload *model.BuildJobPayload
	logs    []string
}

func (w *BuildWorker) runBuild(ctx context.Context, run *buildRun) (*model.BuildResult, error) {
	payload := run.payload

	workDir, err := os.MkdirTemp("", "bundlepress-*")
	if err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}
	defer func() {
		if payload.Options.RetainWorkdir {
			log.Printf("Build job %s: workdir retained at %s", run.jobID, workDir)
			return
		}
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("Build job %s: workdir cleanup failed: %v", run.jobID, err)
		}
	}()

	srcDir := filepath.Join(workDir, "source")
	outDir := filepath.Join(workDir, "output")
	for _, dir := range []string{srcDir, outDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	w.stage(ctx, run, "Acquiring source...")
	if err := w.acquirer.Fetch(ctx, payload.Source, srcDir); err != nil {
		return nil, fmt.Errorf("source acquisition: %w", err)
	}
	if payload.Task == model.TaskWordpressImport {
		w.stage(ctx, run, "Converting WordPress export...")
		if _, err := source.ConvertWordPressExports(srcDir); err != nil {
			return nil, fmt.Errorf("wordpress import: %w", err)
		}
	}

	w.stage(ctx, run, "Initializing plugins...")
	mgr := w.plugins()
	if err := mgr.Initialize(ctx, &plugin.Context{WorkDir: workDir, OutputDir: outDir}); err != nil {
		return nil, fmt.Errorf("plugin initialization: %w", err)
	}
	disposed := false
	dispose := func() []error {
		if disposed {
			return nil
		}
		disposed = true
		return mgr.Dispose()
	}
	defer dispose()

	images, err := mgr.ImageProcessor()
	if err != nil {
		return nil, err
	}
	diagrams, err := mgr.MermaidRenderer()
	if err != nil {
		return nil, err
	}

	w.stage(ctx, run, "Transforming content...")
	transformer := pipeline.NewTransformer(images, diagrams, pipeline.TransformOptions{
		MinContentLength: w.minContentLength(payload.Options),
		MermaidStrategy:  w.mermaidStrategy(payload.Options),
	})
	content, err := transformer.Run(ctx, srcDir, outDir)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}

	w.stage(ctx, run, "Computing embeddings...")
	textEmb, err := mgr.TextEmbedder()
	if err != nil {
		return nil, err
	}
	imageEmb, err := mgr.ImageEmbedder()
	if err != nil {
		return nil, err
	}
	embedderStage := pipeline.NewEmbedder(textEmb, imageEmb, pipeline.EmbeddingOptions{
		BatchSize:   w.cfg.Build.BatchSize,
		MaxInFlight: w.cfg.Build.MaxInFlight,
	})
	vectors, err := embedderStage.Run(ctx, content.Posts, content.Media)
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}

	w.stage(ctx, run, "Ranking similar posts...")
	sim, err := mgr.Similarity()
	if err != nil {
		return nil, err
	}
	similar, err := sim.Map(vectors, w.topSimilar(payload.Options))
	if err != nil {
		return nil, fmt.Errorf("similarity: %w", err)
	}

	w.stage(ctx, run, "Building database...")
	db, err := mgr.Database()
	if err != nil {
		return nil, err
	}
	dbResult, err := db.Build(ctx, plugin.DatabaseInput{
		OutputDir:  outDir,
		Columns:    schema.Infer(content.Posts),
		Posts:      content.Posts,
		Media:      content.Media,
		Embeddings: vectors,
		Similar:    similar,
	})
	if err != nil {
		return nil, fmt.Errorf("database build: %w", err)
	}

	// plugins are done; dispose before publish so renderer scratch files
	// are gone and dispose failures still make it into the result
	issues := content.Issues
	for _, derr := range dispose() {
		issues = append(issues, model.Issue{Kind: model.IssueDisposeError, Detail: derr.Error()})
	}

	result := &model.BuildResult{
		ProjectID:    payload.ProjectID,
		Posts:        len(content.Posts),
		Media:        len(content.Media),
		Embeddings:   len(vectors),
		Tables:       dbResult.Tables,
		RowCounts:    dbResult.RowCounts,
		SimilarPosts: len(similar.Similar),
	}

	if err := writeManifest(outDir, result); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	if payload.Task != model.TaskBuildAssets && w.optimizer != nil {
		w.stage(ctx, run, "Publishing artifacts...")
		report, uploadIssues, err := w.optimizer.UploadTree(ctx, payload.ProjectID, run.jobID, outDir)
		if err != nil {
			return nil, fmt.Errorf("publish: %w", err)
		}
		issues = append(issues, uploadIssues...)
		result.Uploads = report
		if dbResult.DatabasePath != "" {
			result.DatabaseKey = w.optimizer.JobKey(payload.ProjectID, run.jobID, database.DatabaseFileName)
		}
	}

	result.Issues = issues
	return result, nil
}

// defaultPlugins assembles the plugin set for one job. Capabilities
// without usable configuration get their no-op fallback; jobs always run
// with a full set.
func (w *BuildWorker) defaultPlugins() *plugin.Manager {
	plugins := []plugin.Plugin{
		imageproc.New(),
		similarity.New(),
		database.New(),
		mermaid.New(&w.cfg.Mermaid),
	}

	if w.cfg.Embedding.APIKey != "" {
		plugins = append(plugins, embedder.NewTextEmbedder(&w.cfg.Embedding))
	} else {
		plugins = append(plugins, plugin.NewNoopTextEmbedder())
	}
	if w.cfg.Embedding.APIKey != "" && w.cfg.Embedding.ImageModel != "" {
		plugins = append(plugins, embedder.NewImageEmbedder(&w.cfg.Embedding))
	} else {
		plugins = append(plugins, plugin.NewNoopImageEmbedder())
	}

	return plugin.NewManager(plugins...)
}

func (w *BuildWorker) sendCallback(ctx context.Context, run *buildRun, result *model.BuildResult, buildErr error, started time.Time) {
	if run.payload.CallbackURL == "" {
		return
	}

	envelope := &model.CallbackEnvelope{
		JobID:       run.jobID,
		Status:      model.JobStatusCompleted,
		Result:      result,
		ProcessedAt: time.Now(),
		Duration:    time.Since(started).Milliseconds(),
		Logs:        run.logs,
	}
	if buildErr != nil {
		envelope.Status = model.JobStatusFailed
		envelope.Result = nil
		msg := buildErr.Error()
		envelope.Error = &msg
	}

	attempt := w.callbacks.Deliver(ctx, run.payload.CallbackURL, envelope)
	if err := w.buildService.RecordCallback(ctx, run.jobID, attempt); err != nil {
		log.Printf("Failed to record callback attempt for job %s: %v", run.jobID, err)
	}
}

func (w *BuildWorker) stage(ctx context.Context, run *buildRun, step string) {
	run.logs = append(run.logs, fmt.Sprintf("%s %s", time.Now().Format(time.RFC3339), step))
	if err := w.buildService.UpdateStep(ctx, run.jobID, step); err != nil {
		log.Printf("Failed to update step: %v", err)
	}
	w.hub.BroadcastStage(run.jobID, step)
}

func (w *BuildWorker) failJob(ctx context.Context, jobID, errMsg string) {
	if err := w.buildService.FailJob(ctx, jobID, errMsg); err != nil {
		log.Printf("Failed to mark job as failed: %v", err)
	}
	w.hub.BroadcastError(jobID, "BUILD_FAILED", errMsg)
}

// option fallbacks: request options win, configured defaults otherwise

func (w *BuildWorker) topSimilar(opts model.BuildOptions) int {
	if opts.TopSimilar > 0 {
		return opts.TopSimilar
	}
	return w.cfg.Build.TopSimilar
}

func (w *BuildWorker) minContentLength(opts model.BuildOptions) int {
	if opts.MinContentLength > 0 {
		return opts.MinContentLength
	}
	return w.cfg.Build.MinContentLength
}

func (w *BuildWorker) mermaidStrategy(opts model.BuildOptions) string {
	if opts.MermaidStrategy != "" {
		return opts.MermaidStrategy
	}
	return w.cfg.Mermaid.Strategy
}

// writeManifest records the build summary inside the output tree itself
func writeManifest(outDir string, result *model.BuildResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(outDir, "manifest.json"), data, 0o644)
}

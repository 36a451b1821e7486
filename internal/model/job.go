package model

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a build job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Task names routed by the build worker
const (
	TaskFullBuild       = "full-build"
	TaskBuildAssets     = "build-assets"
	TaskWordpressImport = "wordpress-import"
)

// Job represents a background build job in the system
type Job struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"projectId"`
	Task        string           `json:"task"`
	Status      JobStatus        `json:"status"`
	CurrentStep string           `json:"currentStep,omitempty"`
	Error       *string          `json:"error,omitempty"`
	Payload     json.RawMessage  `json:"payload,omitempty"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Callback    *CallbackAttempt `json:"callback,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// BuildJobPayload contains the data for a build job
type BuildJobPayload struct {
	ProjectID   string       `json:"projectId"`
	Task        string       `json:"task"`
	Source      SourceSpec   `json:"source"`
	CallbackURL string       `json:"callbackUrl"`
	Options     BuildOptions `json:"options"`
}

// SourceSpec describes where the content tree comes from
type SourceSpec struct {
	Type string `json:"type"` // "git", "local" or "archive"
	URL  string `json:"url,omitempty"`
	Ref  string `json:"ref,omitempty"`
	Path string `json:"path,omitempty"`
	Key  string `json:"key,omitempty"` // object-storage key for archive sources
}

// BuildOptions tunes a single build run
type BuildOptions struct {
	RetainWorkdir    bool   `json:"retainWorkdir,omitempty"`
	TopSimilar       int    `json:"topSimilar,omitempty"`
	MinContentLength int    `json:"minContentLength,omitempty"`
	MermaidStrategy  string `json:"mermaidStrategy,omitempty"`
}

// CallbackAttempt is the audit record of the single callback delivery
type CallbackAttempt struct {
	URL         string    `json:"url"`
	StatusCode  int       `json:"statusCode,omitempty"`
	Error       string    `json:"error,omitempty"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

// CallbackEnvelope is the body POSTed to the job's callback URL.
// Every job produces exactly one of these, success or failure.
type CallbackEnvelope struct {
	JobID       string       `json:"jobId"`
	Status      JobStatus    `json:"status"`
	Result      *BuildResult `json:"result,omitempty"`
	Error       *string      `json:"error,omitempty"`
	ProcessedAt time.Time    `json:"processedAt"`
	Duration    int64        `json:"duration"` // milliseconds
	Logs        []string     `json:"logs,omitempty"`
}

// BuildResult summarizes a completed build
type BuildResult struct {
	ProjectID    string         `json:"projectId"`
	Posts        int            `json:"posts"`
	Media        int            `json:"media"`
	Embeddings   int            `json:"embeddings"`
	DatabaseKey  string         `json:"databaseKey,omitempty"`
	Tables       []string       `json:"tables,omitempty"`
	RowCounts    map[string]int `json:"rowCounts,omitempty"`
	Uploads      *UploadReport  `json:"uploads,omitempty"`
	Issues       []Issue        `json:"issues,omitempty"`
	SimilarPosts int            `json:"similarPosts"`
}

// UploadReport describes what the publish stage actually wrote
type UploadReport struct {
	Uploaded    int            `json:"uploaded"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	SkipReasons map[string]int `json:"skipReasons,omitempty"`
}

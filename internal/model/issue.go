package model

// IssueKind classifies a non-fatal anomaly found during a build
type IssueKind string

const (
	IssueBrokenLink   IssueKind = "broken-link"
	IssueMissingMedia IssueKind = "missing-media"
	IssueMissingField IssueKind = "missing-field"
	IssueThinContent  IssueKind = "thin-content"
	IssueOrphanMedia  IssueKind = "orphan-media"
	IssueDisposeError IssueKind = "dispose-error"
	IssueUploadFailed IssueKind = "upload-failed"
	IssueRenderFailed IssueKind = "render-failed"
)

// Issue is a recoverable per-item problem. Issues accumulate in the build
// result; they never abort the pipeline.
type Issue struct {
	Kind   IssueKind `json:"kind"`
	Path   string    `json:"path,omitempty"`
	Detail string    `json:"detail"`
}

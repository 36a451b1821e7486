package model

import "time"

// BuildStartRequest is the body of POST /api/jobs/build
type BuildStartRequest struct {
	ProjectID   string       `json:"projectId" validate:"required"`
	Task        string       `json:"task" validate:"required,oneof=full-build build-assets wordpress-import"`
	Source      SourceSpec   `json:"source" validate:"required"`
	CallbackURL string       `json:"callbackUrl" validate:"required,url"`
	Options     BuildOptions `json:"options"`
}

// BuildStartResponse acknowledges acceptance of a build job
type BuildStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// BuildStatusResponse reports the current state of a build job
type BuildStatusResponse struct {
	JobID       string     `json:"jobId"`
	ProjectID   string     `json:"projectId"`
	Task        string     `json:"task"`
	Status      JobStatus  `json:"status"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

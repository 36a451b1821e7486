package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/bundlepress/api/internal/model"
)

// TaskTypeBuild is the asynq task type every build job is enqueued as;
// the task name in the payload selects the pipeline variant.
const TaskTypeBuild = "build:process"

// ErrJobNotFound is returned when no job record exists for an id
var ErrJobNotFound = errors.New("job not found")

// BuildService manages build job records and queueing
type BuildService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
}

func NewBuildService(redisClient *redis.Client, asynqClient *asynq.Client) *BuildService {
	return &BuildService{
		redis:       redisClient,
		asynqClient: asynqClient,
	}
}

// StartBuild accepts a build request, persists the job record and enqueues
// the task. The job itself runs later in the worker; callers get a job id
// immediately.
func (s *BuildService) StartBuild(ctx context.Context, req *model.BuildStartRequest) (*model.BuildStartResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	payload := &model.BuildJobPayload{
		ProjectID:   req.ProjectID,
		Task:        req.Task,
		Source:      req.Source,
		CallbackURL: req.CallbackURL,
		Options:     req.Options,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		ProjectID: req.ProjectID,
		Task:      req.Task,
		Status:    model.JobStatusQueued,
		Payload:   payloadBytes,
		CreatedAt: now,
	}
	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newBuildTask(jobID, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// builds are never resubmitted; a failed job stays failed
	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue("build"),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.BuildStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the current status of a build job
func (s *BuildService) GetStatus(ctx context.Context, jobID string) (*model.BuildStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.BuildStatusResponse{
		JobID:       job.ID,
		ProjectID:   job.ProjectID,
		Task:        job.Task,
		Status:      job.Status,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the build result of a completed job
func (s *BuildService) GetResult(ctx context.Context, jobID string) (*model.BuildResult, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, fmt.Errorf("job not completed")
	}

	var result model.BuildResult
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// UpdateStep records pipeline progress (called by worker)
func (s *BuildService) UpdateStep(ctx context.Context, jobID, step string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.CurrentStep = step
	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}
	return s.saveJob(ctx, job)
}

// CompleteJob marks a job as completed (called by worker)
func (s *BuildService) CompleteJob(ctx context.Context, jobID string, result *model.BuildResult) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusCompleted
	job.CurrentStep = ""
	job.Result = resultBytes
	now := time.Now()
	job.CompletedAt = &now
	return s.saveJob(ctx, job)
}

// FailJob marks a job as failed (called by worker)
func (s *BuildService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now
	return s.saveJob(ctx, job)
}

// RecordCallback stores the audit record of the single callback attempt
func (s *BuildService) RecordCallback(ctx context.Context, jobID string, attempt *model.CallbackAttempt) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Callback = attempt
	return s.saveJob(ctx, job)
}

func (s *BuildService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, 24*time.Hour).Err()
}

func (s *BuildService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// BuildTaskPayload is the asynq task envelope
type BuildTaskPayload struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

func newBuildTask(jobID string, payload []byte) (*asynq.Task, error) {
	data, err := json.Marshal(BuildTaskPayload{JobID: jobID, Payload: payload})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBuild, data), nil
}

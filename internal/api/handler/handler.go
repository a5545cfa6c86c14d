package handler

import (
	"context"
	"log/slog"

	"github.com/mpetrenko/notegen/internal/api/model"
	"github.com/mpetrenko/notegen/internal/api/storage"
)

// JobStore is the job record persistence used by the handlers
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJobByID(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.Job, error)
}

// QueuePublisher enqueues job references for the worker
type QueuePublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Store       JobStore
	Publisher   QueuePublisher
	MaxAttempts int
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger      *slog.Logger
	store       JobStore
	publisher   QueuePublisher
	maxAttempts int
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &JobHandler{
		logger:      deps.Logger,
		store:       deps.Store,
		publisher:   deps.Publisher,
		maxAttempts: maxAttempts,
	}
}

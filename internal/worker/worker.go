package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mpetrenko/notegen/internal/worker/domain"
	"github.com/mpetrenko/notegen/shared/rabbitmq"
)

// JobStore is the persistence surface the worker needs to run attempts
type JobStore interface {
	ClaimJob(ctx context.Context, jobID string) (*domain.Job, error)
	MarkSucceeded(ctx context.Context, jobID, resultRef string) error
	MarkFailed(ctx context.Context, jobID, errorDetail string) error
	MarkDeadLettered(ctx context.Context, jobID, errorDetail string) error
	DeadLetterExhausted(ctx context.Context, jobID string) (bool, error)
}

// RetryPublisher re-enqueues a job reference onto the delayed retry queue
type RetryPublisher interface {
	PublishRetry(ctx context.Context, body []byte, contentType string) error
}

// PipelineRunner executes one processing attempt and returns the result
// reference on success
type PipelineRunner interface {
	Run(ctx context.Context, job *domain.Job) (string, error)
}

// Config holds the worker dependencies
type Config struct {
	Logger       *slog.Logger
	RabbitClient *rabbitmq.Client
	Store        JobStore
	Pipeline     PipelineRunner
	Retry        RetryPublisher
	JobTimeout   time.Duration
}

// Worker consumes job references one at a time and drives each through
// claim, pipeline execution, and a conditional terminal update.
type Worker struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	store        JobStore
	pipeline     PipelineRunner
	retry        RetryPublisher
	jobTimeout   time.Duration
	workerID     string
	stopChan     chan struct{}
	stopOnce     sync.Once
	doneChan     chan struct{}
}

// NewWorker creates a worker from its dependencies
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:       cfg.Logger,
		rabbitClient: cfg.RabbitClient,
		store:        cfg.Store,
		pipeline:     cfg.Pipeline,
		retry:        cfg.Retry,
		jobTimeout:   cfg.JobTimeout,
		workerID:     fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start consumes deliveries until the context is canceled or Stop is
// called. It blocks, so callers run it in a goroutine.
func (w *Worker) Start(ctx context.Context) error {
	defer close(w.doneChan)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.logger.Info("Worker started",
		slog.String("worker_id", w.workerID),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	return w.consumeLoop(ctx, deliveries)
}

// Stop signals the consume loop to exit and blocks until it has returned,
// so the in-flight delivery is fully settled before the caller tears down
// connections.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	<-w.doneChan
}

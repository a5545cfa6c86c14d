package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/mpetrenko/notegen/internal/worker/domain"
)

// Storage handles all database operations for the worker. Every status
// update is conditional on the expected prior status, so a stale redelivered
// attempt can never clobber a result written by a faster one.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimJob attempts to begin an attempt: queued|failed -> processing with
// attempt_count incremented, guarded by the attempt budget. A processing row
// is also claimable: with at-least-once delivery that means a crashed
// attempt, and the conditional finish updates keep a still-live slow attempt
// from clobbering anything. Returns ErrJobNotClaimable when no row matches.
func (s *Storage) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    attempt_count = attempt_count + 1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status IN ($3, $4, $1)
		  AND attempt_count < max_attempts
		RETURNING job_id, title, source_ref, attempt_count, max_attempts
	`

	var job domain.Job
	err := s.db.QueryRowContext(ctx, query,
		domain.JobStatusProcessing,
		jobID,
		domain.JobStatusQueued,
		domain.JobStatusFailed,
	).Scan(
		&job.JobID,
		&job.Title,
		&job.SourceRef,
		&job.AttemptCount,
		&job.MaxAttempts,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Job not claimable - terminal, in flight, or out of budget",
				slog.String("job_id", jobID),
			)
			return nil, domain.ErrJobNotClaimable
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusProcessing

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.Int("attempt", job.AttemptCount),
		slog.Int("max_attempts", job.MaxAttempts),
	)

	return &job, nil
}

// MarkSucceeded advances processing -> succeeded and records the result
// reference. Returns ErrStaleAttempt when the job is no longer processing.
func (s *Storage) MarkSucceeded(ctx context.Context, jobID, resultRef string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    result_ref = $2,
		    error_detail = NULL,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`

	return s.advance(ctx, jobID, domain.JobStatusProcessing, domain.JobStatusSucceeded, query,
		domain.JobStatusSucceeded, resultRef, jobID, domain.JobStatusProcessing)
}

// MarkFailed advances processing -> failed, recording the failure detail for
// a retryable attempt.
func (s *Storage) MarkFailed(ctx context.Context, jobID, errorDetail string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_detail = $2,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`

	return s.advance(ctx, jobID, domain.JobStatusProcessing, domain.JobStatusFailed, query,
		domain.JobStatusFailed, errorDetail, jobID, domain.JobStatusProcessing)
}

// MarkDeadLettered advances processing -> dead_lettered, terminal.
func (s *Storage) MarkDeadLettered(ctx context.Context, jobID, errorDetail string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_detail = $2,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`

	return s.advance(ctx, jobID, domain.JobStatusProcessing, domain.JobStatusDeadLettered, query,
		domain.JobStatusDeadLettered, errorDetail, jobID, domain.JobStatusProcessing)
}

// DeadLetterExhausted terminates a non-terminal row whose attempt budget is
// spent. A crash during the final attempt leaves such a row behind: it is
// unclaimable, so without this sweep the job would sit non-terminal forever.
// Reports whether a row was advanced.
func (s *Storage) DeadLetterExhausted(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_detail = COALESCE(error_detail, $2),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status IN ($4, $5)
		  AND attempt_count >= max_attempts
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusDeadLettered,
		"attempt budget exhausted",
		jobID,
		domain.JobStatusProcessing,
		domain.JobStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("failed to dead-letter exhausted job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return false, nil
	}

	s.logger.Warn("Dead-lettered job with exhausted attempt budget",
		slog.String("job_id", jobID),
	)
	return true, nil
}

func (s *Storage) advance(ctx context.Context, jobID, from, to, query string, args ...interface{}) error {
	if !domain.IsValidTransition(from, to) {
		return fmt.Errorf("illegal status transition %s -> %s", from, to)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job status to %s: %w", to, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Conditional status update matched no row",
			slog.String("job_id", jobID),
			slog.String("to", to),
		)
		return domain.ErrStaleAttempt
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", to),
	)

	return nil
}

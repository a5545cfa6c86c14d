package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mpetrenko/notegen/internal/worker/domain"
)

// ackAction tells the consume loop how to settle a delivery
type ackAction int

const (
	// ackMessage removes the delivery from the queue
	ackMessage ackAction = iota
	// requeueMessage returns the delivery for immediate redelivery,
	// used only for infrastructure failures where no attempt outcome
	// could be recorded
	requeueMessage
	// dropMessage dead-letters the delivery to the parking queue
	dropMessage
)

const maxErrorDetailLen = 2000

// processDelivery runs the per-delivery state machine: claim the job,
// execute the pipeline under the attempt timeout, then record the outcome
// with a conditional update. Every path returns an explicit settle action;
// a delivery is only acked once the job record reflects the outcome.
func (w *Worker) processDelivery(ctx context.Context, msg *domain.JobMessage) ackAction {
	log := w.logger.With(slog.String("job_id", msg.JobID))

	job, err := w.store.ClaimJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotClaimable) {
			return w.reapUnclaimable(ctx, log, msg.JobID)
		}
		log.Error("Failed to claim job, requeueing",
			slog.String("error", err.Error()),
		)
		return requeueMessage
	}

	log.Info("Processing job",
		slog.Int("attempt", job.AttemptCount),
		slog.Int("max_attempts", job.MaxAttempts),
	)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	resultRef, runErr := w.pipeline.Run(jobCtx, job)
	cancel()

	if runErr == nil {
		return w.finishSucceeded(ctx, log, job, resultRef)
	}

	if ctx.Err() != nil {
		// shutdown interrupted the attempt; no outcome to record, let
		// redelivery pick the processing row back up
		log.Warn("Attempt interrupted by shutdown, requeueing")
		return requeueMessage
	}

	return w.finishFailed(ctx, log, job, runErr)
}

// reapUnclaimable handles a claim miss. Usually the row is terminal and the
// delivery is a stale redelivery, but a crash during the final attempt
// leaves a non-terminal row with its budget spent; that row is unclaimable
// and this delivery is its last, so it gets dead-lettered here.
func (w *Worker) reapUnclaimable(ctx context.Context, log *slog.Logger, jobID string) ackAction {
	reaped, err := w.store.DeadLetterExhausted(ctx, jobID)
	if err != nil {
		log.Error("Failed to check unclaimable job, requeueing",
			slog.String("error", err.Error()),
		)
		return requeueMessage
	}
	if reaped {
		log.Error("Job dead-lettered after exhausting attempt budget")
	} else {
		log.Info("Skipping unclaimable job")
	}
	return ackMessage
}

func (w *Worker) finishSucceeded(ctx context.Context, log *slog.Logger, job *domain.Job, resultRef string) ackAction {
	if err := w.store.MarkSucceeded(ctx, job.JobID, resultRef); err != nil {
		if errors.Is(err, domain.ErrStaleAttempt) {
			// a concurrent attempt already settled the job
			log.Warn("Stale attempt, result discarded")
			return ackMessage
		}
		log.Error("Failed to record success, requeueing",
			slog.String("error", err.Error()),
		)
		return requeueMessage
	}

	log.Info("Job succeeded",
		slog.String("result_ref", resultRef),
		slog.Int("attempt", job.AttemptCount),
	)
	return ackMessage
}

func (w *Worker) finishFailed(ctx context.Context, log *slog.Logger, job *domain.Job, runErr error) ackAction {
	detail := truncateDetail(runErr.Error())
	class := domain.Classify(runErr)

	if class == domain.ClassPermanent || job.AttemptCount >= job.MaxAttempts {
		if err := w.store.MarkDeadLettered(ctx, job.JobID, detail); err != nil {
			if errors.Is(err, domain.ErrStaleAttempt) {
				return ackMessage
			}
			log.Error("Failed to dead-letter job, requeueing",
				slog.String("error", err.Error()),
			)
			return requeueMessage
		}
		log.Error("Job dead-lettered",
			slog.String("error", detail),
			slog.Int("attempt", job.AttemptCount),
			slog.Bool("permanent", class == domain.ClassPermanent),
		)
		return ackMessage
	}

	if err := w.store.MarkFailed(ctx, job.JobID, detail); err != nil {
		if errors.Is(err, domain.ErrStaleAttempt) {
			return ackMessage
		}
		log.Error("Failed to record failure, requeueing",
			slog.String("error", err.Error()),
		)
		return requeueMessage
	}

	body, err := json.Marshal(domain.JobMessage{
		JobID:      job.JobID,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return requeueMessage
	}

	if err := w.retry.PublishRetry(ctx, body, "application/json"); err != nil {
		// the failed row stays claimable, so immediate redelivery
		// just retries without the backoff delay
		log.Error("Failed to schedule retry, requeueing",
			slog.String("error", err.Error()),
		)
		return requeueMessage
	}

	log.Warn("Transient failure, retry scheduled",
		slog.String("error", detail),
		slog.Int("attempt", job.AttemptCount),
		slog.Int("max_attempts", job.MaxAttempts),
	)
	return ackMessage
}

func truncateDetail(detail string) string {
	if len(detail) > maxErrorDetailLen {
		return detail[:maxErrorDetailLen]
	}
	return detail
}

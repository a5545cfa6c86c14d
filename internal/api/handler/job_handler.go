package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mpetrenko/notegen/internal/api/domain"
	"github.com/mpetrenko/notegen/internal/api/dto"
	"github.com/mpetrenko/notegen/internal/api/model"
	"github.com/mpetrenko/notegen/internal/api/storage"
)

// SubmitJob handles POST /jobs
//
// Validates the request, creates the job record at `queued`, enqueues a job
// reference, and returns 202 with the job id. It never touches the source
// media itself; all processing happens in the worker.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "title and source_ref are required",
		})
		return
	}

	if err := domain.ValidateSourceRef(req.SourceRef); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	now := time.Now().UTC()
	job := model.Job{
		JobID:        uuid.New().String(),
		Title:        req.Title,
		SourceRef:    req.SourceRef,
		Status:       domain.JobStatusQueued,
		AttemptCount: 0,
		MaxAttempts:  h.maxAttempts,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}

	if err := h.store.CreateJob(c.Request.Context(), &job); err != nil {
		h.logger.Error("Failed to create job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to create job",
		})
		return
	}

	msg := dto.QueueMessage{
		JobID:      job.JobID,
		EnqueuedAt: now.Format(time.RFC3339),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to encode queue message",
		})
		return
	}

	if err := h.publisher.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		// The queued row stays behind; external monitoring picks up jobs
		// that never leave `queued`.
		h.logger.Error("Job created but enqueue failed",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "job created but could not be enqueued",
		})
		return
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("source_ref", job.SourceRef),
	)

	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{JobID: job.JobID})
}

// GetJob handles GET /jobs/:job_id
//
// Read-only status lookup; result_ref and error_detail appear only once the
// worker has written them.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}

		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /jobs with cursor pagination, newest first
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = toJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			SubmittedAt: lastJob.SubmittedAt,
			JobID:       lastJob.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

func toJobDTO(job *model.Job) dto.JobDTO {
	d := dto.JobDTO{
		JobID:        job.JobID,
		Title:        job.Title,
		SourceRef:    job.SourceRef,
		Status:       job.Status,
		AttemptCount: job.AttemptCount,
		SubmittedAt:  job.SubmittedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
	if job.ResultRef.Valid {
		d.ResultRef = job.ResultRef.String
	}
	if job.ErrorDetail.Valid {
		d.ErrorDetail = job.ErrorDetail.String
	}
	return d
}

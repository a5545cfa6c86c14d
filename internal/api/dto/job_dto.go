package dto

type SubmitJobRequest struct {
	Title     string `json:"title" binding:"required"`
	SourceRef string `json:"source_ref" binding:"required"`
}

type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

type JobDTO struct {
	JobID        string `json:"job_id"`
	Title        string `json:"title"`
	SourceRef    string `json:"source_ref"`
	Status       string `json:"status"`
	ResultRef    string `json:"result_ref,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`
	AttemptCount int    `json:"attempt_count"`
	SubmittedAt  string `json:"submitted_at"`
	UpdatedAt    string `json:"updated_at"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// QueueMessage is the wire shape of one enqueued job reference
type QueueMessage struct {
	JobID      string `json:"job_id"`
	EnqueuedAt string `json:"enqueued_at"`
}

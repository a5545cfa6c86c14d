package domain

// Job is the worker's view of a claimed job record
type Job struct {
	JobID        string
	Title        string
	SourceRef    string
	Status       string
	AttemptCount int
	MaxAttempts  int
}

// JobMessage represents a job reference delivered from the queue
type JobMessage struct {
	JobID       string `json:"job_id"`
	EnqueuedAt  string `json:"enqueued_at"`
	DeliveryTag uint64 `json:"-"`
}

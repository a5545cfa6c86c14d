package model

import (
	"database/sql"
	"time"
)

type Job struct {
	JobID        string         `db:"job_id"`
	Title        string         `db:"title"`
	SourceRef    string         `db:"source_ref"`
	Status       string         `db:"status"`
	ResultRef    sql.NullString `db:"result_ref"`
	ErrorDetail  sql.NullString `db:"error_detail"`
	AttemptCount int            `db:"attempt_count"`
	MaxAttempts  int            `db:"max_attempts"`
	SubmittedAt  time.Time      `db:"submitted_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

package pipeline

import "fmt"

// Artifact keys are deterministic per job id so redelivered attempts
// overwrite instead of duplicating.

// SourceKey is where pre-uploaded source media lives when a job is submitted
// with an s3 source_ref.
func SourceKey(jobID string) string {
	return fmt.Sprintf("job/%s/source", jobID)
}

// TranscriptKey is the transcript artifact location
func TranscriptKey(jobID string) string {
	return fmt.Sprintf("job/%s/transcript", jobID)
}

// NotesKey is the generated notes artifact location; it doubles as the job's
// result_ref.
func NotesKey(jobID string) string {
	return fmt.Sprintf("job/%s/notes", jobID)
}

package domain

// Job status constants. These are the only externally visible states;
// fetching/transcribing/summarizing/persisting exist only inside one
// processing attempt.
const (
	JobStatusQueued       = "queued"
	JobStatusProcessing   = "processing"
	JobStatusSucceeded    = "succeeded"
	JobStatusFailed       = "failed"
	JobStatusDeadLettered = "dead_lettered"
)

// allowedTransitions is the full status transition table. succeeded and
// dead_lettered are terminal. failed -> dead_lettered covers a row whose
// attempt budget ran out before it could be re-claimed.
var allowedTransitions = map[string][]string{
	JobStatusQueued:     {JobStatusProcessing},
	JobStatusProcessing: {JobStatusSucceeded, JobStatusFailed, JobStatusDeadLettered},
	JobStatusFailed:     {JobStatusProcessing, JobStatusDeadLettered},
}

// IsValidTransition reports whether from -> to is in the transition table
func IsValidTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

package domain

import (
	"errors"
	"fmt"
	"net/url"
)

// Externally visible job statuses. Intermediate pipeline stages are not
// persisted; the worker only ever advances along these.
const (
	JobStatusQueued       = "queued"
	JobStatusProcessing   = "processing"
	JobStatusSucceeded    = "succeeded"
	JobStatusFailed       = "failed"
	JobStatusDeadLettered = "dead_lettered"
)

var (
	ErrJobNotFound = errors.New("job not found")
)

// allowedSchemes are the reference schemes intake accepts. http/https point
// at downloadable media, s3 at an object already in the artifact bucket.
var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"s3":    true,
}

// ValidateSourceRef checks that ref is a well-formed reference with a
// permitted scheme
func ValidateSourceRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("source_ref is required")
	}

	u, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("source_ref is not a valid URL: %w", err)
	}

	if !allowedSchemes[u.Scheme] {
		return fmt.Errorf("source_ref scheme %q is not allowed", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("source_ref has no host")
	}

	return nil
}

package domain

import (
	"context"
	"errors"
)

var (
	// ErrJobNotClaimable is returned when the conditional claim update
	// matches no row: the job is terminal, mid-processing elsewhere, out of
	// attempt budget, or gone.
	ErrJobNotClaimable = errors.New("job not claimable")

	// ErrStaleAttempt is returned when a conditional finish update matches no
	// row because another attempt already moved the job past processing.
	ErrStaleAttempt = errors.New("stale attempt: job already advanced")

	// ErrInvalidMessage is returned for queue messages that cannot be parsed
	// into a job reference.
	ErrInvalidMessage = errors.New("invalid queue message")
)

// TransientError wraps failures worth retrying: network errors, external
// service timeouts, throttling.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a transient failure
func NewTransient(err error) error {
	return &TransientError{Err: err}
}

// PermanentError wraps failures that retrying cannot fix: unsupported media,
// malformed input, empty audio.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanent wraps err as a permanent failure
func NewPermanent(err error) error {
	return &PermanentError{Err: err}
}

// Classification is the policy outcome for a failed attempt
type Classification int

const (
	// ClassTransient failures consume attempt budget and are re-enqueued
	// with backoff while budget remains.
	ClassTransient Classification = iota
	// ClassPermanent failures dead-letter immediately.
	ClassPermanent
)

// Classify maps an attempt error to retry policy. Permanent wins over
// transient anywhere in the chain; an attempt timeout counts as transient
// (the next attempt may hit a faster dependency); anything unrecognized is
// treated as transient so the attempt budget, not the classifier, bounds
// pathological inputs.
func Classify(err error) Classification {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return ClassPermanent
	}

	var trans *TransientError
	if errors.As(err, &trans) {
		return ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	return ClassTransient
}

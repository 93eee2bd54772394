package service

import "errors"

// Domain errors surfaced to the transport layer as named failures. The
// handler maps each to a distinct response code; none may be silently
// coerced into another outcome.
var (
	ErrExamNotFound           = errors.New("exam not found")
	ErrExamNotOpen            = errors.New("exam not open for entry")
	ErrAlreadySubmitted       = errors.New("attempt already submitted")
	ErrSubmissionWindowClosed = errors.New("submission window closed")
	ErrProgressTooStale       = errors.New("saved progress too stale to resume")
)

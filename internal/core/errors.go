package core

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned when a versioned update loses a race
	ErrVersionConflict = errors.New("version conflict")

	// ErrDraftAlreadySent is returned when approving a draft that was already sent
	ErrDraftAlreadySent = errors.New("draft already sent")

	// ErrDraftClaimed is returned when another approval of the draft is in progress
	ErrDraftClaimed = errors.New("draft approval already in progress")

	// ErrNoDraftSender is returned when approving a draft with no reply transport configured
	ErrNoDraftSender = errors.New("no reply sender configured")
)
